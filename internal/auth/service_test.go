// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

package auth_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/collectconnect/ccserver/internal/auth"
	"github.com/collectconnect/ccserver/internal/auth/authtest"
	"github.com/collectconnect/ccserver/internal/diceware"
	"github.com/collectconnect/ccserver/internal/secret"
	"github.com/collectconnect/ccserver/pkg/errutil"
)

const alicePhrase = "apple river stone cedar moon glass"

func newCodec(t *testing.T) *diceware.Codec {
	t.Helper()
	wl, err := diceware.DefaultWordlist()
	require.NoError(t, err)
	codec, err := diceware.NewCodec(wl, secret.NewCryptoGenerator(), diceware.DefaultWordCount)
	require.NoError(t, err)
	return codec
}

type serviceFixture struct {
	svc   *auth.Service
	store *authtest.MemoryStore
}

func newFixture(t *testing.T, phrases auth.PhraseGenerator, opts ...auth.ServiceOption) *serviceFixture {
	t.Helper()
	store := authtest.NewMemoryStore()
	if phrases == nil {
		phrases = newCodec(t)
	}
	opts = append([]auth.ServiceOption{auth.WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))}, opts...)
	svc, err := auth.NewService(store, secret.NewCryptoGenerator(), phrases, newTestHasher(t), opts...)
	require.NoError(t, err)
	return &serviceFixture{svc: svc, store: store}
}

func assertKind(t *testing.T, err error, want auth.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, auth.KindOf(err), "unexpected kind for error: %v", err)
	errutil.AssertErrorCode(t, err, string(want))
}

// hookStore runs beforeUpdate once, just before the next Update reaches the
// underlying store.
type hookStore struct {
	*authtest.MemoryStore
	beforeUpdate func()
}

func (h *hookStore) Update(ctx context.Context, username string, update auth.AccountUpdate) error {
	if f := h.beforeUpdate; f != nil {
		h.beforeUpdate = nil
		f()
	}
	return h.MemoryStore.Update(ctx, username, update)
}

type brokenSecrets struct{}

func (brokenSecrets) RandomBytes(int) ([]byte, error) { return nil, errors.New("getrandom: ENOSYS") }
func (brokenSecrets) RandomDie() (int, error)         { return 0, errors.New("getrandom: ENOSYS") }

func TestNewService(t *testing.T) {
	store := authtest.NewMemoryStore()
	secrets := secret.NewCryptoGenerator()
	codec := newCodec(t)
	hasher := newTestHasher(t)

	tests := []struct {
		name    string
		store   auth.CredentialStore
		secrets secret.Generator
		phrases auth.PhraseGenerator
		hasher  auth.PhraseHasher
		want    error
	}{
		{"nil store", nil, secrets, codec, hasher, auth.ErrNilStore},
		{"nil secrets", store, nil, codec, hasher, auth.ErrNilSecrets},
		{"nil phrases", store, secrets, nil, hasher, auth.ErrNilGenerator},
		{"nil hasher", store, secrets, codec, nil, auth.ErrNilHasher},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := auth.NewService(tt.store, tt.secrets, tt.phrases, tt.hasher)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, svc)
		})
	}

	t.Run("invalid reserved pattern", func(t *testing.T) {
		_, err := auth.NewService(store, secrets, codec, hasher, auth.WithReservedUsernames("adm[in"))
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_RESERVED_PATTERN")
	})
}

// TestService_AliceScenario walks one account through its whole lifecycle.
func TestService_AliceScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, authtest.NewScriptedPhrases(alicePhrase))

	reg, err := f.svc.Register(ctx, "alice1", "dev-A")
	require.NoError(t, err)
	assert.Equal(t, alicePhrase, reg.RecoveryPhrase)
	key1 := reg.SessionKey

	_, err = f.svc.Login(ctx, "alice1", "dev-B")
	assertKind(t, err, auth.KindDeviceMismatch)

	key2, err := f.svc.Login(ctx, "alice1", "dev-A")
	require.NoError(t, err)
	assert.NotEqual(t, key1, key2)

	err = f.svc.Logout(ctx, "alice1", key1)
	assertKind(t, err, auth.KindInvalidSession)

	require.NoError(t, f.svc.Logout(ctx, "alice1", key2))

	require.NoError(t, f.svc.RecoverDevice(ctx, "alice1", "dev-C", alicePhrase))
	assert.Equal(t, auth.HashDeviceID("dev-C"), f.store.Snapshot("alice1").DeviceFingerprint)

	_, err = f.svc.Register(ctx, "alice1", "dev-X")
	assertKind(t, err, auth.KindDuplicateAccount)
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("returns session key and phrase once and stores only hashes", func(t *testing.T) {
		f := newFixture(t, nil)
		reg, err := f.svc.Register(ctx, "bobby7", "device-1")
		require.NoError(t, err)

		assert.Len(t, reg.SessionKey, auth.SessionKeyLength)
		assert.Regexp(t, `^[0-9a-f]+$`, reg.SessionKey)

		stored := f.store.Snapshot("bobby7")
		require.NotNil(t, stored)
		assert.Equal(t, auth.HashDeviceID("device-1"), stored.DeviceFingerprint)
		assert.Equal(t, auth.HashSessionKey(reg.SessionKey), stored.SessionKeyHash)
		assert.True(t, strings.HasPrefix(stored.RecoveryKeyHash, "$argon2id$"))
		assert.NotContains(t, stored.RecoveryKeyHash, reg.RecoveryPhrase)
		assert.NotEqual(t, reg.SessionKey, stored.SessionKeyHash)
		assert.False(t, stored.ID.IsZero())
		assert.False(t, stored.CreatedAt.IsZero())
	})

	t.Run("phrase is six words from the wordlist", func(t *testing.T) {
		f := newFixture(t, nil)
		reg, err := f.svc.Register(ctx, "carol9", "device-1")
		require.NoError(t, err)

		wl, err := diceware.DefaultWordlist()
		require.NoError(t, err)
		words := strings.Split(reg.RecoveryPhrase, " ")
		require.Len(t, words, 6)
		for _, w := range words {
			assert.True(t, wl.Contains(w), "word %q not in wordlist", w)
		}
	})

	t.Run("rejects malformed usernames without side effects", func(t *testing.T) {
		f := newFixture(t, nil)
		for _, name := range []string{"", "abcd", "1alice", "alice_1", "alice 1", "ålice1", strings.Repeat("a", 21)} {
			_, err := f.svc.Register(ctx, name, "device-1")
			assertKind(t, err, auth.KindInvalidUsername)
		}
		assert.Equal(t, 0, f.store.Len())
	})

	t.Run("accepts boundary lengths", func(t *testing.T) {
		f := newFixture(t, nil)
		for _, name := range []string{"abcde", "A" + strings.Repeat("9", 19)} {
			_, err := f.svc.Register(ctx, name, "device-1")
			require.NoError(t, err, name)
		}
	})

	t.Run("rejects reserved usernames", func(t *testing.T) {
		f := newFixture(t, nil, auth.WithReservedUsernames("admin*", "support"))
		_, err := f.svc.Register(ctx, "AdminBob", "device-1")
		assertKind(t, err, auth.KindInvalidUsername)
		_, err = f.svc.Register(ctx, "Support", "device-1")
		assertKind(t, err, auth.KindInvalidUsername)
		_, err = f.svc.Register(ctx, "supporter", "device-1")
		require.NoError(t, err)
	})

	t.Run("duplicate check ignores case", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.Register(ctx, "alice1", "dev-A")
		require.NoError(t, err)
		_, err = f.svc.Register(ctx, "ALICE1", "dev-B")
		assertKind(t, err, auth.KindDuplicateAccount)
		assert.Equal(t, auth.HashDeviceID("dev-A"), f.store.Snapshot("alice1").DeviceFingerprint)
	})

	t.Run("rejects empty device id", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.Register(ctx, "alice1", "")
		assertKind(t, err, auth.KindDeviceMismatch)
		assert.Equal(t, 0, f.store.Len())
	})

	t.Run("randomness failure creates nothing", func(t *testing.T) {
		store := authtest.NewMemoryStore()
		svc, err := auth.NewService(store, brokenSecrets{}, newCodec(t), newTestHasher(t))
		require.NoError(t, err)

		_, err = svc.Register(ctx, "alice1", "dev-A")
		assertKind(t, err, auth.KindSecretGenerationFailed)
		assert.Equal(t, 0, store.Len())
	})

	t.Run("phrase generation failure creates nothing", func(t *testing.T) {
		f := newFixture(t, authtest.NewScriptedPhrases())
		_, err := f.svc.Register(ctx, "alice1", "dev-A")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.KindSecretGenerationFailed)
		assert.Equal(t, 0, f.store.Len())
	})

	t.Run("store failure is reported as unavailable", func(t *testing.T) {
		f := newFixture(t, nil)
		dbErr := errors.New("connection refused")
		f.store.Err = dbErr

		_, err := f.svc.Register(ctx, "alice1", "dev-A")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.KindStoreUnavailable)
		assert.ErrorIs(t, err, dbErr)
		assert.Equal(t, auth.KindStoreUnavailable, auth.KindOf(err))
	})
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("same device succeeds and replaces the session", func(t *testing.T) {
		f := newFixture(t, nil)
		reg, err := f.svc.Register(ctx, "alice1", "dev-A")
		require.NoError(t, err)

		key, err := f.svc.Login(ctx, "alice1", "dev-A")
		require.NoError(t, err)
		assert.NotEqual(t, reg.SessionKey, key)

		_, err = f.svc.RequireSession(ctx, "alice1", reg.SessionKey)
		assertKind(t, err, auth.KindInvalidSession)
		_, err = f.svc.RequireSession(ctx, "alice1", key)
		require.NoError(t, err)
	})

	t.Run("username lookup ignores case", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.Register(ctx, "alice1", "dev-A")
		require.NoError(t, err)
		_, err = f.svc.Login(ctx, "Alice1", "dev-A")
		require.NoError(t, err)
	})

	t.Run("other device fails and leaves session intact", func(t *testing.T) {
		f := newFixture(t, nil)
		reg, err := f.svc.Register(ctx, "alice1", "dev-A")
		require.NoError(t, err)

		for _, device := range []string{"dev-B", "DEV-A", "dev-A ", ""} {
			_, err = f.svc.Login(ctx, "alice1", device)
			assertKind(t, err, auth.KindDeviceMismatch)
		}
		_, err = f.svc.RequireSession(ctx, "alice1", reg.SessionKey)
		require.NoError(t, err)
	})

	t.Run("unknown account", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.Login(ctx, "nobody1", "dev-A")
		assertKind(t, err, auth.KindAccountNotFound)
	})

	t.Run("malformed username is rejected before lookup", func(t *testing.T) {
		f := newFixture(t, nil)
		f.store.Err = errors.New("must not be called")
		_, err := f.svc.Login(ctx, "a!", "dev-A")
		assertKind(t, err, auth.KindInvalidUsername)
	})

	t.Run("device rebound between check and write", func(t *testing.T) {
		store := &hookStore{MemoryStore: authtest.NewMemoryStore()}
		svc, err := auth.NewService(store, secret.NewCryptoGenerator(), authtest.NewScriptedPhrases(alicePhrase), newTestHasher(t))
		require.NoError(t, err)
		_, err = svc.Register(ctx, "alice1", "dev-A")
		require.NoError(t, err)

		store.beforeUpdate = func() {
			require.NoError(t, svc.RecoverDevice(ctx, "alice1", "dev-C", alicePhrase))
		}
		_, err = svc.Login(ctx, "alice1", "dev-A")
		assertKind(t, err, auth.KindDeviceMismatch)
		assert.Empty(t, store.Snapshot("alice1").SessionKeyHash)
	})
}

func TestService_Logout(t *testing.T) {
	ctx := context.Background()

	t.Run("old key stops working", func(t *testing.T) {
		f := newFixture(t, nil)
		reg, err := f.svc.Register(ctx, "alice1", "dev-A")
		require.NoError(t, err)

		require.NoError(t, f.svc.Logout(ctx, "alice1", reg.SessionKey))
		assert.Empty(t, f.store.Snapshot("alice1").SessionKeyHash)

		_, err = f.svc.RequireSession(ctx, "alice1", reg.SessionKey)
		assertKind(t, err, auth.KindInvalidSession)
		err = f.svc.Logout(ctx, "alice1", reg.SessionKey)
		assertKind(t, err, auth.KindInvalidSession)
	})

	t.Run("empty key never matches a logged-out account", func(t *testing.T) {
		f := newFixture(t, nil)
		reg, err := f.svc.Register(ctx, "alice1", "dev-A")
		require.NoError(t, err)
		require.NoError(t, f.svc.Logout(ctx, "alice1", reg.SessionKey))

		err = f.svc.Logout(ctx, "alice1", "")
		assertKind(t, err, auth.KindInvalidSession)
		_, err = f.svc.RequireSession(ctx, "alice1", "")
		assertKind(t, err, auth.KindInvalidSession)
	})

	t.Run("unknown account reports invalid session", func(t *testing.T) {
		f := newFixture(t, nil)
		err := f.svc.Logout(ctx, "nobody1", "deadbeef")
		assertKind(t, err, auth.KindInvalidSession)
	})

	t.Run("concurrent login wins over stale logout", func(t *testing.T) {
		store := &hookStore{MemoryStore: authtest.NewMemoryStore()}
		svc, err := auth.NewService(store, secret.NewCryptoGenerator(), newCodec(t), newTestHasher(t))
		require.NoError(t, err)
		reg, err := svc.Register(ctx, "alice1", "dev-A")
		require.NoError(t, err)

		var fresh string
		store.beforeUpdate = func() {
			var loginErr error
			fresh, loginErr = svc.Login(ctx, "alice1", "dev-A")
			require.NoError(t, loginErr)
		}
		err = svc.Logout(ctx, "alice1", reg.SessionKey)
		assertKind(t, err, auth.KindInvalidSession)

		_, err = svc.RequireSession(ctx, "alice1", fresh)
		require.NoError(t, err)
	})
}

func TestService_ResetRecoveryKey(t *testing.T) {
	ctx := context.Background()

	t.Run("rotates phrase and session key", func(t *testing.T) {
		f := newFixture(t, authtest.NewScriptedPhrases(alicePhrase, "acorn cedar glass moon river stone"))
		reg, err := f.svc.Register(ctx, "alice1", "dev-A")
		require.NoError(t, err)
		before := f.store.Snapshot("alice1")

		reset, err := f.svc.ResetRecoveryKey(ctx, "alice1", "dev-A", reg.SessionKey)
		require.NoError(t, err)
		assert.Equal(t, "acorn cedar glass moon river stone", reset.RecoveryPhrase)
		assert.NotEqual(t, reg.SessionKey, reset.SessionKey)

		after := f.store.Snapshot("alice1")
		assert.NotEqual(t, before.RecoveryKeyHash, after.RecoveryKeyHash)
		assert.Equal(t, auth.HashSessionKey(reset.SessionKey), after.SessionKeyHash)

		_, err = f.svc.RequireSession(ctx, "alice1", reg.SessionKey)
		assertKind(t, err, auth.KindInvalidSession)

		err = f.svc.RecoverDevice(ctx, "alice1", "dev-B", alicePhrase)
		assertKind(t, err, auth.KindInvalidRecoveryKey)
		require.NoError(t, f.svc.RecoverDevice(ctx, "alice1", "dev-B", reset.RecoveryPhrase))
	})

	t.Run("requires live session and bound device", func(t *testing.T) {
		f := newFixture(t, nil)
		reg, err := f.svc.Register(ctx, "alice1", "dev-A")
		require.NoError(t, err)
		before := f.store.Snapshot("alice1")

		_, err = f.svc.ResetRecoveryKey(ctx, "alice1", "dev-A", "not-the-key")
		assertKind(t, err, auth.KindInvalidSession)
		_, err = f.svc.ResetRecoveryKey(ctx, "alice1", "dev-B", reg.SessionKey)
		assertKind(t, err, auth.KindDeviceMismatch)
		_, err = f.svc.ResetRecoveryKey(ctx, "alice1", "", reg.SessionKey)
		assertKind(t, err, auth.KindDeviceMismatch)

		assert.Equal(t, before, f.store.Snapshot("alice1"))
	})

	t.Run("session replaced between check and write", func(t *testing.T) {
		store := &hookStore{MemoryStore: authtest.NewMemoryStore()}
		svc, err := auth.NewService(store, secret.NewCryptoGenerator(), newCodec(t), newTestHasher(t))
		require.NoError(t, err)
		reg, err := svc.Register(ctx, "alice1", "dev-A")
		require.NoError(t, err)
		recoveryHash := store.Snapshot("alice1").RecoveryKeyHash

		store.beforeUpdate = func() {
			_, loginErr := svc.Login(ctx, "alice1", "dev-A")
			require.NoError(t, loginErr)
		}
		_, err = svc.ResetRecoveryKey(ctx, "alice1", "dev-A", reg.SessionKey)
		assertKind(t, err, auth.KindInvalidSession)
		assert.Equal(t, recoveryHash, store.Snapshot("alice1").RecoveryKeyHash)
	})
}

func TestService_RecoverDevice(t *testing.T) {
	ctx := context.Background()

	t.Run("correct phrase rebinds device and clears session", func(t *testing.T) {
		f := newFixture(t, nil)
		reg, err := f.svc.Register(ctx, "alice1", "dev-A")
		require.NoError(t, err)
		recoveryHash := f.store.Snapshot("alice1").RecoveryKeyHash

		require.NoError(t, f.svc.RecoverDevice(ctx, "alice1", "dev-C", reg.RecoveryPhrase))

		after := f.store.Snapshot("alice1")
		assert.Equal(t, auth.HashDeviceID("dev-C"), after.DeviceFingerprint)
		assert.Empty(t, after.SessionKeyHash)
		assert.Equal(t, recoveryHash, after.RecoveryKeyHash)

		_, err = f.svc.RequireSession(ctx, "alice1", reg.SessionKey)
		assertKind(t, err, auth.KindInvalidSession)
		_, err = f.svc.Login(ctx, "alice1", "dev-A")
		assertKind(t, err, auth.KindDeviceMismatch)
		_, err = f.svc.Login(ctx, "alice1", "dev-C")
		require.NoError(t, err)
	})

	t.Run("phrase is reusable until reset", func(t *testing.T) {
		f := newFixture(t, nil)
		reg, err := f.svc.Register(ctx, "alice1", "dev-A")
		require.NoError(t, err)

		require.NoError(t, f.svc.RecoverDevice(ctx, "alice1", "dev-B", reg.RecoveryPhrase))
		require.NoError(t, f.svc.RecoverDevice(ctx, "alice1", "dev-C", reg.RecoveryPhrase))
	})

	t.Run("typed phrase is normalised", func(t *testing.T) {
		f := newFixture(t, authtest.NewScriptedPhrases(alicePhrase))
		_, err := f.svc.Register(ctx, "alice1", "dev-A")
		require.NoError(t, err)

		require.NoError(t, f.svc.RecoverDevice(ctx, "alice1", "dev-B", "  Apple RIVER  stone\tcedar moon glass \n"))
	})

	t.Run("wrong phrase changes nothing", func(t *testing.T) {
		f := newFixture(t, authtest.NewScriptedPhrases(alicePhrase))
		reg, err := f.svc.Register(ctx, "alice1", "dev-A")
		require.NoError(t, err)
		before := f.store.Snapshot("alice1")

		for _, phrase := range []string{"apple river stone cedar moon acorn", "apple river stone cedar moon", ""} {
			err = f.svc.RecoverDevice(ctx, "alice1", "dev-C", phrase)
			assertKind(t, err, auth.KindInvalidRecoveryKey)
		}

		assert.Equal(t, before, f.store.Snapshot("alice1"))
		_, err = f.svc.RequireSession(ctx, "alice1", reg.SessionKey)
		require.NoError(t, err)
	})

	t.Run("unknown account", func(t *testing.T) {
		f := newFixture(t, nil)
		err := f.svc.RecoverDevice(ctx, "nobody1", "dev-C", alicePhrase)
		assertKind(t, err, auth.KindAccountNotFound)
	})

	t.Run("corrupt stored hash is a store failure", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.Register(ctx, "alice1", "dev-A")
		require.NoError(t, err)
		corrupt := "not-a-hash"
		require.NoError(t, f.store.Update(ctx, "alice1", auth.AccountUpdate{RecoveryKeyHash: &corrupt}))

		err = f.svc.RecoverDevice(ctx, "alice1", "dev-C", alicePhrase)
		assert.ErrorIs(t, err, auth.KindStoreUnavailable)
	})
}

func TestService_RequireSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	reg, err := f.svc.Register(ctx, "alice1", "dev-A")
	require.NoError(t, err)

	acct, err := f.svc.RequireSession(ctx, "alice1", reg.SessionKey)
	require.NoError(t, err)
	assert.Equal(t, "alice1", acct.Username)
	assert.Equal(t, reg.Account.ID, acct.ID)

	tampered := "0" + reg.SessionKey[1:]
	if tampered == reg.SessionKey {
		tampered = "1" + reg.SessionKey[1:]
	}
	_, err = f.svc.RequireSession(ctx, "alice1", tampered)
	assertKind(t, err, auth.KindInvalidSession)

	_, err = f.svc.RequireSession(ctx, "bobby1", reg.SessionKey)
	assertKind(t, err, auth.KindInvalidSession)

	f.store.Err = errors.New("timeout")
	_, err = f.svc.RequireSession(ctx, "alice1", reg.SessionKey)
	assert.ErrorIs(t, err, auth.KindStoreUnavailable)
}

func TestService_SessionKeysAreUnique(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	seen := make(map[string]bool)
	for _, name := range []string{"alice1", "bobby1", "carol1"} {
		reg, err := f.svc.Register(ctx, name, "dev-A")
		require.NoError(t, err)
		require.False(t, seen[reg.SessionKey])
		seen[reg.SessionKey] = true
		for range 10 {
			key, err := f.svc.Login(ctx, name, "dev-A")
			require.NoError(t, err)
			require.False(t, seen[key])
			seen[key] = true
		}
	}
}

func TestService_ConcurrentRegisterCreatesOneAccount(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	f := newFixture(t, nil)

	var wg sync.WaitGroup
	var successes, duplicates atomic.Int32
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Register(ctx, "racer1", "dev-"+string(rune('A'+i)))
			switch auth.KindOf(err) {
			case "":
				successes.Add(1)
			case auth.KindDuplicateAccount:
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(7), duplicates.Load())
	assert.Equal(t, 1, f.store.Len())
}

func TestService_ConcurrentLoginsLeaveOneLiveKey(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	f := newFixture(t, nil)
	_, err := f.svc.Register(ctx, "alice1", "dev-A")
	require.NoError(t, err)

	keys := make([]string, 8)
	var wg sync.WaitGroup
	for i := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, err := f.svc.Login(ctx, "alice1", "dev-A")
			if err == nil {
				keys[i] = key
			}
		}()
	}
	wg.Wait()

	live := 0
	for _, key := range keys {
		require.NotEmpty(t, key)
		if _, err := f.svc.RequireSession(ctx, "alice1", key); err == nil {
			live++
		}
	}
	assert.Equal(t, 1, live)
}

func TestPublicMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, authtest.NewScriptedPhrases(alicePhrase))
	reg, err := f.svc.Register(ctx, "alice1", "dev-A")
	require.NoError(t, err)

	_, notFound := f.svc.Login(ctx, "nobody1", "dev-A")
	_, mismatch := f.svc.Login(ctx, "alice1", "dev-B")
	badSession := f.svc.Logout(ctx, "alice1", "stale")
	badPhrase := f.svc.RecoverDevice(ctx, "alice1", "dev-B", "wrong words entirely here now ok")

	msg := auth.PublicMessage(notFound)
	assert.Equal(t, "invalid username or credentials", msg)
	for _, err := range []error{mismatch, badSession, badPhrase} {
		assert.Equal(t, msg, auth.PublicMessage(err))
	}

	_, invalid := f.svc.Login(ctx, "x", "dev-A")
	assert.Equal(t, "invalid username format", auth.PublicMessage(invalid))

	f.store.Err = errors.New("pq: relation \"accounts\" does not exist")
	storeErr := f.svc.Logout(ctx, "alice1", reg.SessionKey)
	assert.Equal(t, "internal error", auth.PublicMessage(storeErr))
	assert.NotContains(t, auth.PublicMessage(storeErr), "relation")

	assert.Empty(t, auth.PublicMessage(nil))
}

func TestService_LogsNeverContainCredentials(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f := newFixture(t, authtest.NewScriptedPhrases(alicePhrase, "acorn cedar glass moon river stone"), auth.WithLogger(logger))

	reg, err := f.svc.Register(ctx, "alice1", "device-secret-A")
	require.NoError(t, err)
	key, err := f.svc.Login(ctx, "alice1", "device-secret-A")
	require.NoError(t, err)
	_, _ = f.svc.Login(ctx, "alice1", "device-secret-B")
	reset, err := f.svc.ResetRecoveryKey(ctx, "alice1", "device-secret-A", key)
	require.NoError(t, err)
	_ = f.svc.RecoverDevice(ctx, "alice1", "device-secret-C", "wrong phrase")
	require.NoError(t, f.svc.RecoverDevice(ctx, "alice1", "device-secret-C", reset.RecoveryPhrase))

	out := buf.String()
	assert.Contains(t, out, `"operation":"register"`)
	assert.Contains(t, out, `"result":"device_mismatch"`)
	for _, secretValue := range []string{
		reg.SessionKey, key, reset.SessionKey,
		alicePhrase, reset.RecoveryPhrase, "wrong phrase",
		"device-secret", auth.HashDeviceID("device-secret-A"),
	} {
		assert.NotContains(t, out, secretValue)
	}
}

func TestService_RecordsMetrics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	successBefore := testutil.ToFloat64(auth.OperationsTotal.WithLabelValues(auth.OpRegister, auth.ResultSuccess))
	dupBefore := testutil.ToFloat64(auth.OperationsTotal.WithLabelValues(auth.OpRegister, "duplicate_account"))

	_, err := f.svc.Register(ctx, "metric1", "dev-A")
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, "metric1", "dev-A")
	require.Error(t, err)

	assert.InDelta(t, successBefore+1, testutil.ToFloat64(auth.OperationsTotal.WithLabelValues(auth.OpRegister, auth.ResultSuccess)), 0)
	assert.InDelta(t, dupBefore+1, testutil.ToFloat64(auth.OperationsTotal.WithLabelValues(auth.OpRegister, "duplicate_account")), 0)
	assert.Positive(t, testutil.CollectAndCount(auth.OperationDuration))
}

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { auth.RegisterMetrics(reg) })

	// A second registration on the same registry is a programming error.
	assert.Panics(t, func() { auth.RegisterMetrics(reg) })
}

func TestService_WithClockStampsEveryWrite(t *testing.T) {
	ctx := context.Background()
	var (
		mu  sync.Mutex
		now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Hour)
		return now
	}
	f := newFixture(t, nil, auth.WithClock(clock))

	reg, err := f.svc.Register(ctx, "clock1", "dev-A")
	require.NoError(t, err)
	created := f.store.Snapshot("clock1")
	assert.True(t, created.CreatedAt.Equal(clock()))
	assert.True(t, created.UpdatedAt.Equal(clock()))

	want := advance()
	key, err := f.svc.Login(ctx, "clock1", "dev-A")
	require.NoError(t, err)
	assert.True(t, f.store.Snapshot("clock1").UpdatedAt.Equal(want), "login")

	want = advance()
	reset, err := f.svc.ResetRecoveryKey(ctx, "clock1", "dev-A", key)
	require.NoError(t, err)
	assert.True(t, f.store.Snapshot("clock1").UpdatedAt.Equal(want), "reset")

	want = advance()
	require.NoError(t, f.svc.Logout(ctx, "clock1", reset.SessionKey))
	assert.True(t, f.store.Snapshot("clock1").UpdatedAt.Equal(want), "logout")

	want = advance()
	require.NoError(t, f.svc.RecoverDevice(ctx, "clock1", "dev-B", reset.RecoveryPhrase))
	got := f.store.Snapshot("clock1")
	assert.True(t, got.UpdatedAt.Equal(want), "recover")
	assert.True(t, got.CreatedAt.Equal(created.CreatedAt))
	assert.NotEmpty(t, reg.SessionKey)
}
