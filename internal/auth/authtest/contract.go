// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

package authtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collectconnect/ccserver/internal/auth"
)

// NewAccount returns a valid account for username with placeholder hashes.
func NewAccount(username string) *auth.Account {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &auth.Account{
		ID:                ulid.Make(),
		Username:          username,
		DeviceFingerprint: auth.HashDeviceID("device-" + username),
		SessionKeyHash:    auth.HashSessionKey("session-" + username),
		RecoveryKeyHash:   "$argon2id$v=19$m=1024,t=1,p=1$c2FsdHNhbHQ$aGFzaGhhc2g",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func ptr(s string) *string { return &s }

// RunStoreContract checks the behaviour every auth.CredentialStore must
// provide. newStore must return an empty store.
func RunStoreContract(t *testing.T, newStore func(t *testing.T) auth.CredentialStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("find missing", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Find(ctx, "nobody1")
		require.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("create then find ignoring case", func(t *testing.T) {
		store := newStore(t)
		acct := NewAccount("Alice1")
		bio := "hello"
		acct.Bio = &bio
		require.NoError(t, store.Create(ctx, acct))

		got, err := store.Find(ctx, "aLiCe1")
		require.NoError(t, err)
		assert.Equal(t, acct.ID, got.ID)
		assert.Equal(t, "Alice1", got.Username)
		assert.Equal(t, acct.DeviceFingerprint, got.DeviceFingerprint)
		assert.Equal(t, acct.SessionKeyHash, got.SessionKeyHash)
		assert.Equal(t, acct.RecoveryKeyHash, got.RecoveryKeyHash)
		require.NotNil(t, got.Bio)
		assert.Equal(t, "hello", *got.Bio)
		assert.Nil(t, got.AvatarColorID)
		assert.WithinDuration(t, acct.CreatedAt, got.CreatedAt, time.Second)
	})

	t.Run("duplicate username in any case", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, NewAccount("alice1")))
		err := store.Create(ctx, NewAccount("ALICE1"))
		require.ErrorIs(t, err, auth.ErrAlreadyExists)
	})

	t.Run("concurrent creates yield one account", func(t *testing.T) {
		store := newStore(t)
		const racers = 8
		var wg sync.WaitGroup
		errs := make([]error, racers)
		for i := range racers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = store.Create(ctx, NewAccount("racer1"))
			}()
		}
		wg.Wait()

		created := 0
		for _, err := range errs {
			if err == nil {
				created++
				continue
			}
			assert.ErrorIs(t, err, auth.ErrAlreadyExists)
		}
		assert.Equal(t, 1, created)
	})

	t.Run("update applies values", func(t *testing.T) {
		store := newStore(t)
		acct := NewAccount("alice1")
		require.NoError(t, store.Create(ctx, acct))

		err := store.Update(ctx, "ALICE1", auth.AccountUpdate{
			DeviceFingerprint: ptr("fp-new"),
			SessionKeyHash:    ptr(""),
			RecoveryKeyHash:   ptr("rk-new"),
		})
		require.NoError(t, err)

		got, err := store.Find(ctx, "alice1")
		require.NoError(t, err)
		assert.Equal(t, "fp-new", got.DeviceFingerprint)
		assert.Empty(t, got.SessionKeyHash)
		assert.Equal(t, "rk-new", got.RecoveryKeyHash)
		assert.False(t, got.UpdatedAt.Before(acct.UpdatedAt))
	})

	t.Run("update leaves unset fields alone", func(t *testing.T) {
		store := newStore(t)
		acct := NewAccount("alice1")
		require.NoError(t, store.Create(ctx, acct))

		require.NoError(t, store.Update(ctx, "alice1", auth.AccountUpdate{SessionKeyHash: ptr("s2")}))

		got, err := store.Find(ctx, "alice1")
		require.NoError(t, err)
		assert.Equal(t, "s2", got.SessionKeyHash)
		assert.Equal(t, acct.DeviceFingerprint, got.DeviceFingerprint)
		assert.Equal(t, acct.RecoveryKeyHash, got.RecoveryKeyHash)
	})

	t.Run("update preconditions", func(t *testing.T) {
		store := newStore(t)
		acct := NewAccount("alice1")
		require.NoError(t, store.Create(ctx, acct))

		err := store.Update(ctx, "alice1", auth.AccountUpdate{
			SessionKeyHash:   ptr(""),
			IfSessionKeyHash: ptr("stale"),
		})
		require.ErrorIs(t, err, auth.ErrConflict)

		err = store.Update(ctx, "alice1", auth.AccountUpdate{
			SessionKeyHash:      ptr(""),
			IfSessionKeyHash:    ptr(acct.SessionKeyHash),
			IfDeviceFingerprint: ptr("other-device"),
		})
		require.ErrorIs(t, err, auth.ErrConflict)

		got, err := store.Find(ctx, "alice1")
		require.NoError(t, err)
		assert.Equal(t, acct.SessionKeyHash, got.SessionKeyHash, "failed update must not write")

		err = store.Update(ctx, "alice1", auth.AccountUpdate{
			SessionKeyHash:      ptr(""),
			IfSessionKeyHash:    ptr(acct.SessionKeyHash),
			IfDeviceFingerprint: ptr(acct.DeviceFingerprint),
		})
		require.NoError(t, err)
	})

	t.Run("update stores the given update time", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, NewAccount("alice1")))

		stamp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
		err := store.Update(ctx, "alice1", auth.AccountUpdate{
			SessionKeyHash: ptr("s2"),
			UpdatedAt:      stamp,
		})
		require.NoError(t, err)

		got, err := store.Find(ctx, "alice1")
		require.NoError(t, err)
		assert.True(t, stamp.Equal(got.UpdatedAt), "updated_at = %v, want %v", got.UpdatedAt, stamp)
	})

	t.Run("empty update is rejected without writing", func(t *testing.T) {
		store := newStore(t)
		acct := NewAccount("alice1")
		require.NoError(t, store.Create(ctx, acct))

		err := store.Update(ctx, "alice1", auth.AccountUpdate{
			IfSessionKeyHash: ptr(acct.SessionKeyHash),
			UpdatedAt:        acct.UpdatedAt.Add(time.Hour),
		})
		require.ErrorIs(t, err, auth.ErrEmptyUpdate)

		got, err := store.Find(ctx, "alice1")
		require.NoError(t, err)
		assert.WithinDuration(t, acct.UpdatedAt, got.UpdatedAt, time.Second)
	})

	t.Run("update missing", func(t *testing.T) {
		store := newStore(t)
		err := store.Update(ctx, "nobody1", auth.AccountUpdate{SessionKeyHash: ptr("")})
		require.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("compare-and-set admits one of many racing writers", func(t *testing.T) {
		store := newStore(t)
		acct := NewAccount("alice1")
		require.NoError(t, store.Create(ctx, acct))

		const racers = 8
		var wg sync.WaitGroup
		errs := make([]error, racers)
		for i := range racers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = store.Update(ctx, "alice1", auth.AccountUpdate{
					SessionKeyHash:   ptr(fmt.Sprintf("winner-%d", i)),
					IfSessionKeyHash: ptr(acct.SessionKeyHash),
				})
			}()
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, auth.ErrConflict)
		}
		assert.Equal(t, 1, wins)
	})
}
