// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/collectconnect/ccserver/internal/diceware"
	"github.com/collectconnect/ccserver/internal/secret"
	"github.com/collectconnect/ccserver/pkg/errutil"
)

var tracer = otel.Tracer("ccserver/auth")

// Constructor errors.
var (
	ErrNilStore     = errors.New("credential store is required")
	ErrNilSecrets   = errors.New("secret generator is required")
	ErrNilGenerator = errors.New("phrase generator is required")
	ErrNilHasher    = errors.New("phrase hasher is required")
)

// dummyFingerprint is compared against when a username is unknown so the
// not-found path performs the same work as a real device check.
var dummyFingerprint = HashDeviceID("")

// PhraseGenerator produces fresh recovery phrases.
type PhraseGenerator interface {
	Generate() (string, error)
}

// RegisterResult is returned once by Register. It is the only place the
// initial recovery phrase is ever disclosed.
type RegisterResult struct {
	Account        *Account
	SessionKey     string
	RecoveryPhrase string
}

// ResetResult is returned once by ResetRecoveryKey. It is the only place the
// new recovery phrase is ever disclosed.
type ResetResult struct {
	SessionKey     string
	RecoveryPhrase string
}

// Service implements account registration, login, and recovery.
type Service struct {
	store   CredentialStore
	secrets secret.Generator
	phrases PhraseGenerator
	hasher  PhraseHasher
	logger  *slog.Logger
	now     func() time.Time

	reservedPatterns []string
	reserved         *reservedNames
	dummyRecoveryKey string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithReservedUsernames rejects usernames matching any of the glob patterns
// at registration. Matching ignores case.
func WithReservedUsernames(patterns ...string) ServiceOption {
	return func(s *Service) {
		s.reservedPatterns = append(s.reservedPatterns, patterns...)
	}
}

// WithClock overrides the time source for account creation and update
// timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a Service. All collaborators are required.
func NewService(store CredentialStore, secrets secret.Generator, phrases PhraseGenerator, hasher PhraseHasher, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if secrets == nil {
		return nil, ErrNilSecrets
	}
	if phrases == nil {
		return nil, ErrNilGenerator
	}
	if hasher == nil {
		return nil, ErrNilHasher
	}

	s := &Service{
		store:   store,
		secrets: secrets,
		phrases: phrases,
		hasher:  hasher,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	reserved, err := compileReserved(s.reservedPatterns)
	if err != nil {
		return nil, err
	}
	s.reserved = reserved

	// Hashed with the live parameters so unknown-user recovery costs the same
	// as a real verification.
	dummy, err := hasher.Hash(ulid.Make().String())
	if err != nil {
		return nil, oops.Code("AUTH_SERVICE_INIT_FAILED").
			With("operation", "hash dummy recovery key").
			Wrap(err)
	}
	s.dummyRecoveryKey = dummy

	return s, nil
}

// Register creates an account bound to deviceID. It returns the first
// session key and the plaintext recovery phrase.
func (s *Service) Register(ctx context.Context, username, deviceID string) (result *RegisterResult, err error) {
	ctx, done := s.begin(ctx, OpRegister, username)
	defer func() { done(err) }()

	if err := s.validateNewUsername(username); err != nil {
		return nil, err
	}
	if deviceID == "" {
		return nil, failure(KindDeviceMismatch, OpRegister, username)
	}

	_, err = s.store.Find(ctx, username)
	switch {
	case err == nil:
		return nil, failure(KindDuplicateAccount, OpRegister, username)
	case !errors.Is(err, ErrNotFound):
		return nil, infraFailure(KindStoreUnavailable, OpRegister, username, err)
	}

	phrase, recoveryHash, err := s.newRecoveryKey(username)
	if err != nil {
		return nil, err
	}
	sessionKey, sessionHash, err := newSessionKey(s.secrets, username)
	if err != nil {
		return nil, err
	}

	now := s.now()
	acct := &Account{
		ID:                ulid.Make(),
		Username:          username,
		DeviceFingerprint: HashDeviceID(deviceID),
		SessionKeyHash:    sessionHash,
		RecoveryKeyHash:   recoveryHash,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.Create(ctx, acct); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, failure(KindDuplicateAccount, OpRegister, username)
		}
		return nil, infraFailure(KindStoreUnavailable, OpRegister, username, err)
	}

	return &RegisterResult{Account: acct, SessionKey: sessionKey, RecoveryPhrase: phrase}, nil
}

// Login issues a new session key if deviceID matches the bound device.
// Any previous session key stops working.
func (s *Service) Login(ctx context.Context, username, deviceID string) (key string, err error) {
	ctx, done := s.begin(ctx, OpLogin, username)
	defer func() { done(err) }()

	if err := ValidateUsername(username); err != nil {
		return "", err
	}

	acct, err := s.store.Find(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			digestsEqual(HashDeviceID(deviceID), dummyFingerprint)
			return "", failure(KindAccountNotFound, OpLogin, username)
		}
		return "", infraFailure(KindStoreUnavailable, OpLogin, username, err)
	}

	if deviceID == "" || !digestsEqual(HashDeviceID(deviceID), acct.DeviceFingerprint) {
		return "", failure(KindDeviceMismatch, OpLogin, username)
	}

	key, digest, err := newSessionKey(s.secrets, username)
	if err != nil {
		return "", err
	}

	fingerprint := acct.DeviceFingerprint
	err = s.store.Update(ctx, username, AccountUpdate{
		SessionKeyHash:      &digest,
		IfDeviceFingerprint: &fingerprint,
		UpdatedAt:           s.now(),
	})
	if err != nil {
		return "", s.updateFailure(OpLogin, username, err, KindDeviceMismatch)
	}
	return key, nil
}

// Logout clears the session if sessionKey is the live key.
func (s *Service) Logout(ctx context.Context, username, sessionKey string) (err error) {
	ctx, done := s.begin(ctx, OpLogout, username)
	defer func() { done(err) }()

	acct, err := s.authenticate(ctx, OpLogout, username, sessionKey)
	if err != nil {
		return err
	}

	cleared := ""
	validated := acct.SessionKeyHash
	err = s.store.Update(ctx, username, AccountUpdate{
		SessionKeyHash:   &cleared,
		IfSessionKeyHash: &validated,
		UpdatedAt:        s.now(),
	})
	if err != nil {
		return s.updateFailure(OpLogout, username, err, KindInvalidSession)
	}
	return nil
}

// ResetRecoveryKey replaces the recovery phrase. The caller must hold the
// live session key and the bound device. The session key is rotated too.
func (s *Service) ResetRecoveryKey(ctx context.Context, username, deviceID, sessionKey string) (result *ResetResult, err error) {
	ctx, done := s.begin(ctx, OpResetRecoveryKey, username)
	defer func() { done(err) }()

	acct, err := s.authenticate(ctx, OpResetRecoveryKey, username, sessionKey)
	if err != nil {
		return nil, err
	}
	if deviceID == "" || !digestsEqual(HashDeviceID(deviceID), acct.DeviceFingerprint) {
		return nil, failure(KindDeviceMismatch, OpResetRecoveryKey, username)
	}

	phrase, recoveryHash, err := s.newRecoveryKey(username)
	if err != nil {
		return nil, err
	}
	newKey, newDigest, err := newSessionKey(s.secrets, username)
	if err != nil {
		return nil, err
	}

	validatedSession := acct.SessionKeyHash
	validatedDevice := acct.DeviceFingerprint
	err = s.store.Update(ctx, username, AccountUpdate{
		SessionKeyHash:      &newDigest,
		RecoveryKeyHash:     &recoveryHash,
		IfSessionKeyHash:    &validatedSession,
		IfDeviceFingerprint: &validatedDevice,
		UpdatedAt:           s.now(),
	})
	if err != nil {
		return nil, s.updateFailure(OpResetRecoveryKey, username, err, KindInvalidSession)
	}

	return &ResetResult{SessionKey: newKey, RecoveryPhrase: phrase}, nil
}

// RecoverDevice rebinds the account to newDeviceID if phrase matches the
// current recovery key. The session is cleared; the recovery key stays valid.
func (s *Service) RecoverDevice(ctx context.Context, username, newDeviceID, phrase string) (err error) {
	ctx, done := s.begin(ctx, OpRecoverDevice, username)
	defer func() { done(err) }()

	if err := ValidateUsername(username); err != nil {
		return err
	}
	if newDeviceID == "" {
		return failure(KindDeviceMismatch, OpRecoverDevice, username)
	}
	phrase = diceware.Normalize(phrase)

	acct, err := s.store.Find(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_, _ = s.hasher.Verify(phrase, s.dummyRecoveryKey)
			return failure(KindAccountNotFound, OpRecoverDevice, username)
		}
		return infraFailure(KindStoreUnavailable, OpRecoverDevice, username, err)
	}

	if phrase == "" {
		return failure(KindInvalidRecoveryKey, OpRecoverDevice, username)
	}
	ok, err := s.hasher.Verify(phrase, acct.RecoveryKeyHash)
	if err != nil {
		return infraFailure(KindStoreUnavailable, OpRecoverDevice, username,
			oops.With("operation", "verify stored recovery hash").Wrap(err))
	}
	if !ok {
		return failure(KindInvalidRecoveryKey, OpRecoverDevice, username)
	}

	fingerprint := HashDeviceID(newDeviceID)
	cleared := ""
	err = s.store.Update(ctx, username, AccountUpdate{
		DeviceFingerprint: &fingerprint,
		SessionKeyHash:    &cleared,
		UpdatedAt:         s.now(),
	})
	if err != nil {
		return s.updateFailure(OpRecoverDevice, username, err, KindInvalidRecoveryKey)
	}
	return nil
}

// RequireSession returns the account if sessionKey is its live session key.
// Code acting on behalf of a user must call it before touching the user's
// data.
func (s *Service) RequireSession(ctx context.Context, username, sessionKey string) (acct *Account, err error) {
	ctx, done := s.begin(ctx, OpRequireSession, username)
	defer func() { done(err) }()

	return s.authenticate(ctx, OpRequireSession, username, sessionKey)
}

// authenticate checks username format and the session key.
func (s *Service) authenticate(ctx context.Context, op, username, sessionKey string) (*Account, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}

	acct, err := s.store.Find(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			digestsEqual(HashSessionKey(sessionKey), dummyFingerprint)
			return nil, failure(KindInvalidSession, op, username)
		}
		return nil, infraFailure(KindStoreUnavailable, op, username, err)
	}

	if sessionKey == "" || !digestsEqual(HashSessionKey(sessionKey), acct.SessionKeyHash) {
		return nil, failure(KindInvalidSession, op, username)
	}
	return acct, nil
}

func (s *Service) validateNewUsername(username string) error {
	if err := ValidateUsername(username); err != nil {
		return err
	}
	if pattern, ok := s.reserved.match(username); ok {
		return oops.Code(string(KindInvalidUsername)).
			With("pattern", pattern).
			Wrapf(KindInvalidUsername, "username is reserved")
	}
	return nil
}

// newRecoveryKey generates a phrase and its stored hash.
func (s *Service) newRecoveryKey(username string) (phrase, hash string, err error) {
	phrase, err = s.phrases.Generate()
	if err != nil {
		return "", "", infraFailure(KindSecretGenerationFailed, "generate recovery phrase", username, err)
	}
	hash, err = s.hasher.Hash(phrase)
	if err != nil {
		return "", "", infraFailure(KindSecretGenerationFailed, "hash recovery phrase", username, err)
	}
	return phrase, hash, nil
}

// updateFailure translates a store Update error. A failed precondition means
// the checked credential changed since it was validated, reported as
// onConflict.
func (s *Service) updateFailure(op, username string, err error, onConflict Kind) error {
	switch {
	case errors.Is(err, ErrConflict):
		return failure(onConflict, op, username)
	case errors.Is(err, ErrNotFound):
		return failure(KindAccountNotFound, op, username)
	default:
		return infraFailure(KindStoreUnavailable, op, username, err)
	}
}

// begin starts the span for op and returns a func that ends it, records
// metrics, and logs the outcome. Credentials are never logged.
func (s *Service) begin(ctx context.Context, op, username string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "auth."+op,
		trace.WithAttributes(attribute.String("auth.username", username)),
	)

	return ctx, func(err error) {
		recordOperation(op, err, time.Since(start))
		result := resultLabel(err)
		span.SetAttributes(attribute.String("auth.result", result))

		switch KindOf(err) {
		case "":
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				s.logger.ErrorContext(ctx, "auth operation failed",
					append([]any{"operation", op, "username", username}, errutil.Attrs(err)...)...)
			} else {
				s.logger.InfoContext(ctx, "auth operation succeeded",
					"operation", op, "username", username)
			}
		case KindStoreUnavailable, KindSecretGenerationFailed:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.logger.ErrorContext(ctx, "auth operation failed",
				append([]any{"operation", op, "username", username, "result", result}, errutil.Attrs(err)...)...)
		default:
			s.logger.WarnContext(ctx, "auth operation rejected",
				"operation", op, "username", username, "result", result)
		}
		span.End()
	}
}
