// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// Store sentinels. CredentialStore implementations wrap these so callers can
// match with errors.Is.
var (
	// ErrNotFound is returned when no account has the requested username.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned by Create when the username is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict is returned by Update when a compare-and-set precondition
	// no longer holds.
	ErrConflict = errors.New("precondition failed")

	// ErrEmptyUpdate is returned by Update when the update sets no field.
	ErrEmptyUpdate = errors.New("update changes nothing")
)

// Kind classifies a Service failure. Its string form is the oops error code.
type Kind string

// Service failure kinds.
const (
	KindInvalidUsername        Kind = "AUTH_INVALID_USERNAME"
	KindDuplicateAccount       Kind = "AUTH_DUPLICATE_ACCOUNT"
	KindAccountNotFound        Kind = "AUTH_ACCOUNT_NOT_FOUND"
	KindDeviceMismatch         Kind = "AUTH_DEVICE_MISMATCH"
	KindInvalidSession         Kind = "AUTH_INVALID_SESSION"
	KindInvalidRecoveryKey     Kind = "AUTH_INVALID_RECOVERY_KEY"
	KindSecretGenerationFailed Kind = "AUTH_SECRET_GENERATION_FAILED"
	KindStoreUnavailable       Kind = "AUTH_STORE_UNAVAILABLE"
)

// Error implements error so a Kind can sit in a wrap chain and be matched
// with errors.Is.
func (k Kind) Error() string {
	switch k {
	case KindInvalidUsername:
		return "invalid username format"
	case KindDuplicateAccount:
		return "username already registered"
	case KindAccountNotFound:
		return "account not found"
	case KindDeviceMismatch:
		return "device does not match account"
	case KindInvalidSession:
		return "invalid session key"
	case KindInvalidRecoveryKey:
		return "invalid recovery key"
	case KindSecretGenerationFailed:
		return "secret generation failed"
	case KindStoreUnavailable:
		return "credential store unavailable"
	default:
		return string(k)
	}
}

// genericCredentialMessage is returned to callers for every credential
// failure so responses do not reveal which check failed.
const genericCredentialMessage = "invalid username or credentials"

// KindOf returns the Kind carried by err, or "" if err has none.
func KindOf(err error) Kind {
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return ""
}

// PublicMessage returns the text safe to show an untrusted caller.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	switch k := KindOf(err); k {
	case KindAccountNotFound, KindDeviceMismatch, KindInvalidSession, KindInvalidRecoveryKey:
		return genericCredentialMessage
	case KindInvalidUsername, KindDuplicateAccount:
		return k.Error()
	default:
		return "internal error"
	}
}

// kindError joins a Kind with an infrastructure cause so both errors.Is(err,
// kind) and errors.Is(err, cause) hold.
type kindError struct {
	kind  Kind
	cause error
}

func (e *kindError) Error() string { return e.kind.Error() + ": " + e.cause.Error() }

func (e *kindError) Unwrap() []error { return []error{e.kind, e.cause} }

// failure builds a coded error for a check that failed.
func failure(k Kind, op, username string) error {
	return oops.Code(string(k)).
		With("operation", op).
		With("username", username).
		Wrap(k)
}

// infraFailure builds a coded error for a store or randomness failure.
func infraFailure(k Kind, op, username string, cause error) error {
	return oops.Code(string(k)).
		With("operation", op).
		With("username", username).
		Wrap(&kindError{kind: k, cause: cause})
}
