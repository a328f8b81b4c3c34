// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

package auth

import (
	"context"
	"regexp"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username length limits.
const (
	MinUsernameLength = 5
	MaxUsernameLength = 20
)

// usernameRegex matches a letter followed by 4 to 19 letters or digits.
var usernameRegex = regexp.MustCompile(`^[A-Za-z][0-9A-Za-z]{4,19}$`)

// Account is a registered user and the credentials bound to it.
type Account struct {
	ID                ulid.ULID
	Username          string
	DeviceFingerprint string
	SessionKeyHash    string
	RecoveryKeyHash   string

	// Profile fields belong to the social layer and are never written here.
	Bio           *string
	AvatarColorID *int
	PendingInvite *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasSession reports whether the account has a live session key.
func (a *Account) HasSession() bool {
	return a.SessionKeyHash != ""
}

// ValidateUsername checks a username against the account naming rules.
// Usernames are 5 to 20 ASCII letters or digits and start with a letter.
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code(string(KindInvalidUsername)).Wrapf(KindInvalidUsername, "username cannot be empty")
	}
	if len(username) < MinUsernameLength || len(username) > MaxUsernameLength {
		return oops.Code(string(KindInvalidUsername)).
			With("min", MinUsernameLength).
			With("max", MaxUsernameLength).
			With("length", len(username)).
			Wrapf(KindInvalidUsername, "username must be %d to %d characters", MinUsernameLength, MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code(string(KindInvalidUsername)).
			Wrapf(KindInvalidUsername, "username must start with a letter and contain only letters and digits")
	}
	return nil
}

// AccountUpdate describes a conditional change to one account.
//
// Nil value fields are left unchanged. A non-nil SessionKeyHash pointing at
// "" clears the session. Non-nil precondition fields must equal the stored
// values or the update is rejected with ErrConflict.
type AccountUpdate struct {
	DeviceFingerprint *string
	SessionKeyHash    *string
	RecoveryKeyHash   *string

	IfSessionKeyHash    *string
	IfDeviceFingerprint *string

	// UpdatedAt is stored as the account's update time. Zero means the
	// store's current time.
	UpdatedAt time.Time
}

// IsEmpty reports whether the update changes nothing.
func (u AccountUpdate) IsEmpty() bool {
	return u.DeviceFingerprint == nil && u.SessionKeyHash == nil && u.RecoveryKeyHash == nil
}

// Matches reports whether acct satisfies the update's preconditions.
func (u AccountUpdate) Matches(acct *Account) bool {
	if u.IfSessionKeyHash != nil && *u.IfSessionKeyHash != acct.SessionKeyHash {
		return false
	}
	if u.IfDeviceFingerprint != nil && *u.IfDeviceFingerprint != acct.DeviceFingerprint {
		return false
	}
	return true
}

// Timestamp returns the update time to store, in UTC.
func (u AccountUpdate) Timestamp() time.Time {
	if u.UpdatedAt.IsZero() {
		return time.Now().UTC()
	}
	return u.UpdatedAt.UTC()
}

// Apply copies the update's values onto acct and stamps UpdatedAt.
func (u AccountUpdate) Apply(acct *Account) {
	if u.DeviceFingerprint != nil {
		acct.DeviceFingerprint = *u.DeviceFingerprint
	}
	if u.SessionKeyHash != nil {
		acct.SessionKeyHash = *u.SessionKeyHash
	}
	if u.RecoveryKeyHash != nil {
		acct.RecoveryKeyHash = *u.RecoveryKeyHash
	}
	acct.UpdatedAt = u.Timestamp()
}

// CredentialStore persists accounts. Implementations must make Create and
// Update atomic per account: concurrent Creates of the same username yield
// exactly one success, and an Update's preconditions and writes happen as
// one step.
type CredentialStore interface {
	// Find returns the account for username (case-insensitive).
	// Returns ErrNotFound if none exists.
	Find(ctx context.Context, username string) (*Account, error)

	// Create stores a new account.
	// Returns ErrAlreadyExists if the username is taken in any letter case.
	Create(ctx context.Context, acct *Account) error

	// Update applies update to the account for username.
	// Returns ErrEmptyUpdate if update changes no field, ErrNotFound if
	// no account exists, ErrConflict if a precondition fails.
	Update(ctx context.Context, username string, update AccountUpdate) error
}
