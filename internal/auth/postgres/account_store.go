// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

// Package postgres implements auth.CredentialStore on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/collectconnect/ccserver/internal/auth"
)

// poolIface is the subset of *pgxpool.Pool used by AccountStore.
// pgxmock.PgxPoolIface satisfies it in tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const accountColumns = `id, username, device_fingerprint, session_key_hash, recovery_key_hash,
		       bio, avatar_color_id, pending_invite, created_at, updated_at`

// AccountStore implements auth.CredentialStore using PostgreSQL.
type AccountStore struct {
	pool poolIface
}

// NewAccountStore creates a new AccountStore.
func NewAccountStore(pool poolIface) *AccountStore {
	return &AccountStore{pool: pool}
}

// Find retrieves an account by username (case-insensitive).
func (s *AccountStore) Find(ctx context.Context, username string) (*auth.Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE lower(username) = lower($1)
	`, username)

	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("username", username).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_FIND_FAILED").
			With("operation", "find account").
			With("username", username).
			Wrap(err)
	}
	return acct, nil
}

// Create stores a new account. The unique index on lower(username) makes
// concurrent creates of the same name yield one success.
func (s *AccountStore) Create(ctx context.Context, acct *auth.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (
			id, username, device_fingerprint, session_key_hash, recovery_key_hash,
			bio, avatar_color_id, pending_invite, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		acct.ID.String(),
		acct.Username,
		acct.DeviceFingerprint,
		acct.SessionKeyHash,
		acct.RecoveryKeyHash,
		acct.Bio,
		acct.AvatarColorID,
		acct.PendingInvite,
		acct.CreatedAt,
		acct.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("ACCOUNT_EXISTS").
				With("username", acct.Username).
				Wrap(auth.ErrAlreadyExists)
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("username", acct.Username).
			Wrap(err)
	}
	return nil
}

// Update applies update in a single UPDATE whose WHERE clause carries the
// preconditions. When no row changes, a follow-up existence check tells
// ErrNotFound from ErrConflict.
func (s *AccountStore) Update(ctx context.Context, username string, update auth.AccountUpdate) error {
	if update.IsEmpty() {
		return oops.Code("ACCOUNT_UPDATE_EMPTY").With("username", username).Wrap(auth.ErrEmptyUpdate)
	}

	query, args := buildUpdate(username, update)

	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update account").
			With("username", username).
			Wrap(err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE lower(username) = lower($1))`,
		username).Scan(&exists)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "check account exists").
			With("username", username).
			Wrap(err)
	}
	if !exists {
		return oops.Code("ACCOUNT_NOT_FOUND").With("username", username).Wrap(auth.ErrNotFound)
	}
	return oops.Code("ACCOUNT_CONFLICT").With("username", username).Wrap(auth.ErrConflict)
}

// buildUpdate renders update as SQL. $1 is always the username.
func buildUpdate(username string, update auth.AccountUpdate) (string, []any) {
	args := []any{username}
	param := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sets := []string{"updated_at = " + param(update.Timestamp())}
	if update.DeviceFingerprint != nil {
		sets = append(sets, "device_fingerprint = "+param(*update.DeviceFingerprint))
	}
	if update.SessionKeyHash != nil {
		sets = append(sets, "session_key_hash = "+param(*update.SessionKeyHash))
	}
	if update.RecoveryKeyHash != nil {
		sets = append(sets, "recovery_key_hash = "+param(*update.RecoveryKeyHash))
	}

	where := []string{"lower(username) = lower($1)"}
	if update.IfSessionKeyHash != nil {
		where = append(where, "session_key_hash = "+param(*update.IfSessionKeyHash))
	}
	if update.IfDeviceFingerprint != nil {
		where = append(where, "device_fingerprint = "+param(*update.IfDeviceFingerprint))
	}

	query := "UPDATE accounts SET " + strings.Join(sets, ", ") +
		" WHERE " + strings.Join(where, " AND ")
	return query, args
}

// scanAccount scans a single row into an Account.
// Callers are responsible for handling pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr string
		acct  auth.Account
	)
	err := row.Scan(
		&idStr,
		&acct.Username,
		&acct.DeviceFingerprint,
		&acct.SessionKeyHash,
		&acct.RecoveryKeyHash,
		&acct.Bio,
		&acct.AvatarColorID,
		&acct.PendingInvite,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}

	acct.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").
			With("operation", "parse account id").
			With("id", idStr).
			Wrap(err)
	}
	acct.CreatedAt = acct.CreatedAt.UTC()
	acct.UpdatedAt = acct.UpdatedAt.UTC()
	return &acct, nil
}

// Compile-time interface check.
var _ auth.CredentialStore = (*AccountStore)(nil)
