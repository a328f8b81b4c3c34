// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

// Package sqlite implements auth.CredentialStore on an embedded SQLite
// database for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/collectconnect/ccserver/internal/auth"
)

const schema = `
	CREATE TABLE IF NOT EXISTS accounts (
		id                 TEXT PRIMARY KEY,
		username           TEXT NOT NULL UNIQUE COLLATE NOCASE,
		device_fingerprint TEXT NOT NULL,
		session_key_hash   TEXT NOT NULL DEFAULT '',
		recovery_key_hash  TEXT NOT NULL,
		bio                TEXT,
		avatar_color_id    INTEGER,
		pending_invite     TEXT,
		created_at         TEXT NOT NULL,
		updated_at         TEXT NOT NULL
	);
`

const accountColumns = `id, username, device_fingerprint, session_key_hash, recovery_key_hash,
		bio, avatar_color_id, pending_invite, created_at, updated_at`

// AccountStore implements auth.CredentialStore using SQLite.
type AccountStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists. ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*AccountStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, oops.Code("SQLITE_OPEN_FAILED").With("path", path).Wrap(err)
	}
	// One connection serialises writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		schema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, oops.Code("SQLITE_OPEN_FAILED").
				With("path", path).
				With("statement", strings.Fields(stmt)[0]).
				Wrap(err)
		}
	}
	return &AccountStore{db: db}, nil
}

// Ping reports whether the database is reachable.
func (s *AccountStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *AccountStore) Close() error {
	return s.db.Close()
}

// Find retrieves an account by username (case-insensitive).
func (s *AccountStore) Find(ctx context.Context, username string) (*auth.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE username = ?`, username)

	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
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

// Create stores a new account.
func (s *AccountStore) Create(ctx context.Context, acct *auth.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		acct.ID.String(),
		acct.Username,
		acct.DeviceFingerprint,
		acct.SessionKeyHash,
		acct.RecoveryKeyHash,
		acct.Bio,
		acct.AvatarColorID,
		acct.PendingInvite,
		formatTime(acct.CreatedAt),
		formatTime(acct.UpdatedAt),
	)
	if err != nil {
		var sqliteErr *msqlite.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
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

// Update applies update atomically. Preconditions are part of the UPDATE's
// WHERE clause.
func (s *AccountStore) Update(ctx context.Context, username string, update auth.AccountUpdate) error {
	if update.IsEmpty() {
		return oops.Code("ACCOUNT_UPDATE_EMPTY").With("username", username).Wrap(auth.ErrEmptyUpdate)
	}

	sets := []string{"updated_at = ?"}
	args := []any{formatTime(update.Timestamp())}
	if update.DeviceFingerprint != nil {
		sets = append(sets, "device_fingerprint = ?")
		args = append(args, *update.DeviceFingerprint)
	}
	if update.SessionKeyHash != nil {
		sets = append(sets, "session_key_hash = ?")
		args = append(args, *update.SessionKeyHash)
	}
	if update.RecoveryKeyHash != nil {
		sets = append(sets, "recovery_key_hash = ?")
		args = append(args, *update.RecoveryKeyHash)
	}

	where := []string{"username = ?"}
	args = append(args, username)
	if update.IfSessionKeyHash != nil {
		where = append(where, "session_key_hash = ?")
		args = append(args, *update.IfSessionKeyHash)
	}
	if update.IfDeviceFingerprint != nil {
		where = append(where, "device_fingerprint = ?")
		args = append(args, *update.IfDeviceFingerprint)
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET "+strings.Join(sets, ", ")+" WHERE "+strings.Join(where, " AND "),
		args...)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update account").
			With("username", username).
			Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "rows affected").
			With("username", username).
			Wrap(err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE username = ?)`, username).Scan(&exists)
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

func scanAccount(row *sql.Row) (*auth.Account, error) {
	var (
		idStr, createdAt, updatedAt string
		acct                        auth.Account
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
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}

	if acct.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").With("id", idStr).Wrap(err)
	}
	if acct.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_TIMESTAMP").With("column", "created_at").Wrap(err)
	}
	if acct.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_TIMESTAMP").With("column", "updated_at").Wrap(err)
	}
	return &acct, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Compile-time interface check.
var _ auth.CredentialStore = (*AccountStore)(nil)
