// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

// Package store opens and migrates the PostgreSQL database that backs
// account storage.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Connection retry defaults.
const (
	DefaultConnectAttempts = 5
	DefaultConnectBackoff  = 500 * time.Millisecond
	maxConnectBackoff      = 10 * time.Second
)

// ConnectConfig controls how Connect reaches the database.
type ConnectConfig struct {
	URL      string
	Attempts uint64
	Backoff  time.Duration
	Logger   *slog.Logger
}

// pinger is the part of a pool Connect needs to check reachability.
type pinger interface {
	Ping(ctx context.Context) error
	Close()
}

// Connect opens a pgx pool and pings it, retrying with exponential backoff
// while the database is unreachable.
func Connect(ctx context.Context, cfg ConnectConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}

	var pool *pgxpool.Pool
	err = connectWithRetry(ctx, cfg, func(ctx context.Context) (pinger, error) {
		p, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, err
		}
		pool = p
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func connectWithRetry(ctx context.Context, cfg ConnectConfig, open func(context.Context) (pinger, error)) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.Attempts
	if attempts == 0 {
		attempts = DefaultConnectAttempts
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = DefaultConnectBackoff
	}

	b := retry.NewExponential(backoff)
	b = retry.WithCappedDuration(maxConnectBackoff, b)
	b = retry.WithMaxRetries(attempts-1, b)

	var attempt int
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		conn, err := open(ctx)
		if err != nil {
			logger.WarnContext(ctx, "database open failed", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		if err := conn.Ping(ctx); err != nil {
			conn.Close()
			logger.WarnContext(ctx, "database ping failed", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").
			With("attempts", attempt).
			Wrap(err)
	}
	logger.InfoContext(ctx, "database connected", "attempts", attempt)
	return nil
}
