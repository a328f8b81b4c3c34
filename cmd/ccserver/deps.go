// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

package main

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/collectconnect/ccserver/internal/auth"
	"github.com/collectconnect/ccserver/internal/auth/postgres"
	"github.com/collectconnect/ccserver/internal/auth/sqlite"
	"github.com/collectconnect/ccserver/internal/config"
	"github.com/collectconnect/ccserver/internal/diceware"
	"github.com/collectconnect/ccserver/internal/observability"
	"github.com/collectconnect/ccserver/internal/secret"
	"github.com/collectconnect/ccserver/internal/store"
	"github.com/collectconnect/ccserver/internal/xdg"
)

// Deps contains injectable dependencies for the commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// StoreFactory opens the configured credential store.
	// Default: openStore
	StoreFactory func(ctx context.Context, cfg *config.Config) (Store, error)

	// Secrets supplies randomness for keys, salts and dice.
	// Default: secret.NewCryptoGenerator
	Secrets secret.Generator

	// MigratorFactory creates a schema migrator for a database URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker) ObservabilityServer
}

// Store is a credential store the commands can health-check and close.
type Store interface {
	auth.CredentialStore
	Ping(ctx context.Context) error
	Close() error
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

func (d *Deps) storeFactory() func(context.Context, *config.Config) (Store, error) {
	if d.StoreFactory != nil {
		return d.StoreFactory
	}
	return openStore
}

func (d *Deps) secrets() secret.Generator {
	if d.Secrets != nil {
		return d.Secrets
	}
	return secret.NewCryptoGenerator()
}

func (d *Deps) migratorFactory() func(string) (Migrator, error) {
	if d.MigratorFactory != nil {
		return d.MigratorFactory
	}
	return func(databaseURL string) (Migrator, error) {
		return store.NewMigrator(databaseURL)
	}
}

func (d *Deps) observabilityServerFactory() func(string, observability.ReadinessChecker) ObservabilityServer {
	if d.ObservabilityServerFactory != nil {
		return d.ObservabilityServerFactory
	}
	return func(addr string, ready observability.ReadinessChecker) ObservabilityServer {
		server := observability.NewServer(addr, ready, auth.RegisterMetrics)
		server.Metrics().BuildInfo.WithLabelValues(version).Set(1)
		return server
	}
}

// pgStore adds pool health and lifecycle to postgres.AccountStore.
type pgStore struct {
	*postgres.AccountStore
	pool *pgxpool.Pool
}

func (s *pgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx) //nolint:wrapcheck // readiness reports the raw cause
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}

// openStore opens the credential store selected by cfg.Database.Driver.
func openStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pool, err := store.Connect(ctx, store.ConnectConfig{
			URL:      cfg.Database.URL,
			Attempts: cfg.Database.ConnectAttempts,
			Backoff:  cfg.Database.ConnectBackoff,
			Logger:   slog.Default(),
		})
		if err != nil {
			return nil, err
		}
		return &pgStore{AccountStore: postgres.NewAccountStore(pool), pool: pool}, nil

	case config.DriverSQLite:
		path, err := cfg.SQLitePath()
		if err != nil {
			return nil, err
		}
		if path != ":memory:" {
			if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
				return nil, err
			}
		}
		st, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	return nil, oops.Code("CONFIG_INVALID").
		With("key", "database.driver").
		Errorf("unsupported database driver %q", cfg.Database.Driver)
}

// newCodec builds the recovery phrase codec described by cfg.
func newCodec(cfg *config.Config, secrets secret.Generator) (*diceware.Codec, error) {
	var (
		wordlist *diceware.Wordlist
		err      error
	)
	if cfg.Recovery.Wordlist == "" {
		wordlist, err = diceware.DefaultWordlist()
	} else {
		wordlist, err = diceware.LoadWordlist(cfg.Recovery.Wordlist, cfg.Recovery.DieCount)
	}
	if err != nil {
		return nil, err
	}
	return diceware.NewCodec(wordlist, secrets, cfg.Recovery.WordCount)
}

// app is everything an auth command needs, opened from config.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   Store
	service *auth.Service
}

// openApp opens the store and builds the auth service. Callers must Close
// the result.
func (d *Deps) openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	secrets := d.secrets()

	codec, err := newCodec(cfg, secrets)
	if err != nil {
		return nil, err
	}
	hasher, err := auth.NewArgon2idHasher(cfg.Argon2Params(), secrets)
	if err != nil {
		return nil, err
	}

	st, err := d.storeFactory()(ctx, cfg)
	if err != nil {
		return nil, oops.Code("STORE_OPEN_FAILED").With("driver", cfg.Database.Driver).Wrap(err)
	}

	service, err := auth.NewService(st, secrets, codec, hasher,
		auth.WithLogger(logger),
		auth.WithReservedUsernames(cfg.Auth.ReservedUsernames...),
	)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, store: st, service: service}, nil
}

// Close releases the store.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("error closing store", "error", err)
	}
}
