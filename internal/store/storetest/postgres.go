// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

// Package storetest starts disposable PostgreSQL containers for integration
// tests.
package storetest

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/collectconnect/ccserver/internal/store"
)

// Postgres is a running, migrated database.
type Postgres struct {
	URL       string
	Pool      *pgxpool.Pool
	container *postgres.PostgresContainer
}

// StartPostgres runs a postgres:16-alpine container, applies the account
// migrations, and opens a pool.
func StartPostgres(ctx context.Context) (*Postgres, error) {
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("ccserver_test"),
		postgres.WithUsername("ccserver"),
		postgres.WithPassword("ccserver"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, oops.Code("TEST_DB_START_FAILED").Wrap(err)
	}

	pg := &Postgres{container: container}
	pg.URL, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		pg.Terminate(ctx)
		return nil, oops.Code("TEST_DB_START_FAILED").Wrap(err)
	}

	migrator, err := store.NewMigrator(pg.URL)
	if err != nil {
		pg.Terminate(ctx)
		return nil, err
	}
	defer migrator.Close() //nolint:errcheck // test cleanup
	if err := migrator.Up(); err != nil {
		pg.Terminate(ctx)
		return nil, err
	}

	pg.Pool, err = store.Connect(ctx, store.ConnectConfig{URL: pg.URL, Attempts: 5, Backoff: 200 * time.Millisecond})
	if err != nil {
		pg.Terminate(ctx)
		return nil, err
	}
	return pg, nil
}

// Reset deletes every account.
func (p *Postgres) Reset(ctx context.Context) error {
	_, err := p.Pool.Exec(ctx, `TRUNCATE accounts`)
	return err
}

// Terminate closes the pool and removes the container.
func (p *Postgres) Terminate(ctx context.Context) {
	if p.Pool != nil {
		p.Pool.Close()
	}
	if p.container != nil {
		_ = p.container.Terminate(ctx)
	}
}
