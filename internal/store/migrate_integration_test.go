// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

//go:build integration

package store_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/collectconnect/ccserver/internal/store"
	"github.com/collectconnect/ccserver/internal/store/storetest"
)

var _ = Describe("Migrator", Ordered, func() {
	var (
		ctx      context.Context
		pg       *storetest.Postgres
		migrator *store.Migrator
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		pg, err = storetest.StartPostgres(ctx)
		Expect(err).NotTo(HaveOccurred())
		migrator, err = store.NewMigrator(pg.URL)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if migrator != nil {
			_ = migrator.Close()
		}
		if pg != nil {
			pg.Terminate(ctx)
		}
	})

	It("reports the schema as current", func() {
		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeNumerically(">=", 1))
		Expect(dirty).To(BeFalse())

		pending, err := migrator.PendingMigrations()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(BeEmpty())
	})

	It("enforces case-insensitive username uniqueness", func() {
		_, err := pg.Pool.Exec(ctx,
			`INSERT INTO accounts (id, username, device_fingerprint, recovery_key_hash) VALUES ('a', 'alice1', 'f', 'h')`)
		Expect(err).NotTo(HaveOccurred())
		_, err = pg.Pool.Exec(ctx,
			`INSERT INTO accounts (id, username, device_fingerprint, recovery_key_hash) VALUES ('b', 'ALICE1', 'f', 'h')`)
		Expect(err).To(HaveOccurred())
		Expect(pg.Reset(ctx)).To(Succeed())
	})

	It("rejects malformed usernames at the schema level", func() {
		_, err := pg.Pool.Exec(ctx,
			`INSERT INTO accounts (id, username, device_fingerprint, recovery_key_hash) VALUES ('c', 'x_1', 'f', 'h')`)
		Expect(err).To(HaveOccurred())
	})

	It("rolls back and reapplies", func() {
		Expect(migrator.Down()).To(Succeed())
		version, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())

		Expect(migrator.Up()).To(Succeed())
		pending, err := migrator.PendingMigrations()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(BeEmpty())
	})
})
