// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

//go:build integration

package auth_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/collectconnect/ccserver/internal/auth"
	"github.com/collectconnect/ccserver/internal/auth/sqlite"
)

var _ = Describe("Account lifecycle on PostgreSQL", func() {
	var (
		ctx     context.Context
		service *auth.Service
		store   *postgresStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		svc, st := newPostgresService(ctx)
		service = svc
		store = &postgresStore{st}
	})

	It("registers, logs in, recovers and rotates", func() {
		reg, err := service.Register(ctx, "alice1", "phone-a")
		Expect(err).NotTo(HaveOccurred())
		Expect(reg.SessionKey).To(HaveLen(auth.SessionKeyLength))
		Expect(strings.Fields(reg.RecoveryPhrase)).To(HaveLen(6))

		stored := store.find(ctx, "ALICE1")
		Expect(stored.SessionKeyHash).To(Equal(auth.HashSessionKey(reg.SessionKey)))
		Expect(stored.DeviceFingerprint).To(Equal(auth.HashDeviceID("phone-a")))
		Expect(stored.RecoveryKeyHash).NotTo(ContainSubstring(reg.RecoveryPhrase))

		acct, err := service.RequireSession(ctx, "alice1", reg.SessionKey)
		Expect(err).NotTo(HaveOccurred())
		Expect(acct.ID).To(Equal(reg.Account.ID))

		key, err := service.Login(ctx, "alice1", "phone-a")
		Expect(err).NotTo(HaveOccurred())
		_, err = service.RequireSession(ctx, "alice1", reg.SessionKey)
		Expect(err).To(MatchError(auth.KindInvalidSession))

		Expect(service.RecoverDevice(ctx, "alice1", "phone-b", strings.ToUpper(reg.RecoveryPhrase))).To(Succeed())
		after := store.find(ctx, "alice1")
		Expect(after.SessionKeyHash).To(BeEmpty())
		Expect(after.RecoveryKeyHash).To(Equal(stored.RecoveryKeyHash))
		_, err = service.RequireSession(ctx, "alice1", key)
		Expect(err).To(MatchError(auth.KindInvalidSession))

		key, err = service.Login(ctx, "alice1", "phone-b")
		Expect(err).NotTo(HaveOccurred())

		reset, err := service.ResetRecoveryKey(ctx, "alice1", "phone-b", key)
		Expect(err).NotTo(HaveOccurred())
		Expect(reset.RecoveryPhrase).NotTo(Equal(reg.RecoveryPhrase))
		Expect(store.find(ctx, "alice1").RecoveryKeyHash).NotTo(Equal(stored.RecoveryKeyHash))

		Expect(service.Logout(ctx, "alice1", reset.SessionKey)).To(Succeed())
		Expect(store.find(ctx, "alice1").HasSession()).To(BeFalse())
	})

	It("rejects a second registration in a different case", func() {
		_, err := service.Register(ctx, "alice1", "phone-a")
		Expect(err).NotTo(HaveOccurred())

		_, err = service.Register(ctx, "ALICE1", "phone-b")
		Expect(err).To(MatchError(auth.KindDuplicateAccount))
	})

	It("lets exactly one concurrent registration win", func() {
		const n = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			dupes     int
		)
		for i := range n {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				name := "racer1"
				if i%2 == 1 {
					name = "RACER1"
				}
				_, err := service.Register(ctx, name, "phone")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case auth.KindOf(err) == auth.KindDuplicateAccount:
					dupes++
				default:
					Fail("unexpected error: " + err.Error())
				}
			}()
		}
		wg.Wait()

		Expect(successes).To(Equal(1))
		Expect(dupes).To(Equal(n - 1))
	})

	It("keeps only the last of concurrent logins valid", func() {
		_, err := service.Register(ctx, "alice1", "phone-a")
		Expect(err).NotTo(HaveOccurred())

		const n = 8
		keys := make([]string, n)
		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				key, err := service.Login(ctx, "alice1", "phone-a")
				Expect(err).NotTo(HaveOccurred())
				keys[i] = key
			}()
		}
		wg.Wait()

		valid := 0
		for _, key := range keys {
			if _, err := service.RequireSession(ctx, "alice1", key); err == nil {
				valid++
			}
		}
		Expect(valid).To(Equal(1))
	})

	It("does not let a stale logout clear a newer session", func() {
		reg, err := service.Register(ctx, "alice1", "phone-a")
		Expect(err).NotTo(HaveOccurred())
		newer, err := service.Login(ctx, "alice1", "phone-a")
		Expect(err).NotTo(HaveOccurred())

		Expect(service.Logout(ctx, "alice1", reg.SessionKey)).To(MatchError(auth.KindInvalidSession))

		_, err = service.RequireSession(ctx, "alice1", newer)
		Expect(err).NotTo(HaveOccurred())
	})

	It("gives the same public message for unknown users and wrong credentials", func() {
		_, err := service.Register(ctx, "alice1", "phone-a")
		Expect(err).NotTo(HaveOccurred())

		_, unknown := service.Login(ctx, "nobody1", "phone-a")
		_, mismatch := service.Login(ctx, "alice1", "phone-z")
		recoverErr := service.RecoverDevice(ctx, "alice1", "phone-z", "wrong words entirely")

		Expect(auth.PublicMessage(unknown)).To(Equal(auth.PublicMessage(mismatch)))
		Expect(auth.PublicMessage(unknown)).To(Equal(auth.PublicMessage(recoverErr)))
	})
})

var _ = Describe("Account lifecycle on SQLite", func() {
	It("survives reopening the database", func() {
		ctx := context.Background()
		path := filepath.Join(GinkgoT().TempDir(), "accounts.db")

		st, err := sqlite.Open(ctx, path)
		Expect(err).NotTo(HaveOccurred())
		reg, err := newService(st).Register(ctx, "alice1", "phone-a")
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Close()).To(Succeed())

		st, err = sqlite.Open(ctx, path)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(st.Close)
		service := newService(st)

		_, err = service.RequireSession(ctx, "alice1", reg.SessionKey)
		Expect(err).NotTo(HaveOccurred())
		Expect(service.RecoverDevice(ctx, "alice1", "phone-b", reg.RecoveryPhrase)).To(Succeed())
	})
})

// postgresStore reads accounts for assertions.
type postgresStore struct {
	auth.CredentialStore
}

func (s *postgresStore) find(ctx context.Context, username string) *auth.Account {
	acct, err := s.Find(ctx, username)
	Expect(err).NotTo(HaveOccurred())
	return acct
}
