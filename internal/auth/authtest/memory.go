// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

// Package authtest provides in-memory collaborators for testing code that
// depends on package auth.
package authtest

import (
	"context"
	"strings"
	"sync"

	"github.com/samber/oops"

	"github.com/collectconnect/ccserver/internal/auth"
)

// MemoryStore is a mutex-guarded auth.CredentialStore.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*auth.Account

	// Err, when set, is returned by every call.
	Err error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*auth.Account)}
}

func key(username string) string {
	return strings.ToLower(username)
}

// Find implements auth.CredentialStore.
func (m *MemoryStore) Find(_ context.Context, username string) (*auth.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	acct, ok := m.accounts[key(username)]
	if !ok {
		return nil, oops.With("username", username).Wrap(auth.ErrNotFound)
	}
	clone := *acct
	return &clone, nil
}

// Create implements auth.CredentialStore.
func (m *MemoryStore) Create(_ context.Context, acct *auth.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	k := key(acct.Username)
	if _, exists := m.accounts[k]; exists {
		return oops.With("username", acct.Username).Wrap(auth.ErrAlreadyExists)
	}
	clone := *acct
	m.accounts[k] = &clone
	return nil
}

// Update implements auth.CredentialStore.
func (m *MemoryStore) Update(_ context.Context, username string, update auth.AccountUpdate) error {
	if update.IsEmpty() {
		return oops.With("username", username).Wrap(auth.ErrEmptyUpdate)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	acct, ok := m.accounts[key(username)]
	if !ok {
		return oops.With("username", username).Wrap(auth.ErrNotFound)
	}
	if !update.Matches(acct) {
		return oops.With("username", username).Wrap(auth.ErrConflict)
	}
	update.Apply(acct)
	return nil
}

// Snapshot returns a copy of the stored account, or nil.
func (m *MemoryStore) Snapshot(username string) *auth.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[key(username)]
	if !ok {
		return nil
	}
	clone := *acct
	return &clone
}

// Len returns the number of stored accounts.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}

var _ auth.CredentialStore = (*MemoryStore)(nil)
