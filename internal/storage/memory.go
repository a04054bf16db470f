// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"sync"
	"time"

	"github.com/jeranaias/trisecure/internal/security"
)

// MemoryStore keeps identities in process memory. Used by tests and by the
// "memory" backend for throwaway sessions.
type MemoryStore struct {
	mu         sync.RWMutex
	identities map[string]*Identity       // by username
	ids        map[string]string          // ID -> username
	passkeys   map[string]string          // passkey -> username
	observed   map[string][]ObservedValue // by username
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		identities: make(map[string]*Identity),
		ids:        make(map[string]string),
		passkeys:   make(map[string]string),
		observed:   make(map[string][]ObservedValue),
	}
}

func (m *MemoryStore) FindIdentity(_ context.Context, username string) (*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.identities[username]
	if !ok {
		return nil, security.ErrNotFound
	}
	return cloneIdentity(id), nil
}

func (m *MemoryStore) FindByCredentials(ctx context.Context, username, secret string) (*Identity, error) {
	id, err := m.FindIdentity(ctx, username)
	if err != nil {
		return nil, err
	}
	if id.Secret != secret {
		return nil, security.ErrNotFound
	}
	return id, nil
}

func (m *MemoryStore) CreateIdentity(_ context.Context, id *Identity) error {
	if err := validateIdentity(id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.identities[id.Username]; exists {
		return security.ErrDuplicateIdentifier
	}
	if _, exists := m.ids[id.ID]; exists {
		return security.ErrDuplicateIdentifier
	}

	cp := cloneIdentity(id)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.Typing = nil
	cp.Passkey = nil
	m.identities[id.Username] = cp
	m.ids[id.ID] = id.Username
	return nil
}

func (m *MemoryStore) IdentityIDExists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ids[id]
	return ok, nil
}

func (m *MemoryStore) SetTypingProfile(_ context.Context, username string, p TypingProfile) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.identities[username]
	if !ok {
		return false, security.ErrNotFound
	}
	if id.Typing.Recorded() {
		return false, nil
	}
	id.Typing = &TypingProfile{
		BaselineWPM:       p.BaselineWPM,
		BaselineIntervals: append([]int64{}, p.BaselineIntervals...),
	}
	return true, nil
}

func (m *MemoryStore) SetPasskeyProfile(_ context.Context, username string, p PasskeyProfile) error {
	if err := validatePasskeyProfile(p); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.identities[username]
	if !ok {
		return security.ErrNotFound
	}
	if owner, taken := m.passkeys[p.Passkey]; taken && owner != username {
		return security.ErrDuplicatePasskey
	}
	if id.Passkey != nil {
		return security.ErrDuplicatePasskey
	}
	id.Passkey = clonePasskey(&p)
	m.passkeys[p.Passkey] = username
	return nil
}

func (m *MemoryStore) PasskeyExists(_ context.Context, candidate string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.passkeys[candidate]
	return ok, nil
}

func (m *MemoryStore) RecordObservedValues(_ context.Context, username string, values []ObservedValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.identities[username]; !ok {
		return security.ErrNotFound
	}
	m.observed[username] = append([]ObservedValue{}, values...)
	return nil
}

// ObservedValues returns the last observed-value record for a user.
func (m *MemoryStore) ObservedValues(username string) []ObservedValue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ObservedValue(nil), m.observed[username]...)
}

func (m *MemoryStore) Close() error { return nil }

func cloneIdentity(id *Identity) *Identity {
	cp := *id
	if id.Typing != nil {
		t := *id.Typing
		t.BaselineIntervals = append([]int64{}, id.Typing.BaselineIntervals...)
		cp.Typing = &t
	}
	cp.Passkey = clonePasskey(id.Passkey)
	return &cp
}

func clonePasskey(p *PasskeyProfile) *PasskeyProfile {
	if p == nil {
		return nil
	}
	cp := &PasskeyProfile{
		Passkey:  p.Passkey,
		Sequence: append([]string{}, p.Sequence...),
		Values:   make(map[string]int, len(p.Values)),
	}
	for k, v := range p.Values {
		cp.Values[k] = v
	}
	return cp
}
