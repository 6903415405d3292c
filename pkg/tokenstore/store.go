// Package tokenstore owns the persisted session credential.
//
// Every backend holds at most one credential pair. Readers must call Get on every
// use instead of keeping a copy around, so that a Clear issued by another caller is
// always observed.
package tokenstore

import (
	"strings"
	"sync"
)

// Credential is the bearer access token plus an optional refresh token.
type Credential struct {
	AccessToken  string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Empty reports whether the credential carries no access token.
func (c Credential) Empty() bool {
	return strings.TrimSpace(c.AccessToken) == ""
}

// Store persists, returns and invalidates the session credential.
type Store interface {
	// Get returns the stored credential, or ok=false when none is stored.
	Get() (cred Credential, ok bool, err error)
	// Set overwrites any existing credential.
	Set(Credential) error
	// Clear removes the stored credential. Clearing an empty store is not an error.
	Clear() error
}

// MemoryStore keeps the credential in-process. Used by tests and short-lived tools.
type MemoryStore struct {
	mu   sync.RWMutex
	cred Credential
	set  bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Get() (Credential, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cred, m.set, nil
}

func (m *MemoryStore) Set(c Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = c
	m.set = !c.Empty()
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = Credential{}
	m.set = false
	return nil
}
