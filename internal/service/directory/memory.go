package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"mailview/internal/models"
)

type memoryEntry struct {
	user  models.User
	token string
}

// Memory is a process-local Directory keyed by user id.
type Memory struct {
	mu     sync.RWMutex
	users  map[string]*memoryEntry
	cipher *TokenCipher
}

// NewMemory builds an empty in-memory directory.
func NewMemory(cipher *TokenCipher) *Memory {
	return &Memory{users: make(map[string]*memoryEntry), cipher: cipher}
}

func (m *Memory) Get(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	u := e.user
	return &u, nil
}

// Put inserts or replaces the user's profile, keeping any stored token.
func (m *Memory) Put(_ context.Context, user *models.User) error {
	if err := validateUser(user); err != nil {
		return err
	}
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.users[user.ID]
	if !ok {
		e = &memoryEntry{}
		m.users[user.ID] = e
		user.CreatedAt = now
	} else {
		user.CreatedAt = e.user.CreatedAt
	}
	user.UpdatedAt = now
	e.user = *user
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *Memory) Token(_ context.Context, id string) (*oauth2.Token, error) {
	m.mu.RLock()
	e, ok := m.users[id]
	var stored string
	if ok {
		stored = e.token
	}
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if stored == "" {
		return nil, fmt.Errorf("no token stored for %s", id)
	}
	return openToken(m.cipher, stored)
}

func (m *Memory) SetToken(_ context.Context, id string, tok *oauth2.Token) error {
	sealed, err := sealToken(m.cipher, tok)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	e.token = sealed
	return nil
}
