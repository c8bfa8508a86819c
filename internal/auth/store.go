package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"mailview/internal/models"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("session not found")

// Store persists sessions between requests.
type Store interface {
	Load(ctx context.Context, id string) (*models.Session, error)
	Save(ctx context.Context, sess *models.Session) error
	Delete(ctx context.Context, id string) error
}

// sweeper is implemented by stores that cannot expire entries on their own.
type sweeper interface {
	Sweep(now time.Time) int
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]models.Session
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]models.Session), now: time.Now}
}

func (m *MemoryStore) Load(_ context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !sess.ExpiresAt.After(m.now()) {
		delete(m.sessions, id)
		return nil, ErrSessionNotFound
	}
	sess.Flashes = append([]models.Flash(nil), sess.Flashes...)
	return &sess, nil
}

func (m *MemoryStore) Save(_ context.Context, sess *models.Session) error {
	if sess == nil || sess.ID == "" {
		return errors.New("session id is required")
	}
	cp := *sess
	cp.Flashes = append([]models.Flash(nil), sess.Flashes...)
	m.mu.Lock()
	m.sessions[sess.ID] = cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

// Sweep drops expired sessions and returns how many were removed.
func (m *MemoryStore) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, sess := range m.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}
