package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"mailview/internal/models"
)

func newTestService(ttl time.Duration) (*Service, *MemoryStore) {
	store := NewMemoryStore()
	return NewService(store, ttl, nil), store
}

func TestSessionIssueLookupRevoke(t *testing.T) {
	svc, _ := newTestService(time.Hour)
	ctx := context.Background()

	sess, err := svc.IssueSession(ctx)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if len(sess.ID) != 64 || sess.CSRFToken == "" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if sess.Authenticated() {
		t.Fatalf("new session must be anonymous")
	}
	got, err := svc.Lookup(ctx, sess.ID)
	if err != nil || got.ID != sess.ID {
		t.Fatalf("Lookup failed: %+v %v", got, err)
	}
	if err := svc.Revoke(ctx, sess.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := svc.Lookup(ctx, sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after revoke, got %v", err)
	}
	if _, err := svc.Lookup(ctx, ""); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for empty id, got %v", err)
	}
}

func TestSessionExpires(t *testing.T) {
	svc, store := newTestService(time.Minute)
	ctx := context.Background()
	sess, err := svc.IssueSession(ctx)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	later := time.Now().Add(2 * time.Minute)
	svc.now = func() time.Time { return later }
	store.now = func() time.Time { return later }
	if _, err := svc.Lookup(ctx, sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected expired session, got %v", err)
	}
	if sessionCount(store) != 0 {
		t.Fatalf("expired session not purged")
	}
}

func TestBindUserRotatesID(t *testing.T) {
	svc, _ := newTestService(time.Hour)
	ctx := context.Background()
	sess, _ := svc.IssueSession(ctx)
	oldID, oldCSRF := sess.ID, sess.CSRFToken
	sess.OAuthState = "state"

	if err := svc.BindUser(ctx, sess, "user-1"); err != nil {
		t.Fatalf("BindUser: %v", err)
	}
	if sess.ID == oldID || sess.CSRFToken == oldCSRF {
		t.Fatalf("session id and csrf token must rotate")
	}
	if sess.OAuthState != "" {
		t.Fatalf("oauth state must be cleared")
	}
	if _, err := svc.Lookup(ctx, oldID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("old session id still valid: %v", err)
	}
	got, err := svc.Lookup(ctx, sess.ID)
	if err != nil || got.UserID != "user-1" {
		t.Fatalf("bound session lookup: %+v %v", got, err)
	}
	if err := svc.BindUser(ctx, sess, ""); err == nil {
		t.Fatalf("expected error for empty user id")
	}
}

func TestFlashesArePoppedOnce(t *testing.T) {
	svc, _ := newTestService(time.Hour)
	ctx := context.Background()
	sess, _ := svc.IssueSession(ctx)

	if err := svc.AddFlash(ctx, sess, models.Flash{Message: "Could not fetch messages", Debug: `{"error":"boom"}`}); err != nil {
		t.Fatalf("AddFlash: %v", err)
	}
	reloaded, err := svc.Lookup(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	flashes := svc.PopFlashes(ctx, reloaded)
	if len(flashes) != 1 || flashes[0].Kind != models.FlashError || flashes[0].Debug == "" {
		t.Fatalf("unexpected flashes %+v", flashes)
	}
	again, _ := svc.Lookup(ctx, sess.ID)
	if got := svc.PopFlashes(ctx, again); len(got) != 0 {
		t.Fatalf("flashes must be cleared after pop, got %+v", got)
	}
}

func TestMemoryStoreIsolatesCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	sess := &models.Session{ID: "s1", ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}
	sess.UserID = "mutated"
	got, _ := store.Load(ctx, "s1")
	if got.UserID != "" {
		t.Fatalf("store shares memory with caller")
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	_ = store.Save(ctx, &models.Session{ID: "old", ExpiresAt: now.Add(-time.Minute)})
	_ = store.Save(ctx, &models.Session{ID: "live", ExpiresAt: now.Add(time.Hour)})
	if n := store.Sweep(now); n != 1 {
		t.Fatalf("expected 1 swept, got %d", n)
	}
	if sessionCount(store) != 1 {
		t.Fatalf("expected 1 remaining, got %d", sessionCount(store))
	}
}

func TestStartSweeperStopsWithContext(t *testing.T) {
	svc, store := newTestService(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	_ = store.Save(ctx, &models.Session{ID: "old", ExpiresAt: time.Now().Add(-time.Minute)})
	svc.StartSweeper(ctx, 5*time.Millisecond)
	deadline := time.Now().Add(time.Second)
	for sessionCount(store) != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if sessionCount(store) != 0 {
		t.Fatalf("sweeper did not remove expired session")
	}
}

func sessionCount(store *MemoryStore) int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.sessions)
}
