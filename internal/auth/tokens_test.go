package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"mailview/internal/config"
)

type mapTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*oauth2.Token
	writes int
}

func (m *mapTokenStore) Token(_ context.Context, id string) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *tok
	return &cp, nil
}

func (m *mapTokenStore) SetToken(_ context.Context, id string, tok *oauth2.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *tok
	m.tokens[id] = &cp
	m.writes++
	return nil
}

func newTokenServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		n := atomic.AddInt32(hits, 1)
		if r.PostForm.Get("grant_type") != "refresh_token" {
			http.Error(w, `{"error":"unsupported_grant_type"}`, http.StatusBadRequest)
			return
		}
		time.Sleep(20 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"fresh-%d","token_type":"Bearer","refresh_token":"rotated-%d","expires_in":3600}`, n, n)
	}))
}

func testProvider(authority string) *Provider {
	return NewProvider(config.OAuthConfig{
		ClientID:    "client",
		Authority:   authority,
		RedirectURL: "http://localhost/auth/callback",
		Scopes:      []string{"Mail.Read"},
	})
}

func TestTokenSourceReturnsValidTokenWithoutRefresh(t *testing.T) {
	var hits int32
	srv := newTokenServer(t, &hits)
	defer srv.Close()

	store := &mapTokenStore{tokens: map[string]*oauth2.Token{
		"u1": {AccessToken: "still-good", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)},
	}}
	tokens := NewTokens(testProvider(srv.URL), store, nil)
	ts, err := tokens.TokenSource(context.Background(), "u1")
	if err != nil {
		t.Fatalf("TokenSource: %v", err)
	}
	tok, err := ts.Token()
	if err != nil || tok.AccessToken != "still-good" {
		t.Fatalf("Token: %+v %v", tok, err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("valid token must not hit the token endpoint")
	}
}

func TestTokenSourceRefreshesAndPersists(t *testing.T) {
	var hits int32
	srv := newTokenServer(t, &hits)
	defer srv.Close()

	store := &mapTokenStore{tokens: map[string]*oauth2.Token{
		"u1": {AccessToken: "expired", RefreshToken: "r0", Expiry: time.Now().Add(-time.Minute)},
	}}
	tokens := NewTokens(testProvider(srv.URL), store, nil)
	ts, err := tokens.TokenSource(context.Background(), "u1")
	if err != nil {
		t.Fatalf("TokenSource: %v", err)
	}
	tok, err := ts.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if !strings.HasPrefix(tok.AccessToken, "fresh-") {
		t.Fatalf("expected refreshed token, got %+v", tok)
	}
	stored, _ := store.Token(context.Background(), "u1")
	if stored.AccessToken != tok.AccessToken || !strings.HasPrefix(stored.RefreshToken, "rotated-") {
		t.Fatalf("refreshed token not persisted: %+v", stored)
	}
}

func TestConcurrentRefreshesCollapse(t *testing.T) {
	var hits int32
	srv := newTokenServer(t, &hits)
	defer srv.Close()

	store := &mapTokenStore{tokens: map[string]*oauth2.Token{
		"u1": {AccessToken: "expired", RefreshToken: "r0", Expiry: time.Now().Add(-time.Minute)},
	}}
	tokens := NewTokens(testProvider(srv.URL), store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts, err := tokens.TokenSource(context.Background(), "u1")
			if err != nil {
				t.Errorf("TokenSource: %v", err)
				return
			}
			if _, err := ts.Token(); err != nil {
				t.Errorf("Token: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected exactly one refresh, got %d", got)
	}
}

func TestTokenSourceWithoutRefreshToken(t *testing.T) {
	store := &mapTokenStore{tokens: map[string]*oauth2.Token{
		"u1": {AccessToken: "expired", Expiry: time.Now().Add(-time.Minute)},
	}}
	tokens := NewTokens(testProvider("http://127.0.0.1:0"), store, nil)
	ts, err := tokens.TokenSource(context.Background(), "u1")
	if err != nil {
		t.Fatalf("TokenSource: %v", err)
	}
	if _, err := ts.Token(); err == nil {
		t.Fatalf("expected error without refresh token")
	}
	if _, err := tokens.TokenSource(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown user")
	}
}

func TestAuthCodeURL(t *testing.T) {
	p := NewProvider(config.OAuthConfig{
		ClientID:    "client",
		Tenant:      "contoso.onmicrosoft.com",
		RedirectURL: "http://localhost:3000/auth/callback",
		Scopes:      []string{"User.Read", "Mail.Read"},
	})
	u := p.AuthCodeURL("state-1")
	for _, want := range []string{
		"https://login.microsoftonline.com/contoso.onmicrosoft.com/oauth2/v2.0/authorize",
		"state=state-1",
		"client_id=client",
		"prompt=select_account",
	} {
		if !strings.Contains(u, want) {
			t.Fatalf("auth url %s missing %s", u, want)
		}
	}
	if _, err := p.Exchange(context.Background(), " "); err == nil {
		t.Fatalf("expected error for blank code")
	}

	gov := NewProvider(config.OAuthConfig{
		ClientID:  "client",
		Authority: "https://login.microsoftonline.us/",
	}).AuthCodeURL("state-2")
	if !strings.HasPrefix(gov, "https://login.microsoftonline.us/common/oauth2/v2.0/authorize?") {
		t.Fatalf("authority not applied: %s", gov)
	}
}

func TestRefreshSurvivesCanceledCaller(t *testing.T) {
	var hits int32
	srv := newTokenServer(t, &hits)
	defer srv.Close()

	store := &mapTokenStore{tokens: map[string]*oauth2.Token{
		"u1": {AccessToken: "expired", RefreshToken: "r0", Expiry: time.Now().Add(-time.Minute)},
	}}
	tokens := NewTokens(testProvider(srv.URL), store, nil)

	// the request that triggers a shared refresh may go away mid-call
	ctx, cancel := context.WithCancel(context.Background())
	ts, err := tokens.TokenSource(ctx, "u1")
	if err != nil {
		t.Fatalf("TokenSource: %v", err)
	}
	cancel()
	tok, err := ts.Token()
	if err != nil {
		t.Fatalf("refresh failed after caller canceled: %v", err)
	}
	if !strings.HasPrefix(tok.AccessToken, "fresh-") || atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("unexpected token %+v after %d hits", tok, hits)
	}
}
