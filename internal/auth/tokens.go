package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// TokenStore is where per-user OAuth tokens live.
type TokenStore interface {
	Token(ctx context.Context, id string) (*oauth2.Token, error)
	SetToken(ctx context.Context, id string, tok *oauth2.Token) error
}

// Tokens hands out token sources that write refreshed tokens back to the
// store. Concurrent refreshes for one user share a single refresh call.
type Tokens struct {
	provider *Provider
	store    TokenStore
	group    singleflight.Group
	logger   *zap.Logger
}

// NewTokens builds token sources backed by store that refresh through provider.
func NewTokens(provider *Provider, store TokenStore, logger *zap.Logger) *Tokens {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tokens{provider: provider, store: store, logger: logger}
}

// TokenSource returns a source for userID bound to ctx.
func (t *Tokens) TokenSource(ctx context.Context, userID string) (oauth2.TokenSource, error) {
	tok, err := t.store.Token(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	return &persistingSource{ctx: ctx, userID: userID, tokens: t, current: tok}, nil
}

type persistingSource struct {
	ctx    context.Context
	userID string
	tokens *Tokens

	mu      sync.Mutex
	current *oauth2.Token
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.Valid() {
		return s.current, nil
	}
	v, err, _ := s.tokens.group.Do(s.userID, func() (interface{}, error) {
		// followers share this call; the leader's cancellation must not fail them
		return s.tokens.refresh(context.WithoutCancel(s.ctx), s.userID, s.current)
	})
	if err != nil {
		return nil, err
	}
	s.current = v.(*oauth2.Token)
	return s.current, nil
}

func (t *Tokens) refresh(ctx context.Context, userID string, stale *oauth2.Token) (*oauth2.Token, error) {
	// Another request may have refreshed since this source was created.
	base := stale
	if stored, err := t.store.Token(ctx, userID); err == nil {
		if stored.Valid() {
			return stored, nil
		}
		base = stored
	}
	if base == nil || base.RefreshToken == "" {
		return nil, errors.New("token expired and no refresh token available")
	}
	fresh, err := t.provider.refresh(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if err := t.store.SetToken(ctx, userID, fresh); err != nil {
		t.logger.Warn("persist refreshed token", zap.String("user_id", userID), zap.Error(err))
	}
	t.logger.Debug("refreshed access token", zap.String("user_id", userID))
	return fresh, nil
}
