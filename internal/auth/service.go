package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailview/internal/models"
)

// DefaultSweepInterval is used when StartSweeper gets a non-positive interval.
const DefaultSweepInterval = 10 * time.Minute

// Service issues, loads, and revokes browser sessions and their flashes.
type Service struct {
	store          Store
	ttl            time.Duration
	cookieName     string
	csrfHeaderName string
	csrfFieldName  string
	logger         *zap.Logger
	now            func() time.Time
}

// NewService constructs a session service with the supplied lifetime.
func NewService(store Store, ttl time.Duration, logger *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:          store,
		ttl:            ttl,
		cookieName:     "mailview_session",
		csrfHeaderName: "X-CSRF-Token",
		csrfFieldName:  "_csrf",
		logger:         logger,
		now:            time.Now,
	}
}

// IssueSession creates and stores a new anonymous session.
func (s *Service) IssueSession(ctx context.Context) (*models.Session, error) {
	id, err := generateToken()
	if err != nil {
		return nil, err
	}
	csrf, err := generateToken()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	sess := &models.Session{
		ID:        id,
		CSRFToken: csrf,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	return sess, nil
}

// Lookup returns the session for id or ErrSessionNotFound.
func (s *Service) Lookup(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}
	sess, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.ExpiresAt.After(s.now()) {
		_ = s.store.Delete(ctx, id)
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Save writes the session back and slides its expiry forward.
func (s *Service) Save(ctx context.Context, sess *models.Session) error {
	if sess == nil {
		return errors.New("session is required")
	}
	sess.ExpiresAt = s.now().UTC().Add(s.ttl)
	return s.store.Save(ctx, sess)
}

// BindUser attaches userID to the session under a fresh id and CSRF token,
// so an id planted before sign-in is useless afterwards.
func (s *Service) BindUser(ctx context.Context, sess *models.Session, userID string) error {
	if sess == nil {
		return errors.New("session is required")
	}
	if userID == "" {
		return errors.New("user id is required")
	}
	oldID := sess.ID
	id, err := generateToken()
	if err != nil {
		return err
	}
	csrf, err := generateToken()
	if err != nil {
		return err
	}
	sess.ID = id
	sess.CSRFToken = csrf
	sess.UserID = userID
	sess.OAuthState = ""
	if err := s.Save(ctx, sess); err != nil {
		return fmt.Errorf("bind session: %w", err)
	}
	if oldID != "" {
		if err := s.store.Delete(ctx, oldID); err != nil {
			s.logger.Warn("delete pre-auth session", zap.Error(err))
		}
	}
	return nil
}

// Revoke deletes the session.
func (s *Service) Revoke(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// AddFlash queues a notification for the next rendered page.
func (s *Service) AddFlash(ctx context.Context, sess *models.Session, flash models.Flash) error {
	if sess == nil {
		return errors.New("session is required")
	}
	if flash.Kind == "" {
		flash.Kind = models.FlashError
	}
	sess.Flashes = append(sess.Flashes, flash)
	return s.Save(ctx, sess)
}

// PopFlashes returns and clears the queued notifications.
func (s *Service) PopFlashes(ctx context.Context, sess *models.Session) []models.Flash {
	if sess == nil || len(sess.Flashes) == 0 {
		return nil
	}
	flashes := sess.Flashes
	sess.Flashes = nil
	if err := s.Save(ctx, sess); err != nil {
		s.logger.Warn("clear flashes", zap.String("session", shortID(sess.ID)), zap.Error(err))
	}
	return flashes
}

// StartSweeper periodically drops expired sessions from stores that do not
// expire entries themselves. It returns immediately for other stores.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	sw, ok := s.store.(sweeper)
	if !ok {
		return
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go s.sweepLoop(ctx, sw, interval)
}

func (s *Service) sweepLoop(ctx context.Context, sw sweeper, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sw.Sweep(s.now()); n > 0 {
				s.logger.Debug("swept expired sessions", zap.Int("count", n))
			}
		}
	}
}

// CookieName returns the cookie name carrying the session id.
func (s *Service) CookieName() string {
	return s.cookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// CSRFFieldName returns the form field carrying the CSRF token.
func (s *Service) CSRFFieldName() string {
	return s.csrfFieldName
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
