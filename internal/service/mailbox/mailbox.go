// Package mailbox answers the two inbox questions: what arrived this week,
// and what does a given message say.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"mailview/internal/models"
	"mailview/internal/service/directory"
	"mailview/internal/timezone"
)

// ErrUnknownUser is returned when the session's user is not in the directory.
var ErrUnknownUser = errors.New("unknown user")

// MailAPI is the subset of the Graph client used here.
type MailAPI interface {
	ListMessages(ctx context.Context, ts oauth2.TokenSource, start, end time.Time, windowsTZ string) (*models.MessageCollection, error)
	GetMessage(ctx context.Context, ts oauth2.TokenSource, id, windowsTZ string) (*models.Message, error)
}

// TokenSources yields an authenticated token source per user.
type TokenSources interface {
	TokenSource(ctx context.Context, userID string) (oauth2.TokenSource, error)
}

// Inbox is the result of ListWeek.
type Inbox struct {
	User     *models.User
	Window   models.Window
	Messages []models.Message
}

// Service resolves a user's week and reads their mailbox through Graph.
type Service struct {
	users  directory.Directory
	mail   MailAPI
	tokens TokenSources
	logger *zap.Logger
	now    func() time.Time
}

// NewService wires the directory, mail API and token sources. A nil logger
// discards output.
func NewService(users directory.Directory, mail MailAPI, tokens TokenSources, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{users: users, mail: mail, tokens: tokens, logger: logger, now: time.Now}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Week resolves the user's zone and returns the calendar week containing now.
// An unresolvable zone falls back to UTC.
func (s *Service) Week(ctx context.Context, userID string) (*models.User, models.Window, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, models.Window{}, err
	}
	loc, err := timezone.Resolve(user.TimeZone)
	if err != nil {
		s.logger.Warn("falling back to UTC", zap.String("user_id", user.ID), zap.String("time_zone", user.TimeZone), zap.Error(err))
		loc = time.UTC
	}
	s.logger.Debug("time zone", zap.String("user_id", user.ID), zap.String("windows", user.TimeZone), zap.String("iana", loc.String()))

	window := timezone.WeekOf(s.now(), loc)
	s.logger.Debug("week window", zap.Time("start", window.Start), zap.Time("end", window.End))
	return user, window, nil
}

// ListWeek fetches the messages received during the user's current week.
func (s *Service) ListWeek(ctx context.Context, userID string) (*Inbox, error) {
	user, window, err := s.Week(ctx, userID)
	if err != nil {
		return nil, err
	}
	ts, err := s.tokens.TokenSource(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	page, err := s.mail.ListMessages(ctx, ts, window.Start, window.End, user.TimeZone)
	if err != nil {
		return nil, err
	}
	return &Inbox{User: user, Window: window, Messages: page.Value}, nil
}

// Details fetches one message by its Graph id.
func (s *Service) Details(ctx context.Context, userID, messageID string) (*models.Message, error) {
	if messageID == "" {
		return nil, errors.New("message id is required")
	}
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	ts, err := s.tokens.TokenSource(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return s.mail.GetMessage(ctx, ts, messageID, user.TimeZone)
}

func (s *Service) user(ctx context.Context, userID string) (*models.User, error) {
	if userID == "" {
		return nil, ErrUnknownUser
	}
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
		}
		return nil, err
	}
	return user, nil
}
