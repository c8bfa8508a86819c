package models

import "time"

// Flash kinds rendered by the layout template.
const (
	FlashError = "error_msg"
	FlashInfo  = "info_msg"
)

// Flash is a one-shot notification shown on the next rendered page.
type Flash struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Debug   string `json:"debug,omitempty"`
}

// Session is the server-side state behind the session cookie.
type Session struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	CSRFToken  string    `json:"csrf_token"`
	OAuthState string    `json:"oauth_state,omitempty"`
	Flashes    []Flash   `json:"flashes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Authenticated reports whether a user is bound to the session.
func (s *Session) Authenticated() bool {
	return s != nil && s.UserID != ""
}
