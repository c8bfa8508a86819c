// Package directory stores signed-in users and their OAuth tokens.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"mailview/internal/models"
)

// ErrNotFound is returned for unknown user ids.
var ErrNotFound = errors.New("user not found")

// Directory is the user lookup the mail handlers depend on.
type Directory interface {
	Get(ctx context.Context, id string) (*models.User, error)
	Put(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
	Token(ctx context.Context, id string) (*oauth2.Token, error)
	SetToken(ctx context.Context, id string, tok *oauth2.Token) error
}

func validateUser(user *models.User) error {
	if user == nil {
		return errors.New("user is required")
	}
	user.ID = strings.TrimSpace(user.ID)
	if user.ID == "" {
		return errors.New("user id is required")
	}
	return nil
}

// sealToken encodes the token as JSON and encrypts it.
func sealToken(c *TokenCipher, tok *oauth2.Token) (string, error) {
	if tok == nil {
		return "", errors.New("token is required")
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return "", fmt.Errorf("encode token: %w", err)
	}
	return c.Encrypt(string(raw))
}

// openToken reverses sealToken. Rows written as plain JSON before
// encryption was enabled are accepted as-is.
func openToken(c *TokenCipher, stored string) (*oauth2.Token, error) {
	plain, err := c.Decrypt(stored)
	if err != nil {
		if !errors.Is(err, errInvalidCiphertext) || !strings.HasPrefix(strings.TrimSpace(stored), "{") {
			return nil, fmt.Errorf("decrypt token: %w", err)
		}
		plain = stored
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(plain), &tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &tok, nil
}
