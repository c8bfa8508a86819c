package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"mailview/internal/config"
)

// Provider is the Microsoft identity platform authorization-code client.
type Provider struct {
	cfg *oauth2.Config
}

// NewProvider targets the v2.0 endpoint of the configured tenant. A non-empty
// Authority replaces the public-cloud login host, e.g. for national clouds.
func NewProvider(c config.OAuthConfig) *Provider {
	tenant := c.Tenant
	if tenant == "" {
		tenant = "common"
	}
	endpoint := microsoft.AzureADEndpoint(tenant)
	if authority := strings.TrimRight(c.Authority, "/"); authority != "" {
		endpoint = oauth2.Endpoint{
			AuthURL:  authority + "/" + tenant + "/oauth2/v2.0/authorize",
			TokenURL: authority + "/" + tenant + "/oauth2/v2.0/token",
		}
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	return &Provider{cfg: &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       append([]string(nil), c.Scopes...),
		Endpoint:     endpoint,
	}}
}

// AuthCodeURL is the sign-in redirect target for state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// Exchange trades an authorization code for tokens.
func (p *Provider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.New("authorization code is required")
	}
	tok, err := p.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return tok, nil
}

// refresh returns tok if still valid, otherwise redeems its refresh token.
func (p *Provider) refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	return p.cfg.TokenSource(ctx, tok).Token()
}
