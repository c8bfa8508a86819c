// Package graph is a small Microsoft Graph client covering the mail and
// profile endpoints the app reads.
package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"mailview/internal/models"
)

const (
	listSelect   = "id,subject,from,receivedDateTime,bodyPreview,isRead,importance,hasAttachments,webLink"
	detailSelect = "id,subject,from,toRecipients,receivedDateTime,sentDateTime,body,bodyPreview,isRead,importance,hasAttachments,webLink"
	meSelect     = "id,displayName,mail,userPrincipalName,mailboxSettings"
)

// Profile is the signed-in user as reported by /me.
type Profile struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	MailboxSettings   struct {
		TimeZone string `json:"timeZone"`
	} `json:"mailboxSettings"`
}

// Email prefers the mail attribute; personal accounts only have the UPN.
func (p *Profile) Email() string {
	if p.Mail != "" {
		return p.Mail
	}
	return p.UserPrincipalName
}

// Client issues authenticated Graph requests.
type Client struct {
	baseURL  string
	pageSize int
	base     http.RoundTripper
	timeout  time.Duration
}

// NewClient builds a client. A nil transport uses http.DefaultTransport.
func NewClient(baseURL string, pageSize int, transport http.RoundTripper) *Client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		pageSize: pageSize,
		base:     transport,
		timeout:  30 * time.Second,
	}
}

// ListMessages returns the messages received in [start, end), newest first.
func (c *Client) ListMessages(ctx context.Context, ts oauth2.TokenSource, start, end time.Time, windowsTZ string) (*models.MessageCollection, error) {
	if !end.After(start) {
		return nil, errors.New("graph: window end must be after start")
	}
	q := url.Values{}
	q.Set("$select", listSelect)
	q.Set("$filter", fmt.Sprintf("receivedDateTime ge %s and receivedDateTime lt %s",
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339)))
	q.Set("$orderby", "receivedDateTime desc")
	q.Set("$top", fmt.Sprint(c.pageSize))

	var out models.MessageCollection
	if err := c.get(ctx, ts, "/me/messages", q, preferHeaders(windowsTZ, false), &out); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if out.Value == nil {
		out.Value = []models.Message{}
	}
	return &out, nil
}

// GetMessage fetches a single message including its HTML body.
func (c *Client) GetMessage(ctx context.Context, ts oauth2.TokenSource, id, windowsTZ string) (*models.Message, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("graph: message id is required")
	}
	q := url.Values{}
	q.Set("$select", detailSelect)

	var out models.Message
	path := "/me/messages/" + url.PathEscape(id)
	if err := c.get(ctx, ts, path, q, preferHeaders(windowsTZ, true), &out); err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &out, nil
}

// Me returns the profile and mailbox time zone of the token's owner.
func (c *Client) Me(ctx context.Context, ts oauth2.TokenSource) (*Profile, error) {
	q := url.Values{}
	q.Set("$select", meSelect)
	var out Profile
	if err := c.get(ctx, ts, "/me", q, nil, &out); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &out, nil
}

func preferHeaders(windowsTZ string, htmlBody bool) []string {
	var prefer []string
	if windowsTZ != "" {
		prefer = append(prefer, fmt.Sprintf("outlook.timezone=%q", windowsTZ))
	}
	if htmlBody {
		prefer = append(prefer, `outlook.body-content-type="html"`)
	}
	return prefer
}

func (c *Client) get(ctx context.Context, ts oauth2.TokenSource, path string, q url.Values, prefer []string, out interface{}) error {
	if ts == nil {
		return errors.New("graph: token source required")
	}
	endpoint := c.baseURL + path
	if len(q) > 0 {
		// OData wants %20, not +, between filter terms.
		endpoint += "?" + strings.ReplaceAll(q.Encode(), "+", "%20")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	for _, p := range prefer {
		req.Header.Add("Prefer", p)
	}

	httpClient := &http.Client{
		Transport: &oauth2.Transport{Source: ts, Base: c.base},
		Timeout:   c.timeout,
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
