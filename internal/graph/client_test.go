package graph

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func staticToken() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "access-123", TokenType: "Bearer"})
}

func TestListMessagesBuildsQuery(t *testing.T) {
	var gotReq *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = r.Clone(context.Background())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":[{"id":"m1","subject":"Hello","bodyPreview":"hi there","receivedDateTime":"2024-01-08T17:00:00Z","from":{"emailAddress":{"name":"Ann","address":"ann@example.com"}}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/v1.0/", 25, nil)
	start := time.Date(2024, time.January, 7, 8, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)
	out, err := c.ListMessages(context.Background(), staticToken(), start, end, "Pacific Standard Time")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(out.Value) != 1 || out.Value[0].Subject != "Hello" {
		t.Fatalf("unexpected messages %+v", out.Value)
	}
	if out.Value[0].From == nil || out.Value[0].From.EmailAddress.Address != "ann@example.com" {
		t.Fatalf("sender not decoded: %+v", out.Value[0].From)
	}

	if gotReq.URL.Path != "/v1.0/me/messages" {
		t.Fatalf("path: %s", gotReq.URL.Path)
	}
	if auth := gotReq.Header.Get("Authorization"); auth != "Bearer access-123" {
		t.Fatalf("authorization header: %q", auth)
	}
	if prefer := gotReq.Header.Get("Prefer"); prefer != `outlook.timezone="Pacific Standard Time"` {
		t.Fatalf("prefer header: %q", prefer)
	}
	if strings.Contains(gotReq.URL.RawQuery, "+") {
		t.Fatalf("query should not use + for spaces: %s", gotReq.URL.RawQuery)
	}
	q := gotReq.URL.Query()
	wantFilter := "receivedDateTime ge 2024-01-07T08:00:00Z and receivedDateTime lt 2024-01-14T08:00:00Z"
	if q.Get("$filter") != wantFilter {
		t.Fatalf("filter: %q", q.Get("$filter"))
	}
	if q.Get("$top") != "25" || q.Get("$orderby") != "receivedDateTime desc" {
		t.Fatalf("paging/order: %v", q)
	}
}

func TestListMessagesEmptyValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0, nil)
	start := time.Now().UTC()
	out, err := c.ListMessages(context.Background(), staticToken(), start, start.Add(time.Hour), "")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if out.Value == nil || len(out.Value) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", out.Value)
	}
}

func TestListMessagesRejectsInvertedWindow(t *testing.T) {
	c := NewClient("http://unused", 10, nil)
	now := time.Now()
	if _, err := c.ListMessages(context.Background(), staticToken(), now, now, ""); err == nil {
		t.Fatalf("expected error for empty window")
	}
}

func TestGetMessageEscapesIDAndAsksForHTML(t *testing.T) {
	var gotPath string
	var gotPrefer []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotPrefer = r.Header.Values("Prefer")
		_, _ = w.Write([]byte(`{"id":"AA/B=","subject":"S","body":{"contentType":"html","content":"<p>hi</p>"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 10, nil)
	msg, err := c.GetMessage(context.Background(), staticToken(), "AA/B=", "UTC")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if msg.Body == nil || msg.Body.Content != "<p>hi</p>" {
		t.Fatalf("body not decoded: %+v", msg.Body)
	}
	if gotPath != "/me/messages/AA%2FB=" {
		t.Fatalf("escaped path: %s", gotPath)
	}
	if len(gotPrefer) != 2 || gotPrefer[1] != `outlook.body-content-type="html"` {
		t.Fatalf("prefer headers: %v", gotPrefer)
	}
}

func TestGraphErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"ErrorItemNotFound","message":"The specified object was not found in the store.","innerError":{"request-id":"req-1"}}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 10, nil)
	_, err := c.GetMessage(context.Background(), staticToken(), "missing", "")
	var gerr *Error
	if !errors.As(err, &gerr) {
		t.Fatalf("expected *graph.Error, got %T %v", err, err)
	}
	if !gerr.NotFound() || gerr.Code != "ErrorItemNotFound" || gerr.RequestID != "req-1" {
		t.Fatalf("unexpected error %+v", gerr)
	}
}

func TestGraphErrorWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 10, nil)
	_, err := c.Me(context.Background(), staticToken())
	var gerr *Error
	if !errors.As(err, &gerr) {
		t.Fatalf("expected *graph.Error, got %v", err)
	}
	if gerr.StatusCode != http.StatusBadGateway || !strings.Contains(gerr.Message, "upstream exploded") {
		t.Fatalf("unexpected error %+v", gerr)
	}
}

func TestMeDecodesMailboxTimeZone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"id":"u1","displayName":"Megan","userPrincipalName":"megan@contoso.com","mailboxSettings":{"timeZone":"Pacific Standard Time"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 10, nil)
	p, err := c.Me(context.Background(), staticToken())
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if p.ID != "u1" || p.MailboxSettings.TimeZone != "Pacific Standard Time" {
		t.Fatalf("unexpected profile %+v", p)
	}
	if p.Email() != "megan@contoso.com" {
		t.Fatalf("email fallback to UPN failed: %s", p.Email())
	}
}

func TestMissingTokenSource(t *testing.T) {
	c := NewClient("http://unused", 10, nil)
	if _, err := c.Me(context.Background(), nil); err == nil {
		t.Fatalf("expected error without token source")
	}
}
