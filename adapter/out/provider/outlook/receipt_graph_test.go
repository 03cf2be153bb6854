package outlook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"receipt_server/core/port/out"
	"receipt_server/pkg/apperr"
)

const listResponse = `{
  "value": [
    {
      "id": "AAMkAD-1",
      "subject": "Your Meta ads receipt",
      "receivedDateTime": "2026-08-29T10:15:00Z",
      "isRead": true,
      "hasAttachments": true,
      "bodyPreview": "Transaction for",
      "categories": ["Billing"],
      "body": {"contentType": "html", "content": "<div>$7.00 USD</div>"},
      "from": {"emailAddress": {"name": "Meta", "address": "advertise-noreply@support.facebook.com"}}
    }
  ]
}`

func testClient(t *testing.T, handler http.HandlerFunc) *MailboxClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c := NewMailboxClient()
	c.baseURL = server.URL
	return c
}

func testWindow() out.ListWindow {
	return out.ListWindow{
		From: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestListMessagesRequestShape(t *testing.T) {
	var gotQuery map[string]string
	var gotAuth string

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		q := r.URL.Query()
		gotQuery = map[string]string{
			"$top":    q.Get("$top"),
			"$select": q.Get("$select"),
			"$filter": q.Get("$filter"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(listResponse))
	})

	page, err := c.ListMessages(context.Background(), "test-token", testWindow(), 100)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}

	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotQuery["$top"] != "100" {
		t.Errorf("$top = %q, want 100", gotQuery["$top"])
	}
	if gotQuery["$select"] != messageSelect {
		t.Errorf("$select = %q", gotQuery["$select"])
	}
	wantFilter := "receivedDateTime ge 2026-08-01T00:00:00Z and receivedDateTime le 2026-08-01T23:59:59Z"
	if gotQuery["$filter"] != wantFilter {
		t.Errorf("$filter = %q, want %q", gotQuery["$filter"], wantFilter)
	}

	if len(page.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(page.Messages))
	}
	msg := page.Messages[0]
	if msg.ProviderMessageID != "AAMkAD-1" {
		t.Errorf("ProviderMessageID = %q", msg.ProviderMessageID)
	}
	if msg.BodyHTML != "<div>$7.00 USD</div>" {
		t.Errorf("BodyHTML = %q", msg.BodyHTML)
	}
	if msg.FromAddress != "advertise-noreply@support.facebook.com" {
		t.Errorf("FromAddress = %q", msg.FromAddress)
	}
	if msg.FromName != "Meta" {
		t.Errorf("FromName = %q", msg.FromName)
	}
	if !msg.IsRead || !msg.HasAttachments {
		t.Errorf("IsRead = %v, HasAttachments = %v, want both true", msg.IsRead, msg.HasAttachments)
	}
	if !msg.ReceivedAt.Equal(time.Date(2026, 8, 29, 10, 15, 0, 0, time.UTC)) {
		t.Errorf("ReceivedAt = %v", msg.ReceivedAt)
	}
}

func TestListMessagesClampsPageSize(t *testing.T) {
	var gotTop string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotTop = r.URL.Query().Get("$top")
		w.Write([]byte(`{"value":[]}`))
	})

	if _, err := c.ListMessages(context.Background(), "t", testWindow(), 5000); err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if gotTop != "999" {
		t.Errorf("$top = %q, want clamped 999", gotTop)
	}
}

func TestListMessagesNon2xxCarriesStatusAndBody(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"code":"InvalidAuthenticationToken"}}`))
	})

	_, err := c.ListMessages(context.Background(), "bad-token", testWindow(), 100)
	if err == nil {
		t.Fatal("expected error")
	}

	appErr := apperr.AsAppError(err)
	if appErr == nil {
		t.Fatalf("error is not an AppError: %v", err)
	}
	if appErr.Code != apperr.CodeFetchError {
		t.Errorf("code = %q, want fetch error", appErr.Code)
	}
	if appErr.Details["provider_status"] != 401 {
		t.Errorf("provider_status = %v, want 401", appErr.Details["provider_status"])
	}
}

func TestListMessagesCircuitOpensAfterRepeatedFailures(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		c.ListMessages(ctx, "t", testWindow(), 100)
	}

	_, err := c.ListMessages(ctx, "t", testWindow(), 100)
	if err == nil {
		t.Fatal("expected error with open circuit")
	}
	appErr := apperr.AsAppError(err)
	if appErr == nil || appErr.Details["provider_body"] != "graph circuit open" {
		t.Errorf("err = %v, want circuit-open fetch error", err)
	}
}
