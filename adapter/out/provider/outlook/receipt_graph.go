// Package outlook provides the Microsoft Graph mailbox adapter.
package outlook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"receipt_server/core/port/out"
	"receipt_server/pkg/apperr"
	"receipt_server/pkg/httputil"
	"receipt_server/pkg/logger"

	"github.com/sony/gobreaker"
)

const (
	mailGraphBaseURL = "https://graph.microsoft.com/v1.0"

	// Graph caps $top at 999 per request
	maxPageSize = 999

	// field list requested for every message
	messageSelect = "id,subject,from,receivedDateTime,isRead,hasAttachments,body,bodyPreview,categories"
)

// MailboxClient lists receipt mail through the Graph /me/messages surface.
// A circuit breaker sits in front so a flapping Graph region fails fast
// instead of stalling every sync tick.
type MailboxClient struct {
	baseURL string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
}

func NewMailboxClient() *MailboxClient {
	return NewMailboxClientWithTimeout(0)
}

// NewMailboxClientWithTimeout overrides the per-request timeout.
// Zero keeps the Graph profile default.
func NewMailboxClientWithTimeout(timeout time.Duration) *MailboxClient {
	cbSettings := gobreaker.Settings{
		Name:        "graph-mail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
	}

	clientCfg := httputil.GraphClientConfig()
	if timeout > 0 {
		clientCfg.ResponseTimeout = timeout
	}
	return &MailboxClient{
		baseURL: mailGraphBaseURL,
		client:  httputil.NewOptimizedClient(clientCfg),
		cb:      gobreaker.NewCircuitBreaker(cbSettings),
	}
}

var _ out.MailboxProviderPort = (*MailboxClient)(nil)

// GetProviderType returns the provider type.
func (c *MailboxClient) GetProviderType() string {
	return "outlook"
}

// ListMessages fetches one page of messages received inside the window.
// The window is inclusive: from's midnight through to's last second, UTC.
func (c *MailboxClient) ListMessages(ctx context.Context, accessToken string, window out.ListWindow, pageSize int) (*out.MailboxPage, error) {
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	params := url.Values{}
	params.Set("$top", strconv.Itoa(pageSize))
	params.Set("$select", messageSelect)
	params.Set("$filter", buildReceivedFilter(window))

	reqURL := c.baseURL + "/me/messages?" + params.Encode()

	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.fetchPage(ctx, accessToken, reqURL)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apperr.FetchFailed(http.StatusServiceUnavailable, "graph circuit open")
		}
		return nil, err
	}
	return result.(*out.MailboxPage), nil
}

func (c *MailboxClient) fetchPage(ctx context.Context, accessToken, reqURL string) (*out.MailboxPage, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, apperr.FetchFailed(resp.StatusCode, string(body))
	}

	var listResp graphMessageListResponse
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, fmt.Errorf("decode graph response: %w", err)
	}

	page := &out.MailboxPage{NextLink: listResp.NextLink}
	for _, gm := range listResp.Value {
		page.Messages = append(page.Messages, gm.toProviderMessage())
	}
	return page, nil
}

// buildReceivedFilter renders the inclusive receivedDateTime window filter.
func buildReceivedFilter(window out.ListWindow) string {
	from := window.From.UTC().Format("2006-01-02")
	to := window.To.UTC().Format("2006-01-02")
	return fmt.Sprintf("receivedDateTime ge %sT00:00:00Z and receivedDateTime le %sT23:59:59Z", from, to)
}

// Graph API types

type graphMessageListResponse struct {
	Value    []graphMailMessage `json:"value"`
	NextLink string             `json:"@odata.nextLink"`
}

type graphMailMessage struct {
	ID               string   `json:"id"`
	Subject          string   `json:"subject"`
	ReceivedDateTime string   `json:"receivedDateTime"`
	IsRead           bool     `json:"isRead"`
	HasAttachments   bool     `json:"hasAttachments"`
	BodyPreview      string   `json:"bodyPreview"`
	Categories       []string `json:"categories"`
	Body             struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	From struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
}

func (gm *graphMailMessage) toProviderMessage() out.ProviderMessage {
	receivedAt, _ := time.Parse(time.RFC3339, gm.ReceivedDateTime)
	return out.ProviderMessage{
		ProviderMessageID: gm.ID,
		Subject:           gm.Subject,
		FromAddress:       gm.From.EmailAddress.Address,
		FromName:          gm.From.EmailAddress.Name,
		ReceivedAt:        receivedAt,
		IsRead:            gm.IsRead,
		HasAttachments:    gm.HasAttachments,
		BodyPreview:       gm.BodyPreview,
		BodyHTML:          gm.Body.Content,
		Categories:        gm.Categories,
	}
}
