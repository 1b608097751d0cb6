// Package bridge is the HTTP client for the external automation bridge,
// the service that drives real browser sessions. The bridge resolves
// credential handles against its own secret store; this process only ever
// passes the handles through.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/intronet/warmpath/internal/enrich"
	"github.com/intronet/warmpath/internal/outreach"
	"github.com/intronet/warmpath/internal/storage"
)

const (
	defaultTimeout = 60 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

// Client talks to the automation bridge.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a bridge client for the given base URL and auth token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

type enrichRequest struct {
	CredentialHandle string `json:"credential_handle"`
	ProxyURL         string `json:"proxy_url,omitempty"`
	ProfileURL       string `json:"profile_url"`
}

// EnrichProfile asks the bridge to collect a profile through the assigned
// scraper account. A friction status from the bridge surfaces as
// enrich.ErrProviderFriction so the caller degrades account health.
func (c *Client) EnrichProfile(ctx context.Context, account storage.ScraperAccount, conn storage.Connection) (enrich.Profile, error) {
	req := enrichRequest{
		CredentialHandle: account.CredentialHandle,
		ProxyURL:         account.ProxyURL,
		ProfileURL:       conn.ProfileURL,
	}

	var profile enrich.Profile
	if err := c.post(ctx, "/v1/enrich", req, &profile); err != nil {
		if isFriction(err) {
			return enrich.Profile{}, fmt.Errorf("%w: %v", enrich.ErrProviderFriction, err)
		}
		return enrich.Profile{}, err
	}
	return profile, nil
}

type sendRequest struct {
	CredentialHandle string `json:"credential_handle"`
	TargetPersonID   string `json:"target_person_id"`
	Message          string `json:"message"`
}

// SendMessage delivers an approved outreach message through the owning
// user session. Friction surfaces as outreach.ErrSessionFriction.
func (c *Client) SendMessage(ctx context.Context, session storage.Session, job storage.OutreachJob) error {
	req := sendRequest{
		CredentialHandle: session.CredentialHandle,
		TargetPersonID:   job.TargetPersonID,
		Message:          job.Message,
	}

	var resp struct {
		Delivered bool `json:"delivered"`
	}
	if err := c.post(ctx, "/v1/messages", req, &resp); err != nil {
		if isFriction(err) {
			return fmt.Errorf("%w: %v", outreach.ErrSessionFriction, err)
		}
		return err
	}
	if !resp.Delivered {
		return fmt.Errorf("bridge reported message not delivered")
	}
	return nil
}

type responseCheckRequest struct {
	CredentialHandle string    `json:"credential_handle"`
	TargetPersonID   string    `json:"target_person_id"`
	SentAt           time.Time `json:"sent_at"`
}

// HasResponse asks the bridge whether the target has replied since the
// message was sent.
func (c *Client) HasResponse(ctx context.Context, session storage.Session, job storage.OutreachJob) (bool, time.Time, error) {
	req := responseCheckRequest{
		CredentialHandle: session.CredentialHandle,
		TargetPersonID:   job.TargetPersonID,
		SentAt:           job.SentAt,
	}

	var resp struct {
		Answered   bool      `json:"answered"`
		AnsweredAt time.Time `json:"answered_at"`
	}
	if err := c.post(ctx, "/v1/messages/responses", req, &resp); err != nil {
		return false, time.Time{}, err
	}
	return resp.Answered, resp.AnsweredAt, nil
}

// frictionError is returned when the bridge reports platform pushback
// (HTTP 423) rather than an ordinary failure.
type frictionError struct {
	status int
	body   string
}

func (e *frictionError) Error() string {
	return fmt.Sprintf("platform friction (HTTP %d): %s", e.status, e.body)
}

func isFriction(err error) bool {
	_, ok := err.(*frictionError)
	return ok
}

// rateLimitError is returned on HTTP 429 and retried with backoff.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	_, ok := err.(*rateLimitError)
	return ok
}

func (c *Client) post(ctx context.Context, path string, req, resp any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := c.doPost(ctx, path, body, resp)
		if err == nil {
			return nil
		}
		if !isRateLimit(err) {
			return err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

func (c *Client) doPost(ctx context.Context, path string, body []byte, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return &rateLimitError{status: httpResp.StatusCode}
	case httpResp.StatusCode == http.StatusLocked:
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return &frictionError{status: httpResp.StatusCode, body: string(respBody)}
	case httpResp.StatusCode != http.StatusOK:
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", httpResp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
