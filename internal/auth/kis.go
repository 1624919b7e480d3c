package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"equity-auto-trader/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout = 10 * time.Second

	// Approval keys carry no expiry in the issue response; the venue
	// documents them as valid for the trading day, so they are refreshed
	// on the same cadence as access tokens.
	approvalKeyTTL = 24 * time.Hour

	tokenExpiryLayout = "2006-01-02 15:04:05"
)

// Client issues venue credentials over the brokerage OAuth endpoints.
type Client struct {
	baseURL   string
	appKey    string
	appSecret string
	client    *http.Client
	now       func() time.Time
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithClock sets the time source, for tests.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a credential issuing client.
func NewClient(baseURL, appKey, appSecret string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   baseURL,
		appKey:    appKey,
		appSecret: appSecret,
		client:    &http.Client{Timeout: DefaultTimeout},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Expired     string `json:"access_token_token_expired"`
}

type approvalResponse struct {
	ApprovalKey string `json:"approval_key"`
}

// IssueAccessToken obtains a fresh trading bearer token.
func (c *Client) IssueAccessToken(ctx context.Context) (*domain.Credential, error) {
	body := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.appKey,
		"appsecret":  c.appSecret,
	}

	var res tokenResponse
	if err := c.post(ctx, "/oauth2/tokenP", body, &res); err != nil {
		return nil, err
	}
	if res.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	issued := c.now()
	expires, err := time.ParseInLocation(tokenExpiryLayout, res.Expired, issued.Location())
	if err != nil {
		// The expiry field is advisory; tokens live ~24h.
		expires = issued.Add(24 * time.Hour)
	}

	return &domain.Credential{
		Value:     res.AccessToken,
		Kind:      domain.CredentialTrading,
		IssuedAt:  issued,
		ExpiresAt: expires,
	}, nil
}

// IssueApprovalKey obtains a fresh streaming access key.
func (c *Client) IssueApprovalKey(ctx context.Context) (*domain.Credential, error) {
	body := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.appKey,
		"secretkey":  c.appSecret,
	}

	var res approvalResponse
	if err := c.post(ctx, "/oauth2/Approval", body, &res); err != nil {
		return nil, err
	}
	if res.ApprovalKey == "" {
		return nil, fmt.Errorf("empty approval key in response")
	}

	issued := c.now()
	return &domain.Credential{
		Value:     res.ApprovalKey,
		Kind:      domain.CredentialStreaming,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(approvalKeyTTL),
	}, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("post %s: status %d: %s", path, resp.StatusCode, truncate(data, 200))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
