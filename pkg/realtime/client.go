// Package realtime is a minimal client for the speech backend's realtime API:
// ephemeral session creation over HTTP and the event protocol spoken over its
// WebSocket transport.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultHTTPURL is the default session-creation endpoint.
	DefaultHTTPURL = "https://api.openai.com/v1/realtime/sessions"

	// DefaultTransportURL is the default WebSocket endpoint, used when the
	// session response does not name one.
	DefaultTransportURL = "wss://api.openai.com/v1/realtime"
)

// Client creates ephemeral realtime sessions and dials their transports.
type Client struct {
	apiKey       string
	httpURL      string
	transportURL string
	httpClient   *http.Client
	logger       *slog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPURL overrides the session-creation endpoint.
func WithHTTPURL(url string) Option {
	return func(c *Client) { c.httpURL = url }
}

// WithTransportURL overrides the fallback WebSocket endpoint.
func WithTransportURL(url string) Option {
	return func(c *Client) { c.transportURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// WithLogger sets the logger used by connections this client dials.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a realtime API client.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:       apiKey,
		httpURL:      DefaultHTTPURL,
		transportURL: DefaultTransportURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SessionRequest describes the session to create.
type SessionRequest struct {
	Model        string   `json:"model"`
	Voice        string   `json:"voice,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
	Modalities   []string `json:"modalities,omitempty"`
}

// Session is a created ephemeral session: where to connect, the one-time
// secret, and when the secret stops working.
type Session struct {
	ID           string
	TransportURL string
	Secret       string
	ExpiresAt    time.Time
}

// Error is an API-level failure from the session endpoint.
type Error struct {
	HTTPStatus int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("realtime: session request failed (status %d): %s", e.HTTPStatus, e.Message)
}

type sessionResponse struct {
	ID           string `json:"id"`
	ClientSecret struct {
		Value     string `json:"value"`
		URL       string `json:"url,omitempty"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// CreateSession requests a new ephemeral session from the backend.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Session{}, fmt.Errorf("realtime: marshal session request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.httpURL, bytes.NewReader(body))
	if err != nil {
		return Session{}, fmt.Errorf("realtime: build session request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Session{}, fmt.Errorf("realtime: create session: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Session{}, fmt.Errorf("realtime: read session response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(raw)
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return Session{}, &Error{HTTPStatus: resp.StatusCode, Message: msg}
	}

	var decoded sessionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Session{}, fmt.Errorf("realtime: parse session response: %w", err)
	}
	if decoded.ID == "" || decoded.ClientSecret.Value == "" {
		return Session{}, fmt.Errorf("realtime: session response missing id or client_secret")
	}

	transportURL := decoded.ClientSecret.URL
	if transportURL == "" {
		transportURL = fmt.Sprintf("%s?model=%s", c.transportURL, req.Model)
	}

	return Session{
		ID:           decoded.ID,
		TransportURL: transportURL,
		Secret:       decoded.ClientSecret.Value,
		ExpiresAt:    time.Unix(decoded.ClientSecret.ExpiresAt, 0),
	}, nil
}
