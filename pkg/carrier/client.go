// Package carrier talks to the telephony provider: placing outbound calls over
// its REST API and speaking the media-stream frame protocol on its WebSocket
// leg.
package carrier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the carrier REST API base URL.
const DefaultBaseURL = "https://api.twilio.com/2010-04-01"

// Call status values reported by the carrier.
const (
	CallStatusQueued     = "queued"
	CallStatusRinging    = "ringing"
	CallStatusInProgress = "in-progress"
	CallStatusCompleted  = "completed"
	CallStatusBusy       = "busy"
	CallStatusFailed     = "failed"
	CallStatusNoAnswer   = "no-answer"
	CallStatusCanceled   = "canceled"
)

// Client is a carrier REST API client.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

// ClientConfig configures the carrier client.
type ClientConfig struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a carrier client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.AccountSID == "" {
		return nil, fmt.Errorf("carrier: account SID is required")
	}
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("carrier: auth token is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    baseURL,
		httpClient: httpClient,
	}, nil
}

// Call is the carrier's call resource.
type Call struct {
	SID       string `json:"sid"`
	To        string `json:"to"`
	From      string `json:"from"`
	Status    string `json:"status"`
	Direction string `json:"direction"`
	Duration  string `json:"duration"`
}

// MakeCallParams are the parameters for placing an outbound call.
type MakeCallParams struct {
	To                      string
	From                    string
	Twiml                   string
	StatusCallback          string
	StatusCallbackEvent     []string
	Record                  bool
	RecordingChannels       string
	RecordingStatusCallback string
	Timeout                 int
}

// MakeCall places an outbound call.
func (c *Client) MakeCall(ctx context.Context, params MakeCallParams) (*Call, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, c.accountSID)

	data := url.Values{}
	data.Set("To", params.To)
	data.Set("From", params.From)
	data.Set("Twiml", params.Twiml)
	if params.StatusCallback != "" {
		data.Set("StatusCallback", params.StatusCallback)
	}
	for _, event := range params.StatusCallbackEvent {
		data.Add("StatusCallbackEvent", event)
	}
	if params.Record {
		data.Set("Record", "true")
	}
	if params.RecordingChannels != "" {
		data.Set("RecordingChannels", params.RecordingChannels)
	}
	if params.RecordingStatusCallback != "" {
		data.Set("RecordingStatusCallback", params.RecordingStatusCallback)
	}
	if params.Timeout > 0 {
		data.Set("Timeout", fmt.Sprintf("%d", params.Timeout))
	}

	var call Call
	if err := c.post(ctx, endpoint, data, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// HangupCall ends an in-progress call.
func (c *Client) HangupCall(ctx context.Context, callSID string) (*Call, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, callSID)

	data := url.Values{}
	data.Set("Status", CallStatusCompleted)

	var call Call
	if err := c.post(ctx, endpoint, data, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// Error is a carrier API error.
type Error struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("carrier error %d: %s", e.Code, e.Message)
}

func (c *Client) post(ctx context.Context, endpoint string, data url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr Error
		if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Message == "" {
			return fmt.Errorf("carrier error: %s", string(body))
		}
		return &apiErr
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("carrier: parse response: %w", err)
		}
	}
	return nil
}
