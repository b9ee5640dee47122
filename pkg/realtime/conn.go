package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn is an open realtime WebSocket. Writes must come from a single
// goroutine; reads may run on another.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger
}

// Dialer opens realtime transports. It exists so the bridge can be tested
// against an in-process backend.
type Dialer interface {
	Dial(ctx context.Context, transportURL, secret string) (*Conn, error)
}

// Dial opens a WebSocket to the given transport URL, authenticating with the
// one-time session secret.
func (c *Client) Dial(ctx context.Context, transportURL, secret string) (*Conn, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+secret)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, transportURL, headers)
	if err != nil {
		if resp != nil {
			return nil, &Error{HTTPStatus: resp.StatusCode, Message: fmt.Sprintf("transport dial failed: %v", err)}
		}
		return nil, fmt.Errorf("realtime: transport dial failed: %w", err)
	}
	return &Conn{ws: ws, logger: c.logger}, nil
}

func eventID() string {
	return "evt_" + uuid.New().String()[:12]
}

// UpdateSession sends a session.update event.
func (c *Conn) UpdateSession(config SessionConfig) error {
	return c.send(map[string]any{
		"event_id": eventID(),
		"type":     EventTypeSessionUpdate,
		"session":  config,
	})
}

// AppendAudio appends base64 audio to the input buffer.
func (c *Conn) AppendAudio(audioBase64 string) error {
	return c.send(map[string]any{
		"event_id": eventID(),
		"type":     EventTypeInputAudioBufferAppend,
		"audio":    audioBase64,
	})
}

// CommitInput commits the input audio buffer.
func (c *Conn) CommitInput() error {
	return c.send(map[string]any{
		"event_id": eventID(),
		"type":     EventTypeInputAudioBufferCommit,
	})
}

// ClearInput clears the input audio buffer.
func (c *Conn) ClearInput() error {
	return c.send(map[string]any{
		"event_id": eventID(),
		"type":     EventTypeInputAudioBufferClear,
	})
}

// CommitOutputAudio commits the output audio buffer of the given response.
func (c *Conn) CommitOutputAudio(responseID string) error {
	return c.send(map[string]any{
		"event_id":    eventID(),
		"type":        EventTypeOutputAudioBufferCommit,
		"response_id": responseID,
	})
}

// ReadEvent blocks until the next well-formed server event arrives. Messages
// that fail to decode are logged and skipped; only socket-level errors
// surface.
func (c *Conn) ReadEvent() (*ServerEvent, error) {
	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		var event ServerEvent
		if err := json.Unmarshal(message, &event); err != nil {
			c.logger.Warn("ignoring malformed realtime event", "error", err)
			continue
		}
		event.Raw = message
		return &event, nil
	}
}

// Close closes the underlying WebSocket.
func (c *Conn) Close() error {
	return c.ws.Close()
}

func (c *Conn) send(event map[string]any) error {
	return c.ws.WriteJSON(event)
}
