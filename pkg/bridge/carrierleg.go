package bridge

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxcobra/voxbridge/pkg/carrier"
)

// wsCarrierLeg adapts a gorilla WebSocket to the CarrierLeg interface. Frame
// writes happen only from the bridge loop, so no write lock is needed beyond
// the close path.
type wsCarrierLeg struct {
	ws     *websocket.Conn
	logger *slog.Logger
}

// NewCarrierLeg wraps an upgraded media-stream WebSocket.
func NewCarrierLeg(ws *websocket.Conn, logger *slog.Logger) CarrierLeg {
	if logger == nil {
		logger = slog.Default()
	}
	return &wsCarrierLeg{ws: ws, logger: logger}
}

// ReadFrame returns the next well-formed frame. Messages that fail to decode
// are logged and skipped; only socket-level errors surface.
func (l *wsCarrierLeg) ReadFrame() (*carrier.Frame, error) {
	for {
		_, message, err := l.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		f, err := carrier.ParseFrame(message)
		if err != nil {
			l.logger.Warn("ignoring malformed media frame", "error", err)
			continue
		}
		return f, nil
	}
}

func (l *wsCarrierLeg) WriteFrame(f *carrier.Frame) error {
	return l.ws.WriteJSON(f)
}

func (l *wsCarrierLeg) CloseWithReason(reason string) error {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = l.ws.WriteControl(websocket.CloseMessage, msg, deadline)
	return l.ws.Close()
}

func (l *wsCarrierLeg) Close() error {
	return l.ws.Close()
}
