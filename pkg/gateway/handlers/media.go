package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxcobra/voxbridge/pkg/bridge"
	"github.com/voxcobra/voxbridge/pkg/gateway/bridges"
	"github.com/voxcobra/voxbridge/pkg/gateway/metrics"
	"github.com/voxcobra/voxbridge/pkg/negostore"
)

// BridgeRunner drives one bridged call to completion.
type BridgeRunner interface {
	Run(ctx context.Context, sessionID string, leg bridge.CarrierLeg) (bridge.Result, error)
}

// MediaHandler accepts the carrier's media-stream WebSocket and hands it to
// the bridge. It sits outside the auth middleware; the session id in the query
// string is the one-time claim ticket.
type MediaHandler struct {
	Bridge  BridgeRunner
	Tracker *bridges.Tracker
	Store   *negostore.Store
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	Upgrader websocket.Upgrader
}

func (h *MediaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	q := r.URL.Query()
	sessionID := q.Get("sessionId")
	if sessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}
	logger = logger.With(
		"session_id", sessionID,
		"target_id", q.Get("targetId"),
		"campaign_id", q.Get("campaignId"),
		"attempt", q.Get("attemptNumber"),
	)

	ws, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		logger.Warn("media stream upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	unregister := h.Tracker.Register(sessionID, bridges.Handle{Cancel: cancel})
	defer unregister()

	h.Metrics.RecordBridgeStart()
	start := time.Now()
	result, err := h.Bridge.Run(ctx, sessionID, bridge.NewCarrierLeg(ws, logger))
	h.Metrics.RecordBridgeEnd(time.Since(start))

	if err != nil {
		if errors.Is(err, bridge.ErrSessionExpired) {
			logger.Warn("media stream rejected", "error", err)
			return
		}
		logger.Error("bridge failed", "error", err, "call_sid", result.CallSID)
		// Fall through: a partial outcome is still worth keeping.
	}

	h.recordOutcome(logger, sessionID, result)
}

func (h *MediaHandler) recordOutcome(logger *slog.Logger, sessionID string, result bridge.Result) {
	oc := result.Outcome
	switch {
	case oc.PromiseMade:
		h.Metrics.RecordOutcome("promise")
	case oc.UnwillingToPay:
		h.Metrics.RecordOutcome("refusal")
	default:
		h.Metrics.RecordOutcome("none")
	}

	// The request context is gone once the socket closes; persist on a fresh one.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Store.SaveOutcome(ctx, sessionID, oc); err != nil {
		logger.Error("save outcome failed", "error", err)
		return
	}
	logger.Info("call finished",
		"call_sid", result.CallSID,
		"promise_made", oc.PromiseMade,
		"unwilling_to_pay", oc.UnwillingToPay,
		"transcript_lines", len(oc.Transcript),
	)
}
