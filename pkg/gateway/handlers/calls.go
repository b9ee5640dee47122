package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/voxcobra/voxbridge/pkg/broker"
	"github.com/voxcobra/voxbridge/pkg/carrier"
	"github.com/voxcobra/voxbridge/pkg/core"
	"github.com/voxcobra/voxbridge/pkg/gateway/auth"
	"github.com/voxcobra/voxbridge/pkg/gateway/metrics"
	"github.com/voxcobra/voxbridge/pkg/gateway/mw"
	"github.com/voxcobra/voxbridge/pkg/gateway/ratelimit"
	"github.com/voxcobra/voxbridge/pkg/negostore"
	"github.com/voxcobra/voxbridge/pkg/realtime"
)

// SessionBroker creates realtime sessions and parks their credentials.
type SessionBroker interface {
	CreateSession(ctx context.Context, prompt string, caller broker.CallerContext) (realtime.Session, error)
}

// CallPlacer places outbound calls with the carrier.
type CallPlacer interface {
	PlaceCall(ctx context.Context, params carrier.PlaceCallParams) (carrier.PlacedCall, error)
}

// CallsHandler serves POST /v1/calls: session brokering then call placement.
type CallsHandler struct {
	Broker    SessionBroker
	Initiator CallPlacer
	Store     *negostore.Store
	Limiter   *ratelimit.Limiter
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

type callRequest struct {
	To            string `json:"to"`
	Prompt        string `json:"prompt"`
	TargetID      string `json:"targetId"`
	CampaignID    string `json:"campaignId"`
	AttemptNumber int    `json:"attemptNumber"`
}

type callResponse struct {
	SessionID string `json:"sessionId"`
	CallID    string `json:"callId"`
	Status    string `json:"status"`
}

func (h CallsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	if r.Method != http.MethodPost {
		writeCoreErrorJSON(w, reqID, &core.Error{
			Type:    core.ErrInvalidRequest,
			Message: "method not allowed",
		}, http.StatusMethodNotAllowed)
		return
	}

	if h.Limiter != nil {
		principal := ""
		if p, ok := auth.PrincipalFrom(r.Context()); ok {
			principal = ratelimit.PrincipalKeyFromAPIKey(p.APIKey)
		}
		decision := h.Limiter.AcquireCall(principal, time.Now())
		if !decision.Allowed {
			h.Metrics.RecordRateLimitHit("calls")
			w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
			writeCoreErrorJSON(w, reqID, &core.Error{
				Type:    core.ErrInvalidRequest,
				Message: "call placement rate exceeded",
				Code:    "rate_limited",
			}, http.StatusTooManyRequests)
			return
		}
		defer decision.Permit.Release()
	}

	var req callRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, core.NewInvalidRequestError("malformed request body"))
		return
	}
	if req.To == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("to is required", "to"))
		return
	}
	if req.Prompt == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("prompt is required", "prompt"))
		return
	}
	if req.AttemptNumber <= 0 {
		req.AttemptNumber = 1
	}

	caller := broker.CallerContext{
		TargetID:      req.TargetID,
		CampaignID:    req.CampaignID,
		AttemptNumber: req.AttemptNumber,
	}

	sess, err := h.Broker.CreateSession(r.Context(), req.Prompt, caller)
	if err != nil {
		writeError(w, r, err)
		return
	}

	placed, err := h.Initiator.PlaceCall(r.Context(), carrier.PlaceCallParams{
		To:            req.To,
		SessionID:     sess.ID,
		TargetID:      req.TargetID,
		CampaignID:    req.CampaignID,
		AttemptNumber: req.AttemptNumber,
	})
	if err != nil {
		h.Metrics.RecordCallPlaced("error")
		writeError(w, r, err)
		return
	}
	h.Metrics.RecordCallPlaced(placed.Status)

	if err := h.Store.RecordAttempt(r.Context(), negostore.Attempt{
		SessionID:     sess.ID,
		CallSID:       placed.CallID,
		TargetID:      req.TargetID,
		CampaignID:    req.CampaignID,
		AttemptNumber: req.AttemptNumber,
		ToNumber:      req.To,
		Status:        placed.Status,
	}); err != nil && !errors.Is(err, context.Canceled) {
		// The call is already in flight; a persistence failure must not fail it.
		h.logger().Warn("record attempt failed", "session_id", sess.ID, "error", err)
	}

	writeJSON(w, http.StatusCreated, callResponse{
		SessionID: sess.ID,
		CallID:    placed.CallID,
		Status:    placed.Status,
	})
}

func (h CallsHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
