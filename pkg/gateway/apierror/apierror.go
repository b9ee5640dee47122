// Package apierror maps internal failures to the canonical wire error shape.
package apierror

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/voxcobra/voxbridge/pkg/bridge"
	"github.com/voxcobra/voxbridge/pkg/carrier"
	"github.com/voxcobra/voxbridge/pkg/core"
	"github.com/voxcobra/voxbridge/pkg/credstore"
	"github.com/voxcobra/voxbridge/pkg/realtime"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, StatusFromType(coreErr.Type)
	}

	// One-time credentials gone: consumed, expired, or never created.
	if errors.Is(err, bridge.ErrSessionExpired) || errors.Is(err, credstore.ErrNotFound) {
		return &core.Error{
			Type:      core.ErrSessionExpired,
			Message:   "session expired",
			Code:      "session_expired",
			RequestID: requestID,
		}, StatusFromType(core.ErrSessionExpired)
	}

	// Telephony provider errors.
	var carrierErr *carrier.Error
	if errors.As(err, &carrierErr) && carrierErr != nil {
		return &core.Error{
			Type:      core.ErrCarrier,
			Message:   carrierErr.Message,
			Code:      strconv.Itoa(carrierErr.Code),
			RequestID: requestID,
		}, StatusFromType(core.ErrCarrier)
	}

	// AI backend errors.
	var upstreamErr *realtime.Error
	if errors.As(err, &upstreamErr) && upstreamErr != nil {
		typ := core.ErrUpstream
		if upstreamErr.HTTPStatus == http.StatusUnauthorized || upstreamErr.HTTPStatus == http.StatusForbidden {
			typ = core.ErrAuthentication
		}
		return &core.Error{
			Type:      typ,
			Message:   upstreamErr.Message,
			RequestID: requestID,
		}, StatusFromType(typ)
	}

	// Unknown errors: treat as internal (do not leak details by default).
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func StatusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrSessionExpired:
		return http.StatusGone
	case core.ErrCarrier, core.ErrUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
