package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/voxcobra/voxbridge/pkg/gateway/metrics"
	"github.com/voxcobra/voxbridge/pkg/negostore"
)

// StatusCallbackHandler receives carrier call-status webhooks
// (form-encoded, like the rest of the carrier's callback surface).
type StatusCallbackHandler struct {
	Store   *negostore.Store
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func (h StatusCallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}

	callSID := r.PostForm.Get("CallSid")
	status := r.PostForm.Get("CallStatus")
	if callSID == "" || status == "" {
		http.Error(w, "CallSid and CallStatus are required", http.StatusBadRequest)
		return
	}
	duration, _ := strconv.Atoi(r.PostForm.Get("CallDuration"))

	if h.Logger != nil {
		h.Logger.Info("call status", "call_sid", callSID, "status", status, "duration_s", duration)
	}

	if err := h.Store.UpdateCallStatus(r.Context(), callSID, status, duration); err != nil {
		if h.Logger != nil {
			h.Logger.Error("update call status failed", "call_sid", callSID, "error", err)
		}
		// Report success anyway; the carrier retries on 5xx and the data
		// is advisory.
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordingCallbackHandler receives carrier recording-availability webhooks.
type RecordingCallbackHandler struct {
	Store  *negostore.Store
	Logger *slog.Logger
}

func (h RecordingCallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}

	callSID := r.PostForm.Get("CallSid")
	recordingSID := r.PostForm.Get("RecordingSid")
	if callSID == "" || recordingSID == "" {
		http.Error(w, "CallSid and RecordingSid are required", http.StatusBadRequest)
		return
	}
	url := r.PostForm.Get("RecordingUrl")
	duration, _ := strconv.Atoi(r.PostForm.Get("RecordingDuration"))

	if h.Logger != nil {
		h.Logger.Info("recording available", "call_sid", callSID, "recording_sid", recordingSID, "duration_s", duration)
	}

	if err := h.Store.RecordRecording(r.Context(), callSID, recordingSID, url, duration); err != nil {
		if h.Logger != nil {
			h.Logger.Error("record recording failed", "call_sid", callSID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
