package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/voxcobra/voxbridge/pkg/gateway/bridges"
	"github.com/voxcobra/voxbridge/pkg/negostore"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Store   *negostore.Store
	Tracker *bridges.Tracker

	// PersistenceEnabled reports whether a Postgres backend is configured.
	PersistenceEnabled bool
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK                 bool     `json:"ok"`
		ActiveBridges      int      `json:"active_bridges"`
		PersistenceEnabled bool     `json:"persistence_enabled"`
		Issues             []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 2)

	if h.PersistenceEnabled {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Store.Ping(ctx); err != nil {
			issues = append(issues, "postgres unreachable")
		}
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, readyResp{
		OK:                 ok,
		ActiveBridges:      h.Tracker.Count(),
		PersistenceEnabled: h.PersistenceEnabled,
		Issues:             issues,
	})
}
