// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/thesisguard/internal/gate"
	"github.com/tomtom215/thesisguard/internal/logging"
	"github.com/tomtom215/thesisguard/internal/models"
)

// ReadyFunc reports whether the service's backing stores are usable.
type ReadyFunc func(ctx context.Context) error

// Handler serves the viewer-facing and admin endpoints.
type Handler struct {
	gate      *gate.Service
	ready     ReadyFunc
	startTime time.Time
}

// NewHandler creates a handler. ready may be nil.
func NewHandler(g *gate.Service, ready ReadyFunc) *Handler {
	return &Handler{gate: g, ready: ready, startTime: time.Now()}
}

// HealthLive reports that the process is serving.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// HealthReady reports whether backing stores are reachable.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			logging.Warn().Err(err).Msg("Readiness check failed")
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": "storage_unavailable",
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// EvaluateAccess returns the caller's access tier for a document.
func (h *Handler) EvaluateAccess(w http.ResponseWriter, r *http.Request) {
	grant, err := h.gate.EvaluateAccess(r.Context(), gateRequest(r), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	resp := AccessResponse{AccessGrant: grant}
	if grant.ReasonCode == gate.CodeSessionTerminated {
		resp.Redirect = h.gate.RedirectURL()
	}
	respondJSON(w, http.StatusOK, resp)
}

// ReportViolation records a detector's report.
func (h *Handler) ReportViolation(w http.ResponseWriter, r *http.Request) {
	var req ViolationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actions, err := h.gate.ReportViolation(r.Context(), gateRequest(r), req.violation())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	resp := ViolationResponse{Actions: actions}
	for _, a := range actions {
		if a.Immediate && a.Type.Destructive() {
			resp.Redirect = h.gate.RedirectURL()
			break
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// Heartbeat records viewer activity.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	info, err := h.gate.Heartbeat(r.Context(), gateRequest(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, SessionResponse{Info: info})
}

// ExtendSession resets the inactivity clock.
func (h *Handler) ExtendSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.gate.Extend(r.Context(), gateRequest(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, SessionResponse{Info: info})
}

// SessionState returns the caller's session state.
func (h *Handler) SessionState(w http.ResponseWriter, r *http.Request) {
	info, err := h.gate.SessionState(gateRequest(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, SessionResponse{Info: info})
}

// EndSession stops tracking the caller's session.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	h.gate.EndSession(gateRequest(r))
	w.WriteHeader(http.StatusNoContent)
}

// Notices lists the caller's enforcement notices.
func (h *Handler) Notices(w http.ResponseWriter, r *http.Request) {
	notices := h.gate.Notices(gateRequest(r))
	if notices == nil {
		notices = []models.Notice{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"notices": notices})
}
