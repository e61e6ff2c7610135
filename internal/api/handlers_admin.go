// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/thesisguard/internal/auth"
	"github.com/tomtom215/thesisguard/internal/models"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

// ListPolicies returns every policy and its state.
func (h *Handler) ListPolicies(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"policies": h.gate.Policies()})
}

// EnablePolicy turns a policy on.
func (h *Handler) EnablePolicy(w http.ResponseWriter, r *http.Request) {
	h.setPolicy(w, r, true)
}

// DisablePolicy turns a policy off.
func (h *Handler) DisablePolicy(w http.ResponseWriter, r *http.Request) {
	h.setPolicy(w, r, false)
}

func (h *Handler) setPolicy(w http.ResponseWriter, r *http.Request, enabled bool) {
	p, err := h.gate.SetPolicyEnabled(r.Context(), auth.PrincipalFromContext(r.Context()), chi.URLParam(r, "id"), enabled)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// ViolationCounts returns a principal's violation counters.
func (h *Handler) ViolationCounts(w http.ResponseWriter, r *http.Request) {
	principalID := chi.URLParam(r, "id")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"principal_id": models.PrincipalKey(principalID),
		"counts":       h.gate.ViolationCounts(principalID),
	})
}

// ResetCounters clears a principal's counters, optionally for one policy.
func (h *Handler) ResetCounters(w http.ResponseWriter, r *http.Request) {
	n := h.gate.ResetCounters(r.Context(), auth.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "id"), r.URL.Query().Get("policy_id"))
	respondJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

// GrantDownload issues a download permission.
func (h *Handler) GrantDownload(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.gate.GrantDownload(r.Context(), auth.PrincipalFromContext(r.Context()), req.toDownload())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

// Alerts lists recent security alerts.
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAlertLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAlertLimit)
	}
	alerts, err := h.gate.Alerts(r.Context(), limit)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}

// Restrictions lists restrictions in force.
func (h *Handler) Restrictions(w http.ResponseWriter, r *http.Request) {
	list, err := h.gate.Restrictions(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if list == nil {
		list = []models.Restriction{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"restrictions": list})
}

// LiftRestriction removes a restriction early.
func (h *Handler) LiftRestriction(w http.ResponseWriter, r *http.Request) {
	lifted, err := h.gate.LiftRestriction(r.Context(), auth.PrincipalFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if !lifted {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "restriction not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
