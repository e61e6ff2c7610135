// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RequestDownload returns a usable download permission.
func (h *Handler) RequestDownload(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.gate.RequestDownload(r.Context(), gateRequest(r), req.DocumentID, req.Level, req.Justification)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// ConsumeDownload records one download against a permission.
func (h *Handler) ConsumeDownload(w http.ResponseWriter, r *http.Request) {
	p, err := h.gate.ConsumeDownload(r.Context(), gateRequest(r), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// ApplyWatermark returns the caller's watermark for a document.
func (h *Handler) ApplyWatermark(w http.ResponseWriter, r *http.Request) {
	var req WatermarkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := h.gate.ApplyWatermark(r.Context(), gateRequest(r), req.DocumentID, req.Kind)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, WatermarkResponse{Record: rec, Text: rec.Text()})
}

// VerifyWatermark checks a watermark found on a document copy.
func (h *Handler) VerifyWatermark(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"valid": h.gate.VerifyWatermark(req.WatermarkID, req.Hash)})
}

// EndViewing deactivates the caller's view watermark for a document.
func (h *Handler) EndViewing(w http.ResponseWriter, r *http.Request) {
	if !h.gate.EndViewing(gateRequest(r), chi.URLParam(r, "id")) {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "no active viewing for this document")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
