// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/thesisguard/internal/download"
	"github.com/tomtom215/thesisguard/internal/gate"
	"github.com/tomtom215/thesisguard/internal/logging"
	"github.com/tomtom215/thesisguard/internal/models"
	"github.com/tomtom215/thesisguard/internal/validation"
	"github.com/tomtom215/thesisguard/internal/watermark"
)

// Error codes produced by the transport itself.
const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeNotFound      = "not_found"
	ErrCodeInternalError = "internal_error"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error models.Denial `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorBody{Error: models.Denial{Code: code, Message: message}})
}

// denialStatus maps denial codes to HTTP statuses.
var denialStatus = map[string]int{
	models.CodeNetworkDisabled:  http.StatusForbidden,
	models.CodeNoGrant:          http.StatusForbidden,
	models.CodeGrantExhausted:   http.StatusForbidden,
	models.CodeGrantExpired:     http.StatusForbidden,
	models.CodeAccountBlocked:   http.StatusForbidden,
	models.CodeAccessRestricted: http.StatusForbidden,
	models.CodeForbidden:        http.StatusForbidden,
	models.CodeSessionExpired:   http.StatusUnauthorized,
	models.CodeSessionNotFound:  http.StatusNotFound,
	models.CodeExtensionLimit:   http.StatusConflict,
}

// respondErr renders err. Denials and validation failures keep their code
// and message; anything else is logged and reported as an internal error.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var denial *models.Denial
	var verr *validation.RequestValidationError
	switch {
	case errors.As(err, &verr):
		apiErr := verr.ToAPIError()
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message)
	case errors.As(err, &denial):
		status, ok := denialStatus[denial.Code]
		if !ok {
			status = http.StatusForbidden
		}
		respondError(w, status, denial.Code, denial.Message)
	case errors.Is(err, download.ErrGrantNotFound):
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "download permission not found")
	case errors.Is(err, gate.ErrPolicyNotFound):
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "policy not found")
	case errors.Is(err, download.ErrInvalidLevel),
		errors.Is(err, watermark.ErrMissingDocument),
		errors.Is(err, watermark.ErrUnknownKind):
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	default:
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "the request could not be completed")
	}
}

// decodeJSON reads a bounded JSON body into dst and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "malformed JSON body")
		return false
	}
	if verr := validation.ValidateStruct(dst); verr != nil {
		respondErr(w, r, verr)
		return false
	}
	return true
}

const maxBodyBytes = 64 << 10
