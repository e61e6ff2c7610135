// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package authz

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tomtom215/thesisguard/internal/auth"
	"github.com/tomtom215/thesisguard/internal/models"
)

func TestMiddleware_Authorize(t *testing.T) {
	m := NewMiddleware(setupEnforcer(t, DefaultConfig()))

	tests := []struct {
		name       string
		principal  *models.Principal
		method     string
		path       string
		wantStatus int
		wantCalled bool
	}{
		{
			name:       "admin lifts restriction",
			principal:  &models.Principal{ID: "root", Role: models.RoleAdmin},
			method:     http.MethodDelete,
			path:       "/api/v1/admin/restrictions/r-1",
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
		{
			name:       "archivist issues grant",
			principal:  &models.Principal{ID: "arch", Role: models.RoleArchivist},
			method:     http.MethodPost,
			path:       "/api/v1/admin/downloads",
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
		{
			name:       "archivist cannot disable policy",
			principal:  &models.Principal{ID: "arch", Role: models.RoleArchivist},
			method:     http.MethodPost,
			path:       "/api/v1/admin/policies/dev_tools_detection/disable",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "researcher forbidden",
			principal:  &models.Principal{ID: "rhea", Role: models.RoleResearcher},
			method:     http.MethodGet,
			path:       "/api/v1/admin/alerts",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "anonymous unauthorized",
			method:     http.MethodGet,
			path:       "/api/v1/admin/alerts",
			wantStatus: http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := m.Authorize(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.principal != nil {
				req = req.WithContext(auth.WithPrincipal(req.Context(), *tt.principal, "s-1"))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if called != tt.wantCalled {
				t.Errorf("handler called = %v, want %v", called, tt.wantCalled)
			}
			if tt.wantStatus == http.StatusForbidden && !strings.Contains(rec.Body.String(), `"code":"forbidden"`) {
				t.Errorf("body = %s, want forbidden error code", rec.Body.String())
			}
		})
	}
}

func TestMethodToAction(t *testing.T) {
	tests := map[string]string{
		http.MethodGet:     ActionRead,
		http.MethodHead:    ActionRead,
		http.MethodPost:    ActionWrite,
		http.MethodPut:     ActionWrite,
		http.MethodPatch:   ActionWrite,
		http.MethodDelete:  ActionDelete,
		http.MethodOptions: ActionRead,
	}
	for method, want := range tests {
		if got := methodToAction(method); got != want {
			t.Errorf("methodToAction(%s) = %s, want %s", method, got, want)
		}
	}
}
