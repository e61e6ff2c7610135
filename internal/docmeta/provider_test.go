// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package docmeta

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/thesisguard/internal/breaker"
)

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider(map[string]int{"thesis-1": 120})
	ctx := context.Background()

	if n, err := p.PageCount(ctx, "thesis-1"); err != nil || n != 120 {
		t.Errorf("PageCount = %d, %v", n, err)
	}
	if _, err := p.PageCount(ctx, "missing"); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("PageCount(missing) = %v", err)
	}
	p.Set("missing", 7)
	if n, _ := p.PageCount(ctx, "missing"); n != 7 {
		t.Errorf("after Set = %d", n)
	}
}

func TestHTTPProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/documents/thesis-1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"page_count": 42}`))
		case "/documents/broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	b := breaker.New("docmeta-test", breaker.Settings{MinRequests: 100, FailureRatio: 1, Interval: time.Minute, Timeout: time.Second})
	p := NewHTTPProvider(HTTPConfig{BaseURL: server.URL + "/", Token: "tok"}, b)
	ctx := context.Background()

	tests := []struct {
		id       string
		want     int
		wantErr  bool
		notFound bool
	}{
		{id: "thesis-1", want: 42},
		{id: "unknown", wantErr: true, notFound: true},
		{id: "broken", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			n, err := p.PageCount(ctx, tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PageCount = %d, %v", n, err)
			}
			if tt.notFound && !errors.Is(err, ErrDocumentNotFound) {
				t.Errorf("err = %v, want ErrDocumentNotFound", err)
			}
			if n != tt.want {
				t.Errorf("pages = %d, want %d", n, tt.want)
			}
		})
	}
}

type countingProvider struct {
	calls atomic.Int32
	pages int
	err   error
}

func (c *countingProvider) PageCount(context.Context, string) (int, error) {
	c.calls.Add(1)
	return c.pages, c.err
}

func TestCachedProvider(t *testing.T) {
	next := &countingProvider{pages: 30}
	p := NewCachedProvider(next, 10, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if n, err := p.PageCount(ctx, "thesis-1"); err != nil || n != 30 {
			t.Fatalf("PageCount = %d, %v", n, err)
		}
	}
	if next.calls.Load() != 1 {
		t.Errorf("backend calls = %d, want 1", next.calls.Load())
	}

	p.Invalidate("thesis-1")
	_, _ = p.PageCount(ctx, "thesis-1")
	if next.calls.Load() != 2 {
		t.Errorf("backend calls after Invalidate = %d, want 2", next.calls.Load())
	}

	failing := &countingProvider{err: errors.New("down")}
	fp := NewCachedProvider(failing, 10, time.Minute)
	_, _ = fp.PageCount(ctx, "x")
	_, _ = fp.PageCount(ctx, "x")
	if failing.calls.Load() != 2 {
		t.Errorf("errors were cached: calls = %d", failing.calls.Load())
	}
}
