// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

// Package docmeta looks up document page counts for the access evaluator.
package docmeta

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/thesisguard/internal/breaker"
	"github.com/tomtom215/thesisguard/internal/cache"
)

// ErrDocumentNotFound is returned for documents the provider does not know.
var ErrDocumentNotFound = errors.New("document not found")

// Provider returns a document's page count.
type Provider interface {
	PageCount(ctx context.Context, documentID string) (int, error)
}

// StaticProvider serves page counts from a fixed table, typically loaded
// from configuration.
type StaticProvider struct {
	mu    sync.RWMutex
	pages map[string]int
}

// NewStaticProvider copies pages into a new provider.
func NewStaticProvider(pages map[string]int) *StaticProvider {
	p := &StaticProvider{pages: make(map[string]int, len(pages))}
	for id, n := range pages {
		p.pages[id] = n
	}
	return p
}

// PageCount implements Provider.
func (p *StaticProvider) PageCount(_ context.Context, documentID string) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, ok := p.pages[documentID]
	if !ok {
		return 0, ErrDocumentNotFound
	}
	return n, nil
}

// Set records a page count.
func (p *StaticProvider) Set(documentID string, pages int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages[documentID] = pages
}

// HTTPConfig configures the catalogue client.
type HTTPConfig struct {
	BaseURL string        `koanf:"base_url"`
	Token   string        `koanf:"token"`
	Timeout time.Duration `koanf:"timeout"`
}

// HTTPProvider asks the document catalogue service for page counts via
// GET {BaseURL}/documents/{id}, expecting {"page_count": n}.
type HTTPProvider struct {
	config  HTTPConfig
	client  *http.Client
	breaker *breaker.Breaker
}

// NewHTTPProvider creates a catalogue client.
func NewHTTPProvider(cfg HTTPConfig, b *breaker.Breaker) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if b == nil {
		b = breaker.New("docmeta", breaker.DefaultSettings())
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPProvider{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: b,
	}
}

type documentResponse struct {
	PageCount int `json:"page_count"`
}

// PageCount implements Provider.
func (p *HTTPProvider) PageCount(ctx context.Context, documentID string) (int, error) {
	var pages int
	notFound := false
	err := p.breaker.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			p.config.BaseURL+"/documents/"+url.PathEscape(documentID), http.NoBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if p.config.Token != "" {
			req.Header.Set("Authorization", "Bearer "+p.config.Token)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("catalogue request failed: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			notFound = true
			return nil
		case resp.StatusCode >= 300:
			return fmt.Errorf("catalogue returned status %d", resp.StatusCode)
		}

		var body documentResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("failed to decode catalogue response: %w", err)
		}
		pages = body.PageCount
		return nil
	})
	if err != nil {
		return 0, err
	}
	if notFound {
		return 0, ErrDocumentNotFound
	}
	return pages, nil
}

// CachedProvider memoizes known page counts from another provider. Unknown
// documents and errors are not cached.
type CachedProvider struct {
	next  Provider
	pages *cache.LRU[int]
}

// NewCachedProvider wraps next with an LRU of the given size and TTL.
func NewCachedProvider(next Provider, size int, ttl time.Duration) *CachedProvider {
	return &CachedProvider{next: next, pages: cache.NewLRU[int](size, ttl)}
}

// PageCount implements Provider.
func (p *CachedProvider) PageCount(ctx context.Context, documentID string) (int, error) {
	if n, ok := p.pages.Get(documentID); ok {
		return n, nil
	}
	n, err := p.next.PageCount(ctx, documentID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.pages.Add(documentID, n)
	}
	return n, nil
}

// Invalidate drops a cached page count.
func (p *CachedProvider) Invalidate(documentID string) {
	p.pages.Remove(documentID)
}
