// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tomtom215/thesisguard/internal/logging"
)

// HTTPServer is the lifecycle subset of *http.Server.
//
// In production it is the *http.Server built in cmd/server. Tests use a fake
// that blocks in ListenAndServe until Shutdown is called.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService runs an HTTP server under supervision in the API layer
// of the tree.
//
// It adapts the blocking ListenAndServe call to suture's Serve contract:
//
//  1. ListenAndServe runs in its own goroutine
//  2. Serve waits for a listener error or for ctx to be cancelled
//  3. On cancellation, Shutdown drains in-flight requests, bounded by
//     shutdownTimeout, before Serve returns
//
// A listener error (port in use, for example) is returned so the supervisor
// restarts the service with backoff.
//
// Example:
//
//	server := &http.Server{Addr: cfg.Server.Addr(), Handler: router.Setup()}
//	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
	name            string
}

// NewHTTPServerService wraps server.
//
// shutdownTimeout is how long in-flight access checks and violation reports
// get to finish once shutdown starts; it comes from HTTP_SHUTDOWN_TIMEOUT.
// A non-positive value defaults to 10 seconds.
func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
		name:            "http-server",
	}
}

// Serve implements suture.Service.
//
// It returns:
//   - a wrapped error if ListenAndServe fails
//   - nil if the listener stops on its own
//   - ctx.Err() after a completed graceful shutdown
//   - a wrapped error if Shutdown exceeds the timeout
//
// http.ErrServerClosed is the normal result of Shutdown and is not reported.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		// ctx is already cancelled; drain on a fresh deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		logging.Info().Dur("timeout", h.shutdownTimeout).Msg("Draining HTTP connections")
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// String implements fmt.Stringer for suture's logs.
func (h *HTTPServerService) String() string {
	return h.name
}
