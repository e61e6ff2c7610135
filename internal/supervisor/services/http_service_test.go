// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

var (
	_ suture.Service = (*HTTPServerService)(nil)
	_ suture.Service = (*RunnerService)(nil)
	_ suture.Service = (*FuncService)(nil)
)

// fakeServer blocks in ListenAndServe until Shutdown unless listenErr is set.
type fakeServer struct {
	listenErr   error
	shutdownErr error
	started     chan struct{}
	stop        chan struct{}
	shutdowns   atomic.Int32
}

func newFakeServer() *fakeServer {
	return &fakeServer{started: make(chan struct{}, 1), stop: make(chan struct{})}
}

func (f *fakeServer) ListenAndServe() error {
	select {
	case f.started <- struct{}{}:
	default:
	}
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(context.Context) error {
	if f.shutdowns.Add(1) == 1 {
		close(f.stop)
	}
	return f.shutdownErr
}

func TestNewHTTPServerService_DefaultTimeout(t *testing.T) {
	for _, timeout := range []time.Duration{0, -time.Second} {
		if svc := NewHTTPServerService(newFakeServer(), timeout); svc.shutdownTimeout != 10*time.Second {
			t.Errorf("timeout %v: shutdownTimeout = %v, want 10s", timeout, svc.shutdownTimeout)
		}
	}
	if got := NewHTTPServerService(newFakeServer(), time.Second).String(); got != "http-server" {
		t.Errorf("String() = %q", got)
	}
}

func TestHTTPServerService_Serve(t *testing.T) {
	bindErr := errors.New("bind: address already in use")
	drainErr := errors.New("drain deadline exceeded")

	tests := []struct {
		name        string
		listenErr   error
		shutdownErr error
		cancel      bool
		wantErr     error
	}{
		{"graceful shutdown on cancel", nil, nil, true, context.Canceled},
		{"startup failure", bindErr, nil, false, bindErr},
		{"shutdown failure", nil, drainErr, true, drainErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newFakeServer()
			server.listenErr = tt.listenErr
			server.shutdownErr = tt.shutdownErr
			svc := NewHTTPServerService(server, time.Second)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			errCh := make(chan error, 1)
			go func() { errCh <- svc.Serve(ctx) }()

			select {
			case <-server.started:
			case <-time.After(time.Second):
				t.Fatal("server did not start")
			}
			if tt.cancel {
				cancel()
			}

			select {
			case err := <-errCh:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Serve() error = %v, want %v", err, tt.wantErr)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("Serve did not return")
			}
			if tt.cancel && server.shutdowns.Load() != 1 {
				t.Errorf("Shutdown called %d times, want 1", server.shutdowns.Load())
			}
		})
	}
}

type loopRunner struct{ runs atomic.Int32 }

func (r *loopRunner) RunWithContext(ctx context.Context) error {
	r.runs.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestRunnerAndFuncServices(t *testing.T) {
	runner := &loopRunner{}
	var calls atomic.Int32

	sup := suture.New("test", suture.Spec{Timeout: time.Second})
	sup.Add(NewRunnerService("enforcement-batch", runner))
	sup.Add(NewFuncService("violation-cleanup", func(ctx context.Context) error {
		calls.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := sup.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && (runner.runs.Load() == 0 || calls.Load() == 0) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-errCh

	if runner.runs.Load() != 1 || calls.Load() != 1 {
		t.Errorf("runner runs = %d, func calls = %d, want 1 each", runner.runs.Load(), calls.Load())
	}
	if got := NewFuncService("violation-cleanup", nil).String(); got != "violation-cleanup" {
		t.Errorf("String() = %q", got)
	}
}
