// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package services

import (
	"context"
)

// Runner is a component with a blocking background loop that returns
// when ctx is cancelled. Satisfied by *enforcement.Engine (batch worker)
// and *session.Manager (inactivity sweeper).
type Runner interface {
	RunWithContext(ctx context.Context) error
}

// RunnerService wraps a Runner as a supervised service.
type RunnerService struct {
	runner Runner
	name   string
}

// NewRunnerService creates a service that delegates to r.RunWithContext.
func NewRunnerService(name string, r Runner) *RunnerService {
	return &RunnerService{runner: r, name: name}
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	return s.runner.RunWithContext(ctx)
}

// String implements fmt.Stringer.
func (s *RunnerService) String() string {
	return s.name
}

// FuncService adapts a loop function whose signature does not fit Runner,
// such as the engine's invalidation retry loop or the tracker's cleanup.
type FuncService struct {
	fn   func(ctx context.Context) error
	name string
}

// NewFuncService creates a service that runs fn.
func NewFuncService(name string, fn func(ctx context.Context) error) *FuncService {
	return &FuncService{fn: fn, name: name}
}

// Serve implements suture.Service.
func (s *FuncService) Serve(ctx context.Context) error {
	return s.fn(ctx)
}

// String implements fmt.Stringer.
func (s *FuncService) String() string {
	return s.name
}
