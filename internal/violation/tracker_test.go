// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package violation

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/thesisguard/internal/audit"
	"github.com/tomtom215/thesisguard/internal/metrics"
	"github.com/tomtom215/thesisguard/internal/models"
	"github.com/tomtom215/thesisguard/internal/policy"
)

// mockEnforcer records calls and answers from the real decision table.
type mockEnforcer struct {
	registry *policy.Registry

	mu         sync.Mutex
	counts     []int
	dispatched []models.Violation
}

func (m *mockEnforcer) DetermineActions(v *models.Violation, count int) []models.EnforcementAction {
	m.mu.Lock()
	m.counts = append(m.counts, count)
	m.mu.Unlock()

	p, ok := m.registry.Active(v.PolicyID)
	if !ok {
		return nil
	}
	rule, _ := m.registry.Rule(v.PolicyID)
	return rule(v, count, p)
}

func (m *mockEnforcer) Dispatch(_ context.Context, v *models.Violation, _ []models.EnforcementAction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatched = append(m.dispatched, *v)
}

type mockAudit struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (m *mockAudit) Log(event *audit.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func newTestTracker(t *testing.T) (*Tracker, *mockEnforcer, *mockAudit, *policy.Registry) {
	t.Helper()
	reg, err := policy.NewRegistry(policy.Config{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	enf := &mockEnforcer{registry: reg}
	aud := &mockAudit{}
	return NewTracker(reg, enf, aud), enf, aud, reg
}

func TestTracker_UnknownPolicyIsNoop(t *testing.T) {
	tr, enf, aud, _ := newTestTracker(t)

	actions := tr.Report(context.Background(), models.Violation{PolicyID: "no_such_policy", Type: "x", PrincipalID: "alice"})
	if actions == nil || len(actions) != 0 {
		t.Errorf("actions = %v, want empty non-nil slice", actions)
	}
	if tr.Len() != 0 {
		t.Errorf("Len = %d, want 0", tr.Len())
	}
	if len(enf.counts) != 0 || len(aud.events) != 0 {
		t.Error("unknown policy reached enforcer or audit")
	}
}

func TestTracker_DisabledPolicyIsNoop(t *testing.T) {
	tr, _, _, reg := newTestTracker(t)
	reg.SetEnabled(policy.ScreenshotProtection, false)

	actions := tr.Report(context.Background(), models.Violation{PolicyID: policy.ScreenshotProtection, Type: "print", PrincipalID: "alice"})
	if len(actions) != 0 {
		t.Errorf("actions = %v, want none", actions)
	}
	if got := tr.Count("alice", policy.ScreenshotProtection); got != 0 {
		t.Errorf("Count = %d, want 0", got)
	}
}

func TestTracker_ReportCountsAndAudits(t *testing.T) {
	tr, enf, aud, _ := newTestTracker(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		tr.Report(ctx, models.Violation{PolicyID: policy.ScreenshotProtection, Type: "print_screen", PrincipalID: "alice"})
		if got := tr.Count("alice", policy.ScreenshotProtection); got != i {
			t.Fatalf("after report %d Count = %d", i, got)
		}
	}
	if got := tr.Count("bob", policy.ScreenshotProtection); got != 0 {
		t.Errorf("bob Count = %d, want 0", got)
	}
	if len(aud.events) != 3 {
		t.Errorf("audit events = %d, want 3", len(aud.events))
	}
	if len(enf.dispatched) != 3 {
		t.Errorf("dispatched = %d, want 3", len(enf.dispatched))
	}
	if enf.dispatched[0].Severity != models.SeverityMedium {
		t.Errorf("severity defaulted to %q, want policy severity", enf.dispatched[0].Severity)
	}
	if enf.dispatched[0].Timestamp.IsZero() {
		t.Error("timestamp not filled")
	}
}

func TestTracker_AnonymousKey(t *testing.T) {
	tr, _, _, _ := newTestTracker(t)
	tr.Report(context.Background(), models.Violation{PolicyID: policy.TextSelectionProtection, Type: "copy"})
	if got := tr.Count(models.AnonymousID, policy.TextSelectionProtection); got != 1 {
		t.Errorf("anonymous Count = %d, want 1", got)
	}
	if got := tr.Count("", policy.TextSelectionProtection); got != 1 {
		t.Errorf("empty principal Count = %d, want 1", got)
	}
}

func TestTracker_CounterMonotonic(t *testing.T) {
	tr, _, _, _ := newTestTracker(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	principals := []string{"alice", "bob", ""}
	policies := []string{policy.ScreenshotProtection, policy.TextSelectionProtection, policy.RateLimiting, "bogus"}
	last := make(map[Key]int)

	for i := 0; i < 300; i++ {
		v := models.Violation{
			PolicyID:    policies[rng.Intn(len(policies))],
			Type:        "event",
			PrincipalID: principals[rng.Intn(len(principals))],
		}
		tr.Report(ctx, v)

		for _, p := range principals {
			for _, pol := range policies {
				key := Key{PrincipalID: models.PrincipalKey(p), PolicyID: pol}
				got := tr.Count(p, pol)
				if got < last[key] {
					t.Fatalf("counter %v decreased from %d to %d", key, last[key], got)
				}
				last[key] = got
			}
		}
	}
}

func TestTracker_ConcurrentReports(t *testing.T) {
	tr, _, _, _ := newTestTracker(t)
	ctx := context.Background()

	const workers, perWorker = 20, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				tr.Report(ctx, models.Violation{PolicyID: policy.TextSelectionProtection, Type: "copy", PrincipalID: "shared"})
				tr.Report(ctx, models.Violation{PolicyID: policy.TextSelectionProtection, Type: "copy", PrincipalID: "p" + strconv.Itoa(w)})
			}
		}(w)
	}
	wg.Wait()

	if got := tr.Count("shared", policy.TextSelectionProtection); got != workers*perWorker {
		t.Errorf("shared Count = %d, want %d", got, workers*perWorker)
	}
	for w := 0; w < workers; w++ {
		if got := tr.Count("p"+strconv.Itoa(w), policy.TextSelectionProtection); got != perWorker {
			t.Errorf("p%d Count = %d, want %d", w, got, perWorker)
		}
	}
	if n := tr.lanes.size() + tr.exec.size(); n != 0 {
		t.Errorf("lanes left behind: %d", n)
	}
}

func TestTracker_ResetAndCleanup(t *testing.T) {
	tr, _, _, _ := newTestTracker(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	tr.Report(ctx, models.Violation{PolicyID: policy.ScreenshotProtection, Type: "x", PrincipalID: "alice"})
	tr.Report(ctx, models.Violation{PolicyID: policy.TextSelectionProtection, Type: "x", PrincipalID: "alice"})
	tr.Report(ctx, models.Violation{PolicyID: policy.ScreenshotProtection, Type: "x", PrincipalID: "bob"})

	if n := tr.Reset("alice", policy.ScreenshotProtection); n != 1 {
		t.Errorf("Reset one = %d, want 1", n)
	}
	if counts := tr.Counts("alice"); len(counts) != 1 || counts[policy.TextSelectionProtection] != 1 {
		t.Errorf("Counts(alice) = %v", counts)
	}
	if n := tr.Reset("alice", ""); n != 1 {
		t.Errorf("Reset all = %d, want 1", n)
	}

	now = now.Add(2 * time.Hour)
	tr.Report(ctx, models.Violation{PolicyID: policy.TextSelectionProtection, Type: "x", PrincipalID: "carol"})

	if n := tr.Cleanup(time.Hour); n != 1 {
		t.Errorf("Cleanup = %d, want 1 (bob)", n)
	}
	if tr.Count("bob", policy.ScreenshotProtection) != 0 || tr.Count("carol", policy.TextSelectionProtection) != 1 {
		t.Error("Cleanup removed the wrong counters")
	}
}

func TestLanes_FIFO(t *testing.T) {
	l := newLanes()
	release := l.acquire("alice")

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := l.acquire("alice")
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			r()
		}(i)

		// Wait for the goroutine to take its ticket before starting the next.
		deadline := time.Now().Add(2 * time.Second)
		for {
			l.mu.Lock()
			taken := l.lanes["alice"].next
			l.mu.Unlock()
			if taken == uint64(i+1) {
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("waiter did not queue")
			}
			time.Sleep(time.Millisecond)
		}
	}

	release()
	wg.Wait()

	for i, got := range order {
		if got != i+1 {
			t.Fatalf("order = %v, want [1 2 3]", order)
		}
	}
	if l.size() != 0 {
		t.Errorf("lane not freed")
	}
}

func TestTracker_IgnoredPolicyMetricLabels(t *testing.T) {
	tr, _, _, reg := newTestTracker(t)
	ctx := context.Background()

	unknown := metrics.ViolationsReported.WithLabelValues("unknown", "ignored")
	before := testutil.ToFloat64(unknown)
	series := testutil.CollectAndCount(metrics.ViolationsReported)

	for i := 0; i < 200; i++ {
		tr.Report(ctx, models.Violation{PolicyID: "junk_" + strconv.Itoa(i), Type: "x", PrincipalID: "alice"})
	}
	if got := testutil.ToFloat64(unknown) - before; got != 200 {
		t.Errorf("unknown ignored = %v, want 200", got)
	}
	if got := testutil.CollectAndCount(metrics.ViolationsReported); got != series {
		t.Errorf("series = %d, want %d; client policy IDs leaked into labels", got, series)
	}

	reg.SetEnabled(policy.RateLimiting, false)
	disabled := metrics.ViolationsReported.WithLabelValues(policy.RateLimiting, "ignored")
	before = testutil.ToFloat64(disabled)
	tr.Report(ctx, models.Violation{PolicyID: policy.RateLimiting, Type: "burst", PrincipalID: "alice"})
	if got := testutil.ToFloat64(disabled) - before; got != 1 {
		t.Errorf("disabled policy ignored = %v, want 1", got)
	}
}

// gatedEnforcer blocks Dispatch for violations from blockIP until released.
type gatedEnforcer struct {
	mockEnforcer
	blockIP string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedEnforcer) Dispatch(ctx context.Context, v *models.Violation, actions []models.EnforcementAction) {
	if v.IP == g.blockIP {
		g.entered <- struct{}{}
		<-g.release
	}
	g.mockEnforcer.Dispatch(ctx, v, actions)
}

func TestTracker_SlowDispatchHoldsNoLane(t *testing.T) {
	reg, err := policy.NewRegistry(policy.Config{})
	if err != nil {
		t.Fatal(err)
	}
	enf := &gatedEnforcer{
		mockEnforcer: mockEnforcer{registry: reg},
		blockIP:      "10.0.0.1",
		entered:      make(chan struct{}, 1),
		release:      make(chan struct{}),
	}
	tr := NewTracker(reg, enf, nil)
	ctx := context.Background()

	slow := make(chan struct{})
	go func() {
		defer close(slow)
		tr.Report(ctx, models.Violation{PolicyID: policy.DevToolsDetection, Type: "devtools_open", IP: "10.0.0.1"})
	}()
	select {
	case <-enf.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first dispatch never started")
	}

	other := make(chan struct{})
	go func() {
		defer close(other)
		tr.Report(ctx, models.Violation{PolicyID: policy.DevToolsDetection, Type: "devtools_open", IP: "10.0.0.2"})
	}()
	select {
	case <-other:
	case <-time.After(2 * time.Second):
		t.Fatal("anonymous report from another IP waited for a slow dispatch")
	}
	if got := tr.Count(models.AnonymousID, policy.DevToolsDetection); got != 2 {
		t.Errorf("anonymous Count = %d, want 2", got)
	}

	close(enf.release)
	<-slow
	if n := tr.lanes.size() + tr.exec.size(); n != 0 {
		t.Errorf("lanes left behind: %d", n)
	}
}

func TestTracker_DispatchOrderPerPrincipal(t *testing.T) {
	reg, err := policy.NewRegistry(policy.Config{})
	if err != nil {
		t.Fatal(err)
	}
	enf := &gatedEnforcer{
		mockEnforcer: mockEnforcer{registry: reg},
		blockIP:      "10.0.0.1",
		entered:      make(chan struct{}, 1),
		release:      make(chan struct{}),
	}
	tr := NewTracker(reg, enf, nil)
	ctx := context.Background()

	first := make(chan struct{})
	go func() {
		defer close(first)
		tr.Report(ctx, models.Violation{PolicyID: policy.ScreenshotProtection, Type: "first", PrincipalID: "alice", IP: "10.0.0.1"})
	}()
	<-enf.entered

	second := make(chan struct{})
	go func() {
		defer close(second)
		tr.Report(ctx, models.Violation{PolicyID: policy.ScreenshotProtection, Type: "second", PrincipalID: "alice", IP: "10.0.0.9"})
	}()

	// The second report is counted while the first is still dispatching.
	deadline := time.Now().Add(2 * time.Second)
	for tr.Count("alice", policy.ScreenshotProtection) != 2 {
		if time.Now().After(deadline) {
			t.Fatal("second report was not counted while the first dispatched")
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case <-second:
		t.Fatal("second dispatch overtook the first")
	case <-time.After(20 * time.Millisecond):
	}

	close(enf.release)
	<-first
	<-second

	enf.mu.Lock()
	defer enf.mu.Unlock()
	if len(enf.dispatched) != 2 || enf.dispatched[0].Type != "first" || enf.dispatched[1].Type != "second" {
		t.Errorf("dispatch order = %+v", enf.dispatched)
	}
}
