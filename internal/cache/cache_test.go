// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func TestWindowStore_Sliding(t *testing.T) {
	s := NewWindowStore(time.Minute, 6, 0)

	tests := []struct {
		offset time.Duration
		want   int64
	}{
		{0, 1},
		{5 * time.Second, 2},
		{30 * time.Second, 3},
		{65 * time.Second, 2}, // first bucket left the window
		{2 * time.Minute, 1},
		{5 * time.Minute, 1},
	}
	for _, tt := range tests {
		if got := s.Add("alice", t0.Add(tt.offset)); got != tt.want {
			t.Errorf("Add at +%v = %d, want %d", tt.offset, got, tt.want)
		}
	}
	if got := s.Count("bob", t0); got != 0 {
		t.Errorf("Count(unknown) = %d", got)
	}
}

func TestWindowStore_CleanupAndBound(t *testing.T) {
	s := NewWindowStore(time.Minute, 6, 2)
	s.Add("a", t0)
	s.Add("b", t0)
	s.Add("c", t0.Add(2*time.Minute))

	if s.Len() != 1 {
		t.Errorf("idle windows not evicted, Len = %d", s.Len())
	}
	if n := s.Cleanup(t0.Add(10 * time.Minute)); n != 1 || s.Len() != 0 {
		t.Errorf("Cleanup = %d, Len = %d", n, s.Len())
	}

	s.Add("x", t0)
	s.Add("y", t0)
	s.Add("z", t0)
	if s.Len() != 2 {
		t.Errorf("maxKeys not enforced, Len = %d", s.Len())
	}
}

func TestWindowStore_Concurrent(t *testing.T) {
	s := NewWindowStore(time.Hour, 10, 0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Add("k", t0)
			}
		}()
	}
	wg.Wait()
	if got := s.Count("k", t0); got != 800 {
		t.Errorf("Count = %d, want 800", got)
	}
}

func TestDistinctStore(t *testing.T) {
	s := NewDistinctStore(time.Hour, 0)

	if n := s.Add("alice", "192.0.2.1", t0); n != 1 {
		t.Errorf("first Add = %d", n)
	}
	if n := s.Add("alice", "192.0.2.1", t0.Add(time.Minute)); n != 1 {
		t.Errorf("repeat Add = %d", n)
	}
	if n := s.Add("alice", "198.51.100.7", t0.Add(2*time.Minute)); n != 2 {
		t.Errorf("second value Add = %d", n)
	}
	if n := s.Add("alice", "203.0.113.9", t0.Add(62*time.Minute)); n != 2 {
		t.Errorf("Add after window = %d, want 2", n)
	}
	if got := s.Distinct("alice", t0.Add(3*time.Hour)); len(got) != 0 {
		t.Errorf("Distinct after window = %v", got)
	}
	if n := s.Cleanup(t0.Add(3 * time.Hour)); n != 1 {
		t.Errorf("Cleanup = %d", n)
	}
}

func TestLRU(t *testing.T) {
	c := NewLRU[int](2, time.Minute)
	now := t0
	c.now = func() time.Time { return now }

	c.Add("a", 1)
	c.Add("b", 2)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v", v, ok)
	}
	c.Add("c", 3) // evicts b, the least recently used
	if _, ok := c.Get("b"); ok {
		t.Error("b not evicted")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d", c.Len())
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Error("expired entry returned")
	}
	if !c.Remove("c") || c.Remove("c") {
		t.Error("Remove semantics wrong")
	}
	hits, misses := c.Stats()
	if hits != 1 || misses != 2 {
		t.Errorf("Stats = %d hits, %d misses", hits, misses)
	}
}

func TestLRU_Concurrent(t *testing.T) {
	c := NewLRU[string](50, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", (i*100+j)%75)
				c.Add(key, key)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
	if c.Len() > 50 {
		t.Errorf("Len = %d exceeds capacity", c.Len())
	}
}
