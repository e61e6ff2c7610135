// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

// Package cache provides bounded in-memory structures used on the request
// path: bucketed sliding-window counters and a TTL-bounded LRU.
package cache

import (
	"sync"
	"time"
)

// Window is a sliding-window counter. Time is divided into buckets and the
// count is the sum of the buckets still inside the window.
//
// Callers pass the current time, so tests control the clock.
type Window struct {
	buckets    []int64
	bucketSize time.Duration
	current    int
	last       time.Time
}

func newWindow(size time.Duration, numBuckets int, now time.Time) *Window {
	return &Window{
		buckets:    make([]int64, numBuckets),
		bucketSize: size / time.Duration(numBuckets),
		last:       now,
	}
}

// advance clears buckets that have left the window.
func (w *Window) advance(now time.Time) {
	elapsed := int(now.Sub(w.last) / w.bucketSize)
	if elapsed <= 0 {
		return
	}
	if elapsed >= len(w.buckets) {
		for i := range w.buckets {
			w.buckets[i] = 0
		}
		w.current = 0
	} else {
		for i := 0; i < elapsed; i++ {
			w.current = (w.current + 1) % len(w.buckets)
			w.buckets[w.current] = 0
		}
	}
	w.last = w.last.Add(time.Duration(elapsed) * w.bucketSize)
}

func (w *Window) sum() int64 {
	var total int64
	for _, n := range w.buckets {
		total += n
	}
	return total
}

// WindowStore keeps one Window per key.
type WindowStore struct {
	mu         sync.Mutex
	windows    map[string]*Window
	size       time.Duration
	numBuckets int
	maxKeys    int
}

// NewWindowStore creates a store of windows of the given size. maxKeys
// bounds memory; 0 means unbounded.
func NewWindowStore(size time.Duration, numBuckets, maxKeys int) *WindowStore {
	if numBuckets <= 0 {
		numBuckets = 10
	}
	if size <= 0 {
		size = time.Minute
	}
	return &WindowStore{
		windows:    make(map[string]*Window),
		size:       size,
		numBuckets: numBuckets,
		maxKeys:    maxKeys,
	}
}

// Add counts one event for key at now and returns the count in the window,
// including this event.
func (s *WindowStore) Add(key string, now time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		if s.maxKeys > 0 && len(s.windows) >= s.maxKeys {
			s.evictIdle(now)
		}
		w = newWindow(s.size, s.numBuckets, now)
		s.windows[key] = w
	}
	w.advance(now)
	w.buckets[w.current]++
	return w.sum()
}

// Count returns the count for key at now.
func (s *WindowStore) Count(key string, now time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok {
		return 0
	}
	w.advance(now)
	return w.sum()
}

// Remove forgets key.
func (s *WindowStore) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
}

// Len returns the number of keys.
func (s *WindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Cleanup removes keys with nothing left in the window and returns how
// many were removed.
func (s *WindowStore) Cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, w := range s.windows {
		w.advance(now)
		if w.sum() == 0 {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

// evictIdle drops idle windows, or an arbitrary one if none are idle.
// Must be called with s.mu held.
func (s *WindowStore) evictIdle(now time.Time) {
	for key, w := range s.windows {
		w.advance(now)
		if w.sum() == 0 {
			delete(s.windows, key)
		}
	}
	if len(s.windows) < s.maxKeys {
		return
	}
	for key := range s.windows {
		delete(s.windows, key)
		return
	}
}

// DistinctStore counts distinct values per key within a sliding window,
// e.g. the IP addresses a principal has used in the last hour.
type DistinctStore struct {
	mu      sync.Mutex
	seen    map[string]map[string]time.Time
	size    time.Duration
	maxKeys int
}

// NewDistinctStore creates a store with the given window size.
func NewDistinctStore(size time.Duration, maxKeys int) *DistinctStore {
	if size <= 0 {
		size = time.Hour
	}
	return &DistinctStore{
		seen:    make(map[string]map[string]time.Time),
		size:    size,
		maxKeys: maxKeys,
	}
}

// Add records value for key at now and returns the number of distinct
// values seen for key within the window.
func (s *DistinctStore) Add(key, value string, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, ok := s.seen[key]
	if !ok {
		if s.maxKeys > 0 && len(s.seen) >= s.maxKeys {
			for k := range s.seen {
				delete(s.seen, k)
				break
			}
		}
		values = make(map[string]time.Time)
		s.seen[key] = values
	}
	values[value] = now
	s.prune(values, now)
	return len(values)
}

// Distinct returns the distinct values for key at now.
func (s *DistinctStore) Distinct(key string, now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	values := s.seen[key]
	s.prune(values, now)
	out := make([]string, 0, len(values))
	for v := range values {
		out = append(out, v)
	}
	return out
}

// Remove forgets key.
func (s *DistinctStore) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, key)
}

// Cleanup removes keys with no values left in the window.
func (s *DistinctStore) Cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, values := range s.seen {
		s.prune(values, now)
		if len(values) == 0 {
			delete(s.seen, key)
			removed++
		}
	}
	return removed
}

func (s *DistinctStore) prune(values map[string]time.Time, now time.Time) {
	cutoff := now.Add(-s.size)
	for v, at := range values {
		if at.Before(cutoff) {
			delete(values, v)
		}
	}
}
