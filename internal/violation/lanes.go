// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package violation

import "sync"

// lane is a ticket lock: holders are served strictly in arrival order.
type lane struct {
	cond    *sync.Cond
	next    uint64
	serving uint64
	users   int
}

// lanes hands out one lane per principal and frees it when idle.
type lanes struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

func newLanes() *lanes {
	return &lanes{lanes: make(map[string]*lane)}
}

// acquire blocks until it is key's turn and returns the release func.
func (l *lanes) acquire(key string) func() {
	wait, release := l.enqueue(key)
	wait()
	return release
}

// enqueue takes a ticket now and waits for it later. Tickets taken while
// holding another lane keep that lane's order.
func (l *lanes) enqueue(key string) (wait, release func()) {
	l.mu.Lock()
	ln, ok := l.lanes[key]
	if !ok {
		ln = &lane{cond: sync.NewCond(&l.mu)}
		l.lanes[key] = ln
	}
	ln.users++
	ticket := ln.next
	ln.next++
	l.mu.Unlock()

	wait = func() {
		l.mu.Lock()
		for ln.serving != ticket {
			ln.cond.Wait()
		}
		l.mu.Unlock()
	}
	release = func() {
		l.mu.Lock()
		ln.serving++
		ln.users--
		if ln.users == 0 {
			delete(l.lanes, key)
		} else {
			ln.cond.Broadcast()
		}
		l.mu.Unlock()
	}
	return wait, release
}

// size returns the number of lanes in use.
func (l *lanes) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lanes)
}
