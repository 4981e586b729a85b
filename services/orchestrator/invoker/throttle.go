// Copyright (C) 2026 Windvane AI (eng@windvane.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package invoker

import (
	"sync"
	"time"
)

// =============================================================================
// Outbound Throttle
// =============================================================================

// Throttle bounds the rate of outbound tool calls over a sliding window.
//
// Description:
//
//	Allow records the call timestamp when the window has room and rejects
//	otherwise. Rejections surface as throttled failures, which the retry
//	policy treats as transient. A zero-limit throttle allows everything.
//
// Thread Safety: Safe for concurrent use.
type Throttle struct {
	// Limit is the maximum calls per window. Zero disables throttling.
	Limit int

	// Window is the sliding window length.
	Window time.Duration

	mu     sync.Mutex
	stamps []time.Time
	now    func() time.Time
}

// NewThrottle creates a throttle allowing limit calls per window.
func NewThrottle(limit int, window time.Duration) *Throttle {
	return &Throttle{Limit: limit, Window: window, now: time.Now}
}

// Allow reports whether one more call fits in the current window, recording
// it if so.
func (t *Throttle) Allow() bool {
	if t == nil || t.Limit <= 0 {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	cutoff := now.Add(-t.Window)
	live := t.stamps[:0]
	for _, s := range t.stamps {
		if s.After(cutoff) {
			live = append(live, s)
		}
	}
	t.stamps = live

	if len(t.stamps) >= t.Limit {
		return false
	}
	t.stamps = append(t.stamps, now)
	return true
}
