// Copyright (C) 2026 Windvane AI (eng@windvane.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package invoker

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var reachabilityCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "windvane",
	Subsystem: "invoker",
	Name:      "reachability_cache_total",
	Help:      "Reachability cache lookups: hit, miss",
}, []string{"outcome"})

// =============================================================================
// ReachabilityCache
// =============================================================================

// ReachabilityCache remembers which tools have answered a reachability
// probe.
//
// Description:
//
//	Positive-only: a confirmed-reachable tool is cached for the process
//	lifetime so the fleet is probed at most once per tool. Negative results
//	are NOT cached — an absent tool may be deploying, and the next query
//	should probe again rather than fail from a stale verdict.
//
//	The diagnostics runner shares this cache with the invoker so its
//	reachability checks reflect (and warm) the same state the dispatch
//	path uses.
//
// Thread Safety: Safe for concurrent use.
type ReachabilityCache struct {
	mu      sync.RWMutex
	reached map[string]struct{}
}

// NewReachabilityCache creates an empty cache.
func NewReachabilityCache() *ReachabilityCache {
	return &ReachabilityCache{reached: make(map[string]struct{})}
}

// Known reports whether the named tool has a cached positive verdict.
func (c *ReachabilityCache) Known(name string) bool {
	c.mu.RLock()
	_, ok := c.reached[name]
	c.mu.RUnlock()
	if ok {
		reachabilityCacheTotal.WithLabelValues("hit").Inc()
	} else {
		reachabilityCacheTotal.WithLabelValues("miss").Inc()
	}
	return ok
}

// MarkReachable records a positive probe result for the named tool.
func (c *ReachabilityCache) MarkReachable(name string) {
	c.mu.Lock()
	c.reached[name] = struct{}{}
	c.mu.Unlock()
}

// Len returns the number of cached tools.
func (c *ReachabilityCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.reached)
}
