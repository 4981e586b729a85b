// Copyright (C) 2026 Windvane AI (eng@windvane.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/windvane-ai/windvane/services/orchestrator/invoker"
)

func passing(id string, priority int) Check {
	return Check{ID: id, Priority: priority, Run: func(context.Context) error { return nil }}
}

func failing(id string, critical bool, priority int) Check {
	return Check{
		ID:          id,
		Critical:    critical,
		Priority:    priority,
		Run:         func(context.Context) error { return fmt.Errorf("%s broke", id) },
		Remediation: "fix " + id,
	}
}

// =============================================================================
// Aggregation Tests
// =============================================================================

func TestRunner_AllHealthy(t *testing.T) {
	r := NewRunner([]Check{passing("a", 1), passing("b", 2)}, time.Second, slog.Default())

	report := r.RunFull(context.Background())
	if report.Status != StatusHealthy {
		t.Errorf("status = %s, want healthy", report.Status)
	}
	if len(report.Results) != 2 {
		t.Errorf("results = %d, want 2", len(report.Results))
	}
}

func TestRunner_NonCriticalFailureIsDegraded(t *testing.T) {
	r := NewRunner([]Check{passing("a", 1), failing("b", false, 2)}, time.Second, slog.Default())

	report := r.RunFull(context.Background())
	if report.Status != StatusDegraded {
		t.Errorf("status = %s, want degraded", report.Status)
	}
}

func TestRunner_CriticalFailureIsUnhealthy(t *testing.T) {
	r := NewRunner([]Check{failing("a", true, 1), failing("b", false, 2)}, time.Second, slog.Default())

	report := r.RunFull(context.Background())
	if report.Status != StatusUnhealthy {
		t.Errorf("status = %s, want unhealthy", report.Status)
	}
}

func TestRunner_PanicIsErrorStatus(t *testing.T) {
	panicking := Check{ID: "p", Priority: 1, Run: func(context.Context) error { panic("boom") }}
	r := NewRunner([]Check{panicking, passing("a", 2)}, time.Second, slog.Default())

	report := r.RunFull(context.Background())
	if report.Status != StatusError {
		t.Errorf("status = %s, want error", report.Status)
	}
	if report.Results[0].Status != StatusError {
		t.Errorf("panicking check status = %s, want error", report.Results[0].Status)
	}
	// The panic must not take down the sibling check.
	if report.Results[1].Status != StatusHealthy {
		t.Errorf("sibling check status = %s, want healthy", report.Results[1].Status)
	}
}

// =============================================================================
// Ordering and Mode Tests
// =============================================================================

func TestRunner_ResultsInPriorityOrder(t *testing.T) {
	slow := Check{ID: "slow", Priority: 1, Run: func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	}}
	r := NewRunner([]Check{passing("fast", 3), slow, passing("mid", 2)}, time.Second, slog.Default())

	report := r.RunFull(context.Background())
	got := []string{report.Results[0].ID, report.Results[1].ID, report.Results[2].ID}
	want := []string{"slow", "mid", "fast"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("result order = %v, want %v", got, want)
		}
	}
}

func TestRunner_QuickSkipsLiveChecks(t *testing.T) {
	liveRan := false
	live := Check{ID: "live", Priority: 1, Live: true, Run: func(context.Context) error {
		liveRan = true
		return fmt.Errorf("external system down")
	}}
	r := NewRunner([]Check{live, passing("local", 2)}, time.Second, slog.Default())

	report := r.RunQuick(context.Background())
	if liveRan {
		t.Error("quick mode must not execute live checks")
	}
	if !report.Results[0].Skipped {
		t.Error("skipped live check must be marked skipped")
	}
	if report.Status != StatusHealthy {
		t.Errorf("status = %s, want healthy (skips don't fail)", report.Status)
	}

	full := r.RunFull(context.Background())
	if full.Status != StatusDegraded {
		t.Errorf("full mode status = %s, want degraded", full.Status)
	}
}

func TestRunner_FailureCarriesRemediation(t *testing.T) {
	r := NewRunner([]Check{failing("store", false, 1)}, time.Second, slog.Default())

	report := r.RunFull(context.Background())
	res := report.Results[0]
	if res.Remediation != "fix store" {
		t.Errorf("remediation = %q, want %q", res.Remediation, "fix store")
	}
	if res.Detail == "" {
		t.Error("failed check must carry detail")
	}
}

// =============================================================================
// Built-in Check Tests
// =============================================================================

type scriptedClient struct {
	exists      bool
	existsCalls int
}

func (s *scriptedClient) Exists(context.Context, string) (bool, error) {
	s.existsCalls++
	return s.exists, nil
}

func (s *scriptedClient) Invoke(context.Context, string, map[string]any) (map[string]any, error) {
	return nil, fmt.Errorf("not used")
}

func TestToolReachabilityCheck_WarmsSharedCache(t *testing.T) {
	client := &scriptedClient{exists: true}
	cache := invoker.NewReachabilityCache()
	check := ToolReachabilityCheck(client, cache, "terrain_analyzer", true, 1)

	if err := check.Run(context.Background()); err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !cache.Known("terrain_analyzer") {
		t.Error("passing check must warm the shared cache")
	}

	// Second run hits the cache, not the client.
	if err := check.Run(context.Background()); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if client.existsCalls != 1 {
		t.Errorf("existsCalls = %d, want 1", client.existsCalls)
	}
}

func TestToolReachabilityCheck_AbsentToolFails(t *testing.T) {
	client := &scriptedClient{exists: false}
	cache := invoker.NewReachabilityCache()
	check := ToolReachabilityCheck(client, cache, "wake_simulator", false, 1)

	if err := check.Run(context.Background()); err == nil {
		t.Error("absent tool must fail the check")
	}
	if cache.Known("wake_simulator") {
		t.Error("negative verdict must not be cached")
	}
}

func TestConfigCheck(t *testing.T) {
	if err := ConfigCheck("url", "http://tools", "set it", 1).Run(context.Background()); err != nil {
		t.Errorf("non-empty setting should pass: %v", err)
	}
	if err := ConfigCheck("url", "", "set it", 1).Run(context.Background()); err == nil {
		t.Error("empty setting should fail")
	}
}
