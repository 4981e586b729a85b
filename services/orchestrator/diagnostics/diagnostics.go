// Copyright (C) 2026 Windvane AI (eng@windvane.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package diagnostics runs configuration and reachability checks and
// aggregates them into a single service verdict.
package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/windvane-ai/windvane/services/orchestrator/invoker"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	diagnosticRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "windvane",
		Subsystem: "diagnostics",
		Name:      "runs_total",
		Help:      "Diagnostic runs by mode and aggregate status",
	}, []string{"mode", "status"})

	diagnosticCheckFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "windvane",
		Subsystem: "diagnostics",
		Name:      "check_failures_total",
		Help:      "Individual check failures by check id",
	}, []string{"check"})
)

var diagnosticsTracer = otel.Tracer("windvane.orchestrator.diagnostics")

// =============================================================================
// Checks
// =============================================================================

// Status is the verdict of one check or of the whole run.
type Status string

const (
	// StatusHealthy means every check passed.
	StatusHealthy Status = "healthy"

	// StatusDegraded means only non-critical checks failed.
	StatusDegraded Status = "degraded"

	// StatusUnhealthy means at least one critical check failed.
	StatusUnhealthy Status = "unhealthy"

	// StatusError means a check could not run at all (panic or runner
	// fault), so the verdict is unknown rather than bad.
	StatusError Status = "error"
)

// Check is one diagnosable concern.
type Check struct {
	// ID names the check in results and metrics, e.g. "config.tool_base_url".
	ID string

	// Critical marks checks whose failure makes the service unhealthy
	// rather than merely degraded.
	Critical bool

	// Priority orders results in the report: lower numbers first. Checks
	// run concurrently; ordering is presentation only.
	Priority int

	// Live marks checks that touch external collaborators (network probes,
	// store pings). Quick mode skips them.
	Live bool

	// Run performs the check. A nil error is a pass.
	Run func(ctx context.Context) error

	// Remediation is a short operator hint shown on failure.
	Remediation string
}

// Result is the outcome of one check.
type Result struct {
	ID          string        `json:"id"`
	Status      Status        `json:"status"`
	Critical    bool          `json:"critical"`
	Skipped     bool          `json:"skipped,omitempty"`
	Duration    time.Duration `json:"duration_ms"`
	Detail      string        `json:"detail,omitempty"`
	Remediation string        `json:"remediation,omitempty"`
}

// Report is the aggregate of one diagnostic run.
type Report struct {
	// Status is the worst verdict across all executed checks.
	Status Status `json:"status"`

	// Mode is "full" or "quick".
	Mode string `json:"mode"`

	// Results lists every check in priority order, skipped ones included.
	Results []Result `json:"results"`

	// Duration is the wall time of the whole run.
	Duration time.Duration `json:"duration_ms"`
}

// =============================================================================
// Runner
// =============================================================================

// Runner executes a fixed set of checks concurrently and aggregates the
// verdict.
//
// Description:
//
//	Full mode runs everything; quick mode skips Live checks so it stays
//	safe for tight health-probe loops. Checks run concurrently but the
//	report lists results in priority order regardless of completion order.
//	A panicking check is contained and reported as StatusError for that
//	check alone.
//
//	Aggregation: any errored check → error; else any failed critical
//	check → unhealthy; else any failure → degraded; else healthy.
//
// Thread Safety: Safe for concurrent use (checks slice is read-only after
// construction).
type Runner struct {
	checks  []Check
	timeout time.Duration
	logger  *slog.Logger
}

// NewRunner creates a Runner over the given checks.
//
// Inputs:
//
//	checks  - The check set. Copied; later mutation of the slice is ignored.
//	timeout - Per-run deadline. Zero uses 10s.
//	logger  - Logger instance. Must not be nil.
func NewRunner(checks []Check, timeout time.Duration, logger *slog.Logger) *Runner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	owned := make([]Check, len(checks))
	copy(owned, checks)
	sort.SliceStable(owned, func(i, j int) bool { return owned[i].Priority < owned[j].Priority })
	return &Runner{checks: owned, timeout: timeout, logger: logger}
}

// RunFull executes every check.
func (r *Runner) RunFull(ctx context.Context) Report {
	return r.run(ctx, "full", false)
}

// RunQuick executes only the checks that do not touch external systems.
func (r *Runner) RunQuick(ctx context.Context) Report {
	return r.run(ctx, "quick", true)
}

func (r *Runner) run(ctx context.Context, mode string, skipLive bool) Report {
	ctx, span := diagnosticsTracer.Start(ctx, "diagnostics.Runner.run")
	defer span.End()
	span.SetAttributes(attribute.String("mode", mode))

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	results := make([]Result, len(r.checks))

	g, gctx := errgroup.WithContext(ctx)
	for i, check := range r.checks {
		if skipLive && check.Live {
			results[i] = Result{ID: check.ID, Status: StatusHealthy, Critical: check.Critical, Skipped: true}
			continue
		}
		g.Go(func() error {
			results[i] = r.execute(gctx, check)
			return nil
		})
	}
	// Worker closures never return errors; failures live in the results.
	_ = g.Wait()

	report := Report{
		Mode:     mode,
		Status:   aggregate(results),
		Results:  results,
		Duration: time.Since(start),
	}

	diagnosticRunsTotal.WithLabelValues(mode, string(report.Status)).Inc()
	span.SetAttributes(attribute.String("status", string(report.Status)))
	if report.Status != StatusHealthy {
		r.logger.Warn("diagnostics: run completed with findings",
			slog.String("mode", mode),
			slog.String("status", string(report.Status)),
		)
	}
	return report
}

// execute runs one check with panic containment.
func (r *Runner) execute(ctx context.Context, check Check) (res Result) {
	start := time.Now()
	res = Result{ID: check.ID, Status: StatusHealthy, Critical: check.Critical}

	defer func() {
		res.Duration = time.Since(start)
		if rec := recover(); rec != nil {
			res.Status = StatusError
			res.Detail = fmt.Sprintf("check panicked: %v", rec)
			diagnosticCheckFailures.WithLabelValues(check.ID).Inc()
			r.logger.Error("diagnostics: check panicked",
				slog.String("check", check.ID),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	if err := check.Run(ctx); err != nil {
		if check.Critical {
			res.Status = StatusUnhealthy
		} else {
			res.Status = StatusDegraded
		}
		res.Detail = err.Error()
		res.Remediation = check.Remediation
		diagnosticCheckFailures.WithLabelValues(check.ID).Inc()
	}
	return res
}

// aggregate folds per-check verdicts into the run verdict.
func aggregate(results []Result) Status {
	worst := StatusHealthy
	for _, res := range results {
		switch res.Status {
		case StatusError:
			return StatusError
		case StatusUnhealthy:
			worst = StatusUnhealthy
		case StatusDegraded:
			if worst == StatusHealthy {
				worst = StatusDegraded
			}
		}
	}
	return worst
}

// =============================================================================
// Built-in Checks
// =============================================================================

// ToolReachabilityCheck probes one tool through the shared reachability
// cache, so a passing diagnostic also warms the dispatch path.
func ToolReachabilityCheck(client invoker.ToolClient, cache *invoker.ReachabilityCache, tool string, critical bool, priority int) Check {
	return Check{
		ID:       "tool." + tool,
		Critical: critical,
		Priority: priority,
		Live:     true,
		Run: func(ctx context.Context) error {
			if cache.Known(tool) {
				return nil
			}
			exists, err := client.Exists(ctx, tool)
			if err != nil {
				return fmt.Errorf("probe %s: %w", tool, err)
			}
			if !exists {
				return fmt.Errorf("tool %s is not registered", tool)
			}
			cache.MarkReachable(tool)
			return nil
		},
		Remediation: "verify the tool fleet deployment includes " + tool,
	}
}

// ConfigCheck verifies a required setting is present.
func ConfigCheck(id, value, remediation string, priority int) Check {
	return Check{
		ID:       "config." + id,
		Critical: true,
		Priority: priority,
		Run: func(context.Context) error {
			if value == "" {
				return fmt.Errorf("required setting %s is empty", id)
			}
			return nil
		},
		Remediation: remediation,
	}
}

// StoreCheck pings a storage collaborator.
func StoreCheck(id string, critical bool, priority int, ping func(ctx context.Context) error, remediation string) Check {
	return Check{
		ID:          "store." + id,
		Critical:    critical,
		Priority:    priority,
		Live:        true,
		Run:         ping,
		Remediation: remediation,
	}
}
