// Copyright (C) 2026 Windvane AI (eng@windvane.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package invoker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/windvane-ai/windvane/services/orchestrator/artifact"
	"github.com/windvane-ai/windvane/services/orchestrator/datatypes"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	invocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "windvane",
		Subsystem: "invoker",
		Name:      "invocations_total",
		Help:      "Tool invocation outcomes by tool and error kind (empty kind = success)",
	}, []string{"tool", "kind"})

	invocationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "windvane",
		Subsystem: "invoker",
		Name:      "invocation_latency_seconds",
		Help:      "End-to-end tool invocation latency including retries",
		Buckets:   []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
	}, []string{"tool"})

	invocationRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "windvane",
		Subsystem: "invoker",
		Name:      "retries_total",
		Help:      "Retry attempts by tool",
	}, []string{"tool"})
)

var invokerTracer = otel.Tracer("windvane.orchestrator.invoker")

// =============================================================================
// Retry Policy
// =============================================================================

// RetryPolicy governs sequential re-dispatch of transient failures.
//
// Description:
//
//	Only failures whose ErrorKind reports Retryable are re-dispatched.
//	Attempt n (1-based) waits BaseDelay * Multiplier^(n-1) before retrying.
//	MaxAttempts counts the first attempt, so MaxAttempts=3 means at most
//	two retries.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy returns the standard policy: 3 attempts, 500ms base
// delay, doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, Multiplier: 2}
}

// Delay returns the backoff before retry number attempt (1-based: the wait
// after the first failure is Delay(1) == BaseDelay).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
	}
	return d
}

// =============================================================================
// Errors
// =============================================================================

// InvokerError is the classified failure of a tool invocation.
type InvokerError struct {
	// Kind is the taxonomy classification driving retry and propagation.
	Kind datatypes.ErrorKind

	// Tool is the tool that failed.
	Tool string

	// Attempts is how many dispatch attempts were made.
	Attempts int

	// Err is the underlying cause. May be nil for synthesized failures
	// (unreachable tool, throttle rejection).
	Err error
}

// Error implements the error interface.
func (e *InvokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tool %s failed after %d attempt(s) [%s]: %v", e.Tool, e.Attempts, e.Kind, e.Err)
	}
	return fmt.Sprintf("tool %s failed after %d attempt(s) [%s]", e.Tool, e.Attempts, e.Kind)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *InvokerError) Unwrap() error { return e.Err }

// =============================================================================
// Tool Contracts
// =============================================================================

// toolContract pins the artifact kind a tool produces and the payload keys
// that must be present for the response to count as valid.
type toolContract struct {
	Kind         artifact.Kind
	RequiredKeys []string
}

// toolContracts is the registry of known compute tools. An empty payload or
// one missing a required key is a tool_response_invalid failure, never a
// silent partial artifact.
var toolContracts = map[string]toolContract{
	"terrain_analyzer":    {Kind: artifact.KindTerrain, RequiredKeys: []string{"features"}},
	"layout_optimizer":    {Kind: artifact.KindLayout, RequiredKeys: []string{"turbines"}},
	"wake_simulator":      {Kind: artifact.KindSimulation, RequiredKeys: []string{"wake_losses"}},
	"wind_rose_generator": {Kind: artifact.KindWindRose, RequiredKeys: []string{"sectors"}},
	"report_generator":    {Kind: artifact.KindReport, RequiredKeys: []string{"sections"}},
	"project_catalog":     {Kind: artifact.KindReport, RequiredKeys: []string{"projects"}},
}

// KnownTool reports whether the registry carries a contract for name.
func KnownTool(name string) bool {
	_, ok := toolContracts[name]
	return ok
}

// =============================================================================
// Request / Result
// =============================================================================

// ToolRequest is one dispatch order for the invoker.
type ToolRequest struct {
	// Tool is the registered tool name.
	Tool string

	// Params is the validated canonical parameter bag.
	Params map[string]any

	// ProjectID stamps produced artifacts. May be empty for catalog tools.
	ProjectID string

	// CorrelationID threads the query identity into logs and spans.
	CorrelationID string
}

// ToolResult is the outcome of one invocation, success or failure.
type ToolResult struct {
	// Success is true when Artifact carries real tool output.
	Success bool

	// Artifact is the produced artifact. Zero value on failure.
	Artifact artifact.Artifact

	// Latency is the end-to-end invocation time including retries.
	Latency time.Duration

	// Attempts is how many dispatch attempts were made.
	Attempts int

	// Kind is the failure classification. ErrKindNone on success.
	Kind datatypes.ErrorKind

	// Err is the terminal error. Nil on success.
	Err error
}

// =============================================================================
// Invoker
// =============================================================================

// Invoker dispatches validated queries to compute tools.
//
// Description:
//
//	Before dispatch, reachability is confirmed once per tool per process
//	(positive verdicts cached; see ReachabilityCache). Each attempt runs
//	under its own timeout. Failures are classified into the error taxonomy;
//	only retryable kinds (timeout, throttled) are re-dispatched, with
//	exponential backoff, up to the policy's attempt ceiling. All other
//	kinds surface immediately.
//
// Thread Safety: Safe for concurrent use.
type Invoker struct {
	client   ToolClient
	cache    *ReachabilityCache
	throttle *Throttle
	policy   RetryPolicy

	// Timeout bounds each individual dispatch attempt.
	Timeout time.Duration

	logger *slog.Logger

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewInvoker creates an Invoker.
//
// Inputs:
//
//	client   - Tool transport. Must not be nil.
//	cache    - Shared reachability cache. Nil creates a private one.
//	throttle - Outbound throttle. Nil disables throttling.
//	policy   - Retry policy. Zero MaxAttempts uses the default policy.
//	timeout  - Per-attempt deadline. Zero uses 30s.
//	logger   - Logger instance. Must not be nil.
//
// Outputs:
//
//	*Invoker - The constructed invoker. Never nil.
func NewInvoker(client ToolClient, cache *ReachabilityCache, throttle *Throttle, policy RetryPolicy, timeout time.Duration, logger *slog.Logger) *Invoker {
	if cache == nil {
		cache = NewReachabilityCache()
	}
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		client:   client,
		cache:    cache,
		throttle: throttle,
		policy:   policy,
		Timeout:  timeout,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Cache exposes the reachability cache for sharing with diagnostics.
func (iv *Invoker) Cache() *ReachabilityCache { return iv.cache }

// Invoke dispatches one tool request.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing. Must not be nil.
//	req - The dispatch order. Tool must be a registered name.
//
// Outputs:
//
//	ToolResult - Outcome with attempts, latency, and classification.
//	             Never a zero value; inspect Success.
func (iv *Invoker) Invoke(ctx context.Context, req ToolRequest) ToolResult {
	ctx, span := invokerTracer.Start(ctx, "invoker.Invoke",
		trace.WithAttributes(
			attribute.String("tool", req.Tool),
			attribute.String("correlation_id", req.CorrelationID),
		),
	)
	defer span.End()

	start := time.Now()
	res := iv.invoke(ctx, req)
	res.Latency = time.Since(start)

	invocationsTotal.WithLabelValues(req.Tool, string(res.Kind)).Inc()
	invocationLatency.WithLabelValues(req.Tool).Observe(res.Latency.Seconds())
	span.SetAttributes(attribute.Int("attempts", res.Attempts))
	if !res.Success {
		span.SetStatus(codes.Error, string(res.Kind))
		iv.logger.Warn("invoker: tool invocation failed",
			slog.String("tool", req.Tool),
			slog.String("kind", string(res.Kind)),
			slog.Int("attempts", res.Attempts),
			slog.String("correlation_id", req.CorrelationID),
		)
	}
	return res
}

func (iv *Invoker) invoke(ctx context.Context, req ToolRequest) ToolResult {
	contract, ok := toolContracts[req.Tool]
	if !ok {
		return iv.fail(req, 0, datatypes.ErrKindToolNotFound,
			fmt.Errorf("no contract registered for tool %q", req.Tool))
	}

	if ok, kind, err := iv.ensureReachable(ctx, req.Tool); !ok {
		return iv.fail(req, 0, kind, err)
	}

	var lastErr error
	var lastKind datatypes.ErrorKind
	attempts := 0

	for attempts < iv.policy.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return iv.fail(req, attempts, datatypes.ErrKindToolTimeout, err)
		}

		attempts++
		if !iv.throttle.Allow() {
			// A local throttle rejection consumes an attempt; the backoff
			// below lets the window drain before the next try.
			lastKind = datatypes.ErrKindToolThrottled
			lastErr = fmt.Errorf("outbound throttle rejected call to %s", req.Tool)
		} else {
			payload, err := iv.attempt(ctx, req.Tool, req.Params)
			if err == nil {
				a, verr := iv.buildArtifact(contract, req, payload)
				if verr != nil {
					return iv.fail(req, attempts, datatypes.ErrKindToolResponseInvalid, verr)
				}
				return ToolResult{Success: true, Artifact: a, Attempts: attempts}
			}
			lastErr = err
			lastKind = classifyError(err)
		}

		if !lastKind.Retryable() || attempts >= iv.policy.MaxAttempts {
			break
		}

		invocationRetries.WithLabelValues(req.Tool).Inc()
		iv.logger.Info("invoker: retrying after transient failure",
			slog.String("tool", req.Tool),
			slog.String("kind", string(lastKind)),
			slog.Int("attempt", attempts),
			slog.Duration("backoff", iv.policy.Delay(attempts)),
		)
		if err := iv.sleep(ctx, iv.policy.Delay(attempts)); err != nil {
			return iv.fail(req, attempts, datatypes.ErrKindToolTimeout, err)
		}
	}

	return iv.fail(req, attempts, lastKind, lastErr)
}

// ensureReachable confirms the tool answers a reachability probe, consulting
// the positive-only cache first.
func (iv *Invoker) ensureReachable(ctx context.Context, name string) (bool, datatypes.ErrorKind, error) {
	if iv.cache.Known(name) {
		return true, datatypes.ErrKindNone, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, iv.Timeout)
	defer cancel()

	exists, err := iv.client.Exists(probeCtx, name)
	if err != nil {
		return false, classifyError(err), fmt.Errorf("reachability probe for %s: %w", name, err)
	}
	if !exists {
		return false, datatypes.ErrKindToolNotFound, fmt.Errorf("tool %s is not registered", name)
	}
	iv.cache.MarkReachable(name)
	return true, datatypes.ErrKindNone, nil
}

// attempt runs one dispatch under its own deadline.
func (iv *Invoker) attempt(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	callCtx, cancel := context.WithTimeout(ctx, iv.Timeout)
	defer cancel()
	return iv.client.Invoke(callCtx, name, params)
}

// buildArtifact checks the contract and shapes the payload into an artifact.
func (iv *Invoker) buildArtifact(contract toolContract, req ToolRequest, payload map[string]any) (artifact.Artifact, error) {
	if len(payload) == 0 {
		return artifact.Artifact{}, fmt.Errorf("tool %s returned an empty payload", req.Tool)
	}
	for _, key := range contract.RequiredKeys {
		if _, ok := payload[key]; !ok {
			return artifact.Artifact{}, fmt.Errorf("tool %s payload missing required key %q", req.Tool, key)
		}
	}

	id, _ := payload["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	title, _ := payload["title"].(string)

	return artifact.Artifact{
		Kind:      contract.Kind,
		ID:        id,
		ProjectID: req.ProjectID,
		Title:     title,
		Data:      payload,
	}, nil
}

func (iv *Invoker) fail(req ToolRequest, attempts int, kind datatypes.ErrorKind, err error) ToolResult {
	if kind == datatypes.ErrKindNone {
		kind = datatypes.ErrKindToolResponseInvalid
	}
	return ToolResult{
		Success:  false,
		Attempts: attempts,
		Kind:     kind,
		Err:      &InvokerError{Kind: kind, Tool: req.Tool, Attempts: attempts, Err: err},
	}
}

// sleepCtx waits for d or until the context ends, whichever is first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
