// Copyright (C) 2026 Windvane AI (eng@windvane.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline drives a query through the full lifecycle: classify,
// validate, dispatch, optimize, encode, persist, return.
package pipeline

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
	"github.com/windvane-ai/windvane/services/orchestrator/intent"
	"github.com/windvane-ai/windvane/services/orchestrator/invoker"
	"github.com/windvane-ai/windvane/services/orchestrator/params"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	pipelineQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "windvane",
		Subsystem: "pipeline",
		Name:      "queries_total",
		Help:      "Query outcomes by intent and error kind (empty kind = success)",
	}, []string{"intent", "kind"})

	pipelineLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "windvane",
		Subsystem: "pipeline",
		Name:      "latency_seconds",
		Help:      "End-to-end query latency by intent",
		Buckets:   []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
	}, []string{"intent"})
)

var pipelineTracer = otel.Tracer("windvane.orchestrator.pipeline")

// =============================================================================
// Collaborator Contracts
// =============================================================================

// ArtifactStore persists encoded artifacts for later fetch. Implementations
// live in the storage packages; nil disables persistence.
type ArtifactStore interface {
	Put(ctx context.Context, id string, sa artifact.SerializedArtifact) error
	Get(ctx context.Context, id string) (artifact.SerializedArtifact, error)
}

// toolByIntent maps each actionable intent to its compute tool.
var toolByIntent = map[intent.Intent]string{
	intent.TerrainAnalysis:    "terrain_analyzer",
	intent.LayoutOptimization: "layout_optimizer",
	intent.WakeSimulation:     "wake_simulator",
	intent.WindRose:           "wind_rose_generator",
	intent.ReportGeneration:   "report_generator",
	intent.ProjectList:        "project_catalog",
	intent.ProjectDetails:     "project_catalog",
}

// =============================================================================
// Response
// =============================================================================

// Response is what the pipeline hands back for one query.
type Response struct {
	// Success is true when at least one artifact was produced and encoded.
	Success bool `json:"success"`

	// Message is the human-readable outcome: a summary on success, a
	// clarification or remediation on failure.
	Message string `json:"message"`

	// Intent is the classified intent, Unknown included.
	Intent intent.Intent `json:"intent"`

	// Artifacts carries the optimized artifacts, in production order.
	Artifacts []artifact.Artifact `json:"artifacts,omitempty"`

	// ThoughtSteps records the lifecycle transitions for transparency.
	ThoughtSteps []datatypes.ThoughtStep `json:"thought_steps,omitempty"`

	// ErrorCategory classifies the failure. Empty on success and on
	// clarification responses.
	ErrorCategory datatypes.ErrorKind `json:"error_category,omitempty"`

	// CorrelationID echoes (or assigns) the query's correlation id.
	CorrelationID string `json:"correlation_id"`
}

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline wires the classifier, validator, invoker, optimizer, codec, and
// store into the query lifecycle.
//
// Description:
//
//	Received → Classified → Validated → Dispatched →
//	{Succeeded | Retrying | Failed} → Optimized → Encoded → Returned
//
//	Parameter failures surface immediately with remediation; transient tool
//	failures retry inside the invoker; encoding and persistence failures
//	are isolated per artifact so one bad artifact cannot sink its siblings.
//
// Thread Safety: Safe for concurrent use (all collaborators are).
type Pipeline struct {
	classifier *intent.Classifier
	validator  *params.Validator
	invoker    *invoker.Invoker
	optimizer  *artifact.Optimizer
	codec      *artifact.Codec
	store      ArtifactStore
	logger     *slog.Logger
}

// New creates a Pipeline.
//
// Inputs:
//
//	classifier - Intent classifier. Must not be nil.
//	validator  - Parameter validator. Must not be nil.
//	inv        - Tool invoker. Must not be nil.
//	optimizer  - Artifact optimizer. Must not be nil.
//	codec      - Artifact codec. Must not be nil.
//	store      - Artifact persistence. Nil disables persistence.
//	logger     - Logger instance. Must not be nil.
func New(classifier *intent.Classifier, validator *params.Validator, inv *invoker.Invoker, optimizer *artifact.Optimizer, codec *artifact.Codec, store ArtifactStore, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		classifier: classifier,
		validator:  validator,
		invoker:    inv,
		optimizer:  optimizer,
		codec:      codec,
		store:      store,
		logger:     logger,
	}
}

// Execute runs one query through the lifecycle.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing. Must not be nil.
//	q   - The query. Empty CorrelationID is assigned here.
//
// Outputs:
//
//	Response - The outcome. Never a zero value; inspect Success.
func (p *Pipeline) Execute(ctx context.Context, q datatypes.Query) Response {
	if q.CorrelationID == "" {
		q.CorrelationID = uuid.NewString()
	}

	ctx, span := pipelineTracer.Start(ctx, "pipeline.Execute",
		trace.WithAttributes(attribute.String("correlation_id", q.CorrelationID)),
	)
	defer span.End()

	start := time.Now()
	rec := newStepRecorder()
	rec.step(datatypes.PhaseReceived, "")

	resp := p.execute(ctx, q, rec)
	resp.ThoughtSteps = rec.steps
	resp.CorrelationID = q.CorrelationID

	pipelineQueriesTotal.WithLabelValues(string(resp.Intent), string(resp.ErrorCategory)).Inc()
	pipelineLatency.WithLabelValues(string(resp.Intent)).Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.String("intent", string(resp.Intent)),
		attribute.Bool("success", resp.Success),
	)
	if !resp.Success && resp.ErrorCategory != datatypes.ErrKindNone {
		span.SetStatus(codes.Error, string(resp.ErrorCategory))
	}
	return resp
}

func (p *Pipeline) execute(ctx context.Context, q datatypes.Query, rec *stepRecorder) Response {
	// Classify.
	cls := p.classifier.Classify(ctx, q.Text)
	rec.step(datatypes.PhaseClassified, string(cls.Intent))

	if cls.Intent == intent.Unknown {
		rec.step(datatypes.PhaseReturned, "clarification")
		return Response{
			Success: false,
			Message: cls.Clarification,
			Intent:  intent.Unknown,
		}
	}

	// Validate.
	raw := params.ExtractFromQuery(q.Text)
	set, verr := p.validator.Validate(ctx, cls.Intent, raw)
	if verr != nil {
		rec.step(datatypes.PhaseFailed, "parameter validation")
		p.logger.Info("pipeline: query rejected at validation",
			slog.String("intent", string(cls.Intent)),
			slog.String("correlation_id", q.CorrelationID),
			slog.String("error", verr.Error()),
		)
		return Response{
			Success:       false,
			Message:       verr.Error(),
			Intent:        cls.Intent,
			ErrorCategory: datatypes.ErrKindParameter,
		}
	}
	rec.step(datatypes.PhaseValidated, set.Snapshot())

	// Dispatch.
	tool := toolByIntent[cls.Intent]
	rec.step(datatypes.PhaseDispatched, tool)
	res := p.invoker.Invoke(ctx, invoker.ToolRequest{
		Tool:          tool,
		Params:        set.ToMap(),
		ProjectID:     set.ProjectID(),
		CorrelationID: q.CorrelationID,
	})
	if res.Attempts > 1 {
		rec.step(datatypes.PhaseRetrying, fmt.Sprintf("%d attempts", res.Attempts))
	}
	if !res.Success {
		rec.step(datatypes.PhaseFailed, string(res.Kind))
		return Response{
			Success:       false,
			Message:       failureMessage(tool, res),
			Intent:        cls.Intent,
			ErrorCategory: res.Kind,
		}
	}
	rec.stepTimed(datatypes.PhaseSucceeded, tool, res.Latency)

	// Optimize.
	optimized, report := p.optimizer.Optimize(ctx, res.Artifact)
	rec.step(datatypes.PhaseOptimized, fmt.Sprintf("%d elements dropped", report.Dropped()))

	// Encode and persist. Failures here are isolated per artifact: the
	// artifact is omitted with a note, never the whole response.
	var kept []artifact.Artifact
	var omitted int
	for _, a := range []artifact.Artifact{optimized} {
		sa, err := p.codec.Encode(ctx, a)
		if err != nil {
			omitted++
			p.logger.Warn("pipeline: artifact omitted, encode failed",
				slog.String("artifact_id", a.ID),
				slog.String("correlation_id", q.CorrelationID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if p.store != nil {
			if err := p.store.Put(ctx, a.ID, sa); err != nil {
				// Persistence failure does not block the response; the
				// artifact just won't be fetchable later.
				p.logger.Warn("pipeline: artifact persistence failed",
					slog.String("artifact_id", a.ID),
					slog.String("correlation_id", q.CorrelationID),
					slog.String("error", err.Error()),
				)
			}
		}
		kept = append(kept, a)
	}
	rec.step(datatypes.PhaseEncoded, fmt.Sprintf("%d kept, %d omitted", len(kept), omitted))

	if len(kept) == 0 {
		rec.step(datatypes.PhaseFailed, "all artifacts failed to encode")
		return Response{
			Success:       false,
			Message:       "The analysis completed but its results could not be serialized.",
			Intent:        cls.Intent,
			ErrorCategory: datatypes.ErrKindEncoding,
		}
	}

	rec.step(datatypes.PhaseReturned, "")
	msg := successMessage(cls.Intent, kept)
	if omitted > 0 {
		msg += fmt.Sprintf(" (%d artifact(s) omitted due to serialization errors)", omitted)
	}
	return Response{
		Success:   true,
		Message:   msg,
		Intent:    cls.Intent,
		Artifacts: kept,
	}
}

// Fetch retrieves a previously returned artifact by id.
//
// Description:
//
//	Decode never fails: a corrupt stored envelope comes back as a KindError
//	placeholder so the caller can render an explanation instead of a 500.
//
// Outputs:
//
//	artifact.Artifact - The decoded artifact or placeholder.
//	error             - Non-nil only when the store has no such id or the
//	                    store itself failed.
func (p *Pipeline) Fetch(ctx context.Context, id string) (artifact.Artifact, error) {
	if p.store == nil {
		return artifact.Artifact{}, fmt.Errorf("artifact persistence is not configured")
	}
	sa, err := p.store.Get(ctx, id)
	if err != nil {
		return artifact.Artifact{}, err
	}
	return p.codec.Decode(ctx, sa), nil
}

// =============================================================================
// Helpers
// =============================================================================

// stepRecorder accumulates thought steps, timing each phase from the end of
// the previous one.
type stepRecorder struct {
	steps []datatypes.ThoughtStep
	last  time.Time
}

func newStepRecorder() *stepRecorder {
	return &stepRecorder{last: time.Now()}
}

func (r *stepRecorder) step(phase datatypes.Phase, detail string) {
	now := time.Now()
	r.steps = append(r.steps, datatypes.ThoughtStep{Phase: phase, Detail: detail, Duration: now.Sub(r.last)})
	r.last = now
}

func (r *stepRecorder) stepTimed(phase datatypes.Phase, detail string, d time.Duration) {
	r.steps = append(r.steps, datatypes.ThoughtStep{Phase: phase, Detail: detail, Duration: d})
	r.last = time.Now()
}

func failureMessage(tool string, res invoker.ToolResult) string {
	switch res.Kind {
	case datatypes.ErrKindToolNotFound:
		return fmt.Sprintf("The %s tool is not available right now.", tool)
	case datatypes.ErrKindToolTimeout:
		return fmt.Sprintf("The %s tool did not respond in time after %d attempt(s).", tool, res.Attempts)
	case datatypes.ErrKindToolThrottled:
		return fmt.Sprintf("The %s tool is rate limited; please retry shortly.", tool)
	case datatypes.ErrKindToolPermissionDenied:
		return fmt.Sprintf("You do not have access to the %s tool.", tool)
	default:
		return fmt.Sprintf("The %s tool returned an unusable response.", tool)
	}
}

func successMessage(in intent.Intent, arts []artifact.Artifact) string {
	switch in {
	case intent.TerrainAnalysis:
		return "Terrain analysis complete."
	case intent.LayoutOptimization:
		return "Layout optimization complete."
	case intent.WakeSimulation:
		return "Wake simulation complete."
	case intent.WindRose:
		return "Wind rose generated."
	case intent.ReportGeneration:
		return "Report generated."
	case intent.ProjectList, intent.ProjectDetails:
		return "Project information retrieved."
	default:
		return fmt.Sprintf("Produced %d artifact(s).", len(arts))
	}
}
