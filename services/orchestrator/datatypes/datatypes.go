// Copyright (C) 2026 Windvane AI (eng@windvane.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the shared data model of the query-orchestration
// pipeline: queries, lifecycle phases, thought steps, and the error-kind
// taxonomy. It is intentionally dependency-free so every pipeline component
// can import it without cycles.
package datatypes

import "time"

// =============================================================================
// Query
// =============================================================================

// Query is one free-text request entering the pipeline.
type Query struct {
	// Text is the user's free-text request.
	Text string `json:"text"`

	// SessionID optionally correlates the query with a conversation.
	// Empty is valid; the pipeline then correlates by CorrelationID only.
	SessionID string `json:"session_id,omitempty"`

	// CorrelationID uniquely identifies this query attempt across logs,
	// traces, and tool calls. Assigned by the pipeline when empty.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// =============================================================================
// Lifecycle Phases
// =============================================================================

// Phase is one state in a query's lifecycle.
//
// Description:
//
//	Received → Classified → Validated → Dispatched →
//	{Succeeded | Retrying→Dispatched | Failed} → Optimized → Encoded → Returned
//
//	Terminal phases are Returned and Failed. Failed is reachable directly
//	from Validated (parameter error) or from exhausted retries at Dispatched.
type Phase string

const (
	PhaseReceived   Phase = "received"
	PhaseClassified Phase = "classified"
	PhaseValidated  Phase = "validated"
	PhaseDispatched Phase = "dispatched"
	PhaseRetrying   Phase = "retrying"
	PhaseSucceeded  Phase = "succeeded"
	PhaseOptimized  Phase = "optimized"
	PhaseEncoded    Phase = "encoded"
	PhaseReturned   Phase = "returned"
	PhaseFailed     Phase = "failed"
)

// ThoughtStep records one lifecycle transition for the response's step log.
type ThoughtStep struct {
	// Phase is the lifecycle phase this step entered.
	Phase Phase `json:"phase"`

	// Detail is a short human-readable note (intent picked, tool called, etc).
	Detail string `json:"detail,omitempty"`

	// Duration is how long the phase took. Zero for instantaneous transitions.
	Duration time.Duration `json:"duration_ms,omitempty"`
}

// =============================================================================
// Error Taxonomy
// =============================================================================

// ErrorKind classifies every failure the pipeline can surface.
//
// Description:
//
//	Each ToolResult failure maps to exactly one kind. The kind drives the
//	retry decision (see Retryable) and the propagation policy: parameter,
//	not-found, and permission errors surface immediately; timeout and
//	throttling retry under the invoker's policy; decoding errors are
//	isolated to a single artifact and never fail the whole response.
type ErrorKind string

const (
	// ErrKindNone marks a success; it is the zero value.
	ErrKindNone ErrorKind = ""

	// ErrKindConfiguration indicates a required setting is absent.
	ErrKindConfiguration ErrorKind = "configuration_error"

	// ErrKindParameter indicates a missing or out-of-range input.
	ErrKindParameter ErrorKind = "parameter_error"

	// ErrKindToolNotFound indicates the named tool does not exist.
	ErrKindToolNotFound ErrorKind = "tool_not_found"

	// ErrKindToolTimeout indicates the tool call exceeded its deadline.
	ErrKindToolTimeout ErrorKind = "tool_timeout"

	// ErrKindToolThrottled indicates the tool rejected the call for rate.
	ErrKindToolThrottled ErrorKind = "tool_throttled"

	// ErrKindToolPermissionDenied indicates the caller may not use the tool.
	ErrKindToolPermissionDenied ErrorKind = "tool_permission_denied"

	// ErrKindToolResponseInvalid indicates an empty or unrecognized payload.
	ErrKindToolResponseInvalid ErrorKind = "tool_response_invalid"

	// ErrKindEncoding indicates an artifact could not be serialized.
	ErrKindEncoding ErrorKind = "encoding_error"

	// ErrKindDecoding indicates a stored artifact is corrupt.
	ErrKindDecoding ErrorKind = "decoding_error"
)

// Retryable reports whether failures of this kind are transient and safe to
// retry sequentially. Only timeouts and throttling qualify; everything else
// would fail identically on a second attempt.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrKindToolTimeout, ErrKindToolThrottled:
		return true
	default:
		return false
	}
}

// String returns the wire form of the kind.
func (k ErrorKind) String() string { return string(k) }
