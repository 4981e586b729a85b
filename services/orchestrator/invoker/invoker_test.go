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
	"sync"
	"testing"
	"time"

	"github.com/windvane-ai/windvane/services/orchestrator/artifact"
	"github.com/windvane-ai/windvane/services/orchestrator/datatypes"
)

// fakeToolClient scripts per-call outcomes for one tool.
type fakeToolClient struct {
	mu          sync.Mutex
	existsCalls int
	invokeCalls int
	exists      bool
	existsErr   error

	// responses is consumed one per Invoke call; the last entry repeats.
	responses []fakeResponse
}

type fakeResponse struct {
	payload map[string]any
	err     error
}

func (f *fakeToolClient) Exists(_ context.Context, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existsCalls++
	return f.exists, f.existsErr
}

func (f *fakeToolClient) Invoke(_ context.Context, _ string, _ map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.invokeCalls
	f.invokeCalls++
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	r := f.responses[idx]
	return r.payload, r.err
}

func terrainPayload() map[string]any {
	return map[string]any{
		"id":       "art-1",
		"title":    "Terrain",
		"features": []any{},
	}
}

func newTestInvoker(client ToolClient) *Invoker {
	iv := NewInvoker(client, nil, nil, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}, time.Second, slog.Default())
	// No real sleeping in tests.
	iv.sleep = func(context.Context, time.Duration) error { return nil }
	return iv
}

func terrainRequest() ToolRequest {
	return ToolRequest{Tool: "terrain_analyzer", Params: map[string]any{"latitude": 35.1}, ProjectID: "p1", CorrelationID: "c1"}
}

// =============================================================================
// Success Path Tests
// =============================================================================

func TestInvoker_Success(t *testing.T) {
	client := &fakeToolClient{exists: true, responses: []fakeResponse{{payload: terrainPayload()}}}
	iv := newTestInvoker(client)

	res := iv.Invoke(context.Background(), terrainRequest())

	if !res.Success {
		t.Fatalf("expected success, got kind %s: %v", res.Kind, res.Err)
	}
	if res.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", res.Attempts)
	}
	if res.Artifact.Kind != artifact.KindTerrain {
		t.Errorf("artifact kind = %s, want terrain", res.Artifact.Kind)
	}
	if res.Artifact.ID != "art-1" {
		t.Errorf("artifact id = %q, want art-1", res.Artifact.ID)
	}
	if res.Artifact.ProjectID != "p1" {
		t.Errorf("artifact project id = %q, want p1", res.Artifact.ProjectID)
	}
}

func TestInvoker_ReachabilityCachedAcrossCalls(t *testing.T) {
	client := &fakeToolClient{exists: true, responses: []fakeResponse{{payload: terrainPayload()}}}
	iv := newTestInvoker(client)

	for i := 0; i < 5; i++ {
		res := iv.Invoke(context.Background(), terrainRequest())
		if !res.Success {
			t.Fatalf("call %d failed: %v", i, res.Err)
		}
	}
	if client.existsCalls != 1 {
		t.Errorf("existsCalls = %d, want 1 (positive verdict must be cached)", client.existsCalls)
	}
}

// =============================================================================
// Retry Tests
// =============================================================================

func TestInvoker_TimeoutRetriedThenSucceeds(t *testing.T) {
	client := &fakeToolClient{
		exists: true,
		responses: []fakeResponse{
			{err: context.DeadlineExceeded},
			{err: context.DeadlineExceeded},
			{payload: terrainPayload()},
		},
	}
	iv := newTestInvoker(client)

	res := iv.Invoke(context.Background(), terrainRequest())

	if !res.Success {
		t.Fatalf("expected eventual success, got %s: %v", res.Kind, res.Err)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}
}

func TestInvoker_TimeoutExhaustsRetries(t *testing.T) {
	client := &fakeToolClient{
		exists:    true,
		responses: []fakeResponse{{err: context.DeadlineExceeded}},
	}
	iv := newTestInvoker(client)

	res := iv.Invoke(context.Background(), terrainRequest())

	if res.Success {
		t.Fatal("expected failure after exhausted retries")
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}
	if res.Kind != datatypes.ErrKindToolTimeout {
		t.Errorf("kind = %s, want tool_timeout", res.Kind)
	}
}

func TestInvoker_ThrottledIsRetryable(t *testing.T) {
	client := &fakeToolClient{
		exists: true,
		responses: []fakeResponse{
			{err: fmt.Errorf("call: %w", ErrThrottled)},
			{payload: terrainPayload()},
		},
	}
	iv := newTestInvoker(client)

	res := iv.Invoke(context.Background(), terrainRequest())
	if !res.Success {
		t.Fatalf("throttled should retry to success, got %s", res.Kind)
	}
	if res.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", res.Attempts)
	}
}

func TestInvoker_FatalKindsNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want datatypes.ErrorKind
	}{
		{"permission denied", ErrPermissionDenied, datatypes.ErrKindToolPermissionDenied},
		{"invalid params", ErrInvalidParams, datatypes.ErrKindParameter},
		{"not found", ErrToolNotFound, datatypes.ErrKindToolNotFound},
		{"unclassified", fmt.Errorf("boom"), datatypes.ErrKindToolResponseInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeToolClient{exists: true, responses: []fakeResponse{{err: tt.err}}}
			iv := newTestInvoker(client)

			res := iv.Invoke(context.Background(), terrainRequest())
			if res.Success {
				t.Fatal("expected failure")
			}
			if res.Attempts != 1 {
				t.Errorf("attempts = %d, want 1 (no retry for fatal kinds)", res.Attempts)
			}
			if res.Kind != tt.want {
				t.Errorf("kind = %s, want %s", res.Kind, tt.want)
			}
		})
	}
}

// =============================================================================
// Reachability and Contract Tests
// =============================================================================

func TestInvoker_UnreachableToolFailsFast(t *testing.T) {
	client := &fakeToolClient{exists: false}
	iv := newTestInvoker(client)

	res := iv.Invoke(context.Background(), terrainRequest())

	if res.Success {
		t.Fatal("expected failure for unreachable tool")
	}
	if res.Kind != datatypes.ErrKindToolNotFound {
		t.Errorf("kind = %s, want tool_not_found", res.Kind)
	}
	if client.invokeCalls != 0 {
		t.Errorf("invoke must not be attempted for unreachable tool, got %d calls", client.invokeCalls)
	}
}

func TestInvoker_NegativeVerdictNotCached(t *testing.T) {
	client := &fakeToolClient{exists: false}
	iv := newTestInvoker(client)

	_ = iv.Invoke(context.Background(), terrainRequest())
	_ = iv.Invoke(context.Background(), terrainRequest())

	if client.existsCalls != 2 {
		t.Errorf("existsCalls = %d, want 2 (negative verdicts are not cached)", client.existsCalls)
	}
}

func TestInvoker_UnknownToolRejected(t *testing.T) {
	client := &fakeToolClient{exists: true}
	iv := newTestInvoker(client)

	res := iv.Invoke(context.Background(), ToolRequest{Tool: "nonexistent_tool"})
	if res.Success || res.Kind != datatypes.ErrKindToolNotFound {
		t.Errorf("unknown tool: success=%v kind=%s", res.Success, res.Kind)
	}
}

func TestInvoker_EmptyPayloadIsInvalidResponse(t *testing.T) {
	client := &fakeToolClient{exists: true, responses: []fakeResponse{{payload: map[string]any{}}}}
	iv := newTestInvoker(client)

	res := iv.Invoke(context.Background(), terrainRequest())
	if res.Success {
		t.Fatal("empty payload must fail")
	}
	if res.Kind != datatypes.ErrKindToolResponseInvalid {
		t.Errorf("kind = %s, want tool_response_invalid", res.Kind)
	}
}

func TestInvoker_MissingContractKeyIsInvalidResponse(t *testing.T) {
	client := &fakeToolClient{exists: true, responses: []fakeResponse{
		{payload: map[string]any{"id": "x", "something_else": 1.0}},
	}}
	iv := newTestInvoker(client)

	res := iv.Invoke(context.Background(), terrainRequest())
	if res.Success {
		t.Fatal("payload without required keys must fail")
	}
	if res.Kind != datatypes.ErrKindToolResponseInvalid {
		t.Errorf("kind = %s, want tool_response_invalid", res.Kind)
	}
}

// =============================================================================
// Retry Policy Tests
// =============================================================================

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, Multiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestErrorKindRetryable(t *testing.T) {
	retryable := []datatypes.ErrorKind{datatypes.ErrKindToolTimeout, datatypes.ErrKindToolThrottled}
	for _, k := range retryable {
		if !k.Retryable() {
			t.Errorf("%s should be retryable", k)
		}
	}
	fatal := []datatypes.ErrorKind{
		datatypes.ErrKindConfiguration, datatypes.ErrKindParameter,
		datatypes.ErrKindToolNotFound, datatypes.ErrKindToolPermissionDenied,
		datatypes.ErrKindToolResponseInvalid, datatypes.ErrKindEncoding,
		datatypes.ErrKindDecoding, datatypes.ErrKindNone,
	}
	for _, k := range fatal {
		if k.Retryable() {
			t.Errorf("%s should not be retryable", k)
		}
	}
}
