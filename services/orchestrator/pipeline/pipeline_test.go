// Copyright (C) 2026 Windvane AI (eng@windvane.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/windvane-ai/windvane/services/orchestrator/artifact"
	"github.com/windvane-ai/windvane/services/orchestrator/config"
	"github.com/windvane-ai/windvane/services/orchestrator/datatypes"
	"github.com/windvane-ai/windvane/services/orchestrator/intent"
	"github.com/windvane-ai/windvane/services/orchestrator/invoker"
	"github.com/windvane-ai/windvane/services/orchestrator/params"
)

// fakeClient serves scripted payloads per tool.
type fakeClient struct {
	mu          sync.Mutex
	invocations map[string]int
	payloads    map[string]map[string]any
	errs        map[string]error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		invocations: make(map[string]int),
		payloads:    make(map[string]map[string]any),
		errs:        make(map[string]error),
	}
}

func (f *fakeClient) Exists(context.Context, string) (bool, error) { return true, nil }

func (f *fakeClient) Invoke(_ context.Context, name string, _ map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invocations[name]++
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	return f.payloads[name], nil
}

// memStore is an in-memory ArtifactStore.
type memStore struct {
	mu   sync.Mutex
	data map[string]artifact.SerializedArtifact
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]artifact.SerializedArtifact)}
}

func (m *memStore) Put(_ context.Context, id string, sa artifact.SerializedArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = sa
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (artifact.SerializedArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sa, ok := m.data[id]
	if !ok {
		return artifact.SerializedArtifact{}, fmt.Errorf("no artifact %s", id)
	}
	return sa, nil
}

func newTestPipeline(t *testing.T, client invoker.ToolClient, store ArtifactStore) *Pipeline {
	t.Helper()
	rules, err := config.LoadIntentRules("", slog.Default())
	if err != nil {
		t.Fatalf("loading rules: %v", err)
	}
	iv := invoker.NewInvoker(client, nil, nil,
		invoker.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2},
		time.Second, slog.Default())
	return New(
		intent.NewClassifier(rules, slog.Default()),
		params.NewValidator(slog.Default()),
		iv,
		artifact.NewOptimizer(slog.Default()),
		artifact.NewCodec(slog.Default()),
		store,
		slog.Default(),
	)
}

func terrainFeatures(count int) []any {
	features := make([]any, count)
	for i := 0; i < count; i++ {
		features[i] = map[string]any{
			"geometry":   map[string]any{"type": "Point", "coordinates": []any{float64(i), float64(i)}},
			"properties": map[string]any{"idx": float64(i)},
		}
	}
	return features
}

// =============================================================================
// End-to-End Tests
// =============================================================================

func TestPipeline_TerrainQueryEndToEnd(t *testing.T) {
	client := newFakeClient()
	client.payloads["terrain_analyzer"] = map[string]any{
		"id":       "art-terrain-1",
		"title":    "Terrain",
		"features": terrainFeatures(25),
		"boundary": func() []any {
			pts := make([]any, 400)
			for i := range pts {
				pts[i] = []any{float64(i), float64(i)}
			}
			return pts
		}(),
	}
	store := newMemStore()
	p := newTestPipeline(t, client, store)

	resp := p.Execute(context.Background(), datatypes.Query{
		Text: "analyze the terrain at 35.067482, -101.395466",
	})

	if !resp.Success {
		t.Fatalf("expected success: %s (%s)", resp.Message, resp.ErrorCategory)
	}
	if resp.Intent != intent.TerrainAnalysis {
		t.Errorf("intent = %s, want terrain_analysis", resp.Intent)
	}
	if client.invocations["terrain_analyzer"] != 1 {
		t.Errorf("tool invoked %d times, want 1", client.invocations["terrain_analyzer"])
	}
	if len(resp.Artifacts) != 1 {
		t.Fatalf("artifacts = %d, want 1", len(resp.Artifacts))
	}

	a := resp.Artifacts[0]
	if got := len(a.Data["features"].([]any)); got != 25 {
		t.Errorf("feature count changed through optimization: %d", got)
	}
	if got := len(a.Data["boundary"].([]any)); got != 100 {
		t.Errorf("boundary should be sampled to 100, got %d", got)
	}
	if a.ProjectID == "" {
		t.Error("terrain artifact should carry a synthesized project id")
	}
	if resp.CorrelationID == "" {
		t.Error("correlation id must be assigned")
	}

	// The persisted envelope round-trips to the same artifact.
	fetched, err := p.Fetch(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if got := len(fetched.Data["features"].([]any)); got != 25 {
		t.Errorf("fetched feature count = %d, want 25", got)
	}
	if fetched.IsPlaceholder() {
		t.Error("fetched artifact must not be a placeholder")
	}
}

func TestPipeline_ThoughtStepsCoverLifecycle(t *testing.T) {
	client := newFakeClient()
	client.payloads["terrain_analyzer"] = map[string]any{"id": "a1", "features": []any{}}
	p := newTestPipeline(t, client, nil)

	resp := p.Execute(context.Background(), datatypes.Query{Text: "terrain at 35.1, -101.4"})
	if !resp.Success {
		t.Fatalf("expected success: %s", resp.Message)
	}

	want := []datatypes.Phase{
		datatypes.PhaseReceived, datatypes.PhaseClassified, datatypes.PhaseValidated,
		datatypes.PhaseDispatched, datatypes.PhaseSucceeded, datatypes.PhaseOptimized,
		datatypes.PhaseEncoded, datatypes.PhaseReturned,
	}
	if len(resp.ThoughtSteps) != len(want) {
		t.Fatalf("steps = %d, want %d: %+v", len(resp.ThoughtSteps), len(want), resp.ThoughtSteps)
	}
	for i, phase := range want {
		if resp.ThoughtSteps[i].Phase != phase {
			t.Errorf("step %d = %s, want %s", i, resp.ThoughtSteps[i].Phase, phase)
		}
	}
}

// =============================================================================
// Failure Path Tests
// =============================================================================

func TestPipeline_UnknownIntentAsksForClarification(t *testing.T) {
	p := newTestPipeline(t, newFakeClient(), nil)

	resp := p.Execute(context.Background(), datatypes.Query{Text: "purple monkey dishwasher"})
	if resp.Success {
		t.Fatal("unknown intent must not succeed")
	}
	if resp.Intent != intent.Unknown {
		t.Errorf("intent = %s, want unknown", resp.Intent)
	}
	if resp.ErrorCategory != datatypes.ErrKindNone {
		t.Errorf("clarification is not an error, got category %s", resp.ErrorCategory)
	}
	if resp.Message == "" {
		t.Error("clarification message required")
	}
}

func TestPipeline_ParameterFailureSurfacesRemediation(t *testing.T) {
	client := newFakeClient()
	p := newTestPipeline(t, client, nil)

	// Terrain without coordinates.
	resp := p.Execute(context.Background(), datatypes.Query{Text: "analyze the terrain please"})
	if resp.Success {
		t.Fatal("missing coordinates must fail validation")
	}
	if resp.ErrorCategory != datatypes.ErrKindParameter {
		t.Errorf("category = %s, want parameter_error", resp.ErrorCategory)
	}
	if client.invocations["terrain_analyzer"] != 0 {
		t.Error("tool must not be invoked when validation fails")
	}
}

func TestPipeline_ToolTimeoutSurfacesAfterRetries(t *testing.T) {
	client := newFakeClient()
	client.errs["terrain_analyzer"] = context.DeadlineExceeded
	p := newTestPipeline(t, client, nil)

	resp := p.Execute(context.Background(), datatypes.Query{Text: "terrain at 35.1, -101.4"})
	if resp.Success {
		t.Fatal("expected failure")
	}
	if resp.ErrorCategory != datatypes.ErrKindToolTimeout {
		t.Errorf("category = %s, want tool_timeout", resp.ErrorCategory)
	}
	if client.invocations["terrain_analyzer"] != 3 {
		t.Errorf("tool invoked %d times, want 3 (retry policy)", client.invocations["terrain_analyzer"])
	}
}

func TestPipeline_FatalToolErrorNotRetried(t *testing.T) {
	client := newFakeClient()
	client.errs["terrain_analyzer"] = invoker.ErrPermissionDenied
	p := newTestPipeline(t, client, nil)

	resp := p.Execute(context.Background(), datatypes.Query{Text: "terrain at 35.1, -101.4"})
	if resp.Success {
		t.Fatal("expected failure")
	}
	if resp.ErrorCategory != datatypes.ErrKindToolPermissionDenied {
		t.Errorf("category = %s, want tool_permission_denied", resp.ErrorCategory)
	}
	if client.invocations["terrain_analyzer"] != 1 {
		t.Errorf("tool invoked %d times, want 1", client.invocations["terrain_analyzer"])
	}
}

func TestPipeline_FetchDecodesCorruptAsPlaceholder(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(t, newFakeClient(), store)

	store.data["bad"] = artifact.SerializedArtifact{Envelope: "wva1.corrupted.ffffffff", Size: 23}

	got, err := p.Fetch(context.Background(), "bad")
	if err != nil {
		t.Fatalf("fetch of corrupt artifact must not error: %v", err)
	}
	if !got.IsPlaceholder() {
		t.Error("corrupt envelope must decode to placeholder")
	}
}

func TestPipeline_FetchWithoutStore(t *testing.T) {
	p := newTestPipeline(t, newFakeClient(), nil)
	if _, err := p.Fetch(context.Background(), "x"); err == nil {
		t.Error("fetch without a store must fail")
	}
}
