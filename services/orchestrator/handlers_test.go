// Copyright (C) 2026 Windvane AI (eng@windvane.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"

	"github.com/windvane-ai/windvane/services/orchestrator/artifact"
	"github.com/windvane-ai/windvane/services/orchestrator/config"
	"github.com/windvane-ai/windvane/services/orchestrator/diagnostics"
	"github.com/windvane-ai/windvane/services/orchestrator/intent"
	"github.com/windvane-ai/windvane/services/orchestrator/invoker"
	"github.com/windvane-ai/windvane/services/orchestrator/params"
	"github.com/windvane-ai/windvane/services/orchestrator/pipeline"
	"github.com/windvane-ai/windvane/services/orchestrator/storage/badgerstore"
)

type stubToolClient struct {
	payload map[string]any
	err     error
}

func (s *stubToolClient) Exists(context.Context, string) (bool, error) { return true, nil }

func (s *stubToolClient) Invoke(context.Context, string, map[string]any) (map[string]any, error) {
	return s.payload, s.err
}

func newTestRouter(t *testing.T, client invoker.ToolClient, checks []diagnostics.Check) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("opening in-memory badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store := badgerstore.NewWithDB(db, slog.Default())

	rules, err := config.LoadIntentRules("", slog.Default())
	if err != nil {
		t.Fatalf("loading rules: %v", err)
	}
	iv := invoker.NewInvoker(client, nil, nil, invoker.DefaultRetryPolicy(), time.Second, slog.Default())
	pipe := pipeline.New(
		intent.NewClassifier(rules, slog.Default()),
		params.NewValidator(slog.Default()),
		iv,
		artifact.NewOptimizer(slog.Default()),
		artifact.NewCodec(slog.Default()),
		store,
		slog.Default(),
	)
	runner := diagnostics.NewRunner(checks, time.Second, slog.Default())

	router := gin.New()
	RegisterRoutes(router.Group("/v1"), NewHandlers(pipe, runner, slog.Default()))
	return router
}

func passingCheck(id string) diagnostics.Check {
	return diagnostics.Check{ID: id, Priority: 1, Run: func(context.Context) error { return nil }}
}

func failingCriticalCheck(id string) diagnostics.Check {
	return diagnostics.Check{
		ID: id, Critical: true, Priority: 1,
		Run: func(context.Context) error { return fmt.Errorf("%s down", id) },
	}
}

// =============================================================================
// Query Endpoint Tests
// =============================================================================

func TestHandleQuery_Success(t *testing.T) {
	client := &stubToolClient{payload: map[string]any{"id": "art-1", "features": []any{}}}
	router := newTestRouter(t, client, nil)

	body := `{"text": "analyze the terrain at 35.1, -101.4"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/windvane/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp pipeline.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.Success {
		t.Errorf("success = false: %s", resp.Message)
	}
	if resp.Intent != intent.TerrainAnalysis {
		t.Errorf("intent = %s, want terrain_analysis", resp.Intent)
	}
}

func TestHandleQuery_MissingTextIs400(t *testing.T) {
	router := newTestRouter(t, &stubToolClient{}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/windvane/query", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	if er.Code != "MISSING_PARAMETER" {
		t.Errorf("code = %q, want MISSING_PARAMETER", er.Code)
	}
}

func TestHandleQuery_PipelineFailureStill200(t *testing.T) {
	// Unknown intent: well-formed request, failed query. The HTTP status
	// stays 200 and the body carries the verdict.
	router := newTestRouter(t, &stubToolClient{}, nil)

	body := `{"text": "purple monkey dishwasher"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/windvane/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp pipeline.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Success {
		t.Error("unknown intent must not succeed")
	}
}

func TestHandleQuery_EchoesRequestID(t *testing.T) {
	client := &stubToolClient{payload: map[string]any{"id": "art-1", "features": []any{}}}
	router := newTestRouter(t, client, nil)

	body := `{"text": "terrain at 35.1, -101.4"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/windvane/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-42")
	router.ServeHTTP(w, req)

	var resp pipeline.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.CorrelationID != "req-42" {
		t.Errorf("correlation_id = %q, want req-42", resp.CorrelationID)
	}
}

// =============================================================================
// Artifact Endpoint Tests
// =============================================================================

func TestHandleGetArtifact_RoundTrip(t *testing.T) {
	client := &stubToolClient{payload: map[string]any{"id": "art-7", "features": []any{}}}
	router := newTestRouter(t, client, nil)

	body := `{"text": "terrain at 35.1, -101.4"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/windvane/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("query status = %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/windvane/artifacts/art-7", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("fetch status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var a artifact.Artifact
	if err := json.Unmarshal(w.Body.Bytes(), &a); err != nil {
		t.Fatalf("unmarshal artifact: %v", err)
	}
	if a.ID != "art-7" {
		t.Errorf("artifact id = %q, want art-7", a.ID)
	}
}

func TestHandleGetArtifact_Missing404(t *testing.T) {
	router := newTestRouter(t, &stubToolClient{}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/windvane/artifacts/nope", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	if er.Code != "ARTIFACT_NOT_FOUND" {
		t.Errorf("code = %q, want ARTIFACT_NOT_FOUND", er.Code)
	}
}

// =============================================================================
// Diagnostics and Health Endpoint Tests
// =============================================================================

func TestHandleDiagnostics_Modes(t *testing.T) {
	router := newTestRouter(t, &stubToolClient{}, []diagnostics.Check{passingCheck("a")})

	for _, mode := range []string{"", "?mode=full", "?mode=quick"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/windvane/diagnostics"+mode, nil)
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("mode %q status = %d, want 200", mode, w.Code)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/windvane/diagnostics?mode=bogus", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bogus mode status = %d, want 400", w.Code)
	}
}

func TestHandleHealth_MapsStatusCode(t *testing.T) {
	healthy := newTestRouter(t, &stubToolClient{}, []diagnostics.Check{passingCheck("a")})
	w := httptest.NewRecorder()
	healthy.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/windvane/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("healthy status = %d, want 200", w.Code)
	}

	unhealthy := newTestRouter(t, &stubToolClient{}, []diagnostics.Check{failingCriticalCheck("store")})
	w = httptest.NewRecorder()
	unhealthy.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/windvane/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d, want 503", w.Code)
	}
}
