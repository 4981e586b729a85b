// Copyright (C) 2026 Windvane AI (eng@windvane.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/windvane-ai/windvane/services/orchestrator/datatypes"
	"github.com/windvane-ai/windvane/services/orchestrator/diagnostics"
	"github.com/windvane-ai/windvane/services/orchestrator/pipeline"
	"github.com/windvane-ai/windvane/services/orchestrator/storage/badgerstore"
)

// ErrorResponse is the uniform error body for all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// QueryRequest is the body of POST /v1/windvane/query.
type QueryRequest struct {
	// Text is the free-text query. Required.
	Text string `json:"text" binding:"required"`

	// SessionID optionally ties the query to a conversation.
	SessionID string `json:"session_id"`
}

// Handlers carries the HTTP handlers and their collaborators.
type Handlers struct {
	pipe   *pipeline.Pipeline
	runner *diagnostics.Runner
	logger *slog.Logger
}

// NewHandlers creates the handler set.
//
// Inputs:
//
//	pipe   - The query pipeline. Must not be nil.
//	runner - The diagnostics runner. Must not be nil.
//	logger - Logger instance. Must not be nil.
func NewHandlers(pipe *pipeline.Pipeline, runner *diagnostics.Runner, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{pipe: pipe, runner: runner, logger: logger}
}

// getOrCreateRequestID returns the inbound X-Request-ID or mints one.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// HandleQuery handles POST /v1/windvane/query.
//
// Description:
//
//	Runs one free-text query through the full pipeline. Always returns 200
//	with the pipeline's response when the request itself is well-formed;
//	query-level failures (unknown intent, parameter errors, tool failures)
//	are expressed in the body's success flag and error_category, not in
//	the HTTP status.
//
// Response:
//
//	200 OK: pipeline.Response
//	400 Bad Request: missing or empty text
func (h *Handlers) HandleQuery(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleQuery")

	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "text field is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	resp := h.pipe.Execute(c.Request.Context(), datatypes.Query{
		Text:          req.Text,
		SessionID:     req.SessionID,
		CorrelationID: requestID,
	})

	logger.Info("query handled",
		slog.String("intent", string(resp.Intent)),
		slog.Bool("success", resp.Success),
		slog.String("error_category", string(resp.ErrorCategory)),
	)
	c.JSON(http.StatusOK, resp)
}

// HandleGetArtifact handles GET /v1/windvane/artifacts/:id.
//
// Response:
//
//	200 OK: artifact.Artifact (may be a decode placeholder; see kind "error")
//	404 Not Found: no artifact under that id, or it expired
//	500 Internal Server Error: storage failure
func (h *Handlers) HandleGetArtifact(c *gin.Context) {
	id := c.Param("id")

	a, err := h.pipe.Fetch(c.Request.Context(), id)
	switch {
	case errors.Is(err, badgerstore.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "artifact not found",
			Code:  "ARTIFACT_NOT_FOUND",
		})
		return
	case err != nil:
		h.logger.Error("artifact fetch failed",
			slog.String("artifact_id", id),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "artifact store failure",
			Code:  "STORE_ERROR",
		})
		return
	}
	c.JSON(http.StatusOK, a)
}

// HandleDiagnostics handles GET /v1/windvane/diagnostics.
//
// Query Parameters:
//
//	mode: "full" (default) runs every check; "quick" skips checks that
//	      touch external systems.
//
// Response:
//
//	200 OK: diagnostics.Report (status may still be unhealthy; callers
//	        inspect the body, this endpoint reports rather than probes)
//	400 Bad Request: unknown mode
func (h *Handlers) HandleDiagnostics(c *gin.Context) {
	mode := c.DefaultQuery("mode", "full")

	var report diagnostics.Report
	switch mode {
	case "full":
		report = h.runner.RunFull(c.Request.Context())
	case "quick":
		report = h.runner.RunQuick(c.Request.Context())
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "mode must be 'full' or 'quick'",
			Code:  "INVALID_PARAMETER",
		})
		return
	}
	c.JSON(http.StatusOK, report)
}

// HandleHealth handles GET /v1/windvane/health.
//
// Description:
//
//	Probe endpoint: runs quick diagnostics and maps the verdict onto the
//	HTTP status so load balancers can act on it without parsing the body.
//
// Response:
//
//	200 OK: healthy or degraded
//	503 Service Unavailable: unhealthy or error
func (h *Handlers) HandleHealth(c *gin.Context) {
	report := h.runner.RunQuick(c.Request.Context())

	status := http.StatusOK
	if report.Status == diagnostics.StatusUnhealthy || report.Status == diagnostics.StatusError {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": report.Status})
}
