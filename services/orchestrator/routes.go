// Copyright (C) 2026 Windvane AI (eng@windvane.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator exposes the query pipeline over HTTP.
package orchestrator

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all Windvane routes with the router.
//
// Description:
//
//	Registers the /v1/windvane/* endpoints with the given Gin router group.
//	The group should already carry any required middleware.
//
// Endpoints:
//
//	POST /v1/windvane/query - Run one free-text query through the pipeline
//	GET  /v1/windvane/artifacts/:id - Fetch a previously returned artifact
//	GET  /v1/windvane/diagnostics - Run diagnostics (?mode=quick|full)
//	GET  /v1/windvane/health - Liveness/health probe
//
// Example:
//
//	handlers := orchestrator.NewHandlers(pipe, runner, logger)
//	v1 := router.Group("/v1")
//	orchestrator.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	wv := rg.Group("/windvane")
	{
		wv.POST("/query", handlers.HandleQuery)
		wv.GET("/artifacts/:id", handlers.HandleGetArtifact)
		wv.GET("/diagnostics", handlers.HandleDiagnostics)
		wv.GET("/health", handlers.HandleHealth)
	}
}
