// Copyright (C) 2026 Windvane AI (eng@windvane.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command windvane starts the Windvane query-orchestration server.
//
// Windvane routes free-text wind-farm analysis requests to compute tools:
//   - Rule-table intent classification with exclusion guards
//   - Table-driven parameter validation with free-text extraction
//   - Cached-reachability tool dispatch with kind-driven retry
//   - Artifact optimization, encoding, and BadgerDB persistence
//
// Usage:
//
//	go run ./cmd/windvane
//	go run ./cmd/windvane -port 8600
//
// Configuration (environment):
//
//	TOOL_BASE_URL        - Compute-tool fleet root (required)
//	ARTIFACT_STORE_DIR   - BadgerDB directory (default ~/.windvane/artifacts)
//	INTENT_RULES_PATH    - Optional override for the embedded rule table
//	MEDIA_S3_ENDPOINT    - Object store endpoint (optional; media disabled
//	                       when unset)
//	MEDIA_S3_ACCESS_KEY, MEDIA_S3_SECRET_KEY, MEDIA_S3_BUCKET,
//	MEDIA_S3_REGION, MEDIA_S3_USE_SSL
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8600/v1/windvane/health
//
//	# Run a query
//	curl -X POST http://localhost:8600/v1/windvane/query \
//	  -H "Content-Type: application/json" \
//	  -d '{"text": "analyze terrain at 35.067482, -101.395466"}'
//
//	# Diagnostics
//	curl http://localhost:8600/v1/windvane/diagnostics?mode=full | jq
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/windvane-ai/windvane/services/orchestrator"
	"github.com/windvane-ai/windvane/services/orchestrator/artifact"
	"github.com/windvane-ai/windvane/services/orchestrator/config"
	"github.com/windvane-ai/windvane/services/orchestrator/diagnostics"
	"github.com/windvane-ai/windvane/services/orchestrator/intent"
	"github.com/windvane-ai/windvane/services/orchestrator/invoker"
	"github.com/windvane-ai/windvane/services/orchestrator/params"
	"github.com/windvane-ai/windvane/services/orchestrator/pipeline"
	"github.com/windvane-ai/windvane/services/orchestrator/storage/badgerstore"
	"github.com/windvane-ai/windvane/services/orchestrator/storage/objectstore"
)

func main() {
	port := flag.Int("port", 8600, "HTTP listen port")
	debug := flag.Bool("debug", false, "Enable debug logging and Gin debug mode")
	traceStdout := flag.Bool("trace-stdout", false, "Export OTel spans to stdout")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// W3C TraceContext propagation so tool calls and inbound requests share
	// trace identity.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if *traceStdout {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			logger.Error("failed to build stdout trace exporter", slog.String("error", err.Error()))
			os.Exit(1)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(tp)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(ctx)
		}()
	}

	toolBaseURL := os.Getenv("TOOL_BASE_URL")
	if toolBaseURL == "" {
		logger.Error("TOOL_BASE_URL is required")
		os.Exit(1)
	}

	// Intent rules: embedded table by default, file override via env.
	rules, err := config.LoadIntentRules(os.Getenv("INTENT_RULES_PATH"), logger)
	if err != nil {
		logger.Error("failed to load intent rules", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Artifact store. Graceful degradation: if the directory cannot be
	// opened, queries still run, artifacts just aren't fetchable later.
	storeDir := os.Getenv("ARTIFACT_STORE_DIR")
	if storeDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			storeDir = filepath.Join(home, ".windvane", "artifacts")
		}
	}
	var store *badgerstore.Store
	if storeDir != "" {
		s, err := badgerstore.Open(storeDir, logger)
		if err != nil {
			logger.Warn("artifact store unavailable, persistence disabled",
				slog.String("dir", storeDir),
				slog.String("error", err.Error()),
			)
		} else {
			store = s
		}
	}

	// Optional media object store.
	var media *objectstore.Store
	if endpoint := os.Getenv("MEDIA_S3_ENDPOINT"); endpoint != "" {
		useSSL, _ := strconv.ParseBool(os.Getenv("MEDIA_S3_USE_SSL"))
		m, err := objectstore.New(objectstore.Config{
			Endpoint:  endpoint,
			Region:    os.Getenv("MEDIA_S3_REGION"),
			AccessKey: os.Getenv("MEDIA_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("MEDIA_S3_SECRET_KEY"),
			Bucket:    os.Getenv("MEDIA_S3_BUCKET"),
			UseSSL:    useSSL,
		}, logger)
		if err != nil {
			logger.Warn("media object store unavailable",
				slog.String("error", err.Error()),
			)
		} else {
			media = m
		}
	}

	// Pipeline components.
	classifier := intent.NewClassifier(rules, logger)
	validator := params.NewValidator(logger)
	client := invoker.NewHTTPToolClient(toolBaseURL)
	cache := invoker.NewReachabilityCache()
	throttle := invoker.NewThrottle(60, time.Minute)
	inv := invoker.NewInvoker(client, cache, throttle, invoker.DefaultRetryPolicy(), 30*time.Second, logger)
	optimizer := artifact.NewOptimizer(logger)
	codec := artifact.NewCodec(logger)

	var pipeStore pipeline.ArtifactStore
	if store != nil {
		pipeStore = store
	}
	pipe := pipeline.New(classifier, validator, inv, optimizer, codec, pipeStore, logger)

	// Diagnostics share the invoker's reachability cache so a passing check
	// warms the dispatch path.
	checks := []diagnostics.Check{
		diagnostics.ConfigCheck("tool_base_url", toolBaseURL, "set TOOL_BASE_URL to the tool fleet root", 10),
		diagnostics.ConfigCheck("artifact_store_dir", storeDir, "set ARTIFACT_STORE_DIR to a writable directory", 11),
		diagnostics.ToolReachabilityCheck(client, cache, "terrain_analyzer", true, 20),
		diagnostics.ToolReachabilityCheck(client, cache, "layout_optimizer", true, 21),
		diagnostics.ToolReachabilityCheck(client, cache, "wake_simulator", false, 22),
		diagnostics.ToolReachabilityCheck(client, cache, "wind_rose_generator", false, 23),
		diagnostics.ToolReachabilityCheck(client, cache, "report_generator", false, 24),
		diagnostics.ToolReachabilityCheck(client, cache, "project_catalog", false, 25),
	}
	if store != nil {
		checks = append(checks, diagnostics.StoreCheck("artifacts", false, 30, store.Ping,
			"check ARTIFACT_STORE_DIR permissions and disk space"))
	}
	if media != nil {
		checks = append(checks, diagnostics.StoreCheck("media", false, 31, media.Ping,
			"check MEDIA_S3_* settings and bucket policy"))
	}
	runner := diagnostics.NewRunner(checks, 10*time.Second, logger)

	handlers := orchestrator.NewHandlers(pipe, runner, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("windvane"))
	if *debug {
		router.Use(gin.Logger())
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	orchestrator.RegisterRoutes(v1, handlers)

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("shutting down windvane server")
		if store != nil {
			if err := store.Close(); err != nil {
				logger.Warn("failed to close artifact store", slog.String("error", err.Error()))
			}
		}
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("starting windvane server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		logger.Error("failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
