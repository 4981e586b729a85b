// Copyright (C) 2026 Windvane AI (eng@windvane.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	optimizedArraysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "windvane",
		Subsystem: "optimizer",
		Name:      "arrays_total",
		Help:      "Arrays visited by classification",
	}, []string{"class"})

	optimizedElementsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "windvane",
		Subsystem: "optimizer",
		Name:      "elements_dropped_total",
		Help:      "Total array elements removed by down-sampling",
	})

	optimizerViolations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "windvane",
		Subsystem: "optimizer",
		Name:      "invariant_violations_total",
		Help:      "Feature-collection length changes detected post-optimize (defects)",
	})
)

var optimizerTracer = otel.Tracer("windvane.orchestrator.optimizer")

// =============================================================================
// Array Classification
// =============================================================================

// ArrayClass is the optimizer's classification of one array node.
type ArrayClass string

const (
	// ClassFeatureCollection marks arrays of geometry+properties objects.
	// Count is semantically meaningful; never sampled.
	ClassFeatureCollection ArrayClass = "feature_collection"

	// ClassCoordinate marks numeric/nested-numeric arrays meaningful only
	// for rendering density.
	ClassCoordinate ArrayClass = "coordinate"

	// ClassGeneric marks large arrays that are neither of the above.
	ClassGeneric ArrayClass = "generic"

	// ClassPassthrough marks arrays below every threshold, kept whole.
	ClassPassthrough ArrayClass = "passthrough"
)

// geometryKeys and propertyKeys are the field names that identify a
// feature object. Both a geometry-like and a properties-like field must be
// present on every element for the array to count as a feature-collection.
var (
	geometryKeys = []string{"geometry", "geom"}
	propertyKeys = []string{"properties", "props", "attributes"}
)

// =============================================================================
// Optimization Report
// =============================================================================

// PathStat records the before/after element count for one array node.
type PathStat struct {
	// Path is the JSON-pointer-ish location of the array in the tree,
	// e.g. "data/boundary/coordinates".
	Path string `json:"path"`

	// Class is the optimizer's classification of the array.
	Class ArrayClass `json:"class"`

	// Before is the element count entering optimization.
	Before int `json:"before"`

	// After is the element count leaving optimization.
	After int `json:"after"`
}

// Report aggregates per-path statistics for one artifact optimization.
type Report struct {
	// Paths lists every array node visited, in tree order.
	Paths []PathStat `json:"paths"`

	// Violations lists feature-collection paths whose length changed.
	// A non-empty list is a defect in the optimizer, surfaced rather than
	// silently tolerated.
	Violations []string `json:"violations,omitempty"`
}

// Dropped returns the total element count removed across all paths.
func (r *Report) Dropped() int {
	total := 0
	for _, p := range r.Paths {
		total += p.Before - p.After
	}
	return total
}

// =============================================================================
// Optimizer
// =============================================================================

// Optimizer walks an artifact's result tree and produces a size-bounded
// variant.
//
// Description:
//
//	Feature-collections are always preserved in full (the optimizer
//	recurses into each feature to down-sample nested coordinate arrays).
//	Coordinate arrays past CoordThreshold are stride-sampled to roughly
//	length/CoordDivisor. Other arrays past GenericThreshold sample with the
//	larger GenericDivisor stride. Every visited array records a before/after
//	count in the report.
//
// Thread Safety: Safe for concurrent use (configuration is read-only).
type Optimizer struct {
	// CoordThreshold is the length past which coordinate arrays are sampled.
	CoordThreshold int

	// CoordDivisor controls the kept fraction of a coordinate array
	// (kept ≈ length/CoordDivisor).
	CoordDivisor int

	// GenericThreshold is the length past which generic arrays are sampled.
	GenericThreshold int

	// GenericDivisor controls the kept fraction of a generic array.
	GenericDivisor int

	logger *slog.Logger
}

// NewOptimizer creates an Optimizer with the standard thresholds
// (coordinate: 100 → keep 1/4; generic: 1000 → keep 1/8).
func NewOptimizer(logger *slog.Logger) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{
		CoordThreshold:   100,
		CoordDivisor:     4,
		GenericThreshold: 1000,
		GenericDivisor:   8,
		logger:           logger,
	}
}

// Optimize produces the size-bounded variant of an artifact.
//
// Description:
//
//	Returns a new artifact; the input is never mutated. The report records
//	per-path before/after counts and any feature-collection length
//	violations (a violation is a defect — it is counted, logged, and
//	surfaced in the report, never swallowed).
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	a   - The artifact to optimize.
//
// Outputs:
//
//	Artifact - The optimized copy.
//	*Report  - Per-path statistics. Never nil.
//
// Thread Safety: Safe for concurrent use.
func (o *Optimizer) Optimize(ctx context.Context, a Artifact) (Artifact, *Report) {
	_, span := optimizerTracer.Start(ctx, "artifact.Optimizer.Optimize",
		trace.WithAttributes(
			attribute.String("artifact.kind", string(a.Kind)),
			attribute.String("artifact.id", a.ID),
		),
	)
	defer span.End()

	report := &Report{}
	out := a
	if a.Data != nil {
		out.Data = o.optimizeMap(a.Data, "data", report)
	}

	dropped := report.Dropped()
	optimizedElementsDropped.Add(float64(dropped))
	span.SetAttributes(
		attribute.Int("arrays_visited", len(report.Paths)),
		attribute.Int("elements_dropped", dropped),
		attribute.Int("violations", len(report.Violations)),
	)

	if len(report.Violations) > 0 {
		optimizerViolations.Add(float64(len(report.Violations)))
		o.logger.Error("optimizer: feature-collection length changed",
			slog.String("artifact_id", a.ID),
			slog.Any("paths", report.Violations),
		)
	}

	return out, report
}

// optimizeMap returns a copy of m with every array child optimized.
func (o *Optimizer) optimizeMap(m map[string]any, path string, report *Report) map[string]any {
	out := make(map[string]any, len(m))
	for key, val := range m {
		out[key] = o.optimizeNode(val, path+"/"+key, report)
	}
	return out
}

// optimizeNode dispatches on node shape.
func (o *Optimizer) optimizeNode(node any, path string, report *Report) any {
	switch n := node.(type) {
	case map[string]any:
		return o.optimizeMap(n, path, report)
	case []any:
		return o.optimizeArray(n, path, report)
	default:
		return node
	}
}

// optimizeArray classifies one array node and applies the matching policy.
func (o *Optimizer) optimizeArray(arr []any, path string, report *Report) []any {
	before := len(arr)

	switch {
	case isFeatureCollection(arr):
		// Preserve every feature; recurse to catch nested coordinate
		// arrays inside geometries.
		out := make([]any, len(arr))
		for i, item := range arr {
			out[i] = o.optimizeNode(item, fmt.Sprintf("%s[%d]", path, i), report)
		}
		stat := PathStat{Path: path, Class: ClassFeatureCollection, Before: before, After: len(out)}
		report.Paths = append(report.Paths, stat)
		optimizedArraysTotal.WithLabelValues(string(ClassFeatureCollection)).Inc()
		if len(out) != before {
			report.Violations = append(report.Violations, path)
		}
		return out

	case isCoordinateArray(arr) && before > o.CoordThreshold:
		out := strideSample(arr, o.CoordDivisor)
		report.Paths = append(report.Paths, PathStat{Path: path, Class: ClassCoordinate, Before: before, After: len(out)})
		optimizedArraysTotal.WithLabelValues(string(ClassCoordinate)).Inc()
		return out

	case !isCoordinateArray(arr) && before > o.GenericThreshold:
		out := strideSample(arr, o.GenericDivisor)
		// Sampled generic elements may themselves hold arrays; recurse.
		for i, item := range out {
			out[i] = o.optimizeNode(item, fmt.Sprintf("%s[%d]", path, i), report)
		}
		report.Paths = append(report.Paths, PathStat{Path: path, Class: ClassGeneric, Before: before, After: len(out)})
		optimizedArraysTotal.WithLabelValues(string(ClassGeneric)).Inc()
		return out

	case isCoordinateArray(arr):
		// Below threshold: numeric tuples are leaves, kept whole.
		out := make([]any, len(arr))
		copy(out, arr)
		report.Paths = append(report.Paths, PathStat{Path: path, Class: ClassPassthrough, Before: before, After: len(out)})
		optimizedArraysTotal.WithLabelValues(string(ClassPassthrough)).Inc()
		return out

	default:
		// Below thresholds: keep whole but still recurse into children.
		out := make([]any, len(arr))
		for i, item := range arr {
			out[i] = o.optimizeNode(item, fmt.Sprintf("%s[%d]", path, i), report)
		}
		report.Paths = append(report.Paths, PathStat{Path: path, Class: ClassPassthrough, Before: before, After: len(out)})
		optimizedArraysTotal.WithLabelValues(string(ClassPassthrough)).Inc()
		return out
	}
}

// strideSample keeps roughly len(arr)/divisor elements at an even stride.
// The first element is always kept; kept count is ceil(len/divisor), which
// lands within ±1 of the target fraction.
func strideSample(arr []any, divisor int) []any {
	if divisor <= 1 || len(arr) <= divisor {
		out := make([]any, len(arr))
		copy(out, arr)
		return out
	}
	kept := int(math.Ceil(float64(len(arr)) / float64(divisor)))
	out := make([]any, 0, kept)
	for i := 0; i < len(arr); i += divisor {
		out = append(out, arr[i])
	}
	return out
}

// =============================================================================
// Classification Predicates
// =============================================================================

// isFeatureCollection reports whether every element is an object carrying
// both a geometry-like and a properties-like field. Empty arrays are not
// feature-collections (nothing to preserve, nothing to sample).
func isFeatureCollection(arr []any) bool {
	if len(arr) == 0 {
		return false
	}
	for _, item := range arr {
		obj, ok := item.(map[string]any)
		if !ok {
			return false
		}
		if !hasAnyKey(obj, geometryKeys) || !hasAnyKey(obj, propertyKeys) {
			return false
		}
	}
	return true
}

// isCoordinateArray reports whether every element is a number or a nested
// numeric tuple (to any depth). Empty arrays are not coordinate arrays.
func isCoordinateArray(arr []any) bool {
	if len(arr) == 0 {
		return false
	}
	for _, item := range arr {
		if !isNumericNode(item) {
			return false
		}
	}
	return true
}

// isNumericNode reports whether node is a number or an array of numeric
// nodes.
func isNumericNode(node any) bool {
	switch n := node.(type) {
	case float64, float32, int, int64, int32:
		return true
	case []any:
		if len(n) == 0 {
			return false
		}
		for _, item := range n {
			if !isNumericNode(item) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// hasAnyKey reports whether obj contains any of the candidate keys.
func hasAnyKey(obj map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := obj[k]; ok {
			return true
		}
	}
	return false
}
