// Copyright (C) 2026 Windvane AI (eng@windvane.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package intent classifies free-text queries into pipeline intents using a
// priority-ordered rule table with explicit negative guards.
package intent

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/windvane-ai/windvane/services/orchestrator/config"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	classifiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "windvane",
		Subsystem: "intent",
		Name:      "classified_total",
		Help:      "Classification outcomes by intent",
	}, []string{"intent"})

	classifyLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "windvane",
		Subsystem: "intent",
		Name:      "classify_latency_seconds",
		Help:      "Rule table evaluation latency",
		Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01},
	})

	excludeGuardFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "windvane",
		Subsystem: "intent",
		Name:      "exclude_guard_fired_total",
		Help:      "Times a negative guard blocked an otherwise matching rule",
	}, []string{"intent"})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var classifierTracer = otel.Tracer("windvane.orchestrator.intent")

// =============================================================================
// Intent Types
// =============================================================================

// Intent is the classified purpose of a query. It selects which tool and
// parameter schema apply downstream.
type Intent string

const (
	TerrainAnalysis    Intent = "terrain_analysis"
	LayoutOptimization Intent = "layout_optimization"
	WakeSimulation     Intent = "wake_simulation"
	WindRose           Intent = "wind_rose"
	ReportGeneration   Intent = "report_generation"
	ProjectList        Intent = "project_list"
	ProjectDetails     Intent = "project_details"
	Unknown            Intent = "unknown"
)

// Classification is the result of one rule table evaluation.
type Classification struct {
	// Intent is the selected intent. Unknown when no rule matched.
	Intent Intent `json:"intent"`

	// Priority is the matched rule's priority. Zero for Unknown.
	Priority int `json:"priority,omitempty"`

	// MatchedPattern is the positive pattern that fired.
	MatchedPattern string `json:"matched_pattern,omitempty"`

	// Rule is the matched rule's operator-facing reason text.
	Rule string `json:"rule,omitempty"`

	// Clarification is set only for Unknown: a message asking the user to
	// rephrase, listing the request categories the pipeline understands.
	Clarification string `json:"clarification,omitempty"`
}

// =============================================================================
// Classifier
// =============================================================================

// compiledPattern holds a pattern string alongside its pre-compiled regex
// (nil for substring-only patterns).
type compiledPattern struct {
	raw   string
	regex *regexp.Regexp
}

// compiledRule is one rule with all patterns pre-compiled at construction.
type compiledRule struct {
	intent   Intent
	priority int
	reason   string
	patterns []compiledPattern
	exclude  []compiledPattern
}

// Classifier maps a free-text query to an Intent with a priority-ordered
// rule table.
//
// Description:
//
//	Rules are evaluated in descending priority order; the first rule whose
//	positive pattern matches AND whose negative guards all miss wins.
//	No match yields Unknown with a clarification message. Given the same
//	query and rule table the result is always identical — the classifier
//	holds no mutable state.
//
// Thread Safety: Safe for concurrent use (all state is read-only after
// construction).
type Classifier struct {
	rules  []compiledRule
	logger *slog.Logger
}

// NewClassifier compiles a validated rule table into a Classifier.
//
// Inputs:
//
//	rules  - Loaded rule table, already priority-sorted. Must not be nil.
//	logger - Logger instance. May be nil.
//
// Outputs:
//
//	*Classifier - Ready-to-use classifier. Never nil.
func NewClassifier(rules *config.IntentRules, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	compiled := make([]compiledRule, 0, len(rules.Rules))
	for _, r := range rules.Rules {
		compiled = append(compiled, compiledRule{
			intent:   Intent(r.Intent),
			priority: r.Priority,
			reason:   r.Reason,
			patterns: compilePatterns(r.Patterns, logger),
			exclude:  compilePatterns(r.Exclude, logger),
		})
	}
	return &Classifier{rules: compiled, logger: logger}
}

// compilePatterns lowercases patterns and pre-compiles those containing
// regex metacharacters. Invalid regex degrades to substring matching.
func compilePatterns(patterns []string, logger *slog.Logger) []compiledPattern {
	result := make([]compiledPattern, 0, len(patterns))
	for _, pattern := range patterns {
		lower := strings.ToLower(pattern)
		cp := compiledPattern{raw: lower}
		if strings.ContainsAny(lower, ".*[(|") {
			re, err := regexp.Compile("(?i)" + lower)
			if err != nil {
				logger.Warn("intent: invalid regex pattern, using substring match",
					slog.String("pattern", pattern),
					slog.String("error", err.Error()),
				)
			} else {
				cp.regex = re
			}
		}
		result = append(result, cp)
	}
	return result
}

// Classify evaluates the rule table against one query.
//
// Description:
//
//	First match in priority order wins. A rule only fires when at least one
//	positive pattern matches and no exclude pattern matches; the exclusion
//	keeps higher-level categories from being shadowed by unrelated rules
//	that share surface tokens.
//
// Inputs:
//
//	ctx   - Context for tracing. Must not be nil.
//	query - The user's free-text request.
//
// Outputs:
//
//	Classification - The selected intent, or Unknown with clarification.
//
// Thread Safety: Safe for concurrent use.
func (c *Classifier) Classify(ctx context.Context, query string) Classification {
	start := time.Now()
	_, span := classifierTracer.Start(ctx, "intent.Classifier.Classify")
	defer span.End()

	queryLower := strings.ToLower(strings.TrimSpace(query))

	for _, rule := range c.rules {
		matched, pattern := matchAny(queryLower, rule.patterns)
		if !matched {
			continue
		}
		if blocked, guard := matchAny(queryLower, rule.exclude); blocked {
			excludeGuardFired.WithLabelValues(string(rule.intent)).Inc()
			c.logger.Debug("intent: exclude guard blocked rule",
				slog.String("intent", string(rule.intent)),
				slog.String("guard", guard),
			)
			continue
		}

		classifiedTotal.WithLabelValues(string(rule.intent)).Inc()
		classifyLatency.Observe(time.Since(start).Seconds())
		span.SetAttributes(
			attribute.String("intent", string(rule.intent)),
			attribute.String("matched_pattern", pattern),
			attribute.Int("priority", rule.priority),
		)
		return Classification{
			Intent:         rule.intent,
			Priority:       rule.priority,
			MatchedPattern: pattern,
			Rule:           rule.reason,
		}
	}

	classifiedTotal.WithLabelValues(string(Unknown)).Inc()
	classifyLatency.Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.String("intent", string(Unknown)))
	return Classification{
		Intent: Unknown,
		Clarification: "I couldn't tell what you're asking for. I can analyze " +
			"site terrain, design a turbine layout, simulate wake losses, build " +
			"a wind rose, generate a report, or list your projects — try " +
			"rephrasing with one of those.",
	}
}

// matchAny reports whether any pattern matches the lowercased query, and
// which one.
func matchAny(queryLower string, patterns []compiledPattern) (bool, string) {
	for _, p := range patterns {
		if p.regex != nil {
			if p.regex.MatchString(queryLower) {
				return true, p.raw
			}
			continue
		}
		if strings.Contains(queryLower, p.raw) {
			return true, p.raw
		}
	}
	return false, ""
}
