// Copyright (C) 2026 Windvane AI (eng@windvane.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the orchestrator's rule tables and
// service settings. The intent rule table ships embedded in the binary and
// can be overridden from a file at startup.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Default Intent Rules
// =============================================================================

//go:embed intent_rules.yaml
var defaultIntentRulesYAML []byte

// =============================================================================
// Intent Rule Types
// =============================================================================

// IntentRule maps query patterns to one intent at a fixed priority.
//
// Description:
//
//	Patterns containing ".*" are compiled as case-insensitive regex by the
//	classifier; all other patterns are lowercase substring matches. Exclude
//	patterns are negative guards: if any matches, the rule cannot fire even
//	when a positive pattern matched. Guards keep categories with shared
//	vocabulary from shadowing each other.
type IntentRule struct {
	// Intent is the intent name this rule selects.
	Intent string `yaml:"intent"`

	// Priority orders evaluation; higher runs first. Must be unique enough
	// that ties cannot change results — loading sorts, then name breaks ties.
	Priority int `yaml:"priority"`

	// Reason is a short operator-facing note for why this rule exists.
	Reason string `yaml:"reason"`

	// Patterns are the positive match patterns.
	Patterns []string `yaml:"patterns"`

	// Exclude are negative guard patterns evaluated before the match counts.
	Exclude []string `yaml:"exclude"`
}

// IntentRules is the loaded, validated, priority-sorted rule table.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type IntentRules struct {
	// Rules is sorted by descending priority (name-ascending on ties).
	Rules []IntentRule `yaml:"rules"`
}

// knownIntents are the intent names a rule may select. "unknown" is the
// classifier's fallback and may not appear in the table.
var knownIntents = map[string]bool{
	"terrain_analysis":    true,
	"layout_optimization": true,
	"wake_simulation":     true,
	"wind_rose":           true,
	"report_generation":   true,
	"project_list":        true,
	"project_details":     true,
}

// =============================================================================
// Loading
// =============================================================================

// LoadIntentRules loads the rule table from path, or the embedded defaults
// when path is empty.
//
// Description:
//
//	Parses, validates, and priority-sorts the table. Validation failures are
//	configuration errors: an unusable rule table means every query would
//	misroute, so the service must refuse to start rather than limp.
//
// Inputs:
//
//	path   - Optional override file. Empty loads the embedded defaults.
//	logger - Logger instance. May be nil.
//
// Outputs:
//
//	*IntentRules - The validated, sorted table. Never nil on success.
//	error        - Non-nil on read, parse, or validation failure.
func LoadIntentRules(path string, logger *slog.Logger) (*IntentRules, error) {
	if logger == nil {
		logger = slog.Default()
	}

	raw := defaultIntentRulesYAML
	source := "embedded"
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read intent rules %s: %w", path, err)
		}
		raw = data
		source = path
	}

	var rules IntentRules
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("parse intent rules (%s): %w", source, err)
	}

	if err := rules.validate(); err != nil {
		return nil, fmt.Errorf("invalid intent rules (%s): %w", source, err)
	}

	sort.SliceStable(rules.Rules, func(i, j int) bool {
		if rules.Rules[i].Priority != rules.Rules[j].Priority {
			return rules.Rules[i].Priority > rules.Rules[j].Priority
		}
		return rules.Rules[i].Intent < rules.Rules[j].Intent
	})

	logger.Info("intent rules loaded",
		slog.String("source", source),
		slog.Int("rule_count", len(rules.Rules)),
	)
	return &rules, nil
}

// validate checks structural soundness of the table.
func (r *IntentRules) validate() error {
	if len(r.Rules) == 0 {
		return fmt.Errorf("rule table is empty")
	}
	for i, rule := range r.Rules {
		if rule.Intent == "" {
			return fmt.Errorf("rule %d: intent is required", i)
		}
		if !knownIntents[rule.Intent] {
			return fmt.Errorf("rule %d: unknown intent %q", i, rule.Intent)
		}
		if len(rule.Patterns) == 0 {
			return fmt.Errorf("rule %d (%s): at least one pattern is required", i, rule.Intent)
		}
		if rule.Priority <= 0 {
			return fmt.Errorf("rule %d (%s): priority must be positive", i, rule.Intent)
		}
		for _, p := range rule.Patterns {
			if strings.TrimSpace(p) == "" {
				return fmt.Errorf("rule %d (%s): empty pattern", i, rule.Intent)
			}
		}
	}
	return nil
}
