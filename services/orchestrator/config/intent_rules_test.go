// Copyright (C) 2026 Windvane AI (eng@windvane.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadIntentRules_Embedded(t *testing.T) {
	rules, err := LoadIntentRules("", slog.Default())
	if err != nil {
		t.Fatalf("loading embedded rules failed: %v", err)
	}
	if len(rules.Rules) == 0 {
		t.Fatal("embedded rule table is empty")
	}

	// Priority ordering is part of the contract: first rule wins.
	for i := 1; i < len(rules.Rules); i++ {
		if rules.Rules[i].Priority > rules.Rules[i-1].Priority {
			t.Errorf("rules not sorted by priority desc at index %d: %d > %d",
				i, rules.Rules[i].Priority, rules.Rules[i-1].Priority)
		}
	}
}

func TestLoadIntentRules_EmbeddedContainsAllIntents(t *testing.T) {
	rules, err := LoadIntentRules("", slog.Default())
	if err != nil {
		t.Fatalf("loading embedded rules failed: %v", err)
	}

	seen := make(map[string]bool)
	for _, r := range rules.Rules {
		seen[r.Intent] = true
	}
	for _, want := range []string{
		"terrain_analysis", "layout_optimization", "wake_simulation",
		"wind_rose", "report_generation", "project_list", "project_details",
	} {
		if !seen[want] {
			t.Errorf("embedded rules missing intent %q", want)
		}
	}
}

func TestLoadIntentRules_FileOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := []byte(`rules:
  - intent: terrain_analysis
    priority: 10
    reason: test
    patterns: ["terrain"]
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("writing override file: %v", err)
	}

	rules, err := LoadIntentRules(path, slog.Default())
	if err != nil {
		t.Fatalf("loading override rules failed: %v", err)
	}
	if len(rules.Rules) != 1 {
		t.Fatalf("expected 1 rule from override, got %d", len(rules.Rules))
	}
	if rules.Rules[0].Intent != "terrain_analysis" {
		t.Errorf("unexpected intent %q", rules.Rules[0].Intent)
	}
}

func TestLoadIntentRules_RejectsUnknownIntent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := []byte(`rules:
  - intent: launch_rockets
    priority: 10
    patterns: ["launch"]
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("writing override file: %v", err)
	}

	if _, err := LoadIntentRules(path, slog.Default()); err == nil {
		t.Error("expected error for unknown intent, got nil")
	}
}

func TestLoadIntentRules_RejectsEmptyPatterns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := []byte(`rules:
  - intent: terrain_analysis
    priority: 10
    patterns: []
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("writing override file: %v", err)
	}

	if _, err := LoadIntentRules(path, slog.Default()); err == nil {
		t.Error("expected error for empty patterns, got nil")
	}
}
