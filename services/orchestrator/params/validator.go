// Copyright (C) 2026 Windvane AI (eng@windvane.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package params validates and normalizes the raw parameter bag for an
// intent: required-field tables, numeric range checks, defaults, and
// project-id synthesis. Validation happens strictly before dispatch — a
// ParameterSet handed to the invoker never has a missing required field.
package params

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/windvane-ai/windvane/services/orchestrator/intent"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	validationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "windvane",
		Subsystem: "params",
		Name:      "validation_total",
		Help:      "Validation outcomes by intent and result",
	}, []string{"intent", "result"})

	validationFieldFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "windvane",
		Subsystem: "params",
		Name:      "field_failures_total",
		Help:      "Validation failures by field and failure type",
	}, []string{"field", "failure"})
)

var validatorTracer = otel.Tracer("windvane.orchestrator.params")

// =============================================================================
// Field Names and Tables
// =============================================================================

// Canonical parameter field names shared with tool contracts.
const (
	FieldLatitude     = "latitude"
	FieldLongitude    = "longitude"
	FieldCapacityMW   = "capacity_mw"
	FieldRadiusKM     = "radius_km"
	FieldTurbineCount = "turbine_count"
	FieldProjectID    = "project_id"
	FieldSetbackM     = "setback_m"
	FieldLayoutType   = "layout_type"
)

// requiredFields lists which fields each intent cannot run without.
var requiredFields = map[intent.Intent][]string{
	intent.TerrainAnalysis:    {FieldLatitude, FieldLongitude},
	intent.LayoutOptimization: {FieldLatitude, FieldLongitude, FieldCapacityMW},
	intent.WakeSimulation:     {FieldProjectID},
	intent.ReportGeneration:   {FieldProjectID},
	intent.WindRose:           {FieldLatitude, FieldLongitude},
	intent.ProjectDetails:     {FieldProjectID},
	intent.ProjectList:        {},
}

// synthesizesProjectID lists intents that start a new analysis and may mint
// a project id when the caller supplied none. Intents that *require* an id
// (wake, report, details) never synthesize — a missing id there is an error.
// Identifier continuity across calls is the caller's policy: a supplied id
// is always preserved untouched.
var synthesizesProjectID = map[intent.Intent]bool{
	intent.TerrainAnalysis:    true,
	intent.LayoutOptimization: true,
	intent.WindRose:           true,
}

// rangeDescriptions is the human-readable range table, used in remediation
// text. The authoritative checks live in the canonicalParams struct tags.
var rangeDescriptions = map[string]string{
	FieldLatitude:     "[-90, 90]",
	FieldLongitude:    "[-180, 180]",
	FieldCapacityMW:   "(0, 1000]",
	FieldRadiusKM:     "(0, 50]",
	FieldTurbineCount: "[0, 200]",
}

// remediationByIntent gives intent-specific guidance for a failed validation.
var remediationByIntent = map[intent.Intent]string{
	intent.TerrainAnalysis:    "Include site coordinates with decimal points, e.g. \"analyze terrain at 35.067482, -101.395466\".",
	intent.LayoutOptimization: "Include coordinates and a capacity, e.g. \"create a 30MW layout at 35.067482, -101.395466\".",
	intent.WakeSimulation:     "Reference an existing project, e.g. \"simulate wake for project proj-20260801-ab12\".",
	intent.ReportGeneration:   "Reference an existing project, e.g. \"generate a report for project proj-20260801-ab12\".",
	intent.WindRose:           "Include site coordinates with decimal points, e.g. \"wind rose at 35.067482, -101.395466\".",
	intent.ProjectDetails:     "Name the project, e.g. \"show project proj-20260801-ab12\".",
}

// canonicalParams carries every recognized numeric field through range
// validation. Pointers distinguish absent from zero; absent fields skip
// their range check (required-ness is a separate table).
type canonicalParams struct {
	Latitude     *float64 `validate:"omitempty,gte=-90,lte=90"`
	Longitude    *float64 `validate:"omitempty,gte=-180,lte=180"`
	CapacityMW   *float64 `validate:"omitempty,gt=0,lte=1000"`
	RadiusKM     *float64 `validate:"omitempty,gt=0,lte=50"`
	TurbineCount *float64 `validate:"omitempty,gte=0,lte=200"`
}

// structFieldToName maps canonicalParams struct fields back to wire names.
var structFieldToName = map[string]string{
	"Latitude":     FieldLatitude,
	"Longitude":    FieldLongitude,
	"CapacityMW":   FieldCapacityMW,
	"RadiusKM":     FieldRadiusKM,
	"TurbineCount": FieldTurbineCount,
}

// =============================================================================
// ParameterSet
// =============================================================================

// Source records how a parameter value entered the set.
type Source string

const (
	// SourceExtracted marks values supplied by the caller or mined from the
	// query text.
	SourceExtracted Source = "extracted"

	// SourceDefaulted marks values filled in from the defaults table.
	SourceDefaulted Source = "defaulted"
)

// Value is one typed parameter entry. Exactly one of Number/Text is set.
type Value struct {
	Number *float64 `json:"number,omitempty"`
	Text   string   `json:"text,omitempty"`
	Source Source   `json:"source"`
}

// NumberValue builds a numeric Value.
func NumberValue(v float64, src Source) Value {
	return Value{Number: &v, Source: src}
}

// TextValue builds a string Value.
func TextValue(v string, src Source) Value {
	return Value{Text: v, Source: src}
}

// ParameterSet is a validated, normalized parameter bag for one intent.
//
// Description:
//
//	Produced only by Validator.Validate on success, so holding a
//	ParameterSet is proof that every required field is present and every
//	numeric value is in range.
type ParameterSet struct {
	// Intent is the intent this set was validated against.
	Intent intent.Intent `json:"intent"`

	// Values maps field name to its typed, source-tagged value.
	Values map[string]Value `json:"values"`
}

// Number returns the numeric value of a field, or 0/false when absent or
// non-numeric.
func (p *ParameterSet) Number(field string) (float64, bool) {
	v, ok := p.Values[field]
	if !ok || v.Number == nil {
		return 0, false
	}
	return *v.Number, true
}

// Text returns the string value of a field, or ""/false when absent.
func (p *ParameterSet) Text(field string) (string, bool) {
	v, ok := p.Values[field]
	if !ok || v.Text == "" {
		return "", false
	}
	return v.Text, true
}

// ProjectID returns the project identifier, empty when the intent has none.
func (p *ParameterSet) ProjectID() string {
	s, _ := p.Text(FieldProjectID)
	return s
}

// ToMap flattens the set into the name → value map the tool boundary takes.
func (p *ParameterSet) ToMap() map[string]any {
	out := make(map[string]any, len(p.Values))
	for name, v := range p.Values {
		if v.Number != nil {
			out[name] = *v.Number
		} else {
			out[name] = v.Text
		}
	}
	return out
}

// Snapshot renders a compact field=value string for structured logs.
func (p *ParameterSet) Snapshot() string {
	var sb strings.Builder
	first := true
	for name, v := range p.Values {
		if !first {
			sb.WriteString(" ")
		}
		first = false
		if v.Number != nil {
			fmt.Fprintf(&sb, "%s=%g", name, *v.Number)
		} else {
			fmt.Fprintf(&sb, "%s=%s", name, v.Text)
		}
	}
	return sb.String()
}

// =============================================================================
// Validation Errors
// =============================================================================

// RangeViolation describes one field outside its declared range.
type RangeViolation struct {
	// Field is the wire name of the offending parameter.
	Field string `json:"field"`

	// Value is the rejected value.
	Value float64 `json:"value"`

	// Range is the declared legal range, e.g. "[-90, 90]".
	Range string `json:"range"`
}

// ValidationError reports everything wrong with one raw parameter bag.
type ValidationError struct {
	// Intent is the intent the bag was validated against.
	Intent intent.Intent `json:"intent"`

	// Missing lists required fields absent from the bag, in table order.
	Missing []string `json:"missing,omitempty"`

	// OutOfRange lists fields whose values violate the range table.
	OutOfRange []RangeViolation `json:"out_of_range,omitempty"`

	// Remediation is intent-specific guidance for the end user.
	Remediation string `json:"remediation"`
}

// Error implements error.
func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	for _, v := range e.OutOfRange {
		parts = append(parts, fmt.Sprintf("%s=%g outside %s", v.Field, v.Value, v.Range))
	}
	if len(parts) == 0 {
		parts = append(parts, "invalid parameters")
	}
	return fmt.Sprintf("parameter validation failed for %s: %s", e.Intent, strings.Join(parts, "; "))
}

// =============================================================================
// Validator
// =============================================================================

// Validator checks a raw parameter bag against the per-intent required and
// range tables, applies defaults, and synthesizes missing identifiers.
//
// Thread Safety: Safe for concurrent use.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger

	// now and newSuffix are injectable for deterministic tests.
	now       func() time.Time
	newSuffix func() string
}

// NewValidator creates a Validator with production clock and id source.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		now:      time.Now,
		newSuffix: func() string {
			return uuid.NewString()[:8]
		},
	}
}

// Validate checks and normalizes a raw parameter bag for an intent.
//
// Description:
//
//	On success, returns a ParameterSet with defaults applied (radius_km=5,
//	setback_m=200, layout_type="grid" where the intent uses them) and a
//	project id synthesized when the intent may mint one and the caller
//	supplied none. On failure, returns a ValidationError carrying BOTH the
//	missing-field list and every out-of-range field, plus intent-specific
//	remediation text — the caller gets the full picture in one pass.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	in  - The classified intent. Unknown is rejected outright.
//	raw - Raw name → value bag (caller-supplied merged over query-extracted).
//
// Outputs:
//
//	*ParameterSet    - The validated set. Nil on failure.
//	*ValidationError - Nil on success.
//
// Thread Safety: Safe for concurrent use.
func (v *Validator) Validate(ctx context.Context, in intent.Intent, raw map[string]any) (*ParameterSet, *ValidationError) {
	_, span := validatorTracer.Start(ctx, "params.Validator.Validate")
	defer span.End()
	span.SetAttributes(attribute.String("intent", string(in)))

	required, known := requiredFields[in]
	if !known {
		validationTotal.WithLabelValues(string(in), "rejected").Inc()
		return nil, &ValidationError{
			Intent:      in,
			Remediation: "This request type is not something the pipeline can dispatch.",
		}
	}

	verr := &ValidationError{Intent: in, Remediation: remediationByIntent[in]}

	// Missing required fields, in table order.
	for _, field := range required {
		if !hasValue(raw, field) {
			verr.Missing = append(verr.Missing, field)
			validationFieldFailures.WithLabelValues(field, "missing").Inc()
		}
	}

	// Range checks over every recognized numeric field present in the bag.
	canonical := canonicalParams{
		Latitude:     numberField(raw, FieldLatitude),
		Longitude:    numberField(raw, FieldLongitude),
		CapacityMW:   numberField(raw, FieldCapacityMW),
		RadiusKM:     numberField(raw, FieldRadiusKM),
		TurbineCount: numberField(raw, FieldTurbineCount),
	}
	if err := v.validate.Struct(canonical); err != nil {
		var fieldErrs validator.ValidationErrors
		if ok := asValidationErrors(err, &fieldErrs); ok {
			for _, fe := range fieldErrs {
				name := structFieldToName[fe.StructField()]
				val, _ := fe.Value().(float64)
				verr.OutOfRange = append(verr.OutOfRange, RangeViolation{
					Field: name,
					Value: val,
					Range: rangeDescriptions[name],
				})
				validationFieldFailures.WithLabelValues(name, "out_of_range").Inc()
			}
		} else {
			// Struct-level failure is a programming error, not user input.
			v.logger.Error("params: range validation failed structurally",
				slog.String("intent", string(in)),
				slog.String("error", err.Error()),
			)
			validationTotal.WithLabelValues(string(in), "error").Inc()
			return nil, verr
		}
	}

	if len(verr.Missing) > 0 || len(verr.OutOfRange) > 0 {
		validationTotal.WithLabelValues(string(in), "invalid").Inc()
		span.SetAttributes(
			attribute.Int("missing_count", len(verr.Missing)),
			attribute.Int("out_of_range_count", len(verr.OutOfRange)),
		)
		return nil, verr
	}

	set := v.buildSet(in, raw)
	validationTotal.WithLabelValues(string(in), "valid").Inc()
	span.SetAttributes(attribute.Int("field_count", len(set.Values)))
	return set, nil
}

// buildSet assembles the normalized ParameterSet: extracted values first,
// then defaults, then id synthesis.
func (v *Validator) buildSet(in intent.Intent, raw map[string]any) *ParameterSet {
	set := &ParameterSet{Intent: in, Values: make(map[string]Value)}

	for _, field := range []string{FieldLatitude, FieldLongitude, FieldCapacityMW, FieldRadiusKM, FieldTurbineCount} {
		if n := numberField(raw, field); n != nil {
			set.Values[field] = NumberValue(*n, SourceExtracted)
		}
	}
	for _, field := range []string{FieldProjectID, FieldLayoutType} {
		if s := textField(raw, field); s != "" {
			set.Values[field] = TextValue(s, SourceExtracted)
		}
	}
	if n := numberField(raw, FieldSetbackM); n != nil {
		set.Values[FieldSetbackM] = NumberValue(*n, SourceExtracted)
	}

	// Defaults for the analysis intents that take geometry.
	switch in {
	case intent.TerrainAnalysis, intent.WindRose:
		defaultNumber(set, FieldRadiusKM, 5)
	case intent.LayoutOptimization:
		defaultNumber(set, FieldRadiusKM, 5)
		defaultNumber(set, FieldSetbackM, 200)
		if _, ok := set.Values[FieldLayoutType]; !ok {
			set.Values[FieldLayoutType] = TextValue("grid", SourceDefaulted)
		}
	}

	// Project id synthesis: only when the intent may mint one and the caller
	// did not thread an id through. A supplied id is never rewritten.
	if synthesizesProjectID[in] {
		if _, ok := set.Values[FieldProjectID]; !ok {
			id := v.synthesizeProjectID()
			set.Values[FieldProjectID] = TextValue(id, SourceDefaulted)
			v.logger.Debug("params: synthesized project id",
				slog.String("intent", string(in)),
				slog.String("project_id", id),
			)
		}
	}

	return set
}

// synthesizeProjectID mints an identifier unlikely to collide at practical
// volumes: UTC timestamp plus a random suffix.
func (v *Validator) synthesizeProjectID() string {
	return fmt.Sprintf("proj-%s-%s", v.now().UTC().Format("20060102T150405"), v.newSuffix())
}

// =============================================================================
// Helpers
// =============================================================================

// numericFields marks the fields that must coerce to a number to count as
// present. A "30MW" string for capacity_mw is absent, not a value.
var numericFields = map[string]bool{
	FieldLatitude:     true,
	FieldLongitude:    true,
	FieldCapacityMW:   true,
	FieldRadiusKM:     true,
	FieldTurbineCount: true,
	FieldSetbackM:     true,
}

// hasValue reports whether the bag holds a usable value for the field.
func hasValue(raw map[string]any, field string) bool {
	if numericFields[field] {
		return numberField(raw, field) != nil
	}
	return textField(raw, field) != ""
}

// numberField coerces a raw bag entry to *float64. JSON decoding yields
// float64; explicit callers may pass int or a numeric string.
func numberField(raw map[string]any, field string) *float64 {
	val, ok := raw[field]
	if !ok {
		return nil
	}
	switch n := val.(type) {
	case float64:
		return &n
	case float32:
		f := float64(n)
		return &f
	case int:
		f := float64(n)
		return &f
	case int64:
		f := float64(n)
		return &f
	case string:
		// ParseFloat rejects trailing units, so "30MW" stays a string.
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return &f
		}
	}
	return nil
}

// textField coerces a raw bag entry to a trimmed string.
func textField(raw map[string]any, field string) string {
	val, ok := raw[field]
	if !ok {
		return ""
	}
	s, ok := val.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// defaultNumber fills a numeric default when the field is absent.
func defaultNumber(set *ParameterSet, field string, value float64) {
	if _, ok := set.Values[field]; !ok {
		set.Values[field] = NumberValue(value, SourceDefaulted)
	}
}

// asValidationErrors unwraps a validator error into field errors.
func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return false
	}
	*target = fieldErrs
	return true
}
