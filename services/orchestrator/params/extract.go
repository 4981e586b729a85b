// Copyright (C) 2026 Windvane AI (eng@windvane.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package params

import (
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// Free-Text Parameter Extraction
// =============================================================================

// coordPattern requires an explicit decimal point on BOTH numbers. A bare
// integer pair is never treated as coordinates: "a 30MW site" must not
// parse as lat=3, lon=0. Word boundaries keep the match from eating digits
// out of larger tokens.
var coordPattern = regexp.MustCompile(`(-?\d{1,3}\.\d+)\s*,\s*(-?\d{1,3}\.\d+)`)

// capacityPattern matches "30MW", "30 MW", "30.5 megawatt(s)".
var capacityPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:mw|megawatts?)\b`)

// radiusPattern matches "within 10 km", "10km radius", "radius of 7.5 km".
var radiusPattern = regexp.MustCompile(`(?i)(?:within|radius(?:\s+of)?)\s*(\d+(?:\.\d+)?)\s*km|(\d+(?:\.\d+)?)\s*km\s+radius`)

// turbinePattern matches "25 turbines".
var turbinePattern = regexp.MustCompile(`(?i)(\d+)\s+turbines?\b`)

// projectIDPattern matches explicit project references like "project
// proj-20260801-ab12" or "project alpha_site".
var projectIDPattern = regexp.MustCompile(`(?i)project\s+([a-z0-9][a-z0-9_-]{2,63})`)

// Coordinates is a latitude/longitude pair extracted from free text.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// ExtractCoordinates pulls a decimal lat/lon pair out of free text.
//
// Description:
//
//	Both numbers must carry an explicit decimal point — integer pairs are
//	rejected so capacity figures ("30MW") and counts never masquerade as
//	coordinates. The first syntactically valid pair wins; values outside
//	the legal lat/lon ranges are skipped so a "123.5, 456.7" noise pair
//	cannot mask a real pair later in the text.
//
// Inputs:
//
//	text - Free-text query.
//
// Outputs:
//
//	Coordinates - The extracted pair. Zero value when ok is false.
//	bool        - True when a valid pair was found.
func ExtractCoordinates(text string) (Coordinates, bool) {
	for _, m := range coordPattern.FindAllStringSubmatch(text, -1) {
		lat, err1 := strconv.ParseFloat(m[1], 64)
		lon, err2 := strconv.ParseFloat(m[2], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			continue
		}
		return Coordinates{Latitude: lat, Longitude: lon}, true
	}
	return Coordinates{}, false
}

// ExtractFromQuery mines a free-text query for parameter values.
//
// Description:
//
//	Returns a raw parameter bag suitable for Validator.Validate. Extraction
//	is best-effort: absent values are simply omitted and left to required-
//	field checks and defaulting. Explicit raw parameters supplied by the
//	caller always take precedence (the bag is merged under, not over).
//
// Inputs:
//
//	query - The user's free-text request.
//
// Outputs:
//
//	map[string]any - Extracted name → value pairs. Never nil.
func ExtractFromQuery(query string) map[string]any {
	raw := make(map[string]any)

	if coords, ok := ExtractCoordinates(query); ok {
		raw[FieldLatitude] = coords.Latitude
		raw[FieldLongitude] = coords.Longitude
	}
	if m := capacityPattern.FindStringSubmatch(query); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			raw[FieldCapacityMW] = v
		}
	}
	if m := radiusPattern.FindStringSubmatch(query); m != nil {
		num := m[1]
		if num == "" {
			num = m[2]
		}
		if v, err := strconv.ParseFloat(num, 64); err == nil {
			raw[FieldRadiusKM] = v
		}
	}
	if m := turbinePattern.FindStringSubmatch(query); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			raw[FieldTurbineCount] = v
		}
	}
	if m := projectIDPattern.FindStringSubmatch(query); m != nil {
		id := strings.TrimSpace(m[1])
		// "project list" style phrases are intent vocabulary, not ids.
		switch strings.ToLower(id) {
		case "list", "details", "status", "report":
		default:
			raw[FieldProjectID] = id
		}
	}

	return raw
}
