// Copyright (C) 2026 Windvane AI (eng@windvane.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package artifact defines the tagged-union artifact model produced by
// compute tools, the size-bounding optimizer, and the string-envelope codec
// used across the persistence boundary.
package artifact

// =============================================================================
// Artifact Tagged Union
// =============================================================================

// Kind discriminates the artifact union. The optimizer and codec dispatch
// on this tag; tools set it via their contract, never by field probing.
type Kind string

const (
	KindTerrain    Kind = "terrain"
	KindLayout     Kind = "layout"
	KindSimulation Kind = "simulation"
	KindReport     Kind = "report"
	KindWindRose   Kind = "wind_rose"

	// KindError marks a decode placeholder. It is never produced by a tool;
	// it exists so one corrupt stored artifact cannot prevent siblings in
	// the same response from rendering.
	KindError Kind = "error"
)

// MediaRef points at rendered media (map tiles, charts, documents) owned by
// the object-storage collaborator.
type MediaRef struct {
	// Kind describes the media type, e.g. "map_png", "report_pdf".
	Kind string `json:"kind"`

	// Key is the object-store key. The core never dereferences it.
	Key string `json:"key"`
}

// Artifact is one tool result in tree form.
//
// Description:
//
//	Data is the raw result tree as decoded JSON (maps, slices, float64,
//	string, bool, nil). Arrays inside the tree fall into three classes the
//	optimizer distinguishes:
//
//	  - feature-collections: arrays of objects each carrying a geometry and
//	    a properties bag. Element count is semantically meaningful and is
//	    NEVER down-sampled.
//	  - coordinate arrays: numeric or nested-numeric tuples whose density
//	    only affects rendering fidelity. Safe to stride-sample.
//	  - generic large arrays: everything else past a higher threshold.
type Artifact struct {
	// Kind is the union discriminator.
	Kind Kind `json:"kind"`

	// ID identifies the artifact for storage and later fetch.
	ID string `json:"id"`

	// ProjectID ties the artifact to its analysis project.
	ProjectID string `json:"project_id,omitempty"`

	// Title is a short human-readable label for rendering.
	Title string `json:"title,omitempty"`

	// Data is the result tree.
	Data map[string]any `json:"data"`

	// Media references rendered assets stored out of band.
	Media []MediaRef `json:"media,omitempty"`

	// DecodeError carries the error marker on KindError placeholders.
	DecodeError string `json:"decode_error,omitempty"`
}

// IsPlaceholder reports whether this artifact is a decode-failure marker
// rather than real tool output.
func (a *Artifact) IsPlaceholder() bool {
	return a.Kind == KindError
}

// =============================================================================
// Serialized Form
// =============================================================================

// SerializedArtifact is the opaque bounded-size string form an artifact
// takes across the persistence boundary. Produced only from an optimized
// artifact; long-lived and owned by the storage collaborator.
type SerializedArtifact struct {
	// Envelope is the opaque string payload.
	Envelope string `json:"envelope"`

	// Size is len(Envelope) in bytes, for storage-ceiling accounting.
	Size int `json:"size"`
}
