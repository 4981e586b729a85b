// Copyright (C) 2026 Windvane AI (eng@windvane.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package artifact

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	codecEncodedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "windvane",
		Subsystem: "codec",
		Name:      "encoded_total",
		Help:      "Encode outcomes: success, oversize, marshal_error, passthrough",
	}, []string{"outcome"})

	codecDecodedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "windvane",
		Subsystem: "codec",
		Name:      "decoded_total",
		Help:      "Decode outcomes: success, legacy, placeholder",
	}, []string{"outcome"})

	codecEnvelopeBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "windvane",
		Subsystem: "codec",
		Name:      "envelope_bytes",
		Help:      "Size of produced envelopes",
		Buckets:   []float64{1024, 8192, 65536, 131072, 262144, 393216},
	})
)

var codecTracer = otel.Tracer("windvane.orchestrator.codec")

// =============================================================================
// Envelope Format
// =============================================================================

// envelopePrefix versions the envelope layout. Format:
//
//	wva1.<base64url(json(artifact))>.<fnv32a hex of the base64 section>
//
// The checksum isolates corruption to a single artifact: a truncated or
// bit-flipped envelope fails the checksum and decodes to a placeholder
// instead of poisoning the surrounding response.
const envelopePrefix = "wva1."

// defaultMaxEnvelopeBytes keeps envelopes under common KV item ceilings
// (400KB-class stores) with headroom for key and metadata overhead.
const defaultMaxEnvelopeBytes = 380_000

// IsEnvelope reports whether s is a versioned envelope produced by this
// codec (any version).
func IsEnvelope(s string) bool {
	return strings.HasPrefix(s, envelopePrefix)
}

// =============================================================================
// Codec
// =============================================================================

// Codec converts optimized artifacts to and from the opaque bounded-size
// string form the persistence boundary requires.
//
// Description:
//
//	Encode is idempotent with respect to already-encoded input: handed an
//	envelope string (data written by an earlier pipeline version, re-saved
//	by a caller), it returns it unchanged instead of double-wrapping.
//	Decode never fails to the caller — malformed input yields a typed
//	placeholder artifact carrying the error marker, so one corrupted
//	artifact cannot prevent siblings in the same response from rendering.
//
//	Round-trip guarantee: Decode(Encode(a)) is structurally equal to a for
//	any artifact in optimized canonical form (the JSON type universe:
//	map[string]any, []any, float64, string, bool, nil).
//
// Thread Safety: Safe for concurrent use (configuration is read-only).
type Codec struct {
	// MaxEnvelopeBytes is the hard envelope size ceiling. Encode fails with
	// an error past it; the optimizer's thresholds must be tuned to keep
	// real artifacts under this with margin.
	MaxEnvelopeBytes int

	logger *slog.Logger
}

// NewCodec creates a Codec with the default envelope ceiling.
func NewCodec(logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{MaxEnvelopeBytes: defaultMaxEnvelopeBytes, logger: logger}
}

// Encode serializes an optimized artifact into its envelope form.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	a   - The optimized artifact.
//
// Outputs:
//
//	SerializedArtifact - The envelope. Zero value on error.
//	error              - Non-nil when the artifact cannot be marshaled or
//	                     the envelope exceeds MaxEnvelopeBytes.
func (c *Codec) Encode(ctx context.Context, a Artifact) (SerializedArtifact, error) {
	_, span := codecTracer.Start(ctx, "artifact.Codec.Encode")
	defer span.End()
	span.SetAttributes(attribute.String("artifact.kind", string(a.Kind)))

	raw, err := json.Marshal(a)
	if err != nil {
		codecEncodedTotal.WithLabelValues("marshal_error").Inc()
		return SerializedArtifact{}, fmt.Errorf("encode artifact %s: %w", a.ID, err)
	}

	payload := base64.RawURLEncoding.EncodeToString(raw)
	envelope := envelopePrefix + payload + "." + checksum(payload)

	if len(envelope) > c.MaxEnvelopeBytes {
		codecEncodedTotal.WithLabelValues("oversize").Inc()
		c.logger.Warn("codec: envelope exceeds ceiling",
			slog.String("artifact_id", a.ID),
			slog.Int("size", len(envelope)),
			slog.Int("ceiling", c.MaxEnvelopeBytes),
		)
		return SerializedArtifact{}, fmt.Errorf("encode artifact %s: envelope %d bytes exceeds ceiling %d",
			a.ID, len(envelope), c.MaxEnvelopeBytes)
	}

	codecEncodedTotal.WithLabelValues("success").Inc()
	codecEnvelopeBytes.Observe(float64(len(envelope)))
	span.SetAttributes(attribute.Int("envelope_bytes", len(envelope)))
	return SerializedArtifact{Envelope: envelope, Size: len(envelope)}, nil
}

// EncodeRaw wraps a raw payload string, passing already-encoded envelopes
// through unchanged.
//
// Description:
//
//	Compatibility path for data written by earlier pipeline versions:
//	callers holding an opaque string (an envelope or legacy plain JSON)
//	can re-save it without double-encoding. Envelope input is returned
//	as-is; plain JSON is parsed and encoded normally.
//
// Outputs:
//
//	SerializedArtifact - The (possibly passed-through) envelope.
//	error              - Non-nil when the payload is neither an envelope
//	                     nor valid artifact JSON, or exceeds the ceiling.
func (c *Codec) EncodeRaw(ctx context.Context, payload string) (SerializedArtifact, error) {
	if IsEnvelope(payload) {
		if len(payload) > c.MaxEnvelopeBytes {
			codecEncodedTotal.WithLabelValues("oversize").Inc()
			return SerializedArtifact{}, fmt.Errorf("encode raw: envelope %d bytes exceeds ceiling %d",
				len(payload), c.MaxEnvelopeBytes)
		}
		codecEncodedTotal.WithLabelValues("passthrough").Inc()
		return SerializedArtifact{Envelope: payload, Size: len(payload)}, nil
	}

	var a Artifact
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		codecEncodedTotal.WithLabelValues("marshal_error").Inc()
		return SerializedArtifact{}, fmt.Errorf("encode raw: payload is neither envelope nor artifact JSON: %w", err)
	}
	return c.Encode(ctx, a)
}

// Decode recovers an artifact from its envelope form.
//
// Description:
//
//	Never returns an error: any malformed input (bad prefix on non-legacy
//	data, checksum mismatch, base64 or JSON corruption) yields a KindError
//	placeholder carrying the failure in DecodeError. Legacy plain-JSON
//	payloads written before the envelope format decode transparently.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	s   - The stored envelope.
//
// Outputs:
//
//	Artifact - The decoded artifact, or a placeholder on corruption.
//
// Thread Safety: Safe for concurrent use.
func (c *Codec) Decode(ctx context.Context, s SerializedArtifact) Artifact {
	_, span := codecTracer.Start(ctx, "artifact.Codec.Decode")
	defer span.End()

	envelope := s.Envelope
	if envelope == "" {
		return c.placeholder(span.SpanContext().TraceID().String(), "empty envelope")
	}

	if !IsEnvelope(envelope) {
		// Legacy path: artifacts stored before the envelope format were
		// plain JSON. Accept them transparently.
		var a Artifact
		if err := json.Unmarshal([]byte(envelope), &a); err == nil && a.Kind != "" {
			codecDecodedTotal.WithLabelValues("legacy").Inc()
			span.SetAttributes(attribute.Bool("legacy", true))
			return a
		}
		return c.placeholder("", "unrecognized envelope format")
	}

	body := envelope[len(envelopePrefix):]
	dot := strings.LastIndex(body, ".")
	if dot < 0 {
		return c.placeholder("", "envelope missing checksum section")
	}
	payload, sum := body[:dot], body[dot+1:]

	if checksum(payload) != sum {
		return c.placeholder("", "envelope checksum mismatch")
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return c.placeholder("", fmt.Sprintf("envelope base64 corrupt: %v", err))
	}

	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return c.placeholder("", fmt.Sprintf("envelope JSON corrupt: %v", err))
	}

	codecDecodedTotal.WithLabelValues("success").Inc()
	span.SetAttributes(attribute.String("artifact.kind", string(a.Kind)))
	return a
}

// placeholder builds the typed decode-failure artifact.
func (c *Codec) placeholder(id, reason string) Artifact {
	codecDecodedTotal.WithLabelValues("placeholder").Inc()
	c.logger.Warn("codec: decode failed, returning placeholder",
		slog.String("reason", reason),
	)
	return Artifact{
		Kind:        KindError,
		ID:          id,
		Title:       "Artifact could not be decoded",
		DecodeError: reason,
		Data:        map[string]any{},
	}
}

// checksum returns the fnv32a hex digest of the payload section.
func checksum(payload string) string {
	h := fnv.New32a()
	// fnv write never fails.
	_, _ = h.Write([]byte(payload))
	return fmt.Sprintf("%08x", h.Sum32())
}
