// Copyright (C) 2026 Windvane AI (eng@windvane.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package badgerstore persists encoded artifacts in an embedded BadgerDB
// instance.
//
// Design choices:
//
//  1. BadgerDB (not an external store): encoded artifacts are small opaque
//     strings consulted on the response path. An embedded store means no
//     network call and no availability dependency on the hot path; large
//     rendered media lives in object storage instead (see the objectstore
//     package).
//
//  2. Native TTL: artifacts expire via BadgerDB's GC after RetentionTTL.
//     Expired keys return ErrKeyNotFound, which the store surfaces as
//     ErrNotFound — no application-level expiry bookkeeping.
//
// Storage layout:
//
//	artifact/v1/{artifactID}  →  envelope bytes (see the artifact codec)
//	                              TTL: 30 days
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/windvane-ai/windvane/services/orchestrator/artifact"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var artifactStoreOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "windvane",
	Subsystem: "artifact_store",
	Name:      "operations_total",
	Help:      "Artifact store operations by op and outcome",
}, []string{"op", "outcome"})

// =============================================================================
// Store
// =============================================================================

// keyPrefix versions the storage layout so a future format change cannot
// collide with existing entries.
const keyPrefix = "artifact/v1/"

// RetentionTTL is how long a stored artifact survives. Enforced by
// BadgerDB's GC, not by application code.
const RetentionTTL = 30 * 24 * time.Hour

// ErrNotFound is returned when no artifact exists under the given id
// (never stored, or expired).
var ErrNotFound = errors.New("artifact not found")

// Store is the BadgerDB-backed artifact store.
//
// Thread Safety: Safe for concurrent use. BadgerDB transactions are
// per-goroutine.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens (or creates) the store at dir.
//
// Inputs:
//
//	dir    - Filesystem path for the BadgerDB instance. Must not be empty.
//	logger - Logger instance. Must not be nil.
//
// Outputs:
//
//	*Store - The opened store. Close it on shutdown.
//	error  - Non-nil when the directory cannot be opened.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact store dir must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // badger's own logger is too chatty; slog covers us
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open artifact store at %s: %w", dir, err)
	}
	logger.Info("artifact store opened", slog.String("dir", dir))
	return &Store{db: db, logger: logger}, nil
}

// NewWithDB wraps an already-open BadgerDB instance (tests, shared DBs).
func NewWithDB(db *badger.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put persists one encoded artifact under its id.
//
// Inputs:
//
//	ctx - Context (checked for cancellation before the write).
//	id  - The artifact id. Must not be empty.
//	sa  - The encoded envelope.
//
// Outputs:
//
//	error - Non-nil on storage failure or empty id.
func (s *Store) Put(ctx context.Context, id string, sa artifact.SerializedArtifact) error {
	if id == "" {
		artifactStoreOps.WithLabelValues("put", "error").Inc()
		return fmt.Errorf("artifact id must not be empty")
	}
	if err := ctx.Err(); err != nil {
		artifactStoreOps.WithLabelValues("put", "error").Inc()
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(keyPrefix+id), []byte(sa.Envelope)).WithTTL(RetentionTTL)
		return txn.SetEntry(entry)
	})
	if err != nil {
		artifactStoreOps.WithLabelValues("put", "error").Inc()
		return fmt.Errorf("store artifact %s: %w", id, err)
	}
	artifactStoreOps.WithLabelValues("put", "ok").Inc()
	return nil
}

// Get fetches one encoded artifact by id.
//
// Outputs:
//
//	artifact.SerializedArtifact - The stored envelope.
//	error                       - ErrNotFound when absent or expired;
//	                              other errors indicate storage failure.
func (s *Store) Get(ctx context.Context, id string) (artifact.SerializedArtifact, error) {
	if err := ctx.Err(); err != nil {
		artifactStoreOps.WithLabelValues("get", "error").Inc()
		return artifact.SerializedArtifact{}, err
	}

	var envelope []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + id))
		if err != nil {
			return err
		}
		envelope, err = item.ValueCopy(nil)
		return err
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		artifactStoreOps.WithLabelValues("get", "miss").Inc()
		return artifact.SerializedArtifact{}, fmt.Errorf("artifact %s: %w", id, ErrNotFound)
	case err != nil:
		artifactStoreOps.WithLabelValues("get", "error").Inc()
		return artifact.SerializedArtifact{}, fmt.Errorf("fetch artifact %s: %w", id, err)
	}

	artifactStoreOps.WithLabelValues("get", "ok").Inc()
	return artifact.SerializedArtifact{Envelope: string(envelope), Size: len(envelope)}, nil
}

// Ping verifies the store answers a read transaction. Used by diagnostics.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(keyPrefix + "__ping__"))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}
