// Copyright (C) 2026 Windvane AI (eng@windvane.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package objectstore keeps rendered media (map tiles, charts, report
// documents) in S3-compatible object storage. Artifacts reference media by
// key (see artifact.MediaRef); the orchestrator core never reads the bytes,
// it only stores, lists, and presigns them for clients.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotFound is returned when a media object does not exist.
var ErrNotFound = fmt.Errorf("media object not found")

// Config carries the object-store connection settings.
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Store is the MinIO-backed media store.
//
// Description:
//
//	Objects are keyed "{projectID}/{path}". The bucket is created lazily on
//	first use; creation races with concurrent starts are absorbed by the
//	exists check.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	client *minio.Client
	bucket string
	region string
	logger *slog.Logger

	initOnce sync.Once
	initErr  error
}

// New creates a Store from config.
//
// Outputs:
//
//	*Store - The constructed store. The bucket is not touched until first use.
//	error  - Non-nil on missing settings or client construction failure.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("object store access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("object store bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init object store client: %w", err)
	}

	return &Store{client: client, bucket: bucket, region: region, logger: logger}, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

// PutMedia stores one rendered media object under the project.
func (s *Store) PutMedia(ctx context.Context, projectID, path, contentType string, content []byte) error {
	projectID = strings.TrimSpace(projectID)
	path = strings.TrimSpace(path)
	if projectID == "" {
		return fmt.Errorf("project id is required")
	}
	if path == "" {
		return fmt.Errorf("media path is required")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if content == nil {
		content = []byte{}
	}

	key := objectKey(projectID, path)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put media %s: %w", key, err)
	}
	return nil
}

// GetMedia fetches one media object's bytes.
func (s *Store) GetMedia(ctx context.Context, projectID, path string) ([]byte, error) {
	projectID = strings.TrimSpace(projectID)
	path = strings.TrimSpace(path)
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}
	if path == "" {
		return nil, fmt.Errorf("media path is required")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	key := objectKey(projectID, path)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get media %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NoSuchBucket" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read media %s: %w", key, err)
	}
	return data, nil
}

// ListMedia lists media paths under a project, sorted.
func (s *Store) ListMedia(ctx context.Context, projectID string) ([]string, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	prefix := strings.TrimSuffix(projectID, "/") + "/"
	paths := make([]string, 0, 32)
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if obj.Key == "" {
			continue
		}
		paths = append(paths, strings.TrimPrefix(obj.Key, prefix))
	}
	sort.Strings(paths)
	return paths, nil
}

// MediaURL returns a presigned fetch URL for one media object.
func (s *Store) MediaURL(ctx context.Context, projectID, path string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = time.Hour
	}
	key := objectKey(projectID, path)
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign media %s: %w", key, err)
	}
	return u.String(), nil
}

// Ping verifies the bucket answers. Used by diagnostics.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

func objectKey(projectID, path string) string {
	normalized := strings.TrimLeft(strings.TrimSpace(path), "/")
	return strings.TrimSpace(projectID) + "/" + normalized
}
