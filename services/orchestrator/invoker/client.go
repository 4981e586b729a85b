// Copyright (C) 2026 Windvane AI (eng@windvane.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package invoker dispatches validated queries to compute tools with
// reachability caching, timeouts, and kind-driven retry.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/windvane-ai/windvane/services/orchestrator/datatypes"
)

// =============================================================================
// Tool Client Contract
// =============================================================================

// Sentinel errors a ToolClient uses to signal classified failures. The
// invoker maps each to an ErrorKind; any other error is treated as an
// invalid tool response.
var (
	ErrToolNotFound     = errors.New("tool not found")
	ErrPermissionDenied = errors.New("tool permission denied")
	ErrThrottled        = errors.New("tool throttled")
	ErrInvalidParams    = errors.New("tool rejected parameters")
)

// ToolClient is the transport boundary to the compute-tool fleet.
//
// Description:
//
//	Exists answers whether a named tool is reachable right now; Invoke runs
//	it. Implementations signal classified failures with the package sentinel
//	errors (wrapped is fine) and honor context cancellation on both calls.
//
// Thread Safety: Implementations must be safe for concurrent use.
type ToolClient interface {
	Exists(ctx context.Context, name string) (bool, error)
	Invoke(ctx context.Context, name string, params map[string]any) (map[string]any, error)
}

// classifyError maps a client error to the pipeline's error taxonomy.
func classifyError(err error) datatypes.ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return datatypes.ErrKindToolTimeout
	case errors.Is(err, ErrToolNotFound):
		return datatypes.ErrKindToolNotFound
	case errors.Is(err, ErrPermissionDenied):
		return datatypes.ErrKindToolPermissionDenied
	case errors.Is(err, ErrThrottled):
		return datatypes.ErrKindToolThrottled
	case errors.Is(err, ErrInvalidParams):
		return datatypes.ErrKindParameter
	default:
		return datatypes.ErrKindToolResponseInvalid
	}
}

// =============================================================================
// HTTP Tool Client
// =============================================================================

// HTTPToolClient talks to the tool fleet over its HTTP surface.
//
// Description:
//
//	Exists issues HEAD /tools/{name}; Invoke issues POST /tools/{name} with
//	the JSON-encoded parameter bag. Status codes map onto the sentinel
//	errors: 404 → not found, 403 → permission denied, 429 → throttled,
//	400/422 → invalid parameters. Timeouts come from the caller's context,
//	not from the embedded http.Client.
//
// Thread Safety: Safe for concurrent use.
type HTTPToolClient struct {
	// BaseURL is the fleet root, e.g. "http://tools:8700".
	BaseURL string

	// HTTPClient is the underlying client. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// NewHTTPToolClient creates a client against the given fleet root.
func NewHTTPToolClient(baseURL string) *HTTPToolClient {
	return &HTTPToolClient{BaseURL: baseURL, HTTPClient: http.DefaultClient}
}

func (c *HTTPToolClient) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Exists reports whether the named tool is registered with the fleet.
func (c *HTTPToolClient) Exists(ctx context.Context, name string) (bool, error) {
	url := fmt.Sprintf("%s/tools/%s", c.BaseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, fmt.Errorf("build exists request for %s: %w", name, err)
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return false, fmt.Errorf("exists check for %s: %w", name, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("exists check for %s: unexpected status %d", name, resp.StatusCode)
	}
}

// Invoke runs the named tool with the given parameter bag.
func (c *HTTPToolClient) Invoke(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %s: %w", name, err)
	}

	url := fmt.Sprintf("%s/tools/%s", c.BaseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build invoke request for %s: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", name, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("invoke %s: %w", name, ErrToolNotFound)
	case http.StatusForbidden:
		return nil, fmt.Errorf("invoke %s: %w", name, ErrPermissionDenied)
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("invoke %s: %w", name, ErrThrottled)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("invoke %s: %w", name, ErrInvalidParams)
	default:
		return nil, fmt.Errorf("invoke %s: unexpected status %d", name, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", name, err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", name, err)
	}
	return payload, nil
}
