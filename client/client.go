// Copyright 2025 The fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

// Package client implements a thin HTTP client for the fieldsync API with an
// explicit retry/backoff policy. The server guarantees idempotency per
// operation id, so the client may resubmit an identical batch any number of
// times; already-applied operations come back as DUPLICATE.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/gabrielm726/fieldsync/fieldsync"
)

// RetryPolicy controls resubmission of a failed batch request. Delays grow
// exponentially from BaseDelay up to MaxDelay, with up to JitterRange of
// random jitter added to avoid thundering herds of reconnecting devices.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterRange time.Duration
}

// DefaultRetryPolicy returns a policy with realistic mobile timing.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   1 * time.Second,
		MaxDelay:    60 * time.Second,
		JitterRange: 300 * time.Millisecond,
	}
}

// Delay returns the wait before the given retry attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.JitterRange > 0 {
		d += time.Duration(rand.Int63n(int64(p.JitterRange)))
	}
	return d
}

// Client talks to one fieldsync server on behalf of one device.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      RetryPolicy
}

// New creates a client for the given server and bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		retry:      DefaultRetryPolicy(),
	}
}

// WithRetryPolicy overrides the default retry policy.
func (c *Client) WithRetryPolicy(p RetryPolicy) *Client {
	c.retry = p
	return c
}

// WithHTTPClient overrides the default HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Sync submits a batch of operations for the given resource, retrying
// transport-level failures with backoff. Per-operation failures inside a 200
// response are returned to the caller as-is; retrying those is a caller
// decision because only some reasons (e.g. STORAGE_ERROR) are retryable.
func (c *Client) Sync(ctx context.Context, resource string, operations []fieldsync.OperationUpload) (*fieldsync.SyncResponse, error) {
	raw := make([]json.RawMessage, len(operations))
	for i, op := range operations {
		data, err := json.Marshal(op)
		if err != nil {
			return nil, fmt.Errorf("marshal operation %s: %w", op.ID, err)
		}
		raw[i] = data
	}
	body, err := json.Marshal(fieldsync.SyncRequest{Operations: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal sync request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retry.Delay(attempt - 1)):
			}
		}

		resp, err := c.post(ctx, resource, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("sync failed after %d attempts: %w", c.retry.MaxAttempts, lastErr)
}

func (c *Client) post(ctx context.Context, resource string, body []byte) (*fieldsync.SyncResponse, error) {
	url := fmt.Sprintf("%s/api/%s/sync", c.baseURL, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transportError{cause: err}
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode == http.StatusOK:
		var resp fieldsync.SyncResponse
		if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
			return nil, &transportError{cause: fmt.Errorf("decode response: %w", err)}
		}
		return &resp, nil
	case httpResp.StatusCode >= 500:
		data, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1024))
		return nil, &transportError{cause: fmt.Errorf("server error %d: %s", httpResp.StatusCode, data)}
	default:
		data, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1024))
		return nil, fmt.Errorf("request rejected with %d: %s", httpResp.StatusCode, data)
	}
}

// transportError marks failures worth retrying: network faults and 5xx.
type transportError struct {
	cause error
}

func (e *transportError) Error() string { return e.cause.Error() }
func (e *transportError) Unwrap() error { return e.cause }

func isRetryable(err error) bool {
	var te *transportError
	return errors.As(err, &te)
}
