// Copyright 2025 The fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"encoding/json"
	"time"
)

// REST/JSON models for HTTP API requests and responses

// SyncRequest represents a batch sync request from a client device.
// Each element of Operations is decoded independently so that one malformed
// entry cannot block its siblings.
type SyncRequest struct {
	Operations []json.RawMessage `json:"operations"`
}

// OperationUpload represents a single operation in a sync request.
// Note: the effective tenant is derived from the bearer token, never from
// the payload.
type OperationUpload struct {
	ID              string          `json:"id" validate:"required"`
	Table           string          `json:"table" validate:"required"`
	Action          string          `json:"action" validate:"required,oneof=INSERT UPDATE DELETE"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	ClientTimestamp *time.Time      `json:"client_ts,omitempty"`
}

// HealNote records one repaired reference field on an applied operation.
type HealNote struct {
	Field    string `json:"field"`
	Original any    `json:"original"`
	Replaced any    `json:"replaced_with,omitempty"`
}

// OperationResult represents the outcome of processing a single operation.
// Results are returned in request order. Prior carries the cached outcome of
// the first application when Status is DUPLICATE.
type OperationResult struct {
	ID      string           `json:"id"`
	Status  string           `json:"status"` // APPLIED, HEALED_APPLIED, DUPLICATE, FAILED
	Reason  string           `json:"reason,omitempty"`
	Message string           `json:"message,omitempty"`
	Healed  []HealNote       `json:"healed,omitempty"`
	Prior   *OperationResult `json:"prior,omitempty"`
}

// SyncResponse represents the server response to a sync request
type SyncResponse struct {
	Results []OperationResult `json:"results"`
}

// ErrorResponse represents a request-level error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusResponse represents service status response
type StatusResponse struct {
	Status           string   `json:"status"`
	AppName          string   `json:"app_name"`
	HealPolicy       string   `json:"heal_policy"`
	RegisteredTables []string `json:"registered_tables"`
}
