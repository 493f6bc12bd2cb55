// Copyright 2025 The fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"encoding/json"
	"time"
)

// Database entity models for the sync schema tables

// ProcessedOpEntity represents a row in sync.processed_op. One row is written
// per (tenant_id, op_id) pair, in the same transaction as the mutation it
// records, and is the single source of truth for "already done".
type ProcessedOpEntity struct {
	TenantID  string          `db:"tenant_id"`
	OpID      string          `db:"op_id"`
	Outcome   string          `db:"outcome"`   // APPLIED or HEALED_APPLIED once committed
	Result    json.RawMessage `db:"result"`    // snapshot of the first OperationResult
	ClientTS  *time.Time      `db:"client_ts"` // when the device recorded the mutation, if reported
	AppliedAt time.Time       `db:"applied_at"`
}

// HealAuditEntity represents a row in sync.heal_audit. Every repaired
// reference keeps its original value here for audit.
type HealAuditEntity struct {
	ID          int64           `db:"id" json:"id"`
	TenantID    string          `db:"tenant_id" json:"-"`
	OpID        string          `db:"op_id" json:"op_id"`
	TableName   string          `db:"table_name" json:"table"`
	ColumnName  string          `db:"column_name" json:"column"`
	Policy      string          `db:"policy" json:"policy"`
	Original    json.RawMessage `db:"original_value" json:"original"`
	Replacement json.RawMessage `db:"replacement_value" json:"replacement,omitempty"`
	Timestamp   time.Time       `db:"ts" json:"ts"`
}
