// Copyright 2025 The fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

// Action constants for batch operations
const (
	ActionInsert = "INSERT"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

// Terminal status constants for operation results
const (
	StApplied       = "APPLIED"
	StHealedApplied = "HEALED_APPLIED"
	StDuplicate     = "DUPLICATE"
	StFailed        = "FAILED"
)

// Failure reason constants reported on StFailed results
const (
	ReasonValidation      = "VALIDATION_ERROR"
	ReasonTenantMismatch  = "TENANT_MISMATCH"
	ReasonFKUnresolved    = "FK_UNRESOLVED"
	ReasonNotFound        = "NOT_FOUND"
	ReasonStorageConflict = "STORAGE_CONFLICT"
	ReasonStorageError    = "STORAGE_ERROR"
)

// HealPolicy selects how dangling reference fields are repaired.
type HealPolicy string

const (
	HealReject      HealPolicy = "REJECT"
	HealNullify     HealPolicy = "NULLIFY"
	HealPlaceholder HealPolicy = "PLACEHOLDER"
)

// Columns owned by the server on every registered table.
const (
	colID       = "id"
	colClientID = "client_id"
)

// outcomePending marks a reservation whose operation transaction has not
// committed yet. It is never visible outside the owning transaction.
const outcomePending = "PENDING"
