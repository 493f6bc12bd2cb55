// Copyright 2025 The fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

// TableSpec describes a business table registered for sync operations.
// Columns lists the payload fields a client may write; anything else in an
// operation payload is a validation error. References name the columns that
// must resolve to a row of another registered table owned by the same tenant.
type TableSpec struct {
	Name                string
	Columns             []string
	References          []Reference
	PlaceholderDefaults map[string]any // column values for placeholder rows created under HealPlaceholder
	CreateDDL           string
}

// Reference links a payload column to the registered table it points at.
type Reference struct {
	Column   string
	RefTable string
}

// ServiceConfig holds configuration for the sync service
type ServiceConfig struct {
	AppName    string     // Application name for connection tracking and status reporting
	HealPolicy HealPolicy // How dangling references are repaired (default HealReject)
	Tables     []TableSpec

	MaxBatchSize    int // Maximum number of operations allowed in a single batch (0 = unlimited)
	MaxPayloadBytes int // Maximum JSON payload size per operation in bytes (0 = unlimited)

	ResultCache ResultCache // Optional fast-path cache for duplicate operation outcomes

	StageMetrics    StageMetricsRecorder
	LogStageTimings bool
}

// LocationTable returns the builtin spec for tenant-scoped locations.
func LocationTable() TableSpec {
	return TableSpec{
		Name:       "location",
		Columns:    []string{"client_id", "name", "placeholder"},
		References: nil,
		PlaceholderDefaults: map[string]any{
			"name":        "recovered location",
			"placeholder": true,
		},
		CreateDDL: `CREATE TABLE IF NOT EXISTS location (
			id          UUID PRIMARY KEY,
			client_id   TEXT NOT NULL,
			name        TEXT,
			placeholder BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
}

// AssetTable returns the builtin spec for tenant-scoped assets. The
// location_id column is the reference field subject to healing.
func AssetTable() TableSpec {
	return TableSpec{
		Name:    "asset",
		Columns: []string{"client_id", "name", "serial_no", "status", "location_id"},
		References: []Reference{
			{Column: "location_id", RefTable: "location"},
		},
		CreateDDL: `CREATE TABLE IF NOT EXISTS asset (
			id          UUID PRIMARY KEY,
			client_id   TEXT NOT NULL,
			name        TEXT,
			serial_no   TEXT,
			status      TEXT,
			location_id UUID REFERENCES location(id) ON DELETE SET NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
}

// DefaultTables returns the builtin table set, parents first so that DDL can
// run in declaration order.
func DefaultTables() []TableSpec {
	return []TableSpec{LocationTable(), AssetTable()}
}
