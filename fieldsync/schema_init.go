// Copyright 2025 The fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// initializeSchemaInTx creates the sync schema tables and the registered
// business tables within an existing transaction. Business tables run in
// registration order so parents are created before their children.
func (s *SyncService) initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	migrations := []string{
		/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS sync`,

		// Processed-operation records: one row per (tenant, operation id),
		// written in the same transaction as the mutation it records.
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS sync.processed_op (
			tenant_id  TEXT        NOT NULL,
			op_id      UUID        NOT NULL,
			outcome    TEXT        NOT NULL CHECK (outcome IN ('PENDING','APPLIED','HEALED_APPLIED')),
			result     JSONB,
			client_ts  TIMESTAMPTZ,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, op_id)
		)`,

		// Audit trail for repaired reference fields.
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS sync.heal_audit (
			id                BIGSERIAL PRIMARY KEY,
			tenant_id         TEXT        NOT NULL,
			op_id             UUID        NOT NULL,
			table_name        TEXT        NOT NULL,
			column_name       TEXT        NOT NULL,
			policy            TEXT        NOT NULL,
			original_value    JSONB,
			replacement_value JSONB,
			ts                TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS heal_audit_tenant_idx
			ON sync.heal_audit (tenant_id, id DESC)`,
	}

	for _, spec := range s.tables {
		if spec.CreateDDL != "" {
			migrations = append(migrations, spec.CreateDDL)
		}
	}

	for i, migration := range migrations {
		if _, err := tx.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	return nil
}
