// Copyright 2025 The fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ListHealAudit returns the most recent heal audit entries for a tenant,
// optionally filtered by table. Newest entries first.
func (s *SyncService) ListHealAudit(ctx context.Context, tenantID, table string, limit int) ([]HealAuditEntity, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, op_id::text, table_name, column_name, policy,
		       COALESCE(original_value, 'null'::jsonb),
		       COALESCE(replacement_value, 'null'::jsonb),
		       ts
		FROM sync.heal_audit
		WHERE tenant_id = @tenant_id
		  AND (@table_name = '' OR table_name = @table_name)
		ORDER BY id DESC
		LIMIT @limit`,
		pgx.NamedArgs{
			"tenant_id":  tenantID,
			"table_name": table,
			"limit":      limit,
		})
	if err != nil {
		return nil, fmt.Errorf("list heal audit: %w", err)
	}
	defer rows.Close()

	entries := make([]HealAuditEntity, 0, limit)
	for rows.Next() {
		var e HealAuditEntity
		if err := rows.Scan(&e.ID, &e.TenantID, &e.OpID, &e.TableName, &e.ColumnName,
			&e.Policy, &e.Original, &e.Replacement, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan heal audit row: %w", err)
		}
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("list heal audit: %w", rows.Err())
	}
	return entries, nil
}
