// Copyright 2025 The fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// enforceTenantScope pins the operation to the authenticated caller's tenant.
// INSERT stamps client_id from the auth context, overwriting any value the
// client supplied. UPDATE and DELETE load the target row and reject with
// TENANT_MISMATCH when its stored owner differs, so a client cannot mutate
// another tenant's data even with a guessed row id.
func (s *SyncService) enforceTenantScope(ctx context.Context, tx pgx.Tx, tenantID string, spec TableSpec, op *Operation) (*opFailure, error) {
	switch op.Action {
	case ActionInsert:
		if op.Payload == nil {
			op.Payload = make(map[string]any, 1)
		}
		op.Payload[colClientID] = tenantID
		return nil, nil

	case ActionUpdate, ActionDelete:
		var owner string
		query := fmt.Sprintf(
			`SELECT client_id FROM %s WHERE id = $1 FOR UPDATE`,
			pgx.Identifier{spec.Name}.Sanitize(),
		)
		err := tx.QueryRow(ctx, query, op.RowID).Scan(&owner)
		if errors.Is(err, pgx.ErrNoRows) {
			// Missing rows fall through to the applier's NOT_FOUND handling.
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("load target row %s(%s): %w", spec.Name, op.RowID, err)
		}
		if owner != tenantID {
			return &opFailure{
				Reason:  ReasonTenantMismatch,
				Message: fmt.Sprintf("row %s %s is owned by a different tenant", spec.Name, op.RowID),
			}, nil
		}
		// The owner of an existing row never changes through sync.
		delete(op.Payload, colClientID)
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown action %q", op.Action)
	}
}
