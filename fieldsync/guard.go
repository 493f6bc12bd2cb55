// Copyright 2025 The fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// lockTenant serializes all operation processing for one tenant. The lock is
// transaction-scoped, so it covers exactly the guard-check-through-apply
// sequence of a single operation and releases at commit or rollback.
func (s *SyncService) lockTenant(ctx context.Context, tx pgx.Tx, tenantID string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, tenantID); err != nil {
		return fmt.Errorf("acquire tenant lock: %w", err)
	}
	return nil
}

// reserveOperation atomically claims (tenant_id, op_id) for the current
// transaction. The insert-first gate on the primary key is the single
// synchronization point that prevents duplicate side effects: a concurrent
// submission of the same id blocks on the unique index until the winner
// commits, then observes the committed record and short-circuits.
//
// Returns reserved=false with the cached prior result when the pair was
// already processed.
func (s *SyncService) reserveOperation(ctx context.Context, tx pgx.Tx, tenantID string, opID uuid.UUID) (bool, *OperationResult, error) {
	ct, err := tx.Exec(ctx, `
		INSERT INTO sync.processed_op (tenant_id, op_id, outcome)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, op_id) DO NOTHING`,
		tenantID, opID, outcomePending)
	if err != nil {
		return false, nil, fmt.Errorf("reserve operation %s: %w", opID, err)
	}
	if ct.RowsAffected() == 1 {
		return true, nil, nil
	}

	prior, err := s.fetchProcessed(ctx, tx, tenantID, opID)
	if err != nil {
		return false, nil, err
	}
	return false, prior, nil
}

// fetchProcessed reads the committed record for an already-processed
// operation and restores its result snapshot.
func (s *SyncService) fetchProcessed(ctx context.Context, tx pgx.Tx, tenantID string, opID uuid.UUID) (*OperationResult, error) {
	var (
		outcome  string
		snapshot []byte
	)
	err := tx.QueryRow(ctx, `
		SELECT outcome, COALESCE(result, 'null'::jsonb)
		FROM sync.processed_op
		WHERE tenant_id = $1 AND op_id = $2`,
		tenantID, opID,
	).Scan(&outcome, &snapshot)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("processed record vanished for %s", opID)
		}
		return nil, fmt.Errorf("fetch processed record %s: %w", opID, err)
	}

	var prior OperationResult
	if err := json.Unmarshal(snapshot, &prior); err != nil || prior.Status == "" {
		prior = OperationResult{ID: opID.String(), Status: outcome}
	}
	return &prior, nil
}

// finalizeReservation turns the in-flight reservation into the permanent
// processed record, in the same transaction as the mutation it records. The
// client-reported mutation timestamp is kept alongside for audit.
func (s *SyncService) finalizeReservation(ctx context.Context, tx pgx.Tx, tenantID string, op *Operation, res *OperationResult) error {
	opID := op.ID
	snapshot, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result snapshot: %w", err)
	}
	var clientTS any
	if !op.ClientTS.IsZero() {
		clientTS = op.ClientTS
	}
	ct, err := tx.Exec(ctx, `
		UPDATE sync.processed_op
		SET outcome = $3, result = $4, client_ts = $5, applied_at = now()
		WHERE tenant_id = $1 AND op_id = $2`,
		tenantID, opID, res.Status, snapshot, clientTS)
	if err != nil {
		return fmt.Errorf("finalize reservation %s: %w", opID, err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("reservation missing for %s", opID)
	}
	return nil
}
