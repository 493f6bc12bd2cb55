// Copyright 2025 The fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// dispatchKey identifies one {table, action} handler. The dispatch map is a
// closed set built at service construction from the registered tables, so an
// unhandled combination is a lookup failure rather than a stringly-typed
// branch deep in the apply path.
type dispatchKey struct {
	Table  string
	Action string
}

type applyFunc func(ctx context.Context, tx pgx.Tx, tenantID string, op *Operation) (*opFailure, error)

func (s *SyncService) buildDispatch() {
	s.dispatch = make(map[dispatchKey]applyFunc, len(s.tables)*3)
	for _, spec := range s.tables {
		s.dispatch[dispatchKey{spec.Name, ActionInsert}] = s.insertApplier(spec)
		s.dispatch[dispatchKey{spec.Name, ActionUpdate}] = s.updateApplier(spec)
		s.dispatch[dispatchKey{spec.Name, ActionDelete}] = s.deleteApplier(spec)
	}
}

func (s *SyncService) insertApplier(spec TableSpec) applyFunc {
	return func(ctx context.Context, tx pgx.Tx, tenantID string, op *Operation) (*opFailure, error) {
		cols := []string{colID, colClientID}
		args := []any{op.RowID, tenantID}
		for _, c := range spec.Columns {
			if c == colClientID {
				continue
			}
			v, ok := op.Payload[c]
			if !ok {
				continue
			}
			cols = append(cols, c)
			args = append(args, v)
		}

		idents := make([]string, len(cols))
		marks := make([]string, len(cols))
		for i, c := range cols {
			idents[i] = pgx.Identifier{c}.Sanitize()
			marks[i] = fmt.Sprintf("$%d", i+1)
		}

		query := fmt.Sprintf(
			`INSERT INTO %s (%s) VALUES (%s)`,
			pgx.Identifier{spec.Name}.Sanitize(),
			strings.Join(idents, ", "),
			strings.Join(marks, ", "),
		)
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return mapStorageError(spec, op, err)
		}
		return nil, nil
	}
}

func (s *SyncService) updateApplier(spec TableSpec) applyFunc {
	return func(ctx context.Context, tx pgx.Tx, tenantID string, op *Operation) (*opFailure, error) {
		sets := make([]string, 0, len(spec.Columns)+1)
		args := []any{op.RowID, tenantID}
		idx := 3
		for _, c := range spec.Columns {
			if c == colClientID {
				continue
			}
			v, ok := op.Payload[c]
			if !ok {
				continue
			}
			sets = append(sets, fmt.Sprintf("%s = $%d", pgx.Identifier{c}.Sanitize(), idx))
			args = append(args, v)
			idx++
		}
		sets = append(sets, "updated_at = now()")

		query := fmt.Sprintf(
			`UPDATE %s SET %s WHERE id = $1 AND client_id = $2`,
			pgx.Identifier{spec.Name}.Sanitize(),
			strings.Join(sets, ", "),
		)
		ct, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return mapStorageError(spec, op, err)
		}
		if ct.RowsAffected() == 0 {
			return &opFailure{
				Reason:  ReasonNotFound,
				Message: fmt.Sprintf("%s %s does not exist", spec.Name, op.RowID),
			}, nil
		}
		return nil, nil
	}
}

func (s *SyncService) deleteApplier(spec TableSpec) applyFunc {
	return func(ctx context.Context, tx pgx.Tx, tenantID string, op *Operation) (*opFailure, error) {
		query := fmt.Sprintf(
			`DELETE FROM %s WHERE id = $1 AND client_id = $2`,
			pgx.Identifier{spec.Name}.Sanitize(),
		)
		ct, err := tx.Exec(ctx, query, op.RowID, tenantID)
		if err != nil {
			return mapStorageError(spec, op, err)
		}
		if ct.RowsAffected() == 0 {
			return &opFailure{
				Reason:  ReasonNotFound,
				Message: fmt.Sprintf("%s %s does not exist", spec.Name, op.RowID),
			}, nil
		}
		return nil, nil
	}
}

// mapStorageError translates constraint violations into per-operation soft
// failures; anything else is an infrastructure fault that rolls the
// operation's transaction back and stays retryable.
func mapStorageError(spec TableSpec, op *Operation, err error) (*opFailure, error) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.SQLState() {
		case "23505":
			return &opFailure{
				Reason:  ReasonStorageConflict,
				Message: fmt.Sprintf("%s %s violates %s", spec.Name, op.RowID, pgErr.ConstraintName),
			}, nil
		case "23503":
			if op.Action == ActionDelete {
				return &opFailure{
					Reason:  ReasonStorageConflict,
					Message: fmt.Sprintf("%s %s is still referenced", spec.Name, op.RowID),
				}, nil
			}
			return &opFailure{
				Reason:  ReasonFKUnresolved,
				Message: fmt.Sprintf("%s %s violates %s", spec.Name, op.RowID, pgErr.ConstraintName),
			}, nil
		}
	}
	return nil, fmt.Errorf("apply %s %s(%s): %w", op.Action, spec.Name, op.ID, err)
}
