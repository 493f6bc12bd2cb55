// Copyright 2025 The fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// resolveReferences validates every reference field present in the payload
// against the same tenant's rows and repairs dangling ones per the configured
// policy. Offline clients legitimately hold references to rows that were
// deleted or never synced server-side; silently applying a dangling reference
// is forbidden under every policy.
func (s *SyncService) resolveReferences(ctx context.Context, tx pgx.Tx, tenantID string, spec TableSpec, op *Operation) ([]HealNote, *opFailure, error) {
	if op.Action == ActionDelete || len(spec.References) == 0 {
		return nil, nil, nil
	}

	var notes []HealNote
	for _, ref := range spec.References {
		raw, present := op.Payload[ref.Column]
		if !present {
			continue
		}
		refVal, hasValue := formatRefValue(raw)
		if !hasValue {
			continue // explicit null reference is always valid
		}

		exists, err := s.referenceExists(ctx, tx, tenantID, ref.RefTable, refVal)
		if err != nil {
			return nil, nil, err
		}
		if exists {
			continue
		}

		switch s.config.HealPolicy {
		case HealNullify:
			op.Payload[ref.Column] = nil
			notes = append(notes, HealNote{Field: ref.Column, Original: raw})
			if err := s.recordHeal(ctx, tx, tenantID, op, spec.Name, ref.Column, raw, nil); err != nil {
				return nil, nil, err
			}

		case HealPlaceholder:
			placeholderID, err := s.ensurePlaceholder(ctx, tx, tenantID, ref.RefTable, refVal)
			if err != nil {
				return nil, nil, err
			}
			op.Payload[ref.Column] = placeholderID.String()
			notes = append(notes, HealNote{Field: ref.Column, Original: raw, Replaced: placeholderID.String()})
			if err := s.recordHeal(ctx, tx, tenantID, op, spec.Name, ref.Column, raw, placeholderID.String()); err != nil {
				return nil, nil, err
			}

		default: // HealReject
			return nil, &opFailure{
				Reason:  ReasonFKUnresolved,
				Message: fmt.Sprintf("%s.%s references missing %s %q", spec.Name, ref.Column, ref.RefTable, refVal),
			}, nil
		}
	}
	return notes, nil, nil
}

// referenceExists checks for a referenced row scoped to the tenant. The
// comparison runs over id::text so that reference values which are not valid
// UUIDs simply fail to match instead of erroring on the cast.
func (s *SyncService) referenceExists(ctx context.Context, tx pgx.Tx, tenantID, refTable, refVal string) (bool, error) {
	if parsed, err := uuid.Parse(refVal); err == nil {
		refVal = parsed.String()
	}
	query := fmt.Sprintf(
		`SELECT EXISTS (SELECT 1 FROM %s WHERE id::text = $1 AND client_id = $2)`,
		pgx.Identifier{refTable}.Sanitize(),
	)
	var exists bool
	if err := tx.QueryRow(ctx, query, refVal, tenantID).Scan(&exists); err != nil {
		return false, fmt.Errorf("reference lookup %s(%s): %w", refTable, refVal, err)
	}
	return exists, nil
}

// ensurePlaceholder creates a tenant-scoped placeholder parent row for a
// dangling reference. When the dangling value is a valid, unclaimed UUID the
// placeholder adopts it, so a later sync of the real parent row lands on the
// same id. A reference that is not a UUID, or whose id belongs to another
// tenant, gets a freshly minted placeholder instead.
func (s *SyncService) ensurePlaceholder(ctx context.Context, tx pgx.Tx, tenantID, refTable, refVal string) (uuid.UUID, error) {
	spec, ok := s.specs[refTable]
	if !ok {
		return uuid.Nil, fmt.Errorf("placeholder target %q not registered", refTable)
	}

	if id, err := uuid.Parse(refVal); err == nil {
		inserted, err := s.insertPlaceholderRow(ctx, tx, tenantID, spec, id)
		if err != nil {
			return uuid.Nil, err
		}
		if inserted {
			return id, nil
		}
		// The id is taken by another tenant's row; cross-tenant reference is
		// always invalid regardless of id existence.
	}

	id := uuid.New()
	if _, err := s.insertPlaceholderRow(ctx, tx, tenantID, spec, id); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (s *SyncService) insertPlaceholderRow(ctx context.Context, tx pgx.Tx, tenantID string, spec TableSpec, id uuid.UUID) (bool, error) {
	cols := []string{colID, colClientID}
	args := []any{id, tenantID}

	defaults := make([]string, 0, len(spec.PlaceholderDefaults))
	for col := range spec.PlaceholderDefaults {
		defaults = append(defaults, col)
	}
	sort.Strings(defaults)
	for _, col := range defaults {
		cols = append(cols, col)
		args = append(args, spec.PlaceholderDefaults[col])
	}

	idents := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		idents[i] = pgx.Identifier{c}.Sanitize()
		marks[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO NOTHING`,
		pgx.Identifier{spec.Name}.Sanitize(),
		strings.Join(idents, ", "),
		strings.Join(marks, ", "),
	)
	ct, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("create placeholder %s(%s): %w", spec.Name, id, err)
	}
	return ct.RowsAffected() == 1, nil
}

// recordHeal persists the repaired reference with its original value into
// sync.heal_audit.
func (s *SyncService) recordHeal(ctx context.Context, tx pgx.Tx, tenantID string, op *Operation, table, column string, original, replacement any) error {
	origJSON, err := json.Marshal(original)
	if err != nil {
		return fmt.Errorf("marshal heal original: %w", err)
	}
	var replJSON []byte
	if replacement != nil {
		if replJSON, err = json.Marshal(replacement); err != nil {
			return fmt.Errorf("marshal heal replacement: %w", err)
		}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO sync.heal_audit
			(tenant_id, op_id, table_name, column_name, policy, original_value, replacement_value)
		VALUES (@tenant_id, @op_id, @table_name, @column_name, @policy, @original, @replacement)`,
		pgx.NamedArgs{
			"tenant_id":   tenantID,
			"op_id":       op.ID,
			"table_name":  table,
			"column_name": column,
			"policy":      string(s.config.HealPolicy),
			"original":    origJSON,
			"replacement": replJSON,
		})
	if err != nil {
		return fmt.Errorf("record heal audit: %w", err)
	}
	return nil
}

// formatRefValue converts a payload reference value to its string form.
// Returns false for null or empty values, which skip reference validation.
func formatRefValue(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		if strings.TrimSpace(x) == "" {
			return "", false
		}
		return x, true
	default:
		return fmt.Sprintf("%v", x), true
	}
}
