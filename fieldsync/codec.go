// Copyright 2025 The fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Validation error sentinels for better error mapping
var (
	ErrBadPayload        = errors.New("bad_payload")
	ErrUnregisteredTable = errors.New("unregistered_table")
)

// Operation is one decoded, well-typed mutation from a sync batch. ID is the
// client-generated idempotency key; RowID is the primary key of the target
// row, taken from the payload's id field. They are distinct on purpose: two
// different operations may address the same row.
type Operation struct {
	ID       uuid.UUID
	RowID    uuid.UUID
	Table    string
	Action   string
	Payload  map[string]any
	ClientTS time.Time
}

// decodedEntry pairs a batch element with either its typed operation or the
// validation failure that rejected it.
type decodedEntry struct {
	op      *Operation
	failure *OperationResult
}

// decodeBatch decodes every raw element independently; a malformed entry
// yields a per-operation failure and never aborts its siblings.
func (s *SyncService) decodeBatch(raw []json.RawMessage) []decodedEntry {
	entries := make([]decodedEntry, len(raw))
	for i, r := range raw {
		op, failure := s.decodeOperation(r)
		entries[i] = decodedEntry{op: op, failure: failure}
	}
	return entries
}

// decodeOperation parses and validates a single batch element.
func (s *SyncService) decodeOperation(raw json.RawMessage) (*Operation, *OperationResult) {
	var up OperationUpload
	if err := json.Unmarshal(raw, &up); err != nil {
		res := resultValidationError("", fmt.Errorf("malformed operation: %w", err))
		return nil, &res
	}

	if err := s.validate.Struct(&up); err != nil {
		res := resultValidationError(up.ID, err)
		return nil, &res
	}

	opID, err := uuid.Parse(strings.TrimSpace(up.ID))
	if err != nil {
		res := resultValidationError(up.ID, fmt.Errorf("%w: invalid operation id %q", ErrBadPayload, up.ID))
		return nil, &res
	}

	table := strings.ToLower(strings.TrimSpace(up.Table))
	action := strings.ToUpper(strings.TrimSpace(up.Action))

	spec, ok := s.specs[table]
	if !ok {
		res := resultValidationError(opID.String(), fmt.Errorf("%w: table not registered %q", ErrUnregisteredTable, up.Table))
		return nil, &res
	}

	payload, rowID, err := s.decodePayload(spec, action, up.Payload)
	if err != nil {
		res := resultValidationError(opID.String(), err)
		return nil, &res
	}

	op := &Operation{
		ID:      opID,
		RowID:   rowID,
		Table:   table,
		Action:  action,
		Payload: payload,
	}
	if up.ClientTimestamp != nil {
		op.ClientTS = *up.ClientTimestamp
	}
	return op, nil
}

// decodePayload enforces the payload rules for the given action. Every
// payload is a JSON object whose fields are all known to the table schema
// and must carry the target row's id. DELETE carries the id and nothing
// else, since the remaining fields would be discarded anyway.
func (s *SyncService) decodePayload(spec TableSpec, action string, raw json.RawMessage) (map[string]any, uuid.UUID, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, uuid.Nil, fmt.Errorf("%w: payload required for %s operation", ErrBadPayload, action)
	}
	if s.config.MaxPayloadBytes > 0 && len(raw) > s.config.MaxPayloadBytes {
		return nil, uuid.Nil, fmt.Errorf("%w: payload too large: %d > %d", ErrBadPayload, len(raw), s.config.MaxPayloadBytes)
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, uuid.Nil, fmt.Errorf("%w: payload must be a JSON object", ErrBadPayload)
	}

	rawID, ok := obj[colID].(string)
	if !ok {
		return nil, uuid.Nil, fmt.Errorf("%w: payload must include the row id", ErrBadPayload)
	}
	rowID, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%w: invalid row id %q", ErrBadPayload, rawID)
	}

	if action == ActionDelete {
		if len(obj) > 1 {
			return nil, uuid.Nil, fmt.Errorf("%w: DELETE payload carries only the row id", ErrBadPayload)
		}
		return nil, rowID, nil
	}

	allowed := spec.columnSet()
	for field := range obj {
		if _, ok := allowed[field]; !ok {
			return nil, uuid.Nil, fmt.Errorf("%w: unknown field %q for table %s", ErrBadPayload, field, spec.Name)
		}
	}
	delete(obj, colID)
	return obj, rowID, nil
}

// columnSet returns the payload-visible columns of the table, id included.
// client_id is accepted here and overwritten by the tenant scoping step.
func (t TableSpec) columnSet() map[string]struct{} {
	set := make(map[string]struct{}, len(t.Columns)+2)
	set[colID] = struct{}{}
	set[colClientID] = struct{}{}
	for _, c := range t.Columns {
		set[c] = struct{}{}
	}
	return set
}

// isValidTableName checks if a table name matches ^[a-z0-9_]+$
func isValidTableName(name string) bool {
	if len(name) == 0 {
		return false
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_') {
			return false
		}
	}
	return true
}
