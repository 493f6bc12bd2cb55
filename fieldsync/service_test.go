// Copyright 2025 The fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestProcessSync_InsertThenReplay(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := newTestPool(t, ctx)
	svc := newTestService(t, ctx, pool, HealReject)
	tenantID := uniqueTenant("test-replay")

	opID := uuid.New().String()
	rowID := uuid.New().String()
	req := &SyncRequest{Operations: []json.RawMessage{
		rawOp(t, opID, "location", ActionInsert, rowID, map[string]any{"name": "Depot A"}),
	}}

	resp, err := svc.ProcessSync(ctx, tenantID, "actor-1", req)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	require.Equal(t, StApplied, resp.Results[0].Status)
	require.Equal(t, opID, resp.Results[0].ID)
	require.Equal(t, 1, countRows(t, ctx, pool, "location", tenantID))

	// Same operation id again: no second row, DUPLICATE echoes the first
	// outcome instead of re-applying.
	resp2, err := svc.ProcessSync(ctx, tenantID, "actor-1", req)
	require.NoError(t, err)
	require.Len(t, resp2.Results, 1)
	require.Equal(t, StDuplicate, resp2.Results[0].Status)
	require.NotNil(t, resp2.Results[0].Prior)
	require.Equal(t, StApplied, resp2.Results[0].Prior.Status)
	require.Equal(t, 1, countRows(t, ctx, pool, "location", tenantID))

	var outcome string
	err = pool.QueryRow(ctx,
		`SELECT outcome FROM sync.processed_op WHERE tenant_id = $1 AND op_id = $2`,
		tenantID, opID).Scan(&outcome)
	require.NoError(t, err)
	require.Equal(t, StApplied, outcome)
}

func TestProcessSync_ResultsMatchRequestOrder(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := newTestPool(t, ctx)
	svc := newTestService(t, ctx, pool, HealReject)
	tenantID := uniqueTenant("test-order")

	ids := make([]string, 5)
	ops := make([]json.RawMessage, 5)
	for i := range ids {
		ids[i] = uuid.New().String()
		ops[i] = rawOp(t, ids[i], "location", ActionInsert, uuid.New().String(), map[string]any{"name": "Site"})
	}

	resp, err := svc.ProcessSync(ctx, tenantID, "actor-1", &SyncRequest{Operations: ops})
	require.NoError(t, err)
	require.Len(t, resp.Results, len(ids))
	for i, id := range ids {
		require.Equal(t, id, resp.Results[i].ID, "result %d out of order", i)
		require.Equal(t, StApplied, resp.Results[i].Status)
	}
}

func TestProcessSync_PartialFailureKeepsSiblings(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := newTestPool(t, ctx)
	svc := newTestService(t, ctx, pool, HealReject)
	tenantID := uniqueTenant("test-partial")

	missingOpID := uuid.New().String()

	resp, err := svc.ProcessSync(ctx, tenantID, "actor-1", &SyncRequest{Operations: []json.RawMessage{
		rawOp(t, uuid.New().String(), "location", ActionInsert, uuid.New().String(), map[string]any{"name": "Depot A"}),
		rawOp(t, missingOpID, "location", ActionUpdate, uuid.New().String(), map[string]any{"name": "Renamed"}),
		json.RawMessage(`{"id":"` + uuid.New().String() + `","table":"warehouse","action":"INSERT","payload":{"id":"` + uuid.New().String() + `"}}`),
		rawOp(t, uuid.New().String(), "location", ActionInsert, uuid.New().String(), map[string]any{"name": "Depot B"}),
	}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 4)

	require.Equal(t, StApplied, resp.Results[0].Status)

	require.Equal(t, StFailed, resp.Results[1].Status)
	require.Equal(t, ReasonNotFound, resp.Results[1].Reason)

	require.Equal(t, StFailed, resp.Results[2].Status)
	require.Equal(t, ReasonValidation, resp.Results[2].Reason)

	// The operation after the failures still applies.
	require.Equal(t, StApplied, resp.Results[3].Status)
	require.Equal(t, 2, countRows(t, ctx, pool, "location", tenantID))

	// Failed operations leave no guard record, so their retry re-runs.
	var n int
	err = pool.QueryRow(ctx,
		`SELECT count(*) FROM sync.processed_op WHERE tenant_id = $1 AND op_id = $2`,
		tenantID, missingOpID).Scan(&n)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestProcessSync_UpdateAndDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := newTestPool(t, ctx)
	svc := newTestService(t, ctx, pool, HealReject)
	tenantID := uniqueTenant("test-ud")

	rowID := insertLocation(t, ctx, pool, tenantID, "Depot A")

	// Two distinct operations may address the same row.
	resp, err := svc.ProcessSync(ctx, tenantID, "actor-1", &SyncRequest{Operations: []json.RawMessage{
		rawOp(t, uuid.New().String(), "location", ActionUpdate, rowID.String(), map[string]any{"name": "Depot A renamed"}),
		rawOp(t, uuid.New().String(), "location", ActionUpdate, rowID.String(), map[string]any{"name": "Depot A final"}),
	}})
	require.NoError(t, err)
	require.Equal(t, StApplied, resp.Results[0].Status)
	require.Equal(t, StApplied, resp.Results[1].Status)

	var name string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT name FROM location WHERE id = $1`, rowID).Scan(&name))
	require.Equal(t, "Depot A final", name)

	resp, err = svc.ProcessSync(ctx, tenantID, "actor-1", &SyncRequest{Operations: []json.RawMessage{
		rawOp(t, uuid.New().String(), "location", ActionDelete, rowID.String(), nil),
	}})
	require.NoError(t, err)
	require.Equal(t, StApplied, resp.Results[0].Status)
	require.Equal(t, 0, countRows(t, ctx, pool, "location", tenantID))

	// A fresh operation against the now-missing row is a NOT_FOUND soft
	// failure, not an error.
	resp, err = svc.ProcessSync(ctx, tenantID, "actor-1", &SyncRequest{Operations: []json.RawMessage{
		rawOp(t, uuid.New().String(), "location", ActionDelete, rowID.String(), nil),
	}})
	require.NoError(t, err)
	require.Equal(t, StFailed, resp.Results[0].Status)
	require.Equal(t, ReasonNotFound, resp.Results[0].Reason)
}

func TestProcessSync_InsertConflictOnExistingRow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := newTestPool(t, ctx)
	svc := newTestService(t, ctx, pool, HealReject)
	tenantID := uniqueTenant("test-conflict")

	rowID := insertLocation(t, ctx, pool, tenantID, "Depot A")

	// New operation id, but the row id already exists.
	resp, err := svc.ProcessSync(ctx, tenantID, "actor-1", &SyncRequest{Operations: []json.RawMessage{
		rawOp(t, uuid.New().String(), "location", ActionInsert, rowID.String(), map[string]any{"name": "Depot A again"}),
	}})
	require.NoError(t, err)
	require.Equal(t, StFailed, resp.Results[0].Status)
	require.Equal(t, ReasonStorageConflict, resp.Results[0].Reason)
	require.Equal(t, 1, countRows(t, ctx, pool, "location", tenantID))
}

func TestProcessSync_BatchTooLarge(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := newTestPool(t, ctx)

	svc, err := NewSyncService(pool, &ServiceConfig{
		AppName:      "fieldsync-test",
		MaxBatchSize: 2,
	}, testLogger())
	require.NoError(t, err)
	defer svc.Close()

	tenantID := uniqueTenant("test-toolarge")
	ops := make([]json.RawMessage, 3)
	for i := range ops {
		ops[i] = rawOp(t, uuid.New().String(), "location", ActionInsert, uuid.New().String(), map[string]any{"name": "x"})
	}

	resp, err := svc.ProcessSync(ctx, tenantID, "actor-1", &SyncRequest{Operations: ops})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	for _, res := range resp.Results {
		require.Equal(t, StFailed, res.Status)
		require.Equal(t, ReasonValidation, res.Reason)
	}
	require.Equal(t, 0, countRows(t, ctx, pool, "location", tenantID))
}

func TestProcessSync_BatchTooLargeEchoesOperationIDs(t *testing.T) {
	// The oversized-batch rejection happens before any storage access, so
	// this runs against the storage-free core.
	svc := newCoreService(t, &ServiceConfig{MaxBatchSize: 1})
	tenantID := uniqueTenant("test-toolarge-ids")

	opIDs := []string{uuid.New().String(), uuid.New().String()}
	ops := make([]json.RawMessage, len(opIDs))
	for i, id := range opIDs {
		ops[i] = rawOp(t, id, "location", ActionInsert, uuid.New().String(), map[string]any{"name": "x"})
	}

	resp, err := svc.ProcessSync(context.Background(), tenantID, "actor-1", &SyncRequest{Operations: ops})
	require.NoError(t, err)
	require.Len(t, resp.Results, len(opIDs))
	for i, id := range opIDs {
		// Each failure carries its element's id so the client can correlate
		// and resubmit in smaller batches.
		require.Equal(t, id, resp.Results[i].ID)
		require.Equal(t, StFailed, resp.Results[i].Status)
		require.Equal(t, ReasonValidation, resp.Results[i].Reason)
	}
}

func TestProcessSync_RecordsClientTimestamp(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := newTestPool(t, ctx)
	svc := newTestService(t, ctx, pool, HealReject)
	tenantID := uniqueTenant("test-clientts")

	opID := uuid.New().String()
	recordedAt := time.Date(2026, 8, 30, 14, 15, 0, 0, time.UTC)
	raw, err := json.Marshal(map[string]any{
		"id":        opID,
		"table":     "location",
		"action":    ActionInsert,
		"client_ts": recordedAt,
		"payload":   map[string]any{"id": uuid.New().String(), "name": "Depot A"},
	})
	require.NoError(t, err)

	resp, err := svc.ProcessSync(ctx, tenantID, "actor-1", &SyncRequest{Operations: []json.RawMessage{raw}})
	require.NoError(t, err)
	require.Equal(t, StApplied, resp.Results[0].Status)

	// The device-reported timestamp lands on the processed record.
	var stored *time.Time
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT client_ts FROM sync.processed_op WHERE tenant_id = $1 AND op_id = $2`,
		tenantID, opID).Scan(&stored))
	require.NotNil(t, stored)
	require.True(t, stored.Equal(recordedAt), "stored %v, want %v", stored, recordedAt)

	// Operations without a client timestamp record NULL, not a zero time.
	noTSOpID := uuid.New().String()
	resp, err = svc.ProcessSync(ctx, tenantID, "actor-1", &SyncRequest{Operations: []json.RawMessage{
		rawOp(t, noTSOpID, "location", ActionInsert, uuid.New().String(), map[string]any{"name": "Depot B"}),
	}})
	require.NoError(t, err)
	require.Equal(t, StApplied, resp.Results[0].Status)

	require.NoError(t, pool.QueryRow(ctx,
		`SELECT client_ts FROM sync.processed_op WHERE tenant_id = $1 AND op_id = $2`,
		tenantID, noTSOpID).Scan(&stored))
	require.Nil(t, stored)
}

func TestProcessSync_EmptyBatchAndMissingTenant(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := newTestPool(t, ctx)
	svc := newTestService(t, ctx, pool, HealReject)

	resp, err := svc.ProcessSync(ctx, uniqueTenant("test-empty"), "actor-1", &SyncRequest{})
	require.NoError(t, err)
	require.Empty(t, resp.Results)

	_, err = svc.ProcessSync(ctx, "", "actor-1", &SyncRequest{Operations: []json.RawMessage{
		rawOp(t, uuid.New().String(), "location", ActionInsert, uuid.New().String(), map[string]any{"name": "x"}),
	}})
	require.Error(t, err)
}
