// Copyright 2025 The fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestTenantScope_InsertStampsClientID(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := newTestPool(t, ctx)
	svc := newTestService(t, ctx, pool, HealReject)
	tenantID := uniqueTenant("test-stamp")
	rowID := uuid.New().String()

	// The client claims a different tenant in the payload; the stored row
	// must carry the authenticated tenant instead.
	resp, err := svc.ProcessSync(ctx, tenantID, "actor-1", &SyncRequest{Operations: []json.RawMessage{
		rawOp(t, uuid.New().String(), "location", ActionInsert, rowID, map[string]any{
			"name":      "Depot A",
			"client_id": "tenant-spoofed",
		}),
	}})
	require.NoError(t, err)
	require.Equal(t, StApplied, resp.Results[0].Status)

	var stored string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT client_id FROM location WHERE id = $1`, rowID).Scan(&stored))
	require.Equal(t, tenantID, stored)
}

func TestTenantScope_UpdateForeignRowRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := newTestPool(t, ctx)
	svc := newTestService(t, ctx, pool, HealReject)
	owner := uniqueTenant("test-owner")
	attacker := uniqueTenant("test-attacker")

	rowID := insertLocation(t, ctx, pool, owner, "Depot A")

	resp, err := svc.ProcessSync(ctx, attacker, "actor-evil", &SyncRequest{Operations: []json.RawMessage{
		rawOp(t, uuid.New().String(), "location", ActionUpdate, rowID.String(), map[string]any{"name": "Hijacked"}),
	}})
	require.NoError(t, err)
	require.Equal(t, StFailed, resp.Results[0].Status)
	require.Equal(t, ReasonTenantMismatch, resp.Results[0].Reason)

	// The row is untouched.
	var name string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT name FROM location WHERE id = $1`, rowID).Scan(&name))
	require.Equal(t, "Depot A", name)
}

func TestTenantScope_DeleteForeignRowRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := newTestPool(t, ctx)
	svc := newTestService(t, ctx, pool, HealReject)
	owner := uniqueTenant("test-owner")
	attacker := uniqueTenant("test-attacker")

	rowID := insertLocation(t, ctx, pool, owner, "Depot A")

	resp, err := svc.ProcessSync(ctx, attacker, "actor-evil", &SyncRequest{Operations: []json.RawMessage{
		rawOp(t, uuid.New().String(), "location", ActionDelete, rowID.String(), nil),
	}})
	require.NoError(t, err)
	require.Equal(t, StFailed, resp.Results[0].Status)
	require.Equal(t, ReasonTenantMismatch, resp.Results[0].Reason)
	require.Equal(t, 1, countRows(t, ctx, pool, "location", owner))
}

func TestTenantScope_UpdateCannotMoveRowBetweenTenants(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := newTestPool(t, ctx)
	svc := newTestService(t, ctx, pool, HealReject)
	tenantID := uniqueTenant("test-move")

	rowID := insertLocation(t, ctx, pool, tenantID, "Depot A")

	resp, err := svc.ProcessSync(ctx, tenantID, "actor-1", &SyncRequest{Operations: []json.RawMessage{
		rawOp(t, uuid.New().String(), "location", ActionUpdate, rowID.String(), map[string]any{
			"name":      "Depot A renamed",
			"client_id": "tenant-elsewhere",
		}),
	}})
	require.NoError(t, err)
	require.Equal(t, StApplied, resp.Results[0].Status)

	var stored string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT client_id FROM location WHERE id = $1`, rowID).Scan(&stored))
	require.Equal(t, tenantID, stored)
}

func TestTenantScope_ReferencesAreTenantScoped(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := newTestPool(t, ctx)
	svc := newTestService(t, ctx, pool, HealReject)
	tenantA := uniqueTenant("test-ref-a")
	tenantB := uniqueTenant("test-ref-b")

	// tenant B references tenant A's location: dangling from B's view.
	foreignLoc := insertLocation(t, ctx, pool, tenantA, "Depot A")

	resp, err := svc.ProcessSync(ctx, tenantB, "actor-1", &SyncRequest{Operations: []json.RawMessage{
		rawOp(t, uuid.New().String(), "asset", ActionInsert, uuid.New().String(), map[string]any{
			"name":        "Pump",
			"location_id": foreignLoc.String(),
		}),
	}})
	require.NoError(t, err)
	require.Equal(t, StFailed, resp.Results[0].Status)
	require.Equal(t, ReasonFKUnresolved, resp.Results[0].Reason)
	require.Equal(t, 0, countRows(t, ctx, pool, "asset", tenantB))
}
