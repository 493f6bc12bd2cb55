// Copyright 2025 The fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
)

type contextKey string

const (
	tenantIDKey contextKey = "tenant_id"
	actorIDKey  contextKey = "actor_id"
	deviceIDKey contextKey = "device_id"
)

// SetAuthContext stores the authenticated identity on the context.
func SetAuthContext(ctx context.Context, tenantID, actorID, deviceID string) context.Context {
	ctx = context.WithValue(ctx, tenantIDKey, tenantID)
	ctx = context.WithValue(ctx, actorIDKey, actorID)
	if deviceID != "" {
		ctx = context.WithValue(ctx, deviceIDKey, deviceID)
	}
	return ctx
}

// TenantID retrieves the authenticated tenant from the context.
func TenantID(ctx context.Context) (string, bool) {
	tenantID, ok := ctx.Value(tenantIDKey).(string)
	return tenantID, ok
}

// ActorID retrieves the authenticated actor from the context.
func ActorID(ctx context.Context) (string, bool) {
	actorID, ok := ctx.Value(actorIDKey).(string)
	return actorID, ok
}

// DeviceID retrieves the submitting device from the context, if the token
// carried one.
func DeviceID(ctx context.Context) (string, bool) {
	deviceID, ok := ctx.Value(deviceIDKey).(string)
	return deviceID, ok
}
