// Copyright 2025 The fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ResultCache caches terminal outcomes keyed by (tenant, operation id) so
// that duplicate submissions can short-circuit without touching Postgres.
// The cache is a fast path only; sync.processed_op stays the source of truth
// and a miss simply falls through to the insert-first gate.
type ResultCache interface {
	Get(ctx context.Context, tenantID string, opID uuid.UUID) (*OperationResult, bool)
	Put(ctx context.Context, tenantID string, opID uuid.UUID, res *OperationResult)
}

// RedisResultCache is a ResultCache backed by Redis. Cache errors are logged
// and treated as misses; they never fail an operation.
type RedisResultCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisResultCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisResultCache {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisResultCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisResultCache) Get(ctx context.Context, tenantID string, opID uuid.UUID) (*OperationResult, bool) {
	data, err := c.client.Get(ctx, cacheKey(tenantID, opID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("Result cache read failed", "tenant_id", tenantID, "op_id", opID, "error", err)
		}
		return nil, false
	}

	var res OperationResult
	if err := json.Unmarshal(data, &res); err != nil {
		c.logger.Warn("Result cache entry corrupt", "tenant_id", tenantID, "op_id", opID, "error", err)
		return nil, false
	}
	return &res, true
}

func (c *RedisResultCache) Put(ctx context.Context, tenantID string, opID uuid.UUID, res *OperationResult) {
	data, err := json.Marshal(res)
	if err != nil {
		c.logger.Warn("Result cache marshal failed", "tenant_id", tenantID, "op_id", opID, "error", err)
		return
	}
	if err := c.client.Set(ctx, cacheKey(tenantID, opID), data, c.ttl).Err(); err != nil {
		c.logger.Debug("Result cache write failed", "tenant_id", tenantID, "op_id", opID, "error", err)
	}
}

func cacheKey(tenantID string, opID uuid.UUID) string {
	return fmt.Sprintf("fieldsync:op:%s:%s", tenantID, opID)
}
