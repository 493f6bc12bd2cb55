// Copyright 2025 The fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// errOpRejected rolls an operation's transaction back after a per-operation
// failure so that neither the mutation nor the guard reservation survives.
var errOpRejected = errors.New("operation rejected")

// SyncService processes batched, idempotent sync submissions from
// offline-capable clients into the shared multi-tenant store.
type SyncService struct {
	pool     *pgxpool.Pool
	logger   *slog.Logger
	config   *ServiceConfig
	tables   []TableSpec
	specs    map[string]TableSpec
	dispatch map[dispatchKey]applyFunc
	validate *validator.Validate

	mu     sync.RWMutex
	closed bool
}

// newSyncServiceCore builds the pure, storage-free parts of the service:
// validated config, table registry and the closed {table, action} dispatch.
func newSyncServiceCore(config *ServiceConfig, logger *slog.Logger) (*SyncService, error) {
	if config == nil {
		config = &ServiceConfig{}
	}
	if config.AppName == "" {
		config.AppName = "fieldsync-app"
	}
	if config.HealPolicy == "" {
		config.HealPolicy = HealReject
	}
	switch config.HealPolicy {
	case HealReject, HealNullify, HealPlaceholder:
	default:
		return nil, fmt.Errorf("unknown heal policy %q", config.HealPolicy)
	}
	if len(config.Tables) == 0 {
		config.Tables = DefaultTables()
	}
	if logger == nil {
		logger = slog.Default()
	}

	service := &SyncService{
		logger:   logger,
		config:   config,
		specs:    make(map[string]TableSpec, len(config.Tables)),
		validate: validator.New(),
	}

	for _, spec := range config.Tables {
		name := strings.ToLower(strings.TrimSpace(spec.Name))
		if !isValidTableName(name) {
			return nil, fmt.Errorf("invalid table name %q", spec.Name)
		}
		if _, dup := service.specs[name]; dup {
			return nil, fmt.Errorf("table %q registered twice", name)
		}
		spec.Name = name
		service.specs[name] = spec
		service.tables = append(service.tables, spec)
	}
	for _, spec := range service.tables {
		for _, ref := range spec.References {
			target, ok := service.specs[ref.RefTable]
			if !ok {
				return nil, fmt.Errorf("table %q references unregistered table %q", spec.Name, ref.RefTable)
			}
			if config.HealPolicy == HealPlaceholder && len(target.PlaceholderDefaults) == 0 {
				logger.Warn("Placeholder policy with no defaults for referenced table",
					"table", spec.Name, "ref_table", ref.RefTable)
			}
		}
	}

	service.buildDispatch()
	return service, nil
}

// NewSyncService creates a new sync service instance from an existing pool.
// This is the main entry point for applications embedding the engine.
func NewSyncService(pool *pgxpool.Pool, config *ServiceConfig, logger *slog.Logger) (*SyncService, error) {
	service, err := newSyncServiceCore(config, logger)
	if err != nil {
		return nil, err
	}
	service.pool = pool

	ctx := context.Background()
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if err := service.initializeSchemaInTx(ctx, tx); err != nil {
			service.logger.Error("Failed to initialize database schema", "error", err)
			return err
		}
		service.logger.Debug("Database schema initialized successfully")
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sync service: %w", err)
	}

	return service, nil
}

// Close gracefully shuts down the sync service. It is safe to call multiple
// times. It does NOT close the database pool - the caller owns its lifecycle.
func (s *SyncService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.logger.Debug("Shutting down sync service")
	s.closed = true
	return nil
}

// Pool returns the underlying database connection pool.
func (s *SyncService) Pool() *pgxpool.Pool {
	return s.pool
}

// IsTableRegistered checks if a table is registered for sync operations.
func (s *SyncService) IsTableRegistered(table string) bool {
	_, ok := s.specs[strings.ToLower(table)]
	return ok
}

// HealPolicy returns the configured healing policy.
func (s *SyncService) HealPolicy() HealPolicy {
	return s.config.HealPolicy
}

// RegisteredTables returns the names of all tables accepted in batches.
func (s *SyncService) RegisteredTables() []string {
	names := make([]string, 0, len(s.tables))
	for _, spec := range s.tables {
		names = append(names, spec.Name)
	}
	return names
}

func (s *SyncService) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return errors.New("sync service has been closed")
	}
	return nil
}

// ProcessSync handles a batch submission for one authenticated tenant.
// Operations flow through the pipeline independently and in submission
// order; one operation's failure never halts its siblings. The returned
// results match the request order exactly.
func (s *SyncService) ProcessSync(ctx context.Context, tenantID, actorID string, req *SyncRequest) (*SyncResponse, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if tenantID == "" {
		return nil, errors.New("tenant id required")
	}
	if req == nil || len(req.Operations) == 0 {
		return &SyncResponse{Results: []OperationResult{}}, nil
	}

	totalStart := s.stageStart()

	// Batch size limit fails every operation early so clients do not drop
	// pending work on the floor. Each result echoes its element's id so the
	// client can correlate and resubmit in smaller batches.
	if s.config.MaxBatchSize > 0 && len(req.Operations) > s.config.MaxBatchSize {
		results := make([]OperationResult, len(req.Operations))
		msg := fmt.Sprintf("batch too large: operations=%d limit=%d", len(req.Operations), s.config.MaxBatchSize)
		for i, raw := range req.Operations {
			var envelope struct {
				ID string `json:"id"`
			}
			_ = json.Unmarshal(raw, &envelope)
			results[i] = resultFailed(envelope.ID, ReasonValidation, msg)
		}
		return &SyncResponse{Results: results}, nil
	}

	decodeStart := s.stageStart()
	entries := s.decodeBatch(req.Operations)
	s.observeStage(ctx, MetricsOpSync, MetricsStageDecode, decodeStart, len(entries), false)

	results := make([]OperationResult, len(entries))
	for i, entry := range entries {
		if entry.failure != nil {
			results[i] = *entry.failure
			continue
		}
		results[i] = s.processOperation(ctx, tenantID, actorID, entry.op)
	}

	s.observeStage(ctx, MetricsOpSync, MetricsStageTotal, totalStart, len(entries), false)
	return &SyncResponse{Results: results}, nil
}

// processOperation runs one decoded operation through guard, tenant scoping,
// reference healing and apply, all inside a transaction scoped to this single
// operation. The per-tenant advisory lock serializes the whole sequence
// against other submissions for the same tenant.
func (s *SyncService) processOperation(ctx context.Context, tenantID, actorID string, op *Operation) OperationResult {
	opID := op.ID.String()

	if s.config.ResultCache != nil {
		if prior, ok := s.config.ResultCache.Get(ctx, tenantID, op.ID); ok {
			s.logger.Debug("Duplicate short-circuited from cache",
				"tenant_id", tenantID, "op_id", opID)
			return resultDuplicate(opID, prior)
		}
	}

	applyStart := s.stageStart()
	var res OperationResult
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}, func(tx pgx.Tx) error {
		if err := s.lockTenant(ctx, tx, tenantID); err != nil {
			return err
		}

		guardStart := s.stageStart()
		reserved, prior, err := s.reserveOperation(ctx, tx, tenantID, op.ID)
		s.observeStage(ctx, MetricsOpSync, MetricsStageGuard, guardStart, 1, err != nil)
		if err != nil {
			return err
		}
		if !reserved {
			res = resultDuplicate(opID, prior)
			return nil
		}

		spec := s.specs[op.Table]

		scopeStart := s.stageStart()
		fail, err := s.enforceTenantScope(ctx, tx, tenantID, spec, op)
		s.observeStage(ctx, MetricsOpSync, MetricsStageScope, scopeStart, 1, err != nil)
		if err != nil {
			return err
		}
		if fail != nil {
			res = fail.result(opID)
			return errOpRejected
		}

		resolveStart := s.stageStart()
		notes, fail, err := s.resolveReferences(ctx, tx, tenantID, spec, op)
		s.observeStage(ctx, MetricsOpSync, MetricsStageResolve, resolveStart, 1, err != nil)
		if err != nil {
			return err
		}
		if fail != nil {
			res = fail.result(opID)
			return errOpRejected
		}

		apply, ok := s.dispatch[dispatchKey{Table: op.Table, Action: op.Action}]
		if !ok {
			return fmt.Errorf("no applier registered for %s %s", op.Action, op.Table)
		}
		fail, err = apply(ctx, tx, tenantID, op)
		if err != nil {
			return err
		}
		if fail != nil {
			res = fail.result(opID)
			return errOpRejected
		}

		res = resultApplied(op, notes)
		return s.finalizeReservation(ctx, tx, tenantID, op, &res)
	})
	s.observeStage(ctx, MetricsOpSync, MetricsStageApply, applyStart, 1, err != nil && !errors.Is(err, errOpRejected))

	switch {
	case err == nil:
	case errors.Is(err, errOpRejected):
		// Transaction rolled back: the reservation and any partial work are
		// gone, so an identical retry re-runs the full pipeline.
		s.logger.Info("Operation rejected",
			"tenant_id", tenantID, "actor_id", actorID, "op_id", opID,
			"table", op.Table, "action", op.Action,
			"reason", res.Reason)
	default:
		s.logger.Error("Operation failed",
			"tenant_id", tenantID, "actor_id", actorID, "op_id", opID,
			"table", op.Table, "action", op.Action, "error", err)
		res = resultFailed(opID, ReasonStorageError, "storage error; safe to retry with the same operation id")
	}

	if s.config.ResultCache != nil {
		switch res.Status {
		case StApplied, StHealedApplied:
			s.config.ResultCache.Put(ctx, tenantID, op.ID, &res)
		case StDuplicate:
			if res.Prior != nil {
				s.config.ResultCache.Put(ctx, tenantID, op.ID, res.Prior)
			}
		}
	}
	return res
}
