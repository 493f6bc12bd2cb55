// Copyright 2025 The fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gabrielm726/fieldsync/internal/auth"
)

// ClientAuthenticator maps a bearer token to the caller's tenant and actor.
// Implementations validate auth (e.g., JWT) and never trust the request body.
type ClientAuthenticator interface {
	GetTenantID(r *http.Request) (string, error)
	GetActorID(r *http.Request) (string, error)
}

// HTTPSyncHandlers provides HTTP handlers for the sync API
type HTTPSyncHandlers struct {
	service       *SyncService
	authenticator ClientAuthenticator
	logger        *slog.Logger
}

// NewHTTPSyncHandlers creates a new instance of sync handlers
func NewHTTPSyncHandlers(service *SyncService, authenticator ClientAuthenticator, logger *slog.Logger) *HTTPSyncHandlers {
	return &HTTPSyncHandlers{
		service:       service,
		authenticator: authenticator,
		logger:        logger,
	}
}

// Routes mounts the sync API on a chi router.
func (h *HTTPSyncHandlers) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/api/{resource}/sync", h.HandleSync)
	r.Get("/api/sync/status", h.HandleStatus)
	r.Get("/api/sync/heal-audit", h.HandleHealAudit)
	return r
}

// HandleSync processes a batch sync request. The response carries mixed
// per-operation outcomes under transport status 200; only an undecodable
// envelope or failed authentication rejects the request as a whole.
func (h *HTTPSyncHandlers) HandleSync(w http.ResponseWriter, r *http.Request) {
	tenantID, actorID, err := h.callerIdentity(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}

	resource := chi.URLParam(r, "resource")
	if !isValidTableName(resource) || !h.service.IsTableRegistered(resource) {
		h.writeError(w, http.StatusNotFound, "unknown_resource", "resource not registered for sync: "+resource)
		return
	}

	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse sync request")
		return
	}

	response, err := h.service.ProcessSync(r.Context(), tenantID, actorID, &req)
	if err != nil {
		h.logger.Error("Failed to process sync batch", "error", err, "tenant_id", tenantID, "resource", resource)
		h.writeError(w, http.StatusInternalServerError, "sync_failed", "Failed to process sync batch")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Failed to encode sync response", "error", err, "tenant_id", tenantID)
	}
}

// HandleStatus returns service status
func (h *HTTPSyncHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:           "healthy",
		AppName:          h.service.config.AppName,
		HealPolicy:       string(h.service.HealPolicy()),
		RegisteredTables: h.service.RegisteredTables(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode status response", "error", err)
	}
}

// HandleHealAudit lists repaired references for the authenticated tenant
func (h *HTTPSyncHandlers) HandleHealAudit(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := h.callerIdentity(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}

	table := r.URL.Query().Get("table")
	if table != "" && !isValidTableName(table) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "invalid table name")
		return
	}
	limit := 100
	if ls := r.URL.Query().Get("limit"); ls != "" {
		v, err := strconv.Atoi(ls)
		if err != nil || v < 1 || v > 1000 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "limit must be between 1 and 1000")
			return
		}
		limit = v
	}

	entries, err := h.service.ListHealAudit(r.Context(), tenantID, table, limit)
	if err != nil {
		h.logger.Error("Failed to list heal audit", "error", err, "tenant_id", tenantID)
		h.writeError(w, http.StatusInternalServerError, "heal_audit_failed", "Failed to list heal audit")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		h.logger.Error("Failed to encode heal audit response", "error", err, "tenant_id", tenantID)
	}
}

// callerIdentity resolves the authenticated tenant and actor. Identity set
// upstream by an auth middleware wins; otherwise the request is authenticated
// here through the configured ClientAuthenticator.
func (h *HTTPSyncHandlers) callerIdentity(r *http.Request) (string, string, error) {
	if tenantID, ok := auth.TenantID(r.Context()); ok {
		actorID, _ := auth.ActorID(r.Context())
		return tenantID, actorID, nil
	}

	tenantID, err := h.authenticator.GetTenantID(r)
	if err != nil {
		return "", "", err
	}
	actorID, err := h.authenticator.GetActorID(r)
	if err != nil {
		return "", "", err
	}
	return tenantID, actorID, nil
}

func (h *HTTPSyncHandlers) writeError(w http.ResponseWriter, status int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errCode,
		Message: message,
	})
}
