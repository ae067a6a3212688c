// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package admin

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"timeclerk/internal/telemetry"
)

// =============================================================================
// Response Types
// =============================================================================

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse is the /readyz payload.
type ReadyResponse struct {
	Ready            bool `json:"ready"`
	LocalAvailable   bool `json:"local_available"`
	NetworkAvailable bool `json:"network_available"`
	StateStoreOK     bool `json:"state_store_ok"`
}

// StatusResponse is the /api/v1/status payload and the WebSocket
// frame body.
type StatusResponse struct {
	Version          string    `json:"version"`
	UptimeSeconds    int64     `json:"uptime_seconds"`
	LocalAvailable   bool      `json:"local_available"`
	NetworkAvailable bool      `json:"network_available"`
	PendingSyncs     int       `json:"pending_syncs"`
	PendingMerges    int       `json:"pending_merges"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// =============================================================================
// Handlers
// =============================================================================

// Handlers holds the services the admin endpoints front.
type Handlers struct {
	probe          Probe
	syncer         SyncController
	mergeQ         MergeQueue
	merges         MergeStrategy
	backups        BackupCatalog
	runMerge       func(ctx context.Context, username string) error
	syncPath       func(ctx context.Context, localPath string) error
	statusInterval time.Duration
	started        time.Time
	logger         *slog.Logger
}

// NewHandlers creates the handler set. Deps are assumed validated by
// NewServer.
func NewHandlers(deps Deps, statusInterval time.Duration, logger *slog.Logger) *Handlers {
	return &Handlers{
		probe:          deps.Prober,
		syncer:         deps.Syncer,
		mergeQ:         deps.MergeQ,
		merges:         deps.Merges,
		backups:        deps.Backups,
		runMerge:       deps.RunMerge,
		syncPath:       deps.SyncPath,
		statusInterval: statusInterval,
		started:        time.Now(),
		logger:         logger,
	}
}

// getOrCreateRequestID extracts the request ID from the X-Request-ID
// header, or generates a new one.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
		c.Header("X-Request-ID", requestID)
	}
	return requestID
}

// HandleHealth handles GET /healthz.
//
// # Description
//
// Liveness check. Returns 200 whenever the process is serving.
//
// # Response
//
//	200 OK: HealthResponse
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleReady handles GET /readyz.
//
// # Description
//
// Readiness check. Ready means the local document root is reachable
// and the state store answers. A down network root does not make the
// daemon unready, it only queues replication.
//
// # Response
//
//	200 OK: ReadyResponse with ready=true
//	503 Service Unavailable: ReadyResponse with ready=false
func (h *Handlers) HandleReady(c *gin.Context) {
	resp := ReadyResponse{
		LocalAvailable:   h.probe.LocalAvailable(),
		NetworkAvailable: h.probe.NetworkAvailable(),
	}
	_, stateErr := h.syncer.Pending(c.Request.Context())
	resp.StateStoreOK = stateErr == nil
	resp.Ready = resp.LocalAvailable && resp.StateStoreOK

	if !resp.Ready {
		c.Header("Retry-After", "30")
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleMetrics handles GET /metrics.
//
// # Description
//
// Serves the Prometheus scrape endpoint when the metrics exporter is
// initialized, 404 otherwise.
func (h *Handlers) HandleMetrics(c *gin.Context) {
	handler := telemetry.MetricsHandler()
	if handler == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "metrics exporter not initialized",
			Code:  "METRICS_DISABLED",
		})
		return
	}
	handler.ServeHTTP(c.Writer, c.Request)
}

// HandleStatus handles GET /api/v1/status.
//
// # Description
//
// Returns one snapshot of daemon state: root reachability, pending
// replication pairs, and users awaiting a full merge.
//
// # Response
//
//	200 OK: StatusResponse
func (h *Handlers) HandleStatus(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleStatus")

	c.JSON(http.StatusOK, h.statusSnapshot(c.Request.Context(), logger))
}

// statusSnapshot assembles a StatusResponse. State store read errors
// are logged and reported as zero counts rather than failing the
// snapshot.
func (h *Handlers) statusSnapshot(ctx context.Context, logger *slog.Logger) StatusResponse {
	resp := StatusResponse{
		Version:          ServiceVersion,
		UptimeSeconds:    int64(time.Since(h.started).Seconds()),
		LocalAvailable:   h.probe.LocalAvailable(),
		NetworkAvailable: h.probe.NetworkAvailable(),
		GeneratedAt:      time.Now().UTC(),
	}

	pending, err := h.syncer.Pending(ctx)
	if err != nil {
		logger.Warn("failed to read pending syncs", "error", err)
	} else {
		resp.PendingSyncs = len(pending)
	}

	count, err := h.mergeQ.Count(ctx)
	if err != nil {
		logger.Warn("failed to count pending merges", "error", err)
	} else {
		resp.PendingMerges = count
	}

	return resp
}

// HandleSyncPending handles GET /api/v1/sync/pending.
//
// # Response
//
//	200 OK: {"pending": [...], "count": n}
//	500 Internal Server Error: ErrorResponse
func (h *Handlers) HandleSyncPending(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleSyncPending")

	pending, err := h.syncer.Pending(c.Request.Context())
	if err != nil {
		logger.Error("failed to read pending syncs", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to read pending syncs: " + err.Error(),
			Code:  "STATE_READ_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pending": pending,
		"count":   len(pending),
	})
}

// SyncNowRequest is the POST /api/v1/sync/now body.
type SyncNowRequest struct {
	Path string `json:"path" binding:"required"`
}

// HandleSyncNow handles POST /api/v1/sync/now.
//
// # Description
//
// Replicates one document immediately, bypassing the sweep. The path
// is the document's local path. Answers 503 when the daemon was
// started without a path sync runner.
//
// # Response
//
//	200 OK: {"path": ..., "status": "synced"}
//	400 Bad Request: ErrorResponse when the body has no path
//	500 Internal Server Error: ErrorResponse when the sync failed
func (h *Handlers) HandleSyncNow(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleSyncNow")

	if h.syncPath == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "path sync runner not configured",
			Code:  "SYNC_NOW_DISABLED",
		})
		return
	}

	var req SyncNowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	if err := h.syncPath(c.Request.Context(), req.Path); err != nil {
		logger.Error("path sync failed", "path", req.Path, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "sync failed: " + err.Error(),
			Code:  "SYNC_FAILED",
		})
		return
	}

	logger.Info("path synced", "path", req.Path)
	c.JSON(http.StatusOK, gin.H{"path": req.Path, "status": "synced"})
}

// HandleSyncRetry handles POST /api/v1/sync/retry.
//
// # Description
//
// Sweeps every pending replication pair immediately instead of waiting
// for the next scheduled run. Returns the number of pairs that synced.
func (h *Handlers) HandleSyncRetry(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleSyncRetry")

	synced, err := h.syncer.RetryNow(c.Request.Context())
	if err != nil {
		logger.Error("sync retry failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "sync retry failed: " + err.Error(),
			Code:  "SYNC_RETRY_FAILED",
		})
		return
	}

	logger.Info("sync retry complete", "synced", synced)
	c.JSON(http.StatusOK, gin.H{"retried": synced})
}

// HandleSyncClear handles POST /api/v1/sync/clear.
//
// # Description
//
// Drops every pending replication pair without copying anything. The
// documents themselves are untouched; only the queue is cleared.
func (h *Handlers) HandleSyncClear(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleSyncClear")

	cleared, err := h.syncer.Clear(c.Request.Context())
	if err != nil {
		logger.Error("sync clear failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "sync clear failed: " + err.Error(),
			Code:  "SYNC_CLEAR_FAILED",
		})
		return
	}

	logger.Warn("sync queue cleared", "cleared", cleared)
	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}

// HandleMergeQueue handles GET /api/v1/merge/queue.
//
// # Response
//
//	200 OK: {"pending": [...], "count": n}
//	500 Internal Server Error: ErrorResponse
func (h *Handlers) HandleMergeQueue(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleMergeQueue")

	pending, err := h.mergeQ.Pending(c.Request.Context())
	if err != nil {
		logger.Error("failed to read merge queue", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to read merge queue: " + err.Error(),
			Code:  "STATE_READ_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pending": pending,
		"count":   len(pending),
	})
}

// HandleMergeRetry handles POST /api/v1/merge/retry.
//
// # Description
//
// Runs the merge routine for every user whose full merge is still
// pending. Answers 503 when the daemon was started without a merge
// runner.
func (h *Handlers) HandleMergeRetry(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleMergeRetry")

	if h.runMerge == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "merge runner not configured",
			Code:  "MERGE_RUNNER_DISABLED",
		})
		return
	}

	merged, err := h.mergeQ.Retry(c.Request.Context(), h.runMerge)
	if err != nil {
		logger.Error("merge retry failed", "merged", merged, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "merge retry failed: " + err.Error(),
			Code:  "MERGE_RETRY_FAILED",
		})
		return
	}

	logger.Info("merge retry complete", "merged", merged)
	c.JSON(http.StatusOK, gin.H{"retried": merged})
}

// HandleMergeClear handles POST /api/v1/merge/clear.
func (h *Handlers) HandleMergeClear(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleMergeClear")

	cleared, err := h.mergeQ.Clear(c.Request.Context())
	if err != nil {
		logger.Error("merge clear failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "merge clear failed: " + err.Error(),
			Code:  "MERGE_CLEAR_FAILED",
		})
		return
	}

	logger.Warn("merge queue cleared", "cleared", cleared)
	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}

// HandleMergeForce handles POST /api/v1/merge/force/:user.
//
// # Description
//
// Flags the user's next login for a full merge. With ?immediate=true
// the login counter is set as if the next login already happened, so
// a session that checks the strategy right away performs the merge.
//
// # Response
//
//	200 OK: {"user": ..., "mode": "next_login"|"immediate"}
//	500 Internal Server Error: ErrorResponse
func (h *Handlers) HandleMergeForce(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleMergeForce")

	username := c.Param("user")
	mode := "next_login"

	var err error
	if c.Query("immediate") == "true" {
		mode = "immediate"
		err = h.merges.TriggerFullMergeNow(c.Request.Context(), username)
	} else {
		err = h.merges.ForceFullMergeOnNextLogin(c.Request.Context(), username)
	}
	if err != nil {
		logger.Error("merge force failed", "user", username, "mode", mode, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "merge force failed: " + err.Error(),
			Code:  "MERGE_FORCE_FAILED",
		})
		return
	}

	logger.Info("full merge forced", "user", username, "mode", mode)
	c.JSON(http.StatusOK, gin.H{"user": username, "mode": mode})
}

// HandleBackups handles GET /api/v1/backups?path=.
//
// # Description
//
// Lists the backups captured for one document, newest first. The path
// query parameter is the document's local path as the store writes it.
//
// # Response
//
//	200 OK: {"path": ..., "backups": [...], "count": n}
//	400 Bad Request: ErrorResponse when path is missing
//	503 Service Unavailable: ErrorResponse when backups are disabled
func (h *Handlers) HandleBackups(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleBackups")

	if h.backups == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "backup service not configured",
			Code:  "BACKUPS_DISABLED",
		})
		return
	}

	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "path query parameter is required",
			Code:  "MISSING_PATH",
		})
		return
	}

	records, err := h.backups.ListAvailableBackups(path)
	if err != nil {
		logger.Error("backup listing failed", "path", path, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "backup listing failed: " + err.Error(),
			Code:  "BACKUP_LIST_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"path":    path,
		"backups": records,
		"count":   len(records),
	})
}
