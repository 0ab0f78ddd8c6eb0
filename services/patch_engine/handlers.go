// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patch_engine

import (
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/patchsmith/pkg/validation"
	"github.com/AleutianAI/patchsmith/services/patch_engine/ops"
	"github.com/AleutianAI/patchsmith/services/patch_engine/runstore"
	"github.com/AleutianAI/patchsmith/services/patch_engine/workflow"
)

// Handlers contains the HTTP handlers for the patch engine.
//
// Thread Safety: Handlers is safe for concurrent use.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the patch engine service.
func NewHandlers(svc *Service) *Handlers {
	if svc == nil {
		panic("patch_engine: NewHandlers requires a non-nil service")
	}
	return &Handlers{svc: svc}
}

// getOrCreateRequestID returns the request's X-Request-ID header,
// minting one when the caller did not supply it.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.New().String()
}

// HandleFix handles POST /v1/patchengine/fix.
//
// Description:
//
//	Runs one refinement workflow synchronously and returns the full
//	attempt history. The working tree named by work_dir is owned by
//	the run for its duration; callers serialize access per tree.
//
// Response:
//
//	200 OK: FixResponse (run ended SUCCEEDED)
//	400 Bad Request: Validation error
//	422 Unprocessable Entity: FixResponse (run ended FAILED)
//	500 Internal Server Error: Environment error before the run started
func (h *Handlers) HandleFix(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleFix")

	var req FixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	if !filepath.IsAbs(req.WorkDir) {
		logger.Warn("Relative work_dir rejected", "work_dir", req.WorkDir)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "work_dir must be an absolute path",
			Code:  "RELATIVE_WORK_DIR",
		})
		return
	}
	if err := validation.ValidateRelativePaths(req.Files); err != nil {
		logger.Warn("Context file path rejected", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_FILE_PATH",
		})
		return
	}

	logger.Info("Starting fix run",
		"work_dir", req.WorkDir,
		"context_files", len(req.Files),
		"max_attempts", req.MaxAttempts)

	run, err := h.svc.Fix(c.Request.Context(), &req)
	if run == nil {
		// The run never started; nothing was modified.
		logger.Error("Fix run could not start", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "RUN_SETUP_FAILED",
		})
		return
	}

	resp := FixResponseFromRun(run)
	if run.Succeeded() {
		logger.Info("Fix run succeeded",
			"run_id", run.ID,
			"attempts", len(run.Attempts))
		c.JSON(http.StatusOK, resp)
		return
	}

	status := http.StatusUnprocessableEntity
	var abort *ops.AbortError
	switch {
	case errors.As(err, &abort):
		// Generator declined; the request itself was fine.
	case errors.Is(err, workflow.ErrRunTimeout):
		// Deadline expiry is still a complete, reverted run.
	case errors.Is(err, workflow.ErrAttemptsExhausted),
		errors.Is(err, workflow.ErrTestsStillFailing):
	default:
		status = http.StatusInternalServerError
	}

	logger.Warn("Fix run failed",
		"run_id", run.ID,
		"reason", run.Reason,
		"attempts", len(run.Attempts))
	c.JSON(status, resp)
}

// HandleListRuns handles GET /v1/patchengine/runs.
//
// Query params:
//
//	limit - Maximum rows to return. Default 20, 0 for all.
func (h *Handlers) HandleListRuns(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListRuns")

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a non-negative integer",
				Code:  "INVALID_LIMIT",
			})
			return
		}
		limit = parsed
	}

	runs, err := h.svc.ListRuns(c.Request.Context(), limit)
	if err != nil {
		logger.Error("List runs failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "STORE_ERROR",
		})
		return
	}

	summaries := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, RunSummaryFromRun(run))
	}
	c.JSON(http.StatusOK, ListRunsResponse{Runs: summaries, Total: len(summaries)})
}

// HandleGetRun handles GET /v1/patchengine/runs/:id.
func (h *Handlers) HandleGetRun(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetRun")

	id, err := validation.SanitizeRunID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_RUN_ID",
		})
		return
	}

	run, err := h.svc.GetRun(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, runstore.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: "run not found: " + id,
				Code:  "RUN_NOT_FOUND",
			})
			return
		}
		logger.Error("Get run failed", "run_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "STORE_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, FixResponseFromRun(run))
}

// HandleHealth handles GET /v1/patchengine/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleReady handles GET /v1/patchengine/ready.
func (h *Handlers) HandleReady(c *gin.Context) {
	if err := h.svc.Ready(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
