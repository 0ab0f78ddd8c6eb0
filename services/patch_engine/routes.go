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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all patch engine routes with the router.
//
// Description:
//
//	Registers all /v1/patchengine/* endpoints with the given Gin
//	router group. The group should already carry any required
//	middleware.
//
// Endpoints:
//
//	POST /v1/patchengine/fix - Run a refinement workflow
//	GET  /v1/patchengine/runs - List stored runs
//	GET  /v1/patchengine/runs/:id - Get one stored run
//	GET  /v1/patchengine/health - Health check
//	GET  /v1/patchengine/ready - Readiness check
//
// Example:
//
//	svc, _ := patch_engine.NewService(cfg, client, store, metrics, logger)
//	handlers := patch_engine.NewHandlers(svc)
//
//	v1 := router.Group("/v1")
//	patch_engine.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	pe := rg.Group("/patchengine")
	{
		// Workflow
		pe.POST("/fix", handlers.HandleFix)

		// Run history
		pe.GET("/runs", handlers.HandleListRuns)
		pe.GET("/runs/:id", handlers.HandleGetRun)

		// Health checks
		pe.GET("/health", handlers.HandleHealth)
		pe.GET("/ready", handlers.HandleReady)
	}
}
