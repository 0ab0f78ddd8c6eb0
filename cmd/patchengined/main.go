// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command patchengined starts a standalone patch engine API server.
//
// Usage:
//
//	go run ./cmd/patchengined
//	go run ./cmd/patchengined -port 9090 -provider ollama
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/patchengine/health
//
//	# Run a fix workflow
//	curl -X POST http://localhost:8080/v1/patchengine/fix \
//	  -H "Content-Type: application/json" \
//	  -d '{"task": "the assertion in calc.py is wrong",
//	       "work_dir": "/path/to/worktree",
//	       "files": ["calc.py"],
//	       "allowed_path_prefixes": ["calc.py"]}'
//
//	# Inspect run history
//	curl http://localhost:8080/v1/patchengine/runs | jq
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/patchsmith/services/llm"
	"github.com/AleutianAI/patchsmith/services/patch_engine"
	"github.com/AleutianAI/patchsmith/services/patch_engine/runstore"
	"github.com/AleutianAI/patchsmith/services/patch_engine/telemetry"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	provider := flag.String("provider", "openai", "Generator backend: openai or ollama")
	storePath := flag.String("store", defaultStorePath(), "Directory for the run history store")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutCtx); err != nil {
			log.Printf("Telemetry shutdown: %v", err)
		}
	}()

	metrics, err := telemetry.NewMetrics(otel.Meter("patchsmith.engine"))
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	store, err := runstore.Open(runstore.DefaultConfig(*storePath))
	if err != nil {
		log.Fatalf("Failed to open run store at %s: %v", *storePath, err)
	}
	defer store.Close()

	client, err := llm.NewClient(*provider)
	if err != nil {
		log.Fatalf("Failed to create %s client: %v", *provider, err)
	}

	svc, err := patch_engine.NewService(patch_engine.DefaultServiceConfig(), client, store, metrics, slog.Default())
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}
	handlers := patch_engine.NewHandlers(svc)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("patchengined"))
	if *debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	patch_engine.RegisterRoutes(v1, handlers)

	if mh := telemetry.MetricsHandler(); mh != nil {
		router.GET("/metrics", gin.WrapH(mh))
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(*port),
		Handler: router,
	}

	go func() {
		<-quit
		log.Println("Shutting down patch engine server...")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			log.Printf("Server shutdown: %v", err)
		}
	}()

	log.Printf("Starting patch engine server on %s (provider=%s, store=%s)", srv.Addr, *provider, *storePath)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".patchsmith/runs"
	}
	return filepath.Join(home, ".patchsmith", "runs")
}
