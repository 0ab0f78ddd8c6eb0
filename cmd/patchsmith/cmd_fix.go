// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/patchsmith/cmd/patchsmith/config"
	"github.com/AleutianAI/patchsmith/pkg/logging"
	"github.com/AleutianAI/patchsmith/pkg/ux"
	"github.com/AleutianAI/patchsmith/services/llm"
	"github.com/AleutianAI/patchsmith/services/patch_engine"
	"github.com/AleutianAI/patchsmith/services/patch_engine/generator"
	"github.com/AleutianAI/patchsmith/services/patch_engine/runstore"
	"github.com/AleutianAI/patchsmith/services/patch_engine/workflow"
)

// newLogger builds the CLI logger from the loaded config. Logs go to
// a file so they never fight the styled terminal output.
func newLogger() *logging.Logger {
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(config.Global.LogLevel),
		LogDir:  "~/.patchsmith/logs",
		Service: "cli",
		Quiet:   true,
	})
}

// storePath resolves the run history directory from config.
func storePath() string {
	if config.Global.StorePath != "" {
		return config.Global.StorePath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".patchsmith/runs"
	}
	return filepath.Join(home, ".patchsmith", "runs")
}

// provider resolves the generator backend from flag or config.
func provider() string {
	if providerFlag != "" {
		return providerFlag
	}
	return config.Global.Provider
}

// runFixCommand drives one fix workflow from the command line.
func runFixCommand(cmd *cobra.Command, args []string) {
	task := strings.Join(args, " ")

	if len(contextFiles) == 0 {
		ux.Error("At least one --file is required")
		os.Exit(1)
	}
	absWorkDir, err := filepath.Abs(workDir)
	if err != nil {
		ux.Error(fmt.Sprintf("Cannot resolve work dir: %v", err))
		os.Exit(1)
	}
	prefixes := allowPrefixes
	if len(prefixes) == 0 {
		// Restrict the change to the files the generator can see.
		prefixes = contextFiles
	}

	logger := newLogger()
	defer logger.Close()

	if config.Global.Model != "" && os.Getenv("OPENAI_MODEL") == "" {
		os.Setenv("OPENAI_MODEL", config.Global.Model)
	}
	client, err := llm.NewClient(provider())
	if err != nil {
		ux.Error(fmt.Sprintf("Generator backend: %v", err))
		os.Exit(1)
	}

	store, err := runstore.Open(runstore.DefaultConfig(storePath()))
	if err != nil {
		ux.Error(fmt.Sprintf("Run store: %v", err))
		os.Exit(1)
	}
	defer store.Close()

	svcCfg := patch_engine.DefaultServiceConfig()
	svcCfg.Generator = generator.Config{
		RequestsPerMinute: config.Global.Engine.RequestsPerMinute,
	}
	if config.Global.Engine.MaxAttempts > 0 {
		wf := workflow.DefaultConfig()
		wf.MaxAttempts = config.Global.Engine.MaxAttempts
		svcCfg.Workflow = wf
	}

	svc, err := patch_engine.NewService(svcCfg, client, store, nil, logger.Slog())
	if err != nil {
		ux.Error(fmt.Sprintf("Service: %v", err))
		os.Exit(1)
	}

	req := &patch_engine.FixRequest{
		Task:                 task,
		WorkDir:              absWorkDir,
		Files:                contextFiles,
		AllowedPathPrefixes:  prefixes,
		MaxFilesChanged:      firstPositive(maxFiles, config.Global.Policy.MaxFilesChanged),
		MaxTotalChangedLines: firstPositive(maxLines, config.Global.Policy.MaxTotalChangedLines),
		MaxAttempts:          maxAttempts,
		DisableSyntaxCheck:   noSyntaxGate || config.Global.Policy.DisableSyntaxCheck,
		VerifyCommand:        verifyArgv,
		TimeoutSeconds:       firstPositive(timeoutSecs, config.Global.Engine.TimeoutSeconds),
	}

	ux.Title("Patchsmith fix")
	ux.Info(fmt.Sprintf("Work tree: %s", absWorkDir))
	ux.Muted(fmt.Sprintf("Context: %s", strings.Join(contextFiles, ", ")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var run *workflow.WorkflowRun
	runErr := ux.WithSpinner("Running fix workflow", func() error {
		var err error
		run, err = svc.Fix(ctx, req)
		return err
	})

	if run == nil {
		ux.Error(fmt.Sprintf("Run could not start: %v", runErr))
		os.Exit(1)
	}

	printAttempts(run)

	if run.Succeeded() {
		ux.Success(fmt.Sprintf("Verified fix after %d attempt(s)", len(run.Attempts)))
		fmt.Println()
		fmt.Println(ux.RenderDiff(run.Diff))
		ux.Muted(fmt.Sprintf("Run %s stored; the working tree now carries the fix.", run.ID))
		return
	}

	ux.Error(fmt.Sprintf("Run failed: %s", run.Reason))
	ux.Muted(fmt.Sprintf("Run %s stored; the working tree was left untouched.", run.ID))
	os.Exit(1)
}

// printAttempts renders the attempt history as status lines.
func printAttempts(run *workflow.WorkflowRun) {
	for _, rec := range run.Attempts {
		icon := ux.IconSuccess
		detail := "verified"
		if rec.Failure != "" {
			icon = ux.IconError
			detail = rec.Failure
		}
		ux.AttemptStatus(rec.AttemptNumber, icon, detail)
	}
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
