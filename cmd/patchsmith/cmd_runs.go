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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/patchsmith/pkg/ux"
	"github.com/AleutianAI/patchsmith/pkg/validation"
	"github.com/AleutianAI/patchsmith/services/patch_engine/runstore"
)

// openStore opens the run history store used by the runs subcommands.
func openStore() *runstore.Store {
	logger := newLogger()
	store, err := runstore.Open(runstore.DefaultConfig(storePath()))
	if err != nil {
		logger.Close()
		ux.Error(fmt.Sprintf("Run store: %v", err))
		os.Exit(1)
	}
	return store
}

// runRunsList prints stored runs, newest first.
func runRunsList(cmd *cobra.Command, args []string) {
	store := openStore()
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runs, err := store.List(ctx, runsLimit)
	if err != nil {
		ux.Error(fmt.Sprintf("Listing runs: %v", err))
		os.Exit(1)
	}
	if len(runs) == 0 {
		ux.Muted("No stored runs.")
		return
	}

	ux.Title("Run history")
	for _, run := range runs {
		icon := ux.IconError
		if run.Succeeded() {
			icon = ux.IconSuccess
		}
		fmt.Printf("%s %s  %-9s  %d attempt(s)  %s\n",
			icon.Render(), run.ID, run.GetState(),
			len(run.Attempts), run.StartedAt.Format(time.RFC3339))
		ux.Muted("   " + truncateTask(run.Task, 72))
	}
}

// runRunsShow prints one stored run with its attempt history.
func runRunsShow(cmd *cobra.Command, args []string) {
	id, err := validation.SanitizeRunID(args[0])
	if err != nil {
		ux.Error(fmt.Sprintf("Invalid run ID: %v", err))
		os.Exit(1)
	}

	store := openStore()
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run, err := store.Get(ctx, id)
	if err != nil {
		ux.Error(fmt.Sprintf("Loading run: %v", err))
		os.Exit(1)
	}

	ux.Title("Run " + run.ID)
	ux.Info("Task: " + run.Task)
	ux.Info(fmt.Sprintf("State: %s", run.GetState()))
	ux.Muted("Work tree: " + run.WorkDir)
	ux.Muted(fmt.Sprintf("Started: %s  Duration: %s",
		run.StartedAt.Format(time.RFC3339), run.Duration().Round(time.Millisecond)))
	if run.Reason != "" {
		ux.Error("Reason: " + run.Reason)
	}

	fmt.Println()
	printAttempts(run)

	if summary := run.ErrorSummary(); summary.Total > 0 {
		fmt.Println()
		ux.Muted(fmt.Sprintf("Classified errors: %d", summary.Total))
		for category, count := range summary.ByCategory {
			ux.Muted(fmt.Sprintf("  %s: %d", category, count))
		}
	}

	if showDiff {
		fmt.Println()
		if run.Diff == "" {
			ux.Muted("No final diff recorded for this run.")
		} else {
			fmt.Println(ux.RenderDiff(run.Diff))
		}
	}
}

// truncateTask shortens a task description for one-line listings.
func truncateTask(task string, max int) string {
	if len(task) <= max {
		return task
	}
	return task[:max-3] + "..."
}
