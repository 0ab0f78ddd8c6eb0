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
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/patchsmith/cmd/patchsmith/config"
	"github.com/AleutianAI/patchsmith/pkg/ux"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// --- Global Command Variables ---
var (
	workDir       string
	contextFiles  []string
	allowPrefixes []string
	maxFiles      int
	maxLines      int
	maxAttempts   int
	timeoutSecs   int
	noSyntaxGate  bool
	verifyArgv    []string
	providerFlag  string
	plainOutput   bool

	runsLimit int
	showDiff  bool

	rootCmd = &cobra.Command{
		Use:   "patchsmith",
		Short: "A cli for the Patchsmith automated repair engine",
		Long: `Patchsmith drives an LLM generator through a bounded
generate, validate, apply, verify loop against a local working tree,
and leaves the tree either verifiably fixed or untouched.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if plainOutput {
				ux.SetPlain(true)
			}
			if err := config.Load(); err != nil {
				log.Fatalf("Error loading config: %v", err)
			}
		},
	}

	// --- Fix ---
	fixCmd = &cobra.Command{
		Use:   "fix [task description]",
		Short: "Run one fix workflow against a working tree",
		Args:  cobra.MinimumNArgs(1),
		Run:   runFixCommand, // Defined in cmd_fix.go
	}

	// --- Run history ---
	runsCmd = &cobra.Command{
		Use:   "runs",
		Short: "Inspect the stored run history",
	}
	runsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Run:   runRunsList, // Defined in cmd_runs.go
	}
	runsShowCmd = &cobra.Command{
		Use:   "show [run_id]",
		Short: "Show one stored run with its attempt history",
		Args:  cobra.ExactArgs(1),
		Run:   runRunsShow, // Defined in cmd_runs.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the patchsmith version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("patchsmith", Version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&plainOutput, "plain", false, "Disable styled output")
	rootCmd.PersistentFlags().StringVar(&providerFlag, "provider", "", "Generator backend override (openai or ollama)")

	fixCmd.Flags().StringVarP(&workDir, "work-dir", "C", ".", "Working tree the run owns for its duration")
	fixCmd.Flags().StringSliceVarP(&contextFiles, "file", "f", nil, "Repository-relative file shown to the generator (repeatable)")
	fixCmd.Flags().StringSliceVarP(&allowPrefixes, "allow", "a", nil, "Path prefix the change may touch (repeatable; defaults to --file values)")
	fixCmd.Flags().IntVar(&maxFiles, "max-files", 0, "Cap on touched files (0 uses the config default)")
	fixCmd.Flags().IntVar(&maxLines, "max-lines", 0, "Cap on changed lines (0 uses the config default)")
	fixCmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Refinement attempt budget (0 uses the config default)")
	fixCmd.Flags().IntVar(&timeoutSecs, "timeout", 0, "Whole-run timeout in seconds (0 uses the config default)")
	fixCmd.Flags().BoolVar(&noSyntaxGate, "no-syntax-check", false, "Skip the post-edit parse gate")
	fixCmd.Flags().StringSliceVar(&verifyArgv, "verify", nil, "Check command argv (default: detected from the project layout)")
	rootCmd.AddCommand(fixCmd)

	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum rows to list (0 for all)")
	runsShowCmd.Flags().BoolVar(&showDiff, "diff", false, "Print the run's final diff")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)

	rootCmd.AddCommand(versionCmd)
}
