// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// PatchsmithConfig is the user-level configuration persisted at
// ~/.patchsmith/patchsmith.yaml. Per-run policy is always explicit on
// the command line or request; this file only provides defaults.
type PatchsmithConfig struct {
	// Provider selects the generator backend.
	Provider string `yaml:"provider" validate:"required,oneof=openai ollama"`

	// Model names the model the backend should use. Empty lets the
	// backend pick its own default.
	Model string `yaml:"model"`

	// Policy holds default caps for fix runs.
	Policy PolicyDefaults `yaml:"policy"`

	// Engine holds default loop settings.
	Engine EngineDefaults `yaml:"engine"`

	// StorePath is the directory for the run history store.
	StorePath string `yaml:"store_path"`

	// LogLevel is the minimum log level: debug, info, warn, error.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// PolicyDefaults are fallback caps applied when a fix invocation does
// not set its own.
type PolicyDefaults struct {
	// MaxFilesChanged caps touched files per change set.
	MaxFilesChanged int `yaml:"max_files_changed" validate:"gte=0,lte=100"`

	// MaxTotalChangedLines caps additions plus deletions.
	MaxTotalChangedLines int `yaml:"max_total_changed_lines" validate:"gte=0,lte=10000"`

	// DisableSyntaxCheck turns off the post-edit parse gate.
	DisableSyntaxCheck bool `yaml:"disable_syntax_check"`
}

// EngineDefaults are fallback loop settings.
type EngineDefaults struct {
	// MaxAttempts is the refinement attempt budget.
	MaxAttempts int `yaml:"max_attempts" validate:"gte=0,lte=10"`

	// TimeoutSeconds bounds one whole run.
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"gte=0"`

	// RequestsPerMinute caps outbound generator requests.
	RequestsPerMinute int `yaml:"requests_per_minute" validate:"gte=0"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() PatchsmithConfig {
	return PatchsmithConfig{
		Provider: "openai",
		Policy: PolicyDefaults{
			MaxFilesChanged:      5,
			MaxTotalChangedLines: 200,
		},
		Engine: EngineDefaults{
			MaxAttempts:       3,
			TimeoutSeconds:    600,
			RequestsPerMinute: 30,
		},
		LogLevel: "info",
	}
}

// Validate checks the loaded configuration against the struct tags.
func (c *PatchsmithConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid patchsmith config: %w", err)
	}
	return nil
}
