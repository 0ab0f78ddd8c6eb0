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
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// Global is a singleton instance
	Global PatchsmithConfig
	once   sync.Once
)

// Load ensures the config is loaded into the Global variable
func Load() error {
	var err error
	once.Do(func() {
		err = loadInternal()
	})
	return err
}

func loadInternal() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return loadFrom(filepath.Join(home, ".patchsmith", "patchsmith.yaml"))
}

func loadFrom(configPath string) error {
	// create it if it doesn't exist
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf(" First run detected, creating the config at %s\n", configPath)
		if err := createDefault(configPath); err != nil {
			return err
		}
	}
	// read the file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read the config file %w", err)
	}
	// parse the config in to the Global struct
	if err = yaml.Unmarshal(data, &Global); err != nil {
		return fmt.Errorf("failed to unmarshal the config into the Global singleton: %w", err)
	}
	applyEnvOverrides(&Global)
	return Global.Validate()
}

// applyEnvOverrides lets the environment trump the file for the
// settings CI pipelines usually set.
func applyEnvOverrides(cfg *PatchsmithConfig) {
	if v := os.Getenv("PATCHSMITH_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" && cfg.Provider == "openai" {
		cfg.Model = v
	}
	if v := os.Getenv("PATCHSMITH_STORE"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("PATCHSMITH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	defaultCfg := DefaultConfig()
	data, err := yaml.Marshal(defaultCfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
