// Copyright 2025 The Devac Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/devac-project/devac/internal/errs"
)

const (
	defaultConfigDir  = ".devac"
	defaultConfigFile = "workspace.yaml"
	configVersion     = "1"
)

// Config is the .devac/workspace.yaml workspace configuration file.
type Config struct {
	Version   string       `yaml:"version"`
	Socket    string       `yaml:"socket"`              // hub IPC socket path; empty means $XDG_RUNTIME_DIR/devacd.sock, else devacd.sock in the OS temp dir
	DataDir   string       `yaml:"data_dir"`            // loaded from data_dir or DEVAC_DATA_DIR; no command reads it (partitions live under each package's .devac/seed)
	Watch     WatchConfig  `yaml:"watch"`
	Metrics   MetricsConfig `yaml:"metrics,omitempty"`
}

// WatchConfig mirrors pkg/watch.Options for the YAML surface.
type WatchConfig struct {
	DebounceMs     int      `yaml:"debounce_ms"`
	Extensions     []string `yaml:"extensions,omitempty"`
	IgnorePatterns []string `yaml:"ignore_patterns,omitempty"`
}

// MetricsConfig configures the daemon's optional Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"` // empty disables /metrics
}

// DefaultConfig returns sensible defaults for a single local workspace.
func DefaultConfig() *Config {
	return &Config{
		Version: configVersion,
		Socket:  getEnv("DEVAC_SOCKET", ""),
		DataDir: getEnv("DEVAC_DATA_DIR", ""),
		Watch: WatchConfig{
			DebounceMs: 100,
		},
	}
}

// LoadConfig loads configuration from configPath, or discovers
// .devac/workspace.yaml by walking up from the working directory when
// configPath is empty. A missing file is not an error: DefaultConfig is
// returned instead, since devacd can run against a bare workspace with no
// prior `devac init`-style setup.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = os.Getenv("DEVAC_CONFIG_PATH")
	}
	if configPath == "" {
		found, err := findConfigFile()
		if err != nil {
			return DefaultConfig(), nil
		}
		configPath = found
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, errs.NewIOError("Could not read workspace config", err.Error(), configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errs.NewInputError("Invalid workspace config", fmt.Sprintf("%s is not valid YAML: %v", configPath, err),
			"fix the YAML syntax or delete the file to fall back to defaults")
	}
	if cfg.Version != "" && cfg.Version != configVersion {
		return nil, errs.NewSchemaIncompatible("Unsupported workspace config version",
			fmt.Sprintf("config version %q is not %q", cfg.Version, configVersion), "regenerate the config file", nil)
	}
	return cfg, nil
}

// findConfigFile walks upward from the working directory looking for
// .devac/workspace.yaml, the same discovery shape as the teacher's
// cie/project.yaml lookup.
func findConfigFile() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, defaultConfigDir, defaultConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
