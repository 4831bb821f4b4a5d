// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Config holds the viewer's settings. Every field has a matching
// command-line flag; flags override file values.
type Config struct {
	// Homeserver is the base URL of the Matrix homeserver. When empty
	// the server is discovered from the user ID's server name via
	// .well-known.
	Homeserver string `yaml:"homeserver"`

	// User is the fully-qualified Matrix user ID to log in as.
	User string `yaml:"user"`

	// PasswordFile is a path to a file holding the account password,
	// or "-" to read it from stdin. When empty the password is
	// prompted for on the terminal.
	PasswordFile string `yaml:"password_file"`

	// FilterFile is a path to a sync filter definition in JSON (with
	// optional comments). The filter is sent inline on every sync
	// request.
	FilterFile string `yaml:"filter_file"`

	// StateFile is where the sync state snapshot is persisted between
	// runs. Empty disables persistence and every start pays for a
	// full initial sync.
	StateFile string `yaml:"state_file"`

	// LogOutput is a path to write JSON log records to. Background
	// logging cannot go to stderr while the alternate screen is
	// active.
	LogOutput string `yaml:"log_output"`
}

// loadConfig reads a YAML config file. A missing file is not an
// error when the path is the default location; explicit paths must
// exist.
func loadConfig(path string, explicit bool) (Config, error) {
	var config Config
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return config, nil
		}
		return config, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return config, nil
}

// defaultConfigPath is the config location used when --config is not
// given.
func defaultConfigPath() string {
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return base + "/weave/view.yaml"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "weave-view.yaml"
	}
	return home + "/.config/weave/view.yaml"
}

// loadFilter reads a sync filter file, strips JSONC comments and
// trailing commas, and validates that the result is a JSON object.
// The returned string is sent inline as the sync filter parameter.
func loadFilter(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading filter %s: %w", path, err)
	}
	stripped := jsonc.ToJSON(data)
	trimmed := strings.TrimSpace(string(stripped))
	if !json.Valid([]byte(trimmed)) || !strings.HasPrefix(trimmed, "{") {
		return "", fmt.Errorf("filter %s: not a JSON object", path)
	}
	return trimmed, nil
}
