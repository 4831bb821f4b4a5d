// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "view.yaml")
	data := []byte(`homeserver: https://matrix.example.com
user: "@alice:example.com"
state_file: /tmp/view.state
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	config, err := loadConfig(path, true)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if config.Homeserver != "https://matrix.example.com" {
		t.Errorf("unexpected homeserver: %q", config.Homeserver)
	}
	if config.User != "@alice:example.com" {
		t.Errorf("unexpected user: %q", config.User)
	}
	if config.StateFile != "/tmp/view.state" {
		t.Errorf("unexpected state file: %q", config.StateFile)
	}
}

func TestLoadConfigMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	// The default location may legitimately not exist.
	if _, err := loadConfig(path, false); err != nil {
		t.Errorf("implicit missing config should be empty, got: %v", err)
	}

	// An explicitly-given path must.
	if _, err := loadConfig(path, true); err == nil {
		t.Error("explicit missing config should fail")
	}
}

func TestMergeFlags(t *testing.T) {
	config := Config{
		Homeserver: "https://file.example.com",
		User:       "@file:example.com",
		StateFile:  "/tmp/file.state",
	}
	mergeFlags(&config, Config{User: "@flag:example.com"})

	if config.User != "@flag:example.com" {
		t.Errorf("flag should override file value, got %q", config.User)
	}
	if config.Homeserver != "https://file.example.com" {
		t.Errorf("unset flag should keep file value, got %q", config.Homeserver)
	}
}

func TestLoadFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filter.jsonc")
	data := []byte(`{
	// Trim initial sync payloads.
	"room": {
		"timeline": {"limit": 20},
	},
}`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	filter, err := loadFilter(path)
	if err != nil {
		t.Fatalf("loadFilter failed: %v", err)
	}
	if filter == "" || filter[0] != '{' {
		t.Errorf("expected a JSON object, got: %q", filter)
	}
}

func TestLoadFilterRejectsNonObject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filter.jsonc")
	if err := os.WriteFile(path, []byte(`[1, 2]`), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := loadFilter(path); err == nil {
		t.Error("array filter should be rejected")
	}
}
