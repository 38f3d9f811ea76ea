// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds small helpers shared across package tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates a file (and any parent directories) under dir with
// the given relative path and content, failing the test on error.
func WriteFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
	return path
}

// ReadFile reads a file, failing the test on error.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}
