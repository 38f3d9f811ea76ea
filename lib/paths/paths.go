// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

// Package paths resolves the on-disk directory layout for splitrun data.
//
// All mutable state (handlers, profiles, session tmp) lives under the XDG
// data home. Read-only runtime resources (emulator libraries, mod-loader
// builds) are looked up in the system share directory first so packaged
// installs work, falling back to the per-user data directory.
package paths

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const appDir = "splitrun"

// systemResourceDir is where distro packages install runtime resources.
const systemResourceDir = "/usr/share/splitrun"

// DataDir returns the root of splitrun's mutable data directory,
// creating it if it does not exist.
func DataDir() (string, error) {
	dir := filepath.Join(xdg.DataHome, appDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return dir, nil
}

// HandlerDir returns the directory holding game handler descriptors.
func HandlerDir() (string, error) {
	return dataSubdir("handlers")
}

// ProfileDir returns the directory holding per-player profiles.
func ProfileDir() (string, error) {
	return dataSubdir("profiles")
}

// SessionTmpDir returns the scratch directory for one launch session's
// overlay layers, mount points, and work directories.
func SessionTmpDir() (string, error) {
	return dataSubdir("tmp")
}

func dataSubdir(name string) (string, error) {
	root, err := DataDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s directory: %w", name, err)
	}
	return dir, nil
}

// ResourcesRoot returns the runtime resource root, holding one
// subdirectory per resource plus the bundles/ archive drop. A system
// install wins over the per-user directory so packaged resources are
// used as-is; otherwise the per-user root is created.
func ResourcesRoot() (string, error) {
	return resourcesRoot(systemResourceDir, filepath.Join(xdg.DataHome, appDir, "resources"))
}

func resourcesRoot(system, user string) (string, error) {
	if info, err := os.Stat(system); err == nil && info.IsDir() {
		return system, nil
	}
	if err := os.MkdirAll(user, 0o755); err != nil {
		return "", fmt.Errorf("create resource directory: %w", err)
	}
	return user, nil
}
