// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

// Package platform resolves a game's install root independent of any
// multiplayer strategy. The orchestrator treats the result as opaque.
//
// Two resolvers exist: Steam (walks libraryfolders.vdf and the app
// manifest to find the install directory) and Manual (an explicit path
// from the handler).
package platform

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/andygrunwald/vdf"
)

// Platform locates a game installation.
type Platform interface {
	// GameRoot returns the absolute path of the game's install root.
	GameRoot() (string, error)
}

// Manual is a Platform backed by an explicit install path.
type Manual struct {
	Path string
}

// GameRoot validates and returns the configured path.
func (m Manual) GameRoot() (string, error) {
	info, err := os.Stat(m.Path)
	if err != nil {
		return "", fmt.Errorf("game root %s: %w", m.Path, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("game root %s is not a directory", m.Path)
	}
	return m.Path, nil
}

// Steam resolves an install root through the Steam library.
type Steam struct {
	// Dir is the Steam root directory (containing steamapps/).
	Dir string
	// AppID is the Steam application id to locate.
	AppID uint32
}

// GameRoot walks every Steam library folder looking for the app's
// manifest, then joins the manifest's installdir under that library's
// common directory.
func (s Steam) GameRoot() (string, error) {
	libraries, err := s.libraryPaths()
	if err != nil {
		return "", err
	}

	for _, library := range libraries {
		manifest := filepath.Join(library, "steamapps", fmt.Sprintf("appmanifest_%d.acf", s.AppID))
		installDir, err := parseInstallDir(manifest)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		root := filepath.Join(library, "steamapps", "common", installDir)
		if info, err := os.Stat(root); err == nil && info.IsDir() {
			return root, nil
		}
		return "", fmt.Errorf("app %d manifest found in %s but install dir %s is missing", s.AppID, library, root)
	}
	return "", fmt.Errorf("app %d not found in any Steam library under %s", s.AppID, s.Dir)
}

// libraryPaths lists every Steam library root, always including the
// Steam directory itself.
func (s Steam) libraryPaths() ([]string, error) {
	paths := []string{s.Dir}

	f, err := os.Open(filepath.Join(s.Dir, "steamapps", "libraryfolders.vdf"))
	if os.IsNotExist(err) {
		return paths, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open libraryfolders.vdf: %w", err)
	}
	defer f.Close()

	parsed, err := vdf.NewParser(f).Parse()
	if err != nil {
		return nil, fmt.Errorf("parse libraryfolders.vdf: %w", err)
	}

	folders, ok := parsed["libraryfolders"].(map[string]any)
	if !ok {
		// Older Steam writes a capitalized root key.
		folders, ok = parsed["LibraryFolders"].(map[string]any)
		if !ok {
			return paths, nil
		}
	}

	seen := map[string]bool{s.Dir: true}
	for _, v := range folders {
		entry, ok := v.(map[string]any)
		if !ok {
			continue
		}
		p, ok := entry["path"].(string)
		if !ok || seen[p] {
			continue
		}
		seen[p] = true
		paths = append(paths, p)
	}
	return paths, nil
}

// parseInstallDir extracts AppState.installdir from an appmanifest acf.
func parseInstallDir(manifestPath string) (string, error) {
	f, err := os.Open(manifestPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	parsed, err := vdf.NewParser(f).Parse()
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", manifestPath, err)
	}

	state, ok := parsed["AppState"].(map[string]any)
	if !ok {
		return "", fmt.Errorf("%s: no AppState block", manifestPath)
	}
	installDir, ok := state["installdir"].(string)
	if !ok || installDir == "" {
		return "", fmt.Errorf("%s: no installdir", manifestPath)
	}
	return installDir, nil
}

// DetectSteamDir probes the usual Steam install locations under home.
func DetectSteamDir(home string) (string, error) {
	candidates := []string{
		filepath.Join(home, ".local/share/Steam"),
		filepath.Join(home, ".steam/steam"),
		filepath.Join(home, ".var/app/com.valvesoftware.Steam/.local/share/Steam"),
	}
	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
	}
	return "", fmt.Errorf("no Steam installation found under %s", home)
}
