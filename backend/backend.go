// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend implements the multiplayer-emulation strategies. Each
// backend injects files into per-instance overlay layers: replacement
// Steam libraries (goldberg), a BepInEx mod loader with a local
// multiplayer mod (photon), or an identity-spoofing plugin (facepunch).
// Several backends may be active for one handler; their layers stack in
// priority order and must never write the same relative path.
package backend

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/splitrun/splitrun/handler"
)

// Instance identifies one player's game copy within a session.
type Instance struct {
	// Index is the zero-based spawn position.
	Index int
	// Profile is the profile name (guest names keep their dot prefix).
	Profile string
	// ProfileDir is the profile's directory on disk.
	ProfileDir string
	// SteamID is the spoofed Steam64 identity.
	SteamID uint64
	// ListenPort is the instance's emulator listen port.
	ListenPort uint16
}

// Session carries launch-wide facts shared by every backend.
type Session struct {
	Handler   *handler.Handler
	GameRoot  string
	Windows   bool
	Instances []Instance

	// Resources is the root of bundled backend resources (replacement
	// libraries, mod loader builds).
	Resources string
	// LayerRoot is where backends materialize their overlay layers.
	LayerRoot string
	// SharedDir holds session-shared files symlinked into instances.
	SharedDir string

	Log *slog.Logger
}

func (s *Session) log() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

// BroadcastPorts returns the listen ports of every instance except
// the one at index i, for LAN discovery config.
func (s *Session) BroadcastPorts(i int) []uint16 {
	var ports []uint16
	for j, inst := range s.Instances {
		if j != i {
			ports = append(ports, inst.ListenPort)
		}
	}
	return ports
}

// layerDir is the directory for one backend's layer for one instance.
func (s *Session) layerDir(backendName string, instanceIdx int) string {
	return filepath.Join(s.LayerRoot, fmt.Sprintf("%s-%d", backendName, instanceIdx))
}

// Backend is one multiplayer-emulation strategy.
type Backend interface {
	Name() string

	// RequiresOverlay reports whether the backend contributes a
	// filesystem layer.
	RequiresOverlay() bool

	// Priority orders layers: higher priority shadows lower in the
	// merged view.
	Priority() int

	// RequiredFiles lists paths whose absence must fail the launch
	// before any mutation.
	RequiredFiles(s *Session) []string

	// SetupAll performs the one-time session-wide preparation, invoked
	// once before any CreateOverlay call.
	SetupAll(s *Session) error

	// CreateOverlay materializes the backend's layer for one instance
	// and returns its directory. Idempotent: unchanged inputs leave an
	// existing layer byte-identical.
	CreateOverlay(s *Session, inst *Instance) (string, error)
}

// None is the direct-launch strategy.
type None struct{}

func (None) Name() string                          { return "none" }
func (None) RequiresOverlay() bool                 { return false }
func (None) Priority() int                         { return 0 }
func (None) RequiredFiles(*Session) []string       { return nil }
func (None) SetupAll(*Session) error               { return nil }
func (None) CreateOverlay(s *Session, inst *Instance) (string, error) {
	return "", nil
}

// Collect returns the backends the handler activates, sorted by
// priority descending so higher-priority layers come first.
func Collect(h *handler.Handler) []Backend {
	var backends []Backend
	if h.Goldberg != nil {
		backends = append(backends, &Goldberg{Settings: h.Goldberg})
	}
	if h.Photon != nil {
		backends = append(backends, &Photon{Settings: h.Photon})
	}
	if h.Facepunch != nil {
		backends = append(backends, &Facepunch{Settings: h.Facepunch})
	}
	if len(backends) == 0 {
		backends = append(backends, None{})
	}
	sort.SliceStable(backends, func(i, j int) bool {
		return backends[i].Priority() > backends[j].Priority()
	})
	return backends
}

// CheckCollisions verifies that no two backends' layers for the same
// instance contain the same relative path. A collision would make the
// merged view depend on layer order in a way the handler author never
// chose, so it fails setup.
func CheckCollisions(layers map[string]string) error {
	type owner struct{ backend, layer string }
	seen := make(map[string]owner)

	names := make([]string, 0, len(layers))
	for name := range layers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		layer := layers[name]
		err := filepath.Walk(layer, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || filepath.Base(path) == stampName {
				return nil
			}
			rel, err := filepath.Rel(layer, path)
			if err != nil {
				return err
			}
			if prev, ok := seen[rel]; ok && prev.backend != name {
				return fmt.Errorf("backends %s and %s both write %s", prev.backend, name, rel)
			}
			seen[rel] = owner{backend: name, layer: layer}
			return nil
		})
		if err != nil {
			return fmt.Errorf("layer collision check: %w", err)
		}
	}
	return nil
}

// copyFile copies src to dst, creating parent directories.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

// copyTree copies the directory src into dst recursively.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

// sortedKeys returns map keys sorted, for deterministic layer content.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinPorts(ports []uint16) string {
	var b strings.Builder
	for i, p := range ports {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "127.0.0.1:%d", p)
	}
	return b.String()
}
