// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

package wm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WindowInfo describes one compositor window.
type WindowInfo struct {
	// Handle is the compositor's opaque window identity (a Hyprland
	// address or a KWin internal id).
	Handle string
	// Class is the window class, e.g. "gamescope".
	Class string
	// X, Y are the window's current top-left position in compositor
	// coordinates.
	X, Y int
	// Width, Height are the window's current size in pixels.
	Width, Height int
	// Sequence orders windows by creation. Instances are spawned
	// serialized, so sorting by Sequence recovers the instance order.
	Sequence int64
}

// Monitor is one compositor output.
type Monitor struct {
	Name          string
	X, Y          int
	Width, Height int
}

// Manager is the compositor control surface the layout engine consumes.
// Implementations must be interchangeable: the engine never downcasts.
type Manager interface {
	// ListWindows returns all current windows.
	ListWindows() ([]WindowInfo, error)

	// MoveToFloating switches a window to floating placement so the
	// compositor's tiling logic stops fighting explicit geometry.
	MoveToFloating(w WindowInfo) error

	// SetSize resizes a window to an absolute pixel size.
	SetSize(w WindowInfo, width, height int) error

	// MoveByDelta moves a window relative to its current position.
	// Relative movement is the correction primitive: absolute placement
	// is not atomic with a resize on any supported compositor.
	MoveByDelta(w WindowInfo, dx, dy int) error

	// ListOutputs returns the connected monitors.
	ListOutputs() ([]Monitor, error)
}

// Detect selects a Manager from the session environment. Hyprland is
// identified by its instance signature, KWin by the KDE session
// variables. Detection happens once at session start; the choice is
// fixed for the session.
func Detect() (Manager, error) {
	if sig := os.Getenv("HYPRLAND_INSTANCE_SIGNATURE"); sig != "" {
		sock, err := hyprlandSocket(os.Getenv("XDG_RUNTIME_DIR"), sig)
		if err != nil {
			return nil, err
		}
		return NewHyprland(sock), nil
	}
	if os.Getenv("KDE_SESSION_VERSION") != "" || os.Getenv("KDE_FULL_SESSION") != "" {
		return NewKWin()
	}
	return nil, fmt.Errorf("no supported compositor detected")
}

func hyprlandSocket(runtimeDir, signature string) (string, error) {
	if runtimeDir == "" {
		return "", fmt.Errorf("hyprland session without XDG_RUNTIME_DIR")
	}
	sock := filepath.Join(runtimeDir, "hypr", signature, ".socket.sock")
	if _, err := os.Stat(sock); err != nil {
		return "", fmt.Errorf("hyprland control socket: %w", err)
	}
	return sock, nil
}

// MatchesClass reports whether a window belongs to the game session.
// Gamescope registers variants of its own name as the class, so the
// match is a case-insensitive prefix test.
func MatchesClass(w WindowInfo, class string) bool {
	return strings.HasPrefix(strings.ToLower(w.Class), strings.ToLower(class))
}
