// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

// Package handler loads and validates game handler descriptors.
//
// A handler is a YAML file describing how to launch one game split-screen:
// the executable, the runtime it needs, and the multiplayer-emulation
// backends to inject. Backend activation is presence-based: a backend is
// active exactly when its settings block appears in the YAML, so adding a
// `goldberg:` section (even an empty one) turns Goldberg injection on.
package handler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Runtime identifies how the game executable runs.
type Runtime string

const (
	// RuntimeNative is a native Linux executable.
	RuntimeNative Runtime = "native"
	// RuntimeProton is a Windows executable run through Proton/umu.
	RuntimeProton Runtime = "proton"
)

// Handler describes one game and its injection requirements.
type Handler struct {
	// Name is the display name of the game.
	Name string `yaml:"name"`

	// Exec is the executable path relative to the game root.
	Exec string `yaml:"exec"`

	// Args are extra arguments appended to the game command line.
	Args []string `yaml:"args,omitempty"`

	// Runtime selects native or Proton execution. Defaults to native.
	Runtime Runtime `yaml:"runtime,omitempty"`

	// SteamAppID is the Steam application id, used both to locate the
	// install through the Steam library and for emulator configuration.
	SteamAppID uint32 `yaml:"steam_appid,omitempty"`

	// GameRoot overrides Steam library resolution with an explicit
	// install path. Required when SteamAppID is zero.
	GameRoot string `yaml:"game_root,omitempty"`

	// Goldberg, Photon, and Facepunch are per-backend settings blocks.
	// A non-nil block activates that backend.
	Goldberg  *GoldbergSettings  `yaml:"goldberg,omitempty"`
	Photon    *PhotonSettings    `yaml:"photon,omitempty"`
	Facepunch *FacepunchSettings `yaml:"facepunch,omitempty"`

	// GamePatches maps game-root-relative file paths to replacement
	// content, applied as an extra read-only layer above the backends.
	GamePatches map[string]string `yaml:"game_patches,omitempty"`

	// PauseBetweenStarts is the delay in seconds between instance
	// spawns. Zero means the launcher default.
	PauseBetweenStarts float64 `yaml:"pause_between_starts,omitempty"`

	// path is the handler file's directory, for resolving the optional
	// sibling overlay/ directory of hand-placed mod files.
	path string
}

// GoldbergSettings configures the Steam-emulation backend.
type GoldbergSettings struct {
	// DisableNetworking generates a config that keeps the emulator
	// fully offline (no LAN discovery).
	DisableNetworking bool `yaml:"disable_networking,omitempty"`

	// NetworkingSockets additionally replaces GameNetworkingSockets.dll
	// where the game ships one.
	NetworkingSockets bool `yaml:"networking_sockets,omitempty"`

	// ExtraSettings are additional steam_settings files to generate,
	// filename to content. An empty value creates an empty flag file.
	ExtraSettings map[string]string `yaml:"extra_settings,omitempty"`
}

// PhotonSettings configures the BepInEx/LocalMultiplayer backend for
// Unity games using Photon networking.
type PhotonSettings struct {
	// ConfigPath is where the LocalMultiplayer mod reads its config,
	// relative to the instance's windata tree.
	ConfigPath string `yaml:"config_path"`

	// SharedFiles lists windata-relative paths every instance must see
	// as one file (the mod exchanges lobby state through them). Each is
	// symlinked to a session-shared copy.
	SharedFiles []string `yaml:"shared_files,omitempty"`

	// AppID and VoiceAppID are the Photon application ids written into
	// the mod config.
	AppID      string `yaml:"app_id,omitempty"`
	VoiceAppID string `yaml:"voice_app_id,omitempty"`
}

// FacepunchSettings configures the Facepunch.Steamworks identity-spoof
// backend.
type FacepunchSettings struct {
	SpoofIdentity bool `yaml:"spoof_identity,omitempty"`
	ForceValid    bool `yaml:"force_valid,omitempty"`
	PhotonBypass  bool `yaml:"photon_bypass,omitempty"`
}

// Load reads and validates a handler descriptor from path.
func Load(path string) (*Handler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read handler: %w", err)
	}

	var h Handler
	if err := yaml.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parse handler %s: %w", path, err)
	}
	h.path = filepath.Dir(path)

	if err := h.Validate(); err != nil {
		return nil, fmt.Errorf("handler %s: %w", path, err)
	}
	return &h, nil
}

// Validate checks the descriptor for internal consistency.
func (h *Handler) Validate() error {
	var problems []error

	if h.Name == "" {
		problems = append(problems, errors.New("name is required"))
	}
	if h.Exec == "" {
		problems = append(problems, errors.New("exec is required"))
	} else if filepath.IsAbs(h.Exec) {
		problems = append(problems, fmt.Errorf("exec must be relative to the game root, got %q", h.Exec))
	}
	switch h.Runtime {
	case "", RuntimeNative, RuntimeProton:
	default:
		problems = append(problems, fmt.Errorf("unknown runtime %q", h.Runtime))
	}
	if h.SteamAppID == 0 && h.GameRoot == "" {
		problems = append(problems, errors.New("either steam_appid or game_root is required"))
	}
	for rel := range h.GamePatches {
		if filepath.IsAbs(rel) || strings.Contains(rel, "..") {
			problems = append(problems, fmt.Errorf("game_patches path %q must be a clean game-root-relative path", rel))
		}
	}
	if h.PauseBetweenStarts < 0 {
		problems = append(problems, errors.New("pause_between_starts must not be negative"))
	}
	if h.Photon != nil && h.Photon.ConfigPath == "" {
		problems = append(problems, errors.New("photon.config_path is required when the photon backend is enabled"))
	}

	return errors.Join(problems...)
}

// Windows reports whether the game is a Windows executable.
func (h *Handler) Windows() bool {
	return h.Runtime == RuntimeProton || strings.HasSuffix(strings.ToLower(h.Exec), ".exe")
}

// DirName returns a filesystem-safe identifier for the handler, used for
// per-game save directories.
func (h *Handler) DirName() string {
	name := strings.ToLower(h.Name)
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, name)
	return strings.Trim(mapped, "-")
}

// OverlayDir returns the handler's optional sibling overlay directory of
// hand-placed files (mod plugins the user supplies), or "" when absent.
func (h *Handler) OverlayDir() string {
	if h.path == "" {
		return ""
	}
	dir := filepath.Join(h.path, "overlay")
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir
	}
	return ""
}
