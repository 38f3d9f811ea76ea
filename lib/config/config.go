// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for splitrun.
//
// Configuration is loaded from a single YAML file specified by the
// SPLITRUN_CONFIG environment variable or the --config flag; when
// neither is set, built-in defaults apply. There is no automatic
// discovery chain: one file, deterministic result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the launcher configuration.
type Config struct {
	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Binaries configures external executables.
	Binaries BinariesConfig `yaml:"binaries"`

	// Launch configures session behavior.
	Launch LaunchConfig `yaml:"launch"`

	// Layout configures window placement.
	Layout LayoutConfig `yaml:"layout"`
}

// PathsConfig configures directory locations. Empty fields fall back to
// XDG-derived defaults at load time.
type PathsConfig struct {
	// Data is the base directory for splitrun data (profiles, handlers,
	// resources, session scratch).
	Data string `yaml:"data"`

	// Resources overrides the backend resource directory (goldberg and
	// bepinex bundles).
	Resources string `yaml:"resources"`
}

// BinariesConfig configures the external executables splitrun drives.
type BinariesConfig struct {
	// Gamescope is the nested compositor binary. Default: "gamescope"
	// resolved through PATH.
	Gamescope string `yaml:"gamescope"`

	// Bwrap is the sandbox binary. Default: "bwrap".
	Bwrap string `yaml:"bwrap"`

	// FuseOverlayfs mounts the per-instance overlay. Default:
	// "fuse-overlayfs".
	FuseOverlayfs string `yaml:"fuse_overlayfs"`

	// Proton is the Windows runtime entry point. No default: a handler
	// with a Windows executable fails validation without it.
	Proton string `yaml:"proton"`
}

// LaunchConfig configures session behavior.
type LaunchConfig struct {
	// PauseBetweenStarts is the default delay in seconds between
	// instance spawns when the handler does not set one. Staggered
	// spawning keeps window creation order unambiguous.
	PauseBetweenStarts float64 `yaml:"pause_between_starts"`

	// Width and Height size each instance's gamescope window when no
	// layout region dictates them. Zero means derive from the preset
	// region and monitor.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// LayoutConfig configures window placement.
type LayoutConfig struct {
	// Monitor names the output to tile onto. Empty means the
	// compositor's first output.
	Monitor string `yaml:"monitor"`

	// Presets selects the layout preset per player count. Missing
	// entries use the built-in defaults.
	Presets map[int]string `yaml:"presets"`

	// UserPresets is the path to an optional presets.jsonc file of
	// user-defined layouts.
	UserPresets string `yaml:"user_presets"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Binaries: BinariesConfig{
			Gamescope:     "gamescope",
			Bwrap:         "bwrap",
			FuseOverlayfs: "fuse-overlayfs",
		},
		Launch: LaunchConfig{
			PauseBetweenStarts: 2,
		},
	}
}

// Load reads the config from SPLITRUN_CONFIG, or returns defaults when
// the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv("SPLITRUN_CONFIG")
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads the config from an explicit path.
func LoadFile(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	c.expandVariables()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

var varPattern = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)

// expandVariables substitutes ${HOME}-style references in path fields
// from the environment.
func (c *Config) expandVariables() {
	expand := func(s string) string {
		return varPattern.ReplaceAllStringFunc(s, func(m string) string {
			return os.Getenv(m[2 : len(m)-1])
		})
	}
	c.Paths.Data = expand(c.Paths.Data)
	c.Paths.Resources = expand(c.Paths.Resources)
	c.Binaries.Proton = expand(c.Binaries.Proton)
	c.Layout.UserPresets = expand(c.Layout.UserPresets)
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	var problems []error
	if c.Launch.PauseBetweenStarts < 0 {
		problems = append(problems, errors.New("launch.pause_between_starts must not be negative"))
	}
	if c.Launch.Width < 0 || c.Launch.Height < 0 {
		problems = append(problems, errors.New("launch.width and launch.height must not be negative"))
	}
	for count := range c.Layout.Presets {
		if count < 1 || count > 4 {
			problems = append(problems, fmt.Errorf("layout.presets key %d out of the 1-4 player range", count))
		}
	}
	for _, p := range []string{c.Paths.Data, c.Paths.Resources} {
		if p != "" && !filepath.IsAbs(p) {
			problems = append(problems, fmt.Errorf("path %q must be absolute", p))
		}
	}
	return errors.Join(problems...)
}

// BinaryPath resolves a configured binary: absolute paths are verified
// to exist, bare names are looked up through PATH.
func BinaryPath(name string) (string, error) {
	if name == "" {
		return "", errors.New("binary not configured")
	}
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("configured binary: %w", err)
		}
		return name, nil
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("binary %q not in PATH: %w", name, err)
	}
	return path, nil
}
