// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Spec is a fully assembled spawn specification. The orchestrator
// executes it; nothing in it is re-derived at spawn time except the
// device accessibility re-check.
type Spec struct {
	// Argv is the complete command line, gamescope first.
	Argv []string
	// Env are additions to the parent environment, KEY=VALUE. They
	// affect gamescope itself; the game's environment is set via bwrap
	// --setenv inside Argv.
	Env []string
	// Dir is the working directory, the executable's directory in the
	// merged view.
	Dir string
}

// Builder assembles the Spec for one instance.
type Builder struct {
	// GamescopeBin and BwrapBin default to the bare command names.
	GamescopeBin string
	BwrapBin     string

	// MergedDir is the instance's merged game view.
	MergedDir string
	// ExecRel is the executable path relative to the game root.
	ExecRel string
	// Args are the handler's game arguments, after substitution.
	Args []string

	// Width and Height are the instance's window pixels, from the
	// layout preset region and target monitor.
	Width, Height int

	Windows    bool
	SteamAppID uint32

	// ProfileDir is the instance's profile directory. Native games get
	// HOME pointed at its home subtree; Windows games get windata bound
	// over the Wine prefix user directory.
	ProfileDir string
	// PrefixUserDir is the Wine prefix user directory to shadow with
	// the profile's windata (Windows games only).
	PrefixUserDir string

	// ProtonBin invokes the Windows runtime; empty for native games.
	ProtonBin string

	// ExtraEnv are handler-declared game environment variables.
	ExtraEnv map[string]string

	Devices DevicePolicy
}

// Build verifies device accessibility and produces the Spec. Call it
// right before spawning: masks reflect the device tree at call time.
func (b *Builder) Build() (*Spec, error) {
	execPath := filepath.Join(b.MergedDir, b.ExecRel)
	if _, err := os.Stat(execPath); err != nil {
		return nil, fmt.Errorf("executable not in merged view: %w", err)
	}
	if err := b.Devices.CheckAssigned(); err != nil {
		return nil, err
	}

	gamescope := b.GamescopeBin
	if gamescope == "" {
		gamescope = "gamescope"
	}
	bwrap := b.BwrapBin
	if bwrap == "" {
		bwrap = "bwrap"
	}

	argv := []string{
		gamescope,
		"-W", strconv.Itoa(b.Width),
		"-H", strconv.Itoa(b.Height),
		"--hide-cursor-delay", "1000",
		"--",
	}

	argv = append(argv,
		bwrap,
		"--die-with-parent",
		"--dev-bind", "/", "/",
		"--tmpfs", "/tmp",
		// gamescope's X11 socket lives under /tmp; without this bind
		// the tmpfs hides it and the game cannot reach the display.
		"--bind", "/tmp/.X11-unix", "/tmp/.X11-unix",
	)

	argv = append(argv, b.sdlEnvArgs()...)
	argv = append(argv, b.gameEnvArgs()...)

	for _, mask := range b.Devices.MaskPaths() {
		argv = append(argv, "--bind", "/dev/null", mask)
	}

	if b.Windows {
		if b.PrefixUserDir == "" {
			return nil, fmt.Errorf("windows game needs a prefix user directory")
		}
		argv = append(argv, "--bind", filepath.Join(b.ProfileDir, "windata"), b.PrefixUserDir)
	} else {
		argv = append(argv, "--setenv", "HOME", filepath.Join(b.ProfileDir, "home"))
	}

	if b.Windows {
		if b.ProtonBin == "" {
			return nil, fmt.Errorf("windows game needs a proton binary")
		}
		argv = append(argv, b.ProtonBin, "waitforexitandrun")
	}

	argv = append(argv, execPath)
	argv = append(argv, b.Args...)

	return &Spec{
		Argv: argv,
		Env:  b.gamescopeEnv(),
		Dir:  filepath.Dir(execPath),
	}, nil
}

// sdlEnvArgs pins SDL inside the container to evdev with exactly the
// assigned pads.
func (b *Builder) sdlEnvArgs() []string {
	args := []string{
		"--setenv", "SDL_JOYSTICK_HIDAPI", "0",
		"--setenv", "SDL_JOYSTICK_LINUX_EVDEV", "1",
		"--setenv", "SDL_JOYSTICK_LINUX_CLASSIC", "1",
		"--setenv", "SDL_GAMECONTROLLER_USE_BUTTON_LABELS", "1",
		"--setenv", "SDL_VIDEODRIVER", "x11",
	}
	if pads := b.Devices.AssignedGamepads(); len(pads) > 0 {
		args = append(args, "--setenv", "SDL_JOYSTICK_DEVICE", strings.Join(pads, ","))
	}
	return args
}

func (b *Builder) gameEnvArgs() []string {
	var args []string
	if !b.Windows && b.SteamAppID != 0 {
		id := strconv.FormatUint(uint64(b.SteamAppID), 10)
		args = append(args, "--setenv", "SteamAppId", id, "--setenv", "SteamGameId", id)
	}
	for _, k := range sortedEnvKeys(b.ExtraEnv) {
		args = append(args, "--setenv", k, b.ExtraEnv[k])
	}
	return args
}

// gamescopeEnv is the environment for gamescope itself. Its SDL must
// see no joysticks at all, or the compositor steals pad input meant for
// the game.
func (b *Builder) gamescopeEnv() []string {
	return []string{
		"ENABLE_GAMESCOPE_WSI=0",
		"SDL_JOYSTICK_DEVICE=/dev/null",
		"SDL_VIDEO_WAYLAND_SCALE=1",
	}
}

func sortedEnvKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SubstituteArgs expands the handler argument placeholders for one
// instance.
func SubstituteArgs(args []string, vars map[string]string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if v, ok := vars[a]; ok {
			out[i] = v
		} else {
			out[i] = a
		}
	}
	return out
}
