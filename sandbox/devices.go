// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Device is one input device node on the host.
type Device struct {
	// Path is the evdev node, e.g. /dev/input/event7.
	Path string
	// Uniq is the HID unique id (Bluetooth MAC for wireless pads), or
	// empty.
	Uniq string
	// Gamepad reports whether the node is a game controller.
	Gamepad bool
}

// DevicePolicy decides which input nodes an instance sees. All gamepad
// nodes not assigned to the instance are masked; assigned nodes must be
// accessible or the spawn is aborted.
type DevicePolicy struct {
	// All is the host's input device inventory.
	All []Device
	// Assigned are the evdev paths this instance may use.
	Assigned []string

	// InputDir, HidrawClassDir, and DevDir exist so tests can point the
	// policy at a fabricated tree.
	InputDir       string
	HidrawClassDir string
	DevDir         string
}

func (p *DevicePolicy) inputDir() string {
	if p.InputDir == "" {
		return "/dev/input"
	}
	return p.InputDir
}

func (p *DevicePolicy) hidrawClassDir() string {
	if p.HidrawClassDir == "" {
		return "/sys/class/hidraw"
	}
	return p.HidrawClassDir
}

func (p *DevicePolicy) devDir() string {
	if p.DevDir == "" {
		return "/dev"
	}
	return p.DevDir
}

func (p *DevicePolicy) isAssigned(path string) bool {
	for _, a := range p.Assigned {
		if a == path {
			return true
		}
	}
	return false
}

// AssignedGamepads returns the assigned evdev paths that are gamepads,
// for SDL device pinning.
func (p *DevicePolicy) AssignedGamepads() []string {
	var paths []string
	for _, d := range p.All {
		if d.Gamepad && p.isAssigned(d.Path) {
			paths = append(paths, d.Path)
		}
	}
	return paths
}

// CheckAssigned verifies every assigned device node still exists and is
// readable. Called immediately before spawn: controllers disconnect
// between setup and launch, and a game silently starting without its
// pad is worse than a failed launch.
func (p *DevicePolicy) CheckAssigned() error {
	for _, path := range p.Assigned {
		if err := unix.Access(path, unix.R_OK); err != nil {
			return fmt.Errorf("assigned device %s not accessible: %w", path, err)
		}
	}
	return nil
}

// MaskPaths computes every device node to bind /dev/null over: all
// legacy js nodes, unassigned gamepad evdev nodes, and hidraw nodes of
// unassigned gamepads.
func (p *DevicePolicy) MaskPaths() []string {
	var masks []string

	// Legacy joystick nodes are always masked so SDL uses evdev, where
	// assignment is enforced.
	if entries, err := os.ReadDir(p.inputDir()); err == nil {
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), "js") {
				masks = append(masks, filepath.Join(p.inputDir(), e.Name()))
			}
		}
	}

	for _, d := range p.All {
		if d.Gamepad && !p.isAssigned(d.Path) {
			masks = append(masks, d.Path)
		}
	}

	masks = append(masks, p.unassignedHidraw()...)
	return masks
}

// unassignedHidraw maps hidraw nodes back to gamepads and returns those
// whose gamepad is not assigned. Bluetooth pads are matched by HID_UNIQ
// from the uevent; USB pads by the input/event* siblings under the
// device directory.
func (p *DevicePolicy) unassignedHidraw() []string {
	entries, err := os.ReadDir(p.hidrawClassDir())
	if err != nil {
		return nil
	}

	byUniq := map[string]bool{}  // uniq -> assigned
	byEvdev := map[string]bool{} // evdev path -> assigned
	for _, d := range p.All {
		if !d.Gamepad {
			continue
		}
		assigned := p.isAssigned(d.Path)
		byEvdev[d.Path] = assigned
		if d.Uniq != "" {
			byUniq[d.Uniq] = assigned
		}
	}

	var masks []string
	for _, e := range entries {
		devDir := filepath.Join(p.hidrawClassDir(), e.Name(), "device")
		assigned, found := p.matchHidraw(devDir, byUniq, byEvdev)
		if found && !assigned {
			masks = append(masks, filepath.Join(p.devDir(), e.Name()))
		}
	}
	return masks
}

func (p *DevicePolicy) matchHidraw(devDir string, byUniq, byEvdev map[string]bool) (assigned, found bool) {
	if uevent, err := os.ReadFile(filepath.Join(devDir, "uevent")); err == nil {
		for _, line := range strings.Split(string(uevent), "\n") {
			if uniq, ok := strings.CutPrefix(line, "HID_UNIQ="); ok {
				if uniq != "" {
					if a, ok := byUniq[uniq]; ok {
						return a, true
					}
				}
				break
			}
		}
	}

	entries, err := os.ReadDir(devDir)
	if err != nil {
		return false, false
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "input") {
			continue
		}
		inputs, err := os.ReadDir(filepath.Join(devDir, e.Name()))
		if err != nil {
			continue
		}
		for _, in := range inputs {
			if !strings.HasPrefix(in.Name(), "event") {
				continue
			}
			evdev := filepath.Join(p.inputDir(), in.Name())
			if a, ok := byEvdev[evdev]; ok {
				return a, true
			}
		}
	}
	return false, false
}
