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

// btnSouth is the first gamepad button code (BTN_SOUTH / BTN_A). A
// device advertising it in its key capability bitmap is a game
// controller; keyboards and mice never claim it.
const btnSouth = 0x130

// ScanDevices enumerates the host's evdev nodes from the input sysfs
// class directory and classifies each as gamepad or not. classDir is
// /sys/class/input in production; tests point it at a fabricated tree.
// The returned inventory is sorted by node path so instance assignment
// is stable across runs.
func ScanDevices(classDir string) ([]Device, error) {
	entries, err := os.ReadDir(classDir)
	if err != nil {
		return nil, fmt.Errorf("scan input devices: %w", err)
	}

	var devices []Device
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "event") {
			continue
		}
		sysDir := filepath.Join(classDir, name, "device")
		devices = append(devices, Device{
			Path:    filepath.Join("/dev/input", name),
			Uniq:    readSysfsLine(filepath.Join(sysDir, "uniq")),
			Gamepad: hasKeyCapability(filepath.Join(sysDir, "capabilities", "key"), btnSouth),
		})
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Path < devices[j].Path })
	return devices, nil
}

// Gamepads filters an inventory down to controller nodes.
func Gamepads(devices []Device) []Device {
	var pads []Device
	for _, d := range devices {
		if d.Gamepad {
			pads = append(pads, d)
		}
	}
	return pads
}

// hasKeyCapability reports whether bit code is set in a sysfs key
// capability bitmap. The file holds space-separated 64-bit hex words,
// most significant first, for example:
//
//	7fdb000000000000 0 0 0 0 0 0 0 120c03b 0 0 0
func hasKeyCapability(path string, code int) bool {
	raw := readSysfsLine(path)
	if raw == "" {
		return false
	}
	words := strings.Fields(raw)
	// Reverse so words[0] covers bits 0-63.
	for i, j := 0, len(words)-1; i < j; i, j = i+1, j-1 {
		words[i], words[j] = words[j], words[i]
	}
	word, bit := code/64, code%64
	if word >= len(words) {
		return false
	}
	value, err := strconv.ParseUint(words[word], 16, 64)
	if err != nil {
		return false
	}
	return value&(1<<bit) != 0
}

// readSysfsLine returns the trimmed content of a single-line sysfs
// file, or "" on any error.
func readSysfsLine(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
