// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"path/filepath"
	"testing"

	"github.com/splitrun/splitrun/lib/testutil"
)

// writeSysfsDevice fabricates one /sys/class/input/eventN entry.
func writeSysfsDevice(t *testing.T, classDir, node, keyCaps, uniq string) {
	t.Helper()
	testutil.WriteFile(t, classDir, filepath.Join(node, "device", "capabilities", "key"), keyCaps+"\n")
	if uniq != "" {
		testutil.WriteFile(t, classDir, filepath.Join(node, "device", "uniq"), uniq+"\n")
	}
}

func TestScanDevicesClassifiesGamepads(t *testing.T) {
	classDir := t.TempDir()
	// BTN_SOUTH is bit 304: word 4 (msb-first file), bit 48.
	writeSysfsDevice(t, classDir, "event3", "1000000000000 0 0 0 0", "e4:17:d8:aa:bb:cc")
	// A keyboard: KEY_SPACE lives in the low word.
	writeSysfsDevice(t, classDir, "event0", "200000000000000", "")
	// A mouse: BTN_LEFT (bit 272) is not a gamepad button.
	writeSysfsDevice(t, classDir, "event1", "10000 0 0 0 0", "")
	// Non-event entries (mice, js nodes) are skipped entirely.
	testutil.WriteFile(t, classDir, "js0/device/name", "pad")

	devices, err := ScanDevices(classDir)
	if err != nil {
		t.Fatalf("ScanDevices: %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("found %d devices, want 3: %+v", len(devices), devices)
	}
	// Sorted by path: event0, event1, event3.
	if devices[0].Path != "/dev/input/event0" || devices[0].Gamepad {
		t.Errorf("event0 = %+v, want non-gamepad", devices[0])
	}
	if devices[1].Path != "/dev/input/event1" || devices[1].Gamepad {
		t.Errorf("event1 = %+v, want non-gamepad", devices[1])
	}
	pad := devices[2]
	if pad.Path != "/dev/input/event3" || !pad.Gamepad || pad.Uniq != "e4:17:d8:aa:bb:cc" {
		t.Errorf("event3 = %+v, want gamepad with uniq", pad)
	}

	pads := Gamepads(devices)
	if len(pads) != 1 || pads[0].Path != "/dev/input/event3" {
		t.Errorf("Gamepads = %+v", pads)
	}
}

func TestScanDevicesMissingDir(t *testing.T) {
	if _, err := ScanDevices(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("expected error for missing class directory")
	}
}

func TestHasKeyCapability(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name string
		caps string
		code int
		want bool
	}{
		{"gamepad bit set", "1000000000000 0 0 0 0", btnSouth, true},
		{"bit absent", "0 0 0 0 0", btnSouth, false},
		{"short bitmap", "1", btnSouth, false},
		{"low bit", "8", 3, true},
		{"garbage", "zzz", 3, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := testutil.WriteFile(t, dir, tc.name, tc.caps)
			if got := hasKeyCapability(path, tc.code); got != tc.want {
				t.Errorf("hasKeyCapability(%q, %d) = %v, want %v", tc.caps, tc.code, got, tc.want)
			}
		})
	}
}
