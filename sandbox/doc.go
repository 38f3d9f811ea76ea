// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox builds the per-instance process specification: a
// bubblewrap container giving the game its merged filesystem view, an
// isolated HOME, and exactly the input devices assigned to it, nested
// inside a gamescope compositor window sized for the instance's layout
// region.
//
// Device isolation works by binding /dev/null over every input node the
// instance must not see: all legacy joystick nodes (forcing SDL onto
// evdev), unassigned gamepad evdev nodes, and the hidraw nodes backing
// unassigned gamepads. Unmasked hidraw access would let a game grab
// another player's controller through HIDAPI even with evdev masked.
package sandbox
