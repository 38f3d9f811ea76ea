// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

// Package wm positions game windows on the host compositor.
//
// Each instance runs inside its own nested gamescope window; once all
// instances have spawned, the layout engine discovers those windows,
// matches them to instances by gamescope PID with a creation-order
// fallback, and tiles them according to a layout preset. Two compositor transports exist: a Unix-socket
// implementation speaking Hyprland's IPC protocol and a D-Bus script
// injection implementation for KWin. Both hide behind the Manager
// interface; Detect picks one from the session environment.
//
// Compositors apply geometry asynchronously, so the engine never
// assumes a resize or move landed: it re-reads the window position
// after every change and issues a relative correction when the drift
// exceeds tolerance.
package wm
