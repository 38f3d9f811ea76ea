// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

package wm

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
)

// Hyprland drives the compositor over its hyprctl control socket. Each
// request opens a fresh connection, writes one command, and reads the
// response to EOF; mutating commands are batched with the [[BATCH]]
// prefix so a float-plus-style change lands in one round trip.
type Hyprland struct {
	socket string
	dial   func(string) (net.Conn, error)
}

// NewHyprland returns a manager speaking to the control socket at the
// given path.
func NewHyprland(socket string) *Hyprland {
	return &Hyprland{
		socket: socket,
		dial:   func(path string) (net.Conn, error) { return net.Dial("unix", path) },
	}
}

func (h *Hyprland) request(command string) (string, error) {
	conn, err := h.dial(h.socket)
	if err != nil {
		return "", fmt.Errorf("hyprland socket: %w", err)
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, command); err != nil {
		return "", fmt.Errorf("hyprland write: %w", err)
	}
	resp, err := io.ReadAll(conn)
	if err != nil {
		return "", fmt.Errorf("hyprland read: %w", err)
	}
	return string(resp), nil
}

func (h *Hyprland) batch(commands []string) error {
	resp, err := h.request("[[BATCH]] " + strings.Join(commands, " ; "))
	if err != nil {
		return err
	}
	for _, line := range strings.Split(resp, "\n") {
		if line != "" && line != "ok" {
			return fmt.Errorf("hyprland batch: %s", line)
		}
	}
	return nil
}

// hyprClient is the subset of Hyprland's j/clients schema we consume.
type hyprClient struct {
	Address string `json:"address"`
	Class   string `json:"class"`
	At      [2]int `json:"at"`
	Size    [2]int `json:"size"`
	PID     int64  `json:"pid"`
}

type hyprMonitor struct {
	Name   string `json:"name"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func (h *Hyprland) ListWindows() ([]WindowInfo, error) {
	resp, err := h.request("j/clients")
	if err != nil {
		return nil, err
	}
	var clients []hyprClient
	if err := json.Unmarshal([]byte(resp), &clients); err != nil {
		return nil, fmt.Errorf("parse clients: %w", err)
	}
	windows := make([]WindowInfo, 0, len(clients))
	for _, c := range clients {
		windows = append(windows, WindowInfo{
			Handle: c.Address,
			Class:  c.Class,
			X:      c.At[0],
			Y:      c.At[1],
			Width:  c.Size[0],
			Height: c.Size[1],
			// Sequence carries the client PID for exact matching;
			// serialized spawns keep it monotone in creation order
			// for the fallback.
			Sequence: c.PID,
		})
	}
	return windows, nil
}

// MoveToFloating floats the window and strips decoration and effects.
// Borders, shadows, and animations would offset the reported geometry
// from the requested one and defeat the drift check.
func (h *Hyprland) MoveToFloating(w WindowInfo) error {
	addr := "address:" + w.Handle
	return h.batch([]string{
		"dispatch setfloating " + addr,
		fmt.Sprintf("setprop %s forcenoborder 1 lock", addr),
		fmt.Sprintf("setprop %s forcenoshadow 1 lock", addr),
		fmt.Sprintf("setprop %s forcenoanims 1 lock", addr),
		fmt.Sprintf("setprop %s forceopaque 1 lock", addr),
	})
}

func (h *Hyprland) SetSize(w WindowInfo, width, height int) error {
	return h.batch([]string{
		fmt.Sprintf("dispatch resizewindowpixel exact %d %d,address:%s", width, height, w.Handle),
	})
}

func (h *Hyprland) MoveByDelta(w WindowInfo, dx, dy int) error {
	return h.batch([]string{
		fmt.Sprintf("dispatch movewindowpixel %d %d,address:%s", dx, dy, w.Handle),
	})
}

func (h *Hyprland) ListOutputs() ([]Monitor, error) {
	resp, err := h.request("j/monitors")
	if err != nil {
		return nil, err
	}
	var monitors []hyprMonitor
	if err := json.Unmarshal([]byte(resp), &monitors); err != nil {
		return nil, fmt.Errorf("parse monitors: %w", err)
	}
	out := make([]Monitor, 0, len(monitors))
	for _, m := range monitors {
		out = append(out, Monitor{Name: m.Name, X: m.X, Y: m.Y, Width: m.Width, Height: m.Height})
	}
	return out, nil
}
