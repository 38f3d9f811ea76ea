// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

package wm

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// hyprServer is a minimal control-socket stand-in: one request per
// connection, canned JSON for queries, "ok" for batches.
type hyprServer struct {
	t        *testing.T
	listener net.Listener

	mu       sync.Mutex
	requests []string
	batchErr string
}

func newHyprServer(t *testing.T) *hyprServer {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "hypr.sock")
	l, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &hyprServer{t: t, listener: l}
	t.Cleanup(func() { l.Close() })
	go s.serve()
	return s
}

func (s *hyprServer) addr() string { return s.listener.Addr().String() }

func (s *hyprServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *hyprServer) handle(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return
	}
	req := string(buf[:n])

	s.mu.Lock()
	s.requests = append(s.requests, req)
	batchErr := s.batchErr
	s.mu.Unlock()

	switch {
	case req == "j/clients":
		conn.Write([]byte(`[
  {"address": "0x55a1", "class": "gamescope", "at": [10, 20], "size": [640, 480], "pid": 4001},
  {"address": "0x55a2", "class": "kitty", "at": [0, 0], "size": [800, 600], "pid": 3000}
]`))
	case req == "j/monitors":
		conn.Write([]byte(`[
  {"name": "DP-1", "x": 0, "y": 0, "width": 1920, "height": 1080},
  {"name": "HDMI-A-1", "x": 1920, "y": 0, "width": 1280, "height": 720}
]`))
	case strings.HasPrefix(req, "[[BATCH]]"):
		if batchErr != "" {
			conn.Write([]byte(batchErr))
		} else {
			conn.Write([]byte("ok\nok\nok\nok\nok"))
		}
	default:
		conn.Write([]byte("unknown request"))
	}
}

func (s *hyprServer) lastRequest() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return ""
	}
	return s.requests[len(s.requests)-1]
}

func TestHyprlandListWindows(t *testing.T) {
	srv := newHyprServer(t)
	h := NewHyprland(srv.addr())

	windows, err := h.ListWindows()
	if err != nil {
		t.Fatalf("ListWindows: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("got %d windows, want 2", len(windows))
	}
	w := windows[0]
	if w.Handle != "0x55a1" || w.Class != "gamescope" {
		t.Errorf("window 0 = %+v", w)
	}
	if w.X != 10 || w.Y != 20 || w.Width != 640 || w.Height != 480 {
		t.Errorf("window 0 geometry = %+v", w)
	}
	if w.Sequence != 4001 {
		t.Errorf("window 0 sequence = %d, want pid 4001", w.Sequence)
	}
}

func TestHyprlandListOutputs(t *testing.T) {
	srv := newHyprServer(t)
	h := NewHyprland(srv.addr())

	monitors, err := h.ListOutputs()
	if err != nil {
		t.Fatalf("ListOutputs: %v", err)
	}
	if len(monitors) != 2 || monitors[1].Name != "HDMI-A-1" || monitors[1].X != 1920 {
		t.Errorf("monitors = %+v", monitors)
	}
}

func TestHyprlandMoveToFloatingBatches(t *testing.T) {
	srv := newHyprServer(t)
	h := NewHyprland(srv.addr())

	if err := h.MoveToFloating(WindowInfo{Handle: "0x55a1"}); err != nil {
		t.Fatalf("MoveToFloating: %v", err)
	}
	req := srv.lastRequest()
	if !strings.HasPrefix(req, "[[BATCH]]") {
		t.Errorf("not batched: %q", req)
	}
	for _, want := range []string{
		"dispatch setfloating address:0x55a1",
		"setprop address:0x55a1 forcenoborder 1 lock",
		"setprop address:0x55a1 forcenoanims 1 lock",
	} {
		if !strings.Contains(req, want) {
			t.Errorf("batch missing %q: %q", want, req)
		}
	}
}

func TestHyprlandGeometryCommands(t *testing.T) {
	srv := newHyprServer(t)
	h := NewHyprland(srv.addr())
	w := WindowInfo{Handle: "0x55a1"}

	if err := h.SetSize(w, 960, 1080); err != nil {
		t.Fatal(err)
	}
	if req := srv.lastRequest(); !strings.Contains(req, "resizewindowpixel exact 960 1080,address:0x55a1") {
		t.Errorf("resize request: %q", req)
	}

	if err := h.MoveByDelta(w, -35, 40); err != nil {
		t.Fatal(err)
	}
	if req := srv.lastRequest(); !strings.Contains(req, "movewindowpixel -35 40,address:0x55a1") {
		t.Errorf("move request: %q", req)
	}
}

func TestHyprlandBatchError(t *testing.T) {
	srv := newHyprServer(t)
	srv.batchErr = "Invalid dispatch"
	h := NewHyprland(srv.addr())

	err := h.MoveByDelta(WindowInfo{Handle: "0x1"}, 1, 1)
	if err == nil || !strings.Contains(err.Error(), "Invalid dispatch") {
		t.Fatalf("batch failure not surfaced: %v", err)
	}
}

func TestHyprlandSocketGone(t *testing.T) {
	h := NewHyprland(filepath.Join(t.TempDir(), "absent.sock"))
	if _, err := h.ListWindows(); err == nil {
		t.Fatal("dead socket not reported")
	}
}

func TestHyprlandSocketPath(t *testing.T) {
	runtime := t.TempDir()
	if _, err := hyprlandSocket(runtime, "sig123"); err == nil {
		t.Fatal("missing socket accepted")
	}
	sockDir := filepath.Join(runtime, "hypr", "sig123")
	newHyprServerAt(t, sockDir)
	sock, err := hyprlandSocket(runtime, "sig123")
	if err != nil {
		t.Fatalf("hyprlandSocket: %v", err)
	}
	if filepath.Base(sock) != ".socket.sock" {
		t.Errorf("socket path = %s", sock)
	}
}

func newHyprServerAt(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	l, err := net.Listen("unix", filepath.Join(dir, ".socket.sock"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
}
