// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"strings"
	"testing"

	"github.com/splitrun/splitrun/lib/testutil"
)

func TestLoadValidHandler(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "game.yaml", `
name: Example Co-op
exec: bin/game.exe
runtime: proton
steam_appid: 12345
goldberg:
  disable_networking: false
facepunch:
  spoof_identity: true
pause_between_starts: 1.5
`)

	h, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if h.Name != "Example Co-op" {
		t.Errorf("Name = %q", h.Name)
	}
	if !h.Windows() {
		t.Error("proton handler not reported as Windows")
	}
	if h.Goldberg == nil {
		t.Error("goldberg block present but settings nil")
	}
	if h.Photon != nil {
		t.Error("photon block absent but settings non-nil")
	}
	if h.Facepunch == nil || !h.Facepunch.SpoofIdentity {
		t.Error("facepunch spoof_identity not loaded")
	}
	if h.PauseBetweenStarts != 1.5 {
		t.Errorf("PauseBetweenStarts = %v", h.PauseBetweenStarts)
	}
}

func TestBackendActivationIsPresenceBased(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "game.yaml", `
name: Minimal
exec: game
game_root: /opt/games/minimal
goldberg: {}
`)

	h, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if h.Goldberg == nil {
		t.Error("empty goldberg block should still activate the backend")
	}
}

func TestValidateRejectsBadDescriptors(t *testing.T) {
	tests := []struct {
		name string
		h    Handler
		want string
	}{
		{
			name: "missing exec",
			h:    Handler{Name: "X", GameRoot: "/g"},
			want: "exec is required",
		},
		{
			name: "absolute exec",
			h:    Handler{Name: "X", Exec: "/usr/bin/game", GameRoot: "/g"},
			want: "relative",
		},
		{
			name: "no root or appid",
			h:    Handler{Name: "X", Exec: "game"},
			want: "steam_appid or game_root",
		},
		{
			name: "bad runtime",
			h:    Handler{Name: "X", Exec: "game", GameRoot: "/g", Runtime: "wine"},
			want: "unknown runtime",
		},
		{
			name: "patch path escape",
			h: Handler{Name: "X", Exec: "game", GameRoot: "/g",
				GamePatches: map[string]string{"../etc/passwd": ""}},
			want: "game-root-relative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.h.Validate()
			if err == nil {
				t.Fatal("Validate accepted a bad descriptor")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestDirName(t *testing.T) {
	h := Handler{Name: "Risk of Rain 2 (Beta!)"}
	if got := h.DirName(); got != "risk-of-rain-2--beta" {
		t.Errorf("DirName = %q", got)
	}
}
