// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

package wm

import (
	"strings"
	"testing"

	"github.com/splitrun/splitrun/lib/testutil"
)

func TestBuiltinPresetsTileExactly(t *testing.T) {
	for _, preset := range builtinPresets {
		if err := preset.Validate(); err != nil {
			t.Errorf("builtin preset %s: %v", preset.ID, err)
		}
	}
}

func TestValidateRejectsOverlap(t *testing.T) {
	p := Preset{ID: "bad", Players: 2, Regions: []Region{
		{0, 0, 0.6, 1},
		{0.4, 0, 0.6, 1},
	}}
	err := p.Validate()
	if err == nil || !strings.Contains(err.Error(), "overlap") {
		t.Fatalf("overlapping regions accepted: %v", err)
	}
}

func TestValidateRejectsGap(t *testing.T) {
	p := Preset{ID: "bad", Players: 2, Regions: []Region{
		{0, 0, 0.4, 1},
		{0.5, 0, 0.5, 1},
	}}
	err := p.Validate()
	if err == nil || !strings.Contains(err.Error(), "cover") {
		t.Fatalf("gappy preset accepted: %v", err)
	}
}

func TestValidateRejectsOutOfBounds(t *testing.T) {
	p := Preset{ID: "bad", Players: 1, Regions: []Region{
		{0.5, 0, 1, 1},
	}}
	if err := p.Validate(); err == nil {
		t.Fatal("region past the monitor edge accepted")
	}
}

func TestValidateRejectsRegionCountMismatch(t *testing.T) {
	p := Preset{ID: "bad", Players: 3, Regions: []Region{{0, 0, 1, 1}}}
	if err := p.Validate(); err == nil {
		t.Fatal("region/player mismatch accepted")
	}
}

func TestDefaultForEachCount(t *testing.T) {
	p := NewPresets()
	want := map[int]string{1: "1p_full", 2: "2p_horizontal", 3: "3p_t_shape", 4: "4p_grid"}
	for count, id := range want {
		preset, err := p.DefaultFor(count)
		if err != nil {
			t.Fatalf("DefaultFor(%d): %v", count, err)
		}
		if preset.ID != id {
			t.Errorf("DefaultFor(%d) = %s, want %s", count, preset.ID, id)
		}
	}
	if _, err := p.DefaultFor(5); err == nil {
		t.Error("DefaultFor(5) succeeded")
	}
}

func TestGetUnknownPreset(t *testing.T) {
	if _, err := NewPresets().Get("5p_pentagon"); err == nil {
		t.Fatal("unknown preset id resolved")
	}
}

func TestLoadUserPresets(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "presets.jsonc", `[
  // tall main region on the left, two stacked on the right
  {
    "id": "3p_custom",
    "name": "Custom",
    "players": 3,
    "regions": [
      {"x": 0, "y": 0, "w": 0.6, "h": 1},
      {"x": 0.6, "y": 0, "w": 0.4, "h": 0.5},
      {"x": 0.6, "y": 0.5, "w": 0.4, "h": 0.5}
    ]
  }
]`)

	p := NewPresets()
	if err := p.LoadUserPresets(path); err != nil {
		t.Fatalf("LoadUserPresets: %v", err)
	}
	preset, err := p.Get("3p_custom")
	if err != nil {
		t.Fatal(err)
	}
	if preset.Regions[0].W != 0.6 {
		t.Errorf("region 0 width = %v, want 0.6", preset.Regions[0].W)
	}
}

func TestLoadUserPresetsRejectsBadTiling(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "presets.jsonc", `[
  {"id": "half", "players": 1, "regions": [{"x": 0, "y": 0, "w": 0.5, "h": 1}]}
]`)
	if err := NewPresets().LoadUserPresets(path); err == nil {
		t.Fatal("preset violating the tiling invariant registered")
	}
}

func TestLoadUserPresetsMissingFile(t *testing.T) {
	if err := NewPresets().LoadUserPresets(t.TempDir() + "/absent.jsonc"); err != nil {
		t.Fatalf("missing preset file reported as error: %v", err)
	}
}

func TestRegionPixels(t *testing.T) {
	mon := Monitor{Name: "DP-1", X: 0, Y: 0, Width: 1920, Height: 1080}
	p := NewPresets()
	preset, err := p.Get("2p_vertical")
	if err != nil {
		t.Fatal(err)
	}

	x, y, w, h := preset.Regions[0].Pixels(mon)
	if x != 0 || y != 0 || w != 960 || h != 1080 {
		t.Errorf("region 0 = (%d,%d,%d,%d), want (0,0,960,1080)", x, y, w, h)
	}
	x, y, w, h = preset.Regions[1].Pixels(mon)
	if x != 960 || y != 0 || w != 960 || h != 1080 {
		t.Errorf("region 1 = (%d,%d,%d,%d), want (960,0,960,1080)", x, y, w, h)
	}
}

func TestRegionPixelsMonitorOffset(t *testing.T) {
	mon := Monitor{Name: "DP-2", X: 1920, Y: 200, Width: 1280, Height: 720}
	x, y, w, h := (Region{0.5, 0.5, 0.5, 0.5}).Pixels(mon)
	if x != 1920+640 || y != 200+360 || w != 640 || h != 360 {
		t.Errorf("got (%d,%d,%d,%d)", x, y, w, h)
	}
}
