// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

package wm

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/tidwall/jsonc"
)

// Region is a fractional rectangle in [0,1]² of the target monitor.
type Region struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Preset assigns one region per player index. Regions must tile the
// monitor exactly: no gaps, no overlap.
type Preset struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Players int      `json:"players"`
	Regions []Region `json:"regions"`
}

// tileTolerance absorbs float rounding in the tiling check.
const tileTolerance = 1e-6

var builtinPresets = []Preset{
	{ID: "1p_full", Name: "Full Screen", Players: 1, Regions: []Region{
		{0, 0, 1, 1},
	}},
	{ID: "2p_horizontal", Name: "Top / Bottom", Players: 2, Regions: []Region{
		{0, 0, 1, 0.5},
		{0, 0.5, 1, 0.5},
	}},
	{ID: "2p_vertical", Name: "Side by Side", Players: 2, Regions: []Region{
		{0, 0, 0.5, 1},
		{0.5, 0, 0.5, 1},
	}},
	{ID: "3p_t_shape", Name: "T-Shape", Players: 3, Regions: []Region{
		{0, 0, 1, 0.5},
		{0, 0.5, 0.5, 0.5},
		{0.5, 0.5, 0.5, 0.5},
	}},
	{ID: "3p_inverted_t", Name: "Inverted T", Players: 3, Regions: []Region{
		{0, 0, 0.5, 0.5},
		{0.5, 0, 0.5, 0.5},
		{0, 0.5, 1, 0.5},
	}},
	{ID: "3p_left_main", Name: "Left Main", Players: 3, Regions: []Region{
		{0, 0, 0.5, 1},
		{0.5, 0, 0.5, 0.5},
		{0.5, 0.5, 0.5, 0.5},
	}},
	{ID: "3p_right_main", Name: "Right Main", Players: 3, Regions: []Region{
		{0, 0, 0.5, 0.5},
		{0, 0.5, 0.5, 0.5},
		{0.5, 0, 0.5, 1},
	}},
	{ID: "4p_grid", Name: "Grid", Players: 4, Regions: []Region{
		{0, 0, 0.5, 0.5},
		{0.5, 0, 0.5, 0.5},
		{0, 0.5, 0.5, 0.5},
		{0.5, 0.5, 0.5, 0.5},
	}},
	{ID: "4p_rows", Name: "Rows", Players: 4, Regions: []Region{
		{0, 0, 0.5, 0.5},
		{0.5, 0, 0.5, 0.5},
		{0, 0.5, 0.5, 0.5},
		{0.5, 0.5, 0.5, 0.5},
	}},
	{ID: "4p_columns", Name: "Columns", Players: 4, Regions: []Region{
		{0, 0, 0.5, 0.5},
		{0, 0.5, 0.5, 0.5},
		{0.5, 0, 0.5, 0.5},
		{0.5, 0.5, 0.5, 0.5},
	}},
	{ID: "4p_main_plus_3", Name: "Main + 3", Players: 4, Regions: []Region{
		{0, 0, 0.5, 1},
		{0.5, 0, 0.5, 1.0 / 3},
		{0.5, 1.0 / 3, 0.5, 1.0 / 3},
		{0.5, 2.0 / 3, 0.5, 1.0 / 3},
	}},
}

// Presets holds built-in and user-registered layout presets.
type Presets struct {
	byID map[string]Preset
}

// NewPresets returns the registry with the built-in presets loaded.
func NewPresets() *Presets {
	p := &Presets{byID: make(map[string]Preset, len(builtinPresets))}
	for _, preset := range builtinPresets {
		p.byID[preset.ID] = preset
	}
	return p
}

// Get looks up a preset by id.
func (p *Presets) Get(id string) (Preset, error) {
	preset, ok := p.byID[id]
	if !ok {
		return Preset{}, fmt.Errorf("unknown layout preset %q", id)
	}
	return preset, nil
}

// ForPlayers returns all presets for a player count, sorted by id.
func (p *Presets) ForPlayers(count int) []Preset {
	var out []Preset
	for _, preset := range p.byID {
		if preset.Players == count {
			out = append(out, preset)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DefaultFor picks the default preset for a player count.
func (p *Presets) DefaultFor(count int) (Preset, error) {
	switch count {
	case 1:
		return p.Get("1p_full")
	case 2:
		return p.Get("2p_horizontal")
	case 3:
		return p.Get("3p_t_shape")
	case 4:
		return p.Get("4p_grid")
	}
	return Preset{}, fmt.Errorf("no layout preset for %d players", count)
}

// Register validates a preset and adds it, replacing any existing
// preset with the same id.
func (p *Presets) Register(preset Preset) error {
	if err := preset.Validate(); err != nil {
		return fmt.Errorf("preset %s: %w", preset.ID, err)
	}
	p.byID[preset.ID] = preset
	return nil
}

// LoadUserPresets reads a JSONC file of preset definitions and
// registers each after validation. A missing file is not an error.
func (p *Presets) LoadUserPresets(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var presets []Preset
	if err := json.Unmarshal(jsonc.ToJSON(data), &presets); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for _, preset := range presets {
		if preset.ID == "" {
			return fmt.Errorf("%s: preset without id", path)
		}
		if err := p.Register(preset); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

// Validate checks the exact-tiling invariant: every region lies inside
// the unit square, no two regions overlap, and the areas sum to 1.
// Together those imply the regions cover the monitor with no gaps.
func (pr Preset) Validate() error {
	if pr.Players < 1 || pr.Players > 4 {
		return fmt.Errorf("player count %d out of range", pr.Players)
	}
	if len(pr.Regions) != pr.Players {
		return fmt.Errorf("%d regions for %d players", len(pr.Regions), pr.Players)
	}

	var area float64
	for i, r := range pr.Regions {
		if r.W <= 0 || r.H <= 0 {
			return fmt.Errorf("region %d has non-positive size", i)
		}
		if r.X < -tileTolerance || r.Y < -tileTolerance ||
			r.X+r.W > 1+tileTolerance || r.Y+r.H > 1+tileTolerance {
			return fmt.Errorf("region %d extends outside the monitor", i)
		}
		area += r.W * r.H
	}
	if math.Abs(area-1) > tileTolerance {
		return fmt.Errorf("regions cover %.4f of the monitor, want exactly 1", area)
	}

	for i := 0; i < len(pr.Regions); i++ {
		for j := i + 1; j < len(pr.Regions); j++ {
			if overlaps(pr.Regions[i], pr.Regions[j]) {
				return fmt.Errorf("regions %d and %d overlap", i, j)
			}
		}
	}
	return nil
}

func overlaps(a, b Region) bool {
	w := math.Min(a.X+a.W, b.X+b.W) - math.Max(a.X, b.X)
	h := math.Min(a.Y+a.H, b.Y+b.H) - math.Max(a.Y, b.Y)
	return w > tileTolerance && h > tileTolerance
}

// Pixels converts a region to absolute pixel geometry on a monitor.
func (r Region) Pixels(m Monitor) (x, y, w, h int) {
	x = m.X + int(math.Round(r.X*float64(m.Width)))
	y = m.Y + int(math.Round(r.Y*float64(m.Height)))
	w = int(math.Round(r.W * float64(m.Width)))
	h = int(math.Round(r.H * float64(m.Height)))
	return x, y, w, h
}
