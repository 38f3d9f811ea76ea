// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

package wm

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/splitrun/splitrun/lib/clock"
)

const (
	// Compositor window creation lags process spawn by however long
	// the game takes to bring up its renderer, so discovery waits
	// generously.
	defaultDiscoverTimeout = 120 * time.Second
	defaultPollInterval    = 500 * time.Millisecond

	// defaultSettle is how long to wait after a geometry change before
	// re-reading the window position.
	defaultSettle = 100 * time.Millisecond

	// defaultDriftTolerance is the accepted distance in pixels between
	// requested and reported position.
	defaultDriftTolerance = 2
)

// LayoutEngine discovers the session's game windows and tiles them per
// a layout preset. All failures it returns are advisory: a mistiled
// window is still a playable game, so the caller reports them and moves
// on.
type LayoutEngine struct {
	mgr   Manager
	clock clock.Clock
	log   *slog.Logger

	discoverTimeout time.Duration
	pollInterval    time.Duration
	settle          time.Duration
	driftTolerance  int
}

// EngineOption configures a LayoutEngine.
type EngineOption func(*LayoutEngine)

// WithClock substitutes the time source.
func WithClock(c clock.Clock) EngineOption {
	return func(e *LayoutEngine) { e.clock = c }
}

// WithLogger sets the engine's logger.
func WithLogger(log *slog.Logger) EngineOption {
	return func(e *LayoutEngine) { e.log = log }
}

// WithDiscoverTimeout bounds the window discovery poll.
func WithDiscoverTimeout(d time.Duration) EngineOption {
	return func(e *LayoutEngine) { e.discoverTimeout = d }
}

// NewLayoutEngine returns an engine driving the given compositor.
func NewLayoutEngine(mgr Manager, opts ...EngineOption) *LayoutEngine {
	e := &LayoutEngine{
		mgr:             mgr,
		clock:           clock.Real(),
		log:             slog.Default(),
		discoverTimeout: defaultDiscoverTimeout,
		pollInterval:    defaultPollInterval,
		settle:          defaultSettle,
		driftTolerance:  defaultDriftTolerance,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ResolveMonitor finds the target output by name, or the first output
// when name is empty.
func (e *LayoutEngine) ResolveMonitor(name string) (Monitor, error) {
	monitors, err := e.mgr.ListOutputs()
	if err != nil {
		return Monitor{}, fmt.Errorf("list outputs: %w", err)
	}
	if len(monitors) == 0 {
		return Monitor{}, fmt.Errorf("compositor reports no outputs")
	}
	if name == "" {
		return monitors[0], nil
	}
	for _, m := range monitors {
		if m.Name == name {
			return m, nil
		}
	}
	return Monitor{}, fmt.Errorf("monitor %q not connected", name)
}

// Apply discovers one window of the given class per instance and
// positions each according to the preset on the monitor. sequences
// carries the expected Sequence value (the gamescope PID) per instance
// index; a zero entry means the PID is unknown. Windows are matched to
// instances by exact Sequence first, then by creation order, so a
// missing window is charged to the instance that owns it rather than
// shifting its siblings into the wrong regions. The returned slice
// holds one error per instance that could not be discovered or
// positioned; an empty slice means every window landed.
func (e *LayoutEngine) Apply(class string, sequences []int64, preset Preset, monitor Monitor) []error {
	count := len(sequences)
	if count > len(preset.Regions) {
		return []error{fmt.Errorf("preset %s has %d regions for %d instances", preset.ID, len(preset.Regions), count)}
	}

	windows := e.discover(class, count)
	e.log.Info("positioning windows",
		"found", len(windows), "expected", count,
		"preset", preset.ID, "monitor", monitor.Name)

	matched := matchWindows(windows, sequences)

	var errs []error
	for i := 0; i < count; i++ {
		if matched[i] == nil {
			errs = append(errs, fmt.Errorf("instance %d: window never appeared within %s", i, e.discoverTimeout))
			continue
		}
		if err := e.place(*matched[i], preset.Regions[i], monitor); err != nil {
			errs = append(errs, fmt.Errorf("instance %d: %w", i, err))
		}
	}
	return errs
}

// matchWindows assigns discovered windows to instance indices. Each
// window whose Sequence equals an instance's expected value is pinned
// to that instance. When no window matches any expected value the
// compositor is not reporting client PIDs, so the whole set falls back
// to creation order. Otherwise leftover windows only fill instances
// whose PID was unknown, never instances whose window is simply absent.
func matchWindows(windows []WindowInfo, sequences []int64) []*WindowInfo {
	matched := make([]*WindowInfo, len(sequences))
	used := make([]bool, len(windows))
	anyPinned := false
	for i, seq := range sequences {
		if seq == 0 {
			continue
		}
		for j := range windows {
			if !used[j] && windows[j].Sequence == seq {
				matched[i] = &windows[j]
				used[j] = true
				anyPinned = true
				break
			}
		}
	}

	next := 0
	for i := range matched {
		if matched[i] != nil || (anyPinned && sequences[i] != 0) {
			continue
		}
		for next < len(windows) && used[next] {
			next++
		}
		if next == len(windows) {
			break
		}
		matched[i] = &windows[next]
		used[next] = true
	}
	return matched
}

// discover polls for game windows until enough appear or the timeout
// elapses, and returns them sorted by creation order. A short count is
// not an error here; Apply reports the gap per instance.
func (e *LayoutEngine) discover(class string, count int) []WindowInfo {
	deadline := e.clock.Now().Add(e.discoverTimeout)
	var windows []WindowInfo
	for {
		all, err := e.mgr.ListWindows()
		if err != nil {
			e.log.Warn("window list failed, retrying", "error", err)
		} else {
			windows = windows[:0]
			for _, w := range all {
				if MatchesClass(w, class) {
					windows = append(windows, w)
				}
			}
			if len(windows) >= count {
				break
			}
		}
		if !e.clock.Now().Before(deadline) {
			e.log.Warn("window discovery timed out", "found", len(windows), "expected", count)
			break
		}
		e.clock.Sleep(e.pollInterval)
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].Sequence < windows[j].Sequence })
	return windows
}

// place floats and resizes one window, then corrects its position with
// relative moves. Size changes and moves are separate asynchronous
// compositor calls, so the position is re-read after every change
// rather than trusted; one corrective retry is allowed before the
// residual drift is reported.
func (e *LayoutEngine) place(w WindowInfo, region Region, monitor Monitor) error {
	targetX, targetY, width, height := region.Pixels(monitor)

	if err := e.mgr.MoveToFloating(w); err != nil {
		return fmt.Errorf("float window %s: %w", w.Handle, err)
	}
	if err := e.mgr.SetSize(w, width, height); err != nil {
		return fmt.Errorf("resize window %s: %w", w.Handle, err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		e.clock.Sleep(e.settle)
		current, err := e.find(w.Handle)
		if err != nil {
			return err
		}
		dx, dy := targetX-current.X, targetY-current.Y
		if abs(dx) <= e.driftTolerance && abs(dy) <= e.driftTolerance {
			return nil
		}
		if err := e.mgr.MoveByDelta(current, dx, dy); err != nil {
			return fmt.Errorf("move window %s: %w", w.Handle, err)
		}
	}

	e.clock.Sleep(e.settle)
	current, err := e.find(w.Handle)
	if err != nil {
		return err
	}
	if dx, dy := targetX-current.X, targetY-current.Y; abs(dx) > e.driftTolerance || abs(dy) > e.driftTolerance {
		return fmt.Errorf("window %s drifts (%d,%d)px from target after correction", w.Handle, dx, dy)
	}
	return nil
}

func (e *LayoutEngine) find(handle string) (WindowInfo, error) {
	windows, err := e.mgr.ListWindows()
	if err != nil {
		return WindowInfo{}, fmt.Errorf("re-read windows: %w", err)
	}
	for _, w := range windows {
		if w.Handle == handle {
			return w, nil
		}
	}
	return WindowInfo{}, fmt.Errorf("window %s disappeared during layout", handle)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
