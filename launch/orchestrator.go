// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/splitrun/splitrun/backend"
	"github.com/splitrun/splitrun/handler"
	"github.com/splitrun/splitrun/lib/bundle"
	"github.com/splitrun/splitrun/lib/clock"
	"github.com/splitrun/splitrun/overlay"
	"github.com/splitrun/splitrun/profile"
	"github.com/splitrun/splitrun/sandbox"
	"github.com/splitrun/splitrun/wm"
)

// windowClass is the compositor class gamescope registers; the layout
// engine discovers session windows by it.
const windowClass = "gamescope"

// defaultPause staggers spawns when neither handler nor config set a
// delay, keeping window creation order unambiguous.
const defaultPause = 2 * time.Second

// NoPause as Request.PauseBetweenStarts disables the spawn stagger,
// distinct from zero which means "unset".
const NoPause time.Duration = -1

// Request is everything one launch needs, resolved by the caller:
// binaries located, game root found, guests assigned, preset chosen.
type Request struct {
	// Profiles are the participating profile names in instance order.
	Profiles []string

	// GameRoot is the resolved install directory.
	GameRoot string

	// Resources is the backend resource root (replacement libraries,
	// mod-loader builds). Bundle archives under Resources/bundles are
	// provisioned before backend setup.
	Resources string

	// SessionDir is the scratch root for this session's layers, mounts,
	// and shared files.
	SessionDir string

	// Preset is the validated layout preset for len(Profiles) players.
	Preset wm.Preset

	// MonitorName selects the output to tile onto; empty means the
	// first output.
	MonitorName string

	// DeviceInventory is the host input device table; AssignedDevices
	// gives each instance its evdev paths.
	DeviceInventory []sandbox.Device
	AssignedDevices [][]string

	// PauseBetweenStarts overrides the spawn stagger; zero uses the
	// handler's value, then the default. NoPause disables the stagger
	// outright.
	PauseBetweenStarts time.Duration

	// FallbackWidth and FallbackHeight size the assumed output when no
	// compositor is reachable. Zero assumes 1080p.
	FallbackWidth  int
	FallbackHeight int

	GamescopeBin string
	BwrapBin     string
	ProtonBin    string
}

// Composer is the overlay mount surface the orchestrator drives.
// *overlay.Composer implements it; tests substitute fakes.
type Composer interface {
	Mount(p *overlay.Plan) (string, error)
	Unmount(mountPoint string) error
	Teardown(p *overlay.Plan) error
}

// Orchestrator runs the launch pipeline.
type Orchestrator struct {
	Handler  *handler.Handler
	Profiles *profile.Store
	Composer Composer

	// Manager is the compositor control surface; nil skips layout
	// (the session runs with default window placement).
	Manager wm.Manager

	Clock clock.Clock
	Log   *slog.Logger

	// startProcess is the spawn seam; defaults to os/exec.
	startProcess func(*sandbox.Spec) (process, error)
}

// ActiveSession is a launched session: every instance spawned, layout
// handed off. Callers Wait for the games to exit, then Teardown.
type ActiveSession struct {
	Instances []*Instance

	// LayoutErrors are the advisory per-instance layout failures.
	LayoutErrors []error

	orc    *Orchestrator
	record *SessionRecord
	tmpDir string
}

func (o *Orchestrator) log() *slog.Logger {
	if o.Log == nil {
		return slog.Default()
	}
	return o.Log
}

func (o *Orchestrator) clock() clock.Clock {
	if o.Clock == nil {
		return clock.Real()
	}
	return o.Clock
}

func (o *Orchestrator) spawner() func(*sandbox.Spec) (process, error) {
	if o.startProcess == nil {
		return startSpec
	}
	return o.startProcess
}

// Run executes the pipeline: validate, set up backends, compose
// overlays concurrently, spawn serialized, lay out windows. On any
// fatal error everything already constructed is unwound before Run
// returns.
func (o *Orchestrator) Run(req Request) (*ActiveSession, error) {
	instances, err := o.validate(req)
	if err != nil {
		return nil, err
	}

	backends := backend.Collect(o.Handler)
	sess := &backend.Session{
		Handler:   o.Handler,
		GameRoot:  req.GameRoot,
		Windows:   o.Handler.Windows(),
		Resources: req.Resources,
		LayerRoot: filepath.Join(req.SessionDir, "layers"),
		SharedDir: filepath.Join(req.SessionDir, "shared"),
		Log:       o.log(),
	}
	for _, inst := range instances {
		sess.Instances = append(sess.Instances, inst.Instance)
	}

	// Everything fallible from here on must unwind what came before.
	unwind := func() {
		if err := o.teardown(instances, nil, req.SessionDir); err != nil {
			o.log().Warn("teardown after failed launch", "error", err)
		}
	}

	if err := o.prepare(req, backends, sess, instances); err != nil {
		unwind()
		return nil, err
	}

	if err := o.composeAll(req, backends, sess, instances); err != nil {
		unwind()
		return nil, err
	}

	record := newSessionRecord(o.Handler.DirName(), instances, o.clock().Now())
	if err := record.write(req.SessionDir); err != nil {
		unwind()
		return nil, &OverlayError{Instance: -1, Err: err}
	}

	if err := o.spawnAll(req, instances); err != nil {
		record.remove(req.SessionDir)
		unwind()
		return nil, err
	}

	active := &ActiveSession{
		Instances: instances,
		orc:       o,
		record:    record,
		tmpDir:    req.SessionDir,
	}
	active.LayoutErrors = o.layout(req, instances)
	return active, nil
}

// validate is the all-or-nothing precondition pass: nothing on disk
// changes until every instance's preconditions hold, except profile
// directory creation which is idempotent by contract.
func (o *Orchestrator) validate(req Request) ([]*Instance, error) {
	count := len(req.Profiles)
	if count < 1 || count > 4 {
		return nil, &ValidationError{Instance: -1, Err: fmt.Errorf("%d profiles, need 1-4", count)}
	}
	if req.Preset.Validate() != nil || len(req.Preset.Regions) < count {
		return nil, &ValidationError{Instance: -1, Err: fmt.Errorf("layout preset %q unusable for %d players", req.Preset.ID, count)}
	}
	if len(req.AssignedDevices) != 0 && len(req.AssignedDevices) != count {
		return nil, &ValidationError{Instance: -1, Err: fmt.Errorf("%d device assignments for %d instances", len(req.AssignedDevices), count)}
	}

	execPath := filepath.Join(req.GameRoot, o.Handler.Exec)
	if _, err := os.Stat(execPath); err != nil {
		return nil, &ValidationError{Instance: -1, Err: fmt.Errorf("game executable: %w", err)}
	}
	if o.Handler.Windows() && req.ProtonBin == "" {
		return nil, &ValidationError{Instance: -1, Err: errors.New("windows game but no proton binary configured")}
	}

	ports := make(map[uint16]string, count)
	devices := make(map[string]string)
	var instances []*Instance
	for i, name := range req.Profiles {
		port := profile.ListenPort(name)
		if other, clash := ports[port]; clash {
			return nil, &ValidationError{Instance: i, Err: fmt.Errorf("profiles %s and %s derive the same listen port %d; rename one", other, name, port)}
		}
		ports[port] = name

		if len(req.AssignedDevices) > 0 {
			for _, dev := range req.AssignedDevices[i] {
				if other, clash := devices[dev]; clash {
					return nil, &ValidationError{Instance: i, Err: fmt.Errorf("input device %s assigned to both %s and %s", dev, other, name)}
				}
				devices[dev] = name
			}
		}

		inst := &Instance{
			Instance: backend.Instance{
				Index:      i,
				Profile:    name,
				ProfileDir: o.Profiles.Dir(name),
				SteamID:    profile.SteamID(name),
				ListenPort: port,
			},
			State: StatePending,
		}
		if len(req.AssignedDevices) > 0 {
			inst.AssignedDevices = req.AssignedDevices[i]
		}
		instances = append(instances, inst)
	}

	return instances, nil
}

// prepare creates profiles, locks write layers, provisions bundles, and
// runs each backend's one-time setup.
func (o *Orchestrator) prepare(req Request, backends []backend.Backend, sess *backend.Session, instances []*Instance) error {
	game := o.Handler.DirName()
	for _, inst := range instances {
		if err := o.Profiles.Ensure(inst.Profile); err != nil {
			return &ValidationError{Instance: inst.Index, Err: err}
		}
		if _, err := o.Profiles.EnsureSaveLayer(inst.Profile, game, o.Handler.Exec, o.Handler.SteamAppID); err != nil {
			return &ValidationError{Instance: inst.Index, Err: err}
		}
		lock, err := o.Profiles.LockWriteLayer(inst.Profile, game)
		if err != nil {
			return &ValidationError{Instance: inst.Index, Err: err}
		}
		inst.lock = lock
	}

	if err := provisionBundles(req.Resources, o.log()); err != nil {
		return &BackendSetupError{Backend: "bundle", Instance: -1, Err: err}
	}

	for _, b := range backends {
		for _, path := range b.RequiredFiles(sess) {
			if _, err := os.Stat(path); err != nil {
				return &ValidationError{Instance: -1, Err: fmt.Errorf("backend %s requires %s: %w", b.Name(), path, err)}
			}
		}
	}
	for _, b := range backends {
		if err := b.SetupAll(sess); err != nil {
			return &BackendSetupError{Backend: b.Name(), Instance: -1, Err: err}
		}
	}
	for _, inst := range instances {
		inst.State = StateBackendSetup
	}
	return nil
}

// composeAll builds every instance's layers and mounts its overlay.
// Instances touch disjoint subtrees, so they run concurrently.
func (o *Orchestrator) composeAll(req Request, backends []backend.Backend, sess *backend.Session, instances []*Instance) error {
	var g errgroup.Group
	for _, inst := range instances {
		inst := inst
		g.Go(func() error {
			if err := o.compose(req, backends, sess, inst); err != nil {
				inst.State = StateFailed
				return err
			}
			inst.State = StateMounted
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) compose(req Request, backends []backend.Backend, sess *backend.Session, inst *Instance) error {
	// Backend layers, lowest priority first so the plan reads
	// bottom-up.
	ordered := make([]backend.Backend, len(backends))
	copy(ordered, backends)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority() < ordered[j].Priority() })

	layers := []overlay.Layer{{Dir: req.GameRoot}}

	if dir := o.Handler.OverlayDir(); dir != "" {
		layers = append(layers, overlay.Layer{Dir: dir})
	}
	if len(o.Handler.GamePatches) > 0 {
		patchDir := filepath.Join(req.SessionDir, "patches", strconv.Itoa(inst.Index))
		if err := overlay.MaterializePatchLayer(patchDir, o.Handler.GamePatches); err != nil {
			return &OverlayError{Instance: inst.Index, Err: err}
		}
		layers = append(layers, overlay.Layer{Dir: patchDir})
	}

	created := map[string]string{}
	for _, b := range ordered {
		if !b.RequiresOverlay() {
			continue
		}
		dir, err := b.CreateOverlay(sess, &inst.Instance)
		if err != nil {
			return &BackendSetupError{Backend: b.Name(), Instance: inst.Index, Err: err}
		}
		created[b.Name()] = dir
		layers = append(layers, overlay.Layer{Dir: dir})
	}
	if err := backend.CheckCollisions(created); err != nil {
		return &BackendSetupError{Backend: "collision", Instance: inst.Index, Err: err}
	}

	saveDir, err := o.Profiles.EnsureSaveLayer(inst.Profile, o.Handler.DirName(), o.Handler.Exec, o.Handler.SteamAppID)
	if err != nil {
		return &OverlayError{Instance: inst.Index, Err: err}
	}
	layers = append(layers, overlay.Layer{Dir: saveDir, Writable: true})

	inst.Plan = &overlay.Plan{
		Layers:     layers,
		MountPoint: filepath.Join(req.SessionDir, "merged", strconv.Itoa(inst.Index)),
		WorkDir:    filepath.Join(req.SessionDir, "work", strconv.Itoa(inst.Index)),
	}
	merged, err := o.Composer.Mount(inst.Plan)
	if err != nil {
		inst.Plan = nil
		return &OverlayError{Instance: inst.Index, Err: err}
	}
	inst.Merged = merged
	return nil
}

// spawnAll sizes each window from the preset, builds the sandbox spec,
// and starts the processes one at a time with the configured stagger.
// A failed spawn kills every sibling already running.
func (o *Orchestrator) spawnAll(req Request, instances []*Instance) error {
	monitor := o.resolveMonitor(req)
	pause := o.pause(req)

	for i, inst := range instances {
		region := req.Preset.Regions[inst.Index]
		_, _, w, h := region.Pixels(monitor)
		inst.Width, inst.Height = w, h

		spec, err := o.buildSpec(req, inst)
		if err != nil {
			o.killSpawned(instances[:i])
			inst.State = StateFailed
			return &SandboxError{Instance: inst.Index, Err: err}
		}
		inst.Spec = spec

		if i > 0 && pause > 0 {
			o.clock().Sleep(pause)
		}
		proc, err := o.spawner()(spec)
		if err != nil {
			o.killSpawned(instances[:i])
			inst.State = StateFailed
			return &SpawnError{Instance: inst.Index, Err: err}
		}
		inst.proc = proc
		inst.State = StateSpawned
		o.log().Info("instance spawned", "instance", inst.Index, "profile", inst.Profile,
			"size", fmt.Sprintf("%dx%d", w, h))
	}
	return nil
}

func (o *Orchestrator) buildSpec(req Request, inst *Instance) (*sandbox.Spec, error) {
	vars := map[string]string{
		"$PROFILE":    strings.TrimPrefix(inst.Profile, "."),
		"$PROFILEDIR": inst.ProfileDir,
		"$INDEX":      strconv.Itoa(inst.Index),
		"$WIDTH":      strconv.Itoa(inst.Width),
		"$HEIGHT":     strconv.Itoa(inst.Height),
		"$RESOLUTION": fmt.Sprintf("%dx%d", inst.Width, inst.Height),
	}

	b := &sandbox.Builder{
		GamescopeBin:  req.GamescopeBin,
		BwrapBin:      req.BwrapBin,
		MergedDir:     inst.Merged,
		ExecRel:       o.Handler.Exec,
		Args:          sandbox.SubstituteArgs(o.Handler.Args, vars),
		Width:         inst.Width,
		Height:        inst.Height,
		Windows:       o.Handler.Windows(),
		SteamAppID:    o.Handler.SteamAppID,
		ProfileDir:    inst.ProfileDir,
		PrefixUserDir: filepath.Join(inst.ProfileDir, "prefix", "drive_c", "users", "steamuser"),
		ProtonBin:     req.ProtonBin,
		Devices: sandbox.DevicePolicy{
			All:      req.DeviceInventory,
			Assigned: inst.AssignedDevices,
		},
	}
	return b.Build()
}

// layout hands the spawned windows to the layout engine. Failures here
// never abort the session.
func (o *Orchestrator) layout(req Request, instances []*Instance) []error {
	if o.Manager == nil {
		return nil
	}
	eng := wm.NewLayoutEngine(o.Manager, wm.WithClock(o.clock()), wm.WithLogger(o.log()))
	monitor, err := eng.ResolveMonitor(req.MonitorName)
	if err != nil {
		return []error{&LayoutError{Instance: -1, Err: err}}
	}

	// Each gamescope reports its PID to the compositor, so windows are
	// matched to instances by the PID of the process we spawned.
	sequences := make([]int64, len(instances))
	for i, inst := range instances {
		inst.State = StateWindowBound
		if inst.proc != nil {
			sequences[i] = int64(inst.proc.Pid())
		}
	}
	raw := eng.Apply(windowClass, sequences, req.Preset, monitor)
	var errs []error
	for _, err := range raw {
		o.log().Warn("layout failure (session continues)", "error", err)
		errs = append(errs, &LayoutError{Instance: -1, Err: err})
	}
	if len(errs) == 0 {
		for _, inst := range instances {
			inst.State = StatePositioned
		}
	}
	return errs
}

// resolveMonitor returns the output the preset is applied to, falling
// back to a 1080p assumption when no compositor is reachable (window
// sizes must exist at spawn time regardless).
func (o *Orchestrator) resolveMonitor(req Request) wm.Monitor {
	if o.Manager != nil {
		eng := wm.NewLayoutEngine(o.Manager, wm.WithClock(o.clock()), wm.WithLogger(o.log()))
		if m, err := eng.ResolveMonitor(req.MonitorName); err == nil {
			return m
		}
	}
	if req.FallbackWidth > 0 && req.FallbackHeight > 0 {
		return wm.Monitor{Width: req.FallbackWidth, Height: req.FallbackHeight}
	}
	return wm.Monitor{Width: 1920, Height: 1080}
}

func (o *Orchestrator) pause(req Request) time.Duration {
	if req.PauseBetweenStarts < 0 {
		return 0
	}
	if req.PauseBetweenStarts > 0 {
		return req.PauseBetweenStarts
	}
	if o.Handler.PauseBetweenStarts > 0 {
		return time.Duration(o.Handler.PauseBetweenStarts * float64(time.Second))
	}
	return defaultPause
}

func (o *Orchestrator) killSpawned(instances []*Instance) {
	for i := len(instances) - 1; i >= 0; i-- {
		inst := instances[i]
		if inst.proc == nil {
			continue
		}
		if err := inst.proc.Kill(); err != nil {
			o.log().Warn("kill sibling", "instance", inst.Index, "error", err)
		}
		inst.State = StateExited
	}
}

// teardown unwinds instances in reverse order: unmount overlays,
// release write-layer locks, remove guest profiles. Every step runs
// even when an earlier one fails; the errors are collected.
func (o *Orchestrator) teardown(instances []*Instance, record *SessionRecord, sessionDir string) error {
	var errs []error
	for i := len(instances) - 1; i >= 0; i-- {
		inst := instances[i]
		if inst.Plan != nil {
			if err := o.Composer.Teardown(inst.Plan); err != nil {
				errs = append(errs, &OverlayError{Instance: inst.Index, Err: err})
			}
			inst.Plan = nil
		}
		if inst.lock != nil {
			if err := inst.lock.Release(); err != nil {
				errs = append(errs, fmt.Errorf("release write layer lock (instance %d): %w", inst.Index, err))
			}
			inst.lock = nil
		}
	}
	if record != nil {
		if err := record.remove(sessionDir); err != nil {
			errs = append(errs, err)
		}
	}
	if err := o.Profiles.RemoveGuests(); err != nil {
		errs = append(errs, fmt.Errorf("remove guest profiles: %w", err))
	}
	return errors.Join(errs...)
}

// Wait blocks until every instance's process exits.
func (s *ActiveSession) Wait() error {
	var errs []error
	for _, inst := range s.Instances {
		if inst.proc == nil {
			continue
		}
		if err := inst.proc.Wait(); err != nil {
			errs = append(errs, fmt.Errorf("instance %d: %w", inst.Index, err))
		}
		inst.State = StateExited
	}
	return errors.Join(errs...)
}

// Kill terminates every running instance, newest first.
func (s *ActiveSession) Kill() {
	s.orc.killSpawned(s.Instances)
}

// Teardown unwinds the session. Call after Wait (or Kill).
func (s *ActiveSession) Teardown() error {
	return s.orc.teardown(s.Instances, s.record, s.tmpDir)
}

// provisionBundles extracts any archives under <resources>/bundles into
// the resource root. Idempotent through lib/bundle's digest stamps.
func provisionBundles(resources string, log *slog.Logger) error {
	bundleDir := filepath.Join(resources, "bundles")
	entries, err := os.ReadDir(bundleDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		stem, ok := archiveStem(name)
		if !ok {
			continue
		}
		fresh, err := bundle.Provision(filepath.Join(bundleDir, name), filepath.Join(resources, stem))
		if err != nil {
			return fmt.Errorf("bundle %s: %w", name, err)
		}
		if fresh {
			log.Info("provisioned resource bundle", "bundle", stem)
		}
	}
	return nil
}

func archiveStem(name string) (string, bool) {
	for _, suffix := range []string{".tar.gz", ".tar.zst", ".tar.lz4", ".tar"} {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix), true
		}
	}
	return "", false
}

// startSpec launches a Spec with os/exec. The game's stdio flows to the
// launcher's so crashes are visible in the terminal.
func startSpec(spec *sandbox.Spec) (process, error) {
	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &osProcess{cmd: cmd}, nil
}

type osProcess struct{ cmd *exec.Cmd }

func (p *osProcess) Pid() int { return p.cmd.Process.Pid }
func (p *osProcess) Kill() error { return p.cmd.Process.Kill() }
func (p *osProcess) Wait() error { return p.cmd.Wait() }
