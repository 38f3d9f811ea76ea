// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

// Package overlay merges an instance's layer stack into a single view
// through fuse-overlayfs: the game root at the bottom, backend layers
// above it, and the profile's write layer on top catching all writes.
package overlay

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/splitrun/splitrun/lib/clock"
)

// fuseMagic is the statfs filesystem type of a registered FUSE mount.
const fuseMagic = 0x65735546

const (
	mountWaitAttempts = 50
	mountWaitInterval = 20 * time.Millisecond

	unmountAttempts     = 5
	unmountBaseInterval = 100 * time.Millisecond
	unmountMaxInterval  = time.Second
)

// Layer is one directory in an instance's stack.
type Layer struct {
	Dir string
	// Writable marks the profile write layer. Exactly one layer is
	// writable and it must be the topmost.
	Writable bool
}

// Plan is the ordered layer stack for one instance, bottom-up: game
// root first, write layer last.
type Plan struct {
	Layers []Layer
	// MountPoint receives the merged view.
	MountPoint string
	// WorkDir is the scratch directory fuse-overlayfs requires, on the
	// same filesystem as the write layer.
	WorkDir string
}

// Validate checks the plan before any mount is attempted.
func (p *Plan) Validate() error {
	if len(p.Layers) < 2 {
		return fmt.Errorf("plan needs at least a game root and a write layer, got %d layers", len(p.Layers))
	}
	writable := 0
	for i, l := range p.Layers {
		if err := validateOverlayPath(l.Dir); err != nil {
			return err
		}
		if info, err := os.Stat(l.Dir); err != nil {
			return fmt.Errorf("layer %s: %w", l.Dir, err)
		} else if !info.IsDir() {
			return fmt.Errorf("layer %s is not a directory", l.Dir)
		}
		if l.Writable {
			writable++
			if i != len(p.Layers)-1 {
				return fmt.Errorf("write layer %s must be topmost", l.Dir)
			}
		}
	}
	if writable != 1 {
		return fmt.Errorf("plan must have exactly one write layer, got %d", writable)
	}
	if p.MountPoint == "" || p.WorkDir == "" {
		return fmt.Errorf("plan needs a mount point and a work dir")
	}
	return nil
}

// lowerDirOption joins the read-only layers into the fuse-overlayfs
// lowerdir option, leftmost entry shadowing the rest.
func (p *Plan) lowerDirOption() string {
	var lowers []string
	for _, l := range p.Layers {
		if !l.Writable {
			// Prepend: the plan is bottom-up, the option top-down.
			lowers = append([]string{l.Dir}, lowers...)
		}
	}
	return strings.Join(lowers, ":")
}

func (p *Plan) upperDir() string {
	return p.Layers[len(p.Layers)-1].Dir
}

// validateOverlayPath rejects paths that would corrupt fuse-overlayfs
// options. Commas separate options and cannot be escaped.
func validateOverlayPath(path string) error {
	if strings.Contains(path, ",") || strings.Contains(path, ":") {
		return fmt.Errorf("layer path %q contains a fuse-overlayfs option separator", path)
	}
	if strings.ContainsAny(path, "\x00\n\r") {
		return fmt.Errorf("layer path %q contains invalid characters", path)
	}
	return nil
}

// Composer mounts and unmounts merged views.
type Composer struct {
	fuseBin       string
	fusermountBin string

	clock  clock.Clock
	log    *slog.Logger
	run    func(bin string, args ...string) ([]byte, error)
	statfs func(path string) (int64, error)
}

// Option configures a Composer.
type Option func(*Composer)

// WithClock substitutes the clock driving mount waits and unmount
// backoff.
func WithClock(c clock.Clock) Option {
	return func(cp *Composer) { cp.clock = c }
}

// WithLogger sets the composer's logger.
func WithLogger(l *slog.Logger) Option {
	return func(cp *Composer) { cp.log = l }
}

// withRunner and withStatfs substitute the external world in tests.
func withRunner(run func(string, ...string) ([]byte, error)) Option {
	return func(cp *Composer) { cp.run = run }
}

func withStatfs(statfs func(string) (int64, error)) Option {
	return func(cp *Composer) { cp.statfs = statfs }
}

// WithBinaries overrides PATH lookup of the mount tooling. Empty values
// keep the lookup.
func WithBinaries(fuse, fusermount string) Option {
	return func(cp *Composer) {
		cp.fuseBin = fuse
		cp.fusermountBin = fusermount
	}
}

// NewComposer locates the fuse-overlayfs tooling. Failing here beats
// failing after half the instances are mounted.
func NewComposer(opts ...Option) (*Composer, error) {
	c := &Composer{
		clock: clock.Real(),
		log:   slog.Default(),
		statfs: func(path string) (int64, error) {
			var stat syscall.Statfs_t
			if err := syscall.Statfs(path, &stat); err != nil {
				return 0, err
			}
			return stat.Type, nil
		},
	}
	c.run = func(bin string, args ...string) ([]byte, error) {
		return exec.Command(bin, args...).CombinedOutput()
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.fuseBin == "" {
		bin, err := exec.LookPath("fuse-overlayfs")
		if err != nil {
			return nil, fmt.Errorf("fuse-overlayfs not found (install it to merge game layers): %w", err)
		}
		c.fuseBin = bin
	}
	if c.fusermountBin == "" {
		bin, err := exec.LookPath("fusermount")
		if err != nil {
			bin, err = exec.LookPath("fusermount3")
			if err != nil {
				return nil, fmt.Errorf("fusermount/fusermount3 not found: %w", err)
			}
		}
		c.fusermountBin = bin
	}
	return c, nil
}

// Mount validates the plan, mounts the merged view, and waits for the
// FUSE mount to register. Returns the merged directory.
func (c *Composer) Mount(p *Plan) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	for _, dir := range []string{p.MountPoint, p.WorkDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create %s: %w", dir, err)
		}
	}

	opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s",
		p.lowerDirOption(), p.upperDir(), p.WorkDir)
	out, err := c.run(c.fuseBin, "-o", opts, p.MountPoint)
	if err != nil {
		return "", fmt.Errorf("fuse-overlayfs failed: %w\noutput: %s", err, out)
	}

	if err := c.waitForMount(p.MountPoint); err != nil {
		c.run(c.fusermountBin, "-u", p.MountPoint)
		return "", err
	}
	c.log.Info("overlay mounted", "mount", p.MountPoint, "layers", len(p.Layers))
	return p.MountPoint, nil
}

// waitForMount polls statfs until the FUSE magic appears. Spawning
// before the mount registers would show the game an empty directory.
func (c *Composer) waitForMount(path string) error {
	for i := 0; i < mountWaitAttempts; i++ {
		if fsType, err := c.statfs(path); err == nil && fsType == fuseMagic {
			return nil
		}
		c.clock.Sleep(mountWaitInterval)
	}
	return fmt.Errorf("mount at %s not ready after %v",
		path, mountWaitAttempts*mountWaitInterval)
}

// Unmount detaches a merged view. Busy mounts are retried with capped
// backoff, then detached lazily so teardown can continue while the
// kernel drains remaining references.
func (c *Composer) Unmount(mountPoint string) error {
	delay := unmountBaseInterval
	var lastOut []byte
	var lastErr error
	for i := 0; i < unmountAttempts; i++ {
		if i > 0 {
			c.clock.Sleep(delay)
			if delay *= 2; delay > unmountMaxInterval {
				delay = unmountMaxInterval
			}
		}
		lastOut, lastErr = c.run(c.fusermountBin, "-u", mountPoint)
		if lastErr == nil {
			return nil
		}
	}

	if out, err := c.run(c.fusermountBin, "-u", "-z", mountPoint); err != nil {
		return fmt.Errorf("unmount %s failed: %v (output %q), lazy fallback: %v (output %q)",
			mountPoint, lastErr, lastOut, err, out)
	}
	c.log.Warn("overlay detached lazily", "mount", mountPoint)
	return nil
}

// Teardown unmounts and removes the plan's scratch directories. The
// write layer itself is never touched.
func (c *Composer) Teardown(p *Plan) error {
	if err := c.Unmount(p.MountPoint); err != nil {
		return err
	}
	var errs []error
	for _, dir := range []string{p.MountPoint, p.WorkDir} {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", dir, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("teardown %s: %v", p.MountPoint, errs)
	}
	return nil
}

// MaterializePatchLayer writes handler game patches (game-root-relative
// path to replacement content) into dir so they apply as a read-only
// layer below the backends.
func MaterializePatchLayer(dir string, patches map[string]string) error {
	for rel, content := range patches {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("patch layer: %w", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("patch layer: %w", err)
		}
	}
	return nil
}
