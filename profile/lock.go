// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// WriteLayerLock holds exclusive use of a profile's per-game write
// layer for the duration of a mount. A second session attempting to
// mount the same layer fails instead of corrupting the overlay.
type WriteLayerLock struct {
	Dir string

	file *os.File
}

// LockWriteLayer acquires the exclusive lock for a profile's write
// layer without blocking. The layer must already exist (EnsureSaveLayer).
func (s *Store) LockWriteLayer(name, game string) (*WriteLayerLock, error) {
	layer := filepath.Join(s.Dir(name), "gamesaves", game)
	f, err := os.OpenFile(filepath.Join(layer, ".splitrun-lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lock write layer %s/%s: %w", name, game, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("write layer %s/%s is in use by another session", name, game)
		}
		return nil, fmt.Errorf("lock write layer %s/%s: %w", name, game, err)
	}
	return &WriteLayerLock{Dir: layer, file: f}, nil
}

// Release drops the lock. Safe to call more than once.
func (l *WriteLayerLock) Release() error {
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		f.Close()
		return fmt.Errorf("unlock write layer %s: %w", l.Dir, err)
	}
	return f.Close()
}
