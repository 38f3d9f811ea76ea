// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// journalSuffix names session journal files in the session tmp dir.
const journalSuffix = ".session.cbor"

// SessionRecord is the on-disk journal of one session, written before
// any process spawns. If splitrun crashes mid-session the next run
// finds the record and unmounts whatever was left mounted.
type SessionRecord struct {
	ID        string        `cbor:"id"`
	Game      string        `cbor:"game"`
	StartedAt time.Time     `cbor:"started_at"`
	Mounts    []MountRecord `cbor:"mounts"`
}

// MountRecord is one instance's overlay scratch state.
type MountRecord struct {
	Instance   int    `cbor:"instance"`
	MountPoint string `cbor:"mount_point"`
	WorkDir    string `cbor:"work_dir"`
}

// newSessionRecord builds the journal for a session about to spawn.
func newSessionRecord(game string, instances []*Instance, now time.Time) *SessionRecord {
	rec := &SessionRecord{
		ID:        uuid.NewString(),
		Game:      game,
		StartedAt: now,
	}
	for _, inst := range instances {
		if inst.Plan == nil {
			continue
		}
		rec.Mounts = append(rec.Mounts, MountRecord{
			Instance:   inst.Index,
			MountPoint: inst.Plan.MountPoint,
			WorkDir:    inst.Plan.WorkDir,
		})
	}
	return rec
}

func (r *SessionRecord) path(dir string) string {
	return filepath.Join(dir, r.ID+journalSuffix)
}

// write persists the record into the session tmp dir.
func (r *SessionRecord) write(dir string) error {
	data, err := cbor.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode session journal: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(r.path(dir), data, 0o644); err != nil {
		return fmt.Errorf("write session journal: %w", err)
	}
	return nil
}

// remove deletes the record after a clean teardown.
func (r *SessionRecord) remove(dir string) error {
	if err := os.Remove(r.path(dir)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// CleanupStale unmounts overlays recorded by sessions that never tore
// down, then removes their journals. Called at startup before any new
// session; a mount that is already gone is not an error.
func CleanupStale(dir string, composer Composer, log *slog.Logger) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var errs []error
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), journalSuffix) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		var rec SessionRecord
		if err := cbor.Unmarshal(data, &rec); err != nil {
			log.Warn("corrupt session journal, removing", "path", path, "error", err)
			errs = append(errs, os.Remove(path))
			continue
		}

		log.Info("cleaning up stale session", "id", rec.ID, "game", rec.Game, "started", rec.StartedAt)
		for _, m := range rec.Mounts {
			if _, err := os.Stat(m.MountPoint); os.IsNotExist(err) {
				continue
			}
			if err := composer.Unmount(m.MountPoint); err != nil {
				errs = append(errs, fmt.Errorf("stale mount %s: %w", m.MountPoint, err))
				continue
			}
			os.RemoveAll(m.MountPoint)
			os.RemoveAll(m.WorkDir)
		}
		errs = append(errs, os.Remove(path))
	}
	return errors.Join(errs...)
}
