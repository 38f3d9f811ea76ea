// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// stampName is the fingerprint manifest written into every layer dir.
// A layer whose stamp matches the current inputs is left untouched, so
// repeated launches with unchanged settings keep layers byte-identical.
const stampName = ".layer-stamp"

// fingerprint accumulates the inputs that determine a layer's content.
type fingerprint struct {
	h *blake3.Hasher
}

func newFingerprint() *fingerprint {
	return &fingerprint{h: blake3.New()}
}

func (f *fingerprint) addString(label, value string) {
	fmt.Fprintf(f.h, "%s=%s\x00", label, value)
}

func (f *fingerprint) addFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	fmt.Fprintf(f.h, "file:%s\x00", filepath.Base(path))
	if _, err := io.Copy(f.h, src); err != nil {
		return err
	}
	f.h.Write([]byte{0})
	return nil
}

func (f *fingerprint) sum() string {
	return fmt.Sprintf("%x", f.h.Sum(nil))
}

// ensureLayer rebuilds a layer directory unless its stamp matches
// digest. build receives the empty layer dir. Returns whether a rebuild
// happened.
func ensureLayer(dir, digest string, build func(dir string) error) (bool, error) {
	stamp := filepath.Join(dir, stampName)
	if prev, err := os.ReadFile(stamp); err == nil && string(prev) == digest {
		return false, nil
	}

	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("reset layer %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create layer %s: %w", dir, err)
	}
	if err := build(dir); err != nil {
		return false, err
	}
	if err := os.WriteFile(stamp, []byte(digest), 0o644); err != nil {
		return false, fmt.Errorf("stamp layer %s: %w", dir, err)
	}
	return true, nil
}
