// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/splitrun/splitrun/lib/testutil"
)

// writeTarGz builds a small .tar.gz archive with the given name->content
// entries.
func writeTarGz(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	defer f.Close()

	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	for name, content := range entries {
		header := &tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(header); err != nil {
			t.Fatalf("write header %s: %v", name, err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write body %s: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
}

func TestProvisionExtractsArchive(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "goldberg.tar.gz")
	writeTarGz(t, archive, map[string]string{
		"linux64/libsteam_api.so": "fake-so-64",
		"linux32/libsteam_api.so": "fake-so-32",
	})

	dest := filepath.Join(dir, "res")
	changed, err := Provision(archive, dest)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if !changed {
		t.Fatal("first Provision reported no change")
	}

	got := testutil.ReadFile(t, filepath.Join(dest, "linux64/libsteam_api.so"))
	if got != "fake-so-64" {
		t.Errorf("extracted content = %q, want %q", got, "fake-so-64")
	}
}

func TestProvisionIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "bepinex.tar.gz")
	writeTarGz(t, archive, map[string]string{"core/BepInEx.dll": "core"})

	dest := filepath.Join(dir, "res")
	if _, err := Provision(archive, dest); err != nil {
		t.Fatalf("first Provision: %v", err)
	}

	// Note the extracted file's mtime, then provision again.
	extracted := filepath.Join(dest, "core/BepInEx.dll")
	before, err := os.Stat(extracted)
	if err != nil {
		t.Fatalf("stat extracted: %v", err)
	}

	changed, err := Provision(archive, dest)
	if err != nil {
		t.Fatalf("second Provision: %v", err)
	}
	if changed {
		t.Error("second Provision with unchanged archive reported change")
	}

	after, err := os.Stat(extracted)
	if err != nil {
		t.Fatalf("stat extracted after: %v", err)
	}
	if !before.ModTime().Equal(after.ModTime()) {
		t.Error("second Provision rewrote extracted file")
	}
}

func TestProvisionReextractsWhenArchiveChanges(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "mods.tar.gz")
	writeTarGz(t, archive, map[string]string{"plugin.dll": "v1"})

	dest := filepath.Join(dir, "res")
	if _, err := Provision(archive, dest); err != nil {
		t.Fatalf("first Provision: %v", err)
	}

	writeTarGz(t, archive, map[string]string{"plugin.dll": "v2"})
	changed, err := Provision(archive, dest)
	if err != nil {
		t.Fatalf("second Provision: %v", err)
	}
	if !changed {
		t.Fatal("changed archive was not re-extracted")
	}
	if got := testutil.ReadFile(t, filepath.Join(dest, "plugin.dll")); got != "v2" {
		t.Errorf("content after re-extract = %q, want %q", got, "v2")
	}
}

func TestProvisionRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.tar.gz")
	writeTarGz(t, archive, map[string]string{"../outside.txt": "nope"})

	if _, err := Provision(archive, filepath.Join(dir, "res")); err == nil {
		t.Fatal("archive with .. entry was accepted")
	}
}

func TestProvisionUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	archive := testutil.WriteFile(t, dir, "bundle.rar", "not a tar")
	if _, err := Provision(archive, filepath.Join(dir, "res")); err == nil {
		t.Fatal("unrecognized extension was accepted")
	}
}
