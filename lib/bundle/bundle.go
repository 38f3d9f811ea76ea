// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

// Package bundle provisions runtime resource bundles (emulator libraries,
// mod-loader builds) from tar archives into the resource directory.
//
// Provisioning is idempotent: the archive's blake3 digest is recorded in a
// stamp file next to the extracted tree, and an unchanged archive is never
// re-extracted. This keeps backend layer creation byte-stable across runs
// and avoids repeated work on every launch.
package bundle

import (
	"archive/tar"
	"compress/gzip"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// stampName is the digest stamp written into the extraction root.
const stampName = ".bundle-digest"

// Provision extracts the tar archive at archivePath into destDir.
// Supported compressions, selected by extension: .tar.zst, .tar.gz,
// .tar.lz4, and plain .tar. Returns true if the tree was (re)extracted,
// false if the recorded stamp already matched the archive.
func Provision(archivePath, destDir string) (bool, error) {
	digest, err := hashFile(archivePath)
	if err != nil {
		return false, err
	}

	stampPath := filepath.Join(destDir, stampName)
	if prev, err := os.ReadFile(stampPath); err == nil && strings.TrimSpace(string(prev)) == digest {
		return false, nil
	}

	// Stale or missing stamp: rebuild the tree from scratch so removed
	// archive members do not linger.
	if err := os.RemoveAll(destDir); err != nil {
		return false, fmt.Errorf("clear bundle destination %s: %w", destDir, err)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return false, fmt.Errorf("create bundle destination %s: %w", destDir, err)
	}

	if err := extract(archivePath, destDir); err != nil {
		return false, err
	}

	if err := os.WriteFile(stampPath, []byte(digest+"\n"), 0o644); err != nil {
		return false, fmt.Errorf("write bundle stamp: %w", err)
	}
	return true, nil
}

// hashFile computes the hex blake3 digest of the file at path,
// streaming to keep memory constant for large bundles.
func hashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open bundle %s: %w", path, err)
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hash bundle %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func extract(archivePath, destDir string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open bundle %s: %w", archivePath, err)
	}
	defer file.Close()

	reader, closeDecoder, err := decompressor(archivePath, file)
	if err != nil {
		return err
	}
	defer closeDecoder()

	tr := tar.NewReader(reader)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read bundle %s: %w", archivePath, err)
		}

		target, err := securePath(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("extract dir %s: %w", header.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("extract parent of %s: %w", header.Name, err)
			}
			mode := os.FileMode(header.Mode) & 0o777
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
			if err != nil {
				return fmt.Errorf("extract %s: %w", header.Name, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("extract %s: %w", header.Name, err)
			}
			if err := out.Close(); err != nil {
				return fmt.Errorf("extract %s: %w", header.Name, err)
			}
		case tar.TypeSymlink:
			// Symlink targets must stay inside the bundle tree.
			if filepath.IsAbs(header.Linkname) || strings.Contains(header.Linkname, "..") {
				return fmt.Errorf("bundle %s: symlink %s escapes extraction root", archivePath, header.Name)
			}
			if err := os.Symlink(header.Linkname, target); err != nil && !os.IsExist(err) {
				return fmt.Errorf("extract symlink %s: %w", header.Name, err)
			}
		default:
			// Hardlinks, devices, FIFOs have no place in a resource bundle.
			return fmt.Errorf("bundle %s: unsupported entry type %d for %s",
				archivePath, header.Typeflag, header.Name)
		}
	}
}

// decompressor wraps f in the decompression reader matching the archive
// extension. The returned func releases decoder resources.
func decompressor(path string, f io.Reader) (io.Reader, func(), error) {
	switch {
	case strings.HasSuffix(path, ".tar.zst"):
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("open zstd bundle %s: %w", path, err)
		}
		return dec, dec.Close, nil
	case strings.HasSuffix(path, ".tar.gz"), strings.HasSuffix(path, ".tgz"):
		dec, err := gzip.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("open gzip bundle %s: %w", path, err)
		}
		return dec, func() { dec.Close() }, nil
	case strings.HasSuffix(path, ".tar.lz4"):
		return lz4.NewReader(f), func() {}, nil
	case strings.HasSuffix(path, ".tar"):
		return f, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("bundle %s: unrecognized archive extension", path)
	}
}

// securePath joins name under root, rejecting entries that would escape
// the extraction root via .. components or absolute paths.
func securePath(root, name string) (string, error) {
	cleaned := filepath.Clean(name)
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("bundle entry %q escapes extraction root", name)
	}
	return filepath.Join(root, cleaned), nil
}
