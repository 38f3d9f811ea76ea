// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// UnityScripting is a Unity game's scripting backend. The mod loader
// ships separate builds per backend and loading the wrong one fails
// only deep inside the game's startup.
type UnityScripting int

const (
	// ScriptingMono runs managed assemblies under *_Data/Managed.
	ScriptingMono UnityScripting = iota
	// ScriptingIL2CPP ships ahead-of-time compiled code in GameAssembly.
	ScriptingIL2CPP
)

func (u UnityScripting) String() string {
	if u == ScriptingIL2CPP {
		return "il2cpp"
	}
	return "mono"
}

// DetectUnityScripting classifies a Unity game tree. IL2CPP games carry
// a GameAssembly library in the root; Mono games a *_Data/Managed
// directory. Unrecognized trees default to Mono.
func DetectUnityScripting(gameRoot string) UnityScripting {
	if _, err := os.Stat(filepath.Join(gameRoot, "GameAssembly.dll")); err == nil {
		return ScriptingIL2CPP
	}
	if _, err := os.Stat(filepath.Join(gameRoot, "GameAssembly.so")); err == nil {
		return ScriptingIL2CPP
	}
	entries, err := os.ReadDir(gameRoot)
	if err != nil {
		return ScriptingMono
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), "_Data") {
			managed := filepath.Join(gameRoot, e.Name(), "Managed")
			if info, err := os.Stat(managed); err == nil && info.IsDir() {
				return ScriptingMono
			}
		}
	}
	return ScriptingMono
}

// bepinexResourceDir picks the mod-loader build matching the platform
// and scripting backend.
func bepinexResourceDir(resources string, windows bool, scripting UnityScripting) string {
	var sub string
	switch {
	case scripting == ScriptingIL2CPP:
		sub = "il2cpp"
	case windows:
		sub = "mono"
	default:
		sub = "mono-linux"
	}
	return filepath.Join(resources, "bepinex", sub)
}

// installBepInEx copies the mod loader into a layer: core assemblies,
// the doorstop loader (winhttp.dll hijack on Windows, LD_PRELOAD
// library on Linux), and the doorstop config pointing at the preloader.
func installBepInEx(layer, resDir string, windows bool) error {
	core := filepath.Join(resDir, "core")
	if _, err := os.Stat(core); err != nil {
		return fmt.Errorf("mod loader build missing at %s: %w", resDir, err)
	}
	if err := copyTree(core, filepath.Join(layer, "BepInEx", "core")); err != nil {
		return fmt.Errorf("install mod loader core: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(layer, "BepInEx", "config"), 0o755); err != nil {
		return err
	}

	var loader, sep string
	if windows {
		loader, sep = "winhttp.dll", `\`
	} else {
		loader, sep = "libdoorstop.so", "/"
	}
	if err := copyFile(filepath.Join(resDir, loader), filepath.Join(layer, loader)); err != nil {
		return fmt.Errorf("install doorstop loader: %w", err)
	}

	doorstop := fmt.Sprintf("[General]\nenabled=true\ntarget_assembly=BepInEx%score%sBepInEx.Preloader.dll\n", sep, sep)
	if err := os.WriteFile(filepath.Join(layer, "doorstop_config.ini"), []byte(doorstop), 0o644); err != nil {
		return err
	}

	// Console logging must stay off: the loader's Linux console driver
	// crashes the game when it grabs a console stream.
	bepinexCfg := `[Logging.Console]
Enabled = false

[Logging.Disk]
Enabled = true
LogLevels = All

[Chainloader]
HideManagerGameObject = true
`
	return os.WriteFile(filepath.Join(layer, "BepInEx", "config", "BepInEx.cfg"), []byte(bepinexCfg), 0o644)
}

// addTreeManifest folds a directory tree's shape (paths, sizes,
// mtimes) into a fingerprint, without hashing file contents. Mod loader
// builds are replaced wholesale, so metadata identifies them.
func (f *fingerprint) addTreeManifest(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		f.addString("tree:"+rel, fmt.Sprintf("%d:%d", info.Size(), info.ModTime().UnixNano()))
		return nil
	})
}
