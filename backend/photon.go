// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/splitrun/splitrun/handler"
)

// photonBasePort is distinct from the Goldberg port range so both
// backends can coexist on one host.
const photonBasePort uint16 = 47684

// Photon injects BepInEx with a local-multiplayer mod for Unity games
// that use Photon networking. The mod itself comes from the handler's
// overlay directory; this backend supplies the loader and per-instance
// configuration.
type Photon struct {
	Settings *handler.PhotonSettings

	scripting UnityScripting
}

func (p *Photon) Name() string          { return "photon" }
func (p *Photon) RequiresOverlay() bool { return true }
func (p *Photon) Priority() int         { return 0 }

func (p *Photon) RequiredFiles(s *Session) []string {
	// Scripting backend is unknown before SetupAll; require the build
	// matching either outcome to exist would over-constrain, so require
	// the bepinex resource root and verify the exact build in SetupAll.
	return []string{filepath.Join(s.Resources, "bepinex")}
}

// SetupAll classifies the Unity scripting backend, verifies the
// matching loader build, and materializes the session-shared files
// every instance symlinks to.
func (p *Photon) SetupAll(s *Session) error {
	p.scripting = DetectUnityScripting(s.GameRoot)
	s.log().Info("unity scripting backend", "kind", p.scripting.String())

	resDir := bepinexResourceDir(s.Resources, s.Windows, p.scripting)
	if _, err := os.Stat(filepath.Join(resDir, "core")); err != nil {
		return fmt.Errorf("photon: no mod loader build for %s at %s", p.scripting, resDir)
	}

	return p.setupSharedFiles(s)
}

// setupSharedFiles creates one shared copy of each declared file and
// links every instance's windata path to it, so the mod's instances see
// a single lobby state.
func (p *Photon) setupSharedFiles(s *Session) error {
	if len(p.Settings.SharedFiles) == 0 {
		return nil
	}
	if err := os.MkdirAll(s.SharedDir, 0o755); err != nil {
		return err
	}

	for _, rel := range p.Settings.SharedFiles {
		name := filepath.Base(rel)
		if name == "." || name == string(filepath.Separator) {
			return fmt.Errorf("photon: invalid shared file path %q", rel)
		}
		shared := filepath.Join(s.SharedDir, name)
		if _, err := os.Stat(shared); os.IsNotExist(err) {
			if err := os.WriteFile(shared, []byte(p.initialSharedContent(s, name)), 0o644); err != nil {
				return fmt.Errorf("photon: create shared file %s: %w", name, err)
			}
		}

		for i := range s.Instances {
			inst := &s.Instances[i]
			link := filepath.Join(inst.ProfileDir, "windata", rel)
			if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
				return err
			}
			if _, err := os.Lstat(link); err == nil {
				if err := os.Remove(link); err != nil {
					return err
				}
			}
			if err := os.Symlink(shared, link); err != nil {
				return fmt.Errorf("photon: link shared file for %s: %w", inst.Profile, err)
			}
		}
	}
	return nil
}

// initialSharedContent seeds a shared file. GlobalSave gets the mod's
// spoofed-account pool, one entry per non-host instance.
func (p *Photon) initialSharedContent(s *Session, name string) string {
	if name != "GlobalSave" {
		return ""
	}
	var accounts []string
	for _, inst := range s.Instances[1:] {
		accounts = append(accounts,
			fmt.Sprintf(`    {"Username": %q, "SteamId": %d}`, inst.Profile, inst.SteamID))
	}
	return fmt.Sprintf("{\n  \"SpoofSteamAccounts\": [\n%s\n  ],\n  \"SpoofSteamAccountsInUse\": []\n}",
		strings.Join(accounts, ",\n"))
}

func (p *Photon) CreateOverlay(s *Session, inst *Instance) (string, error) {
	resDir := bepinexResourceDir(s.Resources, s.Windows, p.scripting)

	f := newFingerprint()
	f.addString("scripting", p.scripting.String())
	f.addString("windows", fmt.Sprintf("%t", s.Windows))
	if err := f.addTreeManifest(resDir); err != nil {
		return "", fmt.Errorf("photon: %w", err)
	}

	dir := s.layerDir("photon", inst.Index)
	if _, err := ensureLayer(dir, f.sum(), func(dir string) error {
		return installBepInEx(dir, resDir, s.Windows)
	}); err != nil {
		return "", err
	}

	if err := p.writeInstanceConfig(s, inst); err != nil {
		return "", err
	}
	return dir, nil
}

// writeInstanceConfig writes the local-multiplayer mod config into the
// instance's windata tree (the mod reads it from the Windows profile,
// not from the game directory).
func (p *Photon) writeInstanceConfig(s *Session, inst *Instance) error {
	path := filepath.Join(inst.ProfileDir, "windata", p.Settings.ConfigPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	cfg := fmt.Sprintf(`[Photon]
AppId=%s
VoiceAppId=%s

[LocalMultiplayer]
PlayerIndex=%d
TotalPlayers=%d
ListenPort=%d
`, p.Settings.AppID, p.Settings.VoiceAppID,
		inst.Index, len(s.Instances), photonBasePort+uint16(inst.Index))
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		return fmt.Errorf("photon: write instance config: %w", err)
	}
	return nil
}
