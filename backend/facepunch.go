// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/splitrun/splitrun/handler"
)

// facepunchPluginName is the identity-spoofing plugin loaded by the mod
// loader into Facepunch.Steamworks games.
const facepunchPluginName = "SplitrunFacepunch.dll"

// Facepunch spoofs per-instance Steam identity inside Unity games built
// on Facepunch.Steamworks, via a BepInEx plugin. Its layer sits above
// goldberg's so the plugin's loader files win any overlap with other
// mod setups.
type Facepunch struct {
	Settings *handler.FacepunchSettings

	scripting UnityScripting
}

func (f *Facepunch) Name() string          { return "facepunch" }
func (f *Facepunch) RequiresOverlay() bool { return true }
func (f *Facepunch) Priority() int         { return 10 }

func (f *Facepunch) RequiredFiles(s *Session) []string {
	return []string{
		filepath.Join(s.Resources, "bepinex"),
		filepath.Join(s.Resources, "facepunch", facepunchPluginName),
	}
}

func (f *Facepunch) SetupAll(s *Session) error {
	f.scripting = DetectUnityScripting(s.GameRoot)
	resDir := bepinexResourceDir(s.Resources, s.Windows, f.scripting)
	if _, err := os.Stat(filepath.Join(resDir, "core")); err != nil {
		return fmt.Errorf("facepunch: no mod loader build for %s at %s", f.scripting, resDir)
	}
	return nil
}

func (f *Facepunch) CreateOverlay(s *Session, inst *Instance) (string, error) {
	resDir := bepinexResourceDir(s.Resources, s.Windows, f.scripting)
	plugin := filepath.Join(s.Resources, "facepunch", facepunchPluginName)

	fp := newFingerprint()
	fp.addString("scripting", f.scripting.String())
	fp.addString("windows", fmt.Sprintf("%t", s.Windows))
	fp.addString("config", f.instanceConfig(inst))
	if err := fp.addFile(plugin); err != nil {
		return "", fmt.Errorf("facepunch plugin: %w", err)
	}
	if err := fp.addTreeManifest(resDir); err != nil {
		return "", fmt.Errorf("facepunch: %w", err)
	}

	dir := s.layerDir("facepunch", inst.Index)
	rebuilt, err := ensureLayer(dir, fp.sum(), func(dir string) error {
		if err := installBepInEx(dir, resDir, s.Windows); err != nil {
			return err
		}
		cfg := filepath.Join(dir, "BepInEx", "config", "splitrun.cfg")
		if err := os.WriteFile(cfg, []byte(f.instanceConfig(inst)), 0o644); err != nil {
			return err
		}
		return copyFile(plugin, filepath.Join(dir, "BepInEx", "plugins", facepunchPluginName))
	})
	if err != nil {
		return "", err
	}
	if rebuilt {
		s.log().Info("facepunch layer built", "instance", inst.Index, "steam_id", inst.SteamID)
	}
	return dir, nil
}

// instanceConfig is the flat key=value format the plugin parses.
func (f *Facepunch) instanceConfig(inst *Instance) string {
	return fmt.Sprintf(
		"player_index=%d\naccount_name=%s\nsteam_id=%d\nspoof_identity=%t\nforce_valid=%t\nphoton_bypass=%t\n",
		inst.Index, inst.Profile, inst.SteamID,
		f.Settings.SpoofIdentity, f.Settings.ForceValid, f.Settings.PhotonBypass)
}
