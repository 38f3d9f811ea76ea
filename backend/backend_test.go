// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/splitrun/splitrun/handler"
	"github.com/splitrun/splitrun/lib/testutil"
)

func TestCollectOrdersByPriority(t *testing.T) {
	h := &handler.Handler{
		Goldberg:  &handler.GoldbergSettings{},
		Facepunch: &handler.FacepunchSettings{SpoofIdentity: true},
	}
	backends := Collect(h)
	if len(backends) != 2 {
		t.Fatalf("got %d backends, want 2", len(backends))
	}
	if backends[0].Name() != "facepunch" || backends[1].Name() != "goldberg" {
		t.Errorf("order = [%s %s], want [facepunch goldberg]",
			backends[0].Name(), backends[1].Name())
	}
}

func TestCollectDefaultsToNone(t *testing.T) {
	backends := Collect(&handler.Handler{})
	if len(backends) != 1 || backends[0].Name() != "none" {
		t.Fatalf("backends = %v, want [none]", backends)
	}
	if backends[0].RequiresOverlay() {
		t.Error("none backend claims to need an overlay")
	}
}

func TestCheckCollisionsDisjoint(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	testutil.WriteFile(t, a, "bin/steam_api.dll", "x")
	testutil.WriteFile(t, b, "winhttp.dll", "y")
	if err := CheckCollisions(map[string]string{"goldberg": a, "facepunch": b}); err != nil {
		t.Errorf("disjoint layers rejected: %v", err)
	}
}

func TestCheckCollisionsClash(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	testutil.WriteFile(t, a, "doorstop_config.ini", "x")
	testutil.WriteFile(t, b, "doorstop_config.ini", "y")
	err := CheckCollisions(map[string]string{"photon": a, "facepunch": b})
	if err == nil {
		t.Fatal("colliding layers accepted")
	}
	msg := err.Error()
	if !strings.Contains(msg, "doorstop_config.ini") ||
		!strings.Contains(msg, "photon") || !strings.Contains(msg, "facepunch") {
		t.Errorf("error %q should name both backends and the path", msg)
	}
}

func TestCheckCollisionsIgnoresStamp(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	testutil.WriteFile(t, a, stampName, "1")
	testutil.WriteFile(t, b, stampName, "2")
	if err := CheckCollisions(map[string]string{"a": a, "b": b}); err != nil {
		t.Errorf("stamp files treated as collisions: %v", err)
	}
}

func TestDetectUnityScripting(t *testing.T) {
	il2cpp := t.TempDir()
	testutil.WriteFile(t, il2cpp, "GameAssembly.dll", "")
	if got := DetectUnityScripting(il2cpp); got != ScriptingIL2CPP {
		t.Errorf("GameAssembly.dll tree = %v, want il2cpp", got)
	}

	mono := t.TempDir()
	testutil.WriteFile(t, mono, "Game_Data/Managed/Assembly-CSharp.dll", "")
	if got := DetectUnityScripting(mono); got != ScriptingMono {
		t.Errorf("Managed tree = %v, want mono", got)
	}

	if got := DetectUnityScripting(t.TempDir()); got != ScriptingMono {
		t.Errorf("bare tree = %v, want mono default", got)
	}
}

func writeBepInExResources(t *testing.T, resources string) {
	t.Helper()
	for _, sub := range []string{"mono", "mono-linux", "il2cpp"} {
		testutil.WriteFile(t, resources, "bepinex/"+sub+"/core/BepInEx.Preloader.dll", "preloader")
		testutil.WriteFile(t, resources, "bepinex/"+sub+"/winhttp.dll", "doorstop-win")
		testutil.WriteFile(t, resources, "bepinex/"+sub+"/libdoorstop.so", "doorstop-linux")
	}
}

func TestPhotonCreateOverlay(t *testing.T) {
	game := t.TempDir()
	testutil.WriteFile(t, game, "Game_Data/Managed/Assembly-CSharp.dll", "")

	h := &handler.Handler{Name: "p", Exec: "game.exe", SteamAppID: 480,
		Photon: &handler.PhotonSettings{
			ConfigPath:  `AppData/LocalLow/Studio/Game/config.ini`,
			SharedFiles: []string{"AppData/LocalLow/Studio/Game/GlobalSave"},
			AppID:       "pun-app",
		}}
	s := testSession(t, h, game, true)
	writeBepInExResources(t, s.Resources)

	p := &Photon{Settings: h.Photon}
	if err := p.SetupAll(s); err != nil {
		t.Fatalf("SetupAll: %v", err)
	}

	// Shared file exists and every instance links to it.
	shared := filepath.Join(s.SharedDir, "GlobalSave")
	content := testutil.ReadFile(t, shared)
	if !strings.Contains(content, `"Username": "bob"`) {
		t.Errorf("GlobalSave missing spoofed account for bob:\n%s", content)
	}
	for _, inst := range s.Instances {
		link := filepath.Join(inst.ProfileDir, "windata", h.Photon.SharedFiles[0])
		target, err := os.Readlink(link)
		if err != nil || target != shared {
			t.Errorf("instance %d shared link = %q, %v", inst.Index, target, err)
		}
	}

	layer, err := p.CreateOverlay(s, &s.Instances[1])
	if err != nil {
		t.Fatalf("CreateOverlay: %v", err)
	}
	if _, err := os.Stat(filepath.Join(layer, "winhttp.dll")); err != nil {
		t.Error("doorstop loader missing from layer")
	}
	bepinexCfg := testutil.ReadFile(t, filepath.Join(layer, "BepInEx/config/BepInEx.cfg"))
	if !strings.Contains(bepinexCfg, "Enabled = false") {
		t.Error("console logging not disabled")
	}

	cfg := testutil.ReadFile(t, filepath.Join(s.Instances[1].ProfileDir, "windata", h.Photon.ConfigPath))
	if !strings.Contains(cfg, "PlayerIndex=1") || !strings.Contains(cfg, "TotalPlayers=2") {
		t.Errorf("instance config wrong:\n%s", cfg)
	}
	if !strings.Contains(cfg, "AppId=pun-app") {
		t.Errorf("instance config missing app id:\n%s", cfg)
	}
}

func TestFacepunchCreateOverlay(t *testing.T) {
	game := t.TempDir()
	testutil.WriteFile(t, game, "GameAssembly.dll", "")

	h := &handler.Handler{Name: "f", Exec: "game.exe", SteamAppID: 480,
		Facepunch: &handler.FacepunchSettings{SpoofIdentity: true, ForceValid: true}}
	s := testSession(t, h, game, true)
	writeBepInExResources(t, s.Resources)
	testutil.WriteFile(t, s.Resources, "facepunch/"+facepunchPluginName, "plugin")

	f := &Facepunch{Settings: h.Facepunch}
	if err := f.SetupAll(s); err != nil {
		t.Fatalf("SetupAll: %v", err)
	}
	layer, err := f.CreateOverlay(s, &s.Instances[0])
	if err != nil {
		t.Fatalf("CreateOverlay: %v", err)
	}

	cfg := testutil.ReadFile(t, filepath.Join(layer, "BepInEx/config/splitrun.cfg"))
	for _, want := range []string{"player_index=0", "account_name=alice", "spoof_identity=true", "force_valid=true", "photon_bypass=false"} {
		if !strings.Contains(cfg, want) {
			t.Errorf("splitrun.cfg missing %q:\n%s", want, cfg)
		}
	}
	if _, err := os.Stat(filepath.Join(layer, "BepInEx/plugins", facepunchPluginName)); err != nil {
		t.Error("identity plugin missing from layer")
	}
	doorstop := testutil.ReadFile(t, filepath.Join(layer, "doorstop_config.ini"))
	if !strings.Contains(doorstop, `BepInEx\core\BepInEx.Preloader.dll`) {
		t.Errorf("doorstop config not in Windows path form:\n%s", doorstop)
	}
}

func TestFacepunchMissingLoaderBuild(t *testing.T) {
	h := &handler.Handler{Name: "f", Exec: "game.exe", SteamAppID: 480,
		Facepunch: &handler.FacepunchSettings{SpoofIdentity: true}}
	s := testSession(t, h, t.TempDir(), true)
	f := &Facepunch{Settings: h.Facepunch}
	if err := f.SetupAll(s); err == nil {
		t.Fatal("SetupAll succeeded without mod loader resources")
	}
}
