// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/splitrun/splitrun/handler"
)

// Bitness of a game library.
type Bitness int

const (
	Bits32 Bitness = 32
	Bits64 Bitness = 64
)

func (b Bitness) String() string { return fmt.Sprintf("%d-bit", int(b)) }

type dllKind int

const (
	kindSteamAPI dllKind = iota
	kindNetworkingSockets
)

// steamAPIDLL is one replaceable Steam library found in the game tree.
type steamAPIDLL struct {
	rel  string
	bits Bitness
	kind dllKind
}

// goldbergResource locates the replacement library for a found DLL.
func goldbergResource(resources string, dll steamAPIDLL, windows bool) string {
	switch dll.kind {
	case kindNetworkingSockets:
		arch := "x32"
		if dll.bits == Bits64 {
			arch = "x64"
		}
		return filepath.Join(resources, "goldberg", "steamnetworkingsockets", arch, "libsteamnetworkingsockets.dll")
	default:
		var sub string
		switch {
		case windows:
			sub = "win"
		case dll.bits == Bits64:
			sub = "linux64"
		default:
			sub = "linux32"
		}
		return filepath.Join(resources, "goldberg", sub, filepath.Base(dll.rel))
	}
}

// Goldberg replaces the game's Steam API libraries with emulator builds
// configured for LAN play between the session's instances.
type Goldberg struct {
	Settings *handler.GoldbergSettings

	dlls []steamAPIDLL
}

func (g *Goldberg) Name() string          { return "goldberg" }
func (g *Goldberg) RequiresOverlay() bool { return true }
func (g *Goldberg) Priority() int         { return 0 }

func (g *Goldberg) RequiredFiles(s *Session) []string {
	if s.Windows {
		return []string{filepath.Join(s.Resources, "goldberg", "win")}
	}
	return []string{
		filepath.Join(s.Resources, "goldberg", "linux64"),
		filepath.Join(s.Resources, "goldberg", "linux32"),
	}
}

// SetupAll scans the game tree for Steam libraries. Finding none is an
// error: the handler asked for Steam emulation the game cannot receive.
func (g *Goldberg) SetupAll(s *Session) error {
	dlls, err := scanSteamLibraries(s.GameRoot, g.Settings.NetworkingSockets)
	if err != nil {
		return fmt.Errorf("goldberg: %w", err)
	}
	if len(dlls) == 0 {
		return fmt.Errorf("goldberg enabled but no Steam API libraries found under %s", s.GameRoot)
	}
	for _, dll := range dlls {
		s.log().Info("found Steam API library", "path", dll.rel, "bitness", dll.bits.String())
	}
	g.dlls = dlls
	return nil
}

func (g *Goldberg) CreateOverlay(s *Session, inst *Instance) (string, error) {
	appID := s.Handler.SteamAppID
	if appID == 0 {
		// Spacewar, the public test app every Steam install owns.
		appID = 480
	}
	broadcast := s.BroadcastPorts(inst.Index)

	f := newFingerprint()
	f.addString("app_id", fmt.Sprintf("%d", appID))
	f.addString("account", inst.Profile)
	f.addString("steam_id", fmt.Sprintf("%d", inst.SteamID))
	f.addString("port", fmt.Sprintf("%d", inst.ListenPort))
	f.addString("broadcast", joinPorts(broadcast))
	f.addString("disable_networking", fmt.Sprintf("%t", g.Settings.DisableNetworking))
	for _, k := range sortedKeys(g.Settings.ExtraSettings) {
		f.addString("extra:"+k, g.Settings.ExtraSettings[k])
	}
	for _, dll := range g.dlls {
		f.addString("dll", fmt.Sprintf("%s:%d:%d", dll.rel, dll.bits, dll.kind))
		if err := f.addFile(goldbergResource(s.Resources, dll, s.Windows)); err != nil {
			return "", fmt.Errorf("goldberg resource for %s: %w", dll.rel, err)
		}
	}

	dir := s.layerDir("goldberg", inst.Index)
	rebuilt, err := ensureLayer(dir, f.sum(), func(dir string) error {
		return g.buildLayer(s, inst, dir, appID, broadcast)
	})
	if err != nil {
		return "", err
	}
	if rebuilt {
		s.log().Info("goldberg layer built", "instance", inst.Index,
			"steam_id", inst.SteamID, "port", inst.ListenPort)
	}
	return dir, nil
}

func (g *Goldberg) buildLayer(s *Session, inst *Instance, dir string, appID uint32, broadcast []uint16) error {
	for _, dll := range g.dlls {
		src := goldbergResource(s.Resources, dll, s.Windows)
		dst := filepath.Join(dir, dll.rel)
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("replace %s: %w", dll.rel, err)
		}
		settings := filepath.Join(filepath.Dir(dst), "steam_settings")
		if err := g.writeSettings(settings, inst, appID, broadcast); err != nil {
			return err
		}
	}

	// The emulator looks for config beside the executable, not only
	// beside the library, so native games get a root-level copy.
	if !s.Windows {
		if err := g.writeSettings(filepath.Join(dir, "steam_settings"), inst, appID, broadcast); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, "steam_appid.txt"), []byte(fmt.Sprintf("%d", appID)), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (g *Goldberg) writeSettings(dir string, inst *Instance, appID uint32, broadcast []uint16) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	files := map[string]string{
		"steam_appid.txt": fmt.Sprintf("%d", appID),
		"configs.user.ini": fmt.Sprintf("[user::general]\naccount_name=%s\naccount_steamid=%d\n",
			inst.Profile, inst.SteamID),
		"auto_accept_invite.txt": "",
		"auto_send_invite.txt":   "",
	}

	disable := 0
	if g.Settings.DisableNetworking {
		disable = 1
	}
	files["configs.main.ini"] = fmt.Sprintf(`[main::general]
new_app_ticket=1
gc_token=1
matchmaking_server_list_actual_type=0
matchmaking_server_details_via_source_query=0

[main::connectivity]
disable_lan_only=0
disable_networking=%d
listen_port=%d
offline=0
disable_lobby_creation=0
disable_source_query=0
share_leaderboards_over_network=0
`, disable, inst.ListenPort)

	if len(broadcast) > 0 {
		files["custom_broadcasts.txt"] = joinPorts(broadcast)
	}
	for name, content := range g.Settings.ExtraSettings {
		files[name] = content
	}

	for _, name := range sortedKeys(files) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(files[name]), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// scanSteamLibraries walks the game tree for replaceable Steam
// libraries. GameNetworkingSockets bitness is inferred from sibling
// steam_api libraries, which are classified first.
func scanSteamLibraries(gameRoot string, networkingSockets bool) ([]steamAPIDLL, error) {
	var dlls []steamAPIDLL
	dirs64 := map[string]bool{}
	var deferred []string

	err := filepath.WalkDir(gameRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := strings.ToLower(d.Name())
		switch name {
		case "steam_api.dll", "steam_api64.dll", "libsteam_api.so":
			rel, err := filepath.Rel(gameRoot, path)
			if err != nil {
				return err
			}
			bits, err := detectBitness(path, name)
			if err != nil {
				return err
			}
			if bits == Bits64 {
				dirs64[filepath.Dir(rel)] = true
			}
			dlls = append(dlls, steamAPIDLL{rel: rel, bits: bits, kind: kindSteamAPI})
		case "gamenetworkingsockets.dll":
			if networkingSockets {
				deferred = append(deferred, path)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, path := range deferred {
		rel, err := filepath.Rel(gameRoot, path)
		if err != nil {
			return nil, err
		}
		var bits Bitness
		switch {
		case dirs64[filepath.Dir(rel)]:
			bits = Bits64
		case pathHints64(path):
			bits = Bits64
		case pathHints32(path):
			bits = Bits32
		default:
			return nil, fmt.Errorf("cannot determine bitness of %s", rel)
		}
		dlls = append(dlls, steamAPIDLL{rel: rel, bits: bits, kind: kindNetworkingSockets})
	}
	return dlls, nil
}

// detectBitness classifies a Steam library as 32- or 64-bit by
// filename, path hints, then binary headers. An unclassifiable library
// is an error: injecting the wrong variant crashes the game at startup
// with nothing pointing back here.
func detectBitness(path, lowerName string) (Bitness, error) {
	switch lowerName {
	case "steam_api64.dll":
		return Bits64, nil
	case "steam_api.dll":
		if pathHints64(path) {
			return Bits64, nil
		}
		return peBitness(path)
	case "libsteam_api.so":
		return elfBitness(path)
	}
	return 0, fmt.Errorf("unrecognized Steam library name %q", lowerName)
}

func pathHints64(path string) bool {
	p := strings.ToLower(path)
	return strings.Contains(p, "win64") || strings.Contains(p, "x64") ||
		strings.Contains(p, "x86_64") || strings.Contains(p, "/64/")
}

func pathHints32(path string) bool {
	p := strings.ToLower(path)
	return strings.Contains(p, "win32") || strings.Contains(p, "x86/") ||
		strings.Contains(p, "/32/")
}

// elfBitness reads e_ident[EI_CLASS] from an ELF header.
func elfBitness(path string) (Bitness, error) {
	data, err := readHeader(path, 5)
	if err != nil {
		return 0, err
	}
	if string(data[:4]) != "\x7fELF" {
		return 0, fmt.Errorf("%s: not an ELF library", path)
	}
	switch data[4] {
	case 1:
		return Bits32, nil
	case 2:
		return Bits64, nil
	}
	return 0, fmt.Errorf("%s: unknown ELF class %d", path, data[4])
}

// peBitness reads the COFF machine field behind the DOS header.
func peBitness(path string) (Bitness, error) {
	data, err := readHeader(path, 4096)
	if err != nil {
		return 0, err
	}
	if len(data) < 0x40 || data[0] != 'M' || data[1] != 'Z' {
		return 0, fmt.Errorf("%s: not a PE library", path)
	}
	peOff := binary.LittleEndian.Uint32(data[0x3c:])
	if int(peOff)+6 > len(data) {
		return 0, fmt.Errorf("%s: truncated PE header", path)
	}
	if string(data[peOff:peOff+4]) != "PE\x00\x00" {
		return 0, fmt.Errorf("%s: missing PE signature", path)
	}
	switch binary.LittleEndian.Uint16(data[peOff+4:]) {
	case 0x014c:
		return Bits32, nil
	case 0x8664, 0xaa64:
		return Bits64, nil
	}
	return 0, fmt.Errorf("%s: unknown PE machine type", path)
}

func readHeader(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, n)
	read, err := f.Read(buf)
	if read == 0 && err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return buf[:read], nil
}
