// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

// Package profile manages per-player profile directories: isolated HOME
// and Windows data trees, Goldberg emulator settings, deterministic
// spoofed identity, and the per-game write layers mounted as overlay
// upperdirs. Guest profiles are dot-prefixed and removed after the
// session.
package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Steam64Base is the offset of the individual-account Steam64 id space.
const Steam64Base uint64 = 76561197960265728

// basePort is the first port of the Goldberg listen port range. Sibling
// instances discover each other by broadcasting to every port in the
// range, so the range must stay small.
const basePort uint16 = 47584

const portRange = 1000

// GuestNames are assigned to unclaimed instances, in order.
var GuestNames = []string{
	"Blinky", "Pinky", "Inky", "Clyde", "Beatrice", "Battler", "Miyao", "Rena", "Ellie", "Joel",
	"Leon", "Ada", "Madeline", "Theo", "Yokatta", "Wyrm", "Brodiee", "Supreme", "Conk", "Gort",
	"Lich", "Smores", "Canary", "Trico", "Yorda", "Wander", "Agro", "Jak", "Daxter", "Soap",
	"Ghost", "Tomi", "Masaki",
}

// djb2 keeps identity derivation stable across releases. Do not change.
func djb2(name string) uint64 {
	hash := uint64(5381)
	for _, b := range []byte(name) {
		hash = hash*33 + uint64(b)
	}
	return hash
}

// SteamID derives a stable spoofed Steam64 id from a profile name.
func SteamID(name string) uint64 {
	return Steam64Base + djb2(name)%1_000_000_000 + 1
}

// ListenPort derives a stable Goldberg listen port from a profile name.
// Distinct names may collide; the orchestrator rejects duplicate ports
// within one session.
func ListenPort(name string) uint16 {
	return basePort + uint16(djb2(name)%portRange)
}

// IsGuest reports whether a profile name denotes a temporary guest.
func IsGuest(name string) bool {
	return strings.HasPrefix(name, ".")
}

// Store manages profile directories under a single root.
type Store struct {
	// Root is the directory holding one subdirectory per profile.
	Root string
	// RealHome, when set, is the account home directory whose Steam
	// installation is symlinked into each profile HOME so native games
	// can reach the Steam runtime.
	RealHome string

	Log *slog.Logger
}

func (s *Store) log() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

// Dir returns the directory of a named profile. The directory may not
// exist yet.
func (s *Store) Dir(name string) string {
	return filepath.Join(s.Root, name)
}

// Ensure creates the profile directory tree and Goldberg settings if
// they do not exist yet. Existing profiles are left untouched.
func (s *Store) Ensure(name string) error {
	dir := s.Dir(name)
	if _, err := os.Stat(dir); err == nil {
		return nil
	}

	s.log().Info("creating profile", "name", name)
	subdirs := []string{
		"windata/AppData/Local/Temp",
		"windata/AppData/LocalLow",
		"windata/AppData/Roaming",
		"windata/Documents",
		"windata/Saved Games",
		"windata/Desktop",
		"home/.local/share",
		"home/.config",
		"steam/steam_settings",
	}
	for _, sub := range subdirs {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("create profile %s: %w", name, err)
		}
	}

	s.linkRealSteam(dir)

	if err := writeGoldbergSettings(filepath.Join(dir, "steam", "steam_settings"), name); err != nil {
		return fmt.Errorf("create profile %s: %w", name, err)
	}
	s.log().Info("profile created", "name", name, "steam_id", SteamID(name), "port", ListenPort(name))
	return nil
}

// linkRealSteam symlinks the host Steam installation into the profile
// HOME. Native games need it to initialize the Steam API while keeping
// saves isolated. Best effort: a profile without Steam access is still
// usable.
func (s *Store) linkRealSteam(profileDir string) {
	if s.RealHome == "" {
		return
	}
	links := []struct{ src, dst string }{
		{filepath.Join(s.RealHome, ".steam"), filepath.Join(profileDir, "home/.steam")},
		{filepath.Join(s.RealHome, ".local/share/Steam"), filepath.Join(profileDir, "home/.local/share/Steam")},
	}
	for _, l := range links {
		if _, err := os.Stat(l.src); err != nil {
			continue
		}
		if _, err := os.Lstat(l.dst); err == nil {
			continue
		}
		if err := os.Symlink(l.src, l.dst); err != nil {
			s.log().Warn("steam symlink failed", "target", l.dst, "error", err)
		}
	}
}

func writeGoldbergSettings(dir, name string) error {
	user := fmt.Sprintf("[user::general]\naccount_name=%s\naccount_steamid=%d\n", name, SteamID(name))
	if err := os.WriteFile(filepath.Join(dir, "configs.user.ini"), []byte(user), 0o644); err != nil {
		return err
	}

	main := fmt.Sprintf(`[main::general]
new_app_ticket=1
gc_token=1
matchmaking_server_list_actual_type=0
matchmaking_server_details_via_source_query=0

[main::connectivity]
disable_lan_only=0
disable_networking=0
listen_port=%d
offline=0
disable_lobby_creation=0
disable_source_query=0
share_leaderboards_over_network=0
`, ListenPort(name))
	if err := os.WriteFile(filepath.Join(dir, "configs.main.ini"), []byte(main), 0o644); err != nil {
		return err
	}

	// Invites flow automatically between sibling instances.
	for _, f := range []string{"auto_accept_invite.txt", "auto_send_invite.txt"} {
		if err := os.WriteFile(filepath.Join(dir, f), nil, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// EnsureSaveLayer creates the per-game write layer for a profile,
// seeding steam_appid.txt beside the executable when appID is nonzero.
// The returned directory is mounted as the overlay upperdir.
func (s *Store) EnsureSaveLayer(name, game, execRel string, appID uint32) (string, error) {
	layer := filepath.Join(s.Dir(name), "gamesaves", game)
	if _, err := os.Stat(layer); err == nil {
		return layer, nil
	}

	s.log().Info("creating save layer", "profile", name, "game", game)
	if err := os.MkdirAll(layer, 0o755); err != nil {
		return "", fmt.Errorf("create save layer for %s/%s: %w", name, game, err)
	}
	if appID != 0 && execRel != "" {
		execDir := filepath.Join(layer, filepath.Dir(execRel))
		if err := os.MkdirAll(execDir, 0o755); err != nil {
			return "", fmt.Errorf("create save layer for %s/%s: %w", name, game, err)
		}
		appIDFile := filepath.Join(execDir, "steam_appid.txt")
		if err := os.WriteFile(appIDFile, []byte(fmt.Sprintf("%d", appID)), 0o644); err != nil {
			return "", fmt.Errorf("create save layer for %s/%s: %w", name, game, err)
		}
	}
	return layer, nil
}

// List returns all named (non-guest) profiles, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !IsGuest(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// AssignGuests picks count distinct guest names not already in taken.
// The returned names carry the guest dot prefix.
func (s *Store) AssignGuests(count int, taken []string) ([]string, error) {
	used := make(map[string]bool, len(taken))
	for _, t := range taken {
		used[strings.TrimPrefix(t, ".")] = true
	}
	var guests []string
	for _, g := range GuestNames {
		if len(guests) == count {
			break
		}
		if used[g] {
			continue
		}
		guests = append(guests, "."+g)
	}
	if len(guests) < count {
		return nil, fmt.Errorf("need %d guest profiles, only %d names available", count, len(guests))
	}
	return guests, nil
}

// RemoveGuests deletes every guest profile directory.
func (s *Store) RemoveGuests() error {
	entries, err := os.ReadDir(s.Root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("remove guest profiles: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || !IsGuest(e.Name()) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.Root, e.Name())); err != nil {
			return fmt.Errorf("remove guest profile %s: %w", e.Name(), err)
		}
		s.log().Info("removed guest profile", "name", e.Name())
	}
	return nil
}
