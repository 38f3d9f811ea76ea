// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/splitrun/splitrun/lib/testutil"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return &Store{Root: t.TempDir()}
}

func TestSteamIDDeterministic(t *testing.T) {
	a := SteamID("alice")
	if a != SteamID("alice") {
		t.Error("SteamID not stable for same name")
	}
	if a == SteamID("bob") {
		t.Error("SteamID collision between alice and bob")
	}
	if a <= Steam64Base {
		t.Errorf("SteamID %d not above the Steam64 base", a)
	}
	if a > Steam64Base+1_000_000_000 {
		t.Errorf("SteamID %d outside the account id range", a)
	}
}

func TestListenPortRange(t *testing.T) {
	for _, name := range []string{"alice", "bob", ".Blinky", "a-very-long-profile-name"} {
		p := ListenPort(name)
		if p < 47584 || p > 48583 {
			t.Errorf("ListenPort(%q) = %d, outside [47584, 48583]", name, p)
		}
		if p != ListenPort(name) {
			t.Errorf("ListenPort(%q) not stable", name)
		}
	}
}

func TestEnsureCreatesTree(t *testing.T) {
	s := newStore(t)
	if err := s.Ensure("alice"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	for _, sub := range []string{
		"home/.config",
		"windata/Documents",
		"steam/steam_settings",
	} {
		if _, err := os.Stat(filepath.Join(s.Dir("alice"), sub)); err != nil {
			t.Errorf("missing %s: %v", sub, err)
		}
	}

	user := testutil.ReadFile(t, filepath.Join(s.Dir("alice"), "steam/steam_settings/configs.user.ini"))
	if !strings.Contains(user, "account_name=alice") {
		t.Errorf("configs.user.ini missing account name:\n%s", user)
	}
	main := testutil.ReadFile(t, filepath.Join(s.Dir("alice"), "steam/steam_settings/configs.main.ini"))
	if !strings.Contains(main, "listen_port=") {
		t.Errorf("configs.main.ini missing listen port:\n%s", main)
	}
	for _, f := range []string{"auto_accept_invite.txt", "auto_send_invite.txt"} {
		if _, err := os.Stat(filepath.Join(s.Dir("alice"), "steam/steam_settings", f)); err != nil {
			t.Errorf("missing %s: %v", f, err)
		}
	}
}

func TestEnsureIdempotent(t *testing.T) {
	s := newStore(t)
	if err := s.Ensure("alice"); err != nil {
		t.Fatal(err)
	}
	marker := testutil.WriteFile(t, s.Dir("alice"), "home/.config/game.cfg", "tweaked")
	if err := s.Ensure("alice"); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ReadFile(t, marker); got != "tweaked" {
		t.Error("second Ensure rewrote an existing profile")
	}
}

func TestEnsureSaveLayerWritesAppID(t *testing.T) {
	s := newStore(t)
	if err := s.Ensure("alice"); err != nil {
		t.Fatal(err)
	}
	layer, err := s.EnsureSaveLayer("alice", "unrailed", "bin/Unrailed.exe", 1062520)
	if err != nil {
		t.Fatalf("EnsureSaveLayer: %v", err)
	}
	got := testutil.ReadFile(t, filepath.Join(layer, "bin/steam_appid.txt"))
	if got != "1062520" {
		t.Errorf("steam_appid.txt = %q, want 1062520", got)
	}
}

func TestEnsureSaveLayerSkipsAppIDWhenZero(t *testing.T) {
	s := newStore(t)
	if err := s.Ensure("alice"); err != nil {
		t.Fatal(err)
	}
	layer, err := s.EnsureSaveLayer("alice", "game", "game.x86_64", 0)
	if err != nil {
		t.Fatalf("EnsureSaveLayer: %v", err)
	}
	if _, err := os.Stat(filepath.Join(layer, "steam_appid.txt")); !os.IsNotExist(err) {
		t.Error("steam_appid.txt written for appID 0")
	}
}

func TestListSkipsGuests(t *testing.T) {
	s := newStore(t)
	for _, n := range []string{"bob", "alice", ".Blinky"} {
		if err := s.Ensure(n); err != nil {
			t.Fatal(err)
		}
	}
	names, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "alice" || names[1] != "bob" {
		t.Errorf("List = %v, want [alice bob]", names)
	}
}

func TestAssignGuests(t *testing.T) {
	s := newStore(t)
	guests, err := s.AssignGuests(3, []string{"Blinky"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{".Pinky", ".Inky", ".Clyde"}
	for i, g := range guests {
		if g != want[i] {
			t.Errorf("guest[%d] = %q, want %q", i, g, want[i])
		}
	}
}

func TestAssignGuestsExhausted(t *testing.T) {
	s := newStore(t)
	if _, err := s.AssignGuests(len(GuestNames)+1, nil); err == nil {
		t.Fatal("expected error when guest names run out")
	}
}

func TestRemoveGuests(t *testing.T) {
	s := newStore(t)
	for _, n := range []string{"alice", ".Blinky", ".Pinky"} {
		if err := s.Ensure(n); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.RemoveGuests(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(s.Dir(".Blinky")); !os.IsNotExist(err) {
		t.Error("guest .Blinky survived RemoveGuests")
	}
	if _, err := os.Stat(s.Dir("alice")); err != nil {
		t.Error("named profile alice removed by RemoveGuests")
	}
}

func TestLockWriteLayerExclusive(t *testing.T) {
	s := newStore(t)
	if err := s.Ensure("alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.EnsureSaveLayer("alice", "game", "", 0); err != nil {
		t.Fatal(err)
	}

	lock, err := s.LockWriteLayer("alice", "game")
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if _, err := s.LockWriteLayer("alice", "game"); err == nil {
		t.Fatal("second lock on held layer succeeded")
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	relock, err := s.LockWriteLayer("alice", "game")
	if err != nil {
		t.Fatalf("relock after release: %v", err)
	}
	if err := relock.Release(); err != nil {
		t.Fatal(err)
	}
	if err := relock.Release(); err != nil {
		t.Errorf("double release: %v", err)
	}
}
