// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

// splitrun launches N isolated copies of one game for N local players,
// tiled across one screen.
//
// Usage:
//
//	splitrun --handler <name|path> [--profiles alice,bob] [flags]
//	splitrun --list-presets
//	splitrun --list-profiles
//	splitrun --cleanup
//
// Each instance gets its own merged game view (fuse-overlayfs), its own
// spoofed Steam identity, and a bwrap sandbox that hides every input
// device not assigned to it. Instances find each other over loopback
// through the injected multiplayer-emulation backends.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/splitrun/splitrun/handler"
	"github.com/splitrun/splitrun/launch"
	"github.com/splitrun/splitrun/lib/config"
	"github.com/splitrun/splitrun/lib/paths"
	"github.com/splitrun/splitrun/overlay"
	"github.com/splitrun/splitrun/platform"
	"github.com/splitrun/splitrun/profile"
	"github.com/splitrun/splitrun/sandbox"
	"github.com/splitrun/splitrun/wm"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		handlerFlag  string
		profilesFlag []string
		playersFlag  int
		presetFlag   string
		monitorFlag  string
		gameRootFlag string
		configFlag   string
		deviceFlags  []string
		pauseFlag    float64
		noLayout     bool
		listPresets  bool
		listProfiles bool
		cleanupOnly  bool
		verbose      bool
	)

	flagSet := pflag.NewFlagSet("splitrun", pflag.ContinueOnError)
	flagSet.StringVar(&handlerFlag, "handler", "", "game handler name (under the handler directory) or YAML path")
	flagSet.StringSliceVar(&profilesFlag, "profiles", nil, "profile names in player order; missing players get guest profiles")
	flagSet.IntVar(&playersFlag, "players", 0, "player count (default: number of --profiles, minimum 1)")
	flagSet.StringVar(&presetFlag, "preset", "", "layout preset id (default: per-count preset from config, then built-in)")
	flagSet.StringVar(&monitorFlag, "monitor", "", "output name to tile onto (default: first output)")
	flagSet.StringVar(&gameRootFlag, "game-root", "", "game install directory (overrides handler and Steam lookup)")
	flagSet.StringVar(&configFlag, "config", "", "config file path (default: $SPLITRUN_CONFIG, then built-in defaults)")
	flagSet.StringArrayVar(&deviceFlags, "devices", nil, "comma-separated evdev paths for one instance; repeat per player")
	flagSet.Float64Var(&pauseFlag, "pause", -1, "seconds between instance spawns, 0 disables (default: handler, then config)")
	flagSet.BoolVar(&noLayout, "no-layout", false, "skip compositor window positioning")
	flagSet.BoolVar(&listPresets, "list-presets", false, "print the available layout presets and exit")
	flagSet.BoolVar(&listProfiles, "list-profiles", false, "print the stored profiles and exit")
	flagSet.BoolVar(&cleanupOnly, "cleanup", false, "unmount stale overlays from crashed sessions and exit")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		fmt.Println(flagSet.FlagUsages())
		return nil
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configFlag)
	if err != nil {
		return err
	}
	dirs, err := resolveDirs(cfg)
	if err != nil {
		return err
	}

	presets := wm.NewPresets()
	if cfg.Layout.UserPresets != "" {
		if err := presets.LoadUserPresets(cfg.Layout.UserPresets); err != nil {
			return err
		}
	}

	store := &profile.Store{Root: dirs.profiles, Log: logger}
	if home, err := os.UserHomeDir(); err == nil {
		store.RealHome = home
	}

	switch {
	case listPresets:
		return printPresets(presets)
	case listProfiles:
		return printProfiles(store)
	case cleanupOnly:
		composer, err := newComposer(cfg, logger)
		if err != nil {
			return err
		}
		return launch.CleanupStale(dirs.session, composer, logger)
	}

	if handlerFlag == "" {
		return fmt.Errorf("--handler is required (or --list-presets / --list-profiles / --cleanup)")
	}

	h, err := loadHandler(handlerFlag, dirs.handlers)
	if err != nil {
		return err
	}
	gameRoot, err := resolveGameRoot(gameRootFlag, h)
	if err != nil {
		return err
	}

	players := playersFlag
	if players == 0 {
		players = len(profilesFlag)
	}
	if players == 0 {
		players = 1
	}
	if len(profilesFlag) > players {
		return fmt.Errorf("%d profiles for %d players", len(profilesFlag), players)
	}
	names := profilesFlag
	if len(names) < players {
		guests, err := store.AssignGuests(players-len(names), names)
		if err != nil {
			return err
		}
		names = append(names, guests...)
	}

	preset, err := choosePreset(presets, presetFlag, cfg, players)
	if err != nil {
		return err
	}

	assigned, err := parseDeviceFlags(deviceFlags, players)
	if err != nil {
		return err
	}
	var inventory []sandbox.Device
	if len(assigned) > 0 {
		inventory, err = sandbox.ScanDevices("/sys/class/input")
		if err != nil {
			return err
		}
	} else if devices, err := sandbox.ScanDevices("/sys/class/input"); err == nil {
		inventory = devices
	} else {
		logger.Warn("input device scan failed; device masking disabled", "error", err)
	}

	var manager wm.Manager
	if !noLayout {
		manager, err = wm.Detect()
		if err != nil {
			logger.Warn("no supported compositor detected; windows will not be positioned", "error", err)
		}
	}

	composer, err := newComposer(cfg, logger)
	if err != nil {
		return err
	}
	if err := launch.CleanupStale(dirs.session, composer, logger); err != nil {
		logger.Warn("stale session cleanup", "error", err)
	}

	gamescopeBin, err := config.BinaryPath(cfg.Binaries.Gamescope)
	if err != nil {
		return err
	}
	bwrapBin, err := config.BinaryPath(cfg.Binaries.Bwrap)
	if err != nil {
		return err
	}
	var protonBin string
	if h.Windows() {
		protonBin, err = config.BinaryPath(cfg.Binaries.Proton)
		if err != nil {
			return fmt.Errorf("windows game %q: %w", h.Name, err)
		}
	}

	req := launch.Request{
		Profiles:           names,
		GameRoot:           gameRoot,
		Resources:          dirs.resources,
		SessionDir:         dirs.session,
		Preset:             preset,
		MonitorName:        firstNonEmpty(monitorFlag, cfg.Layout.Monitor),
		DeviceInventory:    inventory,
		AssignedDevices:    assigned,
		PauseBetweenStarts: resolvePause(pauseFlag, h, cfg),
		FallbackWidth:      cfg.Launch.Width,
		FallbackHeight:     cfg.Launch.Height,
		GamescopeBin:       gamescopeBin,
		BwrapBin:           bwrapBin,
		ProtonBin:          protonBin,
	}

	orc := &launch.Orchestrator{
		Handler:  h,
		Profiles: store,
		Composer: composer,
		Manager:  manager,
		Log:      logger,
	}

	logger.Info("launching", "game", h.Name, "players", players,
		"profiles", strings.Join(names, ","), "preset", preset.ID)
	sess, err := orc.Run(req)
	if err != nil {
		return err
	}
	for _, lerr := range sess.LayoutErrors {
		logger.Warn("window placement", "error", lerr)
	}

	waitErr := sess.Wait()
	if err := sess.Teardown(); err != nil {
		logger.Warn("session teardown", "error", err)
	}
	return waitErr
}

// dirs is the resolved on-disk layout, honoring config overrides.
type dirs struct {
	handlers  string
	profiles  string
	session   string
	resources string
}

func resolveDirs(cfg *config.Config) (dirs, error) {
	var d dirs
	var err error
	if cfg.Paths.Data != "" {
		for name, target := range map[string]*string{
			"handlers": &d.handlers,
			"profiles": &d.profiles,
			"tmp":      &d.session,
		} {
			*target = filepath.Join(cfg.Paths.Data, name)
			if err := os.MkdirAll(*target, 0o755); err != nil {
				return dirs{}, err
			}
		}
	} else {
		if d.handlers, err = paths.HandlerDir(); err != nil {
			return dirs{}, err
		}
		if d.profiles, err = paths.ProfileDir(); err != nil {
			return dirs{}, err
		}
		if d.session, err = paths.SessionTmpDir(); err != nil {
			return dirs{}, err
		}
	}
	// Mount points and the session journal live one level down so stale
	// cleanup scans a stable location.
	d.session = filepath.Join(d.session, "session")
	if err := os.MkdirAll(d.session, 0o755); err != nil {
		return dirs{}, err
	}

	if cfg.Paths.Resources != "" {
		d.resources = cfg.Paths.Resources
	} else if d.resources, err = paths.ResourcesRoot(); err != nil {
		return dirs{}, err
	}
	return d, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// loadHandler accepts either a YAML path or a bare name resolved under
// the handler directory.
func loadHandler(ref, handlerDir string) (*handler.Handler, error) {
	if strings.ContainsRune(ref, os.PathSeparator) || strings.HasSuffix(ref, ".yaml") || strings.HasSuffix(ref, ".yml") {
		return handler.Load(ref)
	}
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(handlerDir, ref+ext)
		if _, err := os.Stat(path); err == nil {
			return handler.Load(path)
		}
	}
	return nil, fmt.Errorf("handler %q not found under %s", ref, handlerDir)
}

func resolveGameRoot(override string, h *handler.Handler) (string, error) {
	if override != "" {
		return platform.Manual{Path: override}.GameRoot()
	}
	if h.GameRoot != "" {
		return platform.Manual{Path: h.GameRoot}.GameRoot()
	}
	if h.SteamAppID != 0 {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		steamDir, err := platform.DetectSteamDir(home)
		if err != nil {
			return "", err
		}
		return platform.Steam{Dir: steamDir, AppID: h.SteamAppID}.GameRoot()
	}
	return "", fmt.Errorf("handler %q has neither game_root nor steam_appid; pass --game-root", h.Name)
}

func choosePreset(presets *wm.Presets, flag string, cfg *config.Config, players int) (wm.Preset, error) {
	if flag != "" {
		return presets.Get(flag)
	}
	if id, ok := cfg.Layout.Presets[players]; ok {
		return presets.Get(id)
	}
	return presets.DefaultFor(players)
}

// parseDeviceFlags splits each --devices occurrence into one instance's
// evdev assignment. Either no occurrences (no device restriction) or
// exactly one per player.
func parseDeviceFlags(flags []string, players int) ([][]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	if len(flags) != players {
		return nil, fmt.Errorf("%d --devices flags for %d players (repeat one per player)", len(flags), players)
	}
	assigned := make([][]string, players)
	for i, f := range flags {
		for _, path := range strings.Split(f, ",") {
			path = strings.TrimSpace(path)
			if path != "" {
				assigned[i] = append(assigned[i], path)
			}
		}
	}
	return assigned, nil
}

func resolvePause(flag float64, h *handler.Handler, cfg *config.Config) time.Duration {
	// An explicit --pause 0 disables the stagger rather than falling
	// through to the handler or config value.
	if flag == 0 {
		return launch.NoPause
	}
	if flag > 0 {
		return time.Duration(flag * float64(time.Second))
	}
	if h.PauseBetweenStarts > 0 {
		return 0 // orchestrator uses the handler's value
	}
	return time.Duration(cfg.Launch.PauseBetweenStarts * float64(time.Second))
}

func newComposer(cfg *config.Config, logger *slog.Logger) (*overlay.Composer, error) {
	opts := []overlay.Option{overlay.WithLogger(logger)}
	if filepath.IsAbs(cfg.Binaries.FuseOverlayfs) {
		opts = append(opts, overlay.WithBinaries(cfg.Binaries.FuseOverlayfs, ""))
	}
	return overlay.NewComposer(opts...)
}

func printPresets(presets *wm.Presets) error {
	for players := 1; players <= 4; players++ {
		for _, p := range presets.ForPlayers(players) {
			fmt.Printf("%-16s %dp  %s\n", p.ID, p.Players, p.Name)
		}
	}
	return nil
}

func printProfiles(store *profile.Store) error {
	names, err := store.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No profiles yet. Profiles are created on first use.")
		return nil
	}
	for _, name := range names {
		fmt.Printf("%-24s steam64=%d port=%d\n", name, profile.SteamID(name), profile.ListenPort(name))
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
