// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

package wm

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/splitrun/splitrun/lib/clock"
)

const (
	kwinService   = "org.kde.KWin"
	kwinScripting = "/Scripting"
	kwinIface     = "org.kde.kwin.Scripting"

	// replyService is the bus name KWin scripts call back on.
	replyService = "io.splitrun.wm"
	replyPath    = dbus.ObjectPath("/io/splitrun/wm")

	// scriptTimeout bounds the wait for a script's reply. KWin runs
	// scripts on its main loop, so replies are fast unless the
	// compositor is wedged.
	scriptTimeout = 5 * time.Second
)

// KWin drives the compositor through its D-Bus scripting interface.
// KWin exposes no direct window-manipulation calls, so every operation
// is a short generated script: splitrun loads it, the script performs
// the operation and calls back with the result on the splitrun bus
// name, and the script is unloaded again.
type KWin struct {
	clock   clock.Clock
	run     func(js string) (string, error)
	conn    *dbus.Conn
	replies chan string
	seq     atomic.Int64
}

// replySink receives script results. Exported on the session bus under
// the splitrun reply name.
type replySink struct {
	replies chan string
}

func (r *replySink) Reply(payload string) *dbus.Error {
	select {
	case r.replies <- payload:
	default:
	}
	return nil
}

// NewKWin connects to the session bus and claims the reply name.
func NewKWin() (*KWin, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("session bus: %w", err)
	}
	k := &KWin{
		clock:   clock.Real(),
		conn:    conn,
		replies: make(chan string, 1),
	}
	sink := &replySink{replies: k.replies}
	if err := conn.Export(sink, replyPath, replyService); err != nil {
		conn.Close()
		return nil, fmt.Errorf("export reply sink: %w", err)
	}
	reply, err := conn.RequestName(replyService, dbus.NameFlagDoNotQueue)
	if err != nil || reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("claim bus name %s: %v", replyService, err)
	}
	k.run = k.runScript
	return k, nil
}

// Close releases the session bus connection.
func (k *KWin) Close() error {
	if k.conn == nil {
		return nil
	}
	return k.conn.Close()
}

// runScript loads a script into KWin, waits for its reply, and unloads
// it. Script names are unique per call so a stuck script from a failed
// run never collides with the next one.
func (k *KWin) runScript(js string) (string, error) {
	f, err := os.CreateTemp("", "splitrun-kwin-*.js")
	if err != nil {
		return "", err
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(js); err != nil {
		f.Close()
		return "", err
	}
	f.Close()

	name := "splitrun-" + strconv.FormatInt(k.seq.Add(1), 10)
	scripting := k.conn.Object(kwinService, kwinScripting)

	var id int32
	if err := scripting.Call(kwinIface+".loadScript", 0, f.Name(), name).Store(&id); err != nil {
		return "", fmt.Errorf("loadScript: %w", err)
	}
	defer scripting.Call(kwinIface+".unloadScript", 0, name)

	k.drainStale()
	if err := scripting.Call(kwinIface+".start", 0).Err; err != nil {
		return "", fmt.Errorf("start script: %w", err)
	}
	return k.awaitReply(name)
}

// drainStale discards a reply left behind by a script that answered
// after its caller had already timed out. Without this the next script
// would read the previous script's payload.
func (k *KWin) drainStale() {
	select {
	case <-k.replies:
	default:
	}
}

func (k *KWin) awaitReply(name string) (string, error) {
	select {
	case payload := <-k.replies:
		return payload, nil
	case <-k.clock.After(scriptTimeout):
		return "", fmt.Errorf("kwin script %s: no reply within %s", name, scriptTimeout)
	}
}

// reply is the JS epilogue sending a result back to splitrun.
func kwinReply(expr string) string {
	return fmt.Sprintf("callDBus(%q, %q, %q, \"Reply\", %s);",
		replyService, string(replyPath), replyService, expr)
}

func kwinListWindowsScript() string {
	return `var out = [];
var list = workspace.windowList();
for (var i = 0; i < list.length; ++i) {
    var w = list[i];
    out.push({
        handle: String(w.internalId),
        class: String(w.resourceClass),
        x: w.frameGeometry.x,
        y: w.frameGeometry.y,
        width: w.frameGeometry.width,
        height: w.frameGeometry.height,
        sequence: w.pid
    });
}
` + kwinReply("JSON.stringify(out)")
}

// kwinWithWindow wraps a body that runs with `w` bound to the window
// whose internalId matches handle. Replies "ok" or an error string.
func kwinWithWindow(handle, body string) string {
	return fmt.Sprintf(`var list = workspace.windowList();
var found = false;
for (var i = 0; i < list.length; ++i) {
    var w = list[i];
    if (String(w.internalId) !== %q) { continue; }
    found = true;
    %s
    break;
}
`, handle, body) + kwinReply(`found ? "ok" : "error: window not found"`)
}

func kwinFloatScript(handle string) string {
	return kwinWithWindow(handle, `w.fullScreen = false;
    w.setMaximize(false, false);
    w.noBorder = true;`)
}

func kwinSetSizeScript(handle string, width, height int) string {
	return kwinWithWindow(handle, fmt.Sprintf(`var g = w.frameGeometry;
    w.frameGeometry = { x: g.x, y: g.y, width: %d, height: %d };`, width, height))
}

func kwinMoveByDeltaScript(handle string, dx, dy int) string {
	return kwinWithWindow(handle, fmt.Sprintf(`var g = w.frameGeometry;
    w.frameGeometry = { x: g.x + %d, y: g.y + %d, width: g.width, height: g.height };`, dx, dy))
}

func kwinListOutputsScript() string {
	return `var out = [];
for (var i = 0; i < workspace.screens.length; ++i) {
    var s = workspace.screens[i];
    out.push({
        name: String(s.name),
        x: s.geometry.x,
        y: s.geometry.y,
        width: s.geometry.width,
        height: s.geometry.height
    });
}
` + kwinReply("JSON.stringify(out)")
}

func (k *KWin) ListWindows() ([]WindowInfo, error) {
	payload, err := k.run(kwinListWindowsScript())
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Handle   string `json:"handle"`
		Class    string `json:"class"`
		X        int    `json:"x"`
		Y        int    `json:"y"`
		Width    int    `json:"width"`
		Height   int    `json:"height"`
		Sequence int64  `json:"sequence"`
	}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("parse window list: %w", err)
	}
	windows := make([]WindowInfo, 0, len(raw))
	for _, w := range raw {
		windows = append(windows, WindowInfo{
			Handle: w.Handle, Class: w.Class,
			X: w.X, Y: w.Y, Width: w.Width, Height: w.Height,
			Sequence: w.Sequence,
		})
	}
	return windows, nil
}

func (k *KWin) MoveToFloating(w WindowInfo) error {
	return k.runOK(kwinFloatScript(w.Handle))
}

func (k *KWin) SetSize(w WindowInfo, width, height int) error {
	return k.runOK(kwinSetSizeScript(w.Handle, width, height))
}

func (k *KWin) MoveByDelta(w WindowInfo, dx, dy int) error {
	return k.runOK(kwinMoveByDeltaScript(w.Handle, dx, dy))
}

func (k *KWin) ListOutputs() ([]Monitor, error) {
	payload, err := k.run(kwinListOutputsScript())
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Name   string `json:"name"`
		X      int    `json:"x"`
		Y      int    `json:"y"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("parse outputs: %w", err)
	}
	monitors := make([]Monitor, 0, len(raw))
	for _, m := range raw {
		monitors = append(monitors, Monitor{Name: m.Name, X: m.X, Y: m.Y, Width: m.Width, Height: m.Height})
	}
	return monitors, nil
}

func (k *KWin) runOK(js string) error {
	payload, err := k.run(js)
	if err != nil {
		return err
	}
	if strings.TrimSpace(payload) != "ok" {
		return fmt.Errorf("kwin script: %s", payload)
	}
	return nil
}
