// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

package wm

import (
	"strings"
	"testing"

	"github.com/splitrun/splitrun/lib/clock"
)

// newFakeKWin returns a KWin whose script runner is replaced. The
// recorder captures each generated script; the reply function decides
// what the "compositor" answers.
func newFakeKWin(reply func(js string) (string, error)) (*KWin, *[]string) {
	var scripts []string
	k := &KWin{}
	k.run = func(js string) (string, error) {
		scripts = append(scripts, js)
		return reply(js)
	}
	return k, &scripts
}

func TestKWinListWindows(t *testing.T) {
	k, scripts := newFakeKWin(func(string) (string, error) {
		return `[
  {"handle": "{1f3a}", "class": "gamescope", "x": 5, "y": 6, "width": 640, "height": 480, "sequence": 5001}
]`, nil
	})

	windows, err := k.ListWindows()
	if err != nil {
		t.Fatalf("ListWindows: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("got %d windows", len(windows))
	}
	w := windows[0]
	if w.Handle != "{1f3a}" || w.Class != "gamescope" || w.Sequence != 5001 {
		t.Errorf("window = %+v", w)
	}

	js := (*scripts)[0]
	for _, want := range []string{"workspace.windowList()", "internalId", "resourceClass", "frameGeometry", "callDBus"} {
		if !strings.Contains(js, want) {
			t.Errorf("list script missing %q", want)
		}
	}
}

func TestKWinListOutputs(t *testing.T) {
	k, _ := newFakeKWin(func(string) (string, error) {
		return `[{"name": "DP-1", "x": 0, "y": 0, "width": 1920, "height": 1080}]`, nil
	})
	monitors, err := k.ListOutputs()
	if err != nil || len(monitors) != 1 || monitors[0].Width != 1920 {
		t.Fatalf("monitors = %+v, err %v", monitors, err)
	}
}

func TestKWinGeometryScripts(t *testing.T) {
	k, scripts := newFakeKWin(func(string) (string, error) { return "ok", nil })
	w := WindowInfo{Handle: "{1f3a}"}

	if err := k.MoveToFloating(w); err != nil {
		t.Fatal(err)
	}
	if err := k.SetSize(w, 960, 540); err != nil {
		t.Fatal(err)
	}
	if err := k.MoveByDelta(w, -12, 7); err != nil {
		t.Fatal(err)
	}

	float, size, move := (*scripts)[0], (*scripts)[1], (*scripts)[2]
	if !strings.Contains(float, "w.fullScreen = false") || !strings.Contains(float, `"{1f3a}"`) {
		t.Errorf("float script: %s", float)
	}
	if !strings.Contains(size, "width: 960, height: 540") {
		t.Errorf("resize script: %s", size)
	}
	if !strings.Contains(move, "g.x + -12") || !strings.Contains(move, "g.y + 7") {
		t.Errorf("move script: %s", move)
	}
}

func TestKWinScriptErrorSurfaced(t *testing.T) {
	k, _ := newFakeKWin(func(string) (string, error) {
		return "error: window not found", nil
	})
	err := k.SetSize(WindowInfo{Handle: "{gone}"}, 1, 1)
	if err == nil || !strings.Contains(err.Error(), "window not found") {
		t.Fatalf("script error not surfaced: %v", err)
	}
}

func TestKWinStaleReplyDiscarded(t *testing.T) {
	// A script that answers after its caller timed out leaves its
	// payload buffered. The next script must not read it as its own
	// reply.
	k := &KWin{clock: clock.Real(), replies: make(chan string, 1)}
	sink := &replySink{replies: k.replies}

	sink.Reply(`[{"handle": "{stale}"}]`)
	k.drainStale()
	sink.Reply("ok")

	payload, err := k.awaitReply("splitrun-2")
	if err != nil {
		t.Fatalf("awaitReply: %v", err)
	}
	if payload != "ok" {
		t.Fatalf("got previous script's payload %q, want \"ok\"", payload)
	}
}

func TestKWinReplyTimeout(t *testing.T) {
	k := &KWin{clock: clock.NewFake(), replies: make(chan string, 1)}
	_, err := k.awaitReply("splitrun-1")
	if err == nil || !strings.Contains(err.Error(), "no reply within") {
		t.Fatalf("timeout not reported: %v", err)
	}
}

func TestKWinReplyEpilogue(t *testing.T) {
	js := kwinReply(`"ok"`)
	for _, want := range []string{"callDBus", replyService, string(replyPath), "Reply"} {
		if !strings.Contains(js, want) {
			t.Errorf("reply epilogue missing %q: %s", want, js)
		}
	}
}
