// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"github.com/splitrun/splitrun/backend"
	"github.com/splitrun/splitrun/overlay"
	"github.com/splitrun/splitrun/profile"
	"github.com/splitrun/splitrun/sandbox"
)

// State tracks an instance through the launch pipeline.
type State int

const (
	StatePending State = iota
	StateBackendSetup
	StateMounted
	StateSpawned
	StateWindowBound
	StatePositioned
	StateExited
	StateFailed
)

var stateNames = map[State]string{
	StatePending:      "pending",
	StateBackendSetup: "backend-setup",
	StateMounted:      "mounted",
	StateSpawned:      "spawned",
	StateWindowBound:  "window-bound",
	StatePositioned:   "positioned",
	StateExited:       "exited",
	StateFailed:       "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Instance is one player's execution unit for the duration of a
// session. The orchestrator owns it exclusively.
type Instance struct {
	backend.Instance

	State State

	// Width and Height are the instance's window pixels, fixed before
	// spawn because gamescope needs them on its command line.
	Width, Height int

	// AssignedDevices are the evdev paths this instance may see.
	AssignedDevices []string

	// Plan and Merged are set once the overlay is composed.
	Plan   *overlay.Plan
	Merged string

	// Spec is the assembled spawn command.
	Spec *sandbox.Spec

	// lock holds the profile's write-layer flock from mount to unmount.
	lock *profile.WriteLayerLock

	proc process
}

// process is a spawned game process. The test suite substitutes fakes;
// production uses os/exec via startSpec.
type process interface {
	Pid() int
	Kill() error
	Wait() error
}
