// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import "fmt"

// The error types below classify launch failures by pipeline stage.
// All of them are session-fatal except LayoutError. Instance is the
// zero-based instance index, or -1 for session-wide failures.

// ValidationError is a precondition failure detected before any
// mutation.
type ValidationError struct {
	Instance int
	Err      error
}

func (e *ValidationError) Error() string { return stageError("validation", e.Instance, e.Err) }
func (e *ValidationError) Unwrap() error { return e.Err }

// BackendSetupError is a failure generating backend-injected files.
type BackendSetupError struct {
	Backend  string
	Instance int
	Err      error
}

func (e *BackendSetupError) Error() string {
	return stageError("backend "+e.Backend, e.Instance, e.Err)
}
func (e *BackendSetupError) Unwrap() error { return e.Err }

// OverlayError is a layer or mount failure.
type OverlayError struct {
	Instance int
	Err      error
}

func (e *OverlayError) Error() string { return stageError("overlay", e.Instance, e.Err) }
func (e *OverlayError) Unwrap() error { return e.Err }

// SandboxError is a device-masking or sandbox construction failure.
type SandboxError struct {
	Instance int
	Err      error
}

func (e *SandboxError) Error() string { return stageError("sandbox", e.Instance, e.Err) }
func (e *SandboxError) Unwrap() error { return e.Err }

// SpawnError is a process start failure.
type SpawnError struct {
	Instance int
	Err      error
}

func (e *SpawnError) Error() string { return stageError("spawn", e.Instance, e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }

// LayoutError is a window discovery or positioning failure. Unlike the
// other types it is advisory: the session continues with default
// placement.
type LayoutError struct {
	Instance int
	Err      error
}

func (e *LayoutError) Error() string { return stageError("layout", e.Instance, e.Err) }
func (e *LayoutError) Unwrap() error { return e.Err }

func stageError(stage string, instance int, err error) string {
	if instance < 0 {
		return fmt.Sprintf("%s: %v", stage, err)
	}
	return fmt.Sprintf("%s (instance %d): %v", stage, instance, err)
}
