// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

// Package launch orchestrates a split-screen session end to end:
// validate everything, build backend layers and overlay mounts for each
// instance concurrently, spawn the sandboxed processes one at a time,
// then hand the windows to the layout engine.
//
// The pipeline is fail-fast through spawn: any validation, backend,
// overlay, or sandbox failure aborts the whole launch and unwinds in
// reverse order; a spawn failure additionally kills already-running
// siblings so no partial session lingers. Layout failures are the one
// exception: a mistiled window is still playable, so they are reported
// and the session keeps running.
package launch
