// Copyright 2026 The Splitrun Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code injects
// Real(); tests inject a Fake whose Sleep calls advance a virtual clock
// synchronously, so poll/backoff loops run deterministically and without
// real delays.
package clock

import (
	"sync"
	"time"
)

// Clock is the subset of time operations splitrun components use. Every
// function that waits, polls, or staggers accepts a Clock instead of
// calling the time package directly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep pauses for at least duration d.
	Sleep(d time.Duration)

	// After returns a channel that receives the current time after d.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) Sleep(d time.Duration)                  { time.Sleep(d) }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Fake is a manually-driven Clock. Sleep advances the virtual time
// immediately and never blocks, which makes bounded retry loops terminate
// instantly in tests while still observing elapsed virtual time.
type Fake struct {
	mu  sync.Mutex
	now time.Time

	// SleepCalls records every duration passed to Sleep, in order.
	SleepCalls []time.Duration
}

// NewFake returns a Fake starting at a fixed reference time.
func NewFake() *Fake {
	return &Fake{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the current virtual time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Sleep advances the virtual clock by d without blocking.
func (f *Fake) Sleep(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	f.SleepCalls = append(f.SleepCalls, d)
}

// After advances the virtual clock by d and returns an already-fired
// channel carrying the new time.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now
	f.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Advance moves the virtual clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
