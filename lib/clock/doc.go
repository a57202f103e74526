// Copyright 2026 The Nyanstream Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock interface instead of calling time.Now,
// time.After, time.NewTicker, or time.Sleep directly. In production,
// Real() provides the standard library behavior. In tests, Fake()
// provides a deterministic clock that advances only when Advance is
// called.
//
// # Wiring Pattern
//
// Add a Clock field to structs that use time:
//
//	type Manager struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// In production:
//
//	m := &Manager{clock: clock.Real()}
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	m := &Manager{clock: c}
//	// ... start goroutines ...
//	c.WaitForTimers(1)               // wait for the goroutine to register its ticker
//	c.Advance(90 * time.Millisecond) // fire it deterministically
//
// When a goroutine calls After, NewTicker, or Sleep on a FakeClock, it
// registers a pending waiter. Use WaitForTimers to block until a
// specific number of waiters exist before calling Advance. This
// eliminates the race between timer registration and time advancement
// that plagues tests built on real sleeps.
package clock
