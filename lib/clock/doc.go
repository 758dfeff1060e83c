// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction.
//
// Every timer in the collaboration engine — the cursor sampling cadence,
// the presence idle check, the transport reconnect backoff — goes through
// a Clock instead of the time package, so tests can drive time
// deterministically with a FakeClock.
//
// Production code injects Real(). Tests inject Fake(initial), start the
// code under test, call WaitForTimers to synchronize with timer
// registration, then Advance to fire timers in deadline order:
//
//	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	service := NewPresenceService(clk, ...)
//	service.Start()
//	clk.WaitForTimers(1)
//	clk.Advance(60 * time.Second) // idle threshold crossed
package clock
