// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the recorder's injectable time source.
//
// Anything that waits (ack timeouts, the inject settle delay, stale
// transfer eviction, the ffmpeg flush ticker) takes a Clock instead of
// calling the time package. Production wiring passes Real(); tests
// pass Fake() and drive time explicitly:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go sender.Send(ctx, data)
//	fake.WaitForTimers(1)          // sender is now waiting for an ack
//	fake.Advance(30 * time.Second) // ack timeout fires
//
// WaitForTimers closes the race between a goroutine registering a
// timer and the test advancing past it.
package clock
