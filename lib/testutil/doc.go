// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for tabrecord packages.
//
// [SocketDir] creates a short directory under /tmp for bus sockets.
// Unix domain socket paths are limited to 108 bytes and t.TempDir()
// paths routinely exceed that once a bus address is appended.
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap the
// select-with-timeout safety valve so tests never block forever on a
// channel. Outside subprocess and socket-file waits, they are the only place
// tests use real wall-clock timeouts.
//
// [Logger] returns a slog.Logger that stays quiet unless a test fails.
//
// All helpers call t.Fatalf on failure.
package testutil
