// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package host declares the facilities the recorder consumes from its
// host environment: page lookup, capture permission, agent injection,
// media encoding, and user-facing notifications. The recorder never
// implements these itself. Production wiring supplies them through
// hostbus (a remote host on the bus), statichost (a single-page host
// for the CLI), and media/ffmpeg. Tests use simhost.
package host
