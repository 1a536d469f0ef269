// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for tabrecord.
//
// Configuration is loaded from a single file named by either the
// TABRECORD_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There is no file discovery. [Resolve] is the
// CLI entry point: it prefers the flag, then the environment variable,
// and otherwise uses [Default] so a fresh machine can record without
// writing a file first.
//
// The file may contain environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches. A section is decoded over the base
// config, so it may set any field. Production additionally requires
// age recipients for saved recordings.
//
// ${VAR} and ${VAR:-default} patterns are expanded in path fields
// after loading. No other environment variables override config
// values.
//
// Durations are written as Go duration strings ("30s", "500ms") and
// parsed by the typed accessors such as [BusConfig.RequestTimeoutDuration].
//
// This package depends on no other tabrecord packages.
package config
