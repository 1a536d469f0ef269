// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the
// tabrecord binary.
//
// [GitCommit], [GitDirty], [BuildTime], and [Version] may be injected
// at build time via -ldflags -X. When they are not, the VCS stamps the
// Go toolchain embeds (vcs.revision, vcs.modified, vcs.time) are used
// instead, so a plain "go install" still reports its commit.
//
//   - [Info] -- "0.1.0-dev (abc1234, 2026-02-10T...)" for the version command
//   - [Full] -- Info plus Go version and GOOS/GOARCH
//   - [Short] -- just the version number
package version
