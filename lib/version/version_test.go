// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"testing"
)

func restore(t *testing.T) {
	commit, dirty, buildTime := GitCommit, GitDirty, BuildTime
	t.Cleanup(func() { GitCommit, GitDirty, BuildTime = commit, dirty, buildTime })
}

func TestApplySettingsFillsUnsetValues(t *testing.T) {
	restore(t)
	GitCommit, GitDirty, BuildTime = "unknown", "false", "unknown"

	applySettings([]debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef"},
		{Key: "vcs.modified", Value: "true"},
		{Key: "vcs.time", Value: "2026-03-04T05:06:07Z"},
	})

	if GitCommit != "0123456" {
		t.Errorf("GitCommit = %q, want 0123456", GitCommit)
	}
	if GitDirty != "true" {
		t.Errorf("GitDirty = %q, want true", GitDirty)
	}
	if BuildTime != "2026-03-04T05:06:07Z" {
		t.Errorf("BuildTime = %q", BuildTime)
	}
}

func TestApplySettingsKeepsLinkerValues(t *testing.T) {
	restore(t)
	GitCommit, BuildTime = "feedbee", "2026-01-01T00:00:00Z"

	applySettings([]debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef"},
		{Key: "vcs.time", Value: "2026-03-04T05:06:07Z"},
	})

	if GitCommit != "feedbee" || BuildTime != "2026-01-01T00:00:00Z" {
		t.Errorf("linker values overwritten: %s %s", GitCommit, BuildTime)
	}
}

func TestInfoFormat(t *testing.T) {
	restore(t)
	stamp()
	GitCommit, GitDirty, BuildTime = "abc1234", "true", "2026-02-10T00:00:00Z"

	want := Version + " (abc1234-dirty, 2026-02-10T00:00:00Z)"
	if got := Info(); got != want {
		t.Errorf("Info() = %q, want %q", got, want)
	}
	full := Full()
	if !strings.HasPrefix(full, want) || !strings.Contains(full, runtime.Version()) {
		t.Errorf("Full() = %q", full)
	}
	if Short() != Version {
		t.Errorf("Short() = %q", Short())
	}
}
