// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/tabrecord/lib/bus"
	"github.com/bureau-foundation/tabrecord/lib/config"
	"github.com/bureau-foundation/tabrecord/lib/control"
	"github.com/bureau-foundation/tabrecord/lib/protocol"
	"github.com/bureau-foundation/tabrecord/lib/settings"
	"github.com/bureau-foundation/tabrecord/lib/testutil"
)

func TestParseAssignments(t *testing.T) {
	patch, err := parseAssignments([]string{"video_quality=low", "audio_enabled=false", "save_directory="})
	if err != nil {
		t.Fatalf("parseAssignments: %v", err)
	}
	if patch["video_quality"] != "low" || patch["audio_enabled"] != false || patch["save_directory"] != "" {
		t.Errorf("patch = %v", patch)
	}

	for _, args := range [][]string{nil, {"video_quality"}, {"=low"}, {"show_status_bar=maybe"}} {
		if _, err := parseAssignments(args); err == nil {
			t.Errorf("parseAssignments(%q) succeeded", args)
		}
	}
}

func TestPrintState(t *testing.T) {
	var output bytes.Buffer
	printState(&output, protocol.RecordingState{Recording: true, PageID: "page", Generation: 3}, false)
	printState(&output, protocol.RecordingState{Generation: 4}, false)
	printState(&output, protocol.RecordingState{Generation: 5}, true)

	lines := strings.Split(strings.TrimSpace(output.String()), "\n")
	want := []string{"recording page (generation 3)", "idle (generation 4)", `{"recording":false,"generation":5}`}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Errorf("lines = %q, want %q", lines, want)
	}
}

func TestPrintSettings(t *testing.T) {
	var output bytes.Buffer
	if err := printSettings(&output, settings.Defaults()); err != nil {
		t.Fatalf("printSettings: %v", err)
	}
	text := output.String()
	if !strings.HasPrefix(text, "audio_enabled") || !strings.Contains(text, "video_quality    high") {
		t.Errorf("output =\n%s", text)
	}
}

func TestRootListsCommands(t *testing.T) {
	var output bytes.Buffer
	root := Root()
	root.Output = &output
	if err := root.Execute([]string{"--help"}); err != nil {
		t.Fatalf("Execute(--help): %v", err)
	}
	for _, name := range []string{"orchestrator", "host", "start", "stop", "status", "settings", "version"} {
		if !strings.Contains(output.String(), "  "+name) {
			t.Errorf("help missing %q", name)
		}
	}
}

func TestRunOrchestratorServesControlSurfaces(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Bus.SocketDirectory = testutil.SocketDir(t)
	cfg.Persist.Directory = filepath.Join(root, "videos")
	cfg.Settings.File = filepath.Join(root, "settings.jsonc")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}

	logger := testutil.Logger(t)
	socket, err := bus.NewSocket(bus.SocketOptions{Directory: cfg.Bus.SocketDirectory, Timeout: 5 * time.Second, Logger: logger})
	if err != nil {
		t.Fatalf("NewSocket: %v", err)
	}
	env := &environment{config: cfg, logger: logger, bus: socket}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runOrchestrator(ctx, env) }()
	defer func() {
		cancel()
		if err := testutil.RequireReceive(t, done, 5*time.Second, "orchestrator did not exit"); err != nil {
			t.Errorf("runOrchestrator: %v", err)
		}
	}()

	deadline := time.Now().Add(5 * time.Second) //nolint:realclock // waiting on a socket file
	for {
		if _, err := os.Stat(socket.Path(protocol.AddressOrchestrator)); err == nil {
			break
		}
		if time.Now().After(deadline) { //nolint:realclock // waiting on a socket file
			t.Fatal("orchestrator socket never appeared")
		}
		time.Sleep(10 * time.Millisecond) //nolint:realclock // waiting on a socket file
	}

	mirror, err := control.Open(ctx, socket, control.Options{Logger: logger})
	if err != nil {
		t.Fatalf("control.Open: %v", err)
	}
	defer mirror.Close()

	if mirror.Recording() {
		t.Error("fresh orchestrator reports recording")
	}
	current, err := mirror.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if current.Shortcut != settings.DefaultShortcut {
		t.Errorf("first-run shortcut = %q", current.Shortcut)
	}

	updated, err := mirror.UpdateSettings(ctx, map[string]any{settings.KeyVideoQuality: "medium"})
	if err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if updated.VideoQuality != settings.QualityMedium {
		t.Errorf("video_quality = %q", updated.VideoQuality)
	}
	stored, err := settings.Load(ctx, settings.NewFileStore(cfg.Settings.File))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stored.VideoQuality != settings.QualityMedium {
		t.Errorf("stored video_quality = %q", stored.VideoQuality)
	}
}
