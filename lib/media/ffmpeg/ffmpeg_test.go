// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ffmpeg

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/tabrecord/lib/host"
	"github.com/bureau-foundation/tabrecord/lib/testutil"
)

// fakeFFmpeg writes a shell script standing in for ffmpeg. It records
// its arguments next to itself and then runs body.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\nprintf '%s\\n' \"$@\" > \"$(dirname \"$0\")/args\"\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing fake ffmpeg: %v", err)
	}
	return path
}

func recordedArgs(t *testing.T, binary string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(filepath.Dir(binary), "args"))
	if err != nil {
		t.Fatalf("reading recorded args: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

type collector struct {
	mu       sync.Mutex
	segments [][]byte
	stopped  chan struct{}
}

func newCollector() *collector {
	return &collector{stopped: make(chan struct{})}
}

func (c *collector) events() host.RecorderEvents {
	return host.RecorderEvents{
		OnSegment: func(segment []byte) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.segments = append(c.segments, segment)
		},
		OnStop: func() { close(c.stopped) },
	}
}

func (c *collector) joined() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Join(c.segments, nil)
}

func startRecorder(t *testing.T, media *Media, constraints host.Constraints, events host.RecorderEvents) host.Recorder {
	t.Helper()
	stream, err := media.OpenStream(context.Background(), "lavfi:testsrc", constraints)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	recorder, err := media.NewRecorder(stream, host.RecorderOptions{
		MimeType:     "video/webm;codecs=vp8,opus",
		VideoBitrate: 2_500_000,
		AudioBitrate: 128_000,
	})
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if err := recorder.Start(10*time.Millisecond, events); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return recorder
}

func TestRecorderStreamsUntilInterrupted(t *testing.T) {
	binary := fakeFFmpeg(t, `trap 'printf tail; exit 255' INT
printf head
while :; do sleep 0.02; done`)
	media, err := New(Options{Binary: binary, Logger: testutil.Logger(t)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	output := newCollector()
	recorder := startRecorder(t, media, host.Constraints{Video: true}, output.events())
	if recorder.State() != host.RecorderRecording {
		t.Fatalf("State = %s after Start", recorder.State())
	}

	// Wait until the first bytes have been flushed as a segment.
	deadline := time.Now().Add(5 * time.Second) //nolint:realclock // subprocess output
	for len(output.joined()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond) //nolint:realclock // subprocess output
	}
	recorder.Stop()
	testutil.RequireClosed(t, output.stopped, 5*time.Second, "OnStop")

	if got := string(output.joined()); got != "headtail" {
		t.Errorf("recorded %q, want %q", got, "headtail")
	}
	if recorder.State() != host.RecorderInactive {
		t.Errorf("State = %s after stop", recorder.State())
	}

	args := recordedArgs(t, binary)
	for _, want := range [][]string{
		{"-f", "lavfi", "-i", "testsrc"},
		{"-b:v", "2500000"},
		{"-an"},
		{"-f", "webm", "pipe:1"},
	} {
		if !containsRun(args, want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}
}

func TestRecorderAddsAudioInput(t *testing.T) {
	binary := fakeFFmpeg(t, "printf x")
	media, err := New(Options{Binary: binary, AudioInput: "pulse:default", Logger: testutil.Logger(t)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	output := newCollector()
	startRecorder(t, media, host.Constraints{Video: true, Audio: true}, output.events())
	testutil.RequireClosed(t, output.stopped, 5*time.Second, "OnStop")

	args := recordedArgs(t, binary)
	for _, want := range [][]string{
		{"-f", "pulse", "-i", "default"},
		{"-map", "1:a", "-c:a", "libopus", "-b:a", "128000"},
	} {
		if !containsRun(args, want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}
	if slices.Contains(args, "-an") {
		t.Error("audio disabled although requested")
	}
}

func TestUnexpectedExitStillStops(t *testing.T) {
	binary := fakeFFmpeg(t, "printf partial; exit 1")
	media, err := New(Options{Binary: binary, Logger: testutil.Logger(t)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	output := newCollector()
	startRecorder(t, media, host.Constraints{Video: true}, output.events())

	testutil.RequireClosed(t, output.stopped, 5*time.Second, "OnStop after crash")
	if got := string(output.joined()); got != "partial" {
		t.Errorf("recorded %q, want %q", got, "partial")
	}
}

func TestStreamStopKillsRecorder(t *testing.T) {
	binary := fakeFFmpeg(t, `trap '' INT
while :; do sleep 0.02; done`)
	media, err := New(Options{Binary: binary, Logger: testutil.Logger(t)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stream, err := media.OpenStream(context.Background(), "lavfi:testsrc", host.Constraints{Video: true})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	recorder, err := media.NewRecorder(stream, host.RecorderOptions{MimeType: "video/webm"})
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	output := newCollector()
	if err := recorder.Start(10*time.Millisecond, output.events()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stream.Stop()
	testutil.RequireClosed(t, output.stopped, 5*time.Second, "OnStop after kill")
}

func TestRejectsBadInputs(t *testing.T) {
	media, err := New(Options{Binary: fakeFFmpeg(t, "exit 0"), Logger: testutil.Logger(t)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := media.OpenStream(context.Background(), "no-format", host.Constraints{Video: true}); err == nil {
		t.Error("OpenStream accepted a handle without a format")
	}
	if _, err := media.OpenStream(context.Background(), "lavfi:testsrc", host.Constraints{Audio: true}); err == nil {
		t.Error("OpenStream accepted an audio-only stream")
	}
	stream, err := media.OpenStream(context.Background(), "lavfi:testsrc", host.Constraints{Video: true})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if _, err := media.NewRecorder(stream, host.RecorderOptions{MimeType: "video/mp4"}); err == nil {
		t.Error("NewRecorder accepted mp4")
	}
	if _, err := New(Options{Binary: "/nonexistent/ffmpeg"}); err == nil {
		t.Error("New accepted a missing binary")
	}
}

// containsRun reports whether want appears contiguously in args.
func containsRun(args, want []string) bool {
	for i := 0; i+len(want) <= len(args); i++ {
		if slices.Equal(args[i:i+len(want)], want) {
			return true
		}
	}
	return false
}
