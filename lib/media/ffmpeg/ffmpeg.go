// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ffmpeg implements [host.Media] with an ffmpeg subprocess.
//
// A capture handle names an ffmpeg input as "<format>:<input>", for
// example "x11grab::0.0" or "lavfi:testsrc=size=1280x720:rate=30". The
// recorder encodes VP8 (and Opus when audio is requested) into WebM on
// ffmpeg's stdout, and hands whatever bytes have accumulated to the
// segment callback once per flush interval. Stop sends SIGINT so
// ffmpeg writes a well-formed trailer; the final bytes are flushed
// before the stop callback fires.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/tabrecord/lib/clock"
	"github.com/bureau-foundation/tabrecord/lib/host"
)

// DefaultKillAfter is how long a stopping ffmpeg may take to exit
// after SIGINT before it is killed.
const DefaultKillAfter = 10 * time.Second

// Options configures Media.
type Options struct {
	// Binary is the ffmpeg executable. Defaults to "ffmpeg" on PATH.
	Binary string

	// AudioInput is an input spec for the audio track, used when a
	// stream asks for audio. Empty records video only.
	AudioInput string

	KillAfter time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Media opens ffmpeg-backed streams.
type Media struct {
	binary  string
	options Options
}

// New resolves the ffmpeg binary and returns a Media.
func New(options Options) (*Media, error) {
	if options.Binary == "" {
		options.Binary = "ffmpeg"
	}
	binary, err := exec.LookPath(options.Binary)
	if err != nil {
		return nil, fmt.Errorf("finding ffmpeg: %w", err)
	}
	if options.AudioInput != "" {
		if _, err := ParseInput(options.AudioInput); err != nil {
			return nil, fmt.Errorf("audio input: %w", err)
		}
	}
	if options.KillAfter <= 0 {
		options.KillAfter = DefaultKillAfter
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Media{binary: binary, options: options}, nil
}

// ParseInput turns "<format>:<input>" into ffmpeg input arguments.
func ParseInput(spec string) ([]string, error) {
	format, input, ok := strings.Cut(spec, ":")
	if !ok || format == "" || input == "" {
		return nil, fmt.Errorf("input %q is not <format>:<input>", spec)
	}
	return []string{"-f", format, "-i", input}, nil
}

// OpenStream validates the handle. The ffmpeg process itself starts
// with the recorder.
func (m *Media) OpenStream(ctx context.Context, handle host.CaptureHandle, constraints host.Constraints) (host.Stream, error) {
	if !constraints.Video {
		return nil, errors.New("ffmpeg: video track is required")
	}
	input, err := ParseInput(string(handle))
	if err != nil {
		return nil, err
	}
	stream := &Stream{input: input, video: constraints.Video}
	if constraints.Audio && m.options.AudioInput != "" {
		stream.audio, _ = ParseInput(m.options.AudioInput)
	}
	return stream, nil
}

// NewRecorder returns a recorder for stream. Only WebM output is
// supported.
func (m *Media) NewRecorder(stream host.Stream, options host.RecorderOptions) (host.Recorder, error) {
	ffmpegStream, ok := stream.(*Stream)
	if !ok {
		return nil, fmt.Errorf("ffmpeg: stream of type %T was not opened by this media", stream)
	}
	mediaType, _, err := mime.ParseMediaType(options.MimeType)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: mime type %q: %w", options.MimeType, err)
	}
	if mediaType != "video/webm" {
		return nil, fmt.Errorf("ffmpeg: unsupported mime type %q", mediaType)
	}
	return &Recorder{media: m, stream: ffmpegStream, options: options, state: host.RecorderInactive}, nil
}

// Stream holds the inputs of one capture. Stopping it kills a
// recorder that is still running.
type Stream struct {
	input []string
	audio []string
	video bool

	mu       sync.Mutex
	recorder *Recorder
	stopped  bool
}

func (s *Stream) Stop() {
	s.mu.Lock()
	s.stopped = true
	recorder := s.recorder
	s.mu.Unlock()
	if recorder != nil {
		recorder.kill()
	}
}

// Recorder runs one ffmpeg process.
type Recorder struct {
	media   *Media
	stream  *Stream
	options host.RecorderOptions

	mu       sync.Mutex
	state    host.RecorderState
	process  *os.Process
	pending  bytes.Buffer
	stopping bool

	// killTimer ends a process that ignores SIGINT.
	killTimer *clock.Timer
}

// arguments builds the ffmpeg command line.
func (r *Recorder) arguments() []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	args = append(args, r.stream.input...)
	if r.stream.audio != nil {
		args = append(args, r.stream.audio...)
	}
	args = append(args, "-map", "0:v")
	args = append(args, "-c:v", "libvpx", "-deadline", "realtime", "-cpu-used", "8")
	if r.options.VideoBitrate > 0 {
		args = append(args, "-b:v", strconv.Itoa(r.options.VideoBitrate))
	}
	if r.stream.audio != nil {
		args = append(args, "-map", "1:a", "-c:a", "libopus")
		if r.options.AudioBitrate > 0 {
			args = append(args, "-b:a", strconv.Itoa(r.options.AudioBitrate))
		}
	} else {
		args = append(args, "-an")
	}
	return append(args, "-f", "webm", "pipe:1")
}

// Start launches ffmpeg and begins flushing segments every interval.
func (r *Recorder) Start(interval time.Duration, events host.RecorderEvents) error {
	if interval <= 0 {
		return errors.New("ffmpeg: flush interval must be positive")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == host.RecorderRecording || r.process != nil {
		return errors.New("ffmpeg: recorder already started")
	}

	r.stream.mu.Lock()
	if r.stream.stopped {
		r.stream.mu.Unlock()
		return errors.New("ffmpeg: stream already stopped")
	}
	r.stream.recorder = r
	r.stream.mu.Unlock()

	args := r.arguments()
	command := exec.Command(r.media.binary, args...)
	stdout, err := command.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	var stderr bytes.Buffer
	command.Stderr = &stderr
	if err := command.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}
	r.process = command.Process
	r.state = host.RecorderRecording

	logger := r.media.options.Logger.With("pid", command.Process.Pid)
	logger.Debug("ffmpeg started", "args", args)

	drained := make(chan struct{})
	go r.read(stdout, drained, logger)
	go r.run(command, &stderr, interval, events, drained, logger)
	return nil
}

func (r *Recorder) read(stdout io.Reader, drained chan<- struct{}, logger *slog.Logger) {
	defer close(drained)
	buffer := make([]byte, 64*1024)
	for {
		n, err := stdout.Read(buffer)
		if n > 0 {
			r.mu.Lock()
			r.pending.Write(buffer[:n])
			r.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("reading ffmpeg output failed", "error", err)
			}
			return
		}
	}
}

// run flushes on every tick until ffmpeg's output ends, then reaps the
// process, flushes the tail, and fires OnStop.
func (r *Recorder) run(command *exec.Cmd, stderr *bytes.Buffer, interval time.Duration, events host.RecorderEvents, drained <-chan struct{}, logger *slog.Logger) {
	ticker := r.media.options.Clock.NewTicker(interval)
loop:
	for {
		select {
		case <-ticker.C:
			r.flush(events.OnSegment)
		case <-drained:
			break loop
		}
	}
	ticker.Stop()

	err := command.Wait()
	r.flush(events.OnSegment)

	r.mu.Lock()
	stopping := r.stopping
	r.state = host.RecorderInactive
	if r.killTimer != nil {
		r.killTimer.Stop()
	}
	r.mu.Unlock()

	switch {
	case err != nil && !stopping:
		logger.Error("ffmpeg exited unexpectedly", "error", err, "stderr", strings.TrimSpace(stderr.String()))
	case err != nil:
		logger.Debug("ffmpeg stopped", "exit", err)
	default:
		logger.Debug("ffmpeg finished")
	}

	if events.OnStop != nil {
		events.OnStop()
	}
}

func (r *Recorder) flush(onSegment func([]byte)) {
	r.mu.Lock()
	if r.pending.Len() == 0 {
		r.mu.Unlock()
		return
	}
	segment := bytes.Clone(r.pending.Bytes())
	r.pending.Reset()
	r.mu.Unlock()
	if onSegment != nil {
		onSegment(segment)
	}
}

// Stop asks ffmpeg to finish. OnStop fires once it has exited.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.state != host.RecorderRecording || r.stopping {
		r.mu.Unlock()
		return
	}
	r.stopping = true
	process := r.process
	r.mu.Unlock()

	if err := process.Signal(os.Interrupt); err != nil {
		r.media.options.Logger.Warn("interrupting ffmpeg failed", "error", err)
	}
	r.mu.Lock()
	if r.state == host.RecorderRecording {
		r.killTimer = r.media.options.Clock.AfterFunc(r.media.options.KillAfter, r.kill)
	}
	r.mu.Unlock()
}

// kill ends a running ffmpeg immediately.
func (r *Recorder) kill() {
	r.mu.Lock()
	process := r.process
	running := r.state == host.RecorderRecording
	r.stopping = true
	r.mu.Unlock()
	if running && process != nil {
		process.Kill()
	}
}

func (r *Recorder) State() host.RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}
