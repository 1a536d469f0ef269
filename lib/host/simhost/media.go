// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package simhost

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bureau-foundation/tabrecord/lib/host"
)

// Tab simulates the page-side host: media capture, alerts, and the
// recording indicator.
type Tab struct {
	mu sync.Mutex

	openErr     error
	recorderErr error
	startHook   func(*Recorder)
	streams     []*Stream
	recorders   []*Recorder
	alerts      []string
	indicator   []bool
}

// NewTab returns a tab whose media calls succeed.
func NewTab() *Tab {
	return &Tab{}
}

// FailOpen makes OpenStream fail with err.
func (t *Tab) FailOpen(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.openErr = err
}

// FailRecorder makes NewRecorder fail with err.
func (t *Tab) FailRecorder(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recorderErr = err
}

// OnRecorderStart runs hook inside every Recorder.Start, after the
// recorder is running and before Start returns.
func (t *Tab) OnRecorderStart(hook func(*Recorder)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startHook = hook
}

func (t *Tab) OpenStream(ctx context.Context, handle host.CaptureHandle, constraints host.Constraints) (host.Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openErr != nil {
		return nil, t.openErr
	}
	if handle == "" {
		return nil, errors.New("simhost: empty capture handle")
	}
	stream := &Stream{Handle: handle, Constraints: constraints}
	t.streams = append(t.streams, stream)
	return stream, nil
}

func (t *Tab) NewRecorder(stream host.Stream, options host.RecorderOptions) (host.Recorder, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.recorderErr != nil {
		return nil, t.recorderErr
	}
	recorder := &Recorder{Options: options, stream: stream.(*Stream), started: make(chan struct{}), onStart: t.startHook}
	t.recorders = append(t.recorders, recorder)
	return recorder, nil
}

func (t *Tab) Alert(ctx context.Context, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alerts = append(t.alerts, message)
}

func (t *Tab) SetRecording(recording bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.indicator = append(t.indicator, recording)
}

// Streams returns every stream opened so far.
func (t *Tab) Streams() []*Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Stream(nil), t.streams...)
}

// Recorders returns every recorder created so far.
func (t *Tab) Recorders() []*Recorder {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Recorder(nil), t.recorders...)
}

// LastRecorder returns the most recent recorder, or nil.
func (t *Tab) LastRecorder() *Recorder {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.recorders) == 0 {
		return nil
	}
	return t.recorders[len(t.recorders)-1]
}

// Alerts returns every alert shown so far.
func (t *Tab) Alerts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.alerts...)
}

// Indicator returns every indicator change so far.
func (t *Tab) Indicator() []bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]bool(nil), t.indicator...)
}

// Stream is a simulated media stream.
type Stream struct {
	Handle      host.CaptureHandle
	Constraints host.Constraints

	mu      sync.Mutex
	stopped bool
}

func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

// Stopped reports whether Stop was called.
func (s *Stream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Recorder is a simulated encoder. Tests feed it segments with Emit.
type Recorder struct {
	Options host.RecorderOptions

	stream  *Stream
	started chan struct{}
	onStart func(*Recorder)

	mu       sync.Mutex
	state    host.RecorderState
	interval time.Duration
	events   host.RecorderEvents
	stops    int
}

func (r *Recorder) Start(interval time.Duration, events host.RecorderEvents) error {
	r.mu.Lock()
	if r.state == host.RecorderRecording {
		r.mu.Unlock()
		return errors.New("simhost: recorder already started")
	}
	r.state = host.RecorderRecording
	r.interval = interval
	r.events = events
	close(r.started)
	r.mu.Unlock()
	if r.onStart != nil {
		r.onStart(r)
	}
	return nil
}

// Started is closed once Start has been called.
func (r *Recorder) Started() <-chan struct{} { return r.started }

// Interval returns the flush interval passed to Start.
func (r *Recorder) Interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// Emit delivers a segment as the encoder would.
func (r *Recorder) Emit(segment []byte) {
	r.mu.Lock()
	onSegment := r.events.OnSegment
	r.mu.Unlock()
	if onSegment != nil {
		onSegment(segment)
	}
}

// Stop marks the recorder inactive and fires OnStop on a new
// goroutine, as a browser encoder does.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.state != host.RecorderRecording {
		r.mu.Unlock()
		return
	}
	r.state = host.RecorderInactive
	r.stops++
	onStop := r.events.OnStop
	r.mu.Unlock()
	if onStop != nil {
		go onStop()
	}
}

func (r *Recorder) State() host.RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == "" {
		return host.RecorderInactive
	}
	return r.state
}

// Stops returns how many times Stop took effect.
func (r *Recorder) Stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}
