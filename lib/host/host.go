// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"context"
	"errors"
	"time"
)

// Page is a capturable page.
type Page struct {
	ID    string
	URL   string
	Title string
}

// CaptureHandle is an opaque single-use capture authorization. The
// empty handle means the user dismissed the permission prompt.
type CaptureHandle string

// SourceKind names a class of capture source offered to the user.
type SourceKind string

const (
	SourceTab    SourceKind = "tab"
	SourceAudio  SourceKind = "audio"
	SourceScreen SourceKind = "screen"
	SourceWindow SourceKind = "window"
)

// ErrAgentPresent is returned by InjectAgent when the page already has
// an agent. Callers treat it as success.
var ErrAgentPresent = errors.New("host: agent already present")

// PageResolver finds the page the user is looking at.
type PageResolver interface {
	// ActivePage returns the foreground page, or nil if there is none.
	ActivePage(ctx context.Context) (*Page, error)
}

// CaptureBroker issues capture handles through a user prompt.
type CaptureBroker interface {
	RequestCaptureHandle(ctx context.Context, sources []SourceKind, page Page) (CaptureHandle, error)
}

// AgentInjector loads a capture agent into a page. Without force, a
// page that already has an agent yields ErrAgentPresent.
type AgentInjector interface {
	InjectAgent(ctx context.Context, pageID string, force bool) error
}

// Notifier shows desktop notifications.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Alerter shows a blocking alert inside the captured page.
type Alerter interface {
	Alert(ctx context.Context, message string)
}

// Indicator shows or hides the in-page recording indicator.
type Indicator interface {
	SetRecording(recording bool)
}

// Constraints selects the tracks of a media stream.
type Constraints struct {
	Video bool
	Audio bool
}

// RecorderOptions configures the encoder. Bitrates are constant
// targets in bits per second.
type RecorderOptions struct {
	MimeType     string
	VideoBitrate int
	AudioBitrate int
}

// RecorderEvents are the recorder callbacks. OnSegment receives each
// encoded segment as it is flushed. OnStop fires once, asynchronously,
// after the final segment.
type RecorderEvents struct {
	OnSegment func(segment []byte)
	OnStop    func()
}

// RecorderState mirrors the encoder's lifecycle.
type RecorderState string

const (
	RecorderInactive  RecorderState = "inactive"
	RecorderRecording RecorderState = "recording"
)

// Stream is an open media stream.
type Stream interface {
	// Stop releases every track.
	Stop()
}

// Recorder encodes a stream into segments.
type Recorder interface {
	// Start begins encoding, flushing a segment every interval.
	Start(interval time.Duration, events RecorderEvents) error

	// Stop requests the encoder to stop. OnStop fires later.
	Stop()

	State() RecorderState
}

// Media opens streams and builds recorders.
type Media interface {
	OpenStream(ctx context.Context, handle CaptureHandle, constraints Constraints) (Stream, error)
	NewRecorder(stream Stream, options RecorderOptions) (Recorder, error)
}
