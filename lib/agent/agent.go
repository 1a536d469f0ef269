// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/bureau-foundation/tabrecord/lib/bus"
	"github.com/bureau-foundation/tabrecord/lib/clock"
	"github.com/bureau-foundation/tabrecord/lib/host"
	"github.com/bureau-foundation/tabrecord/lib/protocol"
	"github.com/bureau-foundation/tabrecord/lib/settings"
	"github.com/bureau-foundation/tabrecord/lib/transfer"
)

// Alerts shown in the page.
const (
	alertStartFailed = "Recording failed. Make sure the necessary permissions are granted and the page is not a browser-internal page."
	alertNoData      = "Recording failed: no data was captured."
	alertDelivery    = "Error processing recording: "
)

// Options configures an Agent.
type Options struct {
	// PageID identifies the page; the agent attaches at
	// protocol.AgentAddress(PageID).
	PageID string

	// Media opens the capture stream for a handle and creates the
	// encoder that records it.
	Media host.Media

	// Alerter shows in-page messages when a capture fails to start or
	// its delivery fails. Nil drops them.
	Alerter host.Alerter

	// Indicator, if set, shows the in-page recording indicator while
	// the status bar setting is on.
	Indicator host.Indicator

	// Transfer configures delivery to the orchestrator. Its Clock and
	// Logger default to the agent's.
	Transfer transfer.SenderOptions

	Clock  clock.Clock
	Logger *slog.Logger
}

// Agent is a capture agent attached to the bus.
//
// A session ends when the encoder stops, whether asked to by
// stop_capture or on its own because the user ended the share. The
// agent then either delivers the recording or tells the orchestrator
// with abort_transfer that nothing is coming. It aborts when the
// recording is empty, when begin_transfer was refused, and when
// delivery failed locally before the orchestrator answered. It does
// not abort after a remote save or finalize failure, since the
// orchestrator cleared its state when it returned that error.
type Agent struct {
	pageID    string
	media     host.Media
	alerter   host.Alerter
	indicator host.Indicator
	logger    *slog.Logger

	// ctx bounds deliveries. Cancelled by Close after the last
	// session is released.
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	conn          bus.Conn
	sender        *transfer.Sender
	session       *session
	showIndicator bool
	indicatorOn   bool
}

// session is one capture: a stream, its encoder, and the segments
// buffered so far.
type session struct {
	id          string
	handle      host.CaptureHandle
	contentType string
	stream      host.Stream
	recorder    host.Recorder
	segments    [][]byte

	// done is closed once the session is released.
	done chan struct{}
}

// Attach creates an agent and attaches it to b.
func Attach(b bus.Bus, options Options) (*Agent, error) {
	if options.PageID == "" {
		return nil, errors.New("agent: page ID is required")
	}
	if options.Media == nil {
		return nil, errors.New("agent: media is required")
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	logger := options.Logger.With("page_id", options.PageID)

	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		pageID:        options.PageID,
		media:         options.Media,
		alerter:       options.Alerter,
		indicator:     options.Indicator,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
		showIndicator: true,
	}

	mux := bus.NewMux()
	mux.Handle(protocol.ActionStartCapture, a.handleStartCapture)
	mux.Handle(protocol.ActionStopCapture, a.handleStopCapture)
	mux.Handle(protocol.ActionRecordingStateChanged, a.handleRecordingStateChanged)
	mux.Handle(protocol.ActionSettingsUpdated, a.handleSettingsUpdated)

	conn, err := b.Attach(protocol.AgentAddress(options.PageID), mux.Serve)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("attaching agent for page %s: %w", options.PageID, err)
	}

	senderOptions := options.Transfer
	if senderOptions.Clock == nil {
		senderOptions.Clock = options.Clock
	}
	if senderOptions.Logger == nil {
		senderOptions.Logger = logger
	}

	a.mu.Lock()
	a.conn = conn
	a.sender = transfer.NewSender(conn, protocol.AddressOrchestrator, senderOptions)
	a.mu.Unlock()

	logger.Debug("capture agent attached", "address", conn.Address())
	return a, nil
}

// PageID returns the page this agent records.
func (a *Agent) PageID() string { return a.pageID }

// BeginSession opens a stream on the request's capture handle and
// starts the encoder. It fails with protocol.ErrSessionActive while a
// session exists and with protocol.ErrStreamAcquisition when the stream
// or encoder cannot be set up, leaving no session behind.
func (a *Agent) BeginSession(ctx context.Context, request protocol.StartCapture) error {
	if request.MimeType == "" {
		request.MimeType = protocol.DefaultMimeType
	}
	if request.FlushInterval <= 0 {
		request.FlushInterval = protocol.DefaultFlushInterval
	}

	a.mu.Lock()
	if a.session != nil {
		a.mu.Unlock()
		return protocol.ErrSessionActive
	}
	s := &session{
		id:          uuid.NewString(),
		handle:      host.CaptureHandle(request.Handle),
		contentType: request.MimeType,
		done:        make(chan struct{}),
	}
	// Reserve the slot so a concurrent start sees SessionActive.
	a.session = s
	a.showIndicator = request.ShowIndicator
	a.mu.Unlock()

	logger := a.logger.With("session_id", s.id)

	stream, err := a.media.OpenStream(ctx, s.handle, host.Constraints{Video: true, Audio: request.Audio})
	if err != nil {
		a.discard(s)
		return protocol.Errorf(protocol.CodeStreamAcquisition, "opening stream: %w", err)
	}

	recorder, err := a.media.NewRecorder(stream, host.RecorderOptions{
		MimeType:     request.MimeType,
		VideoBitrate: request.VideoBitrate,
		AudioBitrate: request.AudioBitrate,
	})
	if err != nil {
		stream.Stop()
		a.discard(s)
		return protocol.Errorf(protocol.CodeStreamAcquisition, "creating recorder: %w", err)
	}

	a.mu.Lock()
	s.stream = stream
	s.recorder = recorder
	a.mu.Unlock()

	err = recorder.Start(request.FlushInterval, host.RecorderEvents{
		OnSegment: func(segment []byte) { a.appendSegment(s, segment) },
		OnStop:    func() { a.finalize(s) },
	})
	if err != nil {
		stream.Stop()
		a.discard(s)
		return protocol.Errorf(protocol.CodeStreamAcquisition, "starting recorder: %w", err)
	}

	logger.Info("capture started",
		"mime_type", request.MimeType,
		"audio", request.Audio,
		"video_bitrate", request.VideoBitrate,
		"flush_interval", request.FlushInterval,
	)
	return nil
}

// EndSession asks the encoder to stop. Delivery follows once it has
// flushed its last segment. Without an active recorder this does
// nothing.
func (a *Agent) EndSession() {
	a.mu.Lock()
	s := a.session
	var recorder host.Recorder
	if s != nil {
		recorder = s.recorder
	}
	a.mu.Unlock()
	if recorder == nil || recorder.State() != host.RecorderRecording {
		return
	}
	a.logger.Info("stopping capture", "session_id", s.id)
	recorder.Stop()
}

// Idle returns a channel that is closed once no session is active.
func (a *Agent) Idle() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return a.session.done
}

// Close stops any recording, waits for its delivery, and detaches.
func (a *Agent) Close() error {
	a.EndSession()
	<-a.Idle()
	a.cancel()
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	return conn.Close()
}

func (a *Agent) appendSegment(s *session, segment []byte) {
	if len(segment) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session != s {
		return
	}
	s.segments = append(s.segments, segment)
}

// finalize delivers the buffered recording and releases the session.
// It runs once per session, from the encoder's stop callback.
func (a *Agent) finalize(s *session) {
	a.mu.Lock()
	segments := s.segments
	s.segments = nil
	sender := a.sender
	a.mu.Unlock()
	defer a.release(s)

	logger := a.logger.With("session_id", s.id)
	data := bytes.Join(segments, nil)
	if len(data) == 0 {
		logger.Warn("recording produced no data")
		a.alert(alertNoData)
		a.abort(protocol.ErrEmptyRecording)
		return
	}

	result, err := sender.Send(a.ctx, data, s.contentType)
	if err != nil {
		logger.Error("delivering recording failed", "error", err, "size", len(data), "segments", len(segments))
		a.alert(alertDelivery + err.Error())
		// A remote failure on save or finalize already cleared the
		// orchestrator's state. Anything else it never saw.
		var remote *bus.RemoteError
		if errors.Is(err, protocol.ErrTransferInit) || !errors.As(err, &remote) {
			a.abort(err)
		}
		return
	}
	logger.Info("recording delivered", "file_id", result.FileID, "size", len(data), "segments", len(segments))
}

// release stops the stream, drops the session, and hides the
// indicator.
func (a *Agent) release(s *session) {
	if s.stream != nil {
		s.stream.Stop()
	}
	a.mu.Lock()
	if a.session == s {
		a.session = nil
	}
	s.segments = nil
	hide := a.indicatorOn
	a.indicatorOn = false
	a.mu.Unlock()

	if hide && a.indicator != nil {
		a.indicator.SetRecording(false)
	}
	close(s.done)
}

// discard drops a session that never started recording.
func (a *Agent) discard(s *session) {
	a.mu.Lock()
	if a.session == s {
		a.session = nil
	}
	a.mu.Unlock()
	close(s.done)
}

// abort tells the orchestrator this page's recording ended without a
// delivery.
func (a *Agent) abort(cause error) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	err := conn.Send(a.ctx, protocol.AddressOrchestrator, protocol.ActionAbortTransfer, protocol.AbortTransfer{
		Code:   protocol.CodeOf(cause),
		Reason: cause.Error(),
	}, nil)
	if err != nil {
		a.logger.Warn("abort_transfer not delivered", "error", err)
	}
}

func (a *Agent) alert(message string) {
	if a.alerter == nil {
		return
	}
	a.alerter.Alert(a.ctx, message)
}

func (a *Agent) handleStartCapture(ctx context.Context, message *bus.Message) (any, error) {
	var request protocol.StartCapture
	if err := message.Decode(&request); err != nil {
		return nil, protocol.Errorf(protocol.CodeInvalidRequest, "%v", err)
	}
	if request.Handle == "" {
		return nil, protocol.Errorf(protocol.CodeInvalidRequest, "start_capture without a capture handle")
	}
	if err := a.BeginSession(ctx, request); err != nil {
		if !errors.Is(err, protocol.ErrSessionActive) {
			a.logger.Error("capture failed to start", "error", err)
			a.alert(alertStartFailed)
		}
		return nil, err
	}
	return nil, nil
}

func (a *Agent) handleStopCapture(ctx context.Context, message *bus.Message) (any, error) {
	a.EndSession()
	return nil, nil
}

func (a *Agent) handleRecordingStateChanged(ctx context.Context, message *bus.Message) (any, error) {
	var state protocol.RecordingState
	if err := message.Decode(&state); err != nil {
		return nil, protocol.Errorf(protocol.CodeInvalidRequest, "%v", err)
	}
	a.setIndicator(state.Recording && state.PageID == a.pageID)
	return nil, nil
}

func (a *Agent) handleSettingsUpdated(ctx context.Context, message *bus.Message) (any, error) {
	var updated settings.Settings
	if err := message.Decode(&updated); err != nil {
		return nil, protocol.Errorf(protocol.CodeInvalidRequest, "%v", err)
	}
	a.mu.Lock()
	a.showIndicator = updated.ShowStatusBar
	a.mu.Unlock()
	if !updated.ShowStatusBar {
		a.setIndicator(false)
	}
	return nil, nil
}

// setIndicator shows or hides the indicator, honoring the status bar
// setting and skipping no-op changes.
func (a *Agent) setIndicator(recording bool) {
	if a.indicator == nil {
		return
	}
	a.mu.Lock()
	if recording && !a.showIndicator {
		recording = false
	}
	if recording == a.indicatorOn {
		a.mu.Unlock()
		return
	}
	a.indicatorOn = recording
	a.mu.Unlock()
	a.indicator.SetRecording(recording)
}
