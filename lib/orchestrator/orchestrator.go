// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/tabrecord/lib/bus"
	"github.com/bureau-foundation/tabrecord/lib/clock"
	"github.com/bureau-foundation/tabrecord/lib/host"
	"github.com/bureau-foundation/tabrecord/lib/protocol"
	"github.com/bureau-foundation/tabrecord/lib/settings"
	"github.com/bureau-foundation/tabrecord/lib/transfer"
)

// DefaultInjectSettle is how long to wait after force-injecting an
// agent before retrying start_capture.
const DefaultInjectSettle = 500 * time.Millisecond

// DefaultRestrictedPrefixes are URL prefixes of pages that cannot be
// captured.
var DefaultRestrictedPrefixes = []string{"chrome://", "edge://", "about:", "chrome-extension://"}

// DefaultSources are the capture sources offered for tab recording.
var DefaultSources = []host.SourceKind{host.SourceTab, host.SourceAudio}

// NotificationTitle heads every failure notification.
const NotificationTitle = "Recording failed"

const fallbackNotification = "Make sure the necessary permissions are granted."

// Host is the set of host facilities the orchestrator uses.
type Host interface {
	host.PageResolver
	host.CaptureBroker
	host.AgentInjector
	host.Notifier
}

// Persister saves a finished recording and returns the file ID.
type Persister interface {
	Persist(ctx context.Context, data []byte, contentType string) (string, error)
}

// Options configures an Orchestrator. Only Host and Persister are
// required. Zero values elsewhere select the package defaults.
type Options struct {
	// Host resolves the active page, shows the capture prompt, injects
	// capture agents, and shows desktop notifications.
	Host Host

	// Persister writes every completed recording, whether it arrived
	// as a single save_recording message or as a chunked transfer.
	Persister Persister

	// Settings is the preference store. Nil means defaults only.
	Settings settings.Store

	// Sources are offered in the capture prompt. Defaults to
	// DefaultSources. The audio source is dropped when audio is
	// disabled in settings.
	Sources []host.SourceKind

	// RestrictedPrefixes defaults to DefaultRestrictedPrefixes.
	RestrictedPrefixes []string

	// InjectSettle is how long a force-injected agent gets to attach
	// before start_capture is sent a second and final time. It only
	// applies when the first start_capture found no agent at the
	// page's address. Defaults to DefaultInjectSettle.
	InjectSettle time.Duration

	// MimeType is the encoder format requested from the agent and the
	// content type the recording is saved under. Defaults to
	// protocol.DefaultMimeType.
	MimeType string

	// FlushInterval is how often the agent's encoder emits a segment.
	// Shorter intervals lose less on a crash at the cost of more
	// segments. Defaults to protocol.DefaultFlushInterval.
	FlushInterval time.Duration

	// Receiver configures chunked transfer reassembly. Its Clock and
	// Logger default to the orchestrator's.
	Receiver transfer.ReceiverOptions

	Clock  clock.Clock
	Logger *slog.Logger
}

// Orchestrator coordinates recordings. It owns the single recording
// state, answers the control surfaces, starts and stops capture agents,
// and persists what they deliver. Its methods are safe for concurrent
// use.
//
// Every change to the recording state bumps RecordingState.Generation
// and is broadcast to every bus endpoint. A start that fails or is
// cancelled leaves the generation unchanged. The state returns to idle
// when the recording agent delivers (save_recording or
// finalize_transfer), aborts, or can no longer be reached when asked to
// stop.
type Orchestrator struct {
	host      Host
	persister Persister
	store     settings.Store
	options   Options
	clock     clock.Clock
	logger    *slog.Logger
	receiver  *transfer.Receiver

	conn bus.Conn

	// settingsMu serializes read-modify-write of the settings store.
	settingsMu sync.Mutex

	mu    sync.Mutex
	state protocol.RecordingState
	// starting is set while a RequestRecording is in flight and gates
	// concurrent starts. awaitingAgent is set once start_capture is on
	// its way. startEnded is set when the agent ends that session before
	// start_capture has returned, so the start must not mark the page as
	// recording.
	starting      bool
	awaitingAgent bool
	startEnded    bool
}

// Attach creates an orchestrator, writes first-run settings, and
// attaches it to b.
func Attach(ctx context.Context, b bus.Bus, options Options) (*Orchestrator, error) {
	if options.Host == nil {
		return nil, errors.New("orchestrator: host is required")
	}
	if options.Persister == nil {
		return nil, errors.New("orchestrator: persister is required")
	}
	if options.Sources == nil {
		options.Sources = DefaultSources
	}
	if options.RestrictedPrefixes == nil {
		options.RestrictedPrefixes = DefaultRestrictedPrefixes
	}
	if options.InjectSettle <= 0 {
		options.InjectSettle = DefaultInjectSettle
	}
	if options.MimeType == "" {
		options.MimeType = protocol.DefaultMimeType
	}
	if options.FlushInterval <= 0 {
		options.FlushInterval = protocol.DefaultFlushInterval
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	receiverOptions := options.Receiver
	if receiverOptions.Clock == nil {
		receiverOptions.Clock = options.Clock
	}
	if receiverOptions.Logger == nil {
		receiverOptions.Logger = options.Logger
	}

	if options.Settings != nil {
		if err := settings.EnsureDefaults(ctx, options.Settings); err != nil {
			return nil, fmt.Errorf("writing default settings: %w", err)
		}
	}

	o := &Orchestrator{
		host:      options.Host,
		persister: options.Persister,
		store:     options.Settings,
		options:   options,
		clock:     options.Clock,
		logger:    options.Logger,
		receiver:  transfer.NewReceiver(receiverOptions),
	}

	mux := bus.NewMux()
	mux.Handle(protocol.ActionGetRecordingState, o.handleGetRecordingState)
	mux.Handle(protocol.ActionStartRecording, o.handleStartRecording)
	mux.Handle(protocol.ActionStopRecording, o.handleStopRecording)
	mux.Handle(protocol.ActionSaveRecording, o.handleSaveRecording)
	mux.Handle(protocol.ActionBeginTransfer, o.handleBeginTransfer)
	mux.Handle(protocol.ActionChunk, o.handleChunk)
	mux.Handle(protocol.ActionFinalizeTransfer, o.handleFinalizeTransfer)
	mux.Handle(protocol.ActionAbortTransfer, o.handleAbortTransfer)
	mux.Handle(protocol.ActionGetSettings, o.handleGetSettings)
	mux.Handle(protocol.ActionUpdateSettings, o.handleUpdateSettings)

	conn, err := b.Attach(protocol.AddressOrchestrator, mux.Serve)
	if err != nil {
		return nil, fmt.Errorf("attaching orchestrator: %w", err)
	}
	o.conn = conn
	o.logger.Info("orchestrator attached", "address", conn.Address())
	return o, nil
}

// Close detaches from the bus.
func (o *Orchestrator) Close() error {
	return o.conn.Close()
}

// State returns the current recording state.
func (o *Orchestrator) State() protocol.RecordingState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// RequestRecording starts recording the active page. It returns a
// StartResult with Cancelled set, and no error, when the user
// dismisses the capture prompt. Every other failure except
// protocol.ErrAlreadyRecording is reported through a desktop
// notification.
//
// Only one start runs at a time. A second call while a recording is
// active, or while another start is still waiting on the capture prompt
// or the agent, fails with protocol.ErrAlreadyRecording without
// prompting. When the agent accepts start_capture but its recording has
// already ended by the time the reply arrives, the returned state is
// not recording and nothing is broadcast.
func (o *Orchestrator) RequestRecording(ctx context.Context) (*protocol.StartResult, error) {
	o.mu.Lock()
	if o.state.Recording || o.starting {
		o.mu.Unlock()
		return nil, protocol.ErrAlreadyRecording
	}
	o.starting = true
	o.awaitingAgent = false
	o.startEnded = false
	o.mu.Unlock()

	result, err := o.start(ctx)

	o.mu.Lock()
	o.starting = false
	o.awaitingAgent = false
	o.startEnded = false
	o.mu.Unlock()

	if err != nil {
		o.logger.Error("recording failed to start", "error", err)
		o.notifyFailure(ctx, err)
		o.broadcastState(ctx)
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) start(ctx context.Context) (*protocol.StartResult, error) {
	page, err := o.host.ActivePage(ctx)
	if err != nil {
		return nil, protocol.Errorf(protocol.CodeNoTarget, "finding the active page: %w", err)
	}
	if page == nil {
		return nil, protocol.ErrNoTarget
	}
	logger := o.logger.With("page_id", page.ID)

	if o.restricted(page.URL) {
		return nil, protocol.Errorf(protocol.CodeRestrictedPage, "cannot record %q", page.URL)
	}

	o.inject(ctx, page.ID, false)

	preferences := o.loadSettings(ctx)
	handle, err := o.host.RequestCaptureHandle(ctx, o.sources(preferences), *page)
	if err != nil {
		return nil, protocol.Errorf(protocol.CodeStreamAcquisition, "requesting capture permission: %w", err)
	}
	if handle == "" {
		logger.Info("capture prompt dismissed")
		return &protocol.StartResult{Cancelled: true, State: o.State()}, nil
	}

	videoBitrate, audioBitrate := preferences.VideoQuality.Bitrates()
	request := protocol.StartCapture{
		Handle:        string(handle),
		PageID:        page.ID,
		Audio:         preferences.AudioEnabled,
		MimeType:      o.options.MimeType,
		VideoBitrate:  videoBitrate,
		AudioBitrate:  audioBitrate,
		FlushInterval: o.options.FlushInterval,
		ShowIndicator: preferences.ShowStatusBar,
	}
	agentAddress := protocol.AgentAddress(page.ID)
	o.mu.Lock()
	o.awaitingAgent = true
	o.mu.Unlock()
	err = o.conn.Send(ctx, agentAddress, protocol.ActionStartCapture, request, nil)
	if errors.Is(err, bus.ErrUnreachable) {
		logger.Info("no capture agent answered, injecting", "settle", o.options.InjectSettle)
		o.inject(ctx, page.ID, true)
		select {
		case <-o.clock.After(o.options.InjectSettle):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		err = o.conn.Send(ctx, agentAddress, protocol.ActionStartCapture, request, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("starting capture on page %s: %w", page.ID, err)
	}

	state, confirmed := o.confirmStart(page.ID)
	if !confirmed {
		logger.Warn("recording ended before its start was confirmed")
		return &protocol.StartResult{PageID: page.ID, State: state}, nil
	}
	logger.Info("recording started", "generation", state.Generation)
	o.broadcastState(ctx)
	return &protocol.StartResult{PageID: page.ID, State: state}, nil
}

// StopRecording asks the recording page's agent to stop. Delivery of
// the recording ends the session. Not recording is a no-op.
//
// StopRecording returns once the agent has acknowledged the stop, not
// once the recording is saved. Control surfaces learn about the end
// from the state broadcast. If the agent is gone, the recording is lost
// with it and the state is cleared here.
func (o *Orchestrator) StopRecording(ctx context.Context) error {
	state := o.State()
	if !state.Recording {
		return nil
	}
	err := o.conn.Send(ctx, protocol.AgentAddress(state.PageID), protocol.ActionStopCapture, nil, nil)
	if errors.Is(err, bus.ErrUnreachable) {
		// The agent is gone with its recording.
		o.logger.Warn("recording agent vanished", "page_id", state.PageID)
		o.endRecording(ctx)
		return nil
	}
	if err != nil {
		return fmt.Errorf("stopping capture on page %s: %w", state.PageID, err)
	}
	return nil
}

func (o *Orchestrator) restricted(url string) bool {
	if url == "" {
		return true
	}
	for _, prefix := range o.options.RestrictedPrefixes {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}

// inject loads the agent into a page. Failures are logged only; an
// absent agent surfaces later as an unreachable address.
func (o *Orchestrator) inject(ctx context.Context, pageID string, force bool) {
	err := o.host.InjectAgent(ctx, pageID, force)
	switch {
	case err == nil:
	case errors.Is(err, host.ErrAgentPresent):
		o.logger.Debug("capture agent already present", "page_id", pageID)
	default:
		o.logger.Warn("injecting capture agent failed", "page_id", pageID, "force", force, "error", err)
	}
}

func (o *Orchestrator) sources(preferences settings.Settings) []host.SourceKind {
	if preferences.AudioEnabled {
		return o.options.Sources
	}
	return slices.DeleteFunc(slices.Clone(o.options.Sources), func(kind host.SourceKind) bool {
		return kind == host.SourceAudio
	})
}

func (o *Orchestrator) loadSettings(ctx context.Context) settings.Settings {
	if o.store == nil {
		return settings.Defaults()
	}
	loaded, err := settings.Load(ctx, o.store)
	if err != nil {
		o.logger.Warn("loading settings failed, using defaults", "error", err)
		return settings.Defaults()
	}
	return loaded
}

// confirmStart marks pageID as recording once its agent accepted
// start_capture. Every state change bumps the generation, so a control
// surface can drop a broadcast older than the state it already holds.
// When the session already ended while start_capture was in flight,
// the state is left untouched and confirmed is false.
func (o *Orchestrator) confirmStart(pageID string) (state protocol.RecordingState, confirmed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.startEnded {
		return o.state, false
	}
	o.state = protocol.RecordingState{
		Recording:  true,
		PageID:     pageID,
		Generation: o.state.Generation + 1,
	}
	return o.state, true
}

// endRecording clears the recording state and broadcasts when it
// changed. An agent can stop so early that its save, finalize, or
// abort arrives before start_capture has returned. That end is
// remembered for the in-flight start instead of being dropped.
func (o *Orchestrator) endRecording(ctx context.Context) {
	o.mu.Lock()
	if !o.state.Recording {
		if o.awaitingAgent {
			o.startEnded = true
		}
		o.mu.Unlock()
		return
	}
	o.state = protocol.RecordingState{Generation: o.state.Generation + 1}
	generation := o.state.Generation
	o.mu.Unlock()

	o.logger.Info("recording ended", "generation", generation)
	o.broadcastState(ctx)
}

func (o *Orchestrator) broadcastState(ctx context.Context) {
	state := o.State()
	if err := o.conn.Broadcast(ctx, protocol.ActionRecordingStateChanged, state); err != nil {
		o.logger.Warn("broadcasting recording state failed", "error", err)
	}
}

func (o *Orchestrator) notifyFailure(ctx context.Context, cause error) {
	message := cause.Error()
	if message == "" {
		message = fallbackNotification
	}
	if err := o.host.Notify(ctx, NotificationTitle, message); err != nil {
		o.logger.Warn("showing notification failed", "error", err)
	}
}
