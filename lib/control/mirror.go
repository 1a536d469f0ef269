// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/tabrecord/lib/bus"
	"github.com/bureau-foundation/tabrecord/lib/protocol"
	"github.com/bureau-foundation/tabrecord/lib/settings"
)

// DefaultStartTimeout bounds start_recording, which waits on the
// user's capture prompt.
const DefaultStartTimeout = 2 * time.Minute

// Options configures a Mirror.
type Options struct {
	// StartTimeout defaults to DefaultStartTimeout.
	StartTimeout time.Duration

	Logger *slog.Logger
}

// Mirror is a control surface's cached copy of the recording state.
type Mirror struct {
	conn    bus.Conn
	options Options
	logger  *slog.Logger

	mu          sync.Mutex
	state       protocol.RecordingState
	settings    *settings.Settings
	subscribers []chan protocol.RecordingState
	closed      bool
}

// Open attaches a mirror to b and pulls the current state. The pull
// is mandatory: Open fails if the orchestrator does not answer.
func Open(ctx context.Context, b bus.Bus, options Options) (*Mirror, error) {
	if options.StartTimeout <= 0 {
		options.StartTimeout = DefaultStartTimeout
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	address := protocol.ControlAddress(uuid.NewString())
	m := &Mirror{options: options, logger: options.Logger.With("address", address)}

	mux := bus.NewMux()
	mux.Handle(protocol.ActionRecordingStateChanged, m.handleRecordingStateChanged)
	mux.Handle(protocol.ActionSettingsUpdated, m.handleSettingsUpdated)

	conn, err := b.Attach(address, mux.Serve)
	if err != nil {
		return nil, fmt.Errorf("attaching control surface: %w", err)
	}
	m.conn = conn

	if err := m.Refresh(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return m, nil
}

// Refresh pulls the orchestrator's state.
func (m *Mirror) Refresh(ctx context.Context) error {
	var state protocol.RecordingState
	if err := m.conn.Send(ctx, protocol.AddressOrchestrator, protocol.ActionGetRecordingState, nil, &state); err != nil {
		return fmt.Errorf("pulling recording state: %w", err)
	}
	m.apply(state, true)
	return nil
}

// Recording reports whether a recording is active.
func (m *Mirror) Recording() bool {
	return m.State().Recording
}

// State returns the newest state seen.
func (m *Mirror) State() protocol.RecordingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Changes returns a channel receiving every state that supersedes the
// one held. A slow reader misses intermediate states, never the
// newest. The channel is closed by Close.
func (m *Mirror) Changes() <-chan protocol.RecordingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan protocol.RecordingState, 1)
	if m.closed {
		close(ch)
		return ch
	}
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// Start asks the orchestrator to record the active page.
func (m *Mirror) Start(ctx context.Context) (*protocol.StartResult, error) {
	var result protocol.StartResult
	err := m.conn.Send(bus.WithTimeout(ctx, m.options.StartTimeout), protocol.AddressOrchestrator, protocol.ActionStartRecording, nil, &result)
	if err != nil {
		return nil, err
	}
	m.apply(result.State, false)
	return &result, nil
}

// Stop asks the orchestrator to end the recording.
func (m *Mirror) Stop(ctx context.Context) error {
	var state protocol.RecordingState
	if err := m.conn.Send(ctx, protocol.AddressOrchestrator, protocol.ActionStopRecording, nil, &state); err != nil {
		return err
	}
	m.apply(state, false)
	return nil
}

// Settings returns the orchestrator's settings, from the last
// settings_updated broadcast when one has arrived.
func (m *Mirror) Settings(ctx context.Context) (settings.Settings, error) {
	m.mu.Lock()
	cached := m.settings
	m.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}
	var current settings.Settings
	if err := m.conn.Send(ctx, protocol.AddressOrchestrator, protocol.ActionGetSettings, nil, &current); err != nil {
		return settings.Settings{}, err
	}
	return current, nil
}

// UpdateSettings sends a partial update and returns the stored result.
func (m *Mirror) UpdateSettings(ctx context.Context, patch map[string]any) (settings.Settings, error) {
	var updated settings.Settings
	err := m.conn.Send(ctx, protocol.AddressOrchestrator, protocol.ActionUpdateSettings, protocol.SettingsPatch{Values: patch}, &updated)
	if err != nil {
		return settings.Settings{}, err
	}
	m.mu.Lock()
	m.settings = &updated
	m.mu.Unlock()
	return updated, nil
}

// Close detaches the mirror and closes every Changes channel.
func (m *Mirror) Close() error {
	err := m.conn.Close()
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		for _, ch := range m.subscribers {
			close(ch)
		}
		m.subscribers = nil
	}
	return err
}

// apply installs state if it supersedes the held one. A pulled state
// is authoritative and replaces the view even when its generation is
// lower, as after an orchestrator restart.
func (m *Mirror) apply(state protocol.RecordingState, pulled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || state == m.state {
		return
	}
	if !pulled && !state.Newer(m.state) {
		m.logger.Debug("dropping stale recording state", "generation", state.Generation, "held", m.state.Generation)
		return
	}
	m.state = state
	for _, ch := range m.subscribers {
		// Replace an unread value so the newest always wins.
		select {
		case <-ch:
		default:
		}
		ch <- state
	}
}

func (m *Mirror) handleRecordingStateChanged(ctx context.Context, message *bus.Message) (any, error) {
	var state protocol.RecordingState
	if err := message.Decode(&state); err != nil {
		return nil, protocol.Errorf(protocol.CodeInvalidRequest, "%v", err)
	}
	m.apply(state, false)
	return nil, nil
}

func (m *Mirror) handleSettingsUpdated(ctx context.Context, message *bus.Message) (any, error) {
	var updated settings.Settings
	if err := message.Decode(&updated); err != nil {
		return nil, protocol.Errorf(protocol.CodeInvalidRequest, "%v", err)
	}
	m.mu.Lock()
	m.settings = &updated
	m.mu.Unlock()
	return nil, nil
}
