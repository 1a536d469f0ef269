// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/tabrecord/lib/agent"
	"github.com/bureau-foundation/tabrecord/lib/bus"
	"github.com/bureau-foundation/tabrecord/lib/clock"
	"github.com/bureau-foundation/tabrecord/lib/host"
	"github.com/bureau-foundation/tabrecord/lib/host/simhost"
	"github.com/bureau-foundation/tabrecord/lib/protocol"
	"github.com/bureau-foundation/tabrecord/lib/settings"
	"github.com/bureau-foundation/tabrecord/lib/testutil"
	"github.com/bureau-foundation/tabrecord/lib/transfer"
)

const (
	pageID  = "page-1"
	pageURL = "https://example.com/talk"
	timeout = 5 * time.Second
)

type persisted struct {
	data        []byte
	contentType string
}

// persisterStub records every Persist call.
type persisterStub struct {
	saved chan persisted

	mu    sync.Mutex
	err   error
	calls int
}

func newPersisterStub() *persisterStub {
	return &persisterStub{saved: make(chan persisted, 4)}
}

func (p *persisterStub) Persist(ctx context.Context, data []byte, contentType string) (string, error) {
	p.mu.Lock()
	p.calls++
	err := p.err
	p.mu.Unlock()
	if err != nil {
		return "", err
	}
	p.saved <- persisted{data: bytes.Clone(data), contentType: contentType}
	return "file-1", nil
}

func (p *persisterStub) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fixture struct {
	memory       *bus.Memory
	browser      *simhost.Browser
	tab          *simhost.Tab
	persister    *persisterStub
	orchestrator *Orchestrator

	// control is a bystander endpoint that collects broadcasts.
	control  bus.Conn
	states   chan protocol.RecordingState
	settings chan settings.Settings
}

type fixtureOptions struct {
	page        *host.Page
	clock       clock.Clock
	store       settings.Store
	noAgent     bool
	agentConfig func(*agent.Options)
}

func newFixture(t *testing.T, options fixtureOptions) *fixture {
	t.Helper()
	if options.page == nil {
		options.page = &host.Page{ID: pageID, URL: pageURL, Title: "Talk"}
	}
	f := &fixture{
		memory:    bus.NewMemory(bus.MemoryOptions{Timeout: timeout, Logger: testutil.Logger(t)}),
		browser:   simhost.NewBrowser(options.page, "handle-1"),
		tab:       simhost.NewTab(),
		persister: newPersisterStub(),
		states:    make(chan protocol.RecordingState, 16),
		settings:  make(chan settings.Settings, 4),
	}

	orchestrator, err := Attach(context.Background(), f.memory, Options{
		Host:      f.browser,
		Persister: f.persister,
		Settings:  options.store,
		Clock:     options.clock,
		Logger:    testutil.Logger(t),
	})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	t.Cleanup(func() { orchestrator.Close() })
	f.orchestrator = orchestrator

	if !options.noAgent {
		f.attachAgent(t, options.agentConfig)
	}

	control, err := f.memory.Attach(protocol.ControlAddress("test"), func(ctx context.Context, message *bus.Message) (any, error) {
		switch message.Action {
		case protocol.ActionRecordingStateChanged:
			var state protocol.RecordingState
			if err := message.Decode(&state); err != nil {
				return nil, err
			}
			f.states <- state
		case protocol.ActionSettingsUpdated:
			var updated settings.Settings
			if err := message.Decode(&updated); err != nil {
				return nil, err
			}
			f.settings <- updated
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("attaching control: %v", err)
	}
	t.Cleanup(func() { control.Close() })
	f.control = control
	return f
}

func (f *fixture) attachAgent(t *testing.T, configure func(*agent.Options)) *agent.Agent {
	t.Helper()
	options := agent.Options{
		PageID:    pageID,
		Media:     f.tab,
		Alerter:   f.tab,
		Indicator: f.tab,
		Logger:    testutil.Logger(t),
	}
	if configure != nil {
		configure(&options)
	}
	capture, err := agent.Attach(f.memory, options)
	if err != nil {
		t.Fatalf("attaching agent: %v", err)
	}
	t.Cleanup(func() { capture.Close() })
	return capture
}

// waitForState reads broadcasts until one matches recording.
func (f *fixture) waitForState(t *testing.T, recording bool) protocol.RecordingState {
	t.Helper()
	for {
		state := testutil.RequireReceive(t, f.states, timeout, "recording state broadcast")
		if state.Recording == recording {
			return state
		}
	}
}

func (f *fixture) send(t *testing.T, action string, payload, result any) error {
	t.Helper()
	return f.control.Send(context.Background(), protocol.AddressOrchestrator, action, payload, result)
}

func TestRecordingEndToEnd(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	var result protocol.StartResult
	if err := f.send(t, protocol.ActionStartRecording, nil, &result); err != nil {
		t.Fatalf("start_recording: %v", err)
	}
	if result.Cancelled || result.PageID != pageID || !result.State.Recording || result.State.Generation != 1 {
		t.Fatalf("start result = %+v", result)
	}
	f.waitForState(t, true)

	requests := f.browser.CaptureRequests()
	if len(requests) != 1 || !slices.Equal(requests[0].Sources, DefaultSources) || requests[0].Page.ID != pageID {
		t.Fatalf("capture requests = %+v", requests)
	}
	recorder := f.tab.LastRecorder()
	if recorder.Options.VideoBitrate != 2_500_000 || recorder.Options.AudioBitrate != 128_000 {
		t.Errorf("recorder options = %+v", recorder.Options)
	}

	recorder.Emit([]byte("first "))
	recorder.Emit([]byte("second"))

	var stopped protocol.RecordingState
	if err := f.send(t, protocol.ActionStopRecording, nil, &stopped); err != nil {
		t.Fatalf("stop_recording: %v", err)
	}

	saved := testutil.RequireReceive(t, f.persister.saved, timeout, "persisted recording")
	if string(saved.data) != "first second" || saved.contentType != protocol.DefaultMimeType {
		t.Errorf("persisted %q as %q", saved.data, saved.contentType)
	}
	state := f.waitForState(t, false)
	if state.Generation != 2 {
		t.Errorf("final generation = %d, want 2", state.Generation)
	}

	var pulled protocol.RecordingState
	if err := f.send(t, protocol.ActionGetRecordingState, nil, &pulled); err != nil {
		t.Fatalf("get_recording_state: %v", err)
	}
	if pulled.Recording || pulled.Generation != 2 {
		t.Errorf("pulled state = %+v", pulled)
	}
	if notifications := f.browser.Notifications(); len(notifications) != 0 {
		t.Errorf("unexpected notifications: %+v", notifications)
	}
}

func TestLargeRecordingTravelsInChunks(t *testing.T) {
	f := newFixture(t, fixtureOptions{agentConfig: func(options *agent.Options) {
		options.Transfer = transfer.SenderOptions{ChunkSize: 512, SingleMessageLimit: 512}
	}})
	if _, err := f.orchestrator.RequestRecording(context.Background()); err != nil {
		t.Fatalf("RequestRecording: %v", err)
	}

	var want []byte
	recorder := f.tab.LastRecorder()
	for i := range 5 {
		segment := bytes.Repeat([]byte{byte(i)}, 300)
		want = append(want, segment...)
		recorder.Emit(segment)
	}
	if err := f.orchestrator.StopRecording(context.Background()); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}

	saved := testutil.RequireReceive(t, f.persister.saved, timeout, "persisted recording")
	if !bytes.Equal(saved.data, want) {
		t.Errorf("persisted %d bytes, want %d", len(saved.data), len(want))
	}
	if _, active := f.orchestrator.receiver.Active(); active {
		t.Error("transfer still active after finalize")
	}
}

func TestOutOfOrderChunksReassemble(t *testing.T) {
	f := newFixture(t, fixtureOptions{noAgent: true})

	data := make([]byte, 1536)
	for i := range data {
		data[i] = byte(i / 512)
	}
	var begun protocol.BeginTransferResult
	err := f.send(t, protocol.ActionBeginTransfer, protocol.BeginTransfer{
		TotalChunks: 3,
		TotalSize:   1536,
		ChunkSize:   512,
		ContentType: "video/webm",
		Digest:      transfer.Sum(data).String(),
	}, &begun)
	if err != nil {
		t.Fatalf("begin_transfer: %v", err)
	}

	for _, index := range []int{2, 0, 1} {
		chunk := protocol.Chunk{
			TransferID: begun.TransferID,
			Index:      index,
			Last:       index == 2,
			RawSize:    512,
			Data:       data[index*512 : (index+1)*512],
		}
		if err := f.send(t, protocol.ActionChunk, chunk, nil); err != nil {
			t.Fatalf("chunk %d: %v", index, err)
		}
	}

	var result protocol.SaveResult
	if err := f.send(t, protocol.ActionFinalizeTransfer, protocol.FinalizeTransfer{TransferID: begun.TransferID}, &result); err != nil {
		t.Fatalf("finalize_transfer: %v", err)
	}
	if result.FileID != "file-1" || result.Size != 1536 {
		t.Errorf("save result = %+v", result)
	}
	saved := testutil.RequireReceive(t, f.persister.saved, timeout, "persisted recording")
	if !bytes.Equal(saved.data, data) {
		t.Error("reassembled data differs from the original")
	}
}

func TestIncompleteTransferNotPersisted(t *testing.T) {
	f := newFixture(t, fixtureOptions{noAgent: true})

	var begun protocol.BeginTransferResult
	err := f.send(t, protocol.ActionBeginTransfer, protocol.BeginTransfer{
		TotalChunks: 2,
		TotalSize:   1024,
		ChunkSize:   512,
		ContentType: "video/webm",
	}, &begun)
	if err != nil {
		t.Fatalf("begin_transfer: %v", err)
	}
	chunk := protocol.Chunk{TransferID: begun.TransferID, Index: 0, RawSize: 512, Data: make([]byte, 512)}
	if err := f.send(t, protocol.ActionChunk, chunk, nil); err != nil {
		t.Fatalf("chunk 0: %v", err)
	}

	err = f.send(t, protocol.ActionFinalizeTransfer, protocol.FinalizeTransfer{TransferID: begun.TransferID}, nil)
	if !errors.Is(err, protocol.ErrIncompleteTransfer) {
		t.Fatalf("finalize_transfer = %v, want ErrIncompleteTransfer", err)
	}
	if f.persister.Calls() != 0 {
		t.Error("incomplete transfer was persisted")
	}
	notifications := f.browser.Notifications()
	if len(notifications) != 1 || notifications[0].Title != NotificationTitle {
		t.Errorf("notifications = %+v", notifications)
	}

	// The failed transfer is released; a new one can begin.
	if err := f.send(t, protocol.ActionBeginTransfer, protocol.BeginTransfer{TotalChunks: 1, TotalSize: 1, ChunkSize: 512}, &begun); err != nil {
		t.Errorf("begin after failed finalize: %v", err)
	}
}

func TestRestrictedPageRejectedBeforePrompt(t *testing.T) {
	for _, url := range []string{"chrome://settings", "about:blank", "chrome-extension://abc/popup.html", ""} {
		f := newFixture(t, fixtureOptions{page: &host.Page{ID: pageID, URL: url}})

		_, err := f.orchestrator.RequestRecording(context.Background())
		if !errors.Is(err, protocol.ErrRestrictedPage) {
			t.Errorf("%q: RequestRecording = %v, want ErrRestrictedPage", url, err)
			continue
		}
		if requests := f.browser.CaptureRequests(); len(requests) != 0 {
			t.Errorf("%q: capture prompt shown %d times", url, len(requests))
		}
		if injections := f.browser.Injections(); len(injections) != 0 {
			t.Errorf("%q: agent injected into a restricted page", url)
		}
		notifications := f.browser.Notifications()
		if len(notifications) != 1 || notifications[0].Title != NotificationTitle {
			t.Errorf("%q: notifications = %+v", url, notifications)
		}
	}
}

func TestNoActivePage(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.browser.SetPage(nil)

	_, err := f.orchestrator.RequestRecording(context.Background())
	if !errors.Is(err, protocol.ErrNoTarget) {
		t.Fatalf("RequestRecording = %v, want ErrNoTarget", err)
	}
	if state := f.waitForState(t, false); state.Generation != 0 {
		t.Errorf("failed start changed the generation: %+v", state)
	}
}

func TestStartWhileRecordingRejected(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	if _, err := f.orchestrator.RequestRecording(context.Background()); err != nil {
		t.Fatalf("first RequestRecording: %v", err)
	}

	err := f.send(t, protocol.ActionStartRecording, nil, nil)
	if !errors.Is(err, protocol.ErrAlreadyRecording) {
		t.Fatalf("second start_recording = %v, want ErrAlreadyRecording", err)
	}
	if streams := f.tab.Streams(); len(streams) != 1 {
		t.Errorf("opened %d streams, want 1", len(streams))
	}
	if requests := f.browser.CaptureRequests(); len(requests) != 1 {
		t.Errorf("capture prompt shown %d times, want 1", len(requests))
	}
	if notifications := f.browser.Notifications(); len(notifications) != 0 {
		t.Errorf("idempotent start notified: %+v", notifications)
	}
}

func TestCancelledPromptIsSilent(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.browser.SetHandle("", nil)

	result, err := f.orchestrator.RequestRecording(context.Background())
	if err != nil {
		t.Fatalf("RequestRecording: %v", err)
	}
	if !result.Cancelled || result.State.Recording {
		t.Errorf("result = %+v", result)
	}
	if notifications := f.browser.Notifications(); len(notifications) != 0 {
		t.Errorf("cancellation notified: %+v", notifications)
	}
	if len(f.tab.Streams()) != 0 {
		t.Error("stream opened after the prompt was dismissed")
	}
}

func TestEmptyRecordingNeverPersisted(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	if _, err := f.orchestrator.RequestRecording(context.Background()); err != nil {
		t.Fatalf("RequestRecording: %v", err)
	}
	f.waitForState(t, true)

	f.tab.LastRecorder().Emit(nil)
	if err := f.orchestrator.StopRecording(context.Background()); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}

	f.waitForState(t, false)
	if f.persister.Calls() != 0 {
		t.Error("empty recording was persisted")
	}
	if alerts := f.tab.Alerts(); len(alerts) != 1 {
		t.Errorf("alerts = %v", alerts)
	}
}

func TestUnreachableAgentInjectedAndRetriedOnce(t *testing.T) {
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	f := newFixture(t, fixtureOptions{clock: fake, noAgent: true})

	attached := make(chan struct{})
	f.browser.OnInject(func(id string, force bool) error {
		if !force {
			return errors.New("content script blocked")
		}
		f.attachAgent(t, nil)
		close(attached)
		return nil
	})

	type outcome struct {
		result *protocol.StartResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := f.orchestrator.RequestRecording(context.Background())
		done <- outcome{result, err}
	}()

	testutil.RequireClosed(t, attached, timeout, "forced injection")
	fake.WaitForTimers(1)
	fake.Advance(DefaultInjectSettle)

	got := testutil.RequireReceive(t, done, timeout, "RequestRecording result")
	if got.err != nil {
		t.Fatalf("RequestRecording: %v", got.err)
	}
	if !got.result.State.Recording {
		t.Errorf("result = %+v", got.result)
	}
	want := []simhost.Injection{{PageID: pageID, Force: false}, {PageID: pageID, Force: true}}
	if injections := f.browser.Injections(); !slices.Equal(injections, want) {
		t.Errorf("injections = %+v, want %+v", injections, want)
	}
}

func TestUnreachableAgentFailsAfterOneRetry(t *testing.T) {
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	f := newFixture(t, fixtureOptions{clock: fake, noAgent: true})

	done := make(chan error, 1)
	go func() {
		_, err := f.orchestrator.RequestRecording(context.Background())
		done <- err
	}()
	fake.WaitForTimers(1)
	fake.Advance(DefaultInjectSettle)

	err := testutil.RequireReceive(t, done, timeout, "RequestRecording result")
	if !errors.Is(err, bus.ErrUnreachable) {
		t.Fatalf("RequestRecording = %v, want ErrUnreachable", err)
	}
	if injections := f.browser.Injections(); len(injections) != 2 {
		t.Errorf("injected %d times, want 2", len(injections))
	}
	if notifications := f.browser.Notifications(); len(notifications) != 1 {
		t.Errorf("notifications = %+v", notifications)
	}
	if f.orchestrator.State().Recording {
		t.Error("recording state set after a failed start")
	}
}

func TestStreamFailureReported(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.tab.FailOpen(errors.New("NotAllowedError"))

	_, err := f.orchestrator.RequestRecording(context.Background())
	if !errors.Is(err, protocol.ErrStreamAcquisition) {
		t.Fatalf("RequestRecording = %v, want ErrStreamAcquisition", err)
	}
	if notifications := f.browser.Notifications(); len(notifications) != 1 {
		t.Errorf("notifications = %+v", notifications)
	}
	if f.orchestrator.State().Recording {
		t.Error("recording state set after a failed start")
	}
	// The orchestrator accepts a new start after the failure.
	f.tab.FailOpen(nil)
	if _, err := f.orchestrator.RequestRecording(context.Background()); err != nil {
		t.Errorf("RequestRecording after failure: %v", err)
	}
}

func TestSaveRecordingChecksDigest(t *testing.T) {
	f := newFixture(t, fixtureOptions{noAgent: true})
	err := f.send(t, protocol.ActionSaveRecording, protocol.SaveRecording{
		ContentType: "video/webm",
		Data:        []byte("tampered"),
		Digest:      transfer.Sum([]byte("original")).String(),
	}, nil)
	if !errors.Is(err, protocol.ErrIntegrity) {
		t.Fatalf("save_recording = %v, want ErrIntegrity", err)
	}
	if f.persister.Calls() != 0 {
		t.Error("mismatched recording was persisted")
	}
}

func TestPersistFailureReported(t *testing.T) {
	f := newFixture(t, fixtureOptions{noAgent: true})
	f.persister.err = protocol.Errorf(protocol.CodePersist, "download denied")

	err := f.send(t, protocol.ActionSaveRecording, protocol.SaveRecording{ContentType: "video/webm", Data: []byte("x")}, nil)
	if !errors.Is(err, protocol.ErrPersist) {
		t.Fatalf("save_recording = %v, want ErrPersist", err)
	}
	if notifications := f.browser.Notifications(); len(notifications) != 1 || notifications[0].Message != "download denied" {
		t.Errorf("notifications = %+v", notifications)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	store := settings.NewFileStore(filepath.Join(t.TempDir(), "settings.jsonc"))
	f := newFixture(t, fixtureOptions{store: store})

	var current settings.Settings
	if err := f.send(t, protocol.ActionGetSettings, nil, &current); err != nil {
		t.Fatalf("get_settings: %v", err)
	}
	if current != settings.Defaults() {
		t.Errorf("first-run settings = %+v", current)
	}

	var updated settings.Settings
	patch := protocol.SettingsPatch{Values: map[string]any{
		settings.KeyVideoQuality: "low",
		settings.KeyAudioEnabled: false,
	}}
	if err := f.send(t, protocol.ActionUpdateSettings, patch, &updated); err != nil {
		t.Fatalf("update_settings: %v", err)
	}
	if updated.VideoQuality != settings.QualityLow || updated.AudioEnabled {
		t.Errorf("updated = %+v", updated)
	}
	broadcast := testutil.RequireReceive(t, f.settings, timeout, "settings_updated")
	if broadcast != updated {
		t.Errorf("broadcast %+v, want %+v", broadcast, updated)
	}

	if _, err := f.orchestrator.RequestRecording(context.Background()); err != nil {
		t.Fatalf("RequestRecording: %v", err)
	}
	recorder := f.tab.LastRecorder()
	if recorder.Options.VideoBitrate != 600_000 {
		t.Errorf("video bitrate = %d, want 600000", recorder.Options.VideoBitrate)
	}
	if sources := f.browser.CaptureRequests()[0].Sources; slices.Contains(sources, host.SourceAudio) {
		t.Errorf("audio offered with audio disabled: %v", sources)
	}
	if f.tab.Streams()[0].Constraints.Audio {
		t.Error("audio track requested with audio disabled")
	}

	err := f.send(t, protocol.ActionUpdateSettings, protocol.SettingsPatch{Values: map[string]any{"volume": 11}}, nil)
	if !errors.Is(err, protocol.ErrInvalidRequest) {
		t.Errorf("unknown key update = %v, want ErrInvalidRequest", err)
	}
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	if err := f.orchestrator.StopRecording(context.Background()); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if f.tab.LastRecorder() != nil {
		t.Error("recorder created by a stop")
	}
}

func TestRecorderStoppingDuringStartLeavesIdle(t *testing.T) {
	f := newFixture(t, fixtureOptions{noAgent: true})
	capture := f.attachAgent(t, nil)

	// The encoder stops inside Start, so the agent's abort reaches the
	// orchestrator before start_capture has been answered.
	f.tab.OnRecorderStart(func(recorder *simhost.Recorder) {
		recorder.Stop()
		select {
		case <-capture.Idle():
		case <-time.After(timeout): //nolint:realclock // waiting on a real agent goroutine
			t.Error("agent never released the stopped session")
		}
	})

	result, err := f.orchestrator.RequestRecording(context.Background())
	if err != nil {
		t.Fatalf("RequestRecording: %v", err)
	}
	if result.State.Recording {
		t.Errorf("start result = %+v, want not recording", result)
	}
	if state := f.orchestrator.State(); state.Recording {
		t.Fatalf("state after early stop = %+v, want not recording", state)
	}
	if alerts := f.tab.Alerts(); len(alerts) != 1 {
		t.Errorf("alerts = %q, want the empty-recording alert", alerts)
	}

	f.tab.OnRecorderStart(nil)
	result, err = f.orchestrator.RequestRecording(context.Background())
	if err != nil {
		t.Fatalf("RequestRecording after early stop: %v", err)
	}
	if !result.State.Recording || result.PageID != pageID {
		t.Errorf("second start result = %+v", result)
	}
	if err := f.orchestrator.StopRecording(context.Background()); err != nil {
		t.Errorf("StopRecording: %v", err)
	}
}

func TestConcurrentStartsShowOnePrompt(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	prompted := make(chan struct{})
	answer := make(chan struct{})
	f.browser.OnPrompt(func(ctx context.Context) {
		close(prompted)
		<-answer
	})

	type outcome struct {
		result *protocol.StartResult
		err    error
	}
	first := make(chan outcome, 1)
	go func() {
		result, err := f.orchestrator.RequestRecording(context.Background())
		first <- outcome{result, err}
	}()
	testutil.RequireClosed(t, prompted, timeout, "capture prompt never opened")

	if _, err := f.orchestrator.RequestRecording(context.Background()); !errors.Is(err, protocol.ErrAlreadyRecording) {
		t.Errorf("start while the prompt is open = %v, want ErrAlreadyRecording", err)
	}
	err := f.send(t, protocol.ActionStartRecording, nil, nil)
	if !errors.Is(err, protocol.ErrAlreadyRecording) {
		t.Errorf("start_recording while the prompt is open = %v, want ErrAlreadyRecording", err)
	}
	close(answer)

	got := testutil.RequireReceive(t, first, timeout, "first RequestRecording")
	if got.err != nil {
		t.Fatalf("first RequestRecording: %v", got.err)
	}
	if !got.result.State.Recording {
		t.Errorf("first start result = %+v", got.result)
	}
	if requests := f.browser.CaptureRequests(); len(requests) != 1 {
		t.Errorf("capture prompt shown %d times, want 1", len(requests))
	}
	if streams := f.tab.Streams(); len(streams) != 1 {
		t.Errorf("opened %d streams, want 1", len(streams))
	}
	if notifications := f.browser.Notifications(); len(notifications) != 0 {
		t.Errorf("rejected starts notified: %+v", notifications)
	}
}
