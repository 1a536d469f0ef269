// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "time"

// Bus addresses.
const (
	AddressOrchestrator = "orchestrator"
	AddressHost         = "host"

	agentPrefix   = "agent/"
	controlPrefix = "control/"
)

// AgentAddress returns the bus address of the capture agent in a page.
func AgentAddress(pageID string) string { return agentPrefix + pageID }

// ControlAddress returns the bus address of a control surface.
func ControlAddress(id string) string { return controlPrefix + id }

// Actions handled by the orchestrator.
const (
	ActionStartRecording    = "start_recording"
	ActionStopRecording     = "stop_recording"
	ActionGetRecordingState = "get_recording_state"
	ActionSaveRecording     = "save_recording"
	ActionBeginTransfer     = "begin_transfer"
	ActionChunk             = "chunk"
	ActionFinalizeTransfer  = "finalize_transfer"
	ActionAbortTransfer     = "abort_transfer"
	ActionGetSettings       = "get_settings"
	ActionUpdateSettings    = "update_settings"
)

// Actions handled by capture agents.
const (
	ActionStartCapture = "start_capture"
	ActionStopCapture  = "stop_capture"
)

// Broadcasts.
const (
	ActionRecordingStateChanged = "recording_state_changed"
	ActionSettingsUpdated       = "settings_updated"
)

// Actions handled by the host shim.
const (
	ActionActivePage           = "active_page"
	ActionRequestCaptureHandle = "request_capture_handle"
	ActionInjectAgent          = "inject_agent"
	ActionNotify               = "notify"
)

// RecordingState is the orchestrator's view of whether a recording is
// active. Generation increases on every change.
type RecordingState struct {
	Recording  bool   `json:"recording"`
	PageID     string `json:"page_id,omitempty"`
	Generation uint64 `json:"generation"`
}

// Newer reports whether s supersedes other.
func (s RecordingState) Newer(other RecordingState) bool {
	return s.Generation > other.Generation
}

// StartResult is the orchestrator's answer to start_recording.
// Cancelled is set when the user dismissed the capture prompt.
type StartResult struct {
	Cancelled bool           `json:"cancelled,omitempty"`
	PageID    string         `json:"page_id,omitempty"`
	State     RecordingState `json:"state"`
}

// Encoder defaults for StartCapture fields left unset.
const (
	DefaultMimeType      = "video/webm;codecs=vp8,opus"
	DefaultFlushInterval = 100 * time.Millisecond
)

// StartCapture asks an agent to open a stream on Handle and start
// recording.
type StartCapture struct {
	Handle        string        `cbor:"handle"`
	PageID        string        `cbor:"page_id"`
	Audio         bool          `cbor:"audio"`
	MimeType      string        `cbor:"mime_type"`
	VideoBitrate  int           `cbor:"video_bitrate"`
	AudioBitrate  int           `cbor:"audio_bitrate"`
	FlushInterval time.Duration `cbor:"flush_interval"`
	ShowIndicator bool          `cbor:"show_indicator,omitempty"`
}

// SaveRecording carries a whole recording in one message.
type SaveRecording struct {
	ContentType string `cbor:"content_type"`
	Data        []byte `cbor:"data"`
	Digest      string `cbor:"digest,omitempty"`
}

// SaveResult identifies the persisted file.
type SaveResult struct {
	FileID string `cbor:"file_id"`
	Size   int64  `cbor:"size"`
}

// BeginTransfer declares a chunked transfer.
type BeginTransfer struct {
	TotalChunks int    `cbor:"total_chunks"`
	TotalSize   int64  `cbor:"total_size"`
	ChunkSize   int    `cbor:"chunk_size"`
	ContentType string `cbor:"content_type"`
	Digest      string `cbor:"digest,omitempty"`
	Compression string `cbor:"compression,omitempty"`
}

// BeginTransferResult acknowledges a BeginTransfer.
type BeginTransferResult struct {
	TransferID string `cbor:"transfer_id"`
}

// Chunk is one slice of a transfer. RawSize is the uncompressed
// length of Data.
type Chunk struct {
	TransferID string `cbor:"transfer_id"`
	Index      int    `cbor:"index"`
	Last       bool   `cbor:"last"`
	RawSize    int    `cbor:"raw_size"`
	Data       []byte `cbor:"data"`
}

// ChunkAck acknowledges a Chunk.
type ChunkAck struct {
	Received int `cbor:"received"`
}

// FinalizeTransfer asks the orchestrator to reassemble and persist.
type FinalizeTransfer struct {
	TransferID string `cbor:"transfer_id"`
}

// AbortTransfer tells the orchestrator the agent gave up. TransferID
// is empty when no transfer was begun (an empty recording).
type AbortTransfer struct {
	TransferID string `cbor:"transfer_id,omitempty"`
	Code       Code   `cbor:"code,omitempty"`
	Reason     string `cbor:"reason"`
}

// SettingsPatch carries a partial settings update.
type SettingsPatch struct {
	Values map[string]any `cbor:"values"`
}

// Page describes a browser page on the host shim wire.
type Page struct {
	ID    string `cbor:"id"`
	URL   string `cbor:"url"`
	Title string `cbor:"title,omitempty"`
}

// ActivePageResult answers active_page. Page is nil when no page is
// in the foreground.
type ActivePageResult struct {
	Page *Page `cbor:"page,omitempty"`
}

// CaptureHandleRequest asks the host for a capture handle.
type CaptureHandleRequest struct {
	Sources []string `cbor:"sources"`
	Page    Page     `cbor:"page"`
}

// CaptureHandleResult is empty when the user dismissed the prompt.
type CaptureHandleResult struct {
	Handle string `cbor:"handle"`
}

// InjectAgentRequest asks the host to load the agent into a page.
type InjectAgentRequest struct {
	PageID string `cbor:"page_id"`
	Force  bool   `cbor:"force,omitempty"`
}

// InjectAgentResult reports an agent that was already loaded.
type InjectAgentResult struct {
	AlreadyPresent bool `cbor:"already_present,omitempty"`
}

// Notification is a desktop notification.
type Notification struct {
	Title   string `cbor:"title"`
	Message string `cbor:"message"`
}
