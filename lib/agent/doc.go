// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent is the capture agent that runs inside a recorded page.
//
// An [Agent] attaches to the bus at agent/<page-id>. On start_capture it
// turns the capture handle into a media stream and starts an encoder,
// buffering every non-empty segment in arrival order. When the encoder
// stops it concatenates the buffer and delivers the bytes to the
// orchestrator through a [transfer.Sender], then releases the stream.
// At most one capture session exists per agent.
//
// Failures the user should see go to the page's [host.Alerter]. A
// recording that produced no data is never delivered: the agent sends
// abort_transfer instead so the orchestrator clears its recording
// state.
package agent
