// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator is the long-lived coordinator of the recorder.
//
// An [Orchestrator] attaches to the bus at "orchestrator". It turns a
// start intent from a control surface into a recording on the active
// page: it validates the page, makes sure a capture agent is present,
// obtains a capture handle through the host's permission prompt, and
// hands the handle to the agent. It owns the authoritative
// [protocol.RecordingState], broadcasting every change with an
// increasing generation, and it receives the finished recording
// (whole, or chunked through a [transfer.Receiver]) and persists it.
//
// Settings requests from control surfaces are served from a
// [settings.Store]; every update is broadcast as settings_updated.
package orchestrator
