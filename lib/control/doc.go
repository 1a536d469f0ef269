// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package control is the control surface's view of the recorder.
//
// A [Mirror] attaches to the bus under a fresh control/<uuid> address,
// pulls the orchestrator's recording state once, and then follows
// recording_state_changed broadcasts. Every state carries a generation;
// the mirror discards anything older than what it already holds, so a
// late broadcast can never roll the view back. The mirror is only a
// cache: the orchestrator's state is authoritative.
package control
