// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the messages exchanged between the
// orchestrator, capture agents, control surfaces, and the host shim,
// along with the error taxonomy shared by all of them.
//
// Every message is a bus envelope carrying an action name and a CBOR
// payload. The payload types here are the single source of truth for
// field names on the wire.
//
// # Recording
//
// A control surface sends start_recording to the orchestrator, which
// resolves the page, obtains a capture handle from the host, and sends
// start_capture to agent/<page-id>. The agent responds once its
// recorder is running. stop_recording and stop_capture follow the same
// path. The orchestrator broadcasts recording_state_changed after
// every state change, with a generation counter so receivers can drop
// updates that arrive out of order.
//
// # Transfer
//
// When the recorder stops, the agent concatenates its segments and
// sends them to the orchestrator. Recordings at or below the single
// message limit go as one save_recording. Larger ones use
//
//	begin_transfer -> chunk x N -> finalize_transfer
//
// where begin_transfer returns the transfer ID every later message
// names. Each chunk is acknowledged before the next is sent. An agent
// that gives up mid-transfer sends abort_transfer so the orchestrator
// can release the reassembly buffer.
//
// # Errors
//
// Failures cross the bus as an error code plus message. [Error] values
// compare by code, so errors.Is(err, protocol.ErrIncompleteTransfer)
// holds for an error returned by a remote handler.
package protocol
