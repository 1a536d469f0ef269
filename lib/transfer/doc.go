// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transfer moves a finished recording from a capture agent to
// the orchestrator across a bus with a per-message size limit.
//
// The [Sender] runs on the agent. Recordings at or below the single
// message limit go as one save_recording message. Anything larger is
// split into fixed-size chunks and sent as
//
//	begin_transfer -> chunk 0 .. chunk N-1 -> finalize_transfer
//
// strictly in sequence, each message waiting for its acknowledgment
// under the ack timeout. If anything fails after begin_transfer was
// acknowledged, the sender emits abort_transfer.
//
// The [Receiver] runs on the orchestrator and holds at most one
// [Assembler]. Chunks are stored by index, never by arrival order, so
// a bus that reorders delivery still reassembles correctly. Duplicate
// deliveries of an index replace the earlier copy and are counted
// once. Finalize fails with protocol.ErrIncompleteTransfer unless every
// index has arrived, and with protocol.ErrIntegrity if the reassembled
// bytes do not match the declared BLAKE3 [Digest].
//
// Chunks may be compressed with zstd or lz4 when the content benefits.
// A compressed chunk is always strictly smaller than its raw size, so
// a chunk whose data length equals its raw size is stored as is.
package transfer
