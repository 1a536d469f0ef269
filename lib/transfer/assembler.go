// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"time"

	"github.com/bureau-foundation/tabrecord/lib/protocol"
)

// Assembler collects the chunks of one transfer by index.
type Assembler struct {
	id          string
	totalChunks int
	totalSize   int64
	chunkSize   int
	contentType string
	compression Compression
	digest      *Digest

	chunks       [][]byte
	received     int
	lastActivity time.Time
}

// MaxChunks bounds the chunk count a transfer may declare. The chunk
// table is allocated up front from the declaration.
const MaxChunks = 1 << 20

// NewAssembler validates a begin_transfer declaration and returns an
// empty assembler for it.
func NewAssembler(id string, begin protocol.BeginTransfer, now time.Time) (*Assembler, error) {
	if begin.TotalChunks < 1 || begin.TotalChunks > MaxChunks {
		return nil, protocol.Errorf(protocol.CodeInvalidRequest, "transfer declares %d chunks", begin.TotalChunks)
	}
	if begin.ChunkSize < 1 {
		return nil, protocol.Errorf(protocol.CodeInvalidRequest, "transfer declares chunk size %d", begin.ChunkSize)
	}
	if begin.TotalSize < 0 || begin.TotalChunks != ChunkCount(begin.TotalSize, begin.ChunkSize) {
		return nil, protocol.Errorf(protocol.CodeInvalidRequest,
			"%d chunks of %d bytes cannot hold %d bytes", begin.TotalChunks, begin.ChunkSize, begin.TotalSize)
	}
	compression, err := ParseCompression(begin.Compression)
	if err != nil || compression == CompressionAuto {
		return nil, protocol.Errorf(protocol.CodeInvalidRequest, "transfer declares compression %q", begin.Compression)
	}

	assembler := &Assembler{
		id:           id,
		totalChunks:  begin.TotalChunks,
		totalSize:    begin.TotalSize,
		chunkSize:    begin.ChunkSize,
		contentType:  begin.ContentType,
		compression:  compression,
		chunks:       make([][]byte, begin.TotalChunks),
		lastActivity: now,
	}
	if begin.Digest != "" {
		digest, err := ParseDigest(begin.Digest)
		if err != nil {
			return nil, protocol.Errorf(protocol.CodeInvalidRequest, "transfer digest: %w", err)
		}
		assembler.digest = &digest
	}
	return assembler, nil
}

// ID returns the transfer ID.
func (a *Assembler) ID() string { return a.id }

// ContentType returns the declared content type.
func (a *Assembler) ContentType() string { return a.contentType }

// Received returns the number of distinct indices stored.
func (a *Assembler) Received() int { return a.received }

// TotalChunks returns the declared chunk count.
func (a *Assembler) TotalChunks() int { return a.totalChunks }

// LastActivity returns when the transfer was begun or last received a
// chunk.
func (a *Assembler) LastActivity() time.Time { return a.lastActivity }

// Put stores chunk at its index.
func (a *Assembler) Put(chunk protocol.Chunk, now time.Time) error {
	if chunk.Index < 0 || chunk.Index >= a.totalChunks {
		return protocol.Errorf(protocol.CodeInvalidRequest,
			"chunk index %d outside transfer of %d chunks", chunk.Index, a.totalChunks)
	}
	want := expectedRawSize(chunk.Index, a.totalChunks, a.chunkSize, a.totalSize)
	if chunk.RawSize != want {
		return protocol.Errorf(protocol.CodeInvalidRequest,
			"chunk %d declares %d bytes, want %d", chunk.Index, chunk.RawSize, want)
	}
	data, err := decompressChunk(chunk.Data, a.compression, chunk.RawSize)
	if err != nil {
		return protocol.Errorf(protocol.CodeInvalidRequest, "chunk %d: %w", chunk.Index, err)
	}

	if a.chunks[chunk.Index] == nil {
		a.received++
	}
	// Keep a private copy; the caller's buffer may be reused.
	a.chunks[chunk.Index] = append(make([]byte, 0, len(data)), data...)
	a.lastActivity = now
	return nil
}

// Assemble writes every chunk at its offset into one buffer and checks
// the result against the declaration.
func (a *Assembler) Assemble() ([]byte, error) {
	if a.received != a.totalChunks {
		return nil, protocol.Errorf(protocol.CodeIncompleteTransfer,
			"transfer %s received %d of %d chunks", a.id, a.received, a.totalChunks)
	}
	buffer := make([]byte, a.totalSize)
	var written int64
	for index, chunk := range a.chunks {
		written += int64(copy(buffer[int64(index)*int64(a.chunkSize):], chunk))
	}
	if written != a.totalSize {
		return nil, protocol.Errorf(protocol.CodeIntegrity,
			"transfer %s reassembled %d bytes, declared %d", a.id, written, a.totalSize)
	}
	if a.digest != nil {
		if actual := Sum(buffer); actual != *a.digest {
			return nil, protocol.Errorf(protocol.CodeIntegrity,
				"transfer %s digest %s, declared %s", a.id, actual, a.digest)
		}
	}
	return buffer, nil
}
