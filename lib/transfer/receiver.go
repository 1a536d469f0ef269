// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/tabrecord/lib/bus"
	"github.com/bureau-foundation/tabrecord/lib/clock"
	"github.com/bureau-foundation/tabrecord/lib/protocol"
)

// DefaultStaleAfter is how long an idle transfer blocks a new one.
const DefaultStaleAfter = 2 * time.Minute

// DefaultMaxTotalSize bounds a reassembled recording when
// ReceiverOptions.MaxTotalSize is zero.
const DefaultMaxTotalSize int64 = 2 << 30

// ReceiverOptions configures a Receiver.
type ReceiverOptions struct {
	Clock clock.Clock

	// StaleAfter is the idle time after which an active transfer may
	// be evicted by a new begin.
	StaleAfter time.Duration

	// MaxTotalSize rejects declarations above this many bytes. Zero
	// means DefaultMaxTotalSize and a negative value means no limit.
	// The whole recording is held in memory until it completes, so
	// this is the receiver's memory bound.
	MaxTotalSize int64

	// MaxChunkSize rejects declared chunk sizes that could never fit
	// in one bus message. Defaults to bus.DefaultMaxMessageSize.
	MaxChunkSize int

	Logger *slog.Logger
}

// Recording is a fully reassembled transfer.
type Recording struct {
	TransferID  string
	ContentType string
	Data        []byte
}

// Receiver holds at most one in-progress transfer.
//
// A begin_transfer that arrives while another transfer is active is
// refused with protocol.ErrTransferBusy, unless the active transfer has
// been idle for StaleAfter. Any accepted chunk counts as activity. A
// stale transfer is evicted and its chunks dropped, so a sender that
// died mid-transfer cannot block the next recording forever. Finalize
// and Abort release the active transfer; nothing else does.
type Receiver struct {
	options ReceiverOptions

	mu     sync.Mutex
	active *Assembler
}

// NewReceiver returns an idle receiver.
func NewReceiver(options ReceiverOptions) *Receiver {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.StaleAfter <= 0 {
		options.StaleAfter = DefaultStaleAfter
	}
	if options.MaxTotalSize == 0 {
		options.MaxTotalSize = DefaultMaxTotalSize
	}
	if options.MaxChunkSize <= 0 {
		options.MaxChunkSize = bus.DefaultMaxMessageSize
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Receiver{options: options}
}

// Begin starts a transfer and returns its ID. It fails with
// protocol.ErrTransferBusy while another transfer is active and has
// seen activity within StaleAfter.
//
// The declaration is checked before anything is allocated. A total size
// above MaxTotalSize, a chunk size above MaxChunkSize, a chunk count
// above MaxChunks, or counts that do not add up fail with
// protocol.ErrInvalidRequest and leave any active transfer in place.
func (r *Receiver) Begin(begin protocol.BeginTransfer) (string, error) {
	if r.options.MaxTotalSize > 0 && begin.TotalSize > r.options.MaxTotalSize {
		return "", protocol.Errorf(protocol.CodeInvalidRequest,
			"transfer of %d bytes exceeds the %d byte limit", begin.TotalSize, r.options.MaxTotalSize)
	}
	if begin.ChunkSize > r.options.MaxChunkSize {
		return "", protocol.Errorf(protocol.CodeInvalidRequest,
			"chunk size %d exceeds the %d byte message limit", begin.ChunkSize, r.options.MaxChunkSize)
	}

	now := r.options.Clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		idle := now.Sub(r.active.LastActivity())
		if idle < r.options.StaleAfter {
			return "", protocol.Errorf(protocol.CodeTransferBusy,
				"transfer %s is in progress (%d of %d chunks)", r.active.ID(), r.active.Received(), r.active.TotalChunks())
		}
		r.options.Logger.Warn("evicting stale transfer",
			"transfer_id", r.active.ID(),
			"received", r.active.Received(),
			"total_chunks", r.active.TotalChunks(),
			"idle", idle,
		)
		r.active = nil
	}

	assembler, err := NewAssembler(uuid.NewString(), begin, now)
	if err != nil {
		return "", err
	}
	r.active = assembler
	r.options.Logger.Debug("transfer begun",
		"transfer_id", assembler.ID(),
		"total_chunks", begin.TotalChunks,
		"total_size", begin.TotalSize,
		"compression", begin.Compression,
	)
	return assembler.ID(), nil
}

// Put stores a chunk and returns the number of distinct chunks held.
func (r *Receiver) Put(chunk protocol.Chunk) (int, error) {
	now := r.options.Clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	assembler, err := r.lookupLocked(chunk.TransferID)
	if err != nil {
		return 0, err
	}
	if err := assembler.Put(chunk, now); err != nil {
		return 0, err
	}
	return assembler.Received(), nil
}

// Finalize reassembles the transfer. The transfer is released whether
// or not reassembly succeeds.
func (r *Receiver) Finalize(transferID string) (*Recording, error) {
	r.mu.Lock()
	assembler, err := r.lookupLocked(transferID)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.active = nil
	r.mu.Unlock()

	data, err := assembler.Assemble()
	if err != nil {
		return nil, err
	}
	return &Recording{TransferID: transferID, ContentType: assembler.ContentType(), Data: data}, nil
}

// Abort releases the transfer. An empty ID releases whatever is
// active. Reports whether anything was released.
func (r *Receiver) Abort(transferID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil || (transferID != "" && r.active.ID() != transferID) {
		return false
	}
	r.active = nil
	return true
}

// Active returns the ID of the in-progress transfer, if any.
func (r *Receiver) Active() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return "", false
	}
	return r.active.ID(), true
}

func (r *Receiver) lookupLocked(transferID string) (*Assembler, error) {
	if r.active == nil || r.active.ID() != transferID {
		return nil, protocol.Errorf(protocol.CodeUnknownTransfer, "no active transfer %q", transferID)
	}
	return r.active, nil
}
