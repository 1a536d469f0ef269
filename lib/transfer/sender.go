// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/tabrecord/lib/bus"
	"github.com/bureau-foundation/tabrecord/lib/clock"
	"github.com/bureau-foundation/tabrecord/lib/protocol"
)

// Defaults for SenderOptions.
const (
	DefaultChunkSize          = 512 * 1024
	DefaultSingleMessageLimit = 512 * 1024
	DefaultAckTimeout         = 30 * time.Second
)

// RetryPolicy bounds how often a chunk is resent after its
// acknowledgment times out. MaxAttempts counts the first send, so 1
// (or 0) disables retry.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// backoff returns the wait before retry number n (1-based), doubling
// from InitialBackoff up to MaxBackoff.
func (p RetryPolicy) backoff(n int) time.Duration {
	wait := p.InitialBackoff
	for i := 1; i < n; i++ {
		wait *= 2
		if p.MaxBackoff > 0 && wait >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && wait > p.MaxBackoff {
		return p.MaxBackoff
	}
	return wait
}

// SenderOptions configures a Sender. Zero values take the package
// defaults.
type SenderOptions struct {
	// ChunkSize is the raw payload of each chunk. It must leave room
	// for the envelope within the bus message limit.
	ChunkSize int

	// SingleMessageLimit is the largest recording sent whole as one
	// save_recording message instead of a chunked transfer.
	SingleMessageLimit int

	// AckTimeout bounds the wait for each message's acknowledgment.
	AckTimeout time.Duration

	// Retry resends a chunk whose acknowledgment timed out. Other
	// failures are never retried. The zero policy sends once.
	Retry RetryPolicy

	// Compression is none, lz4, zstd, or auto.
	Compression Compression

	Clock  clock.Clock
	Logger *slog.Logger
}

// Sender delivers recordings to one bus address.
type Sender struct {
	conn    bus.Conn
	to      string
	options SenderOptions
}

// NewSender returns a Sender that sends from conn to the address to.
func NewSender(conn bus.Conn, to string, options SenderOptions) *Sender {
	if options.ChunkSize <= 0 {
		options.ChunkSize = DefaultChunkSize
	}
	if options.SingleMessageLimit <= 0 {
		options.SingleMessageLimit = DefaultSingleMessageLimit
	}
	if options.AckTimeout <= 0 {
		options.AckTimeout = DefaultAckTimeout
	}
	if options.Compression == "" {
		options.Compression = CompressionNone
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Sender{conn: conn, to: to, options: options}
}

// Send delivers data and returns the receiver's save result.
func (s *Sender) Send(ctx context.Context, data []byte, contentType string) (*protocol.SaveResult, error) {
	if len(data) == 0 {
		return nil, protocol.ErrEmptyRecording
	}
	digest := Sum(data).String()

	if len(data) <= s.options.SingleMessageLimit {
		var result protocol.SaveResult
		err := s.conn.Send(ctx, s.to, protocol.ActionSaveRecording, protocol.SaveRecording{
			ContentType: contentType,
			Data:        data,
			Digest:      digest,
		}, &result)
		if err != nil {
			return nil, fmt.Errorf("saving %d byte recording: %w", len(data), err)
		}
		return &result, nil
	}

	return s.sendChunked(ctx, data, contentType, digest)
}

func (s *Sender) sendChunked(ctx context.Context, data []byte, contentType, digest string) (*protocol.SaveResult, error) {
	chunks := Split(data, s.options.ChunkSize)
	compression := s.options.Compression
	if compression == CompressionAuto {
		compression = SelectCompression(chunks[0], contentType)
	}

	var begun protocol.BeginTransferResult
	err := s.conn.Send(bus.WithTimeout(ctx, s.options.AckTimeout), s.to, protocol.ActionBeginTransfer, protocol.BeginTransfer{
		TotalChunks: len(chunks),
		TotalSize:   int64(len(data)),
		ChunkSize:   s.options.ChunkSize,
		ContentType: contentType,
		Digest:      digest,
		Compression: string(compression),
	}, &begun)
	if err != nil {
		return nil, protocol.Errorf(protocol.CodeTransferInit, "beginning transfer of %d chunks: %w", len(chunks), err)
	}
	if begun.TransferID == "" {
		return nil, protocol.Errorf(protocol.CodeTransferInit, "begin_transfer acknowledged without a transfer ID")
	}

	logger := s.options.Logger.With("transfer_id", begun.TransferID)
	logger.Debug("transfer begun", "total_chunks", len(chunks), "total_size", len(data), "compression", compression)

	for index, raw := range chunks {
		payload, err := compressChunk(raw, compression)
		if err != nil {
			return nil, s.abort(ctx, begun.TransferID, fmt.Errorf("compressing chunk %d: %w", index, err))
		}
		chunk := protocol.Chunk{
			TransferID: begun.TransferID,
			Index:      index,
			Last:       index == len(chunks)-1,
			RawSize:    len(raw),
			Data:       payload,
		}
		if err := s.sendChunk(ctx, chunk, logger); err != nil {
			return nil, s.abort(ctx, begun.TransferID, err)
		}
	}

	var result protocol.SaveResult
	err = s.conn.Send(ctx, s.to, protocol.ActionFinalizeTransfer, protocol.FinalizeTransfer{
		TransferID: begun.TransferID,
	}, &result)
	if err != nil {
		// The receiver releases the transfer on finalize regardless of
		// outcome; nothing to abort.
		return nil, fmt.Errorf("finalizing transfer %s: %w", begun.TransferID, err)
	}
	logger.Info("transfer complete", "file_id", result.FileID, "size", len(data))
	return &result, nil
}

// sendChunk sends one chunk, retrying timed out acknowledgments under
// the retry policy.
func (s *Sender) sendChunk(ctx context.Context, chunk protocol.Chunk, logger *slog.Logger) error {
	attempts := max(s.options.Retry.MaxAttempts, 1)
	for attempt := 1; ; attempt++ {
		var ack protocol.ChunkAck
		err := s.conn.Send(bus.WithTimeout(ctx, s.options.AckTimeout), s.to, protocol.ActionChunk, chunk, &ack)
		if err == nil {
			return nil
		}
		if attempt >= attempts || !errors.Is(err, bus.ErrTimeout) {
			return fmt.Errorf("sending chunk %d (attempt %d of %d): %w", chunk.Index, attempt, attempts, err)
		}

		wait := s.options.Retry.backoff(attempt)
		logger.Warn("chunk acknowledgment timed out, retrying",
			"index", chunk.Index,
			"attempt", attempt,
			"backoff", wait,
		)
		select {
		case <-s.options.Clock.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// abort tells the receiver to drop the transfer and returns cause.
func (s *Sender) abort(ctx context.Context, transferID string, cause error) error {
	err := s.conn.Send(bus.WithTimeout(context.WithoutCancel(ctx), s.options.AckTimeout), s.to, protocol.ActionAbortTransfer, protocol.AbortTransfer{
		TransferID: transferID,
		Code:       protocol.CodeOf(cause),
		Reason:     cause.Error(),
	}, nil)
	if err != nil {
		s.options.Logger.Warn("abort_transfer not delivered", "transfer_id", transferID, "error", err)
	}
	return cause
}
