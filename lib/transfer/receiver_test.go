// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/tabrecord/lib/clock"
	"github.com/bureau-foundation/tabrecord/lib/protocol"
	"github.com/bureau-foundation/tabrecord/lib/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newReceiver(t *testing.T) (*Receiver, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(epoch)
	return NewReceiver(ReceiverOptions{
		Clock:      fake,
		StaleAfter: time.Minute,
		Logger:     testutil.Logger(t),
	}), fake
}

func patterned(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*7 + i/256)
	}
	return data
}

func beginFor(data []byte, chunkSize int) protocol.BeginTransfer {
	return protocol.BeginTransfer{
		TotalChunks: ChunkCount(int64(len(data)), chunkSize),
		TotalSize:   int64(len(data)),
		ChunkSize:   chunkSize,
		ContentType: "video/webm",
		Digest:      Sum(data).String(),
	}
}

func chunkOf(transferID string, chunks [][]byte, index int) protocol.Chunk {
	return protocol.Chunk{
		TransferID: transferID,
		Index:      index,
		Last:       index == len(chunks)-1,
		RawSize:    len(chunks[index]),
		Data:       chunks[index],
	}
}

func TestReceiverOutOfOrderDelivery(t *testing.T) {
	receiver, _ := newReceiver(t)
	data := patterned(1536)
	chunks := Split(data, 512)

	id, err := receiver.Begin(beginFor(data, 512))
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	for _, index := range []int{2, 0, 1} {
		if _, err := receiver.Put(chunkOf(id, chunks, index)); err != nil {
			t.Fatalf("Put(%d): %v", index, err)
		}
	}

	recording, err := receiver.Finalize(id)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	want := append(append(append([]byte{}, chunks[0]...), chunks[1]...), chunks[2]...)
	if len(recording.Data) != 1536 || !bytes.Equal(recording.Data, want) {
		t.Errorf("reassembled %d bytes, not equal to chunk0+chunk1+chunk2", len(recording.Data))
	}
	if recording.ContentType != "video/webm" {
		t.Errorf("ContentType = %q", recording.ContentType)
	}
}

func TestReceiverIncompleteTransfer(t *testing.T) {
	receiver, _ := newReceiver(t)
	data := patterned(1024)
	chunks := Split(data, 512)

	id, err := receiver.Begin(beginFor(data, 512))
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := receiver.Put(chunkOf(id, chunks, 0)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	_, err = receiver.Finalize(id)
	if !errors.Is(err, protocol.ErrIncompleteTransfer) {
		t.Fatalf("Finalize: %v, want ErrIncompleteTransfer", err)
	}
	if _, active := receiver.Active(); active {
		t.Error("failed finalize left the transfer active")
	}
}

func TestReceiverDuplicateChunkCountedOnce(t *testing.T) {
	receiver, _ := newReceiver(t)
	data := patterned(1024)
	chunks := Split(data, 512)
	id, _ := receiver.Begin(beginFor(data, 512))

	for range 3 {
		received, err := receiver.Put(chunkOf(id, chunks, 0))
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		if received != 1 {
			t.Fatalf("received = %d after duplicate, want 1", received)
		}
	}
	if _, err := receiver.Finalize(id); !errors.Is(err, protocol.ErrIncompleteTransfer) {
		t.Errorf("Finalize after duplicates only: %v, want ErrIncompleteTransfer", err)
	}
}

func TestReceiverBusyUntilStale(t *testing.T) {
	receiver, fake := newReceiver(t)
	data := patterned(2048)

	first, err := receiver.Begin(beginFor(data, 512))
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := receiver.Begin(beginFor(data, 512)); !errors.Is(err, protocol.ErrTransferBusy) {
		t.Fatalf("second Begin: %v, want ErrTransferBusy", err)
	}

	// A chunk resets the idle clock.
	fake.Advance(50 * time.Second)
	if _, err := receiver.Put(chunkOf(first, Split(data, 512), 0)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	fake.Advance(50 * time.Second)
	if _, err := receiver.Begin(beginFor(data, 512)); !errors.Is(err, protocol.ErrTransferBusy) {
		t.Fatalf("Begin after activity: %v, want ErrTransferBusy", err)
	}

	fake.Advance(time.Minute)
	second, err := receiver.Begin(beginFor(data, 512))
	if err != nil {
		t.Fatalf("Begin after stale: %v", err)
	}
	if second == first {
		t.Error("evicted transfer ID reused")
	}
	if _, err := receiver.Put(chunkOf(first, Split(data, 512), 1)); !errors.Is(err, protocol.ErrUnknownTransfer) {
		t.Errorf("Put to evicted transfer: %v, want ErrUnknownTransfer", err)
	}
}

func TestReceiverAbort(t *testing.T) {
	receiver, _ := newReceiver(t)
	id, _ := receiver.Begin(beginFor(patterned(1024), 512))

	if receiver.Abort("some-other-id") {
		t.Error("Abort with a foreign ID released the transfer")
	}
	if !receiver.Abort(id) {
		t.Fatal("Abort did not release the transfer")
	}
	if _, err := receiver.Begin(beginFor(patterned(1024), 512)); err != nil {
		t.Errorf("Begin after abort: %v", err)
	}
}

func TestReceiverIntegrity(t *testing.T) {
	receiver, _ := newReceiver(t)
	data := patterned(1024)
	begin := beginFor(data, 512)
	begin.Digest = Sum([]byte("something else")).String()

	id, err := receiver.Begin(begin)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	chunks := Split(data, 512)
	for index := range chunks {
		receiver.Put(chunkOf(id, chunks, index))
	}
	if _, err := receiver.Finalize(id); !errors.Is(err, protocol.ErrIntegrity) {
		t.Errorf("Finalize: %v, want ErrIntegrity", err)
	}
}

func TestReceiverRejectsMalformedChunks(t *testing.T) {
	receiver, _ := newReceiver(t)
	data := patterned(1100)
	chunks := Split(data, 512)
	id, _ := receiver.Begin(beginFor(data, 512))

	cases := map[string]protocol.Chunk{
		"negative index":   {TransferID: id, Index: -1, RawSize: 512, Data: chunks[0]},
		"index past end":   {TransferID: id, Index: 3, RawSize: 76, Data: chunks[2]},
		"short middle":     {TransferID: id, Index: 1, RawSize: 100, Data: chunks[1][:100]},
		"oversized data":   {TransferID: id, Index: 2, RawSize: 76, Data: chunks[0]},
		"bad compressed":   {TransferID: id, Index: 0, RawSize: 512, Data: []byte{1, 2, 3}},
		"unknown transfer": {TransferID: "nope", Index: 0, RawSize: 512, Data: chunks[0]},
	}
	for name, chunk := range cases {
		if _, err := receiver.Put(chunk); err == nil {
			t.Errorf("%s: Put accepted", name)
		}
	}
}

func TestReceiverRejectsInconsistentDeclarations(t *testing.T) {
	receiver, _ := newReceiver(t)
	for name, begin := range map[string]protocol.BeginTransfer{
		"zero chunks":      {TotalChunks: 0, TotalSize: 0, ChunkSize: 512},
		"zero chunk size":  {TotalChunks: 1, TotalSize: 10, ChunkSize: 0},
		"too few chunks":   {TotalChunks: 2, TotalSize: 1537, ChunkSize: 512},
		"too many chunks":  {TotalChunks: 4, TotalSize: 1536, ChunkSize: 512},
		"auto on the wire": {TotalChunks: 1, TotalSize: 10, ChunkSize: 512, Compression: "auto"},
		"bad digest":       {TotalChunks: 1, TotalSize: 10, ChunkSize: 512, Digest: "xyz"},
		"over chunk limit": {TotalChunks: MaxChunks + 1, TotalSize: MaxChunks + 1, ChunkSize: 1},
	} {
		if _, err := receiver.Begin(begin); !errors.Is(err, protocol.ErrInvalidRequest) {
			t.Errorf("%s: Begin = %v, want ErrInvalidRequest", name, err)
		}
	}
}

func TestReceiverMaxTotalSize(t *testing.T) {
	receiver := NewReceiver(ReceiverOptions{MaxTotalSize: 1000, Logger: testutil.Discard()})
	if _, err := receiver.Begin(beginFor(patterned(1024), 512)); !errors.Is(err, protocol.ErrInvalidRequest) {
		t.Errorf("Begin over limit: %v, want ErrInvalidRequest", err)
	}
}

func TestReceiverRejectsHugeDeclarations(t *testing.T) {
	huge := protocol.BeginTransfer{TotalChunks: 1 << 50, TotalSize: 1 << 50, ChunkSize: 1}
	oversizedChunk := protocol.BeginTransfer{TotalChunks: 1, TotalSize: 4 << 20, ChunkSize: 4 << 20}

	for name, options := range map[string]ReceiverOptions{
		"default limits": {},
		"no total limit": {MaxTotalSize: -1},
	} {
		options.Logger = testutil.Discard()
		receiver := NewReceiver(options)
		if _, err := receiver.Begin(huge); !errors.Is(err, protocol.ErrInvalidRequest) {
			t.Errorf("%s: Begin(%d chunks) = %v, want ErrInvalidRequest", name, huge.TotalChunks, err)
		}
		if _, err := receiver.Begin(oversizedChunk); !errors.Is(err, protocol.ErrInvalidRequest) {
			t.Errorf("%s: Begin(chunk size %d) = %v, want ErrInvalidRequest", name, oversizedChunk.ChunkSize, err)
		}

		// A rejected declaration leaves the receiver free.
		data := patterned(1024)
		if _, err := receiver.Begin(beginFor(data, 512)); err != nil {
			t.Errorf("%s: Begin after rejections: %v", name, err)
		}
	}
}

func TestReceiverMaxChunkSize(t *testing.T) {
	receiver := NewReceiver(ReceiverOptions{MaxChunkSize: 256, Logger: testutil.Discard()})
	if _, err := receiver.Begin(beginFor(patterned(1024), 512)); !errors.Is(err, protocol.ErrInvalidRequest) {
		t.Errorf("Begin with 512-byte chunks: %v, want ErrInvalidRequest", err)
	}
	if _, err := receiver.Begin(beginFor(patterned(1024), 256)); err != nil {
		t.Errorf("Begin with 256-byte chunks: %v", err)
	}
}
