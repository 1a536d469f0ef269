// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/tabrecord/lib/clock"
	"github.com/bureau-foundation/tabrecord/lib/protocol"
	"github.com/bureau-foundation/tabrecord/lib/testutil"
)

type echoRequest struct {
	Text string `cbor:"text"`
}

type echoResponse struct {
	Text string `cbor:"text"`
	From string `cbor:"from"`
}

func echoHandler(ctx context.Context, message *Message) (any, error) {
	var request echoRequest
	if err := message.Decode(&request); err != nil {
		return nil, err
	}
	return echoResponse{Text: request.Text, From: message.From}, nil
}

func attach(t *testing.T, attacher Bus, address string, handler Handler) Conn {
	t.Helper()
	conn, err := attacher.Attach(address, handler)
	if err != nil {
		t.Fatalf("Attach(%s): %v", address, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newMemory(t *testing.T, fake *clock.FakeClock) *Memory {
	options := MemoryOptions{
		Timeout: 5 * time.Second,
		Logger:  testutil.Logger(t),
	}
	if fake != nil {
		options.Clock = fake
	}
	return NewMemory(options)
}

func TestMemorySendRoundTrip(t *testing.T) {
	bus := newMemory(t, nil)
	attach(t, bus, "orchestrator", echoHandler)
	caller := attach(t, bus, "agent/tab-1", echoHandler)

	var reply echoResponse
	if err := caller.Send(context.Background(), "orchestrator", "echo", echoRequest{Text: "hello"}, &reply); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Text != "hello" || reply.From != "agent/tab-1" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestMemoryUnreachable(t *testing.T) {
	bus := newMemory(t, nil)
	caller := attach(t, bus, "orchestrator", echoHandler)

	err := caller.Send(context.Background(), "agent/missing", "start_capture", nil, nil)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("Send to missing address: %v, want ErrUnreachable", err)
	}
}

func TestMemoryDuplicateAddress(t *testing.T) {
	bus := newMemory(t, nil)
	attach(t, bus, "orchestrator", echoHandler)
	if _, err := bus.Attach("orchestrator", echoHandler); !errors.Is(err, ErrAddressInUse) {
		t.Fatalf("second Attach: %v, want ErrAddressInUse", err)
	}
}

func TestMemoryMessageTooLarge(t *testing.T) {
	bus := NewMemory(MemoryOptions{MaxMessageSize: 1024, Logger: testutil.Discard()})
	delivered := make(chan struct{}, 1)
	attach(t, bus, "orchestrator", func(context.Context, *Message) (any, error) {
		delivered <- struct{}{}
		return nil, nil
	})
	caller := attach(t, bus, "agent/tab-1", echoHandler)

	err := caller.Send(context.Background(), "orchestrator", "chunk", struct {
		Data []byte `cbor:"data"`
	}{Data: make([]byte, 2048)}, nil)
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("oversized Send: %v, want ErrMessageTooLarge", err)
	}
	select {
	case <-delivered:
		t.Error("oversized message reached the handler")
	default:
	}
}

func TestMemoryRemoteErrorKeepsCode(t *testing.T) {
	bus := newMemory(t, nil)
	attach(t, bus, "orchestrator", func(context.Context, *Message) (any, error) {
		return nil, protocol.Errorf(protocol.CodeIncompleteTransfer, "received 1 of 2 chunks")
	})
	caller := attach(t, bus, "agent/tab-1", echoHandler)

	err := caller.Send(context.Background(), "orchestrator", "finalize_transfer", nil, nil)
	if !errors.Is(err, protocol.ErrIncompleteTransfer) {
		t.Fatalf("Send: %v, want ErrIncompleteTransfer", err)
	}
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Action != "finalize_transfer" {
		t.Errorf("error %v is not a RemoteError for finalize_transfer", err)
	}
}

func TestMemoryTimeoutUsesClock(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	bus := newMemory(t, fake)
	release := make(chan struct{})
	attach(t, bus, "orchestrator", func(context.Context, *Message) (any, error) {
		<-release
		return nil, nil
	})
	defer close(release)
	caller := attach(t, bus, "agent/tab-1", echoHandler)

	result := make(chan error, 1)
	go func() {
		ctx := WithTimeout(context.Background(), 2*time.Second)
		result <- caller.Send(ctx, "orchestrator", "chunk", nil, nil)
	}()

	fake.WaitForTimers(1)
	fake.Advance(2 * time.Second)
	err := testutil.RequireReceive(t, result, 5*time.Second, "waiting for timed out Send")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Send: %v, want ErrTimeout", err)
	}
}

func TestMemoryBroadcastSkipsSender(t *testing.T) {
	bus := newMemory(t, nil)

	var mu sync.Mutex
	received := map[string]int{}
	record := func(address string) Handler {
		return func(ctx context.Context, message *Message) (any, error) {
			mu.Lock()
			received[address]++
			mu.Unlock()
			return nil, nil
		}
	}
	sender := attach(t, bus, "orchestrator", record("orchestrator"))
	attach(t, bus, "control/a", record("control/a"))
	attach(t, bus, "agent/tab-1", record("agent/tab-1"))

	if err := sender.Broadcast(context.Background(), "recording_state_changed", protocol.RecordingState{Recording: true}); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if received["orchestrator"] != 0 {
		t.Error("broadcast delivered to its sender")
	}
	if received["control/a"] != 1 || received["agent/tab-1"] != 1 {
		t.Errorf("deliveries = %v", received)
	}
}

func TestMemoryCloseDetaches(t *testing.T) {
	bus := newMemory(t, nil)
	conn, err := bus.Attach("control/x", echoHandler)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	conn.Close()
	if bus.Attached("control/x") {
		t.Error("address still attached after Close")
	}
	if err := conn.Send(context.Background(), "orchestrator", "echo", nil, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close: %v, want ErrClosed", err)
	}
}

func TestValidateAddress(t *testing.T) {
	for _, address := range []string{"", "agent/", "/abs", "a/../b", "x~y"} {
		if err := validateAddress(address); err == nil {
			t.Errorf("validateAddress(%q) accepted", address)
		}
	}
	for _, address := range []string{"orchestrator", "agent/tab-1", "control/5f1c"} {
		if err := validateAddress(address); err != nil {
			t.Errorf("validateAddress(%q): %v", address, err)
		}
	}
}
