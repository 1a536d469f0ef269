// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/tabrecord/lib/clock"
	"github.com/bureau-foundation/tabrecord/lib/codec"
)

// MemoryOptions configures an in-process bus.
type MemoryOptions struct {
	// Clock measures request timeouts. Defaults to clock.Real().
	Clock clock.Clock

	// Timeout is the default request timeout. WithTimeout overrides
	// it per call. Defaults to DefaultTimeout.
	Timeout time.Duration

	// MaxMessageSize is the envelope limit in bytes, applied to
	// requests and broadcasts before delivery. Defaults to
	// DefaultMaxMessageSize.
	MaxMessageSize int

	Logger *slog.Logger
}

// Memory routes messages between connections in one process. Every
// envelope is encoded and decoded exactly as it would be on a socket,
// so size limits and payload types behave identically.
type Memory struct {
	options MemoryOptions

	mu        sync.Mutex
	endpoints map[string]*memoryConn
}

// NewMemory returns an empty in-process bus.
func NewMemory(options MemoryOptions) *Memory {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Memory{
		options:   options,
		endpoints: make(map[string]*memoryConn),
	}
}

// Attach registers handler at address.
func (m *Memory) Attach(address string, handler Handler) (Conn, error) {
	if err := validateAddress(address); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.endpoints[address]; exists {
		return nil, fmt.Errorf("attaching %s: %w", address, ErrAddressInUse)
	}
	ctx, cancel := context.WithCancel(context.Background())
	conn := &memoryConn{
		bus:     m,
		address: address,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}
	m.endpoints[address] = conn
	return conn, nil
}

// Attached reports whether anything is attached at address.
func (m *Memory) Attached(address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.endpoints[address]
	return exists
}

func (m *Memory) lookup(address string) *memoryConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoints[address]
}

func (m *Memory) others(address string) []*memoryConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	var targets []*memoryConn
	for other, conn := range m.endpoints {
		if other != address {
			targets = append(targets, conn)
		}
	}
	slices.SortFunc(targets, func(a, b *memoryConn) int {
		if a.address < b.address {
			return -1
		}
		return 1
	})
	return targets
}

func (m *Memory) detach(conn *memoryConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.endpoints[conn.address] == conn {
		delete(m.endpoints, conn.address)
	}
}

type memoryConn struct {
	bus     *Memory
	address string
	handler Handler

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

func (c *memoryConn) Address() string { return c.address }

func (c *memoryConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *memoryConn) Send(ctx context.Context, to, action string, payload, result any) error {
	if c.isClosed() {
		return ErrClosed
	}
	request, encoded, err := encodeRequest(c.address, action, payload, c.bus.options.MaxMessageSize)
	if err != nil {
		return err
	}
	target := c.bus.lookup(to)
	if target == nil {
		return fmt.Errorf("sending %s to %s: %w", action, to, ErrUnreachable)
	}
	replies := make(chan []byte, 1)
	if !target.deliver(encoded, replies) {
		return fmt.Errorf("sending %s to %s: %w", action, to, ErrUnreachable)
	}

	timeout := timeoutFor(ctx, c.bus.options.Timeout)
	expired := make(chan struct{})
	timer := c.bus.options.Clock.AfterFunc(timeout, func() { close(expired) })
	defer timer.Stop()

	select {
	case raw := <-replies:
		var reply response
		if err := codec.Unmarshal(raw, &reply); err != nil {
			return fmt.Errorf("decoding %s response: %w", action, err)
		}
		return decodeReply(request, &reply, result)
	case <-expired:
		return fmt.Errorf("%s to %s after %v: %w", action, to, timeout, ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *memoryConn) Broadcast(ctx context.Context, action string, payload any) error {
	if c.isClosed() {
		return ErrClosed
	}
	_, encoded, err := encodeRequest(c.address, action, payload, c.bus.options.MaxMessageSize)
	if err != nil {
		return err
	}

	targets := c.bus.others(c.address)
	pending := make([]chan []byte, 0, len(targets))
	for _, target := range targets {
		replies := make(chan []byte, 1)
		if target.deliver(encoded, replies) {
			pending = append(pending, replies)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	timeout := timeoutFor(ctx, c.bus.options.Timeout)
	expired := make(chan struct{})
	timer := c.bus.options.Clock.AfterFunc(timeout, func() { close(expired) })
	defer timer.Stop()

	for _, replies := range pending {
		select {
		case <-replies:
		case <-expired:
			c.bus.options.Logger.Debug("broadcast delivery timed out", "action", action, "from", c.address)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// deliver hands an encoded request to this endpoint's handler on a new
// goroutine. Returns false if the endpoint is closed.
func (c *memoryConn) deliver(encoded []byte, replies chan<- []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.inflight.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.inflight.Done()
		var request envelope
		if err := codec.Unmarshal(encoded, &request); err != nil {
			c.bus.options.Logger.Error("undecodable envelope", "address", c.address, "error", err)
			return
		}
		reply := invoke(c.ctx, c.handler, &request)
		raw, err := codec.Marshal(reply)
		if err != nil {
			c.bus.options.Logger.Error("encoding reply failed", "address", c.address, "action", request.Action, "error", err)
			return
		}
		replies <- raw
	}()
	return true
}

func (c *memoryConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.bus.detach(c)
	c.cancel()
	c.inflight.Wait()
	return nil
}
