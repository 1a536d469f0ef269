// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bureau-foundation/tabrecord/lib/codec"
	"github.com/bureau-foundation/tabrecord/lib/netutil"
)

const (
	socketSuffix = ".sock"
	lockSuffix   = ".lock"

	// dialTimeout covers only the connect phase.
	dialTimeout = 5 * time.Second

	// readTimeout is how long the server waits for a request after a
	// client connects.
	readTimeout = 30 * time.Second

	// writeTimeout bounds writing a response.
	writeTimeout = 10 * time.Second
)

// SocketOptions configures a socket bus.
type SocketOptions struct {
	// Directory holds one socket and one lock file per address.
	Directory string

	// Timeout is the default request timeout. WithTimeout overrides
	// it per call. Defaults to DefaultTimeout.
	Timeout time.Duration

	// MaxMessageSize limits both requests and responses. A peer that
	// sends more is cut off at the limit and its message rejected.
	// Defaults to DefaultMaxMessageSize.
	MaxMessageSize int

	Logger *slog.Logger
}

// Socket is a bus spanning processes that share a runtime directory.
//
// Attach claims an address by taking an exclusive flock on its lock
// file and only then replacing any socket a dead process left behind.
// A second Attach at a held address fails with ErrAddressInUse. The
// lock is released on Close or when the process exits, so a crashed
// holder never wedges its address.
type Socket struct {
	options SocketOptions
}

// NewSocket returns a socket bus rooted at options.Directory, creating
// the directory if needed.
func NewSocket(options SocketOptions) (*Socket, error) {
	if options.Directory == "" {
		return nil, errors.New("bus: socket directory is required")
	}
	if err := os.MkdirAll(options.Directory, 0o700); err != nil {
		return nil, fmt.Errorf("creating bus directory: %w", err)
	}
	if options.MaxMessageSize <= 0 {
		options.MaxMessageSize = DefaultMaxMessageSize
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Socket{options: options}, nil
}

// Path returns the socket path for address.
func (s *Socket) Path(address string) string {
	return filepath.Join(s.options.Directory, strings.ReplaceAll(address, "/", "~")+socketSuffix)
}

// Attach listens on the socket for address and dispatches every
// request to handler.
func (s *Socket) Attach(address string, handler Handler) (Conn, error) {
	if err := validateAddress(address); err != nil {
		return nil, err
	}
	socketPath := s.Path(address)

	lock, err := acquireLock(strings.TrimSuffix(socketPath, socketSuffix) + lockSuffix)
	if err != nil {
		return nil, err
	}

	// Holding the lock means any existing socket file is stale.
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		lock.release()
		return nil, fmt.Errorf("removing stale socket %s: %w", socketPath, err)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		lock.release()
		return nil, fmt.Errorf("listening on %s: %w", socketPath, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn := &socketConn{
		bus:      s,
		address:  address,
		path:     socketPath,
		handler:  handler,
		listener: listener,
		lock:     lock,
		ctx:      ctx,
		cancel:   cancel,
		logger:   s.options.Logger.With("address", address),
	}
	conn.serving.Add(1)
	go conn.serve()
	return conn, nil
}

// addresses lists every address with a socket in the directory.
func (s *Socket) addresses() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.options.Directory, "*"+socketSuffix))
	if err != nil {
		return nil, err
	}
	addresses := make([]string, 0, len(matches))
	for _, match := range matches {
		name := strings.TrimSuffix(filepath.Base(match), socketSuffix)
		addresses = append(addresses, strings.ReplaceAll(name, "~", "/"))
	}
	return addresses, nil
}

type socketConn struct {
	bus      *Socket
	address  string
	path     string
	handler  Handler
	listener net.Listener
	lock     *addressLock
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	serving   sync.WaitGroup
	active    sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func (c *socketConn) Address() string { return c.address }

func (c *socketConn) serve() {
	defer c.serving.Done()
	for {
		netConn, err := c.listener.Accept()
		if err != nil {
			if c.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			c.logger.Error("accept failed", "error", err)
			continue
		}
		c.active.Add(1)
		go func() {
			defer c.active.Done()
			c.handleConnection(netConn)
		}()
	}
}

// handleConnection processes one request-response cycle.
func (c *socketConn) handleConnection(netConn net.Conn) {
	defer netConn.Close()

	netConn.SetReadDeadline(time.Now().Add(readTimeout))

	// CBOR is self-delimiting, so one Decode reads exactly one
	// envelope. LimitReader caps what a misbehaving peer can make us
	// buffer.
	var request envelope
	limit := int64(c.bus.options.MaxMessageSize)
	if err := codec.NewDecoder(io.LimitReader(netConn, limit)).Decode(&request); err != nil {
		if netutil.IsExpectedCloseError(err) {
			return
		}
		c.writeReply(netConn, response{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if request.Action == "" {
		c.writeReply(netConn, response{ID: request.ID, Error: "missing required field: action"})
		return
	}

	reply := invoke(c.ctx, c.handler, &request)
	if !reply.OK {
		c.logger.Debug("action failed", "action", request.Action, "from", request.From, "error", reply.Error)
	}
	c.writeReply(netConn, reply)
}

func (c *socketConn) writeReply(netConn net.Conn, reply response) {
	netConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(netConn).Encode(reply); err != nil {
		if netutil.IsExpectedCloseError(err) {
			c.logger.Debug("peer left before response", "id", reply.ID)
			return
		}
		c.logger.Warn("failed to write response", "id", reply.ID, "error", err)
	}
}

func (c *socketConn) Send(ctx context.Context, to, action string, payload, result any) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	request, encoded, err := encodeRequest(c.address, action, payload, c.bus.options.MaxMessageSize)
	if err != nil {
		return err
	}
	return c.roundTrip(ctx, to, request, encoded, result)
}

func (c *socketConn) roundTrip(ctx context.Context, to string, request *envelope, encoded []byte, result any) error {
	dialer := net.Dialer{Timeout: dialTimeout}
	netConn, err := dialer.DialContext(ctx, "unix", c.bus.Path(to))
	if err != nil {
		if errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED) {
			return fmt.Errorf("sending %s to %s: %w", request.Action, to, ErrUnreachable)
		}
		return fmt.Errorf("connecting to %s: %w", to, err)
	}
	defer netConn.Close()
	stop := context.AfterFunc(ctx, func() { netConn.Close() })
	defer stop()

	timeout := timeoutFor(ctx, c.bus.options.Timeout)
	netConn.SetDeadline(time.Now().Add(timeout))

	if _, err := netConn.Write(encoded); err != nil {
		return fmt.Errorf("writing %s to %s: %w", request.Action, to, err)
	}
	if unixConn, ok := netConn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	var reply response
	limit := int64(c.bus.options.MaxMessageSize)
	if err := codec.NewDecoder(io.LimitReader(netConn, limit)).Decode(&reply); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%s to %s after %v: %w", request.Action, to, timeout, ErrTimeout)
		}
		return fmt.Errorf("reading %s response from %s: %w", request.Action, to, err)
	}
	return decodeReply(request, &reply, result)
}

func (c *socketConn) Broadcast(ctx context.Context, action string, payload any) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	request, encoded, err := encodeRequest(c.address, action, payload, c.bus.options.MaxMessageSize)
	if err != nil {
		return err
	}
	addresses, err := c.bus.addresses()
	if err != nil {
		return fmt.Errorf("listing bus addresses: %w", err)
	}

	var deliveries sync.WaitGroup
	for _, address := range addresses {
		if address == c.address {
			continue
		}
		deliveries.Add(1)
		go func() {
			defer deliveries.Done()
			if err := c.roundTrip(ctx, address, request, encoded, nil); err != nil {
				c.logger.Debug("broadcast delivery failed", "action", action, "to", address, "error", err)
			}
		}()
	}
	deliveries.Wait()
	return ctx.Err()
}

func (c *socketConn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.listener.Close()
		c.serving.Wait()
		c.active.Wait()
		if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
			c.closeErr = fmt.Errorf("removing socket %s: %w", c.path, err)
		}
		if err := c.lock.release(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
	})
	return c.closeErr
}

// validateAddress rejects addresses that cannot round-trip through a
// socket file name.
func validateAddress(address string) error {
	switch {
	case address == "":
		return errors.New("bus: empty address")
	case strings.ContainsAny(address, "~\\\x00"):
		return fmt.Errorf("bus: address %q contains a reserved character", address)
	case strings.Contains(address, ".."), strings.HasPrefix(address, "/"), strings.HasSuffix(address, "/"):
		return fmt.Errorf("bus: malformed address %q", address)
	}
	return nil
}
