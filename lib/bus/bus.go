// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/tabrecord/lib/codec"
)

// DefaultMaxMessageSize is the envelope limit when none is configured.
const DefaultMaxMessageSize = 1024 * 1024

// DefaultTimeout bounds a request when neither the bus options nor the
// context set one.
const DefaultTimeout = 30 * time.Second

var (
	// ErrUnreachable means nothing is attached at the destination.
	ErrUnreachable = errors.New("bus: destination unreachable")

	// ErrTimeout means no response arrived within the request timeout.
	ErrTimeout = errors.New("bus: request timed out")

	// ErrMessageTooLarge means the encoded envelope exceeds the limit.
	ErrMessageTooLarge = errors.New("bus: message too large")

	// ErrAddressInUse means another connection holds the address.
	ErrAddressInUse = errors.New("bus: address in use")

	// ErrClosed means the connection was closed.
	ErrClosed = errors.New("bus: connection closed")
)

// RemoteError is a failure reported by the destination's handler.
// The destination's error value does not cross the bus. Only its code
// and text do, so callers match it with errors.Is against a sentinel
// that carries the same code.
type RemoteError struct {
	// Action is the request action that failed.
	Action string

	// Code is the handler error's ErrorCode, empty when it had none.
	Code string

	// Message is the handler error's text.
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, e.Message)
}

// ErrorCode returns the remote error code, possibly empty.
func (e *RemoteError) ErrorCode() string { return e.Code }

// Is matches targets carrying the same non-empty error code.
func (e *RemoteError) Is(target error) bool {
	coded, ok := target.(interface{ ErrorCode() string })
	return ok && e.Code != "" && coded.ErrorCode() == e.Code
}

// Message is a request as seen by a Handler.
type Message struct {
	// ID correlates the request with its response.
	ID string

	Action string

	// From is the sender's address. Handlers can use it to tell an
	// agent's message from a control surface's.
	From string

	// Payload is the encoded request body. Decode unmarshals it.
	Payload codec.RawMessage
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	if err := codec.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", m.Action, err)
	}
	return nil
}

// Handler processes one request. A nil result produces an empty
// acknowledgment. Errors implementing ErrorCode() string keep their
// code on the wire.
//
// Handlers for one address may run concurrently, including while that
// address's own Send is waiting on a response. A handler must not wait
// on a response to a request its own connection is blocked sending.
type Handler func(ctx context.Context, message *Message) (any, error)

// Conn is an attachment to the bus at one address.
type Conn interface {
	// Address returns the address this connection is attached at.
	Address() string

	// Send delivers a request to one address and waits for its
	// response, decoding response data into result when result is
	// non-nil.
	Send(ctx context.Context, to, action string, payload, result any) error

	// Broadcast delivers a request to every other attached address and
	// waits for each to respond or time out. Individual delivery
	// failures are ignored.
	Broadcast(ctx context.Context, action string, payload any) error

	// Close detaches and waits for in-flight handlers to return.
	Close() error
}

// Bus attaches handlers at addresses. Memory and Socket implement it.
type Bus interface {
	Attach(address string, handler Handler) (Conn, error)
}

type timeoutKey struct{}

// WithTimeout returns a context under which Send uses d as the
// response timeout.
func WithTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, timeoutKey{}, d)
}

func timeoutFor(ctx context.Context, fallback time.Duration) time.Duration {
	if d, ok := ctx.Value(timeoutKey{}).(time.Duration); ok && d > 0 {
		return d
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultTimeout
}

// envelope is the request wire format shared by every implementation.
type envelope struct {
	ID      string           `cbor:"id"`
	Action  string           `cbor:"action"`
	From    string           `cbor:"from"`
	Payload codec.RawMessage `cbor:"payload,omitempty"`
}

// response is the reply wire format.
type response struct {
	ID    string           `cbor:"id"`
	OK    bool             `cbor:"ok"`
	Code  string           `cbor:"code,omitempty"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// encodeRequest builds and encodes an envelope, enforcing limit.
func encodeRequest(from, action string, payload any, limit int) (*envelope, []byte, error) {
	if action == "" {
		return nil, nil, errors.New("bus: empty action")
	}
	request := &envelope{ID: uuid.NewString(), Action: action, From: from}
	if payload != nil {
		raw, err := codec.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding %s payload: %w", action, err)
		}
		request.Payload = raw
	}
	encoded, err := codec.Marshal(request)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding %s envelope: %w", action, err)
	}
	if limit <= 0 {
		limit = DefaultMaxMessageSize
	}
	if len(encoded) > limit {
		return nil, nil, fmt.Errorf("%s is %d bytes, limit %d: %w", action, len(encoded), limit, ErrMessageTooLarge)
	}
	return request, encoded, nil
}

// invoke runs handler for request and converts the outcome into a
// response.
func invoke(ctx context.Context, handler Handler, request *envelope) response {
	reply := response{ID: request.ID}
	result, err := handler(ctx, &Message{
		ID:      request.ID,
		Action:  request.Action,
		From:    request.From,
		Payload: request.Payload,
	})
	if err != nil {
		reply.Error = err.Error()
		var coded interface{ ErrorCode() string }
		if errors.As(err, &coded) {
			reply.Code = coded.ErrorCode()
		}
		return reply
	}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			reply.Error = fmt.Sprintf("internal: encoding response: %v", err)
			return reply
		}
		reply.Data = data
	}
	reply.OK = true
	return reply
}

// decodeReply checks a response against its request and decodes the
// result.
func decodeReply(request *envelope, reply *response, result any) error {
	if reply.ID != request.ID {
		return fmt.Errorf("bus: response to %s carries id %q, want %q", request.Action, reply.ID, request.ID)
	}
	if !reply.OK {
		return &RemoteError{Action: request.Action, Code: reply.Code, Message: reply.Error}
	}
	if result != nil && len(reply.Data) > 0 {
		if err := codec.Unmarshal(reply.Data, result); err != nil {
			return fmt.Errorf("decoding %s response: %w", request.Action, err)
		}
	}
	return nil
}
