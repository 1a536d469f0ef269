// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"fmt"
)

// UnknownActionError is returned for actions with no registered
// handler.
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q", e.Action)
}

// Mux routes messages to handlers by action. Register every action
// before attaching the Mux's Serve method to a bus.
type Mux struct {
	handlers map[string]Handler
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{handlers: make(map[string]Handler)}
}

// Handle registers handler for action. Panics on a duplicate action.
func (m *Mux) Handle(action string, handler Handler) {
	if _, exists := m.handlers[action]; exists {
		panic(fmt.Sprintf("bus.Mux: duplicate handler for action %q", action))
	}
	m.handlers[action] = handler
}

// Serve dispatches message to its action's handler.
func (m *Mux) Serve(ctx context.Context, message *Message) (any, error) {
	handler, ok := m.handlers[message.Action]
	if !ok {
		return nil, &UnknownActionError{Action: message.Action}
	}
	return handler(ctx, message)
}
