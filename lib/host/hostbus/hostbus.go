// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hostbus carries the orchestrator's host facilities over the
// bus. [Serve] exposes a browser-side implementation at the "host"
// address; [Client] is the orchestrator-side proxy that satisfies the
// same interfaces by sending requests there.
package hostbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bureau-foundation/tabrecord/lib/bus"
	"github.com/bureau-foundation/tabrecord/lib/host"
	"github.com/bureau-foundation/tabrecord/lib/protocol"
)

// Host is the set of facilities carried over the bus.
type Host interface {
	host.PageResolver
	host.CaptureBroker
	host.AgentInjector
	host.Notifier
}

// Serve attaches h to b at protocol.AddressHost. Close the returned
// connection to stop serving.
func Serve(b bus.Bus, h Host, logger *slog.Logger) (bus.Conn, error) {
	server := &server{host: h, logger: logger}
	mux := bus.NewMux()
	mux.Handle(protocol.ActionActivePage, server.activePage)
	mux.Handle(protocol.ActionRequestCaptureHandle, server.requestCaptureHandle)
	mux.Handle(protocol.ActionInjectAgent, server.injectAgent)
	mux.Handle(protocol.ActionNotify, server.notify)
	// State broadcasts reach every address; the host has no use for
	// them.
	mux.Handle(protocol.ActionRecordingStateChanged, ignore)
	mux.Handle(protocol.ActionSettingsUpdated, ignore)

	conn, err := b.Attach(protocol.AddressHost, mux.Serve)
	if err != nil {
		return nil, fmt.Errorf("attaching host: %w", err)
	}
	return conn, nil
}

func ignore(ctx context.Context, message *bus.Message) (any, error) { return nil, nil }

type server struct {
	host   Host
	logger *slog.Logger
}

func (s *server) activePage(ctx context.Context, message *bus.Message) (any, error) {
	page, err := s.host.ActivePage(ctx)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return protocol.ActivePageResult{}, nil
	}
	return protocol.ActivePageResult{Page: &protocol.Page{ID: page.ID, URL: page.URL, Title: page.Title}}, nil
}

func (s *server) requestCaptureHandle(ctx context.Context, message *bus.Message) (any, error) {
	var request protocol.CaptureHandleRequest
	if err := message.Decode(&request); err != nil {
		return nil, protocol.Errorf(protocol.CodeInvalidRequest, "%v", err)
	}
	sources := make([]host.SourceKind, len(request.Sources))
	for i, source := range request.Sources {
		sources[i] = host.SourceKind(source)
	}
	page := host.Page{ID: request.Page.ID, URL: request.Page.URL, Title: request.Page.Title}
	handle, err := s.host.RequestCaptureHandle(ctx, sources, page)
	if err != nil {
		return nil, err
	}
	return protocol.CaptureHandleResult{Handle: string(handle)}, nil
}

func (s *server) injectAgent(ctx context.Context, message *bus.Message) (any, error) {
	var request protocol.InjectAgentRequest
	if err := message.Decode(&request); err != nil {
		return nil, protocol.Errorf(protocol.CodeInvalidRequest, "%v", err)
	}
	err := s.host.InjectAgent(ctx, request.PageID, request.Force)
	if errors.Is(err, host.ErrAgentPresent) {
		return protocol.InjectAgentResult{AlreadyPresent: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return protocol.InjectAgentResult{}, nil
}

func (s *server) notify(ctx context.Context, message *bus.Message) (any, error) {
	var notification protocol.Notification
	if err := message.Decode(&notification); err != nil {
		return nil, protocol.Errorf(protocol.CodeInvalidRequest, "%v", err)
	}
	s.logger.Debug("showing notification", "title", notification.Title)
	return nil, s.host.Notify(ctx, notification.Title, notification.Message)
}

// Client reaches a served host over the bus.
type Client struct {
	conn bus.Conn
}

// NewClient returns a client sending from conn.
func NewClient(conn bus.Conn) *Client {
	return &Client{conn: conn}
}

// Dial attaches a send-only connection to b for a new client. Close
// the client to detach it.
func Dial(b bus.Bus) (*Client, error) {
	conn, err := b.Attach("hostclient/"+uuid.NewString(), ignore)
	if err != nil {
		return nil, fmt.Errorf("attaching host client: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close detaches the client's connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) ActivePage(ctx context.Context) (*host.Page, error) {
	var result protocol.ActivePageResult
	if err := c.conn.Send(ctx, protocol.AddressHost, protocol.ActionActivePage, nil, &result); err != nil {
		return nil, err
	}
	if result.Page == nil {
		return nil, nil
	}
	return &host.Page{ID: result.Page.ID, URL: result.Page.URL, Title: result.Page.Title}, nil
}

func (c *Client) RequestCaptureHandle(ctx context.Context, sources []host.SourceKind, page host.Page) (host.CaptureHandle, error) {
	request := protocol.CaptureHandleRequest{
		Sources: make([]string, len(sources)),
		Page:    protocol.Page{ID: page.ID, URL: page.URL, Title: page.Title},
	}
	for i, source := range sources {
		request.Sources[i] = string(source)
	}
	var result protocol.CaptureHandleResult
	if err := c.conn.Send(ctx, protocol.AddressHost, protocol.ActionRequestCaptureHandle, request, &result); err != nil {
		return "", err
	}
	return host.CaptureHandle(result.Handle), nil
}

func (c *Client) InjectAgent(ctx context.Context, pageID string, force bool) error {
	var result protocol.InjectAgentResult
	err := c.conn.Send(ctx, protocol.AddressHost, protocol.ActionInjectAgent, protocol.InjectAgentRequest{PageID: pageID, Force: force}, &result)
	if err != nil {
		return err
	}
	if result.AlreadyPresent {
		return host.ErrAgentPresent
	}
	return nil
}

func (c *Client) Notify(ctx context.Context, title, message string) error {
	return c.conn.Send(ctx, protocol.AddressHost, protocol.ActionNotify, protocol.Notification{Title: title, Message: message}, nil)
}
