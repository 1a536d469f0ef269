// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package simhost provides in-memory host facilities for tests. Every
// call is recorded so tests can assert on what the recorder asked the
// host to do, and every outcome is scriptable.
package simhost

import (
	"context"
	"sync"

	"github.com/bureau-foundation/tabrecord/lib/host"
)

// Notification is a recorded Notify call.
type Notification struct {
	Title   string
	Message string
}

// Browser simulates the orchestrator-side host: one foreground page,
// a capture prompt, script injection, and desktop notifications.
type Browser struct {
	mu sync.Mutex

	page          *host.Page
	handle        host.CaptureHandle
	handleErr     error
	injectHook    func(pageID string, force bool) error
	promptHook    func(ctx context.Context)
	handleReqs    []CaptureRequest
	injections    []Injection
	notifications []Notification
}

// CaptureRequest is a recorded RequestCaptureHandle call.
type CaptureRequest struct {
	Sources []host.SourceKind
	Page    host.Page
}

// Injection is a recorded InjectAgent call.
type Injection struct {
	PageID string
	Force  bool
}

// NewBrowser returns a browser showing page (nil for none) whose
// capture prompt grants handle.
func NewBrowser(page *host.Page, handle host.CaptureHandle) *Browser {
	return &Browser{page: page, handle: handle}
}

// SetPage changes the foreground page.
func (b *Browser) SetPage(page *host.Page) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.page = page
}

// SetHandle changes what the capture prompt returns. An empty handle
// simulates the user dismissing the prompt.
func (b *Browser) SetHandle(handle host.CaptureHandle, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handle, b.handleErr = handle, err
}

// OnInject installs the injection behavior. The default returns
// host.ErrAgentPresent.
func (b *Browser) OnInject(hook func(pageID string, force bool) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.injectHook = hook
}

func (b *Browser) ActivePage(ctx context.Context) (*host.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.page == nil {
		return nil, nil
	}
	page := *b.page
	return &page, nil
}

// OnPrompt runs hook while the capture prompt is open, before it
// answers. A hook that blocks holds the prompt open.
func (b *Browser) OnPrompt(hook func(ctx context.Context)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.promptHook = hook
}

func (b *Browser) RequestCaptureHandle(ctx context.Context, sources []host.SourceKind, page host.Page) (host.CaptureHandle, error) {
	b.mu.Lock()
	b.handleReqs = append(b.handleReqs, CaptureRequest{Sources: append([]host.SourceKind(nil), sources...), Page: page})
	hook := b.promptHook
	b.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handle, b.handleErr
}

func (b *Browser) InjectAgent(ctx context.Context, pageID string, force bool) error {
	b.mu.Lock()
	b.injections = append(b.injections, Injection{PageID: pageID, Force: force})
	hook := b.injectHook
	b.mu.Unlock()
	if hook == nil {
		return host.ErrAgentPresent
	}
	return hook(pageID, force)
}

func (b *Browser) Notify(ctx context.Context, title, message string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifications = append(b.notifications, Notification{Title: title, Message: message})
	return nil
}

// CaptureRequests returns every RequestCaptureHandle call so far.
func (b *Browser) CaptureRequests() []CaptureRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]CaptureRequest(nil), b.handleReqs...)
}

// Injections returns every InjectAgent call so far.
func (b *Browser) Injections() []Injection {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Injection(nil), b.injections...)
}

// Notifications returns every Notify call so far.
func (b *Browser) Notifications() []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Notification(nil), b.notifications...)
}
