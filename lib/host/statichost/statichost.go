// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package statichost is a single-page host for running the recorder
// outside a browser. The one page is fixed at construction, the
// capture prompt always grants the configured ffmpeg input, and the
// capture agent is injected by calling back into the process.
// Notifications, alerts, and the recording indicator are written as
// lines to an output stream.
package statichost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/tabrecord/lib/bus"
	"github.com/bureau-foundation/tabrecord/lib/host"
)

// Options configures a Host.
type Options struct {
	Page host.Page

	// Input is the capture handle granted by every prompt: an ffmpeg
	// input spec such as "x11grab::0.0".
	Input string

	// Inject attaches a capture agent for the page.
	Inject func(ctx context.Context, pageID string) error

	// Output receives notifications, alerts, and indicator changes.
	Output io.Writer

	Logger *slog.Logger
}

// Host implements the orchestrator and page host interfaces for one
// page.
type Host struct {
	options Options

	mu       sync.Mutex
	injected bool
}

// New returns a Host.
func New(options Options) (*Host, error) {
	if options.Page.ID == "" {
		return nil, errors.New("statichost: page ID is required")
	}
	if options.Inject == nil {
		return nil, errors.New("statichost: inject function is required")
	}
	if options.Output == nil {
		options.Output = io.Discard
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Host{options: options}, nil
}

func (h *Host) ActivePage(ctx context.Context) (*host.Page, error) {
	page := h.options.Page
	return &page, nil
}

func (h *Host) RequestCaptureHandle(ctx context.Context, sources []host.SourceKind, page host.Page) (host.CaptureHandle, error) {
	if page.ID != h.options.Page.ID {
		return "", fmt.Errorf("statichost: unknown page %q", page.ID)
	}
	h.options.Logger.Debug("granting capture", "page_id", page.ID, "sources", sources, "input", h.options.Input)
	return host.CaptureHandle(h.options.Input), nil
}

// InjectAgent attaches the agent once. A later forced injection
// attaches again unless the agent is still present.
func (h *Host) InjectAgent(ctx context.Context, pageID string, force bool) error {
	if pageID != h.options.Page.ID {
		return fmt.Errorf("statichost: unknown page %q", pageID)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.injected && !force {
		return host.ErrAgentPresent
	}
	err := h.options.Inject(ctx, pageID)
	if errors.Is(err, bus.ErrAddressInUse) {
		h.injected = true
		return host.ErrAgentPresent
	}
	if err != nil {
		return fmt.Errorf("injecting agent into %s: %w", pageID, err)
	}
	h.injected = true
	return nil
}

func (h *Host) Notify(ctx context.Context, title, message string) error {
	h.options.Logger.Info("notification", "title", title, "message", message)
	_, err := fmt.Fprintf(h.options.Output, "%s: %s\n", title, message)
	return err
}

func (h *Host) Alert(ctx context.Context, message string) {
	h.options.Logger.Warn("alert", "message", message)
	fmt.Fprintln(h.options.Output, message)
}

func (h *Host) SetRecording(recording bool) {
	if recording {
		fmt.Fprintln(h.options.Output, "● recording")
	} else {
		fmt.Fprintln(h.options.Output, "■ recording stopped")
	}
}
