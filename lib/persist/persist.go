// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package persist turns a finished recording into a file.
//
// [Persister] is the orchestrator's half: it encodes the bytes as a
// data URI, names the file from the current time, and hands both to a
// [FileSaver] with the user prompt enabled. [DirectorySaver] is the
// file-save facility used outside a browser: it writes into a
// directory, resolving name collisions and optionally encrypting the
// output to age recipients.
package persist

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/bureau-foundation/tabrecord/lib/clock"
	"github.com/bureau-foundation/tabrecord/lib/protocol"
)

// FilenamePrefix starts every recording file name.
const FilenamePrefix = "webpage-recording"

// FileSaver is the host file-save facility. It returns an identifier
// for the saved file; an empty identifier means nothing was saved.
type FileSaver interface {
	Save(ctx context.Context, dataURI, filename string, prompt bool) (string, error)
}

// Persister saves recordings through a FileSaver.
type Persister struct {
	saver  FileSaver
	clock  clock.Clock
	logger *slog.Logger
}

// NewPersister returns a Persister.
func NewPersister(saver FileSaver, clk clock.Clock, logger *slog.Logger) *Persister {
	return &Persister{saver: saver, clock: clk, logger: logger}
}

// Persist saves data and returns the file identifier. Every failure is
// a protocol.ErrPersist.
func (p *Persister) Persist(ctx context.Context, data []byte, contentType string) (string, error) {
	filename := Filename(p.clock.Now(), contentType)
	fileID, err := p.saver.Save(ctx, DataURI(data, contentType), filename, true)
	if err != nil {
		return "", protocol.Errorf(protocol.CodePersist, "saving %s: %w", filename, err)
	}
	if fileID == "" {
		return "", protocol.Errorf(protocol.CodePersist, "saving %s: no file was created", filename)
	}
	p.logger.Info("recording saved", "file_id", fileID, "filename", filename, "size", len(data))
	return fileID, nil
}

// DataURI encodes data as a base64 data URI.
func DataURI(data []byte, contentType string) string {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	var builder strings.Builder
	builder.Grow(len("data:;base64,") + len(contentType) + base64.StdEncoding.EncodedLen(len(data)))
	builder.WriteString("data:")
	builder.WriteString(contentType)
	builder.WriteString(";base64,")
	builder.WriteString(base64.StdEncoding.EncodeToString(data))
	return builder.String()
}

// DecodeDataURI parses a base64 data URI.
func DecodeDataURI(uri string) (contentType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, errors.New("not a data URI")
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, errors.New("data URI has no payload separator")
	}
	contentType, ok = strings.CutSuffix(header, ";base64")
	if !ok {
		return "", nil, errors.New("data URI is not base64 encoded")
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decoding data URI payload: %w", err)
	}
	return contentType, data, nil
}

// Filename returns the file name for a recording made at t:
// webpage-recording-2026-03-04T05-06-07-089Z.webm. The timestamp is
// ISO 8601 in UTC with ':' and '.' replaced so the name is valid on
// every common filesystem.
func Filename(t time.Time, contentType string) string {
	stamp := t.UTC().Format("2006-01-02T15:04:05.000Z")
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return FilenamePrefix + "-" + stamp + "." + Extension(contentType)
}

// Extension returns the file extension for a content type, webm when
// unknown.
func Extension(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "webm"
	}
	switch mediaType {
	case "video/webm", "audio/webm":
		return "webm"
	case "video/mp4", "audio/mp4":
		return "mp4"
	case "video/x-matroska":
		return "mkv"
	case "audio/ogg", "video/ogg":
		return "ogg"
	}
	if extensions, err := mime.ExtensionsByType(mediaType); err == nil && len(extensions) > 0 {
		return strings.TrimPrefix(extensions[0], ".")
	}
	return "webm"
}
