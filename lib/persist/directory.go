// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package persist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"filippo.io/age"

	"github.com/bureau-foundation/tabrecord/lib/clock"
)

// ErrCancelled is returned when the user declines the save prompt.
var ErrCancelled = errors.New("save cancelled")

// Prompter asks the user to confirm or rename a file before saving.
type Prompter interface {
	Confirm(ctx context.Context, suggested string) (name string, ok bool, err error)
}

// AutoAccept confirms every save with the suggested name.
type AutoAccept struct{}

func (AutoAccept) Confirm(ctx context.Context, suggested string) (string, bool, error) {
	return suggested, true, nil
}

// DirectorySaverOptions configures a DirectorySaver.
type DirectorySaverOptions struct {
	// Directory receives files when Override returns "".
	Directory string

	// Override, if set, returns the user's preferred directory.
	Override func(ctx context.Context) string

	// Prompter confirms each save. Defaults to AutoAccept.
	Prompter Prompter

	// Recipients are age public keys (age1...). When non-empty every
	// file is encrypted to all of them and gets an .age suffix.
	Recipients []string

	Clock  clock.Clock
	Logger *slog.Logger
}

// DirectorySaver is a FileSaver that writes into a local directory.
// The file ID it returns is the absolute path written.
type DirectorySaver struct {
	options    DirectorySaverOptions
	recipients []age.Recipient
}

// NewDirectorySaver validates options and returns a saver.
func NewDirectorySaver(options DirectorySaverOptions) (*DirectorySaver, error) {
	if options.Directory == "" {
		return nil, errors.New("persist: save directory is required")
	}
	if options.Prompter == nil {
		options.Prompter = AutoAccept{}
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	recipients := make([]age.Recipient, 0, len(options.Recipients))
	for _, key := range options.Recipients {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}
	return &DirectorySaver{options: options, recipients: recipients}, nil
}

// Save decodes dataURI and writes it under filename.
func (s *DirectorySaver) Save(ctx context.Context, dataURI, filename string, prompt bool) (string, error) {
	_, data, err := DecodeDataURI(dataURI)
	if err != nil {
		return "", err
	}

	name := filename
	if prompt {
		confirmed, ok, err := s.options.Prompter.Confirm(ctx, filename)
		if err != nil {
			return "", fmt.Errorf("save prompt: %w", err)
		}
		if !ok {
			return "", ErrCancelled
		}
		name = confirmed
	}
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	if len(s.recipients) > 0 {
		name += ".age"
	}

	directory := s.directory(ctx)
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return "", fmt.Errorf("creating save directory: %w", err)
	}
	path, err := s.writeAtomic(directory, name, data)
	if err != nil {
		return "", err
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	s.options.Logger.Debug("file written", "path", absolute, "encrypted", len(s.recipients) > 0)
	return absolute, nil
}

func (s *DirectorySaver) directory(ctx context.Context) string {
	if s.options.Override != nil {
		if override := s.options.Override(ctx); override != "" {
			return override
		}
	}
	return s.options.Directory
}

// claim hard-links the finished temporary file to directory/name, or
// to a variant with a nanosecond suffix before the extension when that
// name is taken. A link never replaces an existing file, so a name
// created concurrently is skipped rather than overwritten.
func (s *DirectorySaver) claim(temporary, directory, name string) (string, error) {
	base, extension := splitExtension(name)
	var suffix string
	for attempt := 0; ; attempt++ {
		candidate := name
		switch {
		case attempt == 1:
			suffix = strconv.FormatInt(s.options.Clock.Now().UnixNano(), 10)
			candidate = base + "-" + suffix + extension
		case attempt > 1:
			candidate = base + "-" + suffix + "-" + strconv.Itoa(attempt-1) + extension
		}
		path := filepath.Join(directory, candidate)
		err := os.Link(temporary, path)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("linking %s: %w", path, err)
		}
	}
}

// splitExtension splits name at its first dot so compound suffixes
// like .webm.age stay whole.
func splitExtension(name string) (base, extension string) {
	index := strings.Index(name, ".")
	if index <= 0 {
		return name, ""
	}
	return name[:index], name[index:]
}

// writeAtomic writes data to a temporary file in directory and then
// claims a final name for it. The file appears under its final name
// complete or not at all.
func (s *DirectorySaver) writeAtomic(directory, name string, data []byte) (string, error) {
	temporary, err := os.CreateTemp(directory, ".recording-*")
	if err != nil {
		return "", fmt.Errorf("creating temporary file: %w", err)
	}
	defer os.Remove(temporary.Name())

	if err := s.encode(temporary, data); err != nil {
		temporary.Close()
		return "", err
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		return "", fmt.Errorf("syncing %s: %w", temporary.Name(), err)
	}
	if err := temporary.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", temporary.Name(), err)
	}
	if err := os.Chmod(temporary.Name(), 0o644); err != nil {
		return "", fmt.Errorf("setting permissions: %w", err)
	}
	return s.claim(temporary.Name(), directory, name)
}

func (s *DirectorySaver) encode(w io.Writer, data []byte) error {
	if len(s.recipients) == 0 {
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("writing recording: %w", err)
		}
		return nil
	}
	writer, err := age.Encrypt(w, s.recipients...)
	if err != nil {
		return fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		return fmt.Errorf("encrypting recording: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalizing age encryption: %w", err)
	}
	return nil
}
