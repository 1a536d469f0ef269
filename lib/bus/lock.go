// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// addressLock is an exclusive flock held for as long as an address is
// attached. It outlives crashes correctly: the kernel drops the lock
// when the holder exits, so a stale socket file next to an unlocked
// lock file is safe to remove.
type addressLock struct {
	file *os.File
}

func acquireLock(path string) (*addressLock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock %s: %w", path, err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("locking %s: %w", path, ErrAddressInUse)
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return &addressLock{file: file}, nil
}

func (l *addressLock) release() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("unlocking %s: %w", l.file.Name(), err)
	}
	return l.file.Close()
}
