// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"fmt"
)

// Code identifies a failure class. Codes are stable strings because
// they cross the bus.
type Code string

const (
	CodeNoTarget           Code = "no_target"
	CodeRestrictedPage     Code = "restricted_page"
	CodeStreamAcquisition  Code = "stream_acquisition"
	CodeEmptyRecording     Code = "empty_recording"
	CodeTransferInit       Code = "transfer_init"
	CodeIncompleteTransfer Code = "incomplete_transfer"
	CodePersist            Code = "persist"
	CodeAlreadyRecording   Code = "already_recording"
	CodeSessionActive      Code = "session_active"
	CodeTransferBusy       Code = "transfer_busy"
	CodeUnknownTransfer    Code = "unknown_transfer"
	CodeIntegrity          Code = "integrity"
	CodeInvalidRequest     Code = "invalid_request"
)

// Error is a recorder failure carrying a code. Two Errors match under
// errors.Is when their codes are equal, regardless of message.
type Error struct {
	Code    Code
	Message string

	cause error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

// ErrorCode returns the wire code.
func (e *Error) ErrorCode() string { return string(e.Code) }

// Unwrap returns the cause recorded by Errorf, if any.
func (e *Error) Unwrap() error { return e.cause }

// Is matches any target error that reports the same code.
func (e *Error) Is(target error) bool {
	coded, ok := target.(interface{ ErrorCode() string })
	return ok && coded.ErrorCode() == string(e.Code)
}

// Sentinels for errors.Is. Use Errorf to produce an instance with a
// specific message.
var (
	ErrNoTarget           = &Error{Code: CodeNoTarget, Message: "no active page to record"}
	ErrRestrictedPage     = &Error{Code: CodeRestrictedPage, Message: "page cannot be captured"}
	ErrStreamAcquisition  = &Error{Code: CodeStreamAcquisition, Message: "could not open media stream"}
	ErrEmptyRecording     = &Error{Code: CodeEmptyRecording, Message: "recording produced no data"}
	ErrTransferInit       = &Error{Code: CodeTransferInit, Message: "transfer was not acknowledged"}
	ErrIncompleteTransfer = &Error{Code: CodeIncompleteTransfer, Message: "transfer is missing chunks"}
	ErrPersist            = &Error{Code: CodePersist, Message: "recording could not be saved"}
	ErrAlreadyRecording   = &Error{Code: CodeAlreadyRecording, Message: "a recording is already active"}
	ErrSessionActive      = &Error{Code: CodeSessionActive, Message: "capture session already active"}
	ErrTransferBusy       = &Error{Code: CodeTransferBusy, Message: "another transfer is in progress"}
	ErrUnknownTransfer    = &Error{Code: CodeUnknownTransfer, Message: "no such transfer"}
	ErrIntegrity          = &Error{Code: CodeIntegrity, Message: "reassembled data does not match its digest"}
	ErrInvalidRequest     = &Error{Code: CodeInvalidRequest, Message: "invalid request"}
)

// Errorf returns an Error with the given code and a formatted message.
// A %w verb in format is honored, so the result can also unwrap to a
// cause.
func Errorf(code Code, format string, args ...any) error {
	formatted := fmt.Errorf(format, args...)
	return &Error{Code: code, Message: formatted.Error(), cause: errors.Unwrap(formatted)}
}

// CodeOf returns the code of the first error in err's chain that
// carries one, or "" if none does.
func CodeOf(err error) Code {
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) {
		return Code(coded.ErrorCode())
	}
	return ""
}
