// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides the entrypoint exit handling for the
// tabrecord binary: turning the error returned by run() into a stderr
// line and an exit status, before or after any logger exists.
package process
