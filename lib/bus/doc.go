// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bus is the message bus connecting the recorder's contexts.
//
// Each context attaches at an address ("orchestrator", "agent/<page>",
// "control/<id>", "host") with a single [Handler]. A [Conn] sends
// directed requests that wait for exactly one response, and broadcasts
// that reach every other attached context. Delivery to an address with
// nothing attached fails fast with [ErrUnreachable]; callers decide
// whether that matters (broadcasts ignore it).
//
// Every request carries a correlation ID and is bounded by a timeout,
// so a lost response surfaces as [ErrTimeout] instead of a stall.
// [WithTimeout] overrides the default for calls made with the returned
// context. Encoded envelopes larger than the configured limit are
// rejected with [ErrMessageTooLarge] before anything is sent.
//
// Two implementations share the envelope format:
//
//   - [Memory] routes in-process and measures timeouts on an injected
//     clock, for tests and single-process wiring.
//   - [Socket] gives each address its own Unix socket in a runtime
//     directory, one CBOR request per connection. An flock beside each
//     socket keeps two processes from claiming one address.
//
// Handler failures cross the bus as a code and message and come back
// to the caller as [*RemoteError], which matches protocol sentinels
// under errors.Is.
package bus
