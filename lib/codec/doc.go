// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the single CBOR configuration used for every
// message that crosses the recorder's message bus and for the small
// on-disk records the orchestrator keeps.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2), so a
// given message always produces the same bytes. That property matters
// for the bus size limit: a payload that fits once always fits.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Stream users (socket connections) use NewEncoder and NewDecoder.
//
// Types that only travel over the bus carry `cbor` struct tags. Types
// that are also printed as JSON by the CLI (recording state, settings)
// carry `json` tags, which fxamacker/cbor falls back to when no `cbor`
// tag is present. A field never carries both.
package codec
