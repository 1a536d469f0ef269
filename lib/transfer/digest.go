// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Digest is the BLAKE3 keyed hash of a complete, uncompressed
// recording.
type Digest [32]byte

// recordingDomainKey separates recording digests from any other use of
// BLAKE3 over the same bytes. ASCII, zero-padded to 32 bytes.
var recordingDomainKey = [32]byte{
	't', 'a', 'b', 'r', 'e', 'c', 'o', 'r', 'd', '.', 't', 'r', 'a', 'n', 's', 'f',
	'e', 'r', '.', 'r', 'e', 'c', 'o', 'r', 'd', 'i', 'n', 'g', 0, 0, 0, 0,
}

// Sum computes the digest of data.
func Sum(data []byte) Digest {
	hasher, err := blake3.NewKeyed(recordingDomainKey[:])
	if err != nil {
		panic("transfer: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// String returns the hex encoding used on the wire.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest parses a 64-character hex digest.
func ParseDigest(text string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return digest, fmt.Errorf("parsing digest: %w", err)
	}
	if len(decoded) != len(digest) {
		return digest, fmt.Errorf("digest is %d bytes, want %d", len(decoded), len(digest))
	}
	copy(digest[:], decoded)
	return digest, nil
}
