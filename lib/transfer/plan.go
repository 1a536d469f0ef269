// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

// ChunkCount returns how many chunks of chunkSize cover size bytes.
// Zero bytes still take one (empty) chunk.
func ChunkCount(size int64, chunkSize int) int {
	if size <= 0 {
		return 1
	}
	return int((size + int64(chunkSize) - 1) / int64(chunkSize))
}

// Split cuts data into chunkSize slices. The slices alias data.
func Split(data []byte, chunkSize int) [][]byte {
	if chunkSize <= 0 {
		panic("transfer: non-positive chunk size")
	}
	chunks := make([][]byte, 0, ChunkCount(int64(len(data)), chunkSize))
	for offset := 0; offset < len(data); offset += chunkSize {
		chunks = append(chunks, data[offset:min(offset+chunkSize, len(data))])
	}
	if len(chunks) == 0 {
		chunks = append(chunks, data[:0])
	}
	return chunks
}

// expectedRawSize is the uncompressed length of chunk index in a
// transfer of totalSize bytes.
func expectedRawSize(index, totalChunks, chunkSize int, totalSize int64) int {
	if index < totalChunks-1 {
		return chunkSize
	}
	return int(totalSize - int64(totalChunks-1)*int64(chunkSize))
}
