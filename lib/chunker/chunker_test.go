// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package chunker_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rugix.dev/ctrl-ng/lib/byteunit"
	"rugix.dev/ctrl-ng/lib/chunker"
)

// TestFixedSizeChunkerScenario mirrors S3: 10KiB of zeros split by a
// fixed-4KiB chunker yields {4096, 4096, 2048}.
func TestFixedSizeChunkerScenario(t *testing.T) {
	t.Parallel()
	c, err := chunker.NewFixedSizeChunker(byteunit.Kibibytes(4))
	require.NoError(t, err)

	data := make([]byte, 10*1024)
	chunks := chunker.Split(c, data)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 4096)
	assert.Len(t, chunks[1], 4096)
	assert.Len(t, chunks[2], 2048)
}

func TestFixedSizeChunkerRejectsZero(t *testing.T) {
	t.Parallel()
	_, err := chunker.NewFixedSizeChunker(byteunit.ZeroBytes)
	require.Error(t, err)
}

// TestChunkerDeterminism exercises P4: scanning the same input through
// one long Scan call or many short ones yields identical boundaries.
func TestChunkerDeterminism(t *testing.T) {
	t.Parallel()
	data := make([]byte, 200*1024)
	for i := range data {
		data[i] = byte(i * 37)
	}

	opts := chunker.CasyncOptionsForAvg(byteunit.Kibibytes(16))
	oneShot, err := chunker.NewCasyncChunker(opts)
	require.NoError(t, err)
	wholeChunks := chunker.Split(oneShot, data)

	streamed, err := chunker.NewCasyncChunker(opts)
	require.NoError(t, err)
	var streamedChunks [][]byte
	var pending []byte
	for start := 0; start < len(data); start += 97 {
		end := start + 97
		if end > len(data) {
			end = len(data)
		}
		fresh := data[start:end]
		for {
			offset, ok := streamed.Scan(fresh)
			if !ok {
				pending = append(pending, fresh...)
				break
			}
			streamedChunks = append(streamedChunks, append(pending, fresh[:offset]...))
			pending = nil
			fresh = fresh[offset:]
		}
	}
	if len(pending) > 0 {
		streamedChunks = append(streamedChunks, pending)
	}

	require.Equal(t, len(wholeChunks), len(streamedChunks))
	for i := range wholeChunks {
		assert.True(t, bytes.Equal(wholeChunks[i], streamedChunks[i]), "chunk %d differs", i)
	}
}

// TestChunkerBoundaryCoverage exercises P5/P6: concatenating chunks
// reconstructs the input, and every chunk but possibly the last is
// within [min, max].
func TestChunkerBoundaryCoverage(t *testing.T) {
	t.Parallel()
	data := make([]byte, 500*1024)
	for i := range data {
		data[i] = byte(i * 131)
	}

	opts := chunker.CasyncOptionsForAvg(byteunit.Kibibytes(32))
	c, err := chunker.NewCasyncChunker(opts)
	require.NoError(t, err)
	chunks := chunker.Split(c, data)

	var reassembled []byte
	for i, chunk := range chunks {
		reassembled = append(reassembled, chunk...)
		size := byteunit.NumBytes(len(chunk))
		if i < len(chunks)-1 {
			assert.True(t, size.Cmp(opts.MinChunkSize) >= 0)
			assert.True(t, size.Cmp(opts.MaxChunkSize) <= 0)
		} else {
			assert.True(t, size.Cmp(opts.MaxChunkSize) <= 0)
			assert.True(t, len(chunk) > 0)
		}
	}
	assert.True(t, bytes.Equal(data, reassembled))
}

func TestAlgorithmStringRoundTrip(t *testing.T) {
	t.Parallel()
	for _, a := range []chunker.Algorithm{
		chunker.FixedAlgorithm(4),
		chunker.CasyncAlgorithm(64),
	} {
		parsed, err := chunker.ParseAlgorithm(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, parsed)
	}
}
