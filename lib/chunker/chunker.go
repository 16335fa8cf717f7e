// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package chunker divides byte streams into blocks, either of fixed
// size or at content-defined boundaries, grounded on
// original_source/crates/libs/rugix-chunker.
package chunker

import (
	"strconv"
	"strings"

	"rugix.dev/ctrl-ng/lib/byteunit"
	"rugix.dev/ctrl-ng/lib/rugerr"
)

// Chunker scans a byte slice for the next block boundary, returning
// the boundary's offset into bytes. ok is false when bytes does not
// yet contain a full block (more input is needed); the chunker
// remembers how much of the pending block it has already seen across
// calls, so repeated short scans over a stream produce the same
// boundaries as a single scan over the whole input.
type Chunker interface {
	Scan(bytes []byte) (offset int, ok bool)
}

// Split divides data into chunks using c, which must be freshly
// constructed (or Reset to its initial state). The last chunk may be
// shorter than a full block.
func Split(c Chunker, data []byte) [][]byte {
	var chunks [][]byte
	for len(data) > 0 {
		if offset, ok := c.Scan(data); ok {
			chunks = append(chunks, data[:offset])
			data = data[offset:]
		} else {
			chunks = append(chunks, data)
			data = nil
		}
	}
	return chunks
}

// FixedSizeChunker splits input into equal-sized blocks, with a
// possibly-shorter final block.
type FixedSizeChunker struct {
	blockSize byteunit.NumBytes
	remaining byteunit.NumBytes
}

// NewFixedSizeChunker constructs a FixedSizeChunker for the given
// block size, which must be nonzero.
func NewFixedSizeChunker(blockSize byteunit.NumBytes) (*FixedSizeChunker, error) {
	if blockSize == 0 {
		return nil, rugerr.New(rugerr.KindParseFormat, "fixed chunker block size must not be zero")
	}
	return &FixedSizeChunker{blockSize: blockSize, remaining: blockSize}, nil
}

func (c *FixedSizeChunker) Scan(bytes []byte) (int, bool) {
	take := c.remaining.Min(byteunit.NumBytes(len(bytes)))
	c.remaining, _ = c.remaining.Sub(take)
	if c.remaining == 0 {
		c.remaining = c.blockSize
		return int(take.Raw()), true
	}
	return 0, false
}

// Algorithm names a chunker configuration in the compact form used by
// bundle manifests and CLI flags: "casync-<avg-kib>" or
// "fixed-<kib>".
type Algorithm struct {
	Fixed           bool
	AvgBlockSizeKiB uint16 // meaningful when !Fixed
	BlockSizeKiB    uint16 // meaningful when Fixed
}

func FixedAlgorithm(blockSizeKiB uint16) Algorithm {
	return Algorithm{Fixed: true, BlockSizeKiB: blockSizeKiB}
}

func CasyncAlgorithm(avgBlockSizeKiB uint16) Algorithm {
	return Algorithm{Fixed: false, AvgBlockSizeKiB: avgBlockSizeKiB}
}

func (a Algorithm) String() string {
	if a.Fixed {
		return "fixed-" + strconv.Itoa(int(a.BlockSizeKiB))
	}
	return "casync-" + strconv.Itoa(int(a.AvgBlockSizeKiB))
}

// ParseAlgorithm parses the "<kind>-<kib>" form produced by String.
func ParseAlgorithm(s string) (Algorithm, error) {
	kind, options, ok := strings.Cut(s, "-")
	if !ok {
		return Algorithm{}, rugerr.New(rugerr.KindParseFormat, "missing '-' delimiter in chunker algorithm")
	}
	size, err := strconv.ParseUint(options, 10, 16)
	if err != nil {
		return Algorithm{}, rugerr.New(rugerr.KindParseFormat, "invalid chunker algorithm options")
	}
	switch kind {
	case "fixed":
		return FixedAlgorithm(uint16(size)), nil
	case "casync":
		return CasyncAlgorithm(uint16(size)), nil
	default:
		return Algorithm{}, rugerr.New(rugerr.KindParseFormat, "invalid chunker algorithm kind")
	}
}

// Chunker constructs the Chunker described by a.
func (a Algorithm) Chunker() (Chunker, error) {
	if a.Fixed {
		return NewFixedSizeChunker(byteunit.Kibibytes(uint64(a.BlockSizeKiB)))
	}
	return NewCasyncChunker(CasyncOptionsForAvg(byteunit.Kibibytes(uint64(a.AvgBlockSizeKiB))))
}
