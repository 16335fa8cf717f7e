// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bundle

import (
	"bytes"
	"os"

	"rugix.dev/ctrl-ng/lib/blocking"
	"rugix.dev/ctrl-ng/lib/byteunit"
	"rugix.dev/ctrl-ng/lib/rugerr"
	"rugix.dev/ctrl-ng/lib/rugixhash"
	"rugix.dev/ctrl-ng/lib/stlv"
)

// BundleHeaderSizeLimit and PayloadHeaderSizeLimit bound the
// structural atoms read before any payload_data bytes, preventing a
// hostile or truncated bundle from exhausting memory (spec §4.4
// "Limits").
var (
	BundleHeaderSizeLimit  = byteunit.Kibibytes(64)
	PayloadHeaderSizeLimit = byteunit.Kibibytes(64)
)

// BundleReader reads the outer structure of a bundle stream: the
// header/manifest, then each payload in turn.
type BundleReader struct {
	source      Source
	manifest    Manifest
	nextPayload int
}

// Start reads the bundle start tag and the entire bundle_header value
// atom, optionally verifying it against headerHash, then positions the
// reader immediately before the first payload.
func Start(source Source, headerHash *rugixhash.Digest) (*BundleReader, error) {
	if err := expectStart(source, tagBundle); err != nil {
		return nil, err
	}
	headerBytes, err := expectAndReadValue(source, tagBundleHeader, BundleHeaderSizeLimit)
	if err != nil {
		return nil, err
	}
	if headerHash != nil {
		if !headerHash.Algorithm().Hash(headerBytes).Equal(*headerHash) {
			return nil, rugerr.New(rugerr.KindHashMismatch, "invalid bundle header hash")
		}
	}
	manifest, err := DecodeManifest(headerBytes)
	if err != nil {
		return nil, rugerr.Wrap(err, "unable to decode manifest")
	}
	if err := expectStart(source, tagPayloads); err != nil {
		return nil, err
	}
	return &BundleReader{source: source, manifest: manifest}, nil
}

// Manifest returns the bundle's manifest.
func (r *BundleReader) Manifest() Manifest { return r.manifest }

// NextPayload returns a reader for the next payload in manifest order,
// or nil once every payload has been consumed.
func (r *BundleReader) NextPayload() (*PayloadReader, error) {
	if r.nextPayload >= len(r.manifest.Payloads) {
		return nil, nil
	}
	idx := r.nextPayload
	r.nextPayload++
	entry := r.manifest.Payloads[idx]

	if err := expectStart(r.source, tagPayload); err != nil {
		return nil, err
	}
	headerBytes, err := readSegmentBytes(r.source, tagPayloadHeader, PayloadHeaderSizeLimit)
	if err != nil {
		return nil, err
	}
	if !r.manifest.HashAlgorithm.Hash(headerBytes).Equal(entry.HeaderHash) {
		return nil, rugerr.New(rugerr.KindHashMismatch, "invalid payload header hash")
	}
	header, err := DecodePayloadHeader(headerBytes)
	if err != nil {
		return nil, rugerr.Wrap(err, "unable to decode payload header")
	}
	remaining, err := expectValue(r.source, tagPayloadData)
	if err != nil {
		return nil, err
	}
	return &PayloadReader{
		idx:           idx,
		bundleReader:  r,
		header:        header,
		entry:         entry,
		remainingData: remaining,
	}, nil
}

// PayloadReader streams and reconstructs a single payload.
type PayloadReader struct {
	idx           int
	bundleReader  *BundleReader
	header        PayloadHeader
	entry         PayloadEntry
	remainingData byteunit.NumBytes
}

func (p *PayloadReader) Idx() int               { return p.idx }
func (p *PayloadReader) Header() PayloadHeader  { return p.header }
func (p *PayloadReader) Entry() PayloadEntry    { return p.entry }

// Skip consumes the remaining payload_data bytes and the closing
// payload atom without decoding, leaving the stream positioned before
// the next payload.
func (p *PayloadReader) Skip() error {
	if err := p.bundleReader.source.Skip(p.remainingData); err != nil {
		return err
	}
	return expectEnd(p.bundleReader.source, tagPayload)
}

func (p *PayloadReader) read(buf []byte) (int, error) {
	max := p.remainingData
	if want := byteunit.NumBytes(len(buf)); want < max {
		max = want
	}
	n, err := p.bundleReader.source.Read(buf[:max.Raw()])
	p.remainingData -= byteunit.NumBytes(n)
	if err != nil && n == 0 {
		return 0, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to read payload data")
	}
	return n, nil
}

// PayloadTarget is where a decoded payload's bytes go. Sequential
// writes always happen in order; ReadBlock is only called to reuse a
// block already written earlier in this same payload (intra-payload
// dedup when there is no BlockProvider or it has no location for the
// block).
type PayloadTarget interface {
	Write(bytes []byte) error
	ReadBlock(offset, size byteunit.NumBytes, buf []byte) ([]byte, error)
}

// DecodeInto reconstructs the payload into target, consuming exactly
// the payload's remaining bytes plus the closing atom. blockProvider
// may be nil; when non-nil, a deduplicated block is looked up there
// before falling back to re-reading it from a prior write to target.
// Fresh blocks are always read from payload_data.
func (p *PayloadReader) DecodeInto(target PayloadTarget, blockProvider *BlockProvider) error {
	return p.DecodeIntoCtx(blocking.Background(), target, blockProvider)
}

// DecodeIntoCtx is DecodeInto with a blocking.Ctx checkpointed at
// least once per ~32KiB of decoded payload data (spec §5), for use by
// the installer's payload-by-payload pipeline under a blocking.Task.
func (p *PayloadReader) DecodeIntoCtx(ctx blocking.Ctx, target PayloadTarget, blockProvider *BlockProvider) error {
	hashAlgorithm := p.bundleReader.manifest.HashAlgorithm
	payloadHasher := rugixhash.NewHasher(hashAlgorithm)

	if p.header.BlockEncoding == nil {
		buf := make([]byte, 8192)
		var counter int
		for {
			n, err := p.read(buf)
			if n == 0 && err == nil {
				break
			}
			if err != nil {
				return err
			}
			if n == 0 {
				break
			}
			if err := target.Write(buf[:n]); err != nil {
				return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to write payload target")
			}
			payloadHasher.Update(buf[:n])
			if err := ctx.Checkpoint(&counter, n); err != nil {
				return err
			}
		}
	} else {
		if err := p.decodeEncodedInto(ctx, target, blockProvider, payloadHasher); err != nil {
			return err
		}
	}

	if !payloadHasher.Finalize().Equal(p.entry.FileHash) {
		return rugerr.New(rugerr.KindHashMismatch, "payload hash mismatch")
	}
	return expectEnd(p.bundleReader.source, tagPayload)
}

func (p *PayloadReader) decodeEncodedInto(ctx blocking.Ctx, target PayloadTarget, blockProvider *BlockProvider, payloadHasher *rugixhash.Hasher) error {
	enc := *p.header.BlockEncoding

	blockIndexRaw := enc.BlockIndex
	if enc.Compression != nil {
		decompressed, err := decompressXZ(blockIndexRaw)
		if err != nil {
			return rugerr.Wrap(err, "unable to decompress block index")
		}
		blockIndexRaw = decompressed
	}

	var blockSizes []uint32
	if enc.BlockSizes != nil {
		raw := enc.BlockSizes
		if enc.Compression != nil {
			decompressed, err := decompressXZ(raw)
			if err != nil {
				return rugerr.Wrap(err, "unable to decompress block sizes")
			}
			raw = decompressed
		}
		sizes, err := decodeBlockSizes(raw)
		if err != nil {
			return err
		}
		blockSizes = sizes
	}

	var fixedBlockSize uint32
	hasFixedSize := enc.Chunker.Fixed
	if hasFixedSize {
		fixedBlockSize = uint32(enc.Chunker.BlockSizeKiB) * 1024
	}
	if !hasFixedSize && blockSizes == nil {
		return rugerr.New(rugerr.KindParseFormat, "variable-size block index needs block sizes")
	}

	hashSize := enc.HashAlgorithm.Size()
	numBlocks := len(blockIndexRaw) / hashSize
	firstOccurrence := newFirstOccurrenceTable(numBlocks)

	targetOffsets := make([]byteunit.NumBytes, 0, numBlocks)
	targetSizes := make([]byteunit.NumBytes, 0, numBlocks)
	var currentTargetOffset byteunit.NumBytes
	nextSizeIdx := 0
	buffer := make([]byte, 0, 1<<16)
	var counter int

	for i := 0; i < numBlocks; i++ {
		blockHash := blockIndexRaw[i*hashSize : (i+1)*hashSize]
		isFresh := firstOccurrence.InsertRaw(blockHash, BlockID{raw: i})
		firstIdx, _ := firstOccurrence.GetRaw(blockHash)

		var block []byte
		switch {
		case isFresh || !enc.Deduplicated:
			blockSize := uint64(fixedBlockSize)
			if blockSizes != nil {
				blockSize = uint64(blockSizes[nextSizeIdx])
			}
			if byteunit.NumBytes(blockSize) > p.remainingData {
				blockSize = p.remainingData.Raw()
			}
			nextSizeIdx++
			buffer = growBuffer(buffer, int(blockSize))
			if _, err := readFull(p, buffer); err != nil {
				return err
			}
			if enc.Compression != nil {
				decompressed, err := decompressXZ(buffer)
				if err != nil {
					return rugerr.Wrap(err, "unable to decompress block")
				}
				buffer = decompressed
			}
			block = buffer
		default:
			if firstIdx.raw >= i {
				return rugerr.New(rugerr.KindParseFormat, "deduplicated block references a later block")
			}
			offset := targetOffsets[firstIdx.raw]
			size := targetSizes[firstIdx.raw]
			var fromBlockProvider []byte
			if blockProvider != nil {
				if loc, ok := blockProvider.Lookup(blockHash); ok {
					read, err := readBlockFromLocation(loc)
					if err != nil {
						return rugerr.Wrap(err, "unable to read block from block provider")
					}
					fromBlockProvider = read
				}
			}
			if fromBlockProvider != nil {
				block = fromBlockProvider
			} else {
				read, err := target.ReadBlock(offset, size, buffer)
				if err != nil {
					return rugerr.Wrap(err, "unable to reuse previously written block")
				}
				block = read
			}
		}

		if hashAlgorithmHash(enc.HashAlgorithm, block) != string(blockHash) {
			return rugerr.Newf(rugerr.KindHashMismatch, "invalid block hash of block %d of size %d", i, len(block))
		}

		targetOffsets = append(targetOffsets, currentTargetOffset)
		blockLen := byteunit.NumBytes(len(block))
		targetSizes = append(targetSizes, blockLen)
		currentTargetOffset += blockLen
		if err := target.Write(block); err != nil {
			return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to write decoded block")
		}
		payloadHasher.Update(block)
		if err := ctx.Checkpoint(&counter, len(block)); err != nil {
			return err
		}
	}
	return nil
}

func hashAlgorithmHash(algo rugixhash.Algorithm, block []byte) string {
	return string(algo.Hash(block).Raw())
}

// readBlockFromLocation opens loc's slot device and reads its block
// out directly, letting cross-slot deduplication reuse data the
// target itself has never written (spec §4.4's BlockProvider
// contract). Opening per lookup keeps this path simple. It is tried
// before intra-payload reuse through target.ReadBlock, which only runs
// when the provider has no location for the block.
func readBlockFromLocation(loc BlockLocation) ([]byte, error) {
	fh, err := os.Open(loc.Path)
	if err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to open slot device")
	}
	defer func() { _ = fh.Close() }()

	buf := make([]byte, loc.Size.Raw())
	if _, err := fh.ReadAt(buf, int64(loc.Offset.Raw())); err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to read slot device")
	}
	return buf, nil
}

func growBuffer(buf []byte, size int) []byte {
	if cap(buf) < size {
		return make([]byte, size)
	}
	return buf[:size]
}

func readFull(p *PayloadReader, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := p.read(buf[read:])
		read += n
		if err != nil {
			return read, err
		}
		if n == 0 {
			return read, rugerr.New(rugerr.KindUnexpectedEOF, "truncated payload data")
		}
	}
	return read, nil
}

func expectAtomHead(source Source) (stlv.AtomHead, error) {
	head, ok, err := stlv.ReadAtomHead(source)
	if err != nil {
		return stlv.AtomHead{}, err
	}
	if !ok {
		return stlv.AtomHead{}, rugerr.New(rugerr.KindUnexpectedEOF, "unexpected end of bundle, expected atom")
	}
	return head, nil
}

func expectStart(source Source, tag stlv.Tag) error {
	head, err := expectAtomHead(source)
	if err != nil {
		return err
	}
	if !head.IsStart() || head.Tag != tag {
		return rugerr.Newf(rugerr.KindParseFormat, "expected start of %s, found %s", tag, head.Tag)
	}
	return nil
}

func expectEnd(source Source, tag stlv.Tag) error {
	head, err := expectAtomHead(source)
	if err != nil {
		return err
	}
	if !head.IsEnd() || head.Tag != tag {
		return rugerr.Newf(rugerr.KindParseFormat, "expected end of %s, found %s", tag, head.Tag)
	}
	return nil
}

func expectValue(source Source, tag stlv.Tag) (byteunit.NumBytes, error) {
	head, err := expectAtomHead(source)
	if err != nil {
		return 0, err
	}
	if !head.IsValue() || head.Tag != tag {
		return 0, rugerr.Newf(rugerr.KindParseFormat, "expected value of %s, found %s", tag, head.Tag)
	}
	return head.Length, nil
}

// expectAndReadValue expects a value atom of tag and reads its bytes
// fully, enforcing limit against the value's declared length before
// allocating.
func expectAndReadValue(source Source, tag stlv.Tag, limit byteunit.NumBytes) ([]byte, error) {
	length, err := expectValue(source, tag)
	if err != nil {
		return nil, err
	}
	if length.Cmp(limit) > 0 {
		return nil, rugerr.New(rugerr.KindSizeLimit, "value exceeds size limit")
	}
	buf := make([]byte, length.Raw())
	if _, err := readAllFromSource(source, buf); err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to read value")
	}
	return buf, nil
}

func readAllFromSource(source Source, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := source.Read(buf[read:])
		read += n
		if err != nil {
			return read, err
		}
		if n == 0 {
			return read, rugerr.New(rugerr.KindUnexpectedEOF, "truncated value")
		}
	}
	return read, nil
}

// readSegmentBytes reads an entire `<tag>...</tag>` subtree from
// source and returns its raw re-serialized STLV bytes, so the caller
// can both hash and decode the exact bytes that were on the wire
// (mirrors original_source's reader.rs read_into_vec, specialized to
// always start from a segment rather than an arbitrary atom).
func readSegmentBytes(source Source, tag stlv.Tag, limit byteunit.NumBytes) ([]byte, error) {
	head, err := expectAtomHead(source)
	if err != nil {
		return nil, err
	}
	if !head.IsStart() || head.Tag != tag {
		return nil, rugerr.Newf(rugerr.KindParseFormat, "expected start of %s, found %s", tag, head.Tag)
	}
	var buf bytes.Buffer
	if err := copyAtomInto(source, &buf, head, limit); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// copyAtomInto re-serializes head and, for a segment, every descendant
// atom up to and including its matching end, into out.
func copyAtomInto(source Source, out *bytes.Buffer, head stlv.AtomHead, limit byteunit.NumBytes) error {
	if err := stlv.WriteAtomHead(out, head); err != nil {
		return err
	}
	switch {
	case head.IsValue():
		if byteunit.NumBytes(out.Len())+head.Length >= limit {
			return rugerr.New(rugerr.KindSizeLimit, "value too long")
		}
		buf := make([]byte, head.Length.Raw())
		if _, err := readAllFromSource(source, buf); err != nil {
			return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to read value")
		}
		out.Write(buf)
		return nil
	case head.IsStart():
		for {
			inner, err := expectAtomHead(source)
			if err != nil {
				return err
			}
			if inner.IsEnd() && inner.Tag == head.Tag {
				return stlv.WriteAtomHead(out, inner)
			}
			if err := copyAtomInto(source, out, inner, limit); err != nil {
				return err
			}
		}
	default:
		return rugerr.Newf(rugerr.KindParseFormat, "unbalanced segment end with tag %s", head.Tag)
	}
}
