// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bundle

import (
	"bytes"
	"encoding/binary"
	"io"

	"rugix.dev/ctrl-ng/lib/chunker"
	"rugix.dev/ctrl-ng/lib/rugerr"
	"rugix.dev/ctrl-ng/lib/rugixhash"
	"rugix.dev/ctrl-ng/lib/stlv"
)

// EncodePayloadHeader serializes h as the STLV subtree
// `<payload_header> [block_encoding] </payload_header>`, returning its
// raw bytes. The same bytes are both written to the bundle stream and
// hashed to produce a payload entry's header_hash (spec §4.4 step 3).
func EncodePayloadHeader(h PayloadHeader) ([]byte, error) {
	var buf bytes.Buffer
	if err := stlv.WriteSegmentStart(&buf, tagPayloadHeader); err != nil {
		return nil, rugerr.Wrap(err, "unable to write payload_header start")
	}
	if h.BlockEncoding != nil {
		if err := encodeBlockEncoding(&buf, *h.BlockEncoding); err != nil {
			return nil, err
		}
	}
	if err := stlv.WriteSegmentEnd(&buf, tagPayloadHeader); err != nil {
		return nil, rugerr.Wrap(err, "unable to write payload_header end")
	}
	return buf.Bytes(), nil
}

func encodeBlockEncoding(w io.Writer, enc BlockEncoding) error {
	if err := stlv.WriteSegmentStart(w, tagBlockEncoding); err != nil {
		return rugerr.Wrap(err, "unable to write block_encoding start")
	}
	if err := stlv.WriteValue(w, tagChunker, []byte(enc.Chunker.String())); err != nil {
		return rugerr.Wrap(err, "unable to write chunker")
	}
	if err := stlv.WriteValue(w, tagHashAlgorithm, []byte(enc.HashAlgorithm.Name())); err != nil {
		return rugerr.Wrap(err, "unable to write hash_algorithm")
	}
	dedup := []byte{0}
	if enc.Deduplicated {
		dedup[0] = 1
	}
	if err := stlv.WriteValue(w, tagDeduplicated, dedup); err != nil {
		return rugerr.Wrap(err, "unable to write deduplicated")
	}
	if enc.Compression != nil {
		if err := stlv.WriteValue(w, tagCompression, []byte(*enc.Compression)); err != nil {
			return rugerr.Wrap(err, "unable to write compression")
		}
	}
	if err := stlv.WriteValue(w, tagBlockIndexBlob, enc.BlockIndex); err != nil {
		return rugerr.Wrap(err, "unable to write block_index")
	}
	if enc.BlockSizes != nil {
		if err := stlv.WriteValue(w, tagBlockSizesBlob, enc.BlockSizes); err != nil {
			return rugerr.Wrap(err, "unable to write block_sizes")
		}
	}
	if err := stlv.WriteSegmentEnd(w, tagBlockEncoding); err != nil {
		return rugerr.Wrap(err, "unable to write block_encoding end")
	}
	return nil
}

// DecodePayloadHeader parses the full `<payload_header>...</payload_header>`
// subtree, the raw bytes produced by EncodePayloadHeader. An empty
// (immediately-closed) segment means no block encoding: the payload is
// a raw stream.
func DecodePayloadHeader(raw []byte) (PayloadHeader, error) {
	dec := stlv.NewDecoderDefaultLimits(bytes.NewReader(raw))

	outer, err := dec.NextAtomHead()
	if err != nil {
		return PayloadHeader{}, rugerr.Wrap(err, "unable to read payload_header")
	}
	if !outer.IsStart() || outer.Tag != tagPayloadHeader {
		return PayloadHeader{}, rugerr.New(rugerr.KindParseFormat, "expected payload_header start")
	}

	next, err := dec.NextAtomHead()
	if err != nil {
		return PayloadHeader{}, rugerr.Wrap(err, "unable to read payload_header body")
	}
	if next.IsEnd() {
		if next.Tag != tagPayloadHeader {
			return PayloadHeader{}, rugerr.New(rugerr.KindParseFormat, "unbalanced payload_header segment")
		}
		return PayloadHeader{}, nil
	}
	if !next.IsStart() || next.Tag != tagBlockEncoding {
		return PayloadHeader{}, rugerr.New(rugerr.KindParseFormat, "expected block_encoding in payload_header")
	}
	enc, err := decodeBlockEncoding(dec)
	if err != nil {
		return PayloadHeader{}, err
	}

	end, err := dec.NextAtomHead()
	if err != nil {
		return PayloadHeader{}, rugerr.Wrap(err, "unable to read payload_header end")
	}
	if !end.IsEnd() || end.Tag != tagPayloadHeader {
		return PayloadHeader{}, rugerr.New(rugerr.KindParseFormat, "unbalanced payload_header segment")
	}
	return PayloadHeader{BlockEncoding: &enc}, nil
}

func decodeBlockEncoding(dec *stlv.Decoder) (BlockEncoding, error) {
	var enc BlockEncoding
	var haveChunker, haveHash, haveIndex bool
	for {
		head, err := dec.NextAtomHead()
		if err != nil {
			return BlockEncoding{}, rugerr.Wrap(err, "unable to read block_encoding field")
		}
		if head.IsEnd() {
			if head.Tag != tagBlockEncoding {
				return BlockEncoding{}, rugerr.New(rugerr.KindParseFormat, "unbalanced block_encoding segment")
			}
			break
		}
		switch head.Tag {
		case tagChunker:
			value, err := dec.ReadValue()
			if err != nil {
				return BlockEncoding{}, err
			}
			algo, err := chunker.ParseAlgorithm(string(value))
			if err != nil {
				return BlockEncoding{}, err
			}
			enc.Chunker = algo
			haveChunker = true
		case tagHashAlgorithm:
			value, err := dec.ReadValue()
			if err != nil {
				return BlockEncoding{}, err
			}
			algo, err := rugixhash.ParseAlgorithm(string(value))
			if err != nil {
				return BlockEncoding{}, err
			}
			enc.HashAlgorithm = algo
			haveHash = true
		case tagDeduplicated:
			value, err := dec.ReadValue()
			if err != nil {
				return BlockEncoding{}, err
			}
			enc.Deduplicated = len(value) == 1 && value[0] != 0
		case tagCompression:
			value, err := dec.ReadValue()
			if err != nil {
				return BlockEncoding{}, err
			}
			format := CompressionFormat(value)
			enc.Compression = &format
		case tagBlockIndexBlob:
			value, err := dec.ReadValue()
			if err != nil {
				return BlockEncoding{}, err
			}
			enc.BlockIndex = append([]byte(nil), value...)
			haveIndex = true
		case tagBlockSizesBlob:
			value, err := dec.ReadValue()
			if err != nil {
				return BlockEncoding{}, err
			}
			enc.BlockSizes = append([]byte(nil), value...)
		default:
			if err := dec.Skip(head); err != nil {
				return BlockEncoding{}, err
			}
		}
	}
	if !haveChunker || !haveHash || !haveIndex {
		return BlockEncoding{}, rugerr.New(rugerr.KindParseFormat, "block_encoding missing required field")
	}
	return enc, nil
}

// decodeBlockSizes splits a big-endian u32-per-entry blob into a slice
// of sizes, per spec §4.4's "32-bit big-endian sizes".
func decodeBlockSizes(raw []byte) ([]uint32, error) {
	if len(raw)%4 != 0 {
		return nil, rugerr.New(rugerr.KindParseFormat, "block_sizes blob is not a multiple of 4 bytes")
	}
	out := make([]uint32, len(raw)/4)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(raw[i*4 : i*4+4])
	}
	return out, nil
}

// encodeBlockSizes is the writer-side inverse of decodeBlockSizes.
func encodeBlockSizes(sizes []uint32) []byte {
	out := make([]byte, len(sizes)*4)
	for i, s := range sizes {
		binary.BigEndian.PutUint32(out[i*4:i*4+4], s)
	}
	return out
}
