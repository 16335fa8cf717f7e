// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bundle

import (
	"bufio"
	"bytes"

	"git.lukeshu.com/go/lowmemjson"

	"rugix.dev/ctrl-ng/lib/chunker"
	"rugix.dev/ctrl-ng/lib/rugerr"
	"rugix.dev/ctrl-ng/lib/rugixhash"
)

// CompressionFormat names the compression applied to an individual
// encoded block. Only XZ exists today, matching
// original_source's CompressionFormat::Xz.
type CompressionFormat string

const CompressionXZ CompressionFormat = "xz"

// Manifest is the bundle's small JSON-ish record (spec §3): the hash
// algorithm used for block/payload hashing and one entry per payload,
// in the order payloads appear in the STLV stream.
type Manifest struct {
	HashAlgorithm rugixhash.Algorithm `json:"hash_algorithm"`
	Payloads      []PayloadEntry      `json:"payloads"`
}

// PayloadEntry describes one payload's role and expected digests.
type PayloadEntry struct {
	Slot         *string         `json:"slot,omitempty"`
	UpdateScript bool            `json:"update_script,omitempty"`
	FileHash     rugixhash.Digest `json:"file_hash"`
	HeaderHash   rugixhash.Digest `json:"header_hash"`
}

// manifestJSON mirrors Manifest but with hash types represented as the
// plain strings lowmemjson round-trips, since rugixhash.Algorithm and
// rugixhash.Digest do not implement json.Marshaler themselves (kept
// minimal, single-purpose types — see DESIGN.md).
type manifestJSON struct {
	HashAlgorithm string             `json:"hash_algorithm"`
	Payloads      []payloadEntryJSON `json:"payloads"`
}

type payloadEntryJSON struct {
	Slot         *string `json:"slot,omitempty"`
	UpdateScript bool    `json:"update_script,omitempty"`
	FileHash     string  `json:"file_hash"`
	HeaderHash   string  `json:"header_hash"`
}

func (m Manifest) toJSON() manifestJSON {
	out := manifestJSON{
		HashAlgorithm: m.HashAlgorithm.Name(),
		Payloads:      make([]payloadEntryJSON, len(m.Payloads)),
	}
	for i, p := range m.Payloads {
		out.Payloads[i] = payloadEntryJSON{
			Slot:         p.Slot,
			UpdateScript: p.UpdateScript,
			FileHash:     p.FileHash.String(),
			HeaderHash:   p.HeaderHash.String(),
		}
	}
	return out
}

func manifestFromJSON(in manifestJSON) (Manifest, error) {
	algo, err := rugixhash.ParseAlgorithm(in.HashAlgorithm)
	if err != nil {
		return Manifest{}, err
	}
	out := Manifest{HashAlgorithm: algo, Payloads: make([]PayloadEntry, len(in.Payloads))}
	for i, p := range in.Payloads {
		fileHash, err := rugixhash.ParseDigest(p.FileHash)
		if err != nil {
			return Manifest{}, rugerr.Wrap(err, "invalid file_hash in manifest")
		}
		headerHash, err := rugixhash.ParseDigest(p.HeaderHash)
		if err != nil {
			return Manifest{}, rugerr.Wrap(err, "invalid header_hash in manifest")
		}
		out.Payloads[i] = PayloadEntry{
			Slot:         p.Slot,
			UpdateScript: p.UpdateScript,
			FileHash:     fileHash,
			HeaderHash:   headerHash,
		}
	}
	return out, nil
}

// EncodeManifest renders the manifest as the UTF-8 JSON bytes stored
// in the bundle_header value atom.
func EncodeManifest(m Manifest) ([]byte, error) {
	var buf bytes.Buffer
	cfg := lowmemjson.ReEncoder{Out: bufio.NewWriter(&buf)}
	if err := lowmemjson.Encode(&cfg, m.toJSON()); err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to encode manifest")
	}
	if bw, ok := cfg.Out.(*bufio.Writer); ok {
		if err := bw.Flush(); err != nil {
			return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to flush manifest")
		}
	}
	return buf.Bytes(), nil
}

// DecodeManifest parses the UTF-8 JSON bytes of a bundle_header value
// atom back into a Manifest.
func DecodeManifest(raw []byte) (Manifest, error) {
	var in manifestJSON
	scanner := bufio.NewReader(bytes.NewReader(raw))
	if err := lowmemjson.DecodeThenEOF(scanner, &in); err != nil {
		return Manifest{}, rugerr.New(rugerr.KindParseFormat, "malformed manifest JSON: "+err.Error())
	}
	return manifestFromJSON(in)
}

// PayloadHeader describes one payload's encoding, either a raw stream
// (BlockEncoding == nil) or a chunked/hashed/optionally-compressed and
// deduplicated block stream.
type PayloadHeader struct {
	BlockEncoding *BlockEncoding
}

// BlockEncoding is the "block_encoding" STLV subtree of a payload
// header (spec §3/§4.4): the chunker and hash algorithm used to build
// the block index, whether duplicate blocks are elided from
// payload_data, the optional per-block compression, and the raw index
// blobs.
type BlockEncoding struct {
	Chunker       chunker.Algorithm
	HashAlgorithm rugixhash.Algorithm
	Deduplicated  bool
	Compression   *CompressionFormat
	BlockIndex    []byte // concatenated raw block hashes
	BlockSizes    []byte // big-endian u32 per variable-size chunk, nil for fixed chunkers
}
