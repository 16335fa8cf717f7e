// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bundle

import (
	"bytes"
	"io"

	"rugix.dev/ctrl-ng/lib/blocking"
	"rugix.dev/ctrl-ng/lib/chunker"
	"rugix.dev/ctrl-ng/lib/rugerr"
	"rugix.dev/ctrl-ng/lib/rugixhash"
	"rugix.dev/ctrl-ng/lib/stlv"
)

// BlockEncodingSpec configures how a payload's data is chunked,
// hashed, optionally deduplicated and compressed, the writer-side
// mirror of BlockEncoding before the index blobs exist.
type BlockEncodingSpec struct {
	Chunker       chunker.Algorithm
	HashAlgorithm rugixhash.Algorithm
	Deduplicated  bool
	Compression   *CompressionFormat
}

// PayloadSpec describes one payload to be written into a bundle: its
// manifest role plus the uncompressed bytes to encode.
type PayloadSpec struct {
	Slot          *string
	UpdateScript  bool
	BlockEncoding *BlockEncodingSpec // nil: write Data verbatim, no index
	Data          []byte
}

// WriteBundle serializes payloads into a complete bundle stream and
// writes it to w, following spec §4.4's "Writer" steps: encode every
// payload first (so each entry's file_hash/header_hash are known),
// then emit the bundle_header manifest followed by the payloads
// themselves.
func WriteBundle(w io.Writer, hashAlgorithm rugixhash.Algorithm, payloads []PayloadSpec) error {
	return WriteBundleCtx(blocking.Background(), w, hashAlgorithm, payloads)
}

// WriteBundleCtx is WriteBundle with a blocking.Ctx checkpointed at
// least once per ~32KiB of block-encoded payload data (spec §5), for
// use by the installer's bundle-creation tooling under a
// blocking.Task.
func WriteBundleCtx(ctx blocking.Ctx, w io.Writer, hashAlgorithm rugixhash.Algorithm, payloads []PayloadSpec) error {
	manifest := Manifest{HashAlgorithm: hashAlgorithm}
	var payloadBodies bytes.Buffer

	for _, spec := range payloads {
		entry, body, err := encodePayload(ctx, hashAlgorithm, spec)
		if err != nil {
			return err
		}
		manifest.Payloads = append(manifest.Payloads, entry)
		if _, err := payloadBodies.Write(body); err != nil {
			return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to buffer payload")
		}
	}

	manifestJSON, err := EncodeManifest(manifest)
	if err != nil {
		return err
	}

	if err := stlv.WriteSegmentStart(w, tagBundle); err != nil {
		return rugerr.Wrap(err, "unable to write bundle start")
	}
	if err := stlv.WriteValue(w, tagBundleHeader, manifestJSON); err != nil {
		return rugerr.Wrap(err, "unable to write bundle_header")
	}
	if err := stlv.WriteSegmentStart(w, tagPayloads); err != nil {
		return rugerr.Wrap(err, "unable to write payloads start")
	}
	if _, err := w.Write(payloadBodies.Bytes()); err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to write payloads")
	}
	if err := stlv.WriteSegmentEnd(w, tagPayloads); err != nil {
		return rugerr.Wrap(err, "unable to write payloads end")
	}
	if err := stlv.WriteSegmentEnd(w, tagBundle); err != nil {
		return rugerr.Wrap(err, "unable to write bundle end")
	}
	return nil
}

// BundleHeaderHash computes the hash a caller can pin as the
// authenticated bundle_header reference passed to Start, without
// re-reading a bundle that has already been written.
func BundleHeaderHash(hashAlgorithm rugixhash.Algorithm, manifest Manifest) (rugixhash.Digest, error) {
	raw, err := EncodeManifest(manifest)
	if err != nil {
		return rugixhash.Digest{}, err
	}
	return hashAlgorithm.Hash(raw), nil
}

// encodePayload builds one payload's `<payload>...</payload>` subtree
// and its manifest entry.
func encodePayload(ctx blocking.Ctx, hashAlgorithm rugixhash.Algorithm, spec PayloadSpec) (PayloadEntry, []byte, error) {
	var dataBuf bytes.Buffer
	var header PayloadHeader
	fileHasher := rugixhash.NewHasher(hashAlgorithm)

	if spec.BlockEncoding == nil {
		dataBuf.Write(spec.Data)
		fileHasher.Update(spec.Data)
	} else {
		enc, err := encodeBlocks(ctx, &dataBuf, fileHasher, *spec.BlockEncoding, spec.Data)
		if err != nil {
			return PayloadEntry{}, nil, err
		}
		header.BlockEncoding = &enc
	}

	headerBytes, err := EncodePayloadHeader(header)
	if err != nil {
		return PayloadEntry{}, nil, err
	}
	headerHash := hashAlgorithm.Hash(headerBytes)

	var body bytes.Buffer
	if err := stlv.WriteSegmentStart(&body, tagPayload); err != nil {
		return PayloadEntry{}, nil, rugerr.Wrap(err, "unable to write payload start")
	}
	if _, err := body.Write(headerBytes); err != nil {
		return PayloadEntry{}, nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to write payload_header")
	}
	if err := stlv.WriteValue(&body, tagPayloadData, dataBuf.Bytes()); err != nil {
		return PayloadEntry{}, nil, rugerr.Wrap(err, "unable to write payload_data")
	}
	if err := stlv.WriteSegmentEnd(&body, tagPayload); err != nil {
		return PayloadEntry{}, nil, rugerr.Wrap(err, "unable to write payload end")
	}

	entry := PayloadEntry{
		Slot:         spec.Slot,
		UpdateScript: spec.UpdateScript,
		FileHash:     fileHasher.Finalize(),
		HeaderHash:   headerHash,
	}
	return entry, body.Bytes(), nil
}

// encodeBlocks chunks and hashes data with the BlockIndexBuilder
// (spec step 1), writing each block's encoded (optionally compressed,
// optionally deduplicated) bytes to dataBuf and returning the
// resulting block_encoding fields.
func encodeBlocks(ctx blocking.Ctx, dataBuf *bytes.Buffer, fileHasher *rugixhash.Hasher, spec BlockEncodingSpec, data []byte) (BlockEncoding, error) {
	config := BlockIndexConfig{HashAlgorithm: spec.HashAlgorithm, Chunker: spec.Chunker}
	builder, err := NewBlockIndexBuilder(config)
	if err != nil {
		return BlockEncoding{}, err
	}
	if err := builder.ProcessCtx(ctx, data); err != nil {
		return BlockEncoding{}, err
	}
	index := builder.Finalize()

	fileHasher.Update(data)

	// block_sizes records each emitted block's encoded length. A
	// variable chunker always needs it to find block boundaries in
	// payload_data; a fixed chunker needs it too once compression
	// makes the encoded length differ from the uncompressed
	// block_size.
	needSizes := !spec.Chunker.Fixed || spec.Compression != nil
	var sizes []uint32
	seen := make(map[string]bool, index.Len())

	for i := 0; i < index.Len(); i++ {
		entry := index.Entry(BlockID{raw: i})
		block := data[entry.Offset.Raw() : entry.Offset.Raw()+entry.Size.Raw()]

		encoded := block
		if spec.Compression != nil {
			compressed, err := compressXZ(block)
			if err != nil {
				return BlockEncoding{}, rugerr.Wrap(err, "unable to compress block")
			}
			encoded = compressed
		}

		key := string(entry.Hash)
		isDuplicate := spec.Deduplicated && seen[key]
		seen[key] = true
		if isDuplicate {
			// Already in payload_data under an earlier block;
			// keep it out of both the data stream and the size
			// index, which only covers blocks actually emitted.
			continue
		}
		dataBuf.Write(encoded)
		if needSizes {
			sizes = append(sizes, uint32(len(encoded)))
		}
	}

	blockIndexRaw := index.IntoHashesVec()
	var blockSizesRaw []byte
	if needSizes {
		blockSizesRaw = encodeBlockSizes(sizes)
	}

	if spec.Compression != nil {
		compressedIndex, err := compressXZ(blockIndexRaw)
		if err != nil {
			return BlockEncoding{}, rugerr.Wrap(err, "unable to compress block index")
		}
		blockIndexRaw = compressedIndex
		if blockSizesRaw != nil {
			compressedSizes, err := compressXZ(blockSizesRaw)
			if err != nil {
				return BlockEncoding{}, rugerr.Wrap(err, "unable to compress block sizes")
			}
			blockSizesRaw = compressedSizes
		}
	}

	return BlockEncoding{
		Chunker:       spec.Chunker,
		HashAlgorithm: spec.HashAlgorithm,
		Deduplicated:  spec.Deduplicated,
		Compression:   spec.Compression,
		BlockIndex:    blockIndexRaw,
		BlockSizes:    blockSizesRaw,
	}, nil
}
