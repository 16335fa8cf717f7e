// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bundle

import (
	"github.com/bits-and-blooms/bitset"

	"rugix.dev/ctrl-ng/lib/blocking"
	"rugix.dev/ctrl-ng/lib/byteunit"
	"rugix.dev/ctrl-ng/lib/chunker"
	"rugix.dev/ctrl-ng/lib/rugerr"
	"rugix.dev/ctrl-ng/lib/rugixhash"
)

// BlockID identifies a block within a single BlockIndex by its
// zero-based position, grounded on
// original_source's block_encoding/block_index.rs BlockId.
type BlockID struct{ raw int }

// BlockIndexEntry is one block's hash, offset and size.
type BlockIndexEntry struct {
	Hash   []byte
	Offset byteunit.NumBytes
	Size   byteunit.NumBytes
}

// RawBlockIndex is a read-only view over a concatenated-hashes blob
// (as stored in BlockEncoding.BlockIndex), without the offset/size
// bookkeeping a full BlockIndex carries. Used by the reader, which
// only ever needs to compare hashes.
type RawBlockIndex struct {
	hashes        []byte
	hashAlgorithm rugixhash.Algorithm
}

func NewRawBlockIndex(hashes []byte, hashAlgorithm rugixhash.Algorithm) RawBlockIndex {
	return RawBlockIndex{hashes: hashes, hashAlgorithm: hashAlgorithm}
}

func (r RawBlockIndex) BlockHash(block BlockID) []byte {
	size := r.hashAlgorithm.Size()
	return r.hashes[block.raw*size : (block.raw+1)*size]
}

func (r RawBlockIndex) NumBlocks() int {
	return len(r.hashes) / r.hashAlgorithm.Size()
}

// BlockIndexConfig names the chunker and hash algorithm a BlockIndex
// was built with.
type BlockIndexConfig struct {
	HashAlgorithm rugixhash.Algorithm
	Chunker       chunker.Algorithm
}

// BlockIndex is a complete, built block index: parallel hash/offset/size
// arrays in payload order.
type BlockIndex struct {
	config  BlockIndexConfig
	hashes  []byte
	offsets []byteunit.NumBytes
	sizes   []byteunit.NumBytes
}

func newBlockIndex(config BlockIndexConfig) *BlockIndex {
	return &BlockIndex{config: config}
}

func (idx *BlockIndex) Config() BlockIndexConfig { return idx.config }

// IntoHashesVec returns the raw concatenated hash bytes, the form
// stored as BlockEncoding.BlockIndex.
func (idx *BlockIndex) IntoHashesVec() []byte { return idx.hashes }

func (idx *BlockIndex) BlockHash(block BlockID) []byte {
	size := idx.config.HashAlgorithm.Size()
	return idx.hashes[block.raw*size : (block.raw+1)*size]
}

func (idx *BlockIndex) BlockOffset(block BlockID) byteunit.NumBytes { return idx.offsets[block.raw] }
func (idx *BlockIndex) BlockSize(block BlockID) byteunit.NumBytes   { return idx.sizes[block.raw] }

func (idx *BlockIndex) Entry(block BlockID) BlockIndexEntry {
	return BlockIndexEntry{
		Hash:   idx.BlockHash(block),
		Offset: idx.BlockOffset(block),
		Size:   idx.BlockSize(block),
	}
}

func (idx *BlockIndex) Len() int { return len(idx.offsets) }

func (idx *BlockIndex) push(entry BlockIndexEntry) BlockID {
	if len(entry.Hash) != idx.config.HashAlgorithm.Size() {
		panic("bundle: invalid hash size in block index entry")
	}
	id := BlockID{raw: len(idx.offsets)}
	idx.hashes = append(idx.hashes, entry.Hash...)
	idx.offsets = append(idx.offsets, entry.Offset)
	idx.sizes = append(idx.sizes, entry.Size)
	return id
}

// BlockIndexBuilder incrementally chunks and hashes a byte stream,
// producing a BlockIndex, grounded on
// original_source's BlockIndexBuilder.
type BlockIndexBuilder struct {
	hasher             *rugixhash.Hasher
	chunker            chunker.Chunker
	index              *BlockIndex
	pendingBlockOffset byteunit.NumBytes
	pendingBlockSize   byteunit.NumBytes
}

// NewBlockIndexBuilder constructs a builder for the given
// configuration.
func NewBlockIndexBuilder(config BlockIndexConfig) (*BlockIndexBuilder, error) {
	c, err := config.Chunker.Chunker()
	if err != nil {
		return nil, rugerr.Wrap(err, "unable to create chunker")
	}
	return &BlockIndexBuilder{
		hasher:  rugixhash.NewHasher(config.HashAlgorithm),
		chunker: c,
		index:   newBlockIndex(config),
	}, nil
}

// Process feeds input through the chunker, finalizing each completed
// block as its boundary is found. It never aborts partway (Background
// never reports Aborted); use ProcessCtx directly under a Task to
// honor cooperative cancellation (spec §5) on large inputs.
func (b *BlockIndexBuilder) Process(input []byte) {
	_ = b.ProcessCtx(blocking.Background(), input)
}

// ProcessCtx is Process with a blocking.Ctx checkpointed at least once
// per ~32KiB of scanned input (spec §5), for use under a
// blocking.Task where the chunk/hash loop may run long enough to need
// cancellation.
func (b *BlockIndexBuilder) ProcessCtx(ctx blocking.Ctx, input []byte) error {
	var counter int
	for len(input) > 0 {
		offset, ok := b.chunker.Scan(input)
		if !ok {
			offset = len(input)
		}
		chunk := input[:offset]
		b.hasher.Update(chunk)
		b.pendingBlockSize += byteunit.NumBytes(len(chunk))
		if ok {
			b.finalizeBlock()
		}
		input = input[offset:]
		if err := ctx.Checkpoint(&counter, offset); err != nil {
			return err
		}
	}
	return nil
}

// Finalize flushes any pending partial block and returns the
// completed index.
func (b *BlockIndexBuilder) Finalize() *BlockIndex {
	if b.pendingBlockSize > 0 {
		b.finalizeBlock()
	}
	return b.index
}

func (b *BlockIndexBuilder) finalizeBlock() {
	hash := b.hasher.Finalize()
	b.hasher = rugixhash.NewHasher(b.index.config.HashAlgorithm)
	b.index.push(BlockIndexEntry{
		Hash:   hash.Raw(),
		Offset: b.pendingBlockOffset,
		Size:   b.pendingBlockSize,
	})
	b.pendingBlockOffset += b.pendingBlockSize
	b.pendingBlockSize = 0
}

// firstOccurrenceTable tracks, during dedup-aware encode/decode, which
// block ids have already been seen for a given hash, using a bitset
// sized to the block count instead of a map — the index's one
// allocation is fixed up front rather than growing with every insert.
type firstOccurrenceTable struct {
	seen    *bitset.BitSet
	firstOf map[string]BlockID
}

func newFirstOccurrenceTable(numBlocks int) *firstOccurrenceTable {
	return &firstOccurrenceTable{
		seen:    bitset.New(uint(numBlocks)),
		firstOf: make(map[string]BlockID, numBlocks),
	}
}

// InsertRaw records block as seen if its hash hasn't been seen before,
// returning true when this is the first occurrence of that hash.
func (t *firstOccurrenceTable) InsertRaw(hash []byte, block BlockID) bool {
	key := string(hash)
	if _, ok := t.firstOf[key]; ok {
		return false
	}
	t.firstOf[key] = block
	t.seen.Set(uint(block.raw))
	return true
}

// GetRaw returns the first block id seen for hash.
func (t *firstOccurrenceTable) GetRaw(hash []byte) (BlockID, bool) {
	id, ok := t.firstOf[string(hash)]
	return id, ok
}
