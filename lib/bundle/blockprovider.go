// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bundle

import (
	"encoding/binary"
	"os"

	lru "github.com/hashicorp/golang-lru"
	bolt "go.etcd.io/bbolt"

	"rugix.dev/ctrl-ng/lib/blocking"
	"rugix.dev/ctrl-ng/lib/byteunit"
	"rugix.dev/ctrl-ng/lib/chunker"
	"rugix.dev/ctrl-ng/lib/diskio"
	"rugix.dev/ctrl-ng/lib/rugerr"
	"rugix.dev/ctrl-ng/lib/rugixhash"
)

// BlockLocation is where a deduplicated block can be re-read from on
// an existing device, per the BlockProvider contract (spec §4.4).
type BlockLocation struct {
	Path   string
	Offset byteunit.NumBytes
	Size   byteunit.NumBytes
}

// BlockProviderConfig pins the chunker and hash algorithm a
// BlockProvider indexes slots with; re-chunking a slot with any other
// configuration would not produce comparable hashes.
type BlockProviderConfig struct {
	Chunker       chunker.Algorithm
	HashAlgorithm rugixhash.Algorithm
}

// BlockProvider maps content hashes to a byte range on a registered
// slot device, letting the bundle reader reuse on-device data instead
// of rewriting blocks the target already has. It is backed by an
// in-memory cache in front of an optional bbolt bucket so the index
// survives process restarts (spec §6's "or persisted index").
type BlockProvider struct {
	config BlockProviderConfig
	db     *bolt.DB
	bucket []byte
	cache  *lru.Cache
	mem    map[string]BlockLocation
}

const blockProviderCacheSize = 4096

// NewBlockProvider constructs a purely in-memory provider, rebuilt
// from scratch on every process start.
func NewBlockProvider(config BlockProviderConfig) *BlockProvider {
	cache, _ := lru.New(blockProviderCacheSize)
	return &BlockProvider{config: config, cache: cache, mem: make(map[string]BlockLocation)}
}

// NewPersistedBlockProvider constructs a provider backed by a bbolt
// bucket, so block locations survive across `slots create-index`
// invocations and installer runs.
func NewPersistedBlockProvider(config BlockProviderConfig, db *bolt.DB, bucket string) (*BlockProvider, error) {
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	}); err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to create block index bucket")
	}
	cache, _ := lru.New(blockProviderCacheSize)
	return &BlockProvider{config: config, db: db, bucket: []byte(bucket), cache: cache}, nil
}

// AddSlot chunks and hashes the device at path once, registering every
// block's location for future Lookup calls. Re-adding the same slot
// overwrites its previous entries.
func (p *BlockProvider) AddSlot(name, path string) error {
	return p.AddSlotCtx(blocking.Background(), name, path)
}

// AddSlotCtx is AddSlot with a blocking.Ctx checkpointed at least once
// per ~32KiB read from the slot device (spec §5), for use when
// indexing a full system/data slot under a blocking.Task.
func (p *BlockProvider) AddSlotCtx(ctx blocking.Ctx, name, path string) error {
	fh, err := os.Open(path)
	if err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to open slot device")
	}
	device := diskio.NewStatefulFile[int64](&diskio.OSFile[int64]{File: fh})
	defer func() { _ = device.Close() }()

	c, err := p.config.Chunker.Chunker()
	if err != nil {
		return rugerr.Wrap(err, "unable to create chunker for slot")
	}

	var offset byteunit.NumBytes
	var counter int
	var scanned int
	buf := make([]byte, 0, 1<<20)
	chunkBuf := make([]byte, 1<<16)
	return p.batchUpdate(func(record func(hash []byte, loc BlockLocation)) error {
		for {
			n, readErr := device.Read(chunkBuf)
			if n > 0 {
				buf = append(buf, chunkBuf[:n]...)
			}
			if err := ctx.Checkpoint(&counter, n); err != nil {
				return err
			}
			for {
				off, ok := c.Scan(buf[scanned:])
				if !ok {
					scanned = len(buf)
					break
				}
				end := scanned + off
				block := buf[:end]
				hash := p.config.HashAlgorithm.Hash(block)
				record(hash.Raw(), BlockLocation{Path: path, Offset: offset, Size: byteunit.NumBytes(len(block))})
				offset += byteunit.NumBytes(len(block))
				buf = buf[end:]
				scanned = 0
			}
			if readErr != nil {
				if len(buf) > 0 {
					hash := p.config.HashAlgorithm.Hash(buf)
					record(hash.Raw(), BlockLocation{Path: path, Offset: offset, Size: byteunit.NumBytes(len(buf))})
				}
				return nil
			}
		}
	})
}

// batchUpdate runs fn, which calls record for every discovered block,
// against either the in-memory map or a single bbolt transaction.
func (p *BlockProvider) batchUpdate(fn func(record func(hash []byte, loc BlockLocation)) error) error {
	if p.db == nil {
		return fn(func(hash []byte, loc BlockLocation) {
			key := string(hash)
			p.mem[key] = loc
			p.cache.Add(key, loc)
		})
	}
	return p.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(p.bucket)
		return fn(func(hash []byte, loc BlockLocation) {
			key := string(hash)
			_ = b.Put(hash, encodeBlockLocation(loc))
			p.cache.Add(key, loc)
		})
	})
}

// Lookup returns the registered location of a block with the given
// hash, if any.
func (p *BlockProvider) Lookup(hash []byte) (BlockLocation, bool) {
	key := string(hash)
	if v, ok := p.cache.Get(key); ok {
		return v.(BlockLocation), true
	}
	if p.db == nil {
		loc, ok := p.mem[key]
		return loc, ok
	}
	var loc BlockLocation
	var found bool
	_ = p.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(p.bucket).Get(hash)
		if raw == nil {
			return nil
		}
		loc, found = decodeBlockLocation(raw)
		return nil
	})
	if found {
		p.cache.Add(key, loc)
	}
	return loc, found
}

func encodeBlockLocation(loc BlockLocation) []byte {
	path := []byte(loc.Path)
	out := make([]byte, 2+len(path)+8+8)
	binary.BigEndian.PutUint16(out[0:2], uint16(len(path)))
	copy(out[2:2+len(path)], path)
	binary.BigEndian.PutUint64(out[2+len(path):2+len(path)+8], loc.Offset.Raw())
	binary.BigEndian.PutUint64(out[2+len(path)+8:], loc.Size.Raw())
	return out
}

func decodeBlockLocation(raw []byte) (BlockLocation, bool) {
	if len(raw) < 2 {
		return BlockLocation{}, false
	}
	pathLen := int(binary.BigEndian.Uint16(raw[0:2]))
	if len(raw) < 2+pathLen+16 {
		return BlockLocation{}, false
	}
	path := string(raw[2 : 2+pathLen])
	offset := binary.BigEndian.Uint64(raw[2+pathLen : 2+pathLen+8])
	size := binary.BigEndian.Uint64(raw[2+pathLen+8:])
	return BlockLocation{Path: path, Offset: byteunit.NumBytes(offset), Size: byteunit.NumBytes(size)}, true
}
