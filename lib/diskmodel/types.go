// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package diskmodel implements the MBR/GPT partition table model and
// the monotone repartitioner (spec §4.5), grounded on
// original_source/crates/rugpi-common/src/disk/{mod.rs,repart.rs}.
package diskmodel

import (
	"fmt"

	"github.com/google/uuid"

	"rugix.dev/ctrl-ng/lib/byteunit"
)

// defaultBlockSize is the disk sector size assumed when a
// PartitionTable is created fresh, matching the original's
// DEFAULT_BLOCK_SIZE.
const defaultBlockSize = 512

// gptTableBlocks is the number of blocks reserved at the start (and
// mirrored at the end) of a GPT disk for the protective MBR, the GPT
// header, and the partition entry array, matching the original's
// gpt::GPT_TABLE_BLOCKS.
const gptTableBlocks byteunit.NumBlocks = 34

// PartitionTableType identifies the on-disk partitioning scheme.
type PartitionTableType int

const (
	TableTypeMBR PartitionTableType = iota
	TableTypeGPT
)

func (t PartitionTableType) String() string {
	switch t {
	case TableTypeGPT:
		return "gpt"
	case TableTypeMBR:
		return "mbr"
	default:
		return "unknown"
	}
}

// DiskId is a disk's unique identifier, tagged by the partition table
// type it belongs to (an MBR signature or a GPT disk GUID).
type DiskId struct {
	isGPT bool
	mbrId uint32
	gptId uuid.UUID
}

// MbrDiskId constructs a DiskId for an MBR-partitioned disk.
func MbrDiskId(id uint32) DiskId { return DiskId{mbrId: id} }

// GptDiskId constructs a DiskId for a GPT-partitioned disk.
func GptDiskId(id uuid.UUID) DiskId { return DiskId{isGPT: true, gptId: id} }

func (d DiskId) IsGPT() bool { return d.isGPT }

func (d DiskId) Type() PartitionTableType {
	if d.isGPT {
		return TableTypeGPT
	}
	return TableTypeMBR
}

func (d DiskId) MbrId() uint32   { return d.mbrId }
func (d DiskId) GptId() uuid.UUID { return d.gptId }

func (d DiskId) Equal(o DiskId) bool {
	if d.isGPT != o.isGPT {
		return false
	}
	if d.isGPT {
		return d.gptId == o.gptId
	}
	return d.mbrId == o.mbrId
}

func (d DiskId) String() string {
	if d.isGPT {
		return d.gptId.String()
	}
	return fmt.Sprintf("%08x", d.mbrId)
}

// PartitionType is a partition's type, tagged by the table type it
// belongs to: a one-byte MBR system ID, or a GPT type GUID.
type PartitionType struct {
	isGPT bool
	mbrTy uint8
	gptTy uuid.UUID
}

// MbrType constructs a one-byte MBR partition type.
func MbrType(id uint8) PartitionType { return PartitionType{mbrTy: id} }

// GptType constructs a GPT partition type GUID.
func GptType(id uuid.UUID) PartitionType { return PartitionType{isGPT: true, gptTy: id} }

func (t PartitionType) IsGPT() bool { return t.isGPT }

// IsFree reports whether this is the "unused entry" type for its
// table kind (MBR 0x00, or the all-zero GPT GUID).
func (t PartitionType) IsFree() bool {
	if t.isGPT {
		return t.gptTy == uuid.Nil
	}
	return t.mbrTy == 0x00
}

// IsExtended reports whether this is an MBR extended-partition type
// (0x05 or 0x0F). GPT has no analogous concept.
func (t PartitionType) IsExtended() bool {
	if t.isGPT {
		return false
	}
	return t.mbrTy == 0x05 || t.mbrTy == 0x0F
}

func (t PartitionType) Equal(o PartitionType) bool {
	if t.isGPT != o.isGPT {
		return false
	}
	if t.isGPT {
		return t.gptTy == o.gptTy
	}
	return t.mbrTy == o.mbrTy
}

func (t PartitionType) String() string {
	if t.isGPT {
		return t.gptTy.String()
	}
	return fmt.Sprintf("%02x", t.mbrTy)
}

// Partition is one entry of a PartitionTable.
type Partition struct {
	Number uint8
	Start  byteunit.NumBlocks
	Size   byteunit.NumBlocks
	Type   PartitionType
	Name   *string
	GptId  *uuid.UUID
}

// End is the block one past the partition's last block.
func (p Partition) End() byteunit.NumBlocks {
	end, _ := p.Start.Add(p.Size)
	return end
}

// PartitionTable is a disk's full partition layout.
type PartitionTable struct {
	DiskId     DiskId
	DiskSize   byteunit.NumBlocks
	BlockSize  byteunit.NumBytes
	Partitions []Partition
}

// NewPartitionTable creates an empty table of the given ID and size,
// with the default 512-byte block size.
func NewPartitionTable(id DiskId, size byteunit.NumBlocks) *PartitionTable {
	return &PartitionTable{
		DiskId:    id,
		DiskSize:  size,
		BlockSize: byteunit.Bytes(defaultBlockSize),
	}
}

// Size is the size of the disk in bytes.
func (t *PartitionTable) Size() byteunit.NumBytes {
	size, _ := t.DiskSize.ToBytes(t.BlockSize)
	return size
}

// Type is the partition table's type, derived from its DiskId.
func (t *PartitionTable) Type() PartitionTableType { return t.DiskId.Type() }

func (t *PartitionTable) IsGPT() bool { return t.DiskId.IsGPT() }
func (t *PartitionTable) IsMBR() bool { return !t.DiskId.IsGPT() }

// BlocksToBytes converts a block count to bytes using this table's
// block size.
func (t *PartitionTable) BlocksToBytes(blocks byteunit.NumBlocks) byteunit.NumBytes {
	v, _ := blocks.ToBytes(t.BlockSize)
	return v
}

// BytesToBlocks converts a byte count to the ceiling number of blocks
// using this table's block size.
func (t *PartitionTable) BytesToBlocks(b byteunit.NumBytes) byteunit.NumBlocks {
	return b.ToBlocksCeil(t.BlockSize)
}

// FirstUsableBlock is the first block available for partitions,
// leaving room for the GPT header/array (or, for an MBR table, simply
// mirroring the original's unconditional use of the same constant).
func (t *PartitionTable) FirstUsableBlock() byteunit.NumBlocks {
	v, _ := gptTableBlocks.Add(byteunit.OneBlock)
	return v
}

// LastUsableBlock is the last block available for partitions, leaving
// room for a mirrored GPT header/array at the end of the disk.
func (t *PartitionTable) LastUsableBlock() byteunit.NumBlocks {
	v, err := t.DiskSize.Sub(gptTableBlocks)
	if err != nil {
		return 0
	}
	v, err = v.Sub(byteunit.OneBlock)
	if err != nil {
		return 0
	}
	return v
}
