// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package byteunit

// NumBlocks is a checked-arithmetic count of fixed-size blocks (disk
// sectors), grounded on original_source's rugpi-common NumBlocksUnit.
type NumBlocks uint64

// OneBlock is the NumBlocks equivalent of the original's NumBlocks::ONE.
const OneBlock NumBlocks = 1

func (n NumBlocks) Raw() uint64 { return uint64(n) }

func (n NumBlocks) Add(m NumBlocks) (NumBlocks, error) {
	v, err := checkedAdd(uint64(n), uint64(m))
	return NumBlocks(v), err
}

func (n NumBlocks) Sub(m NumBlocks) (NumBlocks, error) {
	v, err := checkedSub(uint64(n), uint64(m))
	return NumBlocks(v), err
}

func (n NumBlocks) MulScalar(k uint64) (NumBlocks, error) {
	v, err := checkedMul(uint64(n), k)
	return NumBlocks(v), err
}

// ToBytes converts to bytes given a blockSize, checked for overflow.
func (n NumBlocks) ToBytes(blockSize NumBytes) (NumBytes, error) {
	v, err := checkedMul(uint64(n), uint64(blockSize))
	return NumBytes(v), err
}

func (n NumBlocks) Cmp(m NumBlocks) int {
	switch {
	case n < m:
		return -1
	case n > m:
		return 1
	default:
		return 0
	}
}

// FloorAlignTo rounds n down to the nearest multiple of align.
func (n NumBlocks) FloorAlignTo(align NumBlocks) NumBlocks {
	if align == 0 {
		return n
	}
	return NumBlocks(uint64(align) * (uint64(n) / uint64(align)))
}

// CeilAlignTo rounds n up to the nearest multiple of align.
func (n NumBlocks) CeilAlignTo(align NumBlocks) NumBlocks {
	if align == 0 {
		return n
	}
	return NumBlocks(uint64(align) * divCeil(uint64(n), uint64(align)))
}
