// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package byteunit

// NumBytes is a checked-arithmetic count of bytes.
type NumBytes uint64

const (
	ZeroBytes NumBytes = 0
)

func Bytes(n uint64) NumBytes     { return NumBytes(n) }
func Kilobytes(n uint64) NumBytes { return NumBytes(n) * NumBytes(UnitKilobyte.NumBytes()) }
func Kibibytes(n uint64) NumBytes { return NumBytes(n) * NumBytes(UnitKibibyte.NumBytes()) }
func Megabytes(n uint64) NumBytes { return NumBytes(n) * NumBytes(UnitMegabyte.NumBytes()) }
func Mebibytes(n uint64) NumBytes { return NumBytes(n) * NumBytes(UnitMebibyte.NumBytes()) }
func Gigabytes(n uint64) NumBytes { return NumBytes(n) * NumBytes(UnitGigabyte.NumBytes()) }
func Gibibytes(n uint64) NumBytes { return NumBytes(n) * NumBytes(UnitGibibyte.NumBytes()) }
func Terabytes(n uint64) NumBytes { return NumBytes(n) * NumBytes(UnitTerabyte.NumBytes()) }
func Tebibytes(n uint64) NumBytes { return NumBytes(n) * NumBytes(UnitTebibyte.NumBytes()) }
func Petabytes(n uint64) NumBytes { return NumBytes(n) * NumBytes(UnitPetabyte.NumBytes()) }
func Pebibytes(n uint64) NumBytes { return NumBytes(n) * NumBytes(UnitPebibyte.NumBytes()) }
func Exabytes(n uint64) NumBytes  { return NumBytes(n) * NumBytes(UnitExabyte.NumBytes()) }
func Exbibytes(n uint64) NumBytes { return NumBytes(n) * NumBytes(UnitExbibyte.NumBytes()) }

func (n NumBytes) Raw() uint64 { return uint64(n) }

func (n NumBytes) Add(m NumBytes) (NumBytes, error) {
	v, err := checkedAdd(uint64(n), uint64(m))
	return NumBytes(v), err
}

func (n NumBytes) Sub(m NumBytes) (NumBytes, error) {
	v, err := checkedSub(uint64(n), uint64(m))
	return NumBytes(v), err
}

func (n NumBytes) MulScalar(k uint64) (NumBytes, error) {
	v, err := checkedMul(uint64(n), k)
	return NumBytes(v), err
}

func (n NumBytes) DivScalar(k uint64) (NumBytes, error) {
	v, err := checkedDiv(uint64(n), k)
	return NumBytes(v), err
}

// ToBits converts to bits, checked for overflow (×8).
func (n NumBytes) ToBits() (NumBits, error) {
	v, err := checkedMul(uint64(n), 8)
	return NumBits(v), err
}

// ToBlocksFloor rounds the number of whole blocks down given blockSize.
func (n NumBytes) ToBlocksFloor(blockSize NumBytes) NumBlocks {
	if blockSize == 0 {
		return 0
	}
	return NumBlocks(uint64(n) / uint64(blockSize))
}

// ToBlocksCeil rounds the number of whole blocks up given blockSize.
func (n NumBytes) ToBlocksCeil(blockSize NumBytes) NumBlocks {
	if blockSize == 0 {
		return 0
	}
	return NumBlocks(divCeil(uint64(n), uint64(blockSize)))
}

func (n NumBytes) Cmp(m NumBytes) int {
	switch {
	case n < m:
		return -1
	case n > m:
		return 1
	default:
		return 0
	}
}

func (n NumBytes) Min(m NumBytes) NumBytes {
	if n < m {
		return n
	}
	return m
}

func (n NumBytes) Max(m NumBytes) NumBytes {
	if n > m {
		return n
	}
	return m
}

// ByteLen is satisfied by anything with a meaningful byte length,
// mirroring the original's `ByteLen` trait (e.g. implemented by `[]byte`
// via the free function BytesLen below, and by NumBytes itself).
type ByteLen interface {
	ByteLen() NumBytes
}

func (n NumBytes) ByteLen() NumBytes { return n }

// BytesLen is the ByteLen implementation for a raw byte slice.
func BytesLen(b []byte) NumBytes { return NumBytes(len(b)) }
