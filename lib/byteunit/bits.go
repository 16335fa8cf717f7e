// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package byteunit

// NumBits is a checked-arithmetic count of bits.
type NumBits uint64

func (n NumBits) Raw() uint64 { return uint64(n) }

func (n NumBits) Add(m NumBits) (NumBits, error) {
	v, err := checkedAdd(uint64(n), uint64(m))
	return NumBits(v), err
}

func (n NumBits) Sub(m NumBits) (NumBits, error) {
	v, err := checkedSub(uint64(n), uint64(m))
	return NumBits(v), err
}

func (n NumBits) MulScalar(k uint64) (NumBits, error) {
	v, err := checkedMul(uint64(n), k)
	return NumBits(v), err
}

func (n NumBits) DivScalar(k uint64) (NumBits, error) {
	v, err := checkedDiv(uint64(n), k)
	return NumBits(v), err
}

// ToBytesFloor rounds the number of whole bytes down.
func (n NumBits) ToBytesFloor() NumBytes { return NumBytes(uint64(n) / 8) }

// ToBytesCeil rounds the number of whole bytes up.
func (n NumBits) ToBytesCeil() NumBytes { return NumBytes(divCeil(uint64(n), 8)) }

func (n NumBits) Cmp(m NumBits) int {
	switch {
	case n < m:
		return -1
	case n > m:
		return 1
	default:
		return 0
	}
}
