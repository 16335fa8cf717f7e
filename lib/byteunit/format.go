// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package byteunit

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

func pow10(e uint32) uint64 {
	v := uint64(1)
	for i := uint32(0); i < e; i++ {
		v *= 10
	}
	return v
}

// DisplayUnit picks the largest unit whose value is <= n, falling back
// to UnitByte, matching the original's `display_unit`.
func (n NumBytes) DisplayUnit() ByteUnit {
	for i := len(Units) - 1; i > 0; i-- {
		if uint64(Units[i].NumBytes()) <= uint64(n) {
			return Units[i]
		}
	}
	return UnitByte
}

// SplitFractional splits n into a whole count of u and a remainder,
// both expressed in bytes.
func (n NumBytes) SplitFractional(u ByteUnit) (whole, fractional uint64) {
	ub := uint64(u.NumBytes())
	return uint64(n) / ub, uint64(n) % ub
}

// String renders n using the largest fitting unit, with only as many
// fractional digits as are significant (e.g. "2.5KiB", not
// "2.5000KiB").
func (n NumBytes) String() string {
	return n.format(nil)
}

// FormatPrecision renders n using the largest fitting unit with
// exactly `precision` fractional digits (capped at the unit's
// significant digit count), zero-padded.
func (n NumBytes) FormatPrecision(precision int) string {
	return n.format(&precision)
}

// FormatAlternate renders the raw 64-bit counter, with no unit
// suffix, mirroring the original's `{:#}` alternate form.
func (n NumBytes) FormatAlternate() string {
	return strconv.FormatUint(uint64(n), 10)
}

func (n NumBytes) format(precision *int) string {
	unit := n.DisplayUnit()
	whole, fractional := n.SplitFractional(unit)

	maxDigits := unit.base10FractionalDigits()
	prec := maxDigits
	if precision != nil && uint32(*precision) < maxDigits {
		prec = uint32(*precision)
	}
	fractionalBase := pow10(prec)

	fv := new(big.Int).SetUint64(fractional)
	fv.Mul(fv, new(big.Int).SetUint64(fractionalBase))
	fv.Div(fv, new(big.Int).SetUint64(uint64(unit.NumBytes())))
	fractionalValue := fv.Uint64()

	var sb strings.Builder
	sb.WriteString(strconv.FormatUint(whole, 10))
	switch {
	case precision != nil:
		sb.WriteByte('.')
		sb.WriteString(fmt.Sprintf("%0*d", prec, fractionalValue))
	case fractionalValue != 0:
		sb.WriteByte('.')
		base := fractionalBase
		for base > 0 && fractionalValue != 0 {
			base /= 10
			digit := fractionalValue / base
			sb.WriteString(strconv.FormatUint(digit, 10))
			fractionalValue %= base
		}
	}
	sb.WriteString(unit.String())
	return sb.String()
}
