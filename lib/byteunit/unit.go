// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package byteunit

import "strings"

// ByteUnit is a byte unit such as Megabyte (MB) or Kibibyte (KiB),
// grounded on original_source/crates/byte-calc's `define_units!`
// macro. Units are ordered from smallest to largest, interleaving SI
// (base 10) and IEC (base 2) steps the way the original does.
type ByteUnit int

const (
	UnitByte ByteUnit = iota
	UnitKilobyte
	UnitKibibyte
	UnitMegabyte
	UnitMebibyte
	UnitGigabyte
	UnitGibibyte
	UnitTerabyte
	UnitTebibyte
	UnitPetabyte
	UnitPebibyte
	UnitExabyte
	UnitExbibyte
)

// Units lists every unit from smallest to largest.
var Units = []ByteUnit{
	UnitByte,
	UnitKilobyte, UnitKibibyte,
	UnitMegabyte, UnitMebibyte,
	UnitGigabyte, UnitGibibyte,
	UnitTerabyte, UnitTebibyte,
	UnitPetabyte, UnitPebibyte,
	UnitExabyte, UnitExbibyte,
}

type unitInfo struct {
	suffix string
	bytes  uint64
}

var unitTable = map[ByteUnit]unitInfo{
	UnitByte:     {"B", 1},
	UnitKilobyte: {"kB", 1_000},
	UnitKibibyte: {"KiB", 1 << 10},
	UnitMegabyte: {"MB", 1_000_000},
	UnitMebibyte: {"MiB", 1 << 20},
	UnitGigabyte: {"GB", 1_000_000_000},
	UnitGibibyte: {"GiB", 1 << 30},
	UnitTerabyte: {"TB", 1_000_000_000_000},
	UnitTebibyte: {"TiB", 1 << 40},
	UnitPetabyte: {"PB", 1_000_000_000_000_000},
	UnitPebibyte: {"PiB", 1 << 50},
	UnitExabyte:  {"EB", 1_000_000_000_000_000_000},
	UnitExbibyte: {"EiB", 1 << 60},
}

// singleLetterUnits maps the bare `K`..`E` letters to their binary
// (IEC) counterpart, per the grammar in spec.md §3/§4.1.
var singleLetterUnits = map[byte]ByteUnit{
	'b': UnitByte,
	'k': UnitKibibyte,
	'm': UnitMebibyte,
	'g': UnitGibibyte,
	't': UnitTebibyte,
	'p': UnitPebibyte,
	'e': UnitExbibyte,
}

// NumBytes returns the number of bytes one unit of u corresponds to.
func (u ByteUnit) NumBytes() NumBytes { return NumBytes(unitTable[u].bytes) }

// String returns the unit's canonical suffix, e.g. "KiB".
func (u ByteUnit) String() string { return unitTable[u].suffix }

// base10FractionalDigits is the maximal number of base-10 digits of
// the unit's fractional part that are significant; everything beyond
// represents fractional bytes and is silently truncated on parse, per
// original's `base10_fractional_digits`.
func (u ByteUnit) base10FractionalDigits() uint32 {
	if u == UnitByte {
		return 0
	}
	v := unitTable[u].bytes*10 - 1
	var digits uint32
	for v > 0 {
		digits++
		v /= 10
	}
	return digits - 1
}

func (u ByteUnit) base10FractionalDivisor() uint64 {
	d := u.base10FractionalDigits()
	div := uint64(1)
	for i := uint32(0); i < d; i++ {
		div *= 10
	}
	return div
}

// parseByteUnit parses a 1-3 ASCII character unit suffix, case
// insensitively, as spec.md §3/§4.1 mandates: bare `K`..`E` letters
// are binary (IEC) units.
func parseByteUnit(s string) (ByteUnit, bool) {
	if len(s) == 0 || len(s) > 3 {
		return 0, false
	}
	lower := strings.ToLower(s)
	if len(lower) == 1 {
		if u, ok := singleLetterUnits[lower[0]]; ok {
			return u, true
		}
		return 0, false
	}
	for _, u := range Units {
		if strings.ToLower(unitTable[u].suffix) == lower {
			return u, true
		}
	}
	return 0, false
}
