// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package byteunit

import (
	"math/big"

	"rugix.dev/ctrl-ng/lib/rugerr"
)

// maxParseValue bounds parsed byte sizes to 63 bits, matching the
// varint budget the STLV codec and the rest of the control plane use
// for byte-size fields.
const maxParseValue = uint64(1)<<63 - 1

// expectInt parses a run of ASCII decimal digits, with `_` accepted
// anywhere as a no-op digit separator. When truncate is true, digits
// that would overflow are consumed but silently dropped rather than
// reported, matching fractional-part parsing (extra precision below
// a unit's significant digits is meaningless, not an error).
func expectInt(buf []byte, truncate bool) (value uint64, digits, consumed int, err error) {
	overflowed := false
	i := 0
	for i < len(buf) {
		c := buf[i]
		if c == '_' {
			i++
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		i++
		if overflowed {
			continue
		}
		d := uint64(c - '0')
		if nv, mulErr := checkedMul(value, 10); mulErr == nil {
			if nv2, addErr := checkedAdd(nv, d); addErr == nil {
				value = nv2
				digits++
				continue
			}
		}
		if !truncate {
			return 0, 0, 0, rugerr.New(rugerr.KindParseOverflow, "byte size integer overflowed")
		}
		overflowed = true
	}
	if digits == 0 {
		return 0, 0, 0, rugerr.New(rugerr.KindParseFormat, "expected a decimal digit")
	}
	return value, digits, i, nil
}

// ParseNumBytes parses a human byte size of the form
// "<int>[.<int>][ws*<unit>]", where `_` may separate digits anywhere
// in the integer parts and the unit suffix is 1-3 ASCII characters
// matched case-insensitively (bare single letters denote binary
// units, e.g. "4g" means 4 GiB). An absent unit means plain bytes.
func ParseNumBytes(s string) (NumBytes, error) {
	buf := []byte(s)

	whole, _, consumed, err := expectInt(buf, false)
	if err != nil {
		return 0, err
	}
	buf = buf[consumed:]

	var fracValue uint64
	var fracDigits int
	hasFrac := false
	if len(buf) > 0 && buf[0] == '.' {
		buf = buf[1:]
		hasFrac = true
		fv, fd, fc, ferr := expectInt(buf, true)
		if ferr != nil {
			return 0, ferr
		}
		fracValue, fracDigits = fv, fd
		buf = buf[fc:]
	}

	for len(buf) > 0 && buf[0] == ' ' {
		buf = buf[1:]
	}

	unit := UnitByte
	if len(buf) > 0 {
		u, ok := parseByteUnit(string(buf))
		if !ok {
			return 0, rugerr.New(rugerr.KindParseFormat, "unrecognized byte unit")
		}
		unit = u
	}

	value, err := checkedMul(whole, uint64(unit.NumBytes()))
	if err != nil {
		return 0, rugerr.New(rugerr.KindParseOverflow, "byte size overflowed")
	}

	if hasFrac && fracValue != 0 && unit != UnitByte {
		fracBase := pow10(uint32(fracDigits))
		num := new(big.Int).SetUint64(fracValue)
		num.Mul(num, new(big.Int).SetUint64(uint64(unit.NumBytes())))
		num.Div(num, new(big.Int).SetUint64(fracBase))
		if !num.IsUint64() {
			return 0, rugerr.New(rugerr.KindParseOverflow, "byte size overflowed")
		}
		value, err = checkedAdd(value, num.Uint64())
		if err != nil {
			return 0, rugerr.New(rugerr.KindParseOverflow, "byte size overflowed")
		}
	}

	if value > maxParseValue {
		return 0, rugerr.New(rugerr.KindParseOverflow, "byte size overflowed")
	}

	return NumBytes(value), nil
}
