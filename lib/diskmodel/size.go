// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskmodel

import (
	"rugix.dev/ctrl-ng/lib/byteunit"
	"rugix.dev/ctrl-ng/lib/rugerr"
)

// ParseSize converts a disk-schema size string to bytes, matching the
// original's const-fn parse_size byte-for-byte: a decimal integer,
// digits may be separated with '_', followed by an optional space and
// an optional single K/M/G/T suffix (powers of 1024). An empty string
// is zero. This is deliberately distinct from lib/byteunit's own
// SI/IEC-aware ParseNumBytes: disk schema sizes in original_source use
// this narrower, suffix-only grammar.
func ParseSize(s string) (byteunit.NumBytes, error) {
	if len(s) == 0 {
		return 0, nil
	}
	raw := []byte(s)
	last := len(raw) - 1

	var factor uint64 = 1
	switch raw[last] {
	case 'K':
		factor = 1 << 10
	case 'M':
		factor = 1 << 20
	case 'G':
		factor = 1 << 30
	case 'T':
		factor = 1 << 40
	}
	if factor != 1 {
		last--
	}
	for last > 0 && raw[last] == ' ' {
		last--
	}

	var value uint64
	for pos := 0; pos <= last; pos++ {
		if raw[pos] == '_' {
			continue
		}
		if raw[pos] < '0' || raw[pos] > '9' {
			return 0, rugerr.Newf(rugerr.KindParseFormat, "invalid character at position %d in size %q", pos, s)
		}
		value = value*10 + uint64(raw[pos]-'0')
	}
	return byteunit.Bytes(value * factor), nil
}
