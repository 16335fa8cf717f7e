// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package stlv

import (
	"io"

	"rugix.dev/ctrl-ng/lib/rugerr"
)

// maxVarint is the largest integer a varint may encode: the encoding
// is restricted to 63 bits so that lengths always fit into a signed
// 64-bit integer in any consumer.
const maxVarint = uint64(1)<<63 - 1

// varintSize computes how many base-128 digits are needed to encode v.
func varintSize(v uint64) int {
	bits := 0
	for t := v; t != 0; t >>= 1 {
		bits++
	}
	if bits == 0 {
		return 1
	}
	return (bits + 6) / 7
}

// writeVarint writes v as a base-128 varint: each byte carries 7 bits
// of the value, most-significant digit first, with the high bit of
// every byte but the last set to indicate continuation. v must fit
// into 63 bits.
func writeVarint(w io.Writer, v uint64) error {
	if v > maxVarint {
		return rugerr.New(rugerr.KindParseOverflow, "varint does not fit into 63 bits")
	}
	n := varintSize(v)
	shift := uint((n - 1) * 7)
	for {
		digit := byte((v >> shift) & 0x7f)
		if shift > 0 {
			shift -= 7
			if _, err := w.Write([]byte{digit | 0x80}); err != nil {
				return err
			}
			continue
		}
		_, err := w.Write([]byte{digit})
		return err
	}
}

// readVarint reads a base-128 varint, rejecting encodings that don't
// fit into 63 bits and digits whose leading byte is a redundant zero
// continuation (malformed_stream per the bundle format's invariants).
func readVarint(r io.Reader) (uint64, error) {
	var buf [1]byte
	var integer uint64
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, rugerr.Wrap(err, "truncated varint")
		}
		b := buf[0]
		shifted := integer << 7
		if integer != 0 && shifted>>7 != integer {
			return 0, rugerr.New(rugerr.KindParseOverflow, "varint exceeds 64 bits")
		}
		integer = shifted | uint64(b&0x7f)
		if b&0x80 == 0 {
			if integer > maxVarint {
				return 0, rugerr.New(rugerr.KindParseOverflow, "varint exceeds 63 bits")
			}
			return integer, nil
		}
		if integer == 0 {
			return 0, rugerr.New(rugerr.KindParseFormat, "invalid zero digit in varint")
		}
	}
}
