// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package stlv implements the Structured Tag-Length-Value encoding
// used by bundle streams, grounded on
// original_source/crates/libs/rugix-bundle/src/format/stlv.rs.
//
// An STLV stream is a sequence of atoms. Each atom has a 4-byte tag,
// an indicator byte, and optionally a length and a value:
//
//	<atom> ::= <tag> <indicator> [<length>] [<value>]
//
// The tag's interpretation is entirely application-defined. A value
// atom carries raw bytes; a pair of segment-start/segment-end atoms
// with matching tags brackets a nested sequence of atoms, so a
// complete stream describes a tree whose leaves are values.
package stlv

import "fmt"

// TagSize is the fixed byte width of a Tag.
const TagSize = 4

// Tag is an opaque, application-defined 4-byte atom label.
type Tag [TagSize]byte

// TagFromUint32 builds a Tag from its big-endian uint32 representation.
func TagFromUint32(v uint32) Tag {
	return Tag{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// Uint32 returns the tag's big-endian uint32 representation.
func (t Tag) Uint32() uint32 {
	return uint32(t[0])<<24 | uint32(t[1])<<16 | uint32(t[2])<<8 | uint32(t[3])
}

func (t Tag) String() string {
	return fmt.Sprintf("%08x", t.Uint32())
}
