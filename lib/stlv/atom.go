// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package stlv

import "rugix.dev/ctrl-ng/lib/byteunit"

// isValueMask is the IS_VALUE bit of the indicator byte.
const isValueMask = 1 << 7

// isStartMask is the IS_START bit of the indicator byte.
const isStartMask = 1 << 6

// AtomKind distinguishes the three shapes an AtomHead can take.
type AtomKind uint8

const (
	KindValue AtomKind = iota
	KindStart
	KindEnd
)

// AtomHead is the in-memory representation of an atom's head: its tag
// plus, for a value atom, the value's total length. Segmentation
// atoms carry no length.
type AtomHead struct {
	Kind   AtomKind
	Tag    Tag
	Length byteunit.NumBytes // meaningful only when Kind == KindValue
}

func ValueHead(tag Tag, length byteunit.NumBytes) AtomHead {
	return AtomHead{Kind: KindValue, Tag: tag, Length: length}
}

func StartHead(tag Tag) AtomHead { return AtomHead{Kind: KindStart, Tag: tag} }

func EndHead(tag Tag) AtomHead { return AtomHead{Kind: KindEnd, Tag: tag} }

func (h AtomHead) IsValue() bool { return h.Kind == KindValue }
func (h AtomHead) IsStart() bool { return h.Kind == KindStart }
func (h AtomHead) IsEnd() bool   { return h.Kind == KindEnd }

// HeadSize computes the on-wire size of the atom head itself, not
// counting any value bytes.
func (h AtomHead) HeadSize() byteunit.NumBytes {
	size := uint64(TagSize) + 1
	if h.Kind == KindValue && h.Length.Raw() >= 127 {
		size += uint64(varintSize(h.Length.Raw() - 127))
	}
	return byteunit.NumBytes(size)
}

// AtomSize computes the total on-wire size of the atom, head plus value.
func (h AtomHead) AtomSize() byteunit.NumBytes {
	size := h.HeadSize()
	if h.Kind == KindValue {
		size, _ = size.Add(h.Length)
	}
	return size
}
