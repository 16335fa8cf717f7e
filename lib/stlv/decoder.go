// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package stlv

import (
	"io"

	"rugix.dev/ctrl-ng/lib/byteunit"
	"rugix.dev/ctrl-ng/lib/rugerr"
)

// DefaultMaxDepth is the default nesting-depth budget for a Decoder.
const DefaultMaxDepth = 32

// DefaultMaxSize is the default total-bytes budget for a Decoder.
var DefaultMaxSize = byteunit.Kibibytes(64)

// Decoder reads structured STLV data under a depth and total-size
// budget, so that a hostile or corrupt stream cannot force unbounded
// memory use or stack depth. Decoding multiple structures with one
// Decoder does not reset the size budget — every structure decoded
// counts against the same limit.
type Decoder struct {
	r             io.Reader
	remainingDepth int
	remainingBytes byteunit.NumBytes
	valueLength    *byteunit.NumBytes
}

// NewDecoder constructs a Decoder with explicit budgets.
func NewDecoder(r io.Reader, maxDepth int, maxSize byteunit.NumBytes) *Decoder {
	return &Decoder{r: r, remainingDepth: maxDepth, remainingBytes: maxSize}
}

// NewDecoderDefaultLimits constructs a Decoder with DefaultMaxDepth
// and DefaultMaxSize.
func NewDecoderDefaultLimits(r io.Reader) *Decoder {
	return NewDecoder(r, DefaultMaxDepth, DefaultMaxSize)
}

// NextAtomHead reads the next atom head, applying and updating the
// depth/size budgets. It panics if a value atom's bytes have not yet
// been consumed via ReadValue or SkipValue — that is a caller bug,
// not a malformed stream.
func (d *Decoder) NextAtomHead() (AtomHead, error) {
	if d.valueLength != nil {
		panic("stlv: must read or skip the current value before the next atom")
	}
	head, ok, err := ReadAtomHead(d.r)
	if err != nil {
		return AtomHead{}, err
	}
	if !ok {
		return AtomHead{}, rugerr.New(rugerr.KindUnexpectedEOF, "unexpected end of stream")
	}
	if err := d.checkAndSubtractSize(head.AtomSize()); err != nil {
		return AtomHead{}, err
	}
	switch head.Kind {
	case KindStart:
		if d.remainingDepth <= 0 {
			return AtomHead{}, rugerr.New(rugerr.KindDepthLimit, "depth limit reached")
		}
		d.remainingDepth--
	case KindEnd:
		d.remainingDepth++
	case KindValue:
		length := head.Length
		d.valueLength = &length
	}
	return head, nil
}

// ReadValue reads the bytes of the current value atom.
func (d *Decoder) ReadValue() ([]byte, error) {
	if d.valueLength == nil {
		panic("stlv: no current value")
	}
	length := *d.valueLength
	d.valueLength = nil
	if err := d.checkAndSubtractSize(length); err != nil {
		return nil, err
	}
	buf := make([]byte, length.Raw())
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, rugerr.New(rugerr.KindUnexpectedEOF, "truncated value")
	}
	return buf, nil
}

// SkipValue discards the bytes of the current value atom.
func (d *Decoder) SkipValue() error {
	if d.valueLength == nil {
		panic("stlv: no current value")
	}
	length := *d.valueLength
	d.valueLength = nil
	_, err := io.CopyN(io.Discard, d.r, int64(length.Raw()))
	return err
}

// Skip discards a value atom, or an entire segment through its
// matching end atom.
func (d *Decoder) Skip(head AtomHead) error {
	switch head.Kind {
	case KindValue:
		return d.SkipValue()
	case KindStart:
		return d.SkipSegment(head.Tag)
	default:
		return rugerr.Newf(rugerr.KindParseFormat, "unbalanced segment end with tag %s", head.Tag)
	}
}

// SkipSegment discards every atom up to and including the end atom
// matching tag, recursing into nested segments.
func (d *Decoder) SkipSegment(tag Tag) error {
	for {
		head, err := d.NextAtomHead()
		if err != nil {
			return err
		}
		switch head.Kind {
		case KindValue:
			if err := d.SkipValue(); err != nil {
				return err
			}
		case KindStart:
			if err := d.SkipSegment(head.Tag); err != nil {
				return err
			}
		case KindEnd:
			if head.Tag == tag {
				return nil
			}
			return rugerr.Newf(rugerr.KindParseFormat, "unbalanced segment end with tag %s", head.Tag)
		}
	}
}

func (d *Decoder) checkAndSubtractSize(size byteunit.NumBytes) error {
	if d.remainingBytes.Cmp(size) < 0 {
		d.remainingBytes = byteunit.ZeroBytes
		return rugerr.New(rugerr.KindSizeLimit, "size limit reached")
	}
	remaining, err := d.remainingBytes.Sub(size)
	if err != nil {
		return err
	}
	d.remainingBytes = remaining
	return nil
}
