// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package stlv

import (
	"io"

	"rugix.dev/ctrl-ng/lib/byteunit"
	"rugix.dev/ctrl-ng/lib/rugerr"
)

// WriteAtomHead writes the head of an atom. The caller is responsible
// for writing the value bytes of a value atom afterwards; writers
// should be buffered, as this performs many small writes.
func WriteAtomHead(w io.Writer, head AtomHead) error {
	switch head.Kind {
	case KindValue:
		if _, err := w.Write(head.Tag[:]); err != nil {
			return err
		}
		length := head.Length.Raw()
		indicatorLength := length
		if indicatorLength > 127 {
			indicatorLength = 127
		}
		if _, err := w.Write([]byte{isValueMask | byte(indicatorLength)}); err != nil {
			return err
		}
		if length >= 127 {
			return writeVarint(w, length-127)
		}
		return nil
	case KindStart:
		if _, err := w.Write(head.Tag[:]); err != nil {
			return err
		}
		_, err := w.Write([]byte{isStartMask})
		return err
	case KindEnd:
		if _, err := w.Write(head.Tag[:]); err != nil {
			return err
		}
		_, err := w.Write([]byte{0})
		return err
	default:
		panic("invalid atom kind")
	}
}

// WriteValue writes a complete value atom: head followed by bytes.
func WriteValue(w io.Writer, tag Tag, value []byte) error {
	if err := WriteAtomHead(w, ValueHead(tag, byteunit.NumBytes(len(value)))); err != nil {
		return err
	}
	_, err := w.Write(value)
	return err
}

// WriteSegmentStart writes an opening segmentation atom.
func WriteSegmentStart(w io.Writer, tag Tag) error {
	return WriteAtomHead(w, StartHead(tag))
}

// WriteSegmentEnd writes a closing segmentation atom.
func WriteSegmentEnd(w io.Writer, tag Tag) error {
	return WriteAtomHead(w, EndHead(tag))
}

// ReadAtomHead reads the next atom head from r. It returns
// (AtomHead{}, false, nil) at a clean end of stream (zero bytes read
// before the tag), and an unexpected_eof error on any other
// truncation.
func ReadAtomHead(r io.Reader) (AtomHead, bool, error) {
	var tagBuf [TagSize]byte
	n, err := io.ReadFull(r, tagBuf[:])
	if err != nil {
		if err == io.EOF && n == 0 {
			return AtomHead{}, false, nil
		}
		return AtomHead{}, false, rugerr.New(rugerr.KindUnexpectedEOF, "truncated atom tag")
	}
	tag := Tag(tagBuf)

	var indBuf [1]byte
	if _, err := io.ReadFull(r, indBuf[:]); err != nil {
		return AtomHead{}, false, rugerr.New(rugerr.KindUnexpectedEOF, "truncated atom indicator")
	}
	indicator := indBuf[0]

	if indicator&isValueMask != 0 {
		length := uint64(indicator &^ isValueMask)
		if length == 127 {
			extra, err := readVarint(r)
			if err != nil {
				return AtomHead{}, false, err
			}
			length += extra
		}
		return ValueHead(tag, byteunit.NumBytes(length)), true, nil
	}

	if indicator&^isValueMask&^isStartMask != 0 {
		return AtomHead{}, false, rugerr.New(rugerr.KindParseFormat, "non-zero segmentation atom indicator bits")
	}
	if indicator&isStartMask != 0 {
		return StartHead(tag), true, nil
	}
	return EndHead(tag), true, nil
}

// Skip consumes a value atom's bytes, or an entire segment up to and
// including its matching end atom, from r. head must be a value atom
// or an opening segmentation atom.
func Skip(r io.Reader, head AtomHead) error {
	switch head.Kind {
	case KindValue:
		_, err := io.CopyN(io.Discard, r, int64(head.Length.Raw()))
		return err
	case KindStart:
		for {
			next, ok, err := ReadAtomHead(r)
			if err != nil {
				return err
			}
			if !ok {
				return rugerr.Newf(rugerr.KindUnexpectedEOF, "unexpected end of stream while skipping segment %s", head.Tag)
			}
			if next.Kind == KindEnd && next.Tag == head.Tag {
				return nil
			}
			if err := Skip(r, next); err != nil {
				return err
			}
		}
	case KindEnd:
		return rugerr.Newf(rugerr.KindParseFormat, "cannot skip unbalanced closing segment atom with tag %s", head.Tag)
	default:
		panic("invalid atom kind")
	}
}
