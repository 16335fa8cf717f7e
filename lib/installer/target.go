// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package installer

import (
	"rugix.dev/ctrl-ng/lib/bundle"
	"rugix.dev/ctrl-ng/lib/byteunit"
	"rugix.dev/ctrl-ng/lib/diskio"
	"rugix.dev/ctrl-ng/lib/rugerr"
)

// slotTarget adapts a system.Slot's diskio.File into a
// bundle.PayloadTarget: sequential writes append at the current
// offset, and ReadBlock lets the bundle reader reuse bytes this same
// payload already wrote earlier (intra-payload dedup), matching spec
// §4.4's PayloadTarget contract.
type slotTarget struct {
	file   diskio.File[int64]
	offset int64
}

// newSlotTarget wraps an already-open slot device file for writing a
// single payload starting at its first byte.
func newSlotTarget(file diskio.File[int64]) *slotTarget {
	return &slotTarget{file: file}
}

func (t *slotTarget) Write(b []byte) error {
	if _, err := t.file.WriteAt(b, t.offset); err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to write slot target")
	}
	t.offset += int64(len(b))
	return nil
}

func (t *slotTarget) ReadBlock(offset, size byteunit.NumBytes, buf []byte) ([]byte, error) {
	out := buf
	if byteunit.NumBytes(len(out)) < size {
		out = make([]byte, size.Raw())
	}
	out = out[:size.Raw()]
	if _, err := t.file.ReadAt(out, int64(offset.Raw())); err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to read back slot target block")
	}
	return out, nil
}

var _ bundle.PayloadTarget = (*slotTarget)(nil)
