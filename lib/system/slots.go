// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package system

import (
	"os"

	"rugix.dev/ctrl-ng/lib/diskio"
	"rugix.dev/ctrl-ng/lib/rugerr"
)

// Open opens the slot's backing partition for random-access
// read/write, using lib/diskio's File abstraction so the installer
// can drive it through the same BlockProvider/BundleReader machinery
// used for regular files in tests.
func (sl *Slot) Open() (diskio.File[int64], error) {
	fh, err := os.OpenFile(sl.Device, os.O_RDWR, 0)
	if err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to open slot device")
	}
	return &diskio.OSFile[int64]{File: fh}, nil
}

// OpenReadOnly opens the slot's backing partition for reading only,
// used when indexing the currently-active slots a BlockProvider may
// dedup new payloads against.
func (sl *Slot) OpenReadOnly() (diskio.File[int64], error) {
	fh, err := os.Open(sl.Device)
	if err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to open slot device")
	}
	return &diskio.OSFile[int64]{File: fh}, nil
}

// ZeroHead overwrites the first n bytes of the slot with zeros,
// matching spec §4.6.7's failure behavior for a streamed-image whose
// hash check fails: both the just-written spare slot and, if a hash
// mismatch is detected only after committing to write into the other
// slot role, its counterpart are zeroed so a stale, only-partially
// overwritten payload can never be booted.
func (sl *Slot) ZeroHead(n int64) error {
	f, err := sl.Open()
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	zero := make([]byte, 1<<16)
	var off int64
	for off < n {
		take := int64(len(zero))
		if n-off < take {
			take = n - off
		}
		if _, err := f.WriteAt(zero[:take], off); err != nil {
			return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to zero slot")
		}
		off += take
	}
	return nil
}
