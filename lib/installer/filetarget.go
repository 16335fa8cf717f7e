// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package installer

import (
	"os"
	"os/exec"

	"rugix.dev/ctrl-ng/lib/bundle"
	"rugix.dev/ctrl-ng/lib/byteunit"
	"rugix.dev/ctrl-ng/lib/rugerr"
)

// fileTarget adapts a plain *os.File into a bundle.PayloadTarget, used
// for the update-script payload which is decoded to a regular temp
// file rather than a slot device.
type fileTarget struct {
	file   *os.File
	offset int64
}

func (t *fileTarget) Write(b []byte) error {
	if _, err := t.file.WriteAt(b, t.offset); err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to write update script")
	}
	t.offset += int64(len(b))
	return nil
}

func (t *fileTarget) ReadBlock(offset, size byteunit.NumBytes, buf []byte) ([]byte, error) {
	out := buf
	if byteunit.NumBytes(len(out)) < size {
		out = make([]byte, size.Raw())
	}
	out = out[:size.Raw()]
	if _, err := t.file.ReadAt(out, int64(offset.Raw())); err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to read back update script block")
	}
	return out, nil
}

var _ bundle.PayloadTarget = (*fileTarget)(nil)

// runCommand executes path with no arguments, streaming its output to
// the installer's own stdout/stderr so an operator watching `update
// install` sees the script's progress.
func runCommand(path string) error {
	cmd := exec.Command(path)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "update script exited with an error")
	}
	return nil
}
