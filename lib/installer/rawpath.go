// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package installer

import (
	"compress/gzip"
	"io"

	"github.com/ulikunitz/xz"

	"rugix.dev/ctrl-ng/lib/blocking"
	"rugix.dev/ctrl-ng/lib/rugerr"
	"rugix.dev/ctrl-ng/lib/system"
)

// rawImageBootPartitionIndex and rawImageSystemPartitionIndex are the
// partition-position convention spec §4.6.7 fixes for a streamed raw
// image: index 1 (0-based) is the boot payload, index 3 the system
// payload.
const (
	rawImageBootPartitionIndex   = 1
	rawImageSystemPartitionIndex = 3
)

// installRawImage drives the streamed-image install path (spec
// §4.6.7 "Streamed-image path"): an optionally gzip/xz-compressed
// whole-disk MBR/GPT dump, whose partition at index 1 is copied
// byte-for-byte into the target group's boot slot and whose partition
// at index 3 is copied into its system slot.
func installRawImage(sys *system.System, target *system.BootGroup, source io.Reader, header []byte, opts Options) ([]*system.Slot, error) {
	decompressed, err := decompressSource(source, header)
	if err != nil {
		return nil, err
	}

	var hasher *runningHasher
	if opts.CheckHash != nil {
		hasher = newRunningHasher(opts.CheckHash.Algorithm())
		decompressed = io.TeeReader(decompressed, hasher)
	}

	stream, err := newImgStream(decompressed)
	if err != nil {
		return nil, err
	}

	var written []*system.Slot
	ctx := blocking.Background()
	for {
		part, ok, err := stream.next()
		if err != nil {
			return written, err
		}
		if !ok {
			break
		}

		var slot *system.Slot
		switch part.Index() {
		case rawImageBootPartitionIndex:
			slot = sys.Slots[target.Slots["boot"]]
		case rawImageSystemPartitionIndex:
			slot = sys.Slots[target.Slots["system"]]
		}
		if slot == nil {
			if err := part.drain(); err != nil {
				return written, err
			}
			continue
		}

		file, err := slot.Open()
		if err != nil {
			return written, err
		}
		err = copyToSlot(ctx, file, part)
		_ = file.Close()
		if err != nil {
			return written, err
		}
		written = append(written, slot)
	}

	if opts.CheckHash != nil {
		if _, err := io.Copy(io.Discard, decompressed); err != nil {
			return written, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to finish reading streamed image")
		}
		if !hasher.Digest().Equal(*opts.CheckHash) {
			return written, rugerr.New(rugerr.KindHashMismatch, "streamed image hash mismatch")
		}
	}
	return written, nil
}

// decompressSource wraps source in a gzip or xz decompressor if the
// peeked header matches, otherwise returns source unchanged.
func decompressSource(source io.Reader, header []byte) (io.Reader, error) {
	switch DetectSourceKind(header) {
	case SourceRawImageGzip:
		r, err := gzip.NewReader(source)
		if err != nil {
			return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to start gzip decompression")
		}
		return r, nil
	case SourceRawImageXz:
		r, err := xz.NewReader(source)
		if err != nil {
			return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to start xz decompression")
		}
		return r, nil
	default:
		return source, nil
	}
}
