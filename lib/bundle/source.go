// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bundle

import (
	"bytes"
	"io"

	"github.com/ulikunitz/xz"

	"rugix.dev/ctrl-ng/lib/byteunit"
	"rugix.dev/ctrl-ng/lib/rugerr"
)

// Source is the byte stream a BundleReader consumes: a plain reader
// plus the ability to discard n bytes without necessarily buffering
// them, so PayloadReader.Skip can fast-forward over an uninteresting
// payload.
type Source interface {
	io.Reader
	Skip(n byteunit.NumBytes) error
}

// readerSource adapts any io.Reader into a Source by discarding
// skipped bytes through io.CopyN.
type readerSource struct {
	io.Reader
}

// NewSource wraps r as a Source with no efficient skip.
func NewSource(r io.Reader) Source { return readerSource{r} }

func (s readerSource) Skip(n byteunit.NumBytes) error {
	_, err := io.CopyN(io.Discard, s.Reader, int64(n.Raw()))
	if err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to skip bytes")
	}
	return nil
}

// seekSource adapts an io.ReadSeeker into a Source with an efficient,
// allocation-free skip.
type seekSource struct {
	io.ReadSeeker
}

// NewSeekSource wraps rs as a Source that skips via Seek rather than
// discarding bytes through a copy.
func NewSeekSource(rs io.ReadSeeker) Source { return seekSource{rs} }

func (s seekSource) Skip(n byteunit.NumBytes) error {
	_, err := s.Seek(int64(n.Raw()), io.SeekCurrent)
	if err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to seek past bytes")
	}
	return nil
}

func compressXZ(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to start xz compression")
	}
	if _, err := w.Write(data); err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to compress block")
	}
	if err := w.Close(); err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to finish xz compression")
	}
	return buf.Bytes(), nil
}

func decompressXZ(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to start xz decompression")
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to decompress block")
	}
	return out, nil
}
