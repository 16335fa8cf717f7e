// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package installer

import "bytes"

// SourceKind distinguishes the shapes an update payload can arrive
// in, detected by peeking the stream's leading bytes (spec §4.6.7:
// "a raw partitioned disk image or a structured bundle").
type SourceKind int

const (
	SourceUnknown SourceKind = iota
	SourceBundle
	SourceRawImageGzip
	SourceRawImageXz
	SourceRawImage
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	xzMagic   = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}
	mbrMagic  = []byte{0x55, 0xaa} // at offset 510, not checked here
)

// bundleMagic is the tag of the bundle's opening STLV start atom, the
// first four bytes of every bundle, equal to lib/bundle's BundleMagic
// (an opening structural atom, not a
// fixed magic number in the ISO-image sense, but stable enough to
// peek for dispatch purposes since a raw disk image never begins with
// a valid STLV start atom of this specific tag/kind).
var bundleMagic = []byte{'B', 'N', 'D', 'L'}

// DetectSourceKind peeks at the first bytes of an update payload and
// classifies it. gzip/xz detection is a strict magic-number match;
// bundle detection falls back to "not gzip/xz, assume raw image"
// unless peek looks like a bundle start atom, matching the installer
// CLI's `update install` dispatcher.
func DetectSourceKind(peek []byte) SourceKind {
	if bytes.HasPrefix(peek, gzipMagic) {
		return SourceRawImageGzip
	}
	if bytes.HasPrefix(peek, xzMagic) {
		return SourceRawImageXz
	}
	if bytes.HasPrefix(peek, bundleMagic) {
		return SourceBundle
	}
	return SourceRawImage
}
