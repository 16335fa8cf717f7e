// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package bundle implements the update-bundle container format: a
// self-describing STLV stream carrying one or more content-addressed,
// optionally deduplicated and compressed payloads plus a JSON
// manifest, grounded on
// original_source/crates/libs/rugix-bundle/src/{reader,block_encoding}.
package bundle

import "rugix.dev/ctrl-ng/lib/stlv"

// Tag vocabulary for the bundle STLV stream. The codec in lib/stlv
// treats these as opaque; the meaning is entirely a convention of this
// package.
var (
	tagBundle         = stlv.Tag{'B', 'N', 'D', 'L'}
	tagBundleHeader   = stlv.Tag{'B', 'H', 'D', 'R'}
	tagPayloads       = stlv.Tag{'P', 'L', 'D', 'S'}
	tagPayload        = stlv.Tag{'P', 'L', 'O', 'D'}
	tagPayloadHeader  = stlv.Tag{'P', 'H', 'D', 'R'}
	tagPayloadData    = stlv.Tag{'P', 'D', 'A', 'T'}
	tagBlockEncoding  = stlv.Tag{'B', 'E', 'N', 'C'}
	tagChunker        = stlv.Tag{'C', 'H', 'N', 'K'}
	tagHashAlgorithm  = stlv.Tag{'H', 'A', 'L', 'G'}
	tagDeduplicated   = stlv.Tag{'D', 'E', 'D', 'P'}
	tagCompression    = stlv.Tag{'C', 'O', 'M', 'P'}
	tagBlockIndexBlob = stlv.Tag{'B', 'I', 'D', 'X'}
	tagBlockSizesBlob = stlv.Tag{'B', 'S', 'Z', 'S'}
)

// BundleMagic is the tag a reader peeks at the start of a stream to
// recognize the bundle format (spec §6, "the first few bytes of the
// STLV header tag identifying a bundle root segment").
var BundleMagic = tagBundle
