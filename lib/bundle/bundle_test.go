// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bundle_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rugix.dev/ctrl-ng/lib/bundle"
	"rugix.dev/ctrl-ng/lib/byteunit"
	"rugix.dev/ctrl-ng/lib/chunker"
	"rugix.dev/ctrl-ng/lib/rugixhash"
)

// memTarget is a PayloadTarget backed by an in-memory buffer, the
// test stand-in for a file-backed target (spec §4.4 "Target
// contract").
type memTarget struct {
	data []byte
}

func (t *memTarget) Write(b []byte) error {
	t.data = append(t.data, b...)
	return nil
}

func (t *memTarget) ReadBlock(offset, size byteunit.NumBytes, buf []byte) ([]byte, error) {
	end := offset.Raw() + size.Raw()
	return t.data[offset.Raw():end], nil
}

// TestBundleRoundTripRaw exercises P7: a bundle with a single
// non-block-encoded payload round-trips byte-for-byte with an
// identical manifest.
func TestBundleRoundTripRaw(t *testing.T) {
	t.Parallel()

	payloadData := []byte("hello rugix bundle, no block encoding here")
	var out bytes.Buffer
	err := bundle.WriteBundle(&out, rugixhash.SHA256, []bundle.PayloadSpec{
		{Data: payloadData},
	})
	require.NoError(t, err)

	reader, err := bundle.Start(bundle.NewSource(&out), nil)
	require.NoError(t, err)
	require.Len(t, reader.Manifest().Payloads, 1)

	payload, err := reader.NextPayload()
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Nil(t, payload.Header().BlockEncoding)

	target := &memTarget{}
	require.NoError(t, payload.DecodeInto(target, nil))
	assert.Equal(t, payloadData, target.data)

	next, err := reader.NextPayload()
	require.NoError(t, err)
	assert.Nil(t, next)
}

// TestBundleRoundTripDedupCompression exercises P8: a payload built
// from two identical halves, deduplicated and xz-compressed, decodes
// to bytes whose hash matches manifest.file_hash.
func TestBundleRoundTripDedupCompression(t *testing.T) {
	t.Parallel()

	half := bytes.Repeat([]byte{0x42}, 8*1024)
	payloadData := append(append([]byte{}, half...), half...)

	compression := bundle.CompressionXZ
	spec := bundle.PayloadSpec{
		Data: payloadData,
		BlockEncoding: &bundle.BlockEncodingSpec{
			Chunker:       chunker.FixedAlgorithm(4),
			HashAlgorithm: rugixhash.SHA256,
			Deduplicated:  true,
			Compression:   &compression,
		},
	}

	var out bytes.Buffer
	require.NoError(t, bundle.WriteBundle(&out, rugixhash.SHA256, []bundle.PayloadSpec{spec}))

	reader, err := bundle.Start(bundle.NewSource(&out), nil)
	require.NoError(t, err)

	payload, err := reader.NextPayload()
	require.NoError(t, err)
	require.NotNil(t, payload.Header().BlockEncoding)
	assert.True(t, payload.Header().BlockEncoding.Deduplicated)

	target := &memTarget{}
	require.NoError(t, payload.DecodeInto(target, nil))
	assert.Equal(t, payloadData, target.data)

	decodedHash := rugixhash.SHA256.Hash(target.data)
	assert.True(t, decodedHash.Equal(reader.Manifest().Payloads[0].FileHash))
}

// TestBundleHeaderHashVerification exercises the authenticated-update
// path: Start rejects a bundle whose bytes don't match the caller's
// expected header hash.
func TestBundleHeaderHashVerification(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	require.NoError(t, bundle.WriteBundle(&out, rugixhash.SHA256, []bundle.PayloadSpec{
		{Data: []byte("payload")},
	}))

	wrongHash := rugixhash.SHA256.Hash([]byte("not the manifest"))
	_, err := bundle.Start(bundle.NewSource(bytes.NewReader(out.Bytes())), &wrongHash)
	require.Error(t, err)
}

// TestPayloadReaderSkip exercises the skip semantics (spec §4.4): a
// skipped payload leaves the stream positioned before the next one.
func TestPayloadReaderSkip(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	require.NoError(t, bundle.WriteBundle(&out, rugixhash.SHA256, []bundle.PayloadSpec{
		{Data: []byte("first payload")},
		{Data: []byte("second payload")},
	}))

	reader, err := bundle.Start(bundle.NewSource(&out), nil)
	require.NoError(t, err)

	first, err := reader.NextPayload()
	require.NoError(t, err)
	require.NoError(t, first.Skip())

	second, err := reader.NextPayload()
	require.NoError(t, err)
	require.NotNil(t, second)

	target := &memTarget{}
	require.NoError(t, second.DecodeInto(target, nil))
	assert.Equal(t, []byte("second payload"), target.data)
}

// TestManifestEncodeDecodeRoundTrip checks the manifest JSON codec in
// isolation, independent of the STLV framing.
func TestManifestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	slot := "system-a"
	m := bundle.Manifest{
		HashAlgorithm: rugixhash.SHA512_256,
		Payloads: []bundle.PayloadEntry{
			{
				Slot:         &slot,
				UpdateScript: false,
				FileHash:     rugixhash.SHA512_256.Hash([]byte("file")),
				HeaderHash:   rugixhash.SHA512_256.Hash([]byte("header")),
			},
		},
	}

	raw, err := bundle.EncodeManifest(m)
	require.NoError(t, err)

	decoded, err := bundle.DecodeManifest(raw)
	require.NoError(t, err)
	require.Len(t, decoded.Payloads, 1)
	assert.Equal(t, m.HashAlgorithm, decoded.HashAlgorithm)
	assert.Equal(t, *m.Payloads[0].Slot, *decoded.Payloads[0].Slot)
	assert.True(t, m.Payloads[0].FileHash.Equal(decoded.Payloads[0].FileHash))
	assert.True(t, m.Payloads[0].HeaderHash.Equal(decoded.Payloads[0].HeaderHash))
}
