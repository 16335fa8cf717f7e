// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rugixhash_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rugix.dev/ctrl-ng/lib/rugixhash"
)

func TestDigestRoundTrip(t *testing.T) {
	t.Parallel()
	expected := "sha256:dffd6021bb2bd5b0af676290809ec3a53191dd81c7f70a4b28688a362182986f"

	digest, err := rugixhash.ParseDigest(expected)
	require.NoError(t, err)
	assert.Equal(t, rugixhash.SHA256, digest.Algorithm())
	assert.Equal(t, expected, digest.String())

	hasher := rugixhash.NewHasher(digest.Algorithm())
	hasher.Update([]byte("Hello, World!"))
	assert.Equal(t, digest, hasher.Finalize())
}

func TestParseDigestErrors(t *testing.T) {
	t.Parallel()
	_, err := rugixhash.ParseDigest("not-a-digest")
	require.Error(t, err)

	_, err = rugixhash.ParseDigest("bogus:aabbcc")
	require.Error(t, err)

	_, err = rugixhash.ParseDigest("sha256:zz")
	require.Error(t, err)
}

func TestAlgorithmSizes(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 32, rugixhash.SHA256.Size())
	assert.Equal(t, 64, rugixhash.SHA512.Size())
	assert.Equal(t, 32, rugixhash.SHA512_256.Size())
}
