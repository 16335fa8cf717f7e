// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bundle_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rugix.dev/ctrl-ng/lib/bundle"
	"rugix.dev/ctrl-ng/lib/chunker"
	"rugix.dev/ctrl-ng/lib/rugixhash"
)

// TestBlockProviderAddSlotLookup exercises the BlockProvider contract
// (spec §4.4): every block hashed out of a registered slot device can
// be looked up back to its exact offset and size.
func TestBlockProviderAddSlotLookup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "slot-a")
	contents := make([]byte, 12*1024)
	for i := range contents {
		contents[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(path, contents, 0o600))

	config := bundle.BlockProviderConfig{
		Chunker:       chunker.FixedAlgorithm(4),
		HashAlgorithm: rugixhash.SHA256,
	}
	provider := bundle.NewBlockProvider(config)
	require.NoError(t, provider.AddSlot("slot-a", path))

	blockSize := 4 * 1024
	for i := 0; i < len(contents)/blockSize; i++ {
		block := contents[i*blockSize : (i+1)*blockSize]
		hash := rugixhash.SHA256.Hash(block)
		loc, ok := provider.Lookup(hash.Raw())
		require.True(t, ok)
		assert.Equal(t, path, loc.Path)
		assert.Equal(t, uint64(i*blockSize), loc.Offset.Raw())
		assert.Equal(t, uint64(blockSize), loc.Size.Raw())
	}

	_, ok := provider.Lookup(rugixhash.SHA256.Hash([]byte("not a registered block")).Raw())
	assert.False(t, ok)
}
