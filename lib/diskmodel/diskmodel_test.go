// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskmodel_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rugix.dev/ctrl-ng/lib/byteunit"
	"rugix.dev/ctrl-ng/lib/diskmodel"
)

func TestParseSize(t *testing.T) {
	t.Parallel()
	v, err := diskmodel.ParseSize("512M")
	require.NoError(t, err)
	assert.Equal(t, byteunit.Bytes(512*(1<<20)), v)
}

func TestBlockAlignment(t *testing.T) {
	t.Parallel()
	align := byteunit.NumBlocks(2048)
	assert.Equal(t, byteunit.NumBlocks(2048), byteunit.NumBlocks(2048).CeilAlignTo(align))
	assert.Equal(t, byteunit.NumBlocks(2048), byteunit.NumBlocks(2048).FloorAlignTo(align))
	assert.Equal(t, byteunit.NumBlocks(4096), byteunit.NumBlocks(2049).CeilAlignTo(align))
	assert.Equal(t, byteunit.NumBlocks(2048), byteunit.NumBlocks(2049).FloorAlignTo(align))
}

// TestRepartMBR mirrors test_repart_mbr: a live 3-partition MBR table
// (plus an extended partition and one logical partition inside it) is
// repartitioned against the generic MBR bootstrap schema.
func TestRepartMBR(t *testing.T) {
	t.Parallel()

	oldTable := diskmodel.NewPartitionTable(diskmodel.MbrDiskId(0x123456), byteunit.NumBlocks(16*1024*1024*1024/512))
	starts := []uint64{2048, 526336, 788480}
	sizes := []uint64{524288, 262144, 26144}
	for i := range starts {
		oldTable.Partitions = append(oldTable.Partitions, diskmodel.Partition{
			Number: uint8(i + 1),
			Start:  byteunit.NumBlocks(starts[i]),
			Size:   byteunit.NumBlocks(sizes[i]),
			Type:   diskmodel.MbrTypeFAT32LBA,
		})
	}
	oldTable.Partitions = append(oldTable.Partitions, diskmodel.Partition{
		Number: 4,
		Start:  byteunit.NumBlocks(1050624),
		Size:   oldTable.DiskSize - byteunit.NumBlocks(1050624),
		Type:   diskmodel.MbrTypeExtended,
	})
	oldTable.Partitions = append(oldTable.Partitions, diskmodel.Partition{
		Number: 5,
		Start:  byteunit.NumBlocks(1052672),
		Size:   byteunit.NumBlocks(2016836),
		Type:   diskmodel.MbrTypeLinux,
	})

	require.NoError(t, oldTable.Validate())

	systemSize, err := diskmodel.ParseSize("4G")
	require.NoError(t, err)

	newTable, err := diskmodel.Repart(oldTable, diskmodel.GenericMBRSchema(systemSize))
	require.NoError(t, err)
	require.NotNil(t, newTable)
	require.NoError(t, newTable.Validate())

	// The existing partitions are untouched in position and type, and
	// never shrunk.
	for i, old := range oldTable.Partitions {
		assert.Equal(t, old.Start, newTable.Partitions[i].Start)
		assert.True(t, old.Type.Equal(newTable.Partitions[i].Type))
		assert.True(t, newTable.Partitions[i].Size.Cmp(old.Size) >= 0)
	}
}

// TestRepartGPT mirrors test_repart_gpt.
func TestRepartGPT(t *testing.T) {
	t.Parallel()

	oldTable := diskmodel.NewPartitionTable(
		diskmodel.GptDiskId(uuid.UUID{0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42}),
		byteunit.NumBlocks(16*1024*1024*1024/512))

	starts := []uint64{2048, 526336, 788480}
	sizes := []uint64{524288, 262144, 26144}
	for i := range starts {
		ty := diskmodel.GptTypeLinux
		if i == 0 {
			ty = diskmodel.GptTypeEFI
		}
		oldTable.Partitions = append(oldTable.Partitions, diskmodel.Partition{
			Number: uint8(i + 1),
			Start:  byteunit.NumBlocks(starts[i]),
			Size:   byteunit.NumBlocks(sizes[i]),
			Type:   ty,
		})
	}
	oldTable.Partitions = append(oldTable.Partitions, diskmodel.Partition{
		Number: 4,
		Start:  byteunit.NumBlocks(1050624),
		Size:   byteunit.NumBlocks(2016836),
		Type:   diskmodel.GptTypeLinux,
	})

	require.NoError(t, oldTable.Validate())

	systemSize, err := diskmodel.ParseSize("4G")
	require.NoError(t, err)

	newTable, err := diskmodel.Repart(oldTable, diskmodel.GenericEFISchema(systemSize))
	require.NoError(t, err)
	require.NotNil(t, newTable)
	require.NoError(t, newTable.Validate())
}

// TestRepartNoChange exercises Repart's "no change needed" path:
// repartitioning against a schema that the old table already
// satisfies returns (nil, nil).
func TestRepartNoChange(t *testing.T) {
	t.Parallel()

	systemSize, err := diskmodel.ParseSize("4G")
	require.NoError(t, err)

	oldTable := diskmodel.NewPartitionTable(diskmodel.MbrDiskId(1), byteunit.NumBlocks(64*1024*1024*1024/512))
	schema := diskmodel.GenericMBRSchema(systemSize)
	first, err := diskmodel.Repart(oldTable, schema)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := diskmodel.Repart(first, schema)
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestRepartTableTypeMismatch(t *testing.T) {
	t.Parallel()
	oldTable := diskmodel.NewPartitionTable(diskmodel.MbrDiskId(1), byteunit.NumBlocks(1<<20))
	systemSize, _ := diskmodel.ParseSize("1G")
	_, err := diskmodel.Repart(oldTable, diskmodel.GenericEFISchema(systemSize))
	require.Error(t, err)
}

func TestValidateRejectsOverlap(t *testing.T) {
	t.Parallel()
	table := diskmodel.NewPartitionTable(diskmodel.MbrDiskId(1), byteunit.NumBlocks(1<<20))
	table.Partitions = []diskmodel.Partition{
		{Number: 1, Start: table.FirstUsableBlock(), Size: byteunit.NumBlocks(100), Type: diskmodel.MbrTypeLinux},
		{Number: 2, Start: table.FirstUsableBlock(), Size: byteunit.NumBlocks(100), Type: diskmodel.MbrTypeLinux},
	}
	require.Error(t, table.Validate())
}
