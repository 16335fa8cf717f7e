// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskmodel

import "rugix.dev/ctrl-ng/lib/byteunit"

func mustParseSize(s string) byteunit.NumBytes {
	v, err := ParseSize(s)
	if err != nil {
		panic(err)
	}
	return v
}

func sizePtr(s string) *byteunit.NumBytes {
	v := mustParseSize(s)
	return &v
}

func typePtr(t PartitionType) *PartitionType { return &t }

// GenericMBRSchema is the default MBR bootstrap layout (supplemented
// from original_source's generic_mbr_partition_schema): three small
// FAT32 firmware/config/misc partitions, an extended partition holding
// two systemSize Linux system slots, and a trailing data partition
// filling the rest of the disk.
func GenericMBRSchema(systemSize byteunit.NumBytes) *PartitionSchema {
	return &PartitionSchema{
		Type: TableTypeMBR,
		Partitions: []SchemaPartition{
			{Size: sizePtr("256M"), Type: typePtr(MbrTypeFAT32LBA)},
			{Size: sizePtr("128M"), Type: typePtr(MbrTypeFAT32LBA)},
			{Size: sizePtr("128M"), Type: typePtr(MbrTypeFAT32LBA)},
			{Type: typePtr(MbrTypeExtended)},
			{Size: &systemSize, Type: typePtr(MbrTypeLinux)},
			{Size: &systemSize, Type: typePtr(MbrTypeLinux)},
			{Type: typePtr(MbrTypeLinux)},
		},
	}
}

// GenericEFISchema is the default GPT bootstrap layout (supplemented
// from original_source's generic_efi_partition_schema): an EFI system
// partition, two small Linux firmware/config partitions, two
// systemSize Linux system slots, and a trailing data partition.
func GenericEFISchema(systemSize byteunit.NumBytes) *PartitionSchema {
	return &PartitionSchema{
		Type: TableTypeGPT,
		Partitions: []SchemaPartition{
			{Size: sizePtr("256M"), Type: typePtr(GptTypeEFI)},
			{Size: sizePtr("256M"), Type: typePtr(GptTypeLinux)},
			{Size: sizePtr("256M"), Type: typePtr(GptTypeLinux)},
			{Size: &systemSize, Type: typePtr(GptTypeLinux)},
			{Size: &systemSize, Type: typePtr(GptTypeLinux)},
			{Type: typePtr(GptTypeLinux)},
		},
	}
}
