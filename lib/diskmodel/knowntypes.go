// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskmodel

import "github.com/google/uuid"

// Well-known MBR system IDs used by the generic schemas, matching
// original_source's disk::mbr::mbr_types.
var (
	MbrTypeFAT32LBA = MbrType(0x0c)
	MbrTypeExtended = MbrType(0x0f)
	MbrTypeLinux    = MbrType(0x83)
)

// Well-known GPT partition type GUIDs used by the generic schemas,
// matching original_source's disk::gpt::gpt_types.
var (
	GptTypeEFI   = GptType(uuid.MustParse("c12a7328-f81f-11d2-ba4b-00a0c93ec93b"))
	GptTypeLinux = GptType(uuid.MustParse("0fc63daf-8483-4772-8e79-3d69d8477de4"))
)
