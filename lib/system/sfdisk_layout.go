// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package system

import (
	"fmt"
	"strings"

	"rugix.dev/ctrl-ng/lib/diskmodel"
)

// RenderSfdiskLayout turns a diskmodel.PartitionSchema into an sfdisk
// script made of a `label:` line, a `unit:` line and one line per
// partition, following the grammar original_source's
// sfdisk_image_layout and sfdisk_system_layout hand-write via
// indoc::formatdoc. No `grain:` line is written.
func RenderSfdiskLayout(schema *diskmodel.PartitionSchema) SfdiskLayout {
	var b strings.Builder
	label := "dos"
	if schema.Type == diskmodel.TableTypeGPT {
		label = "gpt"
	}
	fmt.Fprintf(&b, "label: %s\nunit: sectors\n\n", label)
	for _, p := range schema.Partitions {
		name := "part"
		if p.Name != nil {
			name = *p.Name
		}
		var attrs []string
		if p.Type != nil {
			attrs = append(attrs, fmt.Sprintf("type=%s", p.Type))
		}
		if p.Size != nil {
			attrs = append(attrs, fmt.Sprintf("size=%d", p.Size.Raw()/512))
		}
		fmt.Fprintf(&b, "%s : %s\n", name, strings.Join(attrs, ", "))
	}
	return SfdiskLayout(b.String())
}
