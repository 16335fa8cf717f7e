// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskmodel

import (
	"rugix.dev/ctrl-ng/lib/byteunit"
	"rugix.dev/ctrl-ng/lib/containers"
	"rugix.dev/ctrl-ng/lib/rugerr"
)

// ebrReserve is the number of blocks reserved ahead of a logical
// partition inside an extended partition, for the EBR that describes
// it, matching repart.rs's hard-coded 63-block reservation.
const ebrReserve byteunit.NumBlocks = 63

// Validate checks the table's structural invariants (spec §3/P9):
// partitions sorted by start block, sorted by number, within the
// bounds of the disk, and (for MBR) extended-partition bookkeeping
// consistent with the logical partitions it contains.
//
// This is a non-panicking port of the original's PartitionTable::
// verify, matching the Result-returning PartitionTable::validate
// called from repart.rs rather than literally panicking like verify.
func (t *PartitionTable) Validate() error {
	nextFree := t.FirstUsableBlock()
	// lastUsable bounds the exclusive end of the partitions: one past
	// LastUsableBlock, or the end of the enclosing extended partition.
	lastUsable, _ := t.LastUsableBlock().Add(byteunit.OneBlock)
	var nextNumber uint8
	seenNumbers := containers.NewSet[uint8]()

	for _, p := range t.Partitions {
		if seenNumbers.Has(p.Number) {
			return rugerr.Newf(rugerr.KindInvalidLayout, "duplicate partition number %d", p.Number)
		}
		seenNumbers.Insert(p.Number)

		if p.Start.Cmp(nextFree) < 0 {
			return rugerr.Newf(rugerr.KindInvalidLayout,
				"partition %d starts at block %d, before the next free block %d",
				p.Number, p.Start.Raw(), nextFree.Raw())
		}
		if p.Number < nextNumber {
			return rugerr.Newf(rugerr.KindInvalidLayout,
				"partition %d is out of order (expected number >= %d)", p.Number, nextNumber)
		}
		nextNumber = p.Number + 1

		end, err := p.Start.Add(p.Size)
		if err != nil {
			return rugerr.Wrapf(err, "partition %d has an overflowing extent", p.Number)
		}
		nextFree = end

		if p.Type.IsExtended() {
			ebrEnd, err := p.Start.Add(ebrReserve)
			if err != nil {
				return rugerr.Wrapf(err, "partition %d has an overflowing extended reservation", p.Number)
			}
			nextFree = ebrEnd
			lastUsable = end
		}
	}
	if nextFree.Cmp(lastUsable) > 0 {
		return rugerr.Newf(rugerr.KindInvalidLayout,
			"partitions overrun the last usable block (next free %d > last usable %d)",
			nextFree.Raw(), lastUsable.Raw())
	}
	return nil
}
