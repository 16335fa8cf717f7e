// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskmodel

import (
	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"rugix.dev/ctrl-ng/lib/byteunit"
	"rugix.dev/ctrl-ng/lib/rugerr"
)

// repartAlign is the block alignment the repartitioner rounds new
// partition boundaries to, matching repart.rs's hard-coded 2048-block
// (1MiB at 512-byte blocks) alignment.
const repartAlign byteunit.NumBlocks = 2048

// SchemaPartition describes one partition a PartitionSchema wants
// present, by position. A nil Size lets the partition grow to fill
// whatever space remains (the trailing "rest of the disk" partition);
// a nil Type defaults to the table type's generic Linux type.
type SchemaPartition struct {
	Name *string
	Size *byteunit.NumBytes
	Type *PartitionType
}

// PartitionSchema is a target partition layout, matched up against an
// existing PartitionTable positionally by Repart.
type PartitionSchema struct {
	Type       PartitionTableType
	Partitions []SchemaPartition
}

// Repart computes a new partition table satisfying schema, reusing
// and growing oldTable's existing partitions wherever the schema has
// one at the same position, and appending new ones after. It never
// shrinks, reorders, retypes, or deletes an existing partition (spec
// invariant P9). It returns (nil, nil) if the schema implies no
// change to oldTable at all.
func Repart(oldTable *PartitionTable, schema *PartitionSchema) (*PartitionTable, error) {
	if oldTable.Type() != schema.Type {
		return nil, rugerr.Newf(rugerr.KindInvalidLayout,
			"partition table types do not match (%s != %s)", oldTable.Type(), schema.Type)
	}

	defaultType := MbrTypeLinux
	if schema.Type == TableTypeGPT {
		defaultType = GptTypeLinux
	}

	newTable := cloneTable(oldTable)
	nextStart := oldTable.FirstUsableBlock().CeilAlignTo(repartAlign)
	lastUsable := oldTable.LastUsableBlock()
	inExtended := false
	hasChanged := false

	for idx := range schema.Partitions {
		sp := &schema.Partitions[idx]

		if inExtended {
			nextStart, _ = nextStart.Add(ebrReserve)
		}

		start := nextStart
		var size *byteunit.NumBlocks
		if sp.Size != nil {
			s := oldTable.BytesToBlocks(*sp.Size)
			size = &s
		}

		var old *Partition
		if idx < len(oldTable.Partitions) {
			old = &oldTable.Partitions[idx]
		}
		var oldNext *Partition
		if idx+1 < len(oldTable.Partitions) {
			oldNext = &oldTable.Partitions[idx+1]
		}

		ty := defaultType
		if sp.Type != nil {
			ty = *sp.Type
		}

		if old != nil {
			start = old.Start
			if !old.Type.Equal(ty) {
				return nil, rugerr.Newf(rugerr.KindInvalidLayout,
					"partition types of partition %d do not match (%s != %s)", idx+1, old.Type, ty)
			}
			if size != nil {
				s := *size
				if old.Size.Cmp(s) > 0 {
					s = old.Size
				}
				size = &s
			}
		} else {
			if size != nil && size.Cmp(repartAlign) < 0 {
				return nil, rugerr.Newf(rugerr.KindInvalidLayout,
					"partition %d is smaller than the %d-block alignment", idx+1, repartAlign.Raw())
			}
			start = start.CeilAlignTo(repartAlign)
		}

		var available byteunit.NumBlocks
		switch {
		case ty.IsExtended():
			v, err := lastUsable.Sub(start)
			if err != nil {
				return nil, rugerr.Wrapf(err, "partition %d has no room for an extended partition", idx+1)
			}
			available, _ = v.Add(byteunit.OneBlock)
		case oldNext != nil:
			if inExtended {
				v, err := oldNext.Start.Sub(start)
				if err != nil {
					return nil, rugerr.Wrapf(err, "partition %d overlaps the next partition", idx+1)
				}
				v, err = v.Sub(ebrReserve)
				if err != nil {
					return nil, rugerr.Wrapf(err, "partition %d leaves no room for its EBR", idx+1)
				}
				available = v.FloorAlignTo(repartAlign)
			} else {
				v, err := oldNext.Start.Sub(start)
				if err != nil {
					return nil, rugerr.Wrapf(err, "partition %d overlaps the next partition", idx+1)
				}
				available = v
			}
		default:
			if start.Cmp(lastUsable) >= 0 {
				return nil, rugerr.Newf(rugerr.KindInvalidLayout, "insufficient space, cannot add partition %d", idx+1)
			}
			v, err := lastUsable.Sub(start)
			if err != nil {
				return nil, rugerr.Wrapf(err, "partition %d has no usable space", idx+1)
			}
			available, _ = v.Add(byteunit.OneBlock)
		}

		finalSize := available
		if size != nil && size.Cmp(available) < 0 {
			finalSize = *size
		}

		if idx < len(newTable.Partitions) {
			np := &newTable.Partitions[idx]
			if finalSize.Cmp(np.Size) < 0 {
				finalSize = np.Size
			}
			if np.Size != finalSize {
				hasChanged = true
			}
			np.Size = finalSize
		} else {
			hasChanged = true
			newTable.Partitions = append(newTable.Partitions, Partition{
				Number: uint8(idx + 1),
				Start:  start,
				Size:   finalSize,
				Type:   ty,
			})
		}

		if ty.IsExtended() {
			lastUsable, _ = start.Add(finalSize)
			lastUsable, _ = lastUsable.Sub(byteunit.OneBlock)
			inExtended = true
			nextStart = start
		} else {
			nextStart, _ = start.Add(finalSize)
		}
	}

	if !hasChanged {
		return nil, nil
	}
	if err := checkNewTable(oldTable, newTable); err != nil {
		return nil, err
	}
	return newTable, nil
}

func cloneTable(t *PartitionTable) *PartitionTable {
	clone := *t
	clone.Partitions = slices.Clone(t.Partitions)
	return &clone
}

// checkNewTable re-validates invariants a correct Repart run should
// already guarantee, catching bugs rather than trusting them (matching
// repart.rs's check_new_table doc comment: these would arguably be
// assertions, but are surfaced as errors instead).
func checkNewTable(oldTable, newTable *PartitionTable) error {
	if err := newTable.Validate(); err != nil {
		return rugerr.Wrap(err, "repartitioned table is invalid")
	}
	if !oldTable.DiskId.Equal(newTable.DiskId) {
		return rugerr.New(rugerr.KindInvalidLayout, "BUG: partition table id must not be changed")
	}
	if oldTable.Type() != newTable.Type() {
		return rugerr.New(rugerr.KindInvalidLayout, "BUG: types of old and new partition table must be the same")
	}
	if len(oldTable.Partitions) > len(newTable.Partitions) {
		return rugerr.New(rugerr.KindInvalidLayout, "BUG: partitions must not be deleted")
	}
	for i := range oldTable.Partitions {
		old := oldTable.Partitions[i]
		newP := newTable.Partitions[i]
		if !old.Type.Equal(newP.Type) {
			return rugerr.New(rugerr.KindInvalidLayout, "BUG: types of old and new partition must be the same")
		}
		if old.Start != newP.Start {
			return rugerr.New(rugerr.KindInvalidLayout, "BUG: old and new partition must start at the same offset")
		}
		if old.Size.Cmp(newP.Size) > 0 {
			return rugerr.New(rugerr.KindInvalidLayout, "BUG: new partition must not be smaller than old partition")
		}
		if !gptIdEqual(old.GptId, newP.GptId) {
			return rugerr.New(rugerr.KindInvalidLayout, "BUG: GPT UUID of partition must not be changed")
		}
	}
	return nil
}

// gptIdEqual compares two optional partition GPT IDs for equality,
// treating two nils as equal.
func gptIdEqual(a, b *uuid.UUID) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}
