// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package system implements slot and boot-group resolution and the
// config-partition scoped writable acquisition guard (spec §4.6.1,
// §4.6.3), grounded on original_source/crates/rugpi-common/src/
// system/mod.rs.
package system

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"

	"rugix.dev/ctrl-ng/lib/containers"
	"rugix.dev/ctrl-ng/lib/diskmodel"
	"rugix.dev/ctrl-ng/lib/rugerr"
)

// SlotKind distinguishes the two roles a slot can play, matching
// original_source's slot kind tag.
type SlotKind string

const (
	SlotKindBoot   SlotKind = "boot"
	SlotKindSystem SlotKind = "system"
	SlotKindData   SlotKind = "data"
)

// Slot is one resolved partition, ready to be addressed as a block
// device.
type Slot struct {
	Name            string
	Kind            SlotKind
	PartitionNumber uint8
	Device          string // resolved block-device path, e.g. /dev/mmcblk0p5
	Active          bool
}

// BootGroup is an A/B-style named set of slots, one per role.
type BootGroup struct {
	Name   string
	Slots  map[string]string // role -> slot name
	Active bool
}

// System is the resolved runtime view of the device's partition
// layout: slots, boot groups, which group is active, and the disk
// they live on.
type System struct {
	Disk          *diskmodel.PartitionTable
	ParentDevice  string
	Slots         map[string]*Slot
	BootGroups    map[string]*BootGroup
	ActiveGroup   string // "" if none matched
	ConfigPart    *ConfigPartition
}

// DefaultSlotsMBR and DefaultSlotsGPT are the conventional slot ->
// partition-number maps spec §4.6.1 names as the defaults when no
// configuration overrides them.
var (
	DefaultSlotsMBR = map[string]uint8{
		"boot-a": 2, "boot-b": 3, "system-a": 5, "system-b": 6,
	}
	DefaultSlotsGPT = map[string]uint8{
		"boot-a": 2, "boot-b": 3, "system-a": 4, "system-b": 5,
	}
)

// DefaultBootGroups is the conventional A/B boot-group map spec
// §4.6.1 names as the default.
var DefaultBootGroups = map[string]map[string]string{
	"a": {"boot": "boot-a", "system": "system-a"},
	"b": {"boot": "boot-b", "system": "system-b"},
}

// SlotConfig and GroupConfig mirror Config's shape, taken as plain
// arguments here so Resolve has no import-cycle on the config package.
type SlotConfig struct {
	Name      string
	Kind      SlotKind
	Partition uint8
}

type GroupConfig struct {
	Name  string
	Slots map[string]string
}

// Resolve builds a System from the live partition table, the
// configured (or defaulted) slots/boot-groups, and the currently
// mounted root device, matching spec §4.6.1: partition numbers are
// turned into concrete device paths, and the boot group whose system
// slot backs the live root is marked active.
func Resolve(disk *diskmodel.PartitionTable, parentDevice string, slots []SlotConfig, groups []GroupConfig, liveRootDevice string) (*System, error) {
	sys := &System{
		Disk:         disk,
		ParentDevice: parentDevice,
		Slots:        make(map[string]*Slot, len(slots)),
		BootGroups:   make(map[string]*BootGroup, len(groups)),
	}

	byNumber := make(map[uint8]*diskmodel.Partition, len(disk.Partitions))
	for i := range disk.Partitions {
		byNumber[disk.Partitions[i].Number] = &disk.Partitions[i]
	}

	for _, sc := range slots {
		part, ok := byNumber[sc.Partition]
		if !ok {
			return nil, rugerr.Newf(rugerr.KindMissingSlot, "slot %q references partition %d, which does not exist on %s", sc.Name, sc.Partition, parentDevice)
		}
		sys.Slots[sc.Name] = &Slot{
			Name:            sc.Name,
			Kind:            sc.Kind,
			PartitionNumber: sc.Partition,
			Device:          partitionDevicePath(parentDevice, part.Number),
		}
	}

	for _, gc := range groups {
		sys.BootGroups[gc.Name] = &BootGroup{Name: gc.Name, Slots: maps.Clone(gc.Slots)}
	}

	found := false
	for _, group := range sys.BootGroups {
		systemSlotName, ok := group.Slots["system"]
		if !ok {
			continue
		}
		slot, ok := sys.Slots[systemSlotName]
		if !ok {
			continue
		}
		if slot.Device == liveRootDevice {
			sys.ActiveGroup = group.Name
			group.Active = true
			for _, slotName := range group.Slots {
				if s, ok := sys.Slots[slotName]; ok {
					s.Active = true
				}
			}
			found = true
			break
		}
	}
	if !found {
		logrus.WithField("root_device", liveRootDevice).
			Warn("system: no boot group's system slot matches the live root device")
	}

	return sys, nil
}

// partitionDevicePath derives the Nth partition's device node from
// the whole-disk device, handling the "pN" vs "NpN" naming schemes
// (e.g. /dev/sda5 vs /dev/mmcblk0p5, /dev/nvme0n1p5).
func partitionDevicePath(parent string, number uint8) string {
	if len(parent) == 0 {
		return ""
	}
	last := parent[len(parent)-1]
	if last >= '0' && last <= '9' {
		return fmt.Sprintf("%sp%d", parent, number)
	}
	return fmt.Sprintf("%s%d", parent, number)
}

// ActiveBootGroup returns the currently active group, or nil if none
// was resolved as active.
func (s *System) ActiveBootGroup() *BootGroup {
	if s.ActiveGroup == "" {
		return nil
	}
	return s.BootGroups[s.ActiveGroup]
}

// RequireConfigPartition returns the system's config partition, or an
// error if it was disabled (spec §4.6.3 notes the config partition
// cannot currently be disabled for any operation that needs it).
func (s *System) RequireConfigPartition() (*ConfigPartition, error) {
	if s.ConfigPart == nil {
		return nil, rugerr.New(rugerr.KindIO, "config partition is required but not configured")
	}
	return s.ConfigPart, nil
}

// NeedsCommit reports whether the active boot group differs from the
// boot flow's default, matching original_source's System::needs_commit.
func (s *System) NeedsCommit(defaultGroup string) bool {
	return s.ActiveGroup != defaultGroup
}

// SpareBootGroup returns the first group, in sorted name order, that
// is not the active one, the default target for an update install (spec
// §4.6.7's "the first non-active group").
func (s *System) SpareBootGroup() *BootGroup {
	names := maps.Keys(s.BootGroups)
	sort.Strings(names)
	for _, name := range names {
		if name != s.ActiveGroup {
			return s.BootGroups[name]
		}
	}
	return nil
}

// SlotNames returns every configured slot name, used by the installer
// when constructing a cross-slot BlockProvider.
func (s *System) SlotNames() containers.Set[string] {
	set := containers.NewSet[string]()
	for name := range s.Slots {
		set.Insert(name)
	}
	return set
}
