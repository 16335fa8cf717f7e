// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bootflow

import (
	"path/filepath"

	"rugix.dev/ctrl-ng/lib/bootflow/grubenv"
	"rugix.dev/ctrl-ng/lib/rugerr"
	"rugix.dev/ctrl-ng/lib/system"
)

// rugixRootKey is the key written into a boot slot's own per-slot
// grubenv file, read by that slot's Grub config to find its root
// filesystem -- distinct from RugixBootpartKey, which only selects
// which slot's config.cfg is chained into.
const rugixRootKey = "RUGIX_ROOT"

// GrubEfi implements the GRUB/EFI boot flow (spec §4.6.2, §6): a
// primary/secondary pair of hashed `grubenv` blocks under `rugpi/`
// recording the default boot partition, and a separate per-boot-slot
// env file in the ESP that Grub's config patches its `root=` search
// from.
type GrubEfi struct {
	configPath string
}

func NewGrubEfi(configPath string) *GrubEfi { return &GrubEfi{configPath: configPath} }

func (g *GrubEfi) Name() string { return "grub-efi" }

func (g *GrubEfi) primaryPath() string   { return g.configPath + "/rugpi/primary.grubenv" }
func (g *GrubEfi) secondaryPath() string { return g.configPath + "/rugpi/secondary.grubenv" }

// GetDefault reads the primary grubenv's RUGIX_BOOTPART key and maps
// it back to its owning boot group.
func (g *GrubEfi) GetDefault(sys *system.System) (string, error) {
	env, err := grubenv.Load(g.primaryPath())
	if err != nil {
		return "", err
	}
	value, ok := env.Get(grubenv.RugixBootpartKey)
	if !ok {
		return "", rugerr.New(rugerr.KindBootflowDetect, "primary.grubenv has no RUGIX_BOOTPART key")
	}
	for name, group := range sys.BootGroups {
		number, err := partitionNumberForGroup(sys, name)
		if err != nil {
			continue
		}
		if sprintfTemplate("%d", int(number)) == value {
			return group.Name, nil
		}
	}
	return "", rugerr.Newf(rugerr.KindBootflowDetect, "primary.grubenv names partition %q, which matches no boot group", value)
}

// Commit writes the active boot group's system partition number to
// *both* grubenv copies, secondary first and then primary, so a
// reader never observes a state where neither copy is valid (spec
// §6's "two copies... for bootloader-side fallback if one is torn").
func (g *GrubEfi) Commit(sys *system.System) error {
	if sys.ActiveGroup == "" {
		return rugerr.New(rugerr.KindBootflowDetect, "no active boot group to commit")
	}
	number, err := partitionNumberForGroup(sys, sys.ActiveGroup)
	if err != nil {
		return err
	}
	env := grubenv.New()
	env.Set(grubenv.RugixBootpartKey, sprintfTemplate("%d", int(number)))

	cp, err := sys.RequireConfigPartition()
	if err != nil {
		return err
	}
	return system.EnsureWritableVoid(cp, func() error {
		if err := env.WriteWithHash(g.secondaryPath()); err != nil {
			return err
		}
		return env.WriteWithHash(g.primaryPath())
	})
}

// SetTryNext has no one-shot concept of its own in the GRUB flow;
// Grub's config always boots RUGIX_BOOTPART, so "trying" group is the
// same as committing to it. Matches original_source's GrubEfi flow,
// which defers try-next straight to commit.
func (g *GrubEfi) SetTryNext(sys *system.System, group string) error {
	if _, ok := sys.BootGroups[group]; !ok {
		return rugerr.Newf(rugerr.KindBootflowDetect, "unknown boot group %q", group)
	}
	saved := sys.ActiveGroup
	sys.ActiveGroup = group
	defer func() { sys.ActiveGroup = saved }()
	return g.Commit(sys)
}

func (g *GrubEfi) PreInstall(*system.System, string) error { return nil }

// PostInstall patches group's boot slot's own per-slot env file (the
// one that slot's Grub config sources to pick a root filesystem) with
// the new system partition's reference, distinct from the
// primary/secondary grubenv pair above.
func (g *GrubEfi) PostInstall(sys *system.System, group string) error {
	bg, ok := sys.BootGroups[group]
	if !ok {
		return rugerr.Newf(rugerr.KindBootflowDetect, "unknown boot group %q", group)
	}
	bootSlotName, ok := bg.Slots["boot"]
	if !ok {
		return rugerr.Newf(rugerr.KindBootflowDetect, "boot group %q has no boot slot", group)
	}
	bootSlot, ok := sys.Slots[bootSlotName]
	if !ok {
		return rugerr.Newf(rugerr.KindBootflowDetect, "boot group %q's boot slot %q is not resolved", group, bootSlotName)
	}

	root, err := rootReference(sys)(group)
	if err != nil {
		return err
	}

	return mounted(bootSlot.Device, func(mountPoint string) error {
		env := grubenv.New()
		env.Set(rugixRootKey, root)
		return env.WriteWithHash(filepath.Join(mountPoint, "rugix", "boot.grubenv"))
	})
}
