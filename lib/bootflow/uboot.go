// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bootflow

import (
	"os"

	"rugix.dev/ctrl-ng/lib/bootflow/ubootenv"
	"rugix.dev/ctrl-ng/lib/rugerr"
	"rugix.dev/ctrl-ng/lib/system"
)

// defaultPartitionKey is the key U-Boot's boot script reads out of
// bootpart.default.env to pick which system partition to mount,
// matching spec §6's control-artifacts table.
const defaultPartitionKey = "bootpart"

// sparePartitionKey flags whether the boot script should try the
// spare slot this one boot, matching spec §6's boot_spare.env.
const sparePartitionKey = "boot_spare"

// UBoot implements the U-Boot environment-block boot flow (spec
// §4.6.2, §6): a persistent default in `bootpart.default.env` and a
// one-shot try-next flag toggled across a pair of pre-rendered
// `boot_spare.{enabled,disabled}.env` files swapped in as
// `boot_spare.env`.
type UBoot struct {
	configPath string
}

func NewUBoot(configPath string) *UBoot { return &UBoot{configPath: configPath} }

func (u *UBoot) Name() string { return "u-boot" }

func (u *UBoot) defaultEnvPath() string  { return u.configPath + "/bootpart.default.env" }
func (u *UBoot) spareEnvPath() string    { return u.configPath + "/boot_spare.env" }
func (u *UBoot) spareEnabledPath() string  { return u.configPath + "/boot_spare.enabled.env" }
func (u *UBoot) spareDisabledPath() string { return u.configPath + "/boot_spare.disabled.env" }

// GetDefault reads the persistent default partition out of
// bootpart.default.env and maps it back to its owning boot group.
func (u *UBoot) GetDefault(sys *system.System) (string, error) {
	env, err := ubootenv.Load(u.defaultEnvPath())
	if err != nil {
		return "", err
	}
	value, ok := env.Get(defaultPartitionKey)
	if !ok {
		return "", rugerr.New(rugerr.KindBootflowDetect, "bootpart.default.env has no bootpart key")
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
	return "", rugerr.Newf(rugerr.KindBootflowDetect, "bootpart.default.env names partition %q, which matches no boot group", value)
}

// Commit writes the active boot group's system partition number as
// the new persistent default, and disarms any pending spare flag.
func (u *UBoot) Commit(sys *system.System) error {
	if sys.ActiveGroup == "" {
		return rugerr.New(rugerr.KindBootflowDetect, "no active boot group to commit")
	}
	number, err := partitionNumberForGroup(sys, sys.ActiveGroup)
	if err != nil {
		return err
	}
	env := ubootenv.New()
	env.Set(defaultPartitionKey, sprintfTemplate("%d", int(number)))

	cp, err := sys.RequireConfigPartition()
	if err != nil {
		return err
	}
	return system.EnsureWritableVoid(cp, func() error {
		if err := env.Save(u.defaultEnvPath()); err != nil {
			return err
		}
		return u.disarmSpareLocked()
	})
}

// SetTryNext arms boot_spare.env for one boot into group if it is not
// already the default, or disarms it if group is the default.
func (u *UBoot) SetTryNext(sys *system.System, group string) error {
	defaultGroup, err := u.GetDefault(sys)
	if err != nil {
		return err
	}
	cp, err := sys.RequireConfigPartition()
	if err != nil {
		return err
	}
	return system.EnsureWritableVoid(cp, func() error {
		if group == defaultGroup {
			return u.disarmSpareLocked()
		}
		if _, ok := sys.BootGroups[group]; !ok {
			return rugerr.Newf(rugerr.KindBootflowDetect, "unknown boot group %q", group)
		}
		return u.armSpareLocked()
	})
}

// armSpareLocked swaps boot_spare.enabled.env in as boot_spare.env;
// callers must already hold the config partition's write guard.
func (u *UBoot) armSpareLocked() error {
	raw, err := os.ReadFile(u.spareEnabledPath())
	if err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to read boot_spare.enabled.env")
	}
	return writeAtomic(u.spareEnvPath(), raw)
}

// disarmSpareLocked swaps boot_spare.disabled.env in as
// boot_spare.env; callers must already hold the config partition's
// write guard.
func (u *UBoot) disarmSpareLocked() error {
	raw, err := os.ReadFile(u.spareDisabledPath())
	if err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to read boot_spare.disabled.env")
	}
	return writeAtomic(u.spareEnvPath(), raw)
}

func (u *UBoot) PreInstall(*system.System, string) error { return nil }

// PostInstall patches the spare boot partition's firmware config with
// the new root filesystem's PARTUUID, shared with Tryboot's hook
// (original_source's tryboot_uboot_post_install serves both flows).
func (u *UBoot) PostInstall(sys *system.System, group string) error {
	return patchBootPartitionRoot(sys, group)
}
