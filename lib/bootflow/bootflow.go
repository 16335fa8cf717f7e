// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package bootflow implements the boot-flow state machine (spec
// §4.6.2): Tryboot, U-Boot, Grub/EFI and Custom realizations of
// set_try_next/get_default/commit/pre_install/post_install, grounded
// on original_source's tools/rugix-ctrl/src/system/boot_flows/mod.rs.
package bootflow

import (
	"rugix.dev/ctrl-ng/lib/rugerr"
	"rugix.dev/ctrl-ng/lib/system"
)

// BootFlow is a bootloader-specific realization of the boot-flow
// state machine every installer/commit operation drives.
type BootFlow interface {
	// Name identifies the flow for diagnostics and `system info`.
	Name() string

	// SetTryNext arranges for group to be tried on the next boot; if
	// booting it fails, the bootloader falls back to the current
	// default. May itself change the default (e.g. GrubEfi has no
	// one-shot flag, so its SetTryNext commits group as the default).
	SetTryNext(sys *system.System, group string) error

	// GetDefault returns the boot group the bootloader will pick by
	// default absent any try-next override.
	GetDefault(sys *system.System) (string, error)

	// Commit makes the active boot group the default.
	Commit(sys *system.System) error

	// PreInstall runs before installing an update targeting group.
	PreInstall(sys *system.System, group string) error

	// PostInstall runs after installing an update targeting group,
	// patching any bootloader-side control files the new payload
	// needs (e.g. a root filesystem UUID reference).
	PostInstall(sys *system.System, group string) error
}

// NopHooks supplies no-op PreInstall/PostInstall, embedded by flows
// that don't need either hook.
type NopHooks struct{}

func (NopHooks) PreInstall(*system.System, string) error  { return nil }
func (NopHooks) PostInstall(*system.System, string) error { return nil }

// pairedGroups resolves the two boot groups every built-in flow
// assumes exist (named "a"/"b", matching system.DefaultBootGroups),
// matching original_source's rugix_boot_flow helper's "exactly two
// entries" assumption.
func pairedGroups(sys *system.System) (a, b string, err error) {
	if _, ok := sys.BootGroups["a"]; !ok {
		return "", "", rugerr.New(rugerr.KindBootflowDetect, "boot flow requires a boot group named \"a\"")
	}
	if _, ok := sys.BootGroups["b"]; !ok {
		return "", "", rugerr.New(rugerr.KindBootflowDetect, "boot flow requires a boot group named \"b\"")
	}
	return "a", "b", nil
}

// Detect picks a built-in flow by probing the config partition for
// each flow's characteristic control file, matching
// original_source's boot_flows::from_config's no-config-override
// branch.
func Detect(configPartitionPath string) (BootFlow, error) {
	if fileExists(configPartitionPath + "/autoboot.txt") {
		return NewTryboot(configPartitionPath), nil
	}
	if fileExists(configPartitionPath + "/bootpart.default.env") {
		return NewUBoot(configPartitionPath), nil
	}
	if fileExists(configPartitionPath+"/rugpi/primary.grubenv") && dirExists(configPartitionPath+"/EFI") {
		return NewGrubEfi(configPartitionPath), nil
	}
	return nil, rugerr.New(rugerr.KindBootflowDetect, "unable to detect boot flow")
}
