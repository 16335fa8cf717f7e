// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"rugix.dev/ctrl-ng/lib/bootflow"
	"rugix.dev/ctrl-ng/lib/config"
	"rugix.dev/ctrl-ng/lib/rugerr"
	"rugix.dev/ctrl-ng/lib/system"
)

// runtimeSystem bundles the resolved system view with the boot flow
// realization the CLI's subcommands drive it through.
type runtimeSystem struct {
	sys  *system.System
	flow bootflow.BootFlow
}

// loadRuntimeSystem resolves the live running system exactly as
// pre-init does (system.toml, the live root device, the partition
// table, the config partition), then picks a boot flow either from
// system.toml's explicit override or by autoprobing the config
// partition, matching original_source/tools/rugix-ctrl/src/system/
// mod.rs's `System::initialize`.
func loadRuntimeSystem(systemConfigPath string) (*runtimeSystem, error) {
	cfg, err := config.LoadSystemConfig(systemConfigPath)
	if err != nil {
		return nil, err
	}

	liveRootDevice, parentDevice := system.DetectRoot()
	if parentDevice == "" {
		return nil, rugerr.New(rugerr.KindIO, "unable to determine the running root filesystem's parent device")
	}

	table, err := system.ReadPartitionTable(parentDevice)
	if err != nil {
		return nil, rugerr.Wrap(err, "unable to read partition table")
	}

	sys, err := system.Resolve(table, parentDevice, cfg.Slots(table.IsGPT()), cfg.BootGroups(), liveRootDevice)
	if err != nil {
		return nil, rugerr.Wrap(err, "unable to resolve system")
	}
	sys.ConfigPart = system.NewConfigPartition(system.MountPointConfig).WithProtected(true)

	flow, err := resolveBootFlow(cfg, sys.ConfigPart.Path())
	if err != nil {
		return nil, err
	}

	return &runtimeSystem{sys: sys, flow: flow}, nil
}

// resolveBootFlow honors system.toml's explicit `boot_flow`/
// `custom_boot_flow_controller` override before falling back to
// autoprobing the config partition's control files.
func resolveBootFlow(cfg *config.SystemConfig, configPartitionPath string) (bootflow.BootFlow, error) {
	switch cfg.BootFlow {
	case "":
		return bootflow.Detect(configPartitionPath)
	case "tryboot":
		return bootflow.NewTryboot(configPartitionPath), nil
	case "u-boot":
		return bootflow.NewUBoot(configPartitionPath), nil
	case "grub-efi":
		return bootflow.NewGrubEfi(configPartitionPath), nil
	case "custom":
		if cfg.CustomBootFlow == nil {
			return nil, rugerr.New(rugerr.KindBootflowDetect, "boot_flow is \"custom\" but custom_boot_flow_controller is not set")
		}
		return bootflow.NewCustom(*cfg.CustomBootFlow), nil
	default:
		return nil, rugerr.Newf(rugerr.KindBootflowDetect, "unknown boot_flow %q", cfg.BootFlow)
	}
}
