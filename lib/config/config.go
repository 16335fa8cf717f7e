// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads the TOML configuration files spec §6 names:
// system configuration (slots, boot groups, boot flow, config
// partition location), first-boot bootstrapping configuration, and
// persistent-state configuration (overlay mode, persist entries).
// Grounded on original_source's crate::config::{system,bootstrapping,
// state} modules (referenced from init.rs but not themselves
// retrieved into the pack) and spec §6's field-level prose.
package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"

	"rugix.dev/ctrl-ng/lib/byteunit"
	"rugix.dev/ctrl-ng/lib/rugerr"
	"rugix.dev/ctrl-ng/lib/system"
)

// DefaultSystemConfigPath is where `system.toml` conventionally lives
// on the running root filesystem.
const DefaultSystemConfigPath = "/etc/rugix/system.toml"

// DefaultBootstrapConfigPath is where the first-boot layout override
// conventionally lives.
const DefaultBootstrapConfigPath = "/etc/rugix/bootstrapping.toml"

// DefaultStateConfigPath is where the persistent-state configuration
// conventionally lives.
const DefaultStateConfigPath = "/etc/rugix/state.toml"

// PartitionRef selects a partition either by number (resolved against
// the live parent disk) or by an explicit device path.
type PartitionRef struct {
	Partition *uint8  `toml:"partition,omitempty"`
	Device    *string `toml:"device,omitempty"`
}

// SlotConfig is one `[slots.<name>]` table entry.
type SlotConfig struct {
	Kind      system.SlotKind `toml:"kind"`
	Partition uint8           `toml:"partition"`
}

// BootGroupConfig is one `[boot_groups.<name>]` table entry.
type BootGroupConfig struct {
	Slots map[string]string `toml:"slots"`
}

// SystemConfig is the top-level `system.toml` shape.
type SystemConfig struct {
	ConfigPartition *PartitionRef               `toml:"config_partition,omitempty"`
	DataPartition   *PartitionRef               `toml:"data_partition,omitempty"`
	Slots           map[string]SlotConfig       `toml:"slots,omitempty"`
	BootGroups      map[string]BootGroupConfig  `toml:"boot_groups,omitempty"`
	BootFlow        string                      `toml:"boot_flow,omitempty"`
	CustomBootFlow  *string                     `toml:"custom_boot_flow_controller,omitempty"`
}

// LoadSystemConfig reads and parses path, or returns an empty
// SystemConfig if it does not exist (every field then falls back to
// spec §4.6.1's defaults).
func LoadSystemConfig(path string) (*SystemConfig, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &SystemConfig{}, nil
	}
	if err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to read system configuration")
	}
	var cfg SystemConfig
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to parse system configuration")
	}
	return &cfg, nil
}

// Slots returns the configured slots, or spec §4.6.1's conventional
// defaults (keyed by table type) if none were configured.
func (c *SystemConfig) Slots(isGPT bool) []system.SlotConfig {
	if len(c.Slots) == 0 {
		defaults := system.DefaultSlotsMBR
		if isGPT {
			defaults = system.DefaultSlotsGPT
		}
		out := make([]system.SlotConfig, 0, len(defaults))
		for name, number := range defaults {
			kind := system.SlotKindSystem
			if name == "boot-a" || name == "boot-b" {
				kind = system.SlotKindBoot
			}
			out = append(out, system.SlotConfig{Name: name, Kind: kind, Partition: number})
		}
		return out
	}
	out := make([]system.SlotConfig, 0, len(c.Slots))
	for name, sc := range c.Slots {
		out = append(out, system.SlotConfig{Name: name, Kind: sc.Kind, Partition: sc.Partition})
	}
	return out
}

// BootGroups returns the configured boot groups, or spec §4.6.1's
// conventional a/b defaults if none were configured.
func (c *SystemConfig) BootGroups() []system.GroupConfig {
	if len(c.BootGroups) == 0 {
		out := make([]system.GroupConfig, 0, len(system.DefaultBootGroups))
		for name, slots := range system.DefaultBootGroups {
			out = append(out, system.GroupConfig{Name: name, Slots: slots})
		}
		return out
	}
	out := make([]system.GroupConfig, 0, len(c.BootGroups))
	for name, gc := range c.BootGroups {
		out = append(out, system.GroupConfig{Name: name, Slots: gc.Slots})
	}
	return out
}

// OverlayMode is the root-overlay persistence strategy (spec §4.6.5).
type OverlayMode string

const (
	OverlayPersist  OverlayMode = "persist"
	OverlayDiscard  OverlayMode = "discard"
	OverlayInMemory OverlayMode = "in_memory"
	OverlayDisabled OverlayMode = "disabled"
)

// PersistEntry is one `[[persist]]` entry: either a directory or a
// file (with an optional default content), spec §4.6.6.
type PersistEntry struct {
	Directory *string `toml:"directory,omitempty"`
	File      *string `toml:"file,omitempty"`
	Default   *string `toml:"default,omitempty"`
}

// StateConfig is the top-level `state.toml` shape.
type StateConfig struct {
	Overlay OverlayMode    `toml:"overlay,omitempty"`
	Persist []PersistEntry `toml:"persist,omitempty"`
}

// LoadStateConfig reads and parses path, or returns a StateConfig
// defaulting to OverlayDiscard (spec §4.6.5's default) if it does not
// exist.
func LoadStateConfig(path string) (*StateConfig, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &StateConfig{Overlay: OverlayDiscard}, nil
	}
	if err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to read state configuration")
	}
	var cfg StateConfig
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to parse state configuration")
	}
	if cfg.Overlay == "" {
		cfg.Overlay = OverlayDiscard
	}
	return &cfg, nil
}

// BootstrapFilesystem names the filesystem to format a newly-created
// bootstrap partition with (spec §4.6.4 step 3.d).
type BootstrapFilesystem struct {
	Ext4 *struct {
		Label string `toml:"label,omitempty"`
	} `toml:"ext4,omitempty"`
}

// BootstrapPartitionConfig is one partition entry of an explicit
// bootstrap layout override.
type BootstrapPartitionConfig struct {
	Name       *string               `toml:"name,omitempty"`
	Size       *byteunit.NumBytes    `toml:"size,omitempty"`
	Type       *string               `toml:"type,omitempty"`
	Filesystem *BootstrapFilesystem  `toml:"filesystem,omitempty"`
}

// BootstrapLayout selects the target layout for first-boot
// repartitioning: an explicit partition list, or the generic
// default schema sized by SystemSize.
type BootstrapLayout struct {
	Partitions []BootstrapPartitionConfig `toml:"partitions,omitempty"`
	SystemSize *byteunit.NumBytes         `toml:"system_size,omitempty"`
}

// BootstrappingConfig is the top-level `bootstrapping.toml` shape.
type BootstrappingConfig struct {
	Disabled bool             `toml:"disabled,omitempty"`
	Layout   *BootstrapLayout `toml:"layout,omitempty"`
}

// LoadBootstrapConfig reads and parses path, or returns an empty
// (default-layout) BootstrappingConfig if it does not exist.
func LoadBootstrapConfig(path string) (*BootstrappingConfig, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &BootstrappingConfig{}, nil
	}
	if err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to read bootstrapping configuration")
	}
	var cfg BootstrappingConfig
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to parse bootstrapping configuration")
	}
	return &cfg, nil
}
