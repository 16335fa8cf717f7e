// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bootflow

import (
	"os"
	"strings"

	"rugix.dev/ctrl-ng/lib/rugerr"
	"rugix.dev/ctrl-ng/lib/system"
)

// autobootTemplate renders the canonical `autoboot.txt` body from two
// partition numbers, matching original_source's tryboot::AUTOBOOT_A/
// AUTOBOOT_B: the `[all]` section pins the persistent default, and the
// `[tryboot]` section is a one-shot override the firmware consumes
// only when booted with the `tryboot` kernel parameter.
const autobootTemplate = "[all]\nboot_partition=%d\n\n[tryboot]\nboot_partition=%d\n"

// Tryboot implements the Raspberry Pi firmware's `autoboot.txt`-based
// boot flow (spec §4.6.2).
type Tryboot struct {
	configPath string
}

// NewTryboot constructs a Tryboot flow against the given config
// partition path.
func NewTryboot(configPath string) *Tryboot { return &Tryboot{configPath: configPath} }

func (t *Tryboot) Name() string { return "tryboot" }

func (t *Tryboot) autobootPath() string { return t.configPath + "/autoboot.txt" }

// GetDefault parses `autoboot.txt`'s `[all]` section for
// `boot_partition=2|3`, matching spec §4.6.2.
func (t *Tryboot) GetDefault(sys *system.System) (string, error) {
	raw, err := os.ReadFile(t.autobootPath())
	if err != nil {
		return "", rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to read autoboot.txt")
	}
	a, b, err := pairedGroups(sys)
	if err != nil {
		return "", err
	}
	section := ""
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "["):
			section = line
		case section == "[all]" && line == "boot_partition=2":
			return a, nil
		case section == "[all]" && line == "boot_partition=3":
			return b, nil
		}
	}
	return "", rugerr.New(rugerr.KindBootflowDetect, "unable to determine boot partition from autoboot.txt")
}

// Commit rewrites `autoboot.txt` with the canonical template for the
// currently active boot group, via atomic rename.
func (t *Tryboot) Commit(sys *system.System) error {
	a, b, err := pairedGroups(sys)
	if err != nil {
		return err
	}
	var partition int
	switch sys.ActiveGroup {
	case a:
		partition = 2
	case b:
		partition = 3
	default:
		return rugerr.New(rugerr.KindBootflowDetect, "active boot group is not part of the A/B pair")
	}
	cp, err := sys.RequireConfigPartition()
	if err != nil {
		return err
	}
	return system.EnsureWritableVoid(cp, func() error {
		return writeAtomic(t.autobootPath(), []byte(sprintfTemplate(autobootTemplate, partition, partition)))
	})
}

// SetTryNext sets the `[tryboot]` section's boot_partition to group's
// partition (the one-shot flag the firmware consumes as "try once"),
// or clears it back to the current default when group is already
// default.
func (t *Tryboot) SetTryNext(sys *system.System, group string) error {
	a, b, err := pairedGroups(sys)
	if err != nil {
		return err
	}
	defaultGroup, err := t.GetDefault(sys)
	if err != nil {
		return err
	}

	var defaultPartition, tryPartition int
	switch defaultGroup {
	case a:
		defaultPartition = 2
	case b:
		defaultPartition = 3
	}
	tryPartition = defaultPartition
	if group != defaultGroup {
		switch group {
		case a:
			tryPartition = 2
		case b:
			tryPartition = 3
		default:
			return rugerr.New(rugerr.KindBootflowDetect, "group is not part of the A/B pair")
		}
	}

	cp, err := sys.RequireConfigPartition()
	if err != nil {
		return err
	}
	return system.EnsureWritableVoid(cp, func() error {
		return writeAtomic(t.autobootPath(), []byte(sprintfTemplate(autobootTemplate, defaultPartition, tryPartition)))
	})
}

func (t *Tryboot) PreInstall(*system.System, string) error { return nil }

// PostInstall patches the spare boot partition's firmware config with
// the new root filesystem's PARTUUID, matching original_source's
// tryboot_uboot_post_install.
func (t *Tryboot) PostInstall(sys *system.System, group string) error {
	return patchBootPartitionRoot(sys, group)
}
