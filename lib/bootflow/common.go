// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bootflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"rugix.dev/ctrl-ng/lib/rugerr"
	"rugix.dev/ctrl-ng/lib/system"
)

func sprintfTemplate(tmpl string, args ...int) string {
	ifaces := make([]any, len(args))
	for i, a := range args {
		ifaces[i] = a
	}
	return fmt.Sprintf(tmpl, ifaces...)
}

// writeAtomic writes data to path via a sibling `*.new` file followed
// by an fsync and rename, spec §5's cancellation-safe control-file
// write pattern.
func writeAtomic(path string, data []byte) error {
	newPath := path + ".new"
	f, err := os.OpenFile(newPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to create new control file")
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to write new control file")
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to sync new control file")
	}
	if err := f.Close(); err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to close new control file")
	}
	if err := os.Rename(newPath, path); err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to rename new control file into place")
	}
	return nil
}

// mounted temporarily mounts device at a fresh temp dir for the
// duration of fn, matching original_source's rugix_common::mount::
// Mounted::mount guard.
func mounted(device string, fn func(mountPoint string) error) error {
	dir, err := os.MkdirTemp("", "rugix-boot-")
	if err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to create temporary mount point")
	}
	defer func() { _ = os.RemoveAll(dir) }()

	if err := unix.Mount(device, dir, "vfat", 0, ""); err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to mount boot partition")
	}
	defer func() { _ = unix.Unmount(dir, 0) }()

	return fn(dir)
}

// partitionNumberForGroup returns the system-slot partition number
// backing group, used to build a PARTUUID reference for boot-config
// patching.
func partitionNumberForGroup(sys *system.System, group string) (uint8, error) {
	bg, ok := sys.BootGroups[group]
	if !ok {
		return 0, rugerr.Newf(rugerr.KindBootflowDetect, "unknown boot group %q", group)
	}
	slotName, ok := bg.Slots["system"]
	if !ok {
		return 0, rugerr.Newf(rugerr.KindBootflowDetect, "boot group %q has no system slot", group)
	}
	slot, ok := sys.Slots[slotName]
	if !ok {
		return 0, rugerr.Newf(rugerr.KindBootflowDetect, "boot group %q's system slot %q is not resolved", group, slotName)
	}
	return slot.PartitionNumber, nil
}

// rootReference builds the `root=` kernel parameter value for group,
// a PARTUUID for MBR disks (matching original_source's `PARTUUID=
// {disk_id}-{partition:02}`) or a GPT partition UUID.
func rootReference(sys *system.System) func(group string) (string, error) {
	return func(group string) (string, error) {
		number, err := partitionNumberForGroup(sys, group)
		if err != nil {
			return "", err
		}
		if sys.Disk == nil {
			return "", rugerr.New(rugerr.KindBootflowDetect, "no partition table available")
		}
		if sys.Disk.IsGPT() {
			for _, p := range sys.Disk.Partitions {
				if p.Number == number && p.GptId != nil {
					return "PARTUUID=" + p.GptId.String(), nil
				}
			}
			return "", rugerr.New(rugerr.KindBootflowDetect, "system partition has no gpt id")
		}
		id, err := system.GetDiskID(sys.ParentDevice)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("PARTUUID=%s-%02x", id, number), nil
	}
}

// patchBootPartitionRoot mounts group's boot slot and rewrites
// `cmdline.txt`'s `root=` parameter to point at group's system
// partition, matching original_source's tryboot_uboot_post_install
// (via rpi_patch_boot).
func patchBootPartitionRoot(sys *system.System, group string) error {
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
		return patchCmdline(filepath.Join(mountPoint, "cmdline.txt"), root)
	})
}

// patchCmdline replaces (or appends) the `root=` token of a one-line
// kernel cmdline file with newRoot.
func patchCmdline(path, newRoot string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to read cmdline.txt")
	}
	fields := strings.Fields(string(raw))
	replaced := false
	for i, f := range fields {
		if strings.HasPrefix(f, "root=") {
			fields[i] = "root=" + newRoot
			replaced = true
		}
	}
	if !replaced {
		fields = append(fields, "root="+newRoot)
	}
	return writeAtomic(path, []byte(strings.Join(fields, " ")+"\n"))
}
