// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package system

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"rugix.dev/ctrl-ng/lib/rugerr"
)

// findmntExe is the findmnt executable, matching original_source's
// partitions::FINDMNT.
const findmntExe = "/usr/bin/findmnt"

// MountPointSystem and MountPointConfig are the well-known mount
// points pre-init arranges before handing control to the rest of the
// runtime, matching original_source's paths::{MOUNT_POINT_SYSTEM,
// MOUNT_POINT_CONFIG}.
const (
	MountPointSystem = "/run/rugix/mounts/system"
	MountPointConfig = "/run/rugix/mounts/config"
)

// FindBlockDevice returns the device node mounted at path, by
// shelling out to findmnt, matching original_source's partitions::
// find_dev / disk::blkdev::find_block_device.
func FindBlockDevice(path string) (string, error) {
	out, err := exec.Command(findmntExe, "-n", "-o", "SOURCE", "--target", path).Output()
	if err != nil {
		return "", rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to run findmnt")
	}
	device := strings.TrimSpace(string(out))
	if device == "" {
		return "", rugerr.Newf(rugerr.KindIO, "no block device mounted at %s", path)
	}
	return device, nil
}

// FindParentDevice resolves a partition device node (e.g.
// /dev/mmcblk0p2) to the whole-disk device it belongs to (e.g.
// /dev/mmcblk0), by reading the partition's "../dev" relationship
// under /sys/class/block, matching original_source's
// BlockDevice::find_parent.
func FindParentDevice(partitionDevice string) (string, error) {
	name := filepath.Base(partitionDevice)
	link := filepath.Join("/sys/class/block", name)
	resolved, err := filepath.EvalSymlinks(link)
	if err != nil {
		return "", rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to resolve sysfs block entry")
	}
	parentName := filepath.Base(filepath.Dir(resolved))
	if parentName == "block" || parentName == name {
		// No parent directory one level up: this device is already a
		// whole disk, not a partition.
		return "", rugerr.Newf(rugerr.KindIO, "%s has no parent block device", partitionDevice)
	}
	return filepath.Join("/dev", parentName), nil
}

// DetectRoot locates the live root's block device and its parent
// disk, warning (rather than failing) on any step that cannot be
// resolved, matching original_source's SystemRoot::detect, which
// tolerates a missing parent/table when running outside its expected
// environment (e.g. under a container during development).
func DetectRoot() (device, parent string) {
	mountedAt := "/"
	if _, err := os.Stat(MountPointSystem); err == nil {
		mountedAt = MountPointSystem
	}

	device, err := FindBlockDevice(mountedAt)
	if err != nil {
		logrus.WithError(err).Warn("system: error determining root block device")
		return "", ""
	}

	parent, err = FindParentDevice(device)
	if err != nil {
		logrus.WithError(err).Warn("system: error determining root device's parent")
		return device, ""
	}
	return device, parent
}
