// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package system

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"rugix.dev/ctrl-ng/lib/byteunit"
	"rugix.dev/ctrl-ng/lib/diskmodel"
	"rugix.dev/ctrl-ng/lib/rugerr"
)

func parseUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, rugerr.Wrap(rugerr.New(rugerr.KindParseFormat, err.Error()), "unable to parse uuid")
	}
	return id, nil
}

func parseDiskID(isGPT bool, raw string) (diskmodel.DiskId, error) {
	raw = strings.TrimPrefix(raw, "0x")
	if isGPT {
		id, err := parseUUID(raw)
		if err != nil {
			return diskmodel.DiskId{}, err
		}
		return diskmodel.GptDiskId(id), nil
	}
	n, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		return diskmodel.DiskId{}, rugerr.Wrap(rugerr.New(rugerr.KindParseFormat, err.Error()), "unable to parse mbr disk id")
	}
	return diskmodel.MbrDiskId(uint32(n)), nil
}

func parsePartitionType(isGPT bool, raw string) (diskmodel.PartitionType, error) {
	if isGPT {
		id, err := parseUUID(raw)
		if err != nil {
			return diskmodel.PartitionType{}, err
		}
		return diskmodel.GptType(id), nil
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(raw, "0x"), 16, 8)
	if err != nil {
		return diskmodel.PartitionType{}, rugerr.Wrap(rugerr.New(rugerr.KindParseFormat, err.Error()), "unable to parse mbr partition type")
	}
	return diskmodel.MbrType(uint8(n)), nil
}

// These executables are invoked exactly as original_source's
// rugpi-common/src/partitions.rs does, the "platform-specific ioctl
// equivalent" spec.md §4.5 deliberately leaves abstract.
const (
	sfdiskExe    = "/usr/sbin/sfdisk"
	partprobeExe = "/usr/sbin/partprobe"
	mkfsExt4Exe  = "/usr/sbin/mkfs.ext4"
	mkfsVfatExe  = "/usr/sbin/mkfs.vfat"
)

// sfdiskJSON mirrors the subset of `sfdisk --json`'s output schema
// this package reads; sfdisk emits many more fields, all ignored.
type sfdiskJSON struct {
	PartitionTable struct {
		Label      string `json:"label"`
		ID         string `json:"id"`
		Device     string `json:"device"`
		Unit       string `json:"unit"`
		SectorSize int    `json:"sectorsize"`
		Partitions []struct {
			Node  string `json:"node"`
			Start int64  `json:"start"`
			Size  int64  `json:"size"`
			Type  string `json:"type"`
			UUID  string `json:"uuid"`
			Name  string `json:"name"`
		} `json:"partitions"`
	} `json:"partitiontable"`
}

// ReadPartitionTable reads the on-disk partition table of device via
// `sfdisk --json`, translating it into diskmodel's in-memory model.
func ReadPartitionTable(device string) (*diskmodel.PartitionTable, error) {
	out, err := exec.Command(sfdiskExe, "--json", device).Output()
	if err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to run sfdisk --json")
	}

	var parsed sfdiskJSON
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindParseFormat, err.Error()), "unable to parse sfdisk --json output")
	}

	isGPT := parsed.PartitionTable.Label == "gpt"
	blockSize := byteunit.NumBytes(512)
	if parsed.PartitionTable.SectorSize > 0 {
		blockSize = byteunit.NumBytes(parsed.PartitionTable.SectorSize)
	}

	diskID, err := parseDiskID(isGPT, parsed.PartitionTable.ID)
	if err != nil {
		return nil, err
	}

	var diskSizeBytes int64
	if out, err := exec.Command("blockdev", "--getsize64", device).Output(); err == nil {
		diskSizeBytes, _ = strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	}

	partitions := make([]diskmodel.Partition, 0, len(parsed.PartitionTable.Partitions))
	for i, p := range parsed.PartitionTable.Partitions {
		ty, err := parsePartitionType(isGPT, p.Type)
		if err != nil {
			return nil, err
		}
		number := partitionNumberFromNode(p.Node)
		if number == 0 {
			number = uint8(i + 1)
		}
		part := diskmodel.Partition{
			Number: number,
			Start:  byteunit.NumBlocks(p.Start),
			Size:   byteunit.NumBlocks(p.Size),
			Type:   ty,
		}
		if p.Name != "" {
			name := p.Name
			part.Name = &name
		}
		if isGPT && p.UUID != "" {
			if gptID, err := parseUUID(p.UUID); err == nil {
				part.GptId = &gptID
			}
		}
		partitions = append(partitions, part)
	}

	table := diskmodel.NewPartitionTable(diskID, byteunit.NumBlocks(diskSizeBytes/int64(blockSize)))
	table.BlockSize = blockSize
	table.Partitions = partitions
	// Not validated here: a disk partitioned by a tool other than
	// Repart (or carrying primary+logical MBR numbering this reader's
	// sequential numbering doesn't attempt to reconstruct) need not
	// satisfy Validate's stricter, repart-authored-layout invariants.
	return table, nil
}

// SfdiskLayout is a pre-formatted sfdisk script, as produced by
// lib/diskmodel schemas rendered to sfdisk's `label:`/`unit:`/line
// syntax (see original_source's sfdisk_image_layout/
// sfdisk_system_layout for the exact grammar this mirrors).
type SfdiskLayout string

// ApplyPartitionTable writes layout to device via `sfdisk --no-reread`
// and, for a real block device (not a disk image file), re-reads the
// kernel's partition table via partprobe so new partitions become
// addressable before any mkfs step runs (spec §4.5).
func ApplyPartitionTable(device string, layout SfdiskLayout) error {
	cmd := exec.Command(sfdiskExe, "--no-reread", device)
	cmd.Stdin = bytes.NewReader([]byte(layout))
	if out, err := cmd.CombinedOutput(); err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, fmt.Sprintf("%s: %s", err, out)), "unable to run sfdisk")
	}
	if isBlockDevice(device) {
		if out, err := exec.Command(partprobeExe, device).CombinedOutput(); err != nil {
			return rugerr.Wrap(rugerr.New(rugerr.KindIO, fmt.Sprintf("%s: %s", err, out)), "unable to run partprobe")
		}
	}
	return nil
}

// GetDiskID returns the MBR disk signature or GPT disk GUID of path
// (an image file or a block device), via `sfdisk --disk-id`.
func GetDiskID(path string) (string, error) {
	out, err := exec.Command(sfdiskExe, "--disk-id", path).Output()
	if err != nil {
		return "", rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to run sfdisk --disk-id")
	}
	id := strings.TrimSpace(string(out))
	id = strings.TrimPrefix(id, "0x")
	if id == "" {
		return "", rugerr.New(rugerr.KindParseFormat, "sfdisk returned an empty disk id")
	}
	return id, nil
}

// MkfsExt4 formats dev with an ext4 filesystem labeled label.
func MkfsExt4(dev, label string) error {
	out, err := exec.Command(mkfsExt4Exe, "-F", "-L", label, dev).CombinedOutput()
	if err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, fmt.Sprintf("%s: %s", err, out)), "unable to run mkfs.ext4")
	}
	return nil
}

// MkfsVfat formats dev with a FAT32 filesystem labeled label.
func MkfsVfat(dev, label string) error {
	out, err := exec.Command(mkfsVfatExe, "-n", label, dev).CombinedOutput()
	if err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, fmt.Sprintf("%s: %s", err, out)), "unable to run mkfs.vfat")
	}
	return nil
}

// partitionNumberFromNode extracts the trailing partition number from
// an sfdisk "node" path (e.g. "/dev/sda5" or "/dev/mmcblk0p5"),
// preserving the primary/logical numbering convention sfdisk itself
// assigns, which is not necessarily sequential in listing order once
// an extended/logical MBR layout is involved. Returns 0 if node has
// no trailing digits.
func partitionNumberFromNode(node string) uint8 {
	i := len(node)
	for i > 0 && node[i-1] >= '0' && node[i-1] <= '9' {
		i--
	}
	if i == len(node) {
		return 0
	}
	n, err := strconv.ParseUint(node[i:], 10, 8)
	if err != nil {
		return 0
	}
	return uint8(n)
}

func isBlockDevice(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeDevice != 0 && fi.Mode()&os.ModeCharDevice == 0
}
