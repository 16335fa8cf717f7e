// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package preinit implements the PID-1 first-stage bootstrap (spec
// §4.6.4): mounting essential filesystems, optionally repartitioning
// and formatting on first boot, resolving the running System, setting
// up the root overlay and persistent-state bind mounts, and finally
// pivoting into the real root filesystem's init. Grounded on
// original_source's tools/rugix-ctrl/src/init.rs.
package preinit

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"rugix.dev/ctrl-ng/lib/bootflow"
	"rugix.dev/ctrl-ng/lib/config"
	"rugix.dev/ctrl-ng/lib/diskmodel"
	"rugix.dev/ctrl-ng/lib/rugerr"
	"rugix.dev/ctrl-ng/lib/system"
)

const (
	mountPointData        = "/run/rugix/mounts/data"
	stateDir              = "/run/rugix/state"
	defaultStateProfile   = "/run/rugix/mounts/data/state/default"
	deferredSpareReboot    = "deferred-spare-reboot"
	overlayDirData        = "/run/rugix/mounts/data/overlay"
	overlayDirMemory      = "/run/rugix/overlay"
)

const bootstrapMarker = ".rugix/bootstrap"

// Options configures one Run invocation; production callers leave
// these at their zero values and let Run discover everything from the
// live system, tests override paths to point at fixtures.
type Options struct {
	SystemConfigPath     string
	BootstrapConfigPath  string
	StateConfigPath      string
	KeepOverlay          bool
}

// Run executes the ordered bootstrap sequence and, on success, never
// returns -- it pivots into the real root filesystem's init process.
// A failure in most steps ends Run with an error; failures while
// mounting the essential filesystems, checking the data partition
// with fsck, executing a deferred spare reboot or removing the state
// profile on reset are only logged as warnings.
func Run(opts Options) error {
	if opts.SystemConfigPath == "" {
		opts.SystemConfigPath = config.DefaultSystemConfigPath
	}
	if opts.BootstrapConfigPath == "" {
		opts.BootstrapConfigPath = config.DefaultBootstrapConfigPath
	}
	if opts.StateConfigPath == "" {
		opts.StateConfigPath = config.DefaultStateConfigPath
	}

	mountEssentialFilesystems()

	sysConfig, err := config.LoadSystemConfig(opts.SystemConfigPath)
	if err != nil {
		return err
	}

	rootDevice, parentDevice := system.DetectRoot()
	if rootDevice == "" || parentDevice == "" {
		return rugerr.New(rugerr.KindMissingSlot, "unable to determine system root device")
	}

	configPartitionPath := resolveConfigPartitionDevice(sysConfig, parentDevice)
	if configPartitionPath == "" {
		return rugerr.New(rugerr.KindIO, "bootstrapping requires a config partition")
	}

	if err := os.MkdirAll(system.MountPointConfig, 0o755); err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to create config mount point")
	}
	if err := mountFS(configPartitionPath, system.MountPointConfig, "", unix.MS_RDONLY, ""); err != nil {
		return rugerr.Wrap(err, "unable to mount config partition")
	}

	markerPath := filepath.Join(system.MountPointConfig, bootstrapMarker)
	if fileExists(markerPath) {
		if err := bootstrap(parentDevice, opts.BootstrapConfigPath); err != nil {
			return rugerr.Wrap(err, "bootstrap failed")
		}
		if err := remountConfigPartition(false); err != nil {
			return err
		}
		if err := os.Remove(markerPath); err != nil {
			return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to remove bootstrap marker")
		}
		if err := remountConfigPartition(true); err != nil {
			return err
		}
		logrus.Info("preinit: done bootstrapping")
	}

	dataPartitionPath := resolveDataPartitionDevice(sysConfig, parentDevice)
	if dataPartitionPath == "" {
		return rugerr.New(rugerr.KindIO, "pre-init requires a data partition")
	}
	if err := runCmd("fsck", "-y", dataPartitionPath); err != nil {
		logrus.WithError(err).Warn("preinit: fsck reported issues on the data partition")
	}
	if err := os.MkdirAll(mountPointData, 0o755); err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to create data mount point")
	}
	if err := mountFS(dataPartitionPath, mountPointData, "", 0, "noatime"); err != nil {
		return rugerr.Wrap(err, "unable to mount data partition")
	}

	stateConfig, err := config.LoadStateConfig(opts.StateConfigPath)
	if err != nil {
		return err
	}

	if stateConfig.Overlay != config.OverlayDisabled {
		if err := os.MkdirAll(system.MountPointSystem, 0o755); err != nil {
			return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to create system mount point")
		}
		if err := mountFS(rootDevice, system.MountPointSystem, "", unix.MS_RDONLY, ""); err != nil {
			return rugerr.Wrap(err, "unable to mount system partition")
		}
	}

	disk, err := system.ReadPartitionTable(parentDevice)
	if err != nil {
		return err
	}
	sys, err := system.Resolve(disk, parentDevice, sysConfig.Slots(disk.IsGPT()), sysConfig.BootGroups(), rootDevice)
	if err != nil {
		return err
	}
	sys.ConfigPart = system.NewConfigPartition(system.MountPointConfig).WithProtected(true)

	if err := checkDeferredSpareReboot(sys); err != nil {
		logrus.WithError(err).Warn("preinit: error executing deferred reboot")
	}

	stateProfile := defaultStateProfile
	if fileExists(filepath.Join(stateProfile, ".rugix/reset-state")) {
		if err := os.RemoveAll(stateProfile); err != nil {
			logrus.WithError(err).Warn("preinit: unable to reset state profile")
		}
	}
	if err := os.MkdirAll(stateProfile, 0o755); err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to create state profile directory")
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to create state directory")
	}
	if err := mountFS(stateProfile, stateDir, "", unix.MS_BIND, ""); err != nil {
		return rugerr.Wrap(err, "unable to bind mount state profile")
	}

	rootDir, err := setupRootOverlay(sys, stateConfig, stateProfile, opts.KeepOverlay)
	if err != nil {
		return err
	}

	if err := setupPersistentState(rootDir, stateProfile, stateConfig); err != nil {
		return err
	}

	return execChrootInit(rootDir)
}

func mountEssentialFilesystems() {
	for _, m := range []struct{ fstype, source, target string }{
		{"proc", "proc", "/proc"},
		{"sysfs", "sys", "/sys"},
		{"tmpfs", "tmp", "/run"},
	} {
		if err := unix.Mount(m.source, m.target, m.fstype, 0, ""); err != nil {
			logrus.WithError(err).WithField("target", m.target).Warn("preinit: error mounting essential filesystem (may already be mounted)")
		}
	}
}

func mountFS(source, target, fstype string, flags uintptr, data string) error {
	if err := unix.Mount(source, target, fstype, flags, data); err != nil {
		return rugerr.New(rugerr.KindIO, fmt.Sprintf("mount %s -> %s: %s", source, target, err))
	}
	return nil
}

func remountConfigPartition(readOnly bool) error {
	flags := uintptr(unix.MS_REMOUNT)
	if readOnly {
		flags |= unix.MS_RDONLY
	}
	if err := unix.Mount("", system.MountPointConfig, "", flags, ""); err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to remount config partition")
	}
	return nil
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

func runCmd(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return rugerr.New(rugerr.KindIO, fmt.Sprintf("%s %s: %s: %s", name, strings.Join(args, " "), err, out))
	}
	return nil
}

func resolveConfigPartitionDevice(cfg *config.SystemConfig, parentDevice string) string {
	if cfg.ConfigPartition != nil {
		if cfg.ConfigPartition.Device != nil {
			return *cfg.ConfigPartition.Device
		}
		if cfg.ConfigPartition.Partition != nil {
			return devicePath(parentDevice, *cfg.ConfigPartition.Partition)
		}
		return ""
	}
	return devicePath(parentDevice, 1)
}

func resolveDataPartitionDevice(cfg *config.SystemConfig, parentDevice string) string {
	if cfg.DataPartition != nil {
		if cfg.DataPartition.Device != nil {
			return *cfg.DataPartition.Device
		}
		if cfg.DataPartition.Partition != nil {
			return devicePath(parentDevice, *cfg.DataPartition.Partition)
		}
	}
	disk, err := system.ReadPartitionTable(parentDevice)
	if err != nil {
		return ""
	}
	last := uint8(0)
	for _, p := range disk.Partitions {
		if p.Number > last {
			last = p.Number
		}
	}
	if last == 0 {
		return ""
	}
	return devicePath(parentDevice, last)
}

func devicePath(parent string, number uint8) string {
	if len(parent) == 0 {
		return ""
	}
	last := parent[len(parent)-1]
	if last >= '0' && last <= '9' {
		return fmt.Sprintf("%sp%d", parent, number)
	}
	return fmt.Sprintf("%s%d", parent, number)
}

// bootstrap repartitions and formats the disk on first boot per the
// bootstrapping configuration, matching original_source's
// init.rs::bootstrap.
func bootstrap(parentDevice, bootstrapConfigPath string) error {
	bootstrapHooksRun("prepare")

	bsConfig, err := config.LoadBootstrapConfig(bootstrapConfigPath)
	if err != nil {
		return err
	}
	if bsConfig.Disabled {
		logrus.Warn("preinit: bootstrap marker present but bootstrapping is disabled, skipping")
		return nil
	}

	oldTable, err := system.ReadPartitionTable(parentDevice)
	if err != nil {
		return err
	}

	schema := bootstrapSchema(bsConfig, oldTable.Type())

	bootstrapHooksRun("pre-layout")

	newTable, err := diskmodel.Repart(oldTable, schema)
	if err != nil {
		return rugerr.Wrap(err, "unable to compute new partition table")
	}
	if newTable != nil {
		layout := system.RenderSfdiskLayout(schema)
		if err := system.ApplyPartitionTable(parentDevice, layout); err != nil {
			return err
		}
		if err := runCmd("sync"); err != nil {
			return err
		}
		if err := formatNewPartitions(parentDevice, oldTable, newTable, bsConfig); err != nil {
			return err
		}
	}

	bootstrapHooksRun("post-layout")
	return nil
}

// bootstrapHooksRun is a placeholder hook point: original_source loads
// and runs shell-script hooks under /etc/rugix/hooks.d/bootstrap/<name>;
// no hook scripts were retrieved into the pack, so this logs the hook
// point instead of exec-ing a non-existent directory.
func bootstrapHooksRun(name string) {
	logrus.WithField("hook", name).Debug("preinit: bootstrap hook point")
}

func bootstrapSchema(cfg *config.BootstrappingConfig, tableType diskmodel.PartitionTableType) *diskmodel.PartitionSchema {
	systemSize, _ := diskmodel.ParseSize("4G")
	if cfg.Layout != nil && cfg.Layout.SystemSize != nil {
		systemSize = *cfg.Layout.SystemSize
	}
	if cfg.Layout == nil || len(cfg.Layout.Partitions) == 0 {
		if tableType == diskmodel.TableTypeGPT {
			return diskmodel.GenericEFISchema(systemSize)
		}
		return diskmodel.GenericMBRSchema(systemSize)
	}
	parts := make([]diskmodel.SchemaPartition, 0, len(cfg.Layout.Partitions))
	for _, p := range cfg.Layout.Partitions {
		sp := diskmodel.SchemaPartition{Name: p.Name, Size: p.Size}
		parts = append(parts, sp)
	}
	return &diskmodel.PartitionSchema{Type: tableType, Partitions: parts}
}

func formatNewPartitions(parentDevice string, oldTable, newTable *diskmodel.PartitionTable, cfg *config.BootstrappingConfig) error {
	oldCount := len(oldTable.Partitions)
	if cfg.Layout != nil && len(cfg.Layout.Partitions) > 0 {
		for idx, p := range cfg.Layout.Partitions {
			if p.Filesystem == nil || p.Filesystem.Ext4 == nil {
				continue
			}
			if idx < oldCount {
				logrus.WithField("partition", idx+1).Warn("preinit: refusing to format already-existing partition")
				continue
			}
			if idx >= len(newTable.Partitions) {
				continue
			}
			dev := devicePath(parentDevice, newTable.Partitions[idx].Number)
			if err := system.MkfsExt4(dev, p.Filesystem.Ext4.Label); err != nil {
				return err
			}
		}
		return nil
	}
	dataIdx := 6
	if newTable.IsMBR() {
		dataIdx = 6
	}
	if dataIdx < len(newTable.Partitions) && dataIdx >= oldCount {
		dev := devicePath(parentDevice, newTable.Partitions[dataIdx].Number)
		if err := system.MkfsExt4(dev, "data"); err != nil {
			return err
		}
	}
	return nil
}

// checkDeferredSpareReboot reboots to the spare boot group if a
// previous install requested it and the active group is still the
// committed default (spec §4.6.4 step 7).
func checkDeferredSpareReboot(sys *system.System) error {
	flagPath := filepath.Join(defaultStateProfile, ".rugix", deferredSpareReboot)
	if !fileExists(flagPath) {
		return nil
	}
	logrus.Info("preinit: executing deferred reboot to spare partitions")
	if err := os.Remove(flagPath); err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to clear deferred spare reboot flag")
	}
	unix.Sync()

	spare := sys.SpareBootGroup()
	if spare == nil {
		return nil
	}
	flow, err := bootflow.Detect(sys.ConfigPart.Path())
	if err != nil {
		return err
	}
	defaultGroup, err := flow.GetDefault(sys)
	if err != nil {
		return err
	}
	if sys.NeedsCommit(defaultGroup) {
		return nil
	}
	if err := flow.SetTryNext(sys, spare.Name); err != nil {
		return rugerr.Wrap(err, "unable to set next boot group")
	}
	return runCmd("reboot")
}

// setupRootOverlay builds the writable overlay per spec §4.6.5.
func setupRootOverlay(sys *system.System, cfg *config.StateConfig, stateProfile string, keepOverlay bool) (string, error) {
	overlayState := filepath.Join(stateProfile, "overlay")
	forcePersist := fileExists(filepath.Join(stateProfile, ".rugix/force-persist-overlay"))

	if cfg.Overlay == config.OverlayDisabled {
		return "/", nil
	}

	if !forcePersist && !keepOverlay && cfg.Overlay != config.OverlayPersist {
		_ = os.RemoveAll(overlayState)
	}

	var overlayDir, overlayRootDir, overlayWorkDir, upper string
	switch cfg.Overlay {
	case config.OverlayPersist, config.OverlayDiscard, "":
		group := sys.ActiveBootGroup()
		name := "unknown"
		if group != nil {
			name = group.Name
		}
		overlayDir = overlayDirData
		overlayRootDir = filepath.Join(overlayDir, "root")
		overlayWorkDir = filepath.Join(overlayDir, "work")
		upper = filepath.Join(overlayState, name)
	case config.OverlayInMemory:
		overlayDir = overlayDirMemory
		overlayRootDir = filepath.Join(overlayDir, "root")
		overlayWorkDir = filepath.Join(overlayDir, "work")
		upper = filepath.Join(overlayDir, "upper")
	default:
		return "", rugerr.Newf(rugerr.KindIO, "unknown overlay mode %q", cfg.Overlay)
	}

	_ = os.RemoveAll(overlayDir)
	for _, d := range []string{overlayWorkDir, overlayRootDir, upper} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return "", rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to create overlay directory")
		}
	}

	opts := fmt.Sprintf("noatime,lowerdir=%s,upperdir=%s,workdir=%s", system.MountPointSystem, upper, overlayWorkDir)
	if err := unix.Mount("overlay", overlayRootDir, "overlay", 0, opts); err != nil {
		return "", rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to set up root overlay")
	}
	if err := unix.Mount("/run", filepath.Join(overlayRootDir, "run"), "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return "", rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to rbind /run into overlay root")
	}
	return overlayRootDir, nil
}

// setupPersistentState wires the declared persist entries as bind
// mounts from the state profile into the overlay root (spec §4.6.6).
func setupPersistentState(rootDir, stateProfile string, cfg *config.StateConfig) error {
	persistDir := filepath.Join(stateProfile, "persist")
	if err := os.MkdirAll(stateProfile, 0o755); err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to create state profile directory")
	}

	for _, entry := range cfg.Persist {
		switch {
		case entry.Directory != nil:
			rel := stripRoot(*entry.Directory)
			systemPath := filepath.Join(rootDir, rel)
			statePath := filepath.Join(persistDir, rel)
			if _, err := os.Stat(statePath); err != nil {
				if err := os.RemoveAll(statePath); err != nil {
					return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to clear stale persist directory")
				}
				if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
					return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to create persist directory parent")
				}
				if fi, err := os.Stat(systemPath); err == nil && fi.IsDir() {
					if err := runCmd("cp", "-a", systemPath, statePath); err != nil {
						return err
					}
				} else if err := os.MkdirAll(statePath, 0o755); err != nil {
					return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to create empty persist directory")
				}
			}
			if err := os.MkdirAll(systemPath, 0o755); err != nil {
				return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to create system-side persist directory")
			}
			if err := unix.Mount(statePath, systemPath, "", unix.MS_BIND, ""); err != nil {
				return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to bind-mount persistent directory "+rel)
			}

		case entry.File != nil:
			rel := stripRoot(*entry.File)
			systemPath := filepath.Join(rootDir, rel)
			statePath := filepath.Join(persistDir, rel)
			if _, err := os.Stat(statePath); err != nil {
				if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
					return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to create persist file parent")
				}
				if fi, err := os.Stat(systemPath); err == nil && !fi.IsDir() {
					if err := runCmd("cp", "-a", systemPath, statePath); err != nil {
						return err
					}
				} else {
					def := ""
					if entry.Default != nil {
						def = *entry.Default
					}
					if err := os.WriteFile(statePath, []byte(def), 0o644); err != nil {
						return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to write default persist file")
					}
				}
			}
			if _, err := os.Stat(systemPath); err != nil {
				if err := os.MkdirAll(filepath.Dir(systemPath), 0o755); err != nil {
					return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to create system-side persist file parent")
				}
				if err := os.WriteFile(systemPath, nil, 0o644); err != nil {
					return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to initialize persist file")
				}
			}
			if err := unix.Mount(statePath, systemPath, "", unix.MS_BIND, ""); err != nil {
				return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to bind-mount persistent file "+rel)
			}
		}
	}
	return nil
}

func stripRoot(p string) string {
	return strings.TrimPrefix(p, "/")
}

// restoreMachineID mirrors the overlay root's `/etc/machine-id` into
// the state profile. If the state profile has no machine-id yet, it
// first writes a fresh random ID to the overlay root's
// `/etc/machine-id`; it then copies that file into the state profile,
// overwriting any copy already there.
func restoreMachineID(rootDir string) error {
	stateMachineID := filepath.Join(stateDir, "machine-id")
	systemMachineID := filepath.Join(rootDir, "etc/machine-id")
	if !fileExists(stateMachineID) {
		id := strings.ReplaceAll(uuid.New().String(), "-", "")
		if err := os.WriteFile(systemMachineID, []byte(id), 0o644); err != nil {
			return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to write machine-id")
		}
	}
	raw, err := os.ReadFile(systemMachineID)
	if err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to read machine-id")
	}
	if err := os.WriteFile(stateMachineID, raw, 0o644); err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to copy machine-id into state")
	}
	return nil
}

// execChrootInit pivots into rootDir and hands off to /sbin/init,
// matching original_source's exec_chroot_init (pivot_root + detached
// unmount of the old root, following the pivot_root(2) manpage
// example rather than chroot(2) to avoid breaking under Docker).
func execChrootInit(rootDir string) error {
	if rootDir != "/" {
		if err := restoreMachineID(rootDir); err != nil {
			return err
		}
		logrus.Info("preinit: switching to overlay root directory")
		if err := unix.Chdir(rootDir); err != nil {
			return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to switch to overlay directory")
		}
		logrus.Info("preinit: pivoting root mount point")
		if err := unix.PivotRoot(".", "."); err != nil {
			return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to pivot root directory")
		}
		logrus.Info("preinit: unmounting previous root filesystem")
		if err := unix.Unmount(".", unix.MNT_DETACH); err != nil {
			return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to unmount old root directory")
		}
	}
	logrus.Info("preinit: starting system init process")
	return unix.Exec("/sbin/init", []string{"/sbin/init"}, os.Environ())
}
