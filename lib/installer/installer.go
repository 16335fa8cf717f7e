// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package installer orchestrates `update install` (spec §4.6.7):
// dispatching a streamed disk image or a structured bundle onto the
// spare boot group's slots, driving boot-flow pre/post-install hooks,
// and arming or deferring the reboot into the newly-written group.
// Grounded on original_source/tools/rugix-ctrl/src/system/mod.rs's
// `install` entry point and rugpi-common's disk/stream.rs.
package installer

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"rugix.dev/ctrl-ng/lib/bootflow"
	"rugix.dev/ctrl-ng/lib/rugerr"
	"rugix.dev/ctrl-ng/lib/rugixhash"
	"rugix.dev/ctrl-ng/lib/system"
)

// RebootMode selects what happens after a successful install, matching
// the `--reboot {yes|no|deferred}`/`--no-reboot` CLI flags (spec §6).
type RebootMode int

const (
	RebootYes RebootMode = iota
	RebootNo
	RebootDeferred
)

// Options configures one `update install` run.
type Options struct {
	// BootEntry overrides the installer's default target-group
	// resolution (the first non-active boot group).
	BootEntry string

	// CheckHash is the expected running hash of a streamed raw
	// image, checked after the whole stream is consumed
	// (`--check-hash <algorithm>:<hex>`).
	CheckHash *rugixhash.Digest

	// VerifyBundleHeader is the expected hash of a bundle's
	// header atom, checked before any payload is installed
	// (`--verify-bundle <algorithm>:<hex>`).
	VerifyBundleHeader *rugixhash.Digest

	// KeepOverlay skips wiping the target group's overlay
	// directory before installing.
	KeepOverlay bool

	// WithoutBootFlow skips both PreInstall and PostInstall
	// hooks (a hidden flag, for boot flows under manual control).
	WithoutBootFlow bool

	Reboot RebootMode

	// StateMountPoint is where persistent state lives at runtime,
	// used to resolve the target group's overlay directory.
	// Defaults to lib/preinit's bind-mount target.
	StateMountPoint string
}

const defaultStateMountPoint = "/run/rugix/state"
const deferredSpareRebootFlag = ".rugix/deferred-spare-reboot"
const oneMebibyte = 1 << 20

// Install dispatches source by content and installs it onto the
// system's spare boot group, per spec §4.6.7.
func Install(sys *system.System, source io.Reader, flow bootflow.BootFlow, opts Options) error {
	target, err := resolveTargetGroup(sys, flow, opts.BootEntry)
	if err != nil {
		return err
	}

	peeked := bufio.NewReaderSize(source, 1<<16)
	header, err := peeked.Peek(16)
	if err != nil && err != io.EOF {
		return rugerr.Wrap(rugerr.New(rugerr.KindUnexpectedEOF, err.Error()), "unable to read update source")
	}

	if !opts.KeepOverlay {
		wipeOverlay(opts.stateMountPoint(), target.Name)
	}

	installedSlots := make([]*system.Slot, 0, len(target.Slots))
	fail := func(installErr error) error {
		for _, slot := range installedSlots {
			if zerr := slot.ZeroHead(oneMebibyte); zerr != nil {
				logrus.WithError(zerr).Warn("installer: unable to zero spare slot after failed install")
			}
		}
		return installErr
	}

	if !opts.WithoutBootFlow {
		if err := flow.PreInstall(sys, target.Name); err != nil {
			return fail(rugerr.Wrap(err, "boot flow pre-install hook failed"))
		}
	}

	switch DetectSourceKind(header) {
	case SourceBundle:
		slots, err := installBundle(sys, target, peeked, opts)
		installedSlots = slots
		if err != nil {
			return fail(err)
		}
	default:
		slots, err := installRawImage(sys, target, peeked, header, opts)
		installedSlots = slots
		if err != nil {
			return fail(err)
		}
	}

	if !opts.WithoutBootFlow {
		if err := flow.PostInstall(sys, target.Name); err != nil {
			return fail(rugerr.Wrap(err, "boot flow post-install hook failed"))
		}
	}

	return finishReboot(sys, flow, target.Name, opts)
}

func (o Options) stateMountPoint() string {
	if o.StateMountPoint != "" {
		return o.StateMountPoint
	}
	return defaultStateMountPoint
}

// resolveTargetGroup implements spec §4.6.7 step 2: opts.BootEntry or
// the first non-active group, refusing an active group or one where a
// previous update is still unconfirmed.
func resolveTargetGroup(sys *system.System, flow bootflow.BootFlow, bootEntry string) (*system.BootGroup, error) {
	var target *system.BootGroup
	if bootEntry != "" {
		target = sys.BootGroups[bootEntry]
		if target == nil {
			return nil, rugerr.Newf(rugerr.KindMissingSlot, "no boot group named %q", bootEntry)
		}
	} else {
		target = sys.SpareBootGroup()
		if target == nil {
			return nil, rugerr.New(rugerr.KindMissingSlot, "no spare boot group available")
		}
	}
	if target.Name == sys.ActiveGroup {
		return nil, rugerr.New(rugerr.KindNeedsCommit, "refusing to install onto the active boot group")
	}
	defaultGroup, err := flow.GetDefault(sys)
	if err != nil {
		return nil, rugerr.Wrap(err, "unable to determine current boot flow default")
	}
	if sys.NeedsCommit(defaultGroup) {
		return nil, rugerr.New(rugerr.KindNeedsCommit, "a previous update is unconfirmed; commit or roll back first")
	}
	return target, nil
}

// wipeOverlay removes the target group's persisted overlay upper
// directory, unless --keep-overlay was set (spec §4.6.7 step 3).
func wipeOverlay(stateMountPoint, group string) {
	dir := filepath.Join(stateMountPoint, "overlay", group)
	if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("installer: unable to wipe target group's overlay directory")
	}
}

// finishReboot arms the bootloader and reboots, defers the reboot via
// a flag file lib/preinit's pre-init honours on the next boot, or does
// nothing, matching spec §4.6.7's final step.
func finishReboot(sys *system.System, flow bootflow.BootFlow, target string, opts Options) error {
	switch opts.Reboot {
	case RebootNo:
		return nil
	case RebootDeferred:
		return writeDeferredSpareRebootFlag(opts.stateMountPoint())
	default:
		if err := flow.SetTryNext(sys, target); err != nil {
			return rugerr.Wrap(err, "unable to arm boot flow for spare group")
		}
		return reboot()
	}
}

func writeDeferredSpareRebootFlag(stateMountPoint string) error {
	path := filepath.Join(stateMountPoint, deferredSpareRebootFlag)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to create state directory")
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to write deferred spare reboot flag")
	}
	return nil
}

func reboot() error {
	if err := exec.Command("reboot").Run(); err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to invoke reboot")
	}
	return nil
}
