// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package installer

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"rugix.dev/ctrl-ng/lib/bundle"
	"rugix.dev/ctrl-ng/lib/rugerr"
	"rugix.dev/ctrl-ng/lib/system"
)

// installBundle drives the bundle install path (spec §4.6.7 "Bundle
// path"): each payload whose slot role resolves within the target
// group is written to that slot's device, using a BlockProvider that
// indexes every other slot in the system for cross-slot
// deduplication; each update-script payload is written to a temp
// file, made executable, and run.
func installBundle(sys *system.System, target *system.BootGroup, source io.Reader, opts Options) ([]*system.Slot, error) {
	reader, err := bundle.Start(bundle.NewSource(source), opts.VerifyBundleHeader)
	if err != nil {
		return nil, rugerr.Wrap(err, "unable to start reading bundle")
	}

	var written []*system.Slot
	for {
		payload, err := reader.NextPayload()
		if err != nil {
			return written, rugerr.Wrap(err, "unable to read next bundle payload")
		}
		if payload == nil {
			break
		}

		entry := payload.Entry()
		switch {
		case entry.UpdateScript:
			if err := runUpdateScript(payload); err != nil {
				return written, rugerr.Wrap(err, "update script failed")
			}
		case entry.Slot != nil:
			slot, ok := resolveTargetSlot(sys, target, *entry.Slot)
			if !ok {
				logrus.WithField("slot", *entry.Slot).Warn("installer: payload names a slot role absent from the target group, skipping")
				if err := payload.Skip(); err != nil {
					return written, err
				}
				continue
			}
			if err := installPayloadToSlot(sys, reader, payload, slot); err != nil {
				return written, err
			}
			written = append(written, slot)
		default:
			if err := payload.Skip(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// resolveTargetSlot maps a payload's declared slot role (e.g. "boot",
// "system") to the target boot group's concrete slot, per spec
// §4.6.7's "If the payload declares a slot role matching the target
// group".
func resolveTargetSlot(sys *system.System, target *system.BootGroup, role string) (*system.Slot, bool) {
	name, ok := target.Slots[role]
	if !ok {
		return nil, false
	}
	slot, ok := sys.Slots[name]
	return slot, ok
}

// installPayloadToSlot opens the slot for writing and decodes the
// payload into it, building a BlockProvider over every other slot in
// the system so the reader can reuse blocks those slots already hold
// (spec §4.6.7, cross-slot dedup). The target slot itself is not
// indexed, so blocks it held before the install are not reused.
func installPayloadToSlot(sys *system.System, reader *bundle.BundleReader, payload *bundle.PayloadReader, slot *system.Slot) error {
	var provider *bundle.BlockProvider
	if enc := payload.Header().BlockEncoding; enc != nil {
		provider = bundle.NewBlockProvider(bundle.BlockProviderConfig{
			Chunker:       enc.Chunker,
			HashAlgorithm: reader.Manifest().HashAlgorithm,
		})
		for name := range sys.SlotNames() {
			other := sys.Slots[name]
			if other == nil || other.Name == slot.Name {
				continue
			}
			if err := provider.AddSlot(other.Name, other.Device); err != nil {
				logrus.WithError(err).WithField("slot", other.Name).Warn("installer: unable to index slot for cross-slot dedup")
			}
		}
	}

	file, err := slot.Open()
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	target := newSlotTarget(file)
	if err := payload.DecodeInto(target, provider); err != nil {
		return rugerr.Wrap(err, "unable to decode payload into slot")
	}
	return nil
}

// runUpdateScript decodes an update-script payload to a temp file,
// makes it executable, and runs it, matching spec §4.6.7's "decode it
// to a temp file, chmod +x, execute it".
func runUpdateScript(payload *bundle.PayloadReader) error {
	tmp, err := os.CreateTemp("", "rugix-update-script-*")
	if err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to create update script temp file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	target := &fileTarget{file: tmp}
	if err := payload.DecodeInto(target, nil); err != nil {
		_ = tmp.Close()
		return rugerr.Wrap(err, "unable to decode update script payload")
	}
	if err := tmp.Close(); err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to close update script temp file")
	}
	if err := os.Chmod(tmp.Name(), 0o755); err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to make update script executable")
	}
	return runCommand(tmp.Name())
}
