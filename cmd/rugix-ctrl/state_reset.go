// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"rugix.dev/ctrl-ng/lib/rugerr"
)

// defaultStateMountPoint is where lib/preinit bind-mounts the active
// state profile at runtime (spec §4.6.6); `state reset`/`state
// overlay` write the flag files pre-init checks there on the next
// boot.
const defaultStateMountPoint = "/run/rugix/state"

func init() {
	cmd := subcommand{
		Command: cobra.Command{
			Use:   "reset",
			Short: "Set the factory-reset flag and reboot",
			Long: "Set the factory-reset flag and reboot. On the next boot, pre-init deletes the\n" +
				"whole state profile, including the persisted overlay of every boot group.\n" +
				"An earlier `update install --keep-overlay` does not protect an overlay from this reset.",
			Args: cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(_ *runtimeSystem, _ *cobra.Command, _ []string) error {
			path := filepath.Join(defaultStateMountPoint, ".rugix/reset-state")
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to create state directory")
			}
			if err := os.WriteFile(path, nil, 0o644); err != nil {
				return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to write reset-state flag")
			}
			return exec.Command("reboot").Run()
		},
	}
	stateCmds = append(stateCmds, cmd)
}
