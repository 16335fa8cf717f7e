// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os/exec"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"rugix.dev/ctrl-ng/lib/rugerr"
)

func init() {
	var spare bool

	cmd := subcommand{
		Command: cobra.Command{
			Use:   "reboot",
			Short: "Reboot the system, optionally arming the spare boot group first",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(rt *runtimeSystem, _ *cobra.Command, _ []string) error {
			if spare {
				group := rt.sys.SpareBootGroup()
				if group == nil {
					return rugerr.New(rugerr.KindMissingSlot, "no spare boot group available")
				}
				if err := rt.flow.SetTryNext(rt.sys, group.Name); err != nil {
					return rugerr.Wrap(err, "unable to arm boot flow for spare group")
				}
			}
			if err := exec.Command("reboot").Run(); err != nil {
				return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to invoke reboot")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&spare, "spare", false, "try the spare boot group on next boot instead of rebooting into the default")

	systemCmds = append(systemCmds, cmd)
}
