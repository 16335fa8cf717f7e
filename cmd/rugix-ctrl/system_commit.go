// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"rugix.dev/ctrl-ng/lib/rugerr"
)

func init() {
	cmd := subcommand{
		Command: cobra.Command{
			Use:   "commit",
			Short: "Make the active boot group the default, confirming the current boot",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(rt *runtimeSystem, _ *cobra.Command, _ []string) error {
			defaultGroup, err := rt.flow.GetDefault(rt.sys)
			if err != nil {
				return rugerr.Wrap(err, "unable to determine boot flow default")
			}
			if !rt.sys.NeedsCommit(defaultGroup) {
				return nil
			}
			return rt.flow.Commit(rt.sys)
		},
	}
	systemCmds = append(systemCmds, cmd)
}
