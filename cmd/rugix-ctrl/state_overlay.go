// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"
	"path/filepath"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"rugix.dev/ctrl-ng/lib/rugerr"
)

func init() {
	cmd := subcommand{
		Command: cobra.Command{
			Use:   "force-persist {true|false}",
			Short: "Set or clear the flag that keeps the root overlay across reboots",
			Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		},
		RunE: func(_ *runtimeSystem, _ *cobra.Command, args []string) error {
			var persist bool
			switch args[0] {
			case "true":
				persist = true
			case "false":
				persist = false
			default:
				return rugerr.Newf(rugerr.KindIO, "expected \"true\" or \"false\", got %q", args[0])
			}

			path := filepath.Join(defaultStateMountPoint, ".rugix/force-persist-overlay")
			if persist {
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to create state directory")
				}
				if err := os.WriteFile(path, nil, 0o644); err != nil {
					return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to write force-persist-overlay flag")
				}
				return nil
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to remove force-persist-overlay flag")
			}
			return nil
		},
	}
	stateOverlayCmds = append(stateOverlayCmds, cmd)
}
