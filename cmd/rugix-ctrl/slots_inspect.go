// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"rugix.dev/ctrl-ng/lib/rugerr"
)

func init() {
	cmd := subcommand{
		Command: cobra.Command{
			Use:   "inspect <slot>",
			Short: "Print a slot's device path, partition number, kind, and active flag",
			Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		},
		RunE: func(rt *runtimeSystem, cmd *cobra.Command, args []string) error {
			slot, ok := rt.sys.Slots[args[0]]
			if !ok {
				return rugerr.Newf(rugerr.KindMissingSlot, "no slot named %q", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "name:      %s\n", slot.Name)
			fmt.Fprintf(cmd.OutOrStdout(), "kind:      %s\n", slot.Kind)
			fmt.Fprintf(cmd.OutOrStdout(), "partition: %d\n", slot.PartitionNumber)
			fmt.Fprintf(cmd.OutOrStdout(), "device:    %s\n", slot.Device)
			fmt.Fprintf(cmd.OutOrStdout(), "active:    %v\n", slot.Active)
			return nil
		},
	}
	slotsCmds = append(slotsCmds, cmd)
}
