// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"rugix.dev/ctrl-ng/lib/rugerr"
)

type systemInfoSlot struct {
	Name   string `json:"name"`
	Device string `json:"device"`
	Kind   string `json:"kind"`
	Active bool   `json:"active"`
}

type systemInfoOutput struct {
	Active  string           `json:"active"`
	Default string           `json:"default"`
	Spare   string           `json:"spare"`
	Slots   []systemInfoSlot `json:"slots"`
}

func init() {
	var asJSON bool

	cmd := subcommand{
		Command: cobra.Command{
			Use:   "info",
			Short: "Print the active, default, and spare boot groups and slot state",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(rt *runtimeSystem, cmd *cobra.Command, _ []string) error {
			defaultGroup, err := rt.flow.GetDefault(rt.sys)
			if err != nil {
				return rugerr.Wrap(err, "unable to determine boot flow default")
			}
			spare := ""
			if group := rt.sys.SpareBootGroup(); group != nil {
				spare = group.Name
			}

			out := systemInfoOutput{
				Active:  rt.sys.ActiveGroup,
				Default: defaultGroup,
				Spare:   spare,
			}
			names := make([]string, 0, len(rt.sys.Slots))
			for name := range rt.sys.Slots {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				slot := rt.sys.Slots[name]
				out.Slots = append(out.Slots, systemInfoSlot{
					Name:   slot.Name,
					Device: slot.Device,
					Kind:   string(slot.Kind),
					Active: slot.Active,
				})
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "active:  %s\n", out.Active)
			fmt.Fprintf(cmd.OutOrStdout(), "default: %s\n", out.Default)
			fmt.Fprintf(cmd.OutOrStdout(), "spare:   %s\n", out.Spare)
			for _, slot := range out.Slots {
				fmt.Fprintf(cmd.OutOrStdout(), "  slot %-12s %-8s %-20s active=%v\n", slot.Name, slot.Kind, slot.Device, slot.Active)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	systemCmds = append(systemCmds, cmd)
}
