// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"rugix.dev/ctrl-ng/lib/config"
	"rugix.dev/ctrl-ng/lib/textui"
)

// subcommand pairs a cobra.Command with a RunE that is handed an
// already-resolved runtimeSystem instead of having to load one itself,
// matching the teacher's `subcommand{cobra.Command, RunE func(*btrfs.
// FS, ...)}` pattern in cmd/btrfs-rec/main.go.
type subcommand struct {
	cobra.Command
	RunE func(rt *runtimeSystem, cmd *cobra.Command, args []string) error
}

var stateCmds, updateCmds, systemCmds, slotsCmds []subcommand

// stateOverlayCmds holds the leaves of "state overlay SUBCOMMAND", a
// nested group one level below "state" itself.
var stateOverlayCmds []subcommand

func main() {
	logLevelFlag := textui.LogLevelFlag{Level: dlog.LogLevelInfo}
	var systemConfigPath string

	argparser := &cobra.Command{
		Use:   "rugix-ctrl {[flags]|SUBCOMMAND}",
		Short: "Manage an A/B-style over-the-air update installation",

		Args: cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE: cliutil.RunSubcommands,

		SilenceErrors: true,
		SilenceUsage:  true,

		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)
	argparser.PersistentFlags().Var(&logLevelFlag, "log-level", "set the log level (error|warn|info|debug|trace)")
	argparser.PersistentFlags().StringVar(&systemConfigPath, "system-config", config.DefaultSystemConfigPath, "path to system.toml")

	argparserState := &cobra.Command{
		Use:   "state {[flags]|SUBCOMMAND}",
		Short: "Manage persistent state and the root overlay",
		Args:  cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE:  cliutil.RunSubcommands,
	}
	argparserUpdate := &cobra.Command{
		Use:   "update {[flags]|SUBCOMMAND}",
		Short: "Install updates",
		Args:  cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE:  cliutil.RunSubcommands,
	}
	argparserSystem := &cobra.Command{
		Use:   "system {[flags]|SUBCOMMAND}",
		Short: "Inspect and control the running system",
		Args:  cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE:  cliutil.RunSubcommands,
	}
	argparserSlots := &cobra.Command{
		Use:   "slots {[flags]|SUBCOMMAND}",
		Short: "Inspect and index boot/system slots",
		Args:  cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE:  cliutil.RunSubcommands,
	}
	argparserStateOverlay := &cobra.Command{
		Use:   "overlay {[flags]|SUBCOMMAND}",
		Short: "Control the root overlay",
		Args:  cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE:  cliutil.RunSubcommands,
	}
	argparserState.AddCommand(argparserStateOverlay)

	argparser.AddCommand(argparserState, argparserUpdate, argparserSystem, argparserSlots)

	for _, cmdgrp := range []struct {
		parent   *cobra.Command
		children []subcommand
	}{
		{argparserState, stateCmds},
		{argparserStateOverlay, stateOverlayCmds},
		{argparserUpdate, updateCmds},
		{argparserSystem, systemCmds},
		{argparserSlots, slotsCmds},
	} {
		for _, child := range cmdgrp.children {
			cmd := child.Command
			runE := child.RunE
			cmd.RunE = func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				ctx = dlog.WithLogger(ctx, textui.NewLogger(os.Stderr, logLevelFlag.Level))

				grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
					EnableSignalHandling: true,
				})
				grp.Go("main", func(ctx context.Context) error {
					rt, err := loadRuntimeSystem(systemConfigPath)
					if err != nil {
						return err
					}
					cmd.SetContext(ctx)
					return runE(rt, cmd, args)
				})
				return grp.Wait()
			}
			cmdgrp.parent.AddCommand(&cmd)
		}
	}

	if err := argparser.ExecuteContext(context.Background()); err != nil {
		textui.Fprintf(os.Stderr, "%v: error: %v\n", argparser.CommandPath(), err)
		os.Exit(1)
	}
}
