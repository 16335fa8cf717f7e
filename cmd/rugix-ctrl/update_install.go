// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"
	"strings"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"rugix.dev/ctrl-ng/lib/installer"
	"rugix.dev/ctrl-ng/lib/rugerr"
	"rugix.dev/ctrl-ng/lib/rugixhash"
)

func init() {
	var (
		checkHash       string
		verifyBundle    string
		noReboot        bool
		rebootMode      string
		keepOverlay     bool
		bootEntry       string
		withoutBootFlow bool
	)

	cmd := subcommand{
		Command: cobra.Command{
			Use:   "install <path|->",
			Short: "Install a bundle or raw disk image onto the spare boot group",
			Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		},
		RunE: func(rt *runtimeSystem, _ *cobra.Command, args []string) error {
			opts := installer.Options{
				BootEntry:       bootEntry,
				KeepOverlay:     keepOverlay,
				WithoutBootFlow: withoutBootFlow,
			}

			if checkHash != "" {
				digest, err := rugixhash.ParseDigest(checkHash)
				if err != nil {
					return rugerr.Wrap(err, "invalid --check-hash")
				}
				opts.CheckHash = &digest
			}
			if verifyBundle != "" {
				digest, err := rugixhash.ParseDigest(verifyBundle)
				if err != nil {
					return rugerr.Wrap(err, "invalid --verify-bundle")
				}
				opts.VerifyBundleHeader = &digest
			}

			switch {
			case noReboot:
				opts.Reboot = installer.RebootNo
			default:
				switch strings.ToLower(rebootMode) {
				case "", "yes":
					opts.Reboot = installer.RebootYes
				case "no":
					opts.Reboot = installer.RebootNo
				case "deferred":
					opts.Reboot = installer.RebootDeferred
				default:
					return rugerr.Newf(rugerr.KindIO, "invalid --reboot value %q", rebootMode)
				}
			}

			source := os.Stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to open update source")
				}
				defer f.Close()
				source = f
			}

			return installer.Install(rt.sys, source, rt.flow, opts)
		},
	}
	cmd.Flags().StringVar(&checkHash, "check-hash", "", "verify a streamed image's running hash, e.g. sha256:<hex>")
	cmd.Flags().StringVar(&verifyBundle, "verify-bundle", "", "verify a bundle's header hash before installing, e.g. sha256:<hex>")
	cmd.Flags().BoolVar(&noReboot, "no-reboot", false, "do not reboot after installing (shorthand for --reboot no)")
	cmd.Flags().StringVar(&rebootMode, "reboot", "yes", "what to do after installing: yes|no|deferred")
	cmd.Flags().BoolVar(&keepOverlay, "keep-overlay", false, "do not wipe the target group's persisted overlay")
	cmd.Flags().StringVar(&bootEntry, "boot-entry", "", "install onto this boot group instead of the default spare")
	cmd.Flags().BoolVar(&withoutBootFlow, "without-boot-flow", false, "skip the boot flow's pre/post-install hooks")
	_ = cmd.Flags().MarkHidden("without-boot-flow")

	updateCmds = append(updateCmds, cmd)
}
