// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bootflow

import (
	"os/exec"

	"rugix.dev/ctrl-ng/lib/rugerr"
	"rugix.dev/ctrl-ng/lib/system"
)

// Custom delegates every BootFlow operation to an external controller
// program, invoked as `<controller> <op> [group]` with the resolved
// boot group (if any) as its only extra argument and its stdout
// trimmed and used as the operation's string result, matching
// original_source's CustomBootFlow{controller}. This is the flow
// system.toml's `boot_flow = "custom"` selects, with the controller
// path taken from `custom_boot_flow_controller`.
type Custom struct {
	controller string
}

// NewCustom constructs a Custom flow invoking the given controller
// executable.
func NewCustom(controller string) *Custom { return &Custom{controller: controller} }

func (c *Custom) Name() string { return "custom" }

func (c *Custom) run(args ...string) (string, error) {
	cmd := exec.Command(c.controller, args...)
	out, err := cmd.Output()
	if err != nil {
		return "", rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "custom boot-flow controller failed: "+c.controller)
	}
	return trimTrailingNewline(string(out)), nil
}

func (c *Custom) GetDefault(*system.System) (string, error) {
	return c.run("get-default")
}

func (c *Custom) Commit(sys *system.System) error {
	_, err := c.run("commit", sys.ActiveGroup)
	return err
}

func (c *Custom) SetTryNext(sys *system.System, group string) error {
	_, err := c.run("set-try-next", group)
	return err
}

func (c *Custom) PreInstall(sys *system.System, group string) error {
	_, err := c.run("pre-install", group)
	return err
}

func (c *Custom) PostInstall(sys *system.System, group string) error {
	_, err := c.run("post-install", group)
	return err
}

func trimTrailingNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
