// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package system

import (
	"sync"

	"golang.org/x/sys/unix"

	"rugix.dev/ctrl-ng/lib/rugerr"
)

// ConfigPartition is the small, normally read-only partition holding
// boot-flow control files and the system/bootstrap TOML configs.
// Grounded on original_source's system/mod.rs ConfigPartition: writes
// to it must be bracketed by a remount-rw/remount-ro pair, tracked by
// a writer count so nested writers don't remount read-only out from
// under an outer one (spec §4.6.3, invariant P10).
type ConfigPartition struct {
	path      string
	protected bool

	mu          sync.Mutex
	writerCount int
}

// NewConfigPartition constructs a write-protected config partition
// mounted at path. Use WithProtected(false) for test doubles and
// environments where the partition is already writable (e.g. a tmpfs
// overlay in CI).
func NewConfigPartition(path string) *ConfigPartition {
	return &ConfigPartition{path: path, protected: true}
}

// WithProtected overrides whether the partition needs remounting
// around writes, returning the receiver for chaining.
func (c *ConfigPartition) WithProtected(protected bool) *ConfigPartition {
	c.protected = protected
	return c
}

// Path is where the config partition is mounted.
func (c *ConfigPartition) Path() string { return c.path }

// EnsureWritable runs fn with the partition guaranteed writable,
// remounting it read-only again afterward unless an outer
// EnsureWritable call on the same ConfigPartition is still in
// progress. fn's return value is passed through.
func EnsureWritable[T any](c *ConfigPartition, fn func() (T, error)) (T, error) {
	var zero T
	if err := c.acquireWriteGuard(); err != nil {
		return zero, err
	}
	defer c.releaseWriteGuard()
	return fn()
}

// EnsureWritableVoid is EnsureWritable for closures with no result
// value, matching call sites that only need the side effect.
func EnsureWritableVoid(c *ConfigPartition, fn func() error) error {
	_, err := EnsureWritable(c, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func (c *ConfigPartition) acquireWriteGuard() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.protected && c.writerCount == 0 {
		if err := remount(c.path, false); err != nil {
			return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to remount config partition read-write")
		}
	}
	c.writerCount++
	return nil
}

func (c *ConfigPartition) releaseWriteGuard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writerCount--
	if c.protected && c.writerCount == 0 {
		// Best-effort: a failure here leaves the partition writable,
		// which is safe, just not self-cleaning until next boot.
		_ = remount(c.path, true)
	}
}

// remount issues a bare remount of path, flipping MS_RDONLY. It never
// changes any other mount option already in effect.
func remount(path string, readOnly bool) error {
	var flags uintptr = unix.MS_REMOUNT
	if readOnly {
		flags |= unix.MS_RDONLY
	}
	return unix.Mount("", path, "", flags, "")
}
