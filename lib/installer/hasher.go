// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package installer

import "rugix.dev/ctrl-ng/lib/rugixhash"

// runningHasher adapts rugixhash.Hasher to io.Writer so it can be fed
// via io.TeeReader while the streamed image is copied out,
// implementing `--check-hash`'s "running hash" (spec §4.6.7).
type runningHasher struct {
	inner *rugixhash.Hasher
}

func newRunningHasher(algorithm rugixhash.Algorithm) *runningHasher {
	return &runningHasher{inner: rugixhash.NewHasher(algorithm)}
}

func (h *runningHasher) Write(p []byte) (int, error) {
	h.inner.Update(p)
	return len(p), nil
}

func (h *runningHasher) Digest() rugixhash.Digest {
	return h.inner.Finalize()
}
