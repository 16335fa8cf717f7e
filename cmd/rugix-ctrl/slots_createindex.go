// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"

	"rugix.dev/ctrl-ng/lib/bundle"
	"rugix.dev/ctrl-ng/lib/chunker"
	"rugix.dev/ctrl-ng/lib/rugerr"
	"rugix.dev/ctrl-ng/lib/rugixhash"
)

// blockIndexDir holds one bbolt file per slot, keyed by slot name,
// persisting the block locations `update install`'s cross-slot
// BlockProvider uses for deduplication (spec §4.6.7 step 4, C4).
const blockIndexDir = "/var/lib/rugix/block-index"

func init() {
	cmd := subcommand{
		Command: cobra.Command{
			Use:   "create-index <slot> <chunker> <hash-algo>",
			Short: "Build a persisted block index for a slot, for cross-slot deduplication",
			Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(3)),
		},
		RunE: func(rt *runtimeSystem, _ *cobra.Command, args []string) error {
			slotName, chunkerSpec, hashAlgoSpec := args[0], args[1], args[2]

			slot, ok := rt.sys.Slots[slotName]
			if !ok {
				return rugerr.Newf(rugerr.KindMissingSlot, "no slot named %q", slotName)
			}
			chunkAlgo, err := chunker.ParseAlgorithm(chunkerSpec)
			if err != nil {
				return rugerr.Wrap(err, "invalid chunker")
			}
			hashAlgo, err := rugixhash.ParseAlgorithm(hashAlgoSpec)
			if err != nil {
				return rugerr.Wrap(err, "invalid hash algorithm")
			}

			if err := os.MkdirAll(blockIndexDir, 0o755); err != nil {
				return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to create block index directory")
			}
			dbPath := filepath.Join(blockIndexDir, slotName+".bolt")
			db, err := bolt.Open(dbPath, 0o644, &bolt.Options{Timeout: time.Second})
			if err != nil {
				return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to open block index")
			}
			defer db.Close()

			provider, err := bundle.NewPersistedBlockProvider(bundle.BlockProviderConfig{
				Chunker:       chunkAlgo,
				HashAlgorithm: hashAlgo,
			}, db, "blocks")
			if err != nil {
				return rugerr.Wrap(err, "unable to initialize block index")
			}
			return provider.AddSlot(slot.Name, slot.Device)
		},
	}
	slotsCmds = append(slotsCmds, cmd)
}
