// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package ubootenv implements the U-Boot environment block codec,
// grounded on original_source's rugix-common/src/boot/uboot.rs
// UBootEnv (CRC32-prefixed, NUL-separated key=value pairs), exercised
// by lib/bootflow's UBoot boot-flow realization and backing
// `bootpart.default.env`/`boot_spare*.env` on the config partition.
package ubootenv

import (
	"bytes"
	"hash/crc32"
	"os"
	"sort"

	"rugix.dev/ctrl-ng/lib/binstruct"
	"rugix.dev/ctrl-ng/lib/rugerr"
)

// DefaultSize is the conventional on-disk size of a U-Boot
// environment block for small (SD-card) devices; Save pads to this
// size unless an explicit size was set via WithSize.
const DefaultSize = 8192

// Env is an in-memory U-Boot environment: an ordered set of string
// key/value pairs.
type Env struct {
	size   int
	order  []string
	values map[string]string
}

// New constructs an empty environment of DefaultSize.
func New() *Env {
	return &Env{size: DefaultSize, values: make(map[string]string)}
}

// WithSize overrides the padded block size Save writes, returning the
// receiver for chaining.
func (e *Env) WithSize(size int) *Env {
	e.size = size
	return e
}

// Get returns the value for key, and whether it was set.
func (e *Env) Get(key string) (string, bool) {
	v, ok := e.values[key]
	return v, ok
}

// Set assigns key=value, appending key to iteration order if it is
// new.
func (e *Env) Set(key, value string) {
	if _, exists := e.values[key]; !exists {
		e.order = append(e.order, key)
	}
	e.values[key] = value
}

// Load reads and CRC-validates a U-Boot environment block from path.
func Load(path string) (*Env, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to read uboot environment")
	}
	return Decode(raw)
}

// Decode parses a raw U-Boot environment block: a little-endian
// uint32 CRC32 of everything that follows, then NUL-terminated
// "key=value" pairs, the whole data region terminated by an extra
// NUL.
func Decode(raw []byte) (*Env, error) {
	if len(raw) < 5 {
		return nil, rugerr.New(rugerr.KindUnexpectedEOF, "uboot environment block is too short")
	}
	var storedCRC binstruct.U32le
	if _, err := storedCRC.UnmarshalBinary(raw[:4]); err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to decode uboot environment crc32 header")
	}
	data := raw[4:]
	if crc32.ChecksumIEEE(data) != uint32(storedCRC) {
		return nil, rugerr.New(rugerr.KindHashMismatch, "uboot environment block has an invalid crc32")
	}

	env := &Env{size: len(raw), values: make(map[string]string)}
	for _, pair := range bytes.Split(data, []byte{0}) {
		if len(pair) == 0 {
			continue
		}
		kv := bytes.SplitN(pair, []byte{'='}, 2)
		if len(kv) != 2 {
			continue
		}
		env.Set(string(kv[0]), string(kv[1]))
	}
	return env, nil
}

// Encode serializes the environment into a padded block of e.size
// bytes (or the tightest size that fits, if larger than e.size).
func (e *Env) Encode() []byte {
	var data bytes.Buffer
	keys := append([]string(nil), e.order...)
	sort.Strings(keys)
	for _, k := range keys {
		data.WriteString(k)
		data.WriteByte('=')
		data.WriteString(e.values[k])
		data.WriteByte(0)
	}
	data.WriteByte(0)

	size := e.size
	if size < data.Len()+4 {
		size = data.Len() + 4
	}
	out := make([]byte, size)
	copy(out[4:], data.Bytes())

	crcBytes, _ := binstruct.U32le(crc32.ChecksumIEEE(out[4:])).MarshalBinary()
	copy(out[0:4], crcBytes)
	return out
}

// Save writes the environment to path via a `*.new` + atomic rename,
// matching spec §5's cancellation-safe bootloader control file
// convention (and original_source's own File::create+rename dance in
// boot_flows/mod.rs's UBoot::commit).
func (e *Env) Save(path string) error {
	newPath := path + ".new"
	if err := os.WriteFile(newPath, e.Encode(), 0o644); err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to write new uboot environment")
	}
	if err := os.Rename(newPath, path); err != nil {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to rename new uboot environment into place")
	}
	return nil
}
