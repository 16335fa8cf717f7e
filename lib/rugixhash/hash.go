// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rugixhash implements the cryptographic hash-algorithm
// registry shared by the bundle codec and block index, grounded on
// original_source/crates/libs/rugix-hashes.
package rugixhash

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"strings"

	"rugix.dev/ctrl-ng/lib/rugerr"
)

// Algorithm identifies a supported hash function.
type Algorithm int

const (
	SHA256 Algorithm = iota
	SHA512
	SHA512_256
)

// Name returns the algorithm's canonical lowercase name, as used in
// digest strings and bundle manifests.
func (a Algorithm) Name() string {
	switch a {
	case SHA256:
		return "sha256"
	case SHA512:
		return "sha512"
	case SHA512_256:
		return "sha512-256"
	default:
		panic("invalid hash algorithm")
	}
}

// Size returns the algorithm's digest size in bytes.
func (a Algorithm) Size() int {
	switch a {
	case SHA256:
		return sha256.Size
	case SHA512:
		return sha512.Size
	case SHA512_256:
		return sha512.Size256
	default:
		panic("invalid hash algorithm")
	}
}

// New returns a fresh hash.Hash implementing this algorithm.
func (a Algorithm) New() hash.Hash {
	switch a {
	case SHA256:
		return sha256.New()
	case SHA512:
		return sha512.New()
	case SHA512_256:
		return sha512.New512_256()
	default:
		panic("invalid hash algorithm")
	}
}

// Hash computes the digest of bytes using this algorithm.
func (a Algorithm) Hash(bytes []byte) Digest {
	h := a.New()
	h.Write(bytes)
	return Digest{algorithm: a, raw: h.Sum(nil)}
}

// ParseAlgorithm parses an algorithm's canonical name.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "sha256":
		return SHA256, nil
	case "sha512":
		return SHA512, nil
	case "sha512-256":
		return SHA512_256, nil
	default:
		return 0, rugerr.New(rugerr.KindParseFormat, "invalid hash algorithm")
	}
}

// Hasher is a streaming hash computation tagged with its algorithm.
type Hasher struct {
	algorithm Algorithm
	inner     hash.Hash
}

// NewHasher starts a fresh streaming hash for algorithm.
func NewHasher(algorithm Algorithm) *Hasher {
	return &Hasher{algorithm: algorithm, inner: algorithm.New()}
}

func (h *Hasher) Algorithm() Algorithm { return h.algorithm }

func (h *Hasher) Update(bytes []byte) { h.inner.Write(bytes) }

// Finalize computes the digest of everything written so far.
func (h *Hasher) Finalize() Digest {
	return Digest{algorithm: h.algorithm, raw: h.inner.Sum(nil)}
}

// Digest is an algorithm-tagged hash digest.
type Digest struct {
	algorithm Algorithm
	raw       []byte
}

// NewDigest validates that raw matches algorithm's digest size.
func NewDigest(algorithm Algorithm, raw []byte) (Digest, error) {
	if len(raw) != algorithm.Size() {
		return Digest{}, rugerr.New(rugerr.KindParseFormat, "invalid digest size")
	}
	return NewDigestUnchecked(algorithm, raw), nil
}

// NewDigestUnchecked constructs a Digest without validating raw's
// length against algorithm's digest size.
func NewDigestUnchecked(algorithm Algorithm, raw []byte) Digest {
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return Digest{algorithm: algorithm, raw: cp}
}

func (d Digest) Algorithm() Algorithm { return d.algorithm }
func (d Digest) Raw() []byte          { return d.raw }

// Equal reports whether d and other have the same algorithm and raw
// digest bytes. Digest is not comparable with == because it embeds a
// byte slice.
func (d Digest) Equal(other Digest) bool {
	return d.algorithm == other.algorithm && bytes.Equal(d.raw, other.raw)
}

// String renders the digest in "algorithm:hex" form.
func (d Digest) String() string {
	return d.algorithm.Name() + ":" + hex.EncodeToString(d.raw)
}

// ParseDigest parses the "algorithm:hex" form produced by String.
func ParseDigest(s string) (Digest, error) {
	algoName, hexDigest, ok := strings.Cut(s, ":")
	if !ok {
		return Digest{}, rugerr.New(rugerr.KindParseFormat, "missing ':' delimiter in digest")
	}
	algorithm, err := ParseAlgorithm(algoName)
	if err != nil {
		return Digest{}, rugerr.New(rugerr.KindParseFormat, "unknown hash algorithm")
	}
	raw, err := hex.DecodeString(hexDigest)
	if err != nil {
		return Digest{}, rugerr.New(rugerr.KindParseFormat, "digest is not a hex string")
	}
	return NewDigest(algorithm, raw)
}
