// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rugerr implements the error-kind taxonomy and report chain
// shared by every component of the update engine and bundle codec.
package rugerr

// Kind identifies the broad category of a failure, independent of the
// human-readable message attached to it. CLI callers switch on Kind to
// pick an exit behavior or a `--json` field; they must never parse the
// message text.
type Kind string

const (
	KindArithmeticOverflow  Kind = "arithmetic_overflow"
	KindArithmeticUnderflow Kind = "arithmetic_underflow"
	KindDivisionByZero      Kind = "division_by_zero"
	KindParseFormat         Kind = "parse_format"
	KindParseOverflow       Kind = "parse_overflow"
	KindIO                  Kind = "io"
	KindHashMismatch        Kind = "hash_mismatch"
	KindDepthLimit          Kind = "depth_limit"
	KindSizeLimit           Kind = "size_limit"
	KindUnexpectedEOF       Kind = "unexpected_eof"
	KindMissingSlot         Kind = "missing_slot"
	KindNeedsCommit         Kind = "needs_commit"
	KindInvalidLayout       Kind = "invalid_layout"
	KindBootflowDetect      Kind = "bootflow_detect"
)
