// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rugerr

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// Report is a chained, kind-tagged error. Each architectural boundary
// a Report crosses gains one more context line via Wrap, the way a
// filesystem error gains "unable to read configuration", "unable to
// start system" as it propagates up through this module's layers.
type Report struct {
	kind    Kind
	lines   []string
	cause   error
	frames  []uintptr
}

var _ error = (*Report)(nil)

// New creates a fresh Report of the given kind with a single message
// line and no cause.
func New(kind Kind, message string) *Report {
	r := &Report{kind: kind, lines: []string{message}}
	r.captureFrames()
	return r
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...any) *Report {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches a new context line to cause, preserving cause's Kind
// unless overridden by WithKind. Wrap(nil, ...) returns nil, so it is
// safe to use directly on the result of a function that may or may
// not have failed.
func Wrap(cause error, message string) *Report {
	if cause == nil {
		return nil
	}
	kind := KindOf(cause)
	r := &Report{kind: kind, lines: []string{message}, cause: cause}
	r.captureFrames()
	return r
}

// Wrapf is Wrap with fmt.Sprintf-style formatting.
func Wrapf(cause error, format string, args ...any) *Report {
	if cause == nil {
		return nil
	}
	return Wrap(cause, fmt.Sprintf(format, args...))
}

// WithKind overrides the Kind of a Report, for cases where a
// lower-level cause's kind is not the kind this boundary wants to
// surface (e.g. an `io` cause becoming `bootflow_detect`).
func (r *Report) WithKind(kind Kind) *Report {
	r.kind = kind
	return r
}

func (r *Report) captureFrames() {
	if os.Getenv("RUGIX_DEBUG") == "" {
		return
	}
	if r.cause != nil {
		// Only the innermost frame of a chain carries a backtrace;
		// nested Reports already have one via their own cause.
		if _, ok := r.cause.(*Report); ok {
			return
		}
	}
	pc := make([]uintptr, 32)
	n := runtime.Callers(3, pc)
	r.frames = pc[:n]
}

// Kind returns the error kind this report was tagged with.
func (r *Report) Kind() Kind { return r.kind }

// Unwrap exposes the immediate cause for errors.Is/errors.As.
func (r *Report) Unwrap() error { return r.cause }

// Causes returns every context line from outermost to innermost,
// flattening the whole chain, including non-Report leaf errors.
func (r *Report) Causes() []string {
	var out []string
	var cur error = r
	for cur != nil {
		if rep, ok := cur.(*Report); ok {
			out = append(out, rep.lines...)
			cur = rep.cause
		} else {
			out = append(out, cur.Error())
			cur = nil
		}
	}
	return out
}

func (r *Report) Error() string {
	var b strings.Builder
	causes := r.Causes()
	for i, line := range causes {
		if i > 0 {
			b.WriteString(": ")
		}
		b.WriteString(line)
	}
	return b.String()
}

// KindOf extracts the Kind tag from err if it (or something in its
// Unwrap chain) is a *Report; returns "" otherwise.
func KindOf(err error) Kind {
	for err != nil {
		if rep, ok := err.(*Report); ok {
			return rep.kind
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	return ""
}

// Frames renders the captured backtrace, if any (only populated when
// RUGIX_DEBUG is set); used by verbose diagnostics, never by the
// default human or --json CLI surface.
func (r *Report) Frames() []string {
	if len(r.frames) == 0 {
		return nil
	}
	frames := runtime.CallersFrames(r.frames)
	var out []string
	for {
		frame, more := frames.Next()
		out = append(out, fmt.Sprintf("%s\n\tat %s:%d", frame.Function, frame.File, frame.Line))
		if !more {
			break
		}
	}
	return out
}
