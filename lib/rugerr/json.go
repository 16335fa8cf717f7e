// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rugerr

import (
	"bytes"
	"io"

	"git.lukeshu.com/go/lowmemjson"
)

// JSONError is the `--json` CLI error surface's top-level shape:
// `{"error": {"kind": "...", "message": "...", "causes": [...]}}`.
type JSONError struct {
	Error JSONErrorBody `json:"error"`
}

type JSONErrorBody struct {
	Kind    Kind     `json:"kind"`
	Message string   `json:"message"`
	Causes  []string `json:"causes"`
}

// ToJSON renders err (a *Report, or any error) in the --json surface
// shape described by spec.md §7.
func ToJSON(err error) JSONError {
	if rep, ok := err.(*Report); ok {
		causes := rep.Causes()
		msg := ""
		if len(causes) > 0 {
			msg = causes[0]
		}
		return JSONError{Error: JSONErrorBody{
			Kind:    rep.Kind(),
			Message: msg,
			Causes:  causes,
		}}
	}
	return JSONError{Error: JSONErrorBody{
		Kind:    KindIO,
		Message: err.Error(),
		Causes:  []string{err.Error()},
	}}
}

// WriteTo renders e with the teacher's own low-memory JSON codec,
// matching cmd/btrfs-rec/util.go's writeJSONFile helper style.
func (e JSONError) WriteTo(w io.Writer) error {
	return lowmemjson.Encode(w, e)
}

// Bytes renders e to a standalone byte slice, for callers (such as
// the CLI's top-level error handler) that need the encoded form
// before deciding where to write it.
func (e JSONError) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := e.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
