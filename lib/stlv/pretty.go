// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package stlv

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"rugix.dev/ctrl-ng/lib/byteunit"
)

// maxPrettyValue is the soft limit on how many value bytes PrettyPrint
// shows before truncating with an ellipsis.
const maxPrettyValue = 64

// TagNameResolver resolves a tag to a human-readable name for
// PrettyPrint. A resolver that knows nothing about a tag should
// return ("", false).
type TagNameResolver interface {
	ResolveTag(tag Tag) (name string, ok bool)
}

// PrettyPrint reads a complete STLV stream from r and renders its
// structure to w: one line per atom, 2-space indentation per nesting
// depth, and value atoms truncated to maxPrettyValue bytes.
func PrettyPrint(w io.Writer, r io.Reader, resolver TagNameResolver) error {
	indent := 0
	for {
		head, ok, err := ReadAtomHead(r)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		switch head.Kind {
		case KindValue:
			n := head.Length
			readLen := n
			if readLen.Raw() > maxPrettyValue {
				readLen = byteunit.NumBytes(maxPrettyValue)
			}
			buf := make([]byte, readLen.Raw())
			if _, err := io.ReadFull(r, buf); err != nil {
				return err
			}
			if n.Raw() > maxPrettyValue {
				if _, err := io.CopyN(io.Discard, r, int64(n.Raw()-maxPrettyValue)); err != nil {
					return err
				}
			}
			fmt.Fprintf(w, "%s%s [%s] = \"%s\"\n",
				strings.Repeat(" ", indent),
				displayTag(head.Tag, resolver),
				n,
				escapeBytes(buf, n.Raw() > maxPrettyValue))
		case KindStart:
			fmt.Fprintf(w, "%s<%s\n", strings.Repeat(" ", indent), displayTag(head.Tag, resolver))
			indent += 2
		case KindEnd:
			if indent >= 2 {
				indent -= 2
			}
			fmt.Fprintf(w, "%s%s>\n", strings.Repeat(" ", indent), displayTag(head.Tag, resolver))
		}
	}
}

func displayTag(tag Tag, resolver TagNameResolver) string {
	if resolver != nil {
		if name, ok := resolver.ResolveTag(tag); ok {
			return fmt.Sprintf("%s (%s)", name, tag)
		}
	}
	return tag.String()
}

func escapeBytes(b []byte, truncated bool) string {
	var sb strings.Builder
	for _, c := range b {
		switch {
		case c == '\\' || c == '"':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c >= 0x20 && c < 0x7f:
			sb.WriteByte(c)
		default:
			sb.WriteString(`\x`)
			sb.WriteString(strconv.FormatUint(uint64(c), 16))
		}
	}
	if truncated {
		sb.WriteString(" ...")
	}
	return sb.String()
}
