// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package byteunit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rugix.dev/ctrl-ng/lib/byteunit"
	"rugix.dev/ctrl-ng/lib/rugerr"
)

func TestFormatUnits(t *testing.T) {
	t.Parallel()
	testcases := []struct {
		in  byteunit.NumBytes
		out string
	}{
		{byteunit.Mebibytes(128), "128MiB"},
		{byteunit.Gigabytes(1), "1GB"},
		{byteunit.Bytes(1023), "1.023kB"},
		{byteunit.Bytes(1000), "1kB"},
		{byteunit.Bytes(999), "999B"},
		{byteunit.Bytes(2560), "2.5KiB"},
	}
	for _, tc := range testcases {
		assert.Equal(t, tc.out, tc.in.String())
	}
}

func TestFormatPrecision(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "1.81TiB", byteunit.Terabytes(2).FormatPrecision(2))
}

func TestParseNumBytes(t *testing.T) {
	t.Parallel()
	testcases := []struct {
		in  string
		out byteunit.NumBytes
	}{
		{"5", byteunit.Bytes(5)},
		{"2.5KiB", byteunit.Bytes(2560)},
		{"2_000kB", byteunit.Megabytes(2)},
		{"4 GiB", byteunit.Gibibytes(4)},
		{"4g", byteunit.Gibibytes(4)},
	}
	for _, tc := range testcases {
		got, err := byteunit.ParseNumBytes(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.out, got, tc.in)
	}
}

func TestParseNumBytesOverflow(t *testing.T) {
	t.Parallel()
	_, err := byteunit.ParseNumBytes("4.5 EiB")
	require.Error(t, err)
	assert.Equal(t, rugerr.KindParseOverflow, rugerr.KindOf(err))
}

func TestParseNumBytesFormat(t *testing.T) {
	t.Parallel()
	_, err := byteunit.ParseNumBytes("abc")
	require.Error(t, err)
	assert.Equal(t, rugerr.KindParseFormat, rugerr.KindOf(err))
}

// FuzzParseFormatRoundTrip exercises P1: formatting then reparsing a
// byte size yields the same value, for any representable NumBytes.
func FuzzParseFormatRoundTrip(f *testing.F) {
	f.Add(uint64(0))
	f.Add(uint64(999))
	f.Add(uint64(2560))
	f.Add(uint64(1) << 62)
	f.Fuzz(func(t *testing.T, raw uint64) {
		n := byteunit.Bytes(raw)
		got, err := byteunit.ParseNumBytes(n.String())
		require.NoError(t, err)
		assert.Equal(t, n, got)
	})
}

func TestCheckedArithmetic(t *testing.T) {
	t.Parallel()
	_, err := byteunit.Bytes(10).Sub(byteunit.Bytes(20))
	require.Error(t, err)
	assert.Equal(t, rugerr.KindArithmeticUnderflow, rugerr.KindOf(err))

	_, err = byteunit.NumBytes(1 << 63).MulScalar(4)
	require.Error(t, err)
	assert.Equal(t, rugerr.KindArithmeticOverflow, rugerr.KindOf(err))

	_, err = byteunit.Bytes(10).DivScalar(0)
	require.Error(t, err)
	assert.Equal(t, rugerr.KindDivisionByZero, rugerr.KindOf(err))
}
