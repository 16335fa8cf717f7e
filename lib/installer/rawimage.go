// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package installer

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"rugix.dev/ctrl-ng/lib/blocking"
	"rugix.dev/ctrl-ng/lib/byteunit"
	"rugix.dev/ctrl-ng/lib/rugerr"
)

// imgPartitionEntry is one partition's extent within a streamed raw
// disk image, grounded on original_source's rugpi-common disk/stream.rs
// ImgStream's MBR/GPT table parse.
type imgPartitionEntry struct {
	index      int
	startBytes byteunit.NumBytes
	sizeBytes  byteunit.NumBytes
}

// imgStream iterates the partitions of a streamed raw disk image in
// ascending start-sector order, enforcing that the underlying reader
// only ever needs to move forward — a streamed install can't seek
// backwards, matching stream.rs's "unsupported partition order" check
// in advance_reader.
type imgStream struct {
	r          *bufio.Reader
	entries    []imgPartitionEntry
	nextIdx    int
	readOffset byteunit.NumBytes
}

const sectorSize = 512

// newImgStream peeks the leading sector(s) of r, parses the partition
// table (MBR, or GPT via a protective MBR), and returns a stream
// positioned at the very start of the image.
func newImgStream(r io.Reader) (*imgStream, error) {
	br := bufio.NewReaderSize(r, 1<<20)
	header, err := br.Peek(512)
	if err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindUnexpectedEOF, err.Error()), "unable to read disk image header")
	}
	if !bytes.Equal(header[510:512], mbrMagic) {
		return nil, rugerr.New(rugerr.KindInvalidLayout, "disk image is missing the MBR boot signature")
	}

	mbrEntries := parseMBR(header)
	if len(mbrEntries) == 1 && mbrEntries[0].isGPTProtective {
		gptHeader, err := br.Peek(2 * sectorSize)
		if err != nil {
			return nil, rugerr.Wrap(rugerr.New(rugerr.KindUnexpectedEOF, err.Error()), "unable to read GPT header")
		}
		entries, err := parseGPT(br, gptHeader)
		if err != nil {
			return nil, err
		}
		return &imgStream{r: br, entries: entries}, nil
	}

	entries := make([]imgPartitionEntry, 0, len(mbrEntries))
	for i, e := range mbrEntries {
		if e.isGPTProtective || e.sizeSectors == 0 {
			continue
		}
		entries = append(entries, imgPartitionEntry{
			index:      i,
			startBytes: byteunit.Bytes(e.startSector * sectorSize),
			sizeBytes:  byteunit.Bytes(e.sizeSectors * sectorSize),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].startBytes < entries[j].startBytes })
	return &imgStream{r: br, entries: entries}, nil
}

type mbrEntry struct {
	isGPTProtective bool
	startSector     uint64
	sizeSectors     uint64
}

// parseMBR reads the four primary partition table entries at offset
// 446, matching stream.rs's PartitionEntry::parse.
func parseMBR(sector []byte) []mbrEntry {
	out := make([]mbrEntry, 0, 4)
	for i := 0; i < 4; i++ {
		raw := sector[446+i*16 : 446+(i+1)*16]
		partType := raw[4]
		start := binary.LittleEndian.Uint32(raw[8:12])
		size := binary.LittleEndian.Uint32(raw[12:16])
		out = append(out, mbrEntry{
			isGPTProtective: partType == 0xee,
			startSector:     uint64(start),
			sizeSectors:     uint64(size),
		})
	}
	return out
}

// parseGPT reads the GPT header at LBA 1 and its partition entry
// array, keeping only non-free entries sorted by start sector,
// matching stream.rs's GPT fallback path.
func parseGPT(br *bufio.Reader, header []byte) ([]imgPartitionEntry, error) {
	gptHeader := header[sectorSize:]
	if string(gptHeader[0:8]) != "EFI PART" {
		return nil, rugerr.New(rugerr.KindInvalidLayout, "protective MBR is not followed by a valid GPT header")
	}
	partEntryLBA := binary.LittleEndian.Uint64(gptHeader[72:80])
	numEntries := binary.LittleEndian.Uint32(gptHeader[80:84])
	entrySize := binary.LittleEndian.Uint32(gptHeader[84:88])

	arrayStart := int(partEntryLBA) * sectorSize
	peeked, err := br.Peek(arrayStart + int(numEntries)*int(entrySize))
	if err != nil {
		return nil, rugerr.Wrap(rugerr.New(rugerr.KindUnexpectedEOF, err.Error()), "unable to read GPT partition array")
	}

	entries := make([]imgPartitionEntry, 0, numEntries)
	for i := uint32(0); i < numEntries; i++ {
		raw := peeked[arrayStart+int(i*entrySize) : arrayStart+int((i+1)*entrySize)]
		typeGUID := raw[0:16]
		if isZero(typeGUID) {
			continue
		}
		startLBA := binary.LittleEndian.Uint64(raw[32:40])
		endLBA := binary.LittleEndian.Uint64(raw[40:48])
		entries = append(entries, imgPartitionEntry{
			index:      len(entries),
			startBytes: byteunit.Bytes(startLBA * sectorSize),
			sizeBytes:  byteunit.Bytes((endLBA - startLBA + 1) * sectorSize),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].startBytes < entries[j].startBytes })
	return entries, nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// next advances the stream to the next partition, discarding any
// unread bytes of the previous one and the gap before this one.
// Partitions must appear in non-decreasing start order; a payload
// that violates this (the producer seeking backwards) cannot be
// streamed, matching stream.rs's advance_reader invariant.
func (s *imgStream) next() (*imgPartitionStream, bool, error) {
	if s.nextIdx >= len(s.entries) {
		return nil, false, nil
	}
	entry := s.entries[s.nextIdx]
	s.nextIdx++

	if entry.startBytes < s.readOffset {
		return nil, false, rugerr.New(rugerr.KindInvalidLayout, "unsupported partition order in streamed disk image")
	}
	gap := entry.startBytes - s.readOffset
	if gap > 0 {
		if _, err := io.CopyN(io.Discard, s.r, int64(gap.Raw())); err != nil {
			return nil, false, rugerr.Wrap(rugerr.New(rugerr.KindUnexpectedEOF, err.Error()), "unable to seek to next partition")
		}
		s.readOffset += gap
	}
	return &imgPartitionStream{stream: s, entry: entry}, true, nil
}

// imgPartitionStream is a bounded, sequential view of one partition's
// bytes within the image stream.
type imgPartitionStream struct {
	stream    *imgStream
	entry     imgPartitionEntry
	remaining byteunit.NumBytes
	started   bool
}

func (p *imgPartitionStream) Index() int                  { return p.entry.index }
func (p *imgPartitionStream) Size() byteunit.NumBytes      { return p.entry.sizeBytes }

// Read streams the partition's bytes, tracking the parent stream's
// cumulative read offset so the next call to (*imgStream).next knows
// how large a gap, if any, remains before the following partition.
func (p *imgPartitionStream) Read(buf []byte) (int, error) {
	if !p.started {
		p.remaining = p.entry.sizeBytes
		p.started = true
	}
	if p.remaining == 0 {
		return 0, io.EOF
	}
	want := byteunit.NumBytes(len(buf))
	if want > p.remaining {
		want = p.remaining
	}
	n, err := p.stream.r.Read(buf[:want.Raw()])
	p.remaining -= byteunit.NumBytes(n)
	p.stream.readOffset += byteunit.NumBytes(n)
	return n, err
}

// drain discards any bytes of the partition the caller chose not to
// read, so the stream can advance cleanly to the next entry.
func (p *imgPartitionStream) drain() error {
	if !p.started {
		p.remaining = p.entry.sizeBytes
		p.started = true
	}
	if p.remaining == 0 {
		return nil
	}
	_, err := io.CopyN(io.Discard, readerFunc(p.Read), int64(p.remaining.Raw()))
	p.remaining = 0
	if err != nil && err != io.EOF {
		return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to drain partition")
	}
	return nil
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

// copyToSlot streams a partition's bytes into dst's first
// p.Size() bytes, checkpointed under ctx.
func copyToSlot(ctx blocking.Ctx, dst io.WriterAt, p *imgPartitionStream) error {
	buf := make([]byte, 1<<16)
	var offset int64
	var counter int
	for {
		n, err := p.Read(buf)
		if n > 0 {
			if _, werr := dst.WriteAt(buf[:n], offset); werr != nil {
				return rugerr.Wrap(rugerr.New(rugerr.KindIO, werr.Error()), "unable to write slot")
			}
			offset += int64(n)
		}
		if cerr := ctx.Checkpoint(&counter, n); cerr != nil {
			return cerr
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return rugerr.Wrap(rugerr.New(rugerr.KindIO, err.Error()), "unable to read streamed image partition")
		}
	}
}
