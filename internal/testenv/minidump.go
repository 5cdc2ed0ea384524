// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package testenv

import (
	"bytes"
	"encoding/binary"
	"sort"
	"unicode/utf16"

	"github.com/cockroachdb/errors"

	"github.com/bahamoth/minidump-writer/format"
)

// Dump is a structurally checked minidump.
type Dump struct {
	Data      []byte
	Header    format.Header
	Directory []format.Directory
}

// ParseDump checks the header and directory of data. Every directory entry
// must lie inside the buffer and no two streams may overlap.
func ParseDump(data []byte) (*Dump, error) {
	d := &Dump{Data: data}
	if err := d.Decode(format.Location{DataSize: format.HeaderSize}, &d.Header); err != nil {
		return nil, errors.Wrap(err, "header")
	}
	if d.Header.Signature != format.Signature {
		return nil, errors.Newf("signature %#x, want %#x", d.Header.Signature, format.Signature)
	}
	if d.Header.Version&0xffff != format.Version {
		return nil, errors.Newf("version %#x, want %#x", d.Header.Version, format.Version)
	}
	d.Directory = make([]format.Directory, d.Header.StreamCount)
	dirLoc := format.Location{
		DataSize: d.Header.StreamCount * format.DirectorySize,
		RVA:      d.Header.StreamDirectoryRVA,
	}
	if err := d.Decode(dirLoc, d.Directory); err != nil {
		return nil, errors.Wrap(err, "directory")
	}
	locs := []format.Location{{DataSize: format.HeaderSize}, dirLoc}
	for _, e := range d.Directory {
		if e.Location.End() > uint64(len(data)) {
			return nil, errors.Newf("stream %#x at %#x+%d is outside the %d byte dump", e.StreamType, e.Location.RVA, e.Location.DataSize, len(data))
		}
		locs = append(locs, e.Location)
	}
	sort.Slice(locs, func(i, j int) bool { return locs[i].RVA < locs[j].RVA })
	for i := 1; i < len(locs); i++ {
		if locs[i].DataSize == 0 {
			continue
		}
		if uint64(locs[i].RVA) < locs[i-1].End() {
			return nil, errors.Newf("blob at %#x overlaps blob at %#x+%d", locs[i].RVA, locs[i-1].RVA, locs[i-1].DataSize)
		}
	}
	return d, nil
}

// Decode reads the little-endian value v from loc.
func (d *Dump) Decode(loc format.Location, v any) error {
	if loc.End() > uint64(len(d.Data)) {
		return errors.Newf("%#x+%d is outside the %d byte dump", loc.RVA, loc.DataSize, len(d.Data))
	}
	return binary.Read(bytes.NewReader(d.Data[loc.RVA:loc.End()]), binary.LittleEndian, v)
}

// Stream returns the directory entry for typ.
func (d *Dump) Stream(typ uint32) (format.Directory, bool) {
	for _, e := range d.Directory {
		if e.StreamType == typ {
			return e, true
		}
	}
	return format.Directory{}, false
}

// Count reads the leading 32-bit count of a list stream.
func (d *Dump) Count(typ uint32) (uint32, error) {
	e, ok := d.Stream(typ)
	if !ok {
		return 0, errors.Newf("no stream %#x", typ)
	}
	var n uint32
	err := d.Decode(format.Location{DataSize: 4, RVA: e.Location.RVA}, &n)
	return n, err
}

// List decodes the array that follows the count of a list stream.
func List[T any](d *Dump, typ uint32) ([]T, error) {
	n, err := d.Count(typ)
	if err != nil {
		return nil, err
	}
	e, _ := d.Stream(typ)
	vs := make([]T, n)
	size := uint32(binary.Size(vs))
	return vs, d.Decode(format.Location{DataSize: size, RVA: e.Location.RVA + 4}, vs)
}

// String reads a MINIDUMP_STRING.
func (d *Dump) String(rva uint32) (string, error) {
	var n uint32
	if err := d.Decode(format.Location{DataSize: 4, RVA: rva}, &n); err != nil {
		return "", err
	}
	units := make([]uint16, n/2)
	if err := d.Decode(format.Location{DataSize: n, RVA: rva + 4}, units); err != nil {
		return "", err
	}
	return string(utf16.Decode(units)), nil
}
