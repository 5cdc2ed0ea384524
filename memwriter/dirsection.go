// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memwriter

import (
	"io"

	"github.com/cockroachdb/errors"

	"github.com/bahamoth/minidump-writer/format"
)

// DirSection is the stream directory. It is reserved up front with room
// for a fixed number of entries and filled in as streams are written.
//
// If a destination is set, every Write flushes the bytes appended since the
// previous flush, plus any patched bytes, so a dump interrupted midway is
// still mostly readable.
type DirSection struct {
	entries ArraySection[format.Directory]
	count   int
	dst     io.WriteSeeker
	flushed uint64
}

// NewDirSection reserves a directory for n streams at the current buffer
// position. dst may be nil.
func NewDirSection(b *Buffer, n int, dst io.WriteSeeker) (*DirSection, error) {
	entries, err := AllocArray[format.Directory](b, n)
	if err != nil {
		return nil, errors.Wrap(err, "reserving stream directory")
	}
	return &DirSection{entries: entries, dst: dst}, nil
}

// Location returns the location of the whole reserved directory.
func (d *DirSection) Location() format.Location { return d.entries.Location() }

// Count returns the number of entries written so far.
func (d *DirSection) Count() int { return d.count }

// Write records entry in the next free slot and flushes.
func (d *DirSection) Write(b *Buffer, entry format.Directory) error {
	if err := d.entries.SetAt(b, d.count, entry); err != nil {
		return errors.Wrapf(err, "directory entry for stream %#x", entry.StreamType)
	}
	d.count++
	return d.Flush(b)
}

// Flush writes pending bytes to the destination.
func (d *DirSection) Flush(b *Buffer) error {
	patches := b.takePatches()
	if d.dst == nil {
		return nil
	}
	data := b.Bytes()
	for _, p := range patches {
		if uint64(p.RVA) >= d.flushed {
			continue
		}
		end := min(p.End(), d.flushed)
		if err := d.writeAt(data[p.RVA:end], int64(p.RVA)); err != nil {
			return err
		}
	}
	if d.flushed < uint64(len(data)) {
		if err := d.writeAt(data[d.flushed:], int64(d.flushed)); err != nil {
			return err
		}
		d.flushed = uint64(len(data))
	}
	return nil
}

func (d *DirSection) writeAt(p []byte, off int64) error {
	if _, err := d.dst.Seek(off, io.SeekStart); err != nil {
		return errors.Wrapf(err, "seeking to %#x", off)
	}
	if _, err := d.dst.Write(p); err != nil {
		return errors.Wrapf(err, "writing %d bytes at %#x", len(p), off)
	}
	return nil
}
