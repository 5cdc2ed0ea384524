// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package memwriter builds a minidump in memory.
//
// A Buffer is an append-only arena. Every allocation returns a
// format.Location whose RVA is fixed for the lifetime of the buffer.
// Allocations may be reserved first and patched later, which is how the
// header and list counts are filled in once their contents are known.
package memwriter

import (
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"

	"github.com/bahamoth/minidump-writer/format"
)

// ErrTooLarge is returned when an allocation would not be addressable by a
// 32-bit RVA.
var ErrTooLarge = errors.New("minidump exceeds 4GiB")

// Buffer is a growable byte arena addressed by RVA.
type Buffer struct {
	data []byte

	// patched records writes to already allocated bytes, so that a
	// DirSection can re-flush them.
	patched []format.Location
}

// NewBuffer returns an empty buffer with the given initial capacity.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, 0, capacity)}
}

// Position is the RVA of the next allocation.
func (b *Buffer) Position() uint64 { return uint64(len(b.data)) }

// Bytes returns the buffer contents. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of bytes allocated so far.
func (b *Buffer) Len() int { return len(b.data) }

// Reserve allocates n zero bytes.
func (b *Buffer) Reserve(n int) (format.Location, error) {
	if n < 0 || uint64(len(b.data))+uint64(n) > math.MaxUint32 {
		return format.Location{}, errors.Wrapf(ErrTooLarge, "reserving %d bytes at %#x", n, len(b.data))
	}
	loc := format.Location{DataSize: uint32(n), RVA: uint32(len(b.data))}
	b.data = append(b.data, make([]byte, n)...)
	return loc, nil
}

// Write appends p. It implements io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	if _, err := b.WriteBytes(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteBytes appends p and returns its location.
func (b *Buffer) WriteBytes(p []byte) (format.Location, error) {
	if uint64(len(b.data))+uint64(len(p)) > math.MaxUint32 {
		return format.Location{}, errors.Wrapf(ErrTooLarge, "writing %d bytes at %#x", len(p), len(b.data))
	}
	loc := format.Location{DataSize: uint32(len(p)), RVA: uint32(len(b.data))}
	b.data = append(b.data, p...)
	return loc, nil
}

// WriteAt overwrites bytes of a previous allocation.
func (b *Buffer) WriteAt(loc format.Location, p []byte) error {
	if len(p) > int(loc.DataSize) {
		return errors.Newf("patch of %d bytes does not fit location of %d bytes", len(p), loc.DataSize)
	}
	if loc.End() > uint64(len(b.data)) {
		return errors.Newf("patch at %#x+%d is outside the buffer (%d bytes)", loc.RVA, loc.DataSize, len(b.data))
	}
	copy(b.data[loc.RVA:], p)
	b.patched = append(b.patched, loc)
	return nil
}

// WriteValue appends the little-endian encoding of v.
func (b *Buffer) WriteValue(v any) (format.Location, error) {
	p, err := encode(v)
	if err != nil {
		return format.Location{}, err
	}
	return b.WriteBytes(p)
}

// SetValue overwrites loc with the encoding of v.
func (b *Buffer) SetValue(loc format.Location, v any) error {
	p, err := encode(v)
	if err != nil {
		return err
	}
	return b.WriteAt(loc, p)
}

func (b *Buffer) takePatches() []format.Location {
	p := b.patched
	b.patched = nil
	return p
}

func encode(v any) ([]byte, error) {
	p, err := binary.Append(nil, binary.LittleEndian, v)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %T", v)
	}
	return p, nil
}

func sizeOf[T any]() (int, error) {
	var zero T
	n := binary.Size(zero)
	if n < 0 {
		return 0, errors.Newf("%T has no fixed encoded size", zero)
	}
	return n, nil
}
