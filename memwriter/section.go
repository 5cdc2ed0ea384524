// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memwriter

import (
	"unicode/utf16"

	"github.com/cockroachdb/errors"

	"github.com/bahamoth/minidump-writer/format"
)

// Section is a typed allocation holding one T.
type Section[T any] struct {
	loc format.Location
}

// Alloc reserves room for a T without initializing it.
func Alloc[T any](b *Buffer) (Section[T], error) {
	n, err := sizeOf[T]()
	if err != nil {
		return Section[T]{}, err
	}
	loc, err := b.Reserve(n)
	return Section[T]{loc: loc}, err
}

// AllocWithVal allocates a T holding v.
func AllocWithVal[T any](b *Buffer, v T) (Section[T], error) {
	loc, err := b.WriteValue(v)
	return Section[T]{loc: loc}, err
}

// Location returns where the value lives in the buffer.
func (s Section[T]) Location() format.Location { return s.loc }

// Set patches the value.
func (s Section[T]) Set(b *Buffer, v T) error {
	return b.SetValue(s.loc, v)
}

// ArraySection is a typed allocation holding a contiguous array of T.
type ArraySection[T any] struct {
	loc  format.Location
	n    int
	size int
}

// AllocArray reserves room for n values of type T.
func AllocArray[T any](b *Buffer, n int) (ArraySection[T], error) {
	size, err := sizeOf[T]()
	if err != nil {
		return ArraySection[T]{}, err
	}
	loc, err := b.Reserve(n * size)
	return ArraySection[T]{loc: loc, n: n, size: size}, err
}

// AllocFromSlice allocates an array initialized from vs.
func AllocFromSlice[T any](b *Buffer, vs []T) (ArraySection[T], error) {
	size, err := sizeOf[T]()
	if err != nil {
		return ArraySection[T]{}, err
	}
	p, err := encode(vs)
	if err != nil {
		return ArraySection[T]{}, err
	}
	loc, err := b.WriteBytes(p)
	return ArraySection[T]{loc: loc, n: len(vs), size: size}, err
}

// Location returns where the whole array lives in the buffer.
func (a ArraySection[T]) Location() format.Location { return a.loc }

// Len returns the number of elements.
func (a ArraySection[T]) Len() int { return a.n }

// LocationOf returns the location of element i.
func (a ArraySection[T]) LocationOf(i int) format.Location {
	return format.Location{
		DataSize: uint32(a.size),
		RVA:      a.loc.RVA + uint32(i*a.size),
	}
}

// SetAt patches element i.
func (a ArraySection[T]) SetAt(b *Buffer, i int, v T) error {
	if i < 0 || i >= a.n {
		return errors.Newf("index %d out of range [0,%d)", i, a.n)
	}
	return b.SetValue(a.LocationOf(i), v)
}

// WriteString writes s as a MINIDUMP_STRING: a 32-bit byte length followed
// by UTF-16LE code units and a NUL terminator. The returned location covers
// the length and the characters.
func WriteString(b *Buffer, s string) (format.Location, error) {
	units := utf16.Encode([]rune(s))
	header, err := AllocWithVal(b, uint32(len(units)*2))
	if err != nil {
		return format.Location{}, err
	}
	text, err := AllocFromSlice(b, units)
	if err != nil {
		return format.Location{}, err
	}
	if _, err := AllocWithVal(b, uint16(0)); err != nil {
		return format.Location{}, err
	}
	loc := header.Location()
	loc.DataSize += text.Location().DataSize
	return loc, nil
}
