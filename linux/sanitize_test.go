// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linux

import (
	"encoding/binary"
	"testing"

	"github.com/bahamoth/minidump-writer/arch"
)

func TestSanitizeStackCopy(t *testing.T) {
	const (
		codeStart  = 0x7f0000000000
		stackStart = 0x7ffc00000000
	)
	mappings := []MappingInfo{
		{StartAddress: codeStart, Size: 0x10000, Permissions: Read | Exec | Private, Name: "/usr/lib/libfoo.so",
			SystemMappingInfo: SystemMappingInfo{codeStart, codeStart + 0x10000}},
		{StartAddress: 0x7f0000100000, Size: 0x10000, Permissions: Read | Write | Private, Name: "/usr/lib/libfoo.so",
			SystemMappingInfo: SystemMappingInfo{0x7f0000100000, 0x7f0000110000}},
		{StartAddress: stackStart, Size: 0x20000, Permissions: Read | Write | Private, Name: "[stack]",
			SystemMappingInfo: SystemMappingInfo{stackStart, stackStart + 0x20000}},
	}
	secret := binary.LittleEndian.Uint64([]byte("secretpw"))
	words := []struct {
		v    uint64
		kept bool
	}{
		{42, true},
		{^uint64(0), true}, // -1
		{^uint64(4096) + 1, true},
		{^uint64(4097) + 1, false},
		{stackStart + 0x100, true},
		{codeStart + 0x800, true},
		{codeStart + 0x900, true},
		{0x7f0000100010, false}, // data, not code
		{secret, false},
		{0x55d3a1bc3000, false},
	}
	const spOffset = 13
	stack := make([]byte, 16+8*len(words)+3)
	for i := range 16 {
		stack[i] = 0xff
	}
	for i, w := range words {
		binary.LittleEndian.PutUint64(stack[16+8*i:], w.v)
	}
	copy(stack[len(stack)-3:], "abc")

	sanitizeStackCopy(&arch.AMD64, mappings, stack, stackStart+0x40, spOffset)

	for i := range 16 {
		if stack[i] != 0 {
			t.Fatalf("byte %d below the stack pointer = %#x, want 0", i, stack[i])
		}
	}
	for i, w := range words {
		got := binary.LittleEndian.Uint64(stack[16+8*i:])
		want := w.v
		if !w.kept {
			want = 0x0defaced0defaced
		}
		if got != want {
			t.Errorf("word %d (%#x) = %#x, want %#x", i, w.v, got, want)
		}
	}
	for _, c := range stack[len(stack)-3:] {
		if c != 0 {
			t.Errorf("partial trailing word not zeroed: %q", stack[len(stack)-3:])
			break
		}
	}
}

func TestExecFilter(t *testing.T) {
	f := newExecFilter([]MappingInfo{
		{StartAddress: 0x400000, Size: 0x1000, Permissions: Read | Exec},
		{StartAddress: 0x7f0000000000, Size: 0x1000, Permissions: Read | Write},
	})
	if !f.mayHit(0x400800) {
		t.Errorf("filter misses an executable address")
	}
	if f.mayHit(0x7f0000000800 + 0x10000000) {
		t.Errorf("filter hits an address only near data")
	}
}
