// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

import (
	"encoding/binary"
	"testing"
)

func TestRecordSizes(t *testing.T) {
	for _, test := range []struct {
		name string
		v    any
		want int
	}{
		{"Header", Header{}, HeaderSize},
		{"Directory", Directory{}, DirectorySize},
		{"Location", Location{}, 8},
		{"MemoryDescriptor", MemoryDescriptor{}, 16},
		{"Thread", Thread{}, ThreadSize},
		{"Module", Module{}, ModuleSize},
		{"FixedFileInfo", FixedFileInfo{}, 52},
		{"CVInfoPDB70", CVInfoPDB70{}, 24},
		{"SystemInfo", SystemInfo{}, SystemInfoSize},
		{"MiscInfo", MiscInfo{}, MiscInfoSize},
		{"ExceptionStreamRecord", ExceptionStreamRecord{}, ExceptionStreamSize},
		{"BreakpadInfo", BreakpadInfo{}, 12},
		{"ThreadName", ThreadName{}, ThreadNameSize},
		{"AMD64Context", AMD64Context{}, ContextAMD64Size},
		{"ARM64Context", ARM64Context{}, ContextARM64Size},
	} {
		if got := binary.Size(test.v); got != test.want {
			t.Errorf("binary.Size(%s) = %d, want %d", test.name, got, test.want)
		}
	}
}

func TestContextAccessors(t *testing.T) {
	amd := &AMD64Context{Rsp: 0x7ffe0000, Rip: 0x401000}
	arm := &ARM64Context{Sp: 0xfff0, Pc: 0x1234}
	for _, c := range []Context{amd, arm} {
		if c.StackPointer() == 0 || c.InstructionPointer() == 0 {
			t.Errorf("%T: zero accessor", c)
		}
	}
	if got := (Location{DataSize: 16, RVA: 32}).End(); got != 48 {
		t.Errorf("Location.End = %d, want 48", got)
	}
}
