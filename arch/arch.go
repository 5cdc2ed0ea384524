// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arch contains architecture-specific definitions.
package arch

import (
	"encoding/binary"
	"runtime"

	"github.com/bahamoth/minidump-writer/format"
)

// Architecture defines the architecture-specific details for a given machine.
type Architecture struct {
	// Name is the GOARCH spelling of the architecture.
	Name string
	// PointerSize is the size of a pointer, in bytes.
	PointerSize int
	// ByteOrder is the byte order for ints and pointers.
	ByteOrder binary.ByteOrder
	// ProcessorArchitecture is the value recorded in the system info stream.
	ProcessorArchitecture uint16
	// ContextSize is the size of the CPU context record written per thread.
	ContextSize int
}

// Uintptr decodes a pointer-sized word.
func (a *Architecture) Uintptr(buf []byte) uint64 {
	if len(buf) != a.PointerSize {
		panic("bad PointerSize")
	}
	switch a.PointerSize {
	case 4:
		return uint64(a.ByteOrder.Uint32(buf[:4]))
	case 8:
		return a.ByteOrder.Uint64(buf[:8])
	}
	panic("no PointerSize")
}

// PutUintptr encodes v as a pointer-sized word into buf.
func (a *Architecture) PutUintptr(buf []byte, v uint64) {
	switch a.PointerSize {
	case 4:
		a.ByteOrder.PutUint32(buf, uint32(v))
	case 8:
		a.ByteOrder.PutUint64(buf, v)
	default:
		panic("no PointerSize")
	}
}

// DefacedValue is the pattern written over stack words that could not be
// shown to be harmless.
func (a *Architecture) DefacedValue() uint64 {
	if a.PointerSize == 4 {
		return 0x0defaced
	}
	return 0x0defaced0defaced
}

var AMD64 = Architecture{
	Name:                  "amd64",
	PointerSize:           8,
	ByteOrder:             binary.LittleEndian,
	ProcessorArchitecture: format.ProcessorArchitectureAMD64,
	ContextSize:           format.ContextAMD64Size,
}

var ARM64 = Architecture{
	Name:                  "arm64",
	PointerSize:           8,
	ByteOrder:             binary.LittleEndian,
	ProcessorArchitecture: format.ProcessorArchitectureARM64,
	ContextSize:           format.ContextARM64Size,
}

// Host returns the descriptor of the architecture the program runs on, or
// nil if minidumps cannot be written for it.
func Host() *Architecture {
	switch runtime.GOARCH {
	case "amd64":
		return &AMD64
	case "arm64":
		return &ARM64
	}
	return nil
}
