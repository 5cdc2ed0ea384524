// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

// Context is a CPU context record that can be written for a thread.
type Context interface {
	StackPointer() uint64
	InstructionPointer() uint64
}

// Context flags for ContextAMD64.
const (
	ContextAMD64              = 0x00100000
	ContextAMD64Control       = ContextAMD64 | 0x00000001
	ContextAMD64Integer       = ContextAMD64 | 0x00000002
	ContextAMD64Segments      = ContextAMD64 | 0x00000004
	ContextAMD64FloatingPoint = ContextAMD64 | 0x00000008
	ContextAMD64DebugRegs     = ContextAMD64 | 0x00000010
	ContextAMD64Full          = ContextAMD64Control | ContextAMD64Integer | ContextAMD64FloatingPoint
)

// ContextAMD64Size is the encoded size of AMD64Context.
const ContextAMD64Size = 1232

// AMD64Context is MDRawContextAMD64.
type AMD64Context struct {
	P1Home, P2Home, P3Home, P4Home, P5Home, P6Home uint64

	ContextFlags uint32
	MxCsr        uint32

	Cs, Ds, Es, Fs, Gs, Ss uint16
	EFlags                 uint32

	Dr0, Dr1, Dr2, Dr3, Dr6, Dr7 uint64

	Rax, Rcx, Rdx, Rbx, Rsp, Rbp, Rsi, Rdi uint64
	R8, R9, R10, R11, R12, R13, R14, R15   uint64
	Rip                                    uint64

	// FltSave is the fxsave area.
	FltSave [512]byte

	VectorRegister       [26][2]uint64
	VectorControl        uint64
	DebugControl         uint64
	LastBranchToRip      uint64
	LastBranchFromRip    uint64
	LastExceptionToRip   uint64
	LastExceptionFromRip uint64
}

func (c *AMD64Context) StackPointer() uint64       { return c.Rsp }
func (c *AMD64Context) InstructionPointer() uint64 { return c.Rip }

// Context flags for ARM64Context.
const (
	ContextARM64              = 0x00400000
	ContextARM64Control       = ContextARM64 | 0x00000001
	ContextARM64Integer       = ContextARM64 | 0x00000002
	ContextARM64FloatingPoint = ContextARM64 | 0x00000004
	ContextARM64Debug         = ContextARM64 | 0x00000008
	ContextARM64Full          = ContextARM64Control | ContextARM64Integer | ContextARM64FloatingPoint
)

// ContextARM64Size is the encoded size of ARM64Context.
const ContextARM64Size = 912

// ARM64Context is MDRawContextARM64. Iregs holds x0 through x30; x29 is the
// frame pointer and x30 the link register.
type ARM64Context struct {
	ContextFlags uint32
	Cpsr         uint32
	Iregs        [31]uint64
	Sp           uint64
	Pc           uint64
	FloatRegs    [32][2]uint64
	Fpcr         uint32
	Fpsr         uint32
	Bcr          [8]uint32
	Bvr          [8]uint64
	Wcr          [2]uint32
	Wvr          [2]uint64
}

func (c *ARM64Context) StackPointer() uint64       { return c.Sp }
func (c *ARM64Context) InstructionPointer() uint64 { return c.Pc }
