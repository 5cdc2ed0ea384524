// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apple

import (
	"github.com/bahamoth/minidump-writer/arch"
	"github.com/bahamoth/minidump-writer/format"
)

// threadStateMax is THREAD_STATE_MAX, in 32-bit words.
const threadStateMax = 1296

// Native thread state sizes in 32-bit words.
const (
	x86ThreadState64Count = 42 // x86_thread_state64_t
	armThreadState64Count = 68 // arm_thread_state64_t
)

// Word indexes of 64-bit registers in x86_thread_state64_t.
const (
	x86RAX = iota
	x86RBX
	x86RCX
	x86RDX
	x86RDI
	x86RSI
	x86RBP
	x86RSP
	x86R8
	x86R9
	x86R10
	x86R11
	x86R12
	x86R13
	x86R14
	x86R15
	x86RIP
	x86RFLAGS
	x86CS
	x86FS
	x86GS
)

// Register indexes in arm_thread_state64_t: x0-x28, then these.
const (
	armFP   = 29
	armLR   = 30
	armSP   = 31
	armPC   = 32
	armCPSR = 66 // 32-bit word index
)

// ThreadState is the native register state of a thread, as filled in by
// thread_get_state.
type ThreadState struct {
	Arch  *arch.Architecture
	State [threadStateMax]uint32
	// Count is the number of valid words in State.
	Count uint32
}

// reg returns the i'th 64-bit register of the state.
func (ts *ThreadState) reg(i int) uint64 {
	return uint64(ts.State[2*i]) | uint64(ts.State[2*i+1])<<32
}

// StackPointer returns the stack pointer, or 0 for an unknown architecture.
func (ts *ThreadState) StackPointer() uint64 {
	switch ts.Arch {
	case &arch.AMD64:
		return ts.reg(x86RSP)
	case &arch.ARM64:
		return ts.reg(armSP)
	}
	return 0
}

// InstructionPointer returns the program counter, or 0 for an unknown
// architecture.
func (ts *ThreadState) InstructionPointer() uint64 {
	switch ts.Arch {
	case &arch.AMD64:
		return ts.reg(x86RIP)
	case &arch.ARM64:
		return ts.reg(armPC)
	}
	return 0
}

// Context converts the state to the context record of its architecture.
// It returns nil for an unknown architecture.
func (ts *ThreadState) Context() format.Context {
	switch ts.Arch {
	case &arch.AMD64:
		return ts.amd64Context()
	case &arch.ARM64:
		return ts.arm64Context()
	}
	return nil
}

func (ts *ThreadState) amd64Context() *format.AMD64Context {
	return &format.AMD64Context{
		ContextFlags: format.ContextAMD64Control | format.ContextAMD64Integer | format.ContextAMD64Segments,
		Cs:           uint16(ts.reg(x86CS)),
		Fs:           uint16(ts.reg(x86FS)),
		Gs:           uint16(ts.reg(x86GS)),
		EFlags:       uint32(ts.reg(x86RFLAGS)),
		Rax:          ts.reg(x86RAX),
		Rbx:          ts.reg(x86RBX),
		Rcx:          ts.reg(x86RCX),
		Rdx:          ts.reg(x86RDX),
		Rdi:          ts.reg(x86RDI),
		Rsi:          ts.reg(x86RSI),
		Rbp:          ts.reg(x86RBP),
		Rsp:          ts.reg(x86RSP),
		R8:           ts.reg(x86R8),
		R9:           ts.reg(x86R9),
		R10:          ts.reg(x86R10),
		R11:          ts.reg(x86R11),
		R12:          ts.reg(x86R12),
		R13:          ts.reg(x86R13),
		R14:          ts.reg(x86R14),
		R15:          ts.reg(x86R15),
		Rip:          ts.reg(x86RIP),
	}
}

func (ts *ThreadState) arm64Context() *format.ARM64Context {
	c := &format.ARM64Context{
		ContextFlags: format.ContextARM64Control | format.ContextARM64Integer,
		Cpsr:         ts.State[armCPSR],
		Sp:           ts.reg(armSP),
		Pc:           ts.reg(armPC),
	}
	for i := 0; i <= armLR; i++ {
		c.Iregs[i] = ts.reg(i)
	}
	return c
}
