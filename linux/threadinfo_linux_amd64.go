// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linux

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/bahamoth/minidump-writer/format"
)

// fpRegsSize is the size of user_fpregs_struct, the fxsave layout.
const fpRegsSize = 512

// StackPointer returns rsp.
func (ti *ThreadInfo) StackPointer() uint64 { return ti.Regs.Rsp }

// InstructionPointer returns rip.
func (ti *ThreadInfo) InstructionPointer() uint64 { return ti.Regs.Rip }

// skipThread reports whether a thread is running trusted seccomp sandbox
// code, whose stack pointer reads as zero. Such threads are left out of the
// dump.
func skipThread(regs *unix.PtraceRegs) bool { return regs.Rsp == 0 }

func fillContext(r *unix.PtraceRegs, fp []byte) format.Context {
	c := &format.AMD64Context{
		ContextFlags: format.ContextAMD64Full,
		Cs:           uint16(r.Cs),
		Ds:           uint16(r.Ds),
		Es:           uint16(r.Es),
		Fs:           uint16(r.Fs),
		Gs:           uint16(r.Gs),
		Ss:           uint16(r.Ss),
		EFlags:       uint32(r.Eflags),
		Rax:          r.Rax,
		Rcx:          r.Rcx,
		Rdx:          r.Rdx,
		Rbx:          r.Rbx,
		Rsp:          r.Rsp,
		Rbp:          r.Rbp,
		Rsi:          r.Rsi,
		Rdi:          r.Rdi,
		R8:           r.R8,
		R9:           r.R9,
		R10:          r.R10,
		R11:          r.R11,
		R12:          r.R12,
		R13:          r.R13,
		R14:          r.R14,
		R15:          r.R15,
		Rip:          r.Rip,
	}
	copy(c.FltSave[:], fp)
	if len(fp) >= 28 {
		c.MxCsr = binary.LittleEndian.Uint32(fp[24:])
	}
	return c
}
