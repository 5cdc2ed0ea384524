// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linux

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/bahamoth/minidump-writer/format"
)

// fpRegsSize is the size of user_fpsimd_state: 32 128-bit registers, fpsr,
// fpcr and padding.
const fpRegsSize = 528

// StackPointer returns sp.
func (ti *ThreadInfo) StackPointer() uint64 { return ti.Regs.Sp }

// InstructionPointer returns pc.
func (ti *ThreadInfo) InstructionPointer() uint64 { return ti.Regs.Pc }

func skipThread(*unix.PtraceRegs) bool { return false }

func fillContext(r *unix.PtraceRegs, fp []byte) format.Context {
	c := &format.ARM64Context{
		ContextFlags: format.ContextARM64Full,
		Cpsr:         uint32(r.Pstate),
		Iregs:        r.Regs,
		Sp:           r.Sp,
		Pc:           r.Pc,
	}
	if len(fp) >= 520 {
		for i := range c.FloatRegs {
			c.FloatRegs[i][0] = binary.LittleEndian.Uint64(fp[i*16:])
			c.FloatRegs[i][1] = binary.LittleEndian.Uint64(fp[i*16+8:])
		}
		c.Fpsr = binary.LittleEndian.Uint32(fp[512:])
		c.Fpcr = binary.LittleEndian.Uint32(fp[516:])
	}
	return c
}
