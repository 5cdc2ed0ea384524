// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linux

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"

	"github.com/bahamoth/minidump-writer/format"
)

// ThreadInfo is the register state of a suspended thread.
type ThreadInfo struct {
	TID    int
	Regs   unix.PtraceRegs
	FPRegs []byte
}

func (t *tracer) threadInfo(tid int) (*ThreadInfo, error) {
	ti := &ThreadInfo{TID: tid}
	if err := t.getRegs(tid, &ti.Regs); err != nil {
		return nil, errors.Wrap(err, "reading general registers")
	}
	fp := make([]byte, fpRegsSize)
	n, err := t.getRegSet(tid, ntPrFPReg, fp)
	if err != nil {
		return nil, errors.Wrap(err, "reading floating point registers")
	}
	ti.FPRegs = fp[:n]
	return ti, nil
}

// Context returns the thread's CPU context record.
func (ti *ThreadInfo) Context() format.Context { return fillContext(&ti.Regs, ti.FPRegs) }
