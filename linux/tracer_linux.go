// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linux

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Regset types for PTRACE_GETREGSET.
const (
	ntPrStatus = 1
	ntPrFPReg  = 2
)

// ptraceRun runs all the closures from fc on a dedicated OS thread. Errors
// are returned on ec. Both channels must be unbuffered, to ensure that the
// resultant error is sent back to the same goroutine that sent the closure.
// The thread stays locked when fc is closed, so the runtime retires it.
func ptraceRun(fc chan func() error, ec chan error) {
	if cap(fc) != 0 || cap(ec) != 0 {
		panic("ptraceRun was given buffered channels")
	}
	runtime.LockOSThread()
	for f := range fc {
		ec <- f()
	}
}

// tracer owns the ptrace thread of one dumper.
type tracer struct {
	fc chan func() error
	ec chan error
}

func newTracer() *tracer {
	t := &tracer{fc: make(chan func() error), ec: make(chan error)}
	go ptraceRun(t.fc, t.ec)
	return t
}

func (t *tracer) close() { close(t.fc) }

func (t *tracer) do(f func() error) error {
	t.fc <- f
	return <-t.ec
}

func (t *tracer) ptraceAttach(tid int) error {
	return t.do(func() error {
		return errors.Wrapf(unix.PtraceAttach(tid), "PTRACE_ATTACH %d", tid)
	})
}

// ptraceDetach detaches from tid. A thread that no longer exists is
// already detached.
func (t *tracer) ptraceDetach(tid int) error {
	return t.do(func() error {
		err := unix.PtraceDetach(tid)
		if err == nil || err == unix.ESRCH {
			return nil
		}
		return errors.Wrapf(err, "PTRACE_DETACH %d", tid)
	})
}

func (t *tracer) ptraceCont(tid int, sig unix.Signal) error {
	return t.do(func() error {
		return errors.Wrapf(unix.PtraceCont(tid, int(sig)), "PTRACE_CONT %d", tid)
	})
}

// wait waits for a state change of tid, including clone children.
func (t *tracer) wait(tid int) (status unix.WaitStatus, err error) {
	err = t.do(func() error {
		_, err := unix.Wait4(tid, &status, unix.WALL, nil)
		return err
	})
	return status, err
}

// getRegSet fills out with the register set nt of tid and returns how many
// bytes the kernel wrote.
func (t *tracer) getRegSet(tid int, nt int, out []byte) (n int, err error) {
	err = t.do(func() error {
		iov := unix.Iovec{Base: &out[0]}
		iov.SetLen(len(out))
		_, _, e := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GETREGSET, uintptr(tid), uintptr(nt), uintptr(unsafe.Pointer(&iov)), 0, 0)
		if e != 0 {
			return errors.Wrapf(e, "PTRACE_GETREGSET %d type %d", tid, nt)
		}
		n = int(iov.Len)
		return nil
	})
	return n, err
}

func (t *tracer) getRegs(tid int, regs *unix.PtraceRegs) error {
	buf := unsafe.Slice((*byte)(unsafe.Pointer(regs)), unsafe.Sizeof(*regs))
	_, err := t.getRegSet(tid, ntPrStatus, buf)
	return err
}

func (t *tracer) ptracePeek(tid int, addr uintptr, out []byte) (n int, err error) {
	err = t.do(func() error {
		var err error
		n, err = unix.PtracePeekData(tid, addr, out)
		return err
	})
	return n, err
}

// PtraceMemReader reads target memory a word at a time with
// PTRACE_PEEKDATA. The thread it reads through must be attached and
// stopped.
type PtraceMemReader struct {
	t   *tracer
	tid int
}

// ReadAt reads len(p) bytes at virtual address addr.
func (r *PtraceMemReader) ReadAt(p []byte, addr int64) (int, error) {
	n, err := r.t.ptracePeek(r.tid, uintptr(addr), p)
	if err != nil {
		return n, errors.Wrapf(err, "PTRACE_PEEKDATA %d at %#x", r.tid, addr)
	}
	return n, nil
}

// VirtualMemReader reads target memory with process_vm_readv.
type VirtualMemReader struct {
	Pid int
}

// ReadAt reads len(p) bytes at virtual address addr.
func (r VirtualMemReader) ReadAt(p []byte, addr int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	local := []unix.Iovec{{Base: &p[0]}}
	local[0].SetLen(len(p))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(p)}}
	n, err := unix.ProcessVMReadv(r.Pid, local, remote, 0)
	if err != nil {
		return n, errors.Wrapf(err, "process_vm_readv %d at %#x", r.Pid, addr)
	}
	return n, nil
}
