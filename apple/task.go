// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package apple writes minidumps of tasks on macOS and iOS.
//
// The writer works on a Task, which on Apple platforms is backed by Mach
// calls (see NewSelfTask). On iOS only the calling task can be dumped.
// Everything except the Mach binding is portable.
package apple

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// Virtual memory protection bits.
const (
	ProtRead    = 0x1
	ProtWrite   = 0x2
	ProtExecute = 0x4
)

// vmMemoryStack is the user tag of thread stacks, VM_MEMORY_STACK.
const vmMemoryStack = 30

// Mach return codes the writer cares about.
const (
	kernSuccess        = 0
	kernInvalidAddress = 1
	kernProtection     = 2
)

var (
	// ErrSecurityRestriction is returned for operations the sandbox does
	// not allow, such as inspecting another task on iOS.
	ErrSecurityRestriction = errors.New("security restriction")
	// ErrNonUTF8 is returned when a string in task memory is not UTF-8.
	ErrNonUTF8 = errors.New("string is not valid UTF-8")
	// ErrInvalidMachHeader is returned when an image has no Mach-O header.
	ErrInvalidMachHeader = errors.New("invalid mach image header")
	// ErrNoExecutableImage is returned when no image is of type
	// MH_EXECUTE.
	ErrNoExecutableImage = errors.New("no main executable image")
	// ErrMissingLoadCommand is returned when an image lacks a load command
	// needed to describe it.
	ErrMissingLoadCommand = errors.New("missing load command")
)

// KernelError is a failed Mach call.
type KernelError struct {
	Syscall string
	Code    int32
}

func (e *KernelError) Error() string {
	name := ""
	switch e.Code {
	case kernInvalidAddress:
		name = " (KERN_INVALID_ADDRESS)"
	case kernProtection:
		name = " (KERN_PROTECTION_FAILURE)"
	}
	return fmt.Sprintf("kernel error %s %d%s", e.Syscall, e.Code, name)
}

// VMRegion is a leaf region of a task's address space.
type VMRegion struct {
	Start, End uint64
	Protection uint32
	UserTag    uint32
	// Depth is how many submaps were entered to reach the region.
	Depth    uint32
	IsSubmap bool
}

// Contains reports whether addr is in the region.
func (r VMRegion) Contains(addr uint64) bool { return addr >= r.Start && addr < r.End }

// ImageInfo is dyld_image_info.
type ImageInfo struct {
	LoadAddress uint64
	// FilePath is the address of the NUL terminated path in task memory.
	FilePath uint64
	ModDate  uint64
}

// ThreadBasicInfo is the part of thread_basic_info recorded in a dump.
type ThreadBasicInfo struct {
	SuspendCount uint32
	// Policy is the scheduling policy, recorded as the thread priority
	// since Mach has no single priority value.
	Policy uint32
}

// TaskTimes describes the CPU use of a task.
type TaskTimes struct {
	Start  time.Time
	User   time.Duration
	System time.Duration
}

// Task is the set of Mach operations a dump needs.
type Task interface {
	// ReadMemory reads n bytes at addr.
	ReadMemory(addr uint64, n int) ([]byte, error)
	// VMRegion returns the leaf region holding addr, or the next region
	// above it.
	VMRegion(addr uint64) (VMRegion, error)
	// VMRegions returns every leaf region.
	VMRegions() ([]VMRegion, error)
	// Threads returns the thread ports of the task.
	Threads() ([]uint32, error)
	ThreadState(tid uint32) (*ThreadState, error)
	ThreadBasicInfo(tid uint32) (ThreadBasicInfo, error)
	// ThreadName returns the pthread name of tid, possibly empty.
	ThreadName(tid uint32) (string, error)
	// Images lists the images dyld has loaded.
	Images() ([]ImageInfo, error)
	Pid() (int, error)
	Times() (TaskTimes, error)
	PageSize() int
}

// ExceptionInfo is the Mach exception that caused a crash.
type ExceptionInfo struct {
	// Kind is the exception type, such as EXC_BAD_ACCESS.
	Kind uint32
	// Code is the exception code, such as KERN_INVALID_ADDRESS.
	Code uint64
	// Subcode, if HasSubcode, depends on Kind. For EXC_BAD_ACCESS it is
	// the address that was accessed.
	Subcode    uint64
	HasSubcode bool
}

// CrashContext is what an exception handler knows about a crash.
type CrashContext struct {
	Task Task
	// Thread crashed.
	Thread uint32
	// HandlerThread received the exception. It is left out of the dump.
	HandlerThread    uint32
	HasHandlerThread bool
	// Exception, if not nil, is written as the exception stream.
	Exception *ExceptionInfo
	// ThreadState is the state of Thread when it crashed.
	ThreadState *ThreadState
}
