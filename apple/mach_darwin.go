// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build darwin && cgo

package apple

/*
#include <stdint.h>
#include <string.h>
#include <mach/mach.h>

extern kern_return_t mach_vm_read(vm_map_t, mach_vm_address_t, mach_vm_size_t, vm_offset_t *, mach_msg_type_number_t *);
extern kern_return_t mach_vm_region_recurse(vm_map_t, mach_vm_address_t *, mach_vm_size_t *, natural_t *, vm_region_recurse_info_t, mach_msg_type_number_t *);

static kern_return_t md_read(task_t task, uint64_t addr, uint64_t size, vm_offset_t *data, mach_msg_type_number_t *count) {
	return mach_vm_read(task, addr, size, data, count);
}

static void md_release(vm_offset_t data, mach_msg_type_number_t count) {
	vm_deallocate(mach_task_self(), data, count);
}

static void *md_ptr(vm_offset_t data) {
	return (void *)data;
}

static kern_return_t md_region(task_t task, uint64_t *addr, uint64_t *size, natural_t *depth, vm_region_submap_info_data_64_t *info) {
	mach_msg_type_number_t count = VM_REGION_SUBMAP_INFO_COUNT_64;
	return mach_vm_region_recurse(task, addr, size, depth, (vm_region_recurse_info_t)info, &count);
}

static kern_return_t md_threads(task_t task, thread_act_array_t *list, mach_msg_type_number_t *count) {
	return task_threads(task, list, count);
}

static uint32_t md_thread_at(thread_act_array_t list, mach_msg_type_number_t i) {
	return list[i];
}

static void md_release_threads(thread_act_array_t list, mach_msg_type_number_t count) {
	vm_deallocate(mach_task_self(), (vm_address_t)list, count * sizeof(thread_act_t));
}

static kern_return_t md_thread_state(thread_t t, uint32_t *state, mach_msg_type_number_t *count) {
#if defined(__x86_64__)
	*count = x86_THREAD_STATE64_COUNT;
	return thread_get_state(t, x86_THREAD_STATE64, (thread_state_t)state, count);
#elif defined(__arm64__)
	*count = ARM_THREAD_STATE64_COUNT;
	return thread_get_state(t, ARM_THREAD_STATE64, (thread_state_t)state, count);
#else
	return KERN_NOT_SUPPORTED;
#endif
}

static kern_return_t md_thread_basic_info(thread_t t, uint32_t *suspend_count, uint32_t *policy) {
	thread_basic_info_data_t info;
	mach_msg_type_number_t count = THREAD_BASIC_INFO_COUNT;
	kern_return_t kr = thread_info(t, THREAD_BASIC_INFO, (thread_info_t)&info, &count);
	if (kr == KERN_SUCCESS) {
		*suspend_count = info.suspend_count;
		*policy = info.policy;
	}
	return kr;
}

static kern_return_t md_thread_name(thread_t t, char *name, size_t n) {
	thread_extended_info_data_t info;
	mach_msg_type_number_t count = THREAD_EXTENDED_INFO_COUNT;
	kern_return_t kr = thread_info(t, THREAD_EXTENDED_INFO, (thread_info_t)&info, &count);
	if (kr == KERN_SUCCESS) {
		strlcpy(name, info.pth_name, n);
	}
	return kr;
}

static kern_return_t md_times(task_t task, uint64_t *user_us, uint64_t *system_us) {
	mach_task_basic_info_data_t basic;
	mach_msg_type_number_t count = MACH_TASK_BASIC_INFO_COUNT;
	kern_return_t kr = task_info(task, MACH_TASK_BASIC_INFO, (task_info_t)&basic, &count);
	if (kr != KERN_SUCCESS) {
		return kr;
	}
	task_thread_times_info_data_t live;
	count = TASK_THREAD_TIMES_INFO_COUNT;
	kr = task_info(task, TASK_THREAD_TIMES_INFO, (task_info_t)&live, &count);
	if (kr != KERN_SUCCESS) {
		return kr;
	}
	*user_us = (uint64_t)basic.user_time.seconds * 1000000 + basic.user_time.microseconds +
		(uint64_t)live.user_time.seconds * 1000000 + live.user_time.microseconds;
	*system_us = (uint64_t)basic.system_time.seconds * 1000000 + basic.system_time.microseconds +
		(uint64_t)live.system_time.seconds * 1000000 + live.system_time.microseconds;
	return KERN_SUCCESS;
}

static kern_return_t md_pid(task_t task, int *pid) {
	return pid_for_task(task, pid);
}

static task_t md_self(void) {
	return mach_task_self();
}

static uint64_t md_page_size(void) {
	return vm_page_size;
}
*/
import "C"

import (
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"

	"github.com/bahamoth/minidump-writer/arch"
)

// machTask is a Task backed by a Mach task port.
type machTask struct {
	port     C.task_t
	pageSize uint64
}

// NewSelfTask returns the calling task.
func NewSelfTask() Task {
	return &machTask{port: C.md_self(), pageSize: uint64(C.md_page_size())}
}

func kernelError(syscall string, kr C.kern_return_t) error {
	return &KernelError{Syscall: syscall, Code: int32(kr)}
}

// kernelBuffer is memory the kernel mapped into our task for a reply. It
// must be released exactly once.
type kernelBuffer struct {
	data  C.vm_offset_t
	count C.mach_msg_type_number_t
}

// copyOutAndRelease copies n bytes at off and gives the buffer back.
func (kb kernelBuffer) copyOutAndRelease(off, n int) []byte {
	defer C.md_release(kb.data, kb.count)
	if off < 0 || n < 0 || off+n > int(kb.count) {
		return nil
	}
	return C.GoBytes(unsafe.Add(C.md_ptr(kb.data), off), C.int(n))
}

func (t *machTask) ReadMemory(addr uint64, n int) ([]byte, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}
	start := addr &^ (t.pageSize - 1)
	end := (addr + uint64(n) + t.pageSize - 1) &^ (t.pageSize - 1)
	var kb kernelBuffer
	kr := C.md_read(t.port, C.uint64_t(start), C.uint64_t(end-start), &kb.data, &kb.count)
	if kr != C.KERN_SUCCESS {
		return nil, kernelError("mach_vm_read", kr)
	}
	data := kb.copyOutAndRelease(int(addr-start), n)
	if data == nil {
		return nil, errors.Newf("mach_vm_read returned %d bytes for %d at %#x", kb.count, n, addr)
	}
	return data, nil
}

func (t *machTask) VMRegion(addr uint64) (VMRegion, error) {
	if err := t.check(); err != nil {
		return VMRegion{}, err
	}
	var depth C.natural_t
	for {
		a, size := C.uint64_t(addr), C.uint64_t(0)
		var info C.vm_region_submap_info_data_64_t
		kr := C.md_region(t.port, &a, &size, &depth, &info)
		if kr != C.KERN_SUCCESS {
			return VMRegion{}, kernelError("mach_vm_region_recurse", kr)
		}
		if info.is_submap != 0 {
			depth++
			continue
		}
		return VMRegion{
			Start:      uint64(a),
			End:        uint64(a) + uint64(size),
			Protection: uint32(info.protection),
			UserTag:    uint32(info.user_tag),
			Depth:      uint32(depth),
		}, nil
	}
}

func (t *machTask) VMRegions() ([]VMRegion, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	var regions []VMRegion
	var addr C.uint64_t
	var depth C.natural_t
	for {
		size := C.uint64_t(0)
		var info C.vm_region_submap_info_data_64_t
		kr := C.md_region(t.port, &addr, &size, &depth, &info)
		if kr == C.KERN_INVALID_ADDRESS {
			return regions, nil
		}
		if kr != C.KERN_SUCCESS {
			return regions, kernelError("mach_vm_region_recurse", kr)
		}
		if info.is_submap != 0 {
			depth++
			continue
		}
		regions = append(regions, VMRegion{
			Start:      uint64(addr),
			End:        uint64(addr) + uint64(size),
			Protection: uint32(info.protection),
			UserTag:    uint32(info.user_tag),
			Depth:      uint32(depth),
		})
		addr += size
	}
}

func (t *machTask) Threads() ([]uint32, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	var list C.thread_act_array_t
	var count C.mach_msg_type_number_t
	if kr := C.md_threads(t.port, &list, &count); kr != C.KERN_SUCCESS {
		return nil, kernelError("task_threads", kr)
	}
	defer C.md_release_threads(list, count)
	threads := make([]uint32, count)
	for i := range threads {
		threads[i] = uint32(C.md_thread_at(list, C.mach_msg_type_number_t(i)))
	}
	return threads, nil
}

func (t *machTask) ThreadState(tid uint32) (*ThreadState, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	ts := &ThreadState{Arch: arch.Host()}
	var count C.mach_msg_type_number_t
	kr := C.md_thread_state(C.thread_t(tid), (*C.uint32_t)(unsafe.Pointer(&ts.State[0])), &count)
	if kr != C.KERN_SUCCESS {
		return nil, kernelError("thread_get_state", kr)
	}
	ts.Count = uint32(count)
	return ts, nil
}

func (t *machTask) ThreadBasicInfo(tid uint32) (ThreadBasicInfo, error) {
	if err := t.check(); err != nil {
		return ThreadBasicInfo{}, err
	}
	var suspend, policy C.uint32_t
	if kr := C.md_thread_basic_info(C.thread_t(tid), &suspend, &policy); kr != C.KERN_SUCCESS {
		return ThreadBasicInfo{}, kernelError("thread_info", kr)
	}
	return ThreadBasicInfo{SuspendCount: uint32(suspend), Policy: uint32(policy)}, nil
}

func (t *machTask) ThreadName(tid uint32) (string, error) {
	if err := t.check(); err != nil {
		return "", err
	}
	var buf [64]C.char
	if kr := C.md_thread_name(C.thread_t(tid), &buf[0], C.size_t(len(buf))); kr != C.KERN_SUCCESS {
		return "", kernelError("thread_info", kr)
	}
	return C.GoString(&buf[0]), nil
}

func (t *machTask) Pid() (int, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	var pid C.int
	if kr := C.md_pid(t.port, &pid); kr != C.KERN_SUCCESS {
		return 0, kernelError("pid_for_task", kr)
	}
	return int(pid), nil
}

func (t *machTask) Times() (TaskTimes, error) {
	if err := t.check(); err != nil {
		return TaskTimes{}, err
	}
	var user, system C.uint64_t
	if kr := C.md_times(t.port, &user, &system); kr != C.KERN_SUCCESS {
		return TaskTimes{}, kernelError("task_info", kr)
	}
	times := TaskTimes{
		User:   time.Duration(user) * time.Microsecond,
		System: time.Duration(system) * time.Microsecond,
	}
	pid, err := t.Pid()
	if err != nil {
		return times, err
	}
	kp, err := unix.SysctlKinfoProc("kern.proc.pid", pid)
	if err != nil {
		return times, errors.Wrapf(err, "sysctl kern.proc.pid.%d", pid)
	}
	start := kp.Proc.P_starttime
	times.Start = time.Unix(start.Sec, int64(start.Usec)*1000)
	return times, nil
}

func (t *machTask) PageSize() int { return int(t.pageSize) }

func (t *machTask) Images() ([]ImageInfo, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.readImages()
}
