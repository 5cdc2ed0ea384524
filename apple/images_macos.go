// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build darwin && !ios && cgo

package apple

/*
#include <mach/mach.h>

static kern_return_t md_dyld_info(task_t task, uint64_t *addr) {
	struct task_dyld_info info;
	mach_msg_type_number_t count = TASK_DYLD_INFO_COUNT;
	kern_return_t kr = task_info(task, TASK_DYLD_INFO, (task_info_t)&info, &count);
	if (kr == KERN_SUCCESS) {
		*addr = info.all_image_info_addr;
	}
	return kr;
}

static kern_return_t md_task_for_pid(int pid, task_t *task) {
	return task_for_pid(mach_task_self(), pid, task);
}
*/
import "C"

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// allImagesInfo is the start of dyld_all_image_infos.
type allImagesInfo struct {
	Version        uint32
	InfoArrayCount uint32
	InfoArrayAddr  uint64
}

// imageInfoSize is the size of dyld_image_info.
const imageInfoSize = 24

// maxImages bounds the image array read from a corrupt task.
const maxImages = 1 << 16

// TaskForPid returns the task of process pid. The caller needs the
// com.apple.security.cs.debugger entitlement or root.
func TaskForPid(pid int) (Task, error) {
	var port C.task_t
	if kr := C.md_task_for_pid(C.int(pid), &port); kr != C.KERN_SUCCESS {
		return nil, kernelError("task_for_pid", kr)
	}
	self := NewSelfTask().(*machTask)
	return &machTask{port: C.task_t(port), pageSize: self.pageSize}, nil
}

func (t *machTask) check() error { return nil }

func (t *machTask) readImages() ([]ImageInfo, error) {
	var addr C.uint64_t
	if kr := C.md_dyld_info(t.port, &addr); kr != C.KERN_SUCCESS {
		return nil, kernelError("task_info", kr)
	}
	raw, err := t.ReadMemory(uint64(addr), binary.Size(allImagesInfo{}))
	if err != nil {
		return nil, errors.Wrap(err, "reading dyld_all_image_infos")
	}
	var all allImagesInfo
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &all); err != nil {
		return nil, err
	}
	if all.InfoArrayCount > maxImages {
		return nil, errors.Newf("dyld reports %d images", all.InfoArrayCount)
	}
	raw, err = t.ReadMemory(all.InfoArrayAddr, int(all.InfoArrayCount)*imageInfoSize)
	if err != nil {
		return nil, errors.Wrap(err, "reading dyld image array")
	}
	images := make([]ImageInfo, all.InfoArrayCount)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, images); err != nil {
		return nil, err
	}
	return images, nil
}
