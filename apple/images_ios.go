// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build ios && cgo

package apple

/*
#include <stdint.h>
#include <mach/mach.h>
#include <mach-o/dyld.h>

static int md_is_self(task_t task) {
	return task == mach_task_self();
}

static uint64_t md_image_header(uint32_t i) {
	return (uint64_t)(uintptr_t)_dyld_get_image_header(i);
}

static uint64_t md_image_name(uint32_t i) {
	return (uint64_t)(uintptr_t)_dyld_get_image_name(i);
}
*/
import "C"

// check fails for any task but our own, which is all the sandbox allows.
func (t *machTask) check() error {
	if C.md_is_self(t.port) == 0 {
		return ErrSecurityRestriction
	}
	return nil
}

// readImages asks dyld directly. Images loaded or unloaded concurrently
// may be missed.
func (t *machTask) readImages() ([]ImageInfo, error) {
	n := uint32(C._dyld_image_count())
	images := make([]ImageInfo, 0, n)
	for i := uint32(0); i < n; i++ {
		hdr := uint64(C.md_image_header(C.uint32_t(i)))
		if hdr == 0 {
			continue
		}
		images = append(images, ImageInfo{
			LoadAddress: hdr,
			FilePath:    uint64(C.md_image_name(C.uint32_t(i))),
		})
	}
	return images, nil
}
