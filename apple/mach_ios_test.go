// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build ios && cgo

package apple

import (
	"testing"

	"github.com/cockroachdb/errors"
)

func TestForeignTaskRestricted(t *testing.T) {
	// The zero port is never mach_task_self.
	task := &machTask{}
	for name, op := range map[string]func() error{
		"ReadMemory":      func() error { _, err := task.ReadMemory(0x1000, 8); return err },
		"VMRegion":        func() error { _, err := task.VMRegion(0x1000); return err },
		"VMRegions":       func() error { _, err := task.VMRegions(); return err },
		"Threads":         func() error { _, err := task.Threads(); return err },
		"ThreadState":     func() error { _, err := task.ThreadState(1); return err },
		"ThreadBasicInfo": func() error { _, err := task.ThreadBasicInfo(1); return err },
		"ThreadName":      func() error { _, err := task.ThreadName(1); return err },
		"Pid":             func() error { _, err := task.Pid(); return err },
		"Times":           func() error { _, err := task.Times(); return err },
		"Images":          func() error { _, err := task.Images(); return err },
	} {
		if err := op(); !errors.Is(err, ErrSecurityRestriction) {
			t.Errorf("%s on a foreign task: got %v, want ErrSecurityRestriction", name, err)
		}
	}
}
