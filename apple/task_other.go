// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !darwin || !cgo

package apple

import "github.com/cockroachdb/errors"

var errNoMach = errors.New("Mach tasks need darwin and cgo")

// NewSelfTask returns nil: Mach tasks are unavailable in this build.
func NewSelfTask() Task { return nil }

// TaskForPid fails: Mach tasks are unavailable in this build.
func TaskForPid(pid int) (Task, error) {
	return nil, errors.Wrapf(errNoMach, "task for pid %d", pid)
}
