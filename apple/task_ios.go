// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build ios && cgo

package apple

// TaskForPid fails: iOS only allows a task to inspect itself.
func TaskForPid(pid int) (Task, error) {
	return nil, ErrSecurityRestriction
}
