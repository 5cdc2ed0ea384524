// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !darwin

package apple

import "github.com/cockroachdb/errors"

// ReadHostInfo describes the running machine. It is only implemented on
// Apple platforms.
func ReadHostInfo() (HostInfo, error) {
	return HostInfo{}, errors.New("host information is only available on Apple platforms")
}
