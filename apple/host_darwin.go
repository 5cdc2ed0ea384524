// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build darwin

package apple

import (
	"runtime"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// ReadHostInfo describes the running machine.
func ReadHostInfo() (HostInfo, error) {
	h := HostInfo{Platform: defaultPlatform(runtime.GOOS)}
	product, err := unix.Sysctl("kern.osproductversion")
	if err != nil {
		return h, errors.Wrap(err, "sysctl kern.osproductversion")
	}
	h.Major, h.Minor, h.Patch = parseOSVersion(product)
	if h.Build, err = unix.Sysctl("kern.osversion"); err != nil {
		return h, errors.Wrap(err, "sysctl kern.osversion")
	}
	ncpu, err := unix.SysctlUint32("hw.ncpu")
	if err != nil {
		return h, errors.Wrap(err, "sysctl hw.ncpu")
	}
	h.NumCPU = int(ncpu)
	if h.CPUFamily, err = unix.SysctlUint32("hw.cpufamily"); err != nil {
		return h, errors.Wrap(err, "sysctl hw.cpufamily")
	}
	// Only present on Intel.
	h.CPUVendor, _ = unix.Sysctl("machdep.cpu.vendor")
	h.CPUFrequencyMax, _ = unix.SysctlUint64("hw.cpufrequency_max")
	return h, nil
}
