// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apple

import "github.com/bahamoth/minidump-writer/format"

// HostInfo describes the machine and operating system a dump was taken on.
type HostInfo struct {
	// Platform is format.PlatformMacOS or format.PlatformIOS.
	Platform            uint32
	Major, Minor, Patch uint32
	// Build is the OS build, such as "23A344".
	Build string
	// NumCPU is the number of logical processors.
	NumCPU int
	// CPUFamily is hw.cpufamily.
	CPUFamily uint32
	// CPUVendor is machdep.cpu.vendor, empty on arm64.
	CPUVendor string
	// CPUFrequencyMax is in Hz, 0 if unknown.
	CPUFrequencyMax uint64
}

// parseOSVersion splits a version like "14.2.1". Missing parts are 0.
func parseOSVersion(s string) (major, minor, patch uint32) {
	var parts [3]uint32
	i := 0
	for _, c := range s {
		switch {
		case c == '.':
			i++
			if i == len(parts) {
				return parts[0], parts[1], parts[2]
			}
		case c >= '0' && c <= '9':
			parts[i] = parts[i]*10 + uint32(c-'0')
		default:
			return parts[0], parts[1], parts[2]
		}
	}
	return parts[0], parts[1], parts[2]
}

func defaultPlatform(goos string) uint32 {
	if goos == "ios" {
		return format.PlatformIOS
	}
	return format.PlatformMacOS
}
