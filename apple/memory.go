// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apple

import (
	"bytes"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

// maxStringSize bounds the strings ReadString copies.
const maxStringSize = 8 << 10

// ReadString reads a NUL terminated UTF-8 string at addr. If expectedSize
// is not 0 at most that many bytes are read, otherwise up to 8 KiB or the
// end of the region holding addr. An empty string means there is none.
func ReadString(t Task, addr uint64, expectedSize int) (string, error) {
	n := expectedSize
	if n <= 0 {
		r, err := t.VMRegion(addr)
		if err != nil {
			return "", errors.Wrapf(err, "finding region of string at %#x", addr)
		}
		if !r.Contains(addr) {
			return "", errors.Wrapf(&KernelError{Syscall: "mach_vm_region_recurse", Code: kernInvalidAddress}, "string at %#x", addr)
		}
		n = int(min(r.End-addr, maxStringSize))
	}
	n = min(n, maxStringSize)
	buf, err := t.ReadMemory(addr, n)
	if err != nil {
		return "", errors.Wrapf(err, "reading string at %#x", addr)
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	if !utf8.Valid(buf) {
		return "", errors.Wrapf(ErrNonUTF8, "string at %#x", addr)
	}
	return string(buf), nil
}

// calculateStackSize returns how many bytes of stack lie at or above sp.
// A stack made of several abutting stack regions is treated as one.
func calculateStackSize(t Task, sp uint64) uint64 {
	if sp == 0 {
		return 0
	}
	r, err := t.VMRegion(sp)
	if err != nil || sp < r.Start || sp >= r.End {
		return 0
	}
	end := r.End
	if r.UserTag == vmMemoryStack {
		for {
			next, err := t.VMRegion(end)
			if err != nil || next.Start != end {
				break
			}
			if next.UserTag != vmMemoryStack || next.Protection&ProtRead == 0 {
				break
			}
			end = next.End
		}
	}
	return end - sp
}
