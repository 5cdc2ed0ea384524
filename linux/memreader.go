// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linux

import (
	"io"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
)

// Memory reader strategies, as named in configuration.
const (
	ReaderAuto   = "auto"
	ReaderVM     = "vm"
	ReaderProcFS = "procfs"
	ReaderPtrace = "ptrace"
)

// ReadBytes reads exactly n bytes of target memory at addr.
func ReadBytes(r io.ReaderAt, addr uint64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	got, err := r.ReadAt(buf, int64(addr))
	if got == n {
		return buf, nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return nil, errors.Wrapf(err, "reading %d bytes at %#x (got %d)", n, addr, got)
}

// ProcMemReader reads target memory through /proc/<pid>/mem.
type ProcMemReader struct {
	f *os.File
}

// OpenProcMem opens the memory file of pid. The caller must be allowed to
// ptrace pid.
func OpenProcMem(pid int) (*ProcMemReader, error) {
	f, err := os.Open("/proc/" + strconv.Itoa(pid) + "/mem")
	if err != nil {
		return nil, errors.Wrap(err, "opening process memory")
	}
	return &ProcMemReader{f: f}, nil
}

// ReadAt reads len(p) bytes at virtual address addr.
func (r *ProcMemReader) ReadAt(p []byte, addr int64) (int, error) {
	return r.f.ReadAt(p, addr)
}

// Close closes the memory file.
func (r *ProcMemReader) Close() error { return r.f.Close() }

// fallbackReader tries each reader in turn until one reads everything.
type fallbackReader []io.ReaderAt

func (f fallbackReader) ReadAt(p []byte, addr int64) (int, error) {
	err := errors.New("no memory reader available")
	for _, r := range f {
		n, rerr := r.ReadAt(p, addr)
		if n == len(p) {
			return n, nil
		}
		if rerr == nil {
			rerr = io.ErrUnexpectedEOF
		}
		err = rerr
	}
	return 0, err
}
