// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linux

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/bahamoth/minidump-writer/internal/softerr"
)

// Auxiliary vector tags.
const (
	atNull        = 0
	atPhdr        = 3
	atPhnum       = 5
	atEntry       = 9
	atSysinfoEhdr = 33
)

// AuxvDumpInfo is the part of the auxiliary vector a dump needs. A crash
// handler may supply values it captured itself; zero fields are filled in
// from /proc/<pid>/auxv.
type AuxvDumpInfo struct {
	ProgramHeaderCount   uint64
	ProgramHeaderAddress uint64
	LinuxGateAddress     uint64
	EntryAddress         uint64
}

// ReadAuxv decodes an auxiliary vector of native-endian 64-bit pairs.
func ReadAuxv(r io.Reader) (map[uint64]uint64, error) {
	vals := make(map[uint64]uint64)
	for {
		var pair [2]uint64
		err := binary.Read(r, binary.LittleEndian, &pair)
		if err == io.EOF {
			return vals, nil
		}
		if err != nil {
			return vals, errors.Wrap(err, "truncated auxv entry")
		}
		if pair[0] == atNull {
			return vals, nil
		}
		vals[pair[0]] = pair[1]
	}
}

// FillMissing reads the auxiliary vector of pid and fills every zero field.
func (a *AuxvDumpInfo) FillMissing(pid int, errs *softerr.List) error {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/auxv")
	if err != nil {
		return errors.Wrap(err, "reading auxv")
	}
	return a.fillFrom(data, errs)
}

func (a *AuxvDumpInfo) fillFrom(data []byte, errs *softerr.List) error {
	vals, err := ReadAuxv(bytes.NewReader(data))
	if err != nil {
		// Keep whatever was decoded before the damage.
		errs.Push(err)
	}
	if len(vals) == 0 {
		return errors.New("no auxv entries")
	}
	fill := func(field *uint64, tag uint64) {
		if *field == 0 {
			*field = vals[tag]
		}
	}
	fill(&a.ProgramHeaderCount, atPhnum)
	fill(&a.ProgramHeaderAddress, atPhdr)
	fill(&a.LinuxGateAddress, atSysinfoEhdr)
	fill(&a.EntryAddress, atEntry)
	return nil
}
