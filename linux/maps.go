// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linux

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/bahamoth/minidump-writer/internal/softerr"
)

// LinuxGateName is the module name used for the vDSO.
const LinuxGateName = "linux-gate.so"

const deletedSuffix = " (deleted)"

// A Perm represents the permissions allowed for a mapping.
type Perm uint8

const (
	Read Perm = 1 << iota
	Write
	Exec
	Shared
	Private
)

func (p Perm) String() string {
	var a [5]string
	b := a[:0]
	if p&Read != 0 {
		b = append(b, "Read")
	}
	if p&Write != 0 {
		b = append(b, "Write")
	}
	if p&Exec != 0 {
		b = append(b, "Exec")
	}
	if p&Shared != 0 {
		b = append(b, "Shared")
	}
	if p&Private != 0 {
		b = append(b, "Private")
	}
	if len(b) == 0 {
		b = append(b, "None")
	}
	return strings.Join(b, "|")
}

func parsePerm(s string) (Perm, error) {
	if len(s) != 4 {
		return 0, errors.Newf("bad permissions %q", s)
	}
	var p Perm
	if s[0] == 'r' {
		p |= Read
	}
	if s[1] == 'w' {
		p |= Write
	}
	if s[2] == 'x' {
		p |= Exec
	}
	switch s[3] {
	case 's':
		p |= Shared
	case 'p':
		p |= Private
	}
	return p, nil
}

// MapsEntry is one line of /proc/<pid>/maps.
type MapsEntry struct {
	Start, End uint64
	Perms      Perm
	Offset     uint64
	Dev        string
	Inode      uint64
	Path       string
}

// SystemMappingInfo is the address range exactly as the kernel reported it.
type SystemMappingInfo struct {
	StartAddress uint64
	EndAddress   uint64
}

// MappingInfo is a logical mapping: one or more kernel regions that belong
// to the same file, merged.
type MappingInfo struct {
	StartAddress uint64
	Size         uint64
	// SystemMappingInfo covers the kernel regions merged into this mapping.
	// It can be shorter than [StartAddress, StartAddress+Size) when an
	// unused linker reservation was folded in.
	SystemMappingInfo SystemMappingInfo
	Offset            uint64
	Permissions       Perm
	Name              string
	Deleted           bool
	Dev               string
	Inode             uint64
}

// End returns the address just beyond the mapping.
func (m *MappingInfo) End() uint64 { return m.StartAddress + m.Size }

// Contains reports whether addr is in the merged range.
func (m *MappingInfo) Contains(addr uint64) bool {
	return addr >= m.StartAddress && addr-m.StartAddress < m.Size
}

// IsExecutable reports whether any merged region was executable.
func (m *MappingInfo) IsExecutable() bool { return m.Permissions&Exec != 0 }

// IsPath reports whether the mapping is backed by a file.
func (m *MappingInfo) IsPath() bool { return strings.HasPrefix(m.Name, "/") }

// ShouldIncludeInModuleList reports whether the mapping is written as a
// module: it must have a name, be the first mapping of its file (or be
// executable), be large enough to identify, and not be a device.
func (m *MappingInfo) ShouldIncludeInModuleList() bool {
	if m.Name == "" || strings.HasPrefix(m.Name, "/dev/") {
		return false
	}
	if m.Name != LinuxGateName && !m.IsPath() {
		return false
	}
	return (m.Offset == 0 || m.IsExecutable()) && m.Size >= 4096
}

// ParseMaps reads a maps listing. Lines that cannot be parsed are recorded
// in errs and skipped.
func ParseMaps(r io.Reader, errs *softerr.List) ([]MapsEntry, error) {
	var entries []MapsEntry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for lineno := 1; sc.Scan(); lineno++ {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		e, err := parseMapsLine(line)
		if err != nil {
			errs.Push(errors.Wrapf(err, "maps line %d", lineno))
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "reading maps")
	}
	return entries, nil
}

func parseMapsLine(line string) (MapsEntry, error) {
	var e MapsEntry
	var fields [5]string
	rest := line
	for i := range fields {
		rest = strings.TrimLeft(rest, " \t")
		f, r, _ := strings.Cut(rest, " ")
		if f == "" {
			return e, errors.Newf("too few fields in %q", line)
		}
		fields[i], rest = f, r
	}
	lo, hi, ok := strings.Cut(fields[0], "-")
	if !ok {
		return e, errors.Newf("bad address range %q", fields[0])
	}
	var err error
	if e.Start, err = strconv.ParseUint(lo, 16, 64); err != nil {
		return e, errors.Wrap(err, "start address")
	}
	if e.End, err = strconv.ParseUint(hi, 16, 64); err != nil {
		return e, errors.Wrap(err, "end address")
	}
	if e.End < e.Start {
		return e, errors.Newf("range %s ends before it starts", fields[0])
	}
	if e.Perms, err = parsePerm(fields[1]); err != nil {
		return e, err
	}
	if e.Offset, err = strconv.ParseUint(fields[2], 16, 64); err != nil {
		return e, errors.Wrap(err, "offset")
	}
	e.Dev = fields[3]
	if e.Inode, err = strconv.ParseUint(fields[4], 10, 64); err != nil {
		return e, errors.Wrap(err, "inode")
	}
	e.Path = strings.TrimLeft(rest, " \t")
	return e, nil
}

// Aggregate turns kernel regions into logical mappings. linuxGate is the
// vDSO address from the auxiliary vector, or 0.
func Aggregate(entries []MapsEntry, linuxGate uint64) []MappingInfo {
	var infos []MappingInfo
	for _, e := range entries {
		name, offset := e.Path, e.Offset
		deleted := false
		if linuxGate != 0 && e.Start == linuxGate {
			name, offset = LinuxGateName, 0
		} else if strings.HasSuffix(name, deletedSuffix) {
			name, deleted = strings.TrimSuffix(name, deletedSuffix), true
		}
		if n := len(infos); n > 0 {
			prev := &infos[n-1]
			// Pieces of one file mapped back to back by the loader.
			if name != "" && e.Start == prev.End() && prev.Name == name {
				prev.SystemMappingInfo.EndAddress = e.End
				prev.Size = e.End - prev.StartAddress
				prev.Permissions |= e.Perms
				continue
			}
			// Address space the linker reserved for a library but the
			// library did not use: an inaccessible private region right
			// after its executable mapping.
			if e.Start == prev.End() && prev.IsExecutable() && prev.IsPath() &&
				(offset == 0 || offset == prev.End()) &&
				e.Perms == Private {
				prev.Size = e.End - prev.StartAddress
				continue
			}
		}
		infos = append(infos, MappingInfo{
			StartAddress:      e.Start,
			Size:              e.End - e.Start,
			SystemMappingInfo: SystemMappingInfo{StartAddress: e.Start, EndAddress: e.End},
			Offset:            offset,
			Permissions:       e.Perms,
			Name:              name,
			Deleted:           deleted,
			Dev:               e.Dev,
			Inode:             e.Inode,
		})
	}
	return infos
}

// FindMapping returns the first mapping whose merged range holds addr.
func FindMapping(mappings []MappingInfo, addr uint64) *MappingInfo {
	for i := range mappings {
		if mappings[i].Contains(addr) {
			return &mappings[i]
		}
	}
	return nil
}

// FindMappingNoBias returns the first mapping whose kernel range holds
// addr.
func FindMappingNoBias(mappings []MappingInfo, addr uint64) *MappingInfo {
	for i := range mappings {
		s := mappings[i].SystemMappingInfo
		if addr >= s.StartAddress && addr < s.EndAddress {
			return &mappings[i]
		}
	}
	return nil
}

// moveEntryMappingFirst puts the mapping that holds entry at index 0,
// since readers take the first module to be the main executable.
func moveEntryMappingFirst(mappings []MappingInfo, entry uint64) {
	if entry == 0 {
		return
	}
	for i := range mappings {
		if mappings[i].Contains(entry) {
			mappings[0], mappings[i] = mappings[i], mappings[0]
			return
		}
	}
}
