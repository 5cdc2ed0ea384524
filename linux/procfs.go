// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linux

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// clockTicks is USER_HZ, the unit of times in /proc/<pid>/stat. It is 100
// on every architecture Linux supports for user space.
const clockTicks = 100

func procPath(pid int, elem ...string) string {
	return "/proc/" + strconv.Itoa(pid) + "/" + strings.Join(elem, "/")
}

// procStat is the part of /proc/<pid>/stat a dump uses.
type procStat struct {
	State     byte
	UTime     uint64 // clock ticks
	STime     uint64 // clock ticks
	StartTime uint64 // clock ticks after boot
}

func parseProcStat(data []byte) (procStat, error) {
	var st procStat
	// The command name is in parentheses and may contain anything.
	i := bytes.LastIndexByte(data, ')')
	if i < 0 {
		return st, errors.New("malformed stat: no command name")
	}
	fields := strings.Fields(string(data[i+1:]))
	// fields[0] is the state, field 3 of the full line.
	if len(fields) < 20 {
		return st, errors.Newf("malformed stat: %d fields after the command name", len(fields))
	}
	st.State = fields[0][0]
	var err error
	if st.UTime, err = strconv.ParseUint(fields[11], 10, 64); err != nil {
		return st, errors.Wrap(err, "utime")
	}
	if st.STime, err = strconv.ParseUint(fields[12], 10, 64); err != nil {
		return st, errors.Wrap(err, "stime")
	}
	if st.StartTime, err = strconv.ParseUint(fields[19], 10, 64); err != nil {
		return st, errors.Wrap(err, "starttime")
	}
	return st, nil
}

func readProcStat(pid int) (procStat, error) {
	data, err := os.ReadFile(procPath(pid, "stat"))
	if err != nil {
		return procStat{}, err
	}
	return parseProcStat(data)
}

// bootTime returns the btime line of /proc/stat, in seconds since the
// epoch.
func bootTime() (uint64, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if v, ok := strings.CutPrefix(sc.Text(), "btime "); ok {
			return strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		}
	}
	return 0, errors.New("no btime in /proc/stat")
}

// cpuInfo is what the system info stream takes from /proc/cpuinfo.
type cpuInfo struct {
	Processors int
	VendorID   string
	Family     uint16
	Model      uint16
	Stepping   uint16
	// MHz is the clock of the first processor, when reported.
	MHz float64
}

func parseCPUInfo(data []byte) cpuInfo {
	var ci cpuInfo
	sc := bufio.NewScanner(bytes.NewReader(data))
	first := true
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		switch key {
		case "processor":
			ci.Processors++
			first = ci.Processors == 1
		case "vendor_id":
			if first {
				ci.VendorID = val
			}
		case "cpu family":
			if first {
				v, _ := strconv.ParseUint(val, 10, 16)
				ci.Family = uint16(v)
			}
		case "model":
			if first {
				v, _ := strconv.ParseUint(val, 10, 16)
				ci.Model = uint16(v)
			}
		case "stepping":
			if first {
				v, _ := strconv.ParseUint(val, 10, 16)
				ci.Stepping = uint16(v)
			}
		case "cpu MHz":
			if first {
				ci.MHz, _ = strconv.ParseFloat(val, 64)
			}
		}
	}
	return ci
}

// parseKernelVersion splits a release such as "6.1.0-13-amd64" into its
// first three numbers.
func parseKernelVersion(release string) (major, minor, patch uint32) {
	var v [3]uint32
	for i, part := range strings.SplitN(release, ".", 3) {
		end := strings.IndexFunc(part, func(r rune) bool { return r < '0' || r > '9' })
		if end < 0 {
			end = len(part)
		}
		n, err := strconv.ParseUint(part[:end], 10, 32)
		if err != nil {
			break
		}
		v[i] = uint32(n)
		if end < len(part) {
			break
		}
	}
	return v[0], v[1], v[2]
}

// vendorWords packs a CPUID vendor string the way CPUID returns it in
// ebx, edx and ecx.
func vendorWords(vendor string) [3]uint32 {
	var b [12]byte
	copy(b[:], vendor)
	return [3]uint32{
		binary.LittleEndian.Uint32(b[0:]),
		binary.LittleEndian.Uint32(b[4:]),
		binary.LittleEndian.Uint32(b[8:]),
	}
}

func readSysfsUint(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
}
