// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apple

import (
	"bytes"
	"debug/macho"
	"encoding/binary"
	"sort"
	"testing"

	"github.com/bahamoth/minidump-writer/arch"
)

// fakeRegion is a region of a fakeTask backed by data.
type fakeRegion struct {
	VMRegion
	data []byte
}

// fakeTask is an in-memory Task.
type fakeTask struct {
	regions []fakeRegion
	threads []uint32
	states  map[uint32]*ThreadState
	info    map[uint32]ThreadBasicInfo
	names   map[uint32]string
	images  []ImageInfo
	pid     int
	times   TaskTimes
}

func newFakeTask() *fakeTask {
	return &fakeTask{
		states: make(map[uint32]*ThreadState),
		info:   make(map[uint32]ThreadBasicInfo),
		names:  make(map[uint32]string),
		pid:    4242,
	}
}

// mapRegion adds a region at start holding data. Regions must not overlap.
func (f *fakeTask) mapRegion(start uint64, data []byte, prot, tag uint32) {
	f.regions = append(f.regions, fakeRegion{
		VMRegion: VMRegion{Start: start, End: start + uint64(len(data)), Protection: prot, UserTag: tag},
		data:     data,
	})
	sort.Slice(f.regions, func(i, j int) bool { return f.regions[i].Start < f.regions[j].Start })
}

func (f *fakeTask) ReadMemory(addr uint64, n int) ([]byte, error) {
	for _, r := range f.regions {
		if r.Contains(addr) && addr+uint64(n) <= r.End {
			off := addr - r.Start
			return bytes.Clone(r.data[off : off+uint64(n)]), nil
		}
	}
	return nil, &KernelError{Syscall: "mach_vm_read", Code: kernInvalidAddress}
}

func (f *fakeTask) VMRegion(addr uint64) (VMRegion, error) {
	for _, r := range f.regions {
		if addr < r.End {
			return r.VMRegion, nil
		}
	}
	return VMRegion{}, &KernelError{Syscall: "mach_vm_region_recurse", Code: kernInvalidAddress}
}

func (f *fakeTask) VMRegions() ([]VMRegion, error) {
	var rs []VMRegion
	for _, r := range f.regions {
		rs = append(rs, r.VMRegion)
	}
	return rs, nil
}

func (f *fakeTask) Threads() ([]uint32, error) { return append([]uint32(nil), f.threads...), nil }

func (f *fakeTask) ThreadState(tid uint32) (*ThreadState, error) {
	if s, ok := f.states[tid]; ok {
		return s, nil
	}
	return nil, &KernelError{Syscall: "thread_get_state", Code: 4}
}

func (f *fakeTask) ThreadBasicInfo(tid uint32) (ThreadBasicInfo, error) {
	return f.info[tid], nil
}

func (f *fakeTask) ThreadName(tid uint32) (string, error) { return f.names[tid], nil }
func (f *fakeTask) Images() ([]ImageInfo, error)          { return f.images, nil }
func (f *fakeTask) Pid() (int, error)                     { return f.pid, nil }
func (f *fakeTask) Times() (TaskTimes, error)             { return f.times, nil }
func (f *fakeTask) PageSize() int                         { return 0x1000 }

func (ts *ThreadState) setReg(i int, v uint64) {
	ts.State[2*i] = uint32(v)
	ts.State[2*i+1] = uint32(v >> 32)
}

func amd64State(sp, ip uint64) *ThreadState {
	ts := &ThreadState{Arch: &arch.AMD64, Count: x86ThreadState64Count}
	ts.setReg(x86RSP, sp)
	ts.setReg(x86RIP, ip)
	return ts
}

// machImage builds the header and load commands of a 64-bit Mach-O image.
// A version of 0 leaves out LC_ID_DYLIB.
func machImage(t *testing.T, vmaddr, vmsize uint64, uuid *[16]byte, version uint32, exec bool) []byte {
	t.Helper()
	var cmds bytes.Buffer
	ncmd := 0
	put := func(v any) {
		if err := binary.Write(&cmds, binary.LittleEndian, v); err != nil {
			t.Fatal(err)
		}
	}
	if exec {
		zero := macho.Segment64{Cmd: macho.LoadCmdSegment64, Len: 72, Memsz: vmaddr}
		copy(zero.Name[:], "__PAGEZERO")
		put(zero)
		ncmd++
	}
	text := macho.Segment64{Cmd: macho.LoadCmdSegment64, Len: 72, Addr: vmaddr, Memsz: vmsize, Filesz: vmsize, Maxprot: 5, Prot: 5}
	copy(text.Name[:], "__TEXT")
	put(text)
	ncmd++
	if uuid != nil {
		put(struct {
			Cmd, Len uint32
			UUID     [16]byte
		}{loadCmdUUID, 24, *uuid})
		ncmd++
	}
	if version != 0 {
		put(macho.DylibCmd{Cmd: loadCmdIDDylib, Len: 32, Name: 24, CurrentVersion: version, CompatVersion: 0x10000})
		cmds.WriteString("libfoo\x00\x00")
		ncmd++
	}

	typ := macho.TypeDylib
	if exec {
		typ = macho.TypeExec
	}
	var out bytes.Buffer
	hdr := macho.FileHeader{Magic: macho.Magic64, Cpu: macho.CpuAmd64, SubCpu: 3, Type: typ, Ncmd: uint32(ncmd), Cmdsz: uint32(cmds.Len())}
	if err := binary.Write(&out, binary.LittleEndian, hdr); err != nil {
		t.Fatal(err)
	}
	out.Write(make([]byte, 4)) // reserved
	out.Write(cmds.Bytes())
	return out.Bytes()
}

// pad extends b with zeros to n bytes.
func pad(b []byte, n int) []byte {
	return append(b, make([]byte, n-len(b))...)
}
