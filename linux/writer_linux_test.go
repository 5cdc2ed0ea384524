// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linux

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/bahamoth/minidump-writer/arch"
	"github.com/bahamoth/minidump-writer/format"
	"github.com/bahamoth/minidump-writer/internal/failspot"
	"github.com/bahamoth/minidump-writer/internal/testenv"
)

var baseStreams = []uint32{
	format.SystemInfoStream,
	format.ThreadListStream,
	format.MemoryListStream,
	format.ModuleListStream,
	format.MiscInfoStream,
	format.BreakpadInfoStream,
	format.ThreadNamesStream,
	format.LinuxCPUInfoStream,
	format.LinuxProcStatus,
	format.LinuxLsbRelease,
	format.LinuxCmdLine,
	format.LinuxEnviron,
	format.LinuxAuxv,
	format.LinuxMaps,
	format.SoftErrorsStream,
}

func dumpProcess(t *testing.T, pid int, opts ...WriterOption) (*MinidumpWriter, *testenv.Dump) {
	t.Helper()
	newTestDumper(t, pid, Options{}).Close()
	w := NewMinidumpWriter(pid, opts...)
	path := filepath.Join(t.TempDir(), "core.dmp")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	data, err := w.Dump(f)
	if err != nil {
		t.Fatalf("can't dump %d: %s", pid, err)
	}
	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(onDisk, data) {
		t.Errorf("file contents differ from the returned dump (%d vs %d bytes)", len(onDisk), len(data))
	}
	d, err := testenv.ParseDump(data)
	if err != nil {
		t.Fatalf("malformed dump: %s", err)
	}
	return w, d
}

func streamTypes(d *testenv.Dump) []uint32 {
	var types []uint32
	for _, e := range d.Directory {
		types = append(types, e.StreamType)
	}
	return types
}

func TestDump(t *testing.T) {
	p := testenv.StartHelper(t, "threads", "2")
	clock := time.Unix(1700000000, 0)
	w, d := dumpProcess(t, p.Pid, WithClock(func() time.Time { return clock }))

	if got := streamTypes(d); !slices.Equal(got, baseStreams) {
		t.Errorf("streams = %#x, want %#x", got, baseStreams)
	}
	if d.Header.TimeDateStamp != uint32(clock.Unix()) {
		t.Errorf("time stamp = %d", d.Header.TimeDateStamp)
	}

	var si format.SystemInfo
	e, _ := d.Stream(format.SystemInfoStream)
	if err := d.Decode(e.Location, &si); err != nil {
		t.Fatal(err)
	}
	if si.ProcessorArchitecture != arch.Host().ProcessorArchitecture || si.PlatformID != format.PlatformLinux {
		t.Errorf("system info = %+v", si)
	}
	if si.NumberOfProcessors == 0 {
		t.Errorf("no processors reported")
	}
	if csd, err := d.String(si.CSDVersionRVA); err != nil || csd == "" {
		t.Errorf("CSD version = %q, %v", csd, err)
	}

	threads, err := testenv.List[format.Thread](d, format.ThreadListStream)
	if err != nil {
		t.Fatal(err)
	}
	tasks, _ := os.ReadDir(procPath(p.Pid, "task"))
	if len(threads) != len(tasks) {
		t.Errorf("dump has %d threads, process has %d", len(threads), len(tasks))
	}
	blocks, err := testenv.List[format.MemoryDescriptor](d, format.MemoryListStream)
	if err != nil {
		t.Fatal(err)
	}
	for _, th := range threads {
		if th.ThreadContext.DataSize != uint32(arch.Host().ContextSize) {
			t.Errorf("thread %d: context of %d bytes", th.ThreadID, th.ThreadContext.DataSize)
		}
		if th.Stack.StartOfMemoryRange == format.StackPointerNull || th.Stack.StartOfMemoryRange == format.StackReadFailed {
			t.Errorf("thread %d: no stack captured", th.ThreadID)
		}
		if !slices.Contains(blocks, th.Stack) {
			t.Errorf("thread %d: stack %+v missing from the memory list", th.ThreadID, th.Stack)
		}
	}

	names, err := testenv.List[format.ThreadName](d, format.ThreadNamesStream)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, n := range names {
		s, err := d.String(uint32(n.ThreadNameRVA))
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, s)
	}
	for _, want := range []string{"worker-0", "worker-1"} {
		if !slices.Contains(got, want) {
			t.Errorf("thread names %q lack %q", got, want)
		}
	}

	mods, err := testenv.List[format.Module](d, format.ModuleListStream)
	if err != nil {
		t.Fatal(err)
	}
	exe, _ := os.Readlink(procPath(p.Pid, "exe"))
	if len(mods) == 0 {
		t.Fatalf("no modules")
	}
	if name, _ := d.String(mods[0].ModuleNameRVA); name != exe {
		t.Errorf("first module = %q, want %q", name, exe)
	}
	var cv [4]byte
	if err := d.Decode(format.Location{DataSize: 4, RVA: mods[0].CVRecord.RVA}, &cv); err != nil || string(cv[:]) != "LEpB" {
		t.Errorf("executable CV record signature = %q, %v", cv, err)
	}

	var misc format.MiscInfo
	e, _ = d.Stream(format.MiscInfoStream)
	d.Decode(e.Location, &misc)
	if misc.ProcessID != uint32(p.Pid) || misc.Flags1&format.MiscProcessID == 0 {
		t.Errorf("misc info = %+v", misc)
	}

	e, _ = d.Stream(format.LinuxMaps)
	maps := d.Data[e.Location.RVA:e.Location.End()]
	if !bytes.Contains(maps, []byte(exe)) {
		t.Errorf("maps stream does not mention %s", exe)
	}

	e, _ = d.Stream(format.SoftErrorsStream)
	var soft []map[string]any
	if err := json.Unmarshal(d.Data[e.Location.RVA:e.Location.End()], &soft); err != nil {
		t.Errorf("soft error stream is not JSON: %s", err)
	}
	if len(soft) != len(w.SoftErrors()) {
		t.Errorf("soft error stream has %d entries, writer has %d", len(soft), len(w.SoftErrors()))
	}

	for start := time.Now(); ; time.Sleep(10 * time.Millisecond) {
		s := threadState(t, p.Pid, p.Pid)
		if s != 't' && s != 'T' {
			break
		}
		if time.Since(start) > time.Second {
			t.Errorf("process left in state %c", s)
			break
		}
	}
}

func TestDumpCrashContext(t *testing.T) {
	p := testenv.StartCommand(t, "sleep", "100")
	crash := &CrashContext{
		TID:    p.Pid,
		Signal: SignalInfo{Signo: 11, Code: 1, Addr: 0xdead0000},
	}
	_, d := dumpProcess(t, p.Pid, WithCrashContext(crash), WithSanitizeStack(true))

	types := streamTypes(d)
	if want := append(slices.Clone(baseStreams), format.ExceptionStream); !slices.Equal(types, want) {
		t.Fatalf("streams = %#x, want %#x", types, want)
	}
	var exc format.ExceptionStreamRecord
	e, _ := d.Stream(format.ExceptionStream)
	if err := d.Decode(e.Location, &exc); err != nil {
		t.Fatal(err)
	}
	if exc.ThreadID != uint32(p.Pid) || exc.ExceptionRecord.ExceptionCode != 11 ||
		exc.ExceptionRecord.ExceptionFlags != 1 || exc.ExceptionRecord.ExceptionAddress != 0xdead0000 {
		t.Errorf("exception = %+v", exc)
	}
	threads, err := testenv.List[format.Thread](d, format.ThreadListStream)
	if err != nil {
		t.Fatal(err)
	}
	if len(threads) != 1 || threads[0].ThreadContext != exc.ThreadContext {
		t.Errorf("exception context %+v does not match thread list %+v", exc.ThreadContext, threads)
	}
	var info format.BreakpadInfo
	e, _ = d.Stream(format.BreakpadInfoStream)
	d.Decode(e.Location, &info)
	if info.RequestingThreadID != uint32(p.Pid) || info.Validity != 3 {
		t.Errorf("breakpad info = %+v", info)
	}
	// The stack plus the code around the instruction pointer.
	if n, _ := d.Count(format.MemoryListStream); n != 2 {
		t.Errorf("memory list has %d blocks, want 2", n)
	}
}

func TestDumpCPUInfoFailure(t *testing.T) {
	p := testenv.StartCommand(t, "sleep", "100")
	w, d := dumpProcess(t, p.Pid, WithOptions(Options{FailSpots: failspot.Of(failspot.CPUInfoFileOpen)}))
	e, _ := d.Stream(format.LinuxCPUInfoStream)
	if e.Location.DataSize != 0 {
		t.Errorf("cpuinfo stream has %d bytes", e.Location.DataSize)
	}
	if len(w.SoftErrors()) == 0 {
		t.Errorf("no soft error recorded")
	}
}
