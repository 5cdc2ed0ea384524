// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linux

import (
	"encoding/binary"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"

	"github.com/bahamoth/minidump-writer/format"
	"github.com/bahamoth/minidump-writer/internal/failspot"
	"github.com/bahamoth/minidump-writer/memwriter"
)

// ipMemorySize is how much code around the crashing instruction is copied.
const ipMemorySize = 256

func (w *MinidumpWriter) writeSystemInfo(b *memwriter.Buffer) (format.Directory, error) {
	sec, err := memwriter.Alloc[format.SystemInfo](b)
	if err != nil {
		return format.Directory{}, err
	}
	info := format.SystemInfo{
		ProcessorArchitecture: w.dumper.Arch.ProcessorArchitecture,
		PlatformID:            format.PlatformLinux,
	}

	if data, err := w.readCPUInfo(); err != nil {
		w.errs.Push(errors.Wrap(err, "reading cpu info"))
	} else {
		ci := parseCPUInfo(data)
		info.NumberOfProcessors = uint8(min(ci.Processors, 255))
		info.ProcessorLevel = ci.Family
		info.ProcessorRevision = ci.Model<<8 | ci.Stepping
		info.CPU.VendorID = vendorWords(ci.VendorID)
	}

	var csd string
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		w.errs.Push(errors.Wrap(err, "uname"))
	} else {
		release := unix.ByteSliceToString(u.Release[:])
		info.MajorVersion, info.MinorVersion, info.BuildNumber = parseKernelVersion(release)
		csd = strings.Join([]string{
			unix.ByteSliceToString(u.Sysname[:]),
			release,
			unix.ByteSliceToString(u.Version[:]),
			unix.ByteSliceToString(u.Machine[:]),
		}, " ")
	}
	loc, err := memwriter.WriteString(b, csd)
	if err != nil {
		return format.Directory{}, err
	}
	info.CSDVersionRVA = loc.RVA
	if err := sec.Set(b, info); err != nil {
		return format.Directory{}, err
	}
	return format.Directory{StreamType: format.SystemInfoStream, Location: sec.Location()}, nil
}

func (w *MinidumpWriter) readCPUInfo() ([]byte, error) {
	if w.opts.FailSpots.Enabled(failspot.CPUInfoFileOpen) {
		return nil, errors.Wrap(errInjected, "opening /proc/cpuinfo")
	}
	return os.ReadFile("/proc/cpuinfo")
}

func (w *MinidumpWriter) writeThreadList(b *memwriter.Buffer) (format.Directory, error) {
	d := w.dumper
	n := len(d.Threads)
	count, err := memwriter.AllocWithVal(b, uint32(n))
	if err != nil {
		return format.Directory{}, err
	}
	list, err := memwriter.AllocArray[format.Thread](b, n)
	if err != nil {
		return format.Directory{}, err
	}
	dir := format.Directory{StreamType: format.ThreadListStream, Location: count.Location()}
	dir.Location.DataSize += list.Location().DataSize

	for i, th := range d.Threads {
		rec := format.Thread{ThreadID: uint32(th.TID)}
		ctx := w.threadContext(i)
		var ctxLoc format.Location
		if ctx != nil {
			ctxLoc, err = b.WriteValue(ctx)
		} else {
			// Readers expect a context for every thread.
			ctxLoc, err = b.Reserve(d.Arch.ContextSize)
		}
		if err != nil {
			return format.Directory{}, err
		}
		rec.ThreadContext = ctxLoc
		w.contexts[th.TID] = ctxLoc

		if ctx != nil {
			rec.Stack, err = w.writeStack(b, ctx.StackPointer())
		} else {
			rec.Stack, err = w.writeSentinelStack(b, format.StackReadFailed)
		}
		if err != nil {
			return format.Directory{}, err
		}
		if err := list.SetAt(b, i, rec); err != nil {
			return format.Directory{}, err
		}
	}
	return dir, nil
}

// threadContext returns the CPU context to record for the i'th thread, or
// nil if its registers cannot be read.
func (w *MinidumpWriter) threadContext(i int) format.Context {
	tid := w.dumper.Threads[i].TID
	if w.crash != nil && w.crash.TID == tid && w.crash.Context != nil {
		return w.crash.Context
	}
	ti, err := w.dumper.ThreadInfo(i)
	if err != nil {
		w.errs.Push(errors.Wrapf(err, "reading registers of thread %d", tid))
		return nil
	}
	return ti.Context()
}

// writeStack copies the stack holding sp into the dump and records it for
// the memory list. A stack that cannot be copied is replaced by a sentinel.
func (w *MinidumpWriter) writeStack(b *memwriter.Buffer, sp uint64) (format.MemoryDescriptor, error) {
	d := w.dumper
	if sp == 0 {
		return w.writeSentinelStack(b, format.StackPointerNull)
	}
	start, size, err := d.StackInfo(sp)
	if err != nil {
		w.errs.Push(err)
		return w.writeSentinelStack(b, format.StackReadFailed)
	}
	if size == 0 {
		return w.writeSentinelStack(b, format.StackPointerNull)
	}
	stack, err := d.ReadBytes(start, int(size))
	if err != nil {
		w.errs.Push(errors.Wrapf(err, "copying stack at %#x", start))
		return w.writeSentinelStack(b, format.StackReadFailed)
	}
	if w.sanitize {
		d.SanitizeStackCopy(stack, sp, int(sp-start))
	}
	loc, err := b.WriteBytes(stack)
	if err != nil {
		return format.MemoryDescriptor{}, err
	}
	md := format.MemoryDescriptor{StartOfMemoryRange: start, Memory: loc}
	w.memoryBlocks = append(w.memoryBlocks, md)
	return md, nil
}

func (w *MinidumpWriter) writeSentinelStack(b *memwriter.Buffer, sentinel uint64) (format.MemoryDescriptor, error) {
	loc, err := b.WriteValue([2]uint64{sentinel, sentinel})
	if err != nil {
		return format.MemoryDescriptor{}, err
	}
	md := format.MemoryDescriptor{StartOfMemoryRange: sentinel, Memory: loc}
	w.memoryBlocks = append(w.memoryBlocks, md)
	return md, nil
}

func (w *MinidumpWriter) writeMemoryList(b *memwriter.Buffer) (format.Directory, error) {
	if w.crash != nil {
		w.writeIPMemory(b)
	}
	count, err := memwriter.AllocWithVal(b, uint32(len(w.memoryBlocks)))
	if err != nil {
		return format.Directory{}, err
	}
	list, err := memwriter.AllocFromSlice(b, w.memoryBlocks)
	if err != nil {
		return format.Directory{}, err
	}
	dir := format.Directory{StreamType: format.MemoryListStream, Location: count.Location()}
	dir.Location.DataSize += list.Location().DataSize
	return dir, nil
}

// writeIPMemory copies the code around the crashing instruction, clipped to
// its mapping. Failure is not worth reporting.
func (w *MinidumpWriter) writeIPMemory(b *memwriter.Buffer) {
	ip, ok := w.crashIP()
	if !ok {
		return
	}
	m := w.dumper.FindMapping(ip)
	if m == nil {
		return
	}
	start := max(m.StartAddress, ip-min(ip, ipMemorySize/2))
	end := min(ip+ipMemorySize/2, m.End())
	if end <= start {
		return
	}
	mem, err := w.dumper.ReadBytes(start, int(end-start))
	if err != nil {
		w.log.WithError(err).WithField("ip", ip).Debug("skipping memory around instruction pointer")
		return
	}
	loc, err := b.WriteBytes(mem)
	if err != nil {
		return
	}
	w.memoryBlocks = append(w.memoryBlocks, format.MemoryDescriptor{StartOfMemoryRange: start, Memory: loc})
}

func (w *MinidumpWriter) crashIP() (uint64, bool) {
	if w.crash.Context != nil {
		return w.crash.Context.InstructionPointer(), true
	}
	for i, th := range w.dumper.Threads {
		if th.TID != w.crash.TID {
			continue
		}
		ti, err := w.dumper.ThreadInfo(i)
		if err != nil {
			return 0, false
		}
		return ti.InstructionPointer(), true
	}
	return 0, false
}

func (w *MinidumpWriter) writeModuleList(b *memwriter.Buffer) (format.Directory, error) {
	d := w.dumper
	var mods []*MappingInfo
	for i := range d.Mappings {
		if d.Mappings[i].ShouldIncludeInModuleList() {
			mods = append(mods, &d.Mappings[i])
		}
	}
	count, err := memwriter.AllocWithVal(b, uint32(len(mods)))
	if err != nil {
		return format.Directory{}, err
	}
	list, err := memwriter.AllocArray[format.Module](b, len(mods))
	if err != nil {
		return format.Directory{}, err
	}
	dir := format.Directory{StreamType: format.ModuleListStream, Location: count.Location()}
	dir.Location.DataSize += list.Location().DataSize

	for i, m := range mods {
		rec := format.Module{
			BaseOfImage: m.StartAddress,
			SizeOfImage: uint32(m.Size),
			VersionInfo: format.FixedFileInfo{
				Signature:     format.FixedFileInfoSignature,
				StructVersion: format.FixedFileInfoStructVersion,
			},
		}
		name, err := memwriter.WriteString(b, m.Name)
		if err != nil {
			return format.Directory{}, err
		}
		rec.ModuleNameRVA = name.RVA

		if id, err := d.ElfIdentifier(m); err != nil {
			w.errs.Push(errors.Wrapf(err, "identifying %s", m.Name))
		} else {
			p := binary.LittleEndian.AppendUint32(nil, format.CVSignatureELF)
			if rec.CVRecord, err = b.WriteBytes(append(p, id...)); err != nil {
				return format.Directory{}, err
			}
		}
		if err := list.SetAt(b, i, rec); err != nil {
			return format.Directory{}, err
		}
	}
	return dir, nil
}

func (w *MinidumpWriter) writeMiscInfo(b *memwriter.Buffer) (format.Directory, error) {
	info := format.MiscInfo{
		SizeOfInfo: format.MiscInfoSize,
		Flags1:     format.MiscProcessID,
		ProcessID:  uint32(w.pid),
	}
	if st, err := readProcStat(w.pid); err != nil {
		w.errs.Push(errors.Wrap(err, "reading process times"))
	} else if btime, err := bootTime(); err != nil {
		w.errs.Push(errors.Wrap(err, "reading boot time"))
	} else {
		info.Flags1 |= format.MiscProcessTimes
		info.ProcessCreateTime = uint32(btime + st.StartTime/clockTicks)
		info.ProcessUserTime = uint32(st.UTime / clockTicks)
		info.ProcessKernelTime = uint32(st.STime / clockTicks)
	}
	if cur, limit, ok := w.cpuMHz(); ok {
		info.Flags1 |= format.MiscProcessorPowerInfo
		info.ProcessorCurrentMhz = cur
		info.ProcessorMaxMhz = limit
		info.ProcessorMhzLimit = limit
	}
	sec, err := memwriter.AllocWithVal(b, info)
	if err != nil {
		return format.Directory{}, err
	}
	return format.Directory{StreamType: format.MiscInfoStream, Location: sec.Location()}, nil
}

// cpuMHz returns the current and maximum clock of the first processor.
func (w *MinidumpWriter) cpuMHz() (cur, limit uint32, ok bool) {
	if khz, err := readSysfsUint("/sys/devices/system/cpu/cpu0/cpufreq/cpuinfo_max_freq"); err == nil {
		limit = uint32(khz / 1000)
	}
	if khz, err := readSysfsUint("/sys/devices/system/cpu/cpu0/cpufreq/scaling_cur_freq"); err == nil {
		cur = uint32(khz / 1000)
	}
	if cur == 0 {
		if data, err := w.readCPUInfo(); err == nil {
			cur = uint32(parseCPUInfo(data).MHz)
		}
	}
	if limit == 0 {
		limit = cur
	}
	return cur, limit, cur != 0
}

func (w *MinidumpWriter) writeBreakpadInfo(b *memwriter.Buffer) (format.Directory, error) {
	// The dumping thread lives in another process, so both ids name the
	// thread that should be blamed.
	blamed := uint32(w.pid)
	if w.crash != nil {
		blamed = uint32(w.crash.TID)
	}
	sec, err := memwriter.AllocWithVal(b, format.BreakpadInfo{
		Validity:           format.BreakpadInfoDumpThreadIDValid | format.BreakpadInfoRequestingThreadIDValid,
		DumpThreadID:       blamed,
		RequestingThreadID: blamed,
	})
	if err != nil {
		return format.Directory{}, err
	}
	return format.Directory{StreamType: format.BreakpadInfoStream, Location: sec.Location()}, nil
}

func (w *MinidumpWriter) writeThreadNames(b *memwriter.Buffer) (format.Directory, error) {
	threads := w.dumper.Threads
	count, err := memwriter.AllocWithVal(b, uint32(len(threads)))
	if err != nil {
		return format.Directory{}, err
	}
	list, err := memwriter.AllocArray[format.ThreadName](b, len(threads))
	if err != nil {
		return format.Directory{}, err
	}
	dir := format.Directory{StreamType: format.ThreadNamesStream, Location: count.Location()}
	dir.Location.DataSize += list.Location().DataSize

	for i, th := range threads {
		rec := format.ThreadName{ThreadID: uint32(th.TID)}
		if th.HasName {
			loc, err := memwriter.WriteString(b, th.Name)
			if err != nil {
				return format.Directory{}, err
			}
			rec.ThreadNameRVA = uint64(loc.RVA)
		}
		if err := list.SetAt(b, i, rec); err != nil {
			return format.Directory{}, err
		}
	}
	return dir, nil
}

// procFile is a file copied verbatim into its own stream.
type procFile struct {
	stream uint32
	// path is relative to /proc/<pid> unless absolute.
	path string
}

var procFiles = []procFile{
	{format.LinuxCPUInfoStream, "/proc/cpuinfo"},
	{format.LinuxProcStatus, "status"},
	{format.LinuxLsbRelease, "/etc/lsb-release"},
	{format.LinuxCmdLine, "cmdline"},
	{format.LinuxEnviron, "environ"},
	{format.LinuxAuxv, "auxv"},
	{format.LinuxMaps, "maps"},
}

func (w *MinidumpWriter) procFileStream(pf procFile) memwriter.StreamFunc {
	return func(b *memwriter.Buffer) (format.Directory, error) {
		data, err := w.readProcFile(pf)
		if err != nil {
			w.errs.Push(errors.Wrapf(err, "stream %#x", pf.stream))
		}
		loc, err := b.WriteBytes(data)
		if err != nil {
			return format.Directory{}, err
		}
		return format.Directory{StreamType: pf.stream, Location: loc}, nil
	}
}

func (w *MinidumpWriter) readProcFile(pf procFile) ([]byte, error) {
	switch {
	case pf.stream == format.LinuxCPUInfoStream:
		return w.readCPUInfo()
	case pf.stream == format.LinuxLsbRelease:
		data, err := os.ReadFile(pf.path)
		if errors.Is(err, os.ErrNotExist) {
			// Distributions without lsb-release still have os-release.
			return os.ReadFile("/etc/os-release")
		}
		return data, err
	case strings.HasPrefix(pf.path, "/"):
		return os.ReadFile(pf.path)
	}
	return os.ReadFile(procPath(w.pid, pf.path))
}

func (w *MinidumpWriter) writeSoftErrors(b *memwriter.Buffer) (format.Directory, error) {
	data, err := w.errs.MarshalJSON()
	if err != nil {
		return format.Directory{}, errors.Wrap(err, "encoding soft errors")
	}
	loc, err := b.WriteBytes(data)
	if err != nil {
		return format.Directory{}, err
	}
	return format.Directory{StreamType: format.SoftErrorsStream, Location: loc}, nil
}

func (w *MinidumpWriter) writeException(b *memwriter.Buffer) (format.Directory, error) {
	c := w.crash
	ctxLoc, ok := w.contexts[c.TID]
	if !ok {
		// The crashing thread could not be suspended; keep what the
		// handler captured.
		var err error
		if c.Context != nil {
			ctxLoc, err = b.WriteValue(c.Context)
		} else {
			ctxLoc, err = b.Reserve(w.dumper.Arch.ContextSize)
		}
		if err != nil {
			return format.Directory{}, err
		}
	}
	sec, err := memwriter.AllocWithVal(b, format.ExceptionStreamRecord{
		ThreadID: uint32(c.TID),
		ExceptionRecord: format.Exception{
			ExceptionCode:    c.Signal.Signo,
			ExceptionFlags:   uint32(c.Signal.Code),
			ExceptionAddress: c.Signal.Addr,
		},
		ThreadContext: ctxLoc,
	})
	if err != nil {
		return format.Directory{}, err
	}
	return format.Directory{StreamType: format.ExceptionStream, Location: sec.Location()}, nil
}
