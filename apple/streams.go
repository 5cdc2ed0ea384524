// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apple

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/bahamoth/minidump-writer/format"
	"github.com/bahamoth/minidump-writer/memwriter"
)

// ipMemorySize is how much code around the crashing instruction is copied.
const ipMemorySize = 256

// Version info values recorded for Mach-O images.
const (
	fileFlagsMask = 0x3f
	fileOSNTWin32 = 0x00040004 // VOS_NT_WINDOWS32
)

func (w *MinidumpWriter) writeSystemInfo(b *memwriter.Buffer) (format.Directory, error) {
	sec, err := memwriter.Alloc[format.SystemInfo](b)
	if err != nil {
		return format.Directory{}, err
	}
	info := format.SystemInfo{
		ProcessorArchitecture: w.arch.ProcessorArchitecture,
		ProductType:           1, // VER_NT_WORKSTATION
	}
	h, err := w.host()
	if err != nil {
		w.errs.Push(errors.Wrap(err, "reading host info"))
	}
	info.PlatformID = h.Platform
	if info.PlatformID == 0 {
		info.PlatformID = format.PlatformMacOS
	}
	info.NumberOfProcessors = uint8(min(h.NumCPU, 255))
	info.ProcessorLevel = uint16(h.CPUFamily >> 16)
	info.ProcessorRevision = uint16(h.CPUFamily)
	info.MajorVersion = h.Major
	info.MinorVersion = h.Minor
	info.BuildNumber = h.Patch
	info.CPU.VendorID = vendorWords(h.CPUVendor)

	loc, err := memwriter.WriteString(b, h.Build)
	if err != nil {
		return format.Directory{}, err
	}
	info.CSDVersionRVA = loc.RVA
	if err := sec.Set(b, info); err != nil {
		return format.Directory{}, err
	}
	return format.Directory{StreamType: format.SystemInfoStream, Location: sec.Location()}, nil
}

// vendorWords packs a 12 byte CPUID vendor string.
func vendorWords(vendor string) [3]uint32 {
	var raw [12]byte
	copy(raw[:], vendor)
	var w [3]uint32
	for i := range w {
		w[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	return w
}

func (w *MinidumpWriter) writeThreadList(b *memwriter.Buffer) (format.Directory, error) {
	n := len(w.threads)
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

	for i, tid := range w.threads {
		rec := format.Thread{ThreadID: tid}
		if bi, err := w.task.ThreadBasicInfo(tid); err != nil {
			w.errs.Push(errors.Wrapf(err, "thread_info of thread %d", tid))
		} else {
			rec.SuspendCount = bi.SuspendCount
			rec.Priority = bi.Policy
		}

		var ctx format.Context
		if state := w.threadState(tid); state != nil {
			ctx = state.Context()
		}
		if ctx != nil {
			rec.ThreadContext, err = b.WriteValue(ctx)
		} else {
			// Readers expect a context for every thread.
			rec.ThreadContext, err = b.Reserve(w.arch.ContextSize)
		}
		if err != nil {
			return format.Directory{}, err
		}
		if w.crashingThread(tid) {
			loc := rec.ThreadContext
			w.crashContext = &loc
		}

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

// threadState returns the registers to record for tid, or nil if they
// cannot be read. The crashing thread uses the state captured at the crash.
func (w *MinidumpWriter) threadState(tid uint32) *ThreadState {
	if w.crashingThread(tid) && w.crash.ThreadState != nil {
		return w.crash.ThreadState
	}
	state, err := w.task.ThreadState(tid)
	if err != nil {
		w.errs.Push(errors.Wrapf(err, "thread_get_state of thread %d", tid))
		return nil
	}
	return state
}

// writeStack copies the stack from sp to its end into the dump and
// records it for the memory list.
func (w *MinidumpWriter) writeStack(b *memwriter.Buffer, sp uint64) (format.MemoryDescriptor, error) {
	size := calculateStackSize(w.task, sp)
	if size == 0 {
		return w.writeSentinelStack(b, format.StackPointerNull)
	}
	stack, err := w.task.ReadMemory(sp, int(size))
	if err != nil {
		w.errs.Push(errors.Wrapf(err, "copying stack at %#x", sp))
		return w.writeSentinelStack(b, format.StackReadFailed)
	}
	loc, err := b.WriteBytes(stack)
	if err != nil {
		return format.MemoryDescriptor{}, err
	}
	md := format.MemoryDescriptor{StartOfMemoryRange: sp, Memory: loc}
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
	if w.hasException() {
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
// its region. Failure is not worth reporting.
func (w *MinidumpWriter) writeIPMemory(b *memwriter.Buffer) {
	state := w.crash.ThreadState
	if state == nil {
		var err error
		if state, err = w.task.ThreadState(w.crash.Thread); err != nil {
			return
		}
	}
	ip := state.InstructionPointer()
	r, err := w.task.VMRegion(ip)
	if err != nil || !r.Contains(ip) {
		return
	}
	start := max(r.Start, ip-min(ip, ipMemorySize/2))
	end := min(ip+ipMemorySize/2, r.End)
	mem, err := w.task.ReadMemory(start, int(end-start))
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

func (w *MinidumpWriter) writeModuleList(b *memwriter.Buffer) (format.Directory, error) {
	mods := Modules(w.task, &w.errs)
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

	for i, d := range mods {
		rec := format.Module{
			BaseOfImage: d.BaseAddress(),
			SizeOfImage: uint32(d.VMSize),
			VersionInfo: versionInfo(d.Version),
		}
		name, err := memwriter.WriteString(b, d.FilePath)
		if err != nil {
			return format.Directory{}, err
		}
		rec.ModuleNameRVA = name.RVA
		rec.CVRecord, err = b.WriteValue(format.CVInfoPDB70{
			Signature: format.CVSignaturePDB70,
			GUID:      d.UUID,
		})
		if err != nil {
			return format.Directory{}, err
		}
		if err := list.SetAt(b, i, rec); err != nil {
			return format.Directory{}, err
		}
	}
	return dir, nil
}

// versionInfo encodes a packed dylib version, xxxx.yy.zz.
func versionInfo(v uint32) format.FixedFileInfo {
	info := format.FixedFileInfo{
		Signature:     format.FixedFileInfoSignature,
		StructVersion: format.FixedFileInfoStructVersion,
	}
	if v == 0 {
		return info
	}
	major, minor, patch := v>>16, (v>>8)&0xff, v&0xff
	info.FileVersionHi = major<<16 | minor
	info.FileVersionLo = patch << 16
	info.ProductVersionHi = info.FileVersionHi
	info.ProductVersionLo = info.FileVersionLo
	info.FileFlagsMask = fileFlagsMask
	info.FileOS = fileOSNTWin32
	info.FileType = format.FileTypeApp
	return info
}

func (w *MinidumpWriter) writeMiscInfo(b *memwriter.Buffer) (format.Directory, error) {
	info := format.MiscInfo{SizeOfInfo: format.MiscInfoSize}
	if pid, err := w.task.Pid(); err != nil {
		w.errs.Push(errors.Wrap(err, "pid_for_task"))
	} else {
		info.Flags1 |= format.MiscProcessID
		info.ProcessID = uint32(pid)
	}
	if times, err := w.task.Times(); err != nil {
		w.errs.Push(errors.Wrap(err, "reading task times"))
	} else {
		info.Flags1 |= format.MiscProcessTimes
		info.ProcessCreateTime = uint32(times.Start.Unix())
		info.ProcessUserTime = uint32(times.User.Seconds())
		info.ProcessKernelTime = uint32(times.System.Seconds())
	}
	if h, err := w.host(); err == nil && h.CPUFrequencyMax != 0 {
		mhz := uint32(h.CPUFrequencyMax / 1e6)
		info.Flags1 |= format.MiscProcessorPowerInfo
		info.ProcessorMaxMhz = mhz
		info.ProcessorCurrentMhz = mhz
		info.ProcessorMhzLimit = mhz
	}
	sec, err := memwriter.AllocWithVal(b, info)
	if err != nil {
		return format.Directory{}, err
	}
	return format.Directory{StreamType: format.MiscInfoStream, Location: sec.Location()}, nil
}

func (w *MinidumpWriter) writeBreakpadInfo(b *memwriter.Buffer) (format.Directory, error) {
	info := format.BreakpadInfo{
		Validity:     format.BreakpadInfoDumpThreadIDValid | format.BreakpadInfoRequestingThreadIDValid,
		DumpThreadID: w.handlerThread,
	}
	if w.crash != nil {
		info.RequestingThreadID = w.crash.Thread
	}
	sec, err := memwriter.AllocWithVal(b, info)
	if err != nil {
		return format.Directory{}, err
	}
	return format.Directory{StreamType: format.BreakpadInfoStream, Location: sec.Location()}, nil
}

func (w *MinidumpWriter) writeThreadNames(b *memwriter.Buffer) (format.Directory, error) {
	count, err := memwriter.AllocWithVal(b, uint32(len(w.threads)))
	if err != nil {
		return format.Directory{}, err
	}
	list, err := memwriter.AllocArray[format.ThreadName](b, len(w.threads))
	if err != nil {
		return format.Directory{}, err
	}
	dir := format.Directory{StreamType: format.ThreadNamesStream, Location: count.Location()}
	dir.Location.DataSize += list.Location().DataSize

	for i, tid := range w.threads {
		rec := format.ThreadName{ThreadID: tid}
		name, err := w.task.ThreadName(tid)
		if err != nil {
			w.log.WithError(err).WithField("thread", tid).Debug("no thread name")
		}
		if name != "" {
			loc, err := memwriter.WriteString(b, name)
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
	var ctxLoc format.Location
	if w.crashContext != nil {
		ctxLoc = *w.crashContext
	} else {
		// The crashing thread was not in the thread list.
		var ctx format.Context
		if c.ThreadState != nil {
			ctx = c.ThreadState.Context()
		}
		var err error
		if ctx != nil {
			ctxLoc, err = b.WriteValue(ctx)
		} else {
			ctxLoc, err = b.Reserve(w.arch.ContextSize)
		}
		if err != nil {
			return format.Directory{}, err
		}
	}
	rec := format.ExceptionStreamRecord{
		ThreadID: c.Thread,
		ExceptionRecord: format.Exception{
			ExceptionCode:  c.Exception.Kind,
			ExceptionFlags: uint32(c.Exception.Code),
		},
		ThreadContext: ctxLoc,
	}
	if c.Exception.HasSubcode {
		rec.ExceptionRecord.ExceptionAddress = c.Exception.Subcode
	}
	sec, err := memwriter.AllocWithVal(b, rec)
	if err != nil {
		return format.Directory{}, err
	}
	return format.Directory{StreamType: format.ExceptionStream, Location: sec.Location()}, nil
}
