// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linux

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/bahamoth/minidump-writer/arch"
	"github.com/bahamoth/minidump-writer/internal/failspot"
	"github.com/bahamoth/minidump-writer/internal/softerr"
)

// DefaultStopTimeout bounds how long NewPtraceDumper waits for the target
// to stop.
const DefaultStopTimeout = 100 * time.Millisecond

const (
	stopPollInterval = time.Millisecond
	// Since kernel 4.12 the stack guard gap is 1MiB.
	stackGuardGap = 1 << 20
)

var (
	// ErrSelfDump is returned when asked to ptrace the calling process.
	ErrSelfDump = errors.New("ptrace does not function within the same process")
	// ErrSkippedThread is returned by SuspendThread for threads running
	// trusted sandbox code. They are dropped from the dump.
	ErrSkippedThread = errors.New("thread detached: stack pointer is zero")
	// ErrStopTimeout is recorded when the target does not stop in time.
	ErrStopTimeout = errors.New("timeout waiting for process to stop")
	// ErrNoStackMapping is returned when no mapping holds a stack pointer.
	ErrNoStackMapping = errors.New("no mapping for stack pointer")
	// errInjected is what an enabled fail spot produces.
	errInjected = errors.New("failure requested by test")
)

// Options configures a PtraceDumper.
type Options struct {
	// StopTimeout bounds the initial stop; zero means DefaultStopTimeout.
	StopTimeout time.Duration
	// Auxv holds values the crash handler already knows.
	Auxv AuxvDumpInfo
	// MemoryReader selects a reader strategy: ReaderAuto (default),
	// ReaderVM, ReaderProcFS or ReaderPtrace.
	MemoryReader string
	// FileIDCache memoizes module identifiers across dumps. May be nil.
	FileIDCache *FileIDCache
	// FailSpots forces internal steps to fail, for tests.
	FailSpots failspot.Set
	// Logger defaults to the standard logrus logger.
	Logger log.FieldLogger
}

// Thread is a thread of the target.
type Thread struct {
	TID int
	// Name is the contents of comm, valid if HasName.
	Name    string
	HasName bool
}

// PtraceDumper extracts the state of a live process with ptrace.
//
// All of the target's threads are suspended between SuspendThreads and
// ResumeThreads. Close must be called to let the process run again.
type PtraceDumper struct {
	Pid      int
	Threads  []Thread
	Auxv     AuxvDumpInfo
	Mappings []MappingInfo
	PageSize int
	Arch     *arch.Architecture

	opts      Options
	log       log.FieldLogger
	tracer    *tracer
	suspended bool
	procMem   *ProcMemReader
	closed    bool
}

// NewPtraceDumper stops pid and takes stock of its threads and mappings.
// Steps that fail without making a dump impossible are recorded in errs.
func NewPtraceDumper(pid int, opts Options, errs *softerr.List) (*PtraceDumper, error) {
	if pid == os.Getpid() {
		return nil, ErrSelfDump
	}
	a := arch.Host()
	if a == nil {
		return nil, errors.Newf("unsupported architecture")
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	d := &PtraceDumper{
		Pid:      pid,
		Auxv:     opts.Auxv,
		PageSize: os.Getpagesize(),
		Arch:     a,
		opts:     opts,
		log:      opts.Logger.WithField("pid", pid),
		tracer:   newTracer(),
	}
	if err := d.init(errs); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *PtraceDumper) init(errs *softerr.List) error {
	// Stopping the process is best effort.
	if err := d.StopProcess(d.opts.StopTimeout); err != nil {
		errs.Push(errors.Wrap(err, "stopping process"))
	}

	errs.Collect("filling missing auxv info", func(sub *softerr.List) {
		if d.opts.FailSpots.Enabled(failspot.FillMissingAuxvInfo) {
			sub.Push(errInjected)
			return
		}
		if err := d.Auxv.FillMissing(d.Pid, sub); err != nil {
			sub.Push(err)
		}
	})

	errs.Collect("enumerating threads", func(sub *softerr.List) {
		if err := d.enumerateThreads(sub); err != nil {
			sub.Push(err)
		}
	})

	// Without the maps listing there are no stacks or modules to write.
	return d.enumerateMappings(errs)
}

// StopProcess sends SIGSTOP and waits until procfs reports the process as
// stopped or timeout passes.
func (d *PtraceDumper) StopProcess(timeout time.Duration) error {
	if d.opts.FailSpots.Enabled(failspot.StopProcess) {
		return errors.Wrap(unix.EPERM, "SIGSTOP")
	}
	if err := unix.Kill(d.Pid, unix.SIGSTOP); err != nil {
		return errors.Wrap(err, "SIGSTOP")
	}
	// There is no waitpid for processes that are not our children, so
	// poll.
	end := time.Now().Add(timeout)
	for {
		st, err := readProcStat(d.Pid)
		if err != nil {
			return errors.Wrap(err, "reading process state")
		}
		if st.State == 'T' {
			return nil
		}
		time.Sleep(stopPollInterval)
		if time.Now().After(end) {
			return ErrStopTimeout
		}
	}
}

func (d *PtraceDumper) continueProcess() error {
	return errors.Wrap(unix.Kill(d.Pid, unix.SIGCONT), "SIGCONT")
}

func (d *PtraceDumper) enumerateThreads(errs *softerr.List) error {
	dir := procPath(d.Pid, "task")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrapf(err, "reading %s", dir)
	}
	for _, e := range entries {
		tid, err := strconv.Atoi(e.Name())
		if err != nil {
			errs.Push(errors.Newf("task entry %q is not a thread id", e.Name()))
			continue
		}
		th := Thread{TID: tid}
		name, err := d.threadName(tid)
		if err != nil {
			errs.Push(errors.Wrapf(err, "reading name of thread %d", tid))
		} else {
			th.Name, th.HasName = name, true
		}
		d.Threads = append(d.Threads, th)
	}
	return nil
}

func (d *PtraceDumper) threadName(tid int) (string, error) {
	if d.opts.FailSpots.Enabled(failspot.ThreadName) {
		return "", errInjected
	}
	comm, err := os.ReadFile(procPath(d.Pid, "task", strconv.Itoa(tid), "comm"))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(comm), "\n\r\t "), nil
}

func (d *PtraceDumper) enumerateMappings(errs *softerr.List) error {
	path := procPath(d.Pid, "maps")
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "opening memory map listing")
	}
	defer f.Close()
	var entries []MapsEntry
	errs.Collect("reading memory map listing", func(sub *softerr.List) {
		entries, err = ParseMaps(f, sub)
	})
	if err != nil {
		return err
	}
	// linux-gate has no path in the listing; only the auxiliary vector
	// says where it is.
	d.Mappings = Aggregate(entries, d.Auxv.LinuxGateAddress)
	// The initial executable is usually the first mapping but not
	// always.
	moveEntryMappingFirst(d.Mappings, d.Auxv.EntryAddress)
	return nil
}

// SuspendThread attaches to tid and waits until it is stopped.
func (d *PtraceDumper) SuspendThread(tid int) error {
	// This fails if the thread has just died or is being debugged.
	if err := d.tracer.ptraceAttach(tid); err != nil {
		return err
	}
	for {
		status, err := d.tracer.wait(tid)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			d.tracer.ptraceDetach(tid)
			return errors.Wrapf(err, "waiting for thread %d", tid)
		}
		if !status.Stopped() {
			return errors.Newf("thread %d changed state without stopping (status %#x)", tid, uint32(status))
		}
		// Any signal stops a traced thread. Only SIGSTOP is ours; others
		// go back in, or they would be lost.
		if status.StopSignal() == unix.SIGSTOP {
			break
		}
		if err := d.tracer.ptraceCont(tid, status.StopSignal()); err != nil {
			return err
		}
	}
	var regs unix.PtraceRegs
	if err := d.tracer.getRegs(tid, &regs); err != nil || skipThread(&regs) {
		if err := d.tracer.ptraceDetach(tid); err != nil {
			return err
		}
		return errors.Wrapf(ErrSkippedThread, "thread %d", tid)
	}
	return nil
}

// ResumeThread detaches from tid.
func (d *PtraceDumper) ResumeThread(tid int) error {
	return d.tracer.ptraceDetach(tid)
}

// SuspendThreads suspends every thread. Threads that cannot be suspended
// are dropped from Threads and recorded in errs, except for skipped ones.
func (d *PtraceDumper) SuspendThreads(errs *softerr.List) {
	d.Threads = suspendEach(d.Threads, d.SuspendThread, d.log, errs)
	d.suspended = true
	if d.opts.FailSpots.Enabled(failspot.SuspendThreads) {
		errs.Push(errors.Wrapf(unix.EPERM, "PTRACE_ATTACH %d", 1234))
	}
}

// suspendEach keeps the threads that suspend succeeds on.
func suspendEach(threads []Thread, suspend func(tid int) error, l log.FieldLogger, errs *softerr.List) []Thread {
	kept := threads[:0]
	for _, th := range threads {
		err := suspend(th.TID)
		if err == nil {
			kept = append(kept, th)
			continue
		}
		l.WithError(err).WithField("tid", th.TID).Debug("dropping thread")
		if !errors.Is(err, ErrSkippedThread) {
			errs.Push(err)
		}
	}
	return kept
}

// ResumeThreads resumes every suspended thread.
func (d *PtraceDumper) ResumeThreads(errs *softerr.List) {
	if d.suspended {
		for _, th := range d.Threads {
			errs.Push(d.ResumeThread(th.TID))
		}
	}
	d.suspended = false
	if d.procMem != nil {
		d.procMem.Close()
		d.procMem = nil
	}
}

// Close resumes all threads, lets the process continue and releases the
// ptrace thread. It is safe to call more than once.
func (d *PtraceDumper) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.ResumeThreads(nil)
	err := d.continueProcess()
	d.tracer.close()
	return err
}

// ThreadInfo returns the registers of the i'th thread, which must be
// suspended.
func (d *PtraceDumper) ThreadInfo(i int) (*ThreadInfo, error) {
	if i < 0 || i >= len(d.Threads) {
		return nil, errors.Newf("thread index %d out of range [0,%d)", i, len(d.Threads))
	}
	return d.tracer.threadInfo(d.Threads[i].TID)
}

// Reader returns a reader of target memory using the configured strategy.
// The ptrace strategy needs suspended threads.
func (d *PtraceDumper) Reader() io.ReaderAt {
	var readers fallbackReader
	add := func(name string) {
		switch name {
		case ReaderVM:
			readers = append(readers, VirtualMemReader{Pid: d.Pid})
		case ReaderProcFS:
			if d.procMem == nil {
				pm, err := OpenProcMem(d.Pid)
				if err != nil {
					d.log.WithError(err).Debug("procfs memory reader unavailable")
					return
				}
				d.procMem = pm
			}
			readers = append(readers, d.procMem)
		case ReaderPtrace:
			if d.suspended && len(d.Threads) > 0 {
				readers = append(readers, &PtraceMemReader{t: d.tracer, tid: d.Threads[0].TID})
			}
		}
	}
	switch d.opts.MemoryReader {
	case "", ReaderAuto:
		add(ReaderVM)
		add(ReaderProcFS)
		add(ReaderPtrace)
	default:
		add(d.opts.MemoryReader)
	}
	return readers
}

// ReadBytes reads n bytes of target memory at addr.
func (d *PtraceDumper) ReadBytes(addr uint64, n int) ([]byte, error) {
	return ReadBytes(d.Reader(), addr, n)
}

// StackInfo returns the start and length of the stack holding sp. The start
// is sp rounded down to a page, so some memory below sp is included. If sp
// is in a guard gap, the stack mapping above it is used instead.
func (d *PtraceDumper) StackInfo(sp uint64) (uint64, uint64, error) {
	page := uint64(d.PageSize)
	addr := sp &^ (page - 1)
	m := FindMapping(d.Mappings, addr)
	guardEnd := addr + stackGuardGap
	if guardEnd < addr {
		guardEnd = ^uint64(0)
	}
	for !mayBeStack(m) && addr <= guardEnd {
		addr += page
		m = FindMapping(d.Mappings, addr)
	}
	if m == nil {
		return 0, 0, errors.Wrapf(ErrNoStackMapping, "sp %#x", sp)
	}
	if !m.Contains(addr) {
		addr = m.StartAddress
	}
	return addr, m.Size - (addr - m.StartAddress), nil
}

func mayBeStack(m *MappingInfo) bool {
	return m != nil && m.Permissions&(Read|Write) != 0
}

// SanitizeStackCopy scrubs a stack copy in place; see sanitizeStackCopy.
func (d *PtraceDumper) SanitizeStackCopy(stack []byte, sp uint64, spOffset int) {
	sanitizeStackCopy(d.Arch, d.Mappings, stack, sp, spOffset)
}

// FindMapping returns the mapping whose merged range holds addr, or nil.
func (d *PtraceDumper) FindMapping(addr uint64) *MappingInfo {
	return FindMapping(d.Mappings, addr)
}

// FindMappingNoBias returns the mapping whose kernel range holds addr, or
// nil.
func (d *PtraceDumper) FindMappingNoBias(addr uint64) *MappingInfo {
	return FindMappingNoBias(d.Mappings, addr)
}

// ElfIdentifier returns the identifier of the image mapped at m.
func (d *PtraceDumper) ElfIdentifier(m *MappingInfo) ([]byte, error) {
	return d.opts.FileIDCache.identifier(m, func() ([]byte, error) {
		return ElfIdentifier(d.Reader(), m)
	})
}
