// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linux

import (
	"io"
	"time"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bahamoth/minidump-writer/format"
	"github.com/bahamoth/minidump-writer/internal/softerr"
	"github.com/bahamoth/minidump-writer/memwriter"
)

// SignalInfo describes the signal that caused a crash.
type SignalInfo struct {
	Signo uint32
	Code  int32
	// Addr is the faulting address, si_addr.
	Addr uint64
}

// CrashContext is what a crash handler knows about a crash. Context, if not
// nil, replaces the registers ptrace reports for the crashing thread, which
// at dump time is inside the signal handler.
type CrashContext struct {
	TID     int
	Signal  SignalInfo
	Context format.Context
}

// MinidumpWriter writes a minidump of another process.
type MinidumpWriter struct {
	pid      int
	opts     Options
	crash    *CrashContext
	sanitize bool
	now      func() time.Time
	log      log.FieldLogger

	errs softerr.List

	// Per-dump state.
	dumper       *PtraceDumper
	memoryBlocks []format.MemoryDescriptor
	contexts     map[int]format.Location
}

// A WriterOption configures a MinidumpWriter.
type WriterOption func(*MinidumpWriter)

// WithOptions sets the options of the underlying PtraceDumper.
func WithOptions(opts Options) WriterOption {
	return func(w *MinidumpWriter) { w.opts = opts }
}

// WithCrashContext records the crash being reported. The dump then names
// the crashing thread and carries an exception stream.
func WithCrashContext(c *CrashContext) WriterOption {
	return func(w *MinidumpWriter) { w.crash = c }
}

// WithSanitizeStack scrubs stack words that do not look like pointers
// into code or the stack itself.
func WithSanitizeStack(on bool) WriterOption {
	return func(w *MinidumpWriter) { w.sanitize = on }
}

// WithClock sets the source of the header time stamp.
func WithClock(now func() time.Time) WriterOption {
	return func(w *MinidumpWriter) { w.now = now }
}

// NewMinidumpWriter returns a writer for process pid.
func NewMinidumpWriter(pid int, opts ...WriterOption) *MinidumpWriter {
	w := &MinidumpWriter{pid: pid, now: time.Now}
	for _, o := range opts {
		o(w)
	}
	if w.opts.Logger == nil {
		w.opts.Logger = log.StandardLogger()
	}
	w.log = w.opts.Logger.WithField("pid", pid)
	return w
}

// SoftErrors returns the failures the last Dump worked around.
func (w *MinidumpWriter) SoftErrors() []error { return w.errs.Errors() }

// Dump stops the process, writes a minidump of it and lets it continue.
// If dst is not nil the dump is written to it as it is built. The complete
// dump is also returned.
func (w *MinidumpWriter) Dump(dst io.WriteSeeker) ([]byte, error) {
	w.errs = softerr.List{}
	w.memoryBlocks = nil
	w.contexts = make(map[int]format.Location)

	d, err := NewPtraceDumper(w.pid, w.opts, &w.errs)
	if err != nil {
		return nil, errors.Wrapf(err, "attaching to process %d", w.pid)
	}
	defer func() {
		if err := d.Close(); err != nil {
			w.log.WithError(err).Warn("resuming process")
		}
		w.dumper = nil
	}()
	w.dumper = d

	w.errs.Collect("suspending threads", func(sub *softerr.List) {
		d.SuspendThreads(sub)
	})
	if len(d.Threads) == 0 {
		w.log.Warn("no threads could be suspended")
	}

	streams := []memwriter.StreamFunc{
		w.writeSystemInfo,
		w.writeThreadList,
		w.writeMemoryList,
		w.writeModuleList,
		w.writeMiscInfo,
		w.writeBreakpadInfo,
		w.writeThreadNames,
	}
	for _, pf := range procFiles {
		streams = append(streams, w.procFileStream(pf))
	}
	streams = append(streams, w.writeSoftErrors)
	if w.crash != nil {
		streams = append(streams, w.writeException)
	}

	data, err := memwriter.Compose(dst, w.now(), streams)
	if err != nil {
		return nil, err
	}
	for _, err := range w.errs.Errors() {
		w.log.WithError(err).Debug("soft error")
	}
	return data, nil
}
