// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apple

import (
	"io"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bahamoth/minidump-writer/arch"
	"github.com/bahamoth/minidump-writer/format"
	"github.com/bahamoth/minidump-writer/internal/softerr"
	"github.com/bahamoth/minidump-writer/memwriter"
)

// MinidumpWriter writes a minidump of a task.
type MinidumpWriter struct {
	task          Task
	crash         *CrashContext
	handlerThread uint32
	hasHandler    bool
	host          func() (HostInfo, error)
	arch          *arch.Architecture
	now           func() time.Time
	log           log.FieldLogger

	errs softerr.List

	// Per-dump state.
	threads      []uint32
	memoryBlocks []format.MemoryDescriptor
	crashContext *format.Location
}

// An Option configures a MinidumpWriter.
type Option func(*MinidumpWriter)

// WithCrashContext records the crash being reported. Its handler thread,
// if any, is left out of the dump.
func WithCrashContext(c *CrashContext) Option {
	return func(w *MinidumpWriter) {
		w.crash = c
		if c.HasHandlerThread {
			w.handlerThread, w.hasHandler = c.HandlerThread, true
		}
	}
}

// WithHandlerThread names the thread doing the dump, which is left out of
// the thread list.
func WithHandlerThread(tid uint32) Option {
	return func(w *MinidumpWriter) { w.handlerThread, w.hasHandler = tid, true }
}

// WithHostInfo sets the source of the system info stream.
func WithHostInfo(host func() (HostInfo, error)) Option {
	return func(w *MinidumpWriter) { w.host = host }
}

// WithArch sets the architecture of the task. The default is the host's.
func WithArch(a *arch.Architecture) Option {
	return func(w *MinidumpWriter) { w.arch = a }
}

// WithClock sets the source of the header time stamp.
func WithClock(now func() time.Time) Option {
	return func(w *MinidumpWriter) { w.now = now }
}

// WithLogger sets the logger.
func WithLogger(l log.FieldLogger) Option {
	return func(w *MinidumpWriter) { w.log = l }
}

// NewMinidumpWriter returns a writer for task.
func NewMinidumpWriter(task Task, opts ...Option) *MinidumpWriter {
	w := &MinidumpWriter{
		task: task,
		host: ReadHostInfo,
		arch: arch.Host(),
		now:  time.Now,
		log:  log.StandardLogger(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// SoftErrors returns the failures the last Dump worked around.
func (w *MinidumpWriter) SoftErrors() []error { return w.errs.Errors() }

// Dump writes a minidump of the task. If dst is not nil the dump is written
// to it as it is built. The complete dump is also returned.
func (w *MinidumpWriter) Dump(dst io.WriteSeeker) ([]byte, error) {
	if w.arch == nil {
		return nil, errors.New("minidumps are not supported on this architecture")
	}
	w.errs = softerr.List{}
	w.memoryBlocks = nil
	w.crashContext = nil

	threads, err := w.task.Threads()
	if err != nil {
		return nil, errors.Wrap(err, "listing threads")
	}
	if w.hasHandler {
		threads = slices.DeleteFunc(threads, func(tid uint32) bool { return tid == w.handlerThread })
	}
	w.threads = threads

	streams := []memwriter.StreamFunc{
		w.writeSystemInfo,
		w.writeThreadList,
		w.writeMemoryList,
		w.writeModuleList,
		w.writeMiscInfo,
		w.writeBreakpadInfo,
		w.writeThreadNames,
		w.writeSoftErrors,
	}
	if w.hasException() {
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

func (w *MinidumpWriter) hasException() bool {
	return w.crash != nil && w.crash.Exception != nil
}

// crashingThread reports whether tid is the thread that crashed.
func (w *MinidumpWriter) crashingThread(tid uint32) bool {
	return w.crash != nil && w.crash.Thread == tid
}
