// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"github.com/bahamoth/minidump-writer/apple"
	"github.com/bahamoth/minidump-writer/internal/config"
	"github.com/bahamoth/minidump-writer/internal/softerr"
)

// platform dumps and inspects tasks through Mach.
type platform struct {
	cfg *config.Config
}

func newPlatform(cfg *config.Config) (*platform, error) {
	return &platform{cfg: cfg}, nil
}

func (p *platform) task(pid int) (apple.Task, error) {
	if pid == os.Getpid() {
		if t := apple.NewSelfTask(); t != nil {
			return t, nil
		}
	}
	return apple.TaskForPid(pid)
}

func (p *platform) dump(pid int, dst io.WriteSeeker) ([]byte, []error, error) {
	t, err := p.task(pid)
	if err != nil {
		return nil, nil, err
	}
	w := apple.NewMinidumpWriter(t, apple.WithLogger(log.StandardLogger()))
	data, err := w.Dump(dst)
	return data, w.SoftErrors(), err
}

func (p *platform) threads(out io.Writer, pid int) error {
	t, err := p.task(pid)
	if err != nil {
		return err
	}
	threads, err := t.Threads()
	if err != nil {
		return errors.Wrap(err, "listing threads")
	}
	tw := tabwriter.NewWriter(out, 0, 0, 1, ' ', 0)
	fmt.Fprintf(tw, "thread\tname\tsp\tip\tsuspended\n")
	for _, tid := range threads {
		sp, ip, suspended := "?", "?", "?"
		if st, err := t.ThreadState(tid); err == nil {
			sp = fmt.Sprintf("%x", st.StackPointer())
			ip = fmt.Sprintf("%x", st.InstructionPointer())
		}
		if bi, err := t.ThreadBasicInfo(tid); err == nil {
			suspended = fmt.Sprint(bi.SuspendCount)
		}
		name, _ := t.ThreadName(tid)
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", tid, name, sp, ip, suspended)
	}
	return tw.Flush()
}

func (p *platform) mappings(out io.Writer, pid int) error {
	t, err := p.task(pid)
	if err != nil {
		return err
	}
	regions, err := t.VMRegions()
	if err != nil {
		return errors.Wrap(err, "listing regions")
	}
	tw := tabwriter.NewWriter(out, 0, 0, 1, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "min\tmax\tsize\tperm\ttag\tdepth\t\n")
	for _, r := range regions {
		fmt.Fprintf(tw, "%x\t%x\t%s\t%s\t%d\t%d\t\n", r.Start, r.End, humanize.IBytes(r.End-r.Start), protString(r.Protection), r.UserTag, r.Depth)
	}
	return tw.Flush()
}

func protString(prot uint32) string {
	perm := []byte("---")
	if prot&apple.ProtRead != 0 {
		perm[0] = 'r'
	}
	if prot&apple.ProtWrite != 0 {
		perm[1] = 'w'
	}
	if prot&apple.ProtExecute != 0 {
		perm[2] = 'x'
	}
	return string(perm)
}

func (p *platform) modules(out io.Writer, pid int) error {
	t, err := p.task(pid)
	if err != nil {
		return err
	}
	var errs softerr.List
	mods := apple.Modules(t, &errs)
	tw := tabwriter.NewWriter(out, 0, 0, 1, ' ', 0)
	fmt.Fprintf(tw, "base\tsize\tuuid\tname\n")
	for _, m := range mods {
		fmt.Fprintf(tw, "%x\t%s\t%s\t%s\n", m.BaseAddress(), humanize.IBytes(m.VMSize), hex.EncodeToString(m.UUID[:]), m.FilePath)
	}
	for _, err := range errs.Errors() {
		log.WithError(err).Debug("skipped image")
	}
	return tw.Flush()
}
