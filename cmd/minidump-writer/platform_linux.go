// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"github.com/bahamoth/minidump-writer/internal/config"
	"github.com/bahamoth/minidump-writer/linux"
)

// platform dumps and inspects processes with ptrace.
type platform struct {
	cfg   *config.Config
	cache *linux.FileIDCache
}

func newPlatform(cfg *config.Config) (*platform, error) {
	p := &platform{cfg: cfg}
	if cfg.ModuleCacheSize > 0 {
		c, err := linux.NewFileIDCache(cfg.ModuleCacheSize)
		if err != nil {
			return nil, err
		}
		p.cache = c
	}
	return p, nil
}

func (p *platform) options() linux.Options {
	return linux.Options{
		StopTimeout:  p.cfg.StopTimeout,
		MemoryReader: p.cfg.MemoryReader,
		FileIDCache:  p.cache,
		Logger:       log.StandardLogger(),
	}
}

func (p *platform) dump(pid int, dst io.WriteSeeker) ([]byte, []error, error) {
	w := linux.NewMinidumpWriter(pid,
		linux.WithOptions(p.options()),
		linux.WithSanitizeStack(p.cfg.SanitizeStack))
	data, err := w.Dump(dst)
	return data, w.SoftErrors(), err
}

func (p *platform) threads(out io.Writer, pid int) error {
	d, err := linux.NewPtraceDumper(pid, p.options(), nil)
	if err != nil {
		return err
	}
	defer d.Close()
	d.SuspendThreads(nil)

	t := tabwriter.NewWriter(out, 0, 0, 1, ' ', 0)
	fmt.Fprintf(t, "tid\tname\tsp\tip\tstack\n")
	for i, th := range d.Threads {
		sp, ip, stack := "?", "?", "?"
		if ti, err := d.ThreadInfo(i); err == nil {
			sp = fmt.Sprintf("%x", ti.StackPointer())
			ip = fmt.Sprintf("%x", ti.InstructionPointer())
			if start, size, err := d.StackInfo(ti.StackPointer()); err == nil {
				stack = fmt.Sprintf("%x+%s", start, humanize.IBytes(size))
			}
		}
		fmt.Fprintf(t, "%d\t%s\t%s\t%s\t%s\n", th.TID, th.Name, sp, ip, stack)
	}
	return t.Flush()
}

func (p *platform) mappings(out io.Writer, pid int) error {
	d, err := linux.NewPtraceDumper(pid, p.options(), nil)
	if err != nil {
		return err
	}
	defer d.Close()

	t := tabwriter.NewWriter(out, 0, 0, 1, ' ', tabwriter.AlignRight)
	fmt.Fprintf(t, "min\tmax\tsize\tperm\toffset\tname\t\n")
	for _, m := range d.Mappings {
		fmt.Fprintf(t, "%x\t%x\t%s\t%s\t%x\t%s\t\n", m.StartAddress, m.End(), humanize.IBytes(m.Size), m.Permissions, m.Offset, m.Name)
	}
	return t.Flush()
}

func (p *platform) modules(out io.Writer, pid int) error {
	d, err := linux.NewPtraceDumper(pid, p.options(), nil)
	if err != nil {
		return err
	}
	defer d.Close()

	t := tabwriter.NewWriter(out, 0, 0, 1, ' ', 0)
	fmt.Fprintf(t, "base\tsize\tid\tname\n")
	for i := range d.Mappings {
		m := &d.Mappings[i]
		if !m.ShouldIncludeInModuleList() {
			continue
		}
		id := "?"
		if b, err := d.ElfIdentifier(m); err == nil {
			id = hex.EncodeToString(b)
		}
		fmt.Fprintf(t, "%x\t%s\t%s\t%s\n", m.StartAddress, humanize.IBytes(m.Size), id, m.Name)
	}
	return t.Flush()
}
