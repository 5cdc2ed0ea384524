// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package softerr collects errors that do not stop a dump.
package softerr

import (
	"encoding/json"
	"strings"
)

// List accumulates soft errors. A nil *List discards everything pushed to
// it.
type List struct {
	errs []error
}

// Push records err. Nil errors are ignored.
func (l *List) Push(err error) {
	if l == nil || err == nil {
		return
	}
	l.errs = append(l.errs, err)
}

// Errors returns the recorded errors in order.
func (l *List) Errors() []error {
	if l == nil {
		return nil
	}
	return l.errs
}

// Len returns the number of recorded errors.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.errs)
}

// Collect runs fn with a fresh list. If fn records anything, a single
// *Group holding those errors is pushed to l.
func (l *List) Collect(msg string, fn func(sub *List)) {
	sub := new(List)
	if l == nil {
		sub = nil
	}
	fn(sub)
	if sub.Len() > 0 {
		l.Push(&Group{Msg: msg, Errs: sub.errs})
	}
}

// Group is a set of soft errors from one step.
type Group struct {
	Msg  string
	Errs []error
}

func (g *Group) Error() string {
	var b strings.Builder
	b.WriteString(g.Msg)
	b.WriteString(": [")
	for i, err := range g.Errs {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(err.Error())
	}
	b.WriteString("]")
	return b.String()
}

// Unwrap lets errors.Is and errors.As see the grouped errors.
func (g *Group) Unwrap() []error { return g.Errs }

type entry struct {
	Error  string  `json:"error"`
	Causes []entry `json:"causes,omitempty"`
}

func toEntry(err error) entry {
	e := entry{Error: err.Error()}
	if g, ok := err.(*Group); ok {
		e.Error = g.Msg
		for _, c := range g.Errs {
			e.Causes = append(e.Causes, toEntry(c))
		}
	}
	return e
}

// MarshalJSON encodes the list as an array of {error, causes} objects.
func (l *List) MarshalJSON() ([]byte, error) {
	entries := make([]entry, 0, l.Len())
	for _, err := range l.Errors() {
		entries = append(entries, toEntry(err))
	}
	return json.Marshal(entries)
}
