// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package softerr

import (
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
)

var errThread = errors.New("thread gone")

func TestNilListDiscards(t *testing.T) {
	var l *List
	l.Push(errThread)
	l.Collect("sub", func(sub *List) { sub.Push(errThread) })
	if l.Len() != 0 || l.Errors() != nil {
		t.Errorf("nil list recorded errors")
	}
}

func TestCollect(t *testing.T) {
	l := new(List)
	l.Collect("empty", func(*List) {})
	if l.Len() != 0 {
		t.Fatalf("empty collect pushed %d errors", l.Len())
	}
	l.Collect("suspending threads", func(sub *List) {
		sub.Push(errors.Wrap(errThread, "tid 12"))
		sub.Push(nil)
		sub.Push(errors.New("tid 13: EPERM"))
	})
	if l.Len() != 1 {
		t.Fatalf("collect pushed %d errors, want 1", l.Len())
	}
	if !errors.Is(l.Errors()[0], errThread) {
		t.Errorf("grouped error does not match its cause")
	}
	want := "suspending threads: [tid 12: thread gone; tid 13: EPERM]"
	if got := l.Errors()[0].Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestMarshalJSON(t *testing.T) {
	l := new(List)
	l.Push(errors.New("stop timed out"))
	l.Collect("modules", func(sub *List) { sub.Push(errors.New("no build id")) })
	data, err := json.Marshal(l)
	if err != nil {
		t.Fatal(err)
	}
	want := `[{"error":"stop timed out"},{"error":"modules","causes":[{"error":"no build id"}]}]`
	if string(data) != want {
		t.Errorf("json = %s\nwant   %s", data, want)
	}
}
