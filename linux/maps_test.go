// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linux

import (
	"strings"
	"testing"

	"github.com/bahamoth/minidump-writer/internal/softerr"
)

const testMaps = `55d3a0a00000-55d3a0a02000 r--p 00000000 fd:01 1837 /usr/bin/cat
55d3a0a02000-55d3a0a07000 r-xp 00002000 fd:01 1837 /usr/bin/cat
55d3a0a07000-55d3a0a0a000 r--p 00007000 fd:01 1837 /usr/bin/cat
55d3a1bc3000-55d3a1be4000 rw-p 00000000 00:00 0                          [heap]
7f2e0a000000-7f2e0a1c0000 r-xp 00000000 fd:01 2201 /usr/lib/libc.so.6
7f2e0a1c0000-7f2e0a3c0000 ---p 00000000 00:00 0
this line is garbage
7f2e0a3d0000-7f2e0a3d4000 r--p 001c0000 fd:01 2201 /usr/lib/libc.so.6
7f2e0a400000-7f2e0a401000 rw-s 00000000 00:05 77   /dev/zero (deleted)
7f2e0a500000-7f2e0a520000 r-xp 00000000 fd:01 3000 /tmp/plugin.so (deleted)
7ffc12340000-7ffc12361000 rw-p 00000000 00:00 0                          [stack]
7ffc123f0000-7ffc123f2000 r-xp 00000000 00:00 0                          [vdso]
`

const testVDSO = 0x7ffc123f0000

func parseTestMaps(t *testing.T) ([]MappingInfo, *softerr.List) {
	t.Helper()
	errs := new(softerr.List)
	entries, err := ParseMaps(strings.NewReader(testMaps), errs)
	if err != nil {
		t.Fatalf("can't parse maps: %s", err)
	}
	return Aggregate(entries, testVDSO), errs
}

func TestParseMaps(t *testing.T) {
	errs := new(softerr.List)
	entries, err := ParseMaps(strings.NewReader(testMaps), errs)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 11 {
		t.Fatalf("got %d entries, want 11", len(entries))
	}
	if errs.Len() != 1 {
		t.Errorf("got %d soft errors, want 1 for the garbage line", errs.Len())
	}
	e := entries[1]
	if e.Start != 0x55d3a0a02000 || e.End != 0x55d3a0a07000 || e.Offset != 0x2000 ||
		e.Perms != Read|Exec|Private || e.Dev != "fd:01" || e.Inode != 1837 || e.Path != "/usr/bin/cat" {
		t.Errorf("entry 1 = %+v", e)
	}
	if entries[3].Path != "[heap]" {
		t.Errorf("heap path = %q", entries[3].Path)
	}
	if entries[5].Path != "" {
		t.Errorf("anonymous path = %q", entries[5].Path)
	}
}

func TestAggregate(t *testing.T) {
	mappings, _ := parseTestMaps(t)
	tests := []struct {
		name       string
		start      uint64
		size       uint64
		systemEnd  uint64
		offset     uint64
		deleted    bool
		executable bool
	}{
		{"/usr/bin/cat", 0x55d3a0a00000, 0xa000, 0x55d3a0a0a000, 0, false, true},
		{"[heap]", 0x55d3a1bc3000, 0x21000, 0x55d3a1be4000, 0, false, false},
		// The reservation after the code is folded into the size only.
		{"/usr/lib/libc.so.6", 0x7f2e0a000000, 0x3c0000, 0x7f2e0a1c0000, 0, false, true},
		{"/usr/lib/libc.so.6", 0x7f2e0a3d0000, 0x4000, 0x7f2e0a3d4000, 0x1c0000, false, false},
		{"/dev/zero", 0x7f2e0a400000, 0x1000, 0x7f2e0a401000, 0, true, false},
		{"/tmp/plugin.so", 0x7f2e0a500000, 0x20000, 0x7f2e0a520000, 0, true, true},
		{"[stack]", 0x7ffc12340000, 0x21000, 0x7ffc12361000, 0, false, false},
		{LinuxGateName, testVDSO, 0x2000, 0x7ffc123f2000, 0, false, true},
	}
	if len(mappings) != len(tests) {
		for _, m := range mappings {
			t.Logf("%#x+%#x %s", m.StartAddress, m.Size, m.Name)
		}
		t.Fatalf("got %d mappings, want %d", len(mappings), len(tests))
	}
	for i, tc := range tests {
		m := mappings[i]
		if m.Name != tc.name || m.StartAddress != tc.start || m.Size != tc.size ||
			m.SystemMappingInfo.EndAddress != tc.systemEnd || m.Offset != tc.offset ||
			m.Deleted != tc.deleted || m.IsExecutable() != tc.executable {
			t.Errorf("mapping %d = %+v, want %+v", i, m, tc)
		}
	}
	if p := mappings[0].Permissions; p != Read|Exec|Private {
		t.Errorf("merged permissions = %s", p)
	}
}

func TestFindMapping(t *testing.T) {
	mappings, _ := parseTestMaps(t)
	gap := uint64(0x7f2e0a200000)
	if m := FindMapping(mappings, gap); m == nil || m.Name != "/usr/lib/libc.so.6" {
		t.Errorf("FindMapping(%#x) = %v, want libc", gap, m)
	}
	if m := FindMappingNoBias(mappings, gap); m != nil {
		t.Errorf("FindMappingNoBias(%#x) = %s, want nil", gap, m.Name)
	}
	if m := FindMapping(mappings, 0x1000); m != nil {
		t.Errorf("FindMapping(0x1000) = %s, want nil", m.Name)
	}
}

func TestMoveEntryMappingFirst(t *testing.T) {
	mappings, _ := parseTestMaps(t)
	moveEntryMappingFirst(mappings, 0x7f2e0a500100)
	if mappings[0].Name != "/tmp/plugin.so" {
		t.Errorf("first mapping = %s, want the one holding the entry point", mappings[0].Name)
	}
	if mappings[5].Name != "/usr/bin/cat" {
		t.Errorf("displaced mapping = %s, want /usr/bin/cat", mappings[5].Name)
	}
	before := mappings[0]
	moveEntryMappingFirst(mappings, 0)
	if mappings[0] != before {
		t.Errorf("zero entry point moved mappings")
	}
}

func TestModuleListFilter(t *testing.T) {
	mappings, _ := parseTestMaps(t)
	var got []string
	for _, m := range mappings {
		if m.ShouldIncludeInModuleList() {
			got = append(got, m.Name)
		}
	}
	want := []string{"/usr/bin/cat", "/usr/lib/libc.so.6", "/tmp/plugin.so", LinuxGateName}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("modules = %q, want %q", got, want)
	}
}

func TestPermString(t *testing.T) {
	for _, tc := range []struct {
		p    Perm
		want string
	}{
		{0, "None"},
		{Read | Exec | Private, "Read|Exec|Private"},
		{Read | Write | Shared, "Read|Write|Shared"},
	} {
		if got := tc.p.String(); got != tc.want {
			t.Errorf("%d.String() = %q, want %q", tc.p, got, tc.want)
		}
	}
}
