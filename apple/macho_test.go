// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apple

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/bahamoth/minidump-writer/internal/softerr"
)

var testUUID = [16]byte{0xde, 0xad, 0xbe, 0xef, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}

func TestReadImageDetails(t *testing.T) {
	f := newFakeTask()
	f.mapRegion(0x10000000, pad(machImage(t, 0x100000000, 0x4000, &testUUID, 0, true), 0x4000), ProtRead|ProtExecute, 0)
	f.mapRegion(0x20000000, pad([]byte("/usr/lib/libfoo.dylib\x00"), 0x1000), ProtRead, 0)
	f.mapRegion(0x30000000, pad(machImage(t, 0x30000000, 0x2000, &testUUID, 0x00050102, false), 0x2000), ProtRead|ProtExecute, 0)
	f.mapRegion(0x40000000, pad(machImage(t, 0x40000000, 0x2000, nil, 0, false), 0x1000), ProtRead|ProtExecute, 0)
	f.mapRegion(0x50000000, make([]byte, 0x1000), ProtRead, 0)

	exe, err := readImageDetails(f, ImageInfo{LoadAddress: 0x10000000}, nil)
	if err != nil {
		t.Fatalf("can't read executable: %s", err)
	}
	if !exe.IsExecutable {
		t.Errorf("executable not recognized")
	}
	if exe.VMAddr != 0x100000000 || exe.VMSize != 0x4000 {
		t.Errorf("__TEXT = %#x+%#x, want 0x100000000+0x4000", exe.VMAddr, exe.VMSize)
	}
	if exe.Slide != 0x10000000-0x100000000 {
		t.Errorf("slide = %d", exe.Slide)
	}
	if exe.BaseAddress() != 0x10000000 {
		t.Errorf("base = %#x, want 0x10000000", exe.BaseAddress())
	}
	if exe.UUID != testUUID {
		t.Errorf("uuid = %x", exe.UUID)
	}
	if exe.Version != 0 || exe.FilePath != "" {
		t.Errorf("version %#x path %q, want none", exe.Version, exe.FilePath)
	}

	lib, err := readImageDetails(f, ImageInfo{LoadAddress: 0x30000000, FilePath: 0x20000000}, nil)
	if err != nil {
		t.Fatalf("can't read library: %s", err)
	}
	if lib.IsExecutable || lib.Slide != 0 || lib.Version != 0x00050102 {
		t.Errorf("library details %+v", lib)
	}
	if lib.FilePath != "/usr/lib/libfoo.dylib" {
		t.Errorf("path = %q", lib.FilePath)
	}

	errs := new(softerr.List)
	unnamed, err := readImageDetails(f, ImageInfo{LoadAddress: 0x30000000, FilePath: 0x90000000}, errs)
	if err != nil {
		t.Fatalf("image with unreadable path: %s", err)
	}
	if unnamed.FilePath != "" || unnamed.UUID != testUUID {
		t.Errorf("image with unreadable path: %+v", unnamed)
	}
	if errs.Len() != 1 {
		t.Errorf("unreadable path recorded %d soft errors, want 1", errs.Len())
	}

	if _, err := readImageDetails(f, ImageInfo{LoadAddress: 0x40000000}, nil); !errors.Is(err, ErrMissingLoadCommand) {
		t.Errorf("image without LC_UUID: got %v, want ErrMissingLoadCommand", err)
	}
	if _, err := readImageDetails(f, ImageInfo{LoadAddress: 0x50000000}, nil); !errors.Is(err, ErrInvalidMachHeader) {
		t.Errorf("zeroed memory: got %v, want ErrInvalidMachHeader", err)
	}
	if _, err := readImageDetails(f, ImageInfo{LoadAddress: 0x60000000}, nil); err == nil {
		t.Errorf("unmapped image: got no error")
	}

	f.images = []ImageInfo{{LoadAddress: 0x30000000}, {LoadAddress: 0x10000000}}
	found, err := MainExecutable(f)
	if err != nil {
		t.Fatalf("can't find main executable: %s", err)
	}
	if found.BaseAddress() != 0x10000000 {
		t.Errorf("main executable at %#x", found.BaseAddress())
	}
	f.images = f.images[:1]
	if _, err := MainExecutable(f); !errors.Is(err, ErrNoExecutableImage) {
		t.Errorf("no executable: got %v", err)
	}
}

func TestModulesKeepsUnnamedImage(t *testing.T) {
	f := newFakeTask()
	f.mapRegion(0x30000000, pad(machImage(t, 0x30000000, 0x2000, &testUUID, 0, false), 0x2000), ProtRead|ProtExecute, 0)
	f.mapRegion(0x40000000, pad([]byte("/usr/lib/lib\xff.dylib\x00"), 0x1000), ProtRead, 0)
	for _, path := range []uint64{0x90000000, 0x40000000} {
		f.images = []ImageInfo{{LoadAddress: 0x30000000, FilePath: path}}
		errs := new(softerr.List)
		mods := Modules(f, errs)
		if len(mods) != 1 {
			t.Fatalf("path at %#x: got %d modules, want 1", path, len(mods))
		}
		if mods[0].FilePath != "" || mods[0].BaseAddress() != 0x30000000 {
			t.Errorf("path at %#x: module %+v", path, mods[0])
		}
		if errs.Len() != 1 {
			t.Errorf("path at %#x: %d soft errors, want 1", path, errs.Len())
		}
	}
}

func TestSortImages(t *testing.T) {
	got := sortImages([]ImageInfo{
		{LoadAddress: 0x3000},
		{LoadAddress: 0x1000, FilePath: 1},
		{LoadAddress: 0x2000},
		{LoadAddress: 0x1000, FilePath: 2},
		{LoadAddress: 0x3000},
	})
	want := []uint64{0x1000, 0x2000, 0x3000}
	if len(got) != len(want) {
		t.Fatalf("got %d images, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].LoadAddress != want[i] {
			t.Errorf("image %d at %#x, want %#x", i, got[i].LoadAddress, want[i])
		}
	}
}

func TestVersionInfo(t *testing.T) {
	vi := versionInfo(0x00010203)
	if vi.FileVersionHi != 1<<16|2 || vi.FileVersionLo != 3<<16 {
		t.Errorf("file version %#x.%#x", vi.FileVersionHi, vi.FileVersionLo)
	}
	if vi.ProductVersionHi != vi.FileVersionHi || vi.ProductVersionLo != vi.FileVersionLo {
		t.Errorf("product version differs from file version")
	}
	if vi.FileFlagsMask != fileFlagsMask || vi.FileOS != fileOSNTWin32 || vi.FileType != 1 {
		t.Errorf("flags %#x os %#x type %d", vi.FileFlagsMask, vi.FileOS, vi.FileType)
	}
	if vi := versionInfo(0); vi.FileVersionHi != 0 || vi.FileOS != 0 || vi.Signature == 0 {
		t.Errorf("unknown version gives %+v", vi)
	}
}
