// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linux

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"io"
	"testing"

	"github.com/cockroachdb/errors"
)

// memImage is target memory holding one image at base.
type memImage struct {
	base uint64
	data []byte
}

func (m *memImage) ReadAt(p []byte, addr int64) (int, error) {
	off := uint64(addr) - m.base
	if uint64(addr) < m.base || off >= uint64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

var testBuildID = []byte{
	0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06,
	0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
}

// buildImage returns a small shared object whose first loadable segment
// is linked at vaddr. If withNote is set it carries testBuildID.
func buildImage(t *testing.T, vaddr uint64, withNote bool) []byte {
	t.Helper()
	const (
		phoff   = 64
		noteOff = 0x200
		size    = 0x2000
	)
	progs := []elf.Prog64{{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Off:    0,
		Vaddr:  vaddr,
		Filesz: size,
		Memsz:  size,
		Align:  0x1000,
	}}
	var note []byte
	if withNote {
		note = binary.LittleEndian.AppendUint32(note, 4)
		note = binary.LittleEndian.AppendUint32(note, uint32(len(testBuildID)))
		note = binary.LittleEndian.AppendUint32(note, ntGNUBuildID)
		note = append(note, "GNU\x00"...)
		note = append(note, testBuildID...)
		progs = append(progs, elf.Prog64{
			Type:   uint32(elf.PT_NOTE),
			Flags:  uint32(elf.PF_R),
			Off:    noteOff,
			Vaddr:  vaddr + noteOff,
			Filesz: uint64(len(note)),
			Memsz:  uint64(len(note)),
			Align:  4,
		})
	}
	hdr := elf.Header64{
		Type:      uint16(elf.ET_DYN),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Phoff:     phoff,
		Ehsize:    64,
		Phentsize: uint16(binary.Size(elf.Prog64{})),
		Phnum:     uint16(len(progs)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		t.Fatal(err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, progs); err != nil {
		t.Fatal(err)
	}
	img := make([]byte, size)
	copy(img, buf.Bytes())
	copy(img[noteOff:], note)
	for i := 0x1000; i < size; i++ {
		img[i] = byte(i * 7)
	}
	return img
}

func TestElfIdentifierBuildID(t *testing.T) {
	const base = 0x7f1200000000
	for _, vaddr := range []uint64{0, 0x400000} {
		img := &memImage{base: base, data: buildImage(t, vaddr, true)}
		m := &MappingInfo{StartAddress: base, Size: uint64(len(img.data)), Name: "/lib/libtest.so"}
		id, err := ElfIdentifier(img, m)
		if err != nil {
			t.Fatalf("vaddr %#x: can't identify image: %s", vaddr, err)
		}
		if !bytes.Equal(id, testBuildID) {
			t.Errorf("vaddr %#x: identifier = %x, want %x", vaddr, id, testBuildID)
		}
	}
}

func TestElfIdentifierTextHash(t *testing.T) {
	const base = 0x555500000000
	data := buildImage(t, 0, false)
	img := &memImage{base: base, data: data}
	id, err := ElfIdentifier(img, &MappingInfo{StartAddress: base, Size: uint64(len(data))})
	if err != nil {
		t.Fatalf("can't identify image: %s", err)
	}
	want := make([]byte, 16)
	for i := 0; i < 4096; i++ {
		want[i%16] ^= data[i]
	}
	if !bytes.Equal(id, want) {
		t.Errorf("identifier = %x, want %x", id, want)
	}
}

func TestElfIdentifierNotELF(t *testing.T) {
	img := &memImage{base: 0x1000, data: make([]byte, 0x1000)}
	if _, err := ElfIdentifier(img, &MappingInfo{StartAddress: 0x1000, Size: 0x1000}); err == nil {
		t.Errorf("zero page identified as ELF")
	}
}

func TestFileIDCache(t *testing.T) {
	fc, err := NewFileIDCache(4)
	if err != nil {
		t.Fatal(err)
	}
	calls := 0
	compute := func() ([]byte, error) {
		calls++
		return []byte{byte(calls)}, nil
	}
	lib := &MappingInfo{Name: "/lib/libc.so.6", Dev: "fd:01", Inode: 2201}
	for range 3 {
		id, err := fc.identifier(lib, compute)
		if err != nil || !bytes.Equal(id, []byte{1}) {
			t.Fatalf("identifier = %x, %v", id, err)
		}
	}
	if calls != 1 {
		t.Errorf("cached file computed %d times", calls)
	}

	deleted := &MappingInfo{Name: "/tmp/x.so", Dev: "fd:01", Inode: 7, Deleted: true}
	fc.identifier(deleted, compute)
	fc.identifier(deleted, compute)
	if calls != 3 {
		t.Errorf("deleted file computed %d times in total, want 3", calls)
	}

	errBad := errors.New("bad image")
	other := &MappingInfo{Name: "/lib/libm.so.6", Dev: "fd:01", Inode: 2202}
	if _, err := fc.identifier(other, func() ([]byte, error) { return nil, errBad }); !errors.Is(err, errBad) {
		t.Errorf("error = %v, want %v", err, errBad)
	}
	if id, _ := fc.identifier(other, compute); !bytes.Equal(id, []byte{4}) {
		t.Errorf("failure was cached: got %x", id)
	}

	var none *FileIDCache
	if _, err := none.identifier(lib, compute); err != nil || calls != 5 {
		t.Errorf("nil cache: calls = %d, err = %v", calls, err)
	}
}
