// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linux

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	lru "github.com/hashicorp/golang-lru"
)

const (
	ntGNUBuildID = 3
	// Notes larger than this are not worth reading.
	maxNoteSegment = 64 << 10
	// textHashSize is how much code is folded into a fallback identifier.
	textHashSize = 4096
	// identifierSize is the size of a fallback identifier.
	identifierSize = 16
)

// ErrNoIdentifier is returned when an image has neither a build id note
// nor an executable segment to hash.
var ErrNoIdentifier = errors.New("no build id or executable segment")

// ElfIdentifier returns an identifier for the ELF image loaded at m, read
// from process memory. It is the GNU build id when the image carries one,
// and otherwise the first page of the executable segment folded into 16
// bytes. Reading memory rather than the file keeps this correct for
// binaries replaced or deleted on disk.
func ElfIdentifier(r io.ReaderAt, m *MappingInfo) ([]byte, error) {
	base := m.StartAddress
	var hdr elf.Header64
	if err := readValue(r, base, &hdr); err != nil {
		return nil, errors.Wrap(err, "reading ELF header")
	}
	if !bytes.Equal(hdr.Ident[:4], []byte(elf.ELFMAG)) {
		return nil, errors.Newf("no ELF header at %#x", base)
	}
	if elf.Class(hdr.Ident[elf.EI_CLASS]) != elf.ELFCLASS64 || elf.Data(hdr.Ident[elf.EI_DATA]) != elf.ELFDATA2LSB {
		return nil, errors.Newf("unsupported ELF class %d data %d", hdr.Ident[elf.EI_CLASS], hdr.Ident[elf.EI_DATA])
	}
	if hdr.Phnum == 0 || int(hdr.Phentsize) != binary.Size(elf.Prog64{}) {
		return nil, errors.Newf("bad program header table: %d entries of %d bytes", hdr.Phnum, hdr.Phentsize)
	}
	progs := make([]elf.Prog64, hdr.Phnum)
	if err := readValue(r, base+hdr.Phoff, progs); err != nil {
		return nil, errors.Wrap(err, "reading program headers")
	}

	bias, ok := loadBias(progs, base)
	if !ok {
		return nil, errors.New("no loadable segment")
	}
	for _, p := range progs {
		if elf.ProgType(p.Type) != elf.PT_NOTE || p.Memsz == 0 || p.Memsz > maxNoteSegment {
			continue
		}
		notes := make([]byte, p.Memsz)
		if _, err := r.ReadAt(notes, int64(bias+p.Vaddr)); err != nil {
			continue
		}
		if id := findBuildID(notes); id != nil {
			return id, nil
		}
	}
	for _, p := range progs {
		if elf.ProgType(p.Type) != elf.PT_LOAD || elf.ProgFlag(p.Flags)&elf.PF_X == 0 {
			continue
		}
		text := make([]byte, min(p.Filesz, textHashSize))
		if _, err := r.ReadAt(text, int64(bias+p.Vaddr)); err != nil {
			return nil, errors.Wrap(err, "reading executable segment")
		}
		return foldText(text), nil
	}
	return nil, ErrNoIdentifier
}

// loadBias returns the difference between run-time and link-time addresses,
// given that the file offset of the first loadable segment is mapped at
// base.
func loadBias(progs []elf.Prog64, base uint64) (uint64, bool) {
	for _, p := range progs {
		if elf.ProgType(p.Type) == elf.PT_LOAD {
			return base + p.Off - p.Vaddr, true
		}
	}
	return 0, false
}

// findBuildID scans a note segment for NT_GNU_BUILD_ID.
func findBuildID(notes []byte) []byte {
	align4 := func(n uint32) uint32 { return (n + 3) &^ 3 }
	for len(notes) >= 12 {
		namesz := binary.LittleEndian.Uint32(notes[0:])
		descsz := binary.LittleEndian.Uint32(notes[4:])
		typ := binary.LittleEndian.Uint32(notes[8:])
		notes = notes[12:]
		nameEnd := uint64(align4(namesz))
		descEnd := nameEnd + uint64(align4(descsz))
		if descEnd > uint64(len(notes)) {
			return nil
		}
		if typ == ntGNUBuildID && namesz == 4 && string(notes[:4]) == "GNU\x00" && descsz > 0 {
			return bytes.Clone(notes[nameEnd : nameEnd+uint64(descsz)])
		}
		notes = notes[descEnd:]
	}
	return nil
}

func foldText(text []byte) []byte {
	id := make([]byte, identifierSize)
	for i, b := range text {
		id[i%identifierSize] ^= b
	}
	return id
}

func readValue(r io.ReaderAt, addr uint64, v any) error {
	buf := make([]byte, binary.Size(v))
	if _, err := r.ReadAt(buf, int64(addr)); err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(buf), binary.LittleEndian, v)
}

// FileIDCache remembers identifiers of files already seen, so that dumping
// many processes sharing libraries reads each library once.
type FileIDCache struct {
	c *lru.Cache
}

type fileIDKey struct {
	dev    string
	inode  uint64
	name   string
	offset uint64
}

// NewFileIDCache returns a cache holding up to size identifiers.
func NewFileIDCache(size int) (*FileIDCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "creating file id cache")
	}
	return &FileIDCache{c: c}, nil
}

// identifier returns the cached identifier for m, computing it with
// compute on a miss. Anonymous and deleted mappings are not cached. A nil
// cache always computes.
func (fc *FileIDCache) identifier(m *MappingInfo, compute func() ([]byte, error)) ([]byte, error) {
	if fc == nil || m.Inode == 0 || m.Deleted {
		return compute()
	}
	key := fileIDKey{dev: m.Dev, inode: m.Inode, name: m.Name, offset: m.Offset}
	if v, ok := fc.c.Get(key); ok {
		return v.([]byte), nil
	}
	id, err := compute()
	if err != nil {
		return nil, err
	}
	fc.c.Add(key, id)
	return id, nil
}
