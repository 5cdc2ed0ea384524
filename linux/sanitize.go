// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linux

import (
	"github.com/bahamoth/minidump-writer/arch"
)

const (
	// smallIntMagnitude bounds values kept as harmless register spills.
	smallIntMagnitude = 4096

	// The executable filter has 1<<testBits buckets indexed by bits
	// [21, 32) of an address. 64-bit targets use the same bits.
	testBits  = 11
	testShift = 32 - testBits
)

type execFilter [1 << (testBits - 3)]byte

func newExecFilter(mappings []MappingInfo) *execFilter {
	var f execFilter
	for i := range mappings {
		m := &mappings[i]
		if !m.IsExecutable() {
			continue
		}
		for bit := m.StartAddress >> testShift; bit <= m.End()>>testShift; bit++ {
			f[(bit>>3)%uint64(len(f))] |= 1 << (bit & 7)
		}
	}
	return &f
}

// mayHit reports whether some executable mapping could contain addr.
func (f *execFilter) mayHit(addr uint64) bool {
	bit := addr >> testShift
	return f[(bit>>3)%uint64(len(f))]&(1<<(bit&7)) != 0
}

// sanitizeStackCopy scrubs a copy of a thread stack so it cannot leak data.
// stack holds memory starting spOffset bytes below sp. Bytes below the
// pointer-aligned spOffset are zeroed. Each word above is kept if it is a
// small integer, points into the stack, or points into executable code;
// any other word is replaced with the defaced pattern. A trailing partial
// word is zeroed.
func sanitizeStackCopy(a *arch.Architecture, mappings []MappingInfo, stack []byte, sp uint64, spOffset int) {
	ptr := a.PointerSize
	offset := (spOffset + ptr - 1) &^ (ptr - 1)
	if offset > len(stack) {
		offset = len(stack)
	}
	clear(stack[:offset])

	filter := newExecFilter(mappings)
	stackMapping := FindMappingNoBias(mappings, sp)
	var lastHit *MappingInfo
	defaced := a.DefacedValue()

	words := stack[offset:]
	for len(words) >= ptr {
		w := words[:ptr]
		words = words[ptr:]
		addr := a.Uintptr(w)
		signed := int64(addr)
		if ptr == 4 {
			signed = int64(int32(uint32(addr)))
		}
		if signed <= smallIntMagnitude && signed >= -smallIntMagnitude {
			continue
		}
		if stackMapping != nil && stackMapping.Contains(addr) {
			continue
		}
		if lastHit != nil && lastHit.Contains(addr) {
			continue
		}
		if filter.mayHit(addr) {
			if hit := FindMappingNoBias(mappings, addr); hit != nil && hit.IsExecutable() {
				lastHit = hit
				continue
			}
		}
		a.PutUintptr(w, defaced)
	}
	clear(words)
}
