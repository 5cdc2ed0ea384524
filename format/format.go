// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package format describes the on-disk records of a minidump file.
//
// All records are little-endian and are laid out so that encoding/binary
// reproduces the packed layout used by Breakpad. Field order matters.
package format

// Header constants.
const (
	Signature = 0x504d444d // "MDMP"
	Version   = 0xa793
)

// Stream types.
const (
	ThreadListStream   = 3
	ModuleListStream   = 4
	MemoryListStream   = 5
	ExceptionStream    = 6
	SystemInfoStream   = 7
	MiscInfoStream     = 15
	ThreadNamesStream  = 24
	BreakpadInfoStream = 0x47670001
	LinuxCPUInfoStream = 0x47670003
	LinuxProcStatus    = 0x47670004
	LinuxLsbRelease    = 0x47670005
	LinuxCmdLine       = 0x47670006
	LinuxEnviron       = 0x47670007
	LinuxAuxv          = 0x47670008
	LinuxMaps          = 0x47670009
	SoftErrorsStream   = 0x4d7a0005
)

// Platform identifiers recorded in SystemInfo.PlatformID.
const (
	PlatformMacOS = 0x8101
	PlatformIOS   = 0x8102
	PlatformLinux = 0x8201
)

// Processor architectures recorded in SystemInfo.ProcessorArchitecture.
const (
	ProcessorArchitectureAMD64 = 9
	ProcessorArchitectureARM64 = 12
)

// Sentinel values used as a thread's stack start when no real stack was
// captured. Such stacks always carry a 16 byte payload.
const (
	StackPointerNull = 0xdeadbeef
	StackReadFailed  = 0xdeaddead

	SentinelStackSize = 16
)

// Location is MDLocationDescriptor: a blob inside the dump.
type Location struct {
	DataSize uint32
	RVA      uint32
}

// End returns the offset one past the blob.
func (l Location) End() uint64 { return uint64(l.RVA) + uint64(l.DataSize) }

// MemoryDescriptor is MDMemoryDescriptor: a copy of target memory.
type MemoryDescriptor struct {
	StartOfMemoryRange uint64
	Memory             Location
}

// Header is MDRawHeader.
type Header struct {
	Signature          uint32
	Version            uint32
	StreamCount        uint32
	StreamDirectoryRVA uint32
	Checksum           uint32
	TimeDateStamp      uint32
	Flags              uint64
}

// HeaderSize is the encoded size of Header.
const HeaderSize = 32

// Directory is MDRawDirectory.
type Directory struct {
	StreamType uint32
	Location   Location
}

// DirectorySize is the encoded size of Directory.
const DirectorySize = 12
