// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

// Thread is MDRawThread.
type Thread struct {
	ThreadID      uint32
	SuspendCount  uint32
	PriorityClass uint32
	Priority      uint32
	Teb           uint64
	Stack         MemoryDescriptor
	ThreadContext Location
}

// ThreadSize is the encoded size of Thread.
const ThreadSize = 48

// FixedFileInfo is VS_FIXEDFILEINFO.
type FixedFileInfo struct {
	Signature        uint32
	StructVersion    uint32
	FileVersionHi    uint32
	FileVersionLo    uint32
	ProductVersionHi uint32
	ProductVersionLo uint32
	FileFlagsMask    uint32
	FileFlags        uint32
	FileOS           uint32
	FileType         uint32
	FileSubtype      uint32
	FileDateHi       uint32
	FileDateLo       uint32
}

// Values for FixedFileInfo.
const (
	FixedFileInfoSignature     = 0xfeef04bd
	FixedFileInfoStructVersion = 0x00010000
	FileOSUnknown              = 0
	FileTypeApp                = 1
	FileTypeDLL                = 2
)

// Module is MDRawModule.
type Module struct {
	BaseOfImage   uint64
	SizeOfImage   uint32
	Checksum      uint32
	TimeDateStamp uint32
	ModuleNameRVA uint32
	VersionInfo   FixedFileInfo
	CVRecord      Location
	MiscRecord    Location
	Reserved0     uint64
	Reserved1     uint64
}

// ModuleSize is the encoded size of Module.
const ModuleSize = 108

// CodeView record signatures.
const (
	CVSignaturePDB70 = 0x53445352 // "RSDS"
	CVSignatureELF   = 0x4270454c // "BpEL"
)

// CVInfoPDB70 is the fixed prefix of MDCVInfoPDB70; a NUL terminated file
// name may follow.
type CVInfoPDB70 struct {
	Signature uint32
	GUID      [16]byte
	Age       uint32
}

// CPUInformation is the 24 byte CPU union of MDRawSystemInfo, x86 view.
type CPUInformation struct {
	VendorID               [3]uint32
	VersionInformation     uint32
	FeatureInformation     uint32
	AMDExtendedCPUFeatures uint32
}

// SystemInfo is MDRawSystemInfo.
type SystemInfo struct {
	ProcessorArchitecture uint16
	ProcessorLevel        uint16
	ProcessorRevision     uint16
	NumberOfProcessors    uint8
	ProductType           uint8
	MajorVersion          uint32
	MinorVersion          uint32
	BuildNumber           uint32
	PlatformID            uint32
	CSDVersionRVA         uint32
	SuiteMask             uint16
	Reserved2             uint16
	CPU                   CPUInformation
}

// SystemInfoSize is the encoded size of SystemInfo.
const SystemInfoSize = 56

// Misc info flags.
const (
	MiscProcessID          = 0x00000001
	MiscProcessTimes       = 0x00000002
	MiscProcessorPowerInfo = 0x00000004
)

// MiscInfo is MINIDUMP_MISC_INFO_2.
type MiscInfo struct {
	SizeOfInfo                uint32
	Flags1                    uint32
	ProcessID                 uint32
	ProcessCreateTime         uint32
	ProcessUserTime           uint32
	ProcessKernelTime         uint32
	ProcessorMaxMhz           uint32
	ProcessorCurrentMhz       uint32
	ProcessorMhzLimit         uint32
	ProcessorMaxIdleState     uint32
	ProcessorCurrentIdleState uint32
}

// MiscInfoSize is the encoded size of MiscInfo.
const MiscInfoSize = 44

// Exception is MDException.
type Exception struct {
	ExceptionCode        uint32
	ExceptionFlags       uint32
	ExceptionRecord      uint64
	ExceptionAddress     uint64
	NumberParameters     uint32
	Align                uint32
	ExceptionInformation [15]uint64
}

// ExceptionStreamRecord is MDRawExceptionStream.
type ExceptionStreamRecord struct {
	ThreadID        uint32
	Align           uint32
	ExceptionRecord Exception
	ThreadContext   Location
}

// ExceptionStreamSize is the encoded size of ExceptionStreamRecord.
const ExceptionStreamSize = 168

// Breakpad info validity bits.
const (
	BreakpadInfoDumpThreadIDValid       = 1 << 0
	BreakpadInfoRequestingThreadIDValid = 1 << 1
)

// BreakpadInfo is MDRawBreakpadInfo.
type BreakpadInfo struct {
	Validity           uint32
	DumpThreadID       uint32
	RequestingThreadID uint32
}

// ThreadName is MINIDUMP_THREAD_NAME. The name RVA is 64 bits wide and the
// record is packed to 4 bytes, so it encodes to 12 bytes.
type ThreadName struct {
	ThreadID      uint32
	ThreadNameRVA uint64
}

// ThreadNameSize is the encoded size of ThreadName.
const ThreadNameSize = 12
