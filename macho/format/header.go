// Package format defines the on-disk Mach-O wire format: the file header,
// cpu types, load command kinds, segment/section flags and the chained
// fixups pointer formats. It holds constants and byte layouts only — no
// parsing logic lives here, that's macho/analyzer's job.
package format

import (
	"encoding/binary"
	"fmt"
)

// FileHeader is the 28 (32-bit) or 32 (64-bit) byte Mach-O header.
type FileHeader struct {
	Magic        Magic
	CPU          CPU
	SubCPU       CPUSubtype
	Type         FileType
	NCommands    uint32
	SizeCommands uint32
	Flags        HeaderFlag
	Reserved     uint32
}

const (
	FileHeaderSize32 = 7 * 4
	FileHeaderSize64 = 8 * 4
)

// Magic identifies the byte order and bitness of a Mach-O slice, or marks a
// fat (universal) binary whose real slices are found via the fat header.
type Magic uint32

const (
	Magic32  Magic = 0xfeedface
	Magic64  Magic = 0xfeedfacf
	MagicFat Magic = 0xcafebabe
)

func (m Magic) ByteOrder() binary.ByteOrder {
	switch m {
	case Magic32, Magic64, MagicFat:
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Is64 reports whether the magic designates a 64-bit image.
func (m Magic) Is64() bool { return m == Magic64 }

func (m Magic) String() string {
	switch m {
	case Magic32:
		return "32-bit MachO"
	case Magic64:
		return "64-bit MachO"
	case MagicFat:
		return "Fat MachO"
	}
	return fmt.Sprintf("unknown magic 0x%x", uint32(m))
}

// FatHeader precedes a list of FatArch entries for a universal binary.
type FatHeader struct {
	Magic Magic
	NArch uint32
}

// FatArch describes one architecture slice inside a fat binary.
type FatArch struct {
	CPU      CPU
	SubCPU   CPUSubtype
	Offset   uint32
	Size     uint32
	Align    uint32
}

// FileType is the Mach-O file type (MH_EXECUTE, MH_DYLIB, ...).
type FileType uint32

const (
	MH_OBJECT      FileType = 0x1
	MH_EXECUTE     FileType = 0x2
	MH_FVMLIB      FileType = 0x3
	MH_CORE        FileType = 0x4
	MH_PRELOAD     FileType = 0x5
	MH_DYLIB       FileType = 0x6
	MH_DYLINKER    FileType = 0x7
	MH_BUNDLE      FileType = 0x8
	MH_DYLIB_STUB  FileType = 0x9
	MH_DSYM        FileType = 0xa
	MH_KEXT_BUNDLE FileType = 0xb
	MH_FILESET     FileType = 0xc
)

func (t FileType) String() string {
	switch t {
	case MH_OBJECT:
		return "OBJECT"
	case MH_EXECUTE:
		return "EXECUTE"
	case MH_FVMLIB:
		return "FVMLIB"
	case MH_CORE:
		return "CORE"
	case MH_PRELOAD:
		return "PRELOAD"
	case MH_DYLIB:
		return "DYLIB"
	case MH_DYLINKER:
		return "DYLINKER"
	case MH_BUNDLE:
		return "BUNDLE"
	case MH_DYLIB_STUB:
		return "DYLIB_STUB"
	case MH_DSYM:
		return "DSYM"
	case MH_KEXT_BUNDLE:
		return "KEXT_BUNDLE"
	case MH_FILESET:
		return "FILESET"
	}
	return fmt.Sprintf("FileType(0x%x)", uint32(t))
}

// HeaderFlag is the Mach-O header's bitfield of MH_* flags.
type HeaderFlag uint32

const (
	NoUndefs              HeaderFlag = 0x1
	IncrLink              HeaderFlag = 0x2
	DyldLink              HeaderFlag = 0x4
	BindAtLoad            HeaderFlag = 0x8
	Prebound              HeaderFlag = 0x10
	SplitSegs             HeaderFlag = 0x20
	TwoLevel              HeaderFlag = 0x80
	ForceFlat             HeaderFlag = 0x100
	NoMultiDefs           HeaderFlag = 0x200
	AllModsBound          HeaderFlag = 0x1000
	SubsectionsViaSymbols HeaderFlag = 0x2000
	WeakDefines           HeaderFlag = 0x8000
	BindsToWeak           HeaderFlag = 0x10000
	PIE                   HeaderFlag = 0x200000
	HasTLVDescriptors     HeaderFlag = 0x800000
	AppExtensionSafe      HeaderFlag = 0x2000000
	DylibInCache          HeaderFlag = 0x80000000
)

func (f HeaderFlag) Has(bit HeaderFlag) bool { return f&bit != 0 }
