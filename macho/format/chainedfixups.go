package format

import "fmt"

// DyldChainedFixupsHeader is the dyld_chained_fixups_header on-disk struct
// that begins LC_DYLD_CHAINED_FIXUPS' __LINKEDIT payload.
type DyldChainedFixupsHeader struct {
	FixupsVersion uint32
	StartsOffset  uint32
	ImportsOffset uint32
	SymbolsOffset uint32
	ImportsCount  uint32
	ImportsFormat DCImportsFormat
	SymbolsFormat DCSymbolsFormat
}

// DyldChainedStartsInImage is the header of the per-segment starts table
// (dyld_chained_starts_in_image): a count followed by that many offsets,
// each either 0 (segment has no chains) or an offset to a
// DyldChainedStartsInSegment.
type DyldChainedStartsInImage struct {
	SegCount       uint32
	SegInfoOffset1 uint32 // first of SegCount uint32 offsets
}

// DCPtrKind is the pointer-format discriminant recorded in a segment's
// starts table (DYLD_CHAINED_PTR_*), selecting which bitfield layout every
// chain word in that segment uses.
type DCPtrKind uint16

const (
	DCPtrArm64E              DCPtrKind = 1
	DCPtr64                  DCPtrKind = 2
	DCPtr32                  DCPtrKind = 3
	DCPtr32Cache             DCPtrKind = 4
	DCPtr32Firmware          DCPtrKind = 5
	DCPtr64Offset            DCPtrKind = 6
	DCPtrArm64EOffset        DCPtrKind = 7 // aka arm64e kernel
	DCPtr64KernelCache       DCPtrKind = 8
	DCPtrArm64EUserland      DCPtrKind = 9
	DCPtrArm64EFirmware      DCPtrKind = 10
	DCPtrX86_64KernelCache   DCPtrKind = 11
	DCPtrArm64EUserland24    DCPtrKind = 12
)

func (k DCPtrKind) String() string {
	switch k {
	case DCPtrArm64E:
		return "arm64e"
	case DCPtr64:
		return "generic64"
	case DCPtr32:
		return "generic32"
	case DCPtr32Cache:
		return "32-cache"
	case DCPtr32Firmware:
		return "32-firmware"
	case DCPtr64Offset:
		return "64-offset"
	case DCPtrArm64EOffset:
		return "arm64e-offset/kernel"
	case DCPtr64KernelCache:
		return "64-kernel-cache"
	case DCPtrArm64EUserland:
		return "arm64e-userland"
	case DCPtrArm64EFirmware:
		return "arm64e-firmware"
	case DCPtrX86_64KernelCache:
		return "x86_64-kernel-cache"
	case DCPtrArm64EUserland24:
		return "arm64e-userland24"
	}
	return fmt.Sprintf("DCPtrKind(%d)", uint16(k))
}

// Is64Bit reports whether chain words for this pointer format are 8 bytes
// wide (as opposed to 4 for the 32-bit/cache/firmware formats).
func (k DCPtrKind) Is64Bit() bool {
	switch k {
	case DCPtr32, DCPtr32Cache, DCPtr32Firmware:
		return false
	}
	return true
}

// Sentinels for DyldChainedStartsInSegment.PageStart entries.
const (
	DCPtrStartNone  uint16 = 0xFFFF
	DCPtrStartMulti uint16 = 0x8000
	DCPtrStartLast  uint16 = 0x8000
)

// DyldChainedStartsInSegment is dyld_chained_starts_in_segment: per-page
// chain-start offsets for one segment, at the pointer format/page size this
// segment was built with.
type DyldChainedStartsInSegment struct {
	Size            uint32
	PageSize        uint16
	PointerFormat   DCPtrKind
	SegmentOffset   uint64
	MaxValidPointer uint32
	PageCount       uint16
	PageStart       []uint16 // PageCount entries, then overflow entries if START_MULTI
}

// DCImportsFormat selects the on-disk width of each imports-table entry.
type DCImportsFormat uint32

const (
	DCImportFormatImport        DCImportsFormat = 1
	DCImportFormatImportAddend  DCImportsFormat = 2
	DCImportFormatImportAddend64 DCImportsFormat = 3
)

// DCSymbolsFormat selects how the imports-table's name offsets are
// interpreted; 0 means "plain offsets into the uncompressed symbols blob"
// (no other format is defined as of this writing).
type DCSymbolsFormat uint32

// DyldChainedImport is the 4-byte entry used by DC_IMPORT.
type DyldChainedImport uint32

func (i DyldChainedImport) LibOrdinal() int8  { return int8(ExtractBits(uint64(i), 0, 8)) }
func (i DyldChainedImport) WeakImport() bool  { return ExtractBits(uint64(i), 8, 1) != 0 }
func (i DyldChainedImport) NameOffset() uint32 {
	return uint32(ExtractBits(uint64(i), 9, 23))
}

// DyldChainedImport64 is the 8-byte entry used by DC_IMPORT_ADDEND64.
type DyldChainedImport64 uint64

func (i DyldChainedImport64) LibOrdinal() int16 {
	return int16(ExtractBits(uint64(i), 0, 16))
}
func (i DyldChainedImport64) WeakImport() bool { return ExtractBits(uint64(i), 16, 1) != 0 }
func (i DyldChainedImport64) NameOffset() uint64 {
	return ExtractBits(uint64(i), 32, 32)
}

// DyldChainedImportAddend follows a DyldChainedImport entry when the format
// is DC_IMPORT_ADDEND.
type DyldChainedImportAddend struct {
	Addend int32
}

// DyldChainedImportAddend64 follows a DyldChainedImport64 entry when the
// format is DC_IMPORT_ADDEND64.
type DyldChainedImportAddend64 struct {
	Addend int64
}

// Bitfield-packed chain pointer words. Each is one chain slot's on-disk
// bits, decoded via ExtractBits at the bit offsets Apple's
// <mach-o/fixup-chains.h> defines. Go has no native bitfields, so these are
// kept as plain uint64/uint32 with accessor methods rather than struct tags.

type DyldChainedPtrArm64eRebase uint64

func (p DyldChainedPtrArm64eRebase) Target() uint64 { return ExtractBits(uint64(p), 0, 43) }
func (p DyldChainedPtrArm64eRebase) High8() uint64   { return ExtractBits(uint64(p), 43, 8) }
func (p DyldChainedPtrArm64eRebase) Next() uint64     { return ExtractBits(uint64(p), 51, 11) }
func (p DyldChainedPtrArm64eRebase) Bind() bool       { return ExtractBits(uint64(p), 62, 1) != 0 }

type DyldChainedPtrArm64eBind uint64

func (p DyldChainedPtrArm64eBind) Ordinal() uint64 { return ExtractBits(uint64(p), 0, 16) }
func (p DyldChainedPtrArm64eBind) Zero() uint64     { return ExtractBits(uint64(p), 16, 16) }
func (p DyldChainedPtrArm64eBind) Addend() int64 {
	v := ExtractBits(uint64(p), 32, 19)
	if v&(1<<18) != 0 {
		return int64(v) - (1 << 19)
	}
	return int64(v)
}
func (p DyldChainedPtrArm64eBind) Next() uint64 { return ExtractBits(uint64(p), 51, 11) }
func (p DyldChainedPtrArm64eBind) Bind() bool   { return ExtractBits(uint64(p), 62, 1) != 0 }

type DyldChainedPtrArm64eAuthRebase uint64

func (p DyldChainedPtrArm64eAuthRebase) Target() uint64 { return ExtractBits(uint64(p), 0, 32) }
func (p DyldChainedPtrArm64eAuthRebase) Diversity() uint16 {
	return uint16(ExtractBits(uint64(p), 32, 16))
}
func (p DyldChainedPtrArm64eAuthRebase) AddrDiv() bool {
	return ExtractBits(uint64(p), 48, 1) != 0
}
func (p DyldChainedPtrArm64eAuthRebase) Key() uint8 {
	return uint8(ExtractBits(uint64(p), 49, 2))
}
func (p DyldChainedPtrArm64eAuthRebase) Next() uint64 { return ExtractBits(uint64(p), 51, 11) }
func (p DyldChainedPtrArm64eAuthRebase) Auth() bool   { return ExtractBits(uint64(p), 63, 1) != 0 }

type DyldChainedPtrArm64eAuthBind uint64

func (p DyldChainedPtrArm64eAuthBind) Ordinal() uint64 { return ExtractBits(uint64(p), 0, 16) }
func (p DyldChainedPtrArm64eAuthBind) Zero() uint16 {
	return uint16(ExtractBits(uint64(p), 16, 16))
}
func (p DyldChainedPtrArm64eAuthBind) Diversity() uint16 {
	return uint16(ExtractBits(uint64(p), 32, 16))
}
func (p DyldChainedPtrArm64eAuthBind) AddrDiv() bool {
	return ExtractBits(uint64(p), 48, 1) != 0
}
func (p DyldChainedPtrArm64eAuthBind) Key() uint8 {
	return uint8(ExtractBits(uint64(p), 49, 2))
}
func (p DyldChainedPtrArm64eAuthBind) Next() uint64 { return ExtractBits(uint64(p), 51, 11) }
func (p DyldChainedPtrArm64eAuthBind) Auth() bool   { return ExtractBits(uint64(p), 63, 1) != 0 }

// DyldChainedPtr64Rebase is the generic64 rebase pointer format.
type DyldChainedPtr64Rebase uint64

func (p DyldChainedPtr64Rebase) Target() uint64 { return ExtractBits(uint64(p), 0, 36) }
func (p DyldChainedPtr64Rebase) High8() uint64   { return ExtractBits(uint64(p), 36, 8) }
func (p DyldChainedPtr64Rebase) Reserved() uint64 { return ExtractBits(uint64(p), 44, 7) }
func (p DyldChainedPtr64Rebase) Next() uint64      { return ExtractBits(uint64(p), 51, 12) }
func (p DyldChainedPtr64Rebase) Bind() bool        { return ExtractBits(uint64(p), 63, 1) != 0 }

// DyldChainedPtr64Bind is the generic64 bind pointer format.
type DyldChainedPtr64Bind uint64

func (p DyldChainedPtr64Bind) Ordinal() uint64 { return ExtractBits(uint64(p), 0, 24) }
func (p DyldChainedPtr64Bind) Addend() uint64   { return ExtractBits(uint64(p), 24, 8) }
func (p DyldChainedPtr64Bind) Reserved() uint64 { return ExtractBits(uint64(p), 32, 19) }
func (p DyldChainedPtr64Bind) Next() uint64     { return ExtractBits(uint64(p), 51, 12) }
func (p DyldChainedPtr64Bind) Bind() bool       { return ExtractBits(uint64(p), 63, 1) != 0 }

// DyldChainedPtr32Rebase is the generic32 rebase pointer format (4 bytes).
type DyldChainedPtr32Rebase uint32

func (p DyldChainedPtr32Rebase) Target() uint32 { return uint32(ExtractBits(uint64(p), 0, 26)) }
func (p DyldChainedPtr32Rebase) Next() uint32    { return uint32(ExtractBits(uint64(p), 26, 5)) }
func (p DyldChainedPtr32Rebase) Bind() bool      { return ExtractBits(uint64(p), 31, 1) != 0 }

// DyldChainedPtr32Bind is the generic32 bind pointer format (4 bytes).
type DyldChainedPtr32Bind uint32

func (p DyldChainedPtr32Bind) Ordinal() uint32 { return uint32(ExtractBits(uint64(p), 0, 20)) }
func (p DyldChainedPtr32Bind) Addend() uint32   { return uint32(ExtractBits(uint64(p), 20, 6)) }
func (p DyldChainedPtr32Bind) Next() uint32      { return uint32(ExtractBits(uint64(p), 26, 5)) }
func (p DyldChainedPtr32Bind) Bind() bool        { return ExtractBits(uint64(p), 31, 1) != 0 }

// KeyName maps a PMD authentication key (0-3) to its named ptrauth key
// (IA, IB, DA, DB), matching arm64e's ptrauth ABI.
func KeyName(key uint8) string {
	switch key & 0x3 {
	case 0:
		return "IA"
	case 1:
		return "IB"
	case 2:
		return "DA"
	case 3:
		return "DB"
	}
	return "?"
}
