package format

import "fmt"

// Version packs a major.minor.patch triple the way X.Y.Z load-command
// version fields are encoded: 16.8.8 bits, big-endian within the word.
type Version uint32

func (v Version) String() string {
	patch := v & 0xff
	minor := (v >> 8) & 0xff
	major := v >> 16
	if patch == 0 {
		return fmt.Sprintf("%d.%d", major, minor)
	}
	return fmt.Sprintf("%d.%d.%d", major, minor, patch)
}

// DylibCmd is the decoded form of LC_LOAD_DYLIB and its variants
// (LC_ID_DYLIB, LC_LOAD_WEAK_DYLIB, LC_REEXPORT_DYLIB, LC_LOAD_UPWARD_DYLIB,
// LC_LAZY_LOAD_DYLIB) — they share one on-disk shape, distinguished only by
// the load command kind itself.
type DylibCmd struct {
	Cmd            LoadCmd
	Name           string
	Timestamp      uint32
	CurrentVersion Version
	CompatVersion  Version
}

func (d DylibCmd) Kind() LinkKind { return d.Cmd.LinkKind() }

// RpathCmd is the decoded form of LC_RPATH.
type RpathCmd struct {
	Path string
}

// UUID is the decoded form of LC_UUID.
type UUID [16]byte

func (u UUID) String() string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", u[0:4], u[4:6], u[6:8], u[8:10], u[10:16])
}

func (u UUID) IsZero() bool { return u == UUID{} }

// EntryPointCmd is the decoded form of LC_MAIN: the entry point is a file
// offset into the __TEXT segment, plus the requested stack size (0 means
// default).
type EntryPointCmd struct {
	EntryOff  uint64
	StackSize uint64
}

// UnixThreadCmd is the decoded form of LC_UNIXTHREAD/LC_THREAD: a raw
// register-state blob plus, for architectures this package understands, the
// extracted entry-point value (the PC/IP register).
type UnixThreadCmd struct {
	Flavor     uint32
	EntryPoint uint64
}

// BuildVersionCmd is the decoded form of LC_BUILD_VERSION.
type BuildVersionCmd struct {
	Platform Platform
	MinOS    Version
	SDK      Version
}

// Platform is the target platform recorded in LC_BUILD_VERSION, used by
// procconfig to decide sim/cryptex/Catalyst path-resolution behavior.
type Platform uint32

const (
	PlatformUnknown            Platform = 0
	PlatformMacOS              Platform = 1
	PlatformIOS                Platform = 2
	PlatformTVOS               Platform = 3
	PlatformWatchOS            Platform = 4
	PlatformBridgeOS           Platform = 5
	PlatformMacCatalyst        Platform = 6
	PlatformIOSSimulator       Platform = 7
	PlatformTVOSSimulator      Platform = 8
	PlatformWatchOSSimulator   Platform = 9
	PlatformDriverKit          Platform = 10
)

func (p Platform) IsSimulator() bool {
	switch p {
	case PlatformIOSSimulator, PlatformTVOSSimulator, PlatformWatchOSSimulator:
		return true
	}
	return false
}

func (p Platform) String() string {
	switch p {
	case PlatformMacOS:
		return "macOS"
	case PlatformIOS:
		return "iOS"
	case PlatformTVOS:
		return "tvOS"
	case PlatformWatchOS:
		return "watchOS"
	case PlatformBridgeOS:
		return "bridgeOS"
	case PlatformMacCatalyst:
		return "macCatalyst"
	case PlatformIOSSimulator:
		return "iOSSimulator"
	case PlatformTVOSSimulator:
		return "tvOSSimulator"
	case PlatformWatchOSSimulator:
		return "watchOSSimulator"
	case PlatformDriverKit:
		return "driverKit"
	}
	return "unknown"
}

// SymtabCmd is the decoded form of LC_SYMTAB.
type SymtabCmd struct {
	SymOff  uint32
	NSyms   uint32
	StrOff  uint32
	StrSize uint32
}

// DysymtabCmd is the decoded form of LC_DYSYMTAB — only the fields the
// fixup engine's indirect-symbol-table walk and classic-relocation path
// need are kept.
type DysymtabCmd struct {
	ILocalSym      uint32
	NLocalSym      uint32
	IExtDefSym     uint32
	NExtDefSym     uint32
	IUndefSym      uint32
	NUndefSym      uint32
	IndirectSymOff uint32
	NIndirectSyms  uint32
}

// LinkeditDataCmd is the shared shape of LC_FUNCTION_STARTS,
// LC_DATA_IN_CODE, LC_DYLD_EXPORTS_TRIE, LC_DYLD_CHAINED_FIXUPS,
// LC_CODE_SIGNATURE and LC_SEGMENT_SPLIT_INFO: an offset/size pair into
// __LINKEDIT.
type LinkeditDataCmd struct {
	Cmd        LoadCmd
	DataOffset uint32
	DataSize   uint32
}

// Nlist64 is a symbol table entry (64-bit nlist).
type Nlist64 struct {
	StrOff uint32
	Type   uint8
	Sect   uint8
	Desc   uint16
	Value  uint64
}

const (
	N_STAB  = 0xe0
	N_PEXT  = 0x10
	N_TYPE  = 0x0e
	N_EXT   = 0x01
	N_UNDF  = 0x0
	N_ABS   = 0x2
	N_SECT  = 0xe
	N_PBUD  = 0xc
	N_INDR  = 0xa
)

// IsUndefined reports whether the symbol is an external reference to be
// resolved by binding (N_UNDF, external).
func (n Nlist64) IsUndefined() bool {
	return n.Type&N_TYPE == N_UNDF && n.Type&N_EXT != 0
}

// IsWeakDef reports the N_WEAK_DEF bit in the symbol's n_desc.
func (n Nlist64) IsWeakDef() bool { return n.Desc&0x0080 != 0 }

// IsWeakRef reports the N_WEAK_REF bit (the symbol may be missing, i.e. a
// weak import).
func (n Nlist64) IsWeakRef() bool { return n.Desc&0x0040 != 0 }

const SelfLibraryOrdinal = 0x0
const MainExecutableOrdinal = 0xff

// LibraryOrdinal extracts GET_LIBRARY_ORDINAL(n_desc): the high byte of
// n_desc, which classic (pre-opcode) undefined symbols use to record
// which LC_LOAD_DYLIB a symbol should bind against. The value is returned
// unsigned: the main executable and dynamic lookup are MainExecutableOrdinal
// and DynamicLookupOrdinal here, not the negative BindSpecialDylib* values
// opcode binds use.
func (n Nlist64) LibraryOrdinal() int { return int(n.Desc >> 8) }
const DynamicLookupOrdinal = 0xfe
const WeakLookupOrdinal = 0xfd

// LibOrdinal returns raw unchanged; it does not map the special ordinals
// (self, main executable, flat namespace, weak) onto other values.
func LibOrdinal(raw int) int {
	return raw
}
