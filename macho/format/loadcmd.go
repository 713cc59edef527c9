package format

import "fmt"

// LoadCmd is a Mach-O load command kind. Trimmed to the commands the
// analyzer/loader/fixup pipeline actually consumes; legacy and
// linker-internal commands (LC_PREBIND_CKSUM, LC_TWOLEVEL_HINTS, fvmlib,
// LC_SYMSEG, ...) are deliberately not carried forward — dyld's runtime
// fixup and loading logic never dispatches on them either.
type LoadCmd uint32

const LC_REQ_DYLD LoadCmd = 0x80000000

const (
	LC_SEGMENT                  LoadCmd = 0x1
	LC_SYMTAB                   LoadCmd = 0x2
	LC_THREAD                   LoadCmd = 0x4
	LC_UNIXTHREAD               LoadCmd = 0x5
	LC_DYSYMTAB                 LoadCmd = 0xb
	LC_LOAD_DYLIB               LoadCmd = 0xc
	LC_ID_DYLIB                 LoadCmd = 0xd
	LC_LOAD_DYLINKER            LoadCmd = 0xe
	LC_ID_DYLINKER              LoadCmd = 0xf
	LC_SUB_FRAMEWORK            LoadCmd = 0x12
	LC_LOAD_WEAK_DYLIB          LoadCmd = 0x18 | LC_REQ_DYLD
	LC_SEGMENT_64               LoadCmd = 0x19
	LC_UUID                     LoadCmd = 0x1b
	LC_RPATH                    LoadCmd = 0x1c | LC_REQ_DYLD
	LC_CODE_SIGNATURE           LoadCmd = 0x1d
	LC_SEGMENT_SPLIT_INFO       LoadCmd = 0x1e
	LC_REEXPORT_DYLIB           LoadCmd = 0x1f | LC_REQ_DYLD
	LC_LAZY_LOAD_DYLIB          LoadCmd = 0x20
	LC_DYLD_INFO                LoadCmd = 0x22
	LC_DYLD_INFO_ONLY           LoadCmd = 0x22 | LC_REQ_DYLD
	LC_LOAD_UPWARD_DYLIB        LoadCmd = 0x23 | LC_REQ_DYLD
	LC_FUNCTION_STARTS          LoadCmd = 0x26
	LC_MAIN                     LoadCmd = 0x28 | LC_REQ_DYLD
	LC_DATA_IN_CODE             LoadCmd = 0x29
	LC_SOURCE_VERSION           LoadCmd = 0x2a
	LC_BUILD_VERSION            LoadCmd = 0x32
	LC_DYLD_EXPORTS_TRIE        LoadCmd = 0x33 | LC_REQ_DYLD
	LC_DYLD_CHAINED_FIXUPS      LoadCmd = 0x34 | LC_REQ_DYLD
	LC_FILESET_ENTRY            LoadCmd = 0x35 | LC_REQ_DYLD
)

var loadCmdNames = map[LoadCmd]string{
	LC_SEGMENT:             "LC_SEGMENT",
	LC_SYMTAB:              "LC_SYMTAB",
	LC_THREAD:              "LC_THREAD",
	LC_UNIXTHREAD:          "LC_UNIXTHREAD",
	LC_DYSYMTAB:            "LC_DYSYMTAB",
	LC_LOAD_DYLIB:          "LC_LOAD_DYLIB",
	LC_ID_DYLIB:            "LC_ID_DYLIB",
	LC_LOAD_DYLINKER:       "LC_LOAD_DYLINKER",
	LC_ID_DYLINKER:         "LC_ID_DYLINKER",
	LC_SUB_FRAMEWORK:       "LC_SUB_FRAMEWORK",
	LC_LOAD_WEAK_DYLIB:     "LC_LOAD_WEAK_DYLIB",
	LC_SEGMENT_64:          "LC_SEGMENT_64",
	LC_UUID:                "LC_UUID",
	LC_RPATH:               "LC_RPATH",
	LC_CODE_SIGNATURE:      "LC_CODE_SIGNATURE",
	LC_SEGMENT_SPLIT_INFO:  "LC_SEGMENT_SPLIT_INFO",
	LC_REEXPORT_DYLIB:      "LC_REEXPORT_DYLIB",
	LC_LAZY_LOAD_DYLIB:     "LC_LAZY_LOAD_DYLIB",
	LC_DYLD_INFO:           "LC_DYLD_INFO",
	LC_DYLD_INFO_ONLY:      "LC_DYLD_INFO_ONLY",
	LC_LOAD_UPWARD_DYLIB:   "LC_LOAD_UPWARD_DYLIB",
	LC_FUNCTION_STARTS:     "LC_FUNCTION_STARTS",
	LC_MAIN:                "LC_MAIN",
	LC_DATA_IN_CODE:        "LC_DATA_IN_CODE",
	LC_SOURCE_VERSION:      "LC_SOURCE_VERSION",
	LC_BUILD_VERSION:       "LC_BUILD_VERSION",
	LC_DYLD_EXPORTS_TRIE:   "LC_DYLD_EXPORTS_TRIE",
	LC_DYLD_CHAINED_FIXUPS: "LC_DYLD_CHAINED_FIXUPS",
	LC_FILESET_ENTRY:       "LC_FILESET_ENTRY",
}

func (c LoadCmd) String() string {
	if n, ok := loadCmdNames[c]; ok {
		return n
	}
	return fmt.Sprintf("LoadCmd(0x%x)", uint32(c))
}

// IsDylibLoad reports whether c names one of the dylib-dependency load
// commands (regular, weak, upward, re-export, lazy).
func (c LoadCmd) IsDylibLoad() bool {
	switch c {
	case LC_LOAD_DYLIB, LC_LOAD_WEAK_DYLIB, LC_LOAD_UPWARD_DYLIB,
		LC_REEXPORT_DYLIB, LC_LAZY_LOAD_DYLIB:
		return true
	}
	return false
}

// LinkKind classifies a dylib-load command into the kind of dependency edge
// it creates in the loader's dependency graph (see loader.DependencyKind).
type LinkKind int

const (
	LinkRegular LinkKind = iota
	LinkWeak
	LinkUpward
	LinkReExport
	LinkLazy
)

func (c LoadCmd) LinkKind() LinkKind {
	switch c {
	case LC_LOAD_WEAK_DYLIB:
		return LinkWeak
	case LC_LOAD_UPWARD_DYLIB:
		return LinkUpward
	case LC_REEXPORT_DYLIB:
		return LinkReExport
	case LC_LAZY_LOAD_DYLIB:
		return LinkLazy
	}
	return LinkRegular
}
