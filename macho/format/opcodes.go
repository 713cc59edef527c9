package format

// Rebase and bind opcodes, encoded one nibble-opcode + one nibble-immediate
// per byte, as emitted into LC_DYLD_INFO[_ONLY]'s rebase/bind streams. See
// spec §4.1's rebase/bind state machines for the semantics of each opcode;
// this file only names the wire values.

type RebaseOpcode byte

const (
	RebaseOpcodeMask      RebaseOpcode = 0xf0
	RebaseImmediateMask   RebaseOpcode = 0x0f
	RebaseOpDone          RebaseOpcode = 0x00
	RebaseOpSetTypeImm    RebaseOpcode = 0x10
	RebaseOpSetSegOffULEB RebaseOpcode = 0x20
	RebaseOpAddAddrULEB   RebaseOpcode = 0x30
	RebaseOpAddAddrImmScaled RebaseOpcode = 0x40
	RebaseOpDoRebaseImmTimes RebaseOpcode = 0x50
	RebaseOpDoRebaseULEBTimes RebaseOpcode = 0x60
	RebaseOpDoRebaseAddAddrULEB RebaseOpcode = 0x70
	RebaseOpDoRebaseULEBTimesSkippingULEB RebaseOpcode = 0x80
)

type RebaseType byte

const (
	RebaseTypePointer      RebaseType = 1
	RebaseTypeTextAbsolute32 RebaseType = 2
	RebaseTypeTextPCRel32  RebaseType = 3
)

type BindOpcode byte

const (
	BindOpcodeMask                    BindOpcode = 0xf0
	BindImmediateMask                 BindOpcode = 0x0f
	BindOpDone                        BindOpcode = 0x00
	BindOpSetDylibOrdinalImm          BindOpcode = 0x10
	BindOpSetDylibOrdinalULEB         BindOpcode = 0x20
	BindOpSetDylibSpecialImm          BindOpcode = 0x30
	BindOpSetSymbolTrailingFlagsImm   BindOpcode = 0x40
	BindOpSetTypeImm                  BindOpcode = 0x50
	BindOpSetAddendSLEB               BindOpcode = 0x60
	BindOpSetSegOffULEB               BindOpcode = 0x70
	BindOpAddAddrULEB                 BindOpcode = 0x80
	BindOpDoBind                      BindOpcode = 0x90
	BindOpDoBindAddAddrULEB           BindOpcode = 0xa0
	BindOpDoBindAddAddrImmScaled      BindOpcode = 0xb0
	BindOpDoBindULEBTimesSkippingULEB BindOpcode = 0xc0
	BindOpThreaded                    BindOpcode = 0xd0
)

type BindSubopcodeThreaded byte

const (
	BindSubopThreadedSetBindOrdinalTableSizeULEB BindSubopcodeThreaded = 0x00
	BindSubopThreadedApply                       BindSubopcodeThreaded = 0x01
)

type BindType byte

const (
	BindTypePointer        BindType = 1
	BindTypeTextAbsolute32 BindType = 2
	BindTypeTextPCRel32    BindType = 3
)

// Special negative dylib ordinals encoded as SLEB in
// BIND_OPCODE_SET_DYLIB_SPECIAL_IMM / the opcode's signed immediate.
const (
	BindSpecialDylibSelf          = 0
	BindSpecialDylibMainExecutable = -1
	BindSpecialDylibFlatLookup     = -2
	BindSpecialDylibWeakLookup     = -3
)

const (
	BindSymbolFlagsWeakImport         = 0x1
	BindSymbolFlagsNonWeakDefinition = 0x8
)

// ExportFlag is the flags byte of a terminal node in the export trie.
type ExportFlag uint64

const (
	ExportSymbolFlagsKindMask        ExportFlag = 0x03
	ExportSymbolFlagsKindRegular     ExportFlag = 0x00
	ExportSymbolFlagsKindThreadLocal ExportFlag = 0x01
	ExportSymbolFlagsKindAbsolute    ExportFlag = 0x02
	ExportSymbolFlagsWeakDefinition  ExportFlag = 0x04
	ExportSymbolFlagsReexport        ExportFlag = 0x08
	ExportSymbolFlagsStubAndResolver ExportFlag = 0x10
)

func (f ExportFlag) Kind() ExportFlag { return f & ExportSymbolFlagsKindMask }
func (f ExportFlag) IsReexport() bool { return f&ExportSymbolFlagsReexport != 0 }
func (f ExportFlag) IsStubAndResolver() bool {
	return f&ExportSymbolFlagsStubAndResolver != 0
}
func (f ExportFlag) IsWeakDefinition() bool {
	return f&ExportSymbolFlagsWeakDefinition != 0
}
func (f ExportFlag) IsThreadLocal() bool {
	return f.Kind() == ExportSymbolFlagsKindThreadLocal
}
func (f ExportFlag) IsAbsolute() bool {
	return f.Kind() == ExportSymbolFlagsKindAbsolute
}
