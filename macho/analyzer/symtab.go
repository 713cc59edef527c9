package analyzer

import (
	"fmt"

	"github.com/blacktop/dyldcore/macho/format"
)

// Symbol is a decoded nlist64 entry plus its resolved name, the shape the
// fixup engine and loader's symbol resolver consume — the raw string-table
// offset is not interesting past this point.
type Symbol struct {
	Name  string
	Nlist format.Nlist64
}

// Symbols decodes the full LC_SYMTAB symbol table. Images without a symbol
// table (rare, but dyld caches sometimes carry pre-stripped entries) return
// an empty slice rather than an error.
func (img *Image) Symbols() ([]Symbol, error) {
	if img.Symtab == nil || img.Symtab.NSyms == 0 {
		return nil, nil
	}
	const nlistSize = 16
	raw, err := img.ReadAt(int64(img.Symtab.SymOff), int(img.Symtab.NSyms)*nlistSize)
	if err != nil {
		return nil, fmt.Errorf("reading symbol table: %w", err)
	}
	strtab, err := img.ReadAt(int64(img.Symtab.StrOff), int(img.Symtab.StrSize))
	if err != nil {
		return nil, fmt.Errorf("reading string table: %w", err)
	}
	bo := img.ByteOrder
	out := make([]Symbol, img.Symtab.NSyms)
	for i := uint32(0); i < img.Symtab.NSyms; i++ {
		b := raw[i*nlistSize:]
		n := format.Nlist64{
			StrOff: bo.Uint32(b[0:]),
			Type:   b[4],
			Sect:   b[5],
			Desc:   bo.Uint16(b[6:]),
			Value:  bo.Uint64(b[8:]),
		}
		name := ""
		if int(n.StrOff) < len(strtab) {
			name = cstring(strtab[n.StrOff:])
		}
		out[i] = Symbol{Name: name, Nlist: n}
	}
	return out, nil
}

// IndirectSymbols decodes LC_DYSYMTAB's indirect symbol table: one 32-bit
// symbol-table index per stub/pointer slot in a S_*_SYMBOL_POINTERS or
// S_SYMBOL_STUBS section, used by the classic-relocation fixup path for
// binaries that predate opcode/chained fixups.
func (img *Image) IndirectSymbols() ([]uint32, error) {
	if img.Dysymtab == nil || img.Dysymtab.NIndirectSyms == 0 {
		return nil, nil
	}
	raw, err := img.ReadAt(int64(img.Dysymtab.IndirectSymOff), int(img.Dysymtab.NIndirectSyms)*4)
	if err != nil {
		return nil, fmt.Errorf("reading indirect symbol table: %w", err)
	}
	bo := img.ByteOrder
	out := make([]uint32, img.Dysymtab.NIndirectSyms)
	for i := range out {
		out[i] = bo.Uint32(raw[i*4:])
	}
	return out, nil
}

const (
	IndirectSymbolLocal  = 0x80000000
	IndirectSymbolAbs    = 0x40000000
)
