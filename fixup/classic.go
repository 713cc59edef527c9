package fixup

import (
	"fmt"

	"github.com/blacktop/dyldcore/diag"
	"github.com/blacktop/dyldcore/macho/analyzer"
	"github.com/blacktop/dyldcore/macho/format"
)

// ApplyClassic computes fixup sites for generation C — the pre-opcode,
// pre-chained indirect-symbol-table fixups that predate LC_DYLD_INFO
// (spec §4.4's third fixup generation). ApplyImage dispatches here
// automatically for any image carrying a symbol table but neither
// ChainedFixups nor DyldInfo; exported separately so a caller can also
// invoke it directly against an image it already knows is classic.
func (e *Engine) ApplyClassic(idx int, d *diag.Diagnostics) ([]Site, error) {
	l := e.Arena.Get(idx)
	if l == nil || l.Image == nil {
		return nil, fmt.Errorf("loader %d has no mapped image", idx)
	}
	img := l.Image

	symbols, err := img.Symbols()
	if err != nil {
		return nil, fmt.Errorf("symbol table: %w", err)
	}
	indirect, err := img.IndirectSymbols()
	if err != nil {
		return nil, fmt.Errorf("indirect symbol table: %w", err)
	}

	var sites []Site
	img.ForEachSection(func(seg *analyzer.Segment, sec *format.Section) analyzer.ControlFlow {
		switch sec.Flags.Type() {
		case format.S_NON_LAZY_SYMBOL_POINTERS, format.S_LAZY_SYMBOL_POINTERS:
			e.applyClassicPointerSection(idx, sec, symbols, indirect, &sites, d)
		}
		return analyzer.Continue
	})
	return sites, nil
}

// A generation-C pointer slot is always a native word (4 bytes in a 32-bit
// image, 8 in a 64-bit one), since classic relocations predate arm64e's
// packed authenticated pointers — the format this generation targets is
// 32/64-bit Intel and 32-bit ARM.
func (e *Engine) applyClassicPointerSection(fromLoader int, sec *format.Section, symbols []analyzer.Symbol, indirect []uint32, sites *[]Site, d *diag.Diagnostics) {
	classicPointerSize := 8
	if !e.Arena.Get(fromLoader).Image.Header.Magic.Is64() {
		classicPointerSize = 4
	}
	count := int(sec.Size) / classicPointerSize
	start := int(sec.Reserved1)
	for i := 0; i < count; i++ {
		if start+i >= len(indirect) {
			break
		}
		symIdx := indirect[start+i]
		if symIdx&(analyzer.IndirectSymbolLocal|analyzer.IndirectSymbolAbs) != 0 {
			continue // rebase-only slot, no symbol to bind
		}
		if int(symIdx) >= len(symbols) {
			d.Error(diag.KindFixupOutOfRange, "", "indirect symbol index %d out of range", symIdx)
			continue
		}
		sym := symbols[symIdx]
		ordinal := sym.Nlist.LibraryOrdinal()
		switch ordinal {
		case format.MainExecutableOrdinal:
			ordinal = format.BindSpecialDylibMainExecutable
		case format.DynamicLookupOrdinal:
			ordinal = format.BindSpecialDylibFlatLookup
		}
		weak := sym.Nlist.IsWeakRef()
		offset := sec.Addr + uint64(i*classicPointerSize)

		resolved, err := e.resolveBind(fromLoader, ordinal, sym.Name, weak)
		if err != nil {
			d.Error(diag.KindSymbolNotFound, "", "classic bind (%s): %v", sym.Name, err)
			continue
		}
		*sites = append(*sites, siteFromResolved(SiteBind, offset, sym.Name, resolved))
	}
}
