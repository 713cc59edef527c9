// Package fixup implements §4.4: the engine that drives macho/analyzer's
// rebase/bind/chained-fixup decoders against a loader.Arena's dependency
// graph to compute each fixup site's final runtime value. This module
// never itself owns writable process memory (it is a library, not dyld
// running as PID 1's loader), so ApplyImage returns the computed Site list
// rather than mutating mapped bytes in place — the "Launch returns a
// descriptor rather than calling the entry point" scoping decision
// recorded in DESIGN.md.
package fixup

import (
	"fmt"

	"github.com/blacktop/dyldcore/diag"
	"github.com/blacktop/dyldcore/loader"
	"github.com/blacktop/dyldcore/macho/analyzer"
	"github.com/blacktop/dyldcore/macho/format"
	"github.com/blacktop/dyldcore/macho/trie"
)

// SiteKind classifies a computed fixup site by which of the three
// generations of metadata produced it (spec §4.4 A/B).
type SiteKind int

const (
	SiteRebase SiteKind = iota
	SiteBind
	SiteChainedRebase
	SiteChainedBind
)

// Site is one patched location's final value, expressed as a runtime
// offset from the owning image's load address rather than an absolute
// address, since no real load address exists without an actual mmap.
type Site struct {
	Kind   SiteKind
	Offset uint64 // runtime offset within the image
	Value  uint64 // resolved target: slid self-address for rebases, target address for binds
	Symbol string // non-empty for bind sites
}

// InterposeTarget is one entry of the global interpose table (spec §4.4).
type InterposeTarget struct {
	Loader int
	Offset uint64
}

// Engine ties an Arena's dependency graph to the export-trie decoder so
// resolve_symbol (spec §4.2) can be driven for every loader in the graph.
type Engine struct {
	Arena     *loader.Arena
	Resolver  *loader.Resolver
	Interpose map[string]InterposeTarget

	// WeakDefs maps a coalesced symbol name to the loader that published it
	// as a strong ("non-weak") definition via BuildWeakDefTable. A weak bind
	// resolved through BindSpecialDylibWeakLookup consults this before
	// falling back to a flat-namespace scan, so that once one image in the
	// graph supplies the strong definition every other image's weak
	// reference coalesces to it rather than to whichever loader a plain
	// linear search happens to reach first.
	WeakDefs map[string]int
}

// NewEngine builds an Engine whose Resolver.ExportedSymbol walks each
// loader's export trie via macho/trie.Find, keeping package loader itself
// free of any macho/analyzer or macho/trie import (see DESIGN.md: the
// analyzer -> loader dependency direction must stay one-way).
func NewEngine(arena *loader.Arena) *Engine {
	e := &Engine{Arena: arena, Interpose: map[string]InterposeTarget{}, WeakDefs: map[string]int{}}
	e.Resolver = &loader.Resolver{
		Arena: arena,
		ExportedSymbol: func(idx int, name string) (uint64, bool, bool) {
			l := arena.Get(idx)
			if l == nil || l.Image == nil || l.Image.ExportsTrie == nil {
				return 0, false, false
			}
			data, err := l.Image.LinkeditBytes(l.Image.ExportsTrie)
			if err != nil {
				return 0, false, false
			}
			entry, found, err := trie.Find(data, name)
			if err != nil || !found {
				return 0, false, false
			}
			return entry.Address, entry.Flags.IsWeakDefinition(), true
		},
	}
	return e
}

// BuildInterposeTable records, for every (loaderIdx, symbol -> target) entry
// the caller has already extracted from each image's __interpose section,
// the global replacement to use — spec §4.4's "built from any image's
// __interpose section prior to fixups" rule. A per-image interpose cannot
// interpose itself, so self-entries are skipped.
func (e *Engine) BuildInterposeTable(perImage map[int]map[string]InterposeTarget) {
	for loaderIdx, byName := range perImage {
		for symbol, target := range byName {
			if target.Loader == loaderIdx {
				continue
			}
			e.Interpose[symbol] = target
		}
	}
}

// BuildWeakDefTable scans every loader's weak-bind opcode stream for
// BIND_SYMBOL_FLAGS_NON_WEAK_DEFINITION markers and records the first loader
// to publish each symbol, so resolveBind's weak lookup can coalesce to it.
// Must run before ApplyImage is called for any loader whose weak binds
// should see the coalesced result, mirroring BuildInterposeTable's
// build-before-apply contract.
func (e *Engine) BuildWeakDefTable(indices []int) error {
	if e.WeakDefs == nil {
		e.WeakDefs = map[string]int{}
	}
	for _, idx := range indices {
		l := e.Arena.Get(idx)
		if l == nil || l.Image == nil || l.Image.DyldInfo == nil {
			continue
		}
		err := l.Image.ForEachBind(
			func(analyzer.BindRecord) analyzer.ControlFlow { return analyzer.Continue },
			func(symbol string) {
				if _, ok := e.WeakDefs[symbol]; !ok {
					e.WeakDefs[symbol] = idx
				}
			},
		)
		if err != nil {
			return fmt.Errorf("loader %d: %w", idx, err)
		}
	}
	return nil
}

// ApplyImage computes every fixup site for the loader at idx, dispatching
// to opcode-based (LC_DYLD_INFO) or chained (LC_DYLD_CHAINED_FIXUPS)
// decoding depending on which the image carries — spec §4.4's application
// policy. Classic relocations (generation C) are handled by ApplyClassic.
func (e *Engine) ApplyImage(idx int, d *diag.Diagnostics) ([]Site, error) {
	l := e.Arena.Get(idx)
	if l == nil || l.Image == nil {
		return nil, fmt.Errorf("loader %d has no mapped image", idx)
	}
	img := l.Image

	if img.ChainedFixups != nil {
		return e.applyChained(idx, img, d)
	}
	if img.DyldInfo != nil {
		return e.applyOpcodes(idx, img, d)
	}
	if img.Symtab != nil {
		return e.ApplyClassic(idx, d)
	}
	return nil, nil
}

func (e *Engine) applyOpcodes(idx int, img *analyzer.Image, d *diag.Diagnostics) ([]Site, error) {
	l := e.Arena.Get(idx)
	var slide int64
	if l != nil {
		slide = l.Slide
	}

	var sites []Site
	if err := img.ForEachRebase(func(r analyzer.RebaseRecord) analyzer.ControlFlow {
		value, rerr := readSlidPointer(img, r.Address, slide)
		if rerr != nil {
			d.Error(diag.KindFixupOutOfRange, "", "rebase at %#x: %v", r.Address, rerr)
			return analyzer.Continue
		}
		sites = append(sites, Site{Kind: SiteRebase, Offset: r.Address, Value: value})
		return analyzer.Continue
	}); err != nil {
		d.Error(diag.KindFixupOutOfRange, "", "rebase stream: %v", err)
	}

	n := 0
	if err := img.ForEachBind(func(b analyzer.BindRecord) analyzer.ControlFlow {
		resolved, rerr := e.resolveBind(idx, b.LibOrdinal, b.Symbol, b.WeakImport)
		if rerr != nil {
			d.Error(diag.KindSymbolNotFound, "", "bind #%d (%s): %v", n, b.Symbol, rerr)
			n++
			return analyzer.Continue
		}
		sites = append(sites, siteFromResolved(SiteBind, b.Address, b.Symbol, resolved))
		n++
		return analyzer.Continue
	}, nil); err != nil {
		d.Error(diag.KindFixupOutOfRange, "", "bind stream: %v", err)
	}
	return sites, nil
}

func (e *Engine) applyChained(idx int, img *analyzer.Image, d *diag.Diagnostics) ([]Site, error) {
	var sites []Site
	err := img.ForEachChainedTarget(func(t analyzer.ChainedTarget) analyzer.ControlFlow {
		if t.IsBind {
			resolved, rerr := e.resolveBind(idx, t.LibOrdinal, t.Symbol, t.WeakImport)
			if rerr != nil {
				d.Error(diag.KindSymbolNotFound, "", "chained bind (%s): %v", t.Symbol, rerr)
				return analyzer.Continue
			}
			sites = append(sites, siteFromResolved(SiteChainedBind, t.Address, t.Symbol, resolved))
		} else {
			sites = append(sites, Site{Kind: SiteChainedRebase, Offset: t.Address, Value: t.RebaseTarget})
		}
		return analyzer.Continue
	})
	if err != nil {
		d.Error(diag.KindFixupOutOfRange, "", "chained fixups: %v", err)
	}
	return sites, nil
}

func (e *Engine) resolveBind(fromLoader int, ordinal int, symbol string, weakImport bool) (loader.ResolvedSymbol, error) {
	if target, ok := e.Interpose[symbol]; ok && target.Loader != fromLoader {
		return loader.ResolvedSymbol{
			Kind:                loader.SymbolBindToImage,
			TargetLoader:        target.Loader,
			TargetSymbolName:    symbol,
			TargetRuntimeOffset: target.Offset,
		}, nil
	}

	switch ordinal {
	case int(format.BindSpecialDylibWeakLookup):
		if strongLoader, ok := e.WeakDefs[symbol]; ok {
			if off, weak, ok := e.Resolver.ExportedSymbol(strongLoader, symbol); ok {
				return loader.ResolvedSymbol{
					Kind:                loader.SymbolBindToImage,
					TargetLoader:        strongLoader,
					TargetSymbolName:    symbol,
					TargetRuntimeOffset: off,
					IsWeakDef:           weak,
				}, nil
			}
		}
		if rs, ok := e.Resolver.ResolveFlat(e.allLoaders(), symbol); ok {
			rs.IsWeakDef = true
			return rs, nil
		}
		if weakImport {
			return loader.ResolvedSymbol{Kind: loader.SymbolBindAbsolute}, nil
		}
		return loader.ResolvedSymbol{}, fmt.Errorf("lookup failed for %q", symbol)
	case int(format.BindSpecialDylibFlatLookup):
		if rs, ok := e.Resolver.ResolveFlat(e.allLoaders(), symbol); ok {
			return rs, nil
		}
		if weakImport {
			return loader.ResolvedSymbol{Kind: loader.SymbolBindAbsolute}, nil
		}
		return loader.ResolvedSymbol{}, fmt.Errorf("lookup failed for %q", symbol)
	case int(format.BindSpecialDylibSelf):
		if off, weak, ok := e.Resolver.ExportedSymbol(fromLoader, symbol); ok {
			return loader.ResolvedSymbol{Kind: loader.SymbolBindToImage, TargetLoader: fromLoader, TargetSymbolName: symbol, TargetRuntimeOffset: off, IsWeakDef: weak}, nil
		}
		return loader.ResolvedSymbol{}, fmt.Errorf("self-bind failed for %q", symbol)
	}

	rs, err := e.Resolver.ResolveOrdinal(fromLoader, ordinal, symbol)
	if err != nil {
		if weakImport {
			return loader.ResolvedSymbol{Kind: loader.SymbolBindAbsolute}, nil
		}
		return loader.ResolvedSymbol{}, err
	}
	return rs, nil
}

// readSlidPointer reads the pointer-sized value already on disk at addr (a
// rebase location's pre-fixup vmaddr) and adds the image's load slide,
// producing the value dyld would store there once mapped — spec §4.4.A's
// "read the current value, add the image slide for rebases".
func readSlidPointer(img *analyzer.Image, addr uint64, slide int64) (uint64, error) {
	off, ok := img.FileOffsetForAddr(addr)
	if !ok {
		return 0, fmt.Errorf("no segment contains address %#x", addr)
	}
	size := 8
	if !img.Header.Magic.Is64() {
		size = 4
	}
	buf, err := img.ReadAt(int64(off), size)
	if err != nil {
		return 0, err
	}
	var onDisk uint64
	if size == 8 {
		onDisk = img.ByteOrder.Uint64(buf)
	} else {
		onDisk = uint64(img.ByteOrder.Uint32(buf))
	}
	return uint64(int64(onDisk) + slide), nil
}

func (e *Engine) allLoaders() []int {
	roots := make([]int, e.Arena.Len())
	for i := range roots {
		roots[i] = i
	}
	return roots
}

func siteFromResolved(kind SiteKind, offset uint64, symbol string, rs loader.ResolvedSymbol) Site {
	if rs.Kind == loader.SymbolBindAbsolute {
		return Site{Kind: kind, Offset: offset, Value: rs.AbsoluteValue, Symbol: symbol}
	}
	return Site{Kind: kind, Offset: offset, Value: rs.TargetRuntimeOffset, Symbol: symbol}
}
