package loader

import "fmt"

// SymbolKind discriminates a ResolvedSymbol, spec §3's "Resolved symbol"
// tri-state value.
type SymbolKind int

const (
	SymbolRebase SymbolKind = iota
	SymbolBindToImage
	SymbolBindAbsolute
)

// ResolvedSymbol is the outcome of resolving one bind site: either a plain
// rebase (self-relative, no symbol lookup needed), a bind to a symbol in
// some other image, or a bind to an absolute constant. Exactly one of the
// Kind-specific field groups below is meaningful, mirroring the tagged
// union spec §3 describes.
type ResolvedSymbol struct {
	Kind SymbolKind

	// SymbolBindToImage fields.
	TargetLoader           int // Arena index
	TargetSymbolName       string
	TargetRuntimeOffset    uint64
	IsCode                 bool
	IsWeakDef              bool
	IsMissingFlatLazy      bool
	IsFunctionVariant      bool
	VariantIndex           int

	// SymbolBindAbsolute field.
	AbsoluteValue uint64
}

func (r ResolvedSymbol) String() string {
	switch r.Kind {
	case SymbolRebase:
		return "rebase"
	case SymbolBindToImage:
		return fmt.Sprintf("bind(%s@loader#%d+%#x)", r.TargetSymbolName, r.TargetLoader, r.TargetRuntimeOffset)
	case SymbolBindAbsolute:
		return fmt.Sprintf("absolute(%#x)", r.AbsoluteValue)
	}
	return "unknown"
}

// NamespaceOrder determines how a symbol name is searched across a
// dependency graph: two-level namespace images resolve a bind's library
// ordinal directly to one dependent; flat-namespace images (or a bind
// using the "flat lookup" ordinal) search every loader reachable from the
// root in initializer order, first match wins.
type NamespaceOrder int

const (
	NamespaceTwoLevel NamespaceOrder = iota
	NamespaceFlat
)

// Resolver looks up exported symbols across an Arena's dependency graph.
type Resolver struct {
	Arena *Arena
	// ExportedSymbol, given a loader index and a symbol name, reports
	// whether that loader exports it and the runtime offset if so. This is
	// supplied by the caller (wired to macho/trie.Find against that
	// loader's Image.ExportsTrie in package fixup) rather than being a
	// method on Loader, since Loader itself carries no analyzer
	// dependency — keeping the dependency direction one-way
	// (analyzer -> loader, never the reverse).
	ExportedSymbol func(loaderIdx int, name string) (offset uint64, isWeakDef bool, ok bool)
}

// ResolveOrdinal resolves a two-level-namespace bind: libraryOrdinal
// indexes directly into fromLoader's Dependents (1-based, per the Mach-O
// bind-opcode convention; ordinal 0 is reserved and never valid here).
func (r *Resolver) ResolveOrdinal(fromLoader int, libraryOrdinal int, symbolName string) (ResolvedSymbol, error) {
	from := r.Arena.Get(fromLoader)
	if from == nil {
		return ResolvedSymbol{}, fmt.Errorf("no such loader %d", fromLoader)
	}
	if libraryOrdinal < 1 || libraryOrdinal > len(from.Dependents) {
		return ResolvedSymbol{}, fmt.Errorf("library ordinal %d out of range for loader %d (%d dependents)", libraryOrdinal, fromLoader, len(from.Dependents))
	}
	target := from.Dependents[libraryOrdinal-1].Target
	off, weak, ok := r.ExportedSymbol(target, symbolName)
	if !ok {
		return ResolvedSymbol{}, fmt.Errorf("symbol %q not exported by loader %d", symbolName, target)
	}
	return ResolvedSymbol{
		Kind:                SymbolBindToImage,
		TargetLoader:        target,
		TargetSymbolName:    symbolName,
		TargetRuntimeOffset: off,
		IsWeakDef:           weak,
	}, nil
}

// ResolveFlat searches every loader reachable from roots, in initializer
// order, for the first export of symbolName — the flat-namespace /
// "flat lookup" ordinal convention.
func (r *Resolver) ResolveFlat(roots []int, symbolName string) (ResolvedSymbol, bool) {
	for _, idx := range r.Arena.InitializerOrder(roots) {
		if off, weak, ok := r.ExportedSymbol(idx, symbolName); ok {
			return ResolvedSymbol{
				Kind:                SymbolBindToImage,
				TargetLoader:        idx,
				TargetSymbolName:    symbolName,
				TargetRuntimeOffset: off,
				IsWeakDef:           weak,
			}, true
		}
	}
	return ResolvedSymbol{}, false
}
