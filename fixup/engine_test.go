package fixup

import (
	"bytes"
	"testing"

	"github.com/blacktop/dyldcore/loader"
	"github.com/blacktop/dyldcore/macho/analyzer"
	"github.com/blacktop/dyldcore/macho/format"
)

// exportSet lets a test supply a fixed table of (loader, symbol) -> offset
// without needing a real analyzer.Image and export trie.
type exportSet map[int]map[string]uint64

func (e exportSet) lookup(loaderIdx int, name string) (uint64, bool, bool) {
	if byName, ok := e[loaderIdx]; ok {
		if off, ok := byName[name]; ok {
			return off, false, true
		}
	}
	return 0, false, false
}

func newTestEngine(arena *loader.Arena, exports exportSet) *Engine {
	e := &Engine{Arena: arena, Interpose: map[string]InterposeTarget{}}
	e.Resolver = &loader.Resolver{Arena: arena, ExportedSymbol: exports.lookup}
	return e
}

func TestResolveBindWeakImportMissingResolvesAbsoluteZero(t *testing.T) {
	arena := loader.NewArena()
	main := arena.Add(&loader.Loader{Path: "/bin/prog"})
	dep := arena.Add(&loader.Loader{Path: "/usr/lib/libfoo.dylib"})
	arena.AddDependency(main, dep, format.LinkRegular, false)

	e := newTestEngine(arena, exportSet{}) // libfoo exports nothing

	rs, err := e.resolveBind(main, 1, "_missingWeakSymbol", true)
	if err != nil {
		t.Fatalf("resolveBind: %v", err)
	}
	if rs.Kind != loader.SymbolBindAbsolute || rs.AbsoluteValue != 0 {
		t.Fatalf("got %+v, want absolute(0)", rs)
	}
}

func TestResolveBindNonWeakMissingSymbolErrors(t *testing.T) {
	arena := loader.NewArena()
	main := arena.Add(&loader.Loader{Path: "/bin/prog"})
	dep := arena.Add(&loader.Loader{Path: "/usr/lib/libfoo.dylib"})
	arena.AddDependency(main, dep, format.LinkRegular, false)

	e := newTestEngine(arena, exportSet{})

	if _, err := e.resolveBind(main, 1, "_requiredSymbol", false); err == nil {
		t.Fatal("expected an error resolving a non-weak missing symbol")
	}
}

func TestResolveBindOrdinalBindsToDependent(t *testing.T) {
	arena := loader.NewArena()
	main := arena.Add(&loader.Loader{Path: "/bin/prog"})
	dep := arena.Add(&loader.Loader{Path: "/usr/lib/libfoo.dylib"})
	arena.AddDependency(main, dep, format.LinkRegular, false)

	e := newTestEngine(arena, exportSet{dep: {"_foo": 0x2000}})

	rs, err := e.resolveBind(main, 1, "_foo", false)
	if err != nil {
		t.Fatalf("resolveBind: %v", err)
	}
	if rs.Kind != loader.SymbolBindToImage || rs.TargetLoader != dep || rs.TargetRuntimeOffset != 0x2000 {
		t.Fatalf("got %+v, want bind to loader %d at 0x2000", rs, dep)
	}
}

func TestResolveBindFlatLookupSearchesAllLoaders(t *testing.T) {
	arena := loader.NewArena()
	main := arena.Add(&loader.Loader{Path: "/bin/prog"})
	dep := arena.Add(&loader.Loader{Path: "/usr/lib/libfoo.dylib"})
	arena.AddDependency(main, dep, format.LinkRegular, false)

	e := newTestEngine(arena, exportSet{dep: {"_bar": 0x3000}})

	rs, err := e.resolveBind(main, int(format.BindSpecialDylibFlatLookup), "_bar", false)
	if err != nil {
		t.Fatalf("resolveBind: %v", err)
	}
	if rs.TargetLoader != dep || rs.TargetRuntimeOffset != 0x3000 {
		t.Fatalf("got %+v, want bind to loader %d at 0x3000", rs, dep)
	}
}

func TestResolveBindInterposeOverridesOrdinaryBind(t *testing.T) {
	arena := loader.NewArena()
	main := arena.Add(&loader.Loader{Path: "/bin/prog"})
	dep := arena.Add(&loader.Loader{Path: "/usr/lib/libfoo.dylib"})
	insertedLib := arena.Add(&loader.Loader{Path: "/usr/lib/libinterpose.dylib"})
	arena.AddDependency(main, dep, format.LinkRegular, false)

	e := newTestEngine(arena, exportSet{dep: {"_malloc": 0x4000}})
	e.BuildInterposeTable(map[int]map[string]InterposeTarget{
		insertedLib: {"_malloc": {Loader: insertedLib, Offset: 0x9000}},
	})

	rs, err := e.resolveBind(main, 1, "_malloc", false)
	if err != nil {
		t.Fatalf("resolveBind: %v", err)
	}
	if rs.TargetLoader != insertedLib || rs.TargetRuntimeOffset != 0x9000 {
		t.Fatalf("got %+v, want interposed bind to loader %d at 0x9000", rs, insertedLib)
	}
}

func TestResolveBindWeakLookupCoalescesToStrongDefiner(t *testing.T) {
	arena := loader.NewArena()
	main := arena.Add(&loader.Loader{Path: "/bin/prog"})
	first := arena.Add(&loader.Loader{Path: "/usr/lib/libfirst.dylib"})
	strong := arena.Add(&loader.Loader{Path: "/usr/lib/libstrong.dylib"})

	e := newTestEngine(arena, exportSet{
		first:  {"_weakSym": 0x1000},
		strong: {"_weakSym": 0x2000},
	})
	e.WeakDefs = map[string]int{"_weakSym": strong}

	rs, err := e.resolveBind(main, int(format.BindSpecialDylibWeakLookup), "_weakSym", false)
	if err != nil {
		t.Fatalf("resolveBind: %v", err)
	}
	if rs.TargetLoader != strong || rs.TargetRuntimeOffset != 0x2000 {
		t.Fatalf("got %+v, want coalesced bind to loader %d at 0x2000", rs, strong)
	}
}

func TestResolveBindWeakLookupFallsBackToFlatScanWithoutStrongDefiner(t *testing.T) {
	arena := loader.NewArena()
	main := arena.Add(&loader.Loader{Path: "/bin/prog"})
	dep := arena.Add(&loader.Loader{Path: "/usr/lib/libfoo.dylib"})

	e := newTestEngine(arena, exportSet{dep: {"_weakSym": 0x1000}})

	rs, err := e.resolveBind(main, int(format.BindSpecialDylibWeakLookup), "_weakSym", false)
	if err != nil {
		t.Fatalf("resolveBind: %v", err)
	}
	if rs.TargetLoader != dep || rs.TargetRuntimeOffset != 0x1000 || !rs.IsWeakDef {
		t.Fatalf("got %+v, want flat-scan fallback to loader %d at 0x1000", rs, dep)
	}
}

// buildWeakDefImage assembles a minimal 64-bit Mach-O whose weak-bind
// stream marks one symbol BIND_SYMBOL_FLAGS_NON_WEAK_DEFINITION and never
// issues a DO_BIND for it, matching how a strong-definition marker can
// appear on its own in a real weak-bind stream.
func buildWeakDefImage(t *testing.T, symbol string) *analyzer.Image {
	t.Helper()
	bo := format.Magic64.ByteOrder()

	weakBind := []byte{byte(format.BindOpSetSymbolTrailingFlagsImm) | byte(format.BindSymbolFlagsNonWeakDefinition)}
	weakBind = append(weakBind, []byte(symbol)...)
	weakBind = append(weakBind, 0x00)
	weakBind = append(weakBind, byte(format.BindOpDone))

	const segCmdSize = 72
	const dyldInfoCmdSize = 48
	sizeCmds := uint32(segCmdSize + dyldInfoCmdSize)

	buf := make([]byte, 0x2100)
	bo.PutUint32(buf[0:], uint32(format.Magic64))
	bo.PutUint32(buf[4:], uint32(format.CPUArm64))
	bo.PutUint32(buf[8:], uint32(format.CPUSubtypeArm64All))
	bo.PutUint32(buf[12:], uint32(format.MH_DYLIB))
	bo.PutUint32(buf[16:], 2)
	bo.PutUint32(buf[20:], sizeCmds)

	seg := buf[32 : 32+segCmdSize]
	bo.PutUint32(seg[0:], uint32(format.LC_SEGMENT_64))
	bo.PutUint32(seg[4:], segCmdSize)
	copy(seg[8:24], "__TEXT")
	bo.PutUint64(seg[24:], 0x100000000)
	bo.PutUint64(seg[32:], 0x2000)
	bo.PutUint64(seg[40:], 0)
	bo.PutUint64(seg[48:], 0x2000)

	const weakBindOff = 0x2000
	copy(buf[weakBindOff:], weakBind)

	dyldInfo := buf[32+segCmdSize : 32+segCmdSize+dyldInfoCmdSize]
	bo.PutUint32(dyldInfo[0:], uint32(format.LC_DYLD_INFO_ONLY))
	bo.PutUint32(dyldInfo[4:], dyldInfoCmdSize)
	bo.PutUint32(dyldInfo[24:], weakBindOff)
	bo.PutUint32(dyldInfo[28:], uint32(len(weakBind)))

	img, d, err := analyzer.Open(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("analyzer.Open: %v", err)
	}
	if d.HasError() {
		t.Fatalf("analyzer.Open diagnostics: %v", d.Records())
	}
	return img
}

func TestBuildWeakDefTableRecordsNonWeakDefinitionFlag(t *testing.T) {
	img := buildWeakDefImage(t, "_strongSym")

	arena := loader.NewArena()
	idx := arena.Add(&loader.Loader{Path: "/usr/lib/libstrong.dylib", Image: img})

	e := newTestEngine(arena, exportSet{})
	if err := e.BuildWeakDefTable([]int{idx}); err != nil {
		t.Fatalf("BuildWeakDefTable: %v", err)
	}

	if got, ok := e.WeakDefs["_strongSym"]; !ok || got != idx {
		t.Fatalf("WeakDefs[_strongSym] = (%d, %v), want (%d, true)", got, ok, idx)
	}
}

func TestBuildInterposeTableSkipsSelfInterposition(t *testing.T) {
	arena := loader.NewArena()
	dep := arena.Add(&loader.Loader{Path: "/usr/lib/libfoo.dylib"})

	e := newTestEngine(arena, exportSet{})
	e.BuildInterposeTable(map[int]map[string]InterposeTarget{
		dep: {"_foo": {Loader: dep, Offset: 0x1000}},
	})

	if _, ok := e.Interpose["_foo"]; ok {
		t.Fatal("an image cannot interpose its own symbol")
	}
}
