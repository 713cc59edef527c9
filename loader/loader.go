// Package loader implements §4.2: the Loader abstraction dyld uses to
// represent one mapped image and its place in the dependency graph. Rather
// than the original's virtual-inheritance hierarchy (Loader base class with
// JustInTimeLoader/PrebuiltLoader/PremappedLoader subclasses), this package
// follows design note §9's "tagged discriminant struct" guidance: one
// concrete Loader type carrying a Kind field, with kind-specific data held
// in an embedded union-like struct.
package loader

import (
	"fmt"

	"github.com/blacktop/dyldcore/macho/analyzer"
	"github.com/blacktop/dyldcore/macho/format"
)

// Kind discriminates how a Loader came to exist, replacing the three
// concrete C++ subclasses named in spec §3's "Loader attributes" model.
type Kind int

const (
	// JustInTime loaders are built by parsing a Mach-O file at launch/dlopen
	// time: the common case for anything not found in the shared cache.
	JustInTime Kind = iota
	// Prebuilt loaders are reconstructed from a serialized closure (the
	// dyld shared cache's own prebuilt loader set, or an on-disk closure
	// cache) without re-parsing the Mach-O load commands.
	Prebuilt
	// Premapped loaders describe an image the kernel mapped before dyld
	// ran (the main executable, or images baked into a shared-cache-backed
	// launch) — no load-time mapping step is needed, only fixups.
	Premapped
)

func (k Kind) String() string {
	switch k {
	case JustInTime:
		return "JustInTime"
	case Prebuilt:
		return "Prebuilt"
	case Premapped:
		return "Premapped"
	}
	return "Unknown"
}

// State tracks a Loader's progress through dyld's load pipeline; each stage
// must complete for every image reachable before the next stage starts for
// any of them (spec §4.2's "breadth-first staged loading").
type State int

const (
	StateMapped State = iota
	StateDependenciesResolved
	StateFixedUp
	StateInitialized
)

func (s State) String() string {
	switch s {
	case StateMapped:
		return "mapped"
	case StateDependenciesResolved:
		return "dependencies-resolved"
	case StateFixedUp:
		return "fixed-up"
	case StateInitialized:
		return "initialized"
	}
	return "unknown"
}

// DependencyKind mirrors format.LinkKind but lives in the loader's own
// vocabulary since an edge also carries whether it was satisfied.
type DependencyKind = format.LinkKind

// Edge is a non-owning reference from one Loader to another by arena index
// — design note §9's "arena + index edges instead of cyclic pointers":
// dependency graphs in a real process are full of cycles (libSystem depends
// on libdyld which depends back on libSystem's glue), which Go's ownership
// model can't express as pointers without either leaking or requiring
// unsafe finalizer tricks. An index into the owning Arena's slice has none
// of that trouble and is trivially Copy.
type Edge struct {
	Target int // index into Arena.loaders
	Kind   DependencyKind
	// Upward marks a re-export-style "upward" link: B depends on A, but A
	// also upward-links back to B for symbol visibility only. Upward edges
	// are excluded from initializer-ordering DFS (spec §4.2) to avoid
	// cycles in that ordering, even though they remain real edges for
	// symbol resolution.
	Upward bool
}

// Loader is the single concrete representation of one mapped (or
// to-be-mapped) image, tagged by Kind. This is spec §3's "Loader
// attributes" struct: everything a dependency-graph node needs, without
// subclass-specific vtables.
type Loader struct {
	Index int // this loader's own index in its Arena
	Kind  Kind
	Path  string // the path it was found at, for diagnostics and re-resolution

	Image *analyzer.Image // nil until StateMapped's mapping step runs (JustInTime/Premapped); always non-nil once mapped

	State State

	Dependents []Edge // outgoing edges, in LC_LOAD_DYLIB order

	IsMainExecutable bool
	NeverUnload      bool // set for dylibs inserted via DYLD_INSERT_LIBRARIES or the main executable itself
	IsBundle         bool

	// LoadAddress is this image's final, slid virtual address base. Zero
	// until the mapping step assigns it.
	LoadAddress uint64
	Slide       int64
}

func (l *Loader) String() string {
	return fmt.Sprintf("%s{%s state=%d}", l.Kind, l.Path, l.State)
}

// LoadOptions controls how LoadDependents resolves and maps one dependency,
// the Go analogue of the original's LoadOptions struct (spec §4.2 /
// original_source/dyld/Loader.h).
type LoadOptions struct {
	// Launching is true only for the initial main-executable + its
	// transitive dependency set; later dlopen() calls set it false.
	Launching bool
	// StaticLinkage is true for dependencies discovered via LC_LOAD_DYLIB
	// (must succeed unless CanBeMissing); false for dlopen()'d images.
	StaticLinkage bool
	// CanBeMissing allows a weak dylib-load edge to resolve to "absent"
	// instead of failing the whole load.
	CanBeMissing bool
	// RPathChain is the chain of LC_RPATH entries inherited from every
	// loader on the path from the main executable to the requester, used
	// to expand an @rpath/ dependency path (spec §4.3).
	RPathChain []string
}
