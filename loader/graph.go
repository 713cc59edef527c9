package loader

import "github.com/blacktop/dyldcore/pathresolver"

// Arena owns every Loader in one process (or one dlopen closure) and is
// the sole thing that may dereference an Edge.Target index, matching
// design note §9's "arena + index edges instead of cyclic pointers."
type Arena struct {
	loaders []*Loader

	// VersionedLibraryOverrides / VersionedFrameworkOverrides cache the
	// result of BuildVersionedOverrides, consulted by LoadDependents for
	// every dependency resolved against this Arena.
	VersionedLibraryOverrides   []pathresolver.VersionedCandidate
	VersionedFrameworkOverrides []pathresolver.VersionedCandidate
}

// NewArena returns an empty Arena.
func NewArena() *Arena { return &Arena{} }

// Add inserts l, assigns it its Index, and returns that index.
func (a *Arena) Add(l *Loader) int {
	l.Index = len(a.loaders)
	a.loaders = append(a.loaders, l)
	return l.Index
}

// Get returns the Loader at idx, or nil if out of range.
func (a *Arena) Get(idx int) *Loader {
	if idx < 0 || idx >= len(a.loaders) {
		return nil
	}
	return a.loaders[idx]
}

// Len is the number of loaders the arena owns.
func (a *Arena) Len() int { return len(a.loaders) }

// ByPath returns the first loader whose Path matches, or nil.
func (a *Arena) ByPath(p string) *Loader {
	for _, l := range a.loaders {
		if l.Path == p {
			return l
		}
	}
	return nil
}

// AddDependency records that loader `from` depends on loader `to`, in
// LC_LOAD_DYLIB order, with the given link kind.
func (a *Arena) AddDependency(from, to int, kind DependencyKind, upward bool) {
	l := a.Get(from)
	if l == nil {
		return
	}
	l.Dependents = append(l.Dependents, Edge{Target: to, Kind: kind, Upward: upward})
}

// InitializerOrder computes the order in which every reachable loader's
// initializers must run, starting from roots: a post-order depth-first
// walk of the non-upward dependency graph, so a dependency always
// initializes before its dependent (spec §4.2's "breadth-first staged
// loading, bottom-up initializer order"). Upward edges are excluded from
// the walk itself (they exist for symbol visibility, not initialization
// order) but still participate normally if reached via a different,
// non-upward edge from somewhere else in the graph.
func (a *Arena) InitializerOrder(roots []int) []int {
	visited := make([]bool, len(a.loaders))
	var order []int
	var visit func(idx int)
	visit = func(idx int) {
		if idx < 0 || idx >= len(a.loaders) || visited[idx] {
			return
		}
		visited[idx] = true
		for _, e := range a.loaders[idx].Dependents {
			if e.Upward {
				continue
			}
			visit(e.Target)
		}
		order = append(order, idx)
	}
	for _, r := range roots {
		visit(r)
	}
	return order
}

// TerminatorOrder is the exact reverse of InitializerOrder: images tear
// down in the opposite order they were initialized in.
func (a *Arena) TerminatorOrder(roots []int) []int {
	init := a.InitializerOrder(roots)
	out := make([]int, len(init))
	for i, v := range init {
		out[len(init)-1-i] = v
	}
	return out
}
