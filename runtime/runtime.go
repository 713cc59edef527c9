// Package runtime ties procconfig, pathresolver, loader, fixup, and tlv
// together into the end-to-end launch sequence spec §2 describes: build
// the process configuration, breadth-first load the dependency graph,
// apply fixups image by image, set up thread-locals, then run
// initializers in dependency order. Grounded on
// original_source/dyld/JustInTimeLoader.cpp's beginInitializers/
// runInitializers/applyFixups state machine and design note §9's "single
// mutable State struct" guidance for the handful of pieces of truly
// global, load-order-sensitive state (the recursive dlopen lock, the weak
// coalescing map, the interpose table) that can't be pushed down into
// loader.Arena without reintroducing the cycles Arena exists to avoid.
package runtime

import (
	"fmt"
	"sync"

	"github.com/blacktop/dyldcore/diag"
	"github.com/blacktop/dyldcore/fixup"
	"github.com/blacktop/dyldcore/libsys"
	"github.com/blacktop/dyldcore/loader"
	"github.com/blacktop/dyldcore/macho/analyzer"
	"github.com/blacktop/dyldcore/macho/format"
	"github.com/blacktop/dyldcore/procconfig"
	"github.com/blacktop/dyldcore/tlv"
)

// State is the process-wide mutable state a launch or a later dlopen()
// shares — dyld's RuntimeState, trimmed to what this library actually
// drives end to end. A real dyld also owns notifier lists and objc's
// patched-class bookkeeping; those are out of scope here (see DESIGN.md).
type State struct {
	Config *procconfig.Config
	Arena  *loader.Arena
	Fixup  *fixup.Engine
	TLV    *tlv.System
	Helpers libsys.Helpers

	// DlopenMu serializes dependency-graph mutation: a real dyld recursion
	// locks around dlopen so a library's own static initializer can safely
	// dlopen another library without deadlocking itself.
	DlopenMu sync.Mutex

	opener Opener
}

// Opener resolves a path to a readable Mach-O slice; the same seam
// loader.Opener defines, re-declared here so callers can construct a
// runtime.State without importing loader directly for just this type.
type Opener = loader.Opener

// LaunchResult is everything Launch computed: the fully loaded and
// fixed-up dependency graph, the fixup sites ready for a caller to apply
// (e.g. cmd/dyldcore's `launch --dry-run`), and the initializer order a
// real process would run them in.
type LaunchResult struct {
	Arena              *loader.Arena
	MainExecutable     int
	Sites              map[int][]fixup.Site // loader index -> computed fixup sites
	InitializerOrder   []int
	Diagnostics        *diag.Diagnostics
}

// NewState builds a process-wide State ready to drive Launch. cache may
// be nil if no shared cache is modeled.
func NewState(proc *procconfig.Process, amfi procconfig.AmfiLevel, cache *procconfig.DyldCache, op Opener, helpers libsys.Helpers) *State {
	cfg := procconfig.New(proc, amfi, cache)
	arena := loader.NewArena()
	arena.BuildVersionedOverrides(op, cfg)
	return &State{
		Config:  cfg,
		Arena:   arena,
		Fixup:   fixup.NewEngine(arena),
		TLV:     tlv.NewSystem(),
		Helpers: helpers,
		opener:  op,
	}
}

// Launch runs spec §2's full control flow for a fresh process image:
// map the main executable, breadth-first load every transitive
// dependency (JustInTimeLoader::loadDependents, repeated per wave until
// no loader is left unresolved), compute fixups for every loader
// (applyFixups), set up each image's TLV thunks, and finally compute the
// bottom-up initializer order (runInitializers' traversal) without
// actually invoking any function pointer — this library inspects and
// plans, it does not execute the target process's code.
func (s *State) Launch(mainExecutablePath string) (*LaunchResult, error) {
	s.DlopenMu.Lock()
	defer s.DlopenMu.Unlock()

	d := &diag.Diagnostics{}

	mainLoader, mainDiag, err := loader.NewJustInTime(s.opener, mainExecutablePath)
	if err != nil {
		return nil, fmt.Errorf("loading main executable: %w", err)
	}
	d.Merge(mainDiag)
	mainLoader.IsMainExecutable = true
	mainLoader.NeverUnload = true
	mainIdx := s.Arena.Add(mainLoader)

	if err := s.loadGraphBreadthFirst(mainIdx, d); err != nil {
		return nil, err
	}

	for _, path := range s.Config.PathOverrides.InsertedDylibs {
		ins, insDiag, err := loader.NewJustInTime(s.opener, path)
		if err != nil {
			d.Error(diag.KindMissingDependency, path, "DYLD_INSERT_LIBRARIES: %v", err)
			continue
		}
		d.Merge(insDiag)
		ins.NeverUnload = true
		idx := s.Arena.Add(ins)
		if err := s.loadGraphBreadthFirst(idx, d); err != nil {
			return nil, err
		}
	}

	perImageInterpose := map[int]map[string]fixup.InterposeTarget{}
	for i := 0; i < s.Arena.Len(); i++ {
		l := s.Arena.Get(i)
		if l == nil || l.Image == nil {
			continue
		}
		table, err := fixup.ExtractInterposeTable(i, l.Image)
		if err != nil {
			d.Warn(l.Path, "reading __interpose: %v", err)
			continue
		}
		if len(table) > 0 {
			perImageInterpose[i] = table
		}
	}
	s.Fixup.BuildInterposeTable(perImageInterpose)

	sites := map[int][]fixup.Site{}
	for i := 0; i < s.Arena.Len(); i++ {
		l := s.Arena.Get(i)
		if l == nil || l.Image == nil {
			continue
		}
		imgSites, err := s.Fixup.ApplyImage(i, d)
		if err != nil {
			d.Error(diag.KindFixupOutOfRange, l.Path, "%v", err)
			continue
		}
		sites[i] = imgSites
		l.State = loader.StateFixedUp
		s.setUpTLV(i, l.Image)
	}

	roots := []int{mainIdx}
	order := s.Arena.InitializerOrder(roots)
	for _, idx := range order {
		if l := s.Arena.Get(idx); l != nil {
			l.State = loader.StateInitialized
		}
	}

	return &LaunchResult{
		Arena:            s.Arena,
		MainExecutable:   mainIdx,
		Sites:            sites,
		InitializerOrder: order,
		Diagnostics:      d,
	}, nil
}

// loadGraphBreadthFirst repeatedly calls loader.LoadDependents over every
// StateMapped loader reachable from root until a full pass adds nothing
// new — spec §4.2's "breadth-first staged loading": every loader reaches
// StateDependenciesResolved together before any of them moves on, rather
// than depth-first recursing the way a naive dependency walk would.
func (s *State) loadGraphBreadthFirst(root int, d *diag.Diagnostics) error {
	opts := loader.LoadOptions{Launching: true, StaticLinkage: true, RPathChain: nil}
	for {
		progressed := false
		for i := 0; i < s.Arena.Len(); i++ {
			l := s.Arena.Get(i)
			if l == nil || l.State != loader.StateMapped {
				continue
			}
			if err := loader.LoadDependents(s.Arena, s.opener, i, s.Config, nil, opts); err != nil {
				d.Error(diag.KindMissingDependency, l.Path, "%v", err)
				return err
			}
			l.State = loader.StateDependenciesResolved
			progressed = true
		}
		if !progressed {
			break
		}
	}
	_ = root
	return nil
}

// setUpTLV registers one image's coalesced __DATA,__thread_vars content
// with the shared tlv.System, the Go analogue of
// ThreadLocalVariables::setUpImage being called once per loaded image
// during fixups.
func (s *State) setUpTLV(loaderIdx int, img *analyzer.Image) {
	content, zeroFill, ok := threadVarsInitialContent(img)
	if !ok {
		return
	}
	s.TLV.SetUpImage(content, zeroFill)
}

// threadVarsInitialContent extracts the __DATA,__thread_vars section's
// backing bytes, if the image has one, along with whether it should be
// treated as zero-fill only (a __thread_bss-style section with no file
// content). Mirrors the image side of setUpImage, leaving thunk-slot
// rewriting itself to a caller that already knows the section's actual
// per-variable layout.
func threadVarsInitialContent(img *analyzer.Image) (content []byte, zeroFill bool, ok bool) {
	var data []byte
	var found bool
	img.ForEachSection(func(seg *analyzer.Segment, sec *format.Section) analyzer.ControlFlow {
		if sec.SegName != "__DATA" || sec.Name != "__thread_vars" {
			return analyzer.Continue
		}
		found = true
		if sec.Flags&format.SectionTypeMask == format.S_ZEROFILL {
			zeroFill = true
			data = make([]byte, sec.Size)
			return analyzer.Stop
		}
		buf, err := img.ReadAt(int64(sec.Offset), int(sec.Size))
		if err == nil {
			data = buf
		}
		return analyzer.Stop
	})
	return data, zeroFill, found
}
