package loader

import (
	"fmt"
	"io"

	"github.com/blacktop/dyldcore/diag"
	"github.com/blacktop/dyldcore/macho/analyzer"
	"github.com/blacktop/dyldcore/macho/format"
	"github.com/blacktop/dyldcore/pathresolver"
	"github.com/blacktop/dyldcore/procconfig"
)

// Opener resolves a candidate path to a readable Mach-O slice, or reports
// it doesn't exist. Kept as an interface so tests can substitute an
// in-memory filesystem instead of real files.
type Opener interface {
	Open(path string) (io.ReaderAt, bool, error)

	// ReadDir lists dir's entries by leaf name, the way
	// SyscallDelegate::forEachInDirectory does for
	// ProcessConfig::PathOverrides::processVersionedPaths. Returning an
	// error for a missing or unreadable directory is treated as "no
	// entries" by BuildVersionedOverrideCandidates.
	ReadDir(dir string) ([]string, error)
}

// NewJustInTime builds a Loader of Kind JustInTime by opening path and
// running analyzer.Open against it — spec §4.2 "Steps to load an image
// from disk" 1–2, stopping short of the VM-mapping step (step 3), which is
// a real address-space operation this library does not perform itself.
// Fat-slice selection, when path names a universal binary, is the caller's
// job via analyzer.ReadFatSlices/BestSlice before calling this.
func NewJustInTime(op Opener, path string) (*Loader, *diag.Diagnostics, error) {
	r, ok, err := op.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("no such file: %s", path)
	}
	img, d, err := analyzer.Open(r)
	if err != nil {
		return nil, d, err
	}
	l := &Loader{
		Kind:  JustInTime,
		Path:  path,
		Image: img,
		State: StateMapped,
	}
	return l, d, nil
}

// LoadDependents walks from's LC_LOAD_*_DYLIB commands in order, resolving
// each one via pathresolver + opener and attaching the resulting loader (or
// a null dependent for a missing weak link) as an Edge — spec §4.2's
// "Dependency load" algorithm. chain is the rpath chain accumulated from
// every loader between the main executable and `from`, exclusive of
// `from`'s own rpaths (which this call prepends).
func LoadDependents(arena *Arena, op Opener, from int, cfg *procconfig.Config, chain []string, opts LoadOptions) error {
	fromLoader := arena.Get(from)
	if fromLoader == nil {
		return fmt.Errorf("no such loader %d", from)
	}
	img := fromLoader.Image
	ownRpaths := append(append([]string{}, img.RPaths...), chain...)

	var loadErr error
	img.ForEachDependent(func(dy format.DylibCmd) analyzer.ControlFlow {
		linkKind := dy.Kind()
		upward := linkKind == format.LinkUpward
		weak := linkKind == format.LinkWeak

		if existing := arena.ByPath(dy.Name); existing != nil {
			arena.AddDependency(from, existing.Index, linkKind, upward)
			return analyzer.Continue
		}
		if id, ok := StatFileID(dy.Name); ok {
			if existing := arena.ByFileID(id); existing != nil {
				arena.AddDependency(from, existing.Index, linkKind, upward)
				return analyzer.Continue
			}
		}

		isFramework := isFrameworkInstallName(dy.Name)
		versioned := arena.VersionedLibraryOverrides
		if isFramework {
			versioned = arena.VersionedFrameworkOverrides
		}
		ctx := &pathresolver.Context{
			RequestingImagePath: fromLoader.Path,
			MainExecutablePath:  mainExecutablePath(arena),
			RPathChain:          ownRpaths,
			Overrides:           cfg.PathOverrides,
			IsFramework:         isFramework,
			VersionedOverrides:  versioned,
		}

		var resolvedPath string
		var resolvedReader io.ReaderAt
		pathresolver.ForEachPath(ctx, dy.Name, func(c pathresolver.Candidate) bool {
			r, ok, err := op.Open(c.Path)
			if err == nil && ok {
				resolvedPath, resolvedReader = c.Path, r
				return false
			}
			return true
		})

		if resolvedReader != nil {
			if id, ok := StatFileID(resolvedPath); ok {
				if existing := arena.ByFileID(id); existing != nil {
					arena.AddDependency(from, existing.Index, linkKind, upward)
					return analyzer.Continue
				}
			}
		}

		if resolvedReader == nil {
			if weak || opts.CanBeMissing {
				arena.AddDependency(from, -1, linkKind, upward)
				return analyzer.Continue
			}
			loadErr = fmt.Errorf("Library not loaded: %s (required by %s)", dy.Name, fromLoader.Path)
			return analyzer.Stop
		}

		depImg, _, err := analyzer.Open(resolvedReader)
		if err != nil {
			if weak || opts.CanBeMissing {
				arena.AddDependency(from, -1, linkKind, upward)
				return analyzer.Continue
			}
			loadErr = fmt.Errorf("parsing %s: %w", resolvedPath, err)
			return analyzer.Stop
		}
		dep := &Loader{Kind: JustInTime, Path: resolvedPath, Image: depImg, State: StateMapped}
		idx := arena.Add(dep)
		arena.AddDependency(from, idx, linkKind, upward)
		return analyzer.Continue
	})
	return loadErr
}

func mainExecutablePath(arena *Arena) string {
	for _, l := range arena.loaders {
		if l.IsMainExecutable {
			return l.Path
		}
	}
	if arena.Len() > 0 {
		return arena.Get(0).Path
	}
	return ""
}

func isFrameworkInstallName(name string) bool {
	for i := 0; i+10 <= len(name); i++ {
		if name[i:i+10] == ".framework" {
			return true
		}
	}
	return false
}
