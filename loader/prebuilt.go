package loader

import (
	"fmt"

	"github.com/blacktop/dyldcore/macho/analyzer"
	"github.com/blacktop/dyldcore/macho/format"
)

// ClosureDependency is one entry of a serialized launch closure's
// dependency list — spec's "array of references to dependent loaders
// with per-edge attributes" captured ahead of time instead of being
// recomputed by walking LC_LOAD_DYLIB at load time.
type ClosureDependency struct {
	Path  string
	Kind  format.LinkKind
	Upward bool
}

// Closure is a precomputed launch plan for one image: everything
// NewJustInTime + LoadDependents would otherwise derive by parsing load
// commands, plus the file-identity fields the spec requires re-validating
// before trusting a prebuilt result ("Validation failure — inode/mtime
// mismatch for a prebuilt closure").
type Closure struct {
	Path         string
	ExpectedID   FileID
	ExpectedSize int64
	Dependencies []ClosureDependency
}

// NewPrebuilt reconstructs a Loader of Kind Prebuilt from a Closure
// without re-parsing img's load commands, after validating that the file
// on disk still matches what the closure was built against. A mismatch
// returns an error rather than silently trusting stale data — the
// caller is expected to fall back to NewJustInTime on failure, exactly as
// dyld invalidates a closure and rebuilds it the slow way.
func NewPrebuilt(c *Closure, img *analyzer.Image) (*Loader, error) {
	id, ok := StatFileID(c.Path)
	if !ok {
		return nil, fmt.Errorf("prebuilt closure for %s: file no longer exists", c.Path)
	}
	if id != c.ExpectedID {
		return nil, fmt.Errorf("prebuilt closure for %s: file identity changed, closure invalid", c.Path)
	}
	return &Loader{
		Kind:  Prebuilt,
		Path:  c.Path,
		Image: img,
		State: StateMapped,
	}, nil
}

// ResolvePrebuiltDependents attaches arena edges for every dependency a
// Closure already recorded, skipping the LC_LOAD_DYLIB walk entirely —
// the performance rationale a real prebuilt closure exists for in the
// first place. Missing dependencies are resolved recursively by the
// caller-supplied resolve callback (typically another NewPrebuilt, or a
// NewJustInTime fallback for a dependency this closure didn't cover).
func ResolvePrebuiltDependents(arena *Arena, from int, c *Closure, resolve func(path string) (int, error)) error {
	for _, dep := range c.Dependencies {
		if existing := arena.ByPath(dep.Path); existing != nil {
			arena.AddDependency(from, existing.Index, dep.Kind, dep.Upward)
			continue
		}
		idx, err := resolve(dep.Path)
		if err != nil {
			if dep.Kind == format.LinkWeak {
				arena.AddDependency(from, -1, dep.Kind, dep.Upward)
				continue
			}
			return fmt.Errorf("prebuilt dependency %s: %w", dep.Path, err)
		}
		arena.AddDependency(from, idx, dep.Kind, dep.Upward)
	}
	return nil
}
