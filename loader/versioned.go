package loader

import (
	"io"
	"path"
	"strings"

	"github.com/blacktop/dyldcore/macho/analyzer"
	"github.com/blacktop/dyldcore/pathresolver"
	"github.com/blacktop/dyldcore/procconfig"
)

// BuildVersionedOverrideCandidates scans every directory in dirs — one
// DYLD_VERSIONED_LIBRARY_PATH or DYLD_VERSIONED_FRAMEWORK_PATH entry list —
// for Mach-O files and records each one's own LC_ID_DYLIB install name and
// version pair, the discovery half of
// original_source/dyld/DyldProcessConfig.cpp's processVersionedPaths /
// checkVersionedPath. pathresolver.SelectVersionedOverride does the
// version-arbitration half; this function never picks a winner itself,
// keeping pathresolver free of filesystem access.
func BuildVersionedOverrideCandidates(op Opener, dirs []string, isFramework bool) []pathresolver.VersionedCandidate {
	var out []pathresolver.VersionedCandidate
	for _, dir := range dirs {
		entries, err := op.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, name := range entries {
			candidatePath := path.Join(dir, name)
			if isFramework {
				if !strings.HasSuffix(name, ".framework") {
					continue
				}
				candidatePath = path.Join(candidatePath, strings.TrimSuffix(name, ".framework"))
			}
			if c, ok := probeVersionedCandidate(op, candidatePath); ok {
				out = append(out, c)
			}
		}
	}
	return out
}

func probeVersionedCandidate(op Opener, candidatePath string) (pathresolver.VersionedCandidate, bool) {
	r, ok, err := op.Open(candidatePath)
	if err != nil || !ok {
		return pathresolver.VersionedCandidate{}, false
	}
	if closer, ok := r.(io.Closer); ok {
		defer closer.Close()
	}
	img, d, err := analyzer.Open(r)
	if err != nil || d.HasError() {
		return pathresolver.VersionedCandidate{}, false
	}
	id, ok := img.ID()
	if !ok {
		return pathresolver.VersionedCandidate{}, false
	}
	return pathresolver.VersionedCandidate{
		InstallName:    id.Name,
		OverridePath:   candidatePath,
		CompatVersion:  uint32(id.CompatVersion),
		CurrentVersion: uint32(id.CurrentVersion),
	}, true
}

// BuildVersionedOverrides scans cfg's DYLD_VERSIONED_*_PATH directories
// once and caches the resulting tables on the Arena, so every dependency
// resolution against it can consult them without rescanning — mirroring
// ProcessConfig building its _versionedOverrides table once at
// construction rather than per lookup.
func (a *Arena) BuildVersionedOverrides(op Opener, cfg *procconfig.Config) {
	a.VersionedLibraryOverrides = BuildVersionedOverrideCandidates(op, cfg.PathOverrides.VersionedLibraryPaths, false)
	a.VersionedFrameworkOverrides = BuildVersionedOverrideCandidates(op, cfg.PathOverrides.VersionedFrameworkPaths, true)
}
