// Package pathresolver implements §4.3: dyld's dylib search algorithm —
// expanding @rpath/@loader_path/@executable_path tokens, applying
// DYLD_* environment overrides, versioned-path overrides, image suffixes,
// and the classic fallback search path. Grounded on
// original_source/dyld/Loader.h's forEachPath/forEachResolvedAtPathVar and
// ProcessConfig::PathOverrides's variant enumeration (DyldProcessConfig.h).
package pathresolver

import (
	"path"
	"strings"

	"github.com/blacktop/dyldcore/procconfig"
)

// VariantKind classifies why a candidate path was offered, mirroring
// ProcessConfig::PathOverrides::Type.
type VariantKind int

const (
	KindRawPath VariantKind = iota
	KindPathDirOverride
	KindVersionedOverride
	KindSuffixOverride
	KindRPathExpansion
	KindLoaderPathExpansion
	KindExecutablePathExpansion
	KindStandardFallback
)

func (k VariantKind) String() string {
	switch k {
	case KindRawPath:
		return "rawPath"
	case KindPathDirOverride:
		return "pathDirOverride"
	case KindVersionedOverride:
		return "versionedOverride"
	case KindSuffixOverride:
		return "suffixOverride"
	case KindRPathExpansion:
		return "rpathExpansion"
	case KindLoaderPathExpansion:
		return "loaderPathExpansion"
	case KindExecutablePathExpansion:
		return "executablePathExpansion"
	case KindStandardFallback:
		return "standardFallback"
	}
	return "unknown"
}

// Candidate is one path this resolver proposes trying, in search order.
type Candidate struct {
	Path string
	Kind VariantKind
}

// Context carries everything a single resolution needs: the requesting
// image's own path (for @loader_path), the main executable's path (for
// @executable_path), its inherited rpath chain (for @rpath), and the
// process-wide overrides.
type Context struct {
	RequestingImagePath string
	MainExecutablePath  string
	RPathChain          []string // LC_RPATH entries from every loader between main and the requester, closest loader first
	Overrides           *procconfig.PathOverrides
	IsFramework         bool

	// VersionedOverrides is the already-scanned table of dylibs found under
	// DYLD_VERSIONED_LIBRARY_PATH (or _FRAMEWORK_PATH, when IsFramework) —
	// built once per launch by the caller, since pathresolver never itself
	// touches the filesystem. See SelectVersionedOverride.
	VersionedOverrides []VersionedCandidate
}

// VersionedCandidate is one dylib a caller found while scanning a
// DYLD_VERSIONED_*_PATH directory: its own recorded install name plus the
// version pair needed to arbitrate between multiple candidates for the
// same install name (original_source/dyld/DyldProcessConfig.cpp's
// checkVersionedPath).
type VersionedCandidate struct {
	InstallName    string
	OverridePath   string
	CompatVersion  uint32
	CurrentVersion uint32
}

// SelectVersionedOverride picks, among every candidate recorded for
// installName, the one whose compat version is strictly greater than every
// other's; ties are broken by current version. This mirrors
// checkVersionedPath's "foundDylibVersion > targetDylibVersion" comparison
// and its "alter to %s" tie-break when two versioned directories both
// supply a candidate for the same installName.
func SelectVersionedOverride(candidates []VersionedCandidate, installName string) (string, bool) {
	var best *VersionedCandidate
	for i := range candidates {
		c := &candidates[i]
		if c.InstallName != installName {
			continue
		}
		if best == nil || c.CompatVersion > best.CompatVersion ||
			(c.CompatVersion == best.CompatVersion && c.CurrentVersion > best.CurrentVersion) {
			best = c
		}
	}
	if best == nil {
		return "", false
	}
	return best.OverridePath, true
}

func isFrameworkPath(p string) bool {
	return strings.Contains(p, ".framework/")
}

// expandAtToken rewrites a single leading @rpath/@loader_path/@executable_path
// token, returning the candidates it expands to (②rpath expands to one
// candidate per chain entry; the other two expand to exactly one).
func expandAtToken(p string, ctx *Context) []Candidate {
	switch {
	case strings.HasPrefix(p, "@rpath/"):
		rest := strings.TrimPrefix(p, "@rpath/")
		out := make([]Candidate, 0, len(ctx.RPathChain))
		for _, rp := range ctx.RPathChain {
			out = append(out, Candidate{Path: path.Join(resolveSelfTokens(rp, ctx), rest), Kind: KindRPathExpansion})
		}
		return out
	case strings.HasPrefix(p, "@loader_path/"):
		rest := strings.TrimPrefix(p, "@loader_path/")
		dir := path.Dir(ctx.RequestingImagePath)
		return []Candidate{{Path: path.Join(dir, rest), Kind: KindLoaderPathExpansion}}
	case strings.HasPrefix(p, "@executable_path/"):
		rest := strings.TrimPrefix(p, "@executable_path/")
		dir := path.Dir(ctx.MainExecutablePath)
		return []Candidate{{Path: path.Join(dir, rest), Kind: KindExecutablePathExpansion}}
	}
	return nil
}

// resolveSelfTokens expands @loader_path/@executable_path that appear
// *inside* an LC_RPATH entry itself (a dylib's own rpath can be relative to
// itself or to the main executable).
func resolveSelfTokens(rpath string, ctx *Context) string {
	switch {
	case strings.HasPrefix(rpath, "@loader_path/"):
		return path.Join(path.Dir(ctx.RequestingImagePath), strings.TrimPrefix(rpath, "@loader_path/"))
	case strings.HasPrefix(rpath, "@executable_path/"):
		return path.Join(path.Dir(ctx.MainExecutablePath), strings.TrimPrefix(rpath, "@executable_path/"))
	}
	return rpath
}

func withSuffix(p, suffix string) string {
	if suffix == "" {
		return p
	}
	dir, file := path.Split(p)
	ext := path.Ext(file)
	base := strings.TrimSuffix(file, ext)
	return dir + base + suffix + ext
}

// ForEachPath enumerates, in dyld's own precedence order, every path worth
// trying for requestedPath, invoking fn with each until fn returns false.
// Order: (1) a DYLD_VERSIONED_*_PATH override, if the caller's scan turned
// up a replacement for requestedPath's own install name — when present
// this is the only candidate offered, matching checkVersionedPath's
// "stop searching further, this is the dylib" behavior; otherwise (2)
// DYLD_LIBRARY_PATH / DYLD_FRAMEWORK_PATH directory overrides, each
// directory joined with the leaf name, in the variable's own order; (3)
// @rpath/@loader_path/@executable_path expansions if the requested path
// starts with one of those tokens, else the raw path itself; (4) the
// image-suffix variant of every candidate so far,
// tried before its un-suffixed counterpart; (5) DYLD_FALLBACK_* directories
// if nothing above exists on disk. This function enumerates candidates —
// it does not stat the filesystem; the caller (loader) does that and
// stops early once one exists.
func ForEachPath(ctx *Context, requestedPath string, fn func(Candidate) bool) {
	if override, ok := SelectVersionedOverride(ctx.VersionedOverrides, requestedPath); ok {
		fn(Candidate{Path: override, Kind: KindVersionedOverride})
		return
	}

	var primary []Candidate
	if strings.HasPrefix(requestedPath, "@") {
		primary = expandAtToken(requestedPath, ctx)
	} else {
		primary = []Candidate{{Path: requestedPath, Kind: KindRawPath}}
	}

	leaf := path.Base(requestedPath)
	dirOverrides := ctx.Overrides.LibraryPathOverrides
	if ctx.IsFramework {
		dirOverrides = ctx.Overrides.FrameworkPathOverrides
	}
	var dirCandidates []Candidate
	for _, dir := range dirOverrides {
		dirCandidates = append(dirCandidates, Candidate{Path: path.Join(dir, leaf), Kind: KindPathDirOverride})
	}
	primary = append(dirCandidates, primary...)

	suffix := ctx.Overrides.ImageSuffix
	var withSuffixes []Candidate
	for _, c := range primary {
		if suffix != "" {
			withSuffixes = append(withSuffixes, Candidate{Path: withSuffix(c.Path, suffix), Kind: KindSuffixOverride})
		}
		withSuffixes = append(withSuffixes, c)
	}

	for _, c := range withSuffixes {
		if !fn(c) {
			return
		}
	}

	fallbackDirs := ctx.Overrides.LibraryPathFallbacks
	if ctx.IsFramework {
		fallbackDirs = ctx.Overrides.FrameworkPathFallbacks
	}
	for _, dir := range fallbackDirs {
		if !fn(Candidate{Path: path.Join(dir, leaf), Kind: KindStandardFallback}) {
			return
		}
	}
}

// ForEachInsertedDylib yields every DYLD_INSERT_LIBRARIES entry in order,
// the analogue of ProcessConfig::PathOverrides::forEachInsertedDylib.
func ForEachInsertedDylib(ov *procconfig.PathOverrides, fn func(string) bool) {
	for _, p := range ov.InsertedDylibs {
		if !fn(p) {
			return
		}
	}
}
