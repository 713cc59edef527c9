package pathresolver

import (
	"testing"

	"github.com/blacktop/dyldcore/procconfig"
)

func collect(ctx *Context, requested string) []Candidate {
	var out []Candidate
	ForEachPath(ctx, requested, func(c Candidate) bool {
		out = append(out, c)
		return true
	})
	return out
}

func TestRPathExpansionChain(t *testing.T) {
	ctx := &Context{
		RequestingImagePath: "/Applications/App.app/Contents/MacOS/App",
		MainExecutablePath:  "/Applications/App.app/Contents/MacOS/App",
		RPathChain:          []string{"@loader_path/../lib", "@executable_path/../Frameworks"},
		Overrides:           &procconfig.PathOverrides{},
	}
	got := collect(ctx, "@rpath/libq.dylib")
	want := []string{
		"/Applications/App.app/Contents/lib/libq.dylib",
		"/Applications/App.app/Contents/Frameworks/libq.dylib",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].Path != w {
			t.Errorf("candidate %d = %q, want %q", i, got[i].Path, w)
		}
		if got[i].Kind != KindRPathExpansion {
			t.Errorf("candidate %d kind = %s, want rpathExpansion", i, got[i].Kind)
		}
	}
}

func TestLoaderPathExpansion(t *testing.T) {
	ctx := &Context{
		RequestingImagePath: "/usr/lib/libfoo.dylib",
		MainExecutablePath:  "/bin/prog",
		Overrides:           &procconfig.PathOverrides{},
	}
	got := collect(ctx, "@loader_path/libbar.dylib")
	if len(got) != 1 || got[0].Path != "/usr/lib/libbar.dylib" {
		t.Fatalf("got %+v, want [/usr/lib/libbar.dylib]", got)
	}
}

func TestExecutablePathExpansion(t *testing.T) {
	ctx := &Context{
		RequestingImagePath: "/usr/lib/libfoo.dylib",
		MainExecutablePath:  "/bin/prog",
		Overrides:           &procconfig.PathOverrides{},
	}
	got := collect(ctx, "@executable_path/../lib/libbar.dylib")
	if len(got) != 1 || got[0].Path != "/lib/libbar.dylib" {
		t.Fatalf("got %+v, want [/lib/libbar.dylib]", got)
	}
}

func TestLibraryPathOverridePrecedesRawPath(t *testing.T) {
	ctx := &Context{
		RequestingImagePath: "/bin/prog",
		MainExecutablePath:  "/bin/prog",
		Overrides: &procconfig.PathOverrides{
			LibraryPathOverrides: []string{"/custom/lib"},
		},
	}
	got := collect(ctx, "/usr/lib/libfoo.dylib")
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2: %+v", len(got), got)
	}
	if got[0].Path != "/custom/lib/libfoo.dylib" || got[0].Kind != KindPathDirOverride {
		t.Errorf("candidate 0 = %+v, want /custom/lib/libfoo.dylib (pathDirOverride)", got[0])
	}
	if got[1].Path != "/usr/lib/libfoo.dylib" || got[1].Kind != KindRawPath {
		t.Errorf("candidate 1 = %+v, want /usr/lib/libfoo.dylib (rawPath)", got[1])
	}
}

func TestImageSuffixTriesBeforeUnsuffixed(t *testing.T) {
	ctx := &Context{
		RequestingImagePath: "/bin/prog",
		MainExecutablePath:  "/bin/prog",
		Overrides: &procconfig.PathOverrides{
			ImageSuffix: "_debug",
		},
	}
	got := collect(ctx, "/usr/lib/libfoo.dylib")
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2: %+v", len(got), got)
	}
	if got[0].Path != "/usr/lib/libfoo_debug.dylib" || got[0].Kind != KindSuffixOverride {
		t.Errorf("candidate 0 = %+v, want suffixed variant first", got[0])
	}
	if got[1].Path != "/usr/lib/libfoo.dylib" {
		t.Errorf("candidate 1 = %+v, want unsuffixed variant second", got[1])
	}
}

func TestFallbackDirectoriesTriedLast(t *testing.T) {
	ctx := &Context{
		RequestingImagePath: "/bin/prog",
		MainExecutablePath:  "/bin/prog",
		Overrides: &procconfig.PathOverrides{
			LibraryPathFallbacks: []string{"/usr/local/lib"},
		},
	}
	got := collect(ctx, "/usr/lib/libfoo.dylib")
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2: %+v", len(got), got)
	}
	if got[len(got)-1].Path != "/usr/local/lib/libfoo.dylib" || got[len(got)-1].Kind != KindStandardFallback {
		t.Errorf("last candidate = %+v, want the fallback directory tried last", got[len(got)-1])
	}
}

func TestSelectVersionedOverridePicksStrictlyGreaterCompatVersion(t *testing.T) {
	candidates := []VersionedCandidate{
		{InstallName: "/usr/lib/libfoo.dylib", OverridePath: "/a/libfoo.dylib", CompatVersion: 1, CurrentVersion: 1},
		{InstallName: "/usr/lib/libfoo.dylib", OverridePath: "/b/libfoo.dylib", CompatVersion: 2, CurrentVersion: 1},
		{InstallName: "/usr/lib/libbar.dylib", OverridePath: "/c/libbar.dylib", CompatVersion: 9, CurrentVersion: 9},
	}
	got, ok := SelectVersionedOverride(candidates, "/usr/lib/libfoo.dylib")
	if !ok || got != "/b/libfoo.dylib" {
		t.Fatalf("got (%q, %v), want (/b/libfoo.dylib, true)", got, ok)
	}
}

func TestSelectVersionedOverrideBreaksTiesByCurrentVersion(t *testing.T) {
	candidates := []VersionedCandidate{
		{InstallName: "/usr/lib/libfoo.dylib", OverridePath: "/a/libfoo.dylib", CompatVersion: 2, CurrentVersion: 5},
		{InstallName: "/usr/lib/libfoo.dylib", OverridePath: "/b/libfoo.dylib", CompatVersion: 2, CurrentVersion: 9},
	}
	got, ok := SelectVersionedOverride(candidates, "/usr/lib/libfoo.dylib")
	if !ok || got != "/b/libfoo.dylib" {
		t.Fatalf("got (%q, %v), want (/b/libfoo.dylib, true)", got, ok)
	}
}

func TestSelectVersionedOverrideNoMatchReportsNotFound(t *testing.T) {
	if _, ok := SelectVersionedOverride(nil, "/usr/lib/libfoo.dylib"); ok {
		t.Fatal("expected no match against an empty candidate table")
	}
}

func TestForEachPathShortCircuitsOnVersionedOverride(t *testing.T) {
	ctx := &Context{
		RequestingImagePath: "/bin/prog",
		MainExecutablePath:  "/bin/prog",
		Overrides: &procconfig.PathOverrides{
			LibraryPathOverrides: []string{"/custom/lib"},
		},
		VersionedOverrides: []VersionedCandidate{
			{InstallName: "/usr/lib/libfoo.dylib", OverridePath: "/versioned/libfoo.dylib", CompatVersion: 3, CurrentVersion: 3},
		},
	}
	got := collect(ctx, "/usr/lib/libfoo.dylib")
	if len(got) != 1 || got[0].Path != "/versioned/libfoo.dylib" || got[0].Kind != KindVersionedOverride {
		t.Fatalf("got %+v, want exactly one versionedOverride candidate", got)
	}
}

func TestForEachPathStopsWhenCallbackReturnsFalse(t *testing.T) {
	ctx := &Context{
		RequestingImagePath: "/bin/prog",
		MainExecutablePath:  "/bin/prog",
		Overrides: &procconfig.PathOverrides{
			LibraryPathFallbacks: []string{"/usr/local/lib"},
		},
	}
	n := 0
	ForEachPath(ctx, "/usr/lib/libfoo.dylib", func(c Candidate) bool {
		n++
		return false
	})
	if n != 1 {
		t.Fatalf("callback ran %d times, want 1 (stop on first false)", n)
	}
}
