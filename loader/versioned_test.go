package loader

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/blacktop/dyldcore/macho/format"
	"github.com/blacktop/dyldcore/pathresolver"
	"github.com/blacktop/dyldcore/procconfig"
)

// fakeVersionedFS is a minimal in-memory Opener: a directory listing plus a
// byte buffer per path, enough to drive BuildVersionedOverrideCandidates
// without touching the real filesystem.
type fakeVersionedFS struct {
	dirs  map[string][]string
	files map[string][]byte
}

func (f *fakeVersionedFS) Open(path string) (io.ReaderAt, bool, error) {
	b, ok := f.files[path]
	if !ok {
		return nil, false, nil
	}
	return bytes.NewReader(b), true, nil
}

func (f *fakeVersionedFS) ReadDir(dir string) ([]string, error) {
	names, ok := f.dirs[dir]
	if !ok {
		return nil, fmt.Errorf("no such directory: %s", dir)
	}
	return names, nil
}

// buildIDImage assembles a minimal 64-bit Mach-O whose only load command is
// LC_ID_DYLIB, naming installName with the given version pair.
func buildIDImage(installName string, compat, current uint32) []byte {
	bo := format.Magic64.ByteOrder()

	const fixedFields = 24 // cmd, cmdsize, nameoff, timestamp, current, compat
	nameBytes := append([]byte(installName), 0x00)
	cmdSize := fixedFields + len(nameBytes)
	// Load commands are padded to a multiple of 8 bytes.
	for cmdSize%8 != 0 {
		cmdSize++
	}

	buf := make([]byte, 32+cmdSize)
	bo.PutUint32(buf[0:], uint32(format.Magic64))
	bo.PutUint32(buf[4:], uint32(format.CPUArm64))
	bo.PutUint32(buf[8:], uint32(format.CPUSubtypeArm64All))
	bo.PutUint32(buf[12:], uint32(format.MH_DYLIB))
	bo.PutUint32(buf[16:], 1)
	bo.PutUint32(buf[20:], uint32(cmdSize))

	cmd := buf[32 : 32+cmdSize]
	bo.PutUint32(cmd[0:], uint32(format.LC_ID_DYLIB))
	bo.PutUint32(cmd[4:], uint32(cmdSize))
	bo.PutUint32(cmd[8:], fixedFields) // nameoff
	bo.PutUint32(cmd[12:], 0)          // timestamp
	bo.PutUint32(cmd[16:], current)
	bo.PutUint32(cmd[20:], compat)
	copy(cmd[fixedFields:], nameBytes)

	return buf
}

func TestBuildVersionedOverrideCandidatesProbesEachDylib(t *testing.T) {
	fs := &fakeVersionedFS{
		dirs: map[string][]string{
			"/versioned/lib": {"libfoo.dylib", "libbar.dylib"},
		},
		files: map[string][]byte{
			"/versioned/lib/libfoo.dylib": buildIDImage("/usr/lib/libfoo.dylib", 2, 1),
			"/versioned/lib/libbar.dylib": buildIDImage("/usr/lib/libbar.dylib", 1, 1),
		},
	}

	got := BuildVersionedOverrideCandidates(fs, []string{"/versioned/lib"}, false)
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2: %+v", len(got), got)
	}
	byName := map[string]pathresolver.VersionedCandidate{}
	for _, c := range got {
		byName[c.InstallName] = c
	}
	foo, ok := byName["/usr/lib/libfoo.dylib"]
	if !ok || foo.OverridePath != "/versioned/lib/libfoo.dylib" || foo.CompatVersion != 2 || foo.CurrentVersion != 1 {
		t.Fatalf("libfoo candidate = %+v", foo)
	}
	bar, ok := byName["/usr/lib/libbar.dylib"]
	if !ok || bar.OverridePath != "/versioned/lib/libbar.dylib" {
		t.Fatalf("libbar candidate = %+v", bar)
	}
}

func TestBuildVersionedOverrideCandidatesSkipsUnreadableDirectory(t *testing.T) {
	fs := &fakeVersionedFS{dirs: map[string][]string{}, files: map[string][]byte{}}
	got := BuildVersionedOverrideCandidates(fs, []string{"/does/not/exist"}, false)
	if len(got) != 0 {
		t.Fatalf("got %d candidates from a missing directory, want 0", len(got))
	}
}

func TestBuildVersionedOverrideCandidatesFrameworkPathAppendsExecutableName(t *testing.T) {
	fs := &fakeVersionedFS{
		dirs: map[string][]string{
			"/versioned/frameworks": {"Foo.framework"},
		},
		files: map[string][]byte{
			"/versioned/frameworks/Foo.framework/Foo": buildIDImage("/System/Library/Frameworks/Foo.framework/Foo", 3, 3),
		},
	}

	got := BuildVersionedOverrideCandidates(fs, []string{"/versioned/frameworks"}, true)
	if len(got) != 1 || got[0].OverridePath != "/versioned/frameworks/Foo.framework/Foo" {
		t.Fatalf("got %+v, want one candidate at .../Foo.framework/Foo", got)
	}
}

func TestArenaBuildVersionedOverridesPopulatesBothTables(t *testing.T) {
	fs := &fakeVersionedFS{
		dirs: map[string][]string{
			"/versioned/lib":        {"libfoo.dylib"},
			"/versioned/frameworks": {"Foo.framework"},
		},
		files: map[string][]byte{
			"/versioned/lib/libfoo.dylib":             buildIDImage("/usr/lib/libfoo.dylib", 2, 1),
			"/versioned/frameworks/Foo.framework/Foo": buildIDImage("/System/Library/Frameworks/Foo.framework/Foo", 1, 1),
		},
	}

	cfg := &procconfig.Config{
		PathOverrides: &procconfig.PathOverrides{
			VersionedLibraryPaths:   []string{"/versioned/lib"},
			VersionedFrameworkPaths: []string{"/versioned/frameworks"},
		},
	}

	a := NewArena()
	a.BuildVersionedOverrides(fs, cfg)

	if len(a.VersionedLibraryOverrides) != 1 || a.VersionedLibraryOverrides[0].InstallName != "/usr/lib/libfoo.dylib" {
		t.Fatalf("VersionedLibraryOverrides = %+v", a.VersionedLibraryOverrides)
	}
	if len(a.VersionedFrameworkOverrides) != 1 || a.VersionedFrameworkOverrides[0].InstallName != "/System/Library/Frameworks/Foo.framework/Foo" {
		t.Fatalf("VersionedFrameworkOverrides = %+v", a.VersionedFrameworkOverrides)
	}
}
