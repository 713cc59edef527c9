package loader

import (
	"golang.org/x/sys/unix"
)

// FileID identifies a file by device and inode, the same (dev, ino) pair
// dyld's own FileID uses (Loader.h's `fileID(const RuntimeState&)`) to
// recognize that two different paths — an @rpath-resolved symlink and
// its real target, say — name the same already-loaded image, rather than
// relying on string-equal paths alone.
type FileID struct {
	Dev uint64
	Ino uint64
}

// StatFileID stats path and returns its FileID. Used by LoadDependents to
// catch a dependency that resolves to an already-loaded image under a
// different path string than the one recorded on its Loader.
func StatFileID(path string) (FileID, bool) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return FileID{}, false
	}
	return FileID{Dev: uint64(st.Dev), Ino: uint64(st.Ino)}, true
}

// ByFileID returns the first loader whose on-disk file identity matches
// id, or nil. Loaders built from an opened reader rather than a real
// path (e.g. in-memory test fixtures) never match, since StatFileID has
// nothing to stat for them.
func (a *Arena) ByFileID(id FileID) *Loader {
	for _, l := range a.loaders {
		lid, ok := StatFileID(l.Path)
		if ok && lid == id {
			return l
		}
	}
	return nil
}
