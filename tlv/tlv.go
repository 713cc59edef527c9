// Package tlv implements §4.6: the thread-local-variable subsystem — the
// on-disk three-word thunk rewritten into a packed runtime form, lazy
// per-thread allocation on first use, and terminator registration/
// teardown run in reverse order at thread exit. Grounded on
// original_source/libdyld/ThreadLocalVariables.h.
//
// A real pthread_key_t / getspecific-setspecific pair is a libSystem
// primitive this module does not own (see package libsys); here the
// per-thread store is modeled explicitly with a goroutine-keyed map behind
// a mutex, since Go has no public thread-local-storage primitive and this
// module's "thread" is, for testing purposes, just a caller-supplied key.
package tlv

import (
	"fmt"
	"sync"
)

// DiskThunk is the on-disk three-pointer form the compiler emits into
// __DATA,__thread_vars: {bootstrap_func, 0, initial_content_ptr}.
type DiskThunk struct {
	BootstrapFuncAddr uint64
	Reserved          uint64
	InitialContentOff uint64 // offset of this variable's slice of the image's coalesced initial-content blob
}

// RuntimeThunk64 is the packed 64-bit runtime form described in spec §3:
// {func, key, offset, delta_to_initial_content, initial_content_size}. A
// zero InitialContentDelta means the variable is zero-filled rather than
// copied from a template.
type RuntimeThunk64 struct {
	Key                 uint32
	Offset              uint32
	InitialContentDelta int32
	InitialContentSize  uint32
}

// RuntimeThunk32 is the packed 32-bit runtime form: {func, key, offset,
// delta_to_mach_header}, where a positive delta is a zero-fill size and a
// negative delta points back at the image header (per spec §3).
type RuntimeThunk32 struct {
	Key             uint16
	Offset          uint16
	MachHeaderDelta int32
}

// Key identifies one image's worth of TLV storage — the Go analogue of a
// pthread_key_t, scoped per image rather than reserved from a real kernel
// key space.
type Key uint32

// image holds one image's packed thunks plus its coalesced initial-content
// blob, the state initializeThunksFromDisk builds once per image load.
type image struct {
	key             Key
	initialContent  []byte
	allZeroFill     bool
}

// Terminator is a (func, object) pair registered by _tlv_atexit, run in
// reverse registration order at thread exit.
type Terminator struct {
	Func    func(obj uintptr)
	ObjAddr uintptr
}

// System is the per-process TLV subsystem — the Go analogue of
// dyld::ThreadLocalVariables. One System is shared by every thread; each
// thread's own storage is kept in perThread, keyed by a caller-supplied
// ThreadID rather than a real pthread_key, since this library has no
// access to the actual OS thread the caller runs on.
type System struct {
	mu        sync.Mutex
	images    map[Key]*image
	nextKey   Key
	perThread map[ThreadID]map[Key][]byte     // allocated TLV storage, by thread then by image key
	terms     map[ThreadID][]Terminator       // registered terminators, in registration order
}

// ThreadID is an opaque per-thread identifier the caller supplies (e.g. a
// goroutine ID proxy, or just 0 for single-threaded tests) in place of a
// real OS thread handle.
type ThreadID uint64

// NewSystem returns an empty TLV subsystem.
func NewSystem() *System {
	return &System{
		images:    map[Key]*image{},
		perThread: map[ThreadID]map[Key][]byte{},
		terms:     map[ThreadID][]Terminator{},
	}
}

// SetUpImage allocates a fresh Key for an image's TLV thunks and records
// its coalesced initial-content blob — the Go analogue of
// ThreadLocalVariables::setUpImage / initializeThunksFromDisk. allZeroFill
// true means every thread's allocation for this image should be
// zero-initialized rather than copied from initialContent.
func (s *System) SetUpImage(initialContent []byte, allZeroFill bool) Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextKey++
	k := s.nextKey
	s.images[k] = &image{key: k, initialContent: initialContent, allZeroFill: allZeroFill}
	return k
}

// InstantiateVariable is the thunk's slow path: on first use of any TLV in
// this image on this thread, allocate storage sized to the image's
// initial-content blob (or zero-fill), populate it, and return it —
// ThreadLocalVariables::instantiateVariable.
func (s *System) InstantiateVariable(thread ThreadID, key Key, offset uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[key]
	if !ok {
		return nil, fmt.Errorf("no image registered for tlv key %d", key)
	}
	perImage, ok := s.perThread[thread]
	if !ok {
		perImage = map[Key][]byte{}
		s.perThread[thread] = perImage
	}
	buf, ok := perImage[key]
	if !ok {
		buf = make([]byte, len(img.initialContent))
		if !img.allZeroFill {
			copy(buf, img.initialContent)
		}
		perImage[key] = buf
	}
	if int(offset) > len(buf) {
		return nil, fmt.Errorf("tlv offset %d past end of %d-byte allocation", offset, len(buf))
	}
	return buf[offset:], nil
}

// AddTermFunc registers a terminator for thread, run at FinalizeThread —
// the Go analogue of _tlv_atexit.
func (s *System) AddTermFunc(thread ThreadID, fn func(obj uintptr), obj uintptr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terms[thread] = append(s.terms[thread], Terminator{Func: fn, ObjAddr: obj})
}

// FinalizeThread runs thread's registered terminators in reverse
// registration order, matching spec §3's "TLV per-thread storage is owned
// by the thread... registered C++ terminators run in reverse construction
// order." If a terminator itself registers more entries (a second pass in
// the original), those run in a follow-up pass here too, until a pass
// registers nothing new.
func (s *System) FinalizeThread(thread ThreadID) {
	for {
		s.mu.Lock()
		list := s.terms[thread]
		delete(s.terms, thread)
		s.mu.Unlock()
		if len(list) == 0 {
			delete(s.perThread, thread)
			return
		}
		for i := len(list) - 1; i >= 0; i-- {
			list[i].Func(list[i].ObjAddr)
		}
	}
}
