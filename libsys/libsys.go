// Package libsys models the up-call boundary dyld crosses into
// libSystem.dylib for the handful of process primitives it cannot own
// itself — allocation, thread-specific storage, C++ static-destructor
// registration, and process exit. Grounded on
// original_source/libdyld/LibSystemHelpers.h's LibSystemHelpers vtable.
//
// The original is a versioned C++ virtual-function table so two
// differently-built libdyld.dylibs can up-call into whatever libSystem
// shipped on the device; Helpers here is that same seam expressed as a Go
// interface, with Default backed by real process primitives where Go
// exposes one (getenv, exit, a temp file) and by an in-memory simulation
// where it doesn't (pthread keys — see the thread-key store below, the
// same approach tlv.System takes and for the same reason: this module
// inspects images, it does not run as a loaded process's libdyld).
package libsys

import (
	"fmt"
	"os"
	"sync"
)

// ThreadKey is the Go analogue of dyld_thread_key_t (a pthread_key_t on
// Darwin, a tss_t on ExclaveKit).
type ThreadKey uint32

// Destructor runs when a thread exits with a non-nil value still set for
// its key, mirroring pthread_key_create's destructor parameter.
type Destructor func(value any)

// Helpers is the set of up-calls LibSystemHelpers exposes, trimmed to
// what this library's callers (tlv, runtime) actually drive: allocation
// sizing, thread-specific storage, atexit-style finalizer registration,
// and environment/process primitives. Locking primitives
// (os_unfair_recursive_lock_*) and the version/legacyDyldFuncLookup
// negotiation machinery are omitted — they exist in the original so two
// differently-versioned libdyld builds stay ABI-compatible, a concern
// that doesn't apply to a single Go module.
type Helpers interface {
	MallocSize(v any) uintptr
	ThreadKeyCreate(destructor Destructor) (ThreadKey, error)
	GetSpecific(key ThreadKey) any
	SetSpecific(key ThreadKey, value any) error
	CxaAtexit(fn func(arg any), arg any)
	CxaFinalize()
	IsLaunchdOwned() bool
	Exit(code int)
	Getenv(key string) (string, bool)
	Mkstemp(pattern string) (*os.File, error)
}

// atexitEntry is one __cxa_atexit registration, run in reverse order by
// CxaFinalize — the same discipline as tlv's terminator list, because
// both model C++ static-destructor ordering.
type atexitEntry struct {
	fn  func(arg any)
	arg any
}

// Default is the process-backed Helpers implementation: getenv/exit/
// mkstemp call through to the real OS, while thread-specific storage and
// atexit registration are simulated in-process since this library is
// never itself the libSystem a real dyld links against.
type Default struct {
	mu         sync.Mutex
	nextKey    ThreadKey
	destructor map[ThreadKey]Destructor
	store      map[ThreadKey]any
	atexit     []atexitEntry
	launchd    bool
}

// NewDefault returns a Helpers backed by real process primitives plus an
// in-memory thread-key/atexit simulation. launchdOwned seeds
// IsLaunchdOwned, mirroring how dyld determines this once at startup
// from the process's bootstrap port rather than recomputing it per call.
func NewDefault(launchdOwned bool) *Default {
	return &Default{
		destructor: map[ThreadKey]Destructor{},
		store:      map[ThreadKey]any{},
		launchd:    launchdOwned,
	}
}

func (d *Default) MallocSize(v any) uintptr {
	switch t := v.(type) {
	case []byte:
		return uintptr(len(t))
	case string:
		return uintptr(len(t))
	default:
		return 0
	}
}

func (d *Default) ThreadKeyCreate(destructor Destructor) (ThreadKey, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextKey++
	k := d.nextKey
	d.destructor[k] = destructor
	return k, nil
}

func (d *Default) GetSpecific(key ThreadKey) any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store[key]
}

func (d *Default) SetSpecific(key ThreadKey, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.destructor[key]; !ok {
		return fmt.Errorf("unknown thread key %d", key)
	}
	d.store[key] = value
	return nil
}

// RunDestructors fires every key's destructor with its current value, the
// Go stand-in for a real pthread implementation tearing down TSD slots
// when a thread exits.
func (d *Default) RunDestructors() {
	d.mu.Lock()
	pending := map[ThreadKey]any{}
	for k, v := range d.store {
		if v != nil {
			pending[k] = v
		}
	}
	d.store = map[ThreadKey]any{}
	d.mu.Unlock()
	for k, v := range pending {
		if fn := d.destructor[k]; fn != nil {
			fn(v)
		}
	}
}

func (d *Default) CxaAtexit(fn func(arg any), arg any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.atexit = append(d.atexit, atexitEntry{fn: fn, arg: arg})
}

// CxaFinalize runs every registered atexit entry in reverse registration
// order, mirroring __cxa_finalize_ranges's "run static destructors for
// objects being unloaded, most-recently-constructed first" contract.
func (d *Default) CxaFinalize() {
	d.mu.Lock()
	entries := d.atexit
	d.atexit = nil
	d.mu.Unlock()
	for i := len(entries) - 1; i >= 0; i-- {
		entries[i].fn(entries[i].arg)
	}
}

func (d *Default) IsLaunchdOwned() bool { return d.launchd }

func (d *Default) Exit(code int) { os.Exit(code) }

func (d *Default) Getenv(key string) (string, bool) { return os.LookupEnv(key) }

func (d *Default) Mkstemp(pattern string) (*os.File, error) {
	return os.CreateTemp("", pattern)
}
