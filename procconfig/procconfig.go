// Package procconfig implements §4.5: the fixed, immutable description of
// one process's launch environment — the Go analogue of dyld's
// dyld4::ProcessConfig. Real dyld builds this once, from kernel-supplied
// argv/envp/apple strings, before any image is mapped; here the kernel
// hand-off is modeled as plain string slices so the rest of this module can
// be exercised without an actual exec().
package procconfig

import (
	"strconv"
	"strings"

	"github.com/blacktop/dyldcore/macho/format"
)

// Process holds everything derived from the kernel's argv/envp/apple
// hand-off plus the main executable's own platform/arch info — spec
// §4.5 / original_source's ProcessConfig::Process.
type Process struct {
	MainExecutablePath string
	MainUnrealPath     string // raw path used to launch, before symlink resolution
	Platform           format.Platform
	Argv               []string
	Envp               []string
	Apple              []string
	ProgName           string
	PID                int
	Arch                format.CPU
	ArchSubtype         format.CPUSubtype
	CatalystRuntime    bool
}

// NewProcess builds a Process from kernel hand-off data. mainPath is the
// path the kernel resolved the executable from; platform/arch come from
// the main executable's own Mach-O header once analyzer.Open has run.
func NewProcess(mainPath string, platform format.Platform, arch format.CPU, sub format.CPUSubtype, argv, envp, apple []string) *Process {
	p := &Process{
		MainExecutablePath: mainPath,
		MainUnrealPath:     mainPath,
		Platform:           platform,
		Arch:               arch,
		ArchSubtype:        sub,
		Argv:               argv,
		Envp:               envp,
		Apple:              apple,
		PID:                -1,
	}
	if v, ok := p.AppleParam("pfz"); ok {
		_ = v // reserved: page-zero-fill slot address, unused outside a real mmap path
	}
	if pg, ok := p.AppleParam("progname"); ok {
		p.ProgName = pg
	} else if len(argv) > 0 {
		if i := strings.LastIndexByte(argv[0], '/'); i >= 0 {
			p.ProgName = argv[0][i+1:]
		} else {
			p.ProgName = argv[0]
		}
	}
	return p
}

// AppleParam reads a "key=value" entry out of the kernel's apple[] vector
// (e.g. "executable_path=/bin/ls"), mirroring ProcessConfig::Process::appleParam.
func (p *Process) AppleParam(key string) (string, bool) {
	prefix := key + "="
	for _, a := range p.Apple {
		if strings.HasPrefix(a, prefix) {
			return a[len(prefix):], true
		}
	}
	return "", false
}

// Environ reads a "KEY=value" entry out of envp, the env-var analogue of
// AppleParam.
func (p *Process) Environ(key string) (string, bool) {
	prefix := key + "="
	for _, e := range p.Envp {
		if strings.HasPrefix(e, prefix) {
			return e[len(prefix):], true
		}
	}
	return "", false
}

// Security gates which DYLD_* environment variables this process honors —
// spec §4.5 / ProcessConfig::Security. Real dyld derives most of these from
// an AMFI (Apple Mobile File Integrity) syscall; since this module never
// runs as an actual loader, AmfiLevel is a caller-supplied stand-in so
// tests and cmd/dyldcore can simulate both a "restricted" and a
// "developer" process without a real kernel present.
type Security struct {
	InternalInstall           bool
	AllowAtPaths              bool
	AllowEnvVarsPrint         bool
	AllowEnvVarsPath          bool
	AllowEnvVarsSharedCache   bool
	AllowClassicFallbackPaths bool
	AllowInsertFailures       bool
	AllowInterposing          bool
	AllowEmbeddedVars         bool
	SkipMain                  bool
}

// AmfiLevel classifies how trusted a process is to honor DYLD_* overrides,
// standing in for the real AMFI syscall's bitmask return value.
type AmfiLevel int

const (
	// AmfiRestricted is the default for any process not explicitly marked
	// developer/internal: every DYLD_* override is ignored, matching
	// production (non-developer, SIP-protected) behavior.
	AmfiRestricted AmfiLevel = iota
	AmfiAllowEnvVars
	AmfiAllowAtPaths
	AmfiInternalInstall
)

// NewSecurity derives the allow-list from an AMFI level the caller supplies
// (see AmfiLevel), not a real syscall, since this module runs as a library
// rather than as dyld itself.
func NewSecurity(amfi AmfiLevel) *Security {
	s := &Security{
		AllowClassicFallbackPaths: true,
		AllowInterposing:          true,
	}
	switch amfi {
	case AmfiAllowEnvVars:
		s.AllowEnvVarsPrint = true
		s.AllowEnvVarsPath = true
		s.AllowEnvVarsSharedCache = true
		s.AllowEmbeddedVars = true
	case AmfiAllowAtPaths:
		s.AllowAtPaths = true
	case AmfiInternalInstall:
		s.InternalInstall = true
		s.AllowAtPaths = true
		s.AllowEnvVarsPrint = true
		s.AllowEnvVarsPath = true
		s.AllowEnvVarsSharedCache = true
		s.AllowInsertFailures = true
		s.AllowEmbeddedVars = true
	}
	return s
}

// Logging holds the DYLD_PRINT_* toggles — spec §6 / ProcessConfig::Logging
// — consulted by internal/dyldlog to decide which per-subsystem sub-loggers
// are enabled.
type Logging struct {
	Libraries     bool
	Segments      bool
	Fixups        bool
	Initializers  bool
	APIs          bool
	Notifications bool
	Interposing   bool
	Loaders       bool
	Searching     bool
	Env           bool
	UseStderr     bool
}

// NewLogging parses DYLD_PRINT_* env vars, but only if Security allows env
// vars at all — matching the real ProcessConfig::Logging constructor's
// "ignore everything unless allowEnvVarsPrint" gate.
func NewLogging(p *Process, sec *Security) *Logging {
	l := &Logging{UseStderr: true}
	if !sec.AllowEnvVarsPrint {
		return l
	}
	set := func(key string, dst *bool) {
		if v, ok := p.Environ(key); ok {
			b, err := strconv.ParseBool(v)
			*dst = err == nil && b || (err != nil && v != "" && v != "0")
		}
	}
	set("DYLD_PRINT_LIBRARIES", &l.Libraries)
	set("DYLD_PRINT_SEGMENTS", &l.Segments)
	set("DYLD_PRINT_FIXUPS", &l.Fixups)
	set("DYLD_PRINT_INITIALIZERS", &l.Initializers)
	set("DYLD_PRINT_APIS", &l.APIs)
	set("DYLD_PRINT_NOTIFICATIONS", &l.Notifications)
	set("DYLD_PRINT_INTERPOSING", &l.Interposing)
	set("DYLD_PRINT_LOADERS", &l.Loaders)
	set("DYLD_PRINT_SEARCHING", &l.Searching)
	set("DYLD_PRINT_ENV", &l.Env)
	return l
}

// DyldCache is trimmed to the fields pathresolver/loader actually consult:
// whether a shared cache is present, its root path, and whether dylibs are
// also expected to exist on disk (affects fallback search). Building or
// parsing an actual shared-cache image is out of scope (see spec.md
// Non-goals); the full original struct also carries objc hash tables and a
// patch table that belong to features this module does not implement.
type DyldCache struct {
	Present              bool
	Path                 string
	Development          bool
	DylibsExpectedOnDisk bool
}

// PathOverrides holds the parsed DYLD_* search-path environment variables —
// spec §4.3/§4.5 — consumed by package pathresolver to drive the dylib
// search algorithm. Grounded on ProcessConfig::PathOverrides's env-var
// field list, trimmed to the variables pathresolver's forEachPathVariant
// equivalent actually branches on.
type PathOverrides struct {
	LibraryPathOverrides    []string // DYLD_LIBRARY_PATH
	FrameworkPathOverrides  []string // DYLD_FRAMEWORK_PATH
	LibraryPathFallbacks    []string // DYLD_FALLBACK_LIBRARY_PATH
	FrameworkPathFallbacks  []string // DYLD_FALLBACK_FRAMEWORK_PATH
	VersionedLibraryPaths   []string // DYLD_VERSIONED_LIBRARY_PATH
	VersionedFrameworkPaths []string // DYLD_VERSIONED_FRAMEWORK_PATH
	InsertedDylibs          []string // DYLD_INSERT_LIBRARIES
	ImageSuffix             string   // DYLD_IMAGE_SUFFIX
	RootPath                string   // DYLD_ROOT_PATH / cryptex root, simulator-only in practice
}

func splitColonList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ":")
}

// NewPathOverrides parses the DYLD_* search-path variables out of the
// process environment, returning an empty (all-nil) PathOverrides if
// Security forbids honoring env-var path overrides at all.
func NewPathOverrides(p *Process, sec *Security) *PathOverrides {
	po := &PathOverrides{}
	if !sec.AllowEnvVarsPath {
		return po
	}
	get := func(key string) string { v, _ := p.Environ(key); return v }
	po.LibraryPathOverrides = splitColonList(get("DYLD_LIBRARY_PATH"))
	po.FrameworkPathOverrides = splitColonList(get("DYLD_FRAMEWORK_PATH"))
	po.LibraryPathFallbacks = splitColonList(get("DYLD_FALLBACK_LIBRARY_PATH"))
	po.FrameworkPathFallbacks = splitColonList(get("DYLD_FALLBACK_FRAMEWORK_PATH"))
	po.VersionedLibraryPaths = splitColonList(get("DYLD_VERSIONED_LIBRARY_PATH"))
	po.VersionedFrameworkPaths = splitColonList(get("DYLD_VERSIONED_FRAMEWORK_PATH"))
	po.ImageSuffix = get("DYLD_IMAGE_SUFFIX")
	if sec.AllowEnvVarsSharedCache {
		po.RootPath = get("DYLD_ROOT_PATH")
	}
	if inserted := get("DYLD_INSERT_LIBRARIES"); inserted != "" {
		if sec.AllowInsertFailures || sec.AllowEnvVarsPath {
			po.InsertedDylibs = splitColonList(inserted)
		}
	}
	return po
}

// Config bundles the whole immutable launch description, the Go analogue
// of dyld4::ProcessConfig's top-level grouping of Process/Security/Logging/
// DyldCache/PathOverrides into one object passed by reference everywhere.
type Config struct {
	Process       *Process
	Security      *Security
	Logging       *Logging
	DyldCache     *DyldCache
	PathOverrides *PathOverrides
}

// New builds a full Config in the same dependency order the original
// constructs its sub-objects (Process first, then Security from Process,
// then Logging from Process+Security, then PathOverrides from all three).
func New(proc *Process, amfi AmfiLevel, cache *DyldCache) *Config {
	sec := NewSecurity(amfi)
	log := NewLogging(proc, sec)
	po := NewPathOverrides(proc, sec)
	if cache == nil {
		cache = &DyldCache{}
	}
	return &Config{Process: proc, Security: sec, Logging: log, DyldCache: cache, PathOverrides: po}
}
