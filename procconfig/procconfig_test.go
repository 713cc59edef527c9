package procconfig

import (
	"testing"

	"github.com/blacktop/dyldcore/macho/format"
)

func TestNewProcessDerivesProgNameFromArgv(t *testing.T) {
	p := NewProcess("/Applications/App.app/Contents/MacOS/App", format.PlatformMacOS, format.CPUArm64, format.CPUSubtype(0),
		[]string{"/Applications/App.app/Contents/MacOS/App", "--flag"}, nil, nil)
	if p.ProgName != "App" {
		t.Fatalf("ProgName = %q, want App", p.ProgName)
	}
}

func TestNewProcessPrefersAppleProgname(t *testing.T) {
	p := NewProcess("/bin/prog", format.PlatformMacOS, format.CPUArm64, format.CPUSubtype(0),
		[]string{"/bin/prog"}, nil, []string{"progname=custom_name"})
	if p.ProgName != "custom_name" {
		t.Fatalf("ProgName = %q, want custom_name", p.ProgName)
	}
}

func TestAppleParamMissingKey(t *testing.T) {
	p := NewProcess("/bin/prog", format.PlatformMacOS, format.CPUArm64, format.CPUSubtype(0), nil, nil, []string{"executable_path=/bin/prog"})
	if _, ok := p.AppleParam("progname"); ok {
		t.Fatal("AppleParam found a key that was never set")
	}
}

func TestEnvironReadsEnvpVector(t *testing.T) {
	p := &Process{Envp: []string{"DYLD_LIBRARY_PATH=/a:/b", "HOME=/root"}}
	v, ok := p.Environ("DYLD_LIBRARY_PATH")
	if !ok || v != "/a:/b" {
		t.Fatalf("Environ(DYLD_LIBRARY_PATH) = (%q, %v), want (/a:/b, true)", v, ok)
	}
}

func TestSecurityRestrictedAllowsNothingButDefaults(t *testing.T) {
	sec := NewSecurity(AmfiRestricted)
	if sec.AllowEnvVarsPath || sec.AllowEnvVarsPrint || sec.AllowAtPaths || sec.InternalInstall {
		t.Fatalf("restricted security allows an override it shouldn't: %+v", sec)
	}
	if !sec.AllowClassicFallbackPaths || !sec.AllowInterposing {
		t.Fatalf("restricted security should still allow the always-on defaults: %+v", sec)
	}
}

func TestSecurityInternalInstallAllowsEverythingEnvRelated(t *testing.T) {
	sec := NewSecurity(AmfiInternalInstall)
	if !sec.AllowEnvVarsPath || !sec.AllowEnvVarsPrint || !sec.AllowAtPaths || !sec.InternalInstall {
		t.Fatalf("internal-install security should allow env/at-path overrides: %+v", sec)
	}
}

func TestNewPathOverridesIgnoredWithoutSecurity(t *testing.T) {
	proc := &Process{Envp: []string{"DYLD_LIBRARY_PATH=/custom"}}
	sec := NewSecurity(AmfiRestricted)
	po := NewPathOverrides(proc, sec)
	if len(po.LibraryPathOverrides) != 0 {
		t.Fatalf("restricted process should not honor DYLD_LIBRARY_PATH, got %v", po.LibraryPathOverrides)
	}
}

func TestNewPathOverridesParsesColonLists(t *testing.T) {
	proc := &Process{Envp: []string{"DYLD_LIBRARY_PATH=/a:/b:/c"}}
	sec := NewSecurity(AmfiAllowEnvVars)
	po := NewPathOverrides(proc, sec)
	want := []string{"/a", "/b", "/c"}
	if len(po.LibraryPathOverrides) != len(want) {
		t.Fatalf("got %v, want %v", po.LibraryPathOverrides, want)
	}
	for i, w := range want {
		if po.LibraryPathOverrides[i] != w {
			t.Fatalf("got %v, want %v", po.LibraryPathOverrides, want)
		}
	}
}

func TestNewLoggingIgnoredWithoutSecurity(t *testing.T) {
	proc := &Process{Envp: []string{"DYLD_PRINT_LIBRARIES=1"}}
	sec := NewSecurity(AmfiRestricted)
	log := NewLogging(proc, sec)
	if log.Libraries {
		t.Fatal("restricted process should not honor DYLD_PRINT_LIBRARIES")
	}
}

func TestNewLoggingParsesPrintFlags(t *testing.T) {
	proc := &Process{Envp: []string{"DYLD_PRINT_LIBRARIES=1", "DYLD_PRINT_FIXUPS=YES"}}
	sec := NewSecurity(AmfiAllowEnvVars)
	log := NewLogging(proc, sec)
	if !log.Libraries {
		t.Fatal("DYLD_PRINT_LIBRARIES=1 should enable Libraries logging")
	}
	if !log.Fixups {
		t.Fatal("DYLD_PRINT_FIXUPS=YES should enable Fixups logging")
	}
	if log.Segments {
		t.Fatal("DYLD_PRINT_SEGMENTS was never set, should stay false")
	}
}

func TestNewConfigDefaultsCacheWhenNil(t *testing.T) {
	proc := NewProcess("/bin/prog", format.PlatformMacOS, format.CPUArm64, format.CPUSubtype(0), nil, nil, nil)
	cfg := New(proc, AmfiRestricted, nil)
	if cfg.DyldCache == nil {
		t.Fatal("New should default DyldCache to a non-nil empty value")
	}
}
