package format

import "fmt"

// CPU is a Mach-O cpu_type_t.
type CPU uint32

const (
	cpuArch64   = 0x01000000
	cpuArch6432 = 0x02000000
)

const (
	CPU386   CPU = 7
	CPUAmd64 CPU = CPU386 | cpuArch64
	CPUArm   CPU = 12
	CPUArm64 CPU = CPUArm | cpuArch64
	CPUPpc   CPU = 18
	CPUPpc64 CPU = CPUPpc | cpuArch64
)

func (c CPU) String() string {
	switch c {
	case CPU386:
		return "i386"
	case CPUAmd64:
		return "x86_64"
	case CPUArm:
		return "arm"
	case CPUArm64:
		return "arm64"
	case CPUPpc:
		return "ppc"
	case CPUPpc64:
		return "ppc64"
	}
	return fmt.Sprintf("cpu(0x%x)", uint32(c))
}

// CPUSubtype is a Mach-O cpu_subtype_t, packing a base subtype with
// feature/capability bits in the high byte (ptrauth ABI on arm64).
type CPUSubtype uint32

const (
	CPUSubtypeX8664All CPUSubtype = 3
	CPUSubtypeArmAll   CPUSubtype = 0
	CPUSubtypeArmV7    CPUSubtype = 9
	CPUSubtypeArmV7S   CPUSubtype = 11
	CPUSubtypeArm64All CPUSubtype = 0
	CPUSubtypeArm64V8  CPUSubtype = 1
	CPUSubtypeArm64E   CPUSubtype = 2
)

const (
	CpuSubtypeFeatureMask   CPUSubtype = 0xff000000
	CpuSubtypeMask          CPUSubtype = ^CpuSubtypeFeatureMask
	CpuSubtypePtrauthAbi    CPUSubtype = 0x80000000
	CpuSubtypeArm64PtrAuthMask CPUSubtype = 0x0f000000
)

// Base strips the feature bits, leaving the bare subtype value.
func (st CPUSubtype) Base() CPUSubtype { return st & CpuSubtypeMask }

// PtrAuthVersion returns the ptrauth ABI version encoded in an arm64e
// subtype's feature bits, or 0 if the subtype carries none.
func (st CPUSubtype) PtrAuthVersion() uint32 {
	return uint32((st & CpuSubtypeArm64PtrAuthMask) >> 24)
}

// IsArm64e reports whether this is the arm64e (pointer-authenticated) subtype.
func (c CPU) IsArm64e(st CPUSubtype) bool {
	return c == CPUArm64 && st.Base() == CPUSubtypeArm64E
}

func (st CPUSubtype) String(cpu CPU) string {
	switch cpu {
	case CPUAmd64:
		return "x86_64"
	case CPUArm:
		return "armv7"
	case CPUArm64:
		if st.Base() == CPUSubtypeArm64E {
			return fmt.Sprintf("arm64e (caps 0x%02x)", st.PtrAuthVersion())
		}
		return "arm64"
	}
	return "unknown"
}

// GradedArchitecture is a (cpu, subtype) pair plus the grading priority dyld
// assigns it when selecting the best slice of a fat binary or universal
// shared-cache image for the running host, per §3's "graded architecture set".
type GradedArchitecture struct {
	CPU     CPU
	SubCPU  CPUSubtype
	Grade   int
}

// nativeGrades lists, for a given host CPU, the subtypes it can run in order
// of preference (highest grade first). A host offering arm64e can also run
// plain arm64 slices, but prefers arm64e.
var nativeGrades = map[CPU][]CPUSubtype{
	CPUArm64: {CPUSubtypeArm64E, CPUSubtypeArm64V8, CPUSubtypeArm64All},
	CPUAmd64: {CPUSubtypeX8664All},
}

// GradeFor returns the grade (higher is better, 0 means "cannot run") of a
// candidate slice on a host whose native cpu is hostCPU.
func GradeFor(hostCPU CPU, candidate CPU, candidateSub CPUSubtype) int {
	if candidate != hostCPU {
		return 0
	}
	subs, ok := nativeGrades[hostCPU]
	if !ok {
		return 1
	}
	base := candidateSub.Base()
	for i, s := range subs {
		if s == base {
			return len(subs) - i
		}
	}
	return 0
}
