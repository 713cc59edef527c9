package analyzer

import (
	"bytes"
	"testing"

	"github.com/blacktop/dyldcore/macho/format"
)

func textSeg(offset, fileSize uint64) *Segment {
	return &Segment{SegmentHeader: format.SegmentHeader{Name: "__TEXT", Addr: 0x100000000, Size: 0x4000, Offset: offset, FileSize: fileSize}}
}

func baseImage() *Image {
	return &Image{
		Header:    format.FileHeader{Magic: format.Magic64, CPU: format.CPUArm64, SubCPU: format.CPUSubtype(format.CPUSubtypeArm64All), Type: format.MH_EXECUTE, SizeCommands: 64},
		ByteOrder: format.Magic64.ByteOrder(),
		Segments: []*Segment{
			textSeg(0, 0x4000),
			{SegmentHeader: format.SegmentHeader{Name: "__DATA", Addr: 0x100004000, Size: 0x1000, Offset: 0x4000, FileSize: 0x1000}},
			{SegmentHeader: format.SegmentHeader{Name: "__LINKEDIT", Addr: 0x100005000, Size: 0x1000, Offset: 0x5000, FileSize: 0x1000}},
		},
	}
}

func TestValidateAcceptsWellFormedImage(t *testing.T) {
	img := baseImage()
	d := img.Validate(ValidateOptions{Path: "/bin/ok"})
	if d.HasError() {
		t.Fatalf("well-formed image failed validation: %v", d.Records())
	}
}

func TestValidateRejectsArchNotInGradedSet(t *testing.T) {
	img := baseImage()
	d := img.Validate(ValidateOptions{
		Path:  "/bin/wrongarch",
		Archs: []format.GradedArchitecture{{CPU: format.CPUAmd64, SubCPU: format.CPUSubtype(format.CPUSubtypeX8664All), Grade: 1}},
	})
	if !d.HasError() {
		t.Fatal("expected an incompatible-architecture diagnostic")
	}
}

func TestValidateAcceptsArchInGradedSet(t *testing.T) {
	img := baseImage()
	d := img.Validate(ValidateOptions{
		Path:  "/bin/ok",
		Archs: []format.GradedArchitecture{{CPU: format.CPUArm64, SubCPU: format.CPUSubtype(format.CPUSubtypeArm64All), Grade: 1}},
	})
	if d.HasError() {
		t.Fatalf("expected no diagnostic, got %v", d.Records())
	}
}

func TestValidateRejectsTextNotAtFileOffsetZero(t *testing.T) {
	img := baseImage()
	img.Segments[0] = textSeg(0x1000, 0x4000)
	d := img.Validate(ValidateOptions{Path: "/bin/bad"})
	if !d.HasError() {
		t.Fatal("expected a __TEXT-not-at-offset-0 diagnostic")
	}
}

func TestValidateRejectsLoadCommandsPastText(t *testing.T) {
	img := baseImage()
	img.Segments[0] = textSeg(0, 16) // smaller than the header plus SizeCommands
	d := img.Validate(ValidateOptions{Path: "/bin/bad"})
	if !d.HasError() {
		t.Fatal("expected a load-commands-exceed-__TEXT diagnostic")
	}
}

func TestValidateRejectsOverlappingSegments(t *testing.T) {
	img := baseImage()
	img.Segments[1] = &Segment{SegmentHeader: format.SegmentHeader{Name: "__DATA", Addr: 0x100003000, Size: 0x2000, Offset: 0x4000, FileSize: 0x1000}}
	d := img.Validate(ValidateOptions{Path: "/bin/bad"})
	if !d.HasError() {
		t.Fatal("expected an overlapping-segments diagnostic")
	}
}

func TestValidateRejectsNonMonotoneFileOffsets(t *testing.T) {
	img := baseImage()
	img.Segments[1] = &Segment{SegmentHeader: format.SegmentHeader{Name: "__DATA", Addr: 0x100004000, Size: 0x1000, Offset: 0x1000, FileSize: 0x1000}}
	d := img.Validate(ValidateOptions{Path: "/bin/bad"})
	if !d.HasError() {
		t.Fatal("expected a non-monotone-file-offset diagnostic")
	}
}

func TestValidateRejectsLinkeditRangeOutsideSegment(t *testing.T) {
	img := baseImage()
	img.Symtab = &format.SymtabCmd{SymOff: 0x9000, NSyms: 1, StrOff: 0x9100, StrSize: 0x10}
	d := img.Validate(ValidateOptions{Path: "/bin/bad"})
	if !d.HasError() {
		t.Fatal("expected a symbol-table-outside-__LINKEDIT diagnostic")
	}
}

func TestValidateRejectsNonMonotoneDyldInfoStreams(t *testing.T) {
	img := baseImage()
	img.DyldInfo = &format.DyldInfoCmd{
		RebaseOff: 0x5100, RebaseSize: 0x100,
		BindOff: 0x5050, BindSize: 0x50, // starts before the rebase stream ends
	}
	d := img.Validate(ValidateOptions{Path: "/bin/bad"})
	if !d.HasError() {
		t.Fatal("expected a non-monotone dyld-info-streams diagnostic")
	}
}

func TestValidateRejectsUnknownChainedFixupsVersion(t *testing.T) {
	img := baseImage()
	payload := make([]byte, 24)
	img.ByteOrder.PutUint32(payload[0:], 7) // unknown fixups_version
	img.ByteOrder.PutUint32(payload[20:], uint32(format.DCImportFormatImport))
	img.r = bytes.NewReader(payload)
	img.ChainedFixups = &format.LinkeditDataCmd{Cmd: format.LC_DYLD_CHAINED_FIXUPS, DataOffset: 0, DataSize: uint32(len(payload))}
	d := img.Validate(ValidateOptions{Path: "/bin/bad"})
	if !d.HasError() {
		t.Fatal("expected an unknown-fixups_version diagnostic")
	}
}

func TestValidateAcceptsKnownChainedFixupsHeader(t *testing.T) {
	img := baseImage()
	payload := make([]byte, 24)
	img.ByteOrder.PutUint32(payload[20:], uint32(format.DCImportFormatImportAddend64))
	img.r = bytes.NewReader(payload)
	img.ChainedFixups = &format.LinkeditDataCmd{Cmd: format.LC_DYLD_CHAINED_FIXUPS, DataOffset: 0, DataSize: uint32(len(payload))}
	d := img.Validate(ValidateOptions{Path: "/bin/ok"})
	if d.HasError() {
		t.Fatalf("expected no diagnostic, got %v", d.Records())
	}
}

func TestValidateRejectsDisallowedFileType(t *testing.T) {
	img := baseImage()
	img.Header.Type = format.MH_CORE
	d := img.Validate(ValidateOptions{Path: "/bin/bad"})
	if !d.HasError() {
		t.Fatal("expected a disallowed-filetype diagnostic")
	}
}

func TestValidateRejectsWrongPlatformWithoutInternalInstall(t *testing.T) {
	img := baseImage()
	img.BuildVersion = &format.BuildVersionCmd{Platform: format.PlatformIOS}
	d := img.Validate(ValidateOptions{Path: "/bin/bad", RequiredPlatform: format.PlatformMacOS})
	if !d.HasError() {
		t.Fatal("expected a wrong-platform diagnostic")
	}
}

func TestValidateAllowsWrongPlatformUnderInternalInstall(t *testing.T) {
	img := baseImage()
	img.BuildVersion = &format.BuildVersionCmd{Platform: format.PlatformIOS}
	d := img.Validate(ValidateOptions{Path: "/bin/ok", RequiredPlatform: format.PlatformMacOS, InternalInstall: true})
	if d.HasError() {
		t.Fatalf("internal-install process should tolerate a platform mismatch, got %v", d.Records())
	}
}
