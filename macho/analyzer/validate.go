package analyzer

import (
	"github.com/blacktop/dyldcore/diag"
	"github.com/blacktop/dyldcore/macho/format"
)

// ValidateOptions carries the per-process context Validate needs beyond
// what Open already decoded: which (cpu, subtype) pairs this process can
// run, the platform it requires, and the two policy flags that relax an
// otherwise-fatal mismatch (spec §4.1's `validate(slice, path, archs,
// required_platform, is_os_binary, internal_install)`).
type ValidateOptions struct {
	Path             string
	Archs            []format.GradedArchitecture
	RequiredPlatform format.Platform
	IsOSBinary       bool
	InternalInstall  bool

	// SliceSize, if nonzero, is the total byte length of the slice img was
	// opened from. Segment file ranges are checked against it when set;
	// callers that only have a ReaderAt with unknown extent may leave this
	// zero to skip that one check.
	SliceSize int64
}

// Validate enforces every invariant spec §3 lists for a parsed image,
// accumulating Records rather than stopping at the first violation so a
// caller can see the whole picture before rejecting the image. Open already
// performs the load-command-table-level checks (size, NUL termination,
// command bounds); Validate layers the remaining §3 invariants that need
// the fully-decoded Image plus process context Open doesn't have.
func (img *Image) Validate(opts ValidateOptions) *diag.Diagnostics {
	d := diag.New()

	validateArch(img, opts, d)
	validateFileType(img, opts, d)
	validatePlatform(img, opts, d)
	text := validateText(img, opts, d)
	validateLoadCommandsFitText(img, text, d)
	validateSegmentLayout(img, opts, d)
	validateLinkeditRanges(img, opts, d)
	validateChainedFixupsHeader(img, opts, d)

	return d
}

func validateArch(img *Image, opts ValidateOptions, d *diag.Diagnostics) {
	if len(opts.Archs) == 0 {
		return
	}
	for _, a := range opts.Archs {
		if a.CPU == img.Header.CPU && a.SubCPU.Base() == img.Header.SubCPU.Base() {
			return
		}
	}
	d.Error(diag.KindIncompatible, opts.Path, "cpu %s subtype %s is not in the permitted architecture set",
		img.Header.CPU, img.Header.SubCPU.String(img.Header.CPU))
}

func validateFileType(img *Image, opts ValidateOptions, d *diag.Diagnostics) {
	switch img.Header.Type {
	case format.MH_EXECUTE, format.MH_DYLIB, format.MH_DYLIB_STUB, format.MH_BUNDLE, format.MH_DYLINKER, format.MH_FILESET:
		return
	}
	d.Error(diag.KindIncompatible, opts.Path, "filetype %s is not loadable", img.Header.Type)
}

func validatePlatform(img *Image, opts ValidateOptions, d *diag.Diagnostics) {
	if opts.RequiredPlatform == format.PlatformUnknown {
		return
	}
	if img.BuildVersion == nil {
		if !opts.InternalInstall {
			d.Error(diag.KindIncompatible, opts.Path, "no LC_BUILD_VERSION, cannot confirm required platform %s", opts.RequiredPlatform)
		}
		return
	}
	if img.BuildVersion.Platform != opts.RequiredPlatform && !opts.InternalInstall {
		d.Error(diag.KindIncompatible, opts.Path, "built for platform %s, process requires %s",
			img.BuildVersion.Platform, opts.RequiredPlatform)
	}
}

// validateText returns the __TEXT segment (or nil, having already recorded
// the error) and checks that it starts at file offset 0, except for
// MH_PRELOAD images which have no loadable __TEXT at all.
func validateText(img *Image, opts ValidateOptions, d *diag.Diagnostics) *Segment {
	if img.Header.Type == format.MH_PRELOAD {
		return nil
	}
	text := img.FindSegment("__TEXT")
	if text == nil {
		d.Error(diag.KindMalformedMachO, opts.Path, "image has no __TEXT segment")
		return nil
	}
	if text.Offset != 0 {
		d.Error(diag.KindMalformedMachO, opts.Path, "__TEXT starts at file offset %d, not 0", text.Offset)
	}
	return text
}

func validateLoadCommandsFitText(img *Image, text *Segment, d *diag.Diagnostics) {
	if text == nil {
		return
	}
	hdrSize := uint64(format.FileHeaderSize32)
	if img.Header.Magic.Is64() {
		hdrSize = format.FileHeaderSize64
	}
	end := hdrSize + uint64(img.Header.SizeCommands)
	if end > text.FileSize {
		d.Error(diag.KindMalformedMachO, "", "load commands end at file offset %d, past __TEXT's file size %d", end, text.FileSize)
	}
}

func overlaps(aAddr, aSize, bAddr, bSize uint64) bool {
	return aAddr < bAddr+bSize && bAddr < aAddr+aSize
}

// validateSegmentLayout checks spec §8's pairwise-disjoint-in-VM,
// monotone-non-decreasing-file-offset property: for every pair of segments,
// their VM ranges must not overlap, and walking them in load-command order
// their file offsets must never go backwards.
func validateSegmentLayout(img *Image, opts ValidateOptions, d *diag.Diagnostics) {
	for i := 0; i < len(img.Segments); i++ {
		a := img.Segments[i]
		if opts.SliceSize > 0 && a.FileSize > 0 && int64(a.Offset+a.FileSize) > opts.SliceSize {
			d.Error(diag.KindMalformedMachO, opts.Path, "segment %q file range [%d,%d) exceeds slice size %d",
				a.Name, a.Offset, a.Offset+a.FileSize, opts.SliceSize)
		}
		for j := i + 1; j < len(img.Segments); j++ {
			b := img.Segments[j]
			if a.Size == 0 || b.Size == 0 {
				continue
			}
			if overlaps(a.Addr, a.Size, b.Addr, b.Size) {
				d.Error(diag.KindMalformedMachO, opts.Path, "segments %q and %q overlap in VM space", a.Name, b.Name)
			}
		}
		if i > 0 && a.Offset < img.Segments[i-1].Offset {
			d.Error(diag.KindMalformedMachO, opts.Path, "segment %q's file offset %d precedes segment %q's offset %d",
				a.Name, a.Offset, img.Segments[i-1].Name, img.Segments[i-1].Offset)
		}
	}
}

// validateLinkeditRanges checks that every linkedit subrange (symbol table
// plus string pool, and LC_DYLD_INFO's five opcode/export streams) fits
// inside the __LINKEDIT segment, and that LC_DYLD_INFO's streams appear in
// their conventional rebase/bind/weak-bind/lazy-bind/export order.
func validateLinkeditRanges(img *Image, opts ValidateOptions, d *diag.Diagnostics) {
	linkedit := img.FindSegment("__LINKEDIT")
	if linkedit == nil {
		return
	}
	lo, hi := linkedit.Offset, linkedit.Offset+linkedit.FileSize

	within := func(label string, off, size uint32) {
		if size == 0 {
			return
		}
		start, end := uint64(off), uint64(off)+uint64(size)
		if start < lo || end > hi {
			d.Error(diag.KindMalformedMachO, opts.Path, "%s range [%d,%d) lies outside __LINKEDIT [%d,%d)", label, start, end, lo, hi)
		}
	}

	if img.Symtab != nil {
		within("symbol table", img.Symtab.SymOff, img.Symtab.NSyms*16)
		within("string pool", img.Symtab.StrOff, img.Symtab.StrSize)
	}
	if img.Dysymtab != nil {
		within("indirect symbol table", img.Dysymtab.IndirectSymOff, img.Dysymtab.NIndirectSyms*4)
	}
	if img.DyldInfo != nil {
		di := img.DyldInfo
		within("rebase opcodes", di.RebaseOff, di.RebaseSize)
		within("bind opcodes", di.BindOff, di.BindSize)
		within("weak bind opcodes", di.WeakBindOff, di.WeakBindSize)
		within("lazy bind opcodes", di.LazyBindOff, di.LazyBindSize)
		within("export trie", di.ExportOff, di.ExportSize)

		offsets := []uint32{di.RebaseOff, di.BindOff, di.WeakBindOff, di.LazyBindOff, di.ExportOff}
		sizes := []uint32{di.RebaseSize, di.BindSize, di.WeakBindSize, di.LazyBindSize, di.ExportSize}
		var prevEnd uint32
		for i, off := range offsets {
			if sizes[i] == 0 {
				continue
			}
			if off < prevEnd {
				d.Error(diag.KindMalformedMachO, opts.Path, "LC_DYLD_INFO streams are not monotone: offset %d precedes earlier stream's end %d", off, prevEnd)
			}
			prevEnd = off + sizes[i]
		}
	}
	for _, l := range []*format.LinkeditDataCmd{img.ChainedFixups, img.ExportsTrie, img.CodeSignature, img.FunctionStarts, img.DataInCode} {
		if l != nil {
			within(l.Cmd.String(), l.DataOffset, l.DataSize)
		}
	}
}

// validateChainedFixupsHeader checks the parts of LC_DYLD_CHAINED_FIXUPS'
// header spec §3 requires to be "known": fixups_version and imports_format.
// Per-segment page size, per-page chain-start ordering and overflow-index
// bounds are checked by ForEachChainedTarget at walk time instead of being
// duplicated here, since
// they require decoding the same per-segment starts table that walk already
// decodes.
func validateChainedFixupsHeader(img *Image, opts ValidateOptions, d *diag.Diagnostics) {
	if img.ChainedFixups == nil {
		return
	}
	raw, err := img.LinkeditBytes(img.ChainedFixups)
	if err != nil || len(raw) < 24 {
		d.Error(diag.KindMalformedMachO, opts.Path, "chained fixups header unreadable: %v", err)
		return
	}
	bo := img.ByteOrder
	version := bo.Uint32(raw[0:])
	if version != 0 {
		d.Error(diag.KindMalformedMachO, opts.Path, "chained fixups header has unknown fixups_version %d", version)
	}
	switch format.DCImportsFormat(bo.Uint32(raw[20:])) {
	case format.DCImportFormatImport, format.DCImportFormatImportAddend, format.DCImportFormatImportAddend64:
	default:
		d.Error(diag.KindMalformedMachO, opts.Path, "chained fixups header has unknown imports_format %d", bo.Uint32(raw[20:]))
	}
}
