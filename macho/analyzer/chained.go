package analyzer

import (
	"encoding/binary"
	"fmt"

	"github.com/blacktop/dyldcore/macho/format"
)

// ChainedTarget is one decoded chained-fixup slot: either a rebase (add
// slide to a packed target, optionally under a PMD) or a bind (resolve
// Symbol via Ordinal, optionally under a PMD, plus Addend).
type ChainedTarget struct {
	SegIndex  int
	PageIndex int
	Address   uint64 // vmaddr of the fixup slot
	IsBind    bool

	RebaseTarget uint64 // meaningful when !IsBind: unslid target, PMD.Sign applied by the fixup engine when Auth
	LibOrdinal   int    // meaningful when IsBind
	Symbol       string // meaningful when IsBind
	WeakImport   bool   // meaningful when IsBind
	Addend       int64

	PMD format.PMD
}

// strideFor returns the byte distance between successive words of a
// "next" count for a pointer format — chain "next" fields are word counts,
// and arm64e's packed words are always 8 bytes wide while the generic
// 32/64 formats advance in 4-byte words.
func strideFor(k format.DCPtrKind) uint64 {
	switch k {
	case format.DCPtrArm64E, format.DCPtrArm64EOffset, format.DCPtrArm64EUserland,
		format.DCPtrArm64EFirmware, format.DCPtrArm64EUserland24:
		return 8
	}
	return 4
}

// ForEachChainedTarget decodes every fixup recorded by LC_DYLD_CHAINED_FIXUPS,
// walking each segment's per-page chains (including START_MULTI overflow
// lists) the way dyld's own chain walker does, per spec §4.4.B.
func (img *Image) ForEachChainedTarget(fn func(ChainedTarget) ControlFlow) error {
	if img.ChainedFixups == nil {
		return nil
	}
	raw, err := img.LinkeditBytes(img.ChainedFixups)
	if err != nil {
		return fmt.Errorf("reading chained fixups: %w", err)
	}
	if len(raw) < 24 {
		return fmt.Errorf("chained fixups payload too short")
	}
	bo := img.ByteOrder
	hdr := format.DyldChainedFixupsHeader{
		FixupsVersion: bo.Uint32(raw[0:]),
		StartsOffset:  bo.Uint32(raw[4:]),
		ImportsOffset: bo.Uint32(raw[8:]),
		SymbolsOffset: bo.Uint32(raw[12:]),
		ImportsCount:  bo.Uint32(raw[16:]),
		ImportsFormat: format.DCImportsFormat(bo.Uint32(raw[20:])),
	}

	imports, err := decodeImports(raw, hdr, bo)
	if err != nil {
		return err
	}

	if int(hdr.StartsOffset) >= len(raw) {
		return fmt.Errorf("chained fixups: starts offset out of range")
	}
	startsData := raw[hdr.StartsOffset:]
	if len(startsData) < 4 {
		return fmt.Errorf("chained fixups: starts-in-image too short")
	}
	segCount := bo.Uint32(startsData[0:])

	for segIdx := uint32(0); segIdx < segCount; segIdx++ {
		offPos := 4 + int(segIdx)*4
		if offPos+4 > len(startsData) {
			return fmt.Errorf("chained fixups: segment offset table truncated")
		}
		segInfoOff := bo.Uint32(startsData[offPos:])
		if segInfoOff == 0 {
			continue // segment has no chained fixups
		}
		if int(segInfoOff) >= len(startsData) {
			return fmt.Errorf("chained fixups: segment %d info offset out of range", segIdx)
		}
		seg, err := decodeStartsInSegment(startsData[segInfoOff:], bo)
		if err != nil {
			return fmt.Errorf("chained fixups: segment %d: %w", segIdx, err)
		}
		if int(segIdx) >= len(img.Segments) {
			return fmt.Errorf("chained fixups: segment index %d has no matching LC_SEGMENT_64", segIdx)
		}
		stride := strideFor(seg.PointerFormat)
		pageSize := int(seg.PageSize)
		if pageSize != 0x1000 && pageSize != 0x4000 {
			return fmt.Errorf("chained fixups: segment %d has unsupported page size %d", segIdx, pageSize)
		}

		for page := uint16(0); page < seg.PageCount; page++ {
			start := seg.PageStart[page]
			if start == format.DCPtrStartNone {
				continue
			}
			pageVMAddr := img.Segments[segIdx].Addr + seg.SegmentOffset + uint64(page)*uint64(pageSize)
			pageFileOff := img.Segments[segIdx].Offset + seg.SegmentOffset + uint64(page)*uint64(pageSize)
			buf, err := img.ReadAt(int64(pageFileOff), pageSize)
			if err != nil {
				return fmt.Errorf("chained fixups: reading page %d of segment %d: %w", page, segIdx, err)
			}

			var starts []uint16
			if start&format.DCPtrStartMulti != 0 {
				overflowIdx := int(start &^ format.DCPtrStartMulti)
				for {
					entryPos := int(seg.PageCount) + overflowIdx
					if entryPos >= len(seg.PageStart) {
						return fmt.Errorf("chained fixups: overflow index out of range")
					}
					entry := seg.PageStart[entryPos]
					starts = append(starts, entry&^format.DCPtrStartLast)
					if entry&format.DCPtrStartLast != 0 {
						break
					}
					overflowIdx++
				}
			} else {
				starts = []uint16{start}
			}
			for i := 1; i < len(starts); i++ {
				if starts[i] <= starts[i-1] {
					return fmt.Errorf("chained fixups: chain starts on page %d of segment %d are not in ascending order", page, segIdx)
				}
			}

			for _, s := range starts {
				stop, err := walkChain(buf, bo, seg.PointerFormat, stride, int(segIdx), int(page),
					pageVMAddr, uint64(s), imports, fn)
				if err != nil {
					return err
				}
				if stop {
					return nil
				}
			}
		}
	}
	return nil
}

func walkChain(page []byte, bo binary.ByteOrder, kind format.DCPtrKind, stride uint64, segIdx, pageIdx int,
	pageVMAddr, offsetInPage uint64, imports []chainedImport, fn func(ChainedTarget) ControlFlow) (bool, error) {
	off := offsetInPage
	for {
		if kind.Is64Bit() {
			if off+8 > uint64(len(page)) {
				return false, fmt.Errorf("chain walk: offset %d out of page bounds", off)
			}
		} else if off+4 > uint64(len(page)) {
			return false, fmt.Errorf("chain walk: offset %d out of page bounds", off)
		}

		var raw uint64
		if kind.Is64Bit() {
			raw = bo.Uint64(page[off:])
		} else {
			raw = uint64(bo.Uint32(page[off:]))
		}

		target, next, err := decodeChainWord(kind, raw, imports)
		if err != nil {
			return false, err
		}
		target.SegIndex = segIdx
		target.PageIndex = pageIdx
		target.Address = pageVMAddr + off

		if fn(target) == Stop {
			return true, nil
		}
		if next == 0 {
			return false, nil
		}
		off += next * stride
	}
}

func decodeChainWord(kind format.DCPtrKind, raw uint64, imports []chainedImport) (ChainedTarget, uint64, error) {
	switch kind {
	case format.DCPtrArm64E, format.DCPtrArm64EUserland, format.DCPtrArm64EOffset, format.DCPtrArm64EFirmware:
		plainRebase := format.DyldChainedPtrArm64eRebase(raw)
		authRebase := format.DyldChainedPtrArm64eAuthRebase(raw)
		isAuth := authRebase.Auth()
		isBind := plainRebase.Bind()
		if isAuth {
			if isBind {
				ab := format.DyldChainedPtrArm64eAuthBind(raw)
				t, err := bindTarget(int(ab.Ordinal()), 0, imports)
				t.PMD = format.PMD{Auth: true, Diversity: ab.Diversity(), AddrDiv: ab.AddrDiv(), Key: ab.Key()}
				return t, ab.Next(), err
			}
			ar := authRebase
			return ChainedTarget{
				RebaseTarget: ar.Target(),
				PMD:          format.PMD{Auth: true, Diversity: ar.Diversity(), AddrDiv: ar.AddrDiv(), Key: ar.Key()},
			}, ar.Next(), nil
		}
		if isBind {
			b := format.DyldChainedPtrArm64eBind(raw)
			t, err := bindTarget(int(b.Ordinal()), b.Addend(), imports)
			return t, b.Next(), err
		}
		r := plainRebase
		return ChainedTarget{RebaseTarget: r.Target() | (r.High8() << 56)}, r.Next(), nil

	case format.DCPtr64, format.DCPtr64Offset:
		rebase := format.DyldChainedPtr64Rebase(raw)
		if rebase.Bind() {
			b := format.DyldChainedPtr64Bind(raw)
			t, err := bindTarget(int(b.Ordinal()), int64(b.Addend()), imports)
			return t, b.Next(), err
		}
		return ChainedTarget{RebaseTarget: rebase.Target() | (rebase.High8() << 36)}, rebase.Next(), nil

	case format.DCPtr32, format.DCPtr32Cache, format.DCPtr32Firmware:
		rebase := format.DyldChainedPtr32Rebase(raw)
		if rebase.Bind() {
			b := format.DyldChainedPtr32Bind(raw)
			t, err := bindTarget(int(b.Ordinal()), int64(b.Addend()), imports)
			return t, uint64(b.Next()), err
		}
		return ChainedTarget{RebaseTarget: uint64(rebase.Target())}, uint64(rebase.Next()), nil
	}
	return ChainedTarget{}, 0, fmt.Errorf("unsupported chained pointer format %s", kind)
}

func bindTarget(ordinalIdx int, addend int64, imports []chainedImport) (ChainedTarget, error) {
	if ordinalIdx < 0 || ordinalIdx >= len(imports) {
		return ChainedTarget{}, fmt.Errorf("chained bind: import index %d out of range (have %d)", ordinalIdx, len(imports))
	}
	imp := imports[ordinalIdx]
	return ChainedTarget{IsBind: true, LibOrdinal: imp.libOrdinal, Symbol: imp.symbol, WeakImport: imp.weak, Addend: addend + imp.addend}, nil
}

type chainedImport struct {
	libOrdinal int
	weak       bool
	addend     int64
	symbol     string
}

func decodeImports(raw []byte, hdr format.DyldChainedFixupsHeader, bo binary.ByteOrder) ([]chainedImport, error) {
	imports := make([]chainedImport, 0, hdr.ImportsCount)
	entrySize := 4
	switch hdr.ImportsFormat {
	case format.DCImportFormatImport:
		entrySize = 4
	case format.DCImportFormatImportAddend:
		entrySize = 8 // a DyldChainedImport (4 bytes) followed by a trailing int32 addend
	case format.DCImportFormatImportAddend64:
		entrySize = 16 // a DyldChainedImport64 (8 bytes) followed by a trailing int64 addend
	default:
		return nil, fmt.Errorf("chained fixups: unsupported imports format %d", hdr.ImportsFormat)
	}

	for i := uint32(0); i < hdr.ImportsCount; i++ {
		pos := int(hdr.ImportsOffset) + int(i)*entrySize
		if pos+entrySize > len(raw) {
			return nil, fmt.Errorf("chained fixups: import %d out of range", i)
		}
		var imp chainedImport
		var nameOffset uint64
		switch hdr.ImportsFormat {
		case format.DCImportFormatImportAddend64:
			raw64 := format.DyldChainedImport64(bo.Uint64(raw[pos:]))
			imp.libOrdinal = int(raw64.LibOrdinal())
			imp.weak = raw64.WeakImport()
			nameOffset = raw64.NameOffset()
			addend := format.DyldChainedImportAddend64{Addend: int64(bo.Uint64(raw[pos+8:]))}
			imp.addend = addend.Addend
		case format.DCImportFormatImportAddend:
			raw32 := format.DyldChainedImport(bo.Uint32(raw[pos:]))
			imp.libOrdinal = int(raw32.LibOrdinal())
			imp.weak = raw32.WeakImport()
			nameOffset = uint64(raw32.NameOffset())
			addend := format.DyldChainedImportAddend{Addend: int32(bo.Uint32(raw[pos+4:]))}
			imp.addend = int64(addend.Addend)
		default:
			raw32 := format.DyldChainedImport(bo.Uint32(raw[pos:]))
			imp.libOrdinal = int(raw32.LibOrdinal())
			imp.weak = raw32.WeakImport()
			nameOffset = uint64(raw32.NameOffset())
		}
		namePos := int(hdr.SymbolsOffset) + int(nameOffset)
		if namePos < len(raw) {
			name, _, err := format.ReadCString(raw, namePos)
			if err == nil {
				imp.symbol = name
			}
		}
		imports = append(imports, imp)
	}
	return imports, nil
}

func decodeStartsInSegment(data []byte, bo binary.ByteOrder) (format.DyldChainedStartsInSegment, error) {
	if len(data) < 22 {
		return format.DyldChainedStartsInSegment{}, fmt.Errorf("starts-in-segment too short")
	}
	seg := format.DyldChainedStartsInSegment{
		Size:            bo.Uint32(data[0:]),
		PageSize:        bo.Uint16(data[4:]),
		PointerFormat:   format.DCPtrKind(bo.Uint16(data[6:])),
		SegmentOffset:   bo.Uint64(data[8:]),
		MaxValidPointer: bo.Uint32(data[16:]),
		PageCount:       bo.Uint16(data[20:]),
	}
	// seg.Size covers the whole struct including any overflow entries past
	// PageCount, so the page_start array (plus overflow) is (Size-22)/2
	// entries wide.
	total := int(seg.Size-22) / 2
	if total < int(seg.PageCount) {
		total = int(seg.PageCount)
	}
	if 22+total*2 > len(data) {
		total = (len(data) - 22) / 2
	}
	seg.PageStart = make([]uint16, total)
	for i := 0; i < total; i++ {
		seg.PageStart[i] = bo.Uint16(data[22+i*2:])
	}
	return seg, nil
}
