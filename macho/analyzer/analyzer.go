// Package analyzer implements §4.1's Mach-O Analyzer: load-command
// validation and the fallible ForEach* walkers over segments, sections,
// dependents, rpaths, and the rebase/bind/chained-fixup streams. It is the
// read-only half of the pipeline — nothing here mutates mapped bytes, that
// is fixup's job.
package analyzer

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/blacktop/dyldcore/diag"
	"github.com/blacktop/dyldcore/macho/format"
)

// Image is a parsed, validated Mach-O slice: one architecture's worth of
// load commands plus a handle back to its bytes for on-demand section/
// linkedit reads. It corresponds to spec §3's "Mach-O image" data model —
// immutable once built, built once per mapped file.
type Image struct {
	Header  format.FileHeader
	ByteOrder binary.ByteOrder

	Segments []*Segment
	Dylibs   []format.DylibCmd
	RPaths   []string
	UUID     format.UUID
	EntryPoint *format.EntryPointCmd
	UnixThread *format.UnixThreadCmd
	BuildVersion *format.BuildVersionCmd

	Symtab   *format.SymtabCmd
	Dysymtab *format.DysymtabCmd

	DyldInfo       *format.DyldInfoCmd
	ChainedFixups  *format.LinkeditDataCmd
	ExportsTrie    *format.LinkeditDataCmd
	CodeSignature  *format.LinkeditDataCmd
	FunctionStarts *format.LinkeditDataCmd
	DataInCode     *format.LinkeditDataCmd

	// DuplicateLoadCommands counts singleton load commands (LC_SYMTAB,
	// LC_UUID, LC_DYLD_INFO, LC_MAIN, ...) seen more than once. The first
	// occurrence wins per spec's load-command resolution rule; later ones
	// are ignored but still counted here rather than silently dropped.
	DuplicateLoadCommands int

	r      io.ReaderAt
	base   int64 // file offset this slice starts at (0 for thin, fat-arch offset for a fat slice)
}

// Segment is a fully decoded LC_SEGMENT/LC_SEGMENT_64 plus its sections.
type Segment struct {
	format.SegmentHeader
	Sections []format.Section
}

// Open parses the Mach-O image readable through r, validating every load
// command it recognizes and returning whatever Diagnostics it accumulated
// along the way (malformed-but-partially-usable images are still returned;
// the caller decides whether Diagnostics.HasError() is disqualifying).
func Open(r io.ReaderAt) (*Image, *diag.Diagnostics, error) {
	d := diag.New()

	var magicBuf [4]byte
	if _, err := r.ReadAt(magicBuf[:], 0); err != nil {
		return nil, d, fmt.Errorf("reading magic: %w", err)
	}
	magic := format.Magic(binary.BigEndian.Uint32(magicBuf[:]))
	if magic == format.MagicFat {
		return nil, d, fmt.Errorf("fat binary: select a slice first (see OpenFatSlice)")
	}
	if magic != format.Magic32 && magic != format.Magic64 {
		return nil, d, fmt.Errorf("not a Mach-O file: bad magic 0x%x", binary.BigEndian.Uint32(magicBuf[:]))
	}

	bo := magic.ByteOrder()
	hdrSize := format.FileHeaderSize64
	if !magic.Is64() {
		hdrSize = format.FileHeaderSize32
	}
	hdr := make([]byte, hdrSize)
	if _, err := r.ReadAt(hdr, 0); err != nil {
		return nil, d, fmt.Errorf("reading header: %w", err)
	}

	img := &Image{
		ByteOrder: bo,
		r:         r,
		Header: format.FileHeader{
			Magic:        magic,
			CPU:          format.CPU(bo.Uint32(hdr[4:])),
			SubCPU:       format.CPUSubtype(bo.Uint32(hdr[8:])),
			Type:         format.FileType(bo.Uint32(hdr[12:])),
			NCommands:    bo.Uint32(hdr[16:]),
			SizeCommands: bo.Uint32(hdr[20:]),
			Flags:        format.HeaderFlag(bo.Uint32(hdr[24:])),
		},
	}

	lcData := make([]byte, img.Header.SizeCommands)
	if _, err := r.ReadAt(lcData, int64(hdrSize)); err != nil {
		return nil, d, fmt.Errorf("reading load commands: %w", err)
	}

	off := 0
	seenUnixThread, seenMain := false, false
	for i := uint32(0); i < img.Header.NCommands; i++ {
		if off+8 > len(lcData) {
			d.Error(diag.KindMalformedMachO, "", "load command %d starts past end of command area", i)
			break
		}
		cmd := format.LoadCmd(bo.Uint32(lcData[off:]))
		size := bo.Uint32(lcData[off+4:])
		if size < 8 || int(size) > len(lcData)-off {
			d.Error(diag.KindMalformedMachO, "", "load command %d (%s) has invalid size %d", i, cmd, size)
			break
		}
		body := lcData[off : off+int(size)]

		switch cmd {
		case format.LC_SEGMENT_64:
			seg, err := parseSegment64(body, bo)
			if err != nil {
				d.Error(diag.KindMalformedMachO, "", "segment %d: %v", i, err)
			} else {
				img.Segments = append(img.Segments, seg)
			}
		case format.LC_SEGMENT:
			seg, err := parseSegment32(body, bo)
			if err != nil {
				d.Error(diag.KindMalformedMachO, "", "segment %d: %v", i, err)
			} else {
				img.Segments = append(img.Segments, seg)
			}
		case format.LC_SYMTAB:
			if img.Symtab != nil {
				img.DuplicateLoadCommands++
				break
			}
			if len(body) < 24 {
				d.Error(diag.KindMalformedMachO, "", "LC_SYMTAB too short")
				break
			}
			img.Symtab = &format.SymtabCmd{
				SymOff:  bo.Uint32(body[8:]),
				NSyms:   bo.Uint32(body[12:]),
				StrOff:  bo.Uint32(body[16:]),
				StrSize: bo.Uint32(body[20:]),
			}
		case format.LC_DYSYMTAB:
			if img.Dysymtab != nil {
				img.DuplicateLoadCommands++
				break
			}
			if len(body) < 80 {
				d.Error(diag.KindMalformedMachO, "", "LC_DYSYMTAB too short")
				break
			}
			img.Dysymtab = &format.DysymtabCmd{
				ILocalSym:      bo.Uint32(body[8:]),
				NLocalSym:      bo.Uint32(body[12:]),
				IExtDefSym:     bo.Uint32(body[16:]),
				NExtDefSym:     bo.Uint32(body[20:]),
				IUndefSym:      bo.Uint32(body[24:]),
				NUndefSym:      bo.Uint32(body[28:]),
				IndirectSymOff: bo.Uint32(body[60:]),
				NIndirectSyms:  bo.Uint32(body[64:]),
			}
		case format.LC_LOAD_DYLIB, format.LC_ID_DYLIB, format.LC_LOAD_WEAK_DYLIB,
			format.LC_REEXPORT_DYLIB, format.LC_LOAD_UPWARD_DYLIB, format.LC_LAZY_LOAD_DYLIB:
			dy, err := parseDylib(cmd, body, bo)
			if err != nil {
				d.Error(diag.KindMalformedMachO, "", "dylib command %d: %v", i, err)
				break
			}
			img.Dylibs = append(img.Dylibs, dy)
		case format.LC_RPATH:
			nameOff := bo.Uint32(body[8:])
			if int(nameOff) >= len(body) {
				d.Error(diag.KindMalformedMachO, "", "LC_RPATH name offset out of range")
				break
			}
			rpath := cstring(body[nameOff:])
			if len(rpath) == len(body)-int(nameOff) {
				d.Error(diag.KindMalformedMachO, "", "LC_RPATH name is not NUL-terminated")
				break
			}
			img.RPaths = append(img.RPaths, rpath)
		case format.LC_UUID:
			if !img.UUID.IsZero() {
				img.DuplicateLoadCommands++
				break
			}
			if len(body) < 24 {
				d.Error(diag.KindMalformedMachO, "", "LC_UUID too short")
				break
			}
			copy(img.UUID[:], body[8:24])
		case format.LC_DYLD_INFO, format.LC_DYLD_INFO_ONLY:
			if img.DyldInfo != nil {
				img.DuplicateLoadCommands++
				break
			}
			if len(body) < 48 {
				d.Error(diag.KindMalformedMachO, "", "LC_DYLD_INFO too short")
				break
			}
			img.DyldInfo = &format.DyldInfoCmd{
				RebaseOff: bo.Uint32(body[8:]), RebaseSize: bo.Uint32(body[12:]),
				BindOff: bo.Uint32(body[16:]), BindSize: bo.Uint32(body[20:]),
				WeakBindOff: bo.Uint32(body[24:]), WeakBindSize: bo.Uint32(body[28:]),
				LazyBindOff: bo.Uint32(body[32:]), LazyBindSize: bo.Uint32(body[36:]),
				ExportOff: bo.Uint32(body[40:]), ExportSize: bo.Uint32(body[44:]),
			}
		case format.LC_DYLD_CHAINED_FIXUPS:
			if img.ChainedFixups != nil {
				img.DuplicateLoadCommands++
				break
			}
			img.ChainedFixups = parseLinkeditData(cmd, body, bo)
		case format.LC_DYLD_EXPORTS_TRIE:
			if img.ExportsTrie != nil {
				img.DuplicateLoadCommands++
				break
			}
			img.ExportsTrie = parseLinkeditData(cmd, body, bo)
		case format.LC_CODE_SIGNATURE:
			if img.CodeSignature != nil {
				img.DuplicateLoadCommands++
				break
			}
			img.CodeSignature = parseLinkeditData(cmd, body, bo)
		case format.LC_FUNCTION_STARTS:
			if img.FunctionStarts != nil {
				img.DuplicateLoadCommands++
				break
			}
			img.FunctionStarts = parseLinkeditData(cmd, body, bo)
		case format.LC_DATA_IN_CODE:
			if img.DataInCode != nil {
				img.DuplicateLoadCommands++
				break
			}
			img.DataInCode = parseLinkeditData(cmd, body, bo)
		case format.LC_MAIN:
			if seenUnixThread {
				d.Error(diag.KindMalformedMachO, "", "image has both LC_MAIN and LC_UNIXTHREAD")
			}
			if img.EntryPoint != nil {
				img.DuplicateLoadCommands++
				break
			}
			if len(body) < 24 {
				d.Error(diag.KindMalformedMachO, "", "LC_MAIN too short")
				break
			}
			img.EntryPoint = &format.EntryPointCmd{
				EntryOff:  bo.Uint64(body[8:]),
				StackSize: bo.Uint64(body[16:]),
			}
			seenMain = true
		case format.LC_UNIXTHREAD, format.LC_THREAD:
			if seenMain {
				d.Error(diag.KindMalformedMachO, "", "image has both LC_MAIN and LC_UNIXTHREAD")
			}
			if img.UnixThread != nil {
				img.DuplicateLoadCommands++
				break
			}
			ut, err := parseUnixThread(body, bo, img.Header.CPU)
			if err != nil {
				d.Warn("", "LC_UNIXTHREAD: %v", err)
				break
			}
			img.UnixThread = ut
			seenUnixThread = true
		case format.LC_BUILD_VERSION:
			if img.BuildVersion != nil {
				img.DuplicateLoadCommands++
				break
			}
			if len(body) < 24 {
				d.Error(diag.KindMalformedMachO, "", "LC_BUILD_VERSION too short")
				break
			}
			img.BuildVersion = &format.BuildVersionCmd{
				Platform: format.Platform(bo.Uint32(body[8:])),
				MinOS:    format.Version(bo.Uint32(body[12:])),
				SDK:      format.Version(bo.Uint32(body[16:])),
			}
		}

		off += int(size)
	}

	if img.Header.Type == format.MH_EXECUTE && img.EntryPoint == nil && img.UnixThread == nil &&
		(img.BuildVersion == nil || img.BuildVersion.Platform != format.PlatformDriverKit) {
		d.Error(diag.KindMalformedMachO, "", "executable has neither LC_MAIN nor LC_UNIXTHREAD")
	}

	return img, d, nil
}

func parseLinkeditData(cmd format.LoadCmd, body []byte, bo binary.ByteOrder) *format.LinkeditDataCmd {
	if len(body) < 16 {
		return nil
	}
	return &format.LinkeditDataCmd{Cmd: cmd, DataOffset: bo.Uint32(body[8:]), DataSize: bo.Uint32(body[12:])}
}

func parseDylib(cmd format.LoadCmd, body []byte, bo binary.ByteOrder) (format.DylibCmd, error) {
	if len(body) < 24 {
		return format.DylibCmd{}, fmt.Errorf("dylib command too short")
	}
	nameOff := bo.Uint32(body[8:])
	if int(nameOff) >= len(body) {
		return format.DylibCmd{}, fmt.Errorf("dylib name offset out of range")
	}
	name := cstring(body[nameOff:])
	if len(name) == len(body)-int(nameOff) {
		return format.DylibCmd{}, fmt.Errorf("dylib name is not NUL-terminated")
	}
	return format.DylibCmd{
		Cmd:            cmd,
		Name:           name,
		Timestamp:      bo.Uint32(body[12:]),
		CurrentVersion: format.Version(bo.Uint32(body[16:])),
		CompatVersion:  format.Version(bo.Uint32(body[20:])),
	}, nil
}

func parseUnixThread(body []byte, bo binary.ByteOrder, cpu format.CPU) (*format.UnixThreadCmd, error) {
	if len(body) < 16 {
		return nil, fmt.Errorf("too short")
	}
	flavor := bo.Uint32(body[8:])
	state := body[16:]
	var entry uint64
	switch cpu {
	case format.CPUAmd64:
		// x86_THREAD_STATE64: rip is the 17th uint64 (index 16).
		if len(state) >= 17*8 {
			entry = bo.Uint64(state[16*8:])
		}
	case format.CPUArm64:
		// arm_thread_state64_t: pc follows x0-x28, fp, lr and sp (index 32).
		if len(state) >= 33*8 {
			entry = bo.Uint64(state[32*8:])
		}
	}
	return &format.UnixThreadCmd{Flavor: flavor, EntryPoint: entry}, nil
}

func parseSegment64(body []byte, bo binary.ByteOrder) (*Segment, error) {
	if len(body) < 72 {
		return nil, fmt.Errorf("LC_SEGMENT_64 too short")
	}
	seg := &Segment{SegmentHeader: format.SegmentHeader{
		Name:     cstring16(body[8:24]),
		Addr:     bo.Uint64(body[24:]),
		Size:     bo.Uint64(body[32:]),
		Offset:   bo.Uint64(body[40:]),
		FileSize: bo.Uint64(body[48:]),
		MaxProt:  format.VmProtection(bo.Uint32(body[56:])),
		InitProt: format.VmProtection(bo.Uint32(body[60:])),
		NumSect:  bo.Uint32(body[64:]),
		Flags:    format.SegFlag(bo.Uint32(body[68:])),
	}}
	const hdrLen = 72
	const secLen = 80
	for i := uint32(0); i < seg.NumSect; i++ {
		off := hdrLen + int(i)*secLen
		if off+secLen > len(body) {
			return seg, fmt.Errorf("section %d out of range", i)
		}
		s := body[off : off+secLen]
		seg.Sections = append(seg.Sections, format.Section{
			Name:      cstring16(s[0:16]),
			SegName:   cstring16(s[16:32]),
			Addr:      bo.Uint64(s[32:]),
			Size:      bo.Uint64(s[40:]),
			Offset:    bo.Uint32(s[48:]),
			Align:     bo.Uint32(s[52:]),
			RelOff:    bo.Uint32(s[56:]),
			NReloc:    bo.Uint32(s[60:]),
			Flags:     format.SectionFlag(bo.Uint32(s[64:])),
			Reserved1: bo.Uint32(s[68:]),
			Reserved2: bo.Uint32(s[72:]),
		})
	}
	return seg, nil
}

func parseSegment32(body []byte, bo binary.ByteOrder) (*Segment, error) {
	if len(body) < 56 {
		return nil, fmt.Errorf("LC_SEGMENT too short")
	}
	seg := &Segment{SegmentHeader: format.SegmentHeader{
		Name:     cstring16(body[8:24]),
		Addr:     uint64(bo.Uint32(body[24:])),
		Size:     uint64(bo.Uint32(body[28:])),
		Offset:   uint64(bo.Uint32(body[32:])),
		FileSize: uint64(bo.Uint32(body[36:])),
		MaxProt:  format.VmProtection(bo.Uint32(body[40:])),
		InitProt: format.VmProtection(bo.Uint32(body[44:])),
		NumSect:  bo.Uint32(body[48:]),
		Flags:    format.SegFlag(bo.Uint32(body[52:])),
	}}
	const hdrLen = 56
	const secLen = 68
	for i := uint32(0); i < seg.NumSect; i++ {
		off := hdrLen + int(i)*secLen
		if off+secLen > len(body) {
			return seg, fmt.Errorf("section %d out of range", i)
		}
		s := body[off : off+secLen]
		seg.Sections = append(seg.Sections, format.Section{
			Name:      cstring16(s[0:16]),
			SegName:   cstring16(s[16:32]),
			Addr:      uint64(bo.Uint32(s[32:])),
			Size:      uint64(bo.Uint32(s[36:])),
			Offset:    bo.Uint32(s[40:]),
			Align:     bo.Uint32(s[44:]),
			RelOff:    bo.Uint32(s[48:]),
			NReloc:    bo.Uint32(s[52:]),
			Flags:     format.SectionFlag(bo.Uint32(s[56:])),
			Reserved1: bo.Uint32(s[60:]),
			Reserved2: bo.Uint32(s[64:]),
		})
	}
	return seg, nil
}

func cstring16(b []byte) string { return cstring(b) }

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// ForEachSegment visits every segment in load-command order until fn
// returns Stop.
func (img *Image) ForEachSegment(fn func(*Segment) ControlFlow) {
	for _, s := range img.Segments {
		if fn(s) == Stop {
			return
		}
	}
}

// ForEachSection visits every section of every segment in order.
func (img *Image) ForEachSection(fn func(*Segment, *format.Section) ControlFlow) {
	for _, seg := range img.Segments {
		for i := range seg.Sections {
			if fn(seg, &seg.Sections[i]) == Stop {
				return
			}
		}
	}
}

// ForEachDependent visits every dylib-load command (including weak/upward/
// re-export/lazy variants but excluding LC_ID_DYLIB, which names this image
// itself rather than a dependency).
func (img *Image) ForEachDependent(fn func(format.DylibCmd) ControlFlow) {
	for _, dy := range img.Dylibs {
		if dy.Cmd == format.LC_ID_DYLIB {
			continue
		}
		if fn(dy) == Stop {
			return
		}
	}
}

// ID returns this image's own LC_ID_DYLIB record, if it is a dylib.
func (img *Image) ID() (format.DylibCmd, bool) {
	for _, dy := range img.Dylibs {
		if dy.Cmd == format.LC_ID_DYLIB {
			return dy, true
		}
	}
	return format.DylibCmd{}, false
}

// ForEachRpath visits every LC_RPATH string in order.
func (img *Image) ForEachRpath(fn func(string) ControlFlow) {
	for _, rp := range img.RPaths {
		if fn(rp) == Stop {
			return
		}
	}
}

// FindSegment returns the named segment, or nil.
func (img *Image) FindSegment(name string) *Segment {
	for _, s := range img.Segments {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// FileOffsetForAddr converts a vmaddr to a file offset by locating the
// containing segment, the way dyld's MachOAnalyzer::segmentForAddress does.
func (img *Image) FileOffsetForAddr(addr uint64) (uint64, bool) {
	for _, s := range img.Segments {
		if addr >= s.Addr && addr < s.Addr+s.Size {
			return s.Offset + (addr - s.Addr), true
		}
	}
	return 0, false
}

// ReadAt reads n bytes at file offset off from the underlying image bytes.
func (img *Image) ReadAt(off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := img.r.ReadAt(buf, img.base+off); err != nil {
		return nil, err
	}
	return buf, nil
}

// LinkeditBytes reads a LinkeditDataCmd's payload.
func (img *Image) LinkeditBytes(l *format.LinkeditDataCmd) ([]byte, error) {
	if l == nil {
		return nil, nil
	}
	return img.ReadAt(int64(l.DataOffset), int(l.DataSize))
}
