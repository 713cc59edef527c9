package fixup

import (
	"bytes"
	"testing"

	"github.com/blacktop/dyldcore/diag"
	"github.com/blacktop/dyldcore/loader"
	"github.com/blacktop/dyldcore/macho/analyzer"
	"github.com/blacktop/dyldcore/macho/format"
)

// buildRebaseImage assembles a minimal 64-bit Mach-O: one __TEXT segment
// mapping file offset 0 at vmaddr 0x100000000, an on-disk pointer value
// sitting at file offset 0x1000 (vmaddr 0x100001000), and an
// LC_DYLD_INFO_ONLY rebase stream with a single POINTER rebase targeting
// that location.
func buildRebaseImage(t *testing.T, onDiskPointer uint64) *analyzer.Image {
	t.Helper()
	bo := format.Magic64.ByteOrder()

	const segCmdSize = 72
	const dyldInfoCmdSize = 48
	sizeCmds := uint32(segCmdSize + dyldInfoCmdSize)

	buf := make([]byte, 0x3100)

	bo.PutUint32(buf[0:], uint32(format.Magic64))
	bo.PutUint32(buf[4:], uint32(format.CPUArm64))
	bo.PutUint32(buf[8:], uint32(format.CPUSubtypeArm64All))
	bo.PutUint32(buf[12:], uint32(format.MH_DYLIB))
	bo.PutUint32(buf[16:], 2)
	bo.PutUint32(buf[20:], sizeCmds)

	seg := buf[32 : 32+segCmdSize]
	bo.PutUint32(seg[0:], uint32(format.LC_SEGMENT_64))
	bo.PutUint32(seg[4:], segCmdSize)
	copy(seg[8:24], "__TEXT")
	bo.PutUint64(seg[24:], 0x100000000) // vmaddr
	bo.PutUint64(seg[32:], 0x2000)      // vmsize
	bo.PutUint64(seg[40:], 0)           // fileoff
	bo.PutUint64(seg[48:], 0x2000)      // filesize

	rebaseOpcodes := []byte{
		0x11,             // SET_TYPE_IMM(POINTER)
		0x20, 0x80, 0x20, // SET_SEGMENT_AND_OFFSET_ULEB(seg=0, offset=0x1000)
		0x51, // DO_REBASE_IMM_TIMES(1)
		0x00, // DONE
	}
	const rebaseOff = 0x3000
	copy(buf[rebaseOff:], rebaseOpcodes)

	dyldInfo := buf[32+segCmdSize : 32+segCmdSize+dyldInfoCmdSize]
	bo.PutUint32(dyldInfo[0:], uint32(format.LC_DYLD_INFO_ONLY))
	bo.PutUint32(dyldInfo[4:], dyldInfoCmdSize)
	bo.PutUint32(dyldInfo[8:], rebaseOff)
	bo.PutUint32(dyldInfo[12:], uint32(len(rebaseOpcodes)))

	bo.PutUint64(buf[0x1000:], onDiskPointer)

	img, d, err := analyzer.Open(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("analyzer.Open: %v", err)
	}
	if d.HasError() {
		t.Fatalf("analyzer.Open diagnostics: %v", d.Records())
	}
	return img
}

func TestApplyOpcodesComputesSlidRebaseValue(t *testing.T) {
	const onDisk = 0x100000240
	const slide = int64(0x400000)

	img := buildRebaseImage(t, onDisk)

	arena := loader.NewArena()
	idx := arena.Add(&loader.Loader{Path: "/usr/lib/libfoo.dylib", Image: img, Slide: slide})

	e := newTestEngine(arena, exportSet{})
	d := diag.New()
	sites, err := e.ApplyImage(idx, d)
	if err != nil {
		t.Fatalf("ApplyImage: %v", err)
	}
	if d.HasError() {
		t.Fatalf("ApplyImage diagnostics: %v", d.Records())
	}

	var rebases []Site
	for _, s := range sites {
		if s.Kind == SiteRebase {
			rebases = append(rebases, s)
		}
	}
	if len(rebases) != 1 {
		t.Fatalf("got %d rebase sites, want 1 (sites=%+v)", len(rebases), sites)
	}
	want := uint64(int64(onDisk) + slide)
	if rebases[0].Value != want || rebases[0].Value == 0 {
		t.Fatalf("rebase value = %#x, want non-zero slid value %#x", rebases[0].Value, want)
	}
	if rebases[0].Offset != 0x100001000 {
		t.Fatalf("rebase offset = %#x, want %#x", rebases[0].Offset, uint64(0x100001000))
	}
}
