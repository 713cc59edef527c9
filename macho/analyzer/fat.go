package analyzer

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/blacktop/dyldcore/diag"
	"github.com/blacktop/dyldcore/macho/format"
)

// FatSlice describes one architecture's offset/size within a fat (universal)
// binary, as read from its FatArch table.
type FatSlice struct {
	format.FatArch
}

// ReadFatSlices parses a fat binary's header and arch table without
// touching any of the per-architecture Mach-O content.
func ReadFatSlices(r io.ReaderAt) ([]FatSlice, error) {
	var hdr [8]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("reading fat header: %w", err)
	}
	magic := format.Magic(binary.BigEndian.Uint32(hdr[0:]))
	if magic != format.MagicFat {
		return nil, fmt.Errorf("not a fat Mach-O: bad magic 0x%x", binary.BigEndian.Uint32(hdr[0:]))
	}
	n := binary.BigEndian.Uint32(hdr[4:])
	buf := make([]byte, n*20)
	if _, err := r.ReadAt(buf, 8); err != nil {
		return nil, fmt.Errorf("reading fat arch table: %w", err)
	}
	slices := make([]FatSlice, n)
	for i := uint32(0); i < n; i++ {
		b := buf[i*20:]
		slices[i] = FatSlice{format.FatArch{
			CPU:    format.CPU(binary.BigEndian.Uint32(b[0:])),
			SubCPU: format.CPUSubtype(binary.BigEndian.Uint32(b[4:])),
			Offset: binary.BigEndian.Uint32(b[8:]),
			Size:   binary.BigEndian.Uint32(b[12:]),
			Align:  binary.BigEndian.Uint32(b[16:]),
		}}
	}
	return slices, nil
}

// BestSlice picks, per spec §3's "graded architecture set", the
// highest-graded slice a host whose native cpu is hostCPU can run, or
// (FatSlice{}, false) if none can.
func BestSlice(slices []FatSlice, hostCPU format.CPU) (FatSlice, bool) {
	var best FatSlice
	bestGrade := 0
	for _, s := range slices {
		g := format.GradeFor(hostCPU, s.CPU, s.SubCPU)
		if g > bestGrade {
			bestGrade = g
			best = s
		}
	}
	return best, bestGrade > 0
}

// OpenFatSlice opens the thin Mach-O image embedded at a fat slice's offset.
func OpenFatSlice(r io.ReaderAt, slice FatSlice) (*Image, *diag.Diagnostics, error) {
	sr := io.NewSectionReader(r, int64(slice.Offset), int64(slice.Size))
	return Open(sr)
}
