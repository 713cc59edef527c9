package fixup

import (
	"github.com/blacktop/dyldcore/macho/analyzer"
	"github.com/blacktop/dyldcore/macho/format"
)

// ExtractInterposeTable reads an image's __DATA,__interpose (or
// __DATA_CONST,__interpose) section — spec §4.4's "built from any
// image's __interpose section prior to fixups" rule — and returns the
// symbol -> replacement mapping BuildInterposeTable expects. Each entry
// in the section is a {replacement, replacee} pointer pair; the replaced
// symbol's name is recovered by matching replacee against the image's
// own symbol table, since the section itself carries addresses, not
// names.
func ExtractInterposeTable(loaderIdx int, img *analyzer.Image) (map[string]InterposeTarget, error) {
	symbols, err := img.Symbols()
	if err != nil {
		return nil, err
	}
	byAddr := make(map[uint64]string, len(symbols))
	for _, s := range symbols {
		if s.Name != "" {
			byAddr[s.Nlist.Value] = s.Name
		}
	}

	out := map[string]InterposeTarget{}
	img.ForEachSection(func(seg *analyzer.Segment, sec *format.Section) analyzer.ControlFlow {
		if sec.Name != "__interpose" {
			return analyzer.Continue
		}
		const pairSize = 16
		raw, rerr := img.ReadAt(int64(sec.Offset), int(sec.Size))
		if rerr != nil {
			return analyzer.Continue
		}
		bo := img.ByteOrder
		for off := 0; off+pairSize <= len(raw); off += pairSize {
			replacement := bo.Uint64(raw[off:])
			replacee := bo.Uint64(raw[off+8:])
			name, ok := byAddr[replacee]
			if !ok {
				continue
			}
			out[name] = InterposeTarget{Loader: loaderIdx, Offset: replacement}
		}
		return analyzer.Continue
	})
	return out, nil
}
