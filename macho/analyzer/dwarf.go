package analyzer

import (
	gdwarf "github.com/blacktop/go-dwarf"
)

// dwarfSectionNames maps the DWARF section names dwarf.New expects onto the
// __DWARF,__debug_* section names Mach-O stores them under.
var dwarfSectionNames = map[string]string{
	"abbrev":   "__debug_abbrev",
	"aranges":  "__debug_aranges",
	"frame":    "__debug_frame",
	"info":     "__debug_info",
	"line":     "__debug_line",
	"pubnames": "__debug_pubnames",
	"ranges":   "__debug_ranges",
	"str":      "__debug_str",
}

// DWARF returns the image's DWARF debug info, if it carries a __DWARF
// segment. This is a read-only diagnostic accessor only — the fixup engine
// never consults it, matching the "no crash symbolication" non-goal: it
// exposes raw DWARF data, not a DWARF-to-source-line resolver. No
// cmd/dyldcore subcommand calls it.
func (img *Image) DWARF() (*gdwarf.Data, error) {
	seg := img.FindSegment("__DWARF")
	if seg == nil {
		return nil, nil
	}
	section := func(name string) []byte {
		for _, s := range seg.Sections {
			if s.Name == name {
				b, err := img.ReadAt(int64(s.Offset), int(s.Size))
				if err != nil {
					return nil
				}
				return b
			}
		}
		return nil
	}
	return gdwarf.New(
		section(dwarfSectionNames["abbrev"]),
		section(dwarfSectionNames["aranges"]),
		section(dwarfSectionNames["frame"]),
		section(dwarfSectionNames["info"]),
		section(dwarfSectionNames["line"]),
		section(dwarfSectionNames["pubnames"]),
		section(dwarfSectionNames["ranges"]),
		section(dwarfSectionNames["str"]),
	)
}
