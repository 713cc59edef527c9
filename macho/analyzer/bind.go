package analyzer

import (
	"fmt"

	"github.com/blacktop/dyldcore/macho/format"
)

// BindKind distinguishes the three independent bind streams LC_DYLD_INFO
// records: normal (must succeed at load time), weak (participates in
// coalescing across images), and lazy (resolved on first call through a
// stub, historically; dyld now resolves these eagerly too).
type BindKind int

const (
	BindRegular BindKind = iota
	BindWeak
	BindLazy
)

// BindRecord is one symbol binding produced by the opcode-based bind
// stream: "look up Symbol in LibOrdinal (or resolve it by special rule),
// add Addend, and store the result at Address".
type BindRecord struct {
	Kind       BindKind
	SegIndex   int
	Address    uint64
	Type       format.BindType
	LibOrdinal int
	Symbol     string
	WeakImport bool
	Addend     int64
}

// ForEachBind decodes all three LC_DYLD_INFO[_ONLY] bind opcode streams
// (regular, weak, lazy), invoking fn for each bind record it produces. This
// implements spec §4.1's bind opcode state machine: dylib ordinal, symbol
// name, type and addend are sticky registers set by SET_* opcodes and
// consumed by DO_BIND* opcodes exactly like the rebase machine's cursor.
//
// strongDef, if non-nil, is additionally called once for every symbol the
// weak-bind stream marks with BIND_SYMBOL_FLAGS_NON_WEAK_DEFINITION: this
// image is publishing its own copy of that symbol as the strong definition
// other images' weak binds should coalesce to, rather than whichever
// loader's copy a flat namespace scan happens to find first.
func (img *Image) ForEachBind(fn func(BindRecord) ControlFlow, strongDef func(symbol string)) error {
	if img.DyldInfo == nil {
		return nil
	}
	streams := []struct {
		kind       BindKind
		off, size uint32
	}{
		{BindRegular, img.DyldInfo.BindOff, img.DyldInfo.BindSize},
		{BindWeak, img.DyldInfo.WeakBindOff, img.DyldInfo.WeakBindSize},
		{BindLazy, img.DyldInfo.LazyBindOff, img.DyldInfo.LazyBindSize},
	}
	for _, st := range streams {
		if st.size == 0 {
			continue
		}
		if stop, err := decodeBindStream(img, st.kind, st.off, st.size, fn, strongDef); err != nil {
			return err
		} else if stop {
			return nil
		}
	}
	return nil
}

func decodeBindStream(img *Image, kind BindKind, dataOff, dataSize uint32, fn func(BindRecord) ControlFlow, strongDef func(symbol string)) (bool, error) {
	data, err := img.ReadAt(int64(dataOff), int(dataSize))
	if err != nil {
		return false, fmt.Errorf("reading bind opcodes: %w", err)
	}

	ptrSize := uint64(8)
	if !img.Header.Magic.Is64() {
		ptrSize = 4
	}

	var segIndex int
	var segOffset uint64
	var libOrdinal int
	var symbol string
	var weakImport bool
	var bindType format.BindType
	var addend int64
	off := 0

	emit := func(count int, skip uint64) (bool, error) {
		for i := 0; i < count; i++ {
			if segIndex >= len(img.Segments) {
				return true, fmt.Errorf("bind: segment index %d out of range", segIndex)
			}
			rec := BindRecord{
				Kind: kind, SegIndex: segIndex,
				Address: img.Segments[segIndex].Addr + segOffset,
				Type:    bindType, LibOrdinal: libOrdinal, Symbol: symbol,
				WeakImport: weakImport, Addend: addend,
			}
			if fn(rec) == Stop {
				return true, nil
			}
			segOffset += ptrSize + skip
		}
		return false, nil
	}

	for off < len(data) {
		opByte := data[off]
		op := format.BindOpcode(opByte) & format.BindOpcodeMask
		imm := int(opByte & 0x0f)
		off++

		switch op {
		case format.BindOpDone:
			if kind == BindLazy {
				// each lazy-bind record is terminated by DONE; keep scanning
				// for the next record rather than stopping the stream.
				segIndex, segOffset, libOrdinal, symbol, weakImport, bindType, addend = 0, 0, 0, "", false, 0, 0
				continue
			}
			return false, nil
		case format.BindOpSetDylibOrdinalImm:
			libOrdinal = imm
		case format.BindOpSetDylibOrdinalULEB:
			v, next, err := format.ReadULEB128(data, off)
			if err != nil {
				return true, fmt.Errorf("bind SET_DYLIB_ORDINAL_ULEB: %w", err)
			}
			libOrdinal = int(v)
			off = next
		case format.BindOpSetDylibSpecialImm:
			if imm == 0 {
				libOrdinal = 0
			} else {
				libOrdinal = int(int8(0xf0 | byte(imm)))
			}
		case format.BindOpSetSymbolTrailingFlagsImm:
			s, next, err := format.ReadCString(data, off)
			if err != nil {
				return true, fmt.Errorf("bind SET_SYMBOL_TRAILING_FLAGS_IMM: %w", err)
			}
			symbol = s
			weakImport = imm&format.BindSymbolFlagsWeakImport != 0
			if kind == BindWeak && imm&format.BindSymbolFlagsNonWeakDefinition != 0 && strongDef != nil {
				strongDef(s)
			}
			off = next
		case format.BindOpSetTypeImm:
			bindType = format.BindType(imm)
		case format.BindOpSetAddendSLEB:
			v, next, err := format.ReadSLEB128(data, off)
			if err != nil {
				return true, fmt.Errorf("bind SET_ADDEND_SLEB: %w", err)
			}
			addend = v
			off = next
		case format.BindOpSetSegOffULEB:
			segIndex = imm
			v, next, err := format.ReadULEB128(data, off)
			if err != nil {
				return true, fmt.Errorf("bind SET_SEGMENT_AND_OFFSET_ULEB: %w", err)
			}
			segOffset = v
			off = next
		case format.BindOpAddAddrULEB:
			v, next, err := format.ReadULEB128(data, off)
			if err != nil {
				return true, fmt.Errorf("bind ADD_ADDR_ULEB: %w", err)
			}
			segOffset += v
			off = next
		case format.BindOpDoBind:
			if stop, err := emit(1, 0); stop || err != nil {
				return stop, err
			}
		case format.BindOpDoBindAddAddrULEB:
			v, next, err := format.ReadULEB128(data, off)
			if err != nil {
				return true, fmt.Errorf("bind DO_BIND_ADD_ADDR_ULEB: %w", err)
			}
			off = next
			if stop, err := emit(1, v); stop || err != nil {
				return stop, err
			}
		case format.BindOpDoBindAddAddrImmScaled:
			if stop, err := emit(1, uint64(imm)*ptrSize); stop || err != nil {
				return stop, err
			}
		case format.BindOpDoBindULEBTimesSkippingULEB:
			count, next, err := format.ReadULEB128(data, off)
			if err != nil {
				return true, fmt.Errorf("bind DO_BIND_ULEB_TIMES_SKIPPING_ULEB count: %w", err)
			}
			off = next
			skip, next, err := format.ReadULEB128(data, off)
			if err != nil {
				return true, fmt.Errorf("bind DO_BIND_ULEB_TIMES_SKIPPING_ULEB skip: %w", err)
			}
			off = next
			if stop, err := emit(int(count), skip); stop || err != nil {
				return stop, err
			}
		case format.BindOpThreaded:
			sub := format.BindSubopcodeThreaded(imm)
			switch sub {
			case format.BindSubopThreadedSetBindOrdinalTableSizeULEB:
				_, next, err := format.ReadULEB128(data, off)
				if err != nil {
					return true, fmt.Errorf("bind THREADED table size: %w", err)
				}
				off = next
			case format.BindSubopThreadedApply:
				// threaded-rebase/bind chains are handled by the chained
				// fixups decoder when LC_DYLD_CHAINED_FIXUPS is present;
				// this sub-opcode only appears on very old arm64e binaries
				// that predate that load command and is not in scope.
			}
		default:
			return true, fmt.Errorf("unknown bind opcode 0x%x at offset %d", opByte, off-1)
		}
	}
	return false, nil
}
