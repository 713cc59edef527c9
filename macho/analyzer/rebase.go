package analyzer

import (
	"fmt"

	"github.com/blacktop/dyldcore/macho/format"
)

// RebaseRecord is one slide fixup produced by the classic opcode-based
// rebase stream: "add the image's slide to the pointer at this address".
type RebaseRecord struct {
	SegIndex int
	Address  uint64 // vmaddr within the segment
	Type     format.RebaseType
}

// ForEachRebase decodes LC_DYLD_INFO[_ONLY]'s rebase opcode stream, calling
// fn for every rebase location it produces, stopping early if fn returns
// Stop. This walks the exact state machine spec §4.1 describes: a current
// (segment, offset, type) cursor mutated by SET_*/ADD_* opcodes and flushed
// by DO_REBASE_* opcodes.
func (img *Image) ForEachRebase(fn func(RebaseRecord) ControlFlow) error {
	if img.DyldInfo == nil || img.DyldInfo.RebaseSize == 0 {
		return nil
	}
	data, err := img.ReadAt(int64(img.DyldInfo.RebaseOff), int(img.DyldInfo.RebaseSize))
	if err != nil {
		return fmt.Errorf("reading rebase opcodes: %w", err)
	}

	ptrSize := uint64(8)
	if !img.Header.Magic.Is64() {
		ptrSize = 4
	}

	var segIndex int
	var segOffset uint64
	var kind format.RebaseType
	off := 0

	emit := func(count int, skipping uint64) ControlFlow {
		for i := 0; i < count; i++ {
			if segIndex >= len(img.Segments) {
				return Stop
			}
			cf := fn(RebaseRecord{SegIndex: segIndex, Address: img.Segments[segIndex].Addr + segOffset, Type: kind})
			if cf == Stop {
				return Stop
			}
			segOffset += ptrSize + skipping
		}
		return Continue
	}

	for off < len(data) {
		opByte := data[off]
		op := format.RebaseOpcode(opByte) & format.RebaseOpcodeMask
		imm := int(opByte & 0x0f)
		off++

		switch op {
		case format.RebaseOpDone:
			return nil
		case format.RebaseOpSetTypeImm:
			kind = format.RebaseType(imm)
		case format.RebaseOpSetSegOffULEB:
			segIndex = imm
			v, next, err := format.ReadULEB128(data, off)
			if err != nil {
				return fmt.Errorf("rebase SET_SEGMENT_AND_OFFSET_ULEB: %w", err)
			}
			segOffset = v
			off = next
		case format.RebaseOpAddAddrULEB:
			v, next, err := format.ReadULEB128(data, off)
			if err != nil {
				return fmt.Errorf("rebase ADD_ADDR_ULEB: %w", err)
			}
			segOffset += v
			off = next
		case format.RebaseOpAddAddrImmScaled:
			segOffset += uint64(imm) * ptrSize
		case format.RebaseOpDoRebaseImmTimes:
			if emit(imm, 0) == Stop {
				return nil
			}
		case format.RebaseOpDoRebaseULEBTimes:
			count, next, err := format.ReadULEB128(data, off)
			if err != nil {
				return fmt.Errorf("rebase DO_REBASE_ULEB_TIMES: %w", err)
			}
			off = next
			if emit(int(count), 0) == Stop {
				return nil
			}
		case format.RebaseOpDoRebaseAddAddrULEB:
			skip, next, err := format.ReadULEB128(data, off)
			if err != nil {
				return fmt.Errorf("rebase DO_REBASE_ADD_ADDR_ULEB: %w", err)
			}
			off = next
			if emit(1, skip) == Stop {
				return nil
			}
		case format.RebaseOpDoRebaseULEBTimesSkippingULEB:
			count, next, err := format.ReadULEB128(data, off)
			if err != nil {
				return fmt.Errorf("rebase DO_REBASE_ULEB_TIMES_SKIPPING_ULEB count: %w", err)
			}
			off = next
			skip, next, err := format.ReadULEB128(data, off)
			if err != nil {
				return fmt.Errorf("rebase DO_REBASE_ULEB_TIMES_SKIPPING_ULEB skip: %w", err)
			}
			off = next
			if emit(int(count), skip) == Stop {
				return nil
			}
		default:
			return fmt.Errorf("unknown rebase opcode 0x%x at offset %d", opByte, off-1)
		}
	}
	return nil
}
