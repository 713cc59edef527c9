package format

import (
	"encoding/binary"
	"fmt"
)

// ReadULEB128 decodes a ULEB128-encoded unsigned integer from b starting at
// off, returning the value and the offset just past it. This is the
// variable-length integer encoding used throughout dyld's opcode streams
// (rebase, bind, export trie).
func ReadULEB128(b []byte, off int) (uint64, int, error) {
	var result uint64
	var shift uint
	start := off
	for {
		if off >= len(b) {
			return 0, off, fmt.Errorf("uleb128 read past end of buffer starting at %d", start)
		}
		byt := b[off]
		off++
		result |= uint64(byt&0x7f) << shift
		if byt&0x80 == 0 {
			break
		}
		shift += 7
		if shift > 63 {
			return 0, off, fmt.Errorf("uleb128 overflow starting at %d", start)
		}
	}
	return result, off, nil
}

// ReadSLEB128 decodes a SLEB128-encoded signed integer, used for bind-opcode
// addends.
func ReadSLEB128(b []byte, off int) (int64, int, error) {
	var result int64
	var shift uint
	start := off
	var byt byte
	for {
		if off >= len(b) {
			return 0, off, fmt.Errorf("sleb128 read past end of buffer starting at %d", start)
		}
		byt = b[off]
		off++
		result |= int64(byt&0x7f) << shift
		shift += 7
		if byt&0x80 == 0 {
			break
		}
	}
	if shift < 64 && byt&0x40 != 0 {
		result |= -1 << shift
	}
	return result, off, nil
}

// ReadCString reads a NUL-terminated string starting at off.
func ReadCString(b []byte, off int) (string, int, error) {
	start := off
	for off < len(b) && b[off] != 0 {
		off++
	}
	if off >= len(b) {
		return "", off, fmt.Errorf("unterminated string starting at %d", start)
	}
	return string(b[start:off]), off + 1, nil
}

// lsb64Mask, ExtractBits: bitfield extraction over a packed 64-bit pointer
// word, used to decode the chained-fixups pointer formats (arm64e rebase/
// bind, generic64, generic32) whose fields are all sub-word bitfields. Same
// table-driven technique as Go's own bits package, kept local since the
// extraction width here is always derived from a struct tag, not a constant.
var lsb64Mask = [65]uint64{}

func init() {
	var v uint64
	for i := 0; i <= 64; i++ {
		lsb64Mask[i] = v
		v = (v << 1) | 1
	}
}

func MaskLSB64(x uint64, nbits uint8) uint64 {
	return x & lsb64Mask[nbits]
}

// ExtractBits returns the nbits-wide field of x starting at bit `start`
// (LSB-first), matching the C bitfield layout dyld's chained-fixup pointer
// structs use.
func ExtractBits(x uint64, start, nbits int) uint64 {
	return MaskLSB64(x>>uint(start), uint8(nbits))
}

// ByteOrderFor returns the byte order implied by a Mach-O magic value.
func ByteOrderFor(magic Magic) binary.ByteOrder {
	return magic.ByteOrder()
}
