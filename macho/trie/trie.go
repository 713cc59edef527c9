// Package trie decodes the export trie dyld stores in LC_DYLD_EXPORTS_TRIE
// (or, on older binaries, the export_off/export_size fields of
// LC_DYLD_INFO[_ONLY]) — a compact prefix trie mapping exported symbol
// names to their resolution data.
package trie

import (
	"fmt"

	"github.com/blacktop/dyldcore/macho/format"
)

// Entry is one exported symbol found by a trie walk.
type Entry struct {
	Name          string
	ReExportName  string
	Flags         format.ExportFlag
	Other         uint64 // re-export library ordinal, or resolver offset for stub-and-resolver
	Address       uint64 // image-relative offset, or symbol value for absolute symbols
}

type node struct {
	offset   uint64
	prefix   []byte
}

// Walk decodes every entry in an export trie, adding loadAddress to
// non-reexport, non-absolute addresses so Entry.Address comes out as a
// direct virtual address. loadAddress of 0 keeps addresses image-relative.
func Walk(data []byte, loadAddress uint64) ([]Entry, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var entries []Entry
	stack := []node{{offset: 0}}
	visited := make(map[uint64]bool)

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if n.offset >= uint64(len(data)) {
			return nil, fmt.Errorf("trie: node offset %d out of range (size %d)", n.offset, len(data))
		}
		if visited[n.offset] {
			continue // cyclic trie, shouldn't happen in a well-formed image
		}
		visited[n.offset] = true

		off := int(n.offset)
		terminalSize, next, err := format.ReadULEB128(data, off)
		if err != nil {
			return nil, fmt.Errorf("trie: reading terminal size at %d: %w", off, err)
		}
		off = next

		if terminalSize != 0 {
			entry, err := decodeTerminal(data, off, n.prefix, loadAddress)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}

		childrenOff := off + int(terminalSize)
		if childrenOff >= len(data) {
			continue
		}
		childCount := int(data[childrenOff])
		childrenOff++

		for i := 0; i < childCount; i++ {
			label, next, err := format.ReadCString(data, childrenOff)
			if err != nil {
				return nil, fmt.Errorf("trie: reading child label: %w", err)
			}
			childrenOff = next
			childOffset, next, err := format.ReadULEB128(data, childrenOff)
			if err != nil {
				return nil, fmt.Errorf("trie: reading child offset: %w", err)
			}
			childrenOff = next

			childPrefix := make([]byte, 0, len(n.prefix)+len(label))
			childPrefix = append(childPrefix, n.prefix...)
			childPrefix = append(childPrefix, label...)
			stack = append(stack, node{offset: childOffset, prefix: childPrefix})
		}
	}
	return entries, nil
}

func decodeTerminal(data []byte, off int, prefix []byte, loadAddress uint64) (Entry, error) {
	flagsRaw, off, err := format.ReadULEB128(data, off)
	if err != nil {
		return Entry{}, fmt.Errorf("trie: reading flags: %w", err)
	}
	flags := format.ExportFlag(flagsRaw)
	name := string(prefix)

	if flags.IsReexport() {
		ordinal, next, err := format.ReadULEB128(data, off)
		if err != nil {
			return Entry{}, fmt.Errorf("trie: reading reexport ordinal: %w", err)
		}
		off = next
		reExportName, next, err := format.ReadCString(data, off)
		if err != nil {
			return Entry{}, fmt.Errorf("trie: reading reexport name: %w", err)
		}
		if reExportName == "" {
			reExportName = name
		}
		_ = next
		return Entry{Name: name, ReExportName: reExportName, Flags: flags, Other: ordinal}, nil
	}

	if flags.IsStubAndResolver() {
		stubOffset, next, err := format.ReadULEB128(data, off)
		if err != nil {
			return Entry{}, fmt.Errorf("trie: reading stub offset: %w", err)
		}
		off = next
		resolverOffset, _, err := format.ReadULEB128(data, off)
		if err != nil {
			return Entry{}, fmt.Errorf("trie: reading resolver offset: %w", err)
		}
		addr := stubOffset
		if loadAddress != 0 {
			addr += loadAddress
		}
		return Entry{Name: name, Flags: flags, Address: addr, Other: resolverOffset}, nil
	}

	value, _, err := format.ReadULEB128(data, off)
	if err != nil {
		return Entry{}, fmt.Errorf("trie: reading symbol value: %w", err)
	}
	if !flags.IsAbsolute() && loadAddress != 0 {
		value += loadAddress
	}
	return Entry{Name: name, Flags: flags, Address: value}, nil
}

// Find walks the trie looking for exactly one symbol name without building
// the full entry list — the direct equivalent of dyld's export_trie_find.
func Find(data []byte, symbol string) (Entry, bool, error) {
	if len(data) == 0 {
		return Entry{}, false, nil
	}
	var strIndex int
	var offset uint64

	for {
		off := int(offset)
		terminalSize, next, err := format.ReadULEB128(data, off)
		if err != nil {
			return Entry{}, false, fmt.Errorf("trie: reading terminal size: %w", err)
		}
		if strIndex == len(symbol) && terminalSize != 0 {
			e, err := decodeTerminal(data, next, []byte(symbol), 0)
			return e, err == nil, err
		}
		childrenOff := next + int(terminalSize)
		if childrenOff >= len(data) {
			return Entry{}, false, nil
		}
		childCount := int(data[childrenOff])
		childrenOff++

		var nodeOffset uint64
		matched := false
		for i := 0; i < childCount; i++ {
			label, next, err := format.ReadCString(data, childrenOff)
			if err != nil {
				return Entry{}, false, err
			}
			childrenOff = next
			childOffset, next, err := format.ReadULEB128(data, childrenOff)
			if err != nil {
				return Entry{}, false, err
			}
			childrenOff = next

			if matched {
				continue
			}
			remaining := symbol[strIndex:]
			if len(remaining) >= len(label) && remaining[:len(label)] == label {
				strIndex += len(label)
				nodeOffset = childOffset
				matched = true
			}
		}
		if !matched {
			return Entry{}, false, nil
		}
		offset = nodeOffset
	}
}
