package trie

import "testing"

// singleSymbolTrie builds a minimal export trie containing exactly one
// symbol, "foo", resolving to the image-relative offset 0x1000. Hand
// assembled per dyld's ULEB128 trie node layout: [terminal_size][flags]
// [value][child_count][(label,child_offset)...].
func singleSymbolTrie() []byte {
	return []byte{
		0x00,                // root: terminal size 0 (not itself exported)
		0x01,                // root: one child
		'f', 'o', 'o', 0x00, // child label "foo"
		0x07,       // child node offset (7)
		0x03,       // child: terminal size 3
		0x00,       // child terminal: flags = 0 (regular export)
		0x80, 0x20, // child terminal: value = 0x1000 (ULEB128)
		0x00, // child: zero further children
	}
}

func TestWalk(t *testing.T) {
	tests := []struct {
		name        string
		loadAddress uint64
		wantAddr    uint64
	}{
		{"no base", 0, 0x1000},
		{"with base", 0x100000000, 0x100001000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := Walk(singleSymbolTrie(), tt.loadAddress)
			if err != nil {
				t.Fatalf("Walk: %v", err)
			}
			if len(entries) != 1 {
				t.Fatalf("got %d entries, want 1", len(entries))
			}
			if entries[0].Name != "foo" {
				t.Errorf("name = %q, want foo", entries[0].Name)
			}
			if entries[0].Address != tt.wantAddr {
				t.Errorf("address = %#x, want %#x", entries[0].Address, tt.wantAddr)
			}
		})
	}
}

func TestWalkEmpty(t *testing.T) {
	entries, err := Walk(nil, 0)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("got %d entries, want 0", len(entries))
	}
}

func TestFind(t *testing.T) {
	tests := []struct {
		name   string
		symbol string
		want   bool
	}{
		{"present", "foo", true},
		{"absent", "bar", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, found, err := Find(singleSymbolTrie(), tt.symbol)
			if err != nil {
				t.Fatalf("Find: %v", err)
			}
			if found != tt.want {
				t.Fatalf("found = %v, want %v", found, tt.want)
			}
			if found && entry.Address != 0x1000 {
				t.Errorf("address = %#x, want 0x1000", entry.Address)
			}
		})
	}
}

func TestFindOnEmptyTrie(t *testing.T) {
	_, found, err := Find(nil, "foo")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if found {
		t.Fatal("Find on empty trie should not find anything")
	}
}
