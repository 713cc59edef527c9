package format

import "testing"

func TestNlist64LibraryOrdinal(t *testing.T) {
	tests := []struct {
		name string
		desc uint16
		want int
	}{
		{"self", 0x0000, SelfLibraryOrdinal},
		{"ordinal 1", 0x0100, 1},
		{"ordinal 3 with weak-ref bit set", 0x0340, 3},
		{"main executable", 0xff00, MainExecutableOrdinal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := Nlist64{Desc: tt.desc}
			if got := n.LibraryOrdinal(); got != tt.want {
				t.Errorf("LibraryOrdinal() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNlist64IsWeakRef(t *testing.T) {
	if (Nlist64{Desc: 0x0040}).IsWeakRef() != true {
		t.Error("N_WEAK_REF bit set should report true")
	}
	if (Nlist64{Desc: 0x0300}).IsWeakRef() != false {
		t.Error("library ordinal bits alone should not set IsWeakRef")
	}
}

func TestNlist64IsWeakDef(t *testing.T) {
	if (Nlist64{Desc: 0x0080}).IsWeakDef() != true {
		t.Error("N_WEAK_DEF bit set should report true")
	}
	if (Nlist64{Desc: 0x0000}).IsWeakDef() != false {
		t.Error("no bits set should report false")
	}
}

func TestNlist64IsUndefined(t *testing.T) {
	undefExternal := Nlist64{Type: N_UNDF | N_EXT}
	if !undefExternal.IsUndefined() {
		t.Error("N_UNDF|N_EXT should be undefined")
	}
	local := Nlist64{Type: N_SECT}
	if local.IsUndefined() {
		t.Error("a defined, section-relative symbol should not be undefined")
	}
}
