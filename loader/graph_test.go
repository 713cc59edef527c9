package loader

import (
	"testing"

	"github.com/blacktop/dyldcore/macho/format"
)

func sameOrder(got, want []int) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestInitializerOrderIsDependencyFirst(t *testing.T) {
	a := NewArena()
	main := a.Add(&Loader{Path: "main"})
	libA := a.Add(&Loader{Path: "libA"})
	libB := a.Add(&Loader{Path: "libB"})
	a.AddDependency(main, libA, format.LinkRegular, false)
	a.AddDependency(libA, libB, format.LinkRegular, false)

	order := a.InitializerOrder([]int{main})
	want := []int{libB, libA, main}
	if !sameOrder(order, want) {
		t.Fatalf("got %v, want %v", order, want)
	}
}

func TestInitializerOrderVisitsEachLoaderOnce(t *testing.T) {
	a := NewArena()
	main := a.Add(&Loader{Path: "main"})
	shared := a.Add(&Loader{Path: "shared"})
	libA := a.Add(&Loader{Path: "libA"})
	libB := a.Add(&Loader{Path: "libB"})
	a.AddDependency(main, libA, format.LinkRegular, false)
	a.AddDependency(main, libB, format.LinkRegular, false)
	a.AddDependency(libA, shared, format.LinkRegular, false)
	a.AddDependency(libB, shared, format.LinkRegular, false)

	order := a.InitializerOrder([]int{main})
	seen := map[int]int{}
	for _, idx := range order {
		seen[idx]++
	}
	if seen[shared] != 1 {
		t.Fatalf("diamond-shared dependency visited %d times, want 1: %v", seen[shared], order)
	}
	sharedPos, mainPos := -1, -1
	for i, idx := range order {
		if idx == shared {
			sharedPos = i
		}
		if idx == main {
			mainPos = i
		}
	}
	if sharedPos >= mainPos {
		t.Fatalf("shared dependency must initialize before main: order=%v", order)
	}
}

func TestInitializerOrderExcludesUpwardEdgesFromTraversal(t *testing.T) {
	a := NewArena()
	main := a.Add(&Loader{Path: "main"})
	libSystem := a.Add(&Loader{Path: "libSystem"})
	libDyld := a.Add(&Loader{Path: "libdyld"})
	a.AddDependency(main, libSystem, format.LinkRegular, false)
	a.AddDependency(libSystem, libDyld, format.LinkRegular, false)
	// libdyld "upward" links back to libSystem for symbol visibility only;
	// this must not make InitializerOrder loop or double-visit libSystem.
	a.AddDependency(libDyld, libSystem, format.LinkRegular, true)

	order := a.InitializerOrder([]int{main})
	want := []int{libDyld, libSystem, main}
	if !sameOrder(order, want) {
		t.Fatalf("got %v, want %v", order, want)
	}
}

func TestTerminatorOrderIsReverseOfInitializerOrder(t *testing.T) {
	a := NewArena()
	main := a.Add(&Loader{Path: "main"})
	libA := a.Add(&Loader{Path: "libA"})
	a.AddDependency(main, libA, format.LinkRegular, false)

	init := a.InitializerOrder([]int{main})
	term := a.TerminatorOrder([]int{main})
	for i := range init {
		if term[i] != init[len(init)-1-i] {
			t.Fatalf("TerminatorOrder %v is not the reverse of InitializerOrder %v", term, init)
		}
	}
}

func TestByPathFindsAddedLoader(t *testing.T) {
	a := NewArena()
	a.Add(&Loader{Path: "/usr/lib/libfoo.dylib"})
	if got := a.ByPath("/usr/lib/libfoo.dylib"); got == nil {
		t.Fatal("ByPath did not find a loader that was added")
	}
	if got := a.ByPath("/usr/lib/missing.dylib"); got != nil {
		t.Fatal("ByPath found a loader that was never added")
	}
}

func TestGetOutOfRangeReturnsNil(t *testing.T) {
	a := NewArena()
	a.Add(&Loader{Path: "main"})
	if a.Get(-1) != nil {
		t.Fatal("Get(-1) should return nil")
	}
	if a.Get(5) != nil {
		t.Fatal("Get(5) should return nil for an out-of-range index")
	}
}
