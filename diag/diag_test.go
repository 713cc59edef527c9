package diag

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestDiagnosticsAccumulatesInOrder(t *testing.T) {
	d := New()
	d.Warn("libfoo.dylib", "unexpected load command %d", 42)
	d.Error(KindMissingDependency, "libbar.dylib", "no candidate found")
	d.Error(KindSymbolNotFound, "_bar", "flat resolution failed")

	got := d.Records()
	want := []Record{
		{Kind: KindWarning, Subject: "libfoo.dylib"},
		{Kind: KindMissingDependency, Subject: "libbar.dylib"},
		{Kind: KindSymbolNotFound, Subject: "_bar"},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(Record{}, "Err")); diff != "" {
		t.Fatalf("Records() mismatch (-want +got):\n%s", diff)
	}
}

func TestHasErrorIgnoresWarnings(t *testing.T) {
	d := New()
	d.Warn("libfoo.dylib", "cosmetic issue")
	if d.HasError() {
		t.Fatal("HasError should be false with only warnings recorded")
	}
	d.Error(KindAMFIDenied, "libfoo.dylib", "policy rejected")
	if !d.HasError() {
		t.Fatal("HasError should be true once a fatal record is added")
	}
}

func TestAsErrorNilWhenNoFatalRecords(t *testing.T) {
	d := New()
	d.Warn("libfoo.dylib", "cosmetic issue")
	if err := d.AsError(); err != nil {
		t.Fatalf("AsError() = %v, want nil", err)
	}
}

func TestMergePreservesOrder(t *testing.T) {
	a := New()
	a.Warn("a", "first")
	b := New()
	b.Error(KindMalformedMachO, "b", "second")
	a.Merge(b)

	got := a.Records()
	want := []Record{
		{Kind: KindWarning, Subject: "a"},
		{Kind: KindMalformedMachO, Subject: "b"},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(Record{}, "Err")); diff != "" {
		t.Fatalf("Merge() order mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeNilIsNoop(t *testing.T) {
	a := New()
	a.Warn("a", "first")
	a.Merge(nil)
	if len(a.Records()) != 1 {
		t.Fatalf("got %d records, want 1", len(a.Records()))
	}
}
