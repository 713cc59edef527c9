// Package diag implements the Diagnostics accumulator (§7): the
// replacement for dyld's exception-based error reporting. Every fallible
// walk collects zero or more Records instead of stopping at the first
// problem, then the caller decides whether any recorded Kind is fatal.
package diag

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies a diagnostic record, mirroring the error taxonomy dyld's
// abort payload distinguishes by (see spec §7 / §6's abort-payload format).
type Kind int

const (
	KindWarning Kind = iota
	KindMalformedMachO
	KindMissingDependency
	KindSymbolNotFound
	KindMissingRPathEntry
	KindAMFIDenied
	KindFixupOutOfRange
	KindInternalError
	KindIncompatible
)

func (k Kind) String() string {
	switch k {
	case KindWarning:
		return "warning"
	case KindMalformedMachO:
		return "malformed Mach-O"
	case KindMissingDependency:
		return "missing dependency"
	case KindSymbolNotFound:
		return "symbol not found"
	case KindMissingRPathEntry:
		return "missing rpath entry"
	case KindAMFIDenied:
		return "AMFI denied"
	case KindFixupOutOfRange:
		return "fixup target out of range"
	case KindInternalError:
		return "internal error"
	case KindIncompatible:
		return "incompatible architecture or platform"
	}
	return "unknown"
}

// Fatal reports whether a record of this kind must abort the operation it
// was raised from — warnings never are, everything else is.
func (k Kind) Fatal() bool { return k != KindWarning }

// Record is one accumulated diagnostic.
type Record struct {
	Kind    Kind
	Subject string // image path, symbol name, segment name - whatever this record is about
	Err     error
}

func (r Record) Error() string {
	if r.Subject != "" {
		return fmt.Sprintf("%s: %s: %v", r.Kind, r.Subject, r.Err)
	}
	return fmt.Sprintf("%s: %v", r.Kind, r.Err)
}

// Diagnostics accumulates Records across a single logical operation (an
// image load, a fixup pass, a launch) without unwinding the stack on the
// first error, matching dyld's own Diagnostics class.
type Diagnostics struct {
	records []Record
}

// New returns an empty Diagnostics.
func New() *Diagnostics { return &Diagnostics{} }

// Error records a fatal-by-default diagnostic.
func (d *Diagnostics) Error(kind Kind, subject string, format string, args ...any) {
	d.records = append(d.records, Record{Kind: kind, Subject: subject, Err: fmt.Errorf(format, args...)})
}

// Warn records a non-fatal diagnostic.
func (d *Diagnostics) Warn(subject string, format string, args ...any) {
	d.records = append(d.records, Record{Kind: KindWarning, Subject: subject, Err: fmt.Errorf(format, args...)})
}

// HasError reports whether any accumulated record is fatal.
func (d *Diagnostics) HasError() bool {
	for _, r := range d.records {
		if r.Kind.Fatal() {
			return true
		}
	}
	return false
}

// Records returns the accumulated records in the order they were added.
func (d *Diagnostics) Records() []Record { return d.records }

// AsError collapses the accumulated fatal records into one wrapped error
// suitable for an abort boundary, or nil if none are fatal. The wrap uses
// github.com/pkg/errors so the abort path retains a stack trace — dyld's own
// abort() prints a backtrace alongside the payload, and this is the nearest
// Go equivalent available at a process-fatal boundary.
func (d *Diagnostics) AsError() error {
	var fatal []string
	for _, r := range d.records {
		if r.Kind.Fatal() {
			fatal = append(fatal, r.Error())
		}
	}
	if len(fatal) == 0 {
		return nil
	}
	return errors.New(strings.Join(fatal, "; "))
}

// Merge appends other's records onto d, preserving order. Used when a
// sub-operation (loading one dependent image) runs its own Diagnostics that
// must roll up into the caller's.
func (d *Diagnostics) Merge(other *Diagnostics) {
	if other == nil {
		return
	}
	d.records = append(d.records, other.records...)
}
