package analyzer

// ControlFlow is returned by the callback of each ForEach* iterator,
// replacing dyld's C++ stop-flag out-parameter callbacks (per design note
// "stop-flag callbacks become fallible iterators") with an explicit,
// composable return value.
type ControlFlow int

const (
	// Continue tells the iterator to keep visiting further elements.
	Continue ControlFlow = iota
	// Stop tells the iterator to return immediately, without error.
	Stop
)
