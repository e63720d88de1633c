package storage

import "errors"

// Sentinel errors callers branch on. Wrapped with fmt.Errorf("...: %w", ...)
// at the call site so context survives while errors.Is still matches.
var (
	// ErrNoFramesAvailable means every frame is currently pinned; the
	// caller may retry once an outstanding guard is released.
	ErrNoFramesAvailable = errors.New("storage: no frames available for eviction")

	// ErrNotResident is returned by Flush when the page isn't in the pool.
	ErrNotResident = errors.New("storage: page not resident")

	// ErrShortIO means a read or write moved fewer than PageSize bytes.
	ErrShortIO = errors.New("storage: short read or write")

	// ErrFrameNotFound is returned by Replacer.SetPinned when the frame id
	// isn't tracked by either segment.
	ErrFrameNotFound = errors.New("storage: frame id not tracked by replacer")

	// ErrAlreadyEvicted means Page.evict was asked to evict a page whose
	// swip was already empty — the replacer and the page directory have
	// disagreed about which frame a page owns.
	ErrAlreadyEvicted = errors.New("storage: page has no resident frame to evict")

	// ErrClosed is returned by BufferPoolManager operations issued after
	// Close.
	ErrClosed = errors.New("storage: buffer pool manager is closed")
)

// InvariantViolationError reports an internal inconsistency between the
// replacer, the frame registry, and the page directory that should be
// impossible if the locking discipline in §5 of the design is respected.
// Unlike the sentinel errors above, this is never an expected race — it is
// always a bug, and callers that care about crash-only semantics should
// treat it as fatal the way the design intends for debug builds.
type InvariantViolationError struct {
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return "storage: invariant violation: " + e.Detail
}
