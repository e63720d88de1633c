package storage

import (
	"fmt"
	"log"

	"golang.org/x/sys/unix"
)

// Registry owns a fixed array of PageSize-aligned buffers, pre-registered
// with the kernel the way an io_uring fixed-buffer pool is: allocated once
// via an anonymous mmap (so the backing memory is page-aligned and
// pointer-stable for the registry's lifetime) and pinned with mlock so the
// pages can't be swapped out from under an in-flight zero-copy I/O.
//
// Checkout/Return model exclusive ownership transfer: a *Frame handed out by
// Checkout belongs to the caller alone until it comes back through Return.
type Registry struct {
	mapping []byte   // single backing mmap, len == n*PageSize
	frames  []*Frame // len == n, frames[i].data is a slice of mapping
	free    []FrameID
	locked  bool // whether mlock succeeded; best-effort, not fatal
}

// NewRegistry allocates n page-sized buffers and pins them. Registration
// failure (the mmap itself) is fatal at startup, matching §4.A; a failed
// mlock is logged and otherwise ignored, since mlock commonly requires a
// privilege (CAP_IPC_LOCK / RLIMIT_MEMLOCK) that isn't available in every
// deployment and the frames are still usable, just swappable.
func NewRegistry(n int) (*Registry, error) {
	if n <= 0 {
		return nil, fmt.Errorf("storage: registry size must be > 0, got %d", n)
	}

	size := n * PageSize
	mapping, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to register %d frames: %w", n, err)
	}

	locked := true
	if err := unix.Mlock(mapping); err != nil {
		log.Printf("storage: mlock of frame registry failed, frames may be swapped: %v", err)
		locked = false
	}

	r := &Registry{
		mapping: mapping,
		frames:  make([]*Frame, n),
		free:    make([]FrameID, n),
		locked:  locked,
	}
	for i := 0; i < n; i++ {
		fid := FrameID(i)
		r.frames[i] = &Frame{id: fid, data: mapping[i*PageSize : (i+1)*PageSize : (i+1)*PageSize]}
		r.free[i] = fid
	}
	return r, nil
}

// Len returns the number of frames the registry manages.
func (r *Registry) Len() int { return len(r.frames) }

// Checkout removes a frame from the registry's free pool and yields
// exclusive ownership of it. Checkout from an empty pool is not an error —
// it returns (nil, false), and the caller (the Buffer Pool Manager) is
// expected to evict instead.
func (r *Registry) Checkout() (*Frame, bool) {
	n := len(r.free)
	if n == 0 {
		return nil, false
	}
	fid := r.free[n-1]
	r.free = r.free[:n-1]
	return r.frames[fid], true
}

// Return gives a frame back to the registry's free pool.
func (r *Registry) Return(f *Frame) {
	f.zero()
	r.free = append(r.free, f.id)
}

// Close unlocks and unmaps the registry's backing memory. Safe to call once
// at Buffer Pool Manager shutdown, after every frame has been returned (or
// is provably no longer referenced).
func (r *Registry) Close() error {
	if r.locked {
		if err := unix.Munlock(r.mapping); err != nil {
			log.Printf("storage: munlock of frame registry failed: %v", err)
		}
	}
	if err := unix.Munmap(r.mapping); err != nil {
		return fmt.Errorf("storage: failed to unmap frame registry: %w", err)
	}
	return nil
}
