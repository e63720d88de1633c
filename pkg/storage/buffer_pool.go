package storage

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// BufferPoolManager is the façade of the system: it maps PageId to Page,
// allocates victim frames through the Replacer, drives disk I/O through the
// DiskManager, and issues read/write guards through Page. It owns every
// Page as an arena; Pages hold only a non-owning back-reference to it, so
// there is no strong reference cycle.
//
// mu is the single directory/frame-manager lock §4.F requires: the page
// directory, the frame↔page map, the free list, and the replacer all live
// under it. It is never held across a disk read or write — getFreeFrame
// releases it before calling a victim page's evict, and Page.Read/Write
// never touch it at all (they go through bpm.pin/bindFrame/getFreeFrame,
// each of which takes and releases it internally).
type BufferPoolManager struct {
	cfg Config

	registry *Registry
	diskMgr  *DiskManager
	replacer Replacer

	mu         sync.Mutex
	directory  map[PageID]*Page
	frameOwner map[FrameID]PageID
	free       []*Frame
	pinCounts  map[FrameID]int
	closed     bool

	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	lostFrames  atomic.Uint64
}

// NewBufferPoolManager constructs a pool of cfg.PoolSize frames backed by
// cfg.BackingPath. The eviction policy defaults to SegmentedLRUReplacer;
// passing a replacer overrides it with any other Replacer implementation,
// e.g. in tests that want deterministic victim selection.
func NewBufferPoolManager(cfg Config, replacer ...Replacer) (*BufferPoolManager, error) {
	cfg, err := cfg.validate()
	if err != nil {
		return nil, err
	}

	registry, err := NewRegistry(cfg.PoolSize)
	if err != nil {
		return nil, err
	}

	diskMgr, err := NewDiskManager(cfg.BackingPath, cfg.CreateIfMissing)
	if err != nil {
		registry.Close()
		return nil, err
	}

	var rep Replacer
	if len(replacer) > 0 && replacer[0] != nil {
		rep = replacer[0]
	} else {
		rep = NewSegmentedLRUReplacer(cfg.PoolSize, cfg.YoungRatio)
	}

	bpm := &BufferPoolManager{
		cfg:        cfg,
		registry:   registry,
		diskMgr:    diskMgr,
		replacer:   rep,
		directory:  make(map[PageID]*Page),
		frameOwner: make(map[FrameID]PageID, cfg.PoolSize),
		pinCounts:  make(map[FrameID]int, cfg.PoolSize),
	}

	for {
		f, ok := registry.Checkout()
		if !ok {
			break
		}
		bpm.free = append(bpm.free, f)
	}

	return bpm, nil
}

// resolveKind returns kind[0] if given, else the Lookup default for both
// fetch_read and fetch_write per §6.
func resolveKind(kind []AccessKind) AccessKind {
	if len(kind) > 0 {
		return kind[0]
	}
	return AccessKindLookup
}

// pageFor is the insertion-race-free get-or-create over the page directory.
func (bpm *BufferPoolManager) pageFor(pid PageID) *Page {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	if p, ok := bpm.directory[pid]; ok {
		return p
	}
	p := newPage(pid, bpm)
	bpm.directory[pid] = p
	return p
}

// FetchRead gets or creates the Page for pid, reads through it, and records
// the access in the replacer. kind defaults to AccessKindLookup.
func (bpm *BufferPoolManager) FetchRead(pid PageID, kind ...AccessKind) (*ReadPageGuard, error) {
	if bpm.isClosed() {
		return nil, ErrClosed
	}
	page := bpm.pageFor(pid)
	guard, loaded, err := page.Read()
	if err != nil {
		return nil, err
	}
	if loaded {
		bpm.misses.Add(1)
	} else {
		bpm.hits.Add(1)
	}
	bpm.recordAccess(guard.frame.ID(), resolveKind(kind))
	return guard, nil
}

// FetchWrite is FetchRead's write-guard counterpart; it never downgrades.
func (bpm *BufferPoolManager) FetchWrite(pid PageID, kind ...AccessKind) (*WritePageGuard, error) {
	if bpm.isClosed() {
		return nil, ErrClosed
	}
	page := bpm.pageFor(pid)
	guard, loaded, err := page.Write()
	if err != nil {
		return nil, err
	}
	if loaded {
		bpm.misses.Add(1)
	} else {
		bpm.hits.Add(1)
	}
	bpm.recordAccess(guard.frame.ID(), resolveKind(kind))
	return guard, nil
}

// Flush writes a resident page to disk without evicting it. Returns
// ErrNotResident if pid has never been loaded or isn't currently resident.
func (bpm *BufferPoolManager) Flush(pid PageID) error {
	bpm.mu.Lock()
	page, ok := bpm.directory[pid]
	bpm.mu.Unlock()
	if !ok {
		return fmt.Errorf("storage: flush page %d: %w", pid, ErrNotResident)
	}

	wg := page.swip.Lock()
	defer wg.Unlock()

	frame := wg.Value()
	if frame == nil {
		return fmt.Errorf("storage: flush page %d: %w", pid, ErrNotResident)
	}
	if err := bpm.diskMgr.Write(pid, frame); err != nil {
		return fmt.Errorf("storage: flush page %d: %w", pid, err)
	}
	return nil
}

// FlushAll flushes every currently-resident page. Pages are flushed
// concurrently — §4.F promises no ordering among them — and a page that
// races its way out of residency between the snapshot and its own flush
// (ErrNotResident) is not an error for FlushAll's purposes.
func (bpm *BufferPoolManager) FlushAll() error {
	bpm.mu.Lock()
	pages := make([]*Page, 0, len(bpm.directory))
	for _, p := range bpm.directory {
		pages = append(pages, p)
	}
	bpm.mu.Unlock()

	var g errgroup.Group
	for _, p := range pages {
		p := p
		g.Go(func() error {
			if err := bpm.Flush(p.id); err != nil && !errors.Is(err, ErrNotResident) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// getFreeFrame implements §4.F's free-frame acquisition: pop the free list
// if non-empty, else ask the replacer for a victim and evict it. Steps 1-3
// run under mu; the actual eviction I/O runs only under the victim page's
// own write lock, with mu released, per §5's suspension-point rule.
func (bpm *BufferPoolManager) getFreeFrame() (*Frame, error) {
	bpm.mu.Lock()
	if n := len(bpm.free); n > 0 {
		f := bpm.free[n-1]
		bpm.free = bpm.free[:n-1]
		bpm.mu.Unlock()
		return f, nil
	}

	fid, ok := bpm.replacer.Replace()
	if !ok {
		bpm.mu.Unlock()
		return nil, ErrNoFramesAvailable
	}

	victimPid, ok := bpm.frameOwner[fid]
	if !ok {
		bpm.mu.Unlock()
		return nil, &InvariantViolationError{
			Detail: fmt.Sprintf("replacer selected frame %d with no owning page", fid),
		}
	}
	victim := bpm.directory[victimPid]
	delete(bpm.frameOwner, fid)
	bpm.mu.Unlock()

	frame, err := victim.evict()
	if err != nil {
		bpm.lostFrames.Add(1)
		log.Printf("storage: lost frame %d evicting page %d: %v; effective pool size reduced", fid, victimPid, err)
		return nil, fmt.Errorf("storage: evict frame %d: %w", fid, err)
	}
	bpm.evictions.Add(1)
	return frame, nil
}

// abandonFrame returns a frame that was checked out via getFreeFrame but
// never successfully bound to a page (the disk read that would have
// populated it failed) back to the free list.
func (bpm *BufferPoolManager) abandonFrame(frame *Frame) {
	frame.zero()
	bpm.mu.Lock()
	bpm.free = append(bpm.free, frame)
	bpm.mu.Unlock()
}

// bindFrame records that fid now holds pid's data and registers the frame
// with the replacer for the first time. The caller's own access (which
// triggered this load) is recorded separately by recordAccess immediately
// afterward, with the real AccessKind.
func (bpm *BufferPoolManager) bindFrame(pid PageID, fid FrameID) {
	bpm.mu.Lock()
	bpm.frameOwner[fid] = pid
	bpm.replacer.Record(fid, AccessKindUnknown)
	bpm.mu.Unlock()
}

// pin increments fid's pin count and marks it unevictable in the replacer.
func (bpm *BufferPoolManager) pin(pid PageID, fid FrameID) {
	bpm.mu.Lock()
	bpm.pinCounts[fid]++
	_ = bpm.replacer.SetPinned(fid, true)
	bpm.mu.Unlock()
}

// unpin decrements fid's pin count, clearing the replacer's pinned flag
// once the last outstanding guard releases it.
func (bpm *BufferPoolManager) unpin(pid PageID, fid FrameID) {
	bpm.mu.Lock()
	bpm.pinCounts[fid]--
	if bpm.pinCounts[fid] <= 0 {
		delete(bpm.pinCounts, fid)
		_ = bpm.replacer.SetPinned(fid, false)
	}
	bpm.mu.Unlock()
}

// recordAccess registers fid's access with the replacer and reconciles its
// pinned flag against the current pin count, so a frame's pin state is
// always correct after this call regardless of the order pin/bindFrame ran
// in relative to it.
func (bpm *BufferPoolManager) recordAccess(fid FrameID, kind AccessKind) {
	bpm.mu.Lock()
	bpm.replacer.Record(fid, kind)
	pinned := bpm.pinCounts[fid] > 0
	_ = bpm.replacer.SetPinned(fid, pinned)
	bpm.mu.Unlock()
}

func (bpm *BufferPoolManager) isClosed() bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	return bpm.closed
}

// Stats returns pool-wide counters: residency, free frames, hit/miss/
// eviction counts and rate, and the replacer's currently-evictable count.
func (bpm *BufferPoolManager) Stats() map[string]any {
	bpm.mu.Lock()
	resident := len(bpm.frameOwner)
	free := len(bpm.free)
	available := bpm.replacer.Available()
	bpm.mu.Unlock()

	hits := bpm.hits.Load()
	misses := bpm.misses.Load()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return map[string]any{
		"pool_size":   bpm.cfg.PoolSize,
		"resident":    resident,
		"free":        free,
		"available":   available,
		"hits":        hits,
		"misses":      misses,
		"evictions":   bpm.evictions.Load(),
		"lost_frames": bpm.lostFrames.Load(),
		"hit_rate":    hitRate,
	}
}

// Close flushes every resident page, then closes the disk manager and tears
// down the frame registry's mapping. Not safe to call concurrently with
// in-flight fetches.
func (bpm *BufferPoolManager) Close() error {
	if err := bpm.FlushAll(); err != nil {
		return fmt.Errorf("storage: close: %w", err)
	}
	if err := bpm.diskMgr.Close(); err != nil {
		return fmt.Errorf("storage: close: %w", err)
	}

	bpm.mu.Lock()
	bpm.closed = true
	bpm.mu.Unlock()

	return bpm.registry.Close()
}
