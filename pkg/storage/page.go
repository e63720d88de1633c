package storage

import (
	"fmt"
	"sync/atomic"
)

// Temperature is the replacement-policy state of a resident (or
// not-yet-resident) page. Cold means not resident; Cool means resident but
// not recently referenced; Hot means resident and recently referenced.
// "Loading" from §3's state diagram isn't a Temperature value — it's Cold
// plus a write guard held by the task doing the load, which the Temperature
// field alone can't distinguish from plain Cold, by design: invariant 3
// only promises state ∈ {Hot,Cool} ⇔ swip is non-empty "whenever no write
// guard is held".
type Temperature int32

const (
	TemperatureCold Temperature = iota
	TemperatureCool
	TemperatureHot
)

func (t Temperature) String() string {
	switch t {
	case TemperatureCold:
		return "cold"
	case TemperatureCool:
		return "cool"
	case TemperatureHot:
		return "hot"
	default:
		return "unknown"
	}
}

// Page is the per-page state machine and swip. Identity is its PageID; it
// is created lazily on first reference (BufferPoolManager.pageFor) and
// lives until the pool shuts down. The back-reference to its
// BufferPoolManager is non-owning — the BPM's page directory is the only
// thing that owns a Page.
type Page struct {
	id  PageID
	bpm *BufferPoolManager

	temperature atomic.Int32
	swip        *HybridLock[*Frame]
}

func newPage(id PageID, bpm *BufferPoolManager) *Page {
	return &Page{
		id:   id,
		bpm:  bpm,
		swip: NewHybridLock[*Frame](nil),
	}
}

// ID returns the page's identifier.
func (p *Page) ID() PageID { return p.id }

// Temperature returns the page's current replacement-policy state.
func (p *Page) Temperature() Temperature {
	return Temperature(p.temperature.Load())
}

// Read implements §4.E's read path: a CAS attempt to promote Cool to Hot,
// then a hot-path shared-lock check, falling back to the slow path (load
// from disk under an exclusive lock, then downgrade) only when the swip is
// empty.
// The returned bool reports whether this call performed a fresh disk load
// (true) or found the page already resident (false) — the Buffer Pool
// Manager uses it to maintain hit/miss statistics.
func (p *Page) Read() (guard *ReadPageGuard, loaded bool, err error) {
	p.temperature.CompareAndSwap(int32(TemperatureCool), int32(TemperatureHot))

	rg := p.swip.RLock()
	if f := rg.Value(); f != nil {
		p.bpm.pin(p.id, f.ID())
		return &ReadPageGuard{page: p, frame: f, rg: rg}, false, nil
	}
	rg.Unlock()

	wg := p.swip.Lock()
	if f := wg.Value(); f != nil {
		// Another task loaded it while we waited for the write lock.
		p.bpm.pin(p.id, f.ID())
		rg = wg.Downgrade()
		if rg.Value() != f {
			// Evicted in the window between dropping the write lock and
			// taking the read lock; undo the pin and start over.
			rg.Unlock()
			p.bpm.unpin(p.id, f.ID())
			return p.Read()
		}
		return &ReadPageGuard{page: p, frame: f, rg: rg}, false, nil
	}

	frame, loadErr := p.load(wg)
	if loadErr != nil {
		wg.Unlock()
		return nil, false, loadErr
	}
	p.bpm.pin(p.id, frame.ID())
	rg = wg.Downgrade()
	if rg.Value() != frame {
		rg.Unlock()
		p.bpm.unpin(p.id, frame.ID())
		return p.Read()
	}
	return &ReadPageGuard{page: p, frame: frame, rg: rg}, true, nil
}

// Write implements §4.E's write path: same load-on-miss behavior as Read,
// but it never downgrades — the caller gets exclusive access directly.
func (p *Page) Write() (guard *WritePageGuard, loaded bool, err error) {
	p.temperature.CompareAndSwap(int32(TemperatureCool), int32(TemperatureHot))

	wg := p.swip.Lock()
	if f := wg.Value(); f != nil {
		p.bpm.pin(p.id, f.ID())
		return &WritePageGuard{page: p, frame: f, wg: wg}, false, nil
	}

	frame, loadErr := p.load(wg)
	if loadErr != nil {
		wg.Unlock()
		return nil, false, loadErr
	}
	p.bpm.pin(p.id, frame.ID())
	return &WritePageGuard{page: p, frame: frame, wg: wg}, true, nil
}

// load fills an empty swip: acquire a free frame (which may itself evict
// some other page), read the page's bytes off disk into it, install it into
// the swip, and settle on Cool. Called with wg already held; on failure the
// page is left Cold with an empty swip, per §4.E's failure semantics.
func (p *Page) load(wg *WriteGuard[*Frame]) (*Frame, error) {
	frame, err := p.bpm.getFreeFrame()
	if err != nil {
		return nil, fmt.Errorf("storage: page %d: %w", p.id, err)
	}

	if err := p.bpm.diskMgr.Read(p.id, frame); err != nil {
		p.bpm.abandonFrame(frame)
		return nil, fmt.Errorf("storage: page %d: load: %w", p.id, err)
	}

	wg.SetValue(frame)
	p.temperature.Store(int32(TemperatureCool))
	p.bpm.bindFrame(p.id, frame.ID())
	return frame, nil
}

// evict is called only by the Buffer Pool Manager once the replacer has
// chosen this page's frame as a victim. It moves the page to Cold
// immediately — before taking the write lock — so any task that arrives
// concurrently and finds the swip empty knows a reload is needed rather
// than racing evict for the same frame.
func (p *Page) evict() (*Frame, error) {
	p.temperature.Store(int32(TemperatureCold))

	wg := p.swip.Lock()
	defer wg.Unlock()

	frame := wg.Value()
	if frame == nil {
		return nil, fmt.Errorf("storage: page %d: %w", p.id, ErrAlreadyEvicted)
	}
	wg.SetValue(nil)

	if err := p.bpm.diskMgr.Write(p.id, frame); err != nil {
		// The frame is already out of the swip; per §7 it is not returned
		// to the free list on a failed eviction write, so the caller
		// (BufferPoolManager.getFreeFrame) shrinks the effective pool
		// instead of reusing it.
		return nil, fmt.Errorf("storage: page %d: evict: %w", p.id, err)
	}
	return frame, nil
}
