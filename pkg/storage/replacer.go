package storage

import (
	"container/list"
	"fmt"
	"math"
)

// AccessKind classifies why a page was touched, so the replacer can tell a
// point lookup (which should earn a spot in the protected young segment)
// from a sequential scan (which should only ever churn through old).
type AccessKind int

const (
	// AccessKindLookup is a point access — an index probe landing on
	// exactly the page it needs. Only Lookup promotes into young.
	AccessKindLookup AccessKind = iota
	// AccessKindScan is sequential-scan traffic; never promotes.
	AccessKindScan
	// AccessKindIndex is an internal index-structure traversal that isn't
	// a leaf-level point lookup; never promotes.
	AccessKindIndex
	// AccessKindUnknown is the catch-all for callers that don't track
	// access provenance; never promotes.
	AccessKindUnknown
)

// node is the payload of a list.Element in either segment. Its pinned flag
// travels with it across young/old moves — Record reuses the existing node
// rather than allocating a new one so a frame's pin state survives
// promotion and demotion.
type node struct {
	fid    FrameID
	pinned bool
}

// Replacer is the eviction-policy seam the Buffer Pool Manager depends on:
// given the set of currently-resident frames, pick a victim to reuse. It
// mirrors the upstream trait Replacer (original_source/src/replacer/mod.rs),
// which the same tree implements twice — once for real (MySQLReplacer, a
// segmented-LRU scheme) and once as an unfinished stub (QueueReplacer) — to
// keep the policy swappable without touching the manager that drives it.
// SegmentedLRUReplacer below is this package's sole production
// implementation.
type Replacer interface {
	// Record registers an access to fid under the given AccessKind, letting
	// the policy adjust fid's standing (e.g. promote it into a protected
	// segment).
	Record(fid FrameID, kind AccessKind)
	// Replace selects and removes an eviction victim, reporting false if no
	// unpinned frame is available.
	Replace() (FrameID, bool)
	// SetPinned marks fid as pinned (ineligible for Replace) or unpinned.
	SetPinned(fid FrameID, pinned bool) error
	// Remove drops fid from the policy's bookkeeping unconditionally.
	Remove(fid FrameID)
	// Available reports how many tracked frames could be evicted right now.
	Available() int
}

// SegmentedLRUReplacer is a segmented-LRU eviction policy: a young list (the
// protected working set) and an old list (scan traffic and cold
// candidates), each capped, with promotion from old to young on lookup and
// demotion from young to old when young overflows. It is a direct port of
// MySQLReplacer (original_source/src/replacer/mysql.rs), the upstream's own
// primary Replacer implementation.
//
// SegmentedLRUReplacer is not internally synchronized. §4.F requires that
// the replacer, the free list, and the frame→page map all live under the
// Buffer Pool Manager's single directory lock; every exported method here
// assumes the caller already holds it.
type SegmentedLRUReplacer struct {
	youngCap int
	oldCap   int

	young *list.List
	old   *list.List

	inYoung map[FrameID]*list.Element
	inOld   map[FrameID]*list.Element
}

// NewSegmentedLRUReplacer builds a replacer over n frames with the young
// segment sized to youngRatio*n (rounded, clamped to leave both segments
// non-empty for n >= 2).
func NewSegmentedLRUReplacer(n int, youngRatio float64) *SegmentedLRUReplacer {
	y := int(math.Round(float64(n) * youngRatio))
	if y < 1 {
		y = 1
	}
	if n > 1 && y >= n {
		y = n - 1
	}
	return &SegmentedLRUReplacer{
		youngCap: y,
		oldCap:   n - y,
		young:    list.New(),
		old:      list.New(),
		inYoung:  make(map[FrameID]*list.Element, y),
		inOld:    make(map[FrameID]*list.Element, n-y),
	}
}

// Record registers an access to fid, per the promotion/demotion rules in
// §4.C:
//  1. If fid is in old: remove it; Lookup inserts at young's head, anything
//     else reinserts at old's head.
//  2. Else if fid is in young: move it to young's head.
//  3. Else (a frame neither segment currently tracks): if old is full, migrate old's head
//     to young's head first, then insert fid at old's head.
//  4. If young now exceeds its cap, demote young's tail to old's head.
func (r *SegmentedLRUReplacer) Record(fid FrameID, kind AccessKind) {
	if el, ok := r.inOld[fid]; ok {
		n := el.Value.(*node)
		r.old.Remove(el)
		delete(r.inOld, fid)
		if kind == AccessKindLookup {
			r.inYoung[fid] = r.young.PushFront(n)
		} else {
			r.inOld[fid] = r.old.PushFront(n)
		}
	} else if el, ok := r.inYoung[fid]; ok {
		r.young.MoveToFront(el)
	} else {
		if r.old.Len() >= r.oldCap {
			if head := r.old.Front(); head != nil {
				hn := head.Value.(*node)
				r.old.Remove(head)
				delete(r.inOld, hn.fid)
				r.inYoung[hn.fid] = r.young.PushFront(hn)
			}
		}
		r.inOld[fid] = r.old.PushFront(&node{fid: fid})
	}

	if r.young.Len() > r.youngCap {
		if tail := r.young.Back(); tail != nil {
			tn := tail.Value.(*node)
			r.young.Remove(tail)
			delete(r.inYoung, tn.fid)
			r.inOld[tn.fid] = r.old.PushFront(tn)
		}
	}
}

// Replace selects an eviction victim: the oldest non-pinned entry in old,
// or if every old entry is pinned, the oldest non-pinned entry in young. It
// removes the chosen frame from the replacer entirely — Record must be
// called again if the frame is reused.
func (r *SegmentedLRUReplacer) Replace() (FrameID, bool) {
	for el := r.old.Back(); el != nil; el = el.Prev() {
		n := el.Value.(*node)
		if !n.pinned {
			r.old.Remove(el)
			delete(r.inOld, n.fid)
			return n.fid, true
		}
	}
	for el := r.young.Back(); el != nil; el = el.Prev() {
		n := el.Value.(*node)
		if !n.pinned {
			r.young.Remove(el)
			delete(r.inYoung, n.fid)
			return n.fid, true
		}
	}
	return invalidFrameID, false
}

// SetPinned flips the pinned flag on fid wherever it currently resides.
func (r *SegmentedLRUReplacer) SetPinned(fid FrameID, pinned bool) error {
	if el, ok := r.inOld[fid]; ok {
		el.Value.(*node).pinned = pinned
		return nil
	}
	if el, ok := r.inYoung[fid]; ok {
		el.Value.(*node).pinned = pinned
		return nil
	}
	return fmt.Errorf("storage: set_pinned(%d): %w", fid, ErrFrameNotFound)
}

// Remove deletes fid from the replacer unconditionally, used when a page is
// dropped outright rather than merely evicted.
func (r *SegmentedLRUReplacer) Remove(fid FrameID) {
	if el, ok := r.inOld[fid]; ok {
		r.old.Remove(el)
		delete(r.inOld, fid)
		return
	}
	if el, ok := r.inYoung[fid]; ok {
		r.young.Remove(el)
		delete(r.inYoung, fid)
	}
}

// Available counts non-pinned entries across both segments — candidates
// Replace could still evict right now.
func (r *SegmentedLRUReplacer) Available() int {
	count := 0
	for _, el := range r.inOld {
		if !el.Value.(*node).pinned {
			count++
		}
	}
	for _, el := range r.inYoung {
		if !el.Value.(*node).pinned {
			count++
		}
	}
	return count
}

// Len returns the total number of frames currently tracked (pinned or not).
func (r *SegmentedLRUReplacer) Len() int {
	return r.old.Len() + r.young.Len()
}
