package storage

import (
	"errors"
	"testing"
)

func TestReplacerLookupPromotesToYoung(t *testing.T) {
	r := NewSegmentedLRUReplacer(4, 0.5)
	r.Record(0, AccessKindScan)
	r.Record(0, AccessKindLookup)

	if _, ok := r.inYoung[0]; !ok {
		t.Error("expected a lookup access to promote the frame into the young segment")
	}
}

func TestReplacerScanNeverPromotes(t *testing.T) {
	r := NewSegmentedLRUReplacer(4, 0.5)
	r.Record(0, AccessKindScan)
	r.Record(0, AccessKindScan)

	if _, ok := r.inYoung[0]; ok {
		t.Error("expected repeated scan accesses to stay in the old segment")
	}
}

func TestReplacerReplacePrefersOldOverYoung(t *testing.T) {
	r := NewSegmentedLRUReplacer(4, 0.5)
	r.Record(0, AccessKindScan)    // old
	r.Record(1, AccessKindLookup) // old, then promoted to young
	r.Record(1, AccessKindLookup)

	victim, ok := r.Replace()
	if !ok {
		t.Fatal("expected a victim to be found")
	}
	if victim != 0 {
		t.Errorf("expected old-segment frame 0 to be evicted first, got %d", victim)
	}
}

func TestReplacerSkipsPinnedFrames(t *testing.T) {
	r := NewSegmentedLRUReplacer(4, 0.5)
	r.Record(0, AccessKindScan)
	r.Record(1, AccessKindScan)

	if err := r.SetPinned(0, true); err != nil {
		t.Fatalf("SetPinned: %v", err)
	}

	victim, ok := r.Replace()
	if !ok {
		t.Fatal("expected a victim to be found")
	}
	if victim != 1 {
		t.Errorf("expected pinned frame 0 to be skipped, evicted %d instead", victim)
	}
}

func TestReplacerReplaceEmptyReturnsFalse(t *testing.T) {
	r := NewSegmentedLRUReplacer(4, 0.5)
	if _, ok := r.Replace(); ok {
		t.Error("expected Replace on an empty replacer to report no victim")
	}
}

func TestReplacerAllPinnedReturnsFalse(t *testing.T) {
	r := NewSegmentedLRUReplacer(2, 0.5)
	r.Record(0, AccessKindScan)
	r.Record(1, AccessKindLookup)
	if err := r.SetPinned(0, true); err != nil {
		t.Fatalf("SetPinned(0): %v", err)
	}
	if err := r.SetPinned(1, true); err != nil {
		t.Fatalf("SetPinned(1): %v", err)
	}

	if _, ok := r.Replace(); ok {
		t.Error("expected Replace to find no victim when every tracked frame is pinned")
	}
}

func TestReplacerSetPinnedUnknownFrame(t *testing.T) {
	r := NewSegmentedLRUReplacer(4, 0.5)
	if err := r.SetPinned(99, true); !errors.Is(err, ErrFrameNotFound) {
		t.Fatalf("expected ErrFrameNotFound, got %v", err)
	}
}

func TestReplacerAvailable(t *testing.T) {
	r := NewSegmentedLRUReplacer(4, 0.5)
	r.Record(0, AccessKindScan)
	r.Record(1, AccessKindScan)
	if err := r.SetPinned(0, true); err != nil {
		t.Fatalf("SetPinned: %v", err)
	}

	if got := r.Available(); got != 1 {
		t.Errorf("expected 1 available frame, got %d", got)
	}
}

func TestReplacerRemove(t *testing.T) {
	r := NewSegmentedLRUReplacer(4, 0.5)
	r.Record(0, AccessKindLookup)
	r.Remove(0)

	if r.Len() != 0 {
		t.Errorf("expected replacer to be empty after Remove, got Len() == %d", r.Len())
	}
	if _, ok := r.Replace(); ok {
		t.Error("expected no victim after removing the only tracked frame")
	}
}

func TestReplacerYoungOverflowDemotesToOld(t *testing.T) {
	r := NewSegmentedLRUReplacer(4, 0.5) // youngCap == 2, oldCap == 2

	// Each frame needs two touches to reach young: one to land in old
	// (first sight always goes there), one more as a Lookup to promote it.
	for _, fid := range []FrameID{0, 1, 2} {
		r.Record(fid, AccessKindLookup)
		r.Record(fid, AccessKindLookup)
	}

	if r.young.Len() > r.youngCap {
		t.Errorf("expected young segment to respect its cap of %d, has %d entries", r.youngCap, r.young.Len())
	}
	if _, ok := r.inOld[0]; !ok {
		t.Error("expected the least-recently-promoted frame (0) to be demoted back to old once young overflowed")
	}
	if _, ok := r.inYoung[2]; !ok {
		t.Error("expected the most-recently-promoted frame (2) to remain in young")
	}
}
