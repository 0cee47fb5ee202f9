// Layout allocator unit tests: best-fit hole search and pending-hole
// coalescing, exercised directly against Layout without going through
// a Database (these are pure in-memory geometry operations).
package anydb

import "testing"

// TestFindSmallestAdequateHoleBestFit covers the best-fit rule: among
// holes that satisfy a minimum size, the smallest one wins, not the
// first one inserted or the one at the lowest address.
func TestFindSmallestAdequateHoleBestFit(t *testing.T) {
	l := newLayout()
	l.addHole(4096, 8192)  // too big, but adequate
	l.addHole(20480, 4096) // exact fit, smaller
	l.addHole(40960, 2048) // too small

	start, ok := l.FindSmallestAdequateHole(4096)
	if !ok {
		t.Fatal("FindSmallestAdequateHole(4096) found nothing")
	}
	if start != 20480 {
		t.Fatalf("FindSmallestAdequateHole(4096) = %d, want 20480 (the exact-fit smaller hole)", start)
	}

	if _, ok := l.FindSmallestAdequateHole(8193); ok {
		t.Fatal("FindSmallestAdequateHole(8193) should find nothing: no hole is that large")
	}
}

// TestFindSmallestAdequateHoleTiesBreakByStart covers the tie-break
// rule: when two holes share the smallest adequate size, the one with
// the lower start address wins.
func TestFindSmallestAdequateHoleTiesBreakByStart(t *testing.T) {
	l := newLayout()
	l.addHole(40960, 4096)
	l.addHole(4096, 4096)

	start, ok := l.FindSmallestAdequateHole(4096)
	if !ok {
		t.Fatal("FindSmallestAdequateHole(4096) found nothing")
	}
	if start != 4096 {
		t.Fatalf("FindSmallestAdequateHole(4096) = %d, want 4096 (lower start wins the tie)", start)
	}
}

// TestRemoveOrCompressHole covers the three outcomes of consuming part
// of a hole: an exact match removes it, a partial consumption shrinks
// and advances it, and over-consuming returns ErrHoleTooSmall while
// leaving the hole untouched.
func TestRemoveOrCompressHole(t *testing.T) {
	l := newLayout()
	l.addHole(0, 4096)

	if err := l.RemoveOrCompressHole(0, 1024); err != nil {
		t.Fatalf("RemoveOrCompressHole(partial): %v", err)
	}
	size, ok := l.GetHole(1024)
	if !ok || size != 3072 {
		t.Fatalf("hole after partial consume: size=%d ok=%v, want 3072 at 1024", size, ok)
	}
	if _, ok := l.GetHole(0); ok {
		t.Fatal("old hole start 0 should no longer exist")
	}

	if err := l.RemoveOrCompressHole(1024, 4096); err == nil {
		t.Fatal("RemoveOrCompressHole(over-consume) should have failed")
	}
	if size, ok := l.GetHole(1024); !ok || size != 3072 {
		t.Fatalf("hole should be restored after failed over-consume: size=%d ok=%v", size, ok)
	}

	if err := l.RemoveOrCompressHole(1024, 3072); err != nil {
		t.Fatalf("RemoveOrCompressHole(exact): %v", err)
	}
	if _, ok := l.GetHole(1024); ok {
		t.Fatal("hole should be fully removed after exact consume")
	}
}

// TestPromotePendingHolesCoalescesBothSides covers the coalescing rule:
// a newly pending hole merges with an adjacent hole immediately before
// it and an adjacent hole immediately after it, producing one hole
// spanning all three ranges.
func TestPromotePendingHolesCoalescesBothSides(t *testing.T) {
	l := newLayout()
	l.addHole(0, 4096)     // before
	l.addHole(12288, 4096) // after
	l.pending[4096] = 8192 // the freed range in between

	l.PromotePendingHoles()

	size, ok := l.GetHole(0)
	if !ok {
		t.Fatal("expected one coalesced hole starting at 0")
	}
	if size != 16384 {
		t.Fatalf("coalesced hole size = %d, want 16384", size)
	}
	if _, ok := l.GetHole(4096); ok {
		t.Fatal("the middle hole's start should no longer be a separate entry")
	}
	if _, ok := l.GetHole(12288); ok {
		t.Fatal("the after hole's start should no longer be a separate entry")
	}
}

// TestPromotePendingHolesNoAdjacentNeighbors covers the case where a
// freed range has no adjacent hole on either side: it simply becomes
// its own hole.
func TestPromotePendingHolesNoAdjacentNeighbors(t *testing.T) {
	l := newLayout()
	l.pending[4096] = 4096

	l.PromotePendingHoles()

	size, ok := l.GetHole(4096)
	if !ok || size != 4096 {
		t.Fatalf("hole at 4096: size=%d ok=%v, want 4096", size, ok)
	}
}
