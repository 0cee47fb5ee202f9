// Raw stored vector tests: push/write/read/persist, the hole and
// updated overlays, and the stamped two-step rollback walk.
package anydb

import (
	"testing"
)

func openRawU64(t *testing.T, db *Database, name string) *RawVec[uint64] {
	t.Helper()
	v, err := ImportRawVec[uint64](db, name, Uint64Codec(), 1, 3)
	if err != nil {
		t.Fatalf("ImportRawVec(%s): %v", name, err)
	}
	return v
}

// collectAll folds a vector's full logical range into a plain slice, the
// moral equivalent of the scenario descriptions' collect().
func collectAll(t *testing.T, v *RawVec[uint64]) []uint64 {
	t.Helper()
	acc, err := v.FoldRange(0, v.Len(), []uint64{}, func(acc any, val uint64) any {
		return append(acc.([]uint64), val)
	})
	if err != nil {
		t.Fatalf("FoldRange: %v", err)
	}
	return acc.([]uint64)
}

func requireEqualU64(t *testing.T, got, want []uint64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d (got %v, want %v)", len(got), len(want), got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("index %d = %d, want %d", i, got[i], want[i])
		}
	}
}

// TestRawVecPushWriteReadPersist covers the base append path: pushed
// values become readable immediately, and survive Write()+reopen.
func TestRawVecPushWriteReadPersist(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	v := openRawU64(t, db, "v")

	for i := uint64(0); i < 10; i++ {
		v.Push(i)
	}
	if got, want := v.Len(), int64(10); got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	if got, err := v.TryGet(7); err != nil || got != 7 {
		t.Fatalf("TryGet(7) = (%d, %v), want (7, nil)", got, err)
	}

	if _, err := v.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got, want := v.StoredLen(), int64(10); got != want {
		t.Fatalf("StoredLen() after Write = %d, want %d", got, want)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(dir, Config{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()
	v2 := openRawU64(t, db2, "v")
	requireEqualU64(t, collectAll(t, v2), []uint64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
}

// TestRawVecUpdateAndDelete covers the updated and hole overlays acting
// on already-stored data: Update must be visible through GetAnyOrRead
// and FoldRange before any Write, and Delete must hide the index from
// both without physically removing it until the next Write.
func TestRawVecUpdateAndDelete(t *testing.T) {
	db, err := Open(t.TempDir(), Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	v := openRawU64(t, db, "v")

	for i := uint64(0); i < 5; i++ {
		v.Push(i)
	}
	if _, err := v.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := v.Update(2, 200); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if val, ok, err := v.GetAnyOrRead(2); err != nil || !ok || val != 200 {
		t.Fatalf("GetAnyOrRead(2) = (%d, %v, %v), want (200, true, nil)", val, ok, err)
	}

	v.Delete(3)
	if _, ok, err := v.GetAnyOrRead(3); err != nil || ok {
		t.Fatalf("GetAnyOrRead(3) after Delete = (_, %v, %v), want (_, false, nil)", ok, err)
	}

	requireEqualU64(t, collectAll(t, v), []uint64{0, 1, 200, 4})

	if _, err := v.Write(); err != nil {
		t.Fatalf("Write after update/delete: %v", err)
	}
	requireEqualU64(t, collectAll(t, v), []uint64{0, 1, 200, 4})
}

// TestRawVecFillFirstHoleOrPush covers hole reuse: a hole left by Delete
// is reused by the next FillFirstHoleOrPush before any new index is
// appended.
func TestRawVecFillFirstHoleOrPush(t *testing.T) {
	db, err := Open(t.TempDir(), Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	v := openRawU64(t, db, "v")

	for i := uint64(0); i < 3; i++ {
		v.Push(i)
	}
	if _, err := v.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}
	v.Delete(1)

	idx, err := v.FillFirstHoleOrPush(100)
	if err != nil {
		t.Fatalf("FillFirstHoleOrPush: %v", err)
	}
	if idx != 1 {
		t.Fatalf("FillFirstHoleOrPush reused index %d, want 1", idx)
	}
	requireEqualU64(t, collectAll(t, v), []uint64{0, 100, 2})

	idx2, err := v.FillFirstHoleOrPush(101)
	if err != nil {
		t.Fatalf("FillFirstHoleOrPush (no holes): %v", err)
	}
	if idx2 != 3 {
		t.Fatalf("FillFirstHoleOrPush appended at %d, want 3", idx2)
	}
}

// TestRawVecTake covers Take: it must return the current value (through
// any overlay) and leave a hole behind exactly like Delete.
func TestRawVecTake(t *testing.T) {
	db, err := Open(t.TempDir(), Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	v := openRawU64(t, db, "v")
	for i := uint64(0); i < 4; i++ {
		v.Push(i)
	}
	if _, err := v.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	val, ok, err := v.Take(2)
	if err != nil || !ok || val != 2 {
		t.Fatalf("Take(2) = (%d, %v, %v), want (2, true, nil)", val, ok, err)
	}
	if _, ok, _ := v.GetAnyOrRead(2); ok {
		t.Fatal("index 2 still visible after Take")
	}
}

// TestRawVecTruncate covers Truncate: it must drop pushed values past
// the target, shrink the stored length, and discard any holes or
// updated overlay entries at or beyond the new length.
func TestRawVecTruncate(t *testing.T) {
	db, err := Open(t.TempDir(), Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	v := openRawU64(t, db, "v")

	for i := uint64(0); i < 20; i++ {
		v.Push(i)
	}
	if _, err := v.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := v.Update(15, 1500); err != nil {
		t.Fatalf("Update: %v", err)
	}
	v.Delete(18)

	v.Truncate(10)

	if got, want := v.Len(), int64(10); got != want {
		t.Fatalf("Len() after Truncate(10) = %d, want %d", got, want)
	}
	requireEqualU64(t, collectAll(t, v), []uint64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})

	if len(v.holes) != 0 {
		t.Fatalf("holes after Truncate = %v, want none", v.holes)
	}
	if len(v.updatedSet) != 0 {
		t.Fatalf("updatedSet after Truncate = %v, want none", v.updatedSet)
	}
}

// TestRawVecThreeStampRollbackCascade is a three-checkpoint scenario
// whose middle checkpoint's update and final checkpoint's truncate are
// both undone by a single RollbackBefore call that walks two change
// files back to back: push 0..20, stamped-write at stamp 1; update
// index 5, stamped-write at stamp 2; truncate to 10 and push five
// distinct replacement values, stamped-write at stamp 3. RollbackBefore
// undoes stamp 3 (restoring indices 10..19), then stamp 2 (restoring
// index 5) in the same call, and both restorations must survive
// together: if Rollback reset the updated overlay at the start of each
// step instead of merging additively, the first step's restoration of
// indices 10..19 would be wiped out when the second step ran.
func TestRawVecThreeStampRollbackCascade(t *testing.T) {
	db, err := Open(t.TempDir(), Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	v := openRawU64(t, db, "v")

	for i := uint64(0); i < 20; i++ {
		v.Push(i)
	}
	if err := v.StampedWriteWithChanges(1); err != nil {
		t.Fatalf("StampedWriteWithChanges(1): %v", err)
	}
	requireEqualU64(t, collectAll(t, v), rangeU64(0, 20))

	if err := v.Update(5, 500); err != nil {
		t.Fatalf("Update(5): %v", err)
	}
	if err := v.StampedWriteWithChanges(2); err != nil {
		t.Fatalf("StampedWriteWithChanges(2): %v", err)
	}

	v.Truncate(10)
	// Deliberately distinct from the original values at these physical
	// positions (100+i rather than i), so a rollback that restored
	// storedLen without also restoring the updated overlay for the
	// truncated range would be caught reading these instead.
	for i := uint64(10); i < 15; i++ {
		v.Push(100 + i)
	}
	if err := v.StampedWriteWithChanges(3); err != nil {
		t.Fatalf("StampedWriteWithChanges(3): %v", err)
	}
	requireEqualU64(t, collectAll(t, v), append(rangeU64(0, 5), 500, 6, 7, 8, 9, 110, 111, 112, 113, 114))

	stamp, err := v.RollbackBefore(2)
	if err != nil {
		t.Fatalf("RollbackBefore(2): %v", err)
	}
	if stamp != 1 {
		t.Fatalf("RollbackBefore(2) ended at stamp %d, want 1", stamp)
	}
	requireEqualU64(t, collectAll(t, v), rangeU64(0, 20))
	if len(v.holes) != 0 {
		t.Fatalf("holes after rollback = %v, want none", v.holes)
	}
}

// TestRawVecRollbackBaselineSurvivesReopen covers a subtler baseline
// case than TestRawVecThreeStampRollbackCascade: the vector's rollback
// shadow (prev_stored_len) must reflect the persisted stored length on
// reopen, not a stale zero left over from the fresh in-memory struct.
// Without this, the first StampedWriteWithChanges call after a reopen
// would compare the post-truncate stored length against a bogus
// baseline of 0 and record zero truncated values, silently losing the
// ability to roll the truncate back.
func TestRawVecRollbackBaselineSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	v := openRawU64(t, db, "v")
	for i := uint64(0); i < 20; i++ {
		v.Push(i)
	}
	if err := v.StampedWriteWithChanges(1); err != nil {
		t.Fatalf("StampedWriteWithChanges(1): %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(dir, Config{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()
	v2 := openRawU64(t, db2, "v")

	v2.Truncate(10)
	for i := uint64(0); i < 5; i++ {
		v2.Push(100 + i)
	}
	if err := v2.StampedWriteWithChanges(2); err != nil {
		t.Fatalf("StampedWriteWithChanges(2): %v", err)
	}
	requireEqualU64(t, collectAll(t, v2), append(rangeU64(0, 10), 100, 101, 102, 103, 104))

	stamp, err := v2.RollbackBefore(2)
	if err != nil {
		t.Fatalf("RollbackBefore(2): %v", err)
	}
	if stamp != 1 {
		t.Fatalf("RollbackBefore(2) ended at stamp %d, want 1", stamp)
	}
	requireEqualU64(t, collectAll(t, v2), rangeU64(0, 20))
}

func rangeU64(from, to uint64) []uint64 {
	out := make([]uint64, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}
