// Read-only view tests: a view must see committed data immediately
// after Write(), must not see pushed-but-unwritten data, and must
// track the writer's stored length across further writes without
// being recreated.
package anydb

import "testing"

func TestRawViewTracksWriterAcrossWrites(t *testing.T) {
	db, err := Open(t.TempDir(), Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	v, err := ImportRawVec[uint64](db, "v", Uint64Codec(), 1, 0)
	if err != nil {
		t.Fatalf("ImportRawVec: %v", err)
	}

	view := v.View()
	defer view.Release()

	if got := view.StoredLen(); got != 0 {
		t.Fatalf("StoredLen before any write = %d, want 0", got)
	}

	v.Push(10)
	v.Push(20)
	if got := view.StoredLen(); got != 0 {
		t.Fatalf("StoredLen after Push (before Write) = %d, want 0", got)
	}

	if _, err := v.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got, want := view.StoredLen(), int64(2); got != want {
		t.Fatalf("StoredLen after Write = %d, want %d", got, want)
	}
	if val, err := view.Get(0); err != nil || val != 10 {
		t.Fatalf("Get(0) = (%d, %v), want (10, nil)", val, err)
	}
	if val, err := view.Get(1); err != nil || val != 20 {
		t.Fatalf("Get(1) = (%d, %v), want (20, nil)", val, err)
	}
	if _, err := view.Get(2); err != ErrIndexTooHigh {
		t.Fatalf("Get(2) = %v, want ErrIndexTooHigh", err)
	}

	v.Push(30)
	if _, err := v.Write(); err != nil {
		t.Fatalf("second Write: %v", err)
	}
	if got, want := view.StoredLen(), int64(3); got != want {
		t.Fatalf("StoredLen after second Write = %d, want %d", got, want)
	}
	if val, err := view.Get(2); err != nil || val != 30 {
		t.Fatalf("Get(2) after second Write = (%d, %v), want (30, nil)", val, err)
	}
}

func TestCompressedViewTracksWriterAcrossWrites(t *testing.T) {
	db, err := Open(t.TempDir(), Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	v, err := ImportCompressedVec[uint64](db, "v", Uint64Codec(), 1, FormatPageCompressedZstd, 0)
	if err != nil {
		t.Fatalf("ImportCompressedVec: %v", err)
	}

	view := v.View()
	defer view.Release()

	for i := uint64(0); i < 100; i++ {
		v.Push(i)
	}
	if _, err := v.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if got, want := view.StoredLen(), int64(100); got != want {
		t.Fatalf("StoredLen = %d, want %d", got, want)
	}
	if val, err := view.Get(42); err != nil || val != 42 {
		t.Fatalf("Get(42) = (%d, %v), want (42, nil)", val, err)
	}

	for i := uint64(100); i < 200; i++ {
		v.Push(i)
	}
	if _, err := v.Write(); err != nil {
		t.Fatalf("second Write: %v", err)
	}
	if got, want := view.StoredLen(), int64(200); got != want {
		t.Fatalf("StoredLen after second Write = %d, want %d", got, want)
	}
	if val, err := view.Get(150); err != nil || val != 150 {
		t.Fatalf("Get(150) after second Write = (%d, %v), want (150, nil)", val, err)
	}
}
