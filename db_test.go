// Region allocator scenario tests: create/read/persist, hole reuse,
// defragmentation, and the integrity manifest.
package anydb

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// openTestDatabase creates a fresh database in a temporary directory and
// registers cleanup to close it when the test finishes.
func openTestDatabase(t *testing.T, cfg Config) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "db"), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestCreateReadPersist covers spec scenario 1: write 14 bytes to a
// region, flush, close, and confirm they survive a reopen.
func TestCreateReadPersist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db")

	db, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	r, err := db.createRegionIfNeeded("persistent")
	if err != nil {
		t.Fatalf("createRegionIfNeeded: %v", err)
	}
	want := []byte("Persisted data")
	if err := r.Write(want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	r2, ok := db2.regions.GetByID("persistent")
	if !ok {
		t.Fatal("region \"persistent\" not found after reopen")
	}
	defer r2.Release()

	meta := r2.Meta()
	if meta.Len != int64(len(want)) {
		t.Fatalf("Len = %d, want %d", meta.Len, len(want))
	}
	got, err := db2.readAt(meta.Start, meta.Len)
	if err != nil {
		t.Fatalf("readAt: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("content = %q, want %q", got, want)
	}
}

// TestHoleReuse covers spec scenario 2: removing the middle of three
// one-page regions leaves a single hole that the next created region
// reuses exactly.
func TestHoleReuse(t *testing.T) {
	db := openTestDatabase(t, Config{})

	r1, err := db.createRegionIfNeeded("r1")
	if err != nil {
		t.Fatalf("create r1: %v", err)
	}
	r2, err := db.createRegionIfNeeded("r2")
	if err != nil {
		t.Fatalf("create r2: %v", err)
	}
	r3, err := db.createRegionIfNeeded("r3")
	if err != nil {
		t.Fatalf("create r3: %v", err)
	}
	r1.Release()
	r3.Release()

	if err := r2.Remove(); err != nil {
		t.Fatalf("remove r2: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	holes := db.layout.holesSnapshot()
	if len(holes) != 1 {
		t.Fatalf("holes = %v, want exactly one", holes)
	}
	size, ok := holes[PageSize]
	if !ok || size != PageSize {
		t.Fatalf("hole at %d has size %d, ok=%v; want start %d size %d", PageSize, size, ok, PageSize, PageSize)
	}

	r4, err := db.createRegionIfNeeded("r4")
	if err != nil {
		t.Fatalf("create r4: %v", err)
	}
	defer r4.Release()
	if r4.Meta().Start != PageSize {
		t.Fatalf("r4.Start = %d, want %d", r4.Meta().Start, PageSize)
	}
	if holes := db.layout.holesSnapshot(); len(holes) != 0 {
		t.Fatalf("holes after r4 = %v, want none", holes)
	}
}

// TestDefragmentation covers spec scenario 3: growing r1 past its
// reserved size relocates it away from start 0, leaving exactly one
// hole and r2 undisturbed at page 4096.
func TestDefragmentation(t *testing.T) {
	db := openTestDatabase(t, Config{})

	r1, err := db.createRegionIfNeeded("r1")
	if err != nil {
		t.Fatalf("create r1: %v", err)
	}
	defer r1.Release()
	r2, err := db.createRegionIfNeeded("r2")
	if err != nil {
		t.Fatalf("create r2: %v", err)
	}
	defer r2.Release()

	if err := r1.Write(make([]byte, 5)); err != nil {
		t.Fatalf("write 5 bytes: %v", err)
	}
	if err := r1.Write(make([]byte, 2*PageSize)); err != nil {
		t.Fatalf("write 2 pages: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	meta := r1.Meta()
	if meta.Reserved < 8192 {
		t.Fatalf("r1.Reserved = %d, want >= 8192", meta.Reserved)
	}
	if meta.Start == 0 {
		t.Fatal("r1 was not relocated away from start 0")
	}
	if holes := db.layout.holesSnapshot(); len(holes) != 1 {
		t.Fatalf("holes = %v, want exactly one", holes)
	}
	if r2.Meta().Start != PageSize {
		t.Fatalf("r2.Start = %d, want %d", r2.Meta().Start, PageSize)
	}
}

// TestHolePunchNoopAtExactReserved covers the boundary behavior: a
// region whose used length rounds up to exactly its reserved size has
// nothing to punch.
func TestHolePunchNoopAtExactReserved(t *testing.T) {
	db := openTestDatabase(t, Config{})

	r, err := db.createRegionIfNeeded("r")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer r.Release()
	if err := r.Write(make([]byte, PageSize)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := db.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if r.Meta().Len != PageSize || r.Meta().Reserved != PageSize {
		t.Fatalf("meta = %+v, want Len=Reserved=%d", r.Meta(), PageSize)
	}
}

// TestVerifyDetectsNothingOnHealthyDB is a smoke test for Verify: a
// freshly built, non-corrupt layout must report no invariant violation.
func TestVerifyDetectsNothingOnHealthyDB(t *testing.T) {
	db := openTestDatabase(t, Config{})
	for _, name := range []string{"a", "b", "c"} {
		r, err := db.createRegionIfNeeded(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if err := r.Write([]byte(name)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		r.Release()
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := db.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

// TestIntegrityManifestRoundTrip covers the optional checksum manifest:
// with Config.Integrity set, Flush must produce a manifest that Verify
// accepts, and a manifest overwritten with mismatched checksums must
// make Verify report the mismatch.
func TestIntegrityManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db")

	db, err := Open(path, Config{Integrity: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	r, err := db.createRegionIfNeeded("r")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := db.Verify(); err != nil {
		t.Fatalf("Verify on healthy manifest: %v", err)
	}

	if err := os.WriteFile(integrityManifestPath(path), make([]byte, 16), 0o644); err != nil {
		t.Fatalf("corrupt manifest: %v", err)
	}
	if err := db.Verify(); err != ErrIntegrityMismatch {
		t.Fatalf("Verify after corrupting manifest = %v, want ErrIntegrityMismatch", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
