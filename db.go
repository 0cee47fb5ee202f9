// Database: the top-level handle owning the data file, its memory map,
// the region catalog, and the layout allocator (SPEC_FULL §2, §5).
//
// Grounded on original_source/crates/rawdb/src/lib.rs's Database/
// DatabaseInner split (one lock per concern: file, mmap, regions,
// layout) and on jpl-au-folio/db.go's Open/Close/Config shape.
package anydb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"
)

// PageFormat is the one-byte format tag recorded in every vector header
// (SPEC_FULL §3, §6).
type PageFormat uint8

const (
	FormatRawLittleEndian PageFormat = iota
	FormatRawNative
	FormatPageCompressedZstd
	FormatPageCompressedLZ4
	FormatPageCompressedPco
)

// indexType names the format for use as the `{index_type}_` prefix on a
// vector's changes directory (SPEC_FULL §6: "changes/{index_type}_{vec_name}/{stamp}").
func (f PageFormat) indexType() string {
	switch f {
	case FormatRawLittleEndian:
		return "raw_le"
	case FormatRawNative:
		return "raw_native"
	case FormatPageCompressedZstd:
		return "zstd"
	case FormatPageCompressedLZ4:
		return "lz4"
	case FormatPageCompressedPco:
		return "pco"
	default:
		return "fmt"
	}
}

// Config holds engine-wide settings (SPEC_FULL §10).
type Config struct {
	// SyncWrites forces an fsync of the underlying file after every
	// Flush, on top of the msync Flush always does. Off by default:
	// the msync alone is enough to make writes visible to new mmap
	// views, and the extra fsync only buys durability across a power
	// loss, at the cost of a sync call on every Flush.
	SyncWrites bool

	// SavedStampedChanges is a retained change-set count (SPEC_FULL §4.7),
	// defaulted to 3 and persisted in config.json. The vector import
	// functions take their own count and do not read this field.
	SavedStampedChanges uint16

	// MmapCrossoverBytes is the read-source selection threshold
	// (SPEC_FULL §4.8). Zero means the default (4 GiB).
	MmapCrossoverBytes int64

	// PageStrategy is a compressed-vector format tag persisted in
	// config.json. ImportCompressedVec takes its format as an argument and
	// does not read this field.
	PageStrategy PageFormat

	// Integrity enables the optional checksum manifest (SPEC_FULL §13).
	Integrity bool
}

const defaultMmapCrossoverBytes = 4 * 1024 * 1024 * 1024 // 4 GiB

func (c Config) withDefaults() Config {
	if c.SavedStampedChanges == 0 {
		c.SavedStampedChanges = 3
	}
	if c.MmapCrossoverBytes == 0 {
		c.MmapCrossoverBytes = defaultMmapCrossoverBytes
	}
	return c
}

// Database is the process-wide handle to one on-disk database directory.
// It is safe for concurrent use from multiple goroutines; see SPEC_FULL §5
// for the exact lock discipline.
type Database struct {
	dir    string
	config Config

	lock     fileLock
	fileMu   sync.RWMutex
	file     *os.File
	mmapMu   sync.RWMutex
	mm       mmap.MMap
	mappedLen int64

	regions *Regions
	layout  *Layout

	closed atomic.Bool
}

// Open creates or opens a database directory, acquiring the advisory
// exclusive lock on its data file; the lock is held until Close.
func Open(dir string, config Config) (*Database, error) {
	config = config.withDefaults()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	dataPath := filepath.Join(dir, "data")
	f, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	db := &Database{dir: dir, config: config, file: f}
	db.lock.setFile(f)
	if err := db.lock.Lock(LockExclusive); err != nil {
		f.Close()
		return nil, err
	}

	if err := loadOrWriteConfig(dir, &db.config); err != nil {
		f.Close()
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		if err := f.Truncate(PageSize); err != nil {
			f.Close()
			return nil, err
		}
	}
	if err := db.remapLocked(); err != nil {
		f.Close()
		return nil, err
	}

	regions, err := openRegions(db, dir)
	if err != nil {
		f.Close()
		return nil, err
	}
	db.regions = regions

	live, err := regions.fill(db)
	if err != nil {
		f.Close()
		return nil, err
	}
	db.layout = fromRegions(live)

	return db, nil
}

// Close flushes and releases the database's file handles. Using the
// database or any of its regions after Close is a programming error.
func (db *Database) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	_ = db.Flush()
	if db.regions != nil {
		db.regions.close()
	}
	db.lock.Unlock()
	db.lock.setFile(nil)
	return db.file.Close()
}

func (db *Database) checkOpen() error {
	if db.closed.Load() {
		return ErrClosed
	}
	return nil
}

// remapLocked grows/remaps the mmap to match the current file size.
// Caller must hold fileMu for at least reading the file's current size.
func (db *Database) remapLocked() error {
	info, err := db.file.Stat()
	if err != nil {
		return err
	}

	db.mmapMu.Lock()
	defer db.mmapMu.Unlock()
	if db.mm != nil {
		if err := db.mm.Unmap(); err != nil {
			return err
		}
	}
	mm, err := mmap.Map(db.file, mmap.RDWR, 0)
	if err != nil {
		return err
	}
	db.mm = mm
	db.mappedLen = info.Size()
	return nil
}

func ceilToPageSize(n int64) int64 {
	if n%PageSize == 0 {
		return n
	}
	return (n/PageSize + 1) * PageSize
}

// setMinLen grows the data file (and remaps) so that it is at least
// minLen bytes, rounded up to a page-size multiple.
func (db *Database) setMinLen(minLen int64) error {
	target := ceilToPageSize(minLen)

	db.fileMu.Lock()
	defer db.fileMu.Unlock()

	db.mmapMu.RLock()
	current := db.mappedLen
	db.mmapMu.RUnlock()
	if current >= target {
		return nil
	}

	if err := db.file.Truncate(target); err != nil {
		return err
	}
	return db.remapLocked()
}

// write copies data into the mmap at absolute offset start.
func (db *Database) write(start int64, data []byte) {
	db.mmapMu.RLock()
	defer db.mmapMu.RUnlock()
	copy(db.mm[start:], data)
}

// readAt returns a copy of length bytes at absolute offset start.
func (db *Database) readAt(start, length int64) ([]byte, error) {
	db.mmapMu.RLock()
	defer db.mmapMu.RUnlock()
	if start < 0 || length < 0 || start+length > int64(len(db.mm)) {
		return nil, ErrWriteOutOfBounds
	}
	out := make([]byte, length)
	copy(out, db.mm[start:start+length])
	return out, nil
}

// copyRange copies length bytes within the mmap from src to dst, chunked
// in 1 GiB strides (SPEC_FULL §4.3 step 6).
const copyChunk = 1024 * 1024 * 1024

func (db *Database) copyRange(src, dst, length int64) {
	db.mmapMu.RLock()
	defer db.mmapMu.RUnlock()
	var done int64
	for done < length {
		n := length - done
		if n > copyChunk {
			n = copyChunk
		}
		copy(db.mm[dst+done:dst+done+n], db.mm[src+done:src+done+n])
		done += n
	}
}

func (db *Database) flushRange(start, length int64) error {
	db.mmapMu.RLock()
	defer db.mmapMu.RUnlock()
	if length == 0 {
		return nil
	}
	return db.mm.Flush()
}

// openReadOnlyFile opens a dedicated sequential-read handle for large
// scans (SPEC_FULL §2, §4.8), separate from the writable mmap.
func (db *Database) openReadOnlyFile() (*os.File, error) {
	return os.Open(filepath.Join(db.dir, "data"))
}

// createRegionIfNeeded returns the existing region for id, or creates one.
func (db *Database) createRegionIfNeeded(id string) (*Region, error) {
	if r, ok := db.regions.GetByID(id); ok {
		return r, nil
	}

	start, ok := db.layout.FindSmallestAdequateHole(PageSize)
	if !ok {
		start = db.layout.Len()
	}

	if err := db.setMinLen(start + PageSize); err != nil {
		return nil, err
	}
	if size, ok := db.layout.GetHole(start); ok && size >= PageSize {
		if err := db.layout.RemoveOrCompressHole(start, PageSize); err != nil {
			return nil, err
		}
	}

	r, err := db.regions.create(db, id, start)
	if err != nil {
		return nil, err
	}
	if err := db.layout.InsertRegion(start, r); err != nil {
		return nil, err
	}
	return r, nil
}

// removeRegionIfExists removes the region named id if present.
func (db *Database) removeRegionIfExists(id string) error {
	r, ok := db.regions.GetByID(id)
	if !ok {
		return nil
	}
	return db.removeRegion(r)
}

func (db *Database) removeRegion(r *Region) error {
	if err := db.layout.RemoveRegion(r); err != nil {
		return err
	}
	return db.regions.remove(r)
}

// Flush syncs all in-process writes and promotes pending holes
// (SPEC_FULL §5 "Flush ordering").
func (db *Database) Flush() error {
	if err := db.checkOpen(); err != nil {
		return err
	}

	flushed := 0
	for _, r := range db.regions.snapshot() {
		did, err := r.Flush()
		if err != nil {
			return err
		}
		if did {
			flushed++
		}
	}

	if flushed > 0 {
		if err := db.regions.flush(); err != nil {
			return err
		}
	}
	if db.config.SyncWrites {
		db.fileMu.RLock()
		err := db.file.Sync()
		db.fileMu.RUnlock()
		if err != nil {
			return err
		}
	}

	db.layout.PromotePendingHoles()

	if db.config.Integrity {
		if err := db.writeIntegrityManifest(); err != nil {
			return err
		}
	}
	return nil
}

// Compact flushes, then punches holes for unused reserved tails and free
// holes (SPEC_FULL §5 "Hole punching (compaction)").
func (db *Database) Compact() error {
	if err := db.Flush(); err != nil {
		return err
	}
	return db.punchHoles()
}

func loadOrWriteConfig(dir string, cfg *Config) error {
	path := filepath.Join(dir, "config.json")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return writeConfig(path, *cfg)
	}
	stored, err := readConfig(path)
	if err != nil {
		return fmt.Errorf("config.json: %w", err)
	}
	*cfg = stored.withDefaults()
	return nil
}
