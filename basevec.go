// Base vector: state and helpers shared by every stored vector variant
// (SPEC_FULL §4.4).
//
// Grounded on
// original_source/crates/vecdb/src/variants/base/mod.rs and
// original_source/crates/vecdb/src/variants/base/read_write.rs.
package anydb

import (
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
)

// sharedLen is the atomic, sequentially-consistent publication point for
// a stored vector's committed element count (SPEC_FULL §4.4, §5). It is
// shared between a writer and every reader clone derived from it.
type sharedLen struct {
	v atomic.Int64
}

func (s *sharedLen) Get() int64    { return s.v.Load() }
func (s *sharedLen) Set(n int64)   { s.v.Store(n) }

// withPrev holds a current buffer and a shadow of its previous epoch's
// contents, used by the stamped-rollback skeleton to undo one write.
type withPrev[T any] struct {
	current  []T
	previous []T
}

func (w *withPrev[T]) Current() []T  { return w.current }
func (w *withPrev[T]) Previous() []T { return w.previous }

func (w *withPrev[T]) MutCurrent() *[]T { return &w.current }

// save copies current into previous, reusing the previous allocation.
func (w *withPrev[T]) save() {
	w.previous = append(w.previous[:0], w.current...)
}

// clear empties both buffers.
func (w *withPrev[T]) clear() {
	w.current = w.current[:0]
	w.previous = w.previous[:0]
}

// baseVec is the common state for every stored vector variant: its
// backing region, header, name, pushed buffer with rollback shadow, and
// shared stored length.
type baseVec[T any] struct {
	region *Region
	header *vecHeader
	name   string

	codec Codec[T]

	pushed withPrev[T]

	storedLen sharedLen

	prevStoredLen        int64
	savedStampedChanges  uint16
}

// importBaseVec creates or opens the region backing a stored vector and
// verifies (or writes) its header.
func importBaseVec[T any](db *Database, name string, codec Codec[T], vecVersion uint32, format PageFormat, savedStampedChanges uint16) (*baseVec[T], error) {
	region, err := db.createRegionIfNeeded(name)
	if err != nil {
		return nil, err
	}

	meta := region.Meta()
	if meta.Len > 0 && meta.Len < HeaderOffset {
		return nil, ErrCorruptedRegion
	}

	var header *vecHeader
	if meta.Len == 0 {
		header, err = createAndWriteHeader(region, vecVersion, format)
	} else {
		header, err = importAndVerifyHeader(region, vecVersion, format)
	}
	if err != nil {
		return nil, err
	}

	return &baseVec[T]{
		region:              region,
		header:              header,
		name:                name,
		codec:               codec,
		savedStampedChanges: savedStampedChanges,
	}, nil
}

func (b *baseVec[T]) Region() *Region  { return b.region }
func (b *baseVec[T]) Header() *vecHeader { return b.header }
func (b *baseVec[T]) Name() string     { return b.name }

func (b *baseVec[T]) Pushed() []T        { return b.pushed.Current() }
func (b *baseVec[T]) MutPushed() *[]T    { return b.pushed.MutCurrent() }
func (b *baseVec[T]) PrevPushed() []T    { return b.pushed.Previous() }

func (b *baseVec[T]) StoredLen() int64     { return b.storedLen.Get() }
func (b *baseVec[T]) UpdateStoredLen(n int64) { b.storedLen.Set(n) }
func (b *baseVec[T]) PrevStoredLen() int64 { return b.prevStoredLen }

func (b *baseVec[T]) Len() int64 { return b.StoredLen() + int64(len(b.Pushed())) }

func (b *baseVec[T]) SavedStampedChanges() uint16 { return b.savedStampedChanges }

// WriteHeaderIfNeeded persists the header if it has pending changes.
func (b *baseVec[T]) WriteHeaderIfNeeded() error {
	return b.header.WriteIfModified(b.region)
}

// Remove deletes this vector's backing region.
func (b *baseVec[T]) Remove() error {
	return b.region.Remove()
}

// FoldPushed folds over the pushed-buffer slice of the logical range
// [from, to), written as a tight loop so the compiler can vectorize the
// closure body where possible (SPEC_FULL §4.4).
func (b *baseVec[T]) FoldPushed(from, to int64, init any, f func(acc any, v T) any) any {
	storedLen := b.StoredLen()
	start := from
	if storedLen > start {
		start = storedLen
	}
	if start >= to {
		return init
	}
	pushed := b.Pushed()
	sliceFrom := start - storedLen
	sliceTo := to - storedLen
	if sliceTo > int64(len(pushed)) {
		sliceTo = int64(len(pushed))
	}
	acc := init
	for i := sliceFrom; i < sliceTo; i++ {
		acc = f(acc, pushed[i])
	}
	return acc
}

// TryFoldPushed is FoldPushed with an early-exit error path.
func (b *baseVec[T]) TryFoldPushed(from, to int64, init any, f func(acc any, v T) (any, error)) (any, error) {
	storedLen := b.StoredLen()
	start := from
	if storedLen > start {
		start = storedLen
	}
	if start >= to {
		return init, nil
	}
	pushed := b.Pushed()
	sliceFrom := start - storedLen
	sliceTo := to - storedLen
	if sliceTo > int64(len(pushed)) {
		sliceTo = int64(len(pushed))
	}
	acc := init
	var err error
	for i := sliceFrom; i < sliceTo; i++ {
		acc, err = f(acc, pushed[i])
		if err != nil {
			return acc, err
		}
	}
	return acc, nil
}

// TruncatePushed truncates the pushed buffer so the vector's logical
// length becomes index. Returns true if the caller must also shrink the
// shared stored length (index fell within the stored range).
func (b *baseVec[T]) TruncatePushed(index int64) bool {
	storedLen := b.StoredLen()
	length := storedLen + int64(len(b.Pushed()))
	if index >= length {
		return false
	}
	if index <= storedLen {
		*b.MutPushed() = (*b.MutPushed())[:0]
	} else {
		*b.MutPushed() = (*b.MutPushed())[:index-storedLen]
	}
	return index < storedLen
}

func (b *baseVec[T]) resetBase() error {
	b.pushed.clear()
	b.storedLen.Set(0)
	b.prevStoredLen = 0
	b.header.UpdateStamp(0)

	path := b.ChangesPath()
	if _, err := os.Stat(path); err == nil {
		if err := os.RemoveAll(path); err != nil {
			return err
		}
	}
	return nil
}

func (b *baseVec[T]) resetUnsavedBase() {
	*b.MutPushed() = (*b.MutPushed())[:0]
}

// ChangesPath returns the directory holding this vector's saved change
// files: {db}/changes/{index_type}_{vec_name} (SPEC_FULL §6). The
// index-type prefix keeps a raw and a compressed vector that happen to
// share a name from colliding in the same changes directory.
func (b *baseVec[T]) ChangesPath() string {
	return filepath.Join(b.region.db.dir, "changes", b.header.Format().indexType()+"_"+b.name)
}

func (b *baseVec[T]) savePrev() {
	b.prevStoredLen = b.StoredLen()
	b.pushed.previous = b.pushed.previous[:0]
}

func (b *baseVec[T]) savePrevForRollback() {
	b.prevStoredLen = b.StoredLen()
	b.pushed.save()
}

// ReadCurrentChangeFile reads the change file for the header's current
// stamp.
func (b *baseVec[T]) ReadCurrentChangeFile() ([]byte, error) {
	path := filepath.Join(b.ChangesPath(), stampFileName(b.header.Stamp()))
	return os.ReadFile(path)
}

// FindRollbackFiles returns every saved change file, keyed by stamp, in
// ascending stamp order.
func (b *baseVec[T]) FindRollbackFiles() ([]uint64, map[uint64]string, error) {
	dir := b.ChangesPath()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, map[uint64]string{}, nil
		}
		return nil, nil, err
	}
	byStamp := make(map[uint64]string, len(entries))
	stamps := make([]uint64, 0, len(entries))
	for _, e := range entries {
		stamp, ok := parseStampFileName(e.Name())
		if !ok {
			continue
		}
		byStamp[stamp] = filepath.Join(dir, e.Name())
		stamps = append(stamps, stamp)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })
	return stamps, byStamp, nil
}
