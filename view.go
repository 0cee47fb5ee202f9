// Read-only views: lightweight clones of a stored vector for concurrent
// readers, sharing the writer's region handle and atomic stored length
// but carrying none of the writer's pushed/updated/holes/rollback state
// (SPEC_FULL §4.9).
//
// Grounded on
// original_source/crates/vecdb/src/variants/{raw,compressed}/view/mod.rs.
package anydb

// RawView is a read-only clone of a RawVec. Reads (Get) on a view see
// exactly the committed tail of the writer plus zero dirty overlay,
// which is what lets readers run wait-free alongside a writer batching
// many Write() calls before a Flush(). A view offers point reads (Get)
// only; it has no range or fold reads.
type RawView[T any] struct {
	region    *Region
	header    *vecHeader
	codec     Codec[T]
	storedLen *sharedLen
}

// View returns a read-only clone of v. The clone acquires its own
// reference to the backing region and must be released with Release
// when no longer needed. It shares the writer's storedLen atomic
// directly, which is the mechanism SPEC_FULL §4.4/§5 requires: a
// derived count from region metadata would not reflect the logical
// stored length correctly after a rollback-induced expansion (where the
// on-disk region body still lags the committed length until the next
// write's "expanded" path catches it up).
func (v *RawVec[T]) View() *RawView[T] {
	v.base.region.acquire()
	return &RawView[T]{region: v.base.region, header: v.base.header, codec: v.base.codec, storedLen: &v.base.storedLen}
}

// Release drops the view's reference to the backing region.
func (rv *RawView[T]) Release() { rv.region.Release() }

// StoredLen returns the committed element count as of this read (SPEC_FULL
// §5's memory-ordering contract: loaded with the same sequentially
// consistent ordering the writer stores with).
func (rv *RawView[T]) StoredLen() int64 {
	return rv.storedLen.Get()
}

// Get reads a committed element, ignoring any writer-side overlay.
func (rv *RawView[T]) Get(index int64) (T, error) {
	var zero T
	storedLen := rv.StoredLen()
	if index < 0 || index >= storedLen {
		return zero, ErrIndexTooHigh
	}
	start := rv.region.Meta().Start + HeaderOffset + index*int64(rv.codec.Size)
	buf, err := rv.region.db.readAt(start, int64(rv.codec.Size))
	if err != nil {
		return zero, err
	}
	return rv.codec.Decode(buf), nil
}

// CompressedView is a read-only clone of a CompressedVec, sharing the
// writer's region handle and pages region; the pages index is re-read
// from the pages region on every Get (see readPages).
type CompressedView[T any] struct {
	region      *Region
	header      *vecHeader
	codec       Codec[T]
	strategy    Strategy
	perPage     int64
	pagesRegion *Region
	storedLen   *sharedLen
}

// View returns a read-only clone of v.
func (v *CompressedVec[T]) View() *CompressedView[T] {
	v.base.region.acquire()
	v.pagesRegion.acquire()
	return &CompressedView[T]{
		region:      v.base.region,
		header:      v.base.header,
		codec:       v.base.codec,
		strategy:    v.strategy,
		perPage:     v.perPage,
		pagesRegion: v.pagesRegion,
		storedLen:   &v.base.storedLen,
	}
}

// StoredLen returns the committed element count as of this read.
func (cv *CompressedView[T]) StoredLen() int64 { return cv.storedLen.Get() }

// Release drops the view's references to its backing regions.
func (cv *CompressedView[T]) Release() {
	cv.region.Release()
	cv.pagesRegion.Release()
}

// readPages re-reads the current pages index from the sibling region;
// unlike RawView, a compressed view must re-fetch pages since appends
// rewrite the last page and the index can't be cached safely across an
// arbitrary span of time the way stored_len can.
func (cv *CompressedView[T]) readPages() ([]page, error) {
	meta := cv.pagesRegion.Meta()
	if meta.Len == 0 {
		return nil, nil
	}
	buf, err := cv.pagesRegion.db.readAt(meta.Start, meta.Len)
	if err != nil {
		return nil, err
	}
	return decodePages(buf), nil
}

// Get reads a committed element from its compressed page.
func (cv *CompressedView[T]) Get(index int64) (T, error) {
	var zero T
	pages, err := cv.readPages()
	if err != nil {
		return zero, err
	}
	pi := index / cv.perPage
	if pi < 0 || int(pi) >= len(pages) {
		return zero, ErrIndexTooHigh
	}
	p := pages[pi]
	buf, err := cv.region.db.readAt(cv.region.Meta().Start+p.Start, int64(p.Bytes))
	if err != nil {
		return zero, err
	}
	raw, err := cv.strategy.Decompress(buf, int(p.Values)*cv.codec.Size)
	if err != nil {
		return zero, err
	}
	offset := index - pi*cv.perPage
	if offset < 0 || offset >= int64(len(raw))/int64(cv.codec.Size) {
		return zero, ErrIndexTooHigh
	}
	return cv.codec.Decode(raw[offset*int64(cv.codec.Size):]), nil
}
