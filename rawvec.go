// Raw stored vector: fixed-width element storage with holes, updated,
// and pushed overlays (SPEC_FULL §4.5).
//
// Grounded on
// original_source/crates/vecdb/src/variants/raw/inner/mod.rs. The
// original offers two element strategies, Native (raw memcpy, opt-in,
// platform-dependent) and Portable (per-element little-endian encode).
// Go has no safe reinterpret-cast between a []T and []byte for
// arbitrary T, so every write here goes through Codec[T]'s explicit
// encode/decode — the functional equivalent of the Portable strategy
// used unconditionally. FormatRawNative is a defined format tag, but
// this implementation never writes it, and ImportRawVec rejects a
// region whose header carries it with ErrDifferentFormat.
package anydb

import "sort"

// RawVec is an append/update/delete vector of fixed-width elements T.
type RawVec[T any] struct {
	base *baseVec[T]

	holeSet   map[int64]struct{}
	holes     []int64 // sorted ascending
	prevHoles []int64

	updatedSet map[int64]T
	updatedIdx []int64 // sorted ascending, keys of updatedSet
	prevUpdated map[int64]T

	hasStoredHoles bool
}

func holesRegionName(name string) string { return name + "_holes" }

// ImportRawVec creates or opens a raw vector named name.
func ImportRawVec[T any](db *Database, name string, codec Codec[T], vecVersion uint32, savedStampedChanges uint16) (*RawVec[T], error) {
	base, err := importBaseVec(db, name, codec, vecVersion, FormatRawLittleEndian, savedStampedChanges)
	if err != nil {
		return nil, err
	}

	v := &RawVec[T]{
		base:       base,
		holeSet:    make(map[int64]struct{}),
		updatedSet: make(map[int64]T),
	}

	if holesRegion, ok := db.regions.GetByID(holesRegionName(name)); ok {
		meta := holesRegion.Meta()
		n := meta.Len / 8
		if n > 0 {
			buf, err := db.readAt(meta.Start, meta.Len)
			if err != nil {
				holesRegion.Release()
				return nil, err
			}
			u64 := decodeAll(Uint64Codec(), buf)
			v.holes = make([]int64, len(u64))
			for i, h := range u64 {
				idx := int64(h)
				v.holes[i] = idx
				v.holeSet[idx] = struct{}{}
			}
		}
		v.hasStoredHoles = true
		holesRegion.Release()
	}

	// recover stored_len from the region's actual on-disk length
	meta := base.region.Meta()
	v.base.storedLen.Set((meta.Len - HeaderOffset) / int64(codec.Size))

	// Establish the rollback baseline at whatever the vector's actual
	// state is on import (zero for a brand-new region, the persisted
	// stored_len for a reopened one). Without this, the first
	// StampedWriteWithChanges call after a reopen would compare against
	// a stale prev_stored_len of 0 and misrecord any truncation that
	// happened before it as if nothing had been stored at all.
	v.savePrevForRollback()

	return v, nil
}

func (v *RawVec[T]) Region() *Region  { return v.base.region }
func (v *RawVec[T]) Name() string     { return v.base.name }
func (v *RawVec[T]) StoredLen() int64 { return v.base.StoredLen() }
func (v *RawVec[T]) Len() int64       { return v.base.Len() }
func (v *RawVec[T]) Pushed() []T      { return v.base.Pushed() }

func (v *RawVec[T]) realStoredLen() int64 {
	return (v.base.region.Meta().Len - HeaderOffset) / int64(v.base.codec.Size)
}

func (v *RawVec[T]) sizeOfT() int64 { return int64(v.base.codec.Size) }

// Push appends a value to the in-memory pushed buffer.
func (v *RawVec[T]) Push(val T) {
	*v.base.MutPushed() = append(*v.base.MutPushed(), val)
}

// TryGet reads index via the fastest path: a direct mmap read, ignoring
// holes/updated overlays entirely. Intended for append-only vectors.
func (v *RawVec[T]) TryGet(index int64) (T, error) {
	var zero T
	storedLen := v.StoredLen()
	if index >= storedLen {
		pushed := v.Pushed()
		i := index - storedLen
		if i < 0 || i >= int64(len(pushed)) {
			return zero, ErrIndexTooHigh
		}
		return pushed[i], nil
	}
	return v.readStored(index)
}

// GetPushedOrRead checks the pushed and stored layers only.
func (v *RawVec[T]) GetPushedOrRead(index int64) (T, bool, error) {
	var zero T
	storedLen := v.StoredLen()
	if index >= storedLen {
		pushed := v.Pushed()
		i := index - storedLen
		if i < 0 || i >= int64(len(pushed)) {
			return zero, false, nil
		}
		return pushed[i], true, nil
	}
	val, err := v.readStored(index)
	if err != nil {
		return zero, false, err
	}
	return val, true, nil
}

// GetAnyOrRead checks holes, then pushed, then updated, then stored.
func (v *RawVec[T]) GetAnyOrRead(index int64) (T, bool, error) {
	var zero T
	if len(v.holeSet) > 0 {
		if _, dead := v.holeSet[index]; dead {
			return zero, false, nil
		}
	}

	storedLen := v.StoredLen()
	if index >= storedLen {
		pushed := v.Pushed()
		i := index - storedLen
		if i < 0 || i >= int64(len(pushed)) {
			return zero, false, nil
		}
		return pushed[i], true, nil
	}

	if len(v.updatedSet) > 0 {
		if val, ok := v.updatedSet[index]; ok {
			return val, true, nil
		}
	}

	val, err := v.readStored(index)
	if err != nil {
		return zero, false, err
	}
	return val, true, nil
}

func (v *RawVec[T]) readStored(index int64) (T, error) {
	var zero T
	start := v.base.region.Meta().Start + HeaderOffset + index*v.sizeOfT()
	buf, err := v.base.region.db.readAt(start, v.sizeOfT())
	if err != nil {
		return zero, err
	}
	return v.base.codec.Decode(buf), nil
}

// FoldRange folds over [from, to) using the clean fast path when no
// holes or updates overlay the range, else the dirty path that walks
// holes/updated alongside the stored elements.
func (v *RawVec[T]) FoldRange(from, to int64, init any, f func(acc any, v T) any) (any, error) {
	storedLen := v.StoredLen()
	storedTo := to
	if storedTo > storedLen {
		storedTo = storedLen
	}

	acc := init
	if from < storedTo {
		if len(v.holeSet) == 0 && len(v.updatedSet) == 0 {
			byteLen := (storedTo - from) * v.sizeOfT()
			db := v.base.region.db
			if db.shouldUseIOSource(byteLen) {
				elemSize := v.base.codec.Size
				decode := func(b []byte) any { return v.base.codec.Decode(b) }
				wrapped := func(a, val any) any { return f(a, val.(T)) }
				got, err := db.foldRawIO(v.base.region.Meta().Start+HeaderOffset+from*v.sizeOfT(), byteLen, elemSize, decode, acc, wrapped)
				if err != nil {
					return nil, err
				}
				acc = got
			} else {
				buf, err := db.readAt(v.base.region.Meta().Start+HeaderOffset+from*v.sizeOfT(), byteLen)
				if err != nil {
					return nil, err
				}
				for _, val := range decodeAll(v.base.codec, buf) {
					acc = f(acc, val)
				}
			}
		} else {
			for i := from; i < storedTo; i++ {
				if _, dead := v.holeSet[i]; dead {
					continue
				}
				if val, ok := v.updatedSet[i]; ok {
					acc = f(acc, val)
					continue
				}
				val, err := v.readStored(i)
				if err != nil {
					return nil, err
				}
				acc = f(acc, val)
			}
		}
	}

	return v.base.FoldPushed(storedLen, to, acc, f), nil
}

// Update overwrites the value at index, either in the pushed buffer
// directly or via the updated overlay.
func (v *RawVec[T]) Update(index int64, val T) error {
	storedLen := v.StoredLen()
	if index >= storedLen {
		pushed := *v.base.MutPushed()
		i := index - storedLen
		if i < 0 || i >= int64(len(pushed)) {
			return ErrIndexTooHigh
		}
		pushed[i] = val
		return nil
	}

	if len(v.holeSet) > 0 {
		v.removeHole(index)
	}
	v.setUpdated(index, val)
	return nil
}

// Truncate shrinks the vector's logical length to index, dropping any
// pushed values, holes, or updated entries beyond it. A no-op if index
// is already >= the current length.
func (v *RawVec[T]) Truncate(index int64) {
	if v.base.TruncatePushed(index) {
		v.base.UpdateStoredLen(index)
		v.dropOverlaysFrom(index)
	}
}

func (v *RawVec[T]) dropOverlaysFrom(index int64) {
	for _, idx := range append([]int64(nil), v.holes...) {
		if idx >= index {
			v.removeHole(idx)
		}
	}
	for _, idx := range append([]int64(nil), v.updatedIdx...) {
		if idx >= index {
			v.removeUpdated(idx)
		}
	}
}

// Delete marks index as a hole.
func (v *RawVec[T]) Delete(index int64) {
	if index < v.Len() {
		v.uncheckedDelete(index)
	}
}

func (v *RawVec[T]) uncheckedDelete(index int64) {
	if len(v.updatedSet) > 0 {
		v.removeUpdated(index)
	}
	v.addHole(index)
}

// Take reads and deletes the value at index.
func (v *RawVec[T]) Take(index int64) (T, bool, error) {
	val, ok, err := v.GetAnyOrRead(index)
	if err != nil || !ok {
		return val, ok, err
	}
	v.uncheckedDelete(index)
	return val, true, nil
}

// FillFirstHoleOrPush writes val into the smallest hole, or appends it
// if there are no holes. Returns the index used.
func (v *RawVec[T]) FillFirstHoleOrPush(val T) (int64, error) {
	if len(v.holes) > 0 {
		hole := v.holes[0]
		if err := v.Update(hole, val); err != nil {
			return 0, err
		}
		return hole, nil
	}
	v.Push(val)
	return v.Len() - 1, nil
}

func (v *RawVec[T]) addHole(index int64) {
	if _, exists := v.holeSet[index]; exists {
		return
	}
	v.holeSet[index] = struct{}{}
	i := sort.Search(len(v.holes), func(i int) bool { return v.holes[i] >= index })
	v.holes = append(v.holes, 0)
	copy(v.holes[i+1:], v.holes[i:])
	v.holes[i] = index
}

func (v *RawVec[T]) removeHole(index int64) {
	if _, exists := v.holeSet[index]; !exists {
		return
	}
	delete(v.holeSet, index)
	i := sort.Search(len(v.holes), func(i int) bool { return v.holes[i] >= index })
	if i < len(v.holes) && v.holes[i] == index {
		v.holes = append(v.holes[:i], v.holes[i+1:]...)
	}
}

func (v *RawVec[T]) setUpdated(index int64, val T) {
	if _, exists := v.updatedSet[index]; !exists {
		i := sort.Search(len(v.updatedIdx), func(i int) bool { return v.updatedIdx[i] >= index })
		v.updatedIdx = append(v.updatedIdx, 0)
		copy(v.updatedIdx[i+1:], v.updatedIdx[i:])
		v.updatedIdx[i] = index
	}
	v.updatedSet[index] = val
}

func (v *RawVec[T]) removeUpdated(index int64) {
	if _, exists := v.updatedSet[index]; !exists {
		return
	}
	delete(v.updatedSet, index)
	i := sort.Search(len(v.updatedIdx), func(i int) bool { return v.updatedIdx[i] >= index })
	if i < len(v.updatedIdx) && v.updatedIdx[i] == index {
		v.updatedIdx = append(v.updatedIdx[:i], v.updatedIdx[i+1:]...)
	}
}

// Write flushes pending pushed/updated/hole state into the region
// (SPEC_FULL §4.5 "Flush (write())"). Returns false if there was
// nothing to do.
func (v *RawVec[T]) Write() (bool, error) {
	if err := v.base.WriteHeaderIfNeeded(); err != nil {
		return false, err
	}

	storedLen := v.StoredLen()
	pushedLen := int64(len(v.Pushed()))
	realStoredLen := v.realStoredLen()
	truncated := storedLen < realStoredLen
	expanded := storedLen > realStoredLen
	hasNewData := pushedLen != 0
	hasUpdatedData := len(v.updatedSet) > 0
	hasHoles := len(v.holeSet) > 0
	hadHoles := v.hasStoredHoles

	if !truncated && !expanded && !hasNewData && !hasUpdatedData && !hasHoles && !hadHoles {
		return false, nil
	}

	from := storedLen*v.sizeOfT() + HeaderOffset

	if hasNewData {
		bytes := encodeAll(v.base.codec, v.Pushed())
		if err := v.base.region.TruncateWrite(from, bytes); err != nil {
			return false, err
		}
		*v.base.MutPushed() = (*v.base.MutPushed())[:0]
		v.base.UpdateStoredLen(storedLen + pushedLen)
	} else if truncated {
		if err := v.base.region.Truncate(from); err != nil {
			return false, err
		}
	}

	if hasUpdatedData {
		if expanded {
			for _, idx := range v.updatedIdx {
				offset := idx*v.sizeOfT() + HeaderOffset
				val := v.updatedSet[idx]
				buf := make([]byte, v.sizeOfT())
				v.base.codec.Encode(buf, val)
				if err := v.base.region.WriteAt(buf, offset); err != nil {
					return false, err
				}
			}
		} else {
			for _, idx := range v.updatedIdx {
				offset := idx*v.sizeOfT() + HeaderOffset
				val := v.updatedSet[idx]
				buf := make([]byte, v.sizeOfT())
				v.base.codec.Encode(buf, val)
				if err := v.base.region.WriteAt(buf, offset); err != nil {
					return false, err
				}
			}
		}
		v.updatedSet = make(map[int64]T)
		v.updatedIdx = nil
	}

	if hasHoles {
		v.hasStoredHoles = true
		holesRegion, err := v.base.region.db.createRegionIfNeeded(holesRegionName(v.base.name))
		if err != nil {
			return false, err
		}
		u64s := make([]uint64, len(v.holes))
		for i, h := range v.holes {
			u64s[i] = uint64(h)
		}
		if err := holesRegion.TruncateWrite(0, encodeAll(Uint64Codec(), u64s)); err != nil {
			holesRegion.Release()
			return false, err
		}
		holesRegion.Release()
	} else if hadHoles {
		v.hasStoredHoles = false
		if err := v.base.region.db.removeRegionIfExists(holesRegionName(v.base.name)); err != nil {
			return false, err
		}
	}

	return true, nil
}

// StampedWriteWithChanges serializes the change from the previous epoch
// to the current one, saves it, then performs the normal write and
// advances the stamp (SPEC_FULL §4.7).
func (v *RawVec[T]) StampedWriteWithChanges(stamp uint64) error {
	changeBytes, err := v.serializeChanges()
	if err != nil {
		return err
	}
	if v.base.SavedStampedChanges() > 0 {
		if err := saveChangeFile(v.base, stamp, changeBytes); err != nil {
			return err
		}
	}

	v.base.header.UpdateStamp(stamp)
	if _, err := v.Write(); err != nil {
		return err
	}

	v.savePrevForRollback()
	return nil
}

func (v *RawVec[T]) serializeChanges() ([]byte, error) {
	bytes, err := serializeChanges(v.base, func(from, to int64) ([]T, error) {
		return v.collectStoredRange(from, to)
	})
	if err != nil {
		return nil, err
	}

	bytes = putUint64(bytes, uint64(len(v.updatedIdx)))
	for _, idx := range v.updatedIdx {
		bytes = putUint64(bytes, uint64(idx))
	}
	for _, idx := range v.updatedIdx {
		val, ok := v.prevUpdated[idx]
		if !ok {
			val, err = v.readStored(idx)
			if err != nil {
				return nil, err
			}
		}
		buf := make([]byte, v.sizeOfT())
		v.base.codec.Encode(buf, val)
		bytes = append(bytes, buf...)
	}

	bytes = putUint64(bytes, uint64(len(v.prevHoles)))
	for _, h := range v.prevHoles {
		bytes = putUint64(bytes, uint64(h))
	}

	return bytes, nil
}

// collectStoredRange reads the raw on-disk bytes for [from, to), used to
// capture the values a truncate is about to drop before they are
// serialized into a change record. These indices are already past the
// vector's (just-lowered) logical stored length, so GetAnyOrRead would
// look in the wrong place (the pushed buffer); the physical bytes are
// still present on disk until the next Write().
func (v *RawVec[T]) collectStoredRange(from, to int64) ([]T, error) {
	out := make([]T, 0, to-from)
	for i := from; i < to; i++ {
		val, err := v.readStored(i)
		if err != nil {
			return nil, err
		}
		out = append(out, val)
	}
	return out, nil
}

func (v *RawVec[T]) savePrevForRollback() {
	v.base.savePrevForRollback()
	v.prevHoles = append(v.prevHoles[:0], v.holes...)
	v.prevUpdated = make(map[int64]T, len(v.updatedSet))
	for k, val := range v.updatedSet {
		v.prevUpdated[k] = val
	}
}

// rawTrailer is the raw-vector-specific suffix of a change record:
// the updated-overlay entries to restore and the holes list to restore
// to, both captured as of the start of the batch the change record
// describes (SPEC_FULL §6, steps 7-8).
type rawTrailer[T any] struct {
	updatedIdx []int64
	updatedVal []T
	holes      []int64
}

func parseRawTrailer[T any](codec Codec[T], buf []byte, pos int) (*rawTrailer[T], error) {
	updatedCountU, pos, err := takeUint64(buf, pos)
	if err != nil {
		return nil, err
	}
	updatedCount := int(updatedCountU)
	idx := make([]int64, updatedCount)
	for i := 0; i < updatedCount; i++ {
		v, p2, err := takeUint64(buf, pos)
		if err != nil {
			return nil, err
		}
		idx[i] = int64(v)
		pos = p2
	}
	vals := make([]T, updatedCount)
	for i := 0; i < updatedCount; i++ {
		if pos+codec.Size > len(buf) {
			return nil, ErrWrongLength
		}
		vals[i] = codec.Decode(buf[pos : pos+codec.Size])
		pos += codec.Size
	}

	holesCountU, pos, err := takeUint64(buf, pos)
	if err != nil {
		return nil, err
	}
	holesCount := int(holesCountU)
	holes := make([]int64, holesCount)
	for i := 0; i < holesCount; i++ {
		v, p2, err := takeUint64(buf, pos)
		if err != nil {
			return nil, err
		}
		holes[i] = int64(v)
		pos = p2
	}

	return &rawTrailer[T]{updatedIdx: idx, updatedVal: vals, holes: holes}, nil
}

// Rollback reads the change file at the current stamp and restores the
// vector to the previous epoch's state: stored length, pushed buffer,
// updated overlay, and holes all revert to what they were immediately
// before the batch of operations the change file describes.
func (v *RawVec[T]) Rollback() error {
	buf, err := v.base.ReadCurrentChangeFile()
	if err != nil {
		return err
	}
	data, err := parseChangeData(v.base.codec, buf)
	if err != nil {
		return err
	}
	trailer, err := parseRawTrailer(v.base.codec, buf, data.bytesConsumed)
	if err != nil {
		return err
	}

	// updatedSet entries are restored additively, not reset: a multi-step
	// RollbackBefore walk undoes one change file per call, and an index
	// restored by an earlier (more recent) step that this change file's
	// data doesn't mention must survive this step untouched. holes, in
	// contrast, are recorded as a complete snapshot in every change
	// file, so they are replaced wholesale below.
	for i, idx := range rangeDown(data.truncatedStart, data.prevStoredLen) {
		v.setUpdated(idx, data.truncatedVals[i])
	}
	for i, idx := range trailer.updatedIdx {
		v.setUpdated(idx, trailer.updatedVal[i])
	}

	v.holes = append([]int64(nil), trailer.holes...)
	v.holeSet = make(map[int64]struct{}, len(v.holes))
	for _, h := range v.holes {
		v.holeSet[h] = struct{}{}
	}

	applyRollback(v.base, data)
	return nil
}

func rangeDown(from, to int64) []int64 {
	out := make([]int64, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

// RollbackBefore repeatedly applies the change file at the vector's
// current stamp, each time moving the stamp back to that change's
// recorded previous stamp, until the current stamp is strictly less
// than stamp (or no change file remains for it). It then saves the
// resulting state as the new previous epoch so the next write records
// against it. Returns the stamp the vector ended up at.
func (v *RawVec[T]) RollbackBefore(stamp uint64) (uint64, error) {
	_, byStamp, err := v.base.FindRollbackFiles()
	if err != nil {
		return 0, err
	}
	for v.base.header.Stamp() >= stamp {
		if _, ok := byStamp[v.base.header.Stamp()]; !ok {
			break
		}
		if err := v.Rollback(); err != nil {
			return 0, err
		}
	}
	v.savePrevForRollback()
	return v.base.header.Stamp(), nil
}
