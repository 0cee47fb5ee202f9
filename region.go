// Region handle: byte-granular write/read/truncate operations on one
// named region, delegating placement decisions to the layout allocator
// (SPEC_FULL §4.3).
//
// Grounded on original_source/crates/rawdb/src/region.rs, in particular
// the write_with placement algorithm (in-place / grow-at-end / grow-into-
// hole / relocate-to-hole / relocate-to-end) and the separate dirty-range
// mutex rationale (SPEC_FULL §9).
package anydb

import (
	"sync"
	"sync/atomic"
)

// Region is a reference-counted handle to one named byte range in the
// database's data file. It must not be used after Remove.
type Region struct {
	db    *Database
	index int

	metaMu sync.RWMutex
	meta   *RegionMeta

	dirtyMu    sync.Mutex
	dirtyValid bool
	dirtyStart int64
	dirtyEnd   int64

	refs atomic.Int32
}

func newRegionFromMeta(db *Database, index int, meta *RegionMeta) *Region {
	r := &Region{db: db, index: index, meta: meta}
	r.refs.Store(1) // the catalog's own slot
	return r
}

func (r *Region) acquire()        { r.refs.Add(1) }
func (r *Region) refCount() int32 { return r.refs.Load() }

// Release drops the external reference acquired by GetByID/GetByIndex/
// createRegionIfNeeded. Callers that keep a Region past the call that
// returned it (e.g. a stored vector keeping its region for its lifetime)
// should call Release only when truly done with the handle.
func (r *Region) Release() { r.refs.Add(-1) }

// Index returns the region's catalog slot index.
func (r *Region) Index() int { return r.index }

// Meta returns a snapshot copy of the region's descriptor.
func (r *Region) Meta() RegionMeta {
	r.metaMu.RLock()
	defer r.metaMu.RUnlock()
	return *r.meta
}

func (r *Region) writeHeaderIfDirty() {
	if r.meta.clearDirty() {
		r.db.regions.writeAt(r.index, r.meta.toBytes())
	}
}

// Write appends data to the end of the region.
func (r *Region) Write(data []byte) error {
	return r.writeWith(data, -1, false)
}

// WriteAt overwrites data starting at offset, which must be <= len.
func (r *Region) WriteAt(data []byte, at int64) error {
	return r.writeWith(data, at, false)
}

// Truncate shrinks the region's logical length.
func (r *Region) Truncate(from int64) error {
	r.metaMu.Lock()
	defer r.metaMu.Unlock()
	length := r.meta.Len
	if from == length {
		return nil
	}
	if from > length {
		return ErrTruncateInvalid
	}
	r.meta.SetLen(from)
	r.writeHeaderIfDirty()
	return nil
}

// TruncateWrite truncates the region to at and writes data there in one
// step; the final length is exactly at + len(data).
func (r *Region) TruncateWrite(at int64, data []byte) error {
	return r.writeWith(data, at, true)
}

func (r *Region) writeWith(data []byte, at int64, truncate bool) error {
	r.metaMu.RLock()
	start := r.meta.Start
	reserved := r.meta.Reserved
	length := r.meta.Len
	r.metaMu.RUnlock()

	if at >= 0 && at > length {
		return ErrWriteOutOfBounds
	}

	dataLen := int64(len(data))
	var newLen, writeAt int64
	if at < 0 {
		writeAt = length
		newLen = length + dataLen
	} else {
		writeAt = at
		newLen = at + dataLen
		if !truncate && newLen < length {
			newLen = length
		}
	}
	writeStart := start + writeAt

	if newLen <= reserved {
		r.db.write(writeStart, data)
		r.metaMu.Lock()
		r.extendDirty(writeAt, dataLen)
		r.meta.SetLen(newLen)
		r.writeHeaderIfDirty()
		r.metaMu.Unlock()
		return nil
	}

	newReserved := reserved
	for newLen > newReserved {
		if newReserved > (1 << 62) {
			panic("anydb: region reserved size would overflow")
		}
		newReserved *= 2
	}
	addedReserve := newReserved - reserved

	if r.db.layout.IsLastAnything(r) {
		if err := r.db.setMinLen(start + newReserved); err != nil {
			return err
		}
		r.metaMu.Lock()
		r.meta.SetReserved(newReserved)
		r.metaMu.Unlock()

		r.db.write(writeStart, data)

		r.metaMu.Lock()
		r.extendDirty(writeAt, dataLen)
		r.meta.SetLen(newLen)
		r.writeHeaderIfDirty()
		r.metaMu.Unlock()
		return nil
	}

	holeStart := start + reserved
	if size, ok := r.db.layout.GetHole(holeStart); ok && size >= addedReserve {
		if err := r.db.layout.RemoveOrCompressHole(holeStart, addedReserve); err != nil {
			return err
		}
		r.metaMu.Lock()
		r.meta.SetReserved(newReserved)
		r.metaMu.Unlock()

		r.db.write(writeStart, data)

		r.metaMu.Lock()
		r.extendDirty(writeAt, dataLen)
		r.meta.SetLen(newLen)
		r.writeHeaderIfDirty()
		r.metaMu.Unlock()
		return nil
	}

	if newHoleStart, ok := r.db.layout.FindSmallestAdequateHole(newReserved); ok {
		if err := r.db.layout.RemoveOrCompressHole(newHoleStart, newReserved); err != nil {
			return err
		}

		r.db.copyRange(start, newHoleStart, writeAt)
		r.db.write(newHoleStart+writeAt, data)

		if err := r.db.layout.MoveRegion(newHoleStart, r); err != nil {
			return err
		}

		r.metaMu.Lock()
		r.extendDirtyAbs(0, newLen) // region relocated: everything is dirty
		r.meta.SetStart(newHoleStart)
		r.meta.SetReserved(newReserved)
		r.meta.SetLen(newLen)
		r.writeHeaderIfDirty()
		r.metaMu.Unlock()
		return nil
	}

	newStart := r.db.layout.Len()
	if err := r.db.setMinLen(newStart + newReserved); err != nil {
		return err
	}
	r.db.layout.Reserve(newStart, newReserved)

	r.db.copyRange(start, newStart, writeAt)
	r.db.write(newStart+writeAt, data)

	if err := r.db.layout.MoveRegion(newStart, r); err != nil {
		return err
	}
	if size, ok := r.db.layout.TakeReserved(newStart); !ok || size != newReserved {
		panic("anydb: relocation reservation mismatch")
	}

	r.metaMu.Lock()
	r.extendDirtyAbs(0, newLen)
	r.meta.SetStart(newStart)
	r.meta.SetReserved(newReserved)
	r.meta.SetLen(newLen)
	r.writeHeaderIfDirty()
	r.metaMu.Unlock()
	return nil
}

// Rename changes the region's id. newID must not already be in use.
func (r *Region) Rename(newID string) error {
	oldID := r.Meta().ID
	if err := r.db.regions.rename(oldID, newID); err != nil {
		return err
	}
	r.metaMu.Lock()
	r.meta.SetID(newID)
	r.writeHeaderIfDirty()
	r.metaMu.Unlock()
	return nil
}

// Remove removes the region from the database. The space becomes a
// pending hole, reusable after the next Flush. The handle must not be
// used afterwards.
func (r *Region) Remove() error {
	return r.db.removeRegion(r)
}

// Flush syncs this region's dirty byte range and its descriptor.
// Returns true if any work was done.
func (r *Region) Flush() (bool, error) {
	dirtyStart, dirtyEnd, ok := r.takeDirtyRange()
	if !ok {
		return false, nil
	}

	start := r.Meta().Start
	if err := r.db.flushRange(start+dirtyStart, dirtyEnd-dirtyStart); err != nil {
		return false, err
	}
	r.writeHeaderIfDirty()
	return true, nil
}

// extendDirty widens the dirty range to include [offset, offset+len),
// relative to region start. Caller must hold metaMu.
func (r *Region) extendDirty(offset, length int64) {
	r.dirtyMu.Lock()
	defer r.dirtyMu.Unlock()
	end := offset + length
	if !r.dirtyValid {
		r.dirtyStart, r.dirtyEnd, r.dirtyValid = offset, end, true
		return
	}
	if offset < r.dirtyStart {
		r.dirtyStart = offset
	}
	if end > r.dirtyEnd {
		r.dirtyEnd = end
	}
}

func (r *Region) extendDirtyAbs(offset, length int64) {
	r.extendDirty(offset, length)
}

func (r *Region) takeDirtyRange() (int64, int64, bool) {
	r.dirtyMu.Lock()
	defer r.dirtyMu.Unlock()
	if !r.dirtyValid {
		return 0, 0, false
	}
	s, e := r.dirtyStart, r.dirtyEnd
	r.dirtyValid = false
	return s, e, true
}
