// Hole punching (compaction): SPEC_FULL §5 "Hole punching (compaction)".
//
// On demand, walk all regions' unused reserved tails and all free holes;
// for each range whose first/last page (and every 1 GiB boundary page
// within it) contains a non-zero byte, issue a file-system hole-punch
// request for the unused bytes. After any punches, fsync and remap.
package anydb

const puncheableBoundaryStride = 1024 * 1024 * 1024 // 1 GiB

// approxHasPunchableData is a heuristic probe: it checks the first page,
// the last page, and every 1 GiB boundary page within [start, start+size)
// for a non-zero byte, to skip ranges that are already sparse.
func (db *Database) approxHasPunchableData(start, size int64) bool {
	if size <= 0 {
		return false
	}
	db.mmapMu.RLock()
	defer db.mmapMu.RUnlock()

	check := func(off int64) bool {
		end := off + PageSize
		if end > start+size {
			end = start + size
		}
		if off >= int64(len(db.mm)) {
			return false
		}
		if end > int64(len(db.mm)) {
			end = int64(len(db.mm))
		}
		for _, b := range db.mm[off:end] {
			if b != 0 {
				return true
			}
		}
		return false
	}

	if check(start) {
		return true
	}
	lastPage := start + size - PageSize
	if lastPage > start && check(lastPage) {
		return true
	}
	for boundary := (start/puncheableBoundaryStride + 1) * puncheableBoundaryStride; boundary < start+size; boundary += puncheableBoundaryStride {
		if check(boundary) {
			return true
		}
	}
	return false
}

// punchHoles walks live regions' unused tails and layout holes, punching
// each range gated by approxHasPunchableData.
func (db *Database) punchHoles() error {
	punched := false

	for _, r := range db.regions.snapshot() {
		meta := r.Meta()
		usedCeil := ceilToPageSize(meta.Len)
		unused := meta.Reserved - usedCeil
		if unused <= 0 {
			continue
		}
		rangeStart := meta.Start + usedCeil
		if db.approxHasPunchableData(rangeStart, unused) {
			if err := db.punchRange(rangeStart, unused); err != nil {
				return err
			}
			punched = true
		}
	}

	for start, size := range db.layout.holesSnapshot() {
		if db.approxHasPunchableData(start, size) {
			if err := db.punchRange(start, size); err != nil {
				return err
			}
			punched = true
		}
	}

	if !punched {
		return nil
	}
	db.fileMu.RLock()
	err := db.file.Sync()
	db.fileMu.RUnlock()
	if err != nil {
		return err
	}
	return db.remapLocked()
}

// holesSnapshot returns a copy of the current free-hole map.
func (l *Layout) holesSnapshot() map[int64]int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[int64]int64, len(l.holes))
	for k, v := range l.holes {
		out[k] = v
	}
	return out
}

// DiskUsage reports live, hole, and reserved-but-unused byte totals
// across the layout (SPEC_FULL §13 supplement).
type DiskUsage struct {
	LiveBytes     int64
	HoleBytes     int64
	UnusedReserve int64
}

func (db *Database) DiskUsage() DiskUsage {
	var u DiskUsage
	for _, r := range db.regions.snapshot() {
		meta := r.Meta()
		u.LiveBytes += meta.Len
		u.UnusedReserve += meta.Reserved - ceilToPageSize(meta.Len)
	}
	for _, size := range db.layout.holesSnapshot() {
		u.HoleBytes += size
	}
	return u
}
