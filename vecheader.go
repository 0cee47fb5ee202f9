// Vector header: the fixed-size per-vector preamble recorded at offset 0
// of every region holding a stored vector (SPEC_FULL §3, §4.4, §6).
//
// Grounded on original_source/crates/vecdb/src/variants/base/header.rs.
package anydb

import (
	"encoding/binary"
	"sync"
)

const headerVersion uint32 = 2

// vecHeader is the in-memory, lock-protected mirror of the 21-byte
// on-disk header, zero-padded to HeaderOffset bytes.
type vecHeader struct {
	mu sync.RWMutex

	headerVersion   uint32
	vecVersion      uint32
	computedVersion uint32
	stamp           uint64
	format          PageFormat

	modified bool
}

// createAndWriteHeader builds a fresh header for a newly created region
// and writes it immediately.
func createAndWriteHeader(r *Region, vecVersion uint32, format PageFormat) (*vecHeader, error) {
	h := &vecHeader{
		headerVersion: headerVersion,
		vecVersion:    vecVersion,
		format:        format,
	}
	if err := r.WriteAt(h.toBytes(), 0); err != nil {
		return nil, err
	}
	return h, nil
}

// importAndVerifyHeader reads the header from an existing region and
// checks it against the version and format the caller expects to find.
func importAndVerifyHeader(r *Region, vecVersion uint32, format PageFormat) (*vecHeader, error) {
	if r.Meta().Len < HeaderOffset {
		return nil, ErrWrongLength
	}

	buf, err := r.db.readAt(r.Meta().Start, HeaderOffset)
	if err != nil {
		return nil, err
	}
	h, err := headerFromBytes(buf)
	if err != nil {
		return nil, err
	}
	if h.headerVersion != headerVersion {
		return nil, ErrDifferentVersion
	}
	if h.vecVersion != vecVersion {
		return nil, ErrDifferentVersion
	}
	if h.format != format {
		return nil, ErrDifferentFormat
	}
	return h, nil
}

func (h *vecHeader) Stamp() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stamp
}

func (h *vecHeader) VecVersion() uint32 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.vecVersion
}

func (h *vecHeader) ComputedVersion() uint32 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.computedVersion
}

func (h *vecHeader) Format() PageFormat {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.format
}

func (h *vecHeader) Modified() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.modified
}

// UpdateStamp sets the stamp, marking the header modified only if it
// actually changed.
func (h *vecHeader) UpdateStamp(stamp uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stamp != stamp {
		h.modified = true
		h.stamp = stamp
	}
}

// UpdateComputedVersion sets the computed-from-dependencies version,
// marking the header modified only if it actually changed.
func (h *vecHeader) UpdateComputedVersion(v uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.computedVersion != v {
		h.modified = true
		h.computedVersion = v
	}
}

// WriteIfModified persists the header to region if it has pending
// changes, clearing the modified flag on success.
func (h *vecHeader) WriteIfModified(r *Region) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.modified {
		return nil
	}
	if err := r.WriteAt(h.toBytesLocked(), 0); err != nil {
		return err
	}
	h.modified = false
	return nil
}

func (h *vecHeader) toBytes() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.toBytesLocked()
}

func (h *vecHeader) toBytesLocked() []byte {
	buf := make([]byte, HeaderOffset)
	binary.LittleEndian.PutUint32(buf[0:4], h.headerVersion)
	binary.LittleEndian.PutUint32(buf[4:8], h.vecVersion)
	binary.LittleEndian.PutUint32(buf[8:12], h.computedVersion)
	binary.LittleEndian.PutUint64(buf[12:20], h.stamp)
	buf[20] = byte(h.format)
	return buf
}

func headerFromBytes(buf []byte) (*vecHeader, error) {
	if len(buf) < HeaderOffset {
		return nil, ErrWrongLength
	}
	return &vecHeader{
		headerVersion:   binary.LittleEndian.Uint32(buf[0:4]),
		vecVersion:      binary.LittleEndian.Uint32(buf[4:8]),
		computedVersion: binary.LittleEndian.Uint32(buf[8:12]),
		stamp:           binary.LittleEndian.Uint64(buf[12:20]),
		format:          PageFormat(buf[20]),
	}, nil
}
