// Region descriptor: the persisted (start, len, reserved, id) record for
// one region slot (SPEC_FULL §3, §6).
package anydb

import (
	"encoding/binary"
	"sync/atomic"
)

// Compile-time constants (SPEC_FULL §6).
const (
	PageSize               = 4096
	SizeOfRegionMetadata    = PageSize
	HeaderOffset            = 4096
	MaxUncompressedPageSize = 16 * 1024
	MaxRegionIDLen          = 1024
	MaxReservedSize         = 1024 * 1024 * 1024 * 1024 // 1 TiB
	MaxCacheSize            = 1024 * 1024 * 1024        // 1 GiB
)

// RegionMeta is the in-memory (and on-disk) region descriptor.
type RegionMeta struct {
	Start    int64
	Len      int64
	Reserved int64
	ID       string

	dirty atomic.Bool
}

// newRegionMeta validates and constructs a descriptor. Panics on invariant
// violations that are only reachable via a programming error (mirroring
// the original's assert!()s), not on caller-supplied data — validateRegionID
// below is what returns an error for bad ids.
func newRegionMeta(id string, start, length, reserved int64) (*RegionMeta, error) {
	if err := validateRegionID(id); err != nil {
		return nil, err
	}
	if start%PageSize != 0 {
		panic("anydb: region start is not page-aligned")
	}
	if reserved < PageSize || reserved%PageSize != 0 {
		panic("anydb: region reserved size is not a page multiple")
	}
	if length > reserved {
		panic("anydb: region len exceeds reserved")
	}
	return &RegionMeta{Start: start, Len: length, Reserved: reserved, ID: id}, nil
}

func validateRegionID(id string) error {
	if id == "" || len(id) > MaxRegionIDLen {
		return ErrInvalidRegionID
	}
	for _, r := range id {
		if r < 0x20 || r == 0x7f {
			return ErrInvalidRegionID
		}
	}
	return nil
}

func (m *RegionMeta) markDirtyIfDifferent(changed bool) {
	if changed {
		m.dirty.Store(true)
	}
}

// SetStart updates start, marking the descriptor dirty only if it changed.
func (m *RegionMeta) SetStart(v int64) {
	m.markDirtyIfDifferent(m.Start != v)
	m.Start = v
}

// SetLen updates len, marking the descriptor dirty only if it changed.
func (m *RegionMeta) SetLen(v int64) {
	m.markDirtyIfDifferent(m.Len != v)
	m.Len = v
}

// SetReserved updates reserved, marking the descriptor dirty only if it changed.
func (m *RegionMeta) SetReserved(v int64) {
	m.markDirtyIfDifferent(m.Reserved != v)
	m.Reserved = v
}

// SetID updates id, marking the descriptor dirty only if it changed.
func (m *RegionMeta) SetID(v string) {
	m.markDirtyIfDifferent(m.ID != v)
	m.ID = v
}

// Dirty reports whether the descriptor needs to be rewritten.
func (m *RegionMeta) Dirty() bool { return m.dirty.Load() }

// clearDirty clears the dirty flag, returning its previous value.
func (m *RegionMeta) clearDirty() bool { return m.dirty.Swap(false) }

// toBytes serializes the descriptor into exactly SizeOfRegionMetadata
// bytes: little-endian start, len, reserved, id_len, then id bytes,
// zero-padded.
func (m *RegionMeta) toBytes() []byte {
	buf := make([]byte, SizeOfRegionMetadata)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(m.Start))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(m.Len))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(m.Reserved))
	idBytes := []byte(m.ID)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(len(idBytes)))
	copy(buf[32:], idBytes)
	return buf
}

// regionMetaFromBytes parses a descriptor record. An all-zero record
// (start == len == reserved == id_len == 0) denotes an empty slot and
// returns ErrEmptyMetadata.
func regionMetaFromBytes(buf []byte) (*RegionMeta, error) {
	if len(buf) < SizeOfRegionMetadata {
		return nil, ErrInvalidMetadataSize
	}
	start := int64(binary.LittleEndian.Uint64(buf[0:8]))
	length := int64(binary.LittleEndian.Uint64(buf[8:16]))
	reserved := int64(binary.LittleEndian.Uint64(buf[16:24]))
	idLen := int64(binary.LittleEndian.Uint64(buf[24:32]))

	if start == 0 && length == 0 && reserved == 0 && idLen == 0 {
		return nil, ErrEmptyMetadata
	}
	if idLen < 0 || 32+idLen > int64(len(buf)) || idLen > MaxRegionIDLen {
		return nil, ErrInvalidMetadataSize
	}
	id := string(buf[32 : 32+idLen])
	return &RegionMeta{Start: start, Len: length, Reserved: reserved, ID: id}, nil
}
