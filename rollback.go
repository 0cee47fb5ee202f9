// Stamped rollback: the shared skeleton for serializing, saving, and
// replaying per-variant change sets (SPEC_FULL §4.7, §6).
//
// Grounded on
// original_source/crates/vecdb/src/variants/base/read_write.rs's
// serialize_changes/parse_change_data/apply_rollback/save_change_file.
package anydb

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
)

func stampFileName(stamp uint64) string {
	return strconv.FormatUint(stamp, 10)
}

func parseStampFileName(name string) (uint64, bool) {
	v, err := strconv.ParseUint(name, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func putUint64(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

func takeUint64(buf []byte, pos int) (uint64, int, error) {
	if pos+8 > len(buf) {
		return 0, 0, ErrWrongLength
	}
	return binary.LittleEndian.Uint64(buf[pos : pos+8]), pos + 8, nil
}

// serializeChanges builds the change-record bytes describing the
// transition from the previous epoch's state to the current one
// (SPEC_FULL §6 "Change-file layout", steps 1–6; raw vectors append
// steps 7–8 themselves in RawVec.serializeChanges).
func serializeChanges[T any](b *baseVec[T], collectStored func(from, to int64) ([]T, error)) ([]byte, error) {
	prevStoredLen := b.PrevStoredLen()
	storedLen := b.StoredLen()
	truncated := int64(0)
	if prevStoredLen > storedLen {
		truncated = prevStoredLen - storedLen
	}

	out := make([]byte, 0, 4*8+int(truncated+int64(len(b.PrevPushed()))+int64(len(b.Pushed())))*b.codec.Size)
	out = putUint64(out, b.header.Stamp())
	out = putUint64(out, uint64(prevStoredLen))
	out = putUint64(out, uint64(storedLen))
	out = putUint64(out, uint64(truncated))

	if truncated > 0 {
		vals, err := collectStored(storedLen, prevStoredLen)
		if err != nil {
			return nil, err
		}
		out = append(out, encodeAll(b.codec, vals)...)
	}

	out = putUint64(out, uint64(len(b.PrevPushed())))
	out = append(out, encodeAll(b.codec, b.PrevPushed())...)

	out = putUint64(out, uint64(len(b.Pushed())))
	out = append(out, encodeAll(b.codec, b.Pushed())...)

	return out, nil
}

// changeData is the parsed portion of a change record needed to apply a
// rollback: the stamp and stored length to restore, the values
// truncated away, and the pushed buffer's previous-epoch contents.
type changeData[T any] struct {
	prevStamp      uint64
	prevStoredLen  int64
	truncatedStart int64
	truncatedVals  []T
	prevPushed     []T
	bytesConsumed  int
}

// parseChangeData parses the shared prefix of a change record (steps
// 1–6). Variant-specific trailers (updated/holes for raw vectors) are
// parsed by the caller starting at bytesConsumed.
func parseChangeData[T any](codec Codec[T], buf []byte) (*changeData[T], error) {
	pos := 0
	prevStamp, pos, err := takeUint64(buf, pos)
	if err != nil {
		return nil, err
	}
	prevStoredLenU, pos, err := takeUint64(buf, pos)
	if err != nil {
		return nil, err
	}
	prevStoredLen := int64(prevStoredLenU)

	// stored_len: present on disk, not needed for rollback.
	_, pos, err = takeUint64(buf, pos)
	if err != nil {
		return nil, err
	}

	truncatedCountU, pos, err := takeUint64(buf, pos)
	if err != nil {
		return nil, err
	}
	truncatedCount := int64(truncatedCountU)

	truncatedStart := prevStoredLen - truncatedCount
	if truncatedStart < 0 {
		return nil, ErrUnderflow
	}

	var truncatedVals []T
	if truncatedCount > 0 {
		n := int(truncatedCount) * codec.Size
		if pos+n > len(buf) {
			return nil, ErrWrongLength
		}
		truncatedVals = decodeAll(codec, buf[pos:pos+n])
		pos += n
	}

	prevPushedLenU, pos, err := takeUint64(buf, pos)
	if err != nil {
		return nil, err
	}
	n := int(prevPushedLenU) * codec.Size
	if pos+n > len(buf) {
		return nil, ErrWrongLength
	}
	prevPushed := decodeAll(codec, buf[pos:pos+n])
	pos += n

	pushedLenU, pos, err := takeUint64(buf, pos)
	if err != nil {
		return nil, err
	}
	skip := int(pushedLenU) * codec.Size
	if pos+skip > len(buf) {
		return nil, ErrWrongLength
	}
	pos += skip

	return &changeData[T]{
		prevStamp:      prevStamp,
		prevStoredLen:  prevStoredLen,
		truncatedStart: truncatedStart,
		truncatedVals:  truncatedVals,
		prevPushed:     prevPushed,
		bytesConsumed:  pos,
	}, nil
}

// applyRollback restores the base vector's stamp, stored length, and
// pushed buffer from data. Callers handle type-specific restoration
// (updated/holes) before calling this.
func applyRollback[T any](b *baseVec[T], data *changeData[T]) {
	b.header.UpdateStamp(data.prevStamp)
	b.UpdateStoredLen(data.prevStoredLen)
	*b.MutPushed() = append((*b.MutPushed())[:0], data.prevPushed...)
	b.pushed.save()
}

// saveChangeFile persists a new change record under the stamp's name,
// applying the retention policy: delete any file with stamp >= stamp
// (it would be overwriting a forked future), then trim the oldest
// surviving files beyond savedStampedChanges-1.
func saveChangeFile[T any](b *baseVec[T], stamp uint64, data []byte) error {
	if b.SavedStampedChanges() == 0 {
		return nil
	}
	dir := b.ChangesPath()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	stamps, byStamp, err := b.FindRollbackFiles()
	if err != nil {
		return err
	}
	kept := stamps[:0]
	for _, s := range stamps {
		if s >= stamp {
			if err := os.Remove(byStamp[s]); err != nil && !os.IsNotExist(err) {
				return err
			}
			continue
		}
		kept = append(kept, s)
	}

	excess := len(kept) - (int(b.SavedStampedChanges()) - 1)
	for i := 0; i < excess; i++ {
		if err := os.Remove(byStamp[kept[i]]); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	return os.WriteFile(fmt.Sprintf("%s/%s", dir, stampFileName(stamp)), data, 0o644)
}
