//go:build linux

// FALLOC_FL_PUNCH_HOLE is Linux-specific; other platforms fall back to a
// no-op (compact_other.go) since there is no portable hole-punch syscall.
package anydb

import "golang.org/x/sys/unix"

func (db *Database) punchRange(start, size int64) error {
	db.fileMu.RLock()
	fd := int(db.file.Fd())
	db.fileMu.RUnlock()
	return unix.Fallocate(fd, unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, start, size)
}
