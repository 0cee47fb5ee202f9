// Read sources: mmap vs buffered sequential I/O dispatch for range folds
// over stored vectors, raw and compressed alike (SPEC_FULL §4.8).
//
// Grounded on
// original_source/crates/vecdb/src/variants/raw/sources/{mmap,io}.rs.
// FoldRange in rawvec.go already reads straight from the mmap for the
// common case; this file adds the buffered-I/O alternative and the
// crossover selection so very large range scans (beyond
// Config.MmapCrossoverBytes, which defaults to 4 GiB) use a dedicated
// sequential read handle with OS readahead instead of faulting in
// gigabytes of mmap pages. shouldUseIOSource is also used by
// compressedvec.go's foldCompressedIO, whose page-aware reader lives
// there since it needs the compression strategy and page index.
package anydb

import (
	"bufio"
	"io"
)

const ioBufferSize = 4 * 1024 * 1024 // 4 MiB, per SPEC_FULL §4.8

// shouldUseIOSource reports whether a range fold of byteLen bytes should
// bypass the mmap and use a buffered file read instead.
func (db *Database) shouldUseIOSource(byteLen int64) bool {
	crossover := db.config.MmapCrossoverBytes
	if crossover <= 0 {
		crossover = defaultMmapCrossoverBytes
	}
	return byteLen > crossover
}

// foldRawIO folds over the raw stored byte range [start, start+length)
// of the data file using a dedicated sequential read handle, refilling
// a large aligned buffer rounded down to a multiple of elementSize.
func (db *Database) foldRawIO(start, length int64, elementSize int, decode func([]byte) any, init any, f func(acc, v any) any) (any, error) {
	file, err := db.openReadOnlyFile()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if _, err := file.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}

	bufSize := ioBufferSize - (ioBufferSize % elementSize)
	r := bufio.NewReaderSize(file, bufSize)

	acc := init
	remaining := length
	chunk := make([]byte, bufSize)
	for remaining > 0 {
		want := int64(bufSize)
		if want > remaining {
			want = remaining - (remaining % int64(elementSize))
			if want == 0 {
				want = remaining
			}
		}
		n, err := io.ReadFull(r, chunk[:want])
		if err != nil && err != io.ErrUnexpectedEOF {
			return nil, err
		}
		for off := 0; off+elementSize <= n; off += elementSize {
			acc = f(acc, decode(chunk[off:off+elementSize]))
		}
		remaining -= int64(n)
	}
	return acc, nil
}
