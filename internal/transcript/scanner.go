// Package transcript implements the byte-offset-tracked tail reader
// over append-only transcript logs described in spec.md §4.8. It never
// re-reads bytes it has already seen, and it bounds how much it will
// read in one call so an adversarial or runaway transcript cannot
// exhaust memory.
package transcript

import (
	"fmt"
	"os"
	"time"
)

// DefaultReadCeiling bounds a single incremental read. Files larger
// than this are read only up to the ceiling from their current tail;
// see Scan's truncation-vs-ceiling handling.
const DefaultReadCeiling = 8 << 20 // 8 MiB

// Offset is the scanner's persisted cursor for one transcript path.
type Offset struct {
	Offset int64
	Mtime  time.Time
}

// Result is what one Scan call returns.
type Result struct {
	NewBytes []byte
	NewOffset int64
	Mtime     time.Time
	Size      int64
	CacheHit  bool
}

// Scan implements the fast-path table from spec.md §4.8:
//   - file absent -> zero result, no error
//   - mtime unchanged and size == prevOffset -> cache hit, no read
//   - size < prevOffset -> file was truncated/cleared; read it whole
//   - otherwise -> read only [prevOffset, size)
//
// readCeiling caps how many bytes a single call will read; pass 0 to
// use DefaultReadCeiling. Any I/O error yields the zero Result with a
// nil error, per spec.md: a scan failure degrades rather than aborts.
func Scan(path string, prev Offset, readCeiling int64) Result {
	if readCeiling <= 0 {
		readCeiling = DefaultReadCeiling
	}

	info, err := os.Stat(path)
	if err != nil {
		return Result{}
	}

	size := info.Size()
	mtime := info.ModTime()

	if mtime.Equal(prev.Mtime) && size == prev.Offset {
		return Result{NewOffset: prev.Offset, Mtime: mtime, Size: size, CacheHit: true}
	}

	f, err := os.Open(path) // #nosec G304 - path is operator-supplied transcript path
	if err != nil {
		return Result{}
	}
	defer func() { _ = f.Close() }()

	start := prev.Offset
	if size < prev.Offset {
		start = 0 // truncated: the user cleared it, read from scratch
	}

	readLen := size - start
	if readLen > readCeiling {
		readLen = readCeiling
	}
	if readLen < 0 {
		readLen = 0
	}

	buf := make([]byte, readLen)
	if readLen > 0 {
		if _, err := f.ReadAt(buf, start); err != nil {
			return Result{}
		}
	}

	return Result{
		NewBytes:  buf,
		NewOffset: start + readLen,
		Mtime:     mtime,
		Size:      size,
		CacheHit:  false,
	}
}

// ErrTooLarge is a sentinel error helpers may use when rejecting a file
// above a hard ceiling outright rather than capping the read.
var ErrTooLarge = fmt.Errorf("transcript: file exceeds configured read ceiling")
