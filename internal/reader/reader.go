// Package reader implements the sparse-indexed file reader (component C1):
// O(1)-amortised random access to line N of a file, with reload semantics on
// growth or truncation. It mmaps the file where possible and falls back to
// buffered I/O for special files (pipes, network filesystems), following the
// mmap-then-fallback pattern used throughout the example corpus for
// memory-mapped log parsing.
package reader

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"

	"github.com/standardbeagle/lazytail/internal/config"
	"github.com/standardbeagle/lazytail/internal/debug"
	"github.com/standardbeagle/lazytail/internal/errors"
)

// prefixFingerprintBytes is how much of the file's head Reload hashes to
// detect a same-size in-place rewrite (spec 4.1, "truncation (size
// decreased or non-matching prefix)"). Small enough to hash on every
// Reload without the cost of a full-file comparison, large enough to
// catch a rotated-and-truncated-to-the-same-size log in practice.
const prefixFingerprintBytes = 4096

// OffsetAccelerator is satisfied by a columnar index reader. When present and
// covering line N, the reader seeks directly to Offset(N) instead of
// consulting the sparse index (spec 4.1, "Acceleration with offsets column").
type OffsetAccelerator interface {
	EntryCount() int
	Offset(line int) (uint64, bool)
}

// sparseEntry is one (line_no, byte_offset) sample.
type sparseEntry struct {
	line   int
	offset int64
}

// Reader provides random-access line reads over a file that may grow or be
// truncated underneath it. A Reader is safe for concurrent use: the mutex
// that guards the sparse index and file handle is held only for the span of
// one operation, matching the "shared mutable reader without data races"
// guidance for stream-appended sources.
type Reader struct {
	mu sync.Mutex

	path    string
	file    *os.File
	data    mmap.MMap // nil when mmap unavailable (stream or special file)
	size    int64
	mmapped bool

	interval int // sparse sampling interval (K lines)

	sparse     []sparseEntry
	totalLines int
	trailing   bool // true if final content has no terminating LF

	prefixHash uint64 // xxhash of the first prefixFingerprintBytes, refreshed each Reload

	accel OffsetAccelerator

	closed bool
}

// Open opens path and performs the initial sequential scan described in spec
// 4.1 ("Build"): one pass counting LF bytes, sampling a (line_no, offset)
// pair every interval lines.
func Open(path string, tunables config.Tunables) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewReaderError("open", path, err)
	}

	r := &Reader{
		path:     path,
		file:     f,
		interval: tunables.SparseIndexIntervalLines,
	}
	if r.interval <= 0 {
		r.interval = 10_000
	}

	if err := r.mapOrFallback(); err != nil {
		f.Close()
		return nil, err
	}

	if err := r.buildSparseIndex(); err != nil {
		r.closeLocked()
		return nil, err
	}
	r.prefixHash = r.computePrefixHash()

	debug.LogReader("opened %s: %d lines, mmapped=%v", path, r.totalLines, r.mmapped)
	return r, nil
}

// computePrefixHash hashes up to prefixFingerprintBytes from the start of
// the file, from the mmap if one is live or via a direct pread otherwise.
// Errors (e.g. the file vanished) degrade to a zero hash, which Reload
// treats as "can't tell, assume unchanged" rather than a spurious rebuild.
func (r *Reader) computePrefixHash() uint64 {
	n := prefixFingerprintBytes
	if int64(n) > r.size {
		n = int(r.size)
	}
	if n <= 0 {
		return 0
	}

	if r.data != nil {
		return xxhash.Sum64([]byte(r.data)[:n])
	}

	buf := make([]byte, n)
	read, err := r.file.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return 0
	}
	return xxhash.Sum64(buf[:read])
}

// mapOrFallback tries to mmap the file; on failure (pipes, network
// filesystems, zero-length files) it leaves data nil and reads are served
// from the open *os.File via buffered scans instead.
func (r *Reader) mapOrFallback() error {
	info, err := r.file.Stat()
	if err != nil {
		return errors.NewReaderError("stat", r.path, err)
	}
	r.size = info.Size()
	if r.size == 0 {
		return nil
	}

	m, err := mmap.Map(r.file, mmap.RDONLY, 0)
	if err != nil {
		debug.LogReader("mmap failed for %s, falling back to buffered I/O: %v", r.path, err)
		return nil
	}
	r.data = m
	r.mmapped = true
	return nil
}

// buildSparseIndex performs the full sequential scan.
func (r *Reader) buildSparseIndex() error {
	r.sparse = r.sparse[:0]
	r.totalLines = 0
	r.trailing = false

	if r.mmapped {
		return r.buildSparseIndexMmap()
	}
	return r.buildSparseIndexBuffered()
}

func (r *Reader) buildSparseIndexMmap() error {
	data := []byte(r.data)
	lineNo := 0
	start := 0
	for start < len(data) {
		if lineNo%r.interval == 0 {
			r.sparse = append(r.sparse, sparseEntry{line: lineNo, offset: int64(start)})
		}
		i := bytes.IndexByte(data[start:], '\n')
		if i < 0 {
			r.trailing = true
			lineNo++
			break
		}
		start += i + 1
		lineNo++
	}
	r.totalLines = lineNo
	return nil
}

func (r *Reader) buildSparseIndexBuffered() error {
	if _, err := r.file.Seek(0, 0); err != nil {
		return errors.NewReaderError("seek", r.path, err)
	}
	br := bufio.NewReaderSize(r.file, 64*1024)
	lineNo := 0
	var offset int64
	for {
		if lineNo%r.interval == 0 {
			r.sparse = append(r.sparse, sparseEntry{line: lineNo, offset: offset})
		}
		chunk, err := br.ReadBytes('\n')
		offset += int64(len(chunk))
		if len(chunk) > 0 && chunk[len(chunk)-1] == '\n' {
			lineNo++
		} else if len(chunk) > 0 {
			r.trailing = true
			lineNo++
		}
		if err != nil {
			break
		}
	}
	r.totalLines = lineNo
	return nil
}

// SetAccelerator installs a columnar index reader to accelerate GetLine.
func (r *Reader) SetAccelerator(acc OffsetAccelerator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accel = acc
}

// TotalLines returns the number of lines observed as of the last
// Open/Reload.
func (r *Reader) TotalLines() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalLines
}

// GetLine returns the n-th line (0-indexed), without its terminating LF.
// The second return value is false if n is out of range.
func (r *Reader) GetLine(n int) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n < 0 || n >= r.totalLines {
		return nil, false
	}

	if r.accel != nil && n < r.accel.EntryCount() {
		if off, ok := r.accel.Offset(n); ok {
			return r.readLineAt(int64(off)), true
		}
	}

	anchor := r.nearestAnchor(n)
	return r.scanFromAnchor(anchor, n), true
}

// nearestAnchor returns the sparse entry with the greatest line <= n.
func (r *Reader) nearestAnchor(n int) sparseEntry {
	idx := sort.Search(len(r.sparse), func(i int) bool {
		return r.sparse[i].line > n
	})
	if idx == 0 {
		return sparseEntry{line: 0, offset: 0}
	}
	return r.sparse[idx-1]
}

// scanFromAnchor reads forward from anchor to line n, returning its bytes.
func (r *Reader) scanFromAnchor(anchor sparseEntry, n int) []byte {
	if r.mmapped {
		data := []byte(r.data)
		off := anchor.offset
		for line := anchor.line; line < n; line++ {
			i := bytes.IndexByte(data[off:], '\n')
			if i < 0 {
				return nil
			}
			off += int64(i) + 1
		}
		return extractLine(data, off)
	}
	return r.readLineAtBuffered(anchor.offset, n-anchor.line)
}

// readLineAt reads exactly the line starting at byte offset off (mmap path).
func (r *Reader) readLineAt(off int64) []byte {
	if r.mmapped {
		return extractLine([]byte(r.data), off)
	}
	return r.readLineAtBuffered(off, 0)
}

// extractLine slices out bytes [off, nextLF) from data, or to EOF.
func extractLine(data []byte, off int64) []byte {
	if off < 0 || off > int64(len(data)) {
		return nil
	}
	rest := data[off:]
	i := bytes.IndexByte(rest, '\n')
	if i < 0 {
		return rest
	}
	return rest[:i]
}

// readLineAtBuffered seeks to off then skips `skip` additional lines before
// returning the next line's bytes. Used on the buffered-I/O fallback path.
func (r *Reader) readLineAtBuffered(off int64, skip int) []byte {
	if _, err := r.file.Seek(off, 0); err != nil {
		return nil
	}
	br := bufio.NewReaderSize(r.file, 64*1024)
	for i := 0; i < skip; i++ {
		if _, err := br.ReadBytes('\n'); err != nil {
			return nil
		}
	}
	chunk, err := br.ReadBytes('\n')
	if err != nil && len(chunk) == 0 {
		return nil
	}
	return bytes.TrimSuffix(chunk, []byte{'\n'})
}

// Reload rescans the file after a file-modified notification. It detects
// growth by scanning only the newly appended bytes, and truncation either
// by a smaller size or, at equal size, by a changed prefixHash fingerprint
// of the file's first bytes (an in-place rewrite that happens to land on
// the same length) — rebuilding the sparse index from scratch in either
// truncation case, per spec 4.1 ("Reload": "truncation (size decreased or
// non-matching prefix)").
func (r *Reader) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, err := r.file.Stat()
	if err != nil {
		return errors.NewReaderError("stat", r.path, err)
	}
	newSize := info.Size()

	switch {
	case newSize == r.size:
		if h := r.computePrefixHash(); h == 0 || h == r.prefixHash {
			return nil
		}
		debug.LogReader("reload: %s same size %d but prefix changed, rebuilding", r.path, newSize)
		return r.rebuildLocked(newSize)
	case newSize > r.size:
		return r.growLocked(newSize)
	default:
		return r.rebuildLocked(newSize)
	}
}

// growLocked handles the common case: the file only gained bytes.
func (r *Reader) growLocked(newSize int64) error {
	debug.LogReader("reload: %s grew %d -> %d", r.path, r.size, newSize)

	if r.mmapped {
		if err := r.remapLocked(); err != nil {
			return err
		}
		if err := r.appendSparseFromMmap(newSize); err != nil {
			return err
		}
		r.prefixHash = r.computePrefixHash()
		return nil
	}
	if err := r.appendSparseBuffered(newSize); err != nil {
		return err
	}
	r.prefixHash = r.computePrefixHash()
	return nil
}

func (r *Reader) remapLocked() error {
	if r.data != nil {
		r.data.Unmap()
		r.data = nil
	}
	m, err := mmap.Map(r.file, mmap.RDONLY, 0)
	if err != nil {
		return errors.NewReaderError("mmap", r.path, err)
	}
	r.data = m
	r.size = int64(len(m))
	return nil
}

// appendSparseFromMmap rescans only from the last sparse anchor forward,
// so the common growth case costs O(new bytes) rather than O(file size).
func (r *Reader) appendSparseFromMmap(newSize int64) error {
	data := []byte(r.data)
	var lastLine int
	var start int
	if len(r.sparse) > 0 {
		last := r.sparse[len(r.sparse)-1]
		lastLine = last.line
		start = int(last.offset)
	}
	r.sparse = r.sparseBeforeAnchor(lastLine)

	lineNo := lastLine
	for start < len(data) {
		if lineNo%r.interval == 0 && !containsLine(r.sparse, lineNo) {
			r.sparse = append(r.sparse, sparseEntry{line: lineNo, offset: int64(start)})
		}
		i := bytes.IndexByte(data[start:], '\n')
		if i < 0 {
			r.trailing = true
			lineNo++
			break
		}
		start += i + 1
		lineNo++
		r.trailing = false
	}
	r.totalLines = lineNo
	r.size = newSize
	return nil
}

// sparseBeforeAnchor returns the subset of the current sparse index strictly
// before the entry at line `through` (exclusive of the anchor itself, which
// is re-added by the caller's loop if it still lands on a sample boundary).
func (r *Reader) sparseBeforeAnchor(through int) []sparseEntry {
	out := make([]sparseEntry, 0, len(r.sparse))
	for _, e := range r.sparse {
		if e.line < through {
			out = append(out, e)
		}
	}
	return out
}

func containsLine(entries []sparseEntry, line int) bool {
	for _, e := range entries {
		if e.line == line {
			return true
		}
	}
	return false
}

func (r *Reader) appendSparseBuffered(newSize int64) error {
	var lastLine int
	var lastOffset int64
	if len(r.sparse) > 0 {
		last := r.sparse[len(r.sparse)-1]
		lastLine = last.line
		lastOffset = last.offset
	}
	r.sparse = r.sparseBeforeAnchor(lastLine)

	if _, err := r.file.Seek(lastOffset, 0); err != nil {
		return errors.NewReaderError("seek", r.path, err)
	}
	br := bufio.NewReaderSize(r.file, 64*1024)
	lineNo := lastLine
	offset := lastOffset
	for {
		if lineNo%r.interval == 0 && !containsLine(r.sparse, lineNo) {
			r.sparse = append(r.sparse, sparseEntry{line: lineNo, offset: offset})
		}
		chunk, err := br.ReadBytes('\n')
		offset += int64(len(chunk))
		if len(chunk) > 0 && chunk[len(chunk)-1] == '\n' {
			lineNo++
			r.trailing = false
		} else if len(chunk) > 0 {
			r.trailing = true
			lineNo++
		}
		if err != nil {
			break
		}
	}
	r.totalLines = lineNo
	r.size = newSize
	return nil
}

// rebuildLocked handles truncation: a shrink, or a same-size prefix change
// Reload's own prefixHash comparison caught. Either way the sparse index
// is stale and must be rebuilt from a fresh mapping.
func (r *Reader) rebuildLocked(newSize int64) error {
	debug.LogReader("reload: %s truncated %d -> %d, rebuilding", r.path, r.size, newSize)

	if r.mmapped {
		if r.data != nil {
			r.data.Unmap()
			r.data = nil
			r.mmapped = false
		}
	}
	if err := r.mapOrFallback(); err != nil {
		return err
	}
	if err := r.buildSparseIndex(); err != nil {
		return err
	}
	r.prefixHash = r.computePrefixHash()
	return nil
}

// Close releases the mapping and file handle.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Reader) closeLocked() error {
	if r.closed {
		return nil
	}
	r.closed = true
	var errs []error
	if r.data != nil {
		if err := r.data.Unmap(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.NewMultiError(errs)
	}
	return nil
}

// Path returns the underlying file path.
func (r *Reader) Path() string { return r.path }

// Size returns the file size observed as of the last Open/Reload.
func (r *Reader) Size() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

var _ fmt.Stringer = (*Reader)(nil)

// String implements fmt.Stringer for debug logging.
func (r *Reader) String() string {
	return fmt.Sprintf("reader(%s, lines=%d)", r.path, r.totalLines)
}
