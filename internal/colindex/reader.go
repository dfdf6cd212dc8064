package colindex

import (
	"encoding/binary"
	"os"

	"github.com/bits-and-blooms/bitset"
	"github.com/edsrzf/mmap-go"

	"github.com/standardbeagle/lazytail/internal/errors"
	"github.com/standardbeagle/lazytail/internal/logline"
)

// Reader opens an existing index directory for read access. Per spec 4.2.4,
// offsets and lengths stay memory-mapped (append-only usage is safe to
// read concurrently with a writer), while the flags column and the
// checkpoints are copied into owned memory at open time so a concurrent
// writer truncating or rotating a column file cannot deliver SIGBUS to a
// reader mid-scan.
type Reader struct {
	dir  string
	meta Meta

	offsetsFile *os.File
	offsets     mmap.MMap
	lengthsFile *os.File
	lengths     mmap.MMap

	flags       []uint32
	checkpoints []Checkpoint
}

// Open validates meta and maps/loads the present columns.
func Open(dir string) (*Reader, error) {
	metaBytes, err := os.ReadFile(dir + string(os.PathSeparator) + FileMeta)
	if err != nil {
		return nil, errors.NewIndexError(errors.KindTransientIO, "read-meta", dir, err)
	}
	var meta Meta
	if err := meta.UnmarshalBinary(metaBytes); err != nil {
		return nil, errors.NewIndexError(errors.KindStateInconsist, "parse-meta", dir, err)
	}

	r := &Reader{dir: dir, meta: meta}

	if meta.HasColumn(ColOffsets) {
		f, m, err := mapColumnFile(dir, FileOffsets, int(meta.EntryCount)*WidthOffsets)
		if err != nil {
			return nil, err
		}
		r.offsetsFile, r.offsets = f, m
	}
	if meta.HasColumn(ColLengths) {
		f, m, err := mapColumnFile(dir, FileLengths, int(meta.EntryCount)*WidthLengths)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.lengthsFile, r.lengths = f, m
	}
	if meta.HasColumn(ColFlags) {
		flags, err := loadFlagsOwned(dir, int(meta.EntryCount))
		if err != nil {
			r.Close()
			return nil, err
		}
		r.flags = flags
	}

	checkpoints, err := loadCheckpointsOwned(dir)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.checkpoints = checkpoints

	return r, nil
}

func mapColumnFile(dir, name string, maxBytes int) (*os.File, mmap.MMap, error) {
	path := dir + string(os.PathSeparator) + name
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.NewIndexError(errors.KindTransientIO, "open-column", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, errors.NewIndexError(errors.KindTransientIO, "stat-column", path, err)
	}
	if info.Size() == 0 || maxBytes == 0 {
		f.Close()
		return nil, nil, nil
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, nil, errors.NewIndexError(errors.KindTransientIO, "mmap-column", path, err)
	}
	return f, m, nil
}

func loadFlagsOwned(dir string, entryCount int) ([]uint32, error) {
	path := dir + string(os.PathSeparator) + FileFlags
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewIndexError(errors.KindTransientIO, "read-flags", path, err)
	}
	n := entryCount
	if avail := len(raw) / WidthFlags; avail < n {
		n = avail
	}
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = binary.LittleEndian.Uint32(raw[i*WidthFlags : (i+1)*WidthFlags])
	}
	return out, nil
}

func loadCheckpointsOwned(dir string) ([]Checkpoint, error) {
	path := dir + string(os.PathSeparator) + FileCheckpoints
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewIndexError(errors.KindTransientIO, "read-checkpoints", path, err)
	}
	return decodeCheckpoints(raw)
}

// EntryCount is the number of lines this index covers, snapshotted at open
// (satisfies reader.OffsetAccelerator).
func (r *Reader) EntryCount() int { return int(r.meta.EntryCount) }

// Len is a synonym for EntryCount matching the spec's naming.
func (r *Reader) Len() int { return r.EntryCount() }

// Offset returns the byte offset of line, if covered by this index
// (satisfies reader.OffsetAccelerator).
func (r *Reader) Offset(line int) (uint64, bool) {
	if line < 0 || line >= r.EntryCount() || r.offsets == nil {
		return 0, false
	}
	off := line * WidthOffsets
	if off+WidthOffsets > len(r.offsets) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(r.offsets[off : off+WidthOffsets]), true
}

// Length returns the byte length of line, if covered by this index.
func (r *Reader) Length(line int) (uint32, bool) {
	if line < 0 || line >= r.EntryCount() || r.lengths == nil {
		return 0, false
	}
	off := line * WidthLengths
	if off+WidthLengths > len(r.lengths) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(r.lengths[off : off+WidthLengths]), true
}

// Flags returns the raw flags word for line.
func (r *Reader) Flags(line int) uint32 {
	if line < 0 || line >= len(r.flags) {
		return 0
	}
	return r.flags[line]
}

// Severity returns the severity rank for line.
func (r *Reader) Severity(line int) logline.Severity {
	return logline.SeverityOf(r.Flags(line))
}

// Checkpoints returns the owned checkpoint slice in ascending line_no order.
func (r *Reader) Checkpoints() []Checkpoint { return r.checkpoints }

// CandidateBitmap returns the set of line numbers where
// (flags[i] & mask) == want, scanning the dense owned flags array.
func (r *Reader) CandidateBitmap(mask, want uint32) *bitset.BitSet {
	bs := bitset.New(uint(len(r.flags)))
	for i, f := range r.flags {
		if f&mask == want {
			bs.Set(uint(i))
		}
	}
	return bs
}

// ScanFlags returns the line numbers for which predicate(flags) is true, in
// ascending order.
func (r *Reader) ScanFlags(predicate func(uint32) bool) []int {
	var out []int
	for i, f := range r.flags {
		if predicate(f) {
			out = append(out, i)
		}
	}
	return out
}

// Close unmaps columns and closes file handles. Owned (copied) data remains
// valid after Close.
func (r *Reader) Close() error {
	var errs []error
	if r.offsets != nil {
		if err := r.offsets.Unmap(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.offsetsFile != nil {
		if err := r.offsetsFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.lengths != nil {
		if err := r.lengths.Unmap(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.lengthsFile != nil {
		if err := r.lengthsFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.NewMultiError(errs)
}
