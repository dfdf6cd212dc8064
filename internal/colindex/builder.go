package colindex

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"

	"github.com/standardbeagle/lazytail/internal/cancel"
	"github.com/standardbeagle/lazytail/internal/config"
	"github.com/standardbeagle/lazytail/internal/debug"
	"github.com/standardbeagle/lazytail/internal/errors"
)

// nowEpochMs returns the current wall-clock time in epoch milliseconds.
// The time column records write-time, not log-content time (see DESIGN.md's
// "time column semantic" decision), so bulk builds - which have no write
// event of their own - leave it at a single build-time stamp per run.
func nowEpochMs() int64 { return time.Now().UnixMilli() }

// lineReader reads LF-delimited lines from a plain io.Reader, reporting
// whether each line was LF-terminated, for the buffered-I/O fallback path
// (pipes, network filesystems where mmap fails).
type lineReader struct {
	br *bufio.Reader
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{br: bufio.NewReaderSize(r, 64*1024)}
}

func (lr *lineReader) readLine() ([]byte, bool, error) {
	chunk, err := lr.br.ReadBytes('\n')
	if len(chunk) == 0 {
		return nil, false, err
	}
	if chunk[len(chunk)-1] == '\n' {
		return chunk[:len(chunk)-1], true, err
	}
	return chunk, false, err
}

// BuildBulk performs a full bulk build of the index for an existing log
// file (spec 4.2.3, "Bulk (existing file)"). It acquires build.lock for the
// duration, mmaps the log, walks LF boundaries, and appends every line to
// the four columns plus periodic checkpoints. Cancellable via tok; a
// cancelled build leaves a partial, still-internally-consistent index
// (entry_count only advances on Flush) that a later call can extend.
func BuildBulk(logPath string, tunables config.Tunables, tok *cancel.Token) error {
	dir := DirFor(logPath)
	w, err := CreateWriter(dir, tunables)
	if err != nil {
		return err
	}
	defer w.Close()

	return scanAndAppend(w, logPath, 0, tunables, tok)
}

// BuildIncremental extends an existing index after the log has grown,
// verifying the last checkpoint's content hash still matches bytes
// [0, checkpoint.byte_offset) before trusting the existing columns (spec
// 4.2.3, "Incremental update"). On mismatch it falls back to a full bulk
// rebuild.
func BuildIncremental(logPath string, tunables config.Tunables, tok *cancel.Token) error {
	dir := DirFor(logPath)

	r, err := Open(dir)
	if err != nil {
		// No usable existing index; build from scratch.
		return BuildBulk(logPath, tunables, tok)
	}
	valid, resumeOffset := verifyLastCheckpoint(logPath, r)
	r.Close()
	if !valid {
		debug.LogIndex("incremental build: checkpoint hash mismatch for %s, falling back to bulk rebuild", logPath)
		return BuildBulk(logPath, tunables, tok)
	}

	w, err := OpenWriterForAppend(dir, tunables)
	if err != nil {
		return err
	}
	defer w.Close()

	return scanAndAppend(w, logPath, resumeOffset, tunables, tok)
}

// BuildPartialRebuild scans checkpoints newest-to-oldest, finds the first
// whose content hash still matches, truncates the columns to that
// checkpoint's entry_count, and rebuilds forward from there (spec 4.2.3,
// "Partial rebuild"). Used when growth verification fails but some prefix
// of the index is still trustworthy (e.g. the log was rotated-in-place
// with a shared prefix).
func BuildPartialRebuild(logPath string, tunables config.Tunables, tok *cancel.Token) error {
	dir := DirFor(logPath)
	r, err := Open(dir)
	if err != nil {
		return BuildBulk(logPath, tunables, tok)
	}
	checkpoints := r.Checkpoints()
	r.Close()

	for i := len(checkpoints) - 1; i >= 0; i-- {
		cp := checkpoints[i]
		if checkpointMatches(logPath, cp) {
			if err := truncateColumnsTo(dir, cp); err != nil {
				return err
			}
			w, err := OpenWriterForAppend(dir, tunables)
			if err != nil {
				return err
			}
			defer w.Close()
			return scanAndAppend(w, logPath, int64(cp.ByteOffset), tunables, tok)
		}
	}
	return BuildBulk(logPath, tunables, tok)
}

// OpenWriterForAppend reopens an existing index directory's columns in
// append mode, restoring the writer's running counters from meta and the
// last checkpoint so new AppendLine calls continue the sequence correctly.
func OpenWriterForAppend(dir string, tunables config.Tunables) (*Writer, error) {
	metaBytes, err := os.ReadFile(dir + string(os.PathSeparator) + FileMeta)
	if err != nil {
		return nil, errors.NewIndexError(errors.KindTransientIO, "read-meta", dir, err)
	}
	var meta Meta
	if err := meta.UnmarshalBinary(metaBytes); err != nil {
		return nil, errors.NewIndexError(errors.KindStateInconsist, "parse-meta", dir, err)
	}

	lock, err := acquireBuildLock(dir)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		dir:         dir,
		lock:        lock,
		tunables:    tunables,
		hasher:      xxhash.New(),
		entryCount:  meta.EntryCount,
		logFileSize: meta.LogFileSize,
	}

	checkpoints, err := loadCheckpointsOwned(dir)
	if err != nil {
		lock.release()
		return nil, err
	}
	if n := len(checkpoints); n > 0 {
		last := checkpoints[n-1]
		w.severityCounts = last.SeverityCounts
		w.lastCheckpointAt = last.LineNo
	}

	if w.offsets, err = openColumn(dir, FileOffsets); err != nil {
		lock.release()
		return nil, err
	}
	if w.lengths, err = openColumn(dir, FileLengths); err != nil {
		lock.release()
		return nil, err
	}
	if w.flagsCol, err = openColumn(dir, FileFlags); err != nil {
		lock.release()
		return nil, err
	}
	if w.timeCol, err = openColumn(dir, FileTime); err != nil {
		lock.release()
		return nil, err
	}
	return w, nil
}

// scanAndAppend mmaps logPath, walks LF boundaries using bytes.IndexByte
// (the corpus's SIMD byte-scan idiom; see DESIGN.md), starting at
// startOffset, and appends every discovered line to w. Polls tok every
// CancelPollLines lines.
func scanAndAppend(w *Writer, logPath string, startOffset int64, tunables config.Tunables, tok *cancel.Token) error {
	f, err := os.Open(logPath)
	if err != nil {
		return errors.NewIndexError(errors.KindTransientIO, "open-log", logPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.NewIndexError(errors.KindTransientIO, "stat-log", logPath, err)
	}
	if info.Size() == 0 {
		return w.Flush()
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return scanAndAppendBuffered(w, f, startOffset, tunables, tok)
	}
	defer data.Unmap()

	pollEvery := tunables.CancelPollLines
	if pollEvery <= 0 {
		pollEvery = 10_000
	}

	start := int(startOffset)
	lineNo := 0
	nowMs := nowEpochMs()
	for start < len(data) {
		if tok != nil && lineNo%pollEvery == 0 && tok.Cancelled() {
			return w.Flush()
		}
		i := bytes.IndexByte(data[start:], '\n')
		if i < 0 {
			break // trailing partial line, not yet terminated; wait for next growth event
		}
		line := data[start : start+i]
		if err := w.AppendLine(uint64(start), line, nowMs); err != nil {
			return err
		}
		start += i + 1
		lineNo++
	}
	return w.Flush()
}

// scanAndAppendBuffered is the non-mmap fallback for special files.
func scanAndAppendBuffered(w *Writer, f *os.File, startOffset int64, tunables config.Tunables, tok *cancel.Token) error {
	if _, err := f.Seek(startOffset, 0); err != nil {
		return errors.NewReaderError("seek", f.Name(), err)
	}
	br := newLineReader(f)
	offset := startOffset
	lineNo := 0
	pollEvery := tunables.CancelPollLines
	if pollEvery <= 0 {
		pollEvery = 10_000
	}
	nowMs := nowEpochMs()
	for {
		if tok != nil && lineNo%pollEvery == 0 && tok.Cancelled() {
			return w.Flush()
		}
		line, terminated, err := br.readLine()
		if terminated {
			if err2 := w.AppendLine(uint64(offset), line, nowMs); err2 != nil {
				return err2
			}
			offset += int64(len(line)) + 1
			lineNo++
		}
		if err != nil {
			break
		}
	}
	return w.Flush()
}

// verifyLastCheckpoint checks the newest checkpoint's content hash against
// bytes [0, checkpoint.byte_offset) of logPath. Returns the byte offset to
// resume scanning from when valid.
func verifyLastCheckpoint(logPath string, r *Reader) (bool, int64) {
	checkpoints := r.Checkpoints()
	if len(checkpoints) == 0 {
		return true, int64(r.meta.LogFileSize)
	}
	last := checkpoints[len(checkpoints)-1]
	if checkpointMatches(logPath, last) {
		return true, int64(r.meta.LogFileSize)
	}
	return false, 0
}

// checkpointMatches recomputes the hash of bytes [0, cp.ByteOffset) of
// logPath and compares it against cp.ContentHash.
func checkpointMatches(logPath string, cp Checkpoint) bool {
	f, err := os.Open(logPath)
	if err != nil {
		return false
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := f.Seek(0, 0); err != nil {
		return false
	}
	if _, err := io.CopyN(h, f, int64(cp.ByteOffset)); err != nil {
		return false
	}
	return h.Sum64() == cp.ContentHash
}

// truncateColumnsTo shrinks every column file to the byte length implied by
// cp.LineNo and rewrites meta.entry_count to match, discarding any
// checkpoints newer than cp.
func truncateColumnsTo(dir string, cp Checkpoint) error {
	widths := map[string]int{
		FileOffsets: WidthOffsets,
		FileLengths: WidthLengths,
		FileFlags:   WidthFlags,
		FileTime:    WidthTime,
	}
	for name, width := range widths {
		path := dir + string(os.PathSeparator) + name
		if err := os.Truncate(path, int64(cp.LineNo)*int64(width)); err != nil && !os.IsNotExist(err) {
			return errors.NewIndexError(errors.KindStateInconsist, "truncate-column", path, err)
		}
	}

	checkpoints, err := loadCheckpointsOwned(dir)
	if err != nil {
		return err
	}
	keep := checkpoints[:0]
	for _, existing := range checkpoints {
		if existing.LineNo <= cp.LineNo {
			keep = append(keep, existing)
		}
	}
	buf := make([]byte, 0, len(keep)*CheckpointSize)
	for _, existing := range keep {
		b, _ := existing.MarshalBinary()
		buf = append(buf, b...)
	}
	if err := os.WriteFile(dir+string(os.PathSeparator)+FileCheckpoints, buf, 0644); err != nil {
		return errors.NewIndexError(errors.KindTransientIO, "rewrite-checkpoints", dir, err)
	}

	meta := Meta{
		CheckpointIntervalK: 0,
		EntryCount:          cp.LineNo,
		LogFileSize:         cp.ByteOffset,
		ColumnsPresent:      ColOffsets | ColLengths | ColFlags | ColTime,
		FlagsSchemaVersion:  1,
	}
	metaBytes, err := os.ReadFile(dir + string(os.PathSeparator) + FileMeta)
	if err == nil {
		var existing Meta
		if existing.UnmarshalBinary(metaBytes) == nil {
			meta.CheckpointIntervalK = existing.CheckpointIntervalK
		}
	}
	b, _ := meta.MarshalBinary()
	return os.WriteFile(dir+string(os.PathSeparator)+FileMeta, b, 0644)
}
