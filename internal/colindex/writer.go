package colindex

import (
	"bufio"
	"encoding/binary"
	"os"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/standardbeagle/lazytail/internal/config"
	"github.com/standardbeagle/lazytail/internal/debug"
	"github.com/standardbeagle/lazytail/internal/errors"
	"github.com/standardbeagle/lazytail/internal/logline"
)

// column wraps one append-only column file with a buffered writer so many
// small fixed-width appends are batched into few syscalls (spec 4.2.3:
// "issuing batched writes... to amortise I/O").
type column struct {
	file *os.File
	buf  *bufio.Writer
}

func openColumn(dir, name string) (*column, error) {
	f, err := os.OpenFile(dir+string(os.PathSeparator)+name, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.NewIndexError(errors.KindTransientIO, "open-column", name, err)
	}
	return &column{file: f, buf: bufio.NewWriterSize(f, 64*1024)}, nil
}

func (c *column) flush() error {
	return c.buf.Flush()
}

func (c *column) close() error {
	if err := c.buf.Flush(); err != nil {
		return err
	}
	return c.file.Close()
}

// Writer builds a columnar index incrementally, one line at a time, used
// both by the inline capture tee and by the bulk builder's line loop.
type Writer struct {
	mu sync.Mutex

	dir  string
	lock *buildLock

	tunables config.Tunables

	offsets   *column
	lengths   *column
	flagsCol  *column
	timeCol   *column

	entryCount       uint64
	logFileSize      uint64
	sinceFlush       int
	hasher           *xxhash.Digest
	severityCounts   [numSeverities]uint32
	lastCheckpointAt uint64
}

// CreateWriter creates (or truncates) an index directory at dir: it
// empties the four column files and the checkpoints file, and opens the
// four columns, ready to append from line 0.
// Acquires build.lock for the writer's lifetime.
func CreateWriter(dir string, tunables config.Tunables) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.NewIndexError(errors.KindTransientIO, "mkdir", dir, err)
	}
	lock, err := acquireBuildLock(dir)
	if err != nil {
		return nil, err
	}

	w := &Writer{dir: dir, lock: lock, tunables: tunables, hasher: xxhash.New()}

	for _, name := range []string{FileOffsets, FileLengths, FileFlags, FileTime, FileCheckpoints} {
		if err := os.Truncate(dir+string(os.PathSeparator)+name, 0); err != nil && !os.IsNotExist(err) {
			lock.release()
			return nil, errors.NewIndexError(errors.KindTransientIO, "truncate", name, err)
		}
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

	if err := w.writeMeta(); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// AppendLine records one line's columns. offset and length describe the
// line's bytes within the source file (excluding its terminating LF);
// lineBytes is used both for flag detection and to extend the running
// content hash, matching the checkpoint's "hash over all log bytes written
// so far" definition.
func (w *Writer) AppendLine(offset uint64, lineBytes []byte, atMs int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	flags := logline.DetectFlags(lineBytes)
	length := uint32(len(lineBytes))

	if err := writeU64(w.offsets, offset); err != nil {
		return err
	}
	if err := writeU32(w.lengths, length); err != nil {
		return err
	}
	if err := writeU32(w.flagsCol, flags); err != nil {
		return err
	}
	if err := writeU64(w.timeCol, uint64(atMs)); err != nil {
		return err
	}

	w.hasher.Write(lineBytes)
	w.hasher.Write([]byte{'\n'})
	w.severityCounts[logline.SeverityOf(flags)]++
	w.entryCount++
	w.logFileSize = offset + uint64(length) + 1
	w.sinceFlush++

	checkpointEvery := uint64(w.tunables.CheckpointIntervalLines())
	if checkpointEvery > 0 && w.entryCount%checkpointEvery == 0 {
		if err := w.writeCheckpoint(); err != nil {
			return err
		}
	}

	if w.sinceFlush >= w.tunables.ColumnBatchSize {
		return w.flushLocked()
	}
	return nil
}

func writeU64(c *column, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := c.buf.Write(b[:])
	return err
}

func writeU32(c *column, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := c.buf.Write(b[:])
	return err
}

// writeCheckpoint appends a checkpoint record for the current entryCount.
func (w *Writer) writeCheckpoint() error {
	cp := Checkpoint{
		LineNo:           w.entryCount,
		ByteOffset:       w.logFileSize,
		ContentHash:      w.hasher.Sum64(),
		WriteTimestampMs: uint64(time.Now().UnixMilli()),
		SeverityCounts:   w.severityCounts,
	}
	buf, _ := cp.MarshalBinary()
	f, err := os.OpenFile(w.dir+string(os.PathSeparator)+FileCheckpoints, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.NewIndexError(errors.KindTransientIO, "checkpoint-open", w.dir, err)
	}
	defer f.Close()
	if _, err := f.Write(buf); err != nil {
		return errors.NewIndexError(errors.KindTransientIO, "checkpoint-write", w.dir, err)
	}
	w.lastCheckpointAt = w.entryCount
	debug.LogIndex("wrote checkpoint at line %d (hash=%x)", w.entryCount, cp.ContentHash)
	return nil
}

// Flush flushes buffered column bytes to the OS and then updates meta as
// the commit barrier (invariant 2: entry_count updated after data flush).
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	for _, c := range []*column{w.offsets, w.lengths, w.flagsCol, w.timeCol} {
		if err := c.flush(); err != nil {
			return errors.NewIndexError(errors.KindTransientIO, "flush", w.dir, err)
		}
	}
	w.sinceFlush = 0
	return w.writeMeta()
}

func (w *Writer) writeMeta() error {
	m := Meta{
		CheckpointIntervalK: uint32(w.tunables.CheckpointIntervalK),
		EntryCount:          w.entryCount,
		LogFileSize:         w.logFileSize,
		ColumnsPresent:      ColOffsets | ColLengths | ColFlags | ColTime,
		FlagsSchemaVersion:  1,
	}
	buf, _ := m.MarshalBinary()
	return os.WriteFile(w.dir+string(os.PathSeparator)+FileMeta, buf, 0644)
}

// EntryCount returns the number of lines committed so far (including
// buffered-but-not-yet-flushed lines, i.e. the writer's own view).
func (w *Writer) EntryCount() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.entryCount
}

// Close flushes and releases the build lock.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	if err := w.flushLocked(); err != nil {
		errs = append(errs, err)
	}
	for _, c := range []*column{w.offsets, w.lengths, w.flagsCol, w.timeCol} {
		if c != nil {
			if err := c.close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := w.lock.release(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.NewMultiError(errs)
}
