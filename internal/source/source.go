// Package source implements the per-source state bundle (component C4):
// the struct a coordinator holds per open file/stream, plus the pure
// state-mutating operations spec 4.4 assigns to it. No I/O beyond what the
// embedded reader/index/filter packages already do; the coordinator (C5)
// is the only caller that drives these methods from real events.
package source

import (
	"os"
	"sort"
	"time"

	"github.com/standardbeagle/lazytail/internal/cancel"
	"github.com/standardbeagle/lazytail/internal/colindex"
	"github.com/standardbeagle/lazytail/internal/config"
	"github.com/standardbeagle/lazytail/internal/debug"
	"github.com/standardbeagle/lazytail/internal/errors"
	"github.com/standardbeagle/lazytail/internal/filter"
	"github.com/standardbeagle/lazytail/internal/reader"
)

// Mode mirrors spec 4.4's mode ∈ {Normal, Filtered, Aggregated}.
type Mode int

const (
	ModeNormal Mode = iota
	ModeFiltered
	ModeAggregated
)

// Status is the most recent file-watcher-derived health of a file-backed
// source (spec 4.5.5).
type Status int

const (
	StatusOK Status = iota
	StatusTruncated
	StatusLost
)

func (st Status) String() string {
	switch st {
	case StatusTruncated:
		return "truncated"
	case StatusLost:
		return "lost"
	default:
		return "ok"
	}
}

// FilterState is the per-source filter lifecycle state from spec 4.3.7.
type FilterState int

const (
	FilterIdle FilterState = iota
	FilterPending
	FilterRunning
	FilterCompleted
	FilterCancelled
	FilterFailed
)

// Source bundles everything the coordinator and renderer need for one open
// file or stream (spec 4.4).
type Source struct {
	Name       string
	SourcePath string // empty for stream sources
	Mode       Mode

	TotalLines int
	MatchSet   []int // ascending line numbers; meaningful only in ModeFiltered

	FollowMode bool

	Reader       *reader.Reader
	FilterConfig *filter.Filter
	IndexReader  *colindex.Reader
	IndexDir     string // where the columnar index is opened from; a lazy background build writes to colindex.DirFor(SourcePath), which equals IndexDir only for sources made by New

	SourceStatus Status
	FileSize     int64

	FilterState           FilterState
	PendingFilterDeadline time.Time
	PendingPattern        string // raw filter-input text accumulated since EnterFilterInput
	FilterCancel          *cancel.Token // the active filter worker's cancel token, if Running
	LastFilterErr         error         // most recent invalid-input error, for status display; cleared on success

	// AnchorLine is the file line number currently under the viewport
	// cursor, in every Mode: MergePartial compares match line numbers
	// against it and ResolveAnchor sets it to a MatchSet entry, not to an
	// index into MatchSet.
	AnchorLine int
	// OriginLine is AnchorLine captured on entering filter-input mode, so
	// Escape/clear can restore the viewport exactly (spec 4.4, "Filter
	// origin").
	OriginLine int

	lastFilteredThrough int // highest lines_processed seen by MergePartial

	streamFile *os.File // non-nil only for stream sources; stdin tee target
}

// New opens a file-backed source: the sparse-indexed reader, an optional
// columnar index (best-effort — its absence is not an error), and records
// the file's size (spec 4.4, "new(path)"). The index directory is derived
// from path by colindex.DirFor's dotted-sibling convention — the right
// default for an arbitrary file opened directly (CLI positional arg,
// discovery), which has no "name" of its own to key a managed directory
// tree by.
func New(name, path string, tunables config.Tunables) (*Source, error) {
	return newFileSource(name, path, colindex.DirFor(path), tunables)
}

// NewWithIndexDir opens a file-backed source the same way New does, but
// looks for its columnar index at an explicit directory instead of
// colindex.DirFor(path). Capture-managed sources use this: their index
// lives at the well-defined `.lazytail/idx/<name>/` location spec section 6
// names, which is independent of where `.lazytail/data/<name>.log` sits.
func NewWithIndexDir(name, path, indexDir string, tunables config.Tunables) (*Source, error) {
	return newFileSource(name, path, indexDir, tunables)
}

func newFileSource(name, path, indexDir string, tunables config.Tunables) (*Source, error) {
	r, err := reader.Open(path, tunables)
	if err != nil {
		return nil, err
	}

	info, statErr := os.Stat(path)
	var size int64
	if statErr == nil {
		size = info.Size()
	}

	s := &Source{
		Name:       name,
		SourcePath: path,
		Mode:       ModeNormal,
		Reader:     r,
		FileSize:   size,
		TotalLines: r.TotalLines(),
		IndexDir:   indexDir,
	}

	if idx, err := colindex.Open(indexDir); err == nil {
		s.IndexReader = idx
		r.SetAccelerator(idx)
		debug.LogFilter("source %s: columnar index present (%d entries)", name, idx.EntryCount())
	} else {
		debug.LogFilter("source %s: no columnar index (%v), lazy build required", name, err)
	}

	return s, nil
}

// AttachIndex wires a columnar index reader built after New returned — the
// lazy/on-demand build path spec section 2 requires for pre-existing files
// opened without one (spec 4.2.3, "Bulk (existing file)"). The coordinator
// calls this once a background colindex.BuildBulk completes.
func (s *Source) AttachIndex(idx *colindex.Reader) {
	s.IndexReader = idx
	s.Reader.SetAccelerator(idx)
}

// NewStream opens a stream source backed by a private temp file: stdin's
// tee goroutine appends raw bytes to it and calls AppendStreamBytes, while
// reads go through the ordinary sparse-indexed Reader — the same "shared
// mutable reader without data races" design reader.Reader documents for
// stream-appended sources, rather than a bespoke in-memory line buffer.
func NewStream(name string, tunables config.Tunables) (*Source, error) {
	f, err := os.CreateTemp("", "lazytail-stream-*.log")
	if err != nil {
		return nil, errors.NewReaderError("create-temp", name, err)
	}

	r, err := reader.Open(f.Name(), tunables)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}

	return &Source{
		Name:       name,
		Mode:       ModeNormal,
		FollowMode: true,
		Reader:     r,
		streamFile: f,
	}, nil
}

// AppendStreamBytes writes newly read stdin bytes to the stream's backing
// file and reloads the reader, per spec 4.5.6. It is a no-op (returns an
// error) on a file-backed source.
func (s *Source) AppendStreamBytes(b []byte) error {
	if s.streamFile == nil {
		return errors.NewReaderError("append-stream", s.Name, os.ErrInvalid)
	}
	if _, err := s.streamFile.Write(b); err != nil {
		return errors.NewReaderError("write-stream", s.Name, err)
	}
	if err := s.Reader.Reload(); err != nil {
		return err
	}
	s.TotalLines = s.Reader.TotalLines()
	return nil
}

// CloseStream releases the stream's backing temp file. Called on
// StreamClosed.
func (s *Source) CloseStream() error {
	if s.streamFile == nil {
		return nil
	}
	name := s.streamFile.Name()
	err := s.streamFile.Close()
	os.Remove(name)
	s.streamFile = nil
	return err
}

// Close releases the source's reader and index.
func (s *Source) Close() error {
	var errs []error
	if s.streamFile != nil {
		if err := s.CloseStream(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.IndexReader != nil {
		if err := s.IndexReader.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Reader != nil {
		if err := s.Reader.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.NewMultiError(errs)
}

// TotalDisplayLines is match_set.len() when Filtered, else total_lines
// (spec 4.4).
func (s *Source) TotalDisplayLines() int {
	if s.Mode == ModeFiltered {
		return len(s.MatchSet)
	}
	return s.TotalLines
}

// LineAtDisplay maps a viewport row to an underlying file line number:
// identity in Normal/Aggregated, match_set[i] in Filtered.
func (s *Source) LineAtDisplay(i int) (int, bool) {
	if s.Mode != ModeFiltered {
		if i < 0 || i >= s.TotalLines {
			return 0, false
		}
		return i, true
	}
	if i < 0 || i >= len(s.MatchSet) {
		return 0, false
	}
	return s.MatchSet[i], true
}

// EnterFilterInput saves the current anchor as origin_line, per spec 4.4's
// "Filter origin".
func (s *Source) EnterFilterInput() {
	s.OriginLine = s.AnchorLine
	s.FilterState = FilterIdle
	s.PendingPattern = ""
	s.LastFilterErr = nil
}

// CancelFilterInput restores the anchor from origin_line and clears filter
// state, per the Escape transition in spec 4.3.7/4.5.4.
func (s *Source) CancelFilterInput() {
	if s.FilterCancel != nil {
		s.FilterCancel.Cancel()
		s.FilterCancel = nil
	}
	s.AnchorLine = s.OriginLine
	s.FilterState = FilterCancelled
	s.Mode = ModeNormal
	s.MatchSet = nil
	s.lastFilteredThrough = 0
	s.PendingPattern = ""
	s.LastFilterErr = nil
}

// BeginPending transitions Idle/Running -> Pending on a pattern edit,
// pushing the debounce deadline forward and recording the in-progress
// pattern text (spec 4.5.4). pattern is the full current contents of the
// filter-input buffer, not a delta — callers that only see per-keystroke
// deltas must accumulate before calling this.
func (s *Source) BeginPending(now time.Time, debounce time.Duration, pattern string) {
	s.FilterState = FilterPending
	s.PendingFilterDeadline = now.Add(debounce)
	s.PendingPattern = pattern
}

// BeginRunning transitions Pending -> Running once the debounce deadline
// has elapsed or Enter bypassed it, and resets the running match state.
// It returns the fresh cancel token the caller must pass to the search
// engine, after cancelling whatever token was previously active.
func (s *Source) BeginRunning(cfg filter.Filter) *cancel.Token {
	if s.FilterCancel != nil {
		s.FilterCancel.Cancel()
	}
	tok := cancel.New()
	s.FilterCancel = tok
	s.FilterConfig = &cfg
	s.FilterState = FilterRunning
	s.Mode = ModeFiltered
	s.MatchSet = nil
	s.lastFilteredThrough = 0
	s.LastFilterErr = nil
	return tok
}

// MergePartial merges a new ascending batch of matches into MatchSet,
// preserving ascending order with a defensive two-pointer merge (matches
// are expected non-overlapping and already ascending, but a worker
// delivering an overlapping batch — e.g. after a reload races a partial —
// must not corrupt the set). It returns how many of the newly merged
// matches land strictly before the current anchor, so the coordinator can
// adjust the viewport to keep the anchor visually stable (spec 4.4).
func (s *Source) MergePartial(batch []int, linesProcessed int) int {
	if linesProcessed > s.lastFilteredThrough {
		s.lastFilteredThrough = linesProcessed
	}
	if len(batch) == 0 {
		return 0
	}

	merged := make([]int, 0, len(s.MatchSet)+len(batch))
	i, j := 0, 0
	prepend := 0
	for i < len(s.MatchSet) && j < len(batch) {
		switch {
		case s.MatchSet[i] < batch[j]:
			merged = append(merged, s.MatchSet[i])
			i++
		case s.MatchSet[i] > batch[j]:
			if batch[j] < s.AnchorLine {
				prepend++
			}
			merged = append(merged, batch[j])
			j++
		default: // equal: defensive dedup
			merged = append(merged, s.MatchSet[i])
			i++
			j++
		}
	}
	for ; i < len(s.MatchSet); i++ {
		merged = append(merged, s.MatchSet[i])
	}
	for ; j < len(batch); j++ {
		if batch[j] < s.AnchorLine {
			prepend++
		}
		merged = append(merged, batch[j])
	}

	s.MatchSet = merged
	return prepend
}

// CompleteFilter folds the terminal batch into MatchSet and transitions to
// Completed, then re-resolves the anchor in the new coordinate space.
func (s *Source) CompleteFilter(finalBatch []int, totalLinesProcessed int) {
	s.MergePartial(finalBatch, totalLinesProcessed)
	s.FilterState = FilterCompleted
	s.ResolveAnchor()
}

// FailFilter transitions to Failed without touching MatchSet, per spec 7's
// requirement that an invalid filter not clear existing results.
func (s *Source) FailFilter() {
	s.FilterState = FilterFailed
}

// ResolveAnchor re-resolves AnchorLine to the nearest entry in MatchSet by
// binary search, per spec 4.4's "any filter result arrival" rule. A no-op
// outside Filtered mode.
func (s *Source) ResolveAnchor() {
	if s.Mode != ModeFiltered || len(s.MatchSet) == 0 {
		return
	}
	idx := sort.SearchInts(s.MatchSet, s.AnchorLine)
	if idx >= len(s.MatchSet) {
		idx = len(s.MatchSet) - 1
	} else if idx > 0 {
		// SearchInts returns the first entry >= AnchorLine; prefer
		// whichever neighbour is actually nearer.
		below := s.MatchSet[idx-1]
		above := s.MatchSet[idx]
		if s.AnchorLine-below <= above-s.AnchorLine {
			idx--
		}
	}
	s.AnchorLine = s.MatchSet[idx]
}

// OnFileGrew handles spec 4.4's on_file_modified growth path: reload the
// reader, update total_lines, and report the old/new totals so the
// coordinator can decide whether to kick off an incremental filter over
// [old_total, new_total).
func (s *Source) OnFileGrew() (oldTotal, newTotal int, err error) {
	oldTotal = s.TotalLines
	if err := s.Reader.Reload(); err != nil {
		return oldTotal, oldTotal, err
	}
	s.TotalLines = s.Reader.TotalLines()
	s.SourceStatus = StatusOK
	return oldTotal, s.TotalLines, nil
}

// OnFileTruncated handles the truncation path (a shrink, or a same-size
// in-place rewrite the watcher's prefix check caught): reload the reader
// so its sparse index stops pointing at now-wrong offsets (spec 4.1,
// invariant P1), cancel any active filter, drop the match set, and return
// the source to Normal mode.
func (s *Source) OnFileTruncated() error {
	s.SourceStatus = StatusTruncated
	if s.FilterCancel != nil {
		s.FilterCancel.Cancel()
		s.FilterCancel = nil
	}
	s.FilterState = FilterCancelled
	s.MatchSet = nil
	s.lastFilteredThrough = 0
	s.Mode = ModeNormal
	if err := s.Reader.Reload(); err != nil {
		return err
	}
	s.TotalLines = s.Reader.TotalLines()
	return nil
}

// OnSourceLost marks the source unreadable (file removed or renamed away).
func (s *Source) OnSourceLost() {
	s.SourceStatus = StatusLost
}
