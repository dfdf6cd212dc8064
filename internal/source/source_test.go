package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/standardbeagle/lazytail/internal/config"
	"github.com/standardbeagle/lazytail/internal/filter"
)

func writeTempFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestNewOpensReaderAndTracksSize(t *testing.T) {
	path := writeTempFile(t, "one\ntwo\nthree\n")
	s, err := New("app", path, config.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if s.TotalLines != 3 {
		t.Errorf("TotalLines = %d, want 3", s.TotalLines)
	}
	if s.FileSize == 0 {
		t.Errorf("expected nonzero FileSize")
	}
	if s.IndexReader != nil {
		t.Errorf("expected no columnar index for a freshly written file")
	}
}

func TestNewWithIndexDirUsesExplicitDirectoryNotDirFor(t *testing.T) {
	path := writeTempFile(t, "one\ntwo\n")
	indexDir := filepath.Join(filepath.Dir(path), "elsewhere-idx")

	s, err := NewWithIndexDir("app", path, indexDir, config.Default())
	if err != nil {
		t.Fatalf("NewWithIndexDir: %v", err)
	}
	defer s.Close()

	if s.IndexReader != nil {
		t.Errorf("expected no index at a directory nothing has written to yet")
	}
}

func TestTotalDisplayLinesAndLineAtDisplay(t *testing.T) {
	path := writeTempFile(t, "a\nb\nc\nd\n")
	s, err := New("app", path, config.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if got := s.TotalDisplayLines(); got != 4 {
		t.Errorf("Normal TotalDisplayLines = %d, want 4", got)
	}
	if ln, ok := s.LineAtDisplay(2); !ok || ln != 2 {
		t.Errorf("Normal LineAtDisplay(2) = (%d,%v), want (2,true)", ln, ok)
	}

	s.Mode = ModeFiltered
	s.MatchSet = []int{1, 3}
	if got := s.TotalDisplayLines(); got != 2 {
		t.Errorf("Filtered TotalDisplayLines = %d, want 2", got)
	}
	if ln, ok := s.LineAtDisplay(1); !ok || ln != 3 {
		t.Errorf("Filtered LineAtDisplay(1) = (%d,%v), want (3,true)", ln, ok)
	}
	if _, ok := s.LineAtDisplay(5); ok {
		t.Errorf("expected out-of-range LineAtDisplay to fail")
	}
}

func TestMergePartialPreservesOrderAndDedups(t *testing.T) {
	s := &Source{Mode: ModeFiltered, AnchorLine: 10}
	s.MergePartial([]int{2, 5, 12}, 20)
	s.MergePartial([]int{0, 5, 8}, 40) // overlaps at 5, adds entries on both sides

	want := []int{0, 2, 5, 8, 12}
	if len(s.MatchSet) != len(want) {
		t.Fatalf("MatchSet = %v, want %v", s.MatchSet, want)
	}
	for i, v := range want {
		if s.MatchSet[i] != v {
			t.Errorf("MatchSet[%d] = %d, want %d", i, s.MatchSet[i], v)
		}
	}
}

func TestMergePartialReportsPrependCount(t *testing.T) {
	s := &Source{Mode: ModeFiltered, AnchorLine: 10}
	s.MergePartial([]int{15, 20}, 25)

	prepend := s.MergePartial([]int{3, 7, 18}, 25)
	if prepend != 2 {
		t.Errorf("prepend = %d, want 2 (3 and 7 land before anchor 10)", prepend)
	}
}

func TestFilterOriginSaveAndCancelRestoresAnchor(t *testing.T) {
	s := &Source{AnchorLine: 42}
	s.EnterFilterInput()
	if s.OriginLine != 42 {
		t.Fatalf("OriginLine = %d, want 42", s.OriginLine)
	}

	tok := s.BeginRunning(filter.NewPlain("err", true))
	s.AnchorLine = 99
	s.MatchSet = []int{1, 2, 3}

	s.CancelFilterInput()
	if s.AnchorLine != 42 {
		t.Errorf("AnchorLine after cancel = %d, want 42 (restored)", s.AnchorLine)
	}
	if s.Mode != ModeNormal {
		t.Errorf("Mode after cancel = %v, want ModeNormal", s.Mode)
	}
	if s.MatchSet != nil {
		t.Errorf("expected MatchSet cleared after cancel")
	}
	if !tok.Cancelled() {
		t.Errorf("expected the running filter's cancel token to be cancelled")
	}
}

func TestResolveAnchorPicksNearestMatch(t *testing.T) {
	s := &Source{Mode: ModeFiltered, MatchSet: []int{5, 10, 20}, AnchorLine: 12}
	s.ResolveAnchor()
	if s.AnchorLine != 10 {
		t.Errorf("AnchorLine = %d, want 10 (nearest to 12)", s.AnchorLine)
	}

	s.AnchorLine = 17
	s.ResolveAnchor()
	if s.AnchorLine != 20 {
		t.Errorf("AnchorLine = %d, want 20 (nearest to 17)", s.AnchorLine)
	}
}

func TestOnFileGrewReloadsReader(t *testing.T) {
	path := writeTempFile(t, "a\nb\n")
	s, err := New("app", path, config.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteString("c\nd\ne\n"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	f.Close()

	oldTotal, newTotal, err := s.OnFileGrew()
	if err != nil {
		t.Fatalf("OnFileGrew: %v", err)
	}
	if oldTotal != 2 || newTotal != 5 {
		t.Errorf("OnFileGrew = (%d,%d), want (2,5)", oldTotal, newTotal)
	}
	if s.TotalLines != 5 {
		t.Errorf("TotalLines = %d, want 5", s.TotalLines)
	}
}

func TestOnFileTruncatedClearsFilterStateAndReloadsReader(t *testing.T) {
	path := writeTempFile(t, "one\ntwo\nthree\nfour\n")
	s, err := New("app", path, config.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	s.Mode = ModeFiltered
	s.MatchSet = []int{1, 2, 3}

	if err := os.Truncate(path, 4); err != nil { // "one\n"
		t.Fatalf("Truncate: %v", err)
	}

	if err := s.OnFileTruncated(); err != nil {
		t.Fatalf("OnFileTruncated: %v", err)
	}

	if s.SourceStatus != StatusTruncated {
		t.Errorf("SourceStatus = %v, want StatusTruncated", s.SourceStatus)
	}
	if s.Mode != ModeNormal {
		t.Errorf("Mode = %v, want ModeNormal", s.Mode)
	}
	if s.MatchSet != nil {
		t.Errorf("expected MatchSet cleared on truncation")
	}
	if s.TotalLines != 1 {
		t.Errorf("TotalLines = %d, want 1 after reload picks up the shrunk file", s.TotalLines)
	}
}

func TestStreamSourceAppendAndReload(t *testing.T) {
	s, err := NewStream("stdin", config.Default())
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer s.CloseStream()

	if err := s.AppendStreamBytes([]byte("first\nsecond\n")); err != nil {
		t.Fatalf("AppendStreamBytes: %v", err)
	}
	if s.TotalLines != 2 {
		t.Fatalf("TotalLines = %d, want 2", s.TotalLines)
	}
	line, ok := s.Reader.GetLine(0)
	if !ok || string(line) != "first" {
		t.Errorf("GetLine(0) = (%q,%v), want (\"first\",true)", line, ok)
	}

	if err := s.AppendStreamBytes([]byte("third\n")); err != nil {
		t.Fatalf("AppendStreamBytes: %v", err)
	}
	if s.TotalLines != 3 {
		t.Fatalf("TotalLines = %d, want 3", s.TotalLines)
	}
}
