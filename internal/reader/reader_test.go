package reader

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/standardbeagle/lazytail/internal/config"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func smallTunables() config.Tunables {
	tn := config.Default()
	tn.SparseIndexIntervalLines = 4
	return tn
}

func TestOpenCountsLines(t *testing.T) {
	path := writeTempFile(t, "a\nb\nc\n")
	r, err := Open(path, smallTunables())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if got := r.TotalLines(); got != 3 {
		t.Errorf("TotalLines() = %d, want 3", got)
	}
}

func TestOpenTrailingWithoutNewline(t *testing.T) {
	path := writeTempFile(t, "a\nb\nc")
	r, err := Open(path, smallTunables())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if got := r.TotalLines(); got != 3 {
		t.Errorf("TotalLines() = %d, want 3", got)
	}
	line, ok := r.GetLine(2)
	if !ok || string(line) != "c" {
		t.Errorf("GetLine(2) = %q, %v, want \"c\", true", line, ok)
	}
}

func TestGetLineReturnsExactBytes(t *testing.T) {
	path := writeTempFile(t, "line0\nline1\nline2\nline3\n")
	r, err := Open(path, smallTunables())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	for i, want := range []string{"line0", "line1", "line2", "line3"} {
		got, ok := r.GetLine(i)
		if !ok {
			t.Fatalf("GetLine(%d) missing", i)
		}
		if string(got) != want {
			t.Errorf("GetLine(%d) = %q, want %q", i, got, want)
		}
	}
}

func TestGetLineOutOfRange(t *testing.T) {
	path := writeTempFile(t, "a\nb\n")
	r, err := Open(path, smallTunables())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if _, ok := r.GetLine(5); ok {
		t.Errorf("GetLine(5) should be out of range")
	}
	if _, ok := r.GetLine(-1); ok {
		t.Errorf("GetLine(-1) should be out of range")
	}
}

func TestSparseIndexSpansMultipleAnchors(t *testing.T) {
	var content string
	for i := 0; i < 50; i++ {
		content += fmt.Sprintf("line-%03d\n", i)
	}
	path := writeTempFile(t, content)
	r, err := Open(path, smallTunables())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	for i := 0; i < 50; i++ {
		got, ok := r.GetLine(i)
		want := fmt.Sprintf("line-%03d", i)
		if !ok || string(got) != want {
			t.Fatalf("GetLine(%d) = %q, %v, want %q, true", i, got, ok, want)
		}
	}
}

func TestReloadDetectsGrowth(t *testing.T) {
	path := writeTempFile(t, "a\nb\n")
	r, err := Open(path, smallTunables())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("reopen for append: %v", err)
	}
	if _, err := f.WriteString("c\nd\ne\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	if err := r.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := r.TotalLines(); got != 5 {
		t.Errorf("TotalLines() after growth = %d, want 5", got)
	}
	line, ok := r.GetLine(4)
	if !ok || string(line) != "e" {
		t.Errorf("GetLine(4) after growth = %q, %v, want \"e\", true", line, ok)
	}
}

func TestReloadDetectsTruncation(t *testing.T) {
	path := writeTempFile(t, "a\nb\nc\nd\ne\n")
	r, err := Open(path, smallTunables())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if err := os.WriteFile(path, []byte("x\ny\n"), 0644); err != nil {
		t.Fatalf("truncate rewrite: %v", err)
	}

	if err := r.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := r.TotalLines(); got != 2 {
		t.Errorf("TotalLines() after truncation = %d, want 2", got)
	}
	line, ok := r.GetLine(0)
	if !ok || string(line) != "x" {
		t.Errorf("GetLine(0) after truncation = %q, %v, want \"x\", true", line, ok)
	}
}

// TestReloadDetectsSameSizeContentChange covers spec 4.1's "truncation
// (size decreased or non-matching prefix)": a log rewritten in place to
// exactly the same byte length must still be detected and rebuilt, not
// silently treated as unchanged.
func TestReloadDetectsSameSizeContentChange(t *testing.T) {
	path := writeTempFile(t, "aaa\nbbb\n")
	r, err := Open(path, smallTunables())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if err := os.WriteFile(path, []byte("xxx\nyyy\n"), 0644); err != nil {
		t.Fatalf("same-size rewrite: %v", err)
	}

	if err := r.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	line, ok := r.GetLine(0)
	if !ok || string(line) != "xxx" {
		t.Errorf("GetLine(0) after same-size rewrite = %q, %v, want \"xxx\", true", line, ok)
	}
}

// TestReloadNoopOnTrulyUnchangedFile guards against the fingerprint check
// itself causing a spurious rebuild when nothing changed.
func TestReloadNoopOnTrulyUnchangedFile(t *testing.T) {
	path := writeTempFile(t, "a\nb\nc\n")
	r, err := Open(path, smallTunables())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if err := r.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	line, ok := r.GetLine(1)
	if !ok || string(line) != "b" {
		t.Errorf("GetLine(1) after no-op reload = %q, %v, want \"b\", true", line, ok)
	}
}

func TestEmptyFile(t *testing.T) {
	path := writeTempFile(t, "")
	r, err := Open(path, smallTunables())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if got := r.TotalLines(); got != 0 {
		t.Errorf("TotalLines() = %d, want 0", got)
	}
}
