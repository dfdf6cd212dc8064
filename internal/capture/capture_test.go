package capture

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/standardbeagle/lazytail/internal/colindex"
	"github.com/standardbeagle/lazytail/internal/config"
	"github.com/standardbeagle/lazytail/internal/session"
)

// testLayout resolves a project-local Layout rooted at a fresh temp dir, by
// giving it its own .git marker — this keeps capture's tests from touching
// the real user config directory NewLayout would otherwise fall back to.
func testLayout(t *testing.T) session.Layout {
	t.Helper()
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatalf("Mkdir .git: %v", err)
	}
	l, err := session.NewLayout(root)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	return l
}

func TestCreateMarkerRejectsLiveDuplicate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "api")

	if err := CreateMarker(path); err != nil {
		t.Fatalf("CreateMarker: %v", err)
	}
	defer RemoveMarker(path)

	if err := CreateMarker(path); err == nil {
		t.Fatalf("expected a second CreateMarker against a live marker to fail")
	}
}

func TestCreateMarkerRemovesStaleMarker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "api")

	// A marker naming a PID that can't be alive.
	if err := os.WriteFile(path, []byte(strconv.Itoa(deadPID())), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := CreateMarker(path); err != nil {
		t.Fatalf("expected CreateMarker to recover from a stale marker: %v", err)
	}
	defer RemoveMarker(path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Errorf("marker PID = %q, want this process's PID", data)
	}
}

func TestSweepStaleRemovesOnlyDeadMarkers(t *testing.T) {
	dir := t.TempDir()
	livePath := filepath.Join(dir, "live")
	deadPath := filepath.Join(dir, "dead")

	if err := CreateMarker(livePath); err != nil {
		t.Fatalf("CreateMarker(live): %v", err)
	}
	defer RemoveMarker(livePath)
	if err := os.WriteFile(deadPath, []byte(strconv.Itoa(deadPID())), 0o600); err != nil {
		t.Fatalf("WriteFile(dead): %v", err)
	}

	removed, err := SweepStale(dir)
	if err != nil {
		t.Fatalf("SweepStale: %v", err)
	}
	if len(removed) != 1 || removed[0] != "dead" {
		t.Fatalf("SweepStale removed %v, want [dead]", removed)
	}
	if _, err := os.Stat(livePath); err != nil {
		t.Errorf("expected the live marker to survive the sweep: %v", err)
	}
}

func TestSweepStaleOnMissingDirIsNoop(t *testing.T) {
	removed, err := SweepStale(filepath.Join(t.TempDir(), "nonexistent"))
	if err != nil {
		t.Fatalf("SweepStale on a missing dir should be a no-op, got: %v", err)
	}
	if removed != nil {
		t.Errorf("expected no removals, got %v", removed)
	}
}

func TestCaptureTeeWritesDataFileAndIndex(t *testing.T) {
	l := testLayout(t)
	tunables := config.Default()

	c, err := Start("api", l, tunables)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	r := strings.NewReader("line one\nline two\nline three\n")
	if err := c.Tee(r); err != nil {
		t.Fatalf("Tee: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(l.DataFile("api"))
	if err != nil {
		t.Fatalf("ReadFile data: %v", err)
	}
	if string(data) != "line one\nline two\nline three\n" {
		t.Errorf("data file = %q", data)
	}

	idx, err := colindex.Open(l.IndexDir("api"))
	if err != nil {
		t.Fatalf("colindex.Open: %v", err)
	}
	defer idx.Close()
	if idx.EntryCount() != 3 {
		t.Errorf("EntryCount = %d, want 3", idx.EntryCount())
	}

	if _, err := os.Stat(l.MarkerFile("api")); !os.IsNotExist(err) {
		t.Errorf("expected the marker removed after Close, stat err = %v", err)
	}
}

func TestCaptureTeeStopsOnShutdownFlag(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := testLayout(t)
	c, err := Start("api", l, config.Default())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	c.RequestShutdown()
	r := strings.NewReader("never read\n")
	if err := c.Tee(r); err != nil {
		t.Fatalf("Tee after shutdown should return cleanly, got: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// deadPID returns a PID value beyond any platform's real PID range (Linux's
// default pid_max is 2^22; Darwin's is far smaller), so neither
// /proc/<pid> nor kill(pid,0) can observe it as alive.
func deadPID() int {
	return 1 << 30
}
