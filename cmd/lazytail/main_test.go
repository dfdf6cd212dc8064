package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsTerminalFalseForPipe(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	if isTerminal(r) {
		t.Errorf("a pipe should never report as a terminal")
	}
}

func TestExpandPathsLiteralFallback(t *testing.T) {
	out, err := expandPaths([]string{"/no/such/path/does-not-exist.log"})
	if err != nil {
		t.Fatalf("expandPaths: %v", err)
	}
	if len(out) != 1 || out[0] != "/no/such/path/does-not-exist.log" {
		t.Fatalf("expected literal fallback, got %v", out)
	}
}

func TestExpandPathsGlobMatch(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.log", "b.log"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x\n"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	out, err := expandPaths([]string{filepath.Join(dir, "*.log")})
	if err != nil {
		t.Fatalf("expandPaths: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 glob matches, got %v", out)
	}
}

func TestRunInvalidFlagIsNonZero(t *testing.T) {
	code := run([]string{"lazytail", "--not-a-real-flag"})
	if code == 0 {
		t.Errorf("run() with an unknown flag = 0, want a non-zero exit code")
	}
}

func TestIsTerminalFalseForRegularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "not-a-tty")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()
	if isTerminal(f) {
		t.Errorf("a regular file should never report as a terminal")
	}
}

func TestLineCommandVerbs(t *testing.T) {
	cases := map[string]int{
		"q":      1,
		"n":      1,
		"p":      1,
		"f":      1,
		"j":      1,
		"k":      1,
		"esc":    1,
		"/error": 3,
		"":       0,
		"bogus":  0,
	}
	for line, wantLen := range cases {
		got := lineCommand(line)
		if len(got) != wantLen {
			t.Errorf("lineCommand(%q) returned %d events, want %d", line, len(got), wantLen)
		}
	}
}
