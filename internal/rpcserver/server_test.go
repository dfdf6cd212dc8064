package rpcserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/lazytail/internal/config"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func newTestServer(t *testing.T, content string) (*Server, string) {
	t.Helper()
	path := writeTempFile(t, content)
	reg := NewRegistry()
	reg.Register(Entry{Name: "app", Path: path})
	return New(reg, config.Default()), path
}

func callTool(t *testing.T, handler func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error), params map[string]interface{}) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	result, err := handler(context.Background(), &mcp.CallToolRequest{
		Params: &mcp.CallToolParamsRaw{Arguments: raw},
	})
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("handler reported a tool-level error: %v", result.Content)
	}
	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(text.Text), &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return out
}

func TestListSourcesReturnsRegisteredEntries(t *testing.T) {
	s, path := newTestServer(t, "a\nb\n")
	out := callTool(t, s.handleListSources, map[string]interface{}{})
	sources := out["sources"].([]interface{})
	if len(sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(sources))
	}
	entry := sources[0].(map[string]interface{})
	if entry["path"] != path {
		t.Errorf("path = %v, want %v", entry["path"], path)
	}
}

func TestSearchPlainReturnsMatchesWithSeverity(t *testing.T) {
	s, _ := newTestServer(t, "starting up\nERROR disk full\nshutting down\n")
	out := callTool(t, s.handleSearch, map[string]interface{}{
		"path":    "app",
		"pattern": "ERROR",
	})
	matches := out["matches"].([]interface{})
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d: %v", len(matches), matches)
	}
	m := matches[0].(map[string]interface{})
	if int(m["line"].(float64)) != 1 {
		t.Errorf("line = %v, want 1", m["line"])
	}
	if m["severity"] != "error" {
		t.Errorf("severity = %v, want error", m["severity"])
	}
}

func TestSearchRegexInvalidPatternReturnsToolError(t *testing.T) {
	s, _ := newTestServer(t, "a\n")
	raw, _ := json.Marshal(map[string]interface{}{"path": "app", "pattern": "(", "mode": "regex"})
	result, err := s.handleSearch(context.Background(), &mcp.CallToolRequest{
		Params: &mcp.CallToolParamsRaw{Arguments: raw},
	})
	if err != nil {
		t.Fatalf("handleSearch returned a transport error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected IsError=true for an invalid regex")
	}
}

func TestGetLinesClampsToTotalLines(t *testing.T) {
	s, _ := newTestServer(t, "one\ntwo\nthree\n")
	out := callTool(t, s.handleGetLines, map[string]interface{}{
		"path": "app", "start": 1, "end": 100,
	})
	lines := out["lines"].([]interface{})
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines (clamped), got %d", len(lines))
	}
}

func TestGetTailReturnsLastN(t *testing.T) {
	s, _ := newTestServer(t, "one\ntwo\nthree\nfour\n")
	out := callTool(t, s.handleGetTail, map[string]interface{}{"path": "app", "n": 2})
	lines := out["lines"].([]interface{})
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	first := lines[0].(map[string]interface{})
	if first["content"] != "three" {
		t.Errorf("first tail line = %q, want three", first["content"])
	}
}

func TestGetContextCentersOnLine(t *testing.T) {
	s, _ := newTestServer(t, "a\nb\nc\nd\ne\n")
	out := callTool(t, s.handleGetContext, map[string]interface{}{
		"path": "app", "line_no": 2, "before": 1, "after": 1,
	})
	lines := out["lines"].([]interface{})
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	middle := lines[1].(map[string]interface{})
	if middle["content"] != "c" {
		t.Errorf("middle line = %q, want c", middle["content"])
	}
}

func TestGetStatsWithoutIndexOmitsSeverityCounts(t *testing.T) {
	s, _ := newTestServer(t, "a\nb\n")
	out := callTool(t, s.handleGetStats, map[string]interface{}{"path": "app"})
	if int(out["total_lines"].(float64)) != 2 {
		t.Errorf("total_lines = %v, want 2", out["total_lines"])
	}
	if out["indexed"].(bool) {
		t.Errorf("expected indexed=false when no columnar index has been built")
	}
	if _, present := out["severity_counts"]; present {
		t.Errorf("expected no severity_counts without an index")
	}
}

func TestResolveFallsBackToPathMatch(t *testing.T) {
	s, path := newTestServer(t, "x\n")
	e, err := s.resolve(path)
	if err != nil {
		t.Fatalf("resolve by path: %v", err)
	}
	if e.Name != "app" {
		t.Errorf("resolve(path) returned name %q, want app", e.Name)
	}
}

func TestResolveUnknownSourceErrors(t *testing.T) {
	s, _ := newTestServer(t, "x\n")
	if _, err := s.resolve("does-not-exist"); err == nil {
		t.Fatalf("expected an error resolving an unregistered source")
	}
}
