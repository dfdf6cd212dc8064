package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/lazytail/internal/cancel"
	"github.com/standardbeagle/lazytail/internal/filter"
	"github.com/standardbeagle/lazytail/internal/logline"
	"github.com/standardbeagle/lazytail/internal/source"
)

// maxSearchMatches caps how many match line numbers a single search
// response carries; a full scan over a huge file could otherwise return
// millions of line numbers to a tool caller that only wants a sample.
const maxSearchMatches = 5000

func createJSONResponse(data interface{}) (*mcp.CallToolResult, error) {
	content, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(content)}}}, nil
}

func createErrorResponse(operation string, err error) (*mcp.CallToolResult, error) {
	resp, marshalErr := createJSONResponse(map[string]interface{}{
		"success":   false,
		"operation": operation,
		"error":     err.Error(),
	})
	if marshalErr != nil {
		return nil, marshalErr
	}
	resp.IsError = true
	return resp, nil
}

func detectSeverity(line []byte) string {
	return logline.SeverityOf(logline.DetectFlags(line)).String()
}

type lineView struct {
	Line     int    `json:"line"`
	Content  string `json:"content"`
	Severity string `json:"severity"`
}

func linesInRange(src *source.Source, start, end int) []lineView {
	if start < 0 {
		start = 0
	}
	if end > src.TotalLines {
		end = src.TotalLines
	}
	out := make([]lineView, 0, max0(end-start))
	for i := start; i < end; i++ {
		content, ok := src.Reader.GetLine(i)
		if !ok {
			continue
		}
		out = append(out, lineView{Line: i, Content: string(content), Severity: lineSeverity(src, i, content)})
	}
	return out
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func (s *Server) handleListSources(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries := s.registry.List()
	sources := make([]map[string]string, 0, len(entries))
	for _, e := range entries {
		sources = append(sources, map[string]string{"name": e.Name, "path": s.displayPath(e.Path)})
	}
	return createJSONResponse(map[string]interface{}{"sources": sources})
}

type searchParams struct {
	Path          string `json:"path"`
	Pattern       string `json:"pattern"`
	Mode          string `json:"mode"`
	CaseSensitive bool   `json:"case_sensitive"`
}

func (s *Server) handleSearch(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p searchParams
	if err := json.Unmarshal(req.Params.Arguments, &p); err != nil {
		return createErrorResponse("search", fmt.Errorf("invalid parameters: %w", err))
	}

	e, err := s.resolve(p.Path)
	if err != nil {
		return createErrorResponse("search", err)
	}
	src, err := s.openSource(e)
	if err != nil {
		return createErrorResponse("search", err)
	}
	defer src.Close()

	var f filter.Filter
	switch p.Mode {
	case "regex":
		f, err = filter.NewRegex(p.Pattern, p.CaseSensitive)
		if err != nil {
			return createErrorResponse("search", err)
		}
	default:
		f = filter.NewPlain(p.Pattern, p.CaseSensitive)
	}

	req2 := filter.SearchRequest{
		Path:     src.SourcePath,
		Reader:   src.Reader,
		Filter:   f,
		Index:    src.IndexReader,
		Tunables: s.tunables,
		Cancel:   cancel.New(),
	}
	matches, truncated := drainMatches(s.engine.Search(req2))

	views := make([]lineView, 0, len(matches))
	for _, n := range matches {
		content, ok := src.Reader.GetLine(n)
		if !ok {
			continue
		}
		views = append(views, lineView{Line: n, Content: string(content), Severity: lineSeverity(src, n, content)})
	}

	return createJSONResponse(map[string]interface{}{
		"path":      s.displayPath(e.Path),
		"matches":   views,
		"count":     len(views),
		"truncated": truncated,
	})
}

// drainMatches consumes a search's progress channel to completion and
// returns the union of every Partial.Matches and the terminal
// Complete.FinalBatch (spec 4.3.3: consumers must union both to get the
// full match set), capped at maxSearchMatches.
func drainMatches(ch <-chan filter.Progress) (matches []int, truncated bool) {
	for p := range ch {
		switch {
		case p.Partial != nil:
			matches = append(matches, p.Partial.Matches...)
		case p.Complete != nil:
			matches = append(matches, p.Complete.FinalBatch...)
		case p.Err != nil:
			// An error after partial results still returns what was found;
			// the caller sees a possibly-incomplete match set rather than
			// losing it, matching spec 7's "don't clear existing results"
			// posture applied to a one-shot RPC call instead of live state.
		}
	}
	if len(matches) > maxSearchMatches {
		matches = matches[:maxSearchMatches]
		truncated = true
	}
	return matches, truncated
}

type lineRangeParams struct {
	Path  string `json:"path"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

func (s *Server) handleGetLines(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p lineRangeParams
	if err := json.Unmarshal(req.Params.Arguments, &p); err != nil {
		return createErrorResponse("get_lines", fmt.Errorf("invalid parameters: %w", err))
	}
	e, err := s.resolve(p.Path)
	if err != nil {
		return createErrorResponse("get_lines", err)
	}
	src, err := s.openSource(e)
	if err != nil {
		return createErrorResponse("get_lines", err)
	}
	defer src.Close()

	return createJSONResponse(map[string]interface{}{
		"path":  s.displayPath(e.Path),
		"lines": linesInRange(src, p.Start, p.End),
	})
}

type tailParams struct {
	Path string `json:"path"`
	N    int    `json:"n"`
}

func (s *Server) handleGetTail(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p tailParams
	if err := json.Unmarshal(req.Params.Arguments, &p); err != nil {
		return createErrorResponse("get_tail", fmt.Errorf("invalid parameters: %w", err))
	}
	e, err := s.resolve(p.Path)
	if err != nil {
		return createErrorResponse("get_tail", err)
	}
	src, err := s.openSource(e)
	if err != nil {
		return createErrorResponse("get_tail", err)
	}
	defer src.Close()

	if p.N < 0 {
		p.N = 0
	}
	start := src.TotalLines - p.N
	return createJSONResponse(map[string]interface{}{
		"path":  s.displayPath(e.Path),
		"lines": linesInRange(src, start, src.TotalLines),
	})
}

type contextParams struct {
	Path   string `json:"path"`
	LineNo int    `json:"line_no"`
	Before int    `json:"before"`
	After  int    `json:"after"`
}

func (s *Server) handleGetContext(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p contextParams
	if err := json.Unmarshal(req.Params.Arguments, &p); err != nil {
		return createErrorResponse("get_context", fmt.Errorf("invalid parameters: %w", err))
	}
	e, err := s.resolve(p.Path)
	if err != nil {
		return createErrorResponse("get_context", err)
	}
	src, err := s.openSource(e)
	if err != nil {
		return createErrorResponse("get_context", err)
	}
	defer src.Close()

	return createJSONResponse(map[string]interface{}{
		"path":    s.displayPath(e.Path),
		"line_no": p.LineNo,
		"lines":   linesInRange(src, p.LineNo-p.Before, p.LineNo+p.After+1),
	})
}

type statsParams struct {
	Path string `json:"path"`
}

func (s *Server) handleGetStats(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p statsParams
	if err := json.Unmarshal(req.Params.Arguments, &p); err != nil {
		return createErrorResponse("get_stats", fmt.Errorf("invalid parameters: %w", err))
	}
	e, err := s.resolve(p.Path)
	if err != nil {
		return createErrorResponse("get_stats", err)
	}
	src, err := s.openSource(e)
	if err != nil {
		return createErrorResponse("get_stats", err)
	}
	defer src.Close()

	result := map[string]interface{}{
		"path":        s.displayPath(e.Path),
		"total_lines": src.TotalLines,
		"file_size":   src.FileSize,
		"indexed":     src.IndexReader != nil,
	}
	if src.IndexReader != nil {
		if cps := src.IndexReader.Checkpoints(); len(cps) > 0 {
			last := cps[len(cps)-1]
			counts := map[string]uint32{
				"unknown": last.SeverityCounts[0],
				"trace":   last.SeverityCounts[1],
				"debug":   last.SeverityCounts[2],
				"info":    last.SeverityCounts[3],
				"warn":    last.SeverityCounts[4],
				"error":   last.SeverityCounts[5],
				"fatal":   last.SeverityCounts[6],
			}
			result["severity_counts"] = counts
			result["severity_counts_through_line"] = last.LineNo
		}
	}
	return createJSONResponse(result)
}
