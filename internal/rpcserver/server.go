package rpcserver

import (
	"context"
	"fmt"
	"os"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/lazytail/internal/config"
	"github.com/standardbeagle/lazytail/internal/debug"
	"github.com/standardbeagle/lazytail/internal/filter"
	"github.com/standardbeagle/lazytail/internal/source"
	"github.com/standardbeagle/lazytail/internal/version"
	"github.com/standardbeagle/lazytail/pkg/pathutil"
)

// Server is the MCP read-only adapter named in spec section 6. It answers
// each tool call by opening a fresh source.Source over the registered
// path, serving the request, and closing it — never sharing a Source
// instance with whatever the coordinator is driving for the TUI.
type Server struct {
	registry *Registry
	tunables config.Tunables
	engine   *filter.SearchEngine
	server   *mcp.Server
	cwd      string // for display-path shortening; empty if unknown
}

// New builds the adapter over registry. tunables controls the reader/index
// behavior of the short-lived sources this server opens per call.
func New(registry *Registry, tunables config.Tunables) *Server {
	cwd, _ := os.Getwd()
	s := &Server{
		registry: registry,
		tunables: tunables,
		engine:   filter.NewSearchEngine(),
		cwd:      cwd,
	}
	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "lazytail-rpc",
		Version: version.Info(),
	}, nil)
	s.registerTools()
	return s
}

// Start serves the adapter over stdio until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	debug.LogRPC("starting MCP adapter over stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	s.server.AddTool(&mcp.Tool{
		Name:        "list_sources",
		Description: "List every source currently registered with this lazytail process.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.handleListSources)

	s.server.AddTool(&mcp.Tool{
		Name:        "search",
		Description: "Search one source for lines matching a pattern, returning matching line numbers with content and severity.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"path": {
					Type:        "string",
					Description: "Registered source name or path",
				},
				"pattern": {
					Type:        "string",
					Description: "Search pattern",
				},
				"mode": {
					Type:        "string",
					Description: "\"plain\" (default) or \"regex\"",
				},
				"case_sensitive": {
					Type:        "boolean",
					Description: "Case-sensitive match (default false)",
				},
			},
			Required: []string{"path", "pattern"},
		},
	}, s.handleSearch)

	s.server.AddTool(&mcp.Tool{
		Name:        "get_lines",
		Description: "Return a line range [start, end) from a source, with content and severity.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"path":  {Type: "string", Description: "Registered source name or path"},
				"start": {Type: "integer", Description: "First line number, inclusive, 0-based"},
				"end":   {Type: "integer", Description: "Last line number, exclusive"},
			},
			Required: []string{"path", "start", "end"},
		},
	}, s.handleGetLines)

	s.server.AddTool(&mcp.Tool{
		Name:        "get_tail",
		Description: "Return the last n lines of a source.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"path": {Type: "string", Description: "Registered source name or path"},
				"n":    {Type: "integer", Description: "Number of trailing lines"},
			},
			Required: []string{"path", "n"},
		},
	}, s.handleGetTail)

	s.server.AddTool(&mcp.Tool{
		Name:        "get_context",
		Description: "Return lines surrounding line_no, before and after lines on each side.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"path":    {Type: "string", Description: "Registered source name or path"},
				"line_no": {Type: "integer", Description: "Center line number, 0-based"},
				"before":  {Type: "integer", Description: "Lines of context before line_no"},
				"after":   {Type: "integer", Description: "Lines of context after line_no"},
			},
			Required: []string{"path", "line_no"},
		},
	}, s.handleGetContext)

	s.server.AddTool(&mcp.Tool{
		Name:        "get_stats",
		Description: "Return total line count, file size, and severity breakdown (if indexed) for a source.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"path": {Type: "string", Description: "Registered source name or path"},
			},
			Required: []string{"path"},
		},
	}, s.handleGetStats)
}

// resolve looks up a registered entry by name, falling back to a path
// match so a caller that only knows the on-disk path still succeeds.
func (s *Server) resolve(pathOrName string) (Entry, error) {
	if e, ok := s.registry.Lookup(pathOrName); ok {
		return e, nil
	}
	for _, e := range s.registry.List() {
		if e.Path == pathOrName {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("no registered source named %q", pathOrName)
}

// openSource opens a short-lived Source for one RPC call. Callers must
// Close it. Safe to call concurrently with a coordinator driving its own
// Source over the same file: both open independent, read-only
// reader.Readers.
func (s *Server) openSource(e Entry) (*source.Source, error) {
	if e.IndexDir != "" {
		return source.NewWithIndexDir(e.Name, e.Path, e.IndexDir, s.tunables)
	}
	return source.New(e.Name, e.Path, s.tunables)
}

// displayPath shortens an absolute source path to one relative to this
// process's working directory, for tool-response readability (spec section
// 6: paths returned to a caller should read like the ones it passed in).
func (s *Server) displayPath(path string) string {
	return pathutil.ToRelative(path, s.cwd)
}

// lineSeverity derives a line's severity the cheapest way available: the
// columnar index if the source has one, otherwise a direct detection pass
// over the line bytes (spec section 6: "per-line severity derived from the
// flags column").
func lineSeverity(src *source.Source, lineNo int, content []byte) string {
	if src.IndexReader != nil {
		if lineNo >= 0 && lineNo < src.IndexReader.EntryCount() {
			return src.IndexReader.Severity(lineNo).String()
		}
	}
	return detectSeverity(content)
}
