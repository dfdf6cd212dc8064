package filter

import (
	"github.com/standardbeagle/lazytail/internal/cancel"
	"github.com/standardbeagle/lazytail/internal/colindex"
	"github.com/standardbeagle/lazytail/internal/config"
	"github.com/standardbeagle/lazytail/internal/debug"
	"github.com/standardbeagle/lazytail/internal/reader"
)

// LineRange is a half-open [Start, End) line range for range-restricted
// search (spec 4.3.2, dispatch path 4).
type LineRange struct {
	Start, End int
}

// SearchRequest bundles everything SearchEngine.Search needs to pick a
// scanning strategy. Path is empty for stream sources, which are served by
// the reader-backed engine regardless of the other fields.
type SearchRequest struct {
	Path     string
	Reader   *reader.Reader // shared reader; required for stream sources, optional elsewhere
	Filter   Filter
	Index    *colindex.Reader // optional
	Range    *LineRange       // optional
	Tunables config.Tunables
	Cancel   *cancel.Token
}

// SearchEngine implements the single search(path, filter, index?, query?,
// range?) entry point from spec 4.3.2. All dispatch paths return a single
// progress channel; callers do not need to know which scanner ran.
type SearchEngine struct{}

// NewSearchEngine returns a stateless search engine; one instance may
// safely serve many concurrent Search calls.
func NewSearchEngine() *SearchEngine { return &SearchEngine{} }

// Search dispatches per spec 4.3.2 and returns immediately; the scan runs
// on its own goroutine and reports through the returned channel.
func (e *SearchEngine) Search(req SearchRequest) <-chan Progress {
	ch := make(chan Progress, 4)

	switch {
	case req.Path == "":
		debug.LogFilter("dispatch: reader-backed engine (stream source)")
		go scanReaderBacked(ch, req)
	case req.Filter.IsPlainCaseSensitiveNoQuery() && !hasIndexConstraint(req):
		debug.LogFilter("dispatch: grep-style scanner for %q", req.Filter.Pattern)
		go scanGrepStyle(ch, req)
	case req.Index != nil && hasIndexConstraint(req):
		debug.LogFilter("dispatch: indexed streaming scanner")
		go scanIndexedStreaming(ch, req)
	case req.Range != nil:
		debug.LogFilter("dispatch: range scan [%d,%d)", req.Range.Start, req.Range.End)
		go scanRange(ch, req)
	default:
		debug.LogFilter("dispatch: generic mmap line-by-line scanner")
		go scanGenericMmap(ch, req)
	}

	return ch
}

func hasIndexConstraint(req SearchRequest) bool {
	if req.Index == nil {
		return false
	}
	_, _, ok := req.Filter.IndexMask()
	return ok
}
