// Package coordinator implements the event-driven coordinator (component
// C5): a single-threaded render→collect→process loop that folds keyboard
// input, file-watcher notifications, filter progress, and stream reads
// into one ordered Event stream, applied to source state by one
// dispatcher (spec 4.5). Rendering widgets and the input-to-Verb mapping
// are out of scope (spec §1 Non-goals); Renderer and InputReader are the
// interface contracts the core produces and consumes.
package coordinator

import (
	stderrors "errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/standardbeagle/lazytail/internal/cancel"
	"github.com/standardbeagle/lazytail/internal/colindex"
	"github.com/standardbeagle/lazytail/internal/config"
	"github.com/standardbeagle/lazytail/internal/debug"
	"github.com/standardbeagle/lazytail/internal/errors"
	"github.com/standardbeagle/lazytail/internal/filter"
	"github.com/standardbeagle/lazytail/internal/source"
)

// Renderer draws the active source's current viewport. The concrete
// widget set (vim-style viewport, status bar, help overlay) is an external
// collaborator per spec §1 Non-goals; this is only the contract the
// coordinator calls once per tick.
type Renderer interface {
	Render(active *source.Source) error
}

// InputReader yields the next semantic input Event, blocking up to
// timeout before returning ok=false (spec 4.5.1's "read_input(timeout=100ms)").
// Translating raw terminal key codes into Verb values happens upstream of
// this interface.
type InputReader interface {
	ReadInput(timeout time.Duration) (Event, bool)
}

const inputTimeout = 100 * time.Millisecond

// Coordinator owns a collection of sources and drives the event loop.
type Coordinator struct {
	renderer Renderer
	input    InputReader
	engine   *filter.SearchEngine
	tunables config.Tunables

	sources map[string]*source.Source
	order   []string
	active  string

	watcher    *watcher
	pathToName map[string]string

	filterChans map[string]<-chan filter.Progress
	streamChans map[string]<-chan streamMsg

	indexBuildChans  map[string]<-chan indexBuildResult
	indexBuildCancel map[string]*cancel.Token

	shouldQuit atomic.Bool
}

// indexBuildResult is the terminal message a background colindex.BuildBulk
// goroutine sends once the lazy on-demand index build (spec 4.2.3, "Bulk
// (existing file)") finishes, successfully or not.
type indexBuildResult struct {
	reader *colindex.Reader
	err    error
}

// New builds a coordinator. renderer/input may be nil in tests that only
// exercise ApplyEvent directly.
func New(renderer Renderer, input InputReader, tunables config.Tunables) *Coordinator {
	return &Coordinator{
		renderer:    renderer,
		input:       input,
		engine:      filter.NewSearchEngine(),
		tunables:    tunables,
		sources:     make(map[string]*source.Source),
		pathToName:  make(map[string]string),
		filterChans: make(map[string]<-chan filter.Progress),
		streamChans: make(map[string]<-chan streamMsg),

		indexBuildChans:  make(map[string]<-chan indexBuildResult),
		indexBuildCancel: make(map[string]*cancel.Token),
	}
}

// AddSource registers a source, watching its backing file if it has one.
// The first source added becomes active.
func (c *Coordinator) AddSource(s *source.Source) error {
	c.sources[s.Name] = s
	c.order = append(c.order, s.Name)
	if c.active == "" {
		c.active = s.Name
	}

	if s.SourcePath != "" {
		if c.watcher == nil {
			w, err := newWatcher()
			if err != nil {
				return errors.NewReaderError("watch", s.SourcePath, err)
			}
			c.watcher = w
		}
		if err := c.watcher.Watch(s.Name, s.SourcePath); err != nil {
			debug.LogCoord("failed to watch %s: %v", s.SourcePath, err)
		} else {
			c.pathToName[s.SourcePath] = s.Name
		}
	}

	c.maybeStartIndexBuild(s)

	return nil
}

// maybeStartIndexBuild launches a background colindex.BuildBulk for a
// file-backed source that has no columnar index yet (spec section 2: "built
// inline during capture and lazily for pre-existing files"; spec 4.2.3,
// "Bulk (existing file)" and "must be cancellable ... and restartable").
// The result is delivered through indexBuildChans and applied on a later
// Tick via applyIndexReady, keeping all source mutation on the coordinator's
// single thread.
func (c *Coordinator) maybeStartIndexBuild(s *source.Source) {
	if s.IndexReader != nil || s.SourcePath == "" || s.IndexDir == "" {
		return
	}
	if _, inProgress := c.indexBuildChans[s.Name]; inProgress {
		return
	}

	tok := cancel.New()
	ch := make(chan indexBuildResult, 1)
	c.indexBuildCancel[s.Name] = tok
	c.indexBuildChans[s.Name] = ch

	path, indexDir, tunables := s.SourcePath, s.IndexDir, c.tunables
	go func() {
		err := colindex.BuildBulk(path, tunables, tok)
		if err != nil {
			ch <- indexBuildResult{err: err}
			close(ch)
			return
		}
		idx, err := colindex.Open(indexDir)
		ch <- indexBuildResult{reader: idx, err: err}
		close(ch)
	}()
}

func (c *Coordinator) drainIndexBuilds() []Event {
	var out []Event
	for name, ch := range c.indexBuildChans {
		select {
		case res, ok := <-ch:
			if !ok {
				continue
			}
			delete(c.indexBuildChans, name)
			delete(c.indexBuildCancel, name)
			out = append(out, Event{Kind: EventIndexReady, Source: name, IndexReader: res.reader, IndexErr: res.err})
		default:
		}
	}
	return out
}

// AttachStream wires a started stdin/pipe reader goroutine's channel to a
// stream source already added via AddSource.
func (c *Coordinator) AttachStream(sourceName string, ch <-chan streamMsg) {
	c.streamChans[sourceName] = ch
}

// Active returns the currently focused source, or nil if none exist.
func (c *Coordinator) Active() *source.Source {
	if c.active == "" {
		return nil
	}
	return c.sources[c.active]
}

// Source looks up a registered source by name.
func (c *Coordinator) Source(name string) (*source.Source, bool) {
	s, ok := c.sources[name]
	return s, ok
}

// Quit requests the run loop stop at the next tick boundary.
func (c *Coordinator) Quit() { c.shouldQuit.Store(true) }

// ShouldQuit reports whether Quit has been requested.
func (c *Coordinator) ShouldQuit() bool { return c.shouldQuit.Load() }

// Close stops the watcher and releases sources. Safe to call once after
// Run returns.
func (c *Coordinator) Close() error {
	if c.watcher != nil {
		c.watcher.Close()
	}
	for _, tok := range c.indexBuildCancel {
		tok.Cancel()
	}
	var errs []error
	for _, s := range c.sources {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.NewMultiError(errs)
}

// Run drives the loop described in spec 4.5.1 until Quit is called. It is
// a thin wrapper over Tick so tests can call Tick directly with a
// synthetic clock.
func (c *Coordinator) Run() error {
	for !c.ShouldQuit() {
		if err := c.Tick(time.Now()); err != nil {
			return err
		}
	}
	return nil
}

// Tick executes exactly one iteration of the spec 4.5.1 loop: render,
// check the debounce deadline, drain every non-blocking event source, read
// input with a bounded timeout, then apply every collected event in order.
func (c *Coordinator) Tick(now time.Time) error {
	if active := c.Active(); active != nil && c.renderer != nil {
		if err := c.renderer.Render(active); err != nil {
			return err
		}
	}

	var events []Event
	events = append(events, c.checkDebounce(now)...)
	events = append(events, c.drainWatcher()...)
	events = append(events, c.drainFilters()...)
	events = append(events, c.drainStreams()...)
	events = append(events, c.drainIndexBuilds()...)

	if c.input != nil {
		timeout := c.tunables.StdinPollInterval
		if timeout <= 0 {
			timeout = inputTimeout
		}
		if ev, ok := c.input.ReadInput(timeout); ok {
			events = append(events, ev)
		}
	}

	for _, e := range events {
		c.ApplyEvent(e)
	}
	return nil
}

// checkDebounce fires the live-preview trigger for any source whose
// pending_filter_deadline has elapsed (spec 4.5.4).
func (c *Coordinator) checkDebounce(now time.Time) []Event {
	var out []Event
	for _, name := range c.order {
		s := c.sources[name]
		if s.FilterState != source.FilterPending || s.PendingFilterDeadline.IsZero() {
			continue
		}
		if now.Before(s.PendingFilterDeadline) {
			continue
		}
		s.PendingFilterDeadline = time.Time{}
		c.startFilter(s)
	}
	return out
}

// startFilter transitions a source into Running and launches its search.
func (c *Coordinator) startFilter(s *source.Source) {
	if s.FilterConfig == nil {
		return
	}
	tok := s.BeginRunning(*s.FilterConfig)
	req := filter.SearchRequest{
		Path:     s.SourcePath,
		Reader:   s.Reader,
		Filter:   *s.FilterConfig,
		Index:    s.IndexReader,
		Tunables: c.tunables,
		Cancel:   tok,
	}
	ch := c.engine.Search(req)
	c.filterChans[s.Name] = ch
}

// TriggerFilter starts (or restarts) filtering source `name` with cfg,
// bypassing the debounce — the Enter/submit path of spec 4.3.7.
func (c *Coordinator) TriggerFilter(name string, cfg filter.Filter) {
	s, ok := c.sources[name]
	if !ok {
		return
	}
	s.FilterConfig = &cfg
	c.startFilter(s)
}

func (c *Coordinator) drainWatcher() []Event {
	if c.watcher == nil {
		return nil
	}
	var out []Event
	for {
		select {
		case ev, ok := <-c.watcher.Events():
			if !ok {
				c.watcher = nil
				return out
			}
			if name, known := c.pathToName[ev.Source]; known {
				ev.Source = name
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (c *Coordinator) drainFilters() []Event {
	var out []Event
	for name, ch := range c.filterChans {
		out = append(out, c.drainOneFilter(name, ch)...)
	}
	return out
}

// drainOneFilter try-receives every buffered message on ch without
// blocking, removing it from filterChans once it closes or delivers a
// terminal message.
func (c *Coordinator) drainOneFilter(name string, ch <-chan filter.Progress) []Event {
	var out []Event
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				delete(c.filterChans, name)
				return out
			}
			out = append(out, progressToEvent(name, p))
			if p.Complete != nil || p.Err != nil {
				delete(c.filterChans, name)
				return out
			}
		default:
			return out
		}
	}
}

func progressToEvent(name string, p filter.Progress) Event {
	switch {
	case p.Partial != nil:
		return Event{Kind: EventFilterPartial, Source: name, Matches: p.Partial.Matches, LinesProcessed: p.Partial.LinesProcessed}
	case p.Err != nil:
		return Event{Kind: EventFilterError, Source: name, Err: p.Err}
	default:
		e := Event{Kind: EventFilterComplete, Source: name, Matches: p.Complete.FinalBatch, LinesProcessed: p.Complete.TotalLinesProcessed}
		if p.Complete.Aggregation != nil {
			e.Aggregation = p.Complete.Aggregation
		}
		return e
	}
}

func (c *Coordinator) drainStreams() []Event {
	var out []Event
	for name, ch := range c.streamChans {
		out = append(out, c.drainOneStream(name, ch)...)
	}
	return out
}

func (c *Coordinator) drainOneStream(name string, ch <-chan streamMsg) []Event {
	var out []Event
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				// Channel closed without a terminal streamMsg: silent
				// thread death (spec 4.5.6).
				out = append(out, Event{Kind: EventStreamClosed, Source: name, StreamErr: errors.NewReaderError("stream", name, errUnexpectedStreamClose)})
				delete(c.streamChans, name)
				return out
			}
			if msg.closed {
				out = append(out, Event{Kind: EventStreamClosed, Source: name, StreamErr: msg.err})
				delete(c.streamChans, name)
				return out
			}
			out = append(out, Event{Kind: EventStreamAppended, Source: name, StreamBytes: msg.lines})
		default:
			return out
		}
	}
}

// ApplyEvent is the single dispatcher spec 4.5.2 requires for collected
// events: watcher, filter, stream and index-build goroutines never touch
// source state, their results reach it only through here. On the
// coordinator's own thread, checkDebounce and TriggerFilter also start
// filters directly.
func (c *Coordinator) ApplyEvent(e Event) {
	switch e.Kind {
	case EventInput:
		c.applyInput(e)
	case EventFileGrew:
		c.applyFileGrew(e)
	case EventFileTruncated:
		c.applyFileTruncated(e)
	case EventSourceLost:
		c.applySourceLost(e)
	case EventFilterPartial:
		c.applyFilterPartial(e)
	case EventFilterComplete:
		c.applyFilterComplete(e)
	case EventFilterError:
		c.applyFilterFailed(e)
	case EventStreamAppended:
		c.applyStreamAppended(e)
	case EventStreamClosed:
		c.applyStreamClosed(e)
	case EventIndexReady:
		c.applyIndexReady(e)
	case EventTick:
		// no-op placeholder event, used by tests to force a dispatch cycle
	}
}

func (c *Coordinator) applyInput(e Event) {
	switch e.InputVerb {
	case VerbQuit:
		c.Quit()
	case VerbNextSource:
		c.cycleActive(1)
	case VerbPrevSource:
		c.cycleActive(-1)
	}
	active := c.Active()
	if active == nil {
		return
	}
	switch e.InputVerb {
	case VerbEnterFilter:
		active.EnterFilterInput()
	case VerbFilterKeystroke:
		active.BeginPending(time.Now(), c.tunables.DebounceInterval, e.InputText)
	case VerbSubmitFilter:
		active.PendingFilterDeadline = time.Time{}
		c.submitFilter(active)
	case VerbEscape:
		active.CancelFilterInput() // also cancels any active FilterCancel token
	case VerbToggleFollow:
		active.FollowMode = !active.FollowMode
	}
}

// filterFromPattern builds the filter.Filter spec 4.3.1 assigns to typed
// filter-input text: plain substring matching by default, or Regex when
// the pattern carries the "re:" prefix this input layer uses to select
// it. Structured Query predicates (spec 4.3.1's third variant) have no
// text grammar wired at this input layer — see DESIGN.md.
func filterFromPattern(pattern string) (filter.Filter, error) {
	if rest, ok := strings.CutPrefix(pattern, "re:"); ok {
		return filter.NewRegex(rest, true)
	}
	return filter.NewPlain(pattern, true), nil
}

// submitFilter turns the source's accumulated PendingPattern into a
// filter.Filter and starts it, bypassing the debounce (spec 4.3.7, "Enter
// transition"). Invalid input (bad regex) is logged and leaves the
// source's existing filter state untouched, per spec 7's "keep previous
// filter state" requirement for invalid-input errors.
func (c *Coordinator) submitFilter(s *source.Source) {
	if s.PendingPattern == "" {
		return
	}
	cfg, err := filterFromPattern(s.PendingPattern)
	if err != nil {
		debug.LogCoord("invalid filter pattern for %s: %v", s.Name, err)
		s.LastFilterErr = err
		return
	}
	s.FilterConfig = &cfg
	c.startFilter(s)
}

func (c *Coordinator) cycleActive(dir int) {
	if len(c.order) == 0 {
		return
	}
	idx := 0
	for i, n := range c.order {
		if n == c.active {
			idx = i
			break
		}
	}
	idx = (idx + dir + len(c.order)) % len(c.order)
	c.active = c.order[idx]
}

func (c *Coordinator) applyFileGrew(e Event) {
	s, ok := c.sources[e.Source]
	if !ok {
		return
	}
	oldTotal, newTotal, err := s.OnFileGrew()
	if err != nil {
		debug.LogCoord("reload failed for %s: %v", e.Source, err)
		return
	}
	if s.FilterState == source.FilterRunning && s.FilterConfig != nil && newTotal > oldTotal {
		// Incremental filter over [oldTotal, newTotal) per spec 4.4's
		// on_file_modified growth path. A plain case-sensitive filter
		// takes the grep-style path, which ignores Range and rescans the
		// whole file; MergePartial drops the matches already in MatchSet.
		tok := s.FilterCancel
		req := filter.SearchRequest{
			Path:     s.SourcePath,
			Reader:   s.Reader,
			Filter:   *s.FilterConfig,
			Index:    s.IndexReader,
			Range:    &filter.LineRange{Start: oldTotal, End: newTotal},
			Tunables: c.tunables,
			Cancel:   tok,
		}
		c.filterChans[s.Name] = c.engine.Search(req)
	}
}

func (c *Coordinator) applyFileTruncated(e Event) {
	s, ok := c.sources[e.Source]
	if !ok {
		return
	}
	if err := s.OnFileTruncated(); err != nil {
		debug.LogCoord("reload after truncation failed for %s: %v", e.Source, err)
	}
	delete(c.filterChans, e.Source)
}

func (c *Coordinator) applySourceLost(e Event) {
	if s, ok := c.sources[e.Source]; ok {
		s.OnSourceLost()
	}
}

func (c *Coordinator) applyFilterPartial(e Event) {
	s, ok := c.sources[e.Source]
	if !ok || s.FilterState != source.FilterRunning {
		return
	}
	s.MergePartial(e.Matches, e.LinesProcessed)
}

func (c *Coordinator) applyFilterComplete(e Event) {
	s, ok := c.sources[e.Source]
	if !ok {
		return
	}
	s.CompleteFilter(e.Matches, e.LinesProcessed)
}

// applyFilterFailed transitions to Failed without touching MatchSet in
// either case — FailFilter never clears results, satisfying spec §7's
// requirement that invalid input (as opposed to a transient scan failure)
// must not clear what's already on screen.
func (c *Coordinator) applyFilterFailed(e Event) {
	s, ok := c.sources[e.Source]
	if !ok {
		return
	}
	debug.LogCoord("filter failed for %s: %v", e.Source, e.Err)
	s.FailFilter()
}

// applyIndexReady attaches the reader from a completed lazy background
// index build (spec 4.2.3). A failed build just stays unindexed — the
// source already works without one, it just takes the unaccelerated
// dispatch paths (spec 4.3.2).
func (c *Coordinator) applyIndexReady(e Event) {
	s, ok := c.sources[e.Source]
	if !ok {
		return
	}
	if e.IndexErr != nil {
		debug.LogIndex("lazy build failed for %s: %v", e.Source, e.IndexErr)
		return
	}
	s.AttachIndex(e.IndexReader)
	debug.LogIndex("lazy build complete for %s (%d entries)", e.Source, e.IndexReader.EntryCount())
}

func (c *Coordinator) applyStreamAppended(e Event) {
	s, ok := c.sources[e.Source]
	if !ok {
		return
	}
	if err := s.AppendStreamBytes(e.StreamBytes); err != nil {
		debug.LogCoord("stream append failed for %s: %v", e.Source, err)
	}
}

func (c *Coordinator) applyStreamClosed(e Event) {
	if e.StreamErr != nil {
		debug.LogCoord("stream %s closed unexpectedly: %v", e.Source, e.StreamErr)
	}
	delete(c.streamChans, e.Source)
}

// errUnexpectedStreamClose marks a stream channel that closed without ever
// sending a terminal streamMsg — the stdin reader goroutine died silently
// rather than reaching EOF or an I/O error it reported (spec 4.5.6).
var errUnexpectedStreamClose = stderrors.New("stream reader goroutine exited without signaling closure")
