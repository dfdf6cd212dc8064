package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/standardbeagle/lazytail/internal/coordinator"
	"github.com/standardbeagle/lazytail/internal/source"
)

// plainRenderer is the minimal Renderer this entrypoint ships. The actual
// vim-style viewport, side panel, status bar, and help overlay are named
// explicit external collaborators in spec section 1's Non-goals; this
// writes a status line plus the tail of whatever's currently visible so
// the CLI is a working program without pretending to be that UI.
type plainRenderer struct {
	out       io.Writer
	lastLine  int
	tailLines int
}

func newPlainRenderer(out io.Writer) *plainRenderer {
	return &plainRenderer{out: out, lastLine: -1, tailLines: 20}
}

func (r *plainRenderer) Render(active *source.Source) error {
	display := active.TotalDisplayLines()
	if display == 0 {
		fmt.Fprintf(r.out, "\r-- %s: empty --", active.Name)
		return nil
	}

	last, ok := active.LineAtDisplay(display - 1)
	if !ok || last == r.lastLine {
		r.printStatus(active, display)
		return nil
	}

	start := 0
	if display > r.tailLines {
		start = display - r.tailLines
	}
	for i := start; i < display; i++ {
		lineNo, ok := active.LineAtDisplay(i)
		if !ok {
			continue
		}
		content, ok := active.Reader.GetLine(lineNo)
		if !ok {
			continue
		}
		fmt.Fprintf(r.out, "%s\n", content)
	}
	r.lastLine = last
	r.printStatus(active, display)
	return nil
}

func (r *plainRenderer) printStatus(active *source.Source, display int) {
	mode := "normal"
	if active.Mode == source.ModeFiltered {
		mode = fmt.Sprintf("filtered(%d)", len(active.MatchSet))
	}
	fmt.Fprintf(r.out, "-- %s [%s] %s, %d/%d lines --\n",
		active.Name, active.SourceStatus, mode, display, active.TotalLines)
}

// lineCommand is one parsed line of terminal input, translated into the
// ordered sequence of coordinator.Event values it represents. A plain
// command ("q", "n", "p", "f", "j", "k", "esc") is a single event; a
// filter command ("/pattern") expands to enter-filter, keystroke, submit —
// the raw-keystroke-by-keystroke protocol spec 4.5.2 describes, collapsed
// here since this reader only ever gets a complete line at a time.
func lineCommand(line string) []coordinator.Event {
	line = strings.TrimRight(line, "\r\n")
	switch {
	case line == "q":
		return []coordinator.Event{{Kind: coordinator.EventInput, InputVerb: coordinator.VerbQuit}}
	case line == "n":
		return []coordinator.Event{{Kind: coordinator.EventInput, InputVerb: coordinator.VerbNextSource}}
	case line == "p":
		return []coordinator.Event{{Kind: coordinator.EventInput, InputVerb: coordinator.VerbPrevSource}}
	case line == "f":
		return []coordinator.Event{{Kind: coordinator.EventInput, InputVerb: coordinator.VerbToggleFollow}}
	case line == "j":
		return []coordinator.Event{{Kind: coordinator.EventInput, InputVerb: coordinator.VerbDown}}
	case line == "k":
		return []coordinator.Event{{Kind: coordinator.EventInput, InputVerb: coordinator.VerbUp}}
	case line == "esc":
		return []coordinator.Event{{Kind: coordinator.EventInput, InputVerb: coordinator.VerbEscape}}
	case strings.HasPrefix(line, "/"):
		pattern := strings.TrimPrefix(line, "/")
		return []coordinator.Event{
			{Kind: coordinator.EventInput, InputVerb: coordinator.VerbEnterFilter},
			{Kind: coordinator.EventInput, InputVerb: coordinator.VerbFilterKeystroke, InputText: pattern},
			{Kind: coordinator.EventInput, InputVerb: coordinator.VerbSubmitFilter},
		}
	default:
		return nil
	}
}

// lineInput is the InputReader this entrypoint wires when stdin is a TTY.
// A single background goroutine scans complete lines (the only input shape
// this plain terminal reader supports) and expands each into zero or more
// queued events; ReadInput drains the queue first, then waits up to
// timeout for the next line.
type lineInput struct {
	lines chan string
	queue []coordinator.Event
}

func newLineInput(r io.Reader) *lineInput {
	li := &lineInput{lines: make(chan string, 16)}
	go func() {
		defer close(li.lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			li.lines <- sc.Text()
		}
	}()
	return li
}

func (li *lineInput) ReadInput(timeout time.Duration) (coordinator.Event, bool) {
	if len(li.queue) > 0 {
		ev := li.queue[0]
		li.queue = li.queue[1:]
		return ev, true
	}

	select {
	case line, ok := <-li.lines:
		if !ok {
			return coordinator.Event{}, false
		}
		evs := lineCommand(line)
		if len(evs) == 0 {
			return coordinator.Event{}, false
		}
		li.queue = evs[1:]
		return evs[0], true
	case <-time.After(timeout):
		return coordinator.Event{}, false
	}
}

// noInput is the InputReader used when stdin itself is the log stream
// (piped input): there is no keyboard left to read from, so the process
// quits only on SIGINT/SIGTERM, handled at the process level.
type noInput struct{}

func (noInput) ReadInput(timeout time.Duration) (coordinator.Event, bool) {
	time.Sleep(timeout)
	return coordinator.Event{}, false
}
