package coordinator

import (
	"github.com/standardbeagle/lazytail/internal/colindex"
	"github.com/standardbeagle/lazytail/internal/filter"
)

// Kind discriminates the coordinator's single Event sum type (spec 4.5.2).
type Kind int

const (
	EventTick Kind = iota
	EventInput
	EventFileGrew
	EventFileTruncated
	EventSourceLost
	EventFilterPartial
	EventFilterComplete
	EventFilterError
	EventAggregationComplete
	EventStreamAppended
	EventStreamClosed
	EventIndexReady
)

func (k Kind) String() string {
	switch k {
	case EventInput:
		return "input"
	case EventFileGrew:
		return "file_grew"
	case EventFileTruncated:
		return "file_truncated"
	case EventSourceLost:
		return "source_lost"
	case EventFilterPartial:
		return "filter_partial"
	case EventFilterComplete:
		return "filter_complete"
	case EventFilterError:
		return "filter_error"
	case EventAggregationComplete:
		return "aggregation_complete"
	case EventStreamAppended:
		return "stream_appended"
	case EventStreamClosed:
		return "stream_closed"
	case EventIndexReady:
		return "index_ready"
	default:
		return "tick"
	}
}

// Verb is the reduced, semantic form of keyboard/mouse input spec 4.5.2
// says an upstream input handler produces; the coordinator never sees raw
// key codes. The set here is the minimal vocabulary the core's state
// transitions need — binding physical keys to these verbs is the
// rendering layer's job and explicitly out of scope (spec §1 Non-goals).
type Verb int

const (
	VerbNone Verb = iota
	VerbQuit
	VerbUp
	VerbDown
	VerbPageUp
	VerbPageDown
	VerbToggleFollow
	VerbEnterFilter
	VerbFilterKeystroke
	VerbSubmitFilter
	VerbEscape
	VerbNextSource
	VerbPrevSource
)

// Event is the single sum type spanning every input the coordinator's
// dispatcher applies (spec 4.5.2). Exactly one payload group is meaningful,
// selected by Kind; Source names which per-source state the event targets
// (empty for global input/tick events).
type Event struct {
	Kind   Kind
	Source string

	// EventInput
	InputVerb  Verb
	InputText  string // full filter-input text so far, for VerbFilterKeystroke

	// EventFileGrew
	OldTotal, NewTotal int

	// EventFilterPartial / EventFilterComplete
	Matches        []int
	LinesProcessed int
	Aggregation    *filter.AggregationResult

	// EventFilterError
	Err error

	// EventStreamAppended
	StreamBytes []byte

	// EventStreamClosed
	StreamErr error // non-nil only on unexpected (silent) thread death

	// EventIndexReady
	IndexReader *colindex.Reader
	IndexErr    error // non-nil if the lazy background build failed
}
