package filter

// Progress is the message type produced on a filter worker's progress
// channel (spec 4.3.3). Exactly one field is meaningful per message: a
// worker emits zero-or-more Partial messages followed by exactly one
// terminal message carrying either Complete or Err.
type Progress struct {
	Partial  *PartialResults
	Complete *CompleteResult
	Err      error
}

// PartialResults is a non-terminal progress update. Matches are ascending
// line numbers not previously delivered by an earlier Partial.
type PartialResults struct {
	Matches        []int
	LinesProcessed int
}

// CompleteResult is the terminal success message. FinalBatch contains only
// matches not already delivered as partials — consumers must union all
// Partial.Matches with FinalBatch to get the complete match set.
type CompleteResult struct {
	FinalBatch         []int
	TotalLinesProcessed int
	Aggregation        *AggregationResult
}

// AggregationResult is the distinct terminal event emitted when the query
// carries an aggregation clause (spec 4.3.6).
type AggregationResult struct {
	Groups []AggregationGroup
}

// AggregationGroup is one group-by bucket, sorted by descending Count by
// the engine before truncation to top N.
type AggregationGroup struct {
	Key   []string // one value per GroupBy field, in order
	Count int
	Lines []int // line numbers in this group, ascending
}

func isPartial(p Progress) bool  { return p.Partial != nil }
func isComplete(p Progress) bool { return p.Complete != nil }
func isError(p Progress) bool    { return p.Err != nil }
