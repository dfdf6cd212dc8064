package filter

// scanReaderBacked serves dispatch path 1 (spec 4.3.2): stream sources have
// no backing path, only the shared reader. The lock is held only for the
// span of a single GetLine call (spec 4.3.5), so concurrent appends from the
// stdin reader goroutine never block a scan for more than one line.
func scanReaderBacked(ch chan Progress, req SearchRequest) {
	b := newBatcher(ch, req.Tunables)
	poll := cancelPollEvery(req.Tunables.CancelPollLines)

	total := req.Reader.TotalLines()
	start, end := 0, total
	if req.Range != nil {
		start, end = req.Range.Start, req.Range.End
	}

	var all []int
	for i := start; i < end; i++ {
		if req.Cancel != nil && i%poll == 0 && req.Cancel.Cancelled() {
			b.finish(nil)
			return
		}
		line, ok := req.Reader.GetLine(i)
		if !ok {
			break
		}
		matched := req.Filter.Matches(line)
		b.record(i, matched)
		if matched {
			all = append(all, i)
		}
	}

	getLine := func(lineNo int) []byte {
		line, _ := req.Reader.GetLine(lineNo)
		return line
	}
	b.finish(maybeAggregate(req, getLine, all))
}

// maybeAggregate computes the terminal aggregation, reading matched lines
// back through getLine, when the request's filter carries an Aggregation
// clause. Each scanner supplies a getLine suited to its own data source.
func maybeAggregate(req SearchRequest, getLine func(int) []byte, matches []int) *AggregationResult {
	if req.Filter.Kind != KindQuery || req.Filter.Query == nil || req.Filter.Query.Agg == nil {
		return nil
	}
	return computeAggregation(req.Filter.Query.Agg, req.Filter.Query, getLine, matches)
}
