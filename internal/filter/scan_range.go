package filter

// scanRange serves dispatch path 4 (spec 4.3.2): an explicit line range was
// requested. It seeks directly via the offsets column when an index is
// available, falling back to a newline count from byte 0 otherwise.
func scanRange(ch chan Progress, req SearchRequest) {
	b := newBatcher(ch, req.Tunables)
	poll := cancelPollEvery(req.Tunables.CancelPollLines)

	start, end := req.Range.Start, req.Range.End

	data, f, hasData, err := openMmap(req.Path)
	if err != nil {
		b.fail(err)
		return
	}
	if hasData {
		defer closeMmap(data, f)
	}
	raw := []byte(data)

	var startOffset int
	if req.Index != nil {
		if off, ok := req.Index.Offset(start); ok {
			startOffset = int(off)
		} else {
			startOffset = countNewlinesTo(raw, start)
		}
	} else {
		startOffset = countNewlinesTo(raw, start)
	}

	var all []int
	pos := startOffset
	for lineNo := start; lineNo < end; lineNo++ {
		line := lineAt(raw, pos)
		if line == nil && pos >= len(raw) {
			break
		}
		matched := req.Filter.Matches(line)
		b.record(lineNo, matched)
		if matched {
			all = append(all, lineNo)
		}

		if req.Cancel != nil && (lineNo-start)%poll == 0 && req.Cancel.Cancelled() {
			b.finish(nil)
			return
		}

		pos += len(line) + 1
	}

	getLine := func(ln int) []byte {
		if req.Index != nil {
			if off, ok := req.Index.Offset(ln); ok {
				return lineAt(raw, int(off))
			}
		}
		return lineAt(raw, countNewlinesTo(raw, ln))
	}
	b.finish(maybeAggregate(req, getLine, all))
}
