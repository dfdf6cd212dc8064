package filter

// scanIndexedStreaming serves dispatch path 3 (spec 4.3.2, 4.3.4b): the
// filter's query carries an index mask (JSON or logfmt format bit), so the
// columnar index's candidate_bitmap narrows the scan to only those lines
// before the full predicate (field comparisons) is evaluated.
func scanIndexedStreaming(ch chan Progress, req SearchRequest) {
	b := newBatcher(ch, req.Tunables)
	poll := cancelPollEvery(req.Tunables.CancelPollLines)

	mask, want, ok := req.Filter.IndexMask()
	if !ok {
		// Defensive: dispatch should not have chosen this path otherwise.
		scanGenericMmap(ch, req)
		return
	}

	data, f, hasData, err := openMmap(req.Path)
	if err != nil {
		b.fail(err)
		return
	}
	if hasData {
		defer closeMmap(data, f)
	}
	raw := []byte(data)

	candidates := req.Index.CandidateBitmap(mask, want)

	var all []int
	checked := 0
	for i, e := candidates.NextSet(0); e; i, e = candidates.NextSet(i + 1) {
		lineNo := int(i)

		off, haveOff := req.Index.Offset(lineNo)
		var line []byte
		if haveOff && raw != nil {
			length, haveLen := req.Index.Length(lineNo)
			start := int(off)
			if haveLen {
				end := start + int(length)
				if end <= len(raw) && start <= end {
					line = raw[start:end]
				}
			} else {
				line = lineAt(raw, start)
			}
		} else if req.Reader != nil {
			line, _ = req.Reader.GetLine(lineNo)
		}

		matched := line != nil && req.Filter.Matches(line)
		b.record(lineNo, matched)
		if matched {
			all = append(all, lineNo)
		}

		checked++
		if req.Cancel != nil && checked%poll == 0 && req.Cancel.Cancelled() {
			b.finish(nil)
			return
		}
	}

	getLine := func(ln int) []byte {
		off, haveOff := req.Index.Offset(ln)
		if haveOff && raw != nil {
			return lineAt(raw, int(off))
		}
		if req.Reader != nil {
			line, _ := req.Reader.GetLine(ln)
			return line
		}
		return nil
	}
	b.finish(maybeAggregate(req, getLine, all))
}
