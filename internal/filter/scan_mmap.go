package filter

import "bytes"

// scanGenericMmap serves dispatch path 5 (spec 4.3.2, 4.3.4c): the fallback
// used for regex and structured-query filters with no usable index, or a
// case-insensitive plain filter. It walks LF boundaries and applies
// Filter.Matches per line.
func scanGenericMmap(ch chan Progress, req SearchRequest) {
	b := newBatcher(ch, req.Tunables)
	poll := cancelPollEvery(req.Tunables.CancelPollLines)

	data, f, ok, err := openMmap(req.Path)
	if err != nil {
		b.fail(err)
		return
	}
	if !ok {
		b.finish(nil)
		return
	}
	defer closeMmap(data, f)

	raw := []byte(data)
	lineNo := 0
	lineStart := 0
	var all []int

	for lineStart <= len(raw) {
		end := bytes.IndexByte(raw[lineStart:], '\n')
		var line []byte
		var next int
		if end < 0 {
			if lineStart == len(raw) {
				break
			}
			line = raw[lineStart:]
			next = len(raw) + 1
		} else {
			line = raw[lineStart : lineStart+end]
			next = lineStart + end + 1
		}

		matched := req.Filter.Matches(line)
		b.record(lineNo, matched)
		if matched {
			all = append(all, lineNo)
		}

		if req.Cancel != nil && lineNo%poll == 0 && req.Cancel.Cancelled() {
			b.finish(nil)
			return
		}

		lineNo++
		lineStart = next
	}

	getLine := func(ln int) []byte { return lineAt(raw, countNewlinesTo(raw, ln)) }
	b.finish(maybeAggregate(req, getLine, all))
}
