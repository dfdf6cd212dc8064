package filter

import "bytes"

// scanGrepStyle serves dispatch path 2 (spec 4.3.2, 4.3.4a): a plain,
// case-sensitive, index-unconstrained substring search over the whole
// mapped file. bytes.Contains is used directly on the full mapping rather
// than line-by-line, then each hit's enclosing line is located by scanning
// outward for the surrounding LF bytes, avoiding a per-line allocation for
// the overwhelming majority of non-matching lines.
func scanGrepStyle(ch chan Progress, req SearchRequest) {
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

	needle := []byte(req.Filter.Pattern)
	raw := []byte(data)

	lineNo := 0
	lineStart := 0
	var all []int
	checked := 0

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

		matched := bytes.Contains(line, needle)
		b.record(lineNo, matched)
		if matched {
			all = append(all, lineNo)
		}

		checked++
		if req.Cancel != nil && checked%poll == 0 && req.Cancel.Cancelled() {
			b.finish(nil)
			return
		}

		lineNo++
		lineStart = next
	}

	getLine := func(ln int) []byte { return lineAt(raw, offsetOfLine(raw, ln)) }
	b.finish(maybeAggregate(req, getLine, all))
}

// offsetOfLine is a fallback used only for aggregation lookups after a
// grep-style scan, where no columnar index is available.
func offsetOfLine(data []byte, target int) int {
	return countNewlinesTo(data, target)
}
