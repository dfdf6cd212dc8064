package filter

import (
	"bytes"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/standardbeagle/lazytail/internal/errors"
)

// openMmap opens path and maps it read-only. The caller must Unmap and
// close the file. Returns ok=false (no error) for an empty file, which
// scanners treat as zero lines.
func openMmap(path string) (data mmap.MMap, file *os.File, ok bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, false, errors.NewReaderError("open", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, false, errors.NewReaderError("stat", path, err)
	}
	if info.Size() == 0 {
		f.Close()
		return nil, nil, false, nil
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, nil, false, errors.NewReaderError("mmap", path, err)
	}
	return m, f, true, nil
}

func closeMmap(data mmap.MMap, f *os.File) {
	if data != nil {
		data.Unmap()
	}
	if f != nil {
		f.Close()
	}
}

func cancelPollEvery(every int) int {
	if every <= 0 {
		return 10_000
	}
	return every
}

// lineAt extracts bytes [off, nextLF) from data, or to EOF.
func lineAt(data []byte, off int) []byte {
	if off < 0 || off > len(data) {
		return nil
	}
	rest := data[off:]
	i := bytes.IndexByte(rest, '\n')
	if i < 0 {
		return rest
	}
	return rest[:i]
}

// countNewlinesTo returns the byte offset of the start of targetLine by
// counting LF bytes from the beginning of data (used when no offsets
// column is available to seek directly).
func countNewlinesTo(data []byte, targetLine int) int {
	if targetLine <= 0 {
		return 0
	}
	line := 0
	start := 0
	for start < len(data) {
		i := bytes.IndexByte(data[start:], '\n')
		if i < 0 {
			return start
		}
		start += i + 1
		line++
		if line == targetLine {
			return start
		}
	}
	return start
}

// computeAggregation builds the terminal aggregation event from the full
// match set, per spec 4.3.6: extract group-by values per matched line,
// count, sort descending, truncate to top N.
func computeAggregation(agg *Aggregation, q *Query, getLine func(lineNo int) []byte, matches []int) *AggregationResult {
	if agg == nil {
		return nil
	}
	type group = struct {
		key   []string
		count int
		lines []int
	}
	index := make(map[string]*group)
	var order []*group

	for _, lineNo := range matches {
		line := getLine(lineNo)
		fields := q.extractFields(line)
		key := make([]string, len(agg.GroupBy))
		for i, f := range agg.GroupBy {
			v, _ := lookupPath(fields, f)
			key[i] = toComparableString(v)
		}
		joined := joinKey(key)
		g, ok := index[joined]
		if !ok {
			g = &group{key: key}
			index[joined] = g
			order = append(order, g)
		}
		g.count++
		g.lines = append(g.lines, lineNo)
	}

	sortGroupsDesc(order)
	if agg.TopN > 0 && len(order) > agg.TopN {
		order = order[:agg.TopN]
	}

	out := &AggregationResult{Groups: make([]AggregationGroup, len(order))}
	for i, g := range order {
		out.Groups[i] = AggregationGroup{Key: g.key, Count: g.count, Lines: g.lines}
	}
	return out
}

func joinKey(parts []string) string {
	var b bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(0)
		}
		b.WriteString(p)
	}
	return b.String()
}

func sortGroupsDesc(groups []*struct {
	key   []string
	count int
	lines []int
}) {
	for i := 1; i < len(groups); i++ {
		for j := i; j > 0 && groups[j].count > groups[j-1].count; j-- {
			groups[j], groups[j-1] = groups[j-1], groups[j]
		}
	}
}
