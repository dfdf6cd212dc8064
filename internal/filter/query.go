package filter

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/go-logfmt/logfmt"

	"github.com/standardbeagle/lazytail/internal/logline"
)

// ParserKind selects how a query extracts fields from a raw line.
type ParserKind int

const (
	ParserAuto ParserKind = iota
	ParserJSON
	ParserLogfmt
)

// Op is a comparison operator (spec 4.3.1).
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpContains
	OpStartsWith
	OpEndsWith
)

// Comparison is one (field_path, op, value) predicate leaf.
type Comparison struct {
	FieldPath string // dot-separated; numeric segments index arrays
	Op        Op
	Value     string // the literal as written; typed comparison is applied at evaluation time
}

// Aggregation is the optional "| count by (f1,...) [top N]" clause. It is
// not a line predicate: it describes post-filter state the engine computes
// once scanning completes (spec 4.3.6).
type Aggregation struct {
	GroupBy []string
	TopN    int // 0 means no limit
}

// Query is the structured predicate AST: Parser ∘ Conjunction(Comparison*).
type Query struct {
	Parser      ParserKind
	Comparisons []Comparison
	Agg         *Aggregation
}

// Evaluate reports whether every comparison in the conjunction holds for
// line, under the query's field-extraction parser.
func (q *Query) Evaluate(line []byte) bool {
	fields := q.extractFields(line)
	if fields == nil {
		return false
	}
	for _, c := range q.Comparisons {
		v, ok := lookupPath(fields, c.FieldPath)
		if !ok {
			return false
		}
		if !evalComparison(v, c.Op, c.Value) {
			return false
		}
	}
	return true
}

// IndexMask returns the flag bits this query requires, if any, so dispatch
// can pre-filter with the columnar index's candidate_bitmap (spec 4.3.1).
func (q *Query) IndexMask() (mask, want uint32, ok bool) {
	switch q.Parser {
	case ParserJSON:
		return logline.FlagFormatJSON, logline.FlagFormatJSON, true
	case ParserLogfmt:
		return logline.FlagFormatLogfmt, logline.FlagFormatLogfmt, true
	default:
		return 0, 0, false
	}
}

// extractFields parses line into a generic field map per q.Parser. Auto
// tries JSON, then logfmt, returning nil if neither applies.
func (q *Query) extractFields(line []byte) map[string]interface{} {
	switch q.Parser {
	case ParserJSON:
		return parseJSONFields(line)
	case ParserLogfmt:
		return parseLogfmtFields(line)
	default:
		if f := parseJSONFields(line); f != nil {
			return f
		}
		return parseLogfmtFields(line)
	}
}

func parseJSONFields(line []byte) map[string]interface{} {
	trimmed := trimLeftSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil
	}
	return out
}

func parseLogfmtFields(line []byte) map[string]interface{} {
	dec := logfmt.NewDecoder(bytes.NewReader(line))
	out := make(map[string]interface{})
	found := false
	for dec.ScanRecord() {
		for dec.ScanKeyval() {
			if dec.Key() == nil {
				continue
			}
			out[string(dec.Key())] = string(dec.Value())
			found = true
		}
	}
	if dec.Err() != nil || !found {
		return nil
	}
	return out
}

func trimLeftSpace(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t') {
		i++
	}
	return b[i:]
}

// lookupPath walks a dot-separated field path through nested maps/slices,
// with numeric segments treated as array indices.
func lookupPath(fields map[string]interface{}, path string) (interface{}, bool) {
	segments := strings.Split(path, ".")
	var cur interface{} = fields
	for _, seg := range segments {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// evalComparison applies op between the extracted value v and the literal
// rhs, with typed comparison promotion: numeric if both sides parse as
// numbers, string otherwise (spec 4.3.1).
func evalComparison(v interface{}, op Op, rhs string) bool {
	lhsStr := toComparableString(v)

	if op == OpContains || op == OpStartsWith || op == OpEndsWith {
		switch op {
		case OpContains:
			return strings.Contains(lhsStr, rhs)
		case OpStartsWith:
			return strings.HasPrefix(lhsStr, rhs)
		case OpEndsWith:
			return strings.HasSuffix(lhsStr, rhs)
		}
	}

	lhsNum, lhsIsNum := toFloat(v)
	rhsNum, rhsErr := strconv.ParseFloat(rhs, 64)
	if lhsIsNum && rhsErr == nil {
		return compareFloats(lhsNum, rhsNum, op)
	}
	return compareStrings(lhsStr, rhs, op)
}

func toComparableString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case nil:
		return ""
	default:
		return ""
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func compareFloats(a, b float64, op Op) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	default:
		return false
	}
}

func compareStrings(a, b string, op Op) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	default:
		return false
	}
}
