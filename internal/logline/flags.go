// Package logline defines the per-line data model shared by the reader,
// columnar index, and filter engine: the flags word, severity ranking, and
// the line-format detectors that populate them.
package logline

import (
	"bytes"
	"encoding/json"
)

// Severity is the first-match severity rank encoded in bits 0-2 of Flags.
type Severity uint8

const (
	SeverityUnknown Severity = iota
	SeverityTrace
	SeverityDebug
	SeverityInfo
	SeverityWarn
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityTrace:
		return "trace"
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Flags bit layout, per spec section 3.
const (
	FlagSeverityMask    uint32 = 0x7 // bits 0-2
	FlagFormatJSON      uint32 = 1 << 3
	FlagFormatLogfmt    uint32 = 1 << 4
	FlagHasANSI         uint32 = 1 << 5
	FlagHasTimestamp    uint32 = 1 << 6
	FlagHasTraceID      uint32 = 1 << 7
	FlagIsEmpty         uint32 = 1 << 8
	FlagIsMultilineCont uint32 = 1 << 9
	FlagTemplateShift           = 16
)

// SeverityOf extracts the severity rank carried in bits 0-2.
func SeverityOf(flags uint32) Severity {
	return Severity(flags & FlagSeverityMask)
}

// severityKeywords is scanned left to right; the first match wins regardless
// of rank (spec P5: "INFO processing error" is INFO, not error).
var severityKeywords = []struct {
	word string
	sev  Severity
}{
	{"fatal", SeverityFatal},
	{"error", SeverityError},
	{"warning", SeverityWarn},
	{"warn", SeverityWarn},
	{"info", SeverityInfo},
	{"debug", SeverityDebug},
	{"trace", SeverityTrace},
}

const severityScanWindow = 80
const timestampScanWindow = 30
const logfmtScanWindow = 120

// DetectFlags computes the flags word for a raw line per spec section 4.2.2.
func DetectFlags(line []byte) uint32 {
	var flags uint32

	if isEmpty(line) {
		flags |= FlagIsEmpty
	}

	flags |= uint32(detectSeverity(line))

	isJSON := detectJSON(line)
	if isJSON {
		flags |= FlagFormatJSON
	} else if detectLogfmt(line) {
		flags |= FlagFormatLogfmt
	}

	if detectANSI(line) {
		flags |= FlagHasANSI
	}

	if detectTimestamp(line) {
		flags |= FlagHasTimestamp
	}

	return flags
}

func isEmpty(line []byte) bool {
	return len(bytes.TrimSpace(line)) == 0
}

// detectSeverity scans the first severityScanWindow bytes, case-folding
// ASCII, for the first occurrence (by byte position) of a severity keyword
// bounded by non-alphanumeric word boundaries.
func detectSeverity(line []byte) Severity {
	window := line
	if len(window) > severityScanWindow {
		window = window[:severityScanWindow]
	}
	lower := toLowerASCII(window)

	bestPos := -1
	bestSev := SeverityUnknown
	for _, kw := range severityKeywords {
		idx := indexWordBoundary(lower, kw.word)
		if idx >= 0 && (bestPos == -1 || idx < bestPos) {
			bestPos = idx
			bestSev = kw.sev
		}
	}
	return bestSev
}

// indexWordBoundary returns the byte offset of the first occurrence of word
// in s that is bounded by non-[A-Za-z0-9_] bytes on both sides, or -1.
func indexWordBoundary(s []byte, word string) int {
	start := 0
	for {
		idx := bytes.Index(s[start:], []byte(word))
		if idx < 0 {
			return -1
		}
		pos := start + idx
		before := pos - 1
		after := pos + len(word)
		beforeOK := before < 0 || !isWordByte(s[before])
		afterOK := after >= len(s) || !isWordByte(s[after])
		if beforeOK && afterOK {
			return pos
		}
		start = pos + 1
		if start >= len(s) {
			return -1
		}
	}
}

func isWordByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

func toLowerASCII(s []byte) []byte {
	out := make([]byte, len(s))
	for i, b := range s {
		if b >= 'A' && b <= 'Z' {
			b += 'a' - 'A'
		}
		out[i] = b
	}
	return out
}

// detectJSON reports whether the trimmed line starts with '{' and parses as
// a valid JSON value. A cheap prefix check guards the full parse.
func detectJSON(line []byte) bool {
	trimmed := bytes.TrimLeft(line, " \t")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Valid(trimmed)
}

// detectLogfmt reports whether the line contains a k=v pair, key matching
// [A-Za-z_][A-Za-z0-9_]*, starting before byte logfmtScanWindow.
func detectLogfmt(line []byte) bool {
	window := line
	if len(window) > logfmtScanWindow {
		window = window[:logfmtScanWindow]
	}
	for i := 0; i < len(window); i++ {
		eq := bytes.IndexByte(window[i:], '=')
		if eq < 0 {
			return false
		}
		eq += i
		keyStart := eq
		for keyStart > 0 && isWordByte(window[keyStart-1]) {
			keyStart--
		}
		if keyStart == eq {
			i = eq
			continue
		}
		first := window[keyStart]
		if first == '_' || (first >= 'a' && first <= 'z') || (first >= 'A' && first <= 'Z') {
			return true
		}
		i = eq
	}
	return false
}

// detectANSI reports whether the line contains a CSI escape sequence
// (ESC followed by '[').
func detectANSI(line []byte) bool {
	idx := bytes.IndexByte(line, 0x1B)
	for idx >= 0 && idx+1 < len(line) {
		if line[idx+1] == '[' {
			return true
		}
		next := bytes.IndexByte(line[idx+1:], 0x1B)
		if next < 0 {
			return false
		}
		idx = idx + 1 + next
	}
	return false
}

// detectTimestamp reports whether the first timestampScanWindow bytes look
// like a leading "YYYY-" date or an "HH:MM:SS" clock.
func detectTimestamp(line []byte) bool {
	window := line
	if len(window) > timestampScanWindow {
		window = window[:timestampScanWindow]
	}
	if looksLikeISODate(window) {
		return true
	}
	return looksLikeClock(window)
}

func looksLikeISODate(window []byte) bool {
	if len(window) < 5 {
		return false
	}
	for i := 0; i < 4; i++ {
		if window[i] < '0' || window[i] > '9' {
			return false
		}
	}
	if window[4] != '-' {
		return false
	}
	for i := 5; i < len(window); i++ {
		b := window[i]
		if !(b >= '0' && b <= '9') && b != ':' && b != '-' {
			return i > 5
		}
	}
	return true
}

func looksLikeClock(window []byte) bool {
	for i := 0; i+8 <= len(window); i++ {
		seg := window[i : i+8]
		if isDigit(seg[0]) && isDigit(seg[1]) && seg[2] == ':' &&
			isDigit(seg[3]) && isDigit(seg[4]) && seg[5] == ':' &&
			isDigit(seg[6]) && isDigit(seg[7]) {
			return true
		}
	}
	return false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
