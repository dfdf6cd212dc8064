package logline

import "testing"

func TestDetectFlags_Severity(t *testing.T) {
	cases := []struct {
		line string
		want Severity
	}{
		{"INFO processing error", SeverityInfo}, // first match wins (P5), not highest rank
		{"ERROR something broke", SeverityError},
		{"plain text line", SeverityUnknown},
		{"warning: disk low", SeverityWarn},
		{"a FATAL crash", SeverityFatal},
	}
	for _, c := range cases {
		got := SeverityOf(DetectFlags([]byte(c.line)))
		if got != c.want {
			t.Errorf("DetectFlags(%q) severity = %v, want %v", c.line, got, c.want)
		}
	}
}

func TestDetectFlags_JSON(t *testing.T) {
	flags := DetectFlags([]byte(`{"level":"warn","msg":"hi"}`))
	if flags&FlagFormatJSON == 0 {
		t.Errorf("expected FlagFormatJSON set")
	}
	if SeverityOf(flags) != SeverityWarn {
		t.Errorf("expected warn severity from json level, got %v", SeverityOf(flags))
	}
}

func TestDetectFlags_Logfmt(t *testing.T) {
	flags := DetectFlags([]byte(`level=info msg="hello world" code=200`))
	if flags&FlagFormatLogfmt == 0 {
		t.Errorf("expected FlagFormatLogfmt set")
	}
	if flags&FlagFormatJSON != 0 {
		t.Errorf("logfmt line must not also be marked json")
	}
}

func TestDetectFlags_Empty(t *testing.T) {
	flags := DetectFlags([]byte("   \t  "))
	if flags&FlagIsEmpty == 0 {
		t.Errorf("expected FlagIsEmpty set")
	}
}

func TestDetectFlags_ANSI(t *testing.T) {
	flags := DetectFlags([]byte("\x1b[31mred text\x1b[0m"))
	if flags&FlagHasANSI == 0 {
		t.Errorf("expected FlagHasANSI set")
	}
}

func TestDetectFlags_Timestamp(t *testing.T) {
	iso := DetectFlags([]byte("2024-01-02T03:04:05Z INFO started"))
	if iso&FlagHasTimestamp == 0 {
		t.Errorf("expected timestamp flag for ISO date line")
	}
	clock := DetectFlags([]byte("03:04:05 started up"))
	if clock&FlagHasTimestamp == 0 {
		t.Errorf("expected timestamp flag for clock-shaped line")
	}
	none := DetectFlags([]byte("no timestamp here at all"))
	if none&FlagHasTimestamp != 0 {
		t.Errorf("did not expect timestamp flag")
	}
}

func TestDetectFlags_WordBoundary(t *testing.T) {
	// "terror" must not match "error" as a substring.
	flags := DetectFlags([]byte("a terrorist attack on the system"))
	if SeverityOf(flags) != SeverityUnknown {
		t.Errorf("expected no severity match inside a larger word, got %v", SeverityOf(flags))
	}
}
