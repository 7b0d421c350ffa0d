package handlers

import "testing"

func TestParseRange(t *testing.T) {
	const size = 1000
	tests := []struct {
		header     string
		start, end int64
	}{
		{"bytes=100-199", 100, 199},
		{"bytes=-50", 950, 999},
		{"bytes=900-", 900, 999},
		{"bytes=0-0", 0, 0},
		{"bytes=990-5000", 990, 999},
		{"bytes=-5000", 0, 999},
		{"bytes=100-199,300-399", 100, 199},
		{" bytes= 10 - 20 ", 10, 20},
		{"", 0, 999},
		{"bytes=abc-def", 0, 999},
		{"items=0-10", 0, 999},
		{"bytes=-", 0, 999},
		{"bytes=-0", 0, 999},
		{"bytes=500-100", 0, 999},
		{"bytes=5000-", 999, 999},
	}
	for _, tt := range tests {
		r := parseRange(tt.header, size)
		if r.start != tt.start || r.end != tt.end {
			t.Errorf("parseRange(%q) = %d-%d, want %d-%d", tt.header, r.start, r.end, tt.start, tt.end)
		}
	}
}

func TestByteRangeHeaders(t *testing.T) {
	r := parseRange("bytes=100-199", 1000)
	if r.length() != 100 {
		t.Fatalf("length = %d", r.length())
	}
	if got := r.contentRange(1000); got != "bytes 100-199/1000" {
		t.Fatalf("content range = %q", got)
	}
}
