package daemon

import "testing"

func TestFormatHitRate(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0, "0.0%"},
		{0.5, "50.0%"},
		{0.8, "80.0%"},
		{2.0 / 3.0, "66.7%"},
		{1, "100.0%"},
	}
	for _, tt := range tests {
		if got := formatHitRate(tt.rate); got != tt.want {
			t.Errorf("formatHitRate(%v) = %q, want %q", tt.rate, got, tt.want)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", "debug"},
		{"WARN", "warn"},
		{" error ", "error"},
		{"warning", "warn"},
		{"bogus", "info"},
		{"", "info"},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got.String() != tt.want {
			t.Errorf("parseLogLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
