package sockproxy

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := map[string]struct {
		d    time.Duration
		want string
	}{
		"zero":         {0, "00m00"},
		"under-minute": {45 * time.Second, "00m45"},
		"minutes":      {5*time.Minute + 9*time.Second, "05m09"},
		"under-hour":   {59*time.Minute + 59*time.Second, "59m59"},
		"under-100m":   {99*time.Minute + 59*time.Second, "99m59"},
		"boundary":     {100 * time.Minute, "01h40"},
		"hours":        {3*time.Hour + 25*time.Minute, "03h25"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := formatDuration(tc.d); got != tc.want {
				t.Fatalf("formatDuration(%v) = %q, want %q", tc.d, got, tc.want)
			}
		})
	}
}

func TestSplitKV(t *testing.T) {
	k, v, ok := splitKV("RTIM=5000")
	if !ok || k != "RTIM" || v != "5000" {
		t.Fatalf("got %q %q %v", k, v, ok)
	}
	if _, _, ok := splitKV("NOEQUALS"); ok {
		t.Fatal("expected ok=false for token without '='")
	}
}

func TestParseMs(t *testing.T) {
	if v, err := parseMs("5000"); err != nil || v != 5000 {
		t.Fatalf("got %d %v", v, err)
	}
	if _, err := parseMs("-1"); err == nil {
		t.Fatal("expected error for negative value")
	}
	if _, err := parseMs("abc"); err == nil {
		t.Fatal("expected error for non-numeric value")
	}
}
