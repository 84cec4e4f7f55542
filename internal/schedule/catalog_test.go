package schedule

import (
	"testing"
)

func TestMinutesLookup(t *testing.T) {
	t.Parallel()
	tests := []struct {
		label string
		want  int
		ok    bool
	}{
		{label: "5 minutes", want: 5, ok: true},
		{label: "1 hour", want: 60, ok: true},
		{label: "1 day", want: 1440, ok: true},
		{label: "  1   Hour ", want: 60, ok: true},
		{label: "90 minutes", ok: false},
		{label: "", ok: false},
	}
	for _, tt := range tests {
		got, ok := Minutes(tt.label)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("Minutes(%q) = (%d, %v), want (%d, %v)", tt.label, got, ok, tt.want, tt.ok)
		}
	}
}

func TestLabelRoundTrip(t *testing.T) {
	t.Parallel()
	for _, p := range Catalog {
		label, ok := Label(p.Minutes)
		if !ok || label != p.Label {
			t.Fatalf("Label(%d) = (%q, %v), want (%q, true)", p.Minutes, label, ok, p.Label)
		}
	}
	if _, ok := Label(7); ok {
		t.Fatal("Label(7) should not resolve")
	}
}

func TestMatchSubstring(t *testing.T) {
	t.Parallel()
	got := Match("hour")
	want := []string{"1 hour", "2 hours", "3 hours", "4 hours", "6 hours", "8 hours", "12 hours"}
	if len(got) != len(want) {
		t.Fatalf("Match(hour) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Match(hour)[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	for _, label := range got {
		if label == "1 day" {
			t.Fatal("Match(hour) must not include 1 day")
		}
	}
}

func TestMatchNormalization(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		partial string
		count   int
	}{
		{name: "empty returns full catalog", partial: "", count: len(Catalog)},
		{name: "whitespace only", partial: "   ", count: len(Catalog)},
		{name: "mixed case", partial: "HoUr", count: 7},
		{name: "interior whitespace collapsed", partial: " 1   hour ", count: 1},
		{name: "day", partial: "day", count: 1},
		{name: "no match", partial: "week", count: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Match(tt.partial); len(got) != tt.count {
				t.Fatalf("Match(%q) = %v (%d entries), want %d", tt.partial, got, len(got), tt.count)
			}
		})
	}
}
