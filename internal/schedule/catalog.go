package schedule

import "strings"

// Period is one allowed recurrence period.
type Period struct {
	Label   string
	Minutes int
}

// Catalog is the fixed set of allowed recurrence periods, shortest first.
// Scheduling outside this set is not supported.
var Catalog = []Period{
	{Label: "5 minutes", Minutes: 5},
	{Label: "10 minutes", Minutes: 10},
	{Label: "15 minutes", Minutes: 15},
	{Label: "20 minutes", Minutes: 20},
	{Label: "30 minutes", Minutes: 30},
	{Label: "1 hour", Minutes: 60},
	{Label: "2 hours", Minutes: 120},
	{Label: "3 hours", Minutes: 180},
	{Label: "4 hours", Minutes: 240},
	{Label: "6 hours", Minutes: 360},
	{Label: "8 hours", Minutes: 480},
	{Label: "12 hours", Minutes: 720},
	{Label: "1 day", Minutes: 1440},
}

// Minutes resolves a period label to its minute count.
// Matching is case- and whitespace-insensitive.
func Minutes(label string) (int, bool) {
	n := normalize(label)
	for _, p := range Catalog {
		if normalize(p.Label) == n {
			return p.Minutes, true
		}
	}
	return 0, false
}

// Label resolves a minute count back to its catalog label.
func Label(minutes int) (string, bool) {
	for _, p := range Catalog {
		if p.Minutes == minutes {
			return p.Label, true
		}
	}
	return "", false
}

// Match returns all catalog labels whose normalized form contains the
// normalized partial as a substring. An empty partial matches everything,
// which is what an autocomplete dropdown wants before the user types.
func Match(partial string) []string {
	n := normalize(partial)
	out := make([]string, 0, len(Catalog))
	for _, p := range Catalog {
		if n == "" || strings.Contains(normalize(p.Label), n) {
			out = append(out, p.Label)
		}
	}
	return out
}

// normalize lowercases and collapses runs of whitespace to single spaces.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
