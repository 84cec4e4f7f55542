// Package command implements the scheduled-posting command surface: request
// validation, the confirmation gate, and the authorized delete path.
package command

import "sort"

// Kind is a schedulable command. Chart is the only schedulable kind; the
// enum exists so capability lookups are typed rather than stringly keyed.
type Kind int

const (
	KindChart Kind = iota
)

func (k Kind) String() string {
	switch k {
	case KindChart:
		return "chart"
	default:
		return "unknown"
	}
}

// Platform order per asset class, resolved statically at init. The order is
// the fallback chain the render pipeline walks when the first platform
// cannot serve a ticker.
var platformOrder = map[Kind]map[string][]string{
	KindChart: {
		"stocks": {"TradingView", "GoCharting", "Finviz"},
		"forex":  {"TradingView", "Finviz"},
		"other":  {"TradingView", "Finviz"},
		"crypto": {"TradingView", "TradingLite", "GoCharting", "Bookmap"},
	},
}

// Platforms returns the platform fallback order for an asset class, nil when
// the kind cannot serve the class.
func (k Kind) Platforms(assetClass string) []string {
	classes, ok := platformOrder[k]
	if !ok {
		return nil
	}
	order, ok := classes[assetClass]
	if !ok {
		return nil
	}
	out := make([]string, len(order))
	copy(out, order)
	return out
}

// AssetClasses lists the classes a kind can serve, sorted.
func (k Kind) AssetClasses() []string {
	classes, ok := platformOrder[k]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(classes))
	for c := range classes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
