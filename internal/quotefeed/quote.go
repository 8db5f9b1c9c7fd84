// Package quotefeed turns per-symbol quote lookups into complete dashboard
// snapshots. Live data is fetched concurrently with bounded retry, and any
// symbol (or whole batch) that cannot be fetched is filled with synthetic data
// so a snapshot is never partial.
package quotefeed

import "strings"

// Quote is the normalized price line for one symbol.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	// Synthetic is set on generated placeholder quotes.
	Synthetic bool `json:"synthetic,omitempty"`
}

// Snapshot holds one quote per requested symbol, in request order.
type Snapshot []Quote

// Symbols returns the snapshot's symbols in order.
func (s Snapshot) Symbols() []string {
	out := make([]string, len(s))
	for i, q := range s {
		out[i] = q.Symbol
	}
	return out
}

// SyntheticCount reports how many quotes in the snapshot were generated.
func (s Snapshot) SyntheticCount() int {
	n := 0
	for _, q := range s {
		if q.Synthetic {
			n++
		}
	}
	return n
}

var defaultSymbols = []string{"AAPL", "GOOGL", "MSFT", "AMZN", "TSLA", "META", "NVDA", "NFLX"}

// DefaultSymbols returns the dashboard's built-in watch list.
func DefaultSymbols() []string {
	out := make([]string, len(defaultSymbols))
	copy(out, defaultSymbols)
	return out
}

// Canonical trims and upper-cases a ticker symbol.
func Canonical(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
