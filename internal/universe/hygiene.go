// Package universe builds the per-day watchlist: the set of tickers the
// strategy is allowed to look at, selected using only data available
// before the watchlist is published.
package universe

import (
	"strings"

	"github.com/ybi-research/backtest/internal/marketdata"
)

// unambiguousSuffixes are always excluded regardless of reference data:
// warrants, units, rights, and any symbol carrying a class marker.
var unambiguousSuffixes = []string{".WS", ".W", ".U", ".R"}

// IsCommonStockTicker applies the pattern-based universe hygiene heuristic.
// useAmbiguousPatterns controls whether the ambiguous trailing-W/P suffix
// rule is applied; callers pass false when authoritative reference data is
// available (reference data always wins over a pattern guess), true when it
// is not.
func IsCommonStockTicker(ticker string, useAmbiguousPatterns bool) bool {
	if strings.Contains(ticker, "^") {
		return false
	}
	for _, suf := range unambiguousSuffixes {
		if strings.HasSuffix(ticker, suf) {
			return false
		}
	}
	if !useAmbiguousPatterns {
		return true
	}
	if len(ticker) <= 2 {
		// Too short for a trailing letter to plausibly be a class suffix
		// rather than the whole ticker (e.g. "P", "UP").
		return true
	}
	last := ticker[len(ticker)-1]
	if last == 'W' || last == 'P' {
		base := ticker[:len(ticker)-1]
		if len(base) <= 3 {
			// Short enough that the trailing letter is probably part of the
			// real symbol, not a class suffix (e.g. "SNOW" -> base "SNO" is
			// a legitimate common; "SOUNW" -> base "SOUN" is long enough to
			// plausibly be a warrant-on-SOUN marker).
			return true
		}
		return false
	}
	return true
}

// PassesHygiene decides whether a ticker passes universe hygiene given an
// optional authoritative reference record and the run's use_reference_data
// setting. When a reference record is available and reference data is
// enabled, it is authoritative and ambiguous patterns are never consulted;
// otherwise the ambiguous-pattern heuristic applies. Unambiguous patterns
// (warrant/unit/rights suffixes, "^") are always applied regardless.
func PassesHygiene(ticker string, ref *marketdata.ReferenceRecord, useReferenceData bool) bool {
	if useReferenceData && ref != nil {
		if !ref.IsCommonStock || !ref.Active {
			return false
		}
		return IsCommonStockTicker(ticker, false)
	}
	return IsCommonStockTicker(ticker, true)
}
