package universe

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ybi-research/backtest/internal/marketdata"
)

func TestIsCommonStockTicker_UnambiguousAlwaysRejected(t *testing.T) {
	for _, ticker := range []string{"QBTS.WS", "SPAC.U", "ABC.W", "XYZ.R", "FOO^A"} {
		assert.False(t, IsCommonStockTicker(ticker, false), ticker)
		assert.False(t, IsCommonStockTicker(ticker, true), ticker)
	}
}

func TestIsCommonStockTicker_AmbiguousPatternOnlyAppliedWhenRequested(t *testing.T) {
	for _, ticker := range []string{"CCLDP", "AILIP", "GOODP", "BANKP"} {
		assert.False(t, IsCommonStockTicker(ticker, true), ticker)
	}
	// Same tickers pass when ambiguous patterns are skipped (reference data
	// is available and authoritative elsewhere).
	for _, ticker := range []string{"CCLDP", "AILIP"} {
		assert.True(t, IsCommonStockTicker(ticker, false), ticker)
	}
}

func TestIsCommonStockTicker_ShortTickersAcceptedRegardless(t *testing.T) {
	for _, ticker := range []string{"P", "UP", "APP", "AAPL"} {
		assert.True(t, IsCommonStockTicker(ticker, true), ticker)
	}
}

func TestPassesHygiene_ReferenceDataAuthoritative(t *testing.T) {
	// ABCP flagged non-common by reference data: rejected even though the
	// pattern heuristic alone would accept it (base "ABC" is short).
	ref := &marketdata.ReferenceRecord{IsCommonStock: false, Active: true}
	assert.False(t, PassesHygiene("ABCP", ref, true))

	// SNOW is a legitimate common; reference data says so, so the ambiguous
	// trailing-W heuristic must not be consulted.
	snowRef := &marketdata.ReferenceRecord{IsCommonStock: true, Active: true}
	assert.True(t, PassesHygiene("SNOW", snowRef, true))

	// Without reference data (or with use_reference_data=false), fall back
	// to the pattern heuristic.
	assert.True(t, PassesHygiene("SNOW", nil, true))
}
