// Package strategy implements the per-ticker setup state machine: entry
// setups A through E, exit signals, scale-outs, and cooldown tracking. It
// consults only the FeatureSnapshot and position state already known at
// signal_ts and never looks at a later bar.
package strategy

import "time"

// IntentKind distinguishes the three kinds of pending intent the simulator
// fills at the next bar's open.
type IntentKind string

const (
	Enter    IntentKind = "enter"
	Exit     IntentKind = "exit"
	ScaleOut IntentKind = "scale_out"
)

// Setup identifies which entry setup fired, or "" for exits/scale-outs.
type Setup string

const (
	SetupA Setup = "a" // PMH breakout hold
	SetupB Setup = "b" // VWAP/21/8 pullback hold
	SetupC Setup = "c" // double bottom + EMA8 reclaim
	SetupD Setup = "d" // starter probe
	SetupE Setup = "e" // HOD breakout after room
)

// setupPriority is evaluation order; the first setup whose conditions are
// met wins when more than one would otherwise fire on the same bar.
var setupPriority = []Setup{SetupA, SetupB, SetupC, SetupD, SetupE}

// PendingIntent is emitted at a bar's close and filled at the next bar's
// open; the strategy never consults any bar with ts > SignalTs.
type PendingIntent struct {
	Ticker    string
	Kind      IntentKind
	SignalTs  time.Time
	Setup     Setup   // set for Enter
	StopBase  float64 // set for Enter: the stop-loss reference level
	Starter   bool    // Enter sized at the starter fraction rather than full risk
	Fraction  float64 // ScaleOut: fraction of original qty to sell
	ExitPrice float64 // Exit/ScaleOut: reference price, stop_px for stop exits, else bar open is used by the simulator
	Reason    string  // Exit reason, e.g. "stop_hit", "ttm_flip_bear", "failed_breakout"
	TTMState  string  // set for Enter: snapshot's ttm_state at signal time, carried through for stratified reporting
}

// PositionPhase is the per-ticker, per-day state machine's current phase.
type PositionPhase string

const (
	Flat     PositionPhase = "flat"
	Entered  PositionPhase = "entered"
	Scaled   PositionPhase = "scaled"
	ExitedPh PositionPhase = "exited"
)

// TickerState carries everything the strategy needs to remember about one
// ticker across the trading day: position phase, entry context for exit
// signal evaluation, and cooldown/breakout-leg bookkeeping the setups
// consult.
type TickerState struct {
	Phase PositionPhase

	EntrySetup   Setup
	EntryPx      float64
	StopPx       float64
	OriginalQty  int
	RemainingQty int
	BarsHeld     int
	ScaledOut    bool
	ScaleLevel   float64 // resistance level the scale-out will trigger at

	CooldownUntil time.Time

	// Setup-specific memory, reset to zero value at the start of each day.
	HadBreakoutLegToday bool
	BreakoutRefLevel    float64
	PivotLowsSeen       []float64
	PulledBackFromHOD   bool
}

// Reset clears per-day state while preserving nothing across days; called
// once at the start of each trading day for every watchlist ticker.
func (s *TickerState) Reset() {
	*s = TickerState{Phase: Flat}
}

// InCooldown reports whether ts falls before the ticker's cooldown
// expiry.
func (s *TickerState) InCooldown(ts time.Time) bool {
	return !s.CooldownUntil.IsZero() && ts.Before(s.CooldownUntil)
}
