package strategy

import (
	"math"
	"strings"
	"time"

	"github.com/ybi-research/backtest/internal/config"
	"github.com/ybi-research/backtest/internal/features"
	"github.com/ybi-research/backtest/internal/marketdata"
)

// Gates records which macro/micro checks passed or blocked, mirroring the
// gates_passed/gates_blocked diagnostic pattern this codebase has always
// used for decision transparency.
type Gates struct {
	Passed  []string
	Blocked []string
}

func (g *Gates) pass(name string)  { g.Passed = append(g.Passed, name) }
func (g *Gates) block(name string) { g.Blocked = append(g.Blocked, name) }

// MacroFilter reports whether price qualifies for any entry: above the 34
// and 55 EMAs, and above the 200-period baseline when configured to
// require it.
func MacroFilter(snap features.Snapshot, close float64, requireBaseline200 bool) (bool, *Gates) {
	g := &Gates{}
	ok := true
	if close > snap.EMA34 {
		g.pass("above_ema34")
	} else {
		g.block("above_ema34")
		ok = false
	}
	if close > snap.EMA55 {
		g.pass("above_ema55")
	} else {
		g.block("above_ema55")
		ok = false
	}
	if requireBaseline200 {
		if snap.Baseline200Ready && close > snap.Baseline200 {
			g.pass("above_baseline200")
		} else {
			g.block("above_baseline200")
			ok = false
		}
	}
	return ok, g
}

// MicroFilter reports whether price and momentum qualify for a full-size
// entry: above the 21 and 8 EMAs, ttm_state in {weak_bull, strong_bull},
// momentum bull. starter relaxes the ttm_state requirement to weak_bear.
func MicroFilter(snap features.Snapshot, close float64, starter bool) (bool, *Gates) {
	g := &Gates{}
	ok := true
	if close > snap.EMA21 {
		g.pass("above_ema21")
	} else {
		g.block("above_ema21")
		ok = false
	}
	if close > snap.EMA8 {
		g.pass("above_ema8")
	} else {
		g.block("above_ema8")
		ok = false
	}
	ttmOK := snap.TTMState == features.WeakBull || snap.TTMState == features.StrongBull
	if starter && snap.TTMState == features.WeakBear {
		ttmOK = true
	}
	if ttmOK {
		g.pass("ttm_state")
	} else {
		g.block("ttm_state")
		ok = false
	}
	if snap.MomentumSign == features.Bull {
		g.pass("momentum_bull")
	} else {
		g.block("momentum_bull")
		ok = false
	}
	return ok, g
}

// Engine evaluates the setup state machine for one ticker, one bar at a
// time. It is stateless itself; all per-ticker memory lives in the
// TickerState the caller passes in and mutates in place.
type Engine struct {
	strategyCfg config.Strategy
	featuresCfg config.Features
}

func NewEngine(strategyCfg config.Strategy, featuresCfg config.Features) *Engine {
	return &Engine{strategyCfg: strategyCfg, featuresCfg: featuresCfg}
}

func (e *Engine) setupEnabled(s Setup) bool {
	t, ok := e.strategyCfg.Setups[string(s)]
	return !ok || t.Enabled
}

// Evaluate consults the bar just closed, the snapshot computed from it, and
// the ticker's current state, returning zero or more PendingIntents to be
// filled at the next bar's open. It never reads any later bar.
func (e *Engine) Evaluate(ticker string, bar marketdata.Bar, snap features.Snapshot, st *TickerState, inEntryWindow bool) []PendingIntent {
	var intents []PendingIntent

	if st.Phase == Entered || st.Phase == Scaled {
		st.BarsHeld++
		intents = append(intents, e.evaluateExits(ticker, bar, snap, st)...)
	}

	if st.Phase == Flat && inEntryWindow && !st.InCooldown(bar.Ts) {
		if intent := e.evaluateEntries(ticker, bar, snap, st); intent != nil {
			intents = append(intents, *intent)
		}
	}

	return intents
}

func (e *Engine) evaluateEntries(ticker string, bar marketdata.Bar, snap features.Snapshot, st *TickerState) *PendingIntent {
	if !snap.Ready {
		return nil
	}
	requireBaseline := e.strategyCfg.RequireAboveBaseline200
	macroOK, _ := MacroFilter(snap, bar.Close, requireBaseline)

	for _, s := range setupPriority {
		if !e.setupEnabled(s) {
			continue
		}
		switch s {
		case SetupA:
			if !macroOK {
				continue
			}
			microOK, _ := MicroFilter(snap, bar.Close, false)
			if !microOK {
				continue
			}
			if bar.Close > snap.PMH && snap.ExtensionFromEMA8 <= e.featuresCfg.MaxExtensionForEntry {
				stopBase := bar.Low
				if snap.PMH < stopBase {
					stopBase = snap.PMH
				}
				return &PendingIntent{Ticker: ticker, Kind: Enter, SignalTs: bar.Ts, Setup: s, StopBase: stopBase, TTMState: string(snap.TTMState)}
			}
		case SetupB:
			if !macroOK || !st.HadBreakoutLegToday {
				continue
			}
			microOK, _ := MicroFilter(snap, bar.Close, false)
			if !microOK {
				continue
			}
			ref := st.BreakoutRefLevel
			if ref == 0 {
				ref = snap.VWAPRth
			}
			if bar.Close > ref && bar.Low < ref {
				return &PendingIntent{Ticker: ticker, Kind: Enter, SignalTs: bar.Ts, Setup: s, StopBase: ref, TTMState: string(snap.TTMState)}
			}
		case SetupC:
			if !macroOK {
				continue
			}
			if bar.Close > snap.EMA8 && snap.MomentumSign == features.Bull && len(st.PivotLowsSeen) >= 2 {
				n := len(st.PivotLowsSeen)
				low1, low2 := st.PivotLowsSeen[n-2], st.PivotLowsSeen[n-1]
				tolerance := 0.01
				if low1 != 0 && math.Abs(low1-low2)/low1 <= tolerance {
					stopBase := low1
					if low2 < stopBase {
						stopBase = low2
					}
					return &PendingIntent{Ticker: ticker, Kind: Enter, SignalTs: bar.Ts, Setup: s, StopBase: stopBase, TTMState: string(snap.TTMState)}
				}
			}
		case SetupD:
			if snap.TTMState != features.WeakBear {
				continue
			}
			for _, level := range snap.RoundLevels {
				if bar.Close > level && bar.Low <= level*1.002 {
					return &PendingIntent{Ticker: ticker, Kind: Enter, SignalTs: bar.Ts, Setup: s, StopBase: level, Starter: true, TTMState: string(snap.TTMState)}
				}
			}
		case SetupE:
			if !macroOK {
				continue
			}
			microOK, _ := MicroFilter(snap, bar.Close, false)
			if !microOK {
				continue
			}
			if st.PulledBackFromHOD && bar.Close > snap.EMA21 && snap.HODSoFar > 0 {
				return &PendingIntent{Ticker: ticker, Kind: Enter, SignalTs: bar.Ts, Setup: s, StopBase: snap.EMA21, TTMState: string(snap.TTMState)}
			}
		}
	}

	// Track state for setups B/E that depend on "a breakout/pullback already
	// happened today", so a later bar can recognise the pattern.
	if bar.Close > snap.PMH && snap.PMH > 0 {
		st.HadBreakoutLegToday = true
		st.BreakoutRefLevel = snap.VWAPRth
	}
	if snap.HODSoFar > 0 && bar.Close < snap.HODSoFar*0.99 {
		st.PulledBackFromHOD = true
	}
	for _, pv := range snap.Pivots {
		if !pv.High {
			st.PivotLowsSeen = append(st.PivotLowsSeen, pv.Price)
		}
	}
	return nil
}

func (e *Engine) evaluateExits(ticker string, bar marketdata.Bar, snap features.Snapshot, st *TickerState) []PendingIntent {
	var intents []PendingIntent

	if !st.ScaledOut {
		level := 0.0
		if candidate := features.NextRoundResistance(st.EntryPx + 1e-9); candidate > st.EntryPx {
			level = candidate
		}
		for _, l := range snap.RoundLevels {
			if l > st.EntryPx && (level == 0 || l < level) {
				level = l
			}
		}
		if level > 0 && bar.High >= level {
			st.ScaleLevel = level
			intents = append(intents, PendingIntent{
				Ticker: ticker, Kind: ScaleOut, SignalTs: bar.Ts, Fraction: e.strategyCfg.ScaleFraction, ExitPrice: level,
			})
		}
	}

	exitReason := ""
	switch {
	case bar.Close < snap.EMA8 && st.BarsHeld >= e.strategyCfg.MinBarsHeldBeforeEMA8Exit && snap.TTMState != features.NoState:
		exitReason = "ema8_close_below"
	case (snap.TTMState == features.WeakBear || snap.TTMState == features.StrongBear) && snap.MomentumSign == features.Bear:
		exitReason = "ttm_flip_bear"
	case st.ScaleLevel > 0 && bar.High >= st.ScaleLevel && bar.Close < st.ScaleLevel:
		exitReason = "failed_breakout"
	case snap.ExtensionFromEMA8 > e.featuresCfg.MaxExtensionForExit && bar.Close < bar.Open:
		exitReason = "extension_rejection"
	}

	if exitReason != "" {
		intents = append(intents, PendingIntent{Ticker: ticker, Kind: Exit, SignalTs: bar.Ts, Reason: exitReason})
	}

	return intents
}

// ApplyCooldown starts a cooldown window when reason begins with stop_hit
// (including stop_hit_gap_through) or equals failed_breakout; called by the
// simulator when it commits an exit fill.
func ApplyCooldown(st *TickerState, reason string, ts time.Time, cooldownMinutes int) {
	if strings.HasPrefix(reason, "stop_hit") || reason == "failed_breakout" {
		st.CooldownUntil = ts.Add(time.Duration(cooldownMinutes) * time.Minute)
	}
}
