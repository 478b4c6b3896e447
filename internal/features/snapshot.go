package features

import (
	"time"

	"github.com/ybi-research/backtest/internal/calendar"
	"github.com/ybi-research/backtest/internal/config"
	"github.com/ybi-research/backtest/internal/marketdata"
)

// TTMState is the four-way squeeze/momentum classification, an approximate
// mapping of a proprietary indicator family onto Bollinger-vs-Keltner plus
// a linear-regression momentum sign, documented as an approximation in
// run output.
type TTMState string

const (
	StrongBull TTMState = "strong_bull"
	WeakBull   TTMState = "weak_bull"
	WeakBear   TTMState = "weak_bear"
	StrongBear TTMState = "strong_bear"
	NoState    TTMState = "none"
)

type MomentumSign string

const (
	Bull MomentumSign = "bull"
	Bear MomentumSign = "bear"
	Flat MomentumSign = "none"
)

// Snapshot is the per-bar causal feature set: every field depends only on
// bars with ts <= Ts.
type Snapshot struct {
	Ts                time.Time
	EMA8, EMA21       float64
	EMA34, EMA55      float64
	Baseline200       float64
	Baseline200Ready  bool
	VWAPRth           float64
	TTMState          TTMState
	MomentumSign      MomentumSign
	ExtensionFromEMA8 float64
	PMH, PML          float64
	PDH, PDL          float64
	OpenPx            float64
	HODSoFar, LODSoFar float64
	Pivots            []Pivot
	RoundLevels       []float64
	Ready             bool // macro EMAs (34/55) warmed; usable for entries
}

// Pipeline streams one ticker's bars for one day into causal Snapshots.
// Premarket bars may warm EMAs and levels but are only eligible to appear
// as "Ready" once RTH has begun and the macro EMAs have enough history.
type Pipeline struct {
	session calendar.Session
	day     time.Time

	ema8, ema21, ema34, ema55 *EMA
	baselineEMA               *EMA
	baselineSMA               *SMA
	useSMABaseline            bool

	vwap *VWAP

	bb  *RunningStats // close, for Bollinger
	atr *ATR
	kcMid *EMA // Keltner midline is typically an EMA of close

	momentum *RunningStats // close, for linear-regression momentum
	prevMomentumResidual float64
	havePrevResidual      bool

	pivotWindow  int
	pivotDetect  *PivotDetector
	confirmedHighs []Pivot
	confirmedLows  []Pivot

	pdh, pdl float64
	prevDayBar marketdata.DailyBar

	pmh, pml float64
	seenPremarket bool

	openPx         float64
	haveOpen       bool
	hodSoFar, lodSoFar float64
	seenRTHBar     bool

	extMaxEntry float64
	clusterTolerance float64

	barIndex int
}

// Config bundles the feature-pipeline tunables consumed from the run config.
type Config struct {
	PivotWindow           int
	LevelClusterTolerance float64
	Baseline200IsSMA      bool
	MaxExtensionForEntry  float64
}

// ConfigFrom adapts the run-wide features config into a Pipeline Config.
func ConfigFrom(f config.Features) Config {
	return Config{
		PivotWindow:           f.PivotWindow,
		LevelClusterTolerance: f.LevelClusterTolerance,
		Baseline200IsSMA:      f.Baseline200 == "sma",
		MaxExtensionForEntry:  f.MaxExtensionForEntry,
	}
}

func NewPipeline(session calendar.Session, day time.Time, prevDay marketdata.DailyBar, cfg Config) *Pipeline {
	return &Pipeline{
		session:          session,
		day:              day,
		ema8:             NewEMA(8),
		ema21:            NewEMA(21),
		ema34:            NewEMA(34),
		ema55:            NewEMA(55),
		baselineEMA:      NewEMA(200),
		baselineSMA:      NewSMA(200),
		useSMABaseline:   cfg.Baseline200IsSMA,
		vwap:             &VWAP{},
		bb:               NewRunningStats(20),
		atr:              NewATR(20),
		kcMid:            NewEMA(20),
		momentum:         NewRunningStats(20),
		pivotWindow:      cfg.PivotWindow,
		pivotDetect:      NewPivotDetector(cfg.PivotWindow),
		prevDayBar:       prevDay,
		pdh:              prevDay.High,
		pdl:              prevDay.Low,
		clusterTolerance: cfg.LevelClusterTolerance,
		extMaxEntry:      cfg.MaxExtensionForEntry,
	}
}

// Update folds in one more bar (ascending ts, strictly increasing within
// the day) and returns the Snapshot for that bar's close.
func (p *Pipeline) Update(bar marketdata.Bar) Snapshot {
	inPremarket := bar.Ts.Before(p.session.RTHOpenOn(p.day))
	atOrAfterRTH := !inPremarket

	// EMAs/levels are warmed by every bar including premarket.
	ema8 := p.ema8.Update(bar.Close)
	ema21 := p.ema21.Update(bar.Close)
	ema34 := p.ema34.Update(bar.Close)
	ema55 := p.ema55.Update(bar.Close)

	var baseline float64
	var baselineReady bool
	if p.useSMABaseline {
		baseline = p.baselineSMA.Update(bar.Close)
		baselineReady = p.baselineSMA.Ready()
	} else {
		baseline = p.baselineEMA.Update(bar.Close)
		baselineReady = p.baselineEMA.Ready()
	}

	p.bb.Update(bar.Close)
	p.atr.Update(bar.High, bar.Low, bar.Close)
	kcMid := p.kcMid.Update(bar.Close)
	p.momentum.Update(bar.Close)
	residual := p.momentum.LinRegResidual()

	if atOrAfterRTH {
		p.vwap.Update(bar.TypicalPrice(), bar.Volume)
	}

	if inPremarket {
		if !p.seenPremarket || bar.High > p.pmh {
			p.pmh = bar.High
		}
		if !p.seenPremarket || bar.Low < p.pml {
			p.pml = bar.Low
		}
		p.seenPremarket = true
	}

	if atOrAfterRTH {
		if !p.haveOpen {
			p.openPx = bar.Open
			p.haveOpen = true
		}
		if !p.seenRTHBar || bar.High > p.hodSoFar {
			p.hodSoFar = bar.High
		}
		if !p.seenRTHBar || bar.Low < p.lodSoFar {
			p.lodSoFar = bar.Low
		}
		p.seenRTHBar = true
	}

	for _, pv := range p.pivotDetect.Update(bar.High, bar.Low) {
		if pv.High {
			p.confirmedHighs = append(p.confirmedHighs, pv)
		} else {
			p.confirmedLows = append(p.confirmedLows, pv)
		}
	}

	squeezeOn := false
	if p.bb.Ready() && p.atr.Ready() {
		bbWidth := 2 * p.bb.StdDev()
		kcWidth := 1.5 * p.atr.Value()
		squeezeOn = bbWidth < kcWidth
		_ = kcMid
	}

	momentumSign := Flat
	if residual > 0 {
		momentumSign = Bull
	} else if residual < 0 {
		momentumSign = Bear
	}

	ttmState := NoState
	if p.momentum.Ready() {
		rising := p.havePrevResidual && residual > p.prevMomentumResidual
		falling := p.havePrevResidual && residual < p.prevMomentumResidual
		switch {
		case !squeezeOn && residual > 0 && rising:
			ttmState = StrongBull
		case squeezeOn && residual > 0:
			ttmState = WeakBull
		case squeezeOn && residual < 0:
			ttmState = WeakBear
		case !squeezeOn && residual < 0 && falling:
			ttmState = StrongBear
		}
	}
	p.prevMomentumResidual = residual
	p.havePrevResidual = true

	extension := 0.0
	if ema8 != 0 {
		extension = (bar.High - ema8) / ema8
	}

	var levels []float64
	if p.pmh > 0 {
		levels = append(levels, p.pmh)
	}
	if p.pml > 0 {
		levels = append(levels, p.pml)
	}
	if p.pdh > 0 {
		levels = append(levels, p.pdh)
	}
	if p.pdl > 0 {
		levels = append(levels, p.pdl)
	}
	if p.haveOpen {
		levels = append(levels, p.openPx)
	}
	levels = append(levels, roundLevelsNear(bar.Close)...)
	for _, pv := range p.confirmedHighs {
		levels = append(levels, pv.Price)
	}
	for _, pv := range p.confirmedLows {
		levels = append(levels, pv.Price)
	}
	clustered := ClusterLevels(levels, p.clusterTolerance)

	p.barIndex++

	return Snapshot{
		Ts:                bar.Ts,
		EMA8:              ema8,
		EMA21:             ema21,
		EMA34:             ema34,
		EMA55:             ema55,
		Baseline200:       baseline,
		Baseline200Ready:  baselineReady,
		VWAPRth:           p.vwap.Value(),
		TTMState:          ttmState,
		MomentumSign:      momentumSign,
		ExtensionFromEMA8: extension,
		PMH:               p.pmh,
		PML:               p.pml,
		PDH:               p.pdh,
		PDL:               p.pdl,
		OpenPx:            p.openPx,
		HODSoFar:          p.hodSoFar,
		LODSoFar:          p.lodSoFar,
		Pivots:            append(append([]Pivot{}, p.confirmedHighs...), p.confirmedLows...),
		RoundLevels:       clustered,
		Ready:             p.ema34.Ready() && p.ema55.Ready() && atOrAfterRTH,
	}
}
