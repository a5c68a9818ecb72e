// Package signal turns bar windows and indicator snapshots into scored
// candidate trades using four pattern detectors: breakout, pullback,
// reversal, and continuation.
package signal

import (
	"log/slog"
	"math"
	"time"

	"tradecore/internal/config"
	"tradecore/internal/domain"
	"tradecore/internal/indicator"
	"tradecore/internal/risk"
)

// MinBars is the minimum window length required before any signal is
// generated; shorter windows cannot warm up the slow indicators.
const MinBars = 50

// Policy selects how detector matches are aggregated.
//
// AllMatches runs every detector, sizes and validates each candidate, and
// returns all survivors; it is the offline signal-mining mode. FirstMatch
// evaluates detectors in fixed priority order (breakout, pullback,
// reversal, continuation) and returns only the first raw match, leaving
// sizing and gating to the caller; it is the mode the backtest loop uses.
type Policy int

const (
	AllMatches Policy = iota
	FirstMatch
)

// Generator produces candidate signals from bar data.
type Generator struct {
	params    config.RiskParameters
	validator risk.Validator
	log       *slog.Logger
}

// NewGenerator creates a Generator using the given risk parameters.
func NewGenerator(params config.RiskParameters, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		params:    params,
		validator: risk.NewValidator(params),
		log:       logger.With("component", "signal"),
	}
}

// Generate evaluates the detectors over the window. The enriched snapshot,
// when non-nil, overrides locally computed indicator values field by field.
// balance is only used for position sizing under AllMatches.
func (g *Generator) Generate(bars []domain.Bar, enriched *domain.IndicatorSnapshot, policy Policy, balance float64) []domain.Signal {
	if len(bars) < MinBars {
		return nil
	}
	cur := bars[len(bars)-1]
	prev := bars[len(bars)-2]

	ind := indicator.Compute(bars)
	isEnriched := enriched != nil
	if isEnriched {
		ind = ind.Merge(*enriched)
	}

	detectors := []func(cur, prev domain.Bar, ind domain.IndicatorSnapshot, enriched bool) *domain.Signal{
		g.checkBreakout,
		g.checkPullback,
		g.checkReversal,
		g.checkContinuation,
	}

	var out []domain.Signal
	for _, detect := range detectors {
		s := detect(cur, prev, ind, isEnriched)
		if s == nil {
			continue
		}
		if policy == FirstMatch {
			return []domain.Signal{*s}
		}
		s.Quantity = risk.PositionSize(balance, g.riskBudget(), s.StopLoss, s.Price)
		if g.validator.Validate(*s) {
			out = append(out, *s)
		}
	}
	return out
}

func (g *Generator) riskBudget() float64 {
	if g.params.MaxRiskAmount > 0 {
		return g.params.MaxRiskAmount
	}
	return 1000
}

// ---------------------------------------------------------------------------
// Detectors
// ---------------------------------------------------------------------------

// checkBreakout matches a close beyond both EMAs and VWAP in one direction
// with volume above 1.5x the two-bar average.
func (g *Generator) checkBreakout(cur, prev domain.Bar, ind domain.IndicatorSnapshot, enriched bool) *domain.Signal {
	avgVol := float64(cur.Volume+prev.Volume) / 2
	spike := float64(cur.Volume) > avgVol*1.5
	factors := domain.ConfluenceFactors{
		TrendAlignment:        0.9,
		VolumeConfirmation:    0.8,
		SupportResistance:     0.7,
		MomentumStrength:      0.6,
		VolatilityAppropriate: 0.8,
	}
	if cur.Close > ind.EMA20 && cur.Close > ind.EMA50 && cur.Close > ind.VWAP && spike {
		return g.newSignal(cur, domain.SignalBreakout, domain.Long, ind, factors,
			[]string{"EMA_ABOVE", "VWAP_ABOVE", "VOLUME_SPIKE"}, enriched)
	}
	if cur.Close < ind.EMA20 && cur.Close < ind.EMA50 && cur.Close < ind.VWAP && spike {
		return g.newSignal(cur, domain.SignalBreakout, domain.Short, ind, factors,
			[]string{"EMA_BELOW", "VWAP_BELOW", "VOLUME_SPIKE"}, enriched)
	}
	return nil
}

// checkPullback matches price within 2% of EMA20 combined with an RSI
// extreme: oversold for longs, overbought for shorts.
func (g *Generator) checkPullback(cur, _ domain.Bar, ind domain.IndicatorSnapshot, enriched bool) *domain.Signal {
	if ind.EMA20 == 0 || ind.RSI == 0 {
		return nil
	}
	nearEMA := math.Abs(cur.Close-ind.EMA20)/ind.EMA20 < 0.02
	factors := domain.ConfluenceFactors{
		TrendAlignment:        0.7,
		VolumeConfirmation:    0.5,
		SupportResistance:     0.8,
		MomentumStrength:      0.7,
		VolatilityAppropriate: 0.6,
	}
	if nearEMA && ind.RSI < 30 {
		return g.newSignal(cur, domain.SignalPullback, domain.Long, ind, factors,
			[]string{"EMA_SUPPORT", "RSI_OVERSOLD"}, enriched)
	}
	if nearEMA && ind.RSI > 70 {
		return g.newSignal(cur, domain.SignalPullback, domain.Short, ind, factors,
			[]string{"EMA_RESISTANCE", "RSI_OVERBOUGHT"}, enriched)
	}
	return nil
}

// checkReversal matches a MACD cross toward trend direction with RSI at the
// opposite extreme and price confirming against the previous bar.
func (g *Generator) checkReversal(cur, prev domain.Bar, ind domain.IndicatorSnapshot, enriched bool) *domain.Signal {
	if ind.MACD == 0 || ind.MACDSignal == 0 || ind.RSI == 0 {
		return nil
	}
	factors := domain.ConfluenceFactors{
		TrendAlignment:        0.6,
		VolumeConfirmation:    0.7,
		SupportResistance:     0.6,
		MomentumStrength:      0.8,
		VolatilityAppropriate: 0.7,
	}
	if ind.MACD > ind.MACDSignal && ind.RSI < 40 && cur.Close > prev.Close {
		return g.newSignal(cur, domain.SignalReversal, domain.Long, ind, factors,
			[]string{"MACD_CROSS", "RSI_OVERSOLD"}, enriched)
	}
	if ind.MACD < ind.MACDSignal && ind.RSI > 60 && cur.Close < prev.Close {
		return g.newSignal(cur, domain.SignalReversal, domain.Short, ind, factors,
			[]string{"MACD_CROSS_DOWN", "RSI_OVERBOUGHT"}, enriched)
	}
	return nil
}

// checkContinuation matches price and EMA20 aligned with EMA50 on the same
// side of VWAP.
func (g *Generator) checkContinuation(cur, _ domain.Bar, ind domain.IndicatorSnapshot, enriched bool) *domain.Signal {
	factors := domain.ConfluenceFactors{
		TrendAlignment:        0.8,
		VolumeConfirmation:    0.6,
		SupportResistance:     0.7,
		MomentumStrength:      0.7,
		VolatilityAppropriate: 0.8,
	}
	if cur.Close > ind.EMA20 && ind.EMA20 > ind.EMA50 && cur.Close > ind.VWAP {
		return g.newSignal(cur, domain.SignalContinuation, domain.Long, ind, factors,
			[]string{"TREND_ALIGNED", "EMA_ALIGNMENT", "VWAP_SUPPORT"}, enriched)
	}
	if cur.Close < ind.EMA20 && ind.EMA20 < ind.EMA50 && cur.Close < ind.VWAP {
		return g.newSignal(cur, domain.SignalContinuation, domain.Short, ind, factors,
			[]string{"TREND_ALIGNED", "EMA_ALIGNMENT", "VWAP_RESISTANCE"}, enriched)
	}
	return nil
}

// newSignal assembles a candidate with the fixed 2xATR stop and 3xATR
// target. When ATR is unavailable the stop distance falls back to 1% of
// price so a signal is never created with a zero-width stop.
func (g *Generator) newSignal(
	cur domain.Bar,
	sigType domain.SignalType,
	direction domain.Direction,
	ind domain.IndicatorSnapshot,
	factors domain.ConfluenceFactors,
	reasons []string,
	enriched bool,
) *domain.Signal {
	price := cur.Close
	atr := ind.ATR
	if atr == 0 {
		atr = price * 0.01
	}

	var stopLoss, takeProfit float64
	if direction == domain.Long {
		stopLoss = price - atr*2
		takeProfit = price + atr*3
	} else {
		stopLoss = price + atr*2
		takeProfit = price - atr*3
	}

	now := time.Now()
	return &domain.Signal{
		ID:              domain.NewSignalID(),
		Symbol:          cur.Symbol,
		Timestamp:       cur.Timestamp,
		Type:            sigType,
		Direction:       direction,
		Price:           price,
		StopLoss:        stopLoss,
		TakeProfit:      takeProfit,
		Indicators:      ind,
		IsEnriched:      enriched,
		ConfluenceScore: factors.Score(),
		ReasonCodes:     reasons,
		RiskRewardRatio: math.Abs(takeProfit-price) / math.Abs(stopLoss-price),
		MaxRisk:         g.params.MaxRiskAmount,
		Mode:            domain.ModeBacktest,
		Outcome:         domain.OutcomeOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
