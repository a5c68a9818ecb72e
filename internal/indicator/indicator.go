// Package indicator provides pure technical-indicator calculations over an
// ordered bar window. All functions return a zero/neutral value when the
// window is shorter than the required lookback instead of failing.
package indicator

import (
	"math"

	"tradecore/internal/domain"
)

// Default lookbacks used by Compute.
const (
	DefaultATRPeriod  = 14
	DefaultRSIPeriod  = 14
	DefaultEMAFast    = 20
	DefaultEMASlow    = 50
	DefaultMACDFast   = 12
	DefaultMACDSlow   = 26
	DefaultMACDSignal = 9
)

// ATR returns the simple average of the per-bar true range over period bars
// following a one-bar warm-up at the start of the window. True range is the
// max of high-low, |high-prevClose|, and |low-prevClose|.
func ATR(bars []domain.Bar, period int) float64 {
	if len(bars) < period+1 {
		return 0
	}
	var sum float64
	for i := 1; i <= period; i++ {
		tr := bars[i].High - bars[i].Low
		if v := math.Abs(bars[i].High - bars[i-1].Close); v > tr {
			tr = v
		}
		if v := math.Abs(bars[i].Low - bars[i-1].Close); v > tr {
			tr = v
		}
		sum += tr
	}
	return sum / float64(period)
}

// EMA returns the recursive exponential average with smoothing 2/(period+1),
// seeded with the first close in the window and propagated through every bar.
func EMA(bars []domain.Bar, period int) float64 {
	if len(bars) < period {
		return 0
	}
	k := 2.0 / (float64(period) + 1)
	ema := bars[0].Close
	for i := 1; i < len(bars); i++ {
		ema = bars[i].Close*k + ema*(1-k)
	}
	return ema
}

// VWAP returns cumulative (typical price x volume) over cumulative volume
// for the entire window. There is no session reset.
func VWAP(bars []domain.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	var tpv, vol float64
	for _, b := range bars {
		v := float64(b.Volume)
		tpv += b.TypicalPrice() * v
		vol += v
	}
	if vol == 0 {
		return 0
	}
	return tpv / vol
}

// RSI returns the relative strength index computed from a simple (unsmoothed)
// average of gains and losses over period one-bar deltas at the start of the
// window. Returns 100 when the average loss is zero.
func RSI(bars []domain.Bar, period int) float64 {
	if len(bars) < period+1 {
		return 0
	}
	var gains, losses float64
	for i := 1; i <= period; i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACD returns the MACD line, signal line, and histogram. The MACD line is
// EMA(fast) - EMA(slow). The signal line is EMA(signalPeriod) of the raw
// closes, not of the MACD line; callers depend on that behavior.
func MACD(bars []domain.Bar, fast, slow, signalPeriod int) (macd, signal, histogram float64) {
	if len(bars) < slow+signalPeriod {
		return 0, 0, 0
	}
	macd = EMA(bars, fast) - EMA(bars, slow)
	signal = EMA(bars, signalPeriod)
	return macd, signal, macd - signal
}

// Compute builds a full snapshot over the window using the default periods.
func Compute(bars []domain.Bar) domain.IndicatorSnapshot {
	macd, sig, hist := MACD(bars, DefaultMACDFast, DefaultMACDSlow, DefaultMACDSignal)
	return domain.IndicatorSnapshot{
		ATR:           ATR(bars, DefaultATRPeriod),
		EMA20:         EMA(bars, DefaultEMAFast),
		EMA50:         EMA(bars, DefaultEMASlow),
		VWAP:          VWAP(bars),
		RSI:           RSI(bars, DefaultRSIPeriod),
		MACD:          macd,
		MACDSignal:    sig,
		MACDHistogram: hist,
	}
}
