package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradecore/internal/domain"
	"tradecore/internal/indicator"
)

var _ IndicatorSource = (*ComputedIndicatorSource)(nil)

// ComputedIndicatorSource derives indicator readings locally from a bar
// source rather than calling an external indicator API.
type ComputedIndicatorSource struct {
	bars      HistoricalBarSource
	timeframe domain.Timeframe
	lookback  time.Duration
}

// NewComputedIndicatorSource computes indicators over bars of the given
// timeframe fetched across the lookback window ending now.
func NewComputedIndicatorSource(bars HistoricalBarSource, timeframe domain.Timeframe, lookback time.Duration) *ComputedIndicatorSource {
	return &ComputedIndicatorSource{bars: bars, timeframe: timeframe, lookback: lookback}
}

// GetIndicators fetches the bar window and returns one reading per requested
// name. Unknown names are an error.
func (c *ComputedIndicatorSource) GetIndicators(ctx context.Context, symbol string, names []string) ([]domain.IndicatorValue, error) {
	to := time.Now().UTC()
	from := to.Add(-c.lookback)
	bars, err := c.bars.GetHistoricalBars(ctx, symbol, from, to, c.timeframe)
	if err != nil {
		return nil, fmt.Errorf("fetching bars for indicators: %w", err)
	}

	snap := indicator.Compute(bars)
	ts := to
	if len(bars) > 0 {
		ts = bars[len(bars)-1].Timestamp
	}

	values := make([]domain.IndicatorValue, 0, len(names))
	for _, name := range names {
		v, err := snapshotValue(snap, name)
		if err != nil {
			return nil, err
		}
		values = append(values, domain.IndicatorValue{
			Symbol:    strings.ToUpper(symbol),
			Indicator: strings.ToUpper(name),
			Value:     v,
			Timestamp: ts,
		})
	}
	return values, nil
}

func snapshotValue(snap domain.IndicatorSnapshot, name string) (float64, error) {
	switch strings.ToUpper(name) {
	case "ATR":
		return snap.ATR, nil
	case "EMA20":
		return snap.EMA20, nil
	case "EMA50":
		return snap.EMA50, nil
	case "VWAP":
		return snap.VWAP, nil
	case "RSI":
		return snap.RSI, nil
	case "MACD":
		return snap.MACD, nil
	case "MACD_SIGNAL":
		return snap.MACDSignal, nil
	case "MACD_HISTOGRAM":
		return snap.MACDHistogram, nil
	default:
		return 0, fmt.Errorf("unknown indicator %q", name)
	}
}
