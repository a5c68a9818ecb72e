// Package domain holds the core value types shared across the trading
// system: bars, indicator snapshots, signals, and their lifecycle enums.
package domain

import "time"

// Timeframe identifies the bar interval for historical data requests.
type Timeframe string

const (
	Timeframe1Min  Timeframe = "1Min"
	Timeframe5Min  Timeframe = "5Min"
	Timeframe15Min Timeframe = "15Min"
	Timeframe1Hour Timeframe = "1Hour"
	Timeframe1Day  Timeframe = "1Day"
)

// Bar is one OHLCV observation for a symbol over a fixed interval. Bars are
// ordered by timestamp per symbol and immutable once produced.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// TypicalPrice returns (high + low + close) / 3, the price used for VWAP
// accumulation.
func (b Bar) TypicalPrice() float64 {
	return (b.High + b.Low + b.Close) / 3
}

// Quote is a top-of-book snapshot for a symbol.
type Quote struct {
	Symbol    string
	BidPrice  float64
	AskPrice  float64
	BidSize   int64
	AskSize   int64
	Timestamp time.Time
}

// IndicatorValue is a single named indicator reading from an external
// indicator provider.
type IndicatorValue struct {
	Symbol    string
	Indicator string
	Value     float64
	Timestamp time.Time
}

// EquityPoint is one sample of the account balance during a simulation.
type EquityPoint struct {
	Date    time.Time
	Balance float64
}
