// Package provider defines the market-data capability interfaces and their
// implementations: remote sources routed through the fetch gateway, a
// Parquet-backed caching layer, and a local indicator computer.
package provider

import (
	"context"
	"time"

	"tradecore/internal/domain"
)

// HistoricalBarSource supplies OHLCV bars for a symbol and window.
type HistoricalBarSource interface {
	GetHistoricalBars(ctx context.Context, symbol string, from, to time.Time, timeframe domain.Timeframe) ([]domain.Bar, error)
}

// IndicatorSource supplies named indicator readings for a symbol.
type IndicatorSource interface {
	GetIndicators(ctx context.Context, symbol string, names []string) ([]domain.IndicatorValue, error)
}

// LiveQuoteSource supplies the latest top-of-book quote for a symbol.
type LiveQuoteSource interface {
	GetLatestQuote(ctx context.Context, symbol string) (domain.Quote, error)
}
