// Package store provides persistence: a Parquet-backed local cache for
// historical bars and a SQLite-backed ledger for the signal lifecycle.
package store

import (
	"context"
	"time"

	"tradecore/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the symbol within [start, end], ordered by
	// timestamp.
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols with stored bars.
	ListSymbols(ctx context.Context) ([]string, error)
}
