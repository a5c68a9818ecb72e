package provider

import (
	"context"
	"log/slog"
	"time"

	"tradecore/internal/domain"
	"tradecore/internal/store"
)

var _ HistoricalBarSource = (*CachedBarSource)(nil)

// CachedBarSource serves bars from a local Parquet store and falls back to a
// remote source on a miss, writing fetched bars through to the store.
type CachedBarSource struct {
	store  store.BarStore
	remote HistoricalBarSource
	log    *slog.Logger
}

// NewCachedBarSource wraps a remote source with the local bar store.
func NewCachedBarSource(s store.BarStore, remote HistoricalBarSource, logger *slog.Logger) *CachedBarSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedBarSource{
		store:  s,
		remote: remote,
		log:    logger.With("component", "cached-bars"),
	}
}

// GetHistoricalBars returns locally stored bars when present, otherwise
// fetches from the remote source and persists the result. A failed
// write-through is logged but does not fail the read.
func (c *CachedBarSource) GetHistoricalBars(ctx context.Context, symbol string, from, to time.Time, timeframe domain.Timeframe) ([]domain.Bar, error) {
	local, err := c.store.ReadBars(ctx, symbol, from, to)
	if err == nil && len(local) > 0 {
		return local, nil
	}

	bars, err := c.remote.GetHistoricalBars(ctx, symbol, from, to, timeframe)
	if err != nil {
		return nil, err
	}
	if len(bars) > 0 {
		if err := c.store.WriteBars(ctx, bars); err != nil {
			c.log.Warn("write-through failed", "symbol", symbol, "err", err)
		}
	}
	return bars, nil
}
