package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradecore/internal/domain"
	"tradecore/internal/store"
)

type fakeBarSource struct {
	bars  []domain.Bar
	err   error
	calls int
}

func (f *fakeBarSource) GetHistoricalBars(_ context.Context, _ string, _, _ time.Time, _ domain.Timeframe) ([]domain.Bar, error) {
	f.calls++
	return f.bars, f.err
}

func hourlyBars(symbol string, n int, start time.Time) []domain.Bar {
	bars := make([]domain.Bar, 0, n)
	for i := 0; i < n; i++ {
		close := 100 + float64(i)
		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      close - 0.5,
			High:      close + 0.5,
			Low:       close - 0.5,
			Close:     close,
			Volume:    1000,
			VWAP:      close,
		})
	}
	return bars
}

func TestCachedBarSourceFallsBackAndWritesThrough(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)
	remote := &fakeBarSource{bars: hourlyBars("AAPL", 4, start)}
	s := store.NewParquetStore(t.TempDir())
	cached := NewCachedBarSource(s, remote, nil)

	got, err := cached.GetHistoricalBars(ctx, "AAPL", start, start.Add(4*time.Hour), domain.Timeframe1Hour)
	if err != nil {
		t.Fatalf("GetHistoricalBars: %v", err)
	}
	if len(got) != 4 || remote.calls != 1 {
		t.Fatalf("got %d bars, %d remote calls; want 4 bars, 1 call", len(got), remote.calls)
	}

	// Second read is served from the local store.
	got, err = cached.GetHistoricalBars(ctx, "AAPL", start, start.Add(4*time.Hour), domain.Timeframe1Hour)
	if err != nil {
		t.Fatalf("GetHistoricalBars: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d bars from store, want 4", len(got))
	}
	if remote.calls != 1 {
		t.Errorf("remote calls = %d, want 1", remote.calls)
	}
}

func TestCachedBarSourcePropagatesRemoteError(t *testing.T) {
	wantErr := errors.New("provider down")
	remote := &fakeBarSource{err: wantErr}
	cached := NewCachedBarSource(store.NewParquetStore(t.TempDir()), remote, nil)

	_, err := cached.GetHistoricalBars(context.Background(), "AAPL",
		time.Now().Add(-time.Hour), time.Now(), domain.Timeframe1Hour)
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestComputedIndicatorSource(t *testing.T) {
	start := time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)
	remote := &fakeBarSource{bars: hourlyBars("AAPL", 60, start)}
	src := NewComputedIndicatorSource(remote, domain.Timeframe1Hour, 72*time.Hour)

	values, err := src.GetIndicators(context.Background(), "aapl", []string{"ATR", "rsi", "ema20"})
	if err != nil {
		t.Fatalf("GetIndicators: %v", err)
	}
	if len(values) != 3 {
		t.Fatalf("got %d values, want 3", len(values))
	}
	byName := make(map[string]domain.IndicatorValue)
	for _, v := range values {
		byName[v.Indicator] = v
		if v.Symbol != "AAPL" {
			t.Errorf("symbol = %s, want AAPL", v.Symbol)
		}
		if !v.Timestamp.Equal(start.Add(59 * time.Hour)) {
			t.Errorf("timestamp = %v, want last bar time", v.Timestamp)
		}
	}
	// Monotonic rise of 1 per hour keeps true range at 1.5 and RSI pinned
	// at 100.
	if atr := byName["ATR"].Value; atr != 1.5 {
		t.Errorf("ATR = %v, want 1.5", atr)
	}
	if rsi := byName["RSI"].Value; rsi != 100 {
		t.Errorf("RSI = %v, want 100", rsi)
	}
	if ema := byName["EMA20"].Value; ema <= 0 {
		t.Errorf("EMA20 = %v, want > 0", ema)
	}
}

func TestComputedIndicatorSourceUnknownName(t *testing.T) {
	remote := &fakeBarSource{bars: hourlyBars("AAPL", 60, time.Now().UTC())}
	src := NewComputedIndicatorSource(remote, domain.Timeframe1Hour, 72*time.Hour)

	if _, err := src.GetIndicators(context.Background(), "AAPL", []string{"BOLLINGER"}); err == nil {
		t.Fatal("expected error for unknown indicator name")
	}
}
