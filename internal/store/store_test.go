package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tradecore/internal/domain"
)

func testBar(symbol string, ts time.Time, close float64) domain.Bar {
	return domain.Bar{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      close - 1,
		High:      close + 1,
		Low:       close - 2,
		Close:     close,
		Volume:    1000,
		VWAP:      close,
	}
}

func TestParquetStoreRoundtrip(t *testing.T) {
	s := NewParquetStore(t.TempDir())
	ctx := context.Background()

	base := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	var bars []domain.Bar
	for i := 0; i < 5; i++ {
		bars = append(bars, testBar("AAPL", base.Add(time.Duration(i)*time.Hour), 100+float64(i)))
	}
	if err := s.WriteBars(ctx, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	got, err := s.ReadBars(ctx, "AAPL", base.Add(time.Hour), base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d bars, want 3", len(got))
	}
	if got[0].Close != 101 || got[2].Close != 103 {
		t.Errorf("window closes = %v, %v; want 101, 103", got[0].Close, got[2].Close)
	}
	for i := 1; i < len(got); i++ {
		if !got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Errorf("bars out of order at %d", i)
		}
	}
}

func TestParquetStoreMergeDedupes(t *testing.T) {
	s := NewParquetStore(t.TempDir())
	ctx := context.Background()

	ts := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	if err := s.WriteBars(ctx, []domain.Bar{testBar("MSFT", ts, 400)}); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}
	// Rewriting the same timestamp replaces the earlier record.
	if err := s.WriteBars(ctx, []domain.Bar{testBar("MSFT", ts, 401)}); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	got, err := s.ReadBars(ctx, "msft", ts.Add(-time.Hour), ts.Add(time.Hour))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d bars, want 1", len(got))
	}
	if got[0].Close != 401 {
		t.Errorf("close = %v, want 401", got[0].Close)
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	s := NewParquetStore(t.TempDir())
	ctx := context.Background()

	ts := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	err := s.WriteBars(ctx, []domain.Bar{
		testBar("TSLA", ts, 250),
		testBar("AAPL", ts, 190),
	})
	if err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	symbols, err := s.ListSymbols(ctx)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "AAPL" || symbols[1] != "TSLA" {
		t.Errorf("symbols = %v, want [AAPL TSLA]", symbols)
	}
}

func TestSQLiteLedgerLifecycle(t *testing.T) {
	ledger, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "signals.db"))
	if err != nil {
		t.Fatalf("NewSQLiteLedger: %v", err)
	}
	defer ledger.Close()
	ctx := context.Background()

	now := time.Date(2025, 4, 1, 15, 0, 0, 0, time.UTC)
	sig := &domain.Signal{
		ID:              domain.NewSignalID(),
		Symbol:          "NVDA",
		Timestamp:       now,
		Type:            domain.SignalBreakout,
		Direction:       domain.Long,
		Price:           900,
		StopLoss:        894,
		TakeProfit:      909,
		ConfluenceScore: 0.72,
		ReasonCodes:     []string{"EMA_ABOVE", "VOLUME_SPIKE"},
		RiskRewardRatio: 1.5,
		MaxRisk:         600,
		Outcome:         domain.OutcomeOpen,
		Mode:            domain.ModeBacktest,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := ledger.LogSignal(ctx, sig); err != nil {
		t.Fatalf("LogSignal: %v", err)
	}

	sig.OrderID = "backtest_1743519600000"
	sig.ExecutedAt = now
	sig.ExecutedPrice = 900
	sig.ExecutedQuantity = 100
	if err := ledger.UpdateSignalExecution(ctx, sig); err != nil {
		t.Fatalf("UpdateSignalExecution: %v", err)
	}

	sig.Outcome = domain.OutcomeWin
	sig.PnL = 900
	sig.ExitReason = "TAKE_PROFIT"
	sig.ClosedAt = now.Add(6 * time.Hour)
	if err := ledger.UpdateSignalOutcome(ctx, sig); err != nil {
		t.Fatalf("UpdateSignalOutcome: %v", err)
	}

	got, err := ledger.ListSignals(ctx, "NVDA", 10)
	if err != nil {
		t.Fatalf("ListSignals: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d signals, want 1", len(got))
	}
	s := got[0]
	if s.ID != sig.ID {
		t.Errorf("id = %s, want %s", s.ID, sig.ID)
	}
	if s.Outcome != domain.OutcomeWin || s.PnL != 900 || s.ExitReason != "TAKE_PROFIT" {
		t.Errorf("outcome = %s pnl = %v reason = %s", s.Outcome, s.PnL, s.ExitReason)
	}
	if s.OrderID != sig.OrderID || s.ExecutedQuantity != 100 {
		t.Errorf("execution fields not persisted: %+v", s)
	}
	if len(s.ReasonCodes) != 2 || s.ReasonCodes[0] != "EMA_ABOVE" {
		t.Errorf("reason codes = %v", s.ReasonCodes)
	}
	if !s.Timestamp.Equal(now) {
		t.Errorf("timestamp = %v, want %v", s.Timestamp, now)
	}
}

func TestSQLiteLedgerUpdateMissingSignal(t *testing.T) {
	ledger, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "signals.db"))
	if err != nil {
		t.Fatalf("NewSQLiteLedger: %v", err)
	}
	defer ledger.Close()

	sig := &domain.Signal{ID: "nope", Outcome: domain.OutcomeLoss}
	if err := ledger.UpdateSignalOutcome(context.Background(), sig); err == nil {
		t.Fatal("expected error updating unknown signal")
	}
}

func TestSQLiteLedgerListAllSymbols(t *testing.T) {
	ledger, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "signals.db"))
	if err != nil {
		t.Fatalf("NewSQLiteLedger: %v", err)
	}
	defer ledger.Close()
	ctx := context.Background()

	base := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	for i, sym := range []string{"AAPL", "MSFT", "AAPL"} {
		sig := &domain.Signal{
			ID:        domain.NewSignalID(),
			Symbol:    sym,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Type:      domain.SignalPullback,
			Direction: domain.Long,
			Price:     100,
			Outcome:   domain.OutcomeOpen,
			Mode:      domain.ModeBacktest,
			CreatedAt: base,
			UpdatedAt: base,
		}
		if err := ledger.LogSignal(ctx, sig); err != nil {
			t.Fatalf("LogSignal: %v", err)
		}
	}

	all, err := ledger.ListSignals(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListSignals: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d signals, want 3", len(all))
	}
	// Newest first.
	if !all[0].Timestamp.After(all[1].Timestamp) {
		t.Errorf("signals not ordered by timestamp desc")
	}

	aapl, err := ledger.ListSignals(ctx, "AAPL", 10)
	if err != nil {
		t.Fatalf("ListSignals: %v", err)
	}
	if len(aapl) != 2 {
		t.Errorf("got %d AAPL signals, want 2", len(aapl))
	}
}
