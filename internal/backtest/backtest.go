// Package backtest runs the walk-forward simulator: it replays historical
// bars through the signal generator, applies the execution gates, tracks
// positions and balance, and aggregates a run result.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"tradecore/internal/config"
	"tradecore/internal/domain"
	"tradecore/internal/provider"
	"tradecore/internal/risk"
	"tradecore/internal/signal"
)

// warmupBars is the number of bars skipped at the start of each symbol's
// series so the slow indicators have data.
const warmupBars = signal.MinBars

// equitySampleInterval is the bar stride between equity-curve samples.
const equitySampleInterval = 24

// Ledger records the signal lifecycle externally. Write failures are logged
// and never affect the simulation state.
type Ledger interface {
	LogSignal(ctx context.Context, sig *domain.Signal) error
	UpdateSignalExecution(ctx context.Context, sig *domain.Signal) error
	UpdateSignalOutcome(ctx context.Context, sig *domain.Signal) error
}

// NopLedger discards all writes.
type NopLedger struct{}

func (NopLedger) LogSignal(context.Context, *domain.Signal) error             { return nil }
func (NopLedger) UpdateSignalExecution(context.Context, *domain.Signal) error { return nil }
func (NopLedger) UpdateSignalOutcome(context.Context, *domain.Signal) error   { return nil }

// Result is the aggregate outcome of one backtest run.
type Result struct {
	TotalSignals     int
	WinningSignals   int
	LosingSignals    int
	BreakevenSignals int
	WinRate          float64
	TotalPnL         float64
	AveragePnL       float64
	MaxDrawdown      float64
	SharpeRatio      float64
	FinalBalance     float64
	ReturnPercentage float64
	Signals          []domain.Signal
	EquityCurve      []domain.EquityPoint
}

// Engine is the walk-forward simulator. Symbols are processed sequentially;
// balance and the daily PnL accumulator are shared across symbols.
type Engine struct {
	cfg       config.BacktestConfig
	bars      provider.HistoricalBarSource
	enriched  provider.IndicatorSource
	ledger    Ledger
	generator *signal.Generator
	log       *slog.Logger

	balance       float64
	openPositions map[string]*domain.Signal
	closedSignals []domain.Signal
	equity        []domain.EquityPoint
	dailyPnL      map[string]float64
	lastSignalAt  map[string]time.Time
	signalCounts  map[string]int
}

// New creates an Engine. The enriched indicator source may be nil; it is
// only consulted when the config enables enriched indicators.
func New(cfg config.BacktestConfig, bars provider.HistoricalBarSource, enriched provider.IndicatorSource, ledger Ledger, logger *slog.Logger) *Engine {
	if ledger == nil {
		ledger = NopLedger{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:       cfg,
		bars:      bars,
		enriched:  enriched,
		ledger:    ledger,
		generator: signal.NewGenerator(cfg.Risk, logger),
		log:       logger.With("component", "backtest"),
	}
}

// Balance returns the current simulated cash balance.
func (e *Engine) Balance() float64 { return e.balance }

// OpenPositions returns the currently open positions keyed by symbol.
func (e *Engine) OpenPositions() map[string]*domain.Signal { return e.openPositions }

// DailyPnL returns the per-day realized PnL accumulator.
func (e *Engine) DailyPnL() map[string]float64 { return e.dailyPnL }

// Run executes the backtest. A symbol-level error is logged and skipped;
// only an invalid configuration aborts the run.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	from, _ := e.cfg.From()
	to, _ := e.cfg.To()

	e.balance = e.cfg.InitialBalance
	e.openPositions = make(map[string]*domain.Signal)
	e.closedSignals = nil
	e.equity = []domain.EquityPoint{{Date: from, Balance: e.balance}}
	e.dailyPnL = make(map[string]float64)
	e.lastSignalAt = make(map[string]time.Time)
	e.signalCounts = make(map[string]int)

	e.log.Info("run starting",
		"symbols", len(e.cfg.Symbols),
		"from", e.cfg.FromDate,
		"to", e.cfg.ToDate,
		"balance", e.balance,
	)

	for _, symbol := range e.cfg.Symbols {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err := e.runSymbol(ctx, symbol, from, to); err != nil {
			e.log.Error("symbol failed", "symbol", symbol, "err", err)
		}
	}

	e.closeAllPositions(ctx, to)

	result := e.aggregate()
	e.log.Info("run complete",
		"signals", result.TotalSignals,
		"winRate", result.WinRate,
		"finalBalance", result.FinalBalance,
	)
	return result, nil
}

func (e *Engine) runSymbol(ctx context.Context, symbol string, from, to time.Time) error {
	timeframe := domain.Timeframe(e.cfg.Timeframe)
	bars, err := e.bars.GetHistoricalBars(ctx, symbol, from, to, timeframe)
	if err != nil {
		return fmt.Errorf("fetching bars: %w", err)
	}
	if len(bars) <= warmupBars {
		e.log.Warn("not enough bars", "symbol", symbol, "bars", len(bars))
		return nil
	}

	var enriched *domain.IndicatorSnapshot
	if e.cfg.UseEnrichedIndicators && e.enriched != nil {
		enriched = e.fetchEnriched(ctx, symbol)
	}

	for i := warmupBars; i < len(bars); i++ {
		bar := bars[i]

		// Entry is evaluated before exits, so a position closed on this bar
		// cannot be replaced until the next one.
		if e.canOpenPosition(symbol) {
			window := bars[:i+1]
			candidates := e.generator.Generate(window, enriched, signal.FirstMatch, e.balance)
			if len(candidates) == 1 {
				e.tryExecute(ctx, &candidates[0], bar)
			}
		}

		if pos, ok := e.openPositions[symbol]; ok {
			e.checkExit(ctx, pos, bar)
		}

		if i%equitySampleInterval == 0 || i == len(bars)-1 {
			e.equity = append(e.equity, domain.EquityPoint{Date: bar.Timestamp, Balance: e.balance})
		}
	}
	return nil
}

func (e *Engine) fetchEnriched(ctx context.Context, symbol string) *domain.IndicatorSnapshot {
	values, err := e.enriched.GetIndicators(ctx, symbol, []string{"ATR", "EMA20", "EMA50", "VWAP", "RSI"})
	if err != nil {
		e.log.Warn("enriched indicators unavailable", "symbol", symbol, "err", err)
		return nil
	}
	snap := &domain.IndicatorSnapshot{}
	for _, v := range values {
		switch v.Indicator {
		case "ATR":
			snap.ATR = v.Value
		case "EMA20":
			snap.EMA20 = v.Value
		case "EMA50":
			snap.EMA50 = v.Value
		case "VWAP":
			snap.VWAP = v.Value
		case "RSI":
			snap.RSI = v.Value
		}
	}
	return snap
}

// canOpenPosition enforces the structural caps: one position per symbol, the
// per-symbol signal budget, and the global concurrent-position cap.
func (e *Engine) canOpenPosition(symbol string) bool {
	if _, open := e.openPositions[symbol]; open {
		return false
	}
	if e.signalCounts[symbol] >= e.cfg.MaxSignalsPerSymbol {
		return false
	}
	return len(e.openPositions) < e.cfg.MaxConcurrentPositions
}

// tryExecute runs the execution gates in order and opens the position when
// they all pass. A gated signal is dropped silently.
func (e *Engine) tryExecute(ctx context.Context, sig *domain.Signal, bar domain.Bar) {
	rp := e.cfg.Risk

	if sig.ConfluenceScore < rp.ConfluenceThreshold() {
		return
	}
	if !e.inKillZone(bar.Timestamp) {
		return
	}

	sig.Quantity = risk.PositionSize(e.balance, rp.MaxRiskAmount, sig.StopLoss, sig.Price)
	if sig.Quantity <= 0 {
		return
	}
	cost := sig.Price * float64(sig.Quantity)
	if cost > e.balance*0.95 {
		return
	}

	day := bar.Timestamp.Format("2006-01-02")
	pnlToday := e.dailyPnL[day]
	if rp.MaxDailyLoss > 0 && pnlToday <= -rp.MaxDailyLoss/100*e.balance {
		return
	}
	if rp.MaxDailyWin > 0 && pnlToday >= rp.MaxDailyWin/100*e.balance {
		return
	}

	if last, ok := e.lastSignalAt[sig.Symbol]; ok {
		cooldown := time.Duration(rp.SymbolCooldownHours * float64(time.Hour))
		if bar.Timestamp.Sub(last) < cooldown {
			return
		}
	}

	e.balance -= cost
	sig.OrderID = fmt.Sprintf("backtest_%d", bar.Timestamp.UnixMilli())
	sig.ExecutedAt = bar.Timestamp
	sig.ExecutedPrice = sig.Price
	sig.ExecutedQuantity = sig.Quantity
	e.openPositions[sig.Symbol] = sig
	e.signalCounts[sig.Symbol]++
	e.lastSignalAt[sig.Symbol] = bar.Timestamp

	if err := e.ledger.LogSignal(ctx, sig); err != nil {
		e.log.Warn("ledger log failed", "signal", sig.ID, "err", err)
	}
	if err := e.ledger.UpdateSignalExecution(ctx, sig); err != nil {
		e.log.Warn("ledger execution update failed", "signal", sig.ID, "err", err)
	}

	e.log.Debug("position opened",
		"symbol", sig.Symbol,
		"type", sig.Type,
		"direction", sig.Direction,
		"price", sig.Price,
		"qty", sig.Quantity,
	)
}

// inKillZone reports whether new entries are permitted at t. An empty zone
// list permits entries at all times.
func (e *Engine) inKillZone(t time.Time) bool {
	zones := e.cfg.Risk.KillZones
	if len(zones) == 0 {
		return true
	}
	for _, z := range zones {
		if z.Contains(t) {
			return true
		}
	}
	return false
}

// checkExit closes the position when the bar close crosses its stop or
// target.
func (e *Engine) checkExit(ctx context.Context, pos *domain.Signal, bar domain.Bar) {
	price := bar.Close
	var reason string
	if pos.Direction == domain.Long {
		switch {
		case price <= pos.StopLoss:
			reason = "STOP_LOSS"
		case price >= pos.TakeProfit:
			reason = "TAKE_PROFIT"
		}
	} else {
		switch {
		case price >= pos.StopLoss:
			reason = "STOP_LOSS"
		case price <= pos.TakeProfit:
			reason = "TAKE_PROFIT"
		}
	}
	if reason == "" {
		return
	}
	e.closePosition(ctx, pos, price, bar.Timestamp, reason)
}

// closePosition realizes PnL at the exit price, net of commission and
// slippage, and settles the position.
func (e *Engine) closePosition(ctx context.Context, pos *domain.Signal, exitPrice float64, at time.Time, reason string) {
	delta := exitPrice - pos.ExecutedPrice
	if pos.Direction == domain.Short {
		delta = -delta
	}
	qty := float64(pos.ExecutedQuantity)
	pnl := delta * qty
	pnl -= e.cfg.Risk.CommissionPerTrade * qty
	pnl -= math.Abs(exitPrice-pos.ExecutedPrice) * e.cfg.Risk.SlippagePercent / 100 * qty

	e.settle(ctx, pos, pnl, at, reason)
}

// settle records the outcome for the given realized PnL, credits the cost
// basis plus PnL back to the balance, and updates the ledger.
func (e *Engine) settle(ctx context.Context, pos *domain.Signal, pnl float64, at time.Time, reason string) {
	switch {
	case pnl > 0:
		pos.Outcome = domain.OutcomeWin
	case math.Abs(pnl) < 1:
		pos.Outcome = domain.OutcomeBreakeven
	default:
		pos.Outcome = domain.OutcomeLoss
	}
	pos.PnL = pnl
	pos.ExitReason = reason
	pos.ClosedAt = at

	e.balance += pos.ExecutedPrice*float64(pos.ExecutedQuantity) + pnl

	day := pos.ExecutedAt.Format("2006-01-02")
	e.dailyPnL[day] += pnl

	delete(e.openPositions, pos.Symbol)
	e.closedSignals = append(e.closedSignals, *pos)

	if err := e.ledger.UpdateSignalOutcome(ctx, pos); err != nil {
		e.log.Warn("ledger outcome update failed", "signal", pos.ID, "err", err)
	}

	e.log.Debug("position closed",
		"symbol", pos.Symbol,
		"outcome", pos.Outcome,
		"pnl", pnl,
		"reason", reason,
	)
}

// closeAllPositions force-closes remaining positions at their own execution
// price with exactly zero realized PnL; commission and slippage are not
// charged. This understates final exposure but keeps the balance
// reconciliation exact.
func (e *Engine) closeAllPositions(ctx context.Context, at time.Time) {
	symbols := make([]string, 0, len(e.openPositions))
	for symbol := range e.openPositions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	for _, symbol := range symbols {
		e.settle(ctx, e.openPositions[symbol], 0, at, "BACKTEST_END")
	}
}

func (e *Engine) aggregate() *Result {
	r := &Result{
		FinalBalance: e.balance,
		Signals:      e.closedSignals,
		EquityCurve:  e.equity,
	}

	for _, sig := range e.closedSignals {
		r.TotalSignals++
		r.TotalPnL += sig.PnL
		switch sig.Outcome {
		case domain.OutcomeWin:
			r.WinningSignals++
		case domain.OutcomeLoss:
			r.LosingSignals++
		case domain.OutcomeBreakeven:
			r.BreakevenSignals++
		}
	}
	if r.TotalSignals > 0 {
		r.WinRate = float64(r.WinningSignals) / float64(r.TotalSignals)
		r.AveragePnL = r.TotalPnL / float64(r.TotalSignals)
	}

	r.MaxDrawdown = maxDrawdown(e.equity)
	r.SharpeRatio = sharpeRatio(e.equity)
	if e.cfg.InitialBalance > 0 {
		r.ReturnPercentage = (e.balance - e.cfg.InitialBalance) / e.cfg.InitialBalance * 100
	}
	return r
}

// maxDrawdown is the largest fractional decline from a running equity peak.
func maxDrawdown(curve []domain.EquityPoint) float64 {
	var peak, dd float64
	for _, p := range curve {
		if p.Balance > peak {
			peak = p.Balance
		}
		if peak > 0 {
			if d := (peak - p.Balance) / peak; d > dd {
				dd = d
			}
		}
	}
	return dd
}

// sharpeRatio is the mean of consecutive equity percentage deltas over their
// population standard deviation, with no risk-free rate or annualization.
func sharpeRatio(curve []domain.EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}
	var returns []float64
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Balance
		if prev == 0 {
			continue
		}
		returns = append(returns, (curve[i].Balance-prev)/prev)
	}
	if len(returns) == 0 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))

	stdev := math.Sqrt(variance)
	if stdev == 0 {
		return 0
	}
	return mean / stdev
}
