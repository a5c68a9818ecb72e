package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"tradecore/internal/backtest"
	"tradecore/internal/config"
	"tradecore/internal/domain"
	"tradecore/internal/gateway"
	"tradecore/internal/provider"
	"tradecore/internal/store"
	"tradecore/internal/util"
)

func main() {
	cfgPath := flag.String("config", "config/tradecore.yaml", "path to config file")
	flag.Parse()

	path := *cfgPath
	if p := os.Getenv("TRADECORE_CONFIG"); p != "" {
		path = p
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	gw := gateway.New(logger, nil)
	for name, limit := range cfg.Providers {
		gw.SetLimit(name, gateway.RateLimit{
			PerMinute: limit.RequestsPerMinute,
			PerHour:   limit.RequestsPerHour,
			PerDay:    limit.RequestsPerDay,
		})
	}

	alpacaSrc := provider.NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, gw, logger)
	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	barSource := provider.NewCachedBarSource(pstore, alpacaSrc, logger)

	var enriched provider.IndicatorSource
	if cfg.Backtest.UseEnrichedIndicators {
		enriched = provider.NewComputedIndicatorSource(barSource,
			domain.Timeframe(cfg.Backtest.Timeframe), 30*24*time.Hour)
	}

	ledger, err := store.NewSQLiteLedger(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open signal ledger: %v", err)
	}
	defer ledger.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine := backtest.New(cfg.Backtest, barSource, enriched, ledger, logger)
	result, err := engine.Run(ctx)
	if err != nil {
		log.Fatalf("backtest failed: %v", err)
	}

	printReport(cfg.Backtest, result)
}

func printReport(cfg config.BacktestConfig, r *backtest.Result) {
	p := message.NewPrinter(language.English)

	p.Printf("Backtest %s to %s (%d symbols)\n", cfg.FromDate, cfg.ToDate, len(cfg.Symbols))
	p.Printf("  Signals:        %d (%d W / %d L / %d BE)\n",
		r.TotalSignals, r.WinningSignals, r.LosingSignals, r.BreakevenSignals)
	p.Printf("  Win rate:       %.1f%%\n", r.WinRate*100)
	p.Printf("  Total PnL:      %.2f\n", r.TotalPnL)
	p.Printf("  Average PnL:    %.2f\n", r.AveragePnL)
	p.Printf("  Max drawdown:   %.2f%%\n", r.MaxDrawdown*100)
	p.Printf("  Sharpe ratio:   %.3f\n", r.SharpeRatio)
	p.Printf("  Final balance:  %.2f (%.2f%% return)\n", r.FinalBalance, r.ReturnPercentage)
}
