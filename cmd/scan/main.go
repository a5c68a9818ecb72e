// Command scan fetches recent bars for the configured symbols, mines all
// matching signals, and optionally paper-trades them through the simulator.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"tradecore/internal/broker"
	"tradecore/internal/config"
	"tradecore/internal/domain"
	"tradecore/internal/gateway"
	"tradecore/internal/provider"
	sig "tradecore/internal/signal"
	"tradecore/internal/store"
	"tradecore/internal/util"
)

func main() {
	cfgPath := flag.String("config", "config/tradecore.yaml", "path to config file")
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols (default: backtest symbols from config)")
	paper := flag.Bool("paper", false, "paper-trade matched signals through the simulator")
	lookbackDays := flag.Int("lookback", 10, "days of hourly bars to scan")
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

	symbols := cfg.Backtest.Symbols
	if *symbolsFlag != "" {
		symbols = strings.Split(*symbolsFlag, ",")
	}
	if len(symbols) == 0 {
		log.Fatal("no symbols to scan")
	}

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

	generator := sig.NewGenerator(cfg.Backtest.Risk, logger)
	sim := broker.NewSimulatorBroker(cfg.Backtest.InitialBalance)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p := message.NewPrinter(language.English)
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -*lookbackDays)

	for _, symbol := range symbols {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		bars, err := barSource.GetHistoricalBars(ctx, symbol, from, to, domain.Timeframe1Hour)
		if err != nil {
			logger.Error("fetching bars failed", "symbol", symbol, "err", err)
			continue
		}
		if len(bars) < sig.MinBars {
			logger.Warn("not enough bars", "symbol", symbol, "bars", len(bars))
			continue
		}

		matches := generator.Generate(bars, nil, sig.AllMatches, cfg.Backtest.InitialBalance)
		if len(matches) == 0 {
			p.Printf("%s: no signals\n", symbol)
			continue
		}

		for _, m := range matches {
			p.Printf("%s: %s %s @ %.2f (confluence %.2f, stop %.2f, target %.2f, qty %d) [%s]\n",
				symbol, m.Type, m.Direction, m.Price, m.ConfluenceScore,
				m.StopLoss, m.TakeProfit, m.Quantity, strings.Join(m.ReasonCodes, ","))

			if !*paper || m.Quantity <= 0 {
				continue
			}

			quote, err := alpacaSrc.GetLatestQuote(ctx, symbol)
			if err != nil {
				logger.Warn("quote unavailable, using signal price", "symbol", symbol, "err", err)
				sim.SetMarkPrice(symbol, m.Price)
			} else {
				sim.SetMarkPrice(symbol, (quote.BidPrice+quote.AskPrice)/2)
			}

			resp, err := sim.PlaceOrder(ctx, domain.Order{
				Symbol:   symbol,
				Side:     m.Direction,
				Quantity: m.Quantity,
				Type:     "market",
			})
			if err != nil {
				logger.Error("paper order failed", "symbol", symbol, "err", err)
				continue
			}
			p.Printf("  paper fill: %d @ %.2f (order %s)\n", resp.FilledQuantity, resp.FilledPrice, resp.OrderID)
		}
	}

	if *paper {
		bal, err := sim.GetAccountBalance(ctx)
		if err == nil {
			p.Printf("paper account: cash %.2f, equity %.2f\n", bal.Cash, bal.Equity)
		}
	}
}
