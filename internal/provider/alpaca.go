package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"tradecore/internal/domain"
	"tradecore/internal/gateway"
)

// Compile-time interface checks.
var _ HistoricalBarSource = (*AlpacaSource)(nil)
var _ LiveQuoteSource = (*AlpacaSource)(nil)

// providerAlpaca is the gateway provider name for Alpaca market data.
const providerAlpaca = "alpaca"

// Cache lifetimes per data kind. Historical bars change rarely; quotes are
// near-live and kept only briefly.
const (
	barsTTL   = 5 * time.Minute
	quotesTTL = 5 * time.Second
)

// AlpacaSource fetches bars and quotes from the Alpaca market-data API. All
// calls go through the gateway for caching, throttling, and retry.
type AlpacaSource struct {
	client *marketdata.Client
	gw     *gateway.Gateway
	log    *slog.Logger
}

// NewAlpacaSource creates an AlpacaSource with the given credentials. An
// empty dataURL uses the SDK default endpoint.
func NewAlpacaSource(apiKey, apiSecret, dataURL string, gw *gateway.Gateway, logger *slog.Logger) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AlpacaSource{
		client: marketdata.NewClient(opts),
		gw:     gw,
		log:    logger.With("provider", providerAlpaca),
	}
}

// GetHistoricalBars fetches bars for the symbol over [from, to].
func (s *AlpacaSource) GetHistoricalBars(ctx context.Context, symbol string, from, to time.Time, timeframe domain.Timeframe) ([]domain.Bar, error) {
	symbol = strings.ToUpper(symbol)
	tf, err := alpacaTimeframe(timeframe)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s_bars_%s_%s_%d_%d", providerAlpaca, symbol, timeframe, from.Unix(), to.Unix())
	return gateway.Fetch[[]domain.Bar](ctx, s.gw, gateway.Request{
		Provider: providerAlpaca,
		CacheKey: key,
		TTL:      barsTTL,
		Op: func(ctx context.Context) (any, error) {
			return s.fetchBars(ctx, symbol, from, to, tf)
		},
	})
}

func (s *AlpacaSource) fetchBars(ctx context.Context, symbol string, from, to time.Time, tf marketdata.TimeFrame) ([]domain.Bar, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	alpacaBars, err := s.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: tf,
		Start:     from,
		End:       to,
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}

	bars := make([]domain.Bar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		bars = append(bars, domain.Bar{
			Symbol:     symbol,
			Timestamp:  ab.Timestamp,
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	return bars, nil
}

// GetLatestQuote fetches the most recent top-of-book quote for the symbol.
func (s *AlpacaSource) GetLatestQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	symbol = strings.ToUpper(symbol)
	key := fmt.Sprintf("%s_quote_%s", providerAlpaca, symbol)
	return gateway.Fetch[domain.Quote](ctx, s.gw, gateway.Request{
		Provider: providerAlpaca,
		CacheKey: key,
		TTL:      quotesTTL,
		Op: func(ctx context.Context) (any, error) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			q, err := s.client.GetLatestQuote(symbol, marketdata.GetLatestQuoteRequest{})
			if err != nil {
				return nil, fmt.Errorf("GetLatestQuote %s: %w", symbol, err)
			}
			return domain.Quote{
				Symbol:    symbol,
				BidPrice:  q.BidPrice,
				AskPrice:  q.AskPrice,
				BidSize:   int64(q.BidSize),
				AskSize:   int64(q.AskSize),
				Timestamp: q.Timestamp,
			}, nil
		},
	})
}

func alpacaTimeframe(tf domain.Timeframe) (marketdata.TimeFrame, error) {
	switch tf {
	case domain.Timeframe1Min:
		return marketdata.OneMin, nil
	case domain.Timeframe5Min:
		return marketdata.NewTimeFrame(5, marketdata.Min), nil
	case domain.Timeframe15Min:
		return marketdata.NewTimeFrame(15, marketdata.Min), nil
	case domain.Timeframe1Hour:
		return marketdata.OneHour, nil
	case domain.Timeframe1Day:
		return marketdata.OneDay, nil
	default:
		return marketdata.TimeFrame{}, fmt.Errorf("unsupported timeframe %q", tf)
	}
}
