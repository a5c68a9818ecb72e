package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaBroker executes orders through the Alpaca trading API.
type AlpacaBroker struct {
	client *alpaca.Client
}

// NewAlpacaBroker creates an AlpacaBroker with the given credentials. An
// empty baseURL uses the SDK default (live trading); pass the paper endpoint
// for paper accounts.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string) *AlpacaBroker {
	opts := alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if baseURL != "" {
		opts.BaseURL = baseURL
	}
	return &AlpacaBroker{client: alpaca.NewClient(opts)}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string { return "alpaca" }

// PlaceOrder submits the order to Alpaca.
func (b *AlpacaBroker) PlaceOrder(_ context.Context, order domain.Order) (domain.OrderResponse, error) {
	req, err := placeOrderRequest(order)
	if err != nil {
		return domain.OrderResponse{}, err
	}

	placed, err := b.client.PlaceOrder(req)
	if err != nil {
		return domain.OrderResponse{}, fmt.Errorf("placing %s order for %s: %w", order.Side, order.Symbol, err)
	}

	resp := domain.OrderResponse{
		OrderID:        placed.ID,
		Status:         string(placed.Status),
		FilledQuantity: placed.FilledQty.IntPart(),
		Timestamp:      placed.SubmittedAt,
	}
	if placed.FilledAvgPrice != nil {
		resp.FilledPrice = placed.FilledAvgPrice.InexactFloat64()
	}
	return resp, nil
}

// CancelOrder cancels an open order by its Alpaca order ID.
func (b *AlpacaBroker) CancelOrder(_ context.Context, orderID string) error {
	if err := b.client.CancelOrder(orderID); err != nil {
		return fmt.Errorf("cancelling order %s: %w", orderID, err)
	}
	return nil
}

// GetPositions returns all open positions in the account.
func (b *AlpacaBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	alpacaPositions, err := b.client.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}

	now := time.Now().UTC()
	positions := make([]domain.Position, 0, len(alpacaPositions))
	for _, p := range alpacaPositions {
		pos := domain.Position{
			Symbol:       p.Symbol,
			Quantity:     p.Qty.IntPart(),
			AveragePrice: p.AvgEntryPrice.InexactFloat64(),
			Timestamp:    now,
		}
		if p.MarketValue != nil {
			pos.MarketValue = p.MarketValue.InexactFloat64()
		}
		if p.UnrealizedPL != nil {
			pos.UnrealizedPnL = p.UnrealizedPL.InexactFloat64()
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// GetAccountBalance returns the account's cash, buying power, and equity.
func (b *AlpacaBroker) GetAccountBalance(_ context.Context) (domain.AccountBalance, error) {
	acct, err := b.client.GetAccount()
	if err != nil {
		return domain.AccountBalance{}, fmt.Errorf("fetching account: %w", err)
	}
	return domain.AccountBalance{
		AccountID:   acct.ID,
		Cash:        acct.Cash.InexactFloat64(),
		BuyingPower: acct.BuyingPower.InexactFloat64(),
		Equity:      acct.Equity.InexactFloat64(),
		Timestamp:   time.Now().UTC(),
	}, nil
}

func placeOrderRequest(order domain.Order) (alpaca.PlaceOrderRequest, error) {
	var side alpaca.Side
	switch order.Side {
	case domain.Long:
		side = alpaca.Buy
	case domain.Short:
		side = alpaca.Sell
	default:
		return alpaca.PlaceOrderRequest{}, fmt.Errorf("unknown order side %q", order.Side)
	}

	qty := decimal.NewFromInt(order.Quantity)
	req := alpaca.PlaceOrderRequest{
		Symbol:        strings.ToUpper(order.Symbol),
		Qty:           &qty,
		Side:          side,
		ExtendedHours: order.ExtendedHours,
	}

	switch order.Type {
	case "limit":
		limit := decimal.NewFromFloat(order.LimitPrice)
		req.Type = alpaca.Limit
		req.LimitPrice = &limit
	case "market", "":
		req.Type = alpaca.Market
	default:
		return alpaca.PlaceOrderRequest{}, fmt.Errorf("unknown order type %q", order.Type)
	}

	switch order.TimeInForce {
	case "gtc":
		req.TimeInForce = alpaca.GTC
	case "day", "":
		req.TimeInForce = alpaca.Day
	default:
		return alpaca.PlaceOrderRequest{}, fmt.Errorf("unknown time in force %q", order.TimeInForce)
	}
	return req, nil
}
