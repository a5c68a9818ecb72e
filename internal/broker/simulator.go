package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradecore/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker fills orders in memory for paper trading. Market orders
// fill at the mark price set via SetMarkPrice; limit orders fill at their
// limit price.
type SimulatorBroker struct {
	mu        sync.Mutex
	cash      float64
	positions map[string]*domain.Position
	marks     map[string]float64
	orders    map[string]domain.OrderResponse
}

// NewSimulatorBroker creates a simulator with the given starting cash.
func NewSimulatorBroker(startingCash float64) *SimulatorBroker {
	return &SimulatorBroker{
		cash:      startingCash,
		positions: make(map[string]*domain.Position),
		marks:     make(map[string]float64),
		orders:    make(map[string]domain.OrderResponse),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string { return "simulator" }

// SetMarkPrice sets the fill price used for market orders on the symbol.
func (b *SimulatorBroker) SetMarkPrice(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.marks[strings.ToUpper(symbol)] = price
}

// PlaceOrder fills the order immediately and adjusts cash and positions.
func (b *SimulatorBroker) PlaceOrder(_ context.Context, order domain.Order) (domain.OrderResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	symbol := strings.ToUpper(order.Symbol)
	if order.Quantity <= 0 {
		return domain.OrderResponse{}, fmt.Errorf("quantity must be positive, got %d", order.Quantity)
	}

	price := order.LimitPrice
	if order.Type == "market" || order.Type == "" {
		mark, ok := b.marks[symbol]
		if !ok {
			return domain.OrderResponse{}, fmt.Errorf("no mark price for %s", symbol)
		}
		price = mark
	}

	qty := order.Quantity
	if order.Side == domain.Short {
		qty = -qty
	}

	cost := float64(qty) * price
	if cost > 0 && cost > b.cash {
		return domain.OrderResponse{}, fmt.Errorf("insufficient cash: need %.2f, have %.2f", cost, b.cash)
	}
	b.cash -= cost

	pos, ok := b.positions[symbol]
	if !ok {
		pos = &domain.Position{Symbol: symbol}
		b.positions[symbol] = pos
	}
	newQty := pos.Quantity + qty
	if newQty == 0 {
		delete(b.positions, symbol)
	} else {
		// Average price only moves when the position grows on its own side.
		if (pos.Quantity >= 0) == (qty >= 0) {
			total := pos.AveragePrice*float64(pos.Quantity) + price*float64(qty)
			pos.AveragePrice = total / float64(newQty)
		}
		pos.Quantity = newQty
		pos.Timestamp = time.Now().UTC()
	}

	resp := domain.OrderResponse{
		OrderID:        uuid.NewString(),
		Status:         "filled",
		FilledQuantity: order.Quantity,
		FilledPrice:    price,
		Timestamp:      time.Now().UTC(),
	}
	b.orders[resp.OrderID] = resp
	return resp, nil
}

// CancelOrder is a no-op for filled orders; unknown IDs are an error.
func (b *SimulatorBroker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.orders[orderID]; !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	return nil
}

// GetPositions returns all simulated positions with mark-to-market values.
func (b *SimulatorBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	positions := make([]domain.Position, 0, len(b.positions))
	for symbol, p := range b.positions {
		pos := *p
		if mark, ok := b.marks[symbol]; ok {
			pos.MarketValue = mark * float64(pos.Quantity)
			pos.UnrealizedPnL = (mark - pos.AveragePrice) * float64(pos.Quantity)
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// GetAccountBalance returns the simulated cash and mark-to-market equity.
func (b *SimulatorBroker) GetAccountBalance(_ context.Context) (domain.AccountBalance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	equity := b.cash
	for symbol, p := range b.positions {
		if mark, ok := b.marks[symbol]; ok {
			equity += mark * float64(p.Quantity)
		} else {
			equity += p.AveragePrice * float64(p.Quantity)
		}
	}
	return domain.AccountBalance{
		AccountID:   "simulator",
		Cash:        b.cash,
		BuyingPower: b.cash,
		Equity:      equity,
		Timestamp:   time.Now().UTC(),
	}, nil
}
