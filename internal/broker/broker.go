// Package broker abstracts order execution venues. It provides a live
// Alpaca-backed implementation and an in-memory simulator for paper trading.
package broker

import (
	"context"

	"tradecore/internal/domain"
)

// Broker executes orders and reports account state.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// PlaceOrder sends an order for execution.
	PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResponse, error)

	// CancelOrder requests cancellation of an open order by its ID.
	CancelOrder(ctx context.Context, orderID string) error

	// GetPositions returns all current positions.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// GetAccountBalance returns a snapshot of the account's financial state.
	GetAccountBalance(ctx context.Context) (domain.AccountBalance, error)
}
