package store

import (
	"context"

	"perpguard/internal/schema"
)

// Store is the persistence contract shared by the risk guard, the execution
// engine and the cycle runner. It is the single source of truth for orders,
// positions and the freeze state.
type Store interface {
	UpsertOrder(ctx context.Context, order Order) error
	GetOrder(ctx context.Context, orderID string) (Order, bool, error)
	GetOrderByClientID(ctx context.Context, clientOrderID string) (Order, bool, error)
	// ListOrders returns the orders of a symbol, oldest first. An empty
	// symbol lists every symbol; statuses filter when given.
	ListOrders(ctx context.Context, symbol string, statuses ...schema.OrderStatus) ([]Order, error)
	DeleteOrder(ctx context.Context, orderID string) error
	// UpdateOrderStatus fails with exception.ErrStoreNotFound when no
	// order has orderID.
	UpdateOrderStatus(ctx context.Context, orderID string, status schema.OrderStatus, updatedMs int64) error

	GetPosition(ctx context.Context, symbol string) (Position, bool, error)
	ListPositions(ctx context.Context) ([]Position, error)
	SetPosition(ctx context.Context, position Position) error
	ClearPosition(ctx context.Context, symbol string) error

	LoadFreeze(ctx context.Context) (FreezeState, error)
	SaveFreeze(ctx context.Context, state FreezeState) error

	InsertLedgerEntry(ctx context.Context, entry LedgerEntry) error
	ListLedgerEntries(ctx context.Context, limit int) ([]LedgerEntry, error)

	UpsertDailyNav(ctx context.Context, nav DailyNav) error
	GetDailyNav(ctx context.Context, dayMs int64) (DailyNav, bool, error)

	// Transaction runs fn against a store bound to one database transaction.
	Transaction(ctx context.Context, fn func(tx Store) error) error
}
