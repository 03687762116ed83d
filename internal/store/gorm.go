package store

import (
	"context"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"perpguard/internal/schema"
	"perpguard/pkg/exception"
)

var _ Store = (*GormStore)(nil)

// GormStore implements Store on any gorm dialect (Postgres in production,
// SQLite locally and in tests).
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the schema and returns a store bound to db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, exception.ErrNilInstance
	}
	if err := db.AutoMigrate(&Order{}, &Position{}, &FreezeState{}, &LedgerEntry{}, &DailyNav{}); err != nil {
		return nil, errors.Wrap(err, "auto migrate")
	}
	return &GormStore{db: db}, nil
}

// DB returns the underlying gorm handle.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

var orderUpdateColumns = []string{
	"client_order_id", "symbol", "side", "type", "qty", "price", "status",
	"updated_at", "post_only", "reduce_only", "maker", "fee", "reject_reason",
}

func (s *GormStore) UpsertOrder(ctx context.Context, order Order) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			DoUpdates: clause.AssignmentColumns(orderUpdateColumns),
		}).
		Create(&order).Error
	if err != nil {
		return errors.Wrap(err, "upsert order").With("order_id", order.OrderID)
	}
	return nil
}

func (s *GormStore) GetOrder(ctx context.Context, orderID string) (Order, bool, error) {
	return s.findOrder(ctx, "order_id = ?", orderID)
}

func (s *GormStore) GetOrderByClientID(ctx context.Context, clientOrderID string) (Order, bool, error) {
	return s.findOrder(ctx, "client_order_id = ?", clientOrderID)
}

func (s *GormStore) findOrder(ctx context.Context, query string, arg string) (Order, bool, error) {
	var order Order
	result := s.db.WithContext(ctx).Where(query, arg).Limit(1).Find(&order)
	if result.Error != nil {
		return Order{}, false, errors.Wrap(result.Error, "find order").With("key", arg)
	}
	return order, result.RowsAffected > 0, nil
}

func (s *GormStore) ListOrders(ctx context.Context, symbol string, statuses ...schema.OrderStatus) ([]Order, error) {
	q := s.db.WithContext(ctx).Model(&Order{})
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	if len(statuses) != 0 {
		raw := make([]string, 0, len(statuses))
		for _, st := range statuses {
			raw = append(raw, string(st))
		}
		q = q.Where("status IN ?", raw)
	}

	var orders []Order
	if err := q.Order("created_at ASC").Order("order_id ASC").Find(&orders).Error; err != nil {
		return nil, errors.Wrap(err, "list orders").With("symbol", symbol)
	}
	return orders, nil
}

func (s *GormStore) DeleteOrder(ctx context.Context, orderID string) error {
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Delete(&Order{}).Error; err != nil {
		return errors.Wrap(err, "delete order").With("order_id", orderID)
	}
	return nil
}

func (s *GormStore) UpdateOrderStatus(ctx context.Context, orderID string, status schema.OrderStatus, updatedMs int64) error {
	result := s.db.WithContext(ctx).
		Model(&Order{}).
		Where("order_id = ?", orderID).
		Updates(map[string]any{"status": string(status), "updated_at": updatedMs})
	if result.Error != nil {
		return errors.Wrap(result.Error, "update order status").With("order_id", orderID)
	}
	if result.RowsAffected == 0 {
		return errors.Wrap(exception.ErrStoreNotFound, "update order status").With("order_id", orderID)
	}
	return nil
}

func (s *GormStore) GetPosition(ctx context.Context, symbol string) (Position, bool, error) {
	var pos Position
	result := s.db.WithContext(ctx).Where("symbol = ?", symbol).Limit(1).Find(&pos)
	if result.Error != nil {
		return Position{}, false, errors.Wrap(result.Error, "find position").With("symbol", symbol)
	}
	return pos, result.RowsAffected > 0, nil
}

func (s *GormStore) ListPositions(ctx context.Context) ([]Position, error) {
	var positions []Position
	if err := s.db.WithContext(ctx).Order("symbol ASC").Find(&positions).Error; err != nil {
		return nil, errors.Wrap(err, "list positions")
	}
	return positions, nil
}

func (s *GormStore) SetPosition(ctx context.Context, position Position) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&position).Error
	if err != nil {
		return errors.Wrap(err, "set position").With("symbol", position.Symbol)
	}
	return nil
}

func (s *GormStore) ClearPosition(ctx context.Context, symbol string) error {
	if err := s.db.WithContext(ctx).Where("symbol = ?", symbol).Delete(&Position{}).Error; err != nil {
		return errors.Wrap(err, "clear position").With("symbol", symbol)
	}
	return nil
}

func (s *GormStore) LoadFreeze(ctx context.Context) (FreezeState, error) {
	var state FreezeState
	result := s.db.WithContext(ctx).Where("id = ?", freezeStateID).Limit(1).Find(&state)
	if result.Error != nil {
		return FreezeState{}, errors.Wrap(result.Error, "load freeze state")
	}
	if result.RowsAffected == 0 {
		return FreezeState{ID: freezeStateID}, nil
	}
	return state, nil
}

func (s *GormStore) SaveFreeze(ctx context.Context, state FreezeState) error {
	state.ID = freezeStateID
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&state).Error
	if err != nil {
		return errors.Wrap(err, "save freeze state")
	}
	return nil
}

func (s *GormStore) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) error {
	entry.ID = 0
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return errors.Wrap(err, "insert ledger entry").With("type", entry.Type)
	}
	return nil
}

func (s *GormStore) ListLedgerEntries(ctx context.Context, limit int) ([]LedgerEntry, error) {
	q := s.db.WithContext(ctx).Order("ts DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entries []LedgerEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, errors.Wrap(err, "list ledger entries")
	}
	return entries, nil
}

func (s *GormStore) UpsertDailyNav(ctx context.Context, nav DailyNav) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&nav).Error
	if err != nil {
		return errors.Wrap(err, "upsert daily nav").With("ts", nav.DayMs)
	}
	return nil
}

func (s *GormStore) GetDailyNav(ctx context.Context, dayMs int64) (DailyNav, bool, error) {
	var nav DailyNav
	result := s.db.WithContext(ctx).Where("ts = ?", dayMs).Limit(1).Find(&nav)
	if result.Error != nil {
		return DailyNav{}, false, errors.Wrap(result.Error, "find daily nav").With("ts", dayMs)
	}
	return nav, result.RowsAffected > 0, nil
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}
