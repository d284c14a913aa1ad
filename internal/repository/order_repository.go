package repository

import (
	"context"

	"shopapi/internal/domain/model"
)

// Limitが0なら全件
type OrderListFilter struct {
	UserID *string
	Status model.OrderStatus
	Page   int
	Limit  int
}

type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (model.Order, error)
	List(ctx context.Context, f OrderListFilter) ([]model.Order, int64, error)
	Create(ctx context.Context, order model.Order) (int64, error)

	// statusが期待値のときだけ更新。更新できなければfalse
	UpdateStatusIf(ctx context.Context, orderID int64, from, to model.OrderStatus) (bool, error)
}
