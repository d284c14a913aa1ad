package repository

import (
	"context"

	"shopapi/internal/domain/model"
)

type OrderItemRepository interface {
	CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error
	ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error)
	ListByOrderIDs(ctx context.Context, orderIDs []int64) ([]model.OrderItem, error)
}
