package repository

import (
	"context"

	"shopapi/internal/domain/model"
)

type CartItemRepository interface {
	// 商品の現在の名前/価格/在庫をjoinして返す
	ListLines(ctx context.Context, userID string) ([]model.CartLine, error)
	// 同上。行ロック（FOR UPDATE）付き。Tx内で使う。
	ListLinesForUpdate(ctx context.Context, userID string) ([]model.CartLine, error)

	FindByID(ctx context.Context, cartItemID int64) (model.CartItem, error)
	FindByUserAndProduct(ctx context.Context, userID string, productID int64) (model.CartItem, error)

	// 同一商品はプラス
	AddQuantity(ctx context.Context, userID string, productID int64, addQty int64) error
	UpdateQuantity(ctx context.Context, cartItemID int64, qty int64) error
	// 明細を別の商品に付け替える
	Repoint(ctx context.Context, cartItemID int64, productID int64, qty int64) error

	DeleteByID(ctx context.Context, cartItemID int64) error
	DeleteByIDs(ctx context.Context, userID string, ids []int64) (int64, error)
	DeleteByProductID(ctx context.Context, productID int64) error
}
