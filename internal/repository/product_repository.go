package repository

import (
	"context"
	"errors"

	"shopapi/internal/domain/model"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
	// 外部キーで参照されていて消せない
	ErrInUse = errors.New("in use")
	// CHECK制約や数値の範囲を外れた
	ErrOutOfRange = errors.New("out of range")
)

// 一覧検索
type ProductListQuery struct {
	Page       int
	Limit      int
	Q          string
	CategoryID *int64
	MinPrice   *decimal.Decimal
	MaxPrice   *decimal.Decimal
	Sort       string
}

// 商品の永続化（保存・取得）だけを約束。
type ProductRepository interface {
	List(ctx context.Context, q ProductListQuery) ([]model.Product, int64, error)
	FindByID(ctx context.Context, id int64) (model.Product, error)
	// Tx内で行ロックを取って読む（在庫の上書き前）
	FindByIDForUpdate(ctx context.Context, id int64) (model.Product, error)
	// 論理削除済みも含めて名前を引く（注文明細の表示用）
	NamesByIDs(ctx context.Context, ids []int64) (map[int64]string, error)
	ListAll(ctx context.Context) ([]model.Product, error)
	CountByCategory(ctx context.Context, categoryID int64) (int64, error)

	Create(ctx context.Context, p model.Product) (model.Product, error)
	Update(ctx context.Context, p model.Product) error
	SoftDelete(ctx context.Context, id int64) error
}
