package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 1明細あたりの数量上限
const MaxCartQuantity int64 = 9999

// カートの明細
// (user_id, product_id) は1行だけ。数量は1以上MaxCartQuantity以下。
type CartItem struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"type:uuid;not null;uniqueIndex:ux_cart_items_user_product" json:"user_id"`
	ProductID int64     `gorm:"not null;uniqueIndex:ux_cart_items_user_product;index" json:"product_id"`
	Quantity  int64     `gorm:"not null;check:quantity BETWEEN 1 AND 9999" json:"quantity"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// CartLine はカート明細と商品の現在値をjoinした読み取り用の行。
// UnitPrice は現在価格（スナップショットではない）。
type CartLine struct {
	ID          int64
	ProductID   int64
	ProductName string
	UnitPrice   decimal.Decimal
	Stock       int64
	Quantity    int64
}

func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity))
}
