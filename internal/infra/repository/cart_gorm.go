package repository

import (
	"context"
	"time"

	"shopapi/internal/domain/model"
	repo "shopapi/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CartGormRepository struct {
	db *gorm.DB
}

// DI
func NewCartGormRepository(db *gorm.DB) *CartGormRepository {
	return &CartGormRepository{db: db}
}

// カート明細 + 商品の現在値
func (r *CartGormRepository) lineQuery(ctx context.Context, userID string) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("cart_items").
		Select("cart_items.id, cart_items.product_id, products.name AS product_name, products.price AS unit_price, products.stock, cart_items.quantity").
		Joins("JOIN products ON products.id = cart_items.product_id AND products.deleted_at IS NULL").
		Where("cart_items.user_id = ?", userID)
}

func (r *CartGormRepository) ListLines(ctx context.Context, userID string) ([]model.CartLine, error) {
	var lines []model.CartLine
	if err := r.lineQuery(ctx, userID).Order("cart_items.id asc").Scan(&lines).Error; err != nil {
		return []model.CartLine{}, err
	}
	return lines, nil
}

// cart_itemsとproductsの両方の行をロックする。
// ロック順を商品ID順に揃える（カートの追加順だと別ユーザーとデッドロックする）
func (r *CartGormRepository) ListLinesForUpdate(ctx context.Context, userID string) ([]model.CartLine, error) {
	var lines []model.CartLine
	err := r.lineQuery(ctx, userID).
		Order("products.id asc").
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Scan(&lines).Error
	if err != nil {
		return []model.CartLine{}, err
	}
	return lines, nil
}

// 明細を取得
func (r *CartGormRepository) FindByID(ctx context.Context, cartItemID int64) (model.CartItem, error) {
	var item model.CartItem
	if err := r.db.WithContext(ctx).Where("id = ?", cartItemID).First(&item).Error; err != nil {
		return model.CartItem{}, translateErr(err)
	}
	return item, nil
}

func (r *CartGormRepository) FindByUserAndProduct(ctx context.Context, userID string, productID int64) (model.CartItem, error) {
	var item model.CartItem
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND product_id = ?", userID, productID).
		First(&item).Error
	if err != nil {
		return model.CartItem{}, translateErr(err)
	}
	return item, nil
}

// 同一商品は数量加算（1文で行う）
func (r *CartGormRepository) AddQuantity(ctx context.Context, userID string, productID int64, addQty int64) error {
	item := model.CartItem{
		UserID:    userID,
		ProductID: productID,
		Quantity:  addQty,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "product_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"quantity":   gorm.Expr("cart_items.quantity + excluded.quantity"),
				"updated_at": time.Now(),
			}),
		}).
		Create(&item).Error
	return translateErr(err)
}

// 明細の数量を更新
func (r *CartGormRepository) UpdateQuantity(ctx context.Context, cartItemID int64, qty int64) error {
	res := r.db.WithContext(ctx).
		Model(&model.CartItem{}).
		Where("id = ?", cartItemID).
		Update("quantity", qty)

	if res.Error != nil {
		return translateErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *CartGormRepository) Repoint(ctx context.Context, cartItemID int64, productID int64, qty int64) error {
	res := r.db.WithContext(ctx).
		Model(&model.CartItem{}).
		Where("id = ?", cartItemID).
		Updates(map[string]interface{}{
			"product_id": productID,
			"quantity":   qty,
		})

	if res.Error != nil {
		// 同じ(user, product)が先にできていた
		return translateErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// 明細を削除
func (r *CartGormRepository) DeleteByID(ctx context.Context, cartItemID int64) error {
	res := r.db.WithContext(ctx).Delete(&model.CartItem{}, cartItemID)

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// チェックアウトで使った行だけ消す
func (r *CartGormRepository) DeleteByIDs(ctx context.Context, userID string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, ids).
		Delete(&model.CartItem{})
	return res.RowsAffected, res.Error
}

// 商品削除時にカートからも外す
func (r *CartGormRepository) DeleteByProductID(ctx context.Context, productID int64) error {
	return r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Delete(&model.CartItem{}).Error
}
