package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"shopapi/internal/domain/model"
	repo "shopapi/internal/repository"

	"github.com/shopspring/decimal"
)

// 商品一覧をシートに書き出す（xlsx）
type CatalogExporter interface {
	WriteProducts(w io.Writer, products []model.Product, categoryNames map[int64]string) error
}

type ProductUsecase struct {
	tx           repo.TransactionManager
	productRepo  repo.ProductRepository
	categoryRepo repo.CategoryRepository
	exporter     CatalogExporter
}

// DI
func NewProductUsecase(
	tx repo.TransactionManager,
	productRepo repo.ProductRepository,
	categoryRepo repo.CategoryRepository,
	exporter CatalogExporter,
) *ProductUsecase {
	return &ProductUsecase{
		tx:           tx,
		productRepo:  productRepo,
		categoryRepo: categoryRepo,
		exporter:     exporter,
	}
}

// GET /productsの入力DTO
type ListProductsInput struct {
	Page       int
	Limit      int
	Q          string
	CategoryID *int64
	MinPrice   *decimal.Decimal
	MaxPrice   *decimal.Decimal
	Sort       string
}

type ProductListOutput struct {
	Items []model.Product `json:"items"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}

func (u *ProductUsecase) ListProducts(ctx context.Context, in ListProductsInput) (ProductListOutput, error) {
	if in.Page < 1 {
		return ProductListOutput{}, errValidation("invalid page")
	}
	if in.Limit < 1 || in.Limit > 100 {
		return ProductListOutput{}, errValidation("invalid limit")
	}
	if len(in.Q) > 100 {
		return ProductListOutput{}, errValidation("q too long")
	}
	if in.MinPrice != nil && in.MinPrice.IsNegative() {
		return ProductListOutput{}, errValidation("min_price must be >= 0")
	}
	if in.MaxPrice != nil && in.MaxPrice.IsNegative() {
		return ProductListOutput{}, errValidation("max_price must be >= 0")
	}
	if in.MinPrice != nil && in.MaxPrice != nil && in.MinPrice.GreaterThan(*in.MaxPrice) {
		return ProductListOutput{}, errValidation("min_price must be <= max_price")
	}
	switch in.Sort {
	case "", "new", "price_asc", "price_desc", "name":
	default:
		return ProductListOutput{}, errValidation("invalid sort")
	}

	items, total, err := u.productRepo.List(ctx, repo.ProductListQuery{
		Page:       in.Page,
		Limit:      in.Limit,
		Q:          strings.TrimSpace(in.Q),
		CategoryID: in.CategoryID,
		MinPrice:   in.MinPrice,
		MaxPrice:   in.MaxPrice,
		Sort:       in.Sort,
	})
	if err != nil {
		return ProductListOutput{}, errInternal(err)
	}

	return ProductListOutput{
		Items: items,
		Total: total,
		Page:  in.Page,
		Limit: in.Limit,
	}, nil
}

func (u *ProductUsecase) GetProduct(ctx context.Context, productID int64) (model.Product, error) {
	p, err := u.productRepo.FindByID(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Product{}, errNotFound("product")
	}
	if err != nil {
		return model.Product{}, errInternal(err)
	}
	return p, nil
}

// Stockは作成時は必須。更新時はnilなら在庫に触らない。
type ProductInput struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       *int64
	CategoryID  int64
}

func (in ProductInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return errValidation("name required")
	}
	if len(in.Name) > 200 {
		return errValidation("name too long")
	}
	if in.Price.IsNegative() {
		return errValidation("price must be >= 0")
	}
	if in.Stock != nil && *in.Stock < 0 {
		return errValidation("stock must be >= 0")
	}
	if in.CategoryID <= 0 {
		return errValidation("category_id required")
	}
	return nil
}

func (u *ProductUsecase) AdminCreateProduct(ctx context.Context, actor Actor, in ProductInput) (model.Product, error) {
	if err := requireAdmin(actor); err != nil {
		return model.Product{}, err
	}
	if err := in.validate(); err != nil {
		return model.Product{}, err
	}
	if in.Stock == nil {
		return model.Product{}, errValidation("stock required")
	}

	var created model.Product
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if err := ensureCategory(ctx, r, in.CategoryID); err != nil {
			return err
		}
		p, err := r.Products().Create(ctx, model.Product{
			Name:        strings.TrimSpace(in.Name),
			Description: in.Description,
			Price:       in.Price,
			Stock:       *in.Stock,
			CategoryID:  in.CategoryID,
		})
		if err != nil {
			return errInternal(err)
		}
		created = p
		return nil
	})
	if err != nil {
		return model.Product{}, wrapErr(err)
	}
	return created, nil
}

func (u *ProductUsecase) AdminUpdateProduct(ctx context.Context, actor Actor, productID int64, in ProductInput) (model.Product, error) {
	if err := requireAdmin(actor); err != nil {
		return model.Product{}, err
	}
	if err := in.validate(); err != nil {
		return model.Product{}, err
	}

	var updated model.Product
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		//在庫を上書きする可能性があるので行ロック
		before, err := r.Products().FindByIDForUpdate(ctx, productID)
		if errors.Is(err, repo.ErrNotFound) {
			return errNotFound("product")
		}
		if err != nil {
			return errInternal(err)
		}
		if err := ensureCategory(ctx, r, in.CategoryID); err != nil {
			return err
		}

		err = r.Products().Update(ctx, model.Product{
			ID:          productID,
			Name:        strings.TrimSpace(in.Name),
			Description: in.Description,
			Price:       in.Price,
			CategoryID:  in.CategoryID,
		})
		if err != nil {
			return errInternal(err)
		}

		if in.Stock != nil && *in.Stock != before.Stock {
			if err := setStock(ctx, r, actor, before, *in.Stock, "product update"); err != nil {
				return err
			}
		}

		updated, err = r.Products().FindByID(ctx, productID)
		if err != nil {
			return errInternal(err)
		}
		return nil
	})
	if err != nil {
		return model.Product{}, wrapErr(err)
	}
	return updated, nil
}

// 論理削除。カートに入っている分も外す。
func (u *ProductUsecase) AdminDeleteProduct(ctx context.Context, actor Actor, productID int64) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		p, err := r.Products().FindByIDForUpdate(ctx, productID)
		if errors.Is(err, repo.ErrNotFound) {
			return errNotFound("product")
		}
		if err != nil {
			return errInternal(err)
		}

		if err := r.Products().SoftDelete(ctx, productID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return errNotFound("product")
			}
			return errInternal(err)
		}
		if err := r.CartItems().DeleteByProductID(ctx, productID); err != nil {
			return errInternal(err)
		}

		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  actor.UserID,
			Action:       model.AuditActionDeleteProduct,
			ResourceType: model.AuditResourceProduct,
			ResourceID:   strconv.FormatInt(productID, 10),
			BeforeJSON:   fmt.Sprintf(`{"name":%q,"stock":%d}`, p.Name, p.Stock),
			AfterJSON:    `{"deleted":true}`,
		}); err != nil {
			return errInternal(err)
		}
		return nil
	})
	return wrapErr(err)
}

func (u *ProductUsecase) AdminUpdateInventory(ctx context.Context, actor Actor, productID int64, newStock int64, reason string) (model.Product, error) {
	if err := requireAdmin(actor); err != nil {
		return model.Product{}, err
	}
	if newStock < 0 {
		return model.Product{}, errValidation("stock must be >= 0")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return model.Product{}, errValidation("reason required")
	}

	var out model.Product
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		//変更前の在庫（before）。チェックアウトの減算とぶつからないよう行ロック
		p, err := r.Products().FindByIDForUpdate(ctx, productID)
		if errors.Is(err, repo.ErrNotFound) {
			return errNotFound("product")
		}
		if err != nil {
			return errInternal(err)
		}

		if err := setStock(ctx, r, actor, p, newStock, reason); err != nil {
			return err
		}
		p.Stock = newStock
		out = p
		return nil
	})
	if err != nil {
		return model.Product{}, wrapErr(err)
	}
	return out, nil
}

func (u *ProductUsecase) ListAdjustments(ctx context.Context, actor Actor, productID int64, limit int) ([]model.InventoryAdjustment, error) {
	if err := requireAdmin(actor); err != nil {
		return []model.InventoryAdjustment{}, err
	}

	var items []model.InventoryAdjustment
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if _, err := r.Products().FindByID(ctx, productID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return errNotFound("product")
			}
			return errInternal(err)
		}
		var err error
		items, err = r.Inventory().ListAdjustments(ctx, productID, limit)
		if err != nil {
			return errInternal(err)
		}
		return nil
	})
	if err != nil {
		return []model.InventoryAdjustment{}, wrapErr(err)
	}
	return items, nil
}

// ExportProducts は商品一覧をwに書き出す
func (u *ProductUsecase) ExportProducts(ctx context.Context, actor Actor, w io.Writer) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	products, err := u.productRepo.ListAll(ctx)
	if err != nil {
		return errInternal(err)
	}
	categories, err := u.categoryRepo.List(ctx)
	if err != nil {
		return errInternal(err)
	}
	names := make(map[int64]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}

	if err := u.exporter.WriteProducts(w, products, names); err != nil {
		return &Error{Kind: KindInternal, Message: "export failed", Err: err}
	}
	return nil
}

func ensureCategory(ctx context.Context, r repo.TxRepos, categoryID int64) error {
	if _, err := r.Categories().FindByID(ctx, categoryID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return errNotFound("category")
		}
		return errInternal(err)
	}
	return nil
}

// 在庫の現在値を更新し、調整履歴と監査ログを残す
func setStock(ctx context.Context, r repo.TxRepos, actor Actor, before model.Product, newStock int64, reason string) error {
	if err := r.Inventory().SetStock(ctx, before.ID, newStock); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return errNotFound("product")
		}
		return errInternal(err)
	}

	//履歴を作成（差分）
	if err := r.Inventory().CreateAdjustment(ctx, model.InventoryAdjustment{
		ProductID:   before.ID,
		AdminUserID: actor.UserID,
		Delta:       newStock - before.Stock,
		Reason:      reason,
	}); err != nil {
		return errInternal(err)
	}

	//「誰が」「何を」「どの対象に」「どう変えたか」を残す
	if err := r.AuditLogs().Create(ctx, model.AuditLog{
		ActorUserID:  actor.UserID,
		Action:       model.AuditActionUpdateStock,
		ResourceType: model.AuditResourceProduct,
		ResourceID:   strconv.FormatInt(before.ID, 10),
		BeforeJSON:   fmt.Sprintf(`{"stock":%d}`, before.Stock),
		AfterJSON:    fmt.Sprintf(`{"stock":%d}`, newStock),
	}); err != nil {
		return errInternal(err)
	}
	return nil
}
