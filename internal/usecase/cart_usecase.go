package usecase

import (
	"context"
	"errors"

	"shopapi/internal/domain/model"
	repo "shopapi/internal/repository"

	"github.com/shopspring/decimal"
)

// CartUsecase は /cart の業務ロジックです。
// (user, product) ごとに1行、数量は1以上を保つ。
type CartUsecase struct {
	tx           repo.TransactionManager
	cartItemRepo repo.CartItemRepository
}

func NewCartUsecase(tx repo.TransactionManager, cartItemRepo repo.CartItemRepository) *CartUsecase {
	return &CartUsecase{
		tx:           tx,
		cartItemRepo: cartItemRepo,
	}
}

// unit_price は商品の現在価格
type CartItemResponse struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int64           `json:"quantity"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type CartResponse struct {
	Items []CartItemResponse `json:"items"`
	Total decimal.Decimal    `json:"total"`
}

type AddCartInput struct {
	ProductID int64
	Quantity  int64
}

// ProductIDが0なら商品はそのまま
type UpdateCartItemInput struct {
	ProductID int64
	Quantity  int64
}

type UpdateResult string

const (
	UpdateMerged          UpdateResult = "merged"
	UpdateMoved           UpdateResult = "moved"
	UpdateQuantityUpdated UpdateResult = "quantity_updated"
)

// ListItems はカートの明細を現在の商品名・価格つきで返す。
func (u *CartUsecase) ListItems(ctx context.Context, actor Actor) (CartResponse, error) {
	if err := requireActor(actor); err != nil {
		return CartResponse{}, err
	}

	lines, err := u.cartItemRepo.ListLines(ctx, actor.UserID)
	if err != nil {
		return CartResponse{}, errInternal(err)
	}

	items := make([]CartItemResponse, 0, len(lines))
	total := decimal.Zero
	for _, l := range lines {
		sub := l.Subtotal()
		items = append(items, CartItemResponse{
			ID:          l.ID,
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			UnitPrice:   l.UnitPrice,
			Quantity:    l.Quantity,
			Subtotal:    sub,
		})
		total = total.Add(sub)
	}
	return CartResponse{Items: items, Total: total}, nil
}

// AddItem はカートに追加（同一商品は数量加算）。
func (u *CartUsecase) AddItem(ctx context.Context, actor Actor, in AddCartInput) error {
	if err := requireActor(actor); err != nil {
		return err
	}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 商品チェック
		if _, err := r.Products().FindByID(ctx, in.ProductID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return errNotFound("product")
			}
			return errInternal(err)
		}
		if err := checkQuantity(in.Quantity); err != nil {
			return err
		}

		//既存行があれば足した結果が上限を超えないか先に見る
		existing, err := r.CartItems().FindByUserAndProduct(ctx, actor.UserID, in.ProductID)
		switch {
		case err == nil:
			if _, err := addQuantity(existing.Quantity, in.Quantity); err != nil {
				return err
			}
		case !errors.Is(err, repo.ErrNotFound):
			return errInternal(err)
		}

		if err := r.CartItems().AddQuantity(ctx, actor.UserID, in.ProductID, in.Quantity); err != nil {
			return cartWriteErr(err)
		}
		return nil
	})
	return wrapErr(err)
}

// UpdateItem は明細の数量を変える。商品を変えた場合、同じ商品の行があれば合流させる。
func (u *CartUsecase) UpdateItem(ctx context.Context, actor Actor, cartItemID int64, in UpdateCartItemInput) (UpdateResult, error) {
	if err := requireActor(actor); err != nil {
		return "", err
	}

	var result UpdateResult
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		item, err := u.findOwnedItem(ctx, r.CartItems(), actor, cartItemID)
		if err != nil {
			return err
		}
		if err := checkQuantity(in.Quantity); err != nil {
			return err
		}

		//数量だけ
		if in.ProductID == 0 || in.ProductID == item.ProductID {
			if err := r.CartItems().UpdateQuantity(ctx, item.ID, in.Quantity); err != nil {
				return cartWriteErr(err)
			}
			result = UpdateQuantityUpdated
			return nil
		}

		if _, err := r.Products().FindByID(ctx, in.ProductID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return errNotFound("target product")
			}
			return errInternal(err)
		}

		existing, err := r.CartItems().FindByUserAndProduct(ctx, actor.UserID, in.ProductID)
		switch {
		case err == nil:
			//合流
			merged, err := addQuantity(existing.Quantity, in.Quantity)
			if err != nil {
				return err
			}
			if err := r.CartItems().UpdateQuantity(ctx, existing.ID, merged); err != nil {
				return cartWriteErr(err)
			}
			if err := r.CartItems().DeleteByID(ctx, item.ID); err != nil {
				return cartWriteErr(err)
			}
			result = UpdateMerged
			return nil

		case errors.Is(err, repo.ErrNotFound):
			//付け替え
			if err := r.CartItems().Repoint(ctx, item.ID, in.ProductID, in.Quantity); err != nil {
				if errors.Is(err, repo.ErrDuplicate) {
					return NewError(KindConflict, "cart changed concurrently, retry")
				}
				return cartWriteErr(err)
			}
			result = UpdateMoved
			return nil

		default:
			return errInternal(err)
		}
	})
	if err != nil {
		return "", wrapErr(err)
	}
	return result, nil
}

// 明細削除
func (u *CartUsecase) RemoveItem(ctx context.Context, actor Actor, cartItemID int64) error {
	if err := requireActor(actor); err != nil {
		return err
	}

	item, err := u.findOwnedItem(ctx, u.cartItemRepo, actor, cartItemID)
	if err != nil {
		return err
	}
	if err := u.cartItemRepo.DeleteByID(ctx, item.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return errNotFound("cart item")
		}
		return errInternal(err)
	}
	return nil
}

// 他人の明細は「存在しない扱い」にする
func (u *CartUsecase) findOwnedItem(ctx context.Context, items repo.CartItemRepository, actor Actor, cartItemID int64) (model.CartItem, error) {
	item, err := items.FindByID(ctx, cartItemID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.CartItem{}, errNotFound("cart item")
	}
	if err != nil {
		return model.CartItem{}, errInternal(err)
	}
	if item.UserID != actor.UserID {
		return model.CartItem{}, errNotFound("cart item")
	}
	return item, nil
}

// 1明細の数量は1以上MaxCartQuantity以下
func checkQuantity(qty int64) error {
	if qty <= 0 || qty > model.MaxCartQuantity {
		return errInvalidQuantity()
	}
	return nil
}

// current, add とも範囲内の前提。足す前に比べるのでint64はあふれない
func addQuantity(current, add int64) (int64, error) {
	if add > model.MaxCartQuantity-current {
		return 0, errInvalidQuantity()
	}
	return current + add, nil
}

// 書き込み中に行が消えた・制約に当たったときの変換
func cartWriteErr(err error) error {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return errNotFound("cart item")
	case errors.Is(err, repo.ErrOutOfRange):
		return errInvalidQuantity()
	default:
		return errInternal(err)
	}
}
