package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"shopapi/internal/domain/model"
	repo "shopapi/internal/repository"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// OrderUsecase はチェックアウトと注文の参照/支払い。
type OrderUsecase struct {
	tx    repo.TransactionManager
	idem  IdempotencyStore // nilなら冪等キーは無視
	clock Clock
}

func NewOrderUsecase(tx repo.TransactionManager, idem IdempotencyStore, clock Clock) *OrderUsecase {
	if clock == nil {
		clock = SystemClock
	}
	return &OrderUsecase{tx: tx, idem: idem, clock: clock}
}

type CheckoutInput struct {
	IdempotencyKey string
}

type ListOrdersInput struct {
	Status string
	Page   int
	Limit  int
}

type OrderItemOutput struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type OrderOutput struct {
	ID          int64             `json:"id"`
	UserID      string            `json:"user_id"`
	Status      string            `json:"status"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
	CreatedAt   time.Time         `json:"created_at"`
	Items       []OrderItemOutput `json:"items"`
}

type PayOutput struct {
	Message string `json:"message"`
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}

// Checkout はカートを注文に変える。
// 在庫減算・明細作成・カート削除は1つのTxで行い、どれかが失敗したら何も残らない。
func (u *OrderUsecase) Checkout(ctx context.Context, actor Actor, in CheckoutInput) (OrderOutput, error) {
	if err := requireActor(actor); err != nil {
		return OrderOutput{}, err
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if len(key) > 255 {
		return OrderOutput{}, errValidation("invalid idempotency key")
	}
	if key == "" || u.idem == nil {
		return u.checkout(ctx, actor)
	}

	log := zerolog.Ctx(ctx)

	// 同じキーなら同じ結果
	if id, ok, err := u.idem.Recall(ctx, actor.UserID, key); err != nil {
		log.Warn().Err(err).Msg("idempotency recall failed")
	} else if ok {
		if orderID, perr := strconv.ParseInt(id, 10, 64); perr == nil {
			return u.GetOrder(ctx, actor, orderID)
		}
	}

	locked, err := u.idem.TryLock(ctx, actor.UserID, key)
	if err != nil {
		// Redisが落ちていてもチェックアウト自体は通す
		log.Warn().Err(err).Msg("idempotency lock failed")
		return u.checkout(ctx, actor)
	}
	if !locked {
		return OrderOutput{}, NewError(KindConflict, "checkout with this idempotency key is in progress")
	}

	out, err := u.checkout(ctx, actor)
	if err != nil {
		if rerr := u.idem.Release(ctx, actor.UserID, key); rerr != nil {
			log.Warn().Err(rerr).Msg("idempotency release failed")
		}
		return OrderOutput{}, err
	}
	if err := u.idem.Remember(ctx, actor.UserID, key, strconv.FormatInt(out.ID, 10)); err != nil {
		log.Warn().Err(err).Int64("order_id", out.ID).Msg("idempotency remember failed")
	}
	return out, nil
}

func (u *OrderUsecase) checkout(ctx context.Context, actor Actor) (OrderOutput, error) {
	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		//カート明細（商品行もロック）
		lines, err := r.CartItems().ListLinesForUpdate(ctx, actor.UserID)
		if err != nil {
			return errInternal(err)
		}
		if len(lines) == 0 {
			return NewError(KindEmptyCart, "cart is empty")
		}

		//在庫チェック（変更前に全部）
		for _, l := range lines {
			if l.Quantity > l.Stock {
				return errInsufficientStock(l.ProductName)
			}
		}

		//スナップショット
		items := make([]model.OrderItem, 0, len(lines))
		names := make(map[int64]string, len(lines))
		ids := make([]int64, 0, len(lines))
		total := decimal.Zero
		for _, l := range lines {
			items = append(items, model.OrderItem{
				ProductID: l.ProductID,
				Quantity:  l.Quantity,
				UnitPrice: l.UnitPrice,
			})
			names[l.ProductID] = l.ProductName
			ids = append(ids, l.ID)
			total = total.Add(l.Subtotal())
		}

		// 注文作成
		now := u.clock.Now()
		order := model.Order{
			UserID:      actor.UserID,
			Status:      model.OrderStatusPending,
			TotalAmount: total,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		orderID, err := r.Orders().Create(ctx, order)
		if err != nil {
			return errInternal(err)
		}
		order.ID = orderID

		//注文明細一括作成
		if err := r.OrderItems().CreateBulk(ctx, orderID, items); err != nil {
			return errInternal(err)
		}

		//在庫減算（足りないなら false）
		for _, l := range lines {
			ok, err := r.Inventory().DecreaseStockIfEnough(ctx, l.ProductID, l.Quantity)
			if err != nil {
				return errInternal(err)
			}
			if !ok {
				return errInsufficientStock(l.ProductName)
			}
		}

		//使った行だけ消す
		n, err := r.CartItems().DeleteByIDs(ctx, actor.UserID, ids)
		if err != nil {
			return errInternal(err)
		}
		if n != int64(len(ids)) {
			return NewError(KindConflict, "cart changed during checkout")
		}

		ev, err := newOrderOutboxEvent(model.EventOrderCreated, order, items, now)
		if err != nil {
			return errInternal(err)
		}
		if err := r.Outbox().Create(ctx, ev); err != nil {
			return errInternal(err)
		}

		out = toOrderOutput(order, items, names)
		return nil
	})
	if err != nil {
		return OrderOutput{}, wrapErr(err)
	}

	zerolog.Ctx(ctx).Info().
		Int64("order_id", out.ID).
		Str("user_id", out.UserID).
		Str("total_amount", out.TotalAmount.String()).
		Int("items", len(out.Items)).
		Msg("checkout completed")
	return out, nil
}

// Pay は支払い（模擬）。PENDINGのときだけPAIDにする。
func (u *OrderUsecase) Pay(ctx context.Context, actor Actor, orderID int64) (PayOutput, error) {
	if err := requireActor(actor); err != nil {
		return PayOutput{}, err
	}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return errNotFound("order")
		}
		if err != nil {
			return errInternal(err)
		}
		if !actor.CanAccess(o.UserID) {
			return errForbidden()
		}
		if !o.Status.CanTransitionTo(model.OrderStatusPaid) {
			return NewError(KindInvalidState, "order is not pending payment")
		}

		// 同時に支払われたらここで負ける
		ok, err := r.Orders().UpdateStatusIf(ctx, o.ID, model.OrderStatusPending, model.OrderStatusPaid)
		if err != nil {
			return errInternal(err)
		}
		if !ok {
			return NewError(KindInvalidState, "order is not pending payment")
		}

		//監査ログ
		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  actor.UserID,
			Action:       model.AuditActionUpdateOrderStatus,
			ResourceType: model.AuditResourceOrder,
			ResourceID:   strconv.FormatInt(o.ID, 10),
			BeforeJSON:   fmt.Sprintf(`{"status":%q}`, o.Status),
			AfterJSON:    fmt.Sprintf(`{"status":%q}`, model.OrderStatusPaid),
		}); err != nil {
			return errInternal(err)
		}

		o.Status = model.OrderStatusPaid
		ev, err := newOrderOutboxEvent(model.EventOrderPaid, o, nil, u.clock.Now())
		if err != nil {
			return errInternal(err)
		}
		if err := r.Outbox().Create(ctx, ev); err != nil {
			return errInternal(err)
		}
		return nil
	})
	if err != nil {
		return PayOutput{}, wrapErr(err)
	}

	return PayOutput{
		Message: "payment completed",
		OrderID: orderID,
		Status:  string(model.OrderStatusPaid),
	}, nil
}

// ListOrders は管理者なら全件、それ以外は自分の注文だけ返す。
func (u *OrderUsecase) ListOrders(ctx context.Context, actor Actor, in ListOrdersInput) ([]OrderOutput, error) {
	if err := requireActor(actor); err != nil {
		return []OrderOutput{}, err
	}
	if in.Page < 0 || in.Limit < 0 || in.Limit > 100 {
		return []OrderOutput{}, errValidation("invalid page or limit")
	}
	status := model.OrderStatus(strings.ToUpper(strings.TrimSpace(in.Status)))
	switch status {
	case "", model.OrderStatusPending, model.OrderStatusPaid, model.OrderStatusCancelled:
	default:
		return []OrderOutput{}, errValidation("invalid status")
	}

	f := repo.OrderListFilter{Status: status, Page: in.Page, Limit: in.Limit}
	if !actor.IsAdmin() {
		uid := actor.UserID
		f.UserID = &uid
	}

	var outs []OrderOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, _, err := r.Orders().List(ctx, f)
		if err != nil {
			return errInternal(err)
		}

		orderIDs := make([]int64, 0, len(orders))
		for _, o := range orders {
			orderIDs = append(orderIDs, o.ID)
		}
		items, err := r.OrderItems().ListByOrderIDs(ctx, orderIDs)
		if err != nil {
			return errInternal(err)
		}
		names, err := r.Products().NamesByIDs(ctx, productIDs(items))
		if err != nil {
			return errInternal(err)
		}

		byOrder := make(map[int64][]model.OrderItem, len(orders))
		for _, it := range items {
			byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
		}

		outs = make([]OrderOutput, 0, len(orders))
		for _, o := range orders {
			outs = append(outs, toOrderOutput(o, byOrder[o.ID], names))
		}
		return nil
	})
	if err != nil {
		return []OrderOutput{}, wrapErr(err)
	}
	return outs, nil
}

// GetOrder は本人か管理者だけが見られる。
func (u *OrderUsecase) GetOrder(ctx context.Context, actor Actor, orderID int64) (OrderOutput, error) {
	if err := requireActor(actor); err != nil {
		return OrderOutput{}, err
	}

	var out OrderOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return errNotFound("order")
		}
		if err != nil {
			return errInternal(err)
		}
		if !actor.CanAccess(o.UserID) {
			return errForbidden()
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return errInternal(err)
		}
		names, err := r.Products().NamesByIDs(ctx, productIDs(items))
		if err != nil {
			return errInternal(err)
		}

		out = toOrderOutput(o, items, names)
		return nil
	})
	if err != nil {
		return OrderOutput{}, wrapErr(err)
	}
	return out, nil
}

func productIDs(items []model.OrderItem) []int64 {
	seen := make(map[int64]struct{}, len(items))
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		ids = append(ids, it.ProductID)
	}
	return ids
}

func toOrderOutput(o model.Order, items []model.OrderItem, names map[int64]string) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ProductID:   it.ProductID,
			ProductName: names[it.ProductID],
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}

	return OrderOutput{
		ID:          o.ID,
		UserID:      o.UserID,
		Status:      string(o.Status),
		TotalAmount: o.TotalAmount,
		CreatedAt:   o.CreatedAt,
		Items:       outItems,
	}
}
