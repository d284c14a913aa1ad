package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"shopapi/internal/domain/model"
	"shopapi/internal/usecase"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =====================
// Checkout
// =====================

func TestCheckout_TotalsStockAndCart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a := f.product("A", "10", 5)
	b := f.product("B", "5", 5)

	require.NoError(t, f.cart.AddItem(ctx, alice, usecase.AddCartInput{ProductID: a.ID, Quantity: 3}))
	require.NoError(t, f.cart.AddItem(ctx, alice, usecase.AddCartInput{ProductID: b.ID, Quantity: 2}))

	out, err := f.orders.Checkout(ctx, alice, usecase.CheckoutInput{})
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(40).Equal(out.TotalAmount), "total=%s", out.TotalAmount)
	assert.Equal(t, string(model.OrderStatusPending), out.Status)
	assert.Equal(t, aliceID, out.UserID)
	assert.Equal(t, fixedNow, out.CreatedAt)
	require.Len(t, out.Items, 2)
	assert.Equal(t, "A", out.Items[0].ProductName)
	assert.Equal(t, int64(3), out.Items[0].Quantity)
	assert.True(t, decimal.NewFromInt(10).Equal(out.Items[0].UnitPrice))

	assert.Equal(t, int64(2), f.store.Product(a.ID).Stock)
	assert.Equal(t, int64(3), f.store.Product(b.ID).Stock)
	assert.Empty(t, f.store.CartItems(aliceID))

	// Σ(quantity × unitPrice) == total
	sum := decimal.Zero
	for _, it := range out.Items {
		sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(it.Quantity)))
	}
	assert.True(t, sum.Equal(out.TotalAmount))

	events := f.store.OutboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventOrderCreated, events[0].Type)
	assert.Contains(t, events[0].Payload, `"type":"order.created"`)
}

func TestCheckout_InsufficientStockChangesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a := f.product("A", "10", 2)
	b := f.product("B", "5", 5)

	require.NoError(t, f.cart.AddItem(ctx, alice, usecase.AddCartInput{ProductID: a.ID, Quantity: 3}))
	require.NoError(t, f.cart.AddItem(ctx, alice, usecase.AddCartInput{ProductID: b.ID, Quantity: 2}))

	_, err := f.orders.Checkout(ctx, alice, usecase.CheckoutInput{})
	requireKind(t, err, usecase.KindInsufficientStock)

	ue, ok := usecase.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "A", ue.Product)

	assert.Equal(t, int64(2), f.store.Product(a.ID).Stock)
	assert.Equal(t, int64(5), f.store.Product(b.ID).Stock)
	assert.Len(t, f.store.CartItems(aliceID), 2)
	assert.Equal(t, 0, f.store.OrderCount())
	assert.Empty(t, f.store.OutboxEvents())
}

func TestCheckout_EmptyCart(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.orders.Checkout(context.Background(), alice, usecase.CheckoutInput{})
	requireKind(t, err, usecase.KindEmptyCart)
}

func TestCheckout_RecheckoutIsEmptyCart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a := f.product("A", "10", 5)
	require.NoError(t, f.cart.AddItem(ctx, alice, usecase.AddCartInput{ProductID: a.ID, Quantity: 1}))

	_, err := f.orders.Checkout(ctx, alice, usecase.CheckoutInput{})
	require.NoError(t, err)

	_, err = f.orders.Checkout(ctx, alice, usecase.CheckoutInput{})
	requireKind(t, err, usecase.KindEmptyCart)
	assert.Equal(t, int64(4), f.store.Product(a.ID).Stock)
}

func TestCheckout_OnlyConsumesOwnCart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a := f.product("A", "10", 10)
	require.NoError(t, f.cart.AddItem(ctx, alice, usecase.AddCartInput{ProductID: a.ID, Quantity: 1}))
	require.NoError(t, f.cart.AddItem(ctx, bob, usecase.AddCartInput{ProductID: a.ID, Quantity: 2}))

	_, err := f.orders.Checkout(ctx, alice, usecase.CheckoutInput{})
	require.NoError(t, err)

	assert.Empty(t, f.store.CartItems(aliceID))
	assert.Len(t, f.store.CartItems(bobID), 1)
}

func TestCheckout_TotalIsSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a := f.product("A", "19.99", 5)
	require.NoError(t, f.cart.AddItem(ctx, alice, usecase.AddCartInput{ProductID: a.ID, Quantity: 2}))

	out, err := f.orders.Checkout(ctx, alice, usecase.CheckoutInput{})
	require.NoError(t, err)

	// 後から値上げしても注文は変わらない
	f.store.SetPrice(a.ID, "25.00")

	got, err := f.orders.GetOrder(ctx, alice, out.ID)
	require.NoError(t, err)
	assert.Equal(t, "39.98", got.TotalAmount.StringFixed(2))
	require.Len(t, got.Items, 1)
	assert.Equal(t, "19.99", got.Items[0].UnitPrice.StringFixed(2))
}

func TestCheckout_CommitFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a := f.product("A", "10", 5)
	require.NoError(t, f.cart.AddItem(ctx, alice, usecase.AddCartInput{ProductID: a.ID, Quantity: 2}))

	f.store.FailCommit = errors.New("connection reset")

	_, err := f.orders.Checkout(ctx, alice, usecase.CheckoutInput{})
	requireKind(t, err, usecase.KindInternal)

	assert.Equal(t, int64(5), f.store.Product(a.ID).Stock)
	assert.Len(t, f.store.CartItems(aliceID), 1)
	assert.Equal(t, 0, f.store.OrderCount())
}

// 注文を作っている途中でリクエストが切れたら何も残さない
func TestCheckout_CanceledContextRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	a := f.product("A", "10", 5)
	require.NoError(t, f.cart.AddItem(context.Background(), alice, usecase.AddCartInput{ProductID: a.ID, Quantity: 2}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// createdAtを取った時点（Tx内）でキャンセル
	orders := usecase.NewOrderUsecase(f.store.TxManager(), nil, usecase.ClockFunc(func() time.Time {
		cancel()
		return fixedNow
	}))

	_, err := orders.Checkout(ctx, alice, usecase.CheckoutInput{})
	requireKind(t, err, usecase.KindInternal)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, int64(5), f.store.Product(a.ID).Stock)
	assert.Len(t, f.store.CartItems(aliceID), 1)
	assert.Equal(t, 0, f.store.OrderCount())
	assert.Empty(t, f.store.OutboxEvents())
}

func TestCheckout_SkipsDeletedProducts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a := f.product("A", "10", 5)
	require.NoError(t, f.cart.AddItem(ctx, alice, usecase.AddCartInput{ProductID: a.ID, Quantity: 1}))

	products := usecase.NewProductUsecase(f.store.TxManager(), f.store.Repos().Products(), f.store.Repos().Categories(), nil)
	require.NoError(t, products.AdminDeleteProduct(ctx, admin, a.ID))

	_, err := f.orders.Checkout(ctx, alice, usecase.CheckoutInput{})
	requireKind(t, err, usecase.KindEmptyCart)
}

// 同じ商品を同時に買っても在庫はマイナスにならない
func TestCheckout_ConcurrentNeverOversells(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a := f.product("A", "10", 5)

	users := []usecase.Actor{alice, bob}
	for _, u := range users {
		require.NoError(t, f.cart.AddItem(ctx, u, usecase.AddCartInput{ProductID: a.ID, Quantity: 3}))
	}

	var wg sync.WaitGroup
	errs := make([]error, len(users))
	for i, u := range users {
		wg.Add(1)
		go func(i int, u usecase.Actor) {
			defer wg.Done()
			_, errs[i] = f.orders.Checkout(ctx, u, usecase.CheckoutInput{})
		}(i, u)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case usecase.KindOf(err) == usecase.KindInsufficientStock:
			insufficient++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, int64(2), f.store.Product(a.ID).Stock)
	assert.Equal(t, 1, f.store.OrderCount())
}

func TestCheckout_RequiresActor(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.orders.Checkout(context.Background(), usecase.Actor{}, usecase.CheckoutInput{})
	requireKind(t, err, usecase.KindUnauthorized)
}
