package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"shopapi/internal/domain/model"
	"shopapi/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkoutOne(t *testing.T, f *fixture, actor usecase.Actor, price string, qty int64) usecase.OrderOutput {
	t.Helper()
	ctx := context.Background()
	p := f.product("P-"+actor.UserID[:4], price, 100)
	require.NoError(t, f.cart.AddItem(ctx, actor, usecase.AddCartInput{ProductID: p.ID, Quantity: qty}))
	out, err := f.orders.Checkout(ctx, actor, usecase.CheckoutInput{})
	require.NoError(t, err)
	return out
}

// =====================
// Pay
// =====================

func TestOrderUsecase_Pay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	order := checkoutOne(t, f, alice, "10", 1)

	out, err := f.orders.Pay(ctx, alice, order.ID)
	require.NoError(t, err)
	assert.Equal(t, usecase.PayOutput{Message: "payment completed", OrderID: order.ID, Status: "PAID"}, out)

	got, err := f.orders.GetOrder(ctx, alice, order.ID)
	require.NoError(t, err)
	assert.Equal(t, string(model.OrderStatusPaid), got.Status)

	logs := f.store.AuditLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, model.AuditActionUpdateOrderStatus, logs[0].Action)
	assert.Equal(t, aliceID, logs[0].ActorUserID)

	events := f.store.OutboxEvents()
	require.Len(t, events, 2)
	assert.Equal(t, model.EventOrderPaid, events[1].Type)
}

func TestOrderUsecase_PayTwiceIsInvalidState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	order := checkoutOne(t, f, alice, "10", 1)

	_, err := f.orders.Pay(ctx, alice, order.ID)
	require.NoError(t, err)

	_, err = f.orders.Pay(ctx, alice, order.ID)
	requireKind(t, err, usecase.KindInvalidState)
	assert.Len(t, f.store.AuditLogs(), 1)
}

func TestOrderUsecase_PayAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	order := checkoutOne(t, f, alice, "10", 1)

	_, err := f.orders.Pay(ctx, bob, 999999)
	requireKind(t, err, usecase.KindNotFound)

	_, err = f.orders.Pay(ctx, bob, order.ID)
	requireKind(t, err, usecase.KindForbidden)

	// 管理者は他人の注文も支払える
	_, err = f.orders.Pay(ctx, admin, order.ID)
	require.NoError(t, err)
}

func TestOrderUsecase_ConcurrentPayOnlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	order := checkoutOne(t, f, alice, "10", 1)

	const n = 5
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orders.Pay(ctx, alice, order.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var paid int
	for err := range errs {
		if err == nil {
			paid++
			continue
		}
		assert.Equal(t, usecase.KindInvalidState, usecase.KindOf(err))
	}
	assert.Equal(t, 1, paid)
}

// =====================
// List / Get
// =====================

func TestOrderUsecase_ListOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a1 := checkoutOne(t, f, alice, "10", 1)
	b1 := checkoutOne(t, f, bob, "5", 2)
	a2 := checkoutOne(t, f, alice, "3", 3)

	mine, err := f.orders.ListOrders(ctx, alice, usecase.ListOrdersInput{})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	// 新しい順
	assert.Equal(t, a2.ID, mine[0].ID)
	assert.Equal(t, a1.ID, mine[1].ID)
	require.Len(t, mine[0].Items, 1)
	assert.NotEmpty(t, mine[0].Items[0].ProductName)

	all, err := f.orders.ListOrders(ctx, admin, usecase.ListOrdersInput{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = f.orders.Pay(ctx, bob, b1.ID)
	require.NoError(t, err)
	paid, err := f.orders.ListOrders(ctx, admin, usecase.ListOrdersInput{Status: "paid"})
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, b1.ID, paid[0].ID)

	page, err := f.orders.ListOrders(ctx, admin, usecase.ListOrdersInput{Page: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, a1.ID, page[0].ID)

	_, err = f.orders.ListOrders(ctx, alice, usecase.ListOrdersInput{Status: "SHIPPED"})
	requireKind(t, err, usecase.KindValidation)
}

func TestOrderUsecase_GetOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	order := checkoutOne(t, f, alice, "10", 2)

	got, err := f.orders.GetOrder(ctx, alice, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
	assert.Equal(t, "20.00", got.TotalAmount.StringFixed(2))

	_, err = f.orders.GetOrder(ctx, bob, order.ID)
	requireKind(t, err, usecase.KindForbidden)

	_, err = f.orders.GetOrder(ctx, admin, order.ID)
	require.NoError(t, err)

	_, err = f.orders.GetOrder(ctx, alice, 999999)
	requireKind(t, err, usecase.KindNotFound)
}

// =====================
// Idempotency-Key
// =====================

type memIdem struct {
	mu     sync.Mutex
	locks  map[string]bool
	values map[string]string
	err    error
}

func newMemIdem() *memIdem {
	return &memIdem{locks: map[string]bool{}, values: map[string]string{}}
}

func (m *memIdem) TryLock(ctx context.Context, scope, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.locks[scope+key] {
		return false, nil
	}
	m.locks[scope+key] = true
	return true, nil
}

func (m *memIdem) Release(ctx context.Context, scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, scope+key)
	return m.err
}

func (m *memIdem) Remember(ctx context.Context, scope, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[scope+key] = value
	return m.err
}

func (m *memIdem) Recall(ctx context.Context, scope, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.values[scope+key]
	return v, ok, nil
}

func TestCheckout_IdempotencyKeyReturnsSameOrder(t *testing.T) {
	ctx := context.Background()
	idem := newMemIdem()
	f := newFixture(t, idem)
	a := f.product("A", "10", 5)
	require.NoError(t, f.cart.AddItem(ctx, alice, usecase.AddCartInput{ProductID: a.ID, Quantity: 2}))

	first, err := f.orders.Checkout(ctx, alice, usecase.CheckoutInput{IdempotencyKey: "k-1"})
	require.NoError(t, err)

	// カートは空だが同じキーなら同じ注文
	again, err := f.orders.Checkout(ctx, alice, usecase.CheckoutInput{IdempotencyKey: "k-1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, f.store.OrderCount())
	assert.Equal(t, int64(3), f.store.Product(a.ID).Stock)

	// 別のキーは普通に処理される
	_, err = f.orders.Checkout(ctx, alice, usecase.CheckoutInput{IdempotencyKey: "k-2"})
	requireKind(t, err, usecase.KindEmptyCart)
}

func TestCheckout_IdempotencyKeyReleasedOnFailure(t *testing.T) {
	ctx := context.Background()
	idem := newMemIdem()
	f := newFixture(t, idem)

	_, err := f.orders.Checkout(ctx, alice, usecase.CheckoutInput{IdempotencyKey: "k"})
	requireKind(t, err, usecase.KindEmptyCart)

	a := f.product("A", "10", 5)
	require.NoError(t, f.cart.AddItem(ctx, alice, usecase.AddCartInput{ProductID: a.ID, Quantity: 1}))
	_, err = f.orders.Checkout(ctx, alice, usecase.CheckoutInput{IdempotencyKey: "k"})
	require.NoError(t, err)
}

func TestCheckout_IdempotencyKeyInProgress(t *testing.T) {
	ctx := context.Background()
	idem := newMemIdem()
	f := newFixture(t, idem)
	idem.locks[aliceID+"busy"] = true

	_, err := f.orders.Checkout(ctx, alice, usecase.CheckoutInput{IdempotencyKey: "busy"})
	requireKind(t, err, usecase.KindConflict)
}

func TestCheckout_IdempotencyStoreDownStillChecksOut(t *testing.T) {
	ctx := context.Background()
	idem := newMemIdem()
	idem.err = errors.New("redis: connection refused")
	f := newFixture(t, idem)
	a := f.product("A", "10", 5)
	require.NoError(t, f.cart.AddItem(ctx, alice, usecase.AddCartInput{ProductID: a.ID, Quantity: 1}))

	_, err := f.orders.Checkout(ctx, alice, usecase.CheckoutInput{IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.OrderCount())
}
