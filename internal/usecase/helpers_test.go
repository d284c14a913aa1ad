package usecase_test

import (
	"testing"
	"time"

	"shopapi/internal/domain/model"
	"shopapi/internal/repository/memrepo"
	"shopapi/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	aliceID = "0b6f1a3e-3f0a-4c55-9d1e-2b1f0d6c7a01"
	bobID   = "5c2d8e4f-7a1b-4e3c-8f2d-9a0b1c2d3e02"
	adminID = "9e8d7c6b-5a4f-4e3d-2c1b-0a9f8e7d6c03"
)

var (
	alice = usecase.Actor{UserID: aliceID, Role: model.RoleUser}
	bob   = usecase.Actor{UserID: bobID, Role: model.RoleUser}
	admin = usecase.Actor{UserID: adminID, Role: model.RoleAdmin}
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memrepo.Store
	cart     *usecase.CartUsecase
	orders   *usecase.OrderUsecase
	category model.Category
}

func newFixture(t *testing.T, idem usecase.IdempotencyStore) *fixture {
	t.Helper()
	s := memrepo.New()
	repos := s.Repos()
	tx := s.TxManager()
	return &fixture{
		store:    s,
		cart:     usecase.NewCartUsecase(tx, repos.CartItems()),
		orders:   usecase.NewOrderUsecase(tx, idem, usecase.ClockFunc(func() time.Time { return fixedNow })),
		category: s.PutCategory("General"),
	}
}

func (f *fixture) product(name, price string, stock int64) model.Product {
	return f.store.PutProduct(name, price, stock, f.category.ID)
}

func requireKind(t *testing.T, err error, kind usecase.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, usecase.KindOf(err), "err=%v", err)
}
