package usecase_test

import (
	"context"
	"testing"

	"shopapi/internal/domain/model"
	"shopapi/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// 在庫の上書きはロックを取って読んだ値（before）から差分を出す
func TestProductUsecase_AdminUpdateInventory_ReadsWithRowLock(t *testing.T) {
	ctx := context.Background()
	r := TxReposMock{
		products:  new(ProductRepoMock),
		inventory: new(InventoryRepoMock),
		audit:     new(AuditLogRepoMock),
	}
	tx := &TxManagerMock{repos: r}
	uc := usecase.NewProductUsecase(tx, r.products, nil, nil)

	tx.On("WithinTx", mock.Anything).Return(nil)
	r.products.On("FindByIDForUpdate", mock.Anything, int64(3)).
		Return(model.Product{ID: 3, Name: "Coffee", Stock: 4}, nil)
	r.inventory.On("SetStock", mock.Anything, int64(3), int64(10)).Return(nil)
	r.inventory.On("CreateAdjustment", mock.Anything, mock.MatchedBy(func(adj model.InventoryAdjustment) bool {
		return adj.ProductID == 3 && adj.Delta == 6 && adj.AdminUserID == adminID
	})).Return(nil)
	r.audit.On("Create", mock.Anything, mock.MatchedBy(func(l model.AuditLog) bool {
		return l.Action == model.AuditActionUpdateStock && l.BeforeJSON == `{"stock":4}` && l.AfterJSON == `{"stock":10}`
	})).Return(nil)

	p, err := uc.AdminUpdateInventory(ctx, admin, 3, 10, "restock")
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.Stock)

	r.products.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
	r.products.AssertExpectations(t)
	r.inventory.AssertExpectations(t)
	r.audit.AssertExpectations(t)
}
