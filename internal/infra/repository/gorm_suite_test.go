package repository

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"shopapi/internal/domain/model"
	"shopapi/internal/infra/db"
	repo "shopapi/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

// 実PostgreSQLに対するテスト。TEST_DATABASE_URL が無ければスキップ。
type GormRepositorySuite struct {
	suite.Suite
	db  *gorm.DB
	ctx context.Context

	userID   string
	category model.Category
}

func TestGormRepositorySuite(t *testing.T) {
	if os.Getenv("TEST_DATABASE_URL") == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	suite.Run(t, new(GormRepositorySuite))
}

func (s *GormRepositorySuite) SetupSuite() {
	gdb, err := db.Connect(os.Getenv("TEST_DATABASE_URL"), zerolog.Nop())
	s.Require().NoError(err)
	s.Require().NoError(db.AutoMigrate(gdb))
	s.db = gdb
	s.ctx = context.Background()
}

func (s *GormRepositorySuite) TearDownSuite() {
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (s *GormRepositorySuite) SetupTest() {
	s.Require().NoError(s.db.Exec(`TRUNCATE outbox_events, audit_logs, inventory_adjustments, order_items, orders,
		cart_items, products, categories, users RESTART IDENTITY CASCADE`).Error)

	s.userID = uuid.NewString()
	s.Require().NoError(NewUserGormRepository(s.db).Create(s.ctx, &model.User{
		ID: s.userID, Name: "Alice", Email: "alice@example.com", PasswordHash: "x", Role: model.RoleUser, IsActive: true,
	}))

	c, err := NewCategoryGormRepository(s.db).Create(s.ctx, model.Category{Name: "Food"})
	s.Require().NoError(err)
	s.category = c
}

func (s *GormRepositorySuite) product(name string, price string, stock int64) model.Product {
	p, err := NewProductGormRepository(s.db).Create(s.ctx, model.Product{
		Name: name, Price: decimal.RequireFromString(price), Stock: stock, CategoryID: s.category.ID,
	})
	s.Require().NoError(err)
	return p
}

func (s *GormRepositorySuite) TestUser_DuplicateEmail() {
	err := NewUserGormRepository(s.db).Create(s.ctx, &model.User{
		ID: uuid.NewString(), Name: "Alice2", Email: "alice@example.com", PasswordHash: "x", Role: model.RoleUser,
	})
	s.ErrorIs(err, repo.ErrDuplicate)
}

func (s *GormRepositorySuite) TestCart_AddQuantityUpserts() {
	p := s.product("A", "10", 5)
	cart := NewCartGormRepository(s.db)

	s.Require().NoError(cart.AddQuantity(s.ctx, s.userID, p.ID, 1))
	s.Require().NoError(cart.AddQuantity(s.ctx, s.userID, p.ID, 2))

	lines, err := cart.ListLines(s.ctx, s.userID)
	s.Require().NoError(err)
	s.Require().Len(lines, 1)
	s.Equal(int64(3), lines[0].Quantity)
	s.Equal("A", lines[0].ProductName)
	s.True(lines[0].UnitPrice.Equal(decimal.NewFromInt(10)))
	s.Equal(int64(5), lines[0].Stock)
}

func (s *GormRepositorySuite) TestCart_RepointDuplicate() {
	a := s.product("A", "10", 5)
	b := s.product("B", "5", 5)
	cart := NewCartGormRepository(s.db)
	s.Require().NoError(cart.AddQuantity(s.ctx, s.userID, a.ID, 1))
	s.Require().NoError(cart.AddQuantity(s.ctx, s.userID, b.ID, 1))

	row, err := cart.FindByUserAndProduct(s.ctx, s.userID, a.ID)
	s.Require().NoError(err)
	s.ErrorIs(cart.Repoint(s.ctx, row.ID, b.ID, 2), repo.ErrDuplicate)
}

func (s *GormRepositorySuite) TestCart_DeletedProductDropsOut() {
	p := s.product("A", "10", 5)
	cart := NewCartGormRepository(s.db)
	s.Require().NoError(cart.AddQuantity(s.ctx, s.userID, p.ID, 1))
	s.Require().NoError(NewProductGormRepository(s.db).SoftDelete(s.ctx, p.ID))

	lines, err := cart.ListLines(s.ctx, s.userID)
	s.Require().NoError(err)
	s.Empty(lines)

	_, err = NewProductGormRepository(s.db).FindByID(s.ctx, p.ID)
	s.ErrorIs(err, repo.ErrNotFound)
}

func (s *GormRepositorySuite) TestInventory_GuardedDecrement() {
	p := s.product("A", "10", 3)
	inv := NewInventoryGormRepository(s.db)

	ok, err := inv.DecreaseStockIfEnough(s.ctx, p.ID, 2)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = inv.DecreaseStockIfEnough(s.ctx, p.ID, 2)
	s.Require().NoError(err)
	s.False(ok)

	got, err := NewProductGormRepository(s.db).FindByID(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), got.Stock)
}

// 同じ商品を同時に減らしても負にならない
func (s *GormRepositorySuite) TestInventory_ConcurrentDecrement() {
	p := s.product("A", "10", 5)
	tm := NewTxManagerGorm(s.db)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := tm.WithinTx(s.ctx, func(r repo.TxRepos) error {
				ok, err := r.Inventory().DecreaseStockIfEnough(s.ctx, p.ID, 2)
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("insufficient")
				}
				return nil
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Equal(2, succeeded)
	got, err := NewProductGormRepository(s.db).FindByID(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), got.Stock)
}

// 逆順にカートへ入れた2人が同時に確定してもデッドロックしない
func (s *GormRepositorySuite) TestCart_LockOrderAvoidsDeadlock() {
	a := s.product("A", "10", 1000)
	b := s.product("B", "5", 1000)
	bobID := uuid.NewString()
	s.Require().NoError(NewUserGormRepository(s.db).Create(s.ctx, &model.User{
		ID: bobID, Name: "Bob", Email: "bob@example.com", PasswordHash: "x", Role: model.RoleUser, IsActive: true,
	}))

	cart := NewCartGormRepository(s.db)
	tm := NewTxManagerGorm(s.db)
	checkout := func(userID string) error {
		return tm.WithinTx(s.ctx, func(r repo.TxRepos) error {
			lines, err := r.CartItems().ListLinesForUpdate(s.ctx, userID)
			if err != nil {
				return err
			}
			ids := make([]int64, 0, len(lines))
			for _, l := range lines {
				// 行ロックを持ったまま少し待って競合を起こしやすくする
				time.Sleep(5 * time.Millisecond)
				ok, err := r.Inventory().DecreaseStockIfEnough(s.ctx, l.ProductID, l.Quantity)
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("insufficient")
				}
				ids = append(ids, l.ID)
			}
			_, err = r.CartItems().DeleteByIDs(s.ctx, userID, ids)
			return err
		})
	}

	for i := 0; i < 10; i++ {
		s.Require().NoError(cart.AddQuantity(s.ctx, s.userID, a.ID, 1))
		s.Require().NoError(cart.AddQuantity(s.ctx, s.userID, b.ID, 1))
		s.Require().NoError(cart.AddQuantity(s.ctx, bobID, b.ID, 1))
		s.Require().NoError(cart.AddQuantity(s.ctx, bobID, a.ID, 1))

		lines, err := cart.ListLinesForUpdate(s.ctx, bobID)
		s.Require().NoError(err)
		s.Require().Len(lines, 2)
		s.Equal(a.ID, lines[0].ProductID)

		errs := make(chan error, 2)
		for _, id := range []string{s.userID, bobID} {
			go func(userID string) { errs <- checkout(userID) }(id)
		}
		s.Require().NoError(<-errs)
		s.Require().NoError(<-errs)
	}

	got, err := NewProductGormRepository(s.db).FindByID(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(int64(980), got.Stock)
}

func (s *GormRepositorySuite) TestCart_QuantityCheckConstraint() {
	p := s.product("A", "10", 5)
	cart := NewCartGormRepository(s.db)
	s.Require().NoError(cart.AddQuantity(s.ctx, s.userID, p.ID, model.MaxCartQuantity))

	s.ErrorIs(cart.AddQuantity(s.ctx, s.userID, p.ID, 1), repo.ErrOutOfRange)

	row, err := cart.FindByUserAndProduct(s.ctx, s.userID, p.ID)
	s.Require().NoError(err)
	s.Equal(model.MaxCartQuantity, row.Quantity)
	s.ErrorIs(cart.UpdateQuantity(s.ctx, row.ID, 0), repo.ErrOutOfRange)
}

// 管理者が在庫を読んでから書くまでの間、チェックアウトの減算は待たされる
func (s *GormRepositorySuite) TestProduct_FindByIDForUpdateBlocksDecrement() {
	p := s.product("A", "10", 5)
	tm := NewTxManagerGorm(s.db)

	locked := make(chan struct{})
	decremented := make(chan bool, 1)
	go func() {
		<-locked
		ok, err := NewInventoryGormRepository(s.db).DecreaseStockIfEnough(s.ctx, p.ID, 2)
		decremented <- err == nil && ok
	}()

	err := tm.WithinTx(s.ctx, func(r repo.TxRepos) error {
		before, err := r.Products().FindByIDForUpdate(s.ctx, p.ID)
		if err != nil {
			return err
		}
		close(locked)
		time.Sleep(100 * time.Millisecond)

		select {
		case <-decremented:
			return errors.New("decrement did not wait for the row lock")
		default:
		}
		s.Equal(int64(5), before.Stock)
		return r.Inventory().SetStock(s.ctx, p.ID, 10)
	})
	s.Require().NoError(err)
	s.True(<-decremented)

	// 上書きされずに 10 - 2
	got, err := NewProductGormRepository(s.db).FindByID(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(int64(8), got.Stock)
}

// 注文を書いた後にキャンセルされたらcommitされない
func (s *GormRepositorySuite) TestTx_CanceledContextRollsBack() {
	p := s.product("A", "10", 5)
	tm := NewTxManagerGorm(s.db)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	err := tm.WithinTx(ctx, func(r repo.TxRepos) error {
		if _, err := r.Orders().Create(ctx, model.Order{
			UserID: s.userID, Status: model.OrderStatusPending, TotalAmount: decimal.NewFromInt(20), CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
		if _, err := r.Inventory().DecreaseStockIfEnough(ctx, p.ID, 2); err != nil {
			return err
		}
		cancel()
		return nil
	})
	s.Require().Error(err)

	var orders int64
	s.Require().NoError(s.db.Model(&model.Order{}).Count(&orders).Error)
	s.Equal(int64(0), orders)
	got, err := NewProductGormRepository(s.db).FindByID(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(int64(5), got.Stock)
}

func (s *GormRepositorySuite) TestOrder_UpdateStatusIf() {
	orders := NewOrderGormRepository(s.db)
	id, err := orders.Create(s.ctx, model.Order{
		UserID: s.userID, Status: model.OrderStatusPending, TotalAmount: decimal.NewFromInt(40), CreatedAt: time.Now(),
	})
	s.Require().NoError(err)

	ok, err := orders.UpdateStatusIf(s.ctx, id, model.OrderStatusPending, model.OrderStatusPaid)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = orders.UpdateStatusIf(s.ctx, id, model.OrderStatusPending, model.OrderStatusPaid)
	s.Require().NoError(err)
	s.False(ok)

	list, total, err := orders.List(s.ctx, repo.OrderListFilter{UserID: &s.userID, Status: model.OrderStatusPaid})
	s.Require().NoError(err)
	s.Equal(int64(1), total)
	s.Len(list, 1)
}

func (s *GormRepositorySuite) TestTx_RollbackOnError() {
	p := s.product("A", "10", 5)
	tm := NewTxManagerGorm(s.db)

	boom := errors.New("boom")
	err := tm.WithinTx(s.ctx, func(r repo.TxRepos) error {
		if _, err := r.Inventory().DecreaseStockIfEnough(s.ctx, p.ID, 5); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	got, err := NewProductGormRepository(s.db).FindByID(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(int64(5), got.Stock)
}

func (s *GormRepositorySuite) TestCategory_DeleteInUse() {
	s.product("A", "10", 5)
	err := NewCategoryGormRepository(s.db).Delete(s.ctx, s.category.ID)
	s.ErrorIs(err, repo.ErrInUse)

	_, err = NewCategoryGormRepository(s.db).Create(s.ctx, model.Category{Name: "Food"})
	s.ErrorIs(err, repo.ErrDuplicate)
}

func (s *GormRepositorySuite) TestOutbox_FetchAndMark() {
	outbox := NewOutboxGormRepository(s.db)
	for i := 0; i < 3; i++ {
		s.Require().NoError(outbox.Create(s.ctx, model.OutboxEvent{
			EventID: uuid.NewString(), Type: model.EventOrderCreated, Key: "1", Payload: `{"order_id":1}`,
		}))
	}

	var ids []int64
	err := NewTxManagerGorm(s.db).WithinTx(s.ctx, func(r repo.TxRepos) error {
		evs, err := r.Outbox().FetchPending(s.ctx, 2)
		if err != nil {
			return err
		}
		for _, ev := range evs {
			ids = append(ids, ev.ID)
		}
		return r.Outbox().MarkSent(s.ctx, ids, time.Now())
	})
	s.Require().NoError(err)
	s.Len(ids, 2)

	rest, err := outbox.FetchPending(s.ctx, 10)
	s.Require().NoError(err)
	s.Len(rest, 1)
}

func (s *GormRepositorySuite) TestAuditLog_ListFilters() {
	audit := NewAuditLogGormRepository(s.db)
	for _, l := range []model.AuditLog{
		{Action: model.AuditActionUpdateStock, ResourceType: model.AuditResourceProduct, ResourceID: "1"},
		{Action: model.AuditActionUpdateStock, ResourceType: model.AuditResourceProduct, ResourceID: "2"},
		{Action: model.AuditActionUpdateOrderStatus, ResourceType: model.AuditResourceOrder, ResourceID: "1"},
	} {
		l.ActorUserID = s.userID
		s.Require().NoError(audit.Create(s.ctx, l))
	}

	logs, total, err := audit.List(s.ctx, repo.AuditLogFilter{Limit: 2})
	s.Require().NoError(err)
	s.Equal(int64(3), total)
	s.Require().Len(logs, 2)
	s.Equal(model.AuditActionUpdateOrderStatus, logs[0].Action)

	logs, total, err = audit.List(s.ctx, repo.AuditLogFilter{
		Actions:  []model.AuditAction{model.AuditActionUpdateStock, model.AuditActionDeleteProduct},
		Resource: &repo.AuditResource{Type: model.AuditResourceProduct, ID: "2"},
	})
	s.Require().NoError(err)
	s.Equal(int64(1), total)
	s.Require().Len(logs, 1)
	s.Equal("2", logs[0].ResourceID)

	other := uuid.NewString()
	logs, total, err = audit.List(s.ctx, repo.AuditLogFilter{ActorUserID: &other})
	s.Require().NoError(err)
	s.Equal(int64(0), total)
	s.Empty(logs)
}

// 2回流しても増えない
func (s *GormRepositorySuite) TestSeed_Idempotent() {
	s.Require().NoError(s.db.Exec(`TRUNCATE products, categories RESTART IDENTITY CASCADE`).Error)
	opt := db.SeedOptions{AdminEmail: "admin@local", AdminPassword: "admin-password", BcryptCost: 4}

	s.Require().NoError(db.Seed(s.ctx, s.db, opt, zerolog.Nop()))
	s.Require().NoError(db.Seed(s.ctx, s.db, opt, zerolog.Nop()))

	var categories, products, admins int64
	s.Require().NoError(s.db.Model(&model.Category{}).Count(&categories).Error)
	s.Require().NoError(s.db.Model(&model.Product{}).Count(&products).Error)
	s.Require().NoError(s.db.Model(&model.User{}).Where("role = ?", model.RoleAdmin).Count(&admins).Error)
	s.Equal(int64(2), categories)
	s.Equal(int64(2), products)
	s.Equal(int64(1), admins)

	u, err := NewUserGormRepository(s.db).FindByEmail(s.ctx, "admin@local")
	s.Require().NoError(err)
	s.Equal(model.RoleAdmin, u.Role)
}
