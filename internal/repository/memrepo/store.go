// Package memrepo はrepositoryのインメモリ実装。テストで使う。
// WithinTxはfnがerrorを返すかctxが終わっていたら状態を丸ごと巻き戻す。
package memrepo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"shopapi/internal/domain/model"
	repo "shopapi/internal/repository"

	"github.com/shopspring/decimal"
)

type state struct {
	seq         int64
	users       map[string]model.User
	categories  map[int64]model.Category
	products    map[int64]model.Product
	cartItems   map[int64]model.CartItem
	orders      map[int64]model.Order
	orderItems  []model.OrderItem
	adjustments []model.InventoryAdjustment
	auditLogs   []model.AuditLog
	outbox      []model.OutboxEvent
}

func (s *state) clone() *state {
	c := &state{
		seq:         s.seq,
		users:       make(map[string]model.User, len(s.users)),
		categories:  make(map[int64]model.Category, len(s.categories)),
		products:    make(map[int64]model.Product, len(s.products)),
		cartItems:   make(map[int64]model.CartItem, len(s.cartItems)),
		orders:      make(map[int64]model.Order, len(s.orders)),
		orderItems:  append([]model.OrderItem(nil), s.orderItems...),
		adjustments: append([]model.InventoryAdjustment(nil), s.adjustments...),
		auditLogs:   append([]model.AuditLog(nil), s.auditLogs...),
		outbox:      append([]model.OutboxEvent(nil), s.outbox...),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.cartItems {
		c.cartItems[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	return c
}

// Store は全テーブル分の状態を持つ
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time

	// 次のWithinTxのfnが終わった直後に差し込むエラー（commit失敗の再現用）
	FailCommit error
}

func New() *Store {
	return &Store{
		st: &state{
			users:      map[string]model.User{},
			categories: map[int64]model.Category{},
			products:   map[int64]model.Product{},
			cartItems:  map[int64]model.CartItem{},
			orders:     map[int64]model.Order{},
		},
		now: time.Now,
	}
}

func (s *Store) nextID() int64 {
	s.st.seq++
	return s.st.seq
}

// lock はTx中（同じgoroutineで保持済み）なら何もしない
func (s *Store) do(tx bool, fn func()) {
	if tx {
		fn()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// ---- TransactionManager ----

type TxManager struct{ s *Store }

func (s *Store) TxManager() *TxManager { return &TxManager{s: s} }

func (m *TxManager) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := s.st.clone()
	err := fn(txRepos{s: s, tx: true})
	if err == nil && s.FailCommit != nil {
		err = s.FailCommit
		s.FailCommit = nil
	}
	// キャンセル済みならcommitしない（database/sqlのTxと同じ）
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

type txRepos struct {
	s  *Store
	tx bool
}

func (r txRepos) Orders() repo.OrderRepository         { return orderRepo(r) }
func (r txRepos) OrderItems() repo.OrderItemRepository { return orderItemRepo(r) }
func (r txRepos) CartItems() repo.CartItemRepository   { return cartRepo(r) }
func (r txRepos) Inventory() repo.InventoryRepository  { return inventoryRepo(r) }
func (r txRepos) Products() repo.ProductRepository     { return productRepo(r) }
func (r txRepos) Categories() repo.CategoryRepository  { return categoryRepo(r) }
func (r txRepos) Users() repo.UserRepository           { return userRepo(r) }
func (r txRepos) AuditLogs() repo.AuditLogRepository   { return auditRepo(r) }
func (r txRepos) Outbox() repo.OutboxRepository        { return outboxRepo(r) }

// Tx外で使うリポジトリ
func (s *Store) Repos() repo.TxRepos { return txRepos{s: s} }

// ---- テスト用の直接操作 ----

func (s *Store) PutUser(u model.User) {
	s.do(false, func() { s.st.users[u.ID] = u })
}

func (s *Store) PutCategory(name string) model.Category {
	var c model.Category
	s.do(false, func() {
		c = model.Category{ID: s.nextID(), Name: name, CreatedAt: s.now(), UpdatedAt: s.now()}
		s.st.categories[c.ID] = c
	})
	return c
}

func (s *Store) PutProduct(name string, price string, stock int64, categoryID int64) model.Product {
	var p model.Product
	s.do(false, func() {
		p = model.Product{
			ID:         s.nextID(),
			Name:       name,
			Price:      decimal.RequireFromString(price),
			Stock:      stock,
			CategoryID: categoryID,
			CreatedAt:  s.now(),
			UpdatedAt:  s.now(),
		}
		s.st.products[p.ID] = p
	})
	return p
}

func (s *Store) SetPrice(productID int64, price string) {
	s.do(false, func() {
		p := s.st.products[productID]
		p.Price = decimal.RequireFromString(price)
		s.st.products[productID] = p
	})
}

func (s *Store) Product(id int64) model.Product {
	var p model.Product
	s.do(false, func() { p = s.st.products[id] })
	return p
}

func (s *Store) User(id string) model.User {
	var u model.User
	s.do(false, func() { u = s.st.users[id] })
	return u
}

// ユーザーのカート行（ID順）
func (s *Store) CartItems(userID string) []model.CartItem {
	var out []model.CartItem
	s.do(false, func() {
		for _, it := range s.st.cartItems {
			if it.UserID == userID {
				out = append(out, it)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) OrderCount() int {
	var n int
	s.do(false, func() { n = len(s.st.orders) })
	return n
}

func (s *Store) AuditLogs() []model.AuditLog {
	var out []model.AuditLog
	s.do(false, func() { out = append(out, s.st.auditLogs...) })
	return out
}

func (s *Store) OutboxEvents() []model.OutboxEvent {
	var out []model.OutboxEvent
	s.do(false, func() { out = append(out, s.st.outbox...) })
	return out
}

func (s *Store) Adjustments() []model.InventoryAdjustment {
	var out []model.InventoryAdjustment
	s.do(false, func() { out = append(out, s.st.adjustments...) })
	return out
}

func alive(p model.Product) bool { return !p.DeletedAt.Valid }

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
