package memrepo

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"shopapi/internal/domain/model"
	repo "shopapi/internal/repository"

	"gorm.io/gorm"
)

// ---- products ----

type productRepo txRepos

func (r productRepo) List(ctx context.Context, q repo.ProductListQuery) ([]model.Product, int64, error) {
	var out []model.Product
	r.s.do(r.tx, func() {
		for _, p := range r.s.st.products {
			if !alive(p) {
				continue
			}
			if q.Q != "" && !containsFold(p.Name, strings.TrimSpace(q.Q)) {
				continue
			}
			if q.CategoryID != nil && p.CategoryID != *q.CategoryID {
				continue
			}
			if q.MinPrice != nil && p.Price.LessThan(*q.MinPrice) {
				continue
			}
			if q.MaxPrice != nil && p.Price.GreaterThan(*q.MaxPrice) {
				continue
			}
			out = append(out, p)
		}
	})

	switch q.Sort {
	case "price_asc":
		sort.Slice(out, func(i, j int) bool {
			if !out[i].Price.Equal(out[j].Price) {
				return out[i].Price.LessThan(out[j].Price)
			}
			return out[i].ID < out[j].ID
		})
	case "price_desc":
		sort.Slice(out, func(i, j int) bool {
			if !out[i].Price.Equal(out[j].Price) {
				return out[i].Price.GreaterThan(out[j].Price)
			}
			return out[i].ID > out[j].ID
		})
	case "name":
		sort.Slice(out, func(i, j int) bool {
			if out[i].Name != out[j].Name {
				return out[i].Name < out[j].Name
			}
			return out[i].ID < out[j].ID
		})
	default:
		sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	}

	total := int64(len(out))
	if q.Limit > 0 {
		out = paginate(out, q.Page, q.Limit)
	}
	if out == nil {
		out = []model.Product{}
	}
	return out, total, nil
}

func (r productRepo) FindByID(ctx context.Context, id int64) (model.Product, error) {
	var p model.Product
	var ok bool
	r.s.do(r.tx, func() { p, ok = r.s.st.products[id] })
	if !ok || !alive(p) {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

// Tx中はStoreのロックで直列になっている
func (r productRepo) FindByIDForUpdate(ctx context.Context, id int64) (model.Product, error) {
	return r.FindByID(ctx, id)
}

func (r productRepo) NamesByIDs(ctx context.Context, ids []int64) (map[int64]string, error) {
	names := make(map[int64]string, len(ids))
	r.s.do(r.tx, func() {
		for _, id := range ids {
			if p, ok := r.s.st.products[id]; ok {
				names[id] = p.Name
			}
		}
	})
	return names, nil
}

func (r productRepo) ListAll(ctx context.Context) ([]model.Product, error) {
	out, _, err := r.List(ctx, repo.ProductListQuery{})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r productRepo) CountByCategory(ctx context.Context, categoryID int64) (int64, error) {
	var n int64
	r.s.do(r.tx, func() {
		for _, p := range r.s.st.products {
			if alive(p) && p.CategoryID == categoryID {
				n++
			}
		}
	})
	return n, nil
}

func (r productRepo) Create(ctx context.Context, p model.Product) (model.Product, error) {
	r.s.do(r.tx, func() {
		p.ID = r.s.nextID()
		p.CreatedAt = r.s.now()
		p.UpdatedAt = p.CreatedAt
		r.s.st.products[p.ID] = p
	})
	return p, nil
}

func (r productRepo) Update(ctx context.Context, p model.Product) error {
	var err error
	r.s.do(r.tx, func() {
		cur, ok := r.s.st.products[p.ID]
		if !ok || !alive(cur) {
			err = repo.ErrNotFound
			return
		}
		cur.Name = p.Name
		cur.Description = p.Description
		cur.Price = p.Price
		cur.CategoryID = p.CategoryID
		cur.UpdatedAt = r.s.now()
		r.s.st.products[p.ID] = cur
	})
	return err
}

func (r productRepo) SoftDelete(ctx context.Context, id int64) error {
	var err error
	r.s.do(r.tx, func() {
		cur, ok := r.s.st.products[id]
		if !ok || !alive(cur) {
			err = repo.ErrNotFound
			return
		}
		cur.DeletedAt = gorm.DeletedAt{Time: r.s.now(), Valid: true}
		r.s.st.products[id] = cur
	})
	return err
}

// ---- categories ----

type categoryRepo txRepos

func (r categoryRepo) List(ctx context.Context) ([]model.Category, error) {
	out := []model.Category{}
	r.s.do(r.tx, func() {
		for _, c := range r.s.st.categories {
			out = append(out, c)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r categoryRepo) FindByID(ctx context.Context, id int64) (model.Category, error) {
	var c model.Category
	var ok bool
	r.s.do(r.tx, func() { c, ok = r.s.st.categories[id] })
	if !ok {
		return model.Category{}, repo.ErrNotFound
	}
	return c, nil
}

func (r categoryRepo) nameTaken(name string, exceptID int64) bool {
	for _, c := range r.s.st.categories {
		if c.Name == name && c.ID != exceptID {
			return true
		}
	}
	return false
}

func (r categoryRepo) Create(ctx context.Context, c model.Category) (model.Category, error) {
	var err error
	r.s.do(r.tx, func() {
		if r.nameTaken(c.Name, 0) {
			err = repo.ErrDuplicate
			return
		}
		c.ID = r.s.nextID()
		c.CreatedAt = r.s.now()
		c.UpdatedAt = c.CreatedAt
		r.s.st.categories[c.ID] = c
	})
	if err != nil {
		return model.Category{}, err
	}
	return c, nil
}

func (r categoryRepo) Update(ctx context.Context, c model.Category) error {
	var err error
	r.s.do(r.tx, func() {
		cur, ok := r.s.st.categories[c.ID]
		if !ok {
			err = repo.ErrNotFound
			return
		}
		if r.nameTaken(c.Name, c.ID) {
			err = repo.ErrDuplicate
			return
		}
		cur.Name = c.Name
		cur.Description = c.Description
		cur.UpdatedAt = r.s.now()
		r.s.st.categories[c.ID] = cur
	})
	return err
}

// 論理削除済みの商品が参照していてもErrInUse（外部キー相当）
func (r categoryRepo) Delete(ctx context.Context, id int64) error {
	var err error
	r.s.do(r.tx, func() {
		if _, ok := r.s.st.categories[id]; !ok {
			err = repo.ErrNotFound
			return
		}
		for _, p := range r.s.st.products {
			if p.CategoryID == id {
				err = repo.ErrInUse
				return
			}
		}
		delete(r.s.st.categories, id)
	})
	return err
}

// ---- cart ----

type cartRepo txRepos

func (r cartRepo) ListLines(ctx context.Context, userID string) ([]model.CartLine, error) {
	lines := []model.CartLine{}
	r.s.do(r.tx, func() {
		for _, it := range r.s.st.cartItems {
			if it.UserID != userID {
				continue
			}
			p, ok := r.s.st.products[it.ProductID]
			if !ok || !alive(p) {
				continue
			}
			lines = append(lines, model.CartLine{
				ID:          it.ID,
				ProductID:   it.ProductID,
				ProductName: p.Name,
				UnitPrice:   p.Price,
				Stock:       p.Stock,
				Quantity:    it.Quantity,
			})
		}
	})
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return lines, nil
}

// ロックはStore全体で取っているので、並びだけgorm実装（商品ID順）に合わせる
func (r cartRepo) ListLinesForUpdate(ctx context.Context, userID string) ([]model.CartLine, error) {
	lines, err := r.ListLines(ctx, userID)
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, err
}

func (r cartRepo) FindByID(ctx context.Context, cartItemID int64) (model.CartItem, error) {
	var it model.CartItem
	var ok bool
	r.s.do(r.tx, func() { it, ok = r.s.st.cartItems[cartItemID] })
	if !ok {
		return model.CartItem{}, repo.ErrNotFound
	}
	return it, nil
}

func (r cartRepo) findByUserAndProduct(userID string, productID int64) (model.CartItem, bool) {
	for _, it := range r.s.st.cartItems {
		if it.UserID == userID && it.ProductID == productID {
			return it, true
		}
	}
	return model.CartItem{}, false
}

func (r cartRepo) FindByUserAndProduct(ctx context.Context, userID string, productID int64) (model.CartItem, error) {
	var it model.CartItem
	var ok bool
	r.s.do(r.tx, func() { it, ok = r.findByUserAndProduct(userID, productID) })
	if !ok {
		return model.CartItem{}, repo.ErrNotFound
	}
	return it, nil
}

// cart_itemsのCHECK制約と同じ
func validQuantity(qty int64) bool {
	return qty >= 1 && qty <= model.MaxCartQuantity
}

func (r cartRepo) AddQuantity(ctx context.Context, userID string, productID int64, addQty int64) error {
	var err error
	r.s.do(r.tx, func() {
		now := r.s.now()
		if it, ok := r.findByUserAndProduct(userID, productID); ok {
			// 足す前に比べる（int64のあふれ対策）
			if addQty < 1 || addQty > model.MaxCartQuantity-it.Quantity {
				err = repo.ErrOutOfRange
				return
			}
			it.Quantity += addQty
			it.UpdatedAt = now
			r.s.st.cartItems[it.ID] = it
			return
		}
		if !validQuantity(addQty) {
			err = repo.ErrOutOfRange
			return
		}
		id := r.s.nextID()
		r.s.st.cartItems[id] = model.CartItem{
			ID:        id,
			UserID:    userID,
			ProductID: productID,
			Quantity:  addQty,
			CreatedAt: now,
			UpdatedAt: now,
		}
	})
	return err
}

func (r cartRepo) UpdateQuantity(ctx context.Context, cartItemID int64, qty int64) error {
	var err error
	r.s.do(r.tx, func() {
		it, ok := r.s.st.cartItems[cartItemID]
		if !ok {
			err = repo.ErrNotFound
			return
		}
		if !validQuantity(qty) {
			err = repo.ErrOutOfRange
			return
		}
		it.Quantity = qty
		it.UpdatedAt = r.s.now()
		r.s.st.cartItems[cartItemID] = it
	})
	return err
}

func (r cartRepo) Repoint(ctx context.Context, cartItemID int64, productID int64, qty int64) error {
	var err error
	r.s.do(r.tx, func() {
		it, ok := r.s.st.cartItems[cartItemID]
		if !ok {
			err = repo.ErrNotFound
			return
		}
		if other, dup := r.findByUserAndProduct(it.UserID, productID); dup && other.ID != it.ID {
			err = repo.ErrDuplicate
			return
		}
		if !validQuantity(qty) {
			err = repo.ErrOutOfRange
			return
		}
		it.ProductID = productID
		it.Quantity = qty
		it.UpdatedAt = r.s.now()
		r.s.st.cartItems[cartItemID] = it
	})
	return err
}

func (r cartRepo) DeleteByID(ctx context.Context, cartItemID int64) error {
	var err error
	r.s.do(r.tx, func() {
		if _, ok := r.s.st.cartItems[cartItemID]; !ok {
			err = repo.ErrNotFound
			return
		}
		delete(r.s.st.cartItems, cartItemID)
	})
	return err
}

func (r cartRepo) DeleteByIDs(ctx context.Context, userID string, ids []int64) (int64, error) {
	var n int64
	r.s.do(r.tx, func() {
		for _, id := range ids {
			if it, ok := r.s.st.cartItems[id]; ok && it.UserID == userID {
				delete(r.s.st.cartItems, id)
				n++
			}
		}
	})
	return n, nil
}

func (r cartRepo) DeleteByProductID(ctx context.Context, productID int64) error {
	r.s.do(r.tx, func() {
		for id, it := range r.s.st.cartItems {
			if it.ProductID == productID {
				delete(r.s.st.cartItems, id)
			}
		}
	})
	return nil
}

// ---- inventory ----

type inventoryRepo txRepos

func (r inventoryRepo) SetStock(ctx context.Context, productID int64, newStock int64) error {
	var err error
	r.s.do(r.tx, func() {
		p, ok := r.s.st.products[productID]
		if !ok || !alive(p) {
			err = repo.ErrNotFound
			return
		}
		p.Stock = newStock
		r.s.st.products[productID] = p
	})
	return err
}

func (r inventoryRepo) DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error) {
	var done bool
	r.s.do(r.tx, func() {
		p, ok := r.s.st.products[productID]
		if !ok || !alive(p) || p.Stock < qty {
			return
		}
		p.Stock -= qty
		r.s.st.products[productID] = p
		done = true
	})
	return done, nil
}

func (r inventoryRepo) CreateAdjustment(ctx context.Context, adj model.InventoryAdjustment) error {
	r.s.do(r.tx, func() {
		adj.ID = r.s.nextID()
		adj.CreatedAt = r.s.now()
		r.s.st.adjustments = append(r.s.st.adjustments, adj)
	})
	return nil
}

func (r inventoryRepo) ListAdjustments(ctx context.Context, productID int64, limit int) ([]model.InventoryAdjustment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	out := []model.InventoryAdjustment{}
	r.s.do(r.tx, func() {
		for i := len(r.s.st.adjustments) - 1; i >= 0 && len(out) < limit; i-- {
			if a := r.s.st.adjustments[i]; a.ProductID == productID {
				out = append(out, a)
			}
		}
	})
	return out, nil
}

// ---- orders ----

type orderRepo txRepos

func (r orderRepo) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	var o model.Order
	var ok bool
	r.s.do(r.tx, func() { o, ok = r.s.st.orders[orderID] })
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return o, nil
}

func (r orderRepo) List(ctx context.Context, f repo.OrderListFilter) ([]model.Order, int64, error) {
	var out []model.Order
	r.s.do(r.tx, func() {
		for _, o := range r.s.st.orders {
			if f.UserID != nil && o.UserID != *f.UserID {
				continue
			}
			if f.Status != "" && o.Status != f.Status {
				continue
			}
			out = append(out, o)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })

	total := int64(len(out))
	if f.Limit > 0 {
		out = paginate(out, f.Page, f.Limit)
	}
	if out == nil {
		out = []model.Order{}
	}
	return out, total, nil
}

func (r orderRepo) Create(ctx context.Context, order model.Order) (int64, error) {
	r.s.do(r.tx, func() {
		order.ID = r.s.nextID()
		r.s.st.orders[order.ID] = order
	})
	return order.ID, nil
}

func (r orderRepo) UpdateStatusIf(ctx context.Context, orderID int64, from, to model.OrderStatus) (bool, error) {
	var done bool
	r.s.do(r.tx, func() {
		o, ok := r.s.st.orders[orderID]
		if !ok || o.Status != from {
			return
		}
		o.Status = to
		o.UpdatedAt = r.s.now()
		r.s.st.orders[orderID] = o
		done = true
	})
	return done, nil
}

type orderItemRepo txRepos

func (r orderItemRepo) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error {
	r.s.do(r.tx, func() {
		for _, it := range items {
			it.ID = r.s.nextID()
			it.OrderID = orderID
			r.s.st.orderItems = append(r.s.st.orderItems, it)
		}
	})
	return nil
}

func (r orderItemRepo) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	return r.ListByOrderIDs(ctx, []int64{orderID})
}

func (r orderItemRepo) ListByOrderIDs(ctx context.Context, orderIDs []int64) ([]model.OrderItem, error) {
	want := make(map[int64]bool, len(orderIDs))
	for _, id := range orderIDs {
		want[id] = true
	}
	out := []model.OrderItem{}
	r.s.do(r.tx, func() {
		for _, it := range r.s.st.orderItems {
			if want[it.OrderID] {
				out = append(out, it)
			}
		}
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OrderID != out[j].OrderID {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ---- users ----

type userRepo txRepos

func (r userRepo) Create(ctx context.Context, user *model.User) error {
	var err error
	r.s.do(r.tx, func() {
		for _, u := range r.s.st.users {
			if u.Email == user.Email {
				err = repo.ErrDuplicate
				return
			}
		}
		if user.CreatedAt.IsZero() {
			user.CreatedAt = r.s.now()
		}
		user.UpdatedAt = user.CreatedAt
		r.s.st.users[user.ID] = *user
	})
	return err
}

func (r userRepo) FindByID(ctx context.Context, userID string) (*model.User, error) {
	var u model.User
	var ok bool
	r.s.do(r.tx, func() { u, ok = r.s.st.users[userID] })
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &u, nil
}

func (r userRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var found *model.User
	r.s.do(r.tx, func() {
		for _, u := range r.s.st.users {
			if u.Email == email {
				u := u
				found = &u
				return
			}
		}
	})
	if found == nil {
		return nil, repo.ErrNotFound
	}
	return found, nil
}

func (r userRepo) Update(ctx context.Context, user *model.User) error {
	r.s.do(r.tx, func() {
		user.UpdatedAt = r.s.now()
		r.s.st.users[user.ID] = *user
	})
	return nil
}

func (r userRepo) IncrementTokenVersion(ctx context.Context, userID string) error {
	var err error
	r.s.do(r.tx, func() {
		u, ok := r.s.st.users[userID]
		if !ok {
			err = repo.ErrNotFound
			return
		}
		u.TokenVersion++
		r.s.st.users[userID] = u
	})
	return err
}

// ---- audit logs ----

type auditRepo txRepos

func (r auditRepo) Create(ctx context.Context, log model.AuditLog) error {
	r.s.do(r.tx, func() {
		log.ID = r.s.nextID()
		log.CreatedAt = r.s.now()
		r.s.st.auditLogs = append(r.s.st.auditLogs, log)
	})
	return nil
}

func (r auditRepo) List(ctx context.Context, f repo.AuditLogFilter) ([]model.AuditLog, int64, error) {
	var matched []model.AuditLog
	r.s.do(r.tx, func() {
		// 追記順なので後ろから読めば新しい順
		for i := len(r.s.st.auditLogs) - 1; i >= 0; i-- {
			l := r.s.st.auditLogs[i]
			if f.ActorUserID != nil && l.ActorUserID != *f.ActorUserID {
				continue
			}
			if len(f.Actions) > 0 && !slices.Contains(f.Actions, l.Action) {
				continue
			}
			if f.Resource != nil {
				if l.ResourceType != f.Resource.Type || (f.Resource.ID != "" && l.ResourceID != f.Resource.ID) {
					continue
				}
			}
			if f.Since != nil && l.CreatedAt.Before(*f.Since) {
				continue
			}
			if f.Until != nil && !l.CreatedAt.Before(*f.Until) {
				continue
			}
			matched = append(matched, l)
		}
	})

	total := int64(len(matched))
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[f.Offset:]
		}
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return append([]model.AuditLog{}, matched...), total, nil
}

// ---- outbox ----

type outboxRepo txRepos

func (r outboxRepo) Create(ctx context.Context, ev model.OutboxEvent) error {
	r.s.do(r.tx, func() {
		ev.ID = r.s.nextID()
		ev.CreatedAt = r.s.now()
		r.s.st.outbox = append(r.s.st.outbox, ev)
	})
	return nil
}

func (r outboxRepo) FetchPending(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	out := []model.OutboxEvent{}
	r.s.do(r.tx, func() {
		for _, ev := range r.s.st.outbox {
			if ev.SentAt == nil && len(out) < limit {
				out = append(out, ev)
			}
		}
	})
	return out, nil
}

func (r outboxRepo) MarkSent(ctx context.Context, ids []int64, at time.Time) error {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	r.s.do(r.tx, func() {
		for i := range r.s.st.outbox {
			if want[r.s.st.outbox[i].ID] {
				t := at
				r.s.st.outbox[i].SentAt = &t
			}
		}
	})
	return nil
}

func paginate[T any](items []T, page, limit int) []T {
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(items) {
		return nil
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
