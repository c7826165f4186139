package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"
)

func invLockKey(id int64) string     { return fmt.Sprintf("inventory:%d", id) }
func orderLockKey(id int64) string   { return fmt.Sprintf("order:%d", id) }
func paymentLockKey(e string) string { return "payment:" + e }
func idemLockKey(k string) string    { return "idempotency:" + k }

// ---- inventory ----

type inventoryRepo struct{ t *tx }

func (r *inventoryRepo) find(productID int64, variantID *int64) (model.InventoryRecord, bool) {
	for _, rec := range r.t.inventoryRows() {
		if rec.Matches(productID, variantID) {
			return rec, true
		}
	}
	return model.InventoryRecord{}, false
}

func (r *inventoryRepo) FindByItem(ctx context.Context, productID int64, variantID *int64) (model.InventoryRecord, error) {
	rec, ok := r.find(productID, variantID)
	if !ok {
		return model.InventoryRecord{}, repo.ErrNotFound
	}
	return rec, nil
}

func (r *inventoryRepo) FindByItemForUpdate(ctx context.Context, productID int64, variantID *int64) (model.InventoryRecord, error) {
	rec, ok := r.find(productID, variantID)
	if !ok {
		return model.InventoryRecord{}, repo.ErrNotFound
	}
	if err := r.t.lock(ctx, invLockKey(rec.ID)); err != nil {
		return model.InventoryRecord{}, err
	}
	//ロック取得後の最新値
	rec, ok = r.t.getInventory(rec.ID)
	if !ok {
		return model.InventoryRecord{}, repo.ErrNotFound
	}
	return rec, nil
}

func (r *inventoryRepo) update(ctx context.Context, id int64, fn func(rec *model.InventoryRecord) bool) (bool, error) {
	if err := r.t.lock(ctx, invLockKey(id)); err != nil {
		return false, err
	}
	rec, ok := r.t.getInventory(id)
	if !ok {
		return false, nil
	}
	if !fn(&rec) {
		return false, nil
	}
	rec.UpdatedAt = time.Now()
	r.t.inventory[id] = rec
	return true, nil
}

func (r *inventoryRepo) ReserveIfAvailable(ctx context.Context, recordID int64, qty int64) (bool, error) {
	return r.update(ctx, recordID, func(rec *model.InventoryRecord) bool {
		if rec.Quantity-rec.Reserved < qty {
			return false
		}
		rec.Reserved += qty
		return true
	})
}

func (r *inventoryRepo) CommitReserved(ctx context.Context, recordID int64, qty int64) (bool, error) {
	return r.update(ctx, recordID, func(rec *model.InventoryRecord) bool {
		if rec.Reserved < qty || rec.Quantity < qty {
			return false
		}
		rec.Quantity -= qty
		rec.Reserved -= qty
		return true
	})
}

func (r *inventoryRepo) ReleaseReserved(ctx context.Context, recordID int64, qty int64) (bool, error) {
	return r.update(ctx, recordID, func(rec *model.InventoryRecord) bool {
		if rec.Reserved < qty {
			return false
		}
		rec.Reserved -= qty
		return true
	})
}

func (r *inventoryRepo) SetQuantity(ctx context.Context, recordID int64, newQuantity int64) (bool, error) {
	return r.update(ctx, recordID, func(rec *model.InventoryRecord) bool {
		if newQuantity < rec.Reserved {
			return false
		}
		rec.Quantity = newQuantity
		return true
	})
}

func (r *inventoryRepo) Upsert(ctx context.Context, in model.InventoryRecord) (model.InventoryRecord, error) {
	//同じSKUの同時投入を直列化
	if err := r.t.lock(ctx, "sku:"+in.SKU); err != nil {
		return model.InventoryRecord{}, err
	}

	for _, rec := range r.t.inventoryRows() {
		if rec.SKU != in.SKU {
			continue
		}
		if err := r.t.lock(ctx, invLockKey(rec.ID)); err != nil {
			return model.InventoryRecord{}, err
		}
		rec, _ = r.t.getInventory(rec.ID)
		rec.ProductID = in.ProductID
		rec.VariantID = in.VariantID
		rec.IsTracked = in.IsTracked
		rec.ReorderThreshold = in.ReorderThreshold
		rec.UpdatedAt = time.Now()
		r.t.inventory[rec.ID] = rec
		return rec, nil
	}

	now := time.Now()
	in.ID = r.t.s.nextID()
	if err := r.t.lock(ctx, invLockKey(in.ID)); err != nil {
		return model.InventoryRecord{}, err
	}
	in.CreatedAt = now
	in.UpdatedAt = now
	r.t.inventory[in.ID] = in
	return in, nil
}

func (r *inventoryRepo) ListLowStock(ctx context.Context, limit int) ([]model.InventoryRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	out := []model.InventoryRecord{}
	for _, rec := range r.t.inventoryRows() {
		if rec.IsTracked && rec.Quantity-rec.Reserved <= rec.ReorderThreshold {
			out = append(out, rec)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *inventoryRepo) CreateAdjustment(ctx context.Context, adj model.InventoryAdjustment) error {
	adj.ID = r.t.s.nextID()
	if adj.CreatedAt.IsZero() {
		adj.CreatedAt = time.Now()
	}
	r.t.adjustments = append(r.t.adjustments, adj)
	return nil
}

// ---- orders ----

type orderRepo struct{ t *tx }

func (r *orderRepo) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	o, ok := r.t.getOrder(orderID)
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return o, nil
}

func (r *orderRepo) FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error) {
	if _, ok := r.t.getOrder(orderID); !ok {
		return model.Order{}, repo.ErrNotFound
	}
	if err := r.t.lock(ctx, orderLockKey(orderID)); err != nil {
		return model.Order{}, err
	}
	o, ok := r.t.getOrder(orderID)
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return o, nil
}

func (r *orderRepo) ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error) {
	rows := r.t.orderRows()
	mine := make([]model.Order, 0)
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].UserID == userID {
			mine = append(mine, rows[i])
		}
	}
	total := int64(len(mine))

	offset := (page - 1) * limit
	if offset < 0 || offset >= len(mine) {
		return []model.Order{}, total, nil
	}
	end := offset + limit
	if end > len(mine) {
		end = len(mine)
	}
	return mine[offset:end], total, nil
}

func (r *orderRepo) Create(ctx context.Context, order model.Order) (int64, error) {
	order.ID = r.t.s.nextID()
	if err := r.t.lock(ctx, orderLockKey(order.ID)); err != nil {
		return 0, err
	}
	now := time.Now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	order.Items = nil
	r.t.orders[order.ID] = order
	return order.ID, nil
}

func (r *orderRepo) Transition(ctx context.Context, o model.Order, from model.OrderStatus) error {
	if err := r.t.lock(ctx, orderLockKey(o.ID)); err != nil {
		return err
	}
	cur, ok := r.t.getOrder(o.ID)
	if !ok || cur.Status != from {
		return repo.ErrConflict
	}
	cur.Status = o.Status
	cur.PaymentStatus = o.PaymentStatus
	cur.ReservationExpiresAt = o.ReservationExpiresAt
	cur.PaidAt = o.PaidAt
	cur.CancelledAt = o.CancelledAt
	cur.CancelReason = o.CancelReason
	cur.CancelDetail = o.CancelDetail
	cur.UpdatedAt = o.UpdatedAt
	r.t.orders[o.ID] = cur
	return nil
}

func (r *orderRepo) ListExpiredPending(ctx context.Context, now time.Time, afterID int64, limit int) ([]int64, error) {
	ids := make([]int64, 0)
	for _, o := range r.t.orderRows() {
		if o.ID <= afterID || o.Status != model.OrderStatusPendingPayment || o.ReservationExpiresAt == nil {
			continue
		}
		if !o.ReservationExpiresAt.After(now) {
			ids = append(ids, o.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// ---- order items ----

type orderItemRepo struct{ t *tx }

func (r *orderItemRepo) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	existing := r.t.getItems(orderID)
	merged := make([]model.OrderItem, 0, len(existing)+len(items))
	merged = append(merged, existing...)
	for i := range items {
		items[i].ID = r.t.s.nextID()
		items[i].OrderID = orderID
		if items[i].CreatedAt.IsZero() {
			items[i].CreatedAt = time.Now()
		}
		merged = append(merged, items[i])
	}
	r.t.items[orderID] = merged
	return nil
}

func (r *orderItemRepo) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	items := r.t.getItems(orderID)
	out := make([]model.OrderItem, len(items))
	copy(out, items)
	return out, nil
}

// ---- payments ----

type paymentRepo struct{ t *tx }

func (r *paymentRepo) Create(ctx context.Context, p model.PaymentRecord) error {
	if err := r.t.lock(ctx, paymentLockKey(p.ProviderEventID)); err != nil {
		return err
	}
	if _, ok := r.t.getPayment(p.ProviderEventID); ok {
		return repo.ErrDuplicate
	}
	r.t.payments[p.ProviderEventID] = p
	return nil
}

func (r *paymentRepo) FindByProviderEventID(ctx context.Context, eventID string) (model.PaymentRecord, error) {
	p, ok := r.t.getPayment(eventID)
	if !ok {
		return model.PaymentRecord{}, repo.ErrNotFound
	}
	return p, nil
}

func (r *paymentRepo) ListByOrderID(ctx context.Context, orderID int64) ([]model.PaymentRecord, error) {
	out := []model.PaymentRecord{}
	for _, p := range r.t.paymentRows() {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out, nil
}

// ---- idempotency ----

type idempotencyRepo struct{ t *tx }

func (r *idempotencyRepo) CreateIfAbsent(ctx context.Context, rec model.IdempotencyRecord) (bool, error) {
	if err := r.t.lock(ctx, idemLockKey(rec.Key)); err != nil {
		return false, err
	}
	if _, ok := r.t.getIdem(rec.Key); ok {
		return false, nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.ResponseBody = cloneBytes(rec.ResponseBody)
	delete(r.t.idemDeleted, rec.Key)
	r.t.idem[rec.Key] = rec
	return true, nil
}

func (r *idempotencyRepo) FindByKeyForUpdate(ctx context.Context, key string) (model.IdempotencyRecord, error) {
	if err := r.t.lock(ctx, idemLockKey(key)); err != nil {
		return model.IdempotencyRecord{}, err
	}
	rec, ok := r.t.getIdem(key)
	if !ok {
		return model.IdempotencyRecord{}, repo.ErrNotFound
	}
	rec.ResponseBody = cloneBytes(rec.ResponseBody)
	return rec, nil
}

func (r *idempotencyRepo) Save(ctx context.Context, rec model.IdempotencyRecord) error {
	if err := r.t.lock(ctx, idemLockKey(rec.Key)); err != nil {
		return err
	}
	cur, ok := r.t.getIdem(rec.Key)
	if !ok {
		return repo.ErrNotFound
	}
	rec.CreatedAt = cur.CreatedAt
	rec.ResponseBody = cloneBytes(rec.ResponseBody)
	r.t.idem[rec.Key] = rec
	return nil
}

func (r *idempotencyRepo) transition(ctx context.Context, key string, attempt int, fn func(rec *model.IdempotencyRecord)) (bool, error) {
	if err := r.t.lock(ctx, idemLockKey(key)); err != nil {
		return false, err
	}
	rec, ok := r.t.getIdem(key)
	if !ok || rec.Status != model.IdempotencyStatusInProgress || rec.AttemptCount != attempt {
		return false, nil
	}
	fn(&rec)
	r.t.idem[key] = rec
	return true, nil
}

func (r *idempotencyRepo) Complete(ctx context.Context, key string, attempt int, body []byte, at time.Time) (bool, error) {
	return r.transition(ctx, key, attempt, func(rec *model.IdempotencyRecord) {
		rec.Status = model.IdempotencyStatusCompleted
		rec.ResponseBody = cloneBytes(body)
		rec.LastError = ""
		rec.LastProcessedAt = at
	})
}

func (r *idempotencyRepo) MarkFailed(ctx context.Context, key string, attempt int, detail string, at time.Time) (bool, error) {
	return r.transition(ctx, key, attempt, func(rec *model.IdempotencyRecord) {
		rec.Status = model.IdempotencyStatusFailed
		rec.LastError = detail
		rec.LastProcessedAt = at
	})
}

func (r *idempotencyRepo) ReclaimStale(ctx context.Context, staleBefore time.Time, detail string, at time.Time) (int64, error) {
	var n int64
	for _, key := range r.t.idemKeys() {
		//実行中のTxが握っている行は飛ばす
		if !r.t.tryLock(idemLockKey(key)) {
			continue
		}
		rec, ok := r.t.getIdem(key)
		if !ok || rec.Status != model.IdempotencyStatusInProgress || !rec.LastProcessedAt.Before(staleBefore) {
			continue
		}
		rec.Status = model.IdempotencyStatusFailed
		rec.LastError = detail
		rec.LastProcessedAt = at
		r.t.idem[key] = rec
		n++
	}
	return n, nil
}

func (r *idempotencyRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for _, key := range r.t.idemKeys() {
		if !r.t.tryLock(idemLockKey(key)) {
			continue
		}
		rec, ok := r.t.getIdem(key)
		if !ok || rec.Status == model.IdempotencyStatusInProgress || !rec.ExpiresAt.Before(now) {
			continue
		}
		delete(r.t.idem, key)
		r.t.idemDeleted[key] = true
		n++
	}
	return n, nil
}

// ---- audit ----

type auditLogRepo struct{ t *tx }

func (r *auditLogRepo) Create(ctx context.Context, log model.AuditLog) error {
	log.ID = r.t.s.nextID()
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	r.t.audit = append(r.t.audit, log)
	return nil
}

func (r *auditLogRepo) List(ctx context.Context, f repo.AuditLogFilter) ([]model.AuditLog, error) {
	rows := r.t.auditRows()
	out := make([]model.AuditLog, 0)
	for i := len(rows) - 1; i >= 0; i-- {
		l := rows[i]
		if f.ActorUserID != nil && l.ActorUserID != *f.ActorUserID {
			continue
		}
		if f.Action != nil && l.Action != *f.Action {
			continue
		}
		if f.ResourceType != nil && l.ResourceType != *f.ResourceType {
			continue
		}
		if f.ResourceID != nil && l.ResourceID != *f.ResourceID {
			continue
		}
		if f.CreatedFrom != nil && l.CreatedAt.Before(*f.CreatedFrom) {
			continue
		}
		if f.CreatedTo != nil && l.CreatedAt.After(*f.CreatedTo) {
			continue
		}
		out = append(out, l)
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return []model.AuditLog{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
