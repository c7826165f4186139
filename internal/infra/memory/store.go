package memory

import (
	"context"
	"sort"
	"sync"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"
)

// Store はDBの代わりに使うインメモリ実装。
// 書き込む行は必ずロックを取り、ロックはTx終了まで保持する（行ロック相当）。
// 書き込みはTx内でバッファし、commit時にまとめて反映する。
type Store struct {
	mu        sync.Mutex
	committed state
	seq       int64

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

type state struct {
	inventory   map[int64]model.InventoryRecord
	adjustments []model.InventoryAdjustment
	orders      map[int64]model.Order
	items       map[int64][]model.OrderItem
	payments    map[string]model.PaymentRecord
	idem        map[string]model.IdempotencyRecord
	audit       []model.AuditLog
}

func newState() state {
	return state{
		inventory: make(map[int64]model.InventoryRecord),
		orders:    make(map[int64]model.Order),
		items:     make(map[int64][]model.OrderItem),
		payments:  make(map[string]model.PaymentRecord),
		idem:      make(map[string]model.IdempotencyRecord),
	}
}

func NewStore() *Store {
	return &Store{
		committed: newState(),
		locks:     make(map[string]chan struct{}),
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := s.begin()
	defer t.release()

	if err := fn(t); err != nil {
		return err
	}
	s.commit(t)
	return nil
}

func (s *Store) nextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

func (s *Store) lockChan(key string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	return ch
}

func (s *Store) begin() *tx {
	return &tx{
		s:           s,
		held:        make(map[string]chan struct{}),
		inventory:   make(map[int64]model.InventoryRecord),
		orders:      make(map[int64]model.Order),
		items:       make(map[int64][]model.OrderItem),
		payments:    make(map[string]model.PaymentRecord),
		idem:        make(map[string]model.IdempotencyRecord),
		idemDeleted: make(map[string]bool),
	}
}

// ロックを持ったまま反映する（解放は release で）
func (s *Store) commit(t *tx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, rec := range t.inventory {
		s.committed.inventory[id] = rec
	}
	s.committed.adjustments = append(s.committed.adjustments, t.adjustments...)
	for id, o := range t.orders {
		s.committed.orders[id] = o
	}
	for orderID, items := range t.items {
		s.committed.items[orderID] = items
	}
	for key, p := range t.payments {
		s.committed.payments[key] = p
	}
	for key := range t.idemDeleted {
		delete(s.committed.idem, key)
	}
	for key, rec := range t.idem {
		s.committed.idem[key] = rec
	}
	s.committed.audit = append(s.committed.audit, t.audit...)
}

// tx は1トランザクション分の状態。TxRepos も兼ねる。
type tx struct {
	s    *Store
	held map[string]chan struct{}

	inventory   map[int64]model.InventoryRecord
	adjustments []model.InventoryAdjustment
	orders      map[int64]model.Order
	items       map[int64][]model.OrderItem
	payments    map[string]model.PaymentRecord
	idem        map[string]model.IdempotencyRecord
	idemDeleted map[string]bool
	audit       []model.AuditLog
}

func (t *tx) Inventory() repo.InventoryRepository     { return &inventoryRepo{t: t} }
func (t *tx) Orders() repo.OrderRepository            { return &orderRepo{t: t} }
func (t *tx) OrderItems() repo.OrderItemRepository    { return &orderItemRepo{t: t} }
func (t *tx) Payments() repo.PaymentRepository        { return &paymentRepo{t: t} }
func (t *tx) Idempotency() repo.IdempotencyRepository { return &idempotencyRepo{t: t} }
func (t *tx) AuditLogs() repo.AuditLogRepository      { return &auditLogRepo{t: t} }

// 行ロック。同じTxなら再入可。
func (t *tx) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	ch := t.s.lockChan(key)
	select {
	case ch <- struct{}{}:
		t.held[key] = ch
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SKIP LOCKED 相当
func (t *tx) tryLock(key string) bool {
	if _, ok := t.held[key]; ok {
		return true
	}
	ch := t.s.lockChan(key)
	select {
	case ch <- struct{}{}:
		t.held[key] = ch
		return true
	default:
		return false
	}
}

func (t *tx) release() {
	for key, ch := range t.held {
		<-ch
		delete(t.held, key)
	}
}

func (t *tx) getInventory(id int64) (model.InventoryRecord, bool) {
	if rec, ok := t.inventory[id]; ok {
		return rec, true
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	rec, ok := t.s.committed.inventory[id]
	return rec, ok
}

func (t *tx) inventoryRows() []model.InventoryRecord {
	t.s.mu.Lock()
	merged := make(map[int64]model.InventoryRecord, len(t.s.committed.inventory))
	for id, rec := range t.s.committed.inventory {
		merged[id] = rec
	}
	t.s.mu.Unlock()

	for id, rec := range t.inventory {
		merged[id] = rec
	}
	out := make([]model.InventoryRecord, 0, len(merged))
	for _, rec := range merged {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *tx) getOrder(id int64) (model.Order, bool) {
	if o, ok := t.orders[id]; ok {
		return o, true
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	o, ok := t.s.committed.orders[id]
	return o, ok
}

func (t *tx) orderRows() []model.Order {
	t.s.mu.Lock()
	merged := make(map[int64]model.Order, len(t.s.committed.orders))
	for id, o := range t.s.committed.orders {
		merged[id] = o
	}
	t.s.mu.Unlock()

	for id, o := range t.orders {
		merged[id] = o
	}
	out := make([]model.Order, 0, len(merged))
	for _, o := range merged {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *tx) getItems(orderID int64) []model.OrderItem {
	if items, ok := t.items[orderID]; ok {
		return items
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.committed.items[orderID]
}

func (t *tx) getPayment(eventID string) (model.PaymentRecord, bool) {
	if p, ok := t.payments[eventID]; ok {
		return p, true
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.committed.payments[eventID]
	return p, ok
}

func (t *tx) paymentRows() []model.PaymentRecord {
	t.s.mu.Lock()
	merged := make(map[string]model.PaymentRecord, len(t.s.committed.payments))
	for k, p := range t.s.committed.payments {
		merged[k] = p
	}
	t.s.mu.Unlock()

	for k, p := range t.payments {
		merged[k] = p
	}
	out := make([]model.PaymentRecord, 0, len(merged))
	for _, p := range merged {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessedAt.Before(out[j].ProcessedAt) })
	return out
}

func (t *tx) getIdem(key string) (model.IdempotencyRecord, bool) {
	if t.idemDeleted[key] {
		return model.IdempotencyRecord{}, false
	}
	if rec, ok := t.idem[key]; ok {
		return rec, true
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	rec, ok := t.s.committed.idem[key]
	return rec, ok
}

func (t *tx) idemKeys() []string {
	t.s.mu.Lock()
	seen := make(map[string]bool, len(t.s.committed.idem))
	for k := range t.s.committed.idem {
		seen[k] = true
	}
	t.s.mu.Unlock()

	for k := range t.idem {
		seen[k] = true
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		if !t.idemDeleted[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (t *tx) auditRows() []model.AuditLog {
	t.s.mu.Lock()
	out := make([]model.AuditLog, 0, len(t.s.committed.audit)+len(t.audit))
	out = append(out, t.s.committed.audit...)
	t.s.mu.Unlock()
	return append(out, t.audit...)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
