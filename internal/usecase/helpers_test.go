package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/idempotency"
	"storefront/internal/infra/memory"
	repo "storefront/internal/repository"

	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	orders []model.Order
	err    error
}

func (n *recordingNotifier) OrderConfirmed(ctx context.Context, o model.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, o)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.orders)
}

type fixture struct {
	store    *memory.Store
	clock    *testClock
	ledger   *InventoryLedger
	orders   *OrderUsecase
	exec     *idempotency.Executor
	webhooks *PaymentWebhookUsecase
	checkout *CheckoutUsecase
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ledger := NewInventoryLedger(nil, nil)
	orders := NewOrderUsecase(store, ledger, time.Hour, nil, nil, WithOrderClock(clock.Now))
	exec := idempotency.NewExecutor(store, idempotency.Config{Secret: []byte("s3cret")}, nil, nil, idempotency.WithClock(clock.Now))
	notifier := &recordingNotifier{}
	return &fixture{
		store:    store,
		clock:    clock,
		ledger:   ledger,
		orders:   orders,
		exec:     exec,
		webhooks: NewPaymentWebhookUsecase(exec, orders, notifier, nil, nil),
		checkout: NewCheckoutUsecase(exec, orders),
		notifier: notifier,
	}
}

func (f *fixture) seed(t *testing.T, productID int64, variantID *int64, sku string, qty int64, tracked bool) model.InventoryRecord {
	t.Helper()
	var out model.InventoryRecord
	err := f.store.WithinTx(context.Background(), func(r repo.TxRepos) error {
		var err error
		out, err = r.Inventory().Upsert(context.Background(), model.InventoryRecord{
			ProductID: productID,
			VariantID: variantID,
			SKU:       sku,
			Quantity:  qty,
			IsTracked: tracked,
		})
		return err
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) stock(t *testing.T, productID int64, variantID *int64) model.InventoryRecord {
	t.Helper()
	var out model.InventoryRecord
	err := f.store.WithinTx(context.Background(), func(r repo.TxRepos) error {
		var err error
		out, err = r.Inventory().FindByItem(context.Background(), productID, variantID)
		return err
	})
	require.NoError(t, err)
	return out
}

// 1行の注文を作る
func (f *fixture) placeOrder(t *testing.T, userID, productID int64, qty, unitPrice int64) model.Order {
	t.Helper()
	o, err := f.orders.CreatePendingOrder(context.Background(), userID, CreateOrderInput{
		Items: []PricedItem{{ProductID: productID, Quantity: qty, UnitPrice: unitPrice}},
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) payments(t *testing.T, orderID int64) []model.PaymentRecord {
	t.Helper()
	var out []model.PaymentRecord
	err := f.store.WithinTx(context.Background(), func(r repo.TxRepos) error {
		var err error
		out, err = r.Payments().ListByOrderID(context.Background(), orderID)
		return err
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) auditLogs(t *testing.T, action model.AuditAction) []model.AuditLog {
	t.Helper()
	var out []model.AuditLog
	err := f.store.WithinTx(context.Background(), func(r repo.TxRepos) error {
		var err error
		out, err = r.AuditLogs().List(context.Background(), repo.AuditLogFilter{Action: &action, Limit: 200})
		return err
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) inTx(t *testing.T, fn func(r repo.TxRepos) error) error {
	t.Helper()
	return f.store.WithinTx(context.Background(), fn)
}

func ptr[T any](v T) *T { return &v }
