package repository

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"storefront/internal/config"
	"storefront/internal/domain/model"
	"storefront/internal/infra/db"
	repo "storefront/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// DATABASE_URL が無ければスキップ（CI では Postgres を立てて流す）
func openTestDB(t *testing.T) (*gorm.DB, *TxManagerGorm) {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is not set")
	}

	gdb, err := db.Connect(config.Config{DatabaseURL: dsn, DBMaxOpenConns: 10})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	truncate := func() {
		require.NoError(t, gdb.Exec(`TRUNCATE inventory_records, inventory_adjustments, orders, order_items,
			payment_records, idempotency_records, audit_logs RESTART IDENTITY`).Error)
	}
	truncate()
	t.Cleanup(func() {
		truncate()
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb, NewTxManagerGorm(gdb)
}

func seedInventory(t *testing.T, tm *TxManagerGorm, rec model.InventoryRecord) model.InventoryRecord {
	t.Helper()
	var out model.InventoryRecord
	require.NoError(t, tm.WithinTx(context.Background(), func(r repo.TxRepos) error {
		var err error
		out, err = r.Inventory().Upsert(context.Background(), rec)
		return err
	}))
	return out
}

func TestInventory_ConcurrentReservesNeverOversell(t *testing.T) {
	_, tm := openTestDB(t)
	ctx := context.Background()
	seedInventory(t, tm, model.InventoryRecord{ProductID: 1, SKU: "HOT", Quantity: 10, IsTracked: true})

	const workers = 20
	var reserved, rejected int32
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return tm.WithinTx(ctx, func(r repo.TxRepos) error {
				rec, err := r.Inventory().FindByItemForUpdate(ctx, 1, nil)
				if err != nil {
					return err
				}
				ok, err := r.Inventory().ReserveIfAvailable(ctx, rec.ID, 3)
				if err != nil {
					return err
				}
				if ok {
					atomic.AddInt32(&reserved, 1)
				} else {
					atomic.AddInt32(&rejected, 1)
				}
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(3), reserved)
	assert.Equal(t, int32(workers-3), rejected)

	var rec model.InventoryRecord
	require.NoError(t, tm.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		rec, err = r.Inventory().FindByItem(ctx, 1, nil)
		return err
	}))
	assert.Equal(t, int64(9), rec.Reserved)
	assert.Equal(t, int64(10), rec.Quantity)
}

func TestInventory_ConditionalUpdatesAndVariants(t *testing.T) {
	_, tm := openTestDB(t)
	ctx := context.Background()
	variant := int64(7)
	base := seedInventory(t, tm, model.InventoryRecord{ProductID: 1, SKU: "MUG", Quantity: 5, IsTracked: true})
	red := seedInventory(t, tm, model.InventoryRecord{ProductID: 1, VariantID: &variant, SKU: "MUG-RED", Quantity: 2, IsTracked: true})

	require.NoError(t, tm.WithinTx(ctx, func(r repo.TxRepos) error {
		got, err := r.Inventory().FindByItem(ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, base.ID, got.ID)
		got, err = r.Inventory().FindByItem(ctx, 1, &variant)
		require.NoError(t, err)
		assert.Equal(t, red.ID, got.ID)

		ok, err := r.Inventory().ReserveIfAvailable(ctx, red.ID, 3)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = r.Inventory().ReserveIfAvailable(ctx, red.ID, 2)
		require.NoError(t, err)
		assert.True(t, ok)

		//押さえた数より多くは確定も戻しもできない
		ok, err = r.Inventory().CommitReserved(ctx, red.ID, 3)
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = r.Inventory().ReleaseReserved(ctx, red.ID, 3)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = r.Inventory().SetQuantity(ctx, red.ID, 1)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = r.Inventory().CommitReserved(ctx, red.ID, 2)
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	}))

	//Upsert は数量を上書きしない
	again := seedInventory(t, tm, model.InventoryRecord{ProductID: 1, VariantID: &variant, SKU: "MUG-RED", Quantity: 50, IsTracked: false})
	assert.Equal(t, red.ID, again.ID)
	assert.Zero(t, again.Quantity)
	assert.Zero(t, again.Reserved)
	assert.False(t, again.IsTracked)
}

func TestPayment_DuplicateProviderEventID(t *testing.T) {
	_, tm := openTestDB(t)
	ctx := context.Background()

	p := model.PaymentRecord{
		ID:              uuid.NewString(),
		OrderID:         1,
		ProviderEventID: "evt_dup",
		EventType:       "checkout.session.completed",
		Amount:          1000,
		Status:          model.PaymentStatusSucceeded,
		ProcessedAt:     time.Now().UTC(),
	}
	require.NoError(t, tm.WithinTx(ctx, func(r repo.TxRepos) error {
		return r.Payments().Create(ctx, p)
	}))

	p.ID = uuid.NewString()
	err := tm.WithinTx(ctx, func(r repo.TxRepos) error {
		return r.Payments().Create(ctx, p)
	})
	require.ErrorIs(t, err, repo.ErrDuplicate)

	require.NoError(t, tm.WithinTx(ctx, func(r repo.TxRepos) error {
		got, err := r.Payments().FindByProviderEventID(ctx, "evt_dup")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), got.Amount)

		_, err = r.Payments().FindByProviderEventID(ctx, "evt_missing")
		assert.ErrorIs(t, err, repo.ErrNotFound)
		return nil
	}))
}

func idemRecord(key string, now time.Time) model.IdempotencyRecord {
	return model.IdempotencyRecord{
		Key:             key,
		Status:          model.IdempotencyStatusInProgress,
		AttemptCount:    1,
		LastProcessedAt: now,
		ExpiresAt:       now.Add(time.Hour),
	}
}

func TestIdempotency_CreateIfAbsentRace(t *testing.T) {
	_, tm := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	const workers = 10
	var winners int32
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return tm.WithinTx(ctx, func(r repo.TxRepos) error {
				created, err := r.Idempotency().CreateIfAbsent(ctx, idemRecord("race", now))
				if err != nil {
					return err
				}
				if created {
					atomic.AddInt32(&winners, 1)
				}
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), winners)
}

func TestIdempotency_FencedUpdates(t *testing.T) {
	_, tm := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, tm.WithinTx(ctx, func(r repo.TxRepos) error {
		created, err := r.Idempotency().CreateIfAbsent(ctx, idemRecord("fenced", now))
		require.NoError(t, err)
		require.True(t, created)

		//別の試行番号では書けない
		ok, err := r.Idempotency().Complete(ctx, "fenced", 2, []byte(`{}`), now)
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = r.Idempotency().MarkFailed(ctx, "fenced", 2, "boom", now)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = r.Idempotency().Complete(ctx, "fenced", 1, []byte(`{"id":1}`), now)
		require.NoError(t, err)
		assert.True(t, ok)

		//COMPLETED の後はもう失敗にできない
		ok, err = r.Idempotency().MarkFailed(ctx, "fenced", 1, "late", now)
		require.NoError(t, err)
		assert.False(t, ok)

		rec, err := r.Idempotency().FindByKeyForUpdate(ctx, "fenced")
		require.NoError(t, err)
		assert.Equal(t, model.IdempotencyStatusCompleted, rec.Status)
		assert.JSONEq(t, `{"id":1}`, string(rec.ResponseBody))
		return nil
	}))
}

func TestIdempotency_ReclaimAndDelete(t *testing.T) {
	_, tm := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, tm.WithinTx(ctx, func(r repo.TxRepos) error {
		stale := idemRecord("stale", now.Add(-time.Hour))
		_, err := r.Idempotency().CreateIfAbsent(ctx, stale)
		require.NoError(t, err)
		fresh := idemRecord("fresh", now)
		_, err = r.Idempotency().CreateIfAbsent(ctx, fresh)
		require.NoError(t, err)

		n, err := r.Idempotency().ReclaimStale(ctx, now.Add(-time.Minute), "reclaimed", now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		//IN_PROGRESS は期限切れでも消さない
		n, err = r.Idempotency().DeleteExpired(ctx, now.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = r.Idempotency().FindByKeyForUpdate(ctx, "stale")
		assert.ErrorIs(t, err, repo.ErrNotFound)
		return nil
	}))
}

func createPendingOrder(t *testing.T, tm *TxManagerGorm, expiresAt time.Time) model.Order {
	t.Helper()
	now := time.Now().UTC()
	o := model.Order{
		UserID:               100,
		Status:               model.OrderStatusPendingPayment,
		PaymentStatus:        model.PaymentStatusPending,
		Subtotal:             1000,
		Total:                1000,
		Currency:             "JPY",
		ReservationExpiresAt: &expiresAt,
		PlacedAt:             now,
	}
	require.NoError(t, tm.WithinTx(context.Background(), func(r repo.TxRepos) error {
		id, err := r.Orders().Create(context.Background(), o)
		o.ID = id
		return err
	}))
	return o
}

func TestOrder_TransitionClearsNullableColumns(t *testing.T) {
	_, tm := openTestDB(t)
	ctx := context.Background()
	o := createPendingOrder(t, tm, time.Now().UTC().Add(time.Hour))

	paidAt := time.Now().UTC()
	paid := o
	paid.Status = model.OrderStatusPaid
	paid.PaymentStatus = model.PaymentStatusSucceeded
	paid.ReservationExpiresAt = nil
	paid.PaidAt = &paidAt
	paid.UpdatedAt = paidAt

	require.NoError(t, tm.WithinTx(ctx, func(r repo.TxRepos) error {
		return r.Orders().Transition(ctx, paid, model.OrderStatusPendingPayment)
	}))

	//遷移元が合わなければ ErrConflict
	err := tm.WithinTx(ctx, func(r repo.TxRepos) error {
		cancelled := o
		cancelled.Status = model.OrderStatusCancelled
		return r.Orders().Transition(ctx, cancelled, model.OrderStatusPendingPayment)
	})
	require.True(t, errors.Is(err, repo.ErrConflict), "got %v", err)

	require.NoError(t, tm.WithinTx(ctx, func(r repo.TxRepos) error {
		got, err := r.Orders().FindByID(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusPaid, got.Status)
		assert.Nil(t, got.ReservationExpiresAt)
		require.NotNil(t, got.PaidAt)
		assert.Nil(t, got.CancelledAt)
		return nil
	}))
}

func TestOrder_ListExpiredPendingPagesByID(t *testing.T) {
	_, tm := openTestDB(t)
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Minute)
	o1 := createPendingOrder(t, tm, past)
	createPendingOrder(t, tm, time.Now().UTC().Add(time.Hour))
	o3 := createPendingOrder(t, tm, past.Add(-time.Hour))

	require.NoError(t, tm.WithinTx(ctx, func(r repo.TxRepos) error {
		ids, err := r.Orders().ListExpiredPending(ctx, time.Now().UTC(), 0, 1)
		require.NoError(t, err)
		assert.Equal(t, []int64{o1.ID}, ids)

		ids, err = r.Orders().ListExpiredPending(ctx, time.Now().UTC(), o1.ID, 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{o3.ID}, ids)
		return nil
	}))
}

func TestOrderItems_StockReservedRoundTrip(t *testing.T) {
	_, tm := openTestDB(t)
	ctx := context.Background()
	o := createPendingOrder(t, tm, time.Now().UTC().Add(time.Hour))

	require.NoError(t, tm.WithinTx(ctx, func(r repo.TxRepos) error {
		require.NoError(t, r.OrderItems().CreateBulk(ctx, o.ID, []model.OrderItem{
			{ProductID: 1, SKU: "A", Quantity: 2, UnitPrice: 100, TotalPrice: 200, StockReserved: true},
			{ProductID: 9, SKU: "DIGITAL", Quantity: 1, UnitPrice: 500, TotalPrice: 500},
		}))
		items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.True(t, items[0].StockReserved)
		assert.False(t, items[1].StockReserved)
		return nil
	}))
}

func TestAuditLog_ListFilters(t *testing.T) {
	_, tm := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, tm.WithinTx(ctx, func(r repo.TxRepos) error {
		for _, l := range []model.AuditLog{
			{Action: model.AuditActionOrderPlaced, ResourceType: model.AuditResourceOrder, ResourceID: 1, CreatedAt: time.Now().UTC()},
			{Action: model.AuditActionOrderPlaced, ResourceType: model.AuditResourceOrder, ResourceID: 2, CreatedAt: time.Now().UTC()},
			{Action: model.AuditActionOrderCancelled, ResourceType: model.AuditResourceOrder, ResourceID: 1, CreatedAt: time.Now().UTC()},
		} {
			if err := r.AuditLogs().Create(ctx, l); err != nil {
				return err
			}
		}

		id := int64(1)
		logs, err := r.AuditLogs().List(ctx, repo.AuditLogFilter{ResourceID: &id})
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, model.AuditActionOrderCancelled, logs[0].Action)

		action := model.AuditActionOrderPlaced
		logs, err = r.AuditLogs().List(ctx, repo.AuditLogFilter{Action: &action, Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, int64(1), logs[0].ResourceID)
		return nil
	}))
}
