package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"storefront/internal/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePendingOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 1, nil, "TEE-M", 10, true)
	f.seed(t, 2, ptr(int64(7)), "MUG-RED", 5, true)

	o, err := f.orders.CreatePendingOrder(ctx, 100, CreateOrderInput{
		Items: []PricedItem{
			{ProductID: 1, Quantity: 2, UnitPrice: 1500},
			{ProductID: 2, VariantID: ptr(int64(7)), Quantity: 1, UnitPrice: 800, SKU: "MUG-RED"},
		},
		Pricing: Pricing{ShippingCost: 500, TaxAmount: 380, DiscountAmount: 300},
	})
	require.NoError(t, err)

	assert.NotZero(t, o.ID)
	assert.Equal(t, model.OrderStatusPendingPayment, o.Status)
	assert.Equal(t, model.PaymentStatusPending, o.PaymentStatus)
	assert.Equal(t, int64(3800), o.Subtotal)
	assert.Equal(t, int64(3800+500+380-300), o.Total)
	assert.Equal(t, "JPY", o.Currency)
	require.NotNil(t, o.ReservationExpiresAt)
	assert.Equal(t, f.clock.Now().Add(time.Hour), *o.ReservationExpiresAt)

	require.Len(t, o.Items, 2)
	assert.Equal(t, "TEE-M", o.Items[0].SKU)
	assert.Equal(t, int64(3000), o.Items[0].TotalPrice)

	assert.Equal(t, int64(2), f.stock(t, 1, nil).Reserved)
	assert.Equal(t, int64(1), f.stock(t, 2, ptr(int64(7))).Reserved)

	got, err := f.orders.GetOrder(ctx, 100, o.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 2)

	placed := f.auditLogs(t, model.AuditActionOrderPlaced)
	require.Len(t, placed, 1)
	assert.Equal(t, o.ID, placed[0].ResourceID)
	assert.Equal(t, int64(100), placed[0].ActorUserID)
}

func TestCreatePendingOrder_InsufficientStockCreatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 1, nil, "A", 10, true)
	f.seed(t, 2, nil, "B", 1, true)

	_, err := f.orders.CreatePendingOrder(ctx, 100, CreateOrderInput{
		Items: []PricedItem{
			{ProductID: 1, Quantity: 1, UnitPrice: 100},
			{ProductID: 2, Quantity: 2, UnitPrice: 100},
		},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	orders, total, err := f.orders.ListOrders(ctx, 100, 1, 20)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Zero(t, total)
	assert.Zero(t, f.stock(t, 1, nil).Reserved)
}

func TestCreatePendingOrder_Validation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, nil, "A", 10, true)

	tests := []struct {
		name   string
		userID int64
		in     CreateOrderInput
		status int
	}{
		{name: "no user", userID: 0, in: CreateOrderInput{Items: []PricedItem{{ProductID: 1, Quantity: 1}}}, status: 401},
		{name: "no items", userID: 1, in: CreateOrderInput{}, status: 400},
		{name: "negative price", userID: 1, in: CreateOrderInput{Items: []PricedItem{{ProductID: 1, Quantity: 1, UnitPrice: -1}}}, status: 400},
		{name: "discount too large", userID: 1, in: CreateOrderInput{
			Items:   []PricedItem{{ProductID: 1, Quantity: 1, UnitPrice: 100}},
			Pricing: Pricing{DiscountAmount: 101},
		}, status: 400},
		{name: "bad currency", userID: 1, in: CreateOrderInput{
			Items:   []PricedItem{{ProductID: 1, Quantity: 1, UnitPrice: 100}},
			Pricing: Pricing{Currency: "YEN!"},
		}, status: 400},
		{name: "zero quantity", userID: 1, in: CreateOrderInput{Items: []PricedItem{{ProductID: 1, Quantity: 0, UnitPrice: 100}}}, status: 400},
		{name: "quantity too large", userID: 1, in: CreateOrderInput{Items: []PricedItem{{ProductID: 1, Quantity: MaxLineQuantity + 1, UnitPrice: 1}}}, status: 400},
		{name: "line total overflow", userID: 1, in: CreateOrderInput{Items: []PricedItem{{ProductID: 1, Quantity: 4, UnitPrice: 1 << 62}}}, status: 400},
		{name: "subtotal overflow", userID: 1, in: CreateOrderInput{Items: []PricedItem{
			{ProductID: 1, Quantity: 1, UnitPrice: 1 << 62},
			{ProductID: 1, Quantity: 1, UnitPrice: 1 << 62},
		}}, status: 400},
		{name: "shipping overflow", userID: 1, in: CreateOrderInput{
			Items:   []PricedItem{{ProductID: 1, Quantity: 1, UnitPrice: 1 << 62}},
			Pricing: Pricing{ShippingCost: 1 << 62},
		}, status: 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orders.CreatePendingOrder(context.Background(), tt.userID, tt.in)
			he, ok := AsHTTPError(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, tt.status, he.Status)
		})
	}
	assert.Zero(t, f.stock(t, 1, nil).Reserved)
}

func TestCreatePendingOrder_UntrackedAmountOverflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 9, nil, "DIGITAL", 0, false)

	for _, it := range []PricedItem{
		{ProductID: 9, Quantity: 1 << 62, UnitPrice: 4},
		{ProductID: 9, Quantity: 1000, UnitPrice: 1 << 61},
	} {
		_, err := f.orders.CreatePendingOrder(ctx, 100, CreateOrderInput{Items: []PricedItem{it}})
		he, ok := AsHTTPError(err)
		require.True(t, ok, "got %v", err)
		assert.Equal(t, 400, he.Status)
	}

	orders, total, err := f.orders.ListOrders(ctx, 100, 1, 20)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Zero(t, total)
}

func TestCreatePendingOrder_MarksReservedItems(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, nil, "A", 10, true)
	f.seed(t, 9, nil, "DIGITAL", 0, false)

	o, err := f.orders.CreatePendingOrder(context.Background(), 100, CreateOrderInput{
		Items: []PricedItem{
			{ProductID: 1, Quantity: 2, UnitPrice: 100},
			{ProductID: 9, Quantity: 1, UnitPrice: 500},
		},
	})
	require.NoError(t, err)
	require.Len(t, o.Items, 2)
	assert.True(t, o.Items[0].StockReserved)
	assert.False(t, o.Items[1].StockReserved)
	assert.Equal(t, []model.StockLine{{ProductID: 1, Quantity: 2}}, o.StockLines())

	got, err := f.orders.FindOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.StockLines(), got.StockLines())
}

// 注文後に is_tracked が変わっても、押さえた分だけを戻す・確定する
func TestOrder_TrackingChangeAfterPlacement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 1, nil, "A", 10, false)

	toExpire := f.placeOrder(t, 100, 1, 3, 500)
	toCancel := f.placeOrder(t, 100, 1, 3, 500)
	toPay := f.placeOrder(t, 100, 1, 3, 500)
	assert.Empty(t, toExpire.StockLines())

	f.seed(t, 1, nil, "A", 10, true)
	assert.Zero(t, f.stock(t, 1, nil).Reserved)

	_, err := f.webhooks.ProcessSuccess(ctx, successEvent("evt_flip", toPay))
	require.NoError(t, err)
	_, err = f.orders.CancelOrder(ctx, Actor{UserID: 100}, toCancel.ID, model.CancelReason{Code: model.CancelReasonUserRequested})
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	expired, err := f.orders.ExpireOrder(ctx, toExpire.ID)
	require.NoError(t, err)
	assert.True(t, expired)

	rec := f.stock(t, 1, nil)
	assert.Equal(t, int64(10), rec.Quantity)
	assert.Zero(t, rec.Reserved)

	//逆向き: 押さえた後に追跡をやめても戻せる
	f.seed(t, 2, nil, "B", 5, true)
	held := f.placeOrder(t, 100, 2, 2, 500)
	f.seed(t, 2, nil, "B", 5, false)
	_, err = f.orders.CancelOrder(ctx, Actor{UserID: 100}, held.ID, model.CancelReason{Code: model.CancelReasonUserRequested})
	require.NoError(t, err)
	assert.Zero(t, f.stock(t, 2, nil).Reserved)
}

func TestCancelOrder_ReleasesReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 1, nil, "A", 10, true)
	o := f.placeOrder(t, 100, 1, 4, 500)

	reason, err := model.NewCancelReason("", "")
	require.NoError(t, err)
	got, err := f.orders.CancelOrder(ctx, Actor{UserID: 100}, o.ID, reason)
	require.NoError(t, err)

	assert.Equal(t, model.OrderStatusCancelled, got.Status)
	assert.Nil(t, got.ReservationExpiresAt)
	require.NotNil(t, got.CancelledAt)
	assert.Equal(t, model.CancelReasonUserRequested, got.CancelReason)
	assert.Zero(t, f.stock(t, 1, nil).Reserved)
	assert.Equal(t, int64(10), f.stock(t, 1, nil).Quantity)
	assert.Len(t, f.auditLogs(t, model.AuditActionOrderCancelled), 1)

	//2回目ははっきり失敗させる
	_, err = f.orders.CancelOrder(ctx, Actor{UserID: 100}, o.ID, reason)
	var ite *InvalidTransitionError
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, model.OrderStatusCancelled, ite.From)
	assert.Equal(t, model.OrderStatusCancelled, ite.To)
	assert.Zero(t, f.stock(t, 1, nil).Reserved)
}

func TestCancelOrder_OtherUsersOrderIsNotFound(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, nil, "A", 10, true)
	o := f.placeOrder(t, 100, 1, 1, 500)

	_, err := f.orders.CancelOrder(context.Background(), Actor{UserID: 200}, o.ID, model.CancelReason{Code: model.CancelReasonUserRequested})
	require.ErrorIs(t, err, ErrOrderNotFound)

	//管理者なら取り消せる
	got, err := f.orders.CancelOrder(context.Background(), Actor{UserID: 1, IsAdmin: true}, o.ID, model.CancelReason{Code: model.CancelReasonAdminCancelled})
	require.NoError(t, err)
	assert.Equal(t, model.CancelReasonAdminCancelled, got.CancelReason)
}

func TestCancelOrder_PaidOrderFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 1, nil, "A", 10, true)
	o := f.placeOrder(t, 100, 1, 3, 500)

	_, err := f.webhooks.ProcessSuccess(ctx, WebhookEvent{ID: "evt_paid", Type: EventCheckoutCompleted, OrderID: o.ID, Amount: o.Total})
	require.NoError(t, err)

	_, err = f.orders.CancelOrder(ctx, Actor{UserID: 100}, o.ID, model.CancelReason{Code: model.CancelReasonUserRequested})
	require.ErrorIs(t, err, ErrInvalidStateTransition)

	//確定済みの在庫は戻らない
	rec := f.stock(t, 1, nil)
	assert.Equal(t, int64(7), rec.Quantity)
	assert.Zero(t, rec.Reserved)
}

func TestCancelOrder_OtherReasonNeedsDetail(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, nil, "A", 10, true)
	o := f.placeOrder(t, 100, 1, 1, 500)

	_, err := f.orders.CancelOrder(context.Background(), Actor{UserID: 100}, o.ID, model.CancelReason{Code: model.CancelReasonOther})
	he, ok := AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, 400, he.Status)

	got, err := f.orders.CancelOrder(context.Background(), Actor{UserID: 100}, o.ID, model.CancelReason{Code: model.CancelReasonOther, Detail: "ordered twice"})
	require.NoError(t, err)
	assert.Equal(t, "ordered twice", got.CancelDetail)
}

func TestExpireOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 1, nil, "A", 10, true)
	o := f.placeOrder(t, 100, 1, 4, 500)

	//期限前は何もしない
	f.clock.Advance(30 * time.Minute)
	expired, err := f.orders.ExpireOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, expired)
	assert.Equal(t, int64(4), f.stock(t, 1, nil).Reserved)

	ids, err := f.orders.FindExpiredOrders(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	f.clock.Advance(30*time.Minute + time.Second)
	ids, err = f.orders.FindExpiredOrders(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{o.ID}, ids)

	expired, err = f.orders.ExpireOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, expired)

	got, err := f.orders.FindOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusExpired, got.Status)
	assert.Nil(t, got.ReservationExpiresAt)
	assert.Zero(t, f.stock(t, 1, nil).Reserved)

	//2回目は no-op
	expired, err = f.orders.ExpireOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, expired)
	assert.Len(t, f.auditLogs(t, model.AuditActionOrderExpired), 1)
}

func TestFindExpiredOrders_PagesByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 1, nil, "A", 10, true)
	o1 := f.placeOrder(t, 100, 1, 1, 100)
	o2 := f.placeOrder(t, 100, 1, 1, 100)
	o3 := f.placeOrder(t, 100, 1, 1, 100)
	f.clock.Advance(2 * time.Hour)

	ids, err := f.orders.FindExpiredOrders(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{o1.ID, o2.ID}, ids)

	ids, err = f.orders.FindExpiredOrders(ctx, o2.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{o3.ID}, ids)
}

func TestExpireOrder_Unknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.orders.ExpireOrder(context.Background(), 999)
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestListOrders_OnlyOwn(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, nil, "A", 10, true)
	f.placeOrder(t, 100, 1, 1, 500)
	f.placeOrder(t, 100, 1, 1, 500)
	other := f.placeOrder(t, 200, 1, 1, 500)

	orders, total, err := f.orders.ListOrders(context.Background(), 100, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, orders, 2)
	for _, o := range orders {
		assert.Equal(t, int64(100), o.UserID)
		assert.Len(t, o.Items, 1)
	}

	_, err = f.orders.GetOrder(context.Background(), 100, other.ID)
	require.ErrorIs(t, err, ErrOrderNotFound)
}
