package usecase

import (
	"context"
	"testing"

	"storefront/internal/domain/model"
	"storefront/internal/idempotency"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckout_SameKeyCreatesOneOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 1, nil, "A", 10, true)

	in := CreateOrderInput{Items: []PricedItem{{ProductID: 1, Quantity: 2, UnitPrice: 300}}}
	first, err := f.checkout.Checkout(ctx, 100, "chk_1", in)
	require.NoError(t, err)
	second, err := f.checkout.Checkout(ctx, 100, "chk_1", in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Total, second.Total)
	assert.Equal(t, int64(2), f.stock(t, 1, nil).Reserved)

	orders, total, err := f.orders.ListOrders(ctx, 100, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, orders, 1)
}

func TestCheckout_KeyReusedWithDifferentBody(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 1, nil, "A", 10, true)

	_, err := f.checkout.Checkout(ctx, 100, "chk_2", CreateOrderInput{Items: []PricedItem{{ProductID: 1, Quantity: 1, UnitPrice: 300}}})
	require.NoError(t, err)

	_, err = f.checkout.Checkout(ctx, 100, "chk_2", CreateOrderInput{Items: []PricedItem{{ProductID: 1, Quantity: 5, UnitPrice: 300}}})
	require.ErrorIs(t, err, idempotency.ErrRequestHashMismatch)
	assert.Equal(t, int64(1), f.stock(t, 1, nil).Reserved)
}

func TestCheckout_KeysAreScopedPerUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 1, nil, "A", 10, true)

	in := CreateOrderInput{Items: []PricedItem{{ProductID: 1, Quantity: 1, UnitPrice: 300}}}
	a, err := f.checkout.Checkout(ctx, 100, "cart-1", in)
	require.NoError(t, err)
	b, err := f.checkout.Checkout(ctx, 200, "cart-1", in)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, int64(2), f.stock(t, 1, nil).Reserved)
}

func TestCheckout_RequiresKey(t *testing.T) {
	f := newFixture(t)
	_, err := f.checkout.Checkout(context.Background(), 100, " ", CreateOrderInput{})
	he, ok := AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, 400, he.Status)
}

func TestCheckout_InsufficientStockIsRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 1, nil, "A", 1, true)

	in := CreateOrderInput{Items: []PricedItem{{ProductID: 1, Quantity: 2, UnitPrice: 300}}}
	_, err := f.checkout.Checkout(ctx, 100, "chk_3", in)
	require.ErrorIs(t, err, ErrInsufficientStock)

	//補充後は同じキーで通る
	_, err = NewInventoryUsecase(f.store, f.ledger, nil).Restock(ctx, 1, RestockInput{ProductID: 1, NewQuantity: 5})
	require.NoError(t, err)

	o, err := f.checkout.Checkout(ctx, 100, "chk_3", in)
	require.NoError(t, err)
	assert.NotZero(t, o.ID)
}

func TestCheckout_RepeatedRejectionsKeepReturningStockError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 1, nil, "A", 1, true)

	in := CreateOrderInput{Items: []PricedItem{{ProductID: 1, Quantity: 2, UnitPrice: 300}}}
	for i := 0; i < 6; i++ {
		_, err := f.checkout.Checkout(ctx, 100, "chk_busy", in)
		require.ErrorIs(t, err, ErrInsufficientStock, "attempt %d", i+1)
	}

	_, err := NewInventoryUsecase(f.store, f.ledger, nil).Restock(ctx, 1, RestockInput{ProductID: 1, NewQuantity: 5})
	require.NoError(t, err)
	o, err := f.checkout.Checkout(ctx, 100, "chk_busy", in)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.stock(t, 1, nil).Reserved)
	assert.Equal(t, model.OrderStatusPendingPayment, o.Status)
}
