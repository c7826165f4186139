package usecase

import (
	"context"
	"testing"

	"storefront/internal/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditUsecase_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 1, nil, "A", 10, true)
	o1 := f.placeOrder(t, 100, 1, 1, 100)
	o2 := f.placeOrder(t, 100, 1, 1, 100)
	_, err := f.orders.CancelOrder(ctx, Actor{UserID: 100}, o1.ID, model.CancelReason{Code: model.CancelReasonUserRequested})
	require.NoError(t, err)

	u := NewAuditUsecase(f.store)

	logs, err := u.List(ctx, AuditQuery{ResourceType: "order", ResourceID: o1.ID})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	//新しい順
	assert.Equal(t, model.AuditActionOrderCancelled, logs[0].Action)
	assert.Equal(t, model.AuditActionOrderPlaced, logs[1].Action)

	logs, err = u.List(ctx, AuditQuery{Action: "order_placed"})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, o2.ID, logs[0].ResourceID)

	logs, err = u.List(ctx, AuditQuery{Action: "ORDER_PLACED", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, o1.ID, logs[0].ResourceID)
}

func TestAuditUsecase_ListValidation(t *testing.T) {
	u := NewAuditUsecase(newFixture(t).store)

	for name, q := range map[string]AuditQuery{
		"unknown action":   {Action: "DROP_TABLE"},
		"unknown resource": {ResourceType: "user"},
		"negative id":      {ResourceID: -1},
		"negative offset":  {Offset: -1},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := u.List(context.Background(), q)
			he, ok := AsHTTPError(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, 400, he.Status)
		})
	}
}
