package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition_ExactLegalSet(t *testing.T) {
	legal := map[[2]OrderStatus]bool{
		{OrderStatusDraft, OrderStatusCancelled}:          true,
		{OrderStatusPendingPayment, OrderStatusPaid}:      true,
		{OrderStatusPendingPayment, OrderStatusCancelled}: true,
		{OrderStatusPendingPayment, OrderStatusExpired}:   true,
		{OrderStatusPaid, OrderStatusFulfilled}:           true,
		{OrderStatusPaid, OrderStatusPartiallyFulfilled}:  true,
		{OrderStatusPaid, OrderStatusRefunded}:            true,
	}

	for _, from := range AllOrderStatuses() {
		for _, to := range AllOrderStatuses() {
			got := CanTransition(from, to)
			assert.Equal(t, legal[[2]OrderStatus{from, to}], got, "%s -> %s", from, to)
		}
	}
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	for _, s := range AllOrderStatuses() {
		hasExit := false
		for _, to := range AllOrderStatuses() {
			if CanTransition(s, to) {
				hasExit = true
			}
		}
		if s.IsTerminal() {
			assert.False(t, hasExit, s)
		}
	}
	assert.True(t, OrderStatusExpired.IsTerminal())
	assert.False(t, OrderStatusPendingPayment.IsTerminal())
}

func TestOrderStatus_HoldsReservation(t *testing.T) {
	for _, s := range AllOrderStatuses() {
		assert.Equal(t, s == OrderStatusPendingPayment, s.HoldsReservation(), s)
	}
}
