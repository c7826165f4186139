package model

// 許可される遷移。ここにないものは全部 InvalidStateTransition。
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusDraft:          {OrderStatusCancelled},
	OrderStatusPendingPayment: {OrderStatusPaid, OrderStatusCancelled, OrderStatusExpired},
	OrderStatusPaid:           {OrderStatusFulfilled, OrderStatusPartiallyFulfilled, OrderStatusRefunded},
}

func CanTransition(from, to OrderStatus) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// 終端
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCancelled, OrderStatusExpired, OrderStatusFulfilled, OrderStatusRefunded:
		return true
	}
	return false
}

// 在庫を押さえているステータスか（キャンセル時に戻す対象）
func (s OrderStatus) HoldsReservation() bool {
	return s == OrderStatusPendingPayment
}

func AllOrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusDraft,
		OrderStatusPendingPayment,
		OrderStatusPaid,
		OrderStatusCancelled,
		OrderStatusExpired,
		OrderStatusFulfilled,
		OrderStatusPartiallyFulfilled,
		OrderStatusRefunded,
	}
}
