package model

import "time"

type OrderStatus string

const (
	OrderStatusDraft              OrderStatus = "DRAFT"
	OrderStatusPendingPayment     OrderStatus = "PENDING_PAYMENT"
	OrderStatusPaid               OrderStatus = "PAID"
	OrderStatusCancelled          OrderStatus = "CANCELLED"
	OrderStatusExpired            OrderStatus = "EXPIRED"
	OrderStatusFulfilled          OrderStatus = "FULFILLED"
	OrderStatusPartiallyFulfilled OrderStatus = "PARTIALLY_FULFILLED"
	OrderStatusRefunded           OrderStatus = "REFUNDED"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusSucceeded PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// 金額はすべて最小通貨単位（円・セント）
type Order struct {
	ID             int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         int64         `gorm:"not null;index" json:"user_id"`
	Status         OrderStatus   `gorm:"type:varchar(32);not null;index" json:"status"`
	PaymentStatus  PaymentStatus `gorm:"type:varchar(20);not null" json:"payment_status"`
	Subtotal       int64         `gorm:"not null" json:"subtotal"`
	ShippingCost   int64         `gorm:"not null" json:"shipping_cost"`
	TaxAmount      int64         `gorm:"not null" json:"tax_amount"`
	DiscountAmount int64         `gorm:"not null" json:"discount_amount"`
	Total          int64         `gorm:"not null" json:"total"`
	Currency       string        `gorm:"type:varchar(3);not null" json:"currency"`

	//PENDING_PAYMENTの間だけ入る
	ReservationExpiresAt *time.Time `gorm:"index" json:"reservation_expires_at"`

	PlacedAt    time.Time  `gorm:"not null" json:"placed_at"`
	PaidAt      *time.Time `json:"paid_at"`
	CancelledAt *time.Time `json:"cancelled_at"`

	CancelReason CancelReasonCode `gorm:"type:varchar(32)" json:"cancel_reason,omitempty"`
	CancelDetail string           `gorm:"type:text" json:"cancel_detail,omitempty"`

	Items []OrderItem `gorm:"-" json:"items"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// 在庫を押さえた明細から在庫操作の行を作る
func (o Order) StockLines() []StockLine {
	lines := make([]StockLine, 0, len(o.Items))
	for _, it := range o.Items {
		if !it.StockReserved {
			continue
		}
		lines = append(lines, StockLine{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
		})
	}
	return lines
}
