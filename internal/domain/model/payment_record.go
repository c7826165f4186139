package model

import "time"

// provider_event_id ごとに1行。存在すればそのイベントは処理済み。
type PaymentRecord struct {
	ID              string        `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID         int64         `gorm:"not null;index" json:"order_id"`
	ProviderEventID string        `gorm:"type:varchar(255);not null;uniqueIndex" json:"provider_event_id"`
	EventType       string        `gorm:"type:varchar(100);not null" json:"event_type"`
	PaymentIntentID string        `gorm:"type:varchar(255)" json:"payment_intent_id,omitempty"`
	Amount          int64         `gorm:"not null" json:"amount"`
	Status          PaymentStatus `gorm:"type:varchar(20);not null" json:"status"`
	ProcessedAt     time.Time     `gorm:"not null" json:"processed_at"`
}
