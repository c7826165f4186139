package model

import "time"

type IdempotencyStatus string

const (
	IdempotencyStatusInProgress IdempotencyStatus = "IN_PROGRESS"
	IdempotencyStatusCompleted  IdempotencyStatus = "COMPLETED"
	IdempotencyStatusFailed     IdempotencyStatus = "FAILED"
)

// キーごとに1行（unique制約が排他制御そのもの）
type IdempotencyRecord struct {
	Key             string            `gorm:"column:idempotency_key;type:varchar(255);primaryKey" json:"key"`
	Status          IdempotencyStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	RequestHash     string            `gorm:"type:varchar(64)" json:"request_hash,omitempty"`
	ResponseBody    []byte            `gorm:"type:bytea" json:"-"`
	LastError       string            `gorm:"type:text" json:"last_error,omitempty"`
	AttemptCount    int               `gorm:"not null" json:"attempt_count"`
	LastProcessedAt time.Time         `gorm:"not null;index" json:"last_processed_at"`
	ExpiresAt       time.Time         `gorm:"not null;index" json:"expires_at"`
	CreatedAt       time.Time         `gorm:"not null;autoCreateTime" json:"created_at"`
}
