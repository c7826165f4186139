package model

import "time"

// 在庫更新、注文ステータス遷移など。
type AuditAction string

const (
	//在庫を更新した操作。
	AuditActionUpdateStock AuditAction = "UPDATE_STOCK"
	//注文の作成（在庫の仮押さえ込み）。
	AuditActionOrderPlaced AuditAction = "ORDER_PLACED"
	//支払い確定。
	AuditActionOrderPaid      AuditAction = "ORDER_PAID"
	AuditActionOrderCancelled AuditAction = "ORDER_CANCELLED"
	AuditActionOrderExpired   AuditAction = "ORDER_EXPIRED"
)

// 何に対する操作か
type AuditResourceType string

const (
	AuditResourceInventory AuditResourceType = "inventory"
	AuditResourceOrder     AuditResourceType = "order"
)

// システム（スイープやWebhook）による操作
const SystemActorID int64 = 0

// 監査ログ。
// 「誰が」「何を」「どの対象に」「どう変えたか」を残す。
type AuditLog struct {
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	//操作したユーザーのID。システムなら0。
	ActorUserID int64 `gorm:"not null;index" json:"actor_user_id"`

	Action AuditAction `gorm:"type:varchar(50);not null;index" json:"action"`

	ResourceType AuditResourceType `gorm:"type:varchar(50);not null;index" json:"resource_type"`

	ResourceID int64 `gorm:"not null;index" json:"resource_id"`

	//JSON文字列で保存する。
	BeforeJSON string `gorm:"type:text" json:"before_json"`

	AfterJSON string `gorm:"type:text" json:"after_json"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}
