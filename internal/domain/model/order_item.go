package model

import "time"

// 作成後は変更しない
type OrderItem struct {
	ID         int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID    int64  `gorm:"not null;index" json:"order_id"`
	ProductID  int64  `gorm:"not null;index" json:"product_id"`
	VariantID  *int64 `json:"variant_id,omitempty"`
	SKU        string `gorm:"type:varchar(64);not null" json:"sku"`
	Quantity   int64  `gorm:"not null" json:"quantity"`
	UnitPrice  int64  `gorm:"not null" json:"unit_price"`
	TotalPrice int64  `gorm:"not null" json:"total_price"`
	// 作成時に在庫を押さえたか。戻し・確定はこれが true の明細だけ
	StockReserved bool      `gorm:"not null;default:false" json:"stock_reserved"`
	CreatedAt     time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}
