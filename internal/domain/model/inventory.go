package model

import "time"

// SKUごとの在庫。reserved は支払い待ちで押さえている数。
type InventoryRecord struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID        int64     `gorm:"not null;index:idx_inventory_item" json:"product_id"`
	VariantID        *int64    `gorm:"index:idx_inventory_item" json:"variant_id,omitempty"`
	SKU              string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"sku"`
	Quantity         int64     `gorm:"not null;check:quantity >= 0" json:"quantity"`
	Reserved         int64     `gorm:"not null;default:0;check:reserved >= 0" json:"reserved"`
	IsTracked        bool      `gorm:"not null" json:"is_tracked"`
	ReorderThreshold int64     `gorm:"not null;default:0" json:"reorder_threshold"`
	CreatedAt        time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// quantity - reserved（0未満にはしない）
func (r InventoryRecord) Available() int64 {
	if r.Reserved >= r.Quantity {
		return 0
	}
	return r.Quantity - r.Reserved
}

// 同じ商品・バリエーションか
func (r InventoryRecord) Matches(productID int64, variantID *int64) bool {
	if r.ProductID != productID {
		return false
	}
	if r.VariantID == nil || variantID == nil {
		return r.VariantID == nil && variantID == nil
	}
	return *r.VariantID == *variantID
}

// 在庫操作の1行（カートのスナップショット）
type StockLine struct {
	ProductID int64  `json:"product_id"`
	VariantID *int64 `json:"variant_id,omitempty"`
	Quantity  int64  `json:"quantity"`
}
