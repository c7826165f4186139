package repository

import (
	"context"

	"storefront/internal/domain/model"
)

type InventoryRepository interface {
	// 商品（＋バリエーション）で1件取得
	FindByItem(ctx context.Context, productID int64, variantID *int64) (model.InventoryRecord, error)

	// 行ロック付きで取得（SELECT ... FOR UPDATE）
	FindByItemForUpdate(ctx context.Context, productID int64, variantID *int64) (model.InventoryRecord, error)

	// quantity - reserved >= qty のときだけ reserved を増やす
	ReserveIfAvailable(ctx context.Context, recordID int64, qty int64) (bool, error)

	// reserved >= qty のときだけ quantity と reserved を同じだけ減らす
	CommitReserved(ctx context.Context, recordID int64, qty int64) (bool, error)

	// reserved >= qty のときだけ reserved を減らす
	ReleaseReserved(ctx context.Context, recordID int64, qty int64) (bool, error)

	// 在庫の現在値を設定（reserved 未満は不可）
	SetQuantity(ctx context.Context, recordID int64, newQuantity int64) (bool, error)

	// カタログ投入。SKUが同じなら上書き。
	Upsert(ctx context.Context, rec model.InventoryRecord) (model.InventoryRecord, error)

	// 発注点以下の追跡対象在庫
	ListLowStock(ctx context.Context, limit int) ([]model.InventoryRecord, error)

	// 調整履歴作成
	CreateAdjustment(ctx context.Context, adjustment model.InventoryAdjustment) error
}
