package repository

import (
	"context"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InventoryGormRepository struct {
	db *gorm.DB
}

func NewInventoryGormRepository(db *gorm.DB) *InventoryGormRepository {
	return &InventoryGormRepository{db: db}
}

// variant_id は NULL を含むので = では比較できない
func byItem(productID int64, variantID *int64) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where("product_id = ?", productID)
		if variantID == nil {
			return db.Where("variant_id IS NULL")
		}
		return db.Where("variant_id = ?", *variantID)
	}
}

func (r *InventoryGormRepository) FindByItem(ctx context.Context, productID int64, variantID *int64) (model.InventoryRecord, error) {
	var rec model.InventoryRecord
	err := r.db.WithContext(ctx).Scopes(byItem(productID, variantID)).First(&rec).Error
	if isNotFound(err) {
		return model.InventoryRecord{}, repo.ErrNotFound
	}
	if err != nil {
		return model.InventoryRecord{}, err
	}
	return rec, nil
}

func (r *InventoryGormRepository) FindByItemForUpdate(ctx context.Context, productID int64, variantID *int64) (model.InventoryRecord, error) {
	var rec model.InventoryRecord
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Scopes(byItem(productID, variantID)).
		First(&rec).Error
	if isNotFound(err) {
		return model.InventoryRecord{}, repo.ErrNotFound
	}
	if err != nil {
		return model.InventoryRecord{}, err
	}
	return rec, nil
}

// 在庫が足りるときだけ仮押さえ
func (r *InventoryGormRepository) ReserveIfAvailable(ctx context.Context, recordID int64, qty int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.InventoryRecord{}).
		Where("id = ? AND quantity - reserved >= ?", recordID, qty).
		Update("reserved", gorm.Expr("reserved + ?", qty))

	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *InventoryGormRepository) CommitReserved(ctx context.Context, recordID int64, qty int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.InventoryRecord{}).
		Where("id = ? AND reserved >= ? AND quantity >= ?", recordID, qty, qty).
		Updates(map[string]any{
			"quantity": gorm.Expr("quantity - ?", qty),
			"reserved": gorm.Expr("reserved - ?", qty),
		})

	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *InventoryGormRepository) ReleaseReserved(ctx context.Context, recordID int64, qty int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.InventoryRecord{}).
		Where("id = ? AND reserved >= ?", recordID, qty).
		Update("reserved", gorm.Expr("reserved - ?", qty))

	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *InventoryGormRepository) SetQuantity(ctx context.Context, recordID int64, newQuantity int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.InventoryRecord{}).
		Where("id = ? AND reserved <= ?", recordID, newQuantity).
		Update("quantity", newQuantity)

	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// quantity / reserved は上書きしない（SetQuantity 経由のみ）
func (r *InventoryGormRepository) Upsert(ctx context.Context, rec model.InventoryRecord) (model.InventoryRecord, error) {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "sku"}},
			DoUpdates: clause.AssignmentColumns([]string{"product_id", "variant_id", "is_tracked", "reorder_threshold", "updated_at"}),
		}).
		Create(&rec).Error
	if err != nil {
		return model.InventoryRecord{}, err
	}

	var out model.InventoryRecord
	if err := r.db.WithContext(ctx).Where("sku = ?", rec.SKU).First(&out).Error; err != nil {
		return model.InventoryRecord{}, err
	}
	return out, nil
}

func (r *InventoryGormRepository) ListLowStock(ctx context.Context, limit int) ([]model.InventoryRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var recs []model.InventoryRecord
	err := r.db.WithContext(ctx).
		Where("is_tracked = ? AND quantity - reserved <= reorder_threshold", true).
		Order("id asc").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return []model.InventoryRecord{}, err
	}
	return recs, nil
}

// 調整履歴作成
func (r *InventoryGormRepository) CreateAdjustment(ctx context.Context, adj model.InventoryAdjustment) error {
	if err := r.db.WithContext(ctx).Create(&adj).Error; err != nil {
		return err
	}
	return nil
}
