package repository

import (
	"context"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type IdempotencyGormRepository struct {
	db *gorm.DB
}

func NewIdempotencyGormRepository(db *gorm.DB) *IdempotencyGormRepository {
	return &IdempotencyGormRepository{db: db}
}

// 主キー衝突は ON CONFLICT DO NOTHING で吸収する（Txを壊さないため）
func (r *IdempotencyGormRepository) CreateIfAbsent(ctx context.Context, rec model.IdempotencyRecord) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *IdempotencyGormRepository) FindByKeyForUpdate(ctx context.Context, key string) (model.IdempotencyRecord, error) {
	var rec model.IdempotencyRecord
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("idempotency_key = ?", key).
		First(&rec).Error
	if isNotFound(err) {
		return model.IdempotencyRecord{}, repo.ErrNotFound
	}
	if err != nil {
		return model.IdempotencyRecord{}, err
	}
	return rec, nil
}

func (r *IdempotencyGormRepository) Save(ctx context.Context, rec model.IdempotencyRecord) error {
	res := r.db.WithContext(ctx).Model(&model.IdempotencyRecord{}).
		Where("idempotency_key = ?", rec.Key).
		Updates(map[string]any{
			"status":            rec.Status,
			"request_hash":      rec.RequestHash,
			"response_body":     rec.ResponseBody,
			"last_error":        rec.LastError,
			"attempt_count":     rec.AttemptCount,
			"last_processed_at": rec.LastProcessedAt,
			"expires_at":        rec.ExpiresAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *IdempotencyGormRepository) Complete(ctx context.Context, key string, attempt int, body []byte, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.IdempotencyRecord{}).
		Where("idempotency_key = ? AND status = ? AND attempt_count = ?", key, model.IdempotencyStatusInProgress, attempt).
		Updates(map[string]any{
			"status":            model.IdempotencyStatusCompleted,
			"response_body":     body,
			"last_error":        "",
			"last_processed_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *IdempotencyGormRepository) MarkFailed(ctx context.Context, key string, attempt int, detail string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.IdempotencyRecord{}).
		Where("idempotency_key = ? AND status = ? AND attempt_count = ?", key, model.IdempotencyStatusInProgress, attempt).
		Updates(map[string]any{
			"status":            model.IdempotencyStatusFailed,
			"last_error":        detail,
			"last_processed_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *IdempotencyGormRepository) ReclaimStale(ctx context.Context, staleBefore time.Time, detail string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.IdempotencyRecord{}).
		Where("status = ? AND last_processed_at < ?", model.IdempotencyStatusInProgress, staleBefore).
		Updates(map[string]any{
			"status":            model.IdempotencyStatusFailed,
			"last_error":        detail,
			"last_processed_at": at,
		})
	return res.RowsAffected, res.Error
}

func (r *IdempotencyGormRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ? AND status <> ?", now, model.IdempotencyStatusInProgress).
		Delete(&model.IdempotencyRecord{})
	return res.RowsAffected, res.Error
}
