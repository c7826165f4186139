package repository

import (
	"context"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"gorm.io/gorm"
)

type PaymentGormRepository struct {
	db *gorm.DB
}

func NewPaymentGormRepository(db *gorm.DB) *PaymentGormRepository {
	return &PaymentGormRepository{db: db}
}

func (r *PaymentGormRepository) Create(ctx context.Context, p model.PaymentRecord) error {
	err := r.db.WithContext(ctx).Create(&p).Error
	if isDuplicate(err) {
		return repo.ErrDuplicate
	}
	return err
}

func (r *PaymentGormRepository) FindByProviderEventID(ctx context.Context, eventID string) (model.PaymentRecord, error) {
	var p model.PaymentRecord
	err := r.db.WithContext(ctx).Where("provider_event_id = ?", eventID).First(&p).Error
	if isNotFound(err) {
		return model.PaymentRecord{}, repo.ErrNotFound
	}
	if err != nil {
		return model.PaymentRecord{}, err
	}
	return p, nil
}

func (r *PaymentGormRepository) ListByOrderID(ctx context.Context, orderID int64) ([]model.PaymentRecord, error) {
	var ps []model.PaymentRecord
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("processed_at asc").Find(&ps).Error
	if err != nil {
		return []model.PaymentRecord{}, err
	}
	return ps, nil
}
