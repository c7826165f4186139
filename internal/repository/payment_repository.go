package repository

import (
	"context"

	"storefront/internal/domain/model"
)

type PaymentRepository interface {
	// provider_event_id が重複したら ErrDuplicate
	Create(ctx context.Context, p model.PaymentRecord) error
	FindByProviderEventID(ctx context.Context, eventID string) (model.PaymentRecord, error)
	ListByOrderID(ctx context.Context, orderID int64) ([]model.PaymentRecord, error)
}
