package repository

import (
	"context"
	"time"

	"storefront/internal/domain/model"
)

type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (model.Order, error)
	FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error)
	ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error)
	Create(ctx context.Context, order model.Order) (int64, error)

	// status = from のときだけ遷移後の値で更新。0件なら ErrConflict。
	Transition(ctx context.Context, order model.Order, from model.OrderStatus) error

	// 期限切れの PENDING_PAYMENT を id > afterID から id 順に
	ListExpiredPending(ctx context.Context, now time.Time, afterID int64, limit int) ([]int64, error)
}
