package usecase

import (
	"context"

	"storefront/internal/domain/model"
)

// 注文確定の通知（メールなど）。失敗しても注文は戻さない。
type OrderNotifier interface {
	OrderConfirmed(ctx context.Context, order model.Order) error
}

// 誰が操作したか
type Actor struct {
	UserID  int64
	IsAdmin bool
}

// スイープやWebhookによる操作
var SystemActor = Actor{UserID: model.SystemActorID, IsAdmin: true}
