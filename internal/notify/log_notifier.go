package notify

import (
	"context"

	"storefront/internal/domain/model"

	"go.uber.org/zap"
)

// ブローカー未設定のとき用。ログに出すだけでメールは送らない。
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify.log")}
}

func (n *LogNotifier) OrderConfirmed(_ context.Context, order model.Order) error {
	n.logger.Info("order confirmed",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.Int64("total", order.Total),
		zap.String("currency", order.Currency),
		zap.Int("items", len(order.Items)),
	)
	return nil
}
