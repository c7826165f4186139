package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/idempotency"
	"storefront/internal/logging"
	"storefront/internal/metrics"
	repo "storefront/internal/repository"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// PaymentWebhookUsecase は少なくとも1回届くイベントを、注文に対して1回だけ効かせる。
// イベントIDを冪等キーにし、PaymentRecord の provider_event_id を処理済みの証拠にする。
type PaymentWebhookUsecase struct {
	exec     *idempotency.Executor
	orders   *OrderUsecase
	notifier OrderNotifier
	now      func() time.Time
	logger   *zap.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

func NewPaymentWebhookUsecase(exec *idempotency.Executor, orders *OrderUsecase, notifier OrderNotifier, logger *zap.Logger, m *metrics.Metrics) *PaymentWebhookUsecase {
	return &PaymentWebhookUsecase{
		exec:     exec,
		orders:   orders,
		notifier: notifier,
		now:      time.Now,
		logger:   logging.OrNop(logger).Named("payments"),
		metrics:  m,
		tracer:   otel.Tracer("storefront/payments"),
	}
}

// 冪等記録に残す結果
type webhookResult struct {
	OrderID int64             `json:"order_id"`
	Status  model.OrderStatus `json:"status"`
	Outcome string            `json:"outcome"`
}

const (
	outcomeApplied   = "applied"
	outcomeDuplicate = "duplicate"
	outcomeNoop      = "noop"
	outcomeIgnored   = "ignored"
	outcomeReplayed  = "replayed"
)

// Dispatch はイベント種別で振り分ける。対象外の種別は handled=false。
func (u *PaymentWebhookUsecase) Dispatch(ctx context.Context, evt WebhookEvent) (model.Order, bool, error) {
	switch {
	case IsSuccessEvent(evt.Type):
		o, err := u.ProcessSuccess(ctx, evt)
		return o, true, err
	case IsFailureEvent(evt.Type):
		o, err := u.ProcessFailure(ctx, evt)
		return o, true, err
	default:
		u.metrics.WebhookEvent(evt.Type, outcomeIgnored)
		u.logger.Debug("ignored webhook event", zap.String("event_id", evt.ID), zap.String("type", evt.Type))
		return model.Order{}, false, nil
	}
}

// ProcessSuccess は在庫確定・PAID・PaymentRecord 作成を1つのTxで行う。
// 同じイベントの再送や、別イベントによる二重の成功通知は成功扱いで何もしない。
func (u *PaymentWebhookUsecase) ProcessSuccess(ctx context.Context, evt WebhookEvent) (model.Order, error) {
	var paid *model.Order

	o, err := u.process(ctx, "payments.ProcessSuccess", evt, func(ctx context.Context, r repo.TxRepos, o model.Order) (model.Order, string, error) {
		if o.Status == model.OrderStatusPaid {
			return o, outcomeDuplicate, nil
		}
		if o.Status != model.OrderStatusPendingPayment {
			return model.Order{}, "", u.orders.invalidTransition(o, model.OrderStatusPaid)
		}
		if evt.Amount > 0 && evt.Amount != o.Total {
			u.logger.Error("payment amount mismatch",
				zap.String("event_id", evt.ID),
				zap.Int64("order_id", o.ID),
				zap.Int64("amount", evt.Amount),
				zap.Int64("total", o.Total))
			return model.Order{}, "", fmt.Errorf("%w: event %s amount %d, order %d total %d",
				ErrPaymentAmountMismatch, evt.ID, evt.Amount, o.ID, o.Total)
		}

		updated, err := u.orders.MarkPaidTx(ctx, r, o)
		if err != nil {
			return model.Order{}, "", err
		}
		if err := u.recordPayment(ctx, r, evt, o.Total, model.PaymentStatusSucceeded); err != nil {
			return model.Order{}, "", err
		}
		paid = &updated
		return updated, outcomeApplied, nil
	})
	if err != nil {
		return model.Order{}, err
	}

	//Tx の外で通知。失敗しても注文は戻さない。
	if paid != nil {
		u.notify(ctx, *paid)
	}
	return o, nil
}

// ProcessFailure は在庫を戻して CANCELLED にする。
// すでに CANCELLED/EXPIRED なら何もしない。
func (u *PaymentWebhookUsecase) ProcessFailure(ctx context.Context, evt WebhookEvent) (model.Order, error) {
	return u.process(ctx, "payments.ProcessFailure", evt, func(ctx context.Context, r repo.TxRepos, o model.Order) (model.Order, string, error) {
		switch o.Status {
		case model.OrderStatusCancelled, model.OrderStatusExpired:
			return o, outcomeNoop, nil
		case model.OrderStatusPendingPayment:
		default:
			return model.Order{}, "", u.orders.invalidTransition(o, model.OrderStatusCancelled)
		}

		updated, err := u.orders.CancelForPaymentFailureTx(ctx, r, o, evt.Type)
		if err != nil {
			return model.Order{}, "", err
		}
		if err := u.recordPayment(ctx, r, evt, evt.Amount, model.PaymentStatusFailed); err != nil {
			return model.Order{}, "", err
		}
		return updated, outcomeApplied, nil
	})
}

type applyFunc func(ctx context.Context, r repo.TxRepos, o model.Order) (model.Order, string, error)

func (u *PaymentWebhookUsecase) process(ctx context.Context, spanName string, evt WebhookEvent, apply applyFunc) (model.Order, error) {
	ctx, span := u.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("webhook.event_id", evt.ID),
		attribute.String("webhook.type", evt.Type),
		attribute.Int64("order.id", evt.OrderID),
	))
	defer span.End()

	if evt.ID == "" {
		return model.Order{}, NewHTTPError(http.StatusBadRequest, "missing event id")
	}
	if evt.OrderID <= 0 {
		return model.Order{}, NewHTTPError(http.StatusBadRequest, "missing order id")
	}

	hash, err := idempotency.RequestHash(evt.Type, evt.OrderID, evt.Amount)
	if err != nil {
		return model.Order{}, err
	}

	ran := false
	res, err := idempotency.Execute(ctx, u.exec, webhookKey(evt.ID), func(ctx context.Context, r repo.TxRepos) (webhookResult, error) {
		ran = true
		//PaymentRecord があれば処理済み（冪等記録が消えた後の再送）
		if _, err := r.Payments().FindByProviderEventID(ctx, evt.ID); err == nil {
			cur, err := r.Orders().FindByID(ctx, evt.OrderID)
			if err != nil {
				return webhookResult{}, err
			}
			return webhookResult{OrderID: cur.ID, Status: cur.Status, Outcome: outcomeDuplicate}, nil
		} else if !errors.Is(err, repo.ErrNotFound) {
			return webhookResult{}, err
		}

		o, err := u.orders.lockOrder(ctx, r, evt.OrderID)
		if err != nil {
			return webhookResult{}, err
		}
		updated, outcome, err := apply(ctx, r, o)
		if err != nil {
			return webhookResult{}, err
		}
		return webhookResult{OrderID: updated.ID, Status: updated.Status, Outcome: outcome}, nil
	}, idempotency.WithRequestHash(hash))
	if err != nil {
		u.metrics.WebhookEvent(evt.Type, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		u.logFailure(evt, err)
		return model.Order{}, err
	}

	if !ran {
		res.Outcome = outcomeReplayed
	}
	u.metrics.WebhookEvent(evt.Type, res.Outcome)
	span.SetAttributes(attribute.String("webhook.outcome", res.Outcome))
	u.logger.Info("webhook processed",
		zap.String("event_id", evt.ID),
		zap.String("type", evt.Type),
		zap.Int64("order_id", res.OrderID),
		zap.String("status", string(res.Status)),
		zap.String("outcome", res.Outcome))

	//再送でも現在の注文を返す
	return u.orders.FindOrder(ctx, res.OrderID)
}

func (u *PaymentWebhookUsecase) recordPayment(ctx context.Context, r repo.TxRepos, evt WebhookEvent, amount int64, status model.PaymentStatus) error {
	err := r.Payments().Create(ctx, model.PaymentRecord{
		ID:              uuid.NewString(),
		OrderID:         evt.OrderID,
		ProviderEventID: evt.ID,
		EventType:       evt.Type,
		PaymentIntentID: evt.PaymentIntentID,
		Amount:          amount,
		Status:          status,
		ProcessedAt:     u.now(),
	})
	if errors.Is(err, repo.ErrDuplicate) {
		//同じイベントが同時に処理された。Tx ごと捨てて再送に任せる。
		return fmt.Errorf("payment record for event %s already exists: %w", evt.ID, idempotency.ErrConflict)
	}
	return err
}

func (u *PaymentWebhookUsecase) notify(ctx context.Context, o model.Order) {
	if u.notifier == nil {
		return
	}
	if err := u.notifier.OrderConfirmed(context.WithoutCancel(ctx), o); err != nil {
		u.metrics.Notification("error")
		u.logger.Warn("order confirmation notification failed", zap.Int64("order_id", o.ID), zap.Error(err))
		return
	}
	u.metrics.Notification("ok")
}

func (u *PaymentWebhookUsecase) logFailure(evt WebhookEvent, err error) {
	fields := []zap.Field{
		zap.String("event_id", evt.ID),
		zap.String("type", evt.Type),
		zap.Int64("order_id", evt.OrderID),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, ErrInvalidStateTransition),
		errors.Is(err, ErrInvariantViolation),
		errors.Is(err, idempotency.ErrRetriesExhausted),
		errors.Is(err, ErrPaymentAmountMismatch):
		u.logger.Error("webhook processing failed", fields...)
	case errors.Is(err, idempotency.ErrConflict):
		u.logger.Info("webhook event already in flight", fields...)
	default:
		u.logger.Warn("webhook processing failed", fields...)
	}
}

func webhookKey(eventID string) string {
	return "payment-event:" + eventID
}
