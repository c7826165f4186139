package usecase

import (
	"context"
	"errors"
	"time"

	"storefront/internal/idempotency"
	"storefront/internal/logging"
	"storefront/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const sweepLockKey = "storefront:sweep:expiry"

// Locker はプロセスをまたいだ排他（なくても正しく動く。重複実行を減らすだけ）。
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

type SweepReport struct {
	Expired     int   `json:"expired"`
	Skipped     int   `json:"skipped"`
	Failed      int   `json:"failed"`
	Reclaimed   int64 `json:"reclaimed"`
	Purged      int64 `json:"purged"`
	LockSkipped bool  `json:"lock_skipped"`
}

// ExpirySweeper は期限切れの仮押さえを戻し、止まった冪等記録を回収する。
// 二重に走っても途中で止まっても、済んだものが no-op になるだけ。
type ExpirySweeper struct {
	orders  *OrderUsecase
	exec    *idempotency.Executor
	locker  Locker
	batch   int
	lockTTL time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// exec, locker は nil でもよい
func NewExpirySweeper(orders *OrderUsecase, exec *idempotency.Executor, locker Locker, batch int, logger *zap.Logger, m *metrics.Metrics) *ExpirySweeper {
	if batch <= 0 {
		batch = 100
	}
	return &ExpirySweeper{
		orders:  orders,
		exec:    exec,
		locker:  locker,
		batch:   batch,
		lockTTL: time.Minute,
		logger:  logging.OrNop(logger).Named("sweeper"),
		metrics: m,
		tracer:  otel.Tracer("storefront/sweeper"),
	}
}

func (s *ExpirySweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	ctx, span := s.tracer.Start(ctx, "sweeper.RunOnce")
	defer span.End()

	var rep SweepReport

	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.lockTTL)
		if err != nil {
			//ロックが取れなくても実行する（正しさはDB側で保証）
			s.logger.Warn("sweep lock unavailable; sweeping without it", zap.Error(err))
		} else if !ok {
			rep.LockSkipped = true
			span.SetAttributes(attribute.Bool("sweep.lock_skipped", true))
			return rep, nil
		} else {
			defer func() {
				if err := unlock(context.WithoutCancel(ctx)); err != nil {
					s.logger.Warn("failed to release sweep lock", zap.Error(err))
				}
			}()
		}
	}

	//id 順にページを進める。失敗した注文は次回の RunOnce でまた拾う
	var afterID int64
	for {
		ids, err := s.orders.FindExpiredOrders(ctx, afterID, s.batch)
		if err != nil {
			return rep, err
		}

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			expired, err := s.orders.ExpireOrder(ctx, id)
			switch {
			case err != nil:
				rep.Failed++
				s.logger.Error("failed to expire order", zap.Int64("order_id", id), zap.Error(err))
			case expired:
				rep.Expired++
			default:
				//他の経路で決着済み
				rep.Skipped++
			}
			afterID = id
		}
		if len(ids) < s.batch {
			break
		}
	}

	if s.exec != nil {
		var err error
		if rep.Reclaimed, err = s.exec.ReclaimStale(ctx); err != nil {
			s.logger.Error("failed to reclaim stale idempotency records", zap.Error(err))
		}
		if rep.Purged, err = s.exec.PurgeExpired(ctx); err != nil {
			s.logger.Error("failed to purge expired idempotency records", zap.Error(err))
		}
	}

	s.metrics.Sweep("orders", "expired", rep.Expired)
	s.metrics.Sweep("orders", "skipped", rep.Skipped)
	s.metrics.Sweep("orders", "failed", rep.Failed)
	s.metrics.Sweep("idempotency", "reclaimed", int(rep.Reclaimed))
	s.metrics.Sweep("idempotency", "purged", int(rep.Purged))

	span.SetAttributes(
		attribute.Int("sweep.expired", rep.Expired),
		attribute.Int("sweep.failed", rep.Failed),
	)
	if rep.Expired > 0 || rep.Failed > 0 || rep.Reclaimed > 0 {
		s.logger.Info("sweep finished",
			zap.Int("expired", rep.Expired),
			zap.Int("skipped", rep.Skipped),
			zap.Int("failed", rep.Failed),
			zap.Int64("reclaimed", rep.Reclaimed),
			zap.Int64("purged", rep.Purged))
	}
	return rep, nil
}

// Run は ctx が終わるまで interval ごとに RunOnce する
func (s *ExpirySweeper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
