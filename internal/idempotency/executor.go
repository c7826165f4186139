// Package idempotency は任意の書き込み処理を「同じキーなら成功は一度だけ」にする。
//
// 排他はキーの unique 制約だけに頼る。プロセス内ロックは使わないので、
// 何台のプロセスが同じDBに対して動いていてもよい。
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"storefront/internal/domain/model"
	"storefront/internal/logging"
	"storefront/internal/metrics"
	repo "storefront/internal/repository"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const reclaimDetail = "reclaimed: in-progress record exceeded stale timeout"

// Handler は Executor が開いたTxの中で実行される。
// 戻り値はJSONで保存され、リプレイ時にはそのまま返る。
type Handler[T any] func(ctx context.Context, r repo.TxRepos) (T, error)

type Executor struct {
	tx      repo.TransactionManager
	cfg     Config
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func NewExecutor(tx repo.TransactionManager, cfg Config, logger *zap.Logger, m *metrics.Metrics, opts ...ExecutorOption) *Executor {
	cfg = cfg.withDefaults()
	cfg.Secret = normalizeSecret(cfg.Secret)
	e := &Executor{
		tx:      tx,
		cfg:     cfg,
		now:     time.Now,
		logger:  logging.OrNop(logger).Named("idempotency"),
		metrics: m,
		tracer:  otel.Tracer("storefront/idempotency"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// 実際に保存されるキー
func (e *Executor) StorageKey(key, namespace string) string {
	if namespace == "" {
		return key
	}
	return scopedKey(e.cfg.Secret, namespace, key)
}

type claim struct {
	key     string
	attempt int
	replay  []byte
}

// Execute は key に対して fn を高々一度だけ成功させる。
//
// 完了済みなら保存済みの結果を返し fn は呼ばない。実行中なら ErrConflict。
// fn の結果と COMPLETED への更新は同じTxでコミットされる。
func Execute[T any](ctx context.Context, e *Executor, key string, fn Handler[T], opts ...Option) (T, error) {
	var zero T

	o := callOptions{
		staleAfter:  e.cfg.StaleAfter,
		maxAttempts: e.cfg.MaxAttempts,
		ttl:         e.cfg.TTL,
	}
	for _, opt := range opts {
		opt(&o)
	}

	key, err := validateKey(key, o.namespace != "")
	if err != nil {
		return zero, err
	}
	storageKey := e.StorageKey(key, o.namespace)

	ctx, span := e.tracer.Start(ctx, "idempotency.Execute", trace.WithAttributes(
		attribute.String("idempotency.key", storageKey),
	))
	defer span.End()

	c, err := e.acquire(ctx, storageKey, o)
	if err != nil {
		e.metrics.Idempotency(outcomeOf(err))
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}

	if c.replay != nil {
		var out T
		if err := json.Unmarshal(c.replay, &out); err != nil {
			return zero, fmt.Errorf("decode stored response for %s: %w", storageKey, err)
		}
		e.metrics.Idempotency("replayed")
		span.SetAttributes(attribute.Bool("idempotency.replayed", true))
		e.logger.Debug("replayed stored response", zap.String("key", storageKey))
		return out, nil
	}

	span.SetAttributes(attribute.Int("idempotency.attempt", c.attempt))
	started := e.now()

	var result T
	err = e.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		res, err := fn(ctx, r)
		if err != nil {
			return err
		}
		body, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
		ok, err := r.Idempotency().Complete(ctx, storageKey, c.attempt, body, e.now())
		if err != nil {
			return err
		}
		if !ok {
			return errLostClaim
		}
		result = res
		return nil
	})
	elapsed := e.now().Sub(started)

	if errors.Is(err, errLostClaim) {
		//回収された後に終わった古い実行。Txごと捨てたので副作用は残らない。
		e.metrics.HandlerLatency("lost_claim", elapsed)
		e.metrics.Idempotency("conflict")
		e.logger.Warn("claim lost before completion; handler effects rolled back",
			zap.String("key", storageKey), zap.Int("attempt", c.attempt))
		span.SetStatus(codes.Error, "claim lost")
		return zero, ErrConflict
	}
	if err != nil {
		e.metrics.HandlerLatency("error", elapsed)
		rejected := o.rejection != nil && o.rejection(err)
		if rejected {
			e.metrics.Idempotency("rejected")
		} else {
			e.metrics.Idempotency("failed")
		}
		e.markFailed(ctx, storageKey, c.attempt, err, rejected)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}

	e.metrics.HandlerLatency("ok", elapsed)
	e.metrics.Idempotency("executed")
	return result, nil
}

// acquire はキーの行を作るか、既存の行を見て続行・リプレイ・拒否を決める。
// 拒否でも FAILED への回収はコミットしたいので、判定結果はTxの外で返す。
func (e *Executor) acquire(ctx context.Context, key string, o callOptions) (claim, error) {
	var c claim
	var outcome error

	err := e.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		now := e.now()
		fresh := model.IdempotencyRecord{
			Key:             key,
			Status:          model.IdempotencyStatusInProgress,
			RequestHash:     o.requestHash,
			AttemptCount:    1,
			LastProcessedAt: now,
			ExpiresAt:       now.Add(o.ttl),
		}

		created, err := r.Idempotency().CreateIfAbsent(ctx, fresh)
		if err != nil {
			return err
		}
		if created {
			c = claim{key: key, attempt: 1}
			return nil
		}

		rec, err := r.Idempotency().FindByKeyForUpdate(ctx, key)
		if errors.Is(err, repo.ErrNotFound) {
			//作成失敗の直後に掃除された
			outcome = ErrConflict
			return nil
		}
		if err != nil {
			return err
		}

		//保持期間切れの記録は無いものとして扱う
		if rec.Status != model.IdempotencyStatusInProgress && !rec.ExpiresAt.After(now) {
			fresh.CreatedAt = rec.CreatedAt
			if err := r.Idempotency().Save(ctx, fresh); err != nil {
				return err
			}
			c = claim{key: key, attempt: 1}
			return nil
		}

		if o.requestHash != "" && rec.RequestHash != "" && rec.RequestHash != o.requestHash {
			outcome = ErrRequestHashMismatch
			return nil
		}

		switch rec.Status {
		case model.IdempotencyStatusCompleted:
			c = claim{key: key, replay: rec.ResponseBody}
			if c.replay == nil {
				c.replay = []byte("null")
			}
			return nil

		case model.IdempotencyStatusInProgress:
			if now.Sub(rec.LastProcessedAt) < o.staleAfter {
				outcome = ErrConflict
				return nil
			}
			e.logger.Warn("reclaiming stale in-progress record",
				zap.String("key", key),
				zap.Int("attempt", rec.AttemptCount),
				zap.Time("last_processed_at", rec.LastProcessedAt))
			rec.Status = model.IdempotencyStatusFailed
			rec.LastError = reclaimDetail
			rec.LastProcessedAt = now
		}

		// FAILED
		if rec.AttemptCount >= o.maxAttempts {
			if err := r.Idempotency().Save(ctx, rec); err != nil {
				return err
			}
			outcome = fmt.Errorf("%w: key %s failed %d times, last error: %s",
				ErrRetriesExhausted, key, rec.AttemptCount, rec.LastError)
			return nil
		}

		rec.AttemptCount++
		rec.Status = model.IdempotencyStatusInProgress
		rec.LastProcessedAt = now
		if rec.RequestHash == "" {
			rec.RequestHash = o.requestHash
		}
		if err := r.Idempotency().Save(ctx, rec); err != nil {
			return err
		}
		c = claim{key: key, attempt: rec.AttemptCount}
		return nil
	})
	if err != nil {
		return claim{}, err
	}
	if outcome != nil {
		if errors.Is(outcome, ErrRetriesExhausted) {
			e.logger.Error("idempotent operation needs manual inspection", zap.Error(outcome))
		}
		return claim{}, outcome
	}
	return c, nil
}

// 呼び出し元のctxが切れていても失敗は記録する。
// rejected なら今回の試行は数えない（AttemptCount を戻す）。
func (e *Executor) markFailed(ctx context.Context, key string, attempt int, cause error, rejected bool) {
	ctx = context.WithoutCancel(ctx)
	detail := truncateDetail(cause.Error(), maxErrorDetail)

	err := e.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if rejected {
			return e.releaseAttempt(ctx, r, key, attempt, detail)
		}
		ok, err := r.Idempotency().MarkFailed(ctx, key, attempt, detail, e.now())
		if err != nil {
			return err
		}
		if !ok {
			e.logger.Warn("record changed before failure could be recorded",
				zap.String("key", key), zap.Int("attempt", attempt))
		}
		return nil
	})
	if err != nil {
		e.logger.Error("failed to record handler failure",
			zap.String("key", key), zap.Int("attempt", attempt), zap.Error(err))
	}
}

func (e *Executor) releaseAttempt(ctx context.Context, r repo.TxRepos, key string, attempt int, detail string) error {
	rec, err := r.Idempotency().FindByKeyForUpdate(ctx, key)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	//回収されて別の試行が始まっていたら触らない
	if rec.Status != model.IdempotencyStatusInProgress || rec.AttemptCount != attempt {
		e.logger.Warn("record changed before rejection could be recorded",
			zap.String("key", key), zap.Int("attempt", attempt))
		return nil
	}
	rec.Status = model.IdempotencyStatusFailed
	rec.AttemptCount = attempt - 1
	rec.LastError = detail
	rec.LastProcessedAt = e.now()
	return r.Idempotency().Save(ctx, rec)
}

const maxErrorDetail = 2000

// バイト数で切るが、マルチバイト文字の途中では切らない
func truncateDetail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// ReclaimStale は止まったままの IN_PROGRESS を FAILED にして再試行できるようにする。
// 元の処理を止めるわけではない（残っていても Complete が失敗するだけ）。
func (e *Executor) ReclaimStale(ctx context.Context) (int64, error) {
	var n int64
	err := e.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		now := e.now()
		var err error
		n, err = r.Idempotency().ReclaimStale(ctx, now.Add(-e.cfg.StaleAfter), reclaimDetail, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Warn("reclaimed stale in-progress records", zap.Int64("count", n))
	}
	return n, nil
}

func (e *Executor) PurgeExpired(ctx context.Context) (int64, error) {
	var n int64
	err := e.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		n, err = r.Idempotency().DeleteExpired(ctx, e.now())
		return err
	})
	return n, err
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrRetriesExhausted):
		return "exhausted"
	case errors.Is(err, ErrRequestHashMismatch):
		return "hash_mismatch"
	case errors.Is(err, ErrInvalidKey):
		return "invalid_key"
	default:
		return "error"
	}
}
