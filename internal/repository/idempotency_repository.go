package repository

import (
	"context"
	"time"

	"storefront/internal/domain/model"
)

type IdempotencyRepository interface {
	// キーが無ければ作成して true。既にあれば何もせず false（ON CONFLICT DO NOTHING）。
	CreateIfAbsent(ctx context.Context, rec model.IdempotencyRecord) (bool, error)

	FindByKeyForUpdate(ctx context.Context, key string) (model.IdempotencyRecord, error)

	// キーで全項目を上書き
	Save(ctx context.Context, rec model.IdempotencyRecord) error

	// IN_PROGRESS かつ attempt が一致するときだけ COMPLETED にする
	Complete(ctx context.Context, key string, attempt int, body []byte, at time.Time) (bool, error)

	// IN_PROGRESS かつ attempt が一致するときだけ FAILED にする
	MarkFailed(ctx context.Context, key string, attempt int, detail string, at time.Time) (bool, error)

	// staleBefore より古い IN_PROGRESS をまとめて FAILED にする
	ReclaimStale(ctx context.Context, staleBefore time.Time, detail string, at time.Time) (int64, error)

	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
