package idempotency

import "errors"

var (
	// 同じキーの処理が実行中。少し待ってから再試行すること。
	ErrConflict = errors.New("idempotency conflict: request already in progress")

	// 失敗が上限回数に達した。運用者の確認が必要。
	ErrRetriesExhausted = errors.New("idempotency retries exhausted")

	// 同じキーで別のリクエスト内容
	ErrRequestHashMismatch = errors.New("idempotency key reused with a different request")

	ErrInvalidKey = errors.New("invalid idempotency key")
)

// 自分の claim が他の実行に奪われた（stale 扱いで回収された）
var errLostClaim = errors.New("idempotency claim lost")
