package idempotency

import "time"

type Config struct {
	// キー再ハッシュ用の秘密鍵
	Secret []byte

	// IN_PROGRESS がこれより古ければ落ちたとみなして回収する
	StaleAfter time.Duration

	MaxAttempts int

	// 記録の保持期間
	TTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	return c
}

type callOptions struct {
	namespace   string
	requestHash string
	staleAfter  time.Duration
	maxAttempts int
	ttl         time.Duration
	rejection   func(error) bool
}

type Option func(*callOptions)

// 呼び出し元（ユーザーなど）の名前空間。指定するとキーは再ハッシュされる。
func WithNamespace(ns string) Option {
	return func(o *callOptions) { o.namespace = ns }
}

func WithRequestHash(hash string) Option {
	return func(o *callOptions) { o.requestHash = hash }
}

// 業務上の拒否（在庫不足など）を見分ける。true のエラーは試行回数に数えない。
// 同じキーで再送すれば、状況が変わっていない限り同じ拒否が返る。
func WithRejection(fn func(error) bool) Option {
	return func(o *callOptions) { o.rejection = fn }
}

func WithMaxAttempts(n int) Option {
	return func(o *callOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

func WithStaleAfter(d time.Duration) Option {
	return func(o *callOptions) {
		if d > 0 {
			o.staleAfter = d
		}
	}
}

func WithTTL(d time.Duration) Option {
	return func(o *callOptions) {
		if d > 0 {
			o.ttl = d
		}
	}
}

type ExecutorOption func(*Executor)

// テスト用に時計を差し替える
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}
