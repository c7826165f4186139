package redislock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "storefront:lock:"

// 自分のトークンのときだけ消す
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	rdb redis.Scripter
	set func(ctx context.Context, key, val string, ttl time.Duration) (bool, error)
}

func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func New(rdb *redis.Client) *Locker {
	return &Locker{
		rdb: rdb,
		set: func(ctx context.Context, key, val string, ttl time.Duration) (bool, error) {
			return rdb.SetNX(ctx, key, val, ttl).Result()
		},
	}
}

// TryLock は SET NX PX で取る。取れなければ ok=false。
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	full := keyPrefix + key

	ok, err := l.set(ctx, full, token, ttl)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.rdb, []string{full}, token).Err()
	}
	return unlock, true, nil
}
