package idempotency

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	maxRawKeyLen    = 255
	maxScopedKeyLen = 1024
	scopedKeyPrefix = "ns:"
)

// blake2b の鍵は64バイトまで
func normalizeSecret(secret []byte) []byte {
	if len(secret) <= blake2b.Size {
		out := make([]byte, len(secret))
		copy(out, secret)
		return out
	}
	sum := blake2b.Sum512(secret)
	return sum[:]
}

func validateKey(key string, scoped bool) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	limit := maxRawKeyLen
	if scoped {
		limit = maxScopedKeyLen
	}
	if len(key) > limit {
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidKey, limit)
	}
	return key, nil
}

// 名前空間つきのキーは秘密鍵で再ハッシュして保存する。
// 短いクライアントトークンでも推測されず、利用者をまたいで衝突しない。
func scopedKey(secret []byte, namespace, key string) string {
	h, err := blake2b.New256(secret)
	if err != nil {
		// normalizeSecret 済みなので来ない
		panic(err)
	}
	h.Write([]byte(namespace))
	h.Write([]byte{0})
	h.Write([]byte(key))
	return scopedKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// RequestHash はリクエスト内容のハッシュ。キーの使い回し検出に使う。
func RequestHash(parts ...any) (string, error) {
	b, err := json.Marshal(parts)
	if err != nil {
		return "", fmt.Errorf("request hash: %w", err)
	}
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
