package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Configはアプリ全体の設定
type Config struct {
	Port  string // サーバーポート（8080）
	GoEnv string // dev/prod

	LogLevel string

	StoreDriver string // postgres / memory

	DatabaseURL      string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     int
	PostgresSSLMode  string
	DBMaxOpenConns   int

	JWTSecret         string // JWT署名シークレット
	WebhookSecret     string // 決済Webhookの署名検証
	IdempotencySecret string // 冪等キーの再ハッシュ用

	ReservationWindow time.Duration

	IdempotencyStaleAfter  time.Duration
	IdempotencyMaxAttempts int
	IdempotencyTTL         time.Duration

	SweepInterval  time.Duration
	SweepBatchSize int

	RedisAddr string // 空ならスイープのロックなし

	KafkaBrokers             []string // 空ならログ通知
	KafkaTopicOrderConfirmed string
}

// .env があれば読んでから環境変数を見る
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() (Config, error) {
	var err error
	cfg := Config{
		Port:     getenv("PORT", "8080"),
		GoEnv:    getenv("GO_ENV", "prod"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		StoreDriver: strings.ToLower(getenv("STORE_DRIVER", StoreDriverPostgres)),

		DatabaseURL:      os.Getenv("DATABASE_URL"),
		PostgresUser:     getenv("POSTGRES_USER", "postgres"),
		PostgresPassword: getenv("POSTGRES_PASSWORD", "postgres"),
		PostgresDB:       getenv("POSTGRES_DB", "app"),
		PostgresHost:     getenv("POSTGRES_HOST", "localhost"),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", "disable"),

		JWTSecret:         os.Getenv("JWT_SECRET"),
		WebhookSecret:     os.Getenv("WEBHOOK_SECRET"),
		IdempotencySecret: os.Getenv("IDEMPOTENCY_SECRET"),

		RedisAddr: os.Getenv("REDIS_ADDR"),

		KafkaBrokers:             splitCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaTopicOrderConfirmed: getenv("KAFKA_TOPIC_ORDER_CONFIRMED", "order.confirmed"),
	}

	if cfg.PostgresPort, err = atoiDefault("POSTGRES_PORT", 5432); err != nil {
		return Config{}, err
	}
	if cfg.DBMaxOpenConns, err = atoiDefault("DB_MAX_OPEN_CONNS", 20); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyMaxAttempts, err = atoiDefault("IDEMPOTENCY_MAX_ATTEMPTS", 3); err != nil {
		return Config{}, err
	}
	if cfg.SweepBatchSize, err = atoiDefault("SWEEP_BATCH_SIZE", 100); err != nil {
		return Config{}, err
	}
	if cfg.ReservationWindow, err = durationDefault("RESERVATION_WINDOW", 60*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyStaleAfter, err = durationDefault("IDEMPOTENCY_STALE_AFTER", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationDefault("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = durationDefault("SWEEP_INTERVAL", time.Minute); err != nil {
		return Config{}, err
	}

	//必須チェック
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.WebhookSecret == "" {
		return Config{}, fmt.Errorf("WEBHOOK_SECRET is required")
	}
	if cfg.IdempotencySecret == "" {
		return Config{}, fmt.Errorf("IDEMPOTENCY_SECRET is required")
	}
	switch cfg.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return Config{}, fmt.Errorf("STORE_DRIVER must be %q or %q", StoreDriverPostgres, StoreDriverMemory)
	}
	if cfg.ReservationWindow <= 0 {
		return Config{}, fmt.Errorf("RESERVATION_WINDOW must be positive")
	}
	if cfg.IdempotencyMaxAttempts < 1 {
		return Config{}, fmt.Errorf("IDEMPOTENCY_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.SweepBatchSize < 1 {
		return Config{}, fmt.Errorf("SWEEP_BATCH_SIZE must be >= 1")
	}

	return cfg, nil
}

func (c Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

func (c Config) IsDev() bool {
	return c.GoEnv == "dev"
}

func getenv(key string, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func atoiDefault(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}

func durationDefault(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be duration: %w", key, err)
	}
	return d, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
