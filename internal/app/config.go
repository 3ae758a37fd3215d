package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/service/orders"
)

const (
	// StorageDriverMemory хранит данные в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres хранит данные в PostgreSQL.
	StorageDriverPostgres = "postgres"

	// IdempotencyDriverStorage держит ключи идемпотентности в основном хранилище.
	IdempotencyDriverStorage = "storage"
	// IdempotencyDriverRedis держит ключи идемпотентности в Redis.
	IdempotencyDriverRedis = "redis"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string
	LogLevel    string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	RestitutionPolicy orders.RestitutionPolicy
	StockPrecheck     bool

	IdempotencyDriver           string
	RedisAddr                   string
	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	KafkaBrokers       string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",
		LogLevel:    "info",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		RestitutionPolicy: orders.RestitutionExact,
		StockPrecheck:     true,

		IdempotencyDriver:           IdempotencyDriverStorage,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,

		RateLimitRPS:   50,
		RateLimitBurst: 100,
	}
}

// ReadConfigFromEnv накладывает переменные окружения поверх DefaultConfig.
func ReadConfigFromEnv() (Config, error) {
	return readConfig(os.LookupEnv)
}

func readConfig(lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()
	r := envReader{lookup: lookup}

	r.str("IMS_HTTP_ADDR", &cfg.HTTPAddr)
	r.str("IMS_GRPC_ADDR", &cfg.GRPCAddr)
	r.str("IMS_METRICS_ADDR", &cfg.MetricsAddr)
	r.str("IMS_LOG_LEVEL", &cfg.LogLevel)

	r.str("IMS_STORAGE_DRIVER", &cfg.StorageDriver)
	r.str("IMS_POSTGRES_DSN", &cfg.PostgresDSN)
	r.boolean("IMS_POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)

	var policy string
	r.str("IMS_RESTITUTION_POLICY", &policy)
	if policy != "" {
		parsed, err := orders.ParseRestitutionPolicy(policy)
		if err != nil {
			r.fail("IMS_RESTITUTION_POLICY", err)
		}
		cfg.RestitutionPolicy = parsed
	}
	r.boolean("IMS_STOCK_PRECHECK", &cfg.StockPrecheck)

	r.str("IMS_IDEMPOTENCY_DRIVER", &cfg.IdempotencyDriver)
	r.str("IMS_REDIS_ADDR", &cfg.RedisAddr)
	r.duration("IMS_IDEMPOTENCY_TTL", &cfg.IdempotencyTTL)
	r.duration("IMS_IDEMPOTENCY_CLEANUP_INTERVAL", &cfg.IdempotencyCleanupInterval)
	r.integer("IMS_IDEMPOTENCY_CLEANUP_BATCH_SIZE", &cfg.IdempotencyCleanupBatchSize)

	r.str("KAFKA_BROKERS", &cfg.KafkaBrokers)
	r.duration("IMS_OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	r.integer("IMS_OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	r.integer("IMS_OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	r.duration("IMS_OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)

	r.float("IMS_RATE_LIMIT_RPS", &cfg.RateLimitRPS)
	r.integer("IMS_RATE_LIMIT_BURST", &cfg.RateLimitBurst)

	if r.err != nil {
		return Config{}, r.err
	}

	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	cfg.IdempotencyDriver = strings.ToLower(cfg.IdempotencyDriver)
	return cfg, nil
}

// envReader запоминает первую ошибку разбора, чтобы не проверять каждый ключ отдельно.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *envReader) value(key string) (string, bool) {
	raw, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

func (r *envReader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (r *envReader) str(key string, dst *string) {
	if raw, ok := r.value(key); ok {
		*dst = raw
	}
}

func (r *envReader) boolean(key string, dst *bool) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		r.fail(key, err)
		return
	}
	*dst = parsed
}

func (r *envReader) integer(key string, dst *int) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		r.fail(key, err)
		return
	}
	*dst = parsed
}

func (r *envReader) float(key string, dst *float64) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.fail(key, err)
		return
	}
	*dst = parsed
}

func (r *envReader) duration(key string, dst *time.Duration) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		r.fail(key, err)
		return
	}
	*dst = parsed
}

// ConfigureLogger настраивает глобальный logrus: текстовый формат с полным временем и уровень.
func ConfigureLogger(level string) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if strings.TrimSpace(level) == "" {
		return nil
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	log.SetLevel(parsed)
	return nil
}
