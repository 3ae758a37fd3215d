package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/ims/internal/health"
	"github.com/vladislavdragonenkov/ims/internal/storage/memory"
	"github.com/vladislavdragonenkov/ims/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/ims/internal/storage/redis"
)

// runtimeDependencies — хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	transactor      domain.Transactor
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	checkers        map[string]healthcheck.Checker
	closeFn         func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	var deps *runtimeDependencies

	switch strings.ToLower(strings.TrimSpace(cfg.StorageDriver)) {
	case "", StorageDriverMemory:
		store := memory.NewStore()
		deps = &runtimeDependencies{
			transactor:      store,
			outboxRepo:      store.Outbox(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
			checkers:        map[string]healthcheck.Checker{},
			closeFn:         func() error { return nil },
		}
		logger.Info("using in-memory storage")

	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, errors.New("postgres storage driver requires IMS_POSTGRES_DSN")
		}

		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
		}

		deps = &runtimeDependencies{
			transactor:      store,
			outboxRepo:      postgres.NewOutboxRepository(store),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			checkers: map[string]healthcheck.Checker{
				"postgres": healthcheck.NewSimpleChecker("postgres", store.Ping),
			},
			closeFn: store.Close,
		}
		logger.WithField("auto_migrate", cfg.PostgresAutoMigrate).Info("using postgres storage")

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if err := deps.initIdempotency(ctx, cfg, logger); err != nil {
		_ = deps.closeFn()
		return nil, err
	}

	return deps, nil
}

// initIdempotency переключает ключи идемпотентности на Redis, если это задано конфигурацией.
func (d *runtimeDependencies) initIdempotency(ctx context.Context, cfg Config, logger *log.Entry) error {
	switch strings.ToLower(strings.TrimSpace(cfg.IdempotencyDriver)) {
	case "", IdempotencyDriverStorage:
		return nil
	case IdempotencyDriverRedis:
	default:
		return fmt.Errorf("unsupported idempotency driver %q", cfg.IdempotencyDriver)
	}

	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("redis idempotency driver requires IMS_REDIS_ADDR")
	}

	client, err := redisstore.NewClient(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}

	d.idempotencyRepo = redisstore.NewIdempotencyRepository(client)
	d.checkers["redis"] = healthcheck.NewSimpleChecker("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	d.closeFn = chainClose(d.closeFn, client)

	logger.WithField("addr", cfg.RedisAddr).Info("using redis for idempotency keys")
	return nil
}

func chainClose(closeStorage func() error, client *goredis.Client) func() error {
	return func() error {
		return errors.Join(client.Close(), closeStorage())
	}
}
