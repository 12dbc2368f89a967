package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/pms-scheduling/internal/appointment"
	"github.com/hackgods/pms-scheduling/internal/config"
	"github.com/hackgods/pms-scheduling/internal/db"
	"github.com/hackgods/pms-scheduling/internal/events"
	"github.com/hackgods/pms-scheduling/internal/lock"
	redisclient "github.com/hackgods/pms-scheduling/internal/redis"
)

// App holds the process-wide connections and the scheduling service built on them.
type App struct {
	Pool      *pgxpool.Pool
	Redis     *redis.Client // nil when REDIS_ADDR is unset
	Publisher events.Publisher
	Service   *appointment.Service
}

// Open connects Postgres, applies pending migrations and wires the service. Redis and AMQP
// are optional: without Redis bookings serialize in-process, without AMQP events are
// dropped. reg may be nil to skip metrics.
func Open(ctx context.Context, cfg config.Config, log zerolog.Logger, reg prometheus.Registerer) (*App, error) {
	a := &App{Publisher: events.Nop{}}

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresConns)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.Pool = pool
	log.Info().Msg("connected to Postgres")

	applied, err := db.Migrate(ctx, pool)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info().Int("applied", applied).Msg("migrations up to date")

	var locker lock.Locker = lock.NewLocalLocker(cfg.LockWait)
	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = rdb
		locker = lock.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	} else {
		log.Warn().Msg("REDIS_ADDR not set, booking locks are process-local")
	}

	if cfg.AMQPURL != "" {
		pub, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Publisher = pub
		log.Info().Str("exchange", cfg.AMQPExchange).Msg("connected to AMQP")
	}

	opts := []appointment.Option{
		appointment.WithLogger(log),
		appointment.WithPublisher(a.Publisher),
		appointment.WithRuleCache(appointment.NewRuleCache(cfg.RuleCacheSize, cfg.RuleCacheTTL)),
	}
	if reg != nil {
		opts = append(opts, appointment.WithMetrics(appointment.NewMetrics(reg)))
	}
	a.Service = appointment.NewService(appointment.NewPgStore(pool), locker, cfg, opts...)

	return a, nil
}

// RedisPing reports Redis health for the readiness probe, or nil when Redis is off.
func (a *App) RedisPing() func(ctx context.Context) error {
	if a.Redis == nil {
		return nil
	}
	return func(ctx context.Context) error {
		return a.Redis.Ping(ctx).Err()
	}
}

// Close releases every connection Open made, in reverse order.
func (a *App) Close() error {
	var errs []error
	if a.Publisher != nil {
		errs = append(errs, a.Publisher.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	return errors.Join(errs...)
}
