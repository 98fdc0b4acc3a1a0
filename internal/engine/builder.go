package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	sagadb "helmsman/internal/db/saga"
	"helmsman/internal/invoke"
	"helmsman/internal/lease"
	"helmsman/internal/observability"
	"helmsman/internal/saga"
	"helmsman/internal/workflow"
)

// BuildConfig selects the backing infrastructure for a Service. Empty
// DatabaseURL or RedisURL fall back to in-memory implementations, so the
// orchestrator stays runnable on a laptop with no external services.
type BuildConfig struct {
	DatabaseURL   string
	RedisURL      string
	ServiceAddrs  map[string]string
	MaxConcurrent int64
	LeaseTTL      time.Duration
	Metrics       *observability.Metrics
	Events        Publisher
}

// Build wires a Service from config. The returned cleanup closes any
// external resources (DB, Redis, gRPC connections).
func Build(ctx context.Context, cfg BuildConfig, log zerolog.Logger) (*Service, func(), error) {
	cleanups := []func(){}
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	var definitions workflow.DefinitionStore = workflow.NewInMemoryDefinitionStore()
	var states saga.StateStore = saga.NewInMemoryStateStore()

	if cfg.DatabaseURL != "" {
		sqlDB, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.Warn().Err(err).Msg("postgres open failed, falling back to in-memory stores")
		} else {
			setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defStore, defErr := sagadb.NewDefinitionStoreWithSchema(setupCtx, sqlDB)
			var stateStore *sagadb.StateStore
			var stateErr error
			if defErr == nil {
				stateStore, stateErr = sagadb.NewStateStoreWithSchema(setupCtx, sqlDB)
			}
			cancel()

			if defErr != nil || stateErr != nil {
				err := defErr
				if err == nil {
					err = stateErr
				}
				log.Warn().Err(err).Msg("postgres init failed, falling back to in-memory stores")
				_ = sqlDB.Close()
			} else {
				log.Info().Msg("postgres persistence enabled")
				definitions = defStore
				states = stateStore
				cleanups = append(cleanups, func() {
					if err := sqlDB.Close(); err != nil {
						log.Warn().Err(err).Msg("close postgres")
					}
				})
			}
		}
	}

	if cached, err := workflow.NewCachedDefinitionStore(definitions); err != nil {
		log.Warn().Err(err).Msg("definition cache init failed, serving uncached")
	} else {
		definitions = cached
		cleanups = append(cleanups, cached.Close)
	}

	var leases lease.Manager = lease.NewInMemoryManager()
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("redis url invalid, falling back to in-memory leases")
		} else {
			client := redis.NewClient(redisOpts)
			log.Info().Msg("redis saga leases enabled")
			leases = lease.NewRedisManager(client)
			cleanups = append(cleanups, func() {
				if err := client.Close(); err != nil {
					log.Warn().Err(err).Msg("close redis")
				}
			})
		}
	}

	var invoker invoke.Invoker
	if len(cfg.ServiceAddrs) > 0 {
		grpcInvoker := invoke.NewGRPCInvoker(invoke.StaticResolver(cfg.ServiceAddrs))
		invoker = grpcInvoker
		cleanups = append(cleanups, func() {
			if err := grpcInvoker.Close(); err != nil {
				log.Warn().Err(err).Msg("close grpc invoker")
			}
		})
	} else {
		log.Warn().Msg("no service addresses configured, using in-memory invoker")
		invoker = invoke.NewInMemoryInvoker()
	}

	eng := NewEngine(definitions, states, invoker,
		WithLeases(leases, cfg.LeaseTTL),
		WithLogger(log),
		WithMetrics(cfg.Metrics),
		WithEvents(cfg.Events),
	)
	svc := NewService(definitions, states, eng, NewPool(cfg.MaxConcurrent),
		WithServiceLogger(log),
		WithServiceMetrics(cfg.Metrics),
		WithRunContext(ctx),
	)
	return svc, cleanup, nil
}
