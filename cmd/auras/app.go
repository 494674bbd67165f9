package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-auras-backend/internal/autopilot"
	"github.com/tbourn/go-auras-backend/internal/catalog"
	"github.com/tbourn/go-auras-backend/internal/config"
	"github.com/tbourn/go-auras-backend/internal/kv"
	"github.com/tbourn/go-auras-backend/internal/llm"
	"github.com/tbourn/go-auras-backend/internal/relationship"
	"github.com/tbourn/go-auras-backend/internal/repo"
	"github.com/tbourn/go-auras-backend/internal/search"
	"github.com/tbourn/go-auras-backend/internal/services"
	"github.com/tbourn/go-auras-backend/internal/shardqueue"
)

// memoryDSN keeps idempotency records in process when the store itself is
// in memory.
const memoryDSN = "file:auras_idempotency?mode=memory&cache=shared"

// app holds the wired dependencies shared by every subcommand.
type app struct {
	cfg   config.Config
	db    *gorm.DB
	exec  *shardqueue.ShardExecutor
	store *relationship.Store
	svc   *services.RelationshipService

	closers []func() error
}

// newApp opens the configured backend and builds the service on top of it.
func newApp(ctx context.Context, cfg config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	dsn := cfg.DBPath
	if cfg.Store.Backend == config.BackendMemory {
		dsn = memoryDSN
	}
	a.db, err = repo.OpenSQLite(dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	a.closers = append(a.closers, func() error {
		sqlDB, err := a.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	if err := repo.AutoMigrate(a.db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	backend, err := a.openBackend(ctx)
	if err != nil {
		return nil, err
	}

	a.exec = shardqueue.New(shardqueue.Config{
		Shards:         cfg.Queue.Shards,
		QueueSize:      cfg.Queue.Size,
		EnqueueTimeout: cfg.Queue.EnqueueTimeout,
		MaxAttempts:    cfg.Queue.MaxAttempts,
		ErrorHandler: func(key string, err error) {
			log.Error().Err(err).Str("counterpart_id", key).Msg("queued write failed")
		},
	})
	a.closers = append(a.closers, a.exec.Close)

	a.store = relationship.New(backend,
		relationship.WithExecutor(a.exec),
		relationship.WithLogger(log.Logger.With().Str("component", "relationship").Logger()),
	)

	cat, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}

	// A nil Completer keeps every collaborator on its local fallback.
	var completer llm.Completer
	var collab autopilot.Collaborator
	if cfg.LLM.Enabled() {
		client := llm.NewOpenRouterClient(cfg.LLM)
		completer = client
		collab = llm.NewAutopilotCollaborator(client, nil)
		log.Info().Str("model", client.Model()).Msg("text generation enabled")
	} else {
		log.Info().Msg("OPENROUTER_API_KEY not set, using local replies")
	}

	a.svc = &services.RelationshipService{
		Store:           a.store,
		Catalog:         cat,
		Replier:         llm.NewPersonaReplier(completer, nil),
		Autopilot:       autopilot.NewSimulator(collab),
		MaxMessageRunes: cfg.MaxMessageRunes,
		SearchOptions:   searchOptions(cfg),
	}
	return a, nil
}

func searchOptions(cfg config.Config) []search.Option {
	var opts []search.Option
	if len(cfg.SearchStopwords) > 0 {
		opts = append(opts, search.WithStopwords(cfg.SearchStopwords))
	}
	if cfg.SearchMaxDocs > 0 {
		opts = append(opts, search.WithMaxDocs(cfg.SearchMaxDocs))
	}
	return opts
}

// openBackend returns the key-value backend selected by STORE_BACKEND.
// Redis is retried with exponential backoff while it comes up.
func (a *app) openBackend(ctx context.Context) (kv.Backend, error) {
	switch a.cfg.Store.Backend {
	case config.BackendMemory:
		return kv.NewMemory(), nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Store.RedisAddr,
			Password: a.cfg.Store.RedisPassword,
			DB:       a.cfg.Store.RedisDB,
		})
		a.closers = append(a.closers, client.Close)

		b := backoff.WithContext(backoff.WithMaxRetries(newPingBackoff(), 5), ctx)
		err := backoff.RetryNotify(func() error {
			return client.Ping(ctx).Err()
		}, b, func(err error, wait time.Duration) {
			log.Warn().Err(err).Dur("retry_in", wait).Str("addr", a.cfg.Store.RedisAddr).Msg("redis not ready")
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", a.cfg.Store.RedisAddr, err)
		}
		return kv.NewRedis(client, kv.RedisOptions{Prefix: a.cfg.Store.RedisPrefix}), nil
	default:
		return repo.NewKVStore(a.db), nil
	}
}

func newPingBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 3 * time.Second
	return b
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	cat, err := catalog.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog %q: %w", path, err)
	}
	return cat, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
