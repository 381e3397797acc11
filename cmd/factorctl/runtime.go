package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/irfndi/etffactor/internal/cache"
	"github.com/irfndi/etffactor/internal/config"
	"github.com/irfndi/etffactor/internal/database"
	"github.com/irfndi/etffactor/internal/engine"
	"github.com/irfndi/etffactor/internal/logging"
)

// runtime holds what a command needs from the configuration. close releases
// it in reverse order.
type runtime struct {
	cfg     *config.Config
	logger  *logging.StandardLogger
	store   cache.Store
	engine  *engine.Engine
	closers []func()
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	_ = r.logger.Sync()
}

// openStore loads the configuration and opens the configured cache.
func openStore(c *cli.Context) (_ *runtime, err error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	r := &runtime{
		cfg:    cfg,
		logger: logging.NewStandardLogger(c.String("log-level"), cfg.Environment).WithService("factorctl"),
	}
	defer func() {
		if err != nil {
			r.close()
		}
	}()

	var rdb *redis.Client
	if cfg.Cache.Backend == "redis" {
		client, err := database.NewRedisConnection(c.Context, cfg.Redis, r.logger.Logger())
		if err != nil {
			return nil, fmt.Errorf("cache backend redis: %w", err)
		}
		r.closers = append(r.closers, client.Close)
		rdb = client.Client
	}

	store, err := cache.Open(c.Context, cfg.Cache, rdb, r.logger.Logger())
	if err != nil {
		return nil, err
	}
	r.store = store
	r.closers = append(r.closers, func() { _ = store.Close() })
	return r, nil
}

// openEngine is openStore plus an engine on top of the store. persist
// connects the result repository as the engine's sink.
func openEngine(c *cli.Context, persist bool) (_ *runtime, err error) {
	r, err := openStore(c)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			r.close()
		}
	}()

	opts := []engine.Option{engine.WithCache(r.store), engine.WithLogger(r.logger)}
	if persist {
		db, err := database.NewDatabaseConnection(c.Context, &r.cfg.Database, r.logger.Logger())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		r.closers = append(r.closers, func() { _ = db.Close() })
		repo := database.NewFactorRepository(db, r.logger.Logger())
		if err := repo.EnsureSchema(c.Context); err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithSink(repo))
	}

	eng, err := engine.New(engine.ConfigFrom(r.cfg), opts...)
	if err != nil {
		return nil, err
	}
	r.engine = eng
	r.closers = append(r.closers, func() { _ = eng.Close() })
	return r, nil
}
