// Package bootstrap wires sessiond into the app lifecycle.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dalemusser/sessionkeep/app"
	"github.com/dalemusser/sessionkeep/auth/apikey"
	"github.com/dalemusser/sessionkeep/config"
	"github.com/dalemusser/sessionkeep/httputil"
	"github.com/dalemusser/sessionkeep/internal/app/features/admin"
	"github.com/dalemusser/sessionkeep/internal/app/features/sessionapi"
	"github.com/dalemusser/sessionkeep/logging"
	"github.com/dalemusser/sessionkeep/metrics"
	redisdb "github.com/dalemusser/sessionkeep/pantry/db/redis"
	"github.com/dalemusser/sessionkeep/pantry/health"
	"github.com/dalemusser/sessionkeep/pantry/mq/rabbitmq"
	"github.com/dalemusser/sessionkeep/pantry/ratelimit"
	"github.com/dalemusser/sessionkeep/pantry/version"
	"github.com/dalemusser/sessionkeep/router"
	"go.uber.org/zap"
)

// LoadConfig loads the core config from flags, env and config files.
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, error) {
	return config.Load(logger)
}

// ConnectDB connects Redis and, when configured, the AMQP broker, then
// builds the session store on top.
func ConnectDB(ctx context.Context, cfg *config.CoreConfig, logger *zap.Logger) (DBDeps, error) {
	var deps DBDeps

	client, err := redisdb.Connect(ctx, redisdb.Config{
		URL:            cfg.Redis.URL,
		Addr:           cfg.Redis.Addr,
		Password:       cfg.Redis.Password,
		DB:             cfg.Redis.DB,
		ConnectTimeout: cfg.Redis.ConnectTimeout,
	})
	if err != nil {
		return deps, err
	}
	deps.Redis = client
	logger.Info("connected to redis")

	var opts StoreOptions
	if cfg.AMQP.URL != "" {
		conn, err := rabbitmq.Connect(cfg.AMQP.URL, cfg.Redis.ConnectTimeout)
		if err != nil {
			deps.Close()
			return DBDeps{}, err
		}
		deps.MQ = conn

		ch, err := conn.OpenEventChannel(cfg.AMQP.Exchange)
		if err != nil {
			deps.Close()
			return DBDeps{}, err
		}
		deps.MQChannel = ch
		opts.Events = rabbitmq.NewEventPublisher(ch, cfg.AMQP.Exchange)
		logger.Info("publishing session events", zap.String("exchange", cfg.AMQP.Exchange))
	}

	store, err := NewStore(cfg, client, opts, logger)
	if err != nil {
		deps.Close()
		return DBDeps{}, fmt.Errorf("build session store: %w", err)
	}
	deps.Store = store
	return deps, nil
}

// BuildHandler constructs the HTTP handler for the service.
func BuildHandler(cfg *config.CoreConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	httputil.SetLogger(logger)

	r := router.New(cfg, deps.Store.Sessions, logger)

	checks := map[string]health.Check{
		"redis": redisdb.HealthCheck(deps.Redis),
	}
	if deps.MQ != nil {
		checks["amqp"] = rabbitmq.HealthCheck(deps.MQ)
	}
	health.Mount(r, checks, logger)
	r.Handle("/metrics", metrics.Handler())
	version.Mount(r, logging.ServiceName)

	r.Mount("/session", sessionapi.Routes(sessionapi.NewHandler(logger)))

	if cfg.Admin.APIKey != "" {
		h := admin.NewHandler(deps.Store.Repo, deps.Store.Sweeper, logger)
		r.With(
			ratelimit.Middleware(cfg.Admin.RateLimit, cfg.Admin.RateBurst, logger),
			apikey.Require(cfg.Admin.APIKey, apikey.DefaultRealm, logger),
		).Mount("/admin", admin.Routes(h))
	}

	return r, nil
}

// RunSweeper runs the expiration sweep schedule until ctx is done.
func RunSweeper(ctx context.Context, cfg *config.CoreConfig, deps DBDeps, logger *zap.Logger) error {
	return deps.Store.Scheduler.Run(ctx, cfg.HTTP.ShutdownTimeout)
}

// Close releases the backends opened by ConnectDB.
func Close(deps DBDeps) error {
	return deps.Close()
}

// Hooks wires sessiond into the app lifecycle.
var Hooks = app.Hooks[DBDeps]{
	Name:         logging.ServiceName,
	LoadConfig:   LoadConfig,
	ConnectDB:    ConnectDB,
	BuildHandler: BuildHandler,
	Background: []func(context.Context, *config.CoreConfig, DBDeps, *zap.Logger) error{
		RunSweeper,
	},
	Close: Close,
}
