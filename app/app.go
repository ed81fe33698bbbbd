// app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dalemusser/sessionkeep/config"
	"github.com/dalemusser/sessionkeep/logging"
	"github.com/dalemusser/sessionkeep/metrics"
	"github.com/dalemusser/sessionkeep/pantry/version"
	"github.com/dalemusser/sessionkeep/server"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Hooks are the integration points a service provides to Run.
// D is the service's bundle of connected backends.
type Hooks[D any] struct {
	// Name is used only for logging.
	Name string

	// LoadConfig returns the core config, usually via config.Load.
	LoadConfig func(logger *zap.Logger) (*config.CoreConfig, error)

	// BuildLogger turns the loaded config into the service logger.
	// Default: logging.BuildLogger(cfg.LogLevel, cfg.Env).
	BuildLogger func(cfg *config.CoreConfig) (*zap.Logger, error)

	// ConnectDB opens backends. It should respect cfg.Redis.ConnectTimeout.
	ConnectDB func(ctx context.Context, cfg *config.CoreConfig, logger *zap.Logger) (D, error)

	// BuildHandler constructs the HTTP handler (router, middleware, routes).
	BuildHandler func(cfg *config.CoreConfig, deps D, logger *zap.Logger) (http.Handler, error)

	// Background tasks run next to the server until ctx is done. A task
	// returning an error stops the whole service.
	Background []func(ctx context.Context, cfg *config.CoreConfig, deps D, logger *zap.Logger) error

	// Close releases what ConnectDB opened. Optional.
	Close func(deps D) error

	// Serve runs the HTTP server. Default: server.ListenAndServeWithContext.
	Serve func(ctx context.Context, cfg *config.CoreConfig, handler http.Handler, logger *zap.Logger) error
}

// Run executes the startup sequence:
//
//  1. Bootstrap logger
//  2. Load config (Hooks.LoadConfig)
//  3. Build the final logger
//  4. Register default metrics
//  5. Connect backends (Hooks.ConnectDB)
//  6. Wire shutdown signals to a context
//  7. Build the HTTP handler (Hooks.BuildHandler)
//  8. Run the server and background tasks until shutdown or first failure
func Run[D any](ctx context.Context, hooks Hooks[D]) error {
	bootstrap := logging.BootstrapLogger()
	defer bootstrap.Sync()
	bootstrap.Info("bootstrap logger initialized", zap.String("app", hooks.Name))

	cfg, err := hooks.LoadConfig(bootstrap)
	if err != nil {
		bootstrap.Error("config load failed", zap.Error(err))
		return fmt.Errorf("load config: %w", err)
	}
	bootstrap.Info("config loaded",
		zap.String("env", cfg.Env),
		zap.String("log_level", cfg.LogLevel),
	)

	buildLogger := hooks.BuildLogger
	if buildLogger == nil {
		buildLogger = func(cfg *config.CoreConfig) (*zap.Logger, error) {
			return logging.BuildLogger(cfg.LogLevel, cfg.Env)
		}
	}
	logger, err := buildLogger(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()
	logger.Info("logger initialized",
		zap.String("app", hooks.Name),
		zap.String("version", version.String()),
	)
	logger.Debug("effective config", zap.String("config", cfg.Dump()))

	metrics.RegisterDefault(logger)

	deps, err := hooks.ConnectDB(ctx, cfg, logger)
	if err != nil {
		logger.Error("backend connect failed", zap.Error(err))
		return fmt.Errorf("connect: %w", err)
	}
	if hooks.Close != nil {
		defer func() {
			if err := hooks.Close(deps); err != nil {
				logger.Warn("closing backends failed", zap.Error(err))
			}
		}()
	}

	ctx, cancel := server.WithShutdownSignals(ctx, logger)
	defer cancel()

	handler, err := hooks.BuildHandler(cfg, deps, logger)
	if err != nil {
		logger.Error("handler build failed", zap.Error(err))
		return fmt.Errorf("build handler: %w", err)
	}

	serve := hooks.Serve
	if serve == nil {
		serve = server.ListenAndServeWithContext
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serve(gctx, cfg, handler, logger)
	})
	for _, task := range hooks.Background {
		g.Go(func() error {
			return task(gctx, cfg, deps, logger)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("service exited with error", zap.Error(err))
		return err
	}
	logger.Info("service stopped")
	return nil
}
