// router/router.go
package router

import (
	"github.com/dalemusser/sessionkeep/config"
	"github.com/dalemusser/sessionkeep/logging"
	"github.com/dalemusser/sessionkeep/metrics"
	"github.com/dalemusser/sessionkeep/middleware"
	"github.com/dalemusser/sessionkeep/pantry/session/binding"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// New creates a chi.Router with the standard middleware stack:
// - RequestID
// - RealIP
// - Recoverer (panic → 500)
// - body size limit (MaxRequestBodyBytes)
// - metrics HTTP middleware
// - session binding (one Binding per request, committed before the response)
// - request logging, including the bound session id
// - NotFound / MethodNotAllowed JSON handlers
// Health, metrics and session routes are mounted by the caller.
func New(coreCfg *config.CoreConfig, sessions *binding.Manager, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(logging.Recoverer(logger))

	r.Use(middleware.LimitBodySize(coreCfg.HTTP.MaxRequestBodyBytes))

	r.Use(metrics.HTTPMetrics)

	// The binding has to wrap the access log so the log sees the session.
	r.Use(binding.Middleware(sessions))
	r.Use(logging.RequestLogger(logger))

	r.NotFound(middleware.NotFoundHandler(logger))
	r.MethodNotAllowed(middleware.MethodNotAllowedHandler(logger))

	return r
}
