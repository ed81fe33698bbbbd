// health/health.go
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dalemusser/sessionkeep/httputil"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Check is a single probe. It returns nil when the dependency is healthy.
type Check func(ctx context.Context) error

// Response is the JSON body of the health endpoint.
type Response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// DefaultTimeout bounds each check.
const DefaultTimeout = 2 * time.Second

// Handler runs checks concurrently on each request, each bounded by
// DefaultTimeout. With no checks it is a plain liveness probe. Any failing
// check turns the response into a 503.
func Handler(checks map[string]Check, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(checks) == 0 {
			httputil.WriteJSON(w, http.StatusOK, Response{Status: "ok"})
			return
		}

		var (
			mu      sync.Mutex
			results = make(map[string]string, len(checks))
			failed  bool
		)

		var g errgroup.Group
		for name, check := range checks {
			g.Go(func() error {
				msg := "ok"
				if check != nil {
					ctx, cancel := context.WithTimeout(r.Context(), DefaultTimeout)
					defer cancel()
					if err := check(ctx); err != nil {
						msg = "error: " + err.Error()
						logger.Warn("health check failed",
							zap.String("check", name),
							zap.Error(err))
					}
				}

				mu.Lock()
				results[name] = msg
				if msg != "ok" {
					failed = true
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		if failed {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, Response{Status: "error", Checks: results})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, Response{Status: "ok", Checks: results})
	})
}

// Mount attaches GET /health.
func Mount(r chi.Router, checks map[string]Check, logger *zap.Logger) {
	MountAt(r, "/health", checks, logger)
}

// MountAt attaches the handler at path, e.g. "/ready".
func MountAt(r chi.Router, path string, checks map[string]Check, logger *zap.Logger) {
	r.Method(http.MethodGet, path, Handler(checks, logger))
}
