// Package admin serves operator endpoints: trigger a sweep, inspect or
// delete a session by id. Mount it behind apikey.Require.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/dalemusser/sessionkeep/httputil"
	"github.com/dalemusser/sessionkeep/internal/app/features/sessionapi"
	"github.com/dalemusser/sessionkeep/pantry/jobs"
	"github.com/dalemusser/sessionkeep/pantry/session"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Sessions is the part of the repository the admin routes use.
// *session.Repository implements it.
type Sessions interface {
	Find(ctx context.Context, id string) (*session.Tracked, error)
	Delete(ctx context.Context, id string) error
}

// Sweeper runs one expiration sweep on demand.
type Sweeper interface {
	SweepNow() (session.SweepResult, error)
}

// Handler serves the admin routes.
type Handler struct {
	sessions Sessions
	sweeper  Sweeper
	logger   *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(sessions Sessions, sweeper Sweeper, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sessions: sessions, sweeper: sweeper, logger: logger}
}

// Routes returns a router to mount at /admin. It includes the net/http/pprof
// endpoints under /debug.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/sweep", h.sweep)
	r.Get("/sessions/{id}", h.show)
	r.Delete("/sessions/{id}", h.remove)
	r.Mount("/debug", chimw.Profiler())
	return r
}

type sweepResponse struct {
	Bucket    time.Time `json:"bucket"`
	Markers   int       `json:"markers"`
	Reclaimed int       `json:"reclaimed"`
	Error     string    `json:"error,omitempty"`
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.sweeper.SweepNow()
	if jobs.IsSkipped(err) {
		httputil.JSONError(w, http.StatusConflict, "sweep_in_progress", "another instance holds the sweep lock")
		return
	}

	resp := sweepResponse{Bucket: res.Bucket, Markers: res.Markers, Reclaimed: res.Reclaimed}
	status := http.StatusOK
	if err != nil {
		// Member failures still report how much of the bucket was reclaimed.
		h.logger.Warn("admin sweep failed", zap.Error(err))
		resp.Error = err.Error()
		status = http.StatusInternalServerError
	}
	httputil.WriteJSON(w, status, resp)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := h.sessions.Find(r.Context(), id)
	if err != nil {
		h.logger.Error("admin session lookup failed", zap.String("session_id", id), zap.Error(err))
		httputil.JSONError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	if t == nil {
		httputil.JSONError(w, http.StatusNotFound, "not_found", "no live session with that id")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sessionapi.ViewOf(t))
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sessions.Delete(r.Context(), id); err != nil {
		h.logger.Error("admin session delete failed", zap.String("session_id", id), zap.Error(err))
		httputil.JSONError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	h.logger.Info("session deleted by admin", zap.String("session_id", id))
	w.WriteHeader(http.StatusNoContent)
}
