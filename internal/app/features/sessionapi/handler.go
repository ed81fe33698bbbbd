// Package sessionapi exposes the request's own session over HTTP. Every
// route runs inside binding.Middleware; the session is committed before the
// response body is written so store failures surface as 503.
package sessionapi

import (
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/dalemusser/sessionkeep/httputil"
	"github.com/dalemusser/sessionkeep/pantry/session/binding"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler serves the session routes.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{logger: logger}
}

// Routes returns a router to mount at /session.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.show)
	r.Post("/", h.create)
	r.Delete("/", h.invalidate)
	r.Post("/rotate", h.rotate)
	r.Put("/max-inactive", h.setMaxInactive)
	r.Route("/attributes/{name}", func(r chi.Router) {
		r.Get("/", h.getAttribute)
		r.Put("/", h.setAttribute)
		r.Delete("/", h.removeAttribute)
	})
	return r
}

type attributeBody struct {
	Value any `json:"value"`
}

type attributeResponse struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type maxInactiveBody struct {
	// Seconds of allowed inactivity. Negative never expires, zero expires
	// the session immediately.
	Seconds *int64 `json:"seconds"`
}

type rotateResponse struct {
	ID string `json:"id"`
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	s, ok := h.existing(w, r)
	if !ok {
		return
	}
	h.respond(w, r, http.StatusOK, ViewOf(s.Tracked()))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	s, err := binding.Get(r, true)
	if err != nil {
		h.fail(w, "create session", err)
		return
	}
	status := http.StatusOK
	if s.IsNew() {
		status = http.StatusCreated
	}
	h.respond(w, r, status, ViewOf(s.Tracked()))
}

func (h *Handler) invalidate(w http.ResponseWriter, r *http.Request) {
	s, ok := h.existing(w, r)
	if !ok {
		return
	}
	if err := s.Invalidate(r.Context()); err != nil {
		h.fail(w, "invalidate session", err)
		return
	}
	h.respond(w, r, http.StatusNoContent, nil)
}

func (h *Handler) rotate(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.existing(w, r); !ok {
		return
	}
	id, err := binding.FromContext(r.Context()).ChangeSessionID()
	if err != nil {
		h.fail(w, "change session id", err)
		return
	}
	h.respond(w, r, http.StatusOK, rotateResponse{ID: id})
}

// maxIntervalSeconds is the largest interval a time.Duration can hold.
const maxIntervalSeconds = math.MaxInt64 / int64(time.Second)

func (h *Handler) setMaxInactive(w http.ResponseWriter, r *http.Request) {
	var body maxInactiveBody
	if err := httputil.BindJSON(r, &body); err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if body.Seconds == nil {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", "seconds is required")
		return
	}
	if *body.Seconds > maxIntervalSeconds {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", "seconds is too large")
		return
	}

	s, ok := h.existing(w, r)
	if !ok {
		return
	}
	d := time.Duration(*body.Seconds) * time.Second
	if *body.Seconds < 0 {
		d = -time.Second
	}
	s.SetMaxInactiveInterval(d)
	h.respond(w, r, http.StatusOK, ViewOf(s.Tracked()))
}

func (h *Handler) getAttribute(w http.ResponseWriter, r *http.Request) {
	s, ok := h.existing(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	v, found, err := s.Attribute(name)
	if err != nil {
		h.fail(w, "read attribute", err)
		return
	}
	if !found {
		httputil.JSONError(w, http.StatusNotFound, "not_found", "attribute not set")
		return
	}
	h.respond(w, r, http.StatusOK, attributeResponse{Name: name, Value: v})
}

func (h *Handler) setAttribute(w http.ResponseWriter, r *http.Request) {
	var body attributeBody
	if err := httputil.BindJSON(r, &body); err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	s, err := binding.Get(r, true)
	if err != nil {
		h.fail(w, "create session", err)
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.SetAttribute(name, body.Value); err != nil {
		h.fail(w, "set attribute", err)
		return
	}
	h.respond(w, r, http.StatusOK, attributeResponse{Name: name, Value: body.Value})
}

func (h *Handler) removeAttribute(w http.ResponseWriter, r *http.Request) {
	s, ok := h.existing(w, r)
	if !ok {
		return
	}
	if err := s.RemoveAttribute(chi.URLParam(r, "name")); err != nil {
		h.fail(w, "remove attribute", err)
		return
	}
	h.respond(w, r, http.StatusNoContent, nil)
}

// existing returns the request's live session or writes 404.
func (h *Handler) existing(w http.ResponseWriter, r *http.Request) (*binding.Handle, bool) {
	s, err := binding.Get(r, false)
	if err != nil {
		h.fail(w, "resolve session", err)
		return nil, false
	}
	if s == nil {
		httputil.JSONError(w, http.StatusNotFound, "no_session", "request has no live session")
		return nil, false
	}
	return s, true
}

// respond commits the session and writes v, or only the status when v is
// nil.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if b := binding.FromContext(r.Context()); b != nil {
		if err := b.Commit(r.Context()); err != nil {
			h.fail(w, "commit session", err)
			return
		}
	}
	if v == nil {
		w.WriteHeader(status)
		return
	}
	httputil.WriteJSON(w, status, v)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, binding.ErrAlreadyInvalidated):
		httputil.JSONError(w, http.StatusConflict, "invalidated", "session was invalidated during this request")
	case errors.Is(err, binding.ErrNoSession):
		httputil.JSONError(w, http.StatusNotFound, "no_session", "request has no live session")
	case errors.Is(err, binding.ErrNoBinding), errors.Is(err, binding.ErrResponseCommitted):
		h.logger.Error("session handler misconfigured", zap.String("op", op), zap.Error(err))
		httputil.JSONError(w, http.StatusInternalServerError, "internal", "internal error")
	default:
		h.logger.Error("session store failure", zap.String("op", op), zap.Error(err))
		httputil.JSONError(w, http.StatusServiceUnavailable, "store_unavailable", "session store unavailable")
	}
}
