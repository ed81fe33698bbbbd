// binding/middleware.go
package binding

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// contextKey is the type for context keys.
type contextKey string

const bindingContextKey contextKey = "session.binding"

// Middleware returns HTTP middleware that gives every request a Binding,
// available via FromContext(r.Context()). The session is committed before
// the first byte of the response is written and again when the handler
// returns, including when it panics. Nested use reuses the outer binding.
func Middleware(m *Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if FromContext(r.Context()) != nil {
				next.ServeHTTP(w, r)
				return
			}

			b := m.Begin(w, r)
			r = r.WithContext(context.WithValue(r.Context(), bindingContextKey, b))
			b.r = r

			cw := &commitWriter{ResponseWriter: w, b: b}

			defer func() {
				if err := b.Commit(r.Context()); err != nil {
					m.logger.Error("session commit failed",
						zap.String("path", r.URL.Path),
						zap.Error(err))
				}
			}()

			next.ServeHTTP(cw, r)
		})
	}
}

// FromContext retrieves the binding from the request context.
// Returns nil if no binding is in context (middleware not used).
func FromContext(ctx context.Context) *Binding {
	b, _ := ctx.Value(bindingContextKey).(*Binding)
	return b
}

// Get returns the request's session, creating one when create is true.
func Get(r *http.Request, create bool) (*Handle, error) {
	b := FromContext(r.Context())
	if b == nil {
		return nil, ErrNoBinding
	}
	return b.Session(r.Context(), create)
}

// SessionID returns the id of the bound session, or "" when there is none.
// It never resolves or creates.
func SessionID(ctx context.Context) string {
	b := FromContext(ctx)
	if b == nil || b.current == nil {
		return ""
	}
	return b.current.ID()
}

// Include commits the request's session and then serves h, so the
// included handler sees the session as stored.
func Include(w http.ResponseWriter, r *http.Request, h http.Handler) error {
	if b := FromContext(r.Context()); b != nil {
		if err := b.Commit(r.Context()); err != nil {
			return err
		}
	}
	h.ServeHTTP(w, r)
	return nil
}

// RequireSession middleware returns 401 if the request has no live session.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, err := Get(r, false)
		if err != nil || h == nil {
			http.Error(w, "session required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAttribute middleware returns 401 if the session doesn't hold key.
func RequireAttribute(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h, err := Get(r, false)
			if err != nil || h == nil {
				http.Error(w, "session required", http.StatusUnauthorized)
				return
			}
			if _, ok, err := h.Attribute(key); err != nil || !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// commitWriter commits the session before the response is committed.
type commitWriter struct {
	http.ResponseWriter
	b       *Binding
	written bool
}

func (cw *commitWriter) commit() {
	if cw.written {
		return
	}
	cw.written = true
	if err := cw.b.Commit(cw.b.r.Context()); err != nil {
		cw.b.m.logger.Error("session commit before response failed",
			zap.String("path", cw.b.r.URL.Path),
			zap.Error(err))
	}
	cw.b.responseCommitted = true
}

func (cw *commitWriter) WriteHeader(code int) {
	cw.commit()
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *commitWriter) Write(p []byte) (int, error) {
	cw.commit()
	return cw.ResponseWriter.Write(p)
}

// Flush implements http.Flusher.
func (cw *commitWriter) Flush() {
	cw.commit()
	if f, ok := cw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (cw *commitWriter) Unwrap() http.ResponseWriter {
	return cw.ResponseWriter
}
