// Package binding ties sessions to HTTP requests. Each request gets one
// Binding that resolves the requested session at most once, hands every
// caller the same Handle, and commits the session once the response is
// about to be written.
package binding

import (
	"context"
	"net/http"
	"time"

	"github.com/dalemusser/sessionkeep/pantry/session"
	"go.uber.org/zap"
)

// Repository is the session store a Manager works against.
// *session.Repository implements it.
type Repository interface {
	Create(ctx context.Context) (*session.Tracked, error)
	Find(ctx context.Context, id string) (*session.Tracked, error)
	Save(ctx context.Context, t *session.Tracked) error
	Delete(ctx context.Context, id string) error
}

// Config configures a Manager.
type Config struct {
	// Resolver finds candidate ids in requests.
	// Default: a CookieResolver with DefaultCookieConfig.
	Resolver IDResolver

	// Transmitter sends ids to clients. Default: Resolver, when it also
	// implements IDTransmitter.
	Transmitter IDTransmitter

	// Clock supplies access times. Default: time.Now.
	Clock func() time.Time

	// Logger. Default: no-op.
	Logger *zap.Logger
}

// Manager creates per-request Bindings.
type Manager struct {
	repo        Repository
	resolver    IDResolver
	transmitter IDTransmitter
	now         func() time.Time
	logger      *zap.Logger
}

// NewManager creates a manager over repo.
func NewManager(repo Repository, cfg Config) *Manager {
	if cfg.Resolver == nil {
		cfg.Resolver = NewCookieResolver(DefaultCookieConfig())
	}
	if cfg.Transmitter == nil {
		if t, ok := cfg.Resolver.(IDTransmitter); ok {
			cfg.Transmitter = t
		} else {
			cfg.Transmitter = NewCookieResolver(DefaultCookieConfig())
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Manager{
		repo:        repo,
		resolver:    cfg.Resolver,
		transmitter: cfg.Transmitter,
		now:         cfg.Clock,
		logger:      cfg.Logger,
	}
}

// Begin starts the binding for one request/response exchange. Most callers
// use Middleware instead.
func (m *Manager) Begin(w http.ResponseWriter, r *http.Request) *Binding {
	return &Binding{m: m, w: w, r: r}
}

// Binding is the session state of one request. It is not safe for
// concurrent use.
type Binding struct {
	m *Manager
	w http.ResponseWriter
	r *http.Request

	current *Handle

	// Resolution cache.
	resolved    bool
	requested   *session.Tracked
	requestedID string

	// requestedValid is nil until known.
	requestedValid *bool

	// noSession is set once resolution has found nothing and is never
	// cleared, so later lookups in the same request skip the store.
	noSession bool

	// invalidated is set when a session was invalidated this request.
	invalidated bool
	expireSent  bool

	// sentID is the last id handed to the transmitter.
	sentID string

	responseCommitted bool
}

// resolve looks up the requested session once. Store errors are returned
// without caching so a later call can retry.
func (b *Binding) resolve(ctx context.Context) (*session.Tracked, error) {
	if b.resolved {
		return b.requested, nil
	}

	for _, id := range b.m.resolver.ResolveSessionIDs(b.r) {
		if b.requestedID == "" {
			b.requestedID = id
		}
		t, err := b.m.repo.Find(ctx, id)
		if err != nil {
			return nil, err
		}
		if t != nil {
			b.requested = t
			b.requestedID = id
			break
		}
	}
	b.resolved = true

	if b.requested == nil {
		b.noSession = true
		b.m.logger.Debug("no session found for request; caching result",
			zap.String("requested_id", b.requestedID))
	}
	return b.requested, nil
}

func (b *Binding) clearResolution() {
	b.resolved = false
	b.requested = nil
	b.requestedID = ""
}

// Session returns the request's session. An existing session is bound on
// first use and its access time is updated. When there is none and create
// is true a new session is made; otherwise Session returns (nil, nil).
func (b *Binding) Session(ctx context.Context, create bool) (*Handle, error) {
	if b.current != nil {
		return b.current, nil
	}

	if !b.noSession {
		t, err := b.resolve(ctx)
		if err != nil {
			return nil, err
		}
		if t != nil {
			t.SetLastAccessedTime(b.m.now())
			b.setValid(true)
			b.current = &Handle{b: b, t: t, old: true}
			return b.current, nil
		}
	}

	if !create {
		return nil, nil
	}

	if hb, ok := b.m.transmitter.(HeaderBound); ok && hb.RequiresHeaders() && b.responseCommitted {
		return nil, ErrResponseCommitted
	}

	t, err := b.m.repo.Create(ctx)
	if err != nil {
		return nil, err
	}
	t.SetLastAccessedTime(b.m.now())
	b.m.logger.Debug("session created", zap.String("session_id", t.ID()))

	b.current = &Handle{b: b, t: t}
	return b.current, nil
}

// Current returns the bound handle without resolving, or nil.
func (b *Binding) Current() *Handle {
	return b.current
}

// RequestedSessionID returns the first candidate id the client sent, or
// the one that matched a live session.
func (b *Binding) RequestedSessionID(ctx context.Context) (string, error) {
	if !b.resolved && b.requestedID == "" {
		if _, err := b.resolve(ctx); err != nil {
			return "", err
		}
	}
	return b.requestedID, nil
}

// IsRequestedSessionIDValid reports whether the client's id named a live
// session. Asking resolves the request if needed and counts as an access.
func (b *Binding) IsRequestedSessionIDValid(ctx context.Context) (bool, error) {
	if b.requestedValid != nil {
		return *b.requestedValid, nil
	}
	t, err := b.resolve(ctx)
	if err != nil {
		return false, err
	}
	if t != nil {
		t.SetLastAccessedTime(b.m.now())
	}
	b.setValid(t != nil)
	return *b.requestedValid, nil
}

func (b *Binding) setValid(v bool) {
	if b.requestedValid == nil {
		b.requestedValid = &v
	}
}

// ChangeSessionID gives the bound session a new id, for example after
// login. The client learns the new id at commit.
func (b *Binding) ChangeSessionID() (string, error) {
	if b.current == nil {
		return "", ErrNoSession
	}
	return b.current.t.ChangeID()
}

// Commit saves the bound session and sends its id to the client if the
// client does not already hold it. If the request invalidated its session
// and bound no other, the client is told to forget it. Commit may be
// called any number of times.
func (b *Binding) Commit(ctx context.Context) error {
	h := b.current
	if h == nil {
		if b.invalidated && !b.expireSent {
			b.m.transmitter.ExpireSession(b.w, b.r)
			b.expireSent = true
		}
		return nil
	}

	if err := b.m.repo.Save(ctx, h.t); err != nil {
		return err
	}

	id := h.t.ID()
	known := b.requestedValid != nil && *b.requestedValid && id == b.requestedID
	if !known && id != b.sentID {
		b.m.transmitter.SetSessionID(b.w, b.r, id)
		b.sentID = id
	}
	return nil
}

// invalidate detaches h and deletes its record.
func (b *Binding) invalidate(ctx context.Context, h *Handle) error {
	b.invalidated = true
	b.expireSent = false
	if b.current == h {
		b.current = nil
	}
	b.clearResolution()
	return b.m.repo.Delete(ctx, h.t.PersistedID())
}
