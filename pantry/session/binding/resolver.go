// binding/resolver.go
package binding

import (
	"encoding/base64"
	"net/http"
	"time"
)

// IDResolver finds candidate session ids in a request, in order of
// preference.
type IDResolver interface {
	ResolveSessionIDs(r *http.Request) []string
}

// IDTransmitter tells the client which session id to use, or that its
// session is gone.
type IDTransmitter interface {
	SetSessionID(w http.ResponseWriter, r *http.Request, id string)
	ExpireSession(w http.ResponseWriter, r *http.Request)
}

// HeaderBound is implemented by transmitters that can only deliver an id
// while the response headers are still writable. A binding refuses to
// create a session for them once the response is committed.
type HeaderBound interface {
	RequiresHeaders() bool
}

// CookieConfig configures a CookieResolver.
type CookieConfig struct {
	// Name is the cookie name.
	// Default: "SESSION".
	Name string

	// Path is the cookie path.
	// Default: "/".
	Path string

	// Domain is the cookie domain.
	// Default: "" (current domain).
	Domain string

	// MaxAge is the cookie lifetime. Zero makes a browser-session cookie.
	MaxAge time.Duration

	// Secure sets the Secure flag on the cookie.
	Secure bool

	// HttpOnly sets the HttpOnly flag on the cookie.
	HttpOnly bool

	// SameSite sets the SameSite attribute.
	// Default: http.SameSiteLaxMode.
	SameSite http.SameSite

	// RawValue stores the id as is instead of base64 encoding it.
	RawValue bool
}

// DefaultCookieConfig returns sensible defaults.
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		Name:     "SESSION",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// CookieResolver carries the session id in a cookie. It is both an
// IDResolver and an IDTransmitter.
type CookieResolver struct {
	cfg CookieConfig
}

// NewCookieResolver creates a cookie resolver.
func NewCookieResolver(cfg CookieConfig) *CookieResolver {
	if cfg.Name == "" {
		cfg.Name = "SESSION"
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.SameSite == 0 {
		cfg.SameSite = http.SameSiteLaxMode
	}
	return &CookieResolver{cfg: cfg}
}

// Name returns the cookie name.
func (c *CookieResolver) Name() string {
	return c.cfg.Name
}

// ResolveSessionIDs returns the value of every cookie with the configured
// name. Values that fail to decode are skipped.
func (c *CookieResolver) ResolveSessionIDs(r *http.Request) []string {
	var ids []string
	for _, ck := range r.Cookies() {
		if ck.Name != c.cfg.Name || ck.Value == "" {
			continue
		}
		id := ck.Value
		if !c.cfg.RawValue {
			raw, err := base64.StdEncoding.DecodeString(ck.Value)
			if err != nil {
				continue
			}
			id = string(raw)
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// SetSessionID writes the session cookie.
func (c *CookieResolver) SetSessionID(w http.ResponseWriter, r *http.Request, id string) {
	value := id
	if !c.cfg.RawValue {
		value = base64.StdEncoding.EncodeToString([]byte(id))
	}
	http.SetCookie(w, c.cookie(value, int(c.cfg.MaxAge.Seconds())))
}

// ExpireSession clears the session cookie.
func (c *CookieResolver) ExpireSession(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, c.cookie("", -1))
}

// RequiresHeaders implements HeaderBound.
func (c *CookieResolver) RequiresHeaders() bool {
	return true
}

func (c *CookieResolver) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     c.cfg.Name,
		Value:    value,
		Path:     c.cfg.Path,
		Domain:   c.cfg.Domain,
		MaxAge:   maxAge,
		Secure:   c.cfg.Secure,
		HttpOnly: c.cfg.HttpOnly,
		SameSite: c.cfg.SameSite,
	}
}

// DefaultHeaderName is the header used by HeaderResolver when none is set.
const DefaultHeaderName = "X-Auth-Token"

// HeaderResolver carries the session id in a request and response header,
// for clients that do not keep cookies.
type HeaderResolver struct {
	name string
}

// NewHeaderResolver creates a header resolver. An empty name uses
// DefaultHeaderName.
func NewHeaderResolver(name string) *HeaderResolver {
	if name == "" {
		name = DefaultHeaderName
	}
	return &HeaderResolver{name: http.CanonicalHeaderKey(name)}
}

// ResolveSessionIDs returns the header value, if any.
func (h *HeaderResolver) ResolveSessionIDs(r *http.Request) []string {
	if v := r.Header.Get(h.name); v != "" {
		return []string{v}
	}
	return nil
}

// SetSessionID sets the response header to id.
func (h *HeaderResolver) SetSessionID(w http.ResponseWriter, r *http.Request, id string) {
	w.Header().Set(h.name, id)
}

// ExpireSession sets the response header to an empty value.
func (h *HeaderResolver) ExpireSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(h.name, "")
}
