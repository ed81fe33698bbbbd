package bootstrap

import (
	"fmt"

	"github.com/dalemusser/sessionkeep/config"
	"github.com/dalemusser/sessionkeep/pantry/session"
	"github.com/dalemusser/sessionkeep/pantry/session/binding"
)

func flushMode(s string) (session.FlushMode, error) {
	switch s {
	case "", "on_save":
		return session.FlushOnSave, nil
	case "immediate":
		return session.FlushImmediate, nil
	}
	return 0, fmt.Errorf("unknown session flush mode %q", s)
}

func saveMode(s string) (session.SaveMode, error) {
	switch s {
	case "", "on_set_attribute":
		return session.SaveOnSetAttribute, nil
	case "on_get_attribute":
		return session.SaveOnGetAttribute, nil
	case "always":
		return session.SaveAlways, nil
	}
	return 0, fmt.Errorf("unknown session save mode %q", s)
}

// resolver picks how session ids travel between client and service.
func resolver(cfg config.SessionConfig) (binding.IDResolver, error) {
	switch cfg.IDTransport {
	case "", "cookie":
		cc := binding.DefaultCookieConfig()
		if cfg.CookieName != "" {
			cc.Name = cfg.CookieName
		}
		cc.Secure = cfg.CookieSecure
		return binding.NewCookieResolver(cc), nil
	case "header":
		return binding.NewHeaderResolver(cfg.HeaderName), nil
	}
	return nil, fmt.Errorf("unknown session id transport %q", cfg.IDTransport)
}
