// config/config.go
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dalemusser/sessionkeep/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix is prepended to every environment variable, e.g.
// SESSIONKEEP_REDIS_ADDR.
const EnvPrefix = "SESSIONKEEP"

// HTTPConfig groups HTTP listener settings.
type HTTPConfig struct {
	HTTPPort            int           `mapstructure:"http_port"`
	MaxRequestBodyBytes int64         `mapstructure:"max_request_body_bytes"` // 0 = unlimited
	ShutdownTimeout     time.Duration `mapstructure:"-"`
}

// RedisConfig groups the connection to the session store.
type RedisConfig struct {
	// URL, when set, wins over Addr/Password/DB,
	// e.g. redis://:secret@localhost:6379/2.
	URL            string        `mapstructure:"redis_url"`
	Addr           string        `mapstructure:"redis_addr"`
	Password       string        `mapstructure:"redis_password"`
	DB             int           `mapstructure:"redis_db"`
	ConnectTimeout time.Duration `mapstructure:"-"`
}

// SessionConfig groups repository and transport behavior.
type SessionConfig struct {
	Namespace string `mapstructure:"session_namespace"`

	// MaxInactive is the default idle timeout. Negative means sessions
	// never expire.
	MaxInactive time.Duration `mapstructure:"-"`

	FlushMode    string `mapstructure:"session_flush_mode"`   // on_save | immediate
	SaveMode     string `mapstructure:"session_save_mode"`    // on_set_attribute | on_get_attribute | always
	IDTransport  string `mapstructure:"session_id_transport"` // cookie | header
	CookieName   string `mapstructure:"session_cookie_name"`
	HeaderName   string `mapstructure:"session_header_name"`
	CookieSecure bool   `mapstructure:"cookie_secure"`
}

// SweepConfig groups the expiration sweep schedule.
type SweepConfig struct {
	Interval    time.Duration `mapstructure:"-"`
	Concurrency int           `mapstructure:"sweep_concurrency"`

	// Lock takes a Redis lock around each sweep so that only one instance
	// sweeps a given minute.
	Lock bool `mapstructure:"sweep_lock"`
}

// AMQPConfig groups the optional session event publisher.
type AMQPConfig struct {
	URL      string `mapstructure:"amqp_url"`
	Exchange string `mapstructure:"amqp_exchange"`
}

// AdminConfig groups the operator endpoints.
type AdminConfig struct {
	// APIKey protects /admin. Empty disables the admin routes.
	APIKey string `mapstructure:"admin_api_key"`

	// RateLimit is the per client IP request rate allowed on /admin, in
	// requests per second. Zero disables limiting.
	RateLimit float64 `mapstructure:"admin_rate_limit"`
	RateBurst int     `mapstructure:"admin_rate_burst"`
}

// CoreConfig holds the configuration of the session service.
type CoreConfig struct {
	// runtime
	Env      string `mapstructure:"env"`       // "dev" | "prod"
	LogLevel string `mapstructure:"log_level"` // debug, info, warn, error …

	HTTP    HTTPConfig    `mapstructure:",squash"`
	Redis   RedisConfig   `mapstructure:",squash"`
	Session SessionConfig `mapstructure:",squash"`
	Sweep   SweepConfig   `mapstructure:",squash"`
	AMQP    AMQPConfig    `mapstructure:",squash"`
	Admin   AdminConfig   `mapstructure:",squash"`
}

// Dump returns a pretty, redacted JSON string of the config for debugging.
// Never logs secrets; use at debug level only.
func (c CoreConfig) Dump() string {
	s := c.redactedCopy()
	b, _ := json.MarshalIndent(s, "", "  ")
	return string(b)
}

func (c CoreConfig) redactedCopy() CoreConfig {
	cp := c
	if cp.Redis.Password != "" {
		cp.Redis.Password = "[REDACTED]"
	}
	if cp.Admin.APIKey != "" {
		cp.Admin.APIKey = "[REDACTED]"
	}
	cp.Redis.URL = redactURL(cp.Redis.URL)
	cp.AMQP.URL = redactURL(cp.AMQP.URL)
	return cp
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "[REDACTED]"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "REDACTED")
	}
	return u.String()
}

// Load merges defaults → config.* file(s) → env vars → explicit flags into one CoreConfig.
// Final precedence (highest wins): flags(explicit) > env > config > defaults.
func Load(logger *zap.Logger) (*CoreConfig, error) {
	return LoadFrom(logger, pflag.CommandLine, os.Args[1:])
}

// LoadFrom is Load with an explicit flag set and argument list.
func LoadFrom(logger *zap.Logger, fs *pflag.FlagSet, args []string) (*CoreConfig, error) {
	// 0) Optionally load .env (safe: real env still wins over .env)
	if err := godotenv.Load(); err == nil && logger != nil {
		logger.Info("Loaded .env file")
	}

	// 1) Define flags (only *explicitly set* flags will override)
	registerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	// 2) Viper + env
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Bind env for all keys so Unmarshal sees them.
	for _, k := range allKeys() {
		_ = v.BindEnv(k)
	}

	// 3) Optional config.* files (yaml|yml|json|toml)
	for _, ext := range [...]string{"yaml", "yml", "json", "toml"} {
		file := "config." + ext
		if _, err := os.Stat(file); err != nil {
			continue
		}
		b, err := os.ReadFile(file)
		if err != nil {
			if logger != nil {
				logger.Warn("cannot read config file", zap.String("file", file), zap.Error(err))
			}
			continue
		}
		v.SetConfigType(ext)
		if err := v.MergeConfig(bytes.NewReader(b)); err != nil {
			if logger != nil {
				logger.Warn("cannot decode config file", zap.String("file", file), zap.Error(err))
			}
			continue
		}
		if logger != nil {
			logger.Info("Loaded config file", zap.String("file", file))
		}
	}

	// 4) Defaults (lowest precedence)
	setDefaults(v)

	// 5) Apply *explicit* flags (highest precedence)
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			_ = v.BindPFlag(f.Name, f)
		}
	})

	// 6) Build struct
	var cfg CoreConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode core config: %w", err)
	}

	// 7) Parse durations
	cfg.HTTP.ShutdownTimeout = durationKey(logger, v, "shutdown_timeout", 15*time.Second)
	cfg.Redis.ConnectTimeout = durationKey(logger, v, "redis_connect_timeout", 10*time.Second)
	cfg.Sweep.Interval = durationKey(logger, v, "sweep_interval", time.Minute)

	maxInactive, err := parseIntervalFlexible(v.Get("session_max_inactive"), 30*time.Minute)
	if err != nil && logger != nil {
		logger.Warn("invalid session_max_inactive; using default 30m",
			zap.Any("value", v.Get("session_max_inactive")), zap.Error(err))
	}
	cfg.Session.MaxInactive = maxInactive

	// 8) Normalize enums
	cfg.Session.FlushMode = strings.ToLower(strings.TrimSpace(cfg.Session.FlushMode))
	cfg.Session.SaveMode = strings.ToLower(strings.TrimSpace(cfg.Session.SaveMode))
	cfg.Session.IDTransport = strings.ToLower(strings.TrimSpace(cfg.Session.IDTransport))

	// 9) Validate
	if err := validateCoreConfig(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func durationKey(logger *zap.Logger, v *viper.Viper, key string, def time.Duration) time.Duration {
	d, err := parseDurationFlexible(v.Get(key), def)
	if err != nil && logger != nil {
		logger.Warn("invalid "+key+"; using default "+def.String(),
			zap.Any("value", v.Get(key)), zap.Error(err))
	}
	return d
}

func registerFlags(fs *pflag.FlagSet) {
	fs.String("env", "dev", `Runtime environment "dev"|"prod"`)
	fs.String("log_level", "debug", "Log level")

	fs.Int("http_port", 8080, "HTTP port")
	fs.Int64("max_request_body_bytes", 1<<20, "Maximum request body size in bytes (0 = unlimited)")
	fs.String("shutdown_timeout", "15s", "Graceful shutdown timeout (e.g., \"15s\")")

	// Redis
	fs.String("redis_url", "", "Redis URL (overrides redis_addr/password/db)")
	fs.String("redis_addr", "localhost:6379", "Redis address")
	fs.String("redis_password", "", "Redis password")
	fs.Int("redis_db", 0, "Redis database number")
	fs.String("redis_connect_timeout", "10s", "Startup timeout for the Redis connection")

	// Sessions
	fs.String("session_namespace", "sessionkeep:session", "Key namespace for session records")
	fs.String("session_max_inactive", "30m", "Default idle timeout (negative = never expires)")
	fs.String("session_flush_mode", "on_save", `When changes are written: "on_save"|"immediate"`)
	fs.String("session_save_mode", "on_set_attribute", `Attributes saved: "on_set_attribute"|"on_get_attribute"|"always"`)
	fs.String("session_id_transport", "cookie", `How the session id travels: "cookie"|"header"`)
	fs.String("session_cookie_name", "SESSION", "Session cookie name")
	fs.String("session_header_name", "X-Auth-Token", "Session header name")
	fs.Bool("cookie_secure", false, "Set the Secure flag on the session cookie")

	// Sweep
	fs.String("sweep_interval", "1m", "How often expiration buckets are swept")
	fs.Int("sweep_concurrency", 16, "Bucket members reclaimed concurrently per sweep")
	fs.Bool("sweep_lock", true, "Hold a Redis lock while sweeping")

	// Events
	fs.String("amqp_url", "", "AMQP URL for session events (empty disables)")
	fs.String("amqp_exchange", "sessionkeep.events", "AMQP exchange for session events")

	// Admin
	fs.String("admin_api_key", "", "API key for /admin routes (empty disables them)")
	fs.Float64("admin_rate_limit", 5, "Requests per second per client IP on /admin (0 = unlimited)")
	fs.Int("admin_rate_burst", 10, "Burst size for admin_rate_limit")
}

func allKeys() []string {
	return []string{
		"env", "log_level",
		"http_port", "max_request_body_bytes", "shutdown_timeout",
		"redis_url", "redis_addr", "redis_password", "redis_db", "redis_connect_timeout",
		"session_namespace", "session_max_inactive", "session_flush_mode", "session_save_mode",
		"session_id_transport", "session_cookie_name", "session_header_name", "cookie_secure",
		"sweep_interval", "sweep_concurrency", "sweep_lock",
		"amqp_url", "amqp_exchange",
		"admin_api_key", "admin_rate_limit", "admin_rate_burst",
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "debug")

	v.SetDefault("http_port", 8080)
	v.SetDefault("max_request_body_bytes", 1<<20)
	v.SetDefault("shutdown_timeout", "15s")

	v.SetDefault("redis_url", "")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_connect_timeout", "10s")

	v.SetDefault("session_namespace", "sessionkeep:session")
	v.SetDefault("session_max_inactive", "30m")
	v.SetDefault("session_flush_mode", "on_save")
	v.SetDefault("session_save_mode", "on_set_attribute")
	v.SetDefault("session_id_transport", "cookie")
	v.SetDefault("session_cookie_name", "SESSION")
	v.SetDefault("session_header_name", "X-Auth-Token")
	v.SetDefault("cookie_secure", false)

	v.SetDefault("sweep_interval", "1m")
	v.SetDefault("sweep_concurrency", 16)
	v.SetDefault("sweep_lock", true)

	v.SetDefault("amqp_url", "")
	v.SetDefault("amqp_exchange", "sessionkeep.events")

	v.SetDefault("admin_api_key", "")
	v.SetDefault("admin_rate_limit", 5)
	v.SetDefault("admin_rate_burst", 10)
}

func validateCoreConfig(cfg CoreConfig) error {
	var missing []string
	var invalid []string

	// Port sanity
	if cfg.HTTP.HTTPPort <= 0 || cfg.HTTP.HTTPPort > 65535 {
		invalid = append(invalid, "http_port must be in 1..65535")
	}

	if cfg.HTTP.MaxRequestBodyBytes < 0 {
		invalid = append(invalid, "max_request_body_bytes must be >= 0")
	}
	if !logging.IsValidLogLevel(cfg.LogLevel) {
		invalid = append(invalid, "log_level must be one of "+strings.Join(logging.ValidLogLevels, ", "))
	}

	// Redis
	if strings.TrimSpace(cfg.Redis.URL) == "" && strings.TrimSpace(cfg.Redis.Addr) == "" {
		missing = append(missing, "SESSIONKEEP_REDIS_URL or SESSIONKEEP_REDIS_ADDR (or --redis_url/--redis_addr)")
	}
	if cfg.Redis.DB < 0 {
		invalid = append(invalid, "redis_db must be >= 0")
	}

	// Sessions
	switch cfg.Session.FlushMode {
	case "on_save", "immediate":
	default:
		invalid = append(invalid, `session_flush_mode must be "on_save" or "immediate"`)
	}
	switch cfg.Session.SaveMode {
	case "on_set_attribute", "on_get_attribute", "always":
	default:
		invalid = append(invalid, `session_save_mode must be "on_set_attribute", "on_get_attribute" or "always"`)
	}
	switch cfg.Session.IDTransport {
	case "cookie":
		if strings.TrimSpace(cfg.Session.CookieName) == "" {
			missing = append(missing, "session_cookie_name for cookie transport")
		}
	case "header":
		if strings.TrimSpace(cfg.Session.HeaderName) == "" {
			missing = append(missing, "session_header_name for header transport")
		}
	default:
		invalid = append(invalid, `session_id_transport must be "cookie" or "header"`)
	}
	if cfg.Env == "prod" && cfg.Session.IDTransport == "cookie" && !cfg.Session.CookieSecure {
		invalid = append(invalid, "cookie_secure must be true when env=prod")
	}

	// Sweep
	if cfg.Sweep.Concurrency <= 0 {
		invalid = append(invalid, "sweep_concurrency must be > 0")
	}
	if cfg.Sweep.Interval > time.Minute {
		invalid = append(invalid, "sweep_interval must be <= 1m so that no bucket is skipped")
	}

	// Events
	if cfg.AMQP.URL != "" && strings.TrimSpace(cfg.AMQP.Exchange) == "" {
		missing = append(missing, "amqp_exchange when amqp_url is set")
	}

	// Admin
	if key := cfg.Admin.APIKey; key != "" && len(key) < 16 {
		invalid = append(invalid, "admin_api_key must be at least 16 characters")
	}
	if cfg.Admin.RateLimit < 0 {
		invalid = append(invalid, "admin_rate_limit must be >= 0")
	}
	if cfg.Admin.RateLimit > 0 && cfg.Admin.RateBurst < 1 {
		invalid = append(invalid, "admin_rate_burst must be >= 1 when admin_rate_limit is set")
	}

	if len(missing) == 0 && len(invalid) == 0 {
		return nil
	}

	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		parts = append(parts, "invalid: "+strings.Join(invalid, ", "))
	}
	return fmt.Errorf("core configuration errors: %s", strings.Join(parts, " | "))
}
