package database

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrorPolicy decides how refused options and failed statements are reported.
type ErrorPolicy string

const (
	// PolicySilent reports nothing.
	PolicySilent ErrorPolicy = "silent"
	// PolicyWarn logs a warning and carries on.
	PolicyWarn ErrorPolicy = "warn"
	// PolicyThrow returns refused options as errors and logs failed
	// statements at error level.
	PolicyThrow ErrorPolicy = "throw"
)

func parsePolicy(s string) (ErrorPolicy, error) {
	switch p := ErrorPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyWarn, nil
	case PolicySilent, PolicyWarn, PolicyThrow:
		return p, nil
	default:
		return "", fmt.Errorf("unknown error policy %q", s)
	}
}

// SessionOptions are the session settings a Conn normalizes on connect.
type SessionOptions struct {
	UseUTF8  bool
	Strict   bool
	TimeZone string
}

// Config describes a connection. Zero values fall back to the documented
// defaults: UTF-8 and strict mode on, no time zone, PolicyWarn.
type Config struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// Dialect overrides detection, for drivers registered under custom names.
	Dialect string `yaml:"dialect"`

	// Persistent is always refused; see UnsupportedOptionError.
	Persistent bool `yaml:"persistent"`

	UseUTF8  *bool  `yaml:"use_utf8"`
	Strict   *bool  `yaml:"strict"`
	TimeZone string `yaml:"time_zone"`

	ErrorPolicy ErrorPolicy `yaml:"error_policy"`

	ConnectTimeout       time.Duration `yaml:"-"`
	ConnectTimeoutString string        `yaml:"connect_timeout"`

	// QueryLog is the path of an SQLite query log, used by cmd/sqlext.
	QueryLog string `yaml:"query_log"`

	Logger   *slog.Logger     `yaml:"-"`
	Observer Observer         `yaml:"-"`
	Now      func() time.Time `yaml:"-"`
}

// Bool returns a pointer to v, for the optional toggles in Config.
func Bool(v bool) *bool {
	return &v
}

// SessionOptions resolves the session toggles against their defaults.
func (c Config) SessionOptions() SessionOptions {
	opts := SessionOptions{UseUTF8: true, Strict: true, TimeZone: strings.TrimSpace(c.TimeZone)}
	if c.UseUTF8 != nil {
		opts.UseUTF8 = *c.UseUTF8
	}
	if c.Strict != nil {
		opts.Strict = *c.Strict
	}
	return opts
}

// Merge returns c with every non-zero field of override applied on top.
func (c Config) Merge(override Config) Config {
	result := c
	if v := strings.TrimSpace(override.Driver); v != "" {
		result.Driver = v
	}
	if override.DSN != "" {
		result.DSN = override.DSN
	}
	if override.User != "" {
		result.User = override.User
	}
	if override.Password != "" {
		result.Password = override.Password
	}
	if v := strings.TrimSpace(override.Dialect); v != "" {
		result.Dialect = v
	}
	if override.Persistent {
		result.Persistent = true
	}
	if override.UseUTF8 != nil {
		result.UseUTF8 = override.UseUTF8
	}
	if override.Strict != nil {
		result.Strict = override.Strict
	}
	if v := strings.TrimSpace(override.TimeZone); v != "" {
		result.TimeZone = v
	}
	if override.ErrorPolicy != "" {
		result.ErrorPolicy = override.ErrorPolicy
	}
	if override.ConnectTimeout > 0 {
		result.ConnectTimeout = override.ConnectTimeout
	}
	if v := strings.TrimSpace(override.ConnectTimeoutString); v != "" {
		result.ConnectTimeoutString = v
	}
	if v := strings.TrimSpace(override.QueryLog); v != "" {
		result.QueryLog = v
	}
	if override.Logger != nil {
		result.Logger = override.Logger
	}
	if override.Observer != nil {
		result.Observer = override.Observer
	}
	if override.Now != nil {
		result.Now = override.Now
	}
	return result
}

func (c *Config) applyDefaults() {
	if c.ErrorPolicy == "" {
		c.ErrorPolicy = PolicyWarn
	}
	if c.ConnectTimeout <= 0 && c.ConnectTimeoutString != "" {
		if parsed, err := time.ParseDuration(c.ConnectTimeoutString); err == nil {
			c.ConnectTimeout = parsed
		}
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// LoadConfig reads the YAML file at path (if any) and applies SQLEXT_*
// environment overrides on top of it.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	if path = strings.TrimSpace(path); path != "" {
		fileCfg, err := loadConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = cfg.Merge(fileCfg)
	}
	envCfg, err := loadConfigEnv()
	if err != nil {
		return Config{}, err
	}
	cfg = cfg.Merge(envCfg)
	cfg.applyDefaults()
	return cfg, nil
}

func loadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if v := strings.TrimSpace(cfg.ConnectTimeoutString); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse connect_timeout: %w", err)
		}
		cfg.ConnectTimeout = parsed
	}
	return cfg, nil
}

func loadConfigEnv() (Config, error) {
	cfg := Config{
		Driver:               os.Getenv("SQLEXT_DRIVER"),
		DSN:                  os.Getenv("SQLEXT_DSN"),
		User:                 os.Getenv("SQLEXT_USER"),
		Password:             os.Getenv("SQLEXT_PASSWORD"),
		Dialect:              os.Getenv("SQLEXT_DIALECT"),
		TimeZone:             os.Getenv("SQLEXT_TIME_ZONE"),
		ErrorPolicy:          ErrorPolicy(strings.TrimSpace(os.Getenv("SQLEXT_ERROR_POLICY"))),
		ConnectTimeoutString: os.Getenv("SQLEXT_CONNECT_TIMEOUT"),
		QueryLog:             os.Getenv("SQLEXT_QUERY_LOG"),
	}
	for name, dst := range map[string]**bool{
		"SQLEXT_USE_UTF8": &cfg.UseUTF8,
		"SQLEXT_STRICT":   &cfg.Strict,
	} {
		raw := strings.TrimSpace(os.Getenv(name))
		if raw == "" {
			continue
		}
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", name, err)
		}
		*dst = Bool(value)
	}
	if raw := strings.TrimSpace(os.Getenv("SQLEXT_PERSISTENT")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse SQLEXT_PERSISTENT: %w", err)
		}
		cfg.Persistent = value
	}
	if cfg.ConnectTimeoutString != "" {
		parsed, err := time.ParseDuration(cfg.ConnectTimeoutString)
		if err != nil {
			return Config{}, fmt.Errorf("parse SQLEXT_CONNECT_TIMEOUT: %w", err)
		}
		cfg.ConnectTimeout = parsed
	}
	return cfg, nil
}
