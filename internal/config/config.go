// Package config loads fieldsync settings from a YAML file with FIELDSYNC_*
// environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvOperatorID = "FIELDSYNC_OPERATOR_ID"
	EnvServerURL  = "FIELDSYNC_SERVER_URL"
	EnvFeedURL    = "FIELDSYNC_FEED_URL"
	EnvToken      = "FIELDSYNC_TOKEN"
	EnvDBPath     = "FIELDSYNC_DB"
	EnvLogLevel   = "FIELDSYNC_LOG_LEVEL"
	EnvLogFormat  = "FIELDSYNC_LOG_FORMAT"
)

// Config is the full runtime configuration.
type Config struct {
	OperatorID string   `yaml:"operator_id"`
	Languages  []string `yaml:"languages"`

	Server struct {
		BaseURL string        `yaml:"base_url"`
		FeedURL string        `yaml:"feed_url"`
		Token   string        `yaml:"token"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"server"`

	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`

	Intervals struct {
		Reconcile time.Duration `yaml:"reconcile"`
		Heartbeat time.Duration `yaml:"heartbeat"`
		Sweep     time.Duration `yaml:"sweep"`
	} `yaml:"intervals"`

	Health struct {
		Window int `yaml:"window"`
	} `yaml:"health"`

	Session struct {
		LogCapacity int           `yaml:"log_capacity"`
		NoticeTTL   time.Duration `yaml:"notice_ttl"`
	} `yaml:"session"`

	Log struct {
		Format string `yaml:"format"`
		Level  string `yaml:"level"`
	} `yaml:"log"`
}

// Default returns a configuration with every optional key filled in.
func Default() *Config {
	c := &Config{Languages: []string{"en", "es"}}
	c.Server.Timeout = 10 * time.Second
	c.Store.Path = "fieldsync.db"
	c.Intervals.Reconcile = 60 * time.Second
	c.Intervals.Heartbeat = 15 * time.Second
	c.Intervals.Sweep = time.Second
	c.Health.Window = 3
	c.Session.LogCapacity = 200
	c.Session.NoticeTTL = 5 * time.Second
	c.Log.Format = "text"
	c.Log.Level = "info"
	return c
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, c); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	c.ApplyEnv(os.LookupEnv)
	return c, nil
}

// Parse decodes YAML into c. Unknown keys are rejected.
func Parse(data []byte, c *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from lookup, normally os.LookupEnv. Empty values
// are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvOperatorID, &c.OperatorID)
	set(EnvServerURL, &c.Server.BaseURL)
	set(EnvFeedURL, &c.Server.FeedURL)
	set(EnvToken, &c.Server.Token)
	set(EnvDBPath, &c.Store.Path)
	set(EnvLogLevel, &c.Log.Level)
	set(EnvLogFormat, &c.Log.Format)
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if c.OperatorID == "" {
		errs = append(errs, errors.New("operator_id is required"))
	}
	if c.Server.BaseURL == "" {
		errs = append(errs, errors.New("server.base_url is required"))
	} else if u, err := url.Parse(c.Server.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("server.base_url %q must be an http or https URL", c.Server.BaseURL))
	}
	if c.Server.FeedURL != "" {
		if u, err := url.Parse(c.Server.FeedURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("server.feed_url %q must be a ws or wss URL", c.Server.FeedURL))
		}
	}
	if c.Server.Timeout <= 0 {
		errs = append(errs, errors.New("server.timeout must be positive"))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.Intervals.Reconcile < 0 || c.Intervals.Heartbeat < 0 || c.Intervals.Sweep < 0 {
		errs = append(errs, errors.New("intervals must not be negative"))
	}
	if c.Health.Window < 1 {
		errs = append(errs, errors.New("health.window must be at least 1"))
	}
	if len(c.Languages) == 0 {
		errs = append(errs, errors.New("languages must not be empty"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// NewLogger builds the slog logger described by the log section. verbose
// forces debug level.
func (c *Config) NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return level, nil
}
