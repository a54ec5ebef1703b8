// Package config resolves labnotes settings from defaults, a JSONC file and
// LABNOTES_* environment variables. Command-line flags are applied last by
// the caller.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tailscale/hujson"
)

var (
	ErrConfigInvalid      = errors.New("invalid config")
	ErrConfigFileNotFound = errors.New("config file not found")
)

const (
	EnvPrefix      = "LABNOTES_"
	DefaultGateway = "http://127.0.0.1:8090"
)

type Logger interface {
	Printf(format string, args ...any)
}

// Duration reads either a Go duration string or a number of seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(v * float64(time.Second))
	default:
		return fmt.Errorf("duration must be a string or number, got %s", string(data))
	}
	return nil
}

type Config struct {
	Gateway           string   `json:"gateway"`
	Token             string   `json:"token,omitempty"`
	Timeout           Duration `json:"timeout"`
	ReconnectInterval Duration `json:"reconnect_interval"`
	ReconnectJitter   float64  `json:"reconnect_jitter"`
	InboxDir          string   `json:"inbox_dir,omitempty"`
	LogLevel          string   `json:"log_level"`
	SearchLimit       int      `json:"search_limit"`

	// Source is the file the settings were read from, if any.
	Source string `json:"-"`
}

func Default() Config {
	return Config{
		Gateway:           DefaultGateway,
		Timeout:           Duration(15 * time.Second),
		ReconnectInterval: Duration(2 * time.Second),
		ReconnectJitter:   0.2,
		LogLevel:          "info",
		SearchLimit:       50,
	}
}

type LoadInput struct {
	// Path is an explicit config file. It must exist when set.
	Path string
	Env  map[string]string
	// Logger reports ignored environment values.
	Logger Logger
}

func Load(input LoadInput) (Config, error) {
	cfg := Default()

	path, mustExist := input.Path, true
	if path == "" {
		path, mustExist = DefaultPath(input.Env), false
	}
	if path != "" {
		loaded, err := loadFile(&cfg, path, mustExist)
		if err != nil {
			return Config{}, err
		}
		if loaded {
			cfg.Source = path
		}
	}

	applyEnv(&cfg, input.Env, input.Logger)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultPath is $XDG_CONFIG_HOME/labnotes/config.json, falling back to
// ~/.config. It is empty when neither is known.
func DefaultPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "labnotes", "config.json")
	}
	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "labnotes", "config.json")
	}
	return ""
}

// loadFile decodes a JSONC file over cfg. Keys absent from the file keep
// their current value.
func loadFile(cfg *Config, path string, mustExist bool) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if mustExist {
				return false, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
			}
			return false, nil
		}
		return false, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := Parse(cfg, data); err != nil {
		return false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}
	return true, nil
}

func Parse(cfg *Config, data []byte) error {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("invalid JSONC: %w", err)
	}
	if err := json.Unmarshal(standardized, cfg); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config, env map[string]string, logger Logger) {
	e := envReader{env: env, logger: logger}
	cfg.Gateway = e.orDefault("GATEWAY", cfg.Gateway)
	cfg.Token = e.orDefault("TOKEN", cfg.Token)
	cfg.Timeout = Duration(e.duration("TIMEOUT", cfg.Timeout.Std()))
	cfg.ReconnectInterval = Duration(e.duration("RECONNECT_INTERVAL", cfg.ReconnectInterval.Std()))
	cfg.ReconnectJitter = e.float("RECONNECT_JITTER", cfg.ReconnectJitter)
	cfg.InboxDir = e.orDefault("INBOX_DIR", cfg.InboxDir)
	cfg.LogLevel = e.orDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.SearchLimit = e.int("SEARCH_LIMIT", cfg.SearchLimit)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Gateway) == "" {
		return fmt.Errorf("%w: gateway is required", ErrConfigInvalid)
	}
	if c.Timeout < 0 || c.ReconnectInterval < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrConfigInvalid)
	}
	if c.ReconnectJitter < 0 || c.ReconnectJitter > 1 {
		return fmt.Errorf("%w: reconnect_jitter must be within 0.0-1.0, got %g", ErrConfigInvalid, c.ReconnectJitter)
	}
	if c.SearchLimit < 0 {
		return fmt.Errorf("%w: search_limit must not be negative", ErrConfigInvalid)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log_level %q", ErrConfigInvalid, c.LogLevel)
	}
	return nil
}

// Environ turns os.Environ-style pairs into a map.
func Environ(pairs []string) map[string]string {
	env := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

type envReader struct {
	env    map[string]string
	logger Logger
}

func (e envReader) raw(name string) (string, string) {
	key := EnvPrefix + name
	return key, strings.TrimSpace(e.env[key])
}

func (e envReader) orDefault(name, fallback string) string {
	_, value := e.raw(name)
	if value == "" {
		return fallback
	}
	return value
}

func (e envReader) duration(name string, fallback time.Duration) time.Duration {
	key, raw := e.raw(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		e.logf("invalid %s=%q, using fallback %s", key, raw, fallback.String())
		return fallback
	}
	return value
}

func (e envReader) float(name string, fallback float64) float64 {
	key, raw := e.raw(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.logf("invalid %s=%q, using fallback %f", key, raw, fallback)
		return fallback
	}
	return value
}

func (e envReader) int(name string, fallback int) int {
	key, raw := e.raw(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		e.logf("invalid %s=%q, using fallback %d", key, raw, fallback)
		return fallback
	}
	return value
}

func (e envReader) logf(format string, args ...any) {
	if e.logger == nil {
		return
	}
	e.logger.Printf(format, args...)
}
