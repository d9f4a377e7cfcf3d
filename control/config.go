// File: control/config.go
// License: Apache-2.0
//
// Process configuration: typed settings with defaults, environment loading
// through an optional .env file, and a thread-safe store for values that
// may change at runtime.

package control

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "WORDRUSH_"

// Keys of hot-reloadable values held in ConfigStore.
const (
	KeyAllowedOrigin = "allowed_origin"
)

// Config holds every setting of the wordrush process.
type Config struct {
	Address         string
	HTTPPort        int
	WebSocketPort   int
	Workers         int
	HTTPIdleTimeout time.Duration
	WSIdleTimeout   time.Duration
	AllowedOrigin   string
	RoundDuration   time.Duration
	VoteDuration    time.Duration
	MaxPlayers      int
	RateLimit       float64 // inbound WebSocket frames per second, 0 disables
	RateBurst       int
	LogLevel        string
	LogFormat       string
	MetricsAddress  string // empty disables the metrics listener
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Address:         "0.0.0.0",
		HTTPPort:        8080,
		WebSocketPort:   8081,
		Workers:         10,
		HTTPIdleTimeout: 30 * time.Second,
		WSIdleTimeout:   0,
		AllowedOrigin:   "*",
		RoundDuration:   3 * time.Minute,
		VoteDuration:    30 * time.Second,
		MaxPlayers:      6,
		RateLimit:       20,
		RateBurst:       40,
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http port %d out of range", c.HTTPPort))
	}
	if c.WebSocketPort < 0 || c.WebSocketPort > 65535 {
		errs = append(errs, fmt.Errorf("websocket port %d out of range", c.WebSocketPort))
	}
	if c.HTTPPort != 0 && c.HTTPPort == c.WebSocketPort {
		errs = append(errs, fmt.Errorf("http and websocket ports must differ, both are %d", c.HTTPPort))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.HTTPIdleTimeout < 0 || c.WSIdleTimeout < 0 {
		errs = append(errs, errors.New("idle timeouts must not be negative"))
	}
	if c.MaxPlayers < 1 {
		errs = append(errs, fmt.Errorf("max players must be positive, got %d", c.MaxPlayers))
	}
	return errors.Join(errs...)
}

// LoadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadConfig returns defaults overridden by WORDRUSH_* variables, after
// loading envFile into the environment.
func LoadConfig(envFile string) (*Config, error) {
	if err := LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from lookup, which is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	str("ADDRESS", &c.Address)
	num("HTTP_PORT", &c.HTTPPort)
	num("WEBSOCKET_PORT", &c.WebSocketPort)
	num("WORKERS", &c.Workers)
	dur("HTTP_IDLE_TIMEOUT", &c.HTTPIdleTimeout)
	dur("WS_IDLE_TIMEOUT", &c.WSIdleTimeout)
	str("ALLOWED_ORIGIN", &c.AllowedOrigin)
	dur("ROUND_DURATION", &c.RoundDuration)
	dur("VOTE_DURATION", &c.VoteDuration)
	num("MAX_PLAYERS", &c.MaxPlayers)
	num("RATE_BURST", &c.RateBurst)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("METRICS_ADDRESS", &c.MetricsAddress)
	if v, ok := lookup(EnvPrefix + "RATE_LIMIT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sRATE_LIMIT: %w", EnvPrefix, err))
		} else {
			c.RateLimit = f
		}
	}
	return errors.Join(errs...)
}

// Dynamic returns the hot-reloadable subset of c for a ConfigStore.
func (c *Config) Dynamic() map[string]any {
	return map[string]any{
		KeyAllowedOrigin: c.AllowedOrigin,
	}
}

// ConfigStore is a dynamic key/value map with snapshot reads and reload
// listeners.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func()
}

// NewConfigStore initializes a new config store with empty data.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		config: make(map[string]any),
	}
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		out[k] = v
	}
	return out
}

// GetString returns key as a string, or def when unset or not a string.
func (cs *ConfigStore) GetString(key, def string) string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if s, ok := cs.config[key].(string); ok {
		return s
	}
	return def
}

// SetConfig merges new values and notifies listeners synchronously, after
// the lock is released.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	cs.mu.Lock()
	for k, v := range newCfg {
		cs.config[k] = v
	}
	listeners := append([]func(){}, cs.listeners...)
	cs.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
