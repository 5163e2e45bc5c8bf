// Package config loads client settings from a YAML file and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/carsonminor/nostr-research-client/internal/nostr"
)

// Config is the root client configuration.
type Config struct {
	Relays  []string      `yaml:"relays" env:"PAPERS_RELAYS" env-separator:"," env-default:"wss://relay.damus.io,wss://relay.nostr.band"`
	Relay   RelayConfig   `yaml:"relay"`
	Signer  SignerConfig  `yaml:"signer"`
	Pricing PricingConfig `yaml:"pricing"`
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
}

// RelayConfig holds relay transport timeouts.
type RelayConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"PAPERS_CONNECT_TIMEOUT" env-default:"10s"`
	InfoTimeout    time.Duration `yaml:"info_timeout"    env:"PAPERS_INFO_TIMEOUT"    env-default:"5s"`
	PublishTimeout time.Duration `yaml:"publish_timeout" env:"PAPERS_PUBLISH_TIMEOUT" env-default:"10s"`
	QueryTimeout   time.Duration `yaml:"query_timeout"   env:"PAPERS_QUERY_TIMEOUT"   env-default:"5s"`
	InfoCacheTTL   time.Duration `yaml:"info_cache_ttl"  env:"PAPERS_INFO_CACHE_TTL"  env-default:"1h"`
}

// SignerConfig holds delegated signing settings.
type SignerConfig struct {
	Bunker      string        `yaml:"bunker"       env:"PAPERS_BUNKER"`
	SignTimeout time.Duration `yaml:"sign_timeout" env:"PAPERS_SIGN_TIMEOUT" env-default:"30s"`
}

// PricingConfig holds settings for the relay pricing API.
type PricingConfig struct {
	HTTPTimeout   time.Duration `yaml:"http_timeout"   env:"PAPERS_HTTP_TIMEOUT"   env-default:"10s"`
	DurationYears int           `yaml:"duration_years" env:"PAPERS_DURATION_YEARS" env-default:"1"`
}

// StoreConfig selects where the session key is persisted. The memory
// backend keeps nothing between runs.
type StoreConfig struct {
	Backend  string `yaml:"backend"   env:"PAPERS_STORE"     env-default:"badger"`
	Dir      string `yaml:"dir"       env:"PAPERS_STORE_DIR"`
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
	Prefix   string `yaml:"prefix"    env:"PAPERS_PREFIX"    env-default:"papers:"`
}

// DefaultStoreDir is where the badger store lives when store.dir is unset.
func DefaultStoreDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "paperctl", "store"), nil
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// Load reads configuration from a YAML file and environment variables.
// Priority: ENV > YAML > defaults (via env-default tags).
// An empty path falls back to PAPERS_CONFIG, then "./config.yaml"; a
// missing default file means ENV + defaults only.
func Load(path string) (*Config, error) {
	var cfg Config

	explicitPath := path != ""
	if !explicitPath {
		path = os.Getenv("PAPERS_CONFIG")
		explicitPath = path != ""
	}
	if !explicitPath {
		path = "./config.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if explicitPath {
		return nil, fmt.Errorf("config: file %s: %w", path, err)
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config: read env: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// Validate checks loaded values and normalizes relay urls in place.
func (c *Config) Validate() error {
	if len(c.Relays) == 0 {
		return fmt.Errorf("relays: at least one relay is required")
	}
	for i, raw := range c.Relays {
		u := nostr.NormalizeRelayURL(raw)
		if u == "" {
			return fmt.Errorf("relays: invalid relay url %q", raw)
		}
		c.Relays[i] = u
	}

	for name, d := range map[string]time.Duration{
		"relay.connect_timeout": c.Relay.ConnectTimeout,
		"relay.info_timeout":    c.Relay.InfoTimeout,
		"relay.publish_timeout": c.Relay.PublishTimeout,
		"relay.query_timeout":   c.Relay.QueryTimeout,
		"signer.sign_timeout":   c.Signer.SignTimeout,
		"pricing.http_timeout":  c.Pricing.HTTPTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0 (got %s)", name, d)
		}
	}

	if c.Pricing.DurationYears < 1 {
		return fmt.Errorf("pricing.duration_years must be >= 1 (got %d)", c.Pricing.DurationYears)
	}

	switch c.Store.Backend {
	case "memory":
	case "badger":
		if c.Store.Dir == "" {
			dir, err := DefaultStoreDir()
			if err != nil {
				return fmt.Errorf("store.dir is unset and no default is available: %w", err)
			}
			c.Store.Dir = dir
		}
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("store.backend must be badger, memory or redis (got %q)", c.Store.Backend)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error (got %q)", c.Log.Level)
	}
	return nil
}
