// Package config loads geodoh's TOML configuration.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/picatz/geodoh/pkg/bucket"
	"github.com/picatz/geodoh/pkg/cache"
	"github.com/picatz/geodoh/pkg/dj"
	"github.com/picatz/geodoh/pkg/geo"
	"github.com/picatz/geodoh/pkg/provider"
	"github.com/sirupsen/logrus"
)

// Cache kinds.
const (
	CacheMemory = "memory"
	CacheFS     = "fs"
	CacheRedis  = "redis"
)

// ErrInvalid is wrapped by every Validate error.
var ErrInvalid = errors.New("config: invalid")

// Duration type
type Duration struct {
	time.Duration
}

// UnmarshalText for duration type
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText for duration type
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Limiter configures every provider's token bucket.
type Limiter struct {
	Capacity          int      `toml:"capacity"`
	TokensPerInterval int      `toml:"tokens_per_interval"`
	Interval          Duration `toml:"interval"`
}

// Options converts l to bucket options.
func (l Limiter) Options() bucket.Options {
	return bucket.Options{
		Capacity:          l.Capacity,
		TokensPerInterval: l.TokensPerInterval,
		Interval:          l.Interval.Duration,
	}
}

// Cache selects and configures the record store.
type Cache struct {
	Kind          string `toml:"kind"`
	Dir           string `toml:"dir"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	RedisPrefix   string `toml:"redis_prefix"`
}

// GeoIP points at a MaxMind country database, or lists fixed
// address-to-country mappings when no database is available.
type GeoIP struct {
	Database string            `toml:"database"`
	Static   map[string]string `toml:"static"`
}

// Provider is one DoH endpoint.
type Provider struct {
	Name   string `toml:"name"`
	URL    string `toml:"url"`
	Format string `toml:"format"`
}

// Config is the whole configuration file.
type Config struct {
	LogLevel        string     `toml:"log_level"`
	RequestTimeout  Duration   `toml:"request_timeout"`
	RaceTimeout     Duration   `toml:"race_timeout"`
	TTL             Duration   `toml:"ttl"`
	Retries         int        `toml:"retries"`
	MaxRaceAttempts int        `toml:"max_race_attempts"`
	Limiter         Limiter    `toml:"limiter"`
	Cache           Cache      `toml:"cache"`
	GeoIP           GeoIP      `toml:"geoip"`
	Providers       []Provider `toml:"providers"`
}

// Default returns the configuration used when no file is given: the Google
// and Cloudflare JSON endpoints, one request per provider every two
// seconds, and an in-memory cache.
func Default() *Config {
	opts := bucket.DefaultOptions()

	return &Config{
		LogLevel:       logrus.InfoLevel.String(),
		RequestTimeout: Duration{10 * time.Second},
		TTL:            Duration{cache.DefaultTTL},
		Limiter: Limiter{
			Capacity:          opts.Capacity,
			TokensPerInterval: opts.TokensPerInterval,
			Interval:          Duration{opts.Interval},
		},
		Cache: Cache{
			Kind:        CacheMemory,
			RedisPrefix: cache.DefaultRedisPrefix,
		},
		Providers: []Provider{
			{Name: "google", URL: dj.Google, Format: string(provider.FormatJSON)},
			{Name: "cloudflare", URL: dj.Cloudflare, Format: string(provider.FormatJSON)},
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// A file that lists providers replaces the default ones.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	defaults := cfg.Providers
	cfg.Providers = nil

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: could not load %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalid, path, strings.Join(keys, ", "))
	}

	if len(cfg.Providers) == 0 {
		cfg.Providers = defaults
	}

	return cfg, cfg.Validate()
}

// Validate checks the values a file could get wrong.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	switch {
	case c.RequestTimeout.Duration < 0:
		return fmt.Errorf("%w: negative request_timeout", ErrInvalid)
	case c.RaceTimeout.Duration < 0:
		return fmt.Errorf("%w: negative race_timeout", ErrInvalid)
	case c.TTL.Duration < 0:
		return fmt.Errorf("%w: negative ttl", ErrInvalid)
	case c.Retries < 0:
		return fmt.Errorf("%w: negative retries", ErrInvalid)
	case c.MaxRaceAttempts < 0:
		return fmt.Errorf("%w: negative max_race_attempts", ErrInvalid)
	}

	if err := c.Limiter.Options().Validate(); err != nil {
		return fmt.Errorf("%w: limiter: %w", ErrInvalid, err)
	}

	switch c.Cache.Kind {
	case CacheMemory:
	case CacheFS:
		if c.Cache.Dir == "" {
			return fmt.Errorf("%w: cache kind %q needs a dir", ErrInvalid, c.Cache.Kind)
		}
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("%w: cache kind %q needs a redis_addr", ErrInvalid, c.Cache.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown cache kind %q", ErrInvalid, c.Cache.Kind)
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, provider.ErrNoProviders)
	}

	for i, p := range c.Providers {
		if p.Name == "" || p.URL == "" {
			return fmt.Errorf("%w: provider %d needs a name and a url", ErrInvalid, i)
		}
		if _, err := provider.ParseFormat(p.Format); err != nil {
			return fmt.Errorf("%w: provider %q: %w", ErrInvalid, p.Name, err)
		}
	}

	return nil
}

// Registry builds the configured providers, each with its own limiter.
func (c *Config) Registry() (*provider.Registry, error) {
	providers := make([]*provider.Provider, 0, len(c.Providers))

	for _, p := range c.Providers {
		format, err := provider.ParseFormat(p.Format)
		if err != nil {
			return nil, fmt.Errorf("config: provider %q: %w", p.Name, err)
		}

		built, err := provider.New(p.Name, p.URL, format, c.Limiter.Options())
		if err != nil {
			return nil, fmt.Errorf("config: provider %q: %w", p.Name, err)
		}

		providers = append(providers, built)
	}

	return provider.NewRegistry(providers...)
}

// OpenCache opens the configured cache. The returned close function is
// never nil.
func (c *Config) OpenCache(ctx context.Context) (cache.Cache, func() error, error) {
	switch c.Cache.Kind {
	case CacheMemory:
		m := cache.NewMemory()
		return m, m.Close, nil
	case CacheFS:
		fs, err := cache.NewFS(c.Cache.Dir)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() error { return nil }, nil
	case CacheRedis:
		r, err := cache.DialRedis(ctx, c.Cache.RedisAddr, c.Cache.RedisPassword, c.Cache.RedisDB, c.Cache.RedisPrefix)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown cache kind %q", ErrInvalid, c.Cache.Kind)
	}
}

// OpenEnricher opens the configured GeoIP database. Without one it uses
// the static mappings, and without those it returns fallback.
func (c *Config) OpenEnricher(fallback geo.Enricher) (geo.Enricher, func() error, error) {
	noop := func() error { return nil }

	switch {
	case c.GeoIP.Database != "":
		db, err := geo.OpenMaxMind(c.GeoIP.Database)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	case len(c.GeoIP.Static) > 0:
		static := make(geo.Static, len(c.GeoIP.Static))
		for ip, code := range c.GeoIP.Static {
			static[ip] = geo.Info{CountryCode: strings.ToUpper(code)}
		}
		return static, noop, nil
	case fallback != nil:
		return fallback, noop, nil
	default:
		return nil, nil, fmt.Errorf("%w: no geoip database configured", ErrInvalid)
	}
}
