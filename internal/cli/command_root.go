package cli

import (
	"errors"
	"fmt"

	"github.com/picatz/geodoh/internal/config"
	"github.com/picatz/geodoh/pkg/resolver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var CommandRoot = &cobra.Command{
	Use:   "geodoh",
	Short: `geodoh resolves hostnames to geo-located IPv4 addresses over rate-limited DoH servers`,
	Long: `geodoh resolves hostnames to IPv4 addresses using DNS over HTTPs servers, and
tags each address with its country.

Every server has its own request budget, and each lookup goes to whichever server
can take a request first. Results are cached for a week (by default in memory,
optionally on disk or in redis), so repeated lookups of the same hostname do not
touch the network.

Countries come from a MaxMind (GeoLite2 or GeoIP2) country database given with
--geoip-db or "[geoip] database" in the configuration file. Without a database,
"resolve" and "watch" need a "[geoip.static]" table mapping addresses to country
codes, and fail at startup when neither is set.`,
	SilenceUsage: true,
}

func init() {
	CommandRoot.PersistentFlags().String("config", "", "path to a TOML configuration file")
	CommandRoot.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error), overrides the configuration file")
	CommandRoot.PersistentFlags().String("geoip-db", "", "path to a MaxMind country database, overrides the configuration file")
	CommandRoot.PersistentFlags().String("cache-dir", "", "store results as files in this directory instead of the configured cache")
}

// loadConfig reads the --config file and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()

	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}

	if flags.Changed("geoip-db") {
		cfg.GeoIP.Database, _ = flags.GetString("geoip-db")
	}

	if flags.Changed("cache-dir") {
		cfg.Cache.Kind = config.CacheFS
		cfg.Cache.Dir, _ = flags.GetString("cache-dir")
	}

	return cfg, cfg.Validate()
}

// newLogger logs to the command's stderr, keeping stdout for results.
func newLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetLevel(level)

	return logger, nil
}

// session is everything a command needs to resolve hostnames.
type session struct {
	config   *config.Config
	logger   *logrus.Logger
	resolver *resolver.Resolver
	closers  []func() error
}

func (s *session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// newSession wires a resolver from the configuration. Metrics are
// registered on reg when it is not nil.
func newSession(cmd *cobra.Command, reg prometheus.Registerer) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	s := &session{config: cfg, logger: logger}

	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	c, closeCache, err := cfg.OpenCache(cmd.Context())
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closeCache)

	enricher, closeEnricher, err := cfg.OpenEnricher(nil)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w (use --geoip-db)", err)
	}
	s.closers = append(s.closers, closeEnricher)

	var metrics *resolver.Metrics
	if reg != nil {
		metrics = resolver.NewMetrics(reg)
	}

	s.resolver, err = resolver.New(resolver.Config{
		Cache:           c,
		Registry:        registry,
		Enricher:        enricher,
		HTTPClient:      resolver.NewHTTPClient(cfg.Retries, logger),
		Logger:          logger,
		Metrics:         metrics,
		TTL:             cfg.TTL.Duration,
		RaceTimeout:     cfg.RaceTimeout.Duration,
		RequestTimeout:  cfg.RequestTimeout.Duration,
		MaxRaceAttempts: cfg.MaxRaceAttempts,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"providers": len(registry.Providers()),
		"cache":     cfg.Cache.Kind,
	}).Debug("resolver ready")

	return s, nil
}
