// Package resolver turns hostnames into geo-enriched IPv4 addresses using
// rate-limited DoH providers, remembering results for a week.
//
// A resolution is: cache lookup, then (on a miss or a stale record) a race
// for the first provider with a free token, one DoH request to it, the
// first A record of the answer, a country lookup, and a cache write. Any
// failure after the race ends the call; the next call races again.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/picatz/geodoh/pkg/cache"
	"github.com/picatz/geodoh/pkg/geo"
	"github.com/picatz/geodoh/pkg/provider"
	"github.com/sirupsen/logrus"
)

// DefaultRequestTimeout bounds a single DoH request.
const DefaultRequestTimeout = 10 * time.Second

// Config holds a Resolver's collaborators and limits.
type Config struct {
	Cache    cache.Cache
	Registry *provider.Registry
	Enricher geo.Enricher

	// HTTPClient defaults to NewHTTPClient(0, Logger).
	HTTPClient *http.Client

	// Logger defaults to logrus.StandardLogger().
	Logger logrus.FieldLogger

	// Metrics is optional.
	Metrics *Metrics

	// TTL is how long a cached record stays fresh; cache.DefaultTTL
	// when zero.
	TTL time.Duration

	// RaceTimeout bounds the wait for a provider token; zero waits as
	// long as the caller's context allows.
	RaceTimeout time.Duration

	// RequestTimeout bounds the DoH request; DefaultRequestTimeout when
	// zero.
	RequestTimeout time.Duration

	// MaxRaceAttempts bounds the races per resolution; zero is unbounded.
	MaxRaceAttempts int

	// Now defaults to time.Now.
	Now func() time.Time
}

// Resolver resolves hostnames. It is safe for concurrent use; the
// providers' limiters are the only state shared between calls.
type Resolver struct {
	cache    cache.Cache
	racer    *provider.Racer
	enricher geo.Enricher
	client   *http.Client
	log      logrus.FieldLogger
	metrics  *Metrics

	ttl            time.Duration
	raceTimeout    time.Duration
	requestTimeout time.Duration
	now            func() time.Time
}

// New validates cfg and returns a Resolver.
func New(cfg Config) (*Resolver, error) {
	switch {
	case cfg.Cache == nil:
		return nil, errors.New("resolver: missing cache")
	case cfg.Registry == nil:
		return nil, errors.New("resolver: missing provider registry")
	case cfg.Enricher == nil:
		return nil, errors.New("resolver: missing enricher")
	}

	r := &Resolver{
		cache:          cfg.Cache,
		enricher:       cfg.Enricher,
		client:         cfg.HTTPClient,
		log:            cfg.Logger,
		metrics:        cfg.Metrics,
		ttl:            cfg.TTL,
		raceTimeout:    cfg.RaceTimeout,
		requestTimeout: cfg.RequestTimeout,
		now:            cfg.Now,
	}

	if r.log == nil {
		r.log = logrus.StandardLogger()
	}
	if r.client == nil {
		r.client = NewHTTPClient(0, r.log)
	}
	if r.ttl <= 0 {
		r.ttl = cache.DefaultTTL
	}
	if r.requestTimeout <= 0 {
		r.requestTimeout = DefaultRequestTimeout
	}
	if r.now == nil {
		r.now = time.Now
	}

	r.racer = &provider.Racer{
		Registry:    cfg.Registry,
		MaxAttempts: cfg.MaxRaceAttempts,
		OnRetry:     r.metrics.raceRetry,
		Logger:      r.log,
	}

	return r, nil
}

// Normalize lower-cases hostname, strips surrounding space and the
// trailing root dot, and checks that it is a domain name.
func Normalize(hostname string) (string, error) {
	name := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(hostname), "."))
	if name == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidHostname)
	}
	if _, ok := dns.IsDomainName(name); !ok || strings.ContainsAny(name, " /\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidHostname, hostname)
	}
	return name, nil
}

// Resolve returns the record for hostname, from the cache when it holds a
// fresh one and from a provider otherwise. Failures are returned as errors
// matching one of the package's Err values and nothing is cached for them.
func (r *Resolver) Resolve(ctx context.Context, hostname string) (*cache.Record, error) {
	rec, err := r.resolve(ctx, hostname)
	if err != nil {
		r.metrics.failure(err)
		return nil, err
	}
	return rec, nil
}

func (r *Resolver) resolve(ctx context.Context, hostname string) (*cache.Record, error) {
	hostname, err := Normalize(hostname)
	if err != nil {
		return nil, err
	}

	log := r.log.WithField("hostname", hostname)

	if rec, ok := r.cached(ctx, log, hostname); ok {
		return rec, nil
	}

	p, url, err := r.race(ctx, hostname)
	if err != nil {
		log.WithError(err).Warn("could not claim a provider")
		return nil, fmt.Errorf("%w: %w", ErrRaceFailed, err)
	}

	log = log.WithFields(logrus.Fields{
		"provider": p.Name,
		"url":      url,
	})

	reqCtx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	resp, err := p.Query(reqCtx, r.client, hostname)
	if err != nil {
		log.WithError(err).Error("problem submitting DNS request")
		return nil, fmt.Errorf("%w: %s: %w", ErrRequestFailed, p.Name, err)
	}

	ip, err := resp.FirstA()
	if err != nil {
		log.WithError(err).WithField("status", dns.RcodeToString[resp.Status]).Error("no usable answer")
		return nil, fmt.Errorf("%s: %w", hostname, err)
	}

	log = log.WithField("ip", ip)

	info, err := r.enricher.Lookup(ctx, ip)
	if err != nil {
		log.WithError(err).Error("country lookup failed")
		return nil, fmt.Errorf("%w: %s: %w", ErrEnrichmentFailed, ip, err)
	}
	if info == nil || info.CountryCode == "" {
		log.Error("country lookup returned no country code")
		return nil, fmt.Errorf("%w: %s: no country code", ErrEnrichmentFailed, ip)
	}

	rec := &cache.Record{
		IP:   ip,
		Geo:  *info,
		Time: r.now(),
	}

	if err := r.cache.Put(ctx, hostname, rec); err != nil {
		r.metrics.cacheWriteError()
		log.WithError(err).Warn("could not store resolution")
	}

	log.WithField("country", info.CountryCode).Debug("resolved")

	return rec, nil
}

// cached returns the stored record for hostname if it is still fresh.
// Read errors and empty results count as misses.
func (r *Resolver) cached(ctx context.Context, log logrus.FieldLogger, hostname string) (*cache.Record, bool) {
	rec, err := r.cache.Get(ctx, hostname)
	switch {
	case err == nil && rec == nil:
		log.Debug("cache returned no record")
	case err == nil && rec.Fresh(r.now(), r.ttl):
		r.metrics.cacheHit()
		log.Debug("cache hit")
		return rec, true
	case err == nil:
		log.WithField("age", r.now().Sub(rec.Time).String()).Debug("cached record is stale")
	case errors.Is(err, cache.ErrNoSuchKey):
		log.Debug("cache miss")
	default:
		log.WithError(err).Warn("error reading cache, treating as a miss")
	}

	r.metrics.cacheMiss()
	return nil, false
}

func (r *Resolver) race(ctx context.Context, hostname string) (*provider.Provider, string, error) {
	if r.raceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.raceTimeout)
		defer cancel()
	}

	p, url, err := r.racer.Race(ctx, hostname)
	if err != nil {
		return nil, "", err
	}

	r.metrics.win(p.Name)

	return p, url, nil
}
