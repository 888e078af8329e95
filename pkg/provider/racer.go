package provider

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrNoToken is returned when MaxAttempts races ended without any
// provider handing out a token.
var ErrNoToken = errors.New("provider: no token claimed")

// Racer picks whichever provider can take a request soonest.
type Racer struct {
	Registry *Registry

	// MaxAttempts bounds the number of races per call; zero means keep
	// racing until the context ends.
	MaxAttempts int

	// OnRetry, if set, is called each time a race ends with every
	// provider losing its token to another caller.
	OnRetry func()

	Logger logrus.FieldLogger
}

// NewRacer returns a racer over the registry's providers.
func NewRacer(registry *Registry) *Racer {
	return &Racer{Registry: registry}
}

func (r *Racer) log() logrus.FieldLogger {
	if r.Logger == nil {
		return logrus.StandardLogger()
	}
	return r.Logger
}

// Race blocks until one provider's limiter hands out a token and returns
// that provider along with its query URL for hostname.
//
// Every provider waits for a token concurrently; the first one that
// actually claims it wins and there is no preference between providers.
// Waking up and then losing the token to a concurrent caller is normal:
// when that happens to every provider the race runs again, and the next
// round cannot complete before the limiters refill.
func (r *Racer) Race(ctx context.Context, hostname string) (*Provider, string, error) {
	r.Registry.Start()

	for attempt := 1; ; attempt++ {
		p, err := r.race(ctx)
		if err != nil {
			return nil, "", err
		}
		if p != nil {
			return p, p.URL(hostname), nil
		}

		if r.MaxAttempts > 0 && attempt >= r.MaxAttempts {
			return nil, "", fmt.Errorf("%w after %d attempts", ErrNoToken, attempt)
		}

		r.log().WithFields(logrus.Fields{
			"hostname": hostname,
			"attempt":  attempt,
		}).Info("awaited tokens but could not claim any, racing again")

		if r.OnRetry != nil {
			r.OnRetry()
		}
	}
}

// race runs one round. It returns a nil provider when every provider woke
// up without getting a token.
func (r *Racer) race(parent context.Context) (*Provider, error) {
	// Losers still waiting for a token give up once a winner is known.
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	providers := r.Registry.providers

	// Buffered so that losers never block after the round is decided.
	results := make(chan *Provider, len(providers))

	// At most one token is taken per round, so a provider that wakes up
	// right after the winner keeps its token for the next caller.
	var (
		mu      sync.Mutex
		decided bool
	)
	claim := func(p *Provider) bool {
		mu.Lock()
		defer mu.Unlock()
		if decided {
			return false
		}
		decided = p.Limiter.TryRemoveTokens(1)
		return decided
	}

	// The scheduler tends to run the last goroutine started first, so the
	// launch order is shuffled every round.
	for _, i := range rand.Perm(len(providers)) {
		go func(p *Provider) {
			if err := p.Limiter.AwaitTokens(ctx, 1); err != nil {
				results <- nil
				return
			}
			if claim(p) {
				results <- p
				return
			}
			results <- nil
		}(providers[i])
	}

	for range providers {
		if p := <-results; p != nil {
			return p, nil
		}
	}

	if err := parent.Err(); err != nil {
		return nil, err
	}

	return nil, nil
}
