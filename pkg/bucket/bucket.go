// Package bucket implements a token-bucket limiter with an explicit
// stopped/running lifecycle, split into a non-consuming wait and an
// atomic take.
//
// A Limiter separates "wait until tokens are nominally available" from
// "take them", so several waiters may wake for the same token while only
// one of them gets it. Callers treat a failed take as "retry", not as an
// error.
package bucket

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrExceedsCapacity is returned when waiting for more tokens than
	// the bucket can ever hold.
	ErrExceedsCapacity = errors.New("bucket: requested tokens exceed capacity")

	// ErrInvalidOptions is returned by New for unusable options.
	ErrInvalidOptions = errors.New("bucket: invalid options")
)

// timerSlack pads every wait so that float rounding in the refill never
// leaves a woken waiter a hair short of its tokens.
const timerSlack = time.Millisecond

// Options configures a Limiter.
type Options struct {
	// Capacity is the bucket size.
	Capacity int

	// TokensPerInterval is how many tokens are added every Interval.
	TokensPerInterval int

	// Interval is the refill period.
	Interval time.Duration
}

// DefaultOptions allows one request every two seconds.
func DefaultOptions() Options {
	return Options{
		Capacity:          1,
		TokensPerInterval: 1,
		Interval:          2 * time.Second,
	}
}

// Validate reports whether the options describe a usable bucket.
func (o Options) Validate() error {
	switch {
	case o.Capacity < 1:
		return fmt.Errorf("%w: capacity must be at least 1, got %d", ErrInvalidOptions, o.Capacity)
	case o.TokensPerInterval < 1:
		return fmt.Errorf("%w: tokens per interval must be at least 1, got %d", ErrInvalidOptions, o.TokensPerInterval)
	case o.Interval <= 0:
		return fmt.Errorf("%w: interval must be positive, got %s", ErrInvalidOptions, o.Interval)
	}
	return nil
}

// Limiter is a token bucket that accrues tokens only once started.
type Limiter struct {
	opts Options

	mu      sync.Mutex
	lim     *rate.Limiter
	started chan struct{}
}

// New returns a stopped Limiter.
func New(opts Options) (*Limiter, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Limiter{
		opts:    opts,
		started: make(chan struct{}),
	}, nil
}

// Options returns the configuration the limiter was built with.
func (l *Limiter) Options() Options {
	return l.opts
}

// Start begins accruing tokens. A freshly started bucket is full.
// Calling Start on a running limiter does nothing.
func (l *Limiter) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lim != nil {
		return
	}

	every := l.opts.Interval / time.Duration(l.opts.TokensPerInterval)
	l.lim = rate.NewLimiter(rate.Every(every), l.opts.Capacity)
	close(l.started)
}

// IsStopped reports whether Start has not been called yet.
func (l *Limiter) IsStopped() bool {
	return l.limiter() == nil
}

func (l *Limiter) limiter() *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lim
}

// AwaitTokens blocks until the bucket is expected to hold n tokens,
// without taking them. On a stopped limiter it first waits for Start.
//
// The wait is a single timer set to the moment the bucket should hold n
// tokens. It returns at that moment even if another caller has taken the
// tokens in the meantime; TryRemoveTokens tells the caller whether it
// actually got them.
func (l *Limiter) AwaitTokens(ctx context.Context, n int) error {
	if n > l.opts.Capacity {
		return fmt.Errorf("%w: %d > %d", ErrExceedsCapacity, n, l.opts.Capacity)
	}

	select {
	case <-l.started:
	case <-ctx.Done():
		return ctx.Err()
	}

	lim := l.limiter()

	avail := lim.TokensAt(time.Now())
	if avail >= float64(n) {
		return nil
	}

	wait := time.Duration(math.Ceil((float64(n)-avail)/float64(lim.Limit())*float64(time.Second))) + timerSlack

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TryRemoveTokens takes n tokens if they are all available and reports
// whether it did. The check and the deduction happen atomically.
func (l *Limiter) TryRemoveTokens(n int) bool {
	lim := l.limiter()
	if lim == nil {
		return false
	}
	return lim.AllowN(time.Now(), n)
}
