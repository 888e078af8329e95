package provider_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/picatz/geodoh/pkg/bucket"
	"github.com/picatz/geodoh/pkg/provider"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func testRegistry(t *testing.T, interval time.Duration, names ...string) *provider.Registry {
	t.Helper()

	opts := bucket.Options{
		Capacity:          1,
		TokensPerInterval: 1,
		Interval:          interval,
	}

	var providers []*provider.Provider
	for _, name := range names {
		p, err := provider.New(name, "https://"+name+".example/resolve", provider.FormatJSON, opts)
		if err != nil {
			t.Fatal(err)
		}
		providers = append(providers, p)
	}

	reg, err := provider.NewRegistry(providers...)
	if err != nil {
		t.Fatal(err)
	}

	return reg
}

func retries(hook *test.Hook) int {
	n := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.InfoLevel && entry.Data["attempt"] != nil {
			n++
		}
	}
	return n
}

func TestRaceStartsLimiters(t *testing.T) {
	reg := testRegistry(t, time.Hour, "a", "b")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	p, url, err := provider.NewRacer(reg).Race(ctx, "example.com")
	if err != nil {
		t.Fatal(err)
	}

	if want := p.URL("example.com"); url != want {
		t.Errorf("got url %q, want %q", url, want)
	}

	for _, p := range reg.Providers() {
		if p.Limiter.IsStopped() {
			t.Errorf("%s limiter still stopped", p)
		}
	}
}

func TestRaceEitherProvider(t *testing.T) {
	valid := map[string]bool{
		"https://a.example/resolve?name=example.com&type=A": true,
		"https://b.example/resolve?name=example.com&type=A": true,
	}

	wins := map[string]int{}

	for i := 0; i < 200; i++ {
		reg := testRegistry(t, time.Hour, "a", "b")

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		p, url, err := provider.NewRacer(reg).Race(ctx, "example.com")
		cancel()
		if err != nil {
			t.Fatal(err)
		}

		if !valid[url] {
			t.Fatalf("got unexpected url %q", url)
		}

		wins[p.Name]++
	}

	// Both providers start full, so neither may be preferred.
	for _, name := range []string{"a", "b"} {
		if wins[name] == 0 {
			t.Errorf("%s never won: %v", name, wins)
		}
	}
}

func TestRaceSpreadsAcrossProviders(t *testing.T) {
	reg := testRegistry(t, time.Hour, "a", "b")
	racer := provider.NewRacer(reg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, _, err := racer.Race(ctx, "example.com")
	if err != nil {
		t.Fatal(err)
	}

	// The winner's bucket is now empty, so the next race must go to the
	// other provider instead of waiting an hour.
	second, _, err := racer.Race(ctx, "example.org")
	if err != nil {
		t.Fatal(err)
	}

	if first == second {
		t.Errorf("both races went to %s", first)
	}
}

func TestRaceWaitsForRefill(t *testing.T) {
	interval := 150 * time.Millisecond

	reg := testRegistry(t, interval, "a", "b")
	reg.Start()

	for _, p := range reg.Providers() {
		if !p.Limiter.TryRemoveTokens(1) {
			t.Fatalf("%s: expected a token", p)
		}
	}

	logger, hook := test.NewNullLogger()

	racer := provider.NewRacer(reg)
	racer.Logger = logger

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	if _, _, err := racer.Race(ctx, "example.com"); err != nil {
		t.Fatal(err)
	}

	if elapsed := time.Since(start); elapsed < interval-20*time.Millisecond {
		t.Errorf("race returned after %s, before the refill interval %s", elapsed, interval)
	}

	if n := retries(hook); n > 1 {
		t.Errorf("got %d retry cycles while waiting for one refill", n)
	}
}

func TestRaceConcurrentCallers(t *testing.T) {
	interval := 100 * time.Millisecond

	reg := testRegistry(t, interval, "only")
	logger, hook := test.NewNullLogger()

	retried := 0
	var mu sync.Mutex

	racer := provider.NewRacer(reg)
	racer.Logger = logger
	racer.OnRetry = func() {
		mu.Lock()
		retried++
		mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const callers = 3

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := racer.Race(ctx, "example.com"); err != nil {
				t.Error(err)
			}
		}()
	}

	wg.Wait()

	// One token up front, then one per interval.
	if elapsed, want := time.Since(start), (callers-1)*interval-20*time.Millisecond; elapsed < want {
		t.Errorf("%d callers finished after %s, want at least %s", callers, elapsed, want)
	}

	mu.Lock()
	defer mu.Unlock()

	if retried != retries(hook) {
		t.Errorf("OnRetry called %d times, logged %d retries", retried, retries(hook))
	}
}

func TestRaceMaxAttempts(t *testing.T) {
	interval := 200 * time.Millisecond

	reg := testRegistry(t, interval, "only")
	reg.Start()

	p := reg.Providers()[0]
	if !p.Limiter.TryRemoveTokens(1) {
		t.Fatal("expected a token")
	}

	racer := provider.NewRacer(reg)
	racer.MaxAttempts = 1
	racer.Logger, _ = test.NewNullLogger()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, _, err := racer.Race(ctx, "example.com")
			errs <- err
		}()
	}

	var won, lost int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			won++
		case errors.Is(err, provider.ErrNoToken):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if won != 1 || lost != 1 {
		t.Errorf("got %d wins and %d losses, want 1 and 1", won, lost)
	}
}

func TestRaceContextCancelled(t *testing.T) {
	reg := testRegistry(t, time.Hour, "a", "b")
	reg.Start()

	for _, p := range reg.Providers() {
		p.Limiter.TryRemoveTokens(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, _, err := provider.NewRacer(reg).Race(ctx, "example.com")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got error %v, want %v", err, context.DeadlineExceeded)
	}
}
