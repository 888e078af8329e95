package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/picatz/geodoh/pkg/resolver"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// result is one line of output: a resolved address, or why there is none.
type result struct {
	Hostname    string     `json:"hostname"`
	IP          string     `json:"ip,omitempty"`
	CountryCode string     `json:"country_code,omitempty"`
	CountryName string     `json:"country_name,omitempty"`
	Time        *time.Time `json:"time,omitempty"`
	Cached      bool       `json:"cached,omitempty"`
	Error       string     `json:"error,omitempty"`
	Kind        string     `json:"kind,omitempty"`
}

// resultWriter streams results as JSON lines.
type resultWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newResultWriter(w io.Writer) *resultWriter {
	return &resultWriter{enc: json.NewEncoder(w)}
}

func (w *resultWriter) write(r *result) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(r)
}

// resolveAll resolves every hostname, at most concurrency at a time, and
// writes one result per hostname. Resolution failures become error lines;
// only context cancellation and output errors are returned.
func resolveAll(ctx context.Context, r *resolver.Resolver, out *resultWriter, hostnames []string, concurrency int64) error {
	if concurrency < 1 {
		concurrency = 1
	}

	sem := semaphore.NewWeighted(concurrency)

	eg, gtx := errgroup.WithContext(ctx)

	for _, hostname := range hostnames {
		if err := sem.Acquire(gtx, 1); err != nil {
			break
		}

		eg.Go(func() error {
			defer sem.Release(1)

			start := time.Now()

			rec, err := r.Resolve(gtx, hostname)
			if err != nil {
				if gtx.Err() != nil {
					return gtx.Err()
				}
				return out.write(&result{
					Hostname: hostname,
					Error:    err.Error(),
					Kind:     resolver.Kind(err),
				})
			}

			at := rec.Time
			return out.write(&result{
				Hostname:    hostname,
				IP:          rec.IP,
				CountryCode: rec.Geo.CountryCode,
				CountryName: rec.Geo.CountryName,
				Time:        &at,
				Cached:      at.Before(start),
			})
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}

	return ctx.Err()
}

var CommandResolve = &cobra.Command{
	Use:   "resolve hostnames... [flags]",
	Short: "Resolve hostnames to geo-located IPv4 addresses",
	Long: `Resolve hostnames to IPv4 addresses and their countries.

Each hostname is answered from the cache when a fresh record exists, otherwise by
whichever configured DoH server has a request available first. Hostnames are
resolved in parallel (bounded by --concurrency), and results are streamed to STDOUT
as JSON newline delimited objects. A hostname that cannot be resolved produces an
object with an "error" field instead of an address.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		concurrency, err := cmd.Flags().GetInt64("concurrency")
		if err != nil {
			return fmt.Errorf("invalid concurrency: %w", err)
		}

		timeout, err := cmd.Flags().GetDuration("timeout")
		if err != nil {
			return fmt.Errorf("invalid timeout: %w", err)
		}

		s, err := newSession(cmd, nil)
		if err != nil {
			return err
		}
		defer s.Close()

		var (
			ctx    context.Context    = cmd.Context()
			cancel context.CancelFunc = func() {}
		)

		if timeout != 0 {
			ctx, cancel = context.WithTimeout(cmd.Context(), timeout)
		}

		defer cancel()

		if err := resolveAll(ctx, s.resolver, newResultWriter(cmd.OutOrStdout()), args, concurrency); err != nil {
			return fmt.Errorf("encountered error while resolving: %w", err)
		}

		return nil
	},
}

func init() {
	CommandResolve.Flags().Int64("concurrency", 4, "number of hostnames resolved at the same time")
	CommandResolve.Flags().Duration("timeout", 0, "timeout for the whole command, 0s for no timeout")

	CommandRoot.AddCommand(CommandResolve)
}
