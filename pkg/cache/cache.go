// Package cache stores the outcome of hostname resolutions.
//
// Backends never expire or evict records on their own. Whether a record
// is still usable is decided when it is read, see [Record.Fresh].
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/picatz/geodoh/pkg/geo"
)

// DefaultTTL is how long a record stays fresh.
const DefaultTTL = 7 * 24 * time.Hour

// ErrNoSuchKey indicates that there's no record for the given key.
var ErrNoSuchKey = errors.New("cache: no such key")

// Record is the cached outcome for one hostname.
type Record struct {
	IP   string    `json:"ip"`
	Geo  geo.Info  `json:"geo"`
	Time time.Time `json:"time"`
}

// Fresh reports whether the record is younger than ttl at now.
func (r *Record) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.Time) < ttl
}

// Cache is a key-value store of records. At most one record exists per
// key and the last Put wins.
type Cache interface {
	// Get returns the record for key. In case of a miss, the error is
	// such that errors.Is(err, ErrNoSuchKey).
	Get(ctx context.Context, key string) (*Record, error)

	// Put stores rec under key, replacing any previous record.
	Put(ctx context.Context, key string, rec *Record) error
}

func marshal(rec *Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("cache: error encoding record: %w", err)
	}
	return data, nil
}

func unmarshal(key string, data []byte) (*Record, error) {
	rec := &Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("cache: error decoding record for %q: %w", key, err)
	}
	return rec, nil
}
