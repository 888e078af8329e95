// Package geo maps IP addresses to country metadata.
package geo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/maxminddb-golang"
)

// ErrNotFound is returned when an address has no known country.
var ErrNotFound = errors.New("geo: no country for address")

// Info is the country metadata attached to a resolved address.
type Info struct {
	CountryCode     string `json:"country_code"`
	CountryName     string `json:"country_name,omitempty"`
	InEuropeanUnion bool   `json:"in_eu,omitempty"`
}

// Enricher looks up country metadata for an IP address.
type Enricher interface {
	Lookup(ctx context.Context, ip string) (*Info, error)
}

// MaxMind reads a MaxMind (or DB-IP) country or city database.
type MaxMind struct {
	db   *maxminddb.Reader
	lang string
}

// countryRecord is the subset of a country or city record we decode.
type countryRecord struct {
	Country struct {
		ISOCode           string            `maxminddb:"iso_code"`
		IsInEuropeanUnion bool              `maxminddb:"is_in_european_union"`
		Names             map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
}

// OpenMaxMind loads the database at path.
func OpenMaxMind(path string) (*MaxMind, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geo: error opening %q: %w", path, err)
	}
	return &MaxMind{db: db, lang: "en"}, nil
}

// Close releases the database.
func (m *MaxMind) Close() error {
	return m.db.Close()
}

// Lookup implements Enricher.
func (m *MaxMind) Lookup(_ context.Context, ip string) (*Info, error) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return nil, fmt.Errorf("geo: invalid address %q", ip)
	}

	var record countryRecord
	if err := m.db.Lookup(addr, &record); err != nil {
		return nil, fmt.Errorf("geo: error looking up %s: %w", ip, err)
	}

	// Unknown networks decode into an empty record.
	if record.Country.ISOCode == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ip)
	}

	return &Info{
		CountryCode:     record.Country.ISOCode,
		CountryName:     record.Country.Names[m.lang],
		InEuropeanUnion: record.Country.IsInEuropeanUnion,
	}, nil
}

// Static serves lookups from a fixed table keyed by IP address.
type Static map[string]Info

// Lookup implements Enricher.
func (s Static) Lookup(_ context.Context, ip string) (*Info, error) {
	info, ok := s[strings.TrimSpace(ip)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ip)
	}
	return &info, nil
}
