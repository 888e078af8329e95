// Package provider describes the DoH upstreams a resolver may ask, each
// behind its own token-bucket limiter, and races them for the next
// available request slot.
package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/picatz/geodoh/pkg/bucket"
	"github.com/picatz/geodoh/pkg/dj"
	"github.com/picatz/geodoh/pkg/doh"
)

// Format is the protocol spoken by a provider.
type Format string

const (
	// FormatJSON is the DoH JSON API (application/dns-json).
	FormatJSON Format = "json"

	// FormatWire is RFC8484 (application/dns-message).
	FormatWire Format = "wire"
)

// ParseFormat maps a configuration string to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatWire:
		return FormatWire, nil
	default:
		return "", fmt.Errorf("provider: unknown format %q", s)
	}
}

// Provider is a DNS over HTTPs upstream with its own rate limiter.
type Provider struct {
	Name    string
	BaseURL string
	Format  Format
	Limiter *bucket.Limiter
}

// New returns a provider with a fresh, stopped limiter.
func New(name, baseURL string, format Format, opts bucket.Options) (*Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("provider: missing name")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("provider: %s: missing url", name)
	}
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, err
	}

	limiter, err := bucket.New(opts)
	if err != nil {
		return nil, fmt.Errorf("provider: %s: %w", name, err)
	}

	return &Provider{
		Name:    name,
		BaseURL: baseURL,
		Format:  format,
		Limiter: limiter,
	}, nil
}

// Google is the dns.google JSON API.
func Google(opts bucket.Options) (*Provider, error) {
	return New("google", dj.Google, FormatJSON, opts)
}

// Cloudflare is the cloudflare-dns.com JSON API.
func Cloudflare(opts bucket.Options) (*Provider, error) {
	return New("cloudflare", dj.Cloudflare, FormatJSON, opts)
}

// Quad9 is the dns.quad9.net RFC8484 endpoint.
func Quad9(opts bucket.Options) (*Provider, error) {
	return New("quad9", doh.Quad9, FormatWire, opts)
}

// String is a custom printer for debugging purposes.
func (p *Provider) String() string {
	return p.Name
}

func request(hostname string) *dj.Request {
	return &dj.Request{
		Name: hostname,
		Type: dj.RecordA,
	}
}

// URL returns the query URL for hostname. Wire-format providers encode the
// question in the request itself, so only their base URL is returned.
func (p *Provider) URL(hostname string) string {
	if p.Format == FormatWire {
		return p.BaseURL
	}
	return dj.URL(p.BaseURL, request(hostname))
}

// Query asks the provider for the A records of hostname. It does not touch
// the limiter; callers claim a token first.
func (p *Provider) Query(ctx context.Context, httpClient *http.Client, hostname string) (*dj.Response, error) {
	switch p.Format {
	case FormatWire:
		return doh.SimpleQuery(ctx, httpClient, p.BaseURL, request(hostname))
	default:
		return dj.Query(ctx, httpClient, p.BaseURL, request(hostname))
	}
}
