// Package dj provides a DoH JSON API client provided by some DNS providers,
// including Google, Cloudflare, and Quad9.
//
// This is different from [RFC8484], which came later,
// and became the generally accepted standard for DoH.
//
// [RFC8484]: https://tools.ietf.org/html/rfc8484
package dj

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/miekg/dns"
)

// ContentType is the media type requested from DoH JSON servers.
const ContentType = "application/dns-json"

// RecordA is the only record type name this client asks for.
var RecordA = dns.TypeToString[dns.TypeA]

var (
	// ErrNoAnswerSection is returned when a response carries no Answer list.
	ErrNoAnswerSection = errors.New("dj: response has no answer section")

	// ErrNoARecord is returned when the Answer list holds no A record.
	ErrNoARecord = errors.New("dj: response has no A record")
)

// Request is a DNS query to a DoH server using the JSON API.
type Request struct {
	Name string // domain name (e.g. google.com)
	Type string // record type (e.g. A, AAAA, MX, ANY)
}

// Question is a single entry of the Question section.
type Question struct {
	Name string `json:"name"`
	Type int    `json:"type"`
}

// RR is a single resource record of the Answer section.
type RR struct {
	Name string `json:"name,omitempty"`
	Type int    `json:"type"`
	TTL  int    `json:"TTL,omitempty"`
	Data string `json:"data"`
}

// Response is a DNS response from a DoH JSON API server.
//
// A nil Answer means the server sent no Answer section at all, which is
// different from an empty one.
type Response struct {
	Status   int        `json:"Status"` // DNS response code
	TC       bool       `json:"TC"`     // Truncated
	RD       bool       `json:"RD"`     // Recursion Desired
	RA       bool       `json:"RA"`     // Recursion Available
	AD       bool       `json:"AD"`     // Authenticated Data
	CD       bool       `json:"CD"`     // Checking Disabled
	Question []Question `json:"Question,omitempty"`
	Answer   []RR       `json:"Answer"`
}

// FirstA returns the data of the first A record in response order.
func (r *Response) FirstA() (string, error) {
	if r.Answer == nil {
		return "", ErrNoAnswerSection
	}
	for _, rr := range r.Answer {
		if rr.Type == int(dns.TypeA) {
			return rr.Data, nil
		}
	}
	return "", ErrNoARecord
}

// KnownServer is a known DoH server URL.
type KnownServer = string

var (
	Google     KnownServer = "https://dns.google/resolve"
	Cloudflare KnownServer = "https://cloudflare-dns.com/dns-query"
)

// URL renders the GET URL used to ask server about req. Query sends
// exactly this URL.
func URL(server string, req *Request) string {
	u, err := url.Parse(server)
	if err != nil {
		return server + "?" + query(nil, req).Encode()
	}

	u.RawQuery = query(u.Query(), req).Encode()

	return u.String()
}

func query(q url.Values, req *Request) url.Values {
	if q == nil {
		q = url.Values{}
	}
	q.Set("name", req.Name)
	q.Set("type", req.Type)
	return q
}

// Query performs a DNS query using a DoH server.
func Query(ctx context.Context, httpClient *http.Client, server string, req *Request) (*Response, error) {
	// Prepare the HTTP request, including the relevant headers and query params.
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, URL(server, req), nil)
	if err != nil {
		return nil, fmt.Errorf("dj: error creating HTTP request: %w", err)
	}

	httpReq.Header.Set("Accept", ContentType)
	httpReq.Header.Set("User-Agent", "geodoh")

	httpResp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("dj: error performing HTTP request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, fmt.Errorf("dj: %q HTTP request returned status code: %d (%s)", server, httpResp.StatusCode, http.StatusText(httpResp.StatusCode))
	}

	resp := &Response{}

	err = json.NewDecoder(httpResp.Body).Decode(resp)
	if err != nil {
		return nil, fmt.Errorf("dj: error decoding JSON response: %w", err)
	}

	return resp, nil
}
