package provider_test

import (
	"context"
	"encoding/base64"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/miekg/dns"
	"github.com/picatz/geodoh/pkg/bucket"
	"github.com/picatz/geodoh/pkg/dj"
	"github.com/picatz/geodoh/pkg/provider"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    provider.Format
		wantErr bool
	}{
		{in: "", want: provider.FormatJSON},
		{in: "json", want: provider.FormatJSON},
		{in: "wire", want: provider.FormatWire},
		{in: "xml", wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			got, err := provider.ParseFormat(test.in)
			if (err != nil) != test.wantErr {
				t.Fatalf("got error %v, wantErr %v", err, test.wantErr)
			}
			if got != test.want {
				t.Errorf("got %q, want %q", got, test.want)
			}
		})
	}
}

func TestURL(t *testing.T) {
	google, err := provider.Google(bucket.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	cloudflare, err := provider.Cloudflare(bucket.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	quad9, err := provider.Quad9(bucket.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		provider *provider.Provider
		want     string
	}{
		{google, "https://dns.google/resolve?name=example.com&type=A"},
		{cloudflare, "https://cloudflare-dns.com/dns-query?name=example.com&type=A"},
		{quad9, "https://dns.quad9.net/dns-query"},
	}

	for _, test := range tests {
		t.Run(test.provider.String(), func(t *testing.T) {
			if got := test.provider.URL("example.com"); got != test.want {
				t.Errorf("got %q, want %q", got, test.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		pname   string
		url     string
		format  provider.Format
		opts    bucket.Options
		wantErr bool
	}{
		{name: "ok", pname: "a", url: "https://a.example/resolve", format: provider.FormatJSON, opts: bucket.DefaultOptions()},
		{name: "no name", url: "https://a.example/resolve", format: provider.FormatJSON, opts: bucket.DefaultOptions(), wantErr: true},
		{name: "no url", pname: "a", format: provider.FormatJSON, opts: bucket.DefaultOptions(), wantErr: true},
		{name: "bad format", pname: "a", url: "https://a.example/resolve", format: "xml", opts: bucket.DefaultOptions(), wantErr: true},
		{name: "bad limiter", pname: "a", url: "https://a.example/resolve", format: provider.FormatJSON, wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p, err := provider.New(test.pname, test.url, test.format, test.opts)
			if (err != nil) != test.wantErr {
				t.Fatalf("got error %v, wantErr %v", err, test.wantErr)
			}
			if err == nil && !p.Limiter.IsStopped() {
				t.Error("new provider limiter should be stopped")
			}
		})
	}
}

func TestQuery(t *testing.T) {
	client := cleanhttp.DefaultClient()

	jsonSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", dj.ContentType)
		w.Write([]byte(`{"Answer":[{"type":1,"data":"93.184.216.34"}]}`))
	}))
	defer jsonSrv.Close()

	wireSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := base64.RawURLEncoding.DecodeString(r.URL.Query().Get("dns"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var req dns.Msg
		if err := req.Unpack(b); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		resp := new(dns.Msg).SetReply(&req)
		resp.Answer = []dns.RR{
			&dns.A{
				Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
				A:   net.IPv4(93, 184, 216, 34),
			},
		}

		out, err := resp.Pack()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Write(out)
	}))
	defer wireSrv.Close()

	tests := []struct {
		name   string
		url    string
		format provider.Format
	}{
		{name: "json", url: jsonSrv.URL, format: provider.FormatJSON},
		{name: "wire", url: wireSrv.URL, format: provider.FormatWire},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p, err := provider.New(test.name, test.url, test.format, bucket.DefaultOptions())
			if err != nil {
				t.Fatal(err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			resp, err := p.Query(ctx, client, "example.com")
			if err != nil {
				t.Fatal(err)
			}

			ip, err := resp.FirstA()
			if err != nil {
				t.Fatal(err)
			}

			if ip != "93.184.216.34" {
				t.Errorf("got ip %q, want %q", ip, "93.184.216.34")
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	a, _ := provider.New("a", "https://a.example", provider.FormatJSON, bucket.DefaultOptions())
	b, _ := provider.New("b", "https://b.example", provider.FormatJSON, bucket.DefaultOptions())
	dup, _ := provider.New("a", "https://c.example", provider.FormatJSON, bucket.DefaultOptions())

	if _, err := provider.NewRegistry(); err == nil {
		t.Error("empty registry accepted")
	}

	if _, err := provider.NewRegistry(a, dup); err == nil {
		t.Error("duplicate names accepted")
	}

	reg, err := provider.NewRegistry(a, b)
	if err != nil {
		t.Fatal(err)
	}

	if got := len(reg.Providers()); got != 2 {
		t.Fatalf("got %d providers, want 2", got)
	}

	if p, ok := reg.Lookup("b"); !ok || p != b {
		t.Errorf("lookup b returned %v, %v", p, ok)
	}

	reg.Start()
	reg.Start()

	for _, p := range reg.Providers() {
		if p.Limiter.IsStopped() {
			t.Errorf("%s limiter still stopped", p)
		}
	}

	def, err := provider.Default()
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"google", "cloudflare"} {
		if _, ok := def.Lookup(name); !ok {
			t.Errorf("default registry misses %s", name)
		}
	}
}
