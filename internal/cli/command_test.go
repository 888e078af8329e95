package cli_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/picatz/geodoh/internal/cli"
)

type line struct {
	Hostname    string `json:"hostname"`
	IP          string `json:"ip"`
	CountryCode string `json:"country_code"`
	Cached      bool   `json:"cached"`
	Error       string `json:"error"`
	Kind        string `json:"kind"`
}

func testCommand(t *testing.T, args ...string) (*bytes.Buffer, error) {
	t.Helper()

	cli.CommandRoot.SetArgs(args)

	output := bytes.NewBuffer(nil)

	cli.CommandRoot.SetOut(output)
	cli.CommandRoot.SetErr(bytes.NewBuffer(nil))

	return output, cli.CommandRoot.Execute()
}

func readLines(t *testing.T, output *bytes.Buffer) map[string]line {
	t.Helper()

	lines := map[string]line{}

	scanner := bufio.NewScanner(output)
	for scanner.Scan() {
		var l line
		if err := json.Unmarshal(scanner.Bytes(), &l); err != nil {
			t.Fatalf("invalid output line %q: %v", scanner.Text(), err)
		}
		lines[l.Hostname] = l
	}

	if err := scanner.Err(); err != nil {
		t.Fatal(err)
	}

	return lines
}

// testUpstream answers every query with the same A record and counts
// requests.
func testUpstream(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	var requests atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/dns-json")
		fmt.Fprintf(w, `{"Status":0,"Answer":[{"name":%q,"type":1,"TTL":60,"data":"93.184.216.34"}]}`, r.URL.Query().Get("name")+".")
	}))
	t.Cleanup(srv.Close)

	return srv, &requests
}

func testConfig(t *testing.T, upstream, cacheKind string) string {
	t.Helper()

	dir := t.TempDir()

	contents := fmt.Sprintf(`
[limiter]
capacity = 5
tokens_per_interval = 1
interval = "10ms"

[cache]
kind = %q
dir = %q

[geoip.static]
"93.184.216.34" = "US"

[[providers]]
name = "test"
url = %q
`, cacheKind, filepath.ToSlash(filepath.Join(dir, "cache")), upstream+"/resolve")

	path := filepath.Join(dir, "geodoh.toml")
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatal(err)
	}

	return path
}

func TestCommandProviders(t *testing.T) {
	output, err := testCommand(t, "providers", "--config", "")
	if err != nil {
		t.Fatal(err)
	}

	var names []string

	scanner := bufio.NewScanner(output)
	for scanner.Scan() {
		var p struct {
			Name     string `json:"name"`
			URL      string `json:"url"`
			Interval string `json:"interval"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &p); err != nil {
			t.Fatal(err)
		}
		if p.Interval != "2s" {
			t.Errorf("%s: got interval %q, want 2s", p.Name, p.Interval)
		}
		names = append(names, p.Name)
	}

	if len(names) != 2 || names[0] != "google" || names[1] != "cloudflare" {
		t.Errorf("got providers %v, want [google cloudflare]", names)
	}
}

func TestCommandResolve(t *testing.T) {
	srv, requests := testUpstream(t)
	path := testConfig(t, srv.URL, "fs")

	output, err := testCommand(t, "resolve", "--config", path, "example.com", "bad host")
	if err != nil {
		t.Fatal(err)
	}

	lines := readLines(t, output)

	got, ok := lines["example.com"]
	if !ok {
		t.Fatalf("no line for example.com in %v", lines)
	}

	if got.IP != "93.184.216.34" || got.CountryCode != "US" || got.Cached || got.Error != "" {
		t.Errorf("got %+v", got)
	}

	bad, ok := lines["bad host"]
	if !ok {
		t.Fatalf("no line for the invalid hostname in %v", lines)
	}

	if bad.Kind != "invalid_hostname" || bad.Error == "" || bad.IP != "" {
		t.Errorf("got %+v", bad)
	}

	// The file cache outlives the command.
	output, err = testCommand(t, "resolve", "--config", path, "EXAMPLE.com")
	if err != nil {
		t.Fatal(err)
	}

	if got := readLines(t, output)["EXAMPLE.com"]; !got.Cached || got.IP != "93.184.216.34" {
		t.Errorf("got %+v, want a cached record", got)
	}

	if n := requests.Load(); n != 1 {
		t.Errorf("got %d upstream requests, want 1", n)
	}
}

func TestCommandResolveBadConfig(t *testing.T) {
	_, err := testCommand(t, "resolve", "--config", filepath.Join(t.TempDir(), "missing.toml"), "example.com")
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestCommandResolveNoGeoIP(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geodoh.toml")
	if err := os.WriteFile(path, []byte("log_level = \"error\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	output, err := testCommand(t, "resolve", "--config", path, "example.com")
	if err == nil {
		t.Fatal("expected an error without a geoip database or static table")
	}

	if !strings.Contains(err.Error(), "--geoip-db") {
		t.Errorf("error %q does not mention --geoip-db", err)
	}

	if output.Len() != 0 {
		t.Errorf("got output %q before failing", output)
	}
}

func TestCommandWatch(t *testing.T) {
	srv, requests := testUpstream(t)
	path := testConfig(t, srv.URL, "memory")

	output, err := testCommand(t, "watch", "--config", path, "--rounds", "3", "--interval", "10ms", "example.com")
	if err != nil {
		t.Fatal(err)
	}

	var cached []bool

	scanner := bufio.NewScanner(output)
	for scanner.Scan() {
		var l line
		if err := json.Unmarshal(scanner.Bytes(), &l); err != nil {
			t.Fatal(err)
		}
		if l.IP != "93.184.216.34" {
			t.Errorf("got %+v", l)
		}
		cached = append(cached, l.Cached)
	}

	if len(cached) != 3 || cached[0] || !cached[1] || !cached[2] {
		t.Errorf("got cached flags %v, want [false true true]", cached)
	}

	if n := requests.Load(); n != 1 {
		t.Errorf("got %d upstream requests, want 1", n)
	}
}

func TestCommandHelp(t *testing.T) {
	output, err := testCommand(t, "--help")
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(output.String(), "[geoip.static]") {
		t.Errorf("help output does not explain the geoip requirement:\n%s", output)
	}
}
